// Package stream reassembles a character reply from the record protocol the
// chat backends emit on their message-send endpoints. The response body is a
// text stream of blank-line-separated records; each meaningful record is a
// "data: "-prefixed JSON payload carrying either an incremental chunk of the
// in-progress reply or the single terminal record with the authoritative full
// text.
//
// The assembler is deliberately stateless across progress ticks: every tick
// re-scans the entire buffer received so far instead of keeping a parse
// cursor. Buffer order is authoritative for chunk ordering, and a record split
// mid-write by the read boundary simply fails to parse on this tick and is
// recovered on the next one once more bytes have arrived.
package stream

import (
	"encoding/json"
	"strings"
)

const recordPrefix = "data: "

const (
	eventChunk    = "chunk"
	eventComplete = "complete"
)

type payload struct {
	Type         string `json:"type"`
	Content      string `json:"content"`
	FullResponse string `json:"fullResponse"`
	Timestamp    string `json:"timestamp"`
}

// Completion is the terminal record's payload. FullText supersedes the chunk
// concatenation; the two should agree, but FullText wins on any mismatch.
type Completion struct {
	FullText  string
	Timestamp string
}

// Result is the outcome of scanning one snapshot of the raw buffer.
type Result struct {
	// Partial is the concatenation of all chunk contents in buffer order.
	Partial string
	// Terminal is non-nil once a complete record appears in the buffer. If
	// more than one somehow appears, the last in buffer order wins.
	Terminal *Completion
}

// Scan re-parses raw from the beginning and returns the best-known state of
// the reply. It is a pure function of the buffer: feeding any chain of growing
// prefixes through Scan yields the same final result as scanning the full
// buffer once.
func Scan(raw string) Result {
	var sb strings.Builder
	var terminal *Completion

	for _, record := range strings.Split(raw, "\n\n") {
		record = strings.TrimSpace(record)
		if !strings.HasPrefix(record, recordPrefix) {
			// Keep-alive padding or a protocol extension; ignore.
			continue
		}

		var p payload
		if err := json.Unmarshal([]byte(record[len(recordPrefix):]), &p); err != nil {
			// Likely a record split mid-write by the read boundary. The next
			// tick re-scans with more bytes and recovers it.
			continue
		}

		switch p.Type {
		case eventChunk:
			sb.WriteString(p.Content)
		case eventComplete:
			terminal = &Completion{FullText: p.FullResponse, Timestamp: p.Timestamp}
		}
	}

	return Result{Partial: sb.String(), Terminal: terminal}
}

// Session tracks one outbound turn's reply from first byte to terminal record.
// It exists so a trailing transport flush after the terminal record cannot
// resurrect the partial-text bubble once the finalized message is committed.
type Session struct {
	complete bool
	final    *Completion
}

// Update describes the state of the reply after one progress tick.
type Update struct {
	// Partial is the best-known reply text so far.
	Partial string
	// Terminal is non-nil on exactly one update per session, after which the
	// session goes silent.
	Terminal *Completion
}

// Progress re-scans the cumulative raw buffer received so far. The second
// return value is false once the terminal record has already been observed;
// callers must treat such ticks as no-ops.
func (s *Session) Progress(raw string) (Update, bool) {
	if s.complete {
		return Update{}, false
	}

	res := Scan(raw)
	if res.Terminal == nil {
		return Update{Partial: res.Partial}, true
	}

	s.complete = true
	s.final = res.Terminal
	return Update{Partial: res.Partial, Terminal: res.Terminal}, true
}

// Complete reports whether the terminal record has been observed.
func (s *Session) Complete() bool {
	return s.complete
}

// Final returns the terminal payload, or nil before completion.
func (s *Session) Final() *Completion {
	return s.final
}
