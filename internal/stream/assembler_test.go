package stream_test

import (
	"strings"
	"testing"

	"github.com/charaverse/chara-web-ui/internal/stream"
)

func record(json string) string {
	return "data: " + json + "\n\n"
}

func TestScan(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantPartial  string
		wantTerminal *stream.Completion
	}{
		{
			name:        "empty buffer",
			raw:         "",
			wantPartial: "",
		},
		{
			name:        "single chunk",
			raw:         record(`{"type":"chunk","content":"Hello"}`),
			wantPartial: "Hello",
		},
		{
			name: "chunks concatenate in buffer order",
			raw: record(`{"type":"chunk","content":"Hello "}`) +
				record(`{"type":"chunk","content":"world"}`),
			wantPartial: "Hello world",
		},
		{
			name: "malformed record between valid chunks is skipped",
			raw: record(`{"type":"chunk","content":"Hello "}`) +
				record(`{"type":"chunk","cont`) +
				record(`{"type":"chunk","content":"world"}`),
			wantPartial: "Hello world",
		},
		{
			name: "unprefixed records are ignored",
			raw: ": keep-alive\n\n" +
				record(`{"type":"chunk","content":"Hi"}`) +
				"event: ping\n\n",
			wantPartial: "Hi",
		},
		{
			name:        "unknown event types contribute nothing",
			raw:         record(`{"type":"usage","content":"ignored"}`),
			wantPartial: "",
		},
		{
			name: "complete record carries authoritative text",
			raw: record(`{"type":"chunk","content":"Hello "}`) +
				record(`{"type":"chunk","content":"world"}`) +
				record(`{"type":"complete","fullResponse":"Hello world!","timestamp":"2024-01-01T00:00:00Z"}`),
			wantPartial:  "Hello world",
			wantTerminal: &stream.Completion{FullText: "Hello world!", Timestamp: "2024-01-01T00:00:00Z"},
		},
		{
			name: "last complete record wins",
			raw: record(`{"type":"complete","fullResponse":"first","timestamp":"t1"}`) +
				record(`{"type":"complete","fullResponse":"second","timestamp":"t2"}`),
			wantTerminal: &stream.Completion{FullText: "second", Timestamp: "t2"},
		},
		{
			name:        "trailing record without separator yet",
			raw:         record(`{"type":"chunk","content":"Hello"}`) + `data: {"type":"chunk","content":" wor`,
			wantPartial: "Hello",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := stream.Scan(tt.raw)

			if res.Partial != tt.wantPartial {
				t.Errorf("Scan() partial = %q, want %q", res.Partial, tt.wantPartial)
			}

			if tt.wantTerminal == nil {
				if res.Terminal != nil {
					t.Errorf("Scan() terminal = %+v, want nil", res.Terminal)
				}
				return
			}
			if res.Terminal == nil {
				t.Fatalf("Scan() terminal = nil, want %+v", tt.wantTerminal)
			}
			if *res.Terminal != *tt.wantTerminal {
				t.Errorf("Scan() terminal = %+v, want %+v", res.Terminal, tt.wantTerminal)
			}
		})
	}
}

// Feeding every prefix chain of a buffer through Scan must converge on the
// same result as scanning the whole buffer once, regardless of where the
// delivery boundaries fall.
func TestScanIdempotentReScan(t *testing.T) {
	full := record(`{"type":"chunk","content":"Once upon"}`) +
		record(`{"type":"chunk","content":" a time"}`) +
		record(`{"type":"complete","fullResponse":"Once upon a time.","timestamp":"2024-01-01T00:00:00Z"}`)

	want := stream.Scan(full)

	// Cut at every byte boundary, including ones that split a record mid-JSON.
	for cut := 0; cut <= len(full); cut++ {
		var last stream.Result
		for _, prefix := range []string{full[:cut], full} {
			last = stream.Scan(prefix)
		}
		if last.Partial != want.Partial {
			t.Fatalf("cut %d: partial = %q, want %q", cut, last.Partial, want.Partial)
		}
		if last.Terminal == nil || *last.Terminal != *want.Terminal {
			t.Fatalf("cut %d: terminal = %+v, want %+v", cut, last.Terminal, want.Terminal)
		}
	}
}

func TestSessionProgress(t *testing.T) {
	tick1 := record(`{"type":"chunk","content":"Once upon"}`)
	tick2 := tick1 + record(`{"type":"chunk","content":" a time"}`)
	tick3 := tick2 + record(`{"type":"complete","fullResponse":"Once upon a time.","timestamp":"2024-01-01T00:00:00Z"}`)

	var sess stream.Session

	upd, ok := sess.Progress(tick1)
	if !ok || upd.Partial != "Once upon" || upd.Terminal != nil {
		t.Fatalf("tick 1: got %+v ok=%v, want partial %q", upd, ok, "Once upon")
	}

	upd, ok = sess.Progress(tick2)
	if !ok || upd.Partial != "Once upon a time" || upd.Terminal != nil {
		t.Fatalf("tick 2: got %+v ok=%v, want partial %q", upd, ok, "Once upon a time")
	}

	upd, ok = sess.Progress(tick3)
	if !ok || upd.Terminal == nil {
		t.Fatalf("tick 3: got %+v ok=%v, want terminal", upd, ok)
	}
	if upd.Terminal.FullText != "Once upon a time." {
		t.Errorf("terminal full text = %q, want %q", upd.Terminal.FullText, "Once upon a time.")
	}
	if upd.Terminal.Timestamp != "2024-01-01T00:00:00Z" {
		t.Errorf("terminal timestamp = %q, want %q", upd.Terminal.Timestamp, "2024-01-01T00:00:00Z")
	}
	if !sess.Complete() {
		t.Error("session should be complete after terminal record")
	}

	// A trailing transport flush after completion must be a no-op.
	upd, ok = sess.Progress(tick3 + record(`{"type":"chunk","content":"ghost"}`))
	if ok {
		t.Errorf("post-terminal tick reported ok with update %+v", upd)
	}
	if sess.Final().FullText != "Once upon a time." {
		t.Errorf("post-terminal tick altered final text to %q", sess.Final().FullText)
	}
}

func TestSessionProgressGrowingBuffer(t *testing.T) {
	full := record(`{"type":"chunk","content":"Hel"}`) +
		record(`{"type":"chunk","content":"lo"}`)

	var sess stream.Session
	var partials []string
	for cut := 1; cut <= len(full); cut++ {
		upd, ok := sess.Progress(full[:cut])
		if !ok {
			t.Fatalf("cut %d: session went silent without terminal", cut)
		}
		partials = append(partials, upd.Partial)
	}

	// Informativeness is monotonically non-decreasing across a growing buffer.
	for i := 1; i < len(partials); i++ {
		if !strings.HasPrefix(partials[i], partials[i-1]) {
			t.Fatalf("partial shrank between ticks: %q then %q", partials[i-1], partials[i])
		}
	}
	if last := partials[len(partials)-1]; last != "Hello" {
		t.Errorf("final partial = %q, want %q", last, "Hello")
	}
}
