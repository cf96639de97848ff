package services

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charaverse/chara-web-ui/internal/stream"
)

// relayReply drains a streaming reply body, re-scanning the cumulative buffer
// on every read and yielding one update per progress tick. The buffer only
// ever grows; the assembler re-derives the full event set from it each tick,
// so a record split across two reads is recovered on the next tick.
func relayReply(body io.Reader, yield func(stream.Update, error) bool) {
	var raw strings.Builder
	var sess stream.Session
	buf := make([]byte, 4096)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			raw.Write(buf[:n])
			if upd, ok := sess.Progress(raw.String()); ok {
				if !yield(upd, nil) {
					return
				}
				if upd.Terminal != nil {
					return
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !sess.Complete() {
					yield(stream.Update{}, errors.New("reply stream ended without a complete record"))
				}
				return
			}
			yield(stream.Update{}, fmt.Errorf("error reading reply stream: %w", err))
			return
		}
	}
}
