package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/user/deepchat/internal/types"
)

// Kind discriminates decoded stream events.
type Kind string

const (
	KindStart     Kind = "start"
	KindDelta     Kind = "delta"
	KindJobUpdate Kind = "job_update"
	KindFinal     Kind = "final"
	KindError     Kind = "error"
)

// Event is one decoded record from the event stream. Text carries the
// delta fragment for KindDelta and the diagnostic for KindError.
// Snapshot is set for KindJobUpdate and KindFinal.
type Event struct {
	Kind     Kind
	Text     string
	Snapshot *types.Snapshot
}

// doneSentinel terminates the stream when sent as a bare data payload.
const doneSentinel = "[DONE]"

// frame is the wire shape of one record payload. Snapshot fields are
// inlined so job_update and final records decode in one pass.
type frame struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
	types.Snapshot
}

// Decoder splits a byte stream into records and parses each record into
// an Event. Records are separated by a blank line; only lines with a
// "data:" prefix contribute to the payload, and multi-line payloads are
// joined with newlines before JSON decoding. A record split across read
// chunks is buffered until its delimiter arrives; a trailing unterminated
// record at stream end is flushed best-effort.
type Decoder struct {
	r    *bufio.Reader
	data []string
	done bool
}

// NewDecoder wraps r in a Decoder. The Decoder does not close r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event, or io.EOF when the stream is exhausted.
// A payload that fails JSON decoding is returned as a KindError event;
// the stream continues afterward.
func (d *Decoder) Next() (*Event, error) {
	if d.done {
		return nil, io.EOF
	}
	for {
		line, err := d.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("read stream: %w", err)
		}

		atEOF := err == io.EOF
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			// Blank line: record delimiter (or padding between records).
			if ev, ok := d.flush(); ok {
				if atEOF {
					d.done = true
				}
				if ev == nil {
					return nil, io.EOF
				}
				return ev, nil
			}
		case strings.HasPrefix(line, "data:"):
			d.data = append(d.data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		default:
			// Comments, event names, ids: not part of the payload.
		}

		if atEOF {
			d.done = true
			if ev, ok := d.flush(); ok && ev != nil {
				return ev, nil
			}
			return nil, io.EOF
		}
	}
}

// flush decodes the buffered record, if any. The second return is false
// when there was nothing buffered. A nil event with ok=true means the
// stream's done sentinel was seen.
func (d *Decoder) flush() (*Event, bool) {
	if len(d.data) == 0 {
		return nil, false
	}
	payload := strings.Join(d.data, "\n")
	d.data = nil

	if payload == doneSentinel {
		d.done = true
		return nil, true
	}
	return decodeFrame(payload), true
}

func decodeFrame(payload string) *Event {
	var f frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return &Event{Kind: KindError, Text: fmt.Sprintf("decode event payload: %v", err)}
	}

	switch Kind(f.Type) {
	case KindStart:
		return &Event{Kind: KindStart}
	case KindDelta:
		return &Event{Kind: KindDelta, Text: f.Text}
	case KindJobUpdate, KindFinal:
		snap := f.Snapshot
		return &Event{Kind: Kind(f.Type), Snapshot: &snap}
	case KindError:
		msg := f.Message
		if msg == "" {
			msg = f.Text
		}
		return &Event{Kind: KindError, Text: msg}
	default:
		return &Event{Kind: KindError, Text: fmt.Sprintf("unknown event type %q", f.Type)}
	}
}
