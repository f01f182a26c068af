package stream

import (
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func collect(t *testing.T, r io.Reader) []*Event {
	t.Helper()
	d := NewDecoder(r)
	var events []*Event
	for {
		ev, err := d.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("unexpected decode error: %v", err)
		}
		events = append(events, ev)
	}
}

func TestDecoderBasicSequence(t *testing.T) {
	raw := "data: {\"type\":\"start\"}\n\n" +
		"data: {\"type\":\"delta\",\"text\":\"Let\"}\n\n" +
		"data: {\"type\":\"delta\",\"text\":\" me check\"}\n\n" +
		"data: {\"type\":\"job_update\",\"job_id\":\"j1\",\"status\":\"running\"}\n\n" +
		"data: [DONE]\n\n"

	events := collect(t, strings.NewReader(raw))
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[0].Kind != KindStart {
		t.Errorf("expected start, got %s", events[0].Kind)
	}
	if events[1].Kind != KindDelta || events[1].Text != "Let" {
		t.Errorf("unexpected delta: %+v", events[1])
	}
	if events[3].Kind != KindJobUpdate {
		t.Fatalf("expected job_update, got %s", events[3].Kind)
	}
	if events[3].Snapshot.TrackingID != "j1" || events[3].Snapshot.Status != "running" {
		t.Errorf("unexpected snapshot: %+v", events[3].Snapshot)
	}
}

func TestDecoderMultiLinePayload(t *testing.T) {
	// Two data lines in one record join with a newline before decoding.
	raw := "data: {\"type\":\"delta\",\ndata: \"text\":\"hi\"}\n\n"
	events := collect(t, strings.NewReader(raw))
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Kind != KindDelta || events[0].Text != "hi" {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestDecoderChunkSplitTolerance(t *testing.T) {
	raw := "data: {\"type\":\"delta\",\"text\":\"abc\"}\n\ndata: {\"type\":\"final\",\"job_id\":\"j2\",\"status\":\"completed\"}\n\n"
	// One byte per read forces every record across chunk boundaries.
	events := collect(t, iotest.OneByteReader(strings.NewReader(raw)))
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Text != "abc" {
		t.Errorf("expected delta 'abc', got %q", events[0].Text)
	}
	if events[1].Kind != KindFinal {
		t.Errorf("expected final, got %s", events[1].Kind)
	}
}

func TestDecoderMalformedPayloadContinues(t *testing.T) {
	raw := "data: {not json\n\ndata: {\"type\":\"delta\",\"text\":\"ok\"}\n\n"
	events := collect(t, strings.NewReader(raw))
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != KindError || events[0].Text == "" {
		t.Errorf("expected error event with diagnostic, got %+v", events[0])
	}
	if events[1].Kind != KindDelta {
		t.Errorf("stream should continue after decode failure, got %+v", events[1])
	}
}

func TestDecoderFlushesTrailingRecord(t *testing.T) {
	// No trailing delimiter: the buffered record is flushed at EOF.
	raw := "data: {\"type\":\"delta\",\"text\":\"tail\"}"
	events := collect(t, strings.NewReader(raw))
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Text != "tail" {
		t.Errorf("expected trailing delta, got %+v", events[0])
	}
}

func TestDecoderIgnoresNonDataLines(t *testing.T) {
	raw := ": keepalive\nevent: message\ndata: {\"type\":\"start\"}\n\n"
	events := collect(t, strings.NewReader(raw))
	if len(events) != 1 || events[0].Kind != KindStart {
		t.Fatalf("expected single start event, got %+v", events)
	}
}

func TestDecoderUnknownTypeYieldsError(t *testing.T) {
	raw := "data: {\"type\":\"mystery\"}\n\n"
	events := collect(t, strings.NewReader(raw))
	if len(events) != 1 || events[0].Kind != KindError {
		t.Fatalf("expected error event for unknown type, got %+v", events)
	}
}
