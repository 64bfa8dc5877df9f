package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type blockingSink struct {
	release chan struct{}
	got     chan Event
}

func (s *blockingSink) Emit(_ context.Context, e Event) {
	<-s.release
	s.got <- e
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("disabled dispatcher should be nil")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reports drops")
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), got: make(chan Event, 8)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// One event is held by the sink, one fills the buffer, the rest drop.
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "refresh"})
		time.Sleep(5 * time.Millisecond)
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events")
	}
	close(sink.release)
	d.Close()
}

func TestDispatcherAlarmsWaitForRoom(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), got: make(chan Event, 8)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	d.Emit(context.Background(), Event{EventType: "refresh"})
	time.Sleep(5 * time.Millisecond)
	d.Emit(context.Background(), Event{EventType: "refresh"})

	hungUp, cancel := context.WithCancel(context.Background())
	cancel()
	queued := make(chan struct{})
	go func() {
		d.Emit(hungUp, Event{EventType: "refresh_reuse_detected", Metadata: map[string]string{"severity": SeverityAlarm}})
		close(queued)
	}()
	select {
	case <-queued:
		t.Fatal("alarm returned while the buffer was full")
	case <-time.After(20 * time.Millisecond):
	}

	close(sink.release)
	<-queued
	d.Close()

	if d.Dropped() != 0 {
		t.Fatalf("dropped = %d, want 0", d.Dropped())
	}
	if d.Alarms() != 1 {
		t.Fatalf("alarms = %d, want 1", d.Alarms())
	}
	var sawAlarm bool
	for len(sink.got) > 0 {
		if (<-sink.got).IsAlarm() {
			sawAlarm = true
		}
	}
	if !sawAlarm {
		t.Fatal("alarm never reached the sink")
	}
}

func TestDispatcherAlarmsSurviveCancelledContext(t *testing.T) {
	sink := NewChannelSink(256)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 256, DropIfFull: true}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 200; i++ {
		d.Emit(ctx, Event{EventType: "refresh_reuse_detected", Metadata: map[string]string{"severity": SeverityAlarm}})
	}
	d.Close()

	if d.Dropped() != 0 {
		t.Fatalf("dropped = %d, want 0", d.Dropped())
	}
	if d.Alarms() != 200 {
		t.Fatalf("alarms = %d, want 200", d.Alarms())
	}
	if got := len(sink.Events()); got != 200 {
		t.Fatalf("delivered %d alarms, want 200", got)
	}
}

func TestDispatcherRoutineEventGivesUpOnCancelledContext(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), got: make(chan Event, 8)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)

	d.Emit(context.Background(), Event{EventType: "refresh"})
	time.Sleep(5 * time.Millisecond)
	d.Emit(context.Background(), Event{EventType: "refresh"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Emit(ctx, Event{EventType: "refresh"})
	if d.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", d.Dropped())
	}
	close(sink.release)
	d.Close()
}

func TestDispatcherCloseDrains(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "login"})
	}
	d.Close()
	if got := len(sink.Events()); got != 10 {
		t.Fatalf("expected 10 delivered events, got %d", got)
	}
	d.Emit(context.Background(), Event{EventType: "late"})
	if got := len(sink.Events()); got != 10 {
		t.Fatalf("emit after close delivered an event")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	NewJSONWriterSink(&buf).Emit(context.Background(), Event{EventType: "refresh_reuse_detected", FamilyID: "f1", Generation: 3})

	var got map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["family_id"] != "f1" || got["generation"].(float64) != 3 {
		t.Fatalf("unexpected event %v", got)
	}
}

func TestLoggerSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLoggerSink(zerolog.New(&buf))

	sink.Emit(context.Background(), Event{EventType: "login_success", Success: true, UserID: "u1"})
	sink.Emit(context.Background(), Event{EventType: "refresh_reuse_detected", FamilyID: "f1", Metadata: map[string]string{"severity": "alarm"}})
	sink.Emit(context.Background(), Event{EventType: "refresh_rejected", Error: "expired"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for i, want := range []string{`"level":"info"`, `"level":"error"`, `"level":"warn"`} {
		if !strings.Contains(lines[i], want) {
			t.Fatalf("line %d missing %s: %s", i, want, lines[i])
		}
	}
	if !strings.Contains(lines[1], `"family_id":"f1"`) {
		t.Fatalf("family id not logged: %s", lines[1])
	}
}
