package web

import (
	"testing"
	"time"

	"hoverfc/internal/control"
	"hoverfc/internal/flight"
)

func TestNewTelemetrySample_CascadeCarriesRateSetpoint(t *testing.T) {
	out := flight.Output{
		Mode:         flight.ModeAttitude,
		Frame:        control.NewFrame(control.Surfaces{Elevator: 1}, 0.6),
		RateSetpoint: control.RateSetpoint{Wy: 1, Throttle: 0.2, Engine: control.EngineDirect},
		Cascade:      true,
	}
	s := NewTelemetrySample(time.Unix(0, 0), 3, out)
	if s.Mode != "attitude" || s.Elevator != 1 || s.Throttle != 0.6 || s.Tick != 3 || !s.Time.Equal(time.Unix(0, 0)) {
		t.Fatalf("sample=%+v", s)
	}
	if s.RateSetpoint == nil || s.RateSetpoint.Wy != 1 || s.RateSetpoint.Engine != "direct" {
		t.Fatalf("rate setpoint=%+v", s.RateSetpoint)
	}
}

func TestTelemetryBroadcaster_DecimatesAndReplaysLast(t *testing.T) {
	b := NewTelemetryBroadcaster(3)
	id, ch := b.Subscribe(16)
	for i := 1; i <= 7; i++ {
		b.Publish(TelemetrySample{Tick: uint64(i)})
	}

	var got []uint64
	for len(ch) > 0 {
		got = append(got, (<-ch).Tick)
	}
	if len(got) != 2 || got[0] != 3 || got[1] != 6 {
		t.Fatalf("ticks=%v want [3 6]", got)
	}

	_, late := b.Subscribe(1)
	if s := <-late; s.Tick != 6 {
		t.Fatalf("replayed tick=%d want 6", s.Tick)
	}

	b.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed after unsubscribe")
	}
	if b.Subscribers() != 1 {
		t.Fatalf("subscribers=%d want 1", b.Subscribers())
	}
}

func TestTelemetryBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewTelemetryBroadcaster(1)
	_, ch := b.Subscribe(1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(TelemetrySample{Tick: uint64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked on a full subscriber")
	}
	if s := <-ch; s.Tick != 0 {
		t.Fatalf("first buffered tick=%d want 0", s.Tick)
	}
}

func TestLogBuffer_HoldsPartialLine(t *testing.T) {
	b := NewLogBuffer(2)
	_, _ = b.Write([]byte("one\ntw"))
	_, _ = b.Write([]byte("o\nthree\n"))
	lines, dropped := b.Snapshot(10)
	if len(lines) != 2 || lines[0] != "two" || lines[1] != "three" || dropped != 1 {
		t.Fatalf("lines=%q dropped=%d", lines, dropped)
	}
}
