package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hoverfc/internal/control"
	"hoverfc/internal/flightlog"
	"hoverfc/internal/mixer"
)

func mustFrame(t *testing.T, throttle float32) []byte {
	t.Helper()
	b, err := mixer.EncodeFrame(control.NewFrame(control.Surfaces{}, throttle))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	return b
}

func mustRateSP(t *testing.T, engine control.EngineMode) []byte {
	t.Helper()
	b, err := mixer.EncodeRateSetpoint(control.RateSetpoint{Engine: engine})
	if err != nil {
		t.Fatalf("EncodeRateSetpoint: %v", err)
	}
	return b
}

func TestSummarizeFlightLog(t *testing.T) {
	l := flightlog.Log{
		RunID: "r1",
		Records: []flightlog.Record{
			{},
			{At: 0, Packet: mustFrame(t, 0.2)},
			{At: 5 * time.Millisecond, Packet: mustRateSP(t, control.EngineClosedLoop)},
			{At: 10 * time.Millisecond, Packet: []byte("ACTF")},
			{At: 12 * time.Millisecond, Packet: []byte("XXXXX")},
			{At: 2 * time.Second},
			{At: 3 * time.Second, Packet: mustFrame(t, 0.9)},
			{At: 3 * time.Second, Packet: mustRateSP(t, control.EngineDirect)},
		},
	}

	s := summarizeFlightLog(l)
	if s.Segments != 2 {
		t.Fatalf("segments=%d want %d", s.Segments, 2)
	}
	if s.Packets != 6 || s.Frames != 2 || s.RateSPs != 2 {
		t.Fatalf("packets=%d frames=%d rate_sps=%d want 6 2 2", s.Packets, s.Frames, s.RateSPs)
	}
	if s.Invalid != 2 {
		t.Fatalf("invalid=%d want %d", s.Invalid, 2)
	}
	if s.MaxThrottle != 0.9 {
		t.Fatalf("maxThrottle=%v want 0.9", s.MaxThrottle)
	}
	if s.MaxDuration != 1*time.Second {
		t.Fatalf("maxDuration=%s want %s", s.MaxDuration, 1*time.Second)
	}
	if s.EngineCounts[control.EngineClosedLoop] != 1 || s.EngineCounts[control.EngineDirect] != 1 {
		t.Fatalf("engines=%v", s.EngineCounts)
	}
}

func TestSummarizeFlightLog_NoStartMarker(t *testing.T) {
	s := summarizeFlightLog(flightlog.Log{Records: []flightlog.Record{{At: 7 * time.Millisecond, Packet: mustFrame(t, 0)}}})
	if s.Segments != 1 || s.MaxDuration != 7*time.Millisecond {
		t.Fatalf("summary=%+v", s)
	}
}

func TestPrintLogSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flight.log")
	w, err := flightlog.Create(path, "run-9")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Record(mustRateSP(t, control.EngineDirect)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var out bytes.Buffer
	if err := printLogSummary(&out, path); err != nil {
		t.Fatalf("printLogSummary: %v", err)
	}
	for _, want := range []string{"run: run-9", "rate_setpoints: 1", "  direct: 1"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}

	if err := printLogSummary(&out, "  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestReplayLog_SendsPacketsThenZeroFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flight.log")
	w, err := flightlog.Create(path, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Record(mustFrame(t, 0.7)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sink := &captureSink{}
	if err := replayLog(context.Background(), path, 100, []mixer.Sink{sink}); err != nil {
		t.Fatalf("replayLog: %v", err)
	}
	frames := sink.frames(t)
	if len(frames) != 2 || frames[0].Throttle() != 0.7 || frames[1] != (control.Frame{}) {
		t.Fatalf("frames=%v", frames)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink = &captureSink{}
	if err := replayLog(ctx, path, 1, []mixer.Sink{sink}); err == nil {
		t.Fatalf("expected error for cancelled replay")
	}
	if frames := sink.frames(t); len(frames) != 1 || frames[0] != (control.Frame{}) {
		t.Fatalf("cancelled replay frames=%v want only the zero frame", frames)
	}
}
