package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"hoverfc/internal/control"
	"hoverfc/internal/flightlog"
	"hoverfc/internal/mixer"
)

type logSummary struct {
	RunID        string
	Segments     int
	Packets      int
	Frames       int
	RateSPs      int
	Invalid      int
	MaxDuration  time.Duration
	MaxThrottle  float32
	EngineCounts map[control.EngineMode]int
}

func summarizeFlightLog(l flightlog.Log) logSummary {
	s := logSummary{RunID: l.RunID, EngineCounts: map[control.EngineMode]int{}}
	origin := time.Duration(0)
	hasPackets := false
	segments := 0

	for _, r := range l.Records {
		if r.Packet == nil {
			segments++
			origin = r.At
			continue
		}
		hasPackets = true
		s.Packets++
		if at := r.At - origin; at > s.MaxDuration {
			s.MaxDuration = at
		}

		switch mixer.Tag(r.Packet) {
		case mixer.FrameTag:
			f, err := mixer.DecodeFrame(r.Packet)
			if err != nil {
				s.Invalid++
				continue
			}
			s.Frames++
			if th := f.Throttle(); th > s.MaxThrottle {
				s.MaxThrottle = th
			}
		case mixer.RateSetpointTag:
			sp, err := mixer.DecodeRateSetpoint(r.Packet)
			if err != nil {
				s.Invalid++
				continue
			}
			s.RateSPs++
			s.EngineCounts[sp.Engine]++
		default:
			s.Invalid++
		}
	}
	if segments == 0 && hasPackets {
		segments = 1
	}
	s.Segments = segments
	return s
}

func printLogSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	l, err := flightlog.ReadFile(path)
	if err != nil {
		return err
	}
	s := summarizeFlightLog(l)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "run: %s\n", s.RunID)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "packets: %d\n", s.Packets)
	fmt.Fprintf(w, "frames: %d\n", s.Frames)
	fmt.Fprintf(w, "rate_setpoints: %d\n", s.RateSPs)
	fmt.Fprintf(w, "invalid_packets: %d\n", s.Invalid)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)
	fmt.Fprintf(w, "max_throttle: %.3f\n", s.MaxThrottle)

	engines := make([]int, 0, len(s.EngineCounts))
	for e := range s.EngineCounts {
		engines = append(engines, int(e))
	}
	sort.Ints(engines)
	fmt.Fprintf(w, "engine_modes:\n")
	for _, e := range engines {
		m := control.EngineMode(e)
		fmt.Fprintf(w, "  %s: %d\n", m, s.EngineCounts[m])
	}
	return nil
}

// replayLog sends a recorded log to the sinks with the recorded spacing, then
// a zero frame.
func replayLog(ctx context.Context, path string, speed float64, sinks []mixer.Sink) error {
	l, err := flightlog.ReadFile(path)
	if err != nil {
		return err
	}
	send := func(p []byte) error {
		for _, s := range sinks {
			if err := s.Write(p); err != nil {
				return fmt.Errorf("%s: %w", s.Name(), err)
			}
		}
		return nil
	}
	playErr := flightlog.Play(l.Records, speed, nil, func(p []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return send(p)
	})

	zero, err := mixer.EncodeFrame(control.Frame{})
	if err != nil {
		return err
	}
	if err := send(zero); err != nil && playErr == nil {
		playErr = err
	}
	return playErr
}
