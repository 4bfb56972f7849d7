package web

import (
	"sync/atomic"
	"time"

	"hoverfc/internal/bus"
	"hoverfc/internal/mixer"
	"hoverfc/internal/sched"
)

const serviceName = "hoverfc"

// ControllerCounters mirrors flight.Controller.Counters.
type ControllerCounters struct {
	Ticks    uint64 `json:"ticks"`
	Rejected uint64 `json:"rejected"`
	Ignored  uint64 `json:"ignored"`
}

// RuntimeStatus is refreshed by the slow cycle.
type RuntimeStatus struct {
	Loops       []sched.Stats         `json:"loops"`
	Controller  ControllerCounters    `json:"controller"`
	Bus         bus.ClientSnapshot    `json:"bus"`
	Dispatch    bus.DispatchSnapshot  `json:"dispatch"`
	Mixer       mixer.EmitterSnapshot `json:"mixer"`
	ParamsError string                `json:"params_error,omitempty"`
	ParamsFile  string                `json:"params_file,omitempty"`
	Record      string                `json:"record,omitempty"`
}

type Status struct {
	startUnixNano int64
	runID         string
	last          atomic.Pointer[TelemetrySample]
	runtime       atomic.Pointer[RuntimeStatus]
}

func NewStatus(runID string) *Status {
	s := &Status{runID: runID}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.runtime.Store(&RuntimeStatus{})
	return s
}

func (s *Status) RunID() string {
	if s == nil {
		return ""
	}
	return s.runID
}

// MarkTick records the latest fast-cycle sample.
func (s *Status) MarkTick(sample TelemetrySample) {
	if s == nil {
		return
	}
	s.last.Store(&sample)
}

func (s *Status) SetRuntime(rt RuntimeStatus) {
	if s == nil {
		return
	}
	s.runtime.Store(&rt)
}

type StatusSnapshot struct {
	Service   string           `json:"service"`
	RunID     string           `json:"run_id"`
	NowUTC    string           `json:"now_utc"`
	UptimeSec int64            `json:"uptime_sec"`
	Last      *TelemetrySample `json:"last,omitempty"`
	Runtime   RuntimeStatus    `json:"runtime"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:   serviceName,
		RunID:     s.runID,
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Runtime:   *s.runtime.Load(),
	}
	if last := s.last.Load(); last != nil {
		cp := *last
		snap.Last = &cp
	}
	return snap
}
