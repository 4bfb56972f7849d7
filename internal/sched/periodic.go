package sched

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Periodic calls a function on a fixed interval. Ticks missed while the
// function runs are dropped rather than caught up.
type Periodic struct {
	Name     string
	Interval time.Duration
	// Window is the number of recent runs kept for statistics.
	Window int

	mu       sync.Mutex
	runs     uint64
	overruns uint64
	durs     *window
	gaps     *window
	lastAt   time.Time
	lastLog  time.Time
	unlogged uint64
}

// Stats summarizes recent runs. Durations are in microseconds.
type Stats struct {
	Name       string  `json:"name"`
	IntervalUs float64 `json:"interval_us"`
	Runs       uint64  `json:"runs"`
	Overruns   uint64  `json:"overruns"`
	MeanUs     float64 `json:"mean_us"`
	StdDevUs   float64 `json:"stddev_us"`
	P99Us      float64 `json:"p99_us"`
	MaxUs      float64 `json:"max_us"`
	// JitterUs is the standard deviation of the gap between run starts.
	JitterUs float64 `json:"jitter_us"`
}

type window struct {
	buf  []float64
	i, l int
}

func newWindow(n int) *window { return &window{buf: make([]float64, n)} }

func (w *window) add(v float64) {
	w.buf[w.i] = v
	w.i = (w.i + 1) % len(w.buf)
	if w.l != len(w.buf) {
		w.l++
	}
}

func (w *window) values() []float64 {
	return append([]float64(nil), w.buf[:w.l]...)
}

func (p *Periodic) init() {
	if p.durs != nil {
		return
	}
	if p.Window <= 0 {
		p.Window = 1000
	}
	p.durs = newWindow(p.Window)
	p.gaps = newWindow(p.Window)
}

// Run blocks until ctx is done.
func (p *Periodic) Run(ctx context.Context, fn func(now time.Time)) error {
	if p.Interval <= 0 {
		return fmt.Errorf("%s: interval must be > 0", p.Name)
	}
	if fn == nil {
		return fmt.Errorf("%s: fn is nil", p.Name)
	}
	p.mu.Lock()
	p.init()
	p.mu.Unlock()

	t := time.NewTicker(p.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			start := time.Now()
			fn(now)
			p.observe(start, time.Since(start))
		}
	}
}

func (p *Periodic) observe(start time.Time, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.init()

	p.runs++
	p.durs.add(float64(d) / float64(time.Microsecond))
	if !p.lastAt.IsZero() {
		p.gaps.add(float64(start.Sub(p.lastAt)) / float64(time.Microsecond))
	}
	p.lastAt = start

	if d <= p.Interval {
		return
	}
	p.overruns++
	p.unlogged++
	if start.Sub(p.lastLog) < 5*time.Second {
		return
	}
	log.Printf("%s: overrun took=%s interval=%s count=%d", p.Name, d, p.Interval, p.unlogged)
	p.lastLog = start
	p.unlogged = 0
}

func (p *Periodic) Stats() Stats {
	p.mu.Lock()
	p.init()
	durs := p.durs.values()
	gaps := p.gaps.values()
	out := Stats{
		Name:       p.Name,
		IntervalUs: float64(p.Interval) / float64(time.Microsecond),
		Runs:       p.runs,
		Overruns:   p.overruns,
	}
	p.mu.Unlock()

	if len(durs) > 0 {
		out.MeanUs, out.StdDevUs = stat.MeanStdDev(durs, nil)
		if len(durs) == 1 {
			out.StdDevUs = 0
		}
		sort.Float64s(durs)
		out.P99Us = stat.Quantile(0.99, stat.Empirical, durs, nil)
		out.MaxUs = durs[len(durs)-1]
	}
	if len(gaps) > 1 {
		_, out.JitterUs = stat.MeanStdDev(gaps, nil)
	}
	return out
}
