package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"hoverfc/internal/flight"
)

type RateSample struct {
	Wx       float32 `json:"wx"`
	Wy       float32 `json:"wy"`
	Wz       float32 `json:"wz"`
	Throttle float32 `json:"throttle"`
	Engine   string  `json:"engine"`
}

// TelemetrySample is one fast-cycle output in a UI-friendly shape.
type TelemetrySample struct {
	// Time is formatted only when the sample is encoded.
	Time     time.Time `json:"time_utc"`
	Tick     uint64    `json:"tick"`
	Mode     string    `json:"mode"`
	Aileron  float32   `json:"aileron"`
	Elevator float32   `json:"elevator"`
	Rudder   float32   `json:"rudder"`
	Throttle float32   `json:"throttle"`
	// RateSetpoint is set only when the attitude cascade ran.
	RateSetpoint *RateSample `json:"rate_setpoint,omitempty"`
}

func NewTelemetrySample(now time.Time, tick uint64, out flight.Output) TelemetrySample {
	s := TelemetrySample{
		Time:     now.UTC(),
		Tick:     tick,
		Mode:     out.Mode.String(),
		Aileron:  out.Frame.Aileron(),
		Elevator: out.Frame.Elevator(),
		Rudder:   out.Frame.Rudder(),
		Throttle: out.Frame.Throttle(),
	}
	if out.Cascade {
		sp := out.RateSetpoint
		s.RateSetpoint = &RateSample{
			Wx:       sp.Wx,
			Wy:       sp.Wy,
			Wz:       sp.Wz,
			Throttle: sp.Throttle,
			Engine:   sp.Engine.String(),
		}
	}
	return s
}

// TelemetryBroadcaster fans out telemetry samples to listeners (e.g. SSE).
// Only every Nth published sample is forwarded; the most recent forwarded
// sample is replayed to new subscribers.
type TelemetryBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan TelemetrySample
	nextID   int
	last     TelemetrySample
	haveLast bool

	every int
	n     int
}

func NewTelemetryBroadcaster(every int) *TelemetryBroadcaster {
	if every <= 0 {
		every = 1
	}
	return &TelemetryBroadcaster{
		subs:  make(map[int]chan TelemetrySample),
		every: every,
	}
}

func (b *TelemetryBroadcaster) Subscribe(buffer int) (int, <-chan TelemetrySample) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 4
	}
	ch := make(chan TelemetrySample, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.haveLast {
		ch <- b.last
	}
	b.mu.Unlock()
	return id, ch
}

func (b *TelemetryBroadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish never blocks; a subscriber with a full buffer misses the sample.
func (b *TelemetryBroadcaster) Publish(s TelemetrySample) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n++
	if b.n < b.every {
		return
	}
	b.n = 0
	b.last = s
	b.haveLast = true
	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

func (b *TelemetryBroadcaster) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Handler streams samples as server-sent events.
func (b *TelemetryBroadcaster) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		id, ch := b.Subscribe(8)
		defer b.Unsubscribe(id)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		keepalive := time.NewTicker(15 * time.Second)
		defer keepalive.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepalive.C:
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case s, ok := <-ch:
				if !ok {
					return
				}
				bts, err := json.Marshal(s)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "event: telemetry\ndata: %s\n\n", bts); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}
