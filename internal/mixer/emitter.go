package mixer

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"hoverfc/internal/control"
)

// Sink is one packet destination.
type Sink interface {
	Name() string
	Write(payload []byte) error
	Close() error
}

// Recorder receives a copy of every packet handed to the sinks.
type Recorder interface {
	Record(payload []byte) error
}

// Emitter queues encoded packets for a writer goroutine so the control tick
// never waits on I/O. When the queue is full the oldest pending packet is
// dropped.
type Emitter struct {
	sinks    []Sink
	recorder Recorder

	queue chan []byte
	stop  chan struct{}
	done  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	running   atomic.Bool

	sent    atomic.Uint64
	dropped atomic.Uint64
	errs    atomic.Uint64

	mu      sync.Mutex
	lastErr string
}

type EmitterSnapshot struct {
	Sinks     []string `json:"sinks"`
	Sent      uint64   `json:"sent"`
	Dropped   uint64   `json:"dropped"`
	Errors    uint64   `json:"errors"`
	LastError string   `json:"last_error,omitempty"`
}

func NewEmitter(queue int, recorder Recorder, sinks ...Sink) *Emitter {
	if queue <= 0 {
		queue = 8
	}
	return &Emitter{
		sinks:    sinks,
		recorder: recorder,
		queue:    make(chan []byte, queue),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (e *Emitter) Start() {
	e.startOnce.Do(func() {
		e.running.Store(true)
		go e.run()
	})
}

func (e *Emitter) EmitFrame(f control.Frame) {
	b, err := EncodeFrame(f)
	if err != nil {
		e.fail(err)
		return
	}
	e.enqueue(b)
}

func (e *Emitter) EmitRateSetpoint(sp control.RateSetpoint) {
	b, err := EncodeRateSetpoint(sp)
	if err != nil {
		e.fail(err)
		return
	}
	e.enqueue(b)
}

func (e *Emitter) enqueue(b []byte) {
	select {
	case e.queue <- b:
		return
	default:
	}
	select {
	case <-e.queue:
		e.dropped.Add(1)
	default:
	}
	select {
	case e.queue <- b:
	default:
		e.dropped.Add(1)
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return
		case b := <-e.queue:
			e.write(b)
		}
	}
}

func (e *Emitter) write(b []byte) {
	var errs []error
	for _, s := range e.sinks {
		if err := s.Write(b); err != nil {
			errs = append(errs, err)
		}
	}
	if e.recorder != nil {
		if err := e.recorder.Record(b); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		e.fail(err)
		return
	}
	e.sent.Add(1)
}

func (e *Emitter) fail(err error) {
	e.errs.Add(1)
	msg := err.Error()
	e.mu.Lock()
	fresh := msg != e.lastErr
	e.lastErr = msg
	e.mu.Unlock()
	if fresh {
		log.Printf("mixer: %v", err)
	}
}

func (e *Emitter) Snapshot() EmitterSnapshot {
	out := EmitterSnapshot{
		Sent:    e.sent.Load(),
		Dropped: e.dropped.Load(),
		Errors:  e.errs.Load(),
	}
	for _, s := range e.sinks {
		out.Sinks = append(out.Sinks, s.Name())
	}
	e.mu.Lock()
	out.LastError = e.lastErr
	e.mu.Unlock()
	return out
}

// Shutdown stops the writer, discards pending packets, writes one zero frame
// synchronously and closes the sinks.
func (e *Emitter) Shutdown() error {
	var err error
	e.stopOnce.Do(func() {
		close(e.stop)
		if e.running.Load() {
			<-e.done
		}
	drain:
		for {
			select {
			case <-e.queue:
			default:
				break drain
			}
		}

		var errs []error
		if b, encErr := EncodeFrame(control.Frame{}); encErr != nil {
			errs = append(errs, encErr)
		} else {
			e.write(b)
		}
		for _, s := range e.sinks {
			if cerr := s.Close(); cerr != nil {
				errs = append(errs, cerr)
			}
		}
		err = errors.Join(errs...)
	})
	return err
}
