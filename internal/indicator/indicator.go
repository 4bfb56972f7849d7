// Package indicator drives a status LED: solid while a control law is active,
// a slow heartbeat while idle.
package indicator

import (
	"fmt"
	"sync"
)

type line interface {
	SetValue(v int) error
	Close() error
}

// HeartbeatPeriod is the number of Update calls per heartbeat half-cycle.
const HeartbeatPeriod = 5

type LED struct {
	mu     sync.Mutex
	line   line
	value  int
	calls  int
	failed bool
}

// Open requests the BCM GPIO pin as an output, initially off.
func Open(pin int) (*LED, error) {
	l, err := openLineFn(pin)
	if err != nil {
		return nil, err
	}
	return &LED{line: l}, nil
}

// Update is called once per slow cycle.
func (l *LED) Update(active bool) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.line == nil {
		return fmt.Errorf("indicator: closed")
	}

	next := l.value
	if active {
		next = 1
		l.calls = 0
	} else {
		l.calls++
		if l.calls >= HeartbeatPeriod {
			l.calls = 0
			next = 1 - l.value
		}
	}
	if next == l.value && !l.failed {
		return nil
	}
	if err := l.line.SetValue(next); err != nil {
		l.failed = true
		return fmt.Errorf("indicator: set: %w", err)
	}
	l.failed = false
	l.value = next
	return nil
}

// Close turns the LED off and releases the line.
func (l *LED) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.line == nil {
		return nil
	}
	_ = l.line.SetValue(0)
	err := l.line.Close()
	l.line = nil
	return err
}
