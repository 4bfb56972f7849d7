package bus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type ClientConfig struct {
	Name string
	Addr string

	ReconnectDelay time.Duration
	MaxLineBytes   int

	// DialTimeout is used for the initial TCP connect.
	DialTimeout time.Duration
}

// Client reads newline-delimited JSON from a TCP endpoint and reconnects on
// failure.
type Client struct {
	cfg ClientConfig

	started atomic.Bool
	closed  atomic.Bool

	mu       sync.RWMutex
	state    string
	lastErr  string
	lastSeen time.Time
	count    uint64
	dropped  uint64

	cancel context.CancelFunc
	done   chan struct{}
}

type ClientSnapshot struct {
	Name        string `json:"name"`
	Addr        string `json:"addr"`
	State       string `json:"state"`
	LastError   string `json:"last_error,omitempty"`
	LastSeenUTC string `json:"last_seen_utc,omitempty"`
	Messages    uint64 `json:"messages"`
	Dropped     uint64 `json:"dropped"`
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("bus client name is required")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("bus client addr is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 1 * time.Second
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 64 * 1024
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}

	return &Client{cfg: cfg, state: "stopped", done: make(chan struct{})}, nil
}

// Start connects and calls onLine with a copy of every non-empty line.
// onLine runs on the reader goroutine and should not block.
func (c *Client) Start(ctx context.Context, onLine func(raw json.RawMessage) error) error {
	if c == nil {
		return fmt.Errorf("bus client is nil")
	}
	if c.closed.Load() {
		return fmt.Errorf("bus client is closed")
	}
	if onLine == nil {
		return fmt.Errorf("bus onLine is nil")
	}
	if c.started.Swap(true) {
		return fmt.Errorf("bus client already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.setState("connecting", "")

	go func() {
		defer close(c.done)
		c.runLoop(runCtx, onLine)
	}()
	return nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.closed.Swap(true) {
		return
	}
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

func (c *Client) Snapshot() ClientSnapshot {
	if c == nil {
		return ClientSnapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := ClientSnapshot{
		Name:      c.cfg.Name,
		Addr:      c.cfg.Addr,
		State:     c.state,
		LastError: c.lastErr,
		Messages:  c.count,
		Dropped:   c.dropped,
	}
	if !c.lastSeen.IsZero() {
		out.LastSeenUTC = c.lastSeen.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func (c *Client) runLoop(ctx context.Context, onLine func(raw json.RawMessage) error) {
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}

	for {
		if ctx.Err() != nil {
			c.setState("stopped", "")
			return
		}

		c.setState("connecting", "")
		conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
		if err != nil {
			c.setState("error", err.Error())
			if !sleepCtx(ctx, c.cfg.ReconnectDelay) {
				c.setState("stopped", "")
				return
			}
			continue
		}

		c.setState("connected", "")
		c.readConn(ctx, conn, onLine)

		if !sleepCtx(ctx, c.cfg.ReconnectDelay) {
			c.setState("stopped", "")
			return
		}
	}
}

func (c *Client) readConn(ctx context.Context, conn net.Conn, onLine func(raw json.RawMessage) error) {
	// Unblock the reader when the context ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	// At most MaxLineBytes of a line are held; the rest of an oversized line
	// is discarded as it arrives.
	reader := bufio.NewReaderSize(conn, 4096)
	line := make([]byte, 0, 4096)
	skipping := false
	for {
		chunk, err := reader.ReadSlice('\n')
		if !skipping {
			if len(line)+len(chunk) > c.cfg.MaxLineBytes {
				c.drop(fmt.Sprintf("line exceeds %d bytes", c.cfg.MaxLineBytes))
				line = line[:0]
				skipping = true
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if !skipping {
			c.handleLine(line, onLine)
		}
		line = line[:0]
		skipping = false
		if err != nil {
			if ctx.Err() != nil {
				c.setState("stopped", "")
			} else if errors.Is(err, net.ErrClosed) {
				c.setState("disconnected", "")
			} else {
				c.setState("disconnected", err.Error())
			}
			return
		}
	}
}

func (c *Client) handleLine(line []byte, onLine func(raw json.RawMessage) error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return
	}
	raw := append(json.RawMessage(nil), trimmed...)
	if err := onLine(raw); err != nil {
		c.drop(err.Error())
		return
	}
	c.mu.Lock()
	c.lastSeen = time.Now().UTC()
	c.count++
	c.mu.Unlock()
}

func (c *Client) drop(reason string) {
	c.mu.Lock()
	c.dropped++
	c.lastErr = reason
	c.mu.Unlock()
}

func (c *Client) setState(state string, lastErr string) {
	c.mu.Lock()
	c.state = state
	if lastErr != "" {
		c.lastErr = lastErr
	} else if state == "connected" || state == "connecting" || state == "stopped" {
		c.lastErr = ""
	}
	c.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
