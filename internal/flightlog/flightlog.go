// Package flightlog records the packets handed to the mixer and reads them
// back for regression tests and bench replay.
//
// Log format: line-oriented text.
//
//   - Blank lines are ignored.
//   - "# run <id>" names the run; other lines starting with '#' are ignored.
//   - "START" resets the origin (next record time is relative to 0 again).
//   - Data lines are <t_ns>,<hex> where t_ns is nanoseconds since START and hex
//     is the raw mixer packet.
package flightlog

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Record struct {
	At time.Duration
	// Packet is nil for START markers.
	Packet []byte
}

type Log struct {
	RunID   string
	Records []Record
}

func Read(r io.Reader) (Log, error) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	out := Log{Records: make([]Record, 0, 1024)}
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "# run "):
			if out.RunID == "" {
				out.RunID = strings.TrimSpace(strings.TrimPrefix(line, "# run "))
			}
			continue
		case strings.HasPrefix(line, "#"):
			continue
		case line == "START":
			out.Records = append(out.Records, Record{})
			continue
		}

		tsStr, hexStr, ok := strings.Cut(line, ",")
		if !ok {
			return Log{}, fmt.Errorf("line %d: missing comma", lineNo)
		}
		tsNs, err := strconv.ParseInt(strings.TrimSpace(tsStr), 10, 64)
		if err != nil {
			return Log{}, fmt.Errorf("line %d: timestamp: %w", lineNo, err)
		}
		if tsNs < 0 {
			return Log{}, fmt.Errorf("line %d: negative timestamp %d", lineNo, tsNs)
		}
		b, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(hexStr), " ", ""))
		if err != nil {
			return Log{}, fmt.Errorf("line %d: payload: %w", lineNo, err)
		}
		if len(b) == 0 {
			return Log{}, fmt.Errorf("line %d: empty payload", lineNo)
		}
		out.Records = append(out.Records, Record{At: time.Duration(tsNs), Packet: b})
	}
	if err := s.Err(); err != nil {
		return Log{}, err
	}
	return out, nil
}

func ReadFile(path string) (Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return Log{}, err
	}
	defer f.Close()
	return Read(f)
}

// Writer appends packets to a log file. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	now    func() time.Time
	runID  string
	count  uint64
	closed bool
}

// Create starts a new log at path. An empty runID is replaced by a random one.
func Create(path, runID string) (*Writer, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := fmt.Fprintf(bw, "# run %s\n# started %s\nSTART\n", runID, time.Now().UTC().Format(time.RFC3339)); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now(), now: time.Now, runID: runID}, nil
}

func (lw *Writer) RunID() string { return lw.runID }

// Record implements mixer.Recorder.
func (lw *Writer) Record(packet []byte) error {
	if len(packet) == 0 {
		return errors.New("flightlog: empty packet")
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.closed {
		return errors.New("flightlog: writer is closed")
	}
	d := lw.now().Sub(lw.start)
	if d < 0 {
		d = 0
	}
	if _, err := fmt.Fprintf(lw.w, "%d,%s\n", d.Nanoseconds(), hex.EncodeToString(packet)); err != nil {
		return err
	}
	lw.count++
	return nil
}

func (lw *Writer) Count() uint64 {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.count
}

func (lw *Writer) Flush() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.closed {
		return nil
	}
	return lw.w.Flush()
}

func (lw *Writer) Close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.closed {
		return nil
	}
	lw.closed = true
	if err := lw.w.Flush(); err != nil {
		_ = lw.f.Close()
		return err
	}
	return lw.f.Close()
}

type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Play calls cb for every packet with the recorded spacing scaled by speed
// (2.0 halves the waits). START markers reset the origin.
func Play(records []Record, speed float64, sleeper Sleeper, cb func(packet []byte) error) error {
	if speed <= 0 {
		return fmt.Errorf("speed must be > 0")
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}

	var origin, lastAt time.Duration
	haveLast := false
	for _, r := range records {
		if r.Packet == nil {
			origin = r.At
			haveLast = false
			continue
		}
		at := r.At - origin
		if at < 0 {
			at = 0
		}
		if haveLast {
			if wait := time.Duration(float64(at-lastAt) / speed); wait > 0 {
				sleeper.Sleep(wait)
			}
		}
		if err := cb(r.Packet); err != nil {
			return err
		}
		lastAt = at
		haveLast = true
	}
	return nil
}
