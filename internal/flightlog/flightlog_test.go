package flightlog

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"hoverfc/internal/control"
	"hoverfc/internal/mixer"
)

type fakeSleeper struct {
	waits []time.Duration
}

func (s *fakeSleeper) Sleep(d time.Duration) { s.waits = append(s.waits, d) }

func TestRead_ParsesHeaderAndRecords(t *testing.T) {
	in := strings.Join([]string{
		"# run abc-123",
		"# comment",
		"",
		"START",
		"0,41435446",
		"5000000, 41 43 54 46",
	}, "\n")
	l, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if l.RunID != "abc-123" {
		t.Fatalf("run=%q", l.RunID)
	}
	if len(l.Records) != 3 || l.Records[0].Packet != nil {
		t.Fatalf("records=%+v", l.Records)
	}
	if l.Records[2].At != 5*time.Millisecond || string(l.Records[2].Packet) != "ACTF" {
		t.Fatalf("record=%+v", l.Records[2])
	}
}

func TestRead_Errors(t *testing.T) {
	cases := map[string]string{
		"missing comma": "12 abcd",
		"bad timestamp": "x,abcd",
		"negative":      "-1,abcd",
		"bad hex":       "1,zz",
		"empty":         "1,",
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Read(strings.NewReader(line)); err == nil {
				t.Fatalf("expected error for %q", line)
			}
		})
	}
}

func TestWriter_RoundTripsMixerPackets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flight.log")
	w, err := Create(path, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := uuid.Parse(w.RunID()); err != nil {
		t.Fatalf("generated run id %q is not a uuid: %v", w.RunID(), err)
	}

	base := time.Now()
	step := 0
	w.start = base
	w.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * 5 * time.Millisecond)
	}

	frame := control.NewFrame(control.Surfaces{Aileron: 0.1, Elevator: 0.2, Rudder: 0.3}, 0.4)
	fb, err := mixer.EncodeFrame(frame)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	sp := control.RateSetpoint{Wx: 1, Engine: control.EngineDirect}
	rb, err := mixer.EncodeRateSetpoint(sp)
	if err != nil {
		t.Fatalf("EncodeRateSetpoint: %v", err)
	}
	if err := w.Record(fb); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := w.Record(rb); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := w.Record(nil); err == nil {
		t.Fatalf("expected error for empty packet")
	}
	if w.Count() != 2 {
		t.Fatalf("count=%d want 2", w.Count())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Record(fb); err == nil {
		t.Fatalf("expected error after close")
	}

	l, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if l.RunID != w.RunID() {
		t.Fatalf("run=%q want %q", l.RunID, w.RunID())
	}
	if len(l.Records) != 3 {
		t.Fatalf("records=%d want 3", len(l.Records))
	}
	if l.Records[1].At != 5*time.Millisecond || l.Records[2].At != 10*time.Millisecond {
		t.Fatalf("times=%v %v", l.Records[1].At, l.Records[2].At)
	}
	gotFrame, err := mixer.DecodeFrame(l.Records[1].Packet)
	if err != nil || gotFrame != frame {
		t.Fatalf("frame=%v err=%v want %v", gotFrame, err, frame)
	}
	gotSP, err := mixer.DecodeRateSetpoint(l.Records[2].Packet)
	if err != nil || gotSP != sp {
		t.Fatalf("rate setpoint=%+v err=%v want %+v", gotSP, err, sp)
	}
}

func TestPlay_ScalesWaitsAndResetsAtStart(t *testing.T) {
	recs := []Record{
		{},
		{At: 0, Packet: []byte{1}},
		{At: 10 * time.Millisecond, Packet: []byte{2}},
		{At: 50 * time.Millisecond},
		{At: 50 * time.Millisecond, Packet: []byte{3}},
		{At: 54 * time.Millisecond, Packet: []byte{4}},
	}
	s := &fakeSleeper{}
	var got []byte
	err := Play(recs, 2, s, func(p []byte) error {
		got = append(got, p[0])
		return nil
	})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if string(got) != "\x01\x02\x03\x04" {
		t.Fatalf("order=%v", got)
	}
	if len(s.waits) != 2 || s.waits[0] != 5*time.Millisecond || s.waits[1] != 2*time.Millisecond {
		t.Fatalf("waits=%v want [5ms 2ms]", s.waits)
	}
}

func TestPlay_RejectsBadArgs(t *testing.T) {
	if err := Play(nil, 0, nil, func([]byte) error { return nil }); err == nil {
		t.Fatalf("expected speed error")
	}
	if err := Play(nil, 1, nil, nil); err == nil {
		t.Fatalf("expected nil callback error")
	}
}
