package mixer

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

var openPortFn = func(device string, baud int) (io.WriteCloser, error) {
	return serial.Open(device, &serial.Mode{BaudRate: baud})
}

// SerialSink writes packets back to back on a serial line. Packets are
// fixed-size and tagged, so no extra framing is added.
type SerialSink struct {
	device string
	port   io.WriteCloser
}

func NewSerialSink(device string, baud int) (*SerialSink, error) {
	if device == "" {
		return nil, fmt.Errorf("serial device is required")
	}
	if baud <= 0 {
		return nil, fmt.Errorf("serial baud must be > 0")
	}
	port, err := openPortFn(device, baud)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	return &SerialSink{device: device, port: port}, nil
}

func (s *SerialSink) Name() string { return "serial:" + s.device }

func (s *SerialSink) Write(payload []byte) error {
	for len(payload) > 0 {
		n, err := s.port.Write(payload)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		payload = payload[n:]
	}
	return nil
}

func (s *SerialSink) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}
