package mixer

import (
	"fmt"
	"net"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveUDPAddrFunc func(network, address string) (*net.UDPAddr, error)

type dialUDPFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// UDPSink sends each packet as one datagram.
type UDPSink struct {
	dest string
	conn udpConn
}

func NewUDPSink(dest string) (*UDPSink, error) {
	return newUDPSink(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newUDPSink(dest string, resolve resolveUDPAddrFunc, dial dialUDPFunc) (*UDPSink, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &UDPSink{dest: dest, conn: conn}, nil
}

func (s *UDPSink) Name() string { return "udp:" + s.dest }

func (s *UDPSink) Write(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := s.conn.Write(payload)
	return err
}

func (s *UDPSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
