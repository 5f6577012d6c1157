package network

import (
	"fmt"
	"net"
	"sync"
)

// UDPLink is a connected UDP socket standing in for the radio's air link:
// datagrams from the peer are received frames, Send radiates a frame.
type UDPLink struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
	mu     sync.Mutex

	frames chan []byte
	errMu  sync.Mutex
	err    error
}

// NewUDPLink binds to bindAddr (host:port, may be empty for an ephemeral
// port) and connects to connectAddr.
func NewUDPLink(bindAddr, connectAddr string) (*UDPLink, error) {
	var local *net.UDPAddr
	if bindAddr != "" {
		addr, err := net.ResolveUDPAddr("udp", bindAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve bind address %s: %w", bindAddr, err)
		}
		local = addr
	}

	remote, err := net.ResolveUDPAddr("udp", connectAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve connect address %s: %w", connectAddr, err)
	}

	conn, err := net.DialUDP("udp", local, remote)
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP %s -> %s: %w", bindAddr, connectAddr, err)
	}

	return &UDPLink{
		conn:   conn,
		remote: remote,
		frames: make(chan []byte, 1000),
	}, nil
}

// Send transmits one datagram to the peer.
func (l *UDPLink) Send(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.conn.Write(data); err != nil {
		return fmt.Errorf("failed to send to %s: %w", l.remote, err)
	}
	return nil
}

// Close closes the UDP connection.
func (l *UDPLink) Close() error {
	return l.conn.Close()
}

// LocalAddr returns the local address the link is bound to.
func (l *UDPLink) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// RemoteAddr returns the peer address.
func (l *UDPLink) RemoteAddr() net.Addr {
	return l.remote
}
