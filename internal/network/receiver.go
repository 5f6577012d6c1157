package network

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	log "github.com/sirupsen/logrus"
)

const maxDatagram = 0xFFFF

// Start begins reading datagrams from the peer in a goroutine.
func (l *UDPLink) Start(ctx context.Context) {
	go l.listen(ctx)
}

// Frames returns the channel of received datagrams. It is closed when the
// link fails or ctx is cancelled; Err reports the failure.
func (l *UDPLink) Frames() <-chan []byte {
	return l.frames
}

// Err returns the read error that stopped the receiver, if any.
func (l *UDPLink) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

func (l *UDPLink) listen(ctx context.Context) {
	defer close(l.frames)

	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, err := l.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return // Context cancelled, normal shutdown
			}
			// the peer is not listening yet; ICMP port unreachable surfaces on the next read
			if errors.Is(err, syscall.ECONNREFUSED) {
				log.WithField("peer", l.remote).Debug("Peer refused datagram")
				continue
			}
			l.errMu.Lock()
			l.err = fmt.Errorf("failed to read from %s: %w", l.remote, err)
			l.errMu.Unlock()
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case l.frames <- data:
		case <-ctx.Done():
			return
		}
	}
}
