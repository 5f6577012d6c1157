package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-zeromq/zmq4"
	log "github.com/sirupsen/logrus"
)

// Sockets are the two broker binds: publishers connect to the SUB side,
// subscribers to the PUB side.
type Sockets struct {
	sub zmq4.Socket
	pub zmq4.Socket
}

// BindAddress rewrites a client endpoint into one the broker can bind:
// a localhost host becomes the wildcard address.
func BindAddress(endpoint string) string {
	for _, host := range []string{"localhost", "127.0.0.1"} {
		if strings.Contains(endpoint, "://"+host+":") {
			return strings.Replace(endpoint, "://"+host+":", "://0.0.0.0:", 1)
		}
	}
	return endpoint
}

// Listen binds both sides and subscribes the SUB side to every topic.
func Listen(ctx context.Context, subBind, pubBind string) (*Sockets, error) {
	s := &Sockets{
		sub: zmq4.NewSub(ctx),
		pub: zmq4.NewPub(ctx),
	}

	if err := s.sub.Listen(subBind); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to bind sub socket to %s: %w", subBind, err)
	}
	if err := s.sub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to subscribe to all topics: %w", err)
	}
	if err := s.pub.Listen(pubBind); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to bind pub socket to %s: %w", pubBind, err)
	}

	sub, pub := s.Endpoints()
	log.WithFields(log.Fields{
		"sub": sub,
		"pub": pub,
	}).Info("Broker sockets bound")
	return s, nil
}

// Endpoints returns the bound SUB and PUB endpoints, with any wildcard port
// resolved.
func (s *Sockets) Endpoints() (sub, pub string) {
	return endpoint(s.sub), endpoint(s.pub)
}

func endpoint(sock zmq4.Socket) string {
	addr := sock.Addr()
	if addr == nil {
		return ""
	}
	return addr.Network() + "://" + addr.String()
}

// Recv returns the next message from publishers.
func (s *Sockets) Recv() ([][]byte, error) {
	msg, err := s.sub.Recv()
	if err != nil {
		return nil, err
	}
	return msg.Frames, nil
}

// Send publishes the parts to subscribers.
func (s *Sockets) Send(parts [][]byte) error {
	return s.pub.SendMulti(zmq4.NewMsgFrom(parts...))
}

// Close closes both sockets.
func (s *Sockets) Close() error {
	subErr := s.sub.Close()
	pubErr := s.pub.Close()
	if subErr != nil {
		return subErr
	}
	return pubErr
}
