package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	log "github.com/sirupsen/logrus"
)

// Environment variables holding the broker endpoints.
const (
	EnvBSCPEndpoint = "ITS_GBUS_BSCP_ENDPOINT" // publishers connect here
	EnvBPCSEndpoint = "ITS_GBUS_BPCS_ENDPOINT" // subscribers connect here
)

// connectSettle gives freshly dialed sockets time to exchange subscriptions.
const connectSettle = 100 * time.Millisecond

// Client is a bus participant: it publishes to the broker's BSCP side and
// receives the topics it subscribed to from the broker's BPCS side.
type Client struct {
	pub zmq4.Socket
	sub zmq4.Socket

	msgCh  chan Message
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool
}

// Dial connects to the broker. Without topics the client only publishes and
// Messages returns a nil channel.
func Dial(ctx context.Context, bscp, bpcs string, topics ...string) (*Client, error) {
	ctx, cancel := context.WithCancel(ctx)
	c := &Client{cancel: cancel}

	log.WithFields(log.Fields{
		"bscp": bscp,
		"bpcs": bpcs,
	}).Info("Connecting to bus")

	c.pub = zmq4.NewPub(ctx)
	if err := c.pub.Dial(bscp); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect pub socket to %s: %w", bscp, err)
	}

	if len(topics) > 0 {
		c.sub = zmq4.NewSub(ctx)
		if err := c.sub.Dial(bpcs); err != nil {
			c.pub.Close()
			cancel()
			return nil, fmt.Errorf("failed to connect sub socket to %s: %w", bpcs, err)
		}
		for _, topic := range topics {
			if err := c.sub.SetOption(zmq4.OptionSubscribe, topic); err != nil {
				c.Close()
				return nil, fmt.Errorf("failed to subscribe to %q: %w", topic, err)
			}
			log.WithField("topic", topic).Debug("Subscribed")
		}

		c.msgCh = make(chan Message, 1000)
		go c.listen(ctx)
	}

	time.Sleep(connectSettle)
	return c, nil
}

// Messages returns the channel of received messages. It is closed when the
// subscription fails or the client is closed; Err tells which.
func (c *Client) Messages() <-chan Message {
	return c.msgCh
}

// Publish sends msg as a multipart message.
func (c *Client) Publish(msg Message) error {
	return c.PublishParts(msg.Parts())
}

// PublishParts sends raw parts as they are, without checking the layout.
func (c *Client) PublishParts(parts [][]byte) error {
	if len(parts) == 0 {
		return fmt.Errorf("failed to publish: %w", ErrMalformed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := c.pub.SendMulti(zmq4.NewMsgFrom(parts...)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", parts[0], err)
	}
	return nil
}

// Err returns the reason the message channel was closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil && c.closed {
		return ErrClosed
	}
	return c.err
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	var firstErr error
	if c.sub != nil {
		if err := c.sub.Close(); err != nil {
			firstErr = err
		}
	}
	if err := c.pub.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (c *Client) listen(ctx context.Context) {
	defer close(c.msgCh)

	for {
		zmsg, err := c.sub.Recv()
		if err != nil {
			c.mu.Lock()
			if !c.closed && ctx.Err() == nil {
				c.err = fmt.Errorf("failed to receive from bus: %w", err)
			}
			c.mu.Unlock()
			return
		}

		msg, err := ParseParts(zmsg.Frames)
		if err != nil {
			log.WithError(err).Warn("Dropping malformed bus message")
			continue
		}

		select {
		case c.msgCh <- msg:
		case <-ctx.Done():
			return
		}
	}
}
