// Package broker relays every bus message from the publishers' side to the
// subscribers' side and keeps a durable log of the traffic.
package broker

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"groundlink/internal/stats"
)

// DefaultFlushInterval bounds how much logged traffic a crash can lose.
const DefaultFlushInterval = time.Second

// Source delivers multipart messages from publishers.
type Source interface {
	Recv() ([][]byte, error)
}

// Sink fans a multipart message out to subscribers.
type Sink interface {
	Send(parts [][]byte) error
}

// LogWriter persists relayed messages.
type LogWriter interface {
	Write(parts [][]byte) (int, error)
	Flush() error
	Close() error
}

// Broker relays messages unmodified. It has no acknowledgement or flow
// control: a subscriber that is not connected when a message passes misses it.
type Broker struct {
	source        Source
	sink          Sink
	logw          LogWriter
	stats         *stats.Collector
	flushInterval time.Duration
}

// New creates a broker. logw may be nil to disable logging.
func New(source Source, sink Sink, logw LogWriter, collector *stats.Collector, flushInterval time.Duration) *Broker {
	if collector == nil {
		collector = stats.NewCollector()
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Broker{
		source:        source,
		sink:          sink,
		logw:          logw,
		stats:         collector,
		flushInterval: flushInterval,
	}
}

type received struct {
	parts [][]byte
	err   error
}

// Run relays until ctx is cancelled, which is the only clean way out: the log
// is flushed and closed and nil returned. Any socket or log failure closes
// the log and is returned.
func (b *Broker) Run(ctx context.Context) error {
	recvCh := make(chan received, 1000)
	go b.receive(ctx, recvCh)

	var flushC <-chan time.Time
	if b.logw != nil {
		ticker := time.NewTicker(b.flushInterval)
		defer ticker.Stop()
		flushC = ticker.C
	}

	log.WithFields(log.Fields{
		"logging":        b.logw != nil,
		"flush_interval": b.flushInterval,
	}).Info("Broker relaying")

	for {
		select {
		case <-ctx.Done():
			log.Info("Broker interrupted, closing log")
			return b.closeLog()

		case r := <-recvCh:
			if r.err != nil {
				b.closeLog()
				return fmt.Errorf("failed to receive from publishers: %w", r.err)
			}
			if err := b.relay(r.parts); err != nil {
				b.closeLog()
				return err
			}

		case <-flushC:
			if err := b.logw.Flush(); err != nil {
				b.stats.RecordLogError()
				b.closeLog()
				return fmt.Errorf("failed to flush log: %w", err)
			}
			b.stats.RecordFlush()
		}
	}
}

func (b *Broker) receive(ctx context.Context, out chan<- received) {
	for {
		parts, err := b.source.Recv()
		if err != nil && ctx.Err() != nil {
			return
		}

		select {
		case out <- received{parts: parts, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (b *Broker) relay(parts [][]byte) error {
	if err := b.sink.Send(parts); err != nil {
		b.stats.RecordRelayError()
		return fmt.Errorf("failed to relay message: %w", err)
	}
	b.stats.RecordRelayed(parts)

	if log.IsLevelEnabled(log.DebugLevel) && len(parts) > 0 {
		log.WithFields(log.Fields{
			"topic": string(parts[0]),
			"parts": len(parts),
		}).Debug("Relayed")
	}

	if b.logw == nil {
		return nil
	}
	n, err := b.logw.Write(parts)
	if err != nil {
		b.stats.RecordLogError()
		return fmt.Errorf("failed to log message: %w", err)
	}
	b.stats.RecordLogged(n)
	return nil
}

func (b *Broker) closeLog() error {
	if b.logw == nil {
		return nil
	}
	if err := b.logw.Close(); err != nil {
		b.stats.RecordLogError()
		return fmt.Errorf("failed to close log: %w", err)
	}
	b.stats.RecordFlush()
	return nil
}
