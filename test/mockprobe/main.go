// Mock probe for end-to-end runs of the radio imitator.
// Sends numbered downlink datagrams to the imitator's raw link and logs the
// uplink frames it transmits back.
//
// Usage:
//
//	go run test/mockprobe/main.go [--addr 127.0.0.1:2223] [--imitator 127.0.0.1:2222]
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"groundlink/internal/radio"
)

type mockProbe struct {
	addr        string
	imitator    string
	interval    time.Duration
	payloadSize int
	skipEvery   int

	conn    *net.UDPConn
	frameNo uint16

	mu    sync.Mutex
	stats struct {
		sent     int
		skipped  int
		received int
		errors   int
	}
}

func (p *mockProbe) run(ctx context.Context) error {
	local, err := net.ResolveUDPAddr("udp", p.addr)
	if err != nil {
		return fmt.Errorf("resolve addr: %w", err)
	}
	remote, err := net.ResolveUDPAddr("udp", p.imitator)
	if err != nil {
		return fmt.Errorf("resolve imitator addr: %w", err)
	}

	p.conn, err = net.ListenUDP("udp", local)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer p.conn.Close()

	go func() {
		<-ctx.Done()
		p.conn.Close()
	}()

	log.WithFields(log.Fields{
		"addr":     p.addr,
		"imitator": p.imitator,
	}).Info("Mock probe listening")

	go p.transmit(ctx, remote)

	buf := make([]byte, 65535)
	for {
		n, from, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("read error")
			p.count(func() { p.stats.errors++ })
			continue
		}

		frameNo, payload, err := radio.ParseRawFrame(buf[:n])
		if err != nil {
			log.WithError(err).WithField("from", from).Warn("Bad uplink datagram")
			p.count(func() { p.stats.errors++ })
			continue
		}
		p.count(func() { p.stats.received++ })
		log.WithFields(log.Fields{
			"frame_no": frameNo,
			"size":     len(payload),
		}).Info("← uplink frame")
	}
}

// transmit emits one downlink frame per interval. With skipEvery set, every
// n-th frame number is consumed without sending to exercise loss tracking.
func (p *mockProbe) transmit(ctx context.Context, remote *net.UDPAddr) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	payload := make([]byte, p.payloadSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frameNo := p.frameNo
		p.frameNo++
		if p.skipEvery > 0 && int(frameNo)%p.skipEvery == p.skipEvery-1 {
			p.count(func() { p.stats.skipped++ })
			log.WithField("frame_no", frameNo).Info("× skipped downlink frame")
			continue
		}

		for i := range payload {
			payload[i] = byte(frameNo) + byte(i)
		}
		if _, err := p.conn.WriteToUDP(radio.EncodeRawFrame(frameNo, payload), remote); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("write error")
			p.count(func() { p.stats.errors++ })
			continue
		}
		p.count(func() { p.stats.sent++ })
		log.WithField("frame_no", frameNo).Debug("→ downlink frame")
	}
}

func (p *mockProbe) count(f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f()
}

func (p *mockProbe) printStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	log.Infof("Stats: sent=%d skipped=%d received=%d errors=%d",
		p.stats.sent, p.stats.skipped, p.stats.received, p.stats.errors)
}

func main() {
	p := &mockProbe{}
	flag.StringVar(&p.addr, "addr", "127.0.0.1:2223", "UDP address to listen on (the imitator's --uplink-connect)")
	flag.StringVar(&p.imitator, "imitator", "127.0.0.1:2222", "Imitator raw link address (its --uplink-bind)")
	flag.DurationVar(&p.interval, "interval", time.Second, "Downlink frame interval")
	flag.IntVar(&p.payloadSize, "payload-size", 64, "Downlink payload size")
	flag.IntVar(&p.skipEvery, "skip-every", 0, "Skip every n-th frame number (0 disables)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("Shutting down...")
		cancel()
	}()

	if err := p.run(ctx); err != nil {
		log.Fatalf("Mock probe error: %v", err)
	}
	p.printStats()
}
