package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"groundlink/internal/bus"
	"groundlink/internal/buslog"
	"groundlink/internal/network"
	"groundlink/internal/pcap"
	"groundlink/internal/replay"
)

func newReplayCmd() *cobra.Command {
	var (
		logFile      string
		speed        float64
		dropUntil    string
		noTimestamps bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-publish a broker log at the recorded pace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			pacer := replay.NewPacer(speed)
			if dropUntil != "" {
				t, err := time.Parse(time.RFC3339, dropUntil)
				if err != nil {
					return fmt.Errorf("invalid --drop-until %q: %w", dropUntil, err)
				}
				pacer.DropUntil = t
			}

			r, err := buslog.Open(logFile, !noTimestamps)
			if err != nil {
				return err
			}
			defer r.Close()

			ctx, cancel := signalContext()
			defer cancel()

			client, err := bus.Dial(ctx, cfg.Bus.BSCP, cfg.Bus.BPCS)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := replayLog(ctx, r, pacer, client); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			emitted, dropped := pacer.Counts()
			fmt.Printf("Replayed %d messages, dropped %d\n", emitted, dropped)
			return nil
		},
	}

	cmd.Flags().StringVar(&logFile, "log", "", "Broker log to replay")
	cmd.Flags().Float64Var(&speed, "speed", 1, "Playback speed factor, 0 for no pauses")
	cmd.Flags().StringVar(&dropUntil, "drop-until", "", "Skip records before this RFC3339 time")
	cmd.Flags().BoolVar(&noTimestamps, "no-timestamps", false, "The log was written without timestamps")
	_ = cmd.MarkFlagRequired("log")
	return cmd
}

type partsPublisher interface {
	PublishParts(parts [][]byte) error
}

// replayLog re-publishes records byte for byte, whatever their layout.
func replayLog(ctx context.Context, r *buslog.Reader, pacer *replay.Pacer, pub partsPublisher) error {
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, buslog.ErrTruncated) {
			log.Warn("Log ends with a partial record")
			return nil
		}
		if err != nil {
			return err
		}

		if len(rec.Parts) == 0 {
			log.Warn("Skipping empty record")
			continue
		}

		ok, err := pacer.Pace(ctx, rec.Time)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := pub.PublishParts(rec.Parts); err != nil {
			return err
		}
		log.WithField("topic", string(rec.Parts[0])).Debug("Replayed")
	}
}

func newCaptureReplayCmd() *cobra.Command {
	var (
		pcapFile  string
		port      uint16
		target    string
		speed     float64
		countOnly bool
	)

	cmd := &cobra.Command{
		Use:   "capture-replay",
		Short: "Send radio datagrams from a capture to the imitator's raw link",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd); err != nil {
				return err
			}

			parser := pcap.NewParser(port)
			if countOnly {
				return showCounts(parser, pcapFile)
			}

			frames, err := parser.Parse(pcapFile)
			if err != nil {
				return fmt.Errorf("failed to parse pcap: %w", err)
			}
			if len(frames) == 0 {
				return fmt.Errorf("no datagrams for port %d found in pcap file", port)
			}

			link, err := network.NewUDPLink("", target)
			if err != nil {
				return err
			}
			defer link.Close()

			ctx, cancel := signalContext()
			defer cancel()

			pacer := replay.NewPacer(speed)
			for i, f := range frames {
				ok, err := pacer.Pace(ctx, f.Timestamp)
				if err != nil {
					log.Info("Replay cancelled")
					break
				}
				if !ok {
					continue
				}
				if err := link.Send(f.Data); err != nil {
					return err
				}
				log.WithFields(log.Fields{
					"index": i,
					"size":  len(f.Data),
				}).Debug("Sent datagram")
			}

			emitted, _ := pacer.Counts()
			fmt.Printf("Sent %d of %d datagrams to %s\n", emitted, len(frames), target)
			return nil
		},
	}

	cmd.Flags().StringVar(&pcapFile, "pcap", "", "Capture file")
	cmd.Flags().Uint16Var(&port, "port", 2222, "Select datagrams sent to this UDP port")
	cmd.Flags().StringVar(&target, "target", "127.0.0.1:2222", "Imitator raw link host:port")
	cmd.Flags().Float64Var(&speed, "speed", 1, "Playback speed factor, 0 for no pauses")
	cmd.Flags().BoolVar(&countOnly, "count-only", false, "Show datagram counts per port only")
	_ = cmd.MarkFlagRequired("pcap")
	return cmd
}

func showCounts(parser *pcap.Parser, file string) error {
	counts, err := parser.CountFrames(file)
	if err != nil {
		return fmt.Errorf("failed to count datagrams: %w", err)
	}

	fmt.Println("Capture datagram statistics:")
	total := 0
	for port, count := range counts {
		fmt.Printf("  port %-34d %d\n", port, count)
		total += count
	}
	fmt.Printf("  %-40s %d\n", "Total:", total)
	return nil
}
