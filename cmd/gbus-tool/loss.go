package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"groundlink/internal/bus"
	"groundlink/internal/buslog"
	"groundlink/internal/linkloss"
)

func newLinkLossCmd() *cobra.Command {
	var (
		logFiles     []string
		noTimestamps bool
	)

	cmd := &cobra.Command{
		Use:   "link-loss",
		Short: "Count missed downlink frames, live or from a broker log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if len(logFiles) > 0 {
				return linkLossFromLogs(logFiles, !noTimestamps, os.Stdout)
			}

			ctx, cancel := signalContext()
			defer cancel()

			client, err := bus.Dial(ctx, cfg.Bus.BSCP, cfg.Bus.BPCS, bus.TopicDownlinkFrame, bus.TopicSDRDownlinkFrame)
			if err != nil {
				return err
			}
			defer client.Close()

			tracker := linkloss.NewTracker()
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg, ok := <-client.Messages():
					if !ok {
						return client.Err()
					}
					summary, res := tracker.Process(msg)
					if res != bus.Processed {
						continue
					}

					out, err := linkloss.SummaryMessage(summary)
					if err != nil {
						return err
					}
					if err := client.Publish(out); err != nil {
						return err
					}
					log.WithFields(log.Fields{
						"count": summary.Count,
						"num":   summary.Num,
					}).Info("Link loss")
				}
			}
		},
	}

	cmd.Flags().StringSliceVar(&logFiles, "log", nil, "Read frames from broker logs instead of the bus (repeatable, counted separately)")
	cmd.Flags().BoolVar(&noTimestamps, "no-timestamps", false, "The log was written without timestamps")
	return cmd
}

// linkLossFromLogs writes one {count, num} summary line per downlink frame to
// out. Each log is a separate session and starts from a fresh count.
func linkLossFromLogs(paths []string, timestamps bool, out io.Writer) error {
	tracker := linkloss.NewTracker()
	enc := json.NewEncoder(out)
	for _, path := range paths {
		tracker.Reset()
		frames, err := linkLossFromLog(path, timestamps, tracker, enc)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"file":   path,
			"frames": frames,
			"lost":   tracker.Lost(),
		}).Info("Link loss total")
	}
	return nil
}

func linkLossFromLog(path string, timestamps bool, tracker *linkloss.Tracker, enc *json.Encoder) (int, error) {
	r, err := buslog.Open(path, timestamps)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	frames := 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, buslog.ErrTruncated) {
			log.WithField("file", path).Warn("Log ends with a partial record")
			break
		}
		if err != nil {
			return frames, err
		}

		msg, err := bus.ParseParts(rec.Parts)
		if err != nil {
			log.WithError(err).Debug("Skipping malformed record")
			continue
		}
		summary, res := tracker.Process(msg)
		if res != bus.Processed {
			continue
		}
		frames++
		if err := enc.Encode(summary); err != nil {
			return frames, fmt.Errorf("failed to write summary: %w", err)
		}
	}

	return frames, nil
}
