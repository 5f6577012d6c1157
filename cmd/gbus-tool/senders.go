package main

import (
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"groundlink/internal/bus"
	"groundlink/internal/radio"
	"groundlink/internal/sender"
)

func newPAPowerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pa-power <dbm>",
		Short: "Request a PA power level (10, 14, 17, 20 or 22 dBm)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			power, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid pa power value %q: %w", args[0], err)
			}
			if err := sender.CheckPAPower(power); err != nil {
				return err
			}

			msg, err := radio.NewPAPowerRequest(power)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			log.WithField("pa_power", power).Info("Sending PA power request")
			return publishOnce(ctx, cfg, msg)
		},
	}
}

func newUplinkFramesCmd() *cobra.Command {
	var frameSize int

	cmd := &cobra.Command{
		Use:   "uplink-frames",
		Short: "Keep the radio uplink busy with a sequence of test frames",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			client, err := bus.Dial(ctx, cfg.Bus.BSCP, cfg.Bus.BPCS, bus.TopicUplinkState)
			if err != nil {
				return err
			}
			defer client.Close()

			seq := sender.NewSequencer(frameSize)
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg, ok := <-client.Messages():
					if !ok {
						return client.Err()
					}

					state, err := radio.DecodeUplinkState(msg)
					if err != nil {
						log.WithError(err).Warn("Skipping uplink state")
						continue
					}
					log.WithFields(log.Fields{
						"in_wait":     formatCookie(state.InWait),
						"in_progress": formatCookie(state.InProgress),
						"sent":        formatCookie(state.Sent),
						"dropped":     formatCookie(state.Dropped),
					}).Info("Uplink state")

					next, ok, err := seq.Step(state)
					if err != nil {
						return err
					}
					if !ok {
						continue
					}
					log.WithField("cookie", seq.Current()).Info("Sending uplink frame")
					if err := client.Publish(next); err != nil {
						return err
					}
				}
			}
		},
	}

	cmd.Flags().IntVar(&frameSize, "frame-size", sender.FrameSize, "Payload size of each frame")
	return cmd
}

func newUplinkSDUCmd() *cobra.Command {
	var (
		scID, vcID, mapID int
		channel           string
		qos               string
		sduCookie         uint64
	)

	cmd := &cobra.Command{
		Use:   "uplink-sdu",
		Short: "Send a test SDU request to the USLP stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			q, err := bus.ParseQoS(qos)
			if err != nil {
				return err
			}

			if channel == "" && !cmd.Flags().Changed("mapid") {
				return fmt.Errorf("either --channel or --mapid must be specified")
			}
			ch, err := sduChannel(channel, bus.ChannelID{SC: scID, VC: vcID, MAP: mapID})
			if err != nil {
				return err
			}
			log.WithFields(log.Fields{
				"channel": ch.String(),
				"qos":     q,
				"cookie":  sduCookie,
			}).Info("Sending uplink SDU request")

			msg, err := sender.SDURequest(ch, sduCookie, q, sender.TestSDU(sender.SDUSize))
			if err != nil {
				return err
			}
			log.WithField("payload", fmt.Sprintf("% x", msg.Payload)).Debug("SDU payload")

			ctx, cancel := signalContext()
			defer cancel()
			return publishOnce(ctx, cfg, msg)
		},
	}

	cmd.Flags().IntVar(&scID, "scid", 0x42, "Spacecraft id")
	cmd.Flags().IntVar(&vcID, "vcid", 0, "Virtual channel id")
	cmd.Flags().IntVar(&mapID, "mapid", 0, "MAP id")
	cmd.Flags().StringVar(&channel, "channel", "", "Channel as sc.vc.map (e.g. 0x42.0.1), overrides the id flags")
	cmd.Flags().StringVar(&qos, "qos", string(bus.QoSExpedited), "SDU qos (expedited|sequence_controlled)")
	cmd.Flags().Uint64Var(&sduCookie, "cookie", 0, "SDU cookie")
	return cmd
}

// sduChannel parses a sc.vc.map channel spec, falling back to ids.
func sduChannel(spec string, ids bus.ChannelID) (bus.ChannelID, error) {
	if spec == "" {
		return ids, nil
	}
	ch, err := bus.ChannelFromTopic(spec)
	if err != nil {
		return bus.ChannelID{}, fmt.Errorf("invalid --channel: %w", err)
	}
	return ch, nil
}

func formatCookie(c *uint64) string {
	if c == nil {
		return "none"
	}
	return strconv.FormatUint(*c, 10)
}
