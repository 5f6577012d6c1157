package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"groundlink/internal/bus"
	"groundlink/internal/config"
	"groundlink/internal/network"
	"groundlink/internal/radio"
)

var (
	version = "1.0.0"
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "radio-imitator",
		Short: "Radio imitator - half-duplex modem on top of the ground bus",
		Long: `Imitates the ground radio: datagrams arriving on the raw UDP link are published
as downlink frames, uplink frame requests from the bus are sent back over the
link one at a time, and RSSI, statistics and uplink state are reported periodically.`,
		Version: version,
		RunE:    run,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "Configuration file path")
	rootCmd.Flags().String("bus-bscp", "", "Bus BSCP endpoint (env ITS_GBUS_BSCP_ENDPOINT)")
	rootCmd.Flags().String("bus-bpcs", "", "Bus BPCS endpoint (env ITS_GBUS_BPCS_ENDPOINT)")
	rootCmd.Flags().String("uplink-bind", "", "Local host:port of the raw link")
	rootCmd.Flags().String("uplink-connect", "", "Peer host:port of the raw link")
	rootCmd.Flags().Bool("block-irssi", false, "Disable instant RSSI messages")
	rootCmd.Flags().Bool("block-stats", false, "Disable radio stats messages")
	rootCmd.Flags().String("uplink-policy", "", "What to do with a request while another waits (overwrite|reject)")
	rootCmd.Flags().Int("pa-power", 0, "Reported PA power in dBm")
	rootCmd.Flags().String("log-level", "", "Log level (debug|info|warn|error)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindViperFlags(v, cmd)

	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	config.SetupLogging(cfg.Logging)

	fmt.Printf("Radio Imitator v%s\n", version)
	fmt.Println("==============================")
	fmt.Print(cfg.RadioSummary())
	fmt.Println()

	if err := cfg.ValidateRadio(); err != nil {
		return err
	}
	policy, err := radio.ParsePolicy(cfg.Radio.UplinkPolicy)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	client, err := bus.Dial(ctx, cfg.Bus.BSCP, cfg.Bus.BPCS, bus.TopicUplinkFrame, bus.TopicPAPowerRequest)
	if err != nil {
		return err
	}
	defer client.Close()

	log.WithFields(log.Fields{
		"bind":    cfg.Radio.UplinkBind,
		"connect": cfg.Radio.UplinkConnect,
	}).Info("Opening raw link")
	link, err := network.NewUDPLink(cfg.Radio.UplinkBind, cfg.Radio.UplinkConnect)
	if err != nil {
		return err
	}
	defer link.Close()
	link.Start(ctx)
	log.WithFields(log.Fields{
		"local":  link.LocalAddr(),
		"remote": link.RemoteAddr(),
	}).Info("Raw link ready")

	sim := radio.New(client, link, radio.Options{
		Timing:           timing(cfg.Radio),
		BlockInstantRSSI: cfg.Radio.BlockIRSSI,
		BlockStats:       cfg.Radio.BlockStats,
		Policy:           policy,
		PAPower:          cfg.Radio.PAPower,
	})

	if err := sim.Run(ctx); err != nil {
		return fmt.Errorf("radio imitator failed: %w", err)
	}

	st := sim.Stats()
	log.WithFields(log.Fields{
		"rx_frames":  st.SrvRxFrames,
		"tx_frames":  st.SrvTxFrames,
		"hdr_errors": st.HdrErrors,
	}).Info("Got ctrl+c, breaking")
	return nil
}

func timing(rc config.RadioConfig) radio.Timing {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return radio.Timing{
		Poll:          ms(rc.PollMs),
		FrameRecv:     ms(rc.FrameRecvMs),
		FrameTransmit: ms(rc.FrameTransmitMs),
		Listen:        ms(rc.ListenMs),
		InstantRSSI:   ms(rc.InstantRSSIMs),
		Stats:         ms(rc.StatsMs),
		UplinkState:   ms(rc.UplinkStateMs),
	}
}

func bindViperFlags(v *viper.Viper, cmd *cobra.Command) {
	for flag, key := range map[string]string{
		"bus-bscp":       "bus.bscp",
		"bus-bpcs":       "bus.bpcs",
		"uplink-bind":    "radio.uplink_bind",
		"uplink-connect": "radio.uplink_connect",
		"uplink-policy":  "radio.uplink_policy",
		"log-level":      "logging.level",
	} {
		if cmd.Flags().Changed(flag) {
			val, _ := cmd.Flags().GetString(flag)
			v.Set(key, val)
		}
	}
	if cmd.Flags().Changed("block-irssi") {
		val, _ := cmd.Flags().GetBool("block-irssi")
		v.Set("radio.block_irssi", val)
	}
	if cmd.Flags().Changed("block-stats") {
		val, _ := cmd.Flags().GetBool("block-stats")
		v.Set("radio.block_stats", val)
	}
	if cmd.Flags().Changed("pa-power") {
		val, _ := cmd.Flags().GetInt("pa-power")
		v.Set("radio.pa_power", val)
	}
}
