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
)

var (
	version = "1.0.0"
	cfgFile string
)

// publishLinger keeps the connection open long enough for one-shot messages
// to leave the socket.
const publishLinger = 200 * time.Millisecond

func main() {
	rootCmd := &cobra.Command{
		Use:     "gbus-tool",
		Short:   "Ground bus tool - test senders, link loss and log replay",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file path")
	rootCmd.PersistentFlags().String("bus-bscp", "", "Bus BSCP endpoint (env ITS_GBUS_BSCP_ENDPOINT)")
	rootCmd.PersistentFlags().String("bus-bpcs", "", "Bus BPCS endpoint (env ITS_GBUS_BPCS_ENDPOINT)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug|info|warn|error)")

	rootCmd.AddCommand(
		newPAPowerCmd(),
		newUplinkFramesCmd(),
		newUplinkSDUCmd(),
		newLinkLossCmd(),
		newReplayCmd(),
		newCaptureReplayCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig builds the configuration from defaults, the optional config
// file, the environment and the persistent flags, and sets up logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindViperFlags(v, cmd)

	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	config.SetupLogging(cfg.Logging)

	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindViperFlags(v *viper.Viper, cmd *cobra.Command) {
	for flag, key := range map[string]string{
		"bus-bscp":  "bus.bscp",
		"bus-bpcs":  "bus.bpcs",
		"log-level": "logging.level",
	} {
		if cmd.Flags().Changed(flag) {
			val, _ := cmd.Flags().GetString(flag)
			v.Set(key, val)
		}
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// publishOnce connects, sends msg and disconnects.
func publishOnce(ctx context.Context, cfg *config.Config, msg bus.Message) error {
	client, err := bus.Dial(ctx, cfg.Bus.BSCP, cfg.Bus.BPCS)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Publish(msg); err != nil {
		return err
	}
	time.Sleep(publishLinger)
	return nil
}
