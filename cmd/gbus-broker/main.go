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

	"groundlink/internal/broker"
	"groundlink/internal/buslog"
	"groundlink/internal/config"
	"groundlink/internal/stats"
)

var (
	version = "1.0.0"
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gbus-broker",
		Short: "Ground bus broker - relay and log all bus traffic",
		Long: `Binds the publishers' (BSCP) and subscribers' (BPCS) endpoints of the ground
bus, relays every message between them unmodified and appends it to a log file.`,
		Version: version,
		RunE:    run,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "Configuration file path")
	rootCmd.Flags().String("sub-bind", "", "Endpoint publishers connect to (env ITS_GBUS_BSCP_ENDPOINT)")
	rootCmd.Flags().String("pub-bind", "", "Endpoint subscribers connect to (env ITS_GBUS_BPCS_ENDPOINT)")
	rootCmd.Flags().Bool("no-log", false, "Do not create a log file")
	rootCmd.Flags().String("log-dir", "", "Directory for the traffic log")
	rootCmd.Flags().Bool("no-timestamps", false, "Do not prefix log records with a timestamp")
	rootCmd.Flags().Int("flush-interval", 0, "Log flush interval in ms")
	rootCmd.Flags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.Flags().String("stats-export", "", "Write relay statistics to this JSON file on exit")

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
	cfg.Broker.SubBind = broker.BindAddress(cfg.Broker.SubBind)
	cfg.Broker.PubBind = broker.BindAddress(cfg.Broker.PubBind)

	config.SetupLogging(cfg.Logging)

	fmt.Printf("Ground Bus Broker v%s\n", version)
	fmt.Println("==============================")
	fmt.Print(cfg.BrokerSummary())
	fmt.Println()

	if err := cfg.ValidateBroker(); err != nil {
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

	var logw broker.LogWriter
	var logFile *buslog.Writer
	if cfg.Broker.LogEnabled {
		w, err := buslog.Create(cfg.Broker.LogDir, cfg.Broker.Timestamps)
		if err != nil {
			return err
		}
		log.WithField("file", w.Path()).Info("Using log file")
		logw, logFile = w, w
	} else {
		log.Warn("LOG FILE IS DISABLED BY CONFIG")
	}

	sockets, err := broker.Listen(ctx, cfg.Broker.SubBind, cfg.Broker.PubBind)
	if err != nil {
		if logw != nil {
			logw.Close()
		}
		return err
	}
	defer sockets.Close()

	collector := stats.NewCollector()
	reporter := stats.NewReporter(collector, cfg.Stats.ReportIntervalSec, cfg.Stats.ExportFile)
	if cfg.Stats.Enabled {
		reporter.StartPeriodicReport(ctx)
	}

	b := broker.New(sockets, sockets, logw, collector, time.Duration(cfg.Broker.FlushIntervalMs)*time.Millisecond)
	runErr := b.Run(ctx)

	if cfg.Stats.Enabled {
		reporter.PrintFinalReport()
		if err := reporter.ExportJSON(); err != nil {
			log.WithError(err).Warn("Failed to export statistics")
		}
	}

	if logFile != nil {
		records, written := logFile.Written()
		log.WithFields(log.Fields{
			"file":    logFile.Path(),
			"records": records,
			"bytes":   written,
		}).Info("Log file closed")
	}

	if runErr != nil {
		return runErr
	}
	log.Info("Shutting down")
	return nil
}

func bindViperFlags(v *viper.Viper, cmd *cobra.Command) {
	if cmd.Flags().Changed("sub-bind") {
		val, _ := cmd.Flags().GetString("sub-bind")
		v.Set("broker.sub_bind", val)
	}
	if cmd.Flags().Changed("pub-bind") {
		val, _ := cmd.Flags().GetString("pub-bind")
		v.Set("broker.pub_bind", val)
	}
	if cmd.Flags().Changed("no-log") {
		val, _ := cmd.Flags().GetBool("no-log")
		v.Set("broker.log_enabled", !val)
	}
	if cmd.Flags().Changed("log-dir") {
		val, _ := cmd.Flags().GetString("log-dir")
		v.Set("broker.log_dir", val)
	}
	if cmd.Flags().Changed("no-timestamps") {
		val, _ := cmd.Flags().GetBool("no-timestamps")
		v.Set("broker.timestamps", !val)
	}
	if cmd.Flags().Changed("flush-interval") {
		val, _ := cmd.Flags().GetInt("flush-interval")
		v.Set("broker.flush_interval_ms", val)
	}
	if cmd.Flags().Changed("log-level") {
		val, _ := cmd.Flags().GetString("log-level")
		v.Set("logging.level", val)
	}
	if cmd.Flags().Changed("stats-export") {
		val, _ := cmd.Flags().GetString("stats-export")
		v.Set("stats.export_file", val)
	}
}
