package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"groundlink/internal/bus"
)

// Config holds the configuration shared by the bus tools.
type Config struct {
	Bus     BusConfig     `yaml:"bus"     mapstructure:"bus"`
	Broker  BrokerConfig  `yaml:"broker"  mapstructure:"broker"`
	Radio   RadioConfig   `yaml:"radio"   mapstructure:"radio"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Stats   StatsConfig   `yaml:"stats"   mapstructure:"stats"`
}

// BusConfig are the endpoints a bus client connects to.
type BusConfig struct {
	BSCP string `yaml:"bscp" mapstructure:"bscp"`
	BPCS string `yaml:"bpcs" mapstructure:"bpcs"`
}

type BrokerConfig struct {
	SubBind         string `yaml:"sub_bind"          mapstructure:"sub_bind"`
	PubBind         string `yaml:"pub_bind"          mapstructure:"pub_bind"`
	LogEnabled      bool   `yaml:"log_enabled"       mapstructure:"log_enabled"`
	LogDir          string `yaml:"log_dir"           mapstructure:"log_dir"`
	Timestamps      bool   `yaml:"timestamps"        mapstructure:"timestamps"`
	FlushIntervalMs int    `yaml:"flush_interval_ms" mapstructure:"flush_interval_ms"`
}

type RadioConfig struct {
	UplinkBind    string `yaml:"uplink_bind"    mapstructure:"uplink_bind"`
	UplinkConnect string `yaml:"uplink_connect" mapstructure:"uplink_connect"`
	BlockIRSSI    bool   `yaml:"block_irssi"    mapstructure:"block_irssi"`
	BlockStats    bool   `yaml:"block_stats"    mapstructure:"block_stats"`
	UplinkPolicy  string `yaml:"uplink_policy"  mapstructure:"uplink_policy"`
	PAPower       int    `yaml:"pa_power"       mapstructure:"pa_power"`

	PollMs          int `yaml:"poll_ms"           mapstructure:"poll_ms"`
	FrameRecvMs     int `yaml:"frame_recv_ms"     mapstructure:"frame_recv_ms"`
	FrameTransmitMs int `yaml:"frame_transmit_ms" mapstructure:"frame_transmit_ms"`
	ListenMs        int `yaml:"listen_ms"         mapstructure:"listen_ms"`
	InstantRSSIMs   int `yaml:"instant_rssi_ms"   mapstructure:"instant_rssi_ms"`
	StatsMs         int `yaml:"stats_ms"          mapstructure:"stats_ms"`
	UplinkStateMs   int `yaml:"uplink_state_ms"   mapstructure:"uplink_state_ms"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"   mapstructure:"level"`
	File    string `yaml:"file"    mapstructure:"file"`
	Console bool   `yaml:"console" mapstructure:"console"`
}

type StatsConfig struct {
	Enabled           bool   `yaml:"enabled"             mapstructure:"enabled"`
	ReportIntervalSec int    `yaml:"report_interval_sec" mapstructure:"report_interval_sec"`
	ExportFile        string `yaml:"export_file"         mapstructure:"export_file"`
}

// SetDefaults configures default values and the environment bindings.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("bus.bscp", "tcp://localhost:7777")
	v.SetDefault("bus.bpcs", "tcp://localhost:7778")
	_ = v.BindEnv("bus.bscp", bus.EnvBSCPEndpoint)
	_ = v.BindEnv("bus.bpcs", bus.EnvBPCSEndpoint)

	v.SetDefault("broker.sub_bind", "tcp://0.0.0.0:7777")
	v.SetDefault("broker.pub_bind", "tcp://0.0.0.0:7778")
	_ = v.BindEnv("broker.sub_bind", bus.EnvBSCPEndpoint)
	_ = v.BindEnv("broker.pub_bind", bus.EnvBPCSEndpoint)
	v.SetDefault("broker.log_enabled", true)
	v.SetDefault("broker.log_dir", ".")
	v.SetDefault("broker.timestamps", true)
	v.SetDefault("broker.flush_interval_ms", 1000)

	v.SetDefault("radio.uplink_policy", "overwrite")
	v.SetDefault("radio.pa_power", 22)
	v.SetDefault("radio.poll_ms", 1)
	v.SetDefault("radio.frame_recv_ms", 200)
	v.SetDefault("radio.frame_transmit_ms", 400)
	v.SetDefault("radio.listen_ms", 5000)
	v.SetDefault("radio.instant_rssi_ms", 100)
	v.SetDefault("radio.stats_ms", 1000)
	v.SetDefault("radio.uplink_state_ms", 1000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("stats.enabled", true)
	v.SetDefault("stats.report_interval_sec", 10)
}

// Load reads configuration from a YAML file and returns a Config.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper reads configuration using an existing viper instance (for CLI flag binding).
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// BrokerSummary returns a human-readable summary of the broker configuration.
func (c *Config) BrokerSummary() string {
	var sb strings.Builder
	sb.WriteString("Configuration:\n")
	sb.WriteString(fmt.Sprintf("  Sub bind:      %s\n", c.Broker.SubBind))
	sb.WriteString(fmt.Sprintf("  Pub bind:      %s\n", c.Broker.PubBind))
	if c.Broker.LogEnabled {
		sb.WriteString(fmt.Sprintf("  Log dir:       %s (timestamps=%v)\n", c.Broker.LogDir, c.Broker.Timestamps))
		sb.WriteString(fmt.Sprintf("  Flush:         %dms\n", c.Broker.FlushIntervalMs))
	} else {
		sb.WriteString("  Log:           disabled\n")
	}
	return sb.String()
}

// RadioSummary returns a human-readable summary of the imitator configuration.
func (c *Config) RadioSummary() string {
	var sb strings.Builder
	sb.WriteString("Configuration:\n")
	sb.WriteString(fmt.Sprintf("  Bus:           %s -> %s\n", c.Bus.BSCP, c.Bus.BPCS))
	sb.WriteString(fmt.Sprintf("  Uplink:        %s -> %s\n", c.Radio.UplinkBind, c.Radio.UplinkConnect))
	sb.WriteString(fmt.Sprintf("  Policy:        %s\n", c.Radio.UplinkPolicy))
	sb.WriteString(fmt.Sprintf("  PA power:      %d dBm\n", c.Radio.PAPower))
	sb.WriteString(fmt.Sprintf("  Listen:        %dms (slot %dms, transmit %dms)\n",
		c.Radio.ListenMs, c.Radio.FrameRecvMs, c.Radio.FrameTransmitMs))
	sb.WriteString(fmt.Sprintf("  Block:         irssi=%v stats=%v\n", c.Radio.BlockIRSSI, c.Radio.BlockStats))
	return sb.String()
}
