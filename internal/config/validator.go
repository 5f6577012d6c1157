package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ValidateBroker checks the settings the broker needs.
func (c *Config) ValidateBroker() error {
	var errs []string

	errs = append(errs, checkEndpoint("broker.sub_bind", c.Broker.SubBind)...)
	errs = append(errs, checkEndpoint("broker.pub_bind", c.Broker.PubBind)...)

	if c.Broker.SubBind != "" && c.Broker.SubBind == c.Broker.PubBind {
		errs = append(errs, fmt.Sprintf("broker.sub_bind and broker.pub_bind must differ, both are %q", c.Broker.SubBind))
	}

	if c.Broker.LogEnabled {
		if c.Broker.LogDir == "" {
			errs = append(errs, "broker.log_dir must be specified when logging is enabled")
		}
		if c.Broker.FlushIntervalMs <= 0 {
			errs = append(errs, "broker.flush_interval_ms must be > 0")
		}
	}

	errs = append(errs, c.checkLogging()...)
	return joinErrors(errs)
}

// ValidateRadio checks the settings the radio imitator needs.
func (c *Config) ValidateRadio() error {
	var errs []string

	errs = append(errs, c.checkBus()...)

	if c.Radio.UplinkConnect == "" {
		errs = append(errs, "radio.uplink_connect must be specified")
	} else {
		errs = append(errs, checkHostPort("radio.uplink_connect", c.Radio.UplinkConnect)...)
	}
	if c.Radio.UplinkBind != "" {
		errs = append(errs, checkHostPort("radio.uplink_bind", c.Radio.UplinkBind)...)
	}

	if c.Radio.UplinkPolicy != "overwrite" && c.Radio.UplinkPolicy != "reject" {
		errs = append(errs, fmt.Sprintf("radio.uplink_policy must be 'overwrite' or 'reject', got %q", c.Radio.UplinkPolicy))
	}

	if c.Radio.PollMs <= 0 {
		errs = append(errs, "radio.poll_ms must be > 0")
	}
	for _, d := range []struct {
		key string
		ms  int
	}{
		{"radio.frame_recv_ms", c.Radio.FrameRecvMs},
		{"radio.frame_transmit_ms", c.Radio.FrameTransmitMs},
		{"radio.listen_ms", c.Radio.ListenMs},
		{"radio.instant_rssi_ms", c.Radio.InstantRSSIMs},
		{"radio.stats_ms", c.Radio.StatsMs},
		{"radio.uplink_state_ms", c.Radio.UplinkStateMs},
	} {
		if d.ms < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0, got %d", d.key, d.ms))
		}
	}

	errs = append(errs, c.checkLogging()...)
	return joinErrors(errs)
}

// ValidateClient checks the settings of a plain bus client.
func (c *Config) ValidateClient() error {
	errs := c.checkBus()
	errs = append(errs, c.checkLogging()...)
	return joinErrors(errs)
}

func (c *Config) checkBus() []string {
	var errs []string
	errs = append(errs, checkEndpoint("bus.bscp", c.Bus.BSCP)...)
	errs = append(errs, checkEndpoint("bus.bpcs", c.Bus.BPCS)...)
	return errs
}

func (c *Config) checkLogging() []string {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return []string{fmt.Sprintf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)}
	}
	return nil
}

func checkEndpoint(key, endpoint string) []string {
	if endpoint == "" {
		return []string{fmt.Sprintf("%s must be specified", key)}
	}
	scheme, addr, ok := strings.Cut(endpoint, "://")
	if !ok || addr == "" {
		return []string{fmt.Sprintf("%s must look like transport://address, got %q", key, endpoint)}
	}
	if scheme == "tcp" {
		return checkHostPort(key, addr)
	}
	return nil
}

func checkHostPort(key, addr string) []string {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return []string{fmt.Sprintf("%s must be host:port, got %q", key, addr)}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return []string{fmt.Sprintf("%s port must be between 1 and 65535, got %q", key, portStr)}
	}
	return nil
}

func joinErrors(errs []string) error {
	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
