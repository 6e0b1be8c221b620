package main

import (
	"errors"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

//---------------- Configuration ----------------

// Config holds the init-time tunables. Everything has a default; a YAML
// file and INKDECK_* environment variables may override.
type Config struct {
	// pipeline
	QueueCapacity     int    `koanf:"queue_capacity"`
	BatchWindowMs     uint32 `koanf:"batch_window_ms"`
	LoopTickMs        int    `koanf:"loop_tick_ms"`
	NavStackDepth     int    `koanf:"nav_stack_depth"`
	NavDebounceMs     uint32 `koanf:"nav_debounce_ms"`
	MaxPartialUpdates uint32 `koanf:"max_partial_updates"`
	FullRefreshIntMs  uint32 `koanf:"full_refresh_interval_ms"`

	// peripherals
	InputDeviceName string `koanf:"input_device_name"`
	Headless        bool   `koanf:"headless"`

	// services
	HTTPAddr           string `koanf:"http_addr"`
	BridgeHost         string `koanf:"bridge_host"`
	ThermostatHost     string `koanf:"thermostat_host"`
	CollectIntervalSec int    `koanf:"collect_interval_sec"`

	LogLevel string `koanf:"log_level"`
}

func defaultConfig() *Config {
	return &Config{
		QueueCapacity:      16,
		BatchWindowMs:      50,
		LoopTickMs:         10,
		NavStackDepth:      16,
		NavDebounceMs:      250,
		MaxPartialUpdates:  30,
		FullRefreshIntMs:   150000,
		InputDeviceName:    "8BitDo Micro gamepad",
		HTTPAddr:           ":8089",
		CollectIntervalSec: 10,
		LogLevel:           "info",
	}
}

// loadConfig layers defaults, an optional YAML file, and INKDECK_* env
// vars, lowest to highest precedence.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	envProvider := env.Provider("INKDECK_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "inkdeck_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if cfg.QueueCapacity <= 0 {
		return nil, errors.New("queue_capacity must be positive")
	}
	if cfg.LoopTickMs <= 0 {
		return nil, errors.New("loop_tick_ms must be positive")
	}
	if cfg.NavStackDepth < 2 {
		return nil, errors.New("nav_stack_depth must be at least 2")
	}
	return cfg, nil
}
