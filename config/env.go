package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "peerdrop"

// EnvOverrides are process-level overrides read from PEERDROP_* variables.
// They apply on top of config.json and are never written back.
type EnvOverrides struct {
	ListenPort   int           `envconfig:"LISTEN_PORT"`
	DownloadDir  string        `envconfig:"DOWNLOAD_DIR"`
	APIAddress   string        `envconfig:"API_ADDR"`
	MDNS         string        `envconfig:"MDNS"`
	LogLevel     string        `envconfig:"LOG_LEVEL"`
	LogFormat    string        `envconfig:"LOG_FORMAT"`
	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT"`
}

// LoadDotEnv loads .env files into the process environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// ReadEnv parses PEERDROP_* overrides from the environment.
func ReadEnv() (EnvOverrides, error) {
	var env EnvOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return EnvOverrides{}, fmt.Errorf("read environment overrides: %w", err)
	}
	return env, nil
}

// Apply merges non-zero overrides into cfg.
func (e EnvOverrides) Apply(cfg *NodeConfig) error {
	if e.ListenPort > 0 {
		cfg.PortMode = PortModeFixed
		cfg.ListeningPort = e.ListenPort
	}
	if e.DownloadDir != "" {
		cfg.DownloadDir = e.DownloadDir
	}
	if e.APIAddress != "" {
		cfg.APIAddress = e.APIAddress
	}
	if e.MDNS != "" {
		enabled, err := strconv.ParseBool(e.MDNS)
		if err != nil {
			return fmt.Errorf("parse PEERDROP_MDNS: %w", err)
		}
		cfg.MDNSEnabled = enabled
	}
	if e.LogLevel != "" {
		cfg.LogLevel = e.LogLevel
	}
	if e.LogFormat != "" {
		cfg.LogFormat = e.LogFormat
	}
	if e.FetchTimeout != 0 {
		seconds, err := wholeSeconds("PEERDROP_FETCH_TIMEOUT", e.FetchTimeout)
		if err != nil {
			return err
		}
		cfg.FetchTimeoutSeconds = seconds
	}
	if e.DialTimeout != 0 {
		seconds, err := wholeSeconds("PEERDROP_DIAL_TIMEOUT", e.DialTimeout)
		if err != nil {
			return err
		}
		cfg.DialTimeoutSeconds = seconds
	}
	return nil
}

// wholeSeconds converts d to the config's second granularity, rounding
// fractions up. Durations under one second are rejected.
func wholeSeconds(name string, d time.Duration) (int, error) {
	if d < time.Second {
		return 0, fmt.Errorf("%s must be at least 1s, got %s", name, d)
	}
	return int((d + time.Second - 1) / time.Second), nil
}
