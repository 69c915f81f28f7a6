package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	tempDir := t.TempDir()

	firstCfg, firstPath, err := LoadOrCreate(tempDir)
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}
	if firstCfg.InstallID == "" {
		t.Fatalf("expected non-empty install ID")
	}
	if firstCfg.PortMode != PortModeAutomatic {
		t.Fatalf("expected default port mode %q, got %q", PortModeAutomatic, firstCfg.PortMode)
	}
	if firstCfg.ListenAddress() != ":0" {
		t.Fatalf("expected automatic listen address, got %q", firstCfg.ListenAddress())
	}
	if firstCfg.FetchTimeout() != DefaultFetchTimeout {
		t.Fatalf("expected default fetch timeout, got %s", firstCfg.FetchTimeout())
	}

	expectedConfigPath := filepath.Join(tempDir, "config.json")
	if firstPath != expectedConfigPath {
		t.Fatalf("expected config path %q, got %q", expectedConfigPath, firstPath)
	}

	secondCfg, secondPath, err := LoadOrCreate(tempDir)
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if secondPath != firstPath {
		t.Fatalf("expected config path to be stable, got %q then %q", firstPath, secondPath)
	}
	if secondCfg.InstallID != firstCfg.InstallID {
		t.Fatalf("expected stable install ID, got %q then %q", firstCfg.InstallID, secondCfg.InstallID)
	}
	if secondCfg.DataDir != tempDir {
		t.Fatalf("expected data dir %q, got %q", tempDir, secondCfg.DataDir)
	}
}

func TestLoadOrCreateNormalizesPortModeFromExistingPort(t *testing.T) {
	tempDir := t.TempDir()
	if err := EnsureDataDirectories(tempDir); err != nil {
		t.Fatalf("EnsureDataDirectories failed: %v", err)
	}

	legacy := &NodeConfig{
		InstallID:     "legacy-install",
		NodeName:      "Legacy",
		ListeningPort: 9999,
	}
	if err := Save(ConfigPath(tempDir), legacy); err != nil {
		t.Fatalf("Save legacy config failed: %v", err)
	}

	cfg, _, err := LoadOrCreate(tempDir)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.PortMode != PortModeFixed {
		t.Fatalf("expected config to normalize to fixed mode, got %q", cfg.PortMode)
	}
	if cfg.ListenAddress() != ":9999" {
		t.Fatalf("expected fixed listen address, got %q", cfg.ListenAddress())
	}
	if cfg.InstallID != "legacy-install" {
		t.Fatalf("expected install ID to be retained, got %q", cfg.InstallID)
	}
}

func TestResolveDataDirPrefersOverrideThenEnv(t *testing.T) {
	t.Setenv("PEERDROP_DATA_DIR", "/from/env")

	dir, err := ResolveDataDir("  /explicit ")
	if err != nil {
		t.Fatalf("ResolveDataDir failed: %v", err)
	}
	if dir != "/explicit" {
		t.Fatalf("expected explicit override, got %q", dir)
	}

	dir, err = ResolveDataDir("")
	if err != nil {
		t.Fatalf("ResolveDataDir failed: %v", err)
	}
	if dir != "/from/env" {
		t.Fatalf("expected env data dir, got %q", dir)
	}
}

func TestEnvOverridesApply(t *testing.T) {
	t.Setenv("PEERDROP_LISTEN_PORT", "4242")
	t.Setenv("PEERDROP_MDNS", "true")
	t.Setenv("PEERDROP_FETCH_TIMEOUT", "90s")
	t.Setenv("PEERDROP_LOG_LEVEL", "debug")

	env, err := ReadEnv()
	if err != nil {
		t.Fatalf("ReadEnv failed: %v", err)
	}

	cfg := defaultConfig(t.TempDir())
	if err := env.Apply(cfg); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if cfg.PortMode != PortModeFixed || cfg.ListeningPort != 4242 {
		t.Fatalf("expected fixed port 4242, got %q %d", cfg.PortMode, cfg.ListeningPort)
	}
	if !cfg.MDNSEnabled {
		t.Fatalf("expected mdns to be enabled")
	}
	if cfg.FetchTimeout() != 90*time.Second {
		t.Fatalf("expected 90s fetch timeout, got %s", cfg.FetchTimeout())
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected debug log level, got %q", cfg.LogLevel)
	}
}

func TestEnvOverridesRejectBadBool(t *testing.T) {
	cfg := defaultConfig(t.TempDir())
	if err := (EnvOverrides{MDNS: "sometimes"}).Apply(cfg); err == nil {
		t.Fatalf("expected invalid PEERDROP_MDNS to fail")
	}
}

func TestEnvOverridesTimeoutGranularity(t *testing.T) {
	cfg := defaultConfig(t.TempDir())
	if err := (EnvOverrides{FetchTimeout: 500 * time.Millisecond}).Apply(cfg); err == nil {
		t.Fatalf("expected sub-second PEERDROP_FETCH_TIMEOUT to fail")
	}
	if err := (EnvOverrides{DialTimeout: -time.Second}).Apply(cfg); err == nil {
		t.Fatalf("expected negative PEERDROP_DIAL_TIMEOUT to fail")
	}

	cfg = defaultConfig(t.TempDir())
	if err := (EnvOverrides{FetchTimeout: 2 * time.Second, DialTimeout: 1500 * time.Millisecond}).Apply(cfg); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if cfg.FetchTimeoutSeconds != 2 {
		t.Fatalf("expected 2s fetch timeout, got %d", cfg.FetchTimeoutSeconds)
	}
	if cfg.DialTimeoutSeconds != 2 {
		t.Fatalf("expected 1.5s dial timeout to round up to 2, got %d", cfg.DialTimeoutSeconds)
	}
}

func TestLoadDotEnvIgnoresMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("expected missing .env to be ignored, got %v", err)
	}
}

func TestListenAddressUsesHost(t *testing.T) {
	cfg := &NodeConfig{ListenHost: "127.0.0.1", PortMode: PortModeFixed, ListeningPort: 7777}
	if got := cfg.ListenAddress(); got != "127.0.0.1:7777" {
		t.Fatalf("expected host-bound listen address, got %q", got)
	}
	cfg.ListenHost = "::1"
	cfg.PortMode = PortModeAutomatic
	if got := cfg.ListenAddress(); got != "[::1]:0" {
		t.Fatalf("expected bracketed IPv6 listen address, got %q", got)
	}
}

func TestNewConfigEnablesMDNS(t *testing.T) {
	cfg, _, err := LoadOrCreate(t.TempDir())
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !cfg.MDNSEnabled {
		t.Fatalf("expected mDNS enabled on a fresh config")
	}
}
