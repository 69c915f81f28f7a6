package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "peerdrop"
	// DefaultListeningPort is the UDP port used in fixed mode when none is configured.
	DefaultListeningPort = 7777
	// DefaultAPIAddress is the loopback address of the local control API.
	DefaultAPIAddress = "127.0.0.1:7878"
	// DefaultFetchTimeout bounds one whole receive.
	DefaultFetchTimeout = 10 * time.Minute
	// DefaultDialTimeout bounds connecting to one peer address.
	DefaultDialTimeout = 15 * time.Second
	// PortModeAutomatic picks an available port at launch.
	PortModeAutomatic = "automatic"
	// PortModeFixed uses the configured listening port value.
	PortModeFixed = "fixed"

	configFileName = "config.json"
	dataDirEnv     = "PEERDROP_DATA_DIR"
)

// NodeConfig contains persistent node settings.
type NodeConfig struct {
	NodeName            string `json:"node_name"`
	InstallID           string `json:"install_id"`
	PortMode            string `json:"port_mode"`
	ListeningPort       int    `json:"listening_port"`
	ListenHost          string `json:"listen_host,omitempty"`
	DownloadDir         string `json:"download_dir"`
	APIAddress          string `json:"api_address"`
	MDNSEnabled         bool   `json:"mdns_enabled"`
	FetchTimeoutSeconds int    `json:"fetch_timeout_seconds"`
	DialTimeoutSeconds  int    `json:"dial_timeout_seconds"`
	LogLevel            string `json:"log_level"`
	LogFormat           string `json:"log_format"`
	KeyFingerprint      string `json:"key_fingerprint"`

	// DataDir is where the file was loaded from; never persisted.
	DataDir string `json:"-"`
}

// FetchTimeout returns the configured receive timeout.
func (c *NodeConfig) FetchTimeout() time.Duration {
	if c.FetchTimeoutSeconds <= 0 {
		return DefaultFetchTimeout
	}
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// DialTimeout returns the configured per-address dial timeout.
func (c *NodeConfig) DialTimeout() time.Duration {
	if c.DialTimeoutSeconds <= 0 {
		return DefaultDialTimeout
	}
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

// ListenAddress returns the UDP address the endpoint binds. An empty
// ListenHost binds every interface.
func (c *NodeConfig) ListenAddress() string {
	port := 0
	if c.PortMode == PortModeFixed && c.ListeningPort > 0 {
		port = c.ListeningPort
	}
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(port))
}

// KeysDir returns the identity key directory.
func (c *NodeConfig) KeysDir() string {
	return filepath.Join(c.DataDir, "keys")
}

// BlobsDir returns the content store directory.
func (c *NodeConfig) BlobsDir() string {
	return filepath.Join(c.DataDir, "blobs")
}

// ResolveDataDir returns the OS-aware app data directory.
//
// An explicit override wins, then PEERDROP_DATA_DIR.
func ResolveDataDir(override string) (string, error) {
	if override = strings.TrimSpace(override); override != "" {
		return override, nil
	}
	if env := os.Getenv(dataDirEnv); env != "" {
		return env, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_DATA_HOME")
		if base == "" {
			base = filepath.Join(home, ".local", "share")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates dataDir with its keys/ and blobs/ children.
func EnsureDataDirectories(dataDir string) error {
	for _, dir := range []string{dataDir, filepath.Join(dataDir, "keys"), filepath.Join(dataDir, "blobs")} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*NodeConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg NodeConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Save writes cfg as indented JSON, replacing the file atomically.
func Save(path string, cfg *NodeConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// LoadOrCreate ensures directories and config exist under dataDir, then returns both.
func LoadOrCreate(dataDir string) (*NodeConfig, string, error) {
	if dataDir == "" {
		return nil, "", errors.New("data directory is required")
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
		cfg.DataDir = dataDir
		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}
	cfg.DataDir = dataDir
	return cfg, cfgPath, nil
}

func defaultConfig(dataDir string) *NodeConfig {
	cfg := &NodeConfig{MDNSEnabled: true}
	normalizeDefaults(cfg, dataDir)
	return cfg
}

func defaultNodeName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "peerdrop node"
}

func defaultDownloadDir(dataDir string) string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, "Downloads")
	}
	return filepath.Join(dataDir, "downloads")
}

func normalizeDefaults(cfg *NodeConfig, dataDir string) bool {
	updated := false

	if cfg.InstallID == "" {
		cfg.InstallID = uuid.NewString()
		updated = true
	}
	if cfg.NodeName == "" {
		cfg.NodeName = defaultNodeName()
		updated = true
	}

	mode := normalizePortMode(cfg.PortMode)
	if mode == "" {
		if cfg.ListeningPort > 0 {
			mode = PortModeFixed
		} else {
			mode = PortModeAutomatic
		}
	}
	if cfg.PortMode != mode {
		cfg.PortMode = mode
		updated = true
	}
	if cfg.PortMode == PortModeFixed && cfg.ListeningPort == 0 {
		cfg.ListeningPort = DefaultListeningPort
		updated = true
	}
	if cfg.PortMode == PortModeAutomatic && cfg.ListeningPort < 0 {
		cfg.ListeningPort = 0
		updated = true
	}

	if cfg.DownloadDir == "" {
		cfg.DownloadDir = defaultDownloadDir(dataDir)
		updated = true
	}
	if cfg.APIAddress == "" {
		cfg.APIAddress = DefaultAPIAddress
		updated = true
	}
	if cfg.FetchTimeoutSeconds <= 0 {
		cfg.FetchTimeoutSeconds = int(DefaultFetchTimeout / time.Second)
		updated = true
	}
	if cfg.DialTimeoutSeconds <= 0 {
		cfg.DialTimeoutSeconds = int(DefaultDialTimeout / time.Second)
		updated = true
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
		updated = true
	}

	return updated
}

func normalizePortMode(mode string) string {
	switch mode {
	case PortModeAutomatic:
		return PortModeAutomatic
	case PortModeFixed:
		return PortModeFixed
	default:
		return ""
	}
}
