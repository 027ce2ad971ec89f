package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/haefele/remoteviewer/internal/logging"
)

var log = logging.L("config")

// fs backs every file operation in this package. Tests swap it for an
// afero.NewMemMapFs() so config loading and saving can be exercised
// without touching the real filesystem or configDir()'s platform paths.
var fs = afero.NewOsFs()

// Config holds settings shared by the presenter, viewer, and relay
// entrypoints. Each binary only reads the fields relevant to its role;
// unused fields are harmless zero values.
type Config struct {
	// Transport / identity
	RelayURL  string `mapstructure:"relay_url"`
	AuthToken string `mapstructure:"auth_token"`
	ClientID  string `mapstructure:"client_id"`

	// Capture pacing (presenter)
	TargetFPS          int `mapstructure:"target_fps"`
	MinFPS             int `mapstructure:"min_fps"`
	MaxFPS             int `mapstructure:"max_fps"`
	JPEGQuality        int `mapstructure:"jpeg_quality"`
	KeyframeIntervalMs int `mapstructure:"keyframe_interval_ms"`
	MonitorTickMs      int `mapstructure:"monitor_tick_ms"`

	// Recorder IPC (presenter): screen capture runs in a separate,
	// per-user-session helper process reached over a local socket,
	// since capture APIs on every supported platform require running
	// in the interactive desktop session rather than a background
	// service account.
	RecorderAddr          string `mapstructure:"recorder_addr"`
	RecorderSessionKeyHex string `mapstructure:"recorder_session_key_hex"`

	// Tiered buffer pool (presenter)
	PoolBucketSizesKiB  []int `mapstructure:"pool_bucket_sizes_kib"`
	PoolBucketCaps      []int `mapstructure:"pool_bucket_caps"`
	PoolHugeCap         int   `mapstructure:"pool_huge_cap"`
	PoolLOHThresholdKiB int   `mapstructure:"pool_loh_threshold_kib"`

	// Relay service
	RelayListenAddr        string `mapstructure:"relay_listen_addr"`
	SessionNonceTTLSeconds int    `mapstructure:"session_nonce_ttl_seconds"`

	// Logging
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

// Default returns a Config pre-populated with sane defaults for every field.
func Default() *Config {
	return &Config{
		TargetFPS:          30,
		MinFPS:             1,
		MaxFPS:             120,
		JPEGQuality:        75,
		KeyframeIntervalMs: 1000,
		MonitorTickMs:      100,

		PoolBucketSizesKiB:  []int{128, 512, 2048, 8192},
		PoolBucketCaps:      []int{16, 8, 8, 4},
		PoolHugeCap:         3,
		PoolLOHThresholdKiB: 85,

		RelayListenAddr:        ":8443",
		SessionNonceTTLSeconds: 120,

		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,
	}
}

// Load reads configuration from cfgFile (or the platform default search
// path when empty), overlays environment variables prefixed REMOTEVIEWER_,
// and returns the merged, validated Config. Fatal validation errors abort
// startup; warnings are logged and the offending field is clamped.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetFs(fs)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("remoteviewer")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("REMOTEVIEWER")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	result := cfg.Validate()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if len(result.Fatals) > 0 {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %w", result.Fatals[0])
	}

	return cfg, nil
}

// Save writes cfg to the platform default config path.
func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

// SaveTo writes cfg as YAML to cfgFile, or the platform default path when empty.
func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	v.SetFs(fs)
	v.Set("relay_url", cfg.RelayURL)
	v.Set("auth_token", cfg.AuthToken)
	v.Set("client_id", cfg.ClientID)
	v.Set("target_fps", cfg.TargetFPS)
	v.Set("jpeg_quality", cfg.JPEGQuality)
	v.Set("log_level", cfg.LogLevel)
	v.Set("log_format", cfg.LogFormat)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		if dir := filepath.Dir(cfgPath); dir != "." {
			if err := fs.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "remoteviewer.yaml")
		if err := fs.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := v.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	// Restrict config file to owner-only access (contains auth token)
	return fs.Chmod(cfgPath, 0600)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "RemoteViewer")
	case "darwin":
		return "/Library/Application Support/RemoteViewer"
	default:
		return "/etc/remoteviewer"
	}
}
