// Package config loads the tracker configuration from dxx-tracker.yml (or
// .toml) plus DXX_-prefixed environment variables. A missing config file is
// not an error; every field has a workable default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	// UDPPort is the single socket the tracker protocol runs on.
	UDPPort int `mapstructure:"udpPort"`
	// HTTPPort serves the JSON read API; WSPort the websocket feed.
	HTTPPort int `mapstructure:"httpPort"`
	WSPort   int `mapstructure:"wsPort"`

	// LocalPlayer binds "You" lines in the locally watched gamelog.
	LocalPlayer string `mapstructure:"localPlayer"`
	// GamelogDirs overrides the platform-default DXX directories to watch.
	GamelogDirs []string `mapstructure:"gamelogDirs"`
	// SnapshotPath is where the JSON state snapshot is written; empty
	// disables snapshotting.
	SnapshotPath string `mapstructure:"snapshotPath"`

	Logging LoggingConfig `mapstructure:"logging"`
}

func defaults() *Config {
	return &Config{
		UDPPort:      9999,
		HTTPPort:     9998,
		WSPort:       8081,
		SnapshotPath: "tracker_state.json",
		Logging:      LoggingConfig{Level: "info"},
	}
}

// Load reads dxx-tracker.yml/.toml from the working directory, after
// loading a .env file if one exists. Environment variables use the DXX_
// prefix, e.g. DXX_UDPPORT or DXX_LOCALPLAYER.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("dxx-tracker")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvPrefix("DXX")

	cfg := defaults()
	v.SetDefault("udpPort", cfg.UDPPort)
	v.SetDefault("httpPort", cfg.HTTPPort)
	v.SetDefault("wsPort", cfg.WSPort)
	v.SetDefault("snapshotPath", cfg.SnapshotPath)
	v.SetDefault("logging.level", cfg.Logging.Level)

	v.SetConfigType("yml")
	if err := v.ReadInConfig(); err != nil {
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			// No config file; defaults plus environment are enough.
			applyEnv(v, cfg)
			return cfg, cfg.Validate()
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyEnv(v, cfg)
	return cfg, cfg.Validate()
}

// applyEnv picks up the scalar keys viper's AutomaticEnv covers; Unmarshal
// alone does not consult the environment for keys absent from the file.
func applyEnv(v *viper.Viper, cfg *Config) {
	if v.IsSet("udpPort") {
		cfg.UDPPort = v.GetInt("udpPort")
	}
	if v.IsSet("httpPort") {
		cfg.HTTPPort = v.GetInt("httpPort")
	}
	if v.IsSet("wsPort") {
		cfg.WSPort = v.GetInt("wsPort")
	}
	if v.IsSet("localPlayer") {
		cfg.LocalPlayer = v.GetString("localPlayer")
	}
	if v.IsSet("snapshotPath") {
		cfg.SnapshotPath = v.GetString("snapshotPath")
	}
}

// Validate rejects port collisions and out-of-range values.
func (c *Config) Validate() error {
	for _, p := range []struct {
		name string
		port int
	}{
		{"udpPort", c.UDPPort},
		{"httpPort", c.HTTPPort},
		{"wsPort", c.WSPort},
	} {
		if p.port < 1 || p.port > 65535 {
			return fmt.Errorf("%s %d out of range", p.name, p.port)
		}
	}
	if c.HTTPPort == c.WSPort {
		return fmt.Errorf("httpPort and wsPort both set to %d", c.HTTPPort)
	}
	return nil
}

// WatchDirs returns the gamelog directories to watch: the configured list,
// or the platform defaults where DXX builds write gamelog.txt.
func (c *Config) WatchDirs() []string {
	if len(c.GamelogDirs) > 0 {
		return c.GamelogDirs
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	switch runtime.GOOS {
	case "windows":
		return []string{
			filepath.Join(home, "AppData", "Roaming", "D1X-Redux"),
			filepath.Join(home, "AppData", "Roaming", "D2X-Redux"),
		}
	case "darwin":
		return []string{
			filepath.Join(home, "Library", "Preferences", "D1X-Redux"),
			filepath.Join(home, "Library", "Preferences", "D2X-Redux"),
		}
	default:
		return []string{
			filepath.Join(home, ".d1x-redux"),
			filepath.Join(home, ".d2x-redux"),
		}
	}
}

// Exists reports whether a config file is present in the working directory.
func Exists() bool {
	for _, name := range []string{"dxx-tracker.yml", "dxx-tracker.yaml", "dxx-tracker.toml"} {
		if _, err := os.Stat(name); err == nil {
			return true
		}
	}
	return false
}
