// Package config binds the server's CLI flags, environment, and optional
// YAML file into a single typed Config via spf13/viper, matching the
// layered-config pattern used by the pack's agent-style services.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved server configuration.
type Config struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`

	DefaultCodec      string `mapstructure:"default_codec"`
	DefaultBitrateBps int    `mapstructure:"default_bitrate_bps"`
	DefaultJPEGQuality int   `mapstructure:"default_jpeg_quality"`
}

// Defaults holds the baseline values applied before flags/env/file override.
func Defaults() Config {
	return Config{
		ListenAddr:         ":8080",
		MetricsAddr:        ":9090",
		LogLevel:           "info",
		DefaultCodec:       "vp8",
		DefaultBitrateBps:  2_000_000,
		DefaultJPEGQuality: 85,
	}
}

// Bind registers flags on fs and returns a loader that resolves the final
// Config once fs has been parsed (flags > env > file > defaults).
func Bind(fs *pflag.FlagSet) func() (Config, error) {
	d := Defaults()
	fs.String("listen-addr", d.ListenAddr, "signaling HTTP listen address")
	fs.String("metrics-addr", d.MetricsAddr, "Prometheus metrics HTTP listen address")
	fs.String("log-level", d.LogLevel, "logrus log level")
	fs.String("default-codec", d.DefaultCodec, "default WebRTC codec (h264|vp8|vp9)")
	fs.Int("default-bitrate-bps", d.DefaultBitrateBps, "default WebRTC target bitrate in bits/sec")
	fs.Int("default-jpeg-quality", d.DefaultJPEGQuality, "default PullDelivery JPEG quality [1,100]")

	v := viper.New()
	v.SetEnvPrefix("STREAMCOMPOSITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetConfigName("streamcompositor")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/streamcompositor")

	return func() (Config, error) {
		if err := v.BindPFlags(fs); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
		cfg := d
		cfg.ListenAddr = v.GetString("listen-addr")
		cfg.MetricsAddr = v.GetString("metrics-addr")
		cfg.LogLevel = v.GetString("log-level")
		cfg.DefaultCodec = v.GetString("default-codec")
		cfg.DefaultBitrateBps = v.GetInt("default-bitrate-bps")
		cfg.DefaultJPEGQuality = v.GetInt("default-jpeg-quality")
		return cfg, nil
	}
}
