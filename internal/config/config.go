// Package config loads parley's runtime configuration from a YAML file
// and PARLEY_* environment variables, with environment taking
// precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration. Server and Client halves
// are validated by the commands that use them, so a server deployment
// needs no client identity and vice versa.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Client ClientConfig `mapstructure:"client"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

// ServerConfig configures the durable store and push hub server.
type ServerConfig struct {
	// ListenAddr is the host:port the hub and API bind to.
	ListenAddr string `mapstructure:"listen_addr" validate:"required,hostname_port"`
	// DBPath is the SQLite database file.
	DBPath string `mapstructure:"db_path" validate:"required"`
}

// ClientConfig configures the session side.
type ClientConfig struct {
	// ChannelURL is the websocket endpoint of the push hub.
	ChannelURL string `mapstructure:"channel_url" validate:"required,url"`
	// UserID identifies the local user for echo detection and delete
	// authorship.
	UserID string `mapstructure:"user_id" validate:"required"`
	// DisplayName is the local user's name shown in reply previews.
	DisplayName string `mapstructure:"display_name" validate:"required"`
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the server half.
func (c ServerConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	return nil
}

// Validate checks the client half.
func (c ClientConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid client config: %w", err)
	}
	return nil
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("log_level", "info")
	v.SetDefault("server.listen_addr", "localhost:8484")
	v.SetDefault("server.db_path", "parley.db")
	v.SetDefault("client.channel_url", "ws://localhost:8484/ws")
	v.SetDefault("client.display_name", "Me")

	v.SetEnvPrefix("PARLEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := configValidator.StructPartial(cfg, "LogLevel"); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
