package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode              string        `mapstructure:"mode"`
	Port              int           `mapstructure:"port"`
	StaticPath        string        `mapstructure:"static_path"`
	ReadLimit         int64         `mapstructure:"read_limit"`
	Secret            string        `mapstructure:"secret"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PresenceTimeout   time.Duration `mapstructure:"presence_timeout"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	ChatHistory       int           `mapstructure:"chat_history"`
	JoinLimit         int           `mapstructure:"join_limit"`
	JoinLimitWindow   time.Duration `mapstructure:"join_limit_window"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("heartbeat_interval", "10s")
	// Presence expires after three missed heartbeats.
	v.SetDefault("presence_timeout", "30s")
	v.SetDefault("sweep_interval", "5s")
	v.SetDefault("chat_history", 50)
	v.SetDefault("join_limit", 10)
	v.SetDefault("join_limit_window", "1m")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.PresenceTimeout <= 0 {
		cfg.PresenceTimeout = 3 * cfg.HeartbeatInterval
	}
	return &cfg, nil
}
