package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Endpoint struct {
	Reconnect   bool `mapstructure:"reconnect"`
	AuthEnabled bool `mapstructure:"auth_enabled"`
	RateLimit   int  `mapstructure:"rate_limit"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`
	RateWindow time.Duration `mapstructure:"rate_window"`

	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`

	Channel string `mapstructure:"channel"`
	Session string `mapstructure:"session"`

	AccessDeniedURL string `mapstructure:"access_denied_url"`

	WaitingRoom         string `mapstructure:"waiting_room"`
	GarageRoom          string `mapstructure:"garage_room"`
	RequirementsRoom    string `mapstructure:"requirements_room"`
	RequirementsEnabled bool   `mapstructure:"requirements_enabled"`

	Player Endpoint `mapstructure:"player"`
	Admin  Endpoint `mapstructure:"admin"`
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
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("rate_window", "1s")
	v.SetDefault("token_ttl", "168h")
	v.SetDefault("channel", "main")
	v.SetDefault("access_denied_url", "/denied")
	v.SetDefault("waiting_room", "waiting")
	v.SetDefault("garage_room", "garage")
	v.SetDefault("requirements_room", "requirements")
	v.SetDefault("requirements_enabled", false)
	v.SetDefault("player.reconnect", true)
	v.SetDefault("player.auth_enabled", false)
	v.SetDefault("player.rate_limit", 50)
	v.SetDefault("admin.reconnect", true)
	v.SetDefault("admin.auth_enabled", false)
	v.SetDefault("admin.rate_limit", 0)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Channel: %s\n", cfg.Mode, cfg.Port, cfg.Channel)
	return &cfg, nil
}
