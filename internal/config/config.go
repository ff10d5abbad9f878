package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type TokenConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
}

type PresenceConfig struct {
	Capacity     int           `mapstructure:"capacity"`
	HeartbeatTTL time.Duration `mapstructure:"heartbeat_ttl"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

type Config struct {
	Mode         string         `mapstructure:"mode"`
	Port         int            `mapstructure:"port"`
	TransportURL string         `mapstructure:"transport_url"`
	Token        TokenConfig    `mapstructure:"token"`
	Redis        RedisConfig    `mapstructure:"redis"`
	Presence     PresenceConfig `mapstructure:"presence"`
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
	v.SetDefault("transport_url", "")
	v.SetDefault("token.api_key", "")
	v.SetDefault("token.api_secret", "")
	v.SetDefault("token.ttl", "6h")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("presence.capacity", 8)
	v.SetDefault("presence.heartbeat_ttl", "90s")
	v.SetDefault("presence.reap_interval", "30s")

	// Service credentials come from the environment in deployments,
	// e.g. VOICEROOM_TOKEN_API_KEY / VOICEROOM_TOKEN_API_SECRET.
	v.SetEnvPrefix("voiceroom")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
