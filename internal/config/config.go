package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	SMTP     SMTPConfig
	Auth     AuthConfig
	Grant    GrantConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL          string `mapstructure:"url"`
	MaxRetries   int    `mapstructure:"max_retries"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// AuthConfig holds what we need to verify assertions minted by the external
// identity provider. The portal never issues credentials of its own.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type GrantConfig struct {
	DefaultTTLHours int `mapstructure:"default_ttl_hours"`
	MaxTTLHours     int `mapstructure:"max_ttl_hours"`
	TokenAttempts   int `mapstructure:"token_attempts"`
}

type WorkerConfig struct {
	BatchSize            int `mapstructure:"batch_size"`
	PollIntervalSeconds  int `mapstructure:"poll_interval_seconds"`
	RetryAttempts        int `mapstructure:"retry_attempts"`
	RetryDelaySeconds    int `mapstructure:"retry_delay_seconds"`
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
	MetricsPort          int `mapstructure:"metrics_port"`
}

func (g GrantConfig) DefaultTTL() time.Duration {
	return time.Duration(g.DefaultTTLHours) * time.Hour
}

func (g GrantConfig) MaxTTL() time.Duration {
	return time.Duration(g.MaxTTLHours) * time.Hour
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeoutSeconds", 30)
	viper.SetDefault("grant.default_ttl_hours", 24)
	viper.SetDefault("grant.max_ttl_hours", 720)
	viper.SetDefault("grant.token_attempts", 10)
	viper.SetDefault("worker.batch_size", 100)
	viper.SetDefault("worker.poll_interval_seconds", 5)
	viper.SetDefault("worker.retry_attempts", 3)
	viper.SetDefault("worker.retry_delay_seconds", 1)
	viper.SetDefault("worker.sweep_interval_seconds", 60)
	viper.SetDefault("worker.metrics_port", 9090)

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
