// Package config provides configuration management for the SDK tooling and
// the gateway sandbox.
//
// Values come from, in increasing precedence: built-in defaults, a YAML file,
// a .env file, and MPESA_-prefixed environment variables (MPESA_SANDBOX_PORT
// overrides sandbox.port).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexbotov/mpesa/pkg/mpesa"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "MPESA"

// Config holds all configuration
type Config struct {
	Client   ClientConfig   `mapstructure:"client"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

// ClientConfig holds the SDK settings used by the CLI
type ClientConfig struct {
	BaseURL     string        `mapstructure:"base_url" validate:"required,url"`
	B2CPath     string        `mapstructure:"b2c_path" validate:"required,startswith=/"`
	APIKey      string        `mapstructure:"api_key"`
	PublicKey   string        `mapstructure:"public_key"`
	AccessToken string        `mapstructure:"access_token"`
	Origin      string        `mapstructure:"origin"`
	UserAgent   string        `mapstructure:"user_agent"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// SandboxConfig holds the gateway sandbox settings
type SandboxConfig struct {
	Port                int           `mapstructure:"port" validate:"required,gte=1,lte=65535"`
	APIKey              string        `mapstructure:"api_key" validate:"required"`
	PrivateKeyFile      string        `mapstructure:"private_key_file"`
	JWTSecret           string        `mapstructure:"jwt_secret" validate:"required,min=16"`
	ServiceProviderCode string        `mapstructure:"service_provider_code" validate:"required,numeric"`
	FloatBalance        string        `mapstructure:"float_balance" validate:"required,numeric"`
	Currency            string        `mapstructure:"currency" validate:"required,len=3"`
	TokenTTL            time.Duration `mapstructure:"token_ttl" validate:"required"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required"`
	DSN    string `mapstructure:"dsn"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

var defaults = map[string]interface{}{
	"client.base_url":     mpesa.DefaultBaseURL,
	"client.b2c_path":     mpesa.DefaultB2CPath,
	"client.api_key":      "",
	"client.public_key":   "",
	"client.access_token": "",
	"client.origin":       "",
	"client.user_agent":   mpesa.DefaultUserAgent,
	"client.timeout":      "30s",

	"sandbox.port":                  8080,
	"sandbox.api_key":               "mpesa-sandbox-api-key",
	"sandbox.private_key_file":      "",
	"sandbox.jwt_secret":            "mpesa-sandbox-secret-change-in-production",
	"sandbox.service_provider_code": "171717",
	"sandbox.float_balance":         "1000000.00",
	"sandbox.currency":              "MZN",
	"sandbox.token_ttl":             "24h",
	"sandbox.read_timeout":          "30s",
	"sandbox.write_timeout":         "30s",

	"database.driver": "postgres",
	"database.dsn":    "",

	"log.level":  "info",
	"log.format": "json",
}

// Load reads configuration from path (or ./mpesa.yaml, ./configs/mpesa.yaml
// when path is empty), the .env file and the environment.
func Load(path string) (*Config, error) {
	// A missing .env is not an error; existing variables win.
	_ = godotenv.Load()

	vip := viper.New()
	if path != "" {
		vip.SetConfigFile(path)
	} else {
		vip.SetConfigName("mpesa")
		vip.AddConfigPath("./configs")
		vip.AddConfigPath(".")
	}

	vip.SetConfigType("yaml")
	vip.SetEnvPrefix(EnvPrefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vip.AutomaticEnv()

	for key, value := range defaults {
		vip.SetDefault(key, value)
	}

	if err := vip.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// SDKConfig converts the client section into an SDK configuration
func (c *ClientConfig) SDKConfig() *mpesa.ClientConfig {
	return &mpesa.ClientConfig{
		BaseURL:     c.BaseURL,
		B2CPath:     c.B2CPath,
		APIKey:      c.APIKey,
		PublicKey:   c.PublicKey,
		AccessToken: c.AccessToken,
		Origin:      c.Origin,
		UserAgent:   c.UserAgent,
		Timeout:     c.Timeout,
	}
}
