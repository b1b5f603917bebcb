package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Device   DeviceConfig   `mapstructure:"device"`
	Serial   SerialConfig   `mapstructure:"serial"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DeviceConfig holds the device properties. They are read once at startup
// and never change while the server runs.
type DeviceConfig struct {
	Name string `mapstructure:"name"`
	// Endpoint is a VISA resource string, a host[:port] or an
	// integer-encoded IPv4 address.
	Endpoint         string        `mapstructure:"endpoint"`
	SocketPort       int           `mapstructure:"socket_port"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Terminator       string        `mapstructure:"terminator"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	PolledAttributes []string      `mapstructure:"polled_attributes"`
}

type SerialConfig struct {
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	Parity   string `mapstructure:"parity"`
	StopBits int    `mapstructure:"stop_bits"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Auth Configuration
type AuthConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	JWTSecretEnv   string         `mapstructure:"jwt_secret_env"`
	AccessTokenTTL time.Duration  `mapstructure:"access_token_ttl"`
	MachineTokens  []MachineToken `mapstructure:"machine_tokens"`
}

// MachineToken is a long-lived credential for lab automation clients.
// Hash is the argon2id hash printed by cmd/token.
type MachineToken struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
	Hash string `mapstructure:"hash"`
	Role string `mapstructure:"role"`
}

type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

const devJWTSecret = "dev-secret-change-in-production-min-32-chars"

// Load reads the YAML file at path (skipped when path is empty), applies
// OLI_* environment overrides and validates the device section.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OLI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateDevice(&config.Device); err != nil {
		return nil, fmt.Errorf("invalid device config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("device.name", "lab/lockin/1")
	v.SetDefault("device.endpoint", "192.168.1.242")
	v.SetDefault("device.socket_port", 1865)
	v.SetDefault("device.timeout", "2s")
	v.SetDefault("device.terminator", "lf")
	v.SetDefault("device.poll_interval", "0s")
	v.SetDefault("device.polled_attributes", []string{})

	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.stop_bits", 1)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "openlockin")
	v.SetDefault("database.user", "openlockin")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 4)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")

	v.SetDefault("logging.development", false)
}

// TerminatorByte maps the configured line terminator to its byte.
func (d *DeviceConfig) TerminatorByte() byte {
	if d.Terminator == "cr" {
		return '\r'
	}
	return '\n'
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// GetJWTSecret loads the signing secret from the configured environment
// variable.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET" // Fallback
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development fallback, main warns about it
		return devJWTSecret
	}
	return secret
}

// IsProductionReady reports whether a real secret of sufficient length is set.
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devJWTSecret && len(secret) >= 32
}
