// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Port      string `yaml:"port" env:"PORT" env-default:"8080"`
	LogLevel  string `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `yaml:"log-format" env:"LOG_FORMAT" env-default:"text"`

	Database Database `yaml:"database"`
	Redis    Redis    `yaml:"redis"`
	Auth     Auth     `yaml:"auth"`
	Gateway  Gateway  `yaml:"gateway"`

	ChatMaxLength int `yaml:"chat-max-length" env:"CHAT_MAX_LENGTH" env-default:"500"`
}

// Database is either a full DATABASE_URL or the split POSTGRES_*/PG_* settings.
type Database struct {
	URL      string `yaml:"url" env:"DATABASE_URL"`
	User     string `yaml:"user" env:"POSTGRES_USER"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD"`
	Host     string `yaml:"host" env:"PG_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"PG_PORT" env-default:"5432"`
	Name     string `yaml:"name" env:"PG_DATABASE"`
}

type Redis struct {
	// Addr empty disables the presence mirror and the action log.
	Addr        string `yaml:"addr" env:"REDIS_ADDR"`
	Password    string `yaml:"password" env:"REDIS_PASSWORD"`
	DB          int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	PresenceKey string `yaml:"presence-key" env:"PRESENCE_KEY" env-default:"checkers:presence"`
	ActionQueue string `yaml:"action-queue" env:"ACTION_QUEUE" env-default:"checkers_moves"`
}

type Auth struct {
	// Both paths empty means a key pair is generated at startup.
	PrivateKeyPath  string `yaml:"private-key-path" env:"AUTH_PRIVATE_KEY_PATH"`
	PublicKeyPath   string `yaml:"public-key-path" env:"AUTH_PUBLIC_KEY_PATH"`
	TokenExpireTime string `yaml:"token-expire-time" env:"TOKEN_EXPIRE_TIME" env-default:"720h"`
}

type Gateway struct {
	MessageSizeLimit     int64         `yaml:"message-size-limit" env:"MESSAGE_SIZE_LIMIT" env-default:"8192"`
	MaxMessagesPerMinute int           `yaml:"max-messages-per-minute" env:"MAX_MESSAGES_PER_MINUTE" env-default:"100"`
	WriteTimeout         time.Duration `yaml:"write-timeout" env:"WS_WRITE_TIMEOUT" env-default:"5s"`
	PingInterval         time.Duration `yaml:"ping-interval" env:"WS_PING_INTERVAL" env-default:"30s"`
	SendBuffer           int           `yaml:"send-buffer" env:"WS_SEND_BUFFER" env-default:"32"`
	AllowedOrigins       []string      `yaml:"allowed-origins" env:"ALLOWED_ORIGINS" env-default:"*" env-separator:","`
}

// Load reads the configuration from the environment. When CONFIG_PATH is set
// the file is read first and the environment overrides it.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.MessageSizeLimit <= 0 {
		errs = append(errs, errors.New("MESSAGE_SIZE_LIMIT must be positive"))
	}
	if c.Gateway.MaxMessagesPerMinute <= 0 {
		errs = append(errs, errors.New("MAX_MESSAGES_PER_MINUTE must be positive"))
	}
	if c.Gateway.WriteTimeout <= 0 {
		errs = append(errs, errors.New("WS_WRITE_TIMEOUT must be positive"))
	}
	if c.Gateway.PingInterval <= 0 {
		errs = append(errs, errors.New("WS_PING_INTERVAL must be positive"))
	}
	if c.Gateway.SendBuffer <= 0 {
		errs = append(errs, errors.New("WS_SEND_BUFFER must be positive"))
	}
	if c.ChatMaxLength <= 0 {
		errs = append(errs, errors.New("CHAT_MAX_LENGTH must be positive"))
	}
	if (c.Auth.PrivateKeyPath == "") != (c.Auth.PublicKeyPath == "") {
		errs = append(errs, errors.New("AUTH_PRIVATE_KEY_PATH and AUTH_PUBLIC_KEY_PATH must be set together"))
	}
	return errors.Join(errs...)
}

// ConnString returns the Postgres connection string, or "" when no database is configured.
func (d Database) ConnString() string {
	if d.URL != "" {
		return d.URL
	}
	if d.User == "" && d.Name == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	return u.String()
}

// Addr is the address the HTTP server listens on.
func (c *Config) Addr() string {
	return ":" + c.Port
}
