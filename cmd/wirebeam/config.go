package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"
)

// Config is populated from the environment (with defaults) and optionally
// overlaid by a TOML file; file values win over environment values.
type Config struct {
	Addr          string        `env:"WIREBEAM_ADDR,default=:8000"`
	RedisAddr     string        `env:"WIREBEAM_REDIS_ADDR"`
	SessionTTL    time.Duration `env:"WIREBEAM_SESSION_TTL,default=10m"`
	GraceDelay    time.Duration `env:"WIREBEAM_GRACE_DELAY,default=10s"`
	SweepInterval time.Duration `env:"WIREBEAM_SWEEP_INTERVAL,default=1s"`
	OTPLength     int           `env:"WIREBEAM_OTP_LENGTH,default=6"`
	StaticDir     string        `env:"WIREBEAM_STATIC_DIR"`
	TemplateDir   string        `env:"WIREBEAM_TEMPLATE_DIR"`
	ServerName    string        `env:"WIREBEAM_SERVER_NAME,default=wirebeam"`
	LogLevel      string        `env:"WIREBEAM_LOG_LEVEL,default=info"`
	LogFormat     string        `env:"WIREBEAM_LOG_FORMAT,default=text"`
}

// fileConfig maps config.toml keys. Durations are strings ("10m", "10s") so
// the file reads the same as the environment.
type fileConfig struct {
	Addr          string `toml:"addr"`
	RedisAddr     string `toml:"redis_addr"`
	SessionTTL    string `toml:"session_ttl"`
	GraceDelay    string `toml:"grace_delay"`
	SweepInterval string `toml:"sweep_interval"`
	OTPLength     int    `toml:"otp_length"`
	StaticDir     string `toml:"static_dir"`
	TemplateDir   string `toml:"template_dir"`
	ServerName    string `toml:"server_name"`
	LogLevel      string `toml:"log_level"`
	LogFormat     string `toml:"log_format"`
}

func loadConfig(path string) (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config file: %w", err)
	}

	setDuration := func(key, value string, dst *time.Duration) error {
		if !meta.IsDefined(key) {
			return nil
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
		*dst = d
		return nil
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("redis_addr") {
		cfg.RedisAddr = strings.TrimSpace(raw.RedisAddr)
	}
	if err := setDuration("session_ttl", raw.SessionTTL, &cfg.SessionTTL); err != nil {
		return err
	}
	if err := setDuration("grace_delay", raw.GraceDelay, &cfg.GraceDelay); err != nil {
		return err
	}
	if err := setDuration("sweep_interval", raw.SweepInterval, &cfg.SweepInterval); err != nil {
		return err
	}
	if meta.IsDefined("otp_length") {
		cfg.OTPLength = raw.OTPLength
	}
	if meta.IsDefined("static_dir") {
		cfg.StaticDir = strings.TrimSpace(raw.StaticDir)
	}
	if meta.IsDefined("template_dir") {
		cfg.TemplateDir = strings.TrimSpace(raw.TemplateDir)
	}
	if meta.IsDefined("server_name") {
		cfg.ServerName = strings.TrimSpace(raw.ServerName)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.TrimSpace(raw.LogFormat)
	}
	return nil
}

func (c Config) validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level %q: want debug|info|warn|error", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log format %q: want text|json", c.LogFormat)
	}
	if c.OTPLength <= 0 {
		return fmt.Errorf("otp length %d: must be positive", c.OTPLength)
	}
	if c.SessionTTL <= 0 || c.GraceDelay <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("durations must be positive")
	}
	return nil
}
