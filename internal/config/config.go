package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const DefaultAPIURL = "https://klinikabackend-production.up.railway.app/api"

type Config struct {
	APIURL      string        `mapstructure:"klinika_api_url"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	APIRPS      float64       `mapstructure:"api_rps"`
	APIBurst    int           `mapstructure:"api_burst"`

	// memory, file or redis
	TokenStore string `mapstructure:"token_store"`
	TokenFile  string `mapstructure:"token_file"`
	TokenKey   string `mapstructure:"token_key"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	DatabaseURL string `mapstructure:"database_url"`

	SweepEnabled  bool   `mapstructure:"sweep_enabled"`
	SweepSchedule string `mapstructure:"sweep_schedule"`

	Timezone    string `mapstructure:"clinic_timezone"`
	GRPCPort    string `mapstructure:"port"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	JWTSecret   string `mapstructure:"scheduler_jwt_secret"`
	LogLevel    string `mapstructure:"log_level"`

	// slots stop at the last one that ends by closing time
	SlotEndExclusive bool `mapstructure:"slot_end_exclusive"`

	// gRPC-Web bridge, an empty port disables it
	WebPort    string `mapstructure:"web_port"`
	WebOrigins string `mapstructure:"web_origins"`

	Email    string `mapstructure:"klinika_email"`
	Password string `mapstructure:"klinika_password"`
}

var defaults = map[string]any{
	"klinika_api_url":      DefaultAPIURL,
	"http_timeout":         "15s",
	"api_rps":              5.0,
	"api_burst":            5,
	"token_store":          "file",
	"token_file":           ".klinika/token",
	"token_key":            "",
	"redis_addr":           "",
	"redis_password":       "",
	"redis_db":             0,
	"database_url":         "",
	"sweep_enabled":        true,
	"sweep_schedule":       "@every 60s",
	"clinic_timezone":      "",
	"port":                 "50051",
	"web_port":             "8080",
	"web_origins":          "",
	"slot_end_exclusive":   false,
	"metrics_addr":         ":9090",
	"scheduler_jwt_secret": "",
	"log_level":            "info",
	"klinika_email":        "",
	"klinika_password":     "",
}

// Load reads .env (if any) and the environment on top of the defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &c, nil
}

// Location resolves CLINIC_TIMEZONE, local time when unset.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Origins splits WEB_ORIGINS on commas. Empty allows every origin.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.WebOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c *Config) validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("bad KLINIKA_API_URL %q", c.APIURL)
	}
	switch c.TokenStore {
	case "memory", "file":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis token store")
		}
	default:
		return fmt.Errorf("unknown TOKEN_STORE %q", c.TokenStore)
	}
	if c.APIRPS <= 0 || c.APIBurst <= 0 {
		return fmt.Errorf("API_RPS and API_BURST must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("bad CLINIC_TIMEZONE: %w", err)
	}
	return nil
}
