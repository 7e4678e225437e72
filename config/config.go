package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DefaultCookieName      = "n3_master_session"
	DefaultSessionLifetime = 30 * 24 * time.Hour
	DefaultBcryptCost      = 10
)

var (
	ErrMissingSecret = errors.New("session secret is not configured")
	ErrMissingDSN    = errors.New("database DSN is not configured")
	ErrUnknownDriver = errors.New("unknown store driver")
)

type Config struct {
	AppName         string   `json:"app_name"`
	ListenIP        string   `json:"listen_ip"`
	ListenPort      int      `json:"listen_port"`
	SessionSecret   string   `json:"session_secret"`
	CookieName      string   `json:"cookie_name"`
	SessionLifetime Duration `json:"session_lifetime"`
	BcryptCost      int      `json:"bcrypt_cost"`
	Production      bool     `json:"production"`
	StoreDriver     string   `json:"store_driver"`
	DatabaseDSN     string   `json:"database_dsn"`
	CSRFEnabled     bool     `json:"csrf_enabled"`
	TrustedOrigins  []string `json:"trusted_origins"`
	DefaultLanguage string   `json:"default_language"`
}

// Duration accepts both "720h" style strings and integer nanoseconds in JSON.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

var AppConfig Config

func defaults() Config {
	return Config{
		AppName:         "N3 Master",
		ListenIP:        "0.0.0.0",
		ListenPort:      8080,
		CookieName:      DefaultCookieName,
		SessionLifetime: Duration{DefaultSessionLifetime},
		BcryptCost:      DefaultBcryptCost,
		StoreDriver:     DriverSQLite,
		DatabaseDSN:     "./n3master.db",
		DefaultLanguage: "en",
	}
}

// LoadConfig fills AppConfig from defaults, then the JSON file at path (a
// missing file is not an error), then a .env file in the working directory,
// then the process environment. The result is validated.
func LoadConfig(path string) error {
	cfg := defaults()

	if path != "" {
		file, err := os.Open(path)
		switch {
		case err == nil:
			defer file.Close()
			decoder := json.NewDecoder(file)
			if err := decoder.Decode(&cfg); err != nil {
				return err
			}
		case !errors.Is(err, os.ErrNotExist):
			return err
		}
	}

	// .env is optional; variables already present in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf(".env: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	AppConfig = cfg
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("N3_SESSION_SECRET"); v != "" {
		cfg.SessionSecret = v
	}
	if v := firstEnv("N3_DATABASE_DSN", "DATABASE_URL"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("N3_STORE_DRIVER"); v != "" {
		cfg.StoreDriver = v
	}
	if v := os.Getenv("N3_LISTEN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("N3_LISTEN_PORT: %w", err)
		}
		cfg.ListenPort = port
	}
	if v := os.Getenv("N3_PRODUCTION"); v != "" {
		prod, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("N3_PRODUCTION: %w", err)
		}
		cfg.Production = prod
	}
	if strings.EqualFold(os.Getenv("APP_ENV"), "production") {
		cfg.Production = true
	}
	if v := os.Getenv("N3_CSRF_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("N3_CSRF_ENABLED: %w", err)
		}
		cfg.CSRFEnabled = enabled
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Validate reports configuration the server cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SessionSecret) == "" {
		return ErrMissingSecret
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return ErrMissingDSN
	}
	switch c.StoreDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.StoreDriver)
	}
	if c.SessionLifetime.Duration <= 0 {
		c.SessionLifetime = Duration{DefaultSessionLifetime}
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = DefaultBcryptCost
	}
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenIP, c.ListenPort)
}
