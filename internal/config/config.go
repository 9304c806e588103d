// Package config loads the server configuration: an optional YAML file
// first, then environment overrides on top. Business code never reads the
// environment; everything funnels through here once at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type InvoiceConfig struct {
	BaseURL      string   `yaml:"base_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Series       string   `yaml:"series"`
	VATRate      string   `yaml:"vat_rate"`
	Endpoints    []string `yaml:"endpoints"`
}

func (c InvoiceConfig) Enabled() bool { return c.BaseURL != "" }

type CarrierConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TrackBase      string `yaml:"track_base"`
	ServiceID      int    `yaml:"service_id"`
	SenderClientID string `yaml:"sender_client_id"`
	SenderName     string `yaml:"sender_name"`
	SenderPhone    string `yaml:"sender_phone"`
}

func (c CarrierConfig) Enabled() bool { return c.BaseURL != "" }

type SMTPConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	From      string `yaml:"from"`
	AdminAddr string `yaml:"admin_addr"`
}

func (c SMTPConfig) Enabled() bool { return c.Host != "" }

type Config struct {
	ListenAddr  string        `yaml:"listen_addr"`
	BaseURL     string        `yaml:"base_url"`
	TokenSecret string        `yaml:"token_secret"`
	TokenMaxAge time.Duration `yaml:"token_max_age"`
	DatabaseURL string        `yaml:"database_url"`
	JournalDir  string        `yaml:"journal_dir"`

	Invoice InvoiceConfig `yaml:"invoice"`
	Carrier CarrierConfig `yaml:"carrier"`
	SMTP    SMTPConfig    `yaml:"smtp"`
}

// Load reads the YAML file named by PRYNT_CONFIG (default ./prynt.yaml,
// missing file is fine), then applies env overrides.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr: ":8080",
		BaseURL:    "http://localhost:8080",
		JournalDir: "data",
		Invoice: InvoiceConfig{
			Series:    "PRY",
			VATRate:   "19",
			Endpoints: []string{"/api/v2/invoices", "/api/invoices/create", "/api/v1/invoice"},
		},
	}

	path := env("PRYNT_CONFIG", "prynt.yaml")
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// env-only deployment
	default:
		return Config{}, err
	}

	cfg.ListenAddr = env("LISTEN_ADDR", cfg.ListenAddr)
	if p := env("PORT", ""); p != "" {
		cfg.ListenAddr = ":" + p
	}
	cfg.BaseURL = strings.TrimRight(env("BASE_URL", cfg.BaseURL), "/")
	cfg.TokenSecret = env("TOKEN_SECRET", cfg.TokenSecret)
	cfg.TokenMaxAge = durationEnv("TOKEN_MAX_AGE", cfg.TokenMaxAge)
	cfg.DatabaseURL = env("DATABASE_URL", cfg.DatabaseURL)
	cfg.JournalDir = env("JOURNAL_DIR", cfg.JournalDir)

	cfg.Invoice.BaseURL = env("INVOICE_BASE_URL", cfg.Invoice.BaseURL)
	cfg.Invoice.ClientID = env("INVOICE_CLIENT_ID", cfg.Invoice.ClientID)
	cfg.Invoice.ClientSecret = env("INVOICE_CLIENT_SECRET", cfg.Invoice.ClientSecret)
	cfg.Invoice.Series = env("INVOICE_SERIES", cfg.Invoice.Series)
	cfg.Invoice.VATRate = env("INVOICE_VAT_RATE", cfg.Invoice.VATRate)

	cfg.Carrier.BaseURL = env("CARRIER_BASE_URL", cfg.Carrier.BaseURL)
	cfg.Carrier.APIKey = env("CARRIER_API_KEY", cfg.Carrier.APIKey)
	cfg.Carrier.TrackBase = env("CARRIER_TRACK_BASE", cfg.Carrier.TrackBase)
	cfg.Carrier.ServiceID = intEnv("CARRIER_SERVICE_ID", cfg.Carrier.ServiceID)
	cfg.Carrier.SenderClientID = env("CARRIER_SENDER_CLIENT_ID", cfg.Carrier.SenderClientID)
	cfg.Carrier.SenderName = env("CARRIER_SENDER_NAME", cfg.Carrier.SenderName)
	cfg.Carrier.SenderPhone = env("CARRIER_SENDER_PHONE", cfg.Carrier.SenderPhone)

	cfg.SMTP.Host = env("SMTP_HOST", cfg.SMTP.Host)
	cfg.SMTP.Port = intEnv("SMTP_PORT", cfg.SMTP.Port)
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	cfg.SMTP.Username = env("SMTP_USERNAME", cfg.SMTP.Username)
	cfg.SMTP.Password = env("SMTP_PASSWORD", cfg.SMTP.Password)
	cfg.SMTP.From = env("SMTP_FROM", cfg.SMTP.From)
	cfg.SMTP.AdminAddr = env("ADMIN_EMAIL", cfg.SMTP.AdminAddr)

	if cfg.TokenSecret == "" {
		return Config{}, errors.New("missing TOKEN_SECRET")
	}
	return cfg, nil
}

// DatabaseDSN assembles a postgres DSN from DATABASE_URL or the DB_*
// parts; empty means no database is configured and the journal ledger
// takes over.
func (c Config) DatabaseDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	host := env("DB_HOST", "")
	if host == "" {
		return ""
	}
	port := env("DB_PORT", "5432")
	user := env("DB_USER", "postgres")
	pass := env("DB_PASSWORD", "postgres")
	name := env("DB_NAME", "prynt")
	ssl := env("DB_SSLMODE", "disable")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, name, ssl)
}

// ---------------------------------------------------------------------------
// Env helpers
// ---------------------------------------------------------------------------

func env(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intEnv(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func durationEnv(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
