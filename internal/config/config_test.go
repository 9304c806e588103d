package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prynt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PRYNT_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("TOKEN_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, "http://localhost:8080", cfg.BaseURL)
	require.Equal(t, "data", cfg.JournalDir)
	require.Equal(t, "PRY", cfg.Invoice.Series)
	require.Equal(t, []string{"/api/v2/invoices", "/api/invoices/create", "/api/v1/invoice"}, cfg.Invoice.Endpoints)
	require.Equal(t, 587, cfg.SMTP.Port)
	require.Zero(t, cfg.TokenMaxAge)
	require.False(t, cfg.Invoice.Enabled())
	require.False(t, cfg.Carrier.Enabled())
	require.False(t, cfg.SMTP.Enabled())
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := writeConfigFile(t, `
listen_addr: ":9090"
token_secret: from-file
journal_dir: /var/lib/prynt
invoice:
  base_url: https://inv.example
  client_id: id-1
carrier:
  base_url: https://ship.example
  service_id: 7
smtp:
  host: mail.example
  admin_addr: admin@prynt.example
`)
	t.Setenv("PRYNT_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.ListenAddr)
	require.Equal(t, "from-file", cfg.TokenSecret)
	require.Equal(t, "/var/lib/prynt", cfg.JournalDir)
	require.True(t, cfg.Invoice.Enabled())
	require.True(t, cfg.Carrier.Enabled())
	require.Equal(t, 7, cfg.Carrier.ServiceID)
	require.True(t, cfg.SMTP.Enabled())
	require.Equal(t, "admin@prynt.example", cfg.SMTP.AdminAddr)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
listen_addr: ":9090"
token_secret: from-file
base_url: https://file.example
`)
	t.Setenv("PRYNT_CONFIG", path)
	t.Setenv("TOKEN_SECRET", "from-env")
	t.Setenv("PORT", "7070")
	t.Setenv("BASE_URL", "https://env.example/")
	t.Setenv("TOKEN_MAX_AGE", "72h")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.TokenSecret)
	require.Equal(t, ":7070", cfg.ListenAddr)
	// Trailing slash is trimmed so URL assembly can always append paths.
	require.Equal(t, "https://env.example", cfg.BaseURL)
	require.Equal(t, 72*time.Hour, cfg.TokenMaxAge)
}

func TestLoadRequiresTokenSecret(t *testing.T) {
	t.Setenv("PRYNT_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("TOKEN_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "TOKEN_SECRET")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "listen_addr: [broken")
	t.Setenv("PRYNT_CONFIG", path)
	t.Setenv("TOKEN_SECRET", "s3cret")

	_, err := Load()
	require.Error(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	t.Setenv("DB_HOST", "")
	require.Empty(t, Config{}.DatabaseDSN())

	require.Equal(t, "postgres://u:p@h/db",
		Config{DatabaseURL: "postgres://u:p@h/db"}.DatabaseDSN())

	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_USER", "prynt")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_NAME", "orders")
	require.Equal(t, "postgres://prynt:pw@db.internal:5432/orders?sslmode=disable",
		Config{}.DatabaseDSN())
}
