package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drsabri-stc/stcedge/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsMirrorOriginalWorker(t *testing.T) {
	path := writeConfig(t, "main:\n  name: stcedge-test\n")

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dr-sabri-stc-v1", settings.Cache.Namespace())
	assert.Equal(t, []string{
		"/offline-ar.html", "/offline-en.html", "/images/stc-logo.jpg", "/manifest.json",
	}, settings.Cache.CoreAssets)
	assert.Contains(t, settings.Cache.SecondaryPages, "/en/contact")
	assert.Equal(t, "/offline-en.html", settings.Cache.OfflinePages["en"])
	assert.Equal(t, "/offline-ar.html", settings.Cache.OfflinePages["ar"])
	assert.Equal(t, "/api", settings.Site.APIPrefix)
	assert.Equal(t, "ar", settings.Site.DefaultLocale)
	assert.True(t, settings.Cache.SkipWaiting)
	assert.Equal(t, 15*time.Second, settings.Cache.RevalidateTimeout.Std())
	assert.Equal(t, 24*time.Hour, settings.Push.TTL.Std())
	assert.Equal(t, "/images/icon-192.png", settings.Push.DefaultIcon)
	assert.Same(t, settings, GetSettings())
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
site:
  origin: https://drsabri-stc.com
  upstream: http://127.0.0.1:3000
cache:
  version: v7
  storage: sqlite
  revalidatetimeout: 5s
push:
  adminsecret: s3cret
  concurrency: 2
`)

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dr-sabri-stc-v7", settings.Cache.Namespace())
	assert.Equal(t, StorageSQLite, settings.Cache.Storage)
	assert.Equal(t, 5*time.Second, settings.Cache.RevalidateTimeout.Std())
	assert.Equal(t, "http://127.0.0.1:3000", settings.Site.FetchBase())
	assert.Equal(t, "s3cret", settings.Push.AdminSecret)
	assert.Equal(t, 2, settings.Push.Concurrency)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("STCEDGE_CACHE_VERSION", "v9")
	path := writeConfig(t, "cache:\n  version: v2\n")

	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "v9", settings.Cache.Version)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, errors.CategoryConfiguration, errors.CategoryOf(err))
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		reason string
	}{
		{"bad origin scheme", "site:\n  origin: ftp://example.com\n", "site.origin"},
		{"unknown storage", "cache:\n  storage: floppy\n", "cache.storage"},
		{"mysql without dsn", "cache:\n  storage: mysql\n", "datastore.mysqldsn"},
		{"relative core asset", "cache:\n  coreassets: [offline.html]\n", "cache.coreassets"},
		{"default locale not served", "site:\n  defaultlocale: fr\n", "site.defaultlocale"},
		{"mqtt without broker", "mqtt:\n  enabled: true\n", "mqtt.broker"},
		{"unknown push store", "push:\n  store: s3\n", "push.store"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.reason)
			assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))
		})
	}
}
