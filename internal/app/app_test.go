package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drsabri-stc/stcedge/internal/conf"
	"github.com/drsabri-stc/stcedge/internal/errors"
	"github.com/drsabri-stc/stcedge/internal/push"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ".html"):
			w.Header().Set("Content-Type", "text/html")
		case r.URL.Path == "/missing":
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "content of "+r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testSettings(t *testing.T, upstream string) *conf.Settings {
	t.Helper()
	dir := t.TempDir()
	return &conf.Settings{
		Server: conf.ServerSettings{
			Listen:          "127.0.0.1:0",
			ShutdownTimeout: conf.Duration(5 * time.Second),
			SubscribeRate:   10,
			SubscribeBurst:  10,
		},
		Site: conf.SiteSettings{
			Origin:        "https://drsabri-stc.com",
			Upstream:      upstream,
			APIPrefix:     "/api",
			Locales:       []string{"ar", "en"},
			DefaultLocale: "ar",
		},
		Cache: conf.CacheSettings{
			Name:           "dr-sabri-stc",
			Version:        "v1",
			Storage:        conf.StorageMemory,
			CoreAssets:     []string{"/offline-ar.html", "/offline-en.html", "/manifest.json"},
			SecondaryPages: []string{"/en/", "/missing"},
			OfflinePages:   map[string]string{"ar": "/offline-ar.html", "en": "/offline-en.html"},
			StaticExts:     []string{".json", ".png"},
			FetchTimeout:   conf.Duration(5 * time.Second),
		},
		Datastore: conf.DatastoreSettings{SQLitePath: filepath.Join(dir, "stcedge.db")},
		Push: conf.PushSettings{
			Store:             conf.StorageFile,
			SubscriptionsFile: filepath.Join(dir, "subscriptions.json"),
			AdminSecret:       "s3cret",
			Concurrency:       2,
			DefaultURL:        "/",
		},
		Metrics: conf.MetricsSettings{Enabled: true, Path: "/metrics"},
	}
}

func TestNew_MemoryStorageBootstrap(t *testing.T) {
	t.Parallel()
	settings := testSettings(t, newSite(t).URL)

	a, err := New(t.Context(), settings, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NoError(t, a.Bootstrap(t.Context()))

	status, err := a.Lifecycle.Status(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "activated", status.State)
	assert.Equal(t, "dr-sabri-stc-v1", status.Namespace)
	assert.Equal(t, 4, status.Entries, "three core assets and the reachable secondary page")

	rec := httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/manifest.json", http.NoBody))
	assert.Equal(t, "content of /manifest.json", rec.Body.String())
	assert.Equal(t, "cache", rec.Header().Get("X-Stcedge-Source"))
}

func TestNew_SQLiteStorageAndDatabaseStore(t *testing.T) {
	t.Parallel()
	settings := testSettings(t, newSite(t).URL)
	settings.Cache.Storage = conf.StorageSQLite
	settings.Push.Store = conf.PushStoreDatabase

	a, err := New(t.Context(), settings, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NotNil(t, a.db)

	require.NoError(t, a.Bootstrap(t.Context()))
	status, err := a.Lifecycle.Status(t.Context())
	require.NoError(t, err)
	assert.True(t, status.Active)

	added, err := a.Push.Subscribe(t.Context(), push.Subscription{Endpoint: "https://push.example/1"})
	require.NoError(t, err)
	assert.True(t, added)

	subs, err := a.Push.Subscriptions(t.Context())
	require.NoError(t, err)
	assert.Len(t, subs, 1)
	assert.NoFileExists(t, settings.Push.SubscriptionsFile)
}

func TestNew_RedisUnreachable(t *testing.T) {
	t.Parallel()
	settings := testSettings(t, newSite(t).URL)
	settings.Cache.Storage = conf.StorageRedis
	settings.Redis.Addr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	_, err := New(ctx, settings, nil)
	require.Error(t, err)
	assert.Equal(t, errors.CategoryStorage, errors.CategoryOf(err))
}

func TestNew_PushWithoutVAPID(t *testing.T) {
	t.Parallel()
	settings := testSettings(t, newSite(t).URL)

	a, err := New(t.Context(), settings, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	_, err = a.Push.Notify(t.Context(), push.Message{Title: "t", Message: "m"})
	assert.ErrorIs(t, err, push.ErrNoSender)
}

func TestNew_PushWithVAPID(t *testing.T) {
	t.Parallel()
	settings := testSettings(t, newSite(t).URL)
	public, private, err := push.GenerateVAPIDKeys()
	require.NoError(t, err)
	settings.Push.VAPIDPublicKey = public
	settings.Push.VAPIDPrivateKey = private
	settings.Push.VAPIDSubject = "mailto:admin@drsabri-stc.com"

	a, err := New(t.Context(), settings, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	report, err := a.Push.Notify(t.Context(), push.Message{Title: "t", Message: "m"})
	require.NoError(t, err)
	assert.Equal(t, push.Report{}, report)
}

func TestBootstrap_CoreAssetFailure(t *testing.T) {
	t.Parallel()
	settings := testSettings(t, newSite(t).URL)
	settings.Cache.CoreAssets = append(settings.Cache.CoreAssets, "/missing")

	a, err := New(t.Context(), settings, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.Error(t, a.Bootstrap(t.Context()))
	assert.False(t, a.Lifecycle.Active())
	assert.Equal(t, "redundant", a.Lifecycle.State().String())
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()
	settings := testSettings(t, newSite(t).URL)

	a, err := New(t.Context(), settings, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, a.Lifecycle.Active, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
