// Package conf loads and validates stcedge settings.
package conf

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"golang.org/x/text/language"

	"github.com/drsabri-stc/stcedge/internal/errors"
)

// Storage driver names.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageMySQL  = "mysql"
	StorageRedis  = "redis"
	StorageFile   = "file"

	PushStoreDatabase = "database"
)

// Settings is the full runtime configuration.
type Settings struct {
	Main      MainSettings      `mapstructure:"main" yaml:"main" json:"main"`
	Server    ServerSettings    `mapstructure:"server" yaml:"server" json:"server"`
	Site      SiteSettings      `mapstructure:"site" yaml:"site" json:"site"`
	Cache     CacheSettings     `mapstructure:"cache" yaml:"cache" json:"cache"`
	Datastore DatastoreSettings `mapstructure:"datastore" yaml:"datastore" json:"datastore"`
	Redis     RedisSettings     `mapstructure:"redis" yaml:"redis" json:"redis"`
	Push      PushSettings      `mapstructure:"push" yaml:"push" json:"push"`
	MQTT      MQTTSettings      `mapstructure:"mqtt" yaml:"mqtt" json:"mqtt"`
	Sentry    SentrySettings    `mapstructure:"sentry" yaml:"sentry" json:"sentry"`
	Metrics   MetricsSettings   `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
}

type MainSettings struct {
	Name      string `mapstructure:"name" yaml:"name" json:"name"`
	LogLevel  string `mapstructure:"loglevel" yaml:"loglevel" json:"loglevel"`
	LogFormat string `mapstructure:"logformat" yaml:"logformat" json:"logformat"` // json or text
}

type ServerSettings struct {
	Listen          string   `mapstructure:"listen" yaml:"listen" json:"listen"`
	ReadTimeout     Duration `mapstructure:"readtimeout" yaml:"readtimeout" json:"readtimeout"`
	WriteTimeout    Duration `mapstructure:"writetimeout" yaml:"writetimeout" json:"writetimeout"`
	ShutdownTimeout Duration `mapstructure:"shutdowntimeout" yaml:"shutdowntimeout" json:"shutdowntimeout"`
	// SubscribeRate is the per-client request rate allowed on /api/subscribe.
	SubscribeRate  float64 `mapstructure:"subscriberate" yaml:"subscriberate" json:"subscriberate"`
	SubscribeBurst int     `mapstructure:"subscribeburst" yaml:"subscribeburst" json:"subscribeburst"`
}

// SiteSettings describes the origin the edge fronts.
type SiteSettings struct {
	// Origin is the public origin of the site, e.g. https://drsabri-stc.com.
	Origin string `mapstructure:"origin" yaml:"origin" json:"origin"`
	// Upstream is where same-origin requests are actually fetched from.
	// Empty means fetch from Origin.
	Upstream      string   `mapstructure:"upstream" yaml:"upstream" json:"upstream"`
	APIPrefix     string   `mapstructure:"apiprefix" yaml:"apiprefix" json:"apiprefix"`
	Locales       []string `mapstructure:"locales" yaml:"locales" json:"locales"`
	DefaultLocale string   `mapstructure:"defaultlocale" yaml:"defaultlocale" json:"defaultlocale"`
}

type CacheSettings struct {
	Name    string `mapstructure:"name" yaml:"name" json:"name"`
	Version string `mapstructure:"version" yaml:"version" json:"version"`
	// Storage is one of memory, sqlite, mysql, redis.
	Storage        string            `mapstructure:"storage" yaml:"storage" json:"storage"`
	CoreAssets     []string          `mapstructure:"coreassets" yaml:"coreassets" json:"coreassets"`
	SecondaryPages []string          `mapstructure:"secondarypages" yaml:"secondarypages" json:"secondarypages"`
	OfflinePages   map[string]string `mapstructure:"offlinepages" yaml:"offlinepages" json:"offlinepages"`
	StaticExts     []string          `mapstructure:"staticexts" yaml:"staticexts" json:"staticexts"`
	StaticPrefixes []string          `mapstructure:"staticprefixes" yaml:"staticprefixes" json:"staticprefixes"`
	FontHosts      []string          `mapstructure:"fonthosts" yaml:"fonthosts" json:"fonthosts"`
	SkipWaiting    bool              `mapstructure:"skipwaiting" yaml:"skipwaiting" json:"skipwaiting"`
	MaxEntryBytes  int64             `mapstructure:"maxentrybytes" yaml:"maxentrybytes" json:"maxentrybytes"`
	FetchTimeout   Duration          `mapstructure:"fetchtimeout" yaml:"fetchtimeout" json:"fetchtimeout"`
	// RevalidateTimeout bounds each detached background refresh.
	RevalidateTimeout Duration `mapstructure:"revalidatetimeout" yaml:"revalidatetimeout" json:"revalidatetimeout"`
	MaxRevalidations  int64    `mapstructure:"maxrevalidations" yaml:"maxrevalidations" json:"maxrevalidations"`
}

// Namespace returns the versioned cache namespace, e.g. dr-sabri-stc-v1.
func (c CacheSettings) Namespace() string {
	return c.Name + "-" + c.Version
}

type DatastoreSettings struct {
	SQLitePath string `mapstructure:"sqlitepath" yaml:"sqlitepath" json:"sqlitepath"`
	MySQLDSN   string `mapstructure:"mysqldsn" yaml:"mysqldsn" json:"-"`
	Debug      bool   `mapstructure:"debug" yaml:"debug" json:"debug"`
}

type RedisSettings struct {
	Addr     string `mapstructure:"addr" yaml:"addr" json:"addr"`
	Password string `mapstructure:"password" yaml:"password" json:"-"`
	DB       int    `mapstructure:"db" yaml:"db" json:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
}

type PushSettings struct {
	// Store is file (flat JSON list) or database (SQL datastore).
	Store             string   `mapstructure:"store" yaml:"store" json:"store"`
	SubscriptionsFile string   `mapstructure:"subscriptionsfile" yaml:"subscriptionsfile" json:"subscriptionsfile"`
	AdminSecret       string   `mapstructure:"adminsecret" yaml:"adminsecret" json:"-"`
	VAPIDPublicKey    string   `mapstructure:"vapidpublickey" yaml:"vapidpublickey" json:"vapidpublickey"`
	VAPIDPrivateKey   string   `mapstructure:"vapidprivatekey" yaml:"vapidprivatekey" json:"-"`
	VAPIDSubject      string   `mapstructure:"vapidsubject" yaml:"vapidsubject" json:"vapidsubject"`
	TTL               Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
	Concurrency       int      `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"`
	SendTimeout       Duration `mapstructure:"sendtimeout" yaml:"sendtimeout" json:"sendtimeout"`
	DefaultURL        string   `mapstructure:"defaulturl" yaml:"defaulturl" json:"defaulturl"`
	DefaultIcon       string   `mapstructure:"defaulticon" yaml:"defaulticon" json:"defaulticon"`
	// ReportURLs are shoutrrr service URLs that receive a summary after
	// every broadcast.
	ReportURLs []string `mapstructure:"reporturls" yaml:"reporturls" json:"-"`
}

// VAPIDConfigured reports whether all VAPID details are present.
func (p PushSettings) VAPIDConfigured() bool {
	return p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != "" && p.VAPIDSubject != ""
}

type MQTTSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker" json:"broker"`
	ClientID string `mapstructure:"clientid" yaml:"clientid" json:"clientid"`
	Username string `mapstructure:"username" yaml:"username" json:"username"`
	Password string `mapstructure:"password" yaml:"password" json:"-"`
	Topic    string `mapstructure:"topic" yaml:"topic" json:"topic"`
}

type SentrySettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	DSN         string `mapstructure:"dsn" yaml:"dsn" json:"-"`
	Environment string `mapstructure:"environment" yaml:"environment" json:"environment"`
}

type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" yaml:"path" json:"path"`
}

var (
	settingsMu       sync.RWMutex
	settingsInstance *Settings
)

// GetSettings returns the settings loaded by the last successful Load, or nil.
func GetSettings() *Settings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settingsInstance
}

// Load reads configuration from configPath (or the default search paths
// when empty), applies STCEDGE_* environment overrides and validates it.
func Load(configPath string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STCEDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "stcedge"))
		}
		v.AddConfigPath("/etc/stcedge")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, errors.New(fmt.Errorf("read config: %w", err)).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.New(fmt.Errorf("decode config: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	settingsMu.Lock()
	settingsInstance = settings
	settingsMu.Unlock()
	return settings, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("main.name", "stcedge")
	v.SetDefault("main.loglevel", "info")
	v.SetDefault("main.logformat", "json")

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.readtimeout", "15s")
	v.SetDefault("server.writetimeout", "30s")
	v.SetDefault("server.shutdowntimeout", "10s")
	v.SetDefault("server.subscriberate", 1.0)
	v.SetDefault("server.subscribeburst", 5)

	v.SetDefault("site.origin", "http://localhost:3000")
	v.SetDefault("site.upstream", "")
	v.SetDefault("site.apiprefix", "/api")
	v.SetDefault("site.locales", []string{"ar", "en"})
	v.SetDefault("site.defaultlocale", "ar")

	v.SetDefault("cache.name", "dr-sabri-stc")
	v.SetDefault("cache.version", "v1")
	v.SetDefault("cache.storage", StorageMemory)
	v.SetDefault("cache.coreassets", []string{
		"/offline-ar.html",
		"/offline-en.html",
		"/images/stc-logo.jpg",
		"/manifest.json",
	})
	v.SetDefault("cache.secondarypages", []string{
		"/", "/ar", "/en",
		"/ar/about", "/en/about",
		"/ar/contact", "/en/contact",
	})
	v.SetDefault("cache.offlinepages", map[string]string{
		"ar": "/offline-ar.html",
		"en": "/offline-en.html",
	})
	v.SetDefault("cache.staticexts", []string{
		".js", ".css", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".avif",
		".ico", ".woff", ".woff2", ".ttf", ".otf", ".json", ".webmanifest", ".mp4",
	})
	v.SetDefault("cache.staticprefixes", []string{"/_next/static/", "/images/", "/icons/"})
	v.SetDefault("cache.fonthosts", []string{"fonts.googleapis.com", "fonts.gstatic.com"})
	v.SetDefault("cache.skipwaiting", true)
	v.SetDefault("cache.maxentrybytes", int64(16<<20))
	v.SetDefault("cache.fetchtimeout", "20s")
	v.SetDefault("cache.revalidatetimeout", "15s")
	v.SetDefault("cache.maxrevalidations", int64(16))

	v.SetDefault("datastore.sqlitepath", "data/stcedge.db")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "stcedge")

	v.SetDefault("push.store", StorageFile)
	v.SetDefault("push.subscriptionsfile", "data/subscriptions.json")
	v.SetDefault("push.ttl", "24h")
	v.SetDefault("push.concurrency", 8)
	v.SetDefault("push.sendtimeout", "10s")
	v.SetDefault("push.defaulturl", "/")
	v.SetDefault("push.defaulticon", "/images/icon-192.png")

	v.SetDefault("mqtt.clientid", "stcedge")
	v.SetDefault("mqtt.topic", "stcedge/lifecycle")

	v.SetDefault("sentry.environment", "production")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks settings for values the edge cannot run with.
func (s *Settings) Validate() error {
	var problems []string

	if err := validateBaseURL(s.Site.Origin); err != nil {
		problems = append(problems, "site.origin: "+err.Error())
	}
	if s.Site.Upstream != "" {
		if err := validateBaseURL(s.Site.Upstream); err != nil {
			problems = append(problems, "site.upstream: "+err.Error())
		}
	}
	if !strings.HasPrefix(s.Site.APIPrefix, "/") {
		problems = append(problems, "site.apiprefix must start with /")
	}
	if len(s.Site.Locales) == 0 {
		problems = append(problems, "site.locales must not be empty")
	}
	for _, l := range s.Site.Locales {
		if _, err := language.Parse(l); err != nil {
			problems = append(problems, fmt.Sprintf("site.locales: invalid tag %q", l))
		}
	}
	if _, err := language.Parse(s.Site.DefaultLocale); err != nil {
		problems = append(problems, fmt.Sprintf("site.defaultlocale: invalid tag %q", s.Site.DefaultLocale))
	} else if !slices.Contains(s.Site.Locales, s.Site.DefaultLocale) {
		problems = append(problems, "site.defaultlocale must be one of site.locales")
	}
	for _, l := range s.Site.Locales {
		if _, ok := s.Cache.OfflinePages[l]; !ok {
			problems = append(problems, fmt.Sprintf("cache.offlinepages: missing page for locale %q", l))
		}
	}

	if s.Cache.Name == "" || strings.ContainsAny(s.Cache.Name, " /") {
		problems = append(problems, "cache.name must be a non-empty token")
	}
	if s.Cache.Version == "" {
		problems = append(problems, "cache.version must not be empty")
	}
	switch s.Cache.Storage {
	case StorageMemory, StorageSQLite, StorageMySQL, StorageRedis:
	default:
		problems = append(problems, fmt.Sprintf("cache.storage: unknown driver %q", s.Cache.Storage))
	}
	if s.Cache.Storage == StorageMySQL && s.Datastore.MySQLDSN == "" {
		problems = append(problems, "datastore.mysqldsn is required for mysql storage")
	}
	for _, p := range s.Cache.CoreAssets {
		if !strings.HasPrefix(p, "/") {
			problems = append(problems, fmt.Sprintf("cache.coreassets: %q must be an absolute path", p))
		}
	}
	if s.Cache.MaxEntryBytes <= 0 {
		problems = append(problems, "cache.maxentrybytes must be positive")
	}
	if s.Cache.MaxRevalidations <= 0 {
		problems = append(problems, "cache.maxrevalidations must be positive")
	}

	switch s.Push.Store {
	case StorageFile:
		if s.Push.SubscriptionsFile == "" {
			problems = append(problems, "push.subscriptionsfile is required for file store")
		}
	case PushStoreDatabase:
		if s.Datastore.MySQLDSN == "" && s.Datastore.SQLitePath == "" {
			problems = append(problems, "push.store database needs datastore.sqlitepath or datastore.mysqldsn")
		}
	default:
		problems = append(problems, fmt.Sprintf("push.store: unknown store %q", s.Push.Store))
	}
	if s.Push.Concurrency <= 0 {
		problems = append(problems, "push.concurrency must be positive")
	}

	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		problems = append(problems, "mqtt.broker is required when mqtt is enabled")
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		problems = append(problems, "sentry.dsn is required when sentry is enabled")
	}

	if len(problems) > 0 {
		return errors.Newf("invalid configuration: %s", strings.Join(problems, "; ")).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// FetchBase returns the base URL same-origin fetches are sent to.
func (s SiteSettings) FetchBase() string {
	if s.Upstream != "" {
		return s.Upstream
	}
	return s.Origin
}
