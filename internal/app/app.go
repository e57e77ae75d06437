// Package app assembles stcedge from its settings: storage, the cache
// engine, the push service, the optional MQTT bus and the HTTP server.
package app

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/drsabri-stc/stcedge/internal/api"
	"github.com/drsabri-stc/stcedge/internal/conf"
	"github.com/drsabri-stc/stcedge/internal/datastore"
	"github.com/drsabri-stc/stcedge/internal/datastore/repository"
	"github.com/drsabri-stc/stcedge/internal/errors"
	"github.com/drsabri-stc/stcedge/internal/logger"
	"github.com/drsabri-stc/stcedge/internal/mqtt"
	"github.com/drsabri-stc/stcedge/internal/notification"
	"github.com/drsabri-stc/stcedge/internal/observability/metrics"
	"github.com/drsabri-stc/stcedge/internal/push"
	"github.com/drsabri-stc/stcedge/internal/swcache"
	"github.com/drsabri-stc/stcedge/internal/swcache/redisstore"
)

// App holds the assembled components.
type App struct {
	Settings   *conf.Settings
	Log        logger.Logger
	Metrics    *metrics.Metrics
	Lifecycle  *swcache.Lifecycle
	Dispatcher *swcache.Dispatcher
	Events     *swcache.Events
	Push       *push.Service
	Server     *api.Server

	db    *gorm.DB
	redis *goredis.Client
	mqtt  mqtt.Client
}

// New builds every component but starts nothing.
func New(ctx context.Context, settings *conf.Settings, log logger.Logger) (*App, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	a := &App{Settings: settings, Log: log}

	m, err := metrics.NewMetrics()
	if err != nil {
		return nil, errors.New(err).Component("app").Category(errors.CategoryConfiguration).Build()
	}
	a.Metrics = m

	origin, err := url.Parse(settings.Site.Origin)
	if err != nil {
		return nil, errors.New(err).Component("app").Category(errors.CategoryConfiguration).Build()
	}
	upstream, err := url.Parse(settings.Site.FetchBase())
	if err != nil {
		return nil, errors.New(err).Component("app").Category(errors.CategoryConfiguration).Build()
	}

	storage, err := a.openStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	cache := settings.Cache
	classifier := swcache.NewClassifier(swcache.ClassifierConfig{
		Origin:         origin,
		APIPrefix:      settings.Site.APIPrefix,
		FontHosts:      cache.FontHosts,
		StaticExts:     cache.StaticExts,
		StaticPrefixes: cache.StaticPrefixes,
	})
	fetcher := swcache.NewHTTPFetcher(swcache.FetcherConfig{
		Origin:        origin,
		Upstream:      upstream,
		MaxEntryBytes: cache.MaxEntryBytes,
		Timeout:       cache.FetchTimeout.Std(),
	})
	a.Lifecycle = swcache.NewLifecycle(storage, fetcher, swcache.LifecycleConfig{
		Origin:         origin,
		Prefix:         cache.Name,
		Version:        cache.Version,
		CoreAssets:     cache.CoreAssets,
		SecondaryPages: cache.SecondaryPages,
		SkipWaiting:    cache.SkipWaiting,
	}, log, m.Cache)
	offline := swcache.NewOfflineResolver(origin, cache.OfflinePages, settings.Site.DefaultLocale)
	a.Dispatcher = swcache.NewDispatcher(classifier, a.Lifecycle, fetcher, offline, swcache.DispatcherConfig{
		RevalidateTimeout: cache.RevalidateTimeout.Std(),
		MaxRevalidations:  cache.MaxRevalidations,
	}, log, m.Cache)
	a.Events = swcache.NewEvents(a.Lifecycle, a.Dispatcher, swcache.EventsConfig{
		Origin:      origin,
		DefaultURL:  settings.Push.DefaultURL,
		DefaultIcon: settings.Push.DefaultIcon,
	})

	if a.Push, err = a.newPushService(); err != nil {
		a.Close()
		return nil, err
	}

	var srvMetrics *metrics.Metrics
	if settings.Metrics.Enabled {
		srvMetrics = m
	}
	a.Server, err = api.New(api.Config{
		Settings:   settings,
		Logger:     log,
		Classifier: classifier,
		Dispatcher: a.Dispatcher,
		Lifecycle:  a.Lifecycle,
		Events:     a.Events,
		Push:       a.Push,
		Metrics:    srvMetrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// openStorage returns the cache namespace backend named by cache.storage.
func (a *App) openStorage(ctx context.Context) (swcache.Storage, error) {
	switch a.Settings.Cache.Storage {
	case conf.StorageSQLite, conf.StorageMySQL:
		db, err := a.database()
		if err != nil {
			return nil, err
		}
		return repository.NewCacheStorage(db), nil
	case conf.StorageRedis:
		rs := a.Settings.Redis
		a.redis = goredis.NewClient(&goredis.Options{
			Addr:     rs.Addr,
			Password: rs.Password,
			DB:       rs.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, errors.New(fmt.Errorf("failed to reach redis at %s: %w", rs.Addr, err)).
				Component("app").
				Category(errors.CategoryStorage).
				Build()
		}
		return redisstore.New(redisstore.Config{Client: a.redis, Prefix: rs.Prefix})
	default:
		return swcache.NewMemoryStorage(), nil
	}
}

// database opens the SQL datastore once; cache and subscriptions share it.
func (a *App) database() (*gorm.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := datastore.Open(&a.Settings.Datastore, a.Log)
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

func (a *App) newPushService() (*push.Service, error) {
	ps := a.Settings.Push

	var repo push.Repository
	if ps.Store == conf.PushStoreDatabase {
		db, err := a.database()
		if err != nil {
			return nil, err
		}
		repo = repository.NewSubscriptionRepository(db)
	} else {
		repo = push.NewFileRepository(ps.SubscriptionsFile)
	}

	var sender push.Sender
	if ps.VAPIDConfigured() {
		ws, err := push.NewWebPushSender(push.WebPushConfig{
			PublicKey:  ps.VAPIDPublicKey,
			PrivateKey: ps.VAPIDPrivateKey,
			Subject:    ps.VAPIDSubject,
			TTL:        ps.TTL.Std(),
			Client:     &http.Client{Timeout: ps.SendTimeout.Std()},
		})
		if err != nil {
			return nil, errors.New(err).Component("app").Category(errors.CategoryConfiguration).Build()
		}
		sender = ws
	} else {
		a.Log.Warn("VAPID keys not configured, push broadcasts are disabled")
	}

	svc := push.NewService(repo, sender, push.ServiceConfig{
		Concurrency: ps.Concurrency,
		SendTimeout: ps.SendTimeout.Std(),
		Defaults:    push.Defaults{URL: ps.DefaultURL, Icon: ps.DefaultIcon},
	}, a.Log, a.Metrics.Push)

	if len(ps.ReportURLs) > 0 {
		if err := notification.Initialize(&notification.ServiceConfig{URLs: ps.ReportURLs, Log: a.Log}); err != nil {
			return nil, err
		}
		if reporter := notification.GetService(); reporter != nil {
			svc.SetReporter(reporter)
		}
	}
	return svc, nil
}

// Bootstrap runs install then activate, as a freshly registered worker
// would. A failed install leaves the edge network-only.
func (a *App) Bootstrap(ctx context.Context) error {
	start := time.Now()
	if _, err := a.Events.Dispatch(ctx, swcache.Event{Kind: swcache.EventInstall}); err != nil {
		return err
	}
	out, err := a.Events.Dispatch(ctx, swcache.Event{Kind: swcache.EventActivate})
	if err != nil {
		return err
	}
	a.Log.Info("cache ready",
		logger.String("namespace", a.Lifecycle.Namespace()),
		logger.Int("deleted", len(out.Deleted)),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// Run bootstraps the cache, starts the MQTT bus when enabled and serves
// HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Bootstrap(ctx); err != nil {
		a.Log.Error("cache bootstrap failed, serving network only", logger.Error(err))
	}

	if a.Settings.MQTT.Enabled {
		bus, err := a.startBus(ctx)
		if err != nil {
			a.Log.Error("mqtt lifecycle bus unavailable", logger.Error(err))
		} else {
			defer bus.Stop(context.WithoutCancel(ctx))
		}
	}

	return a.Server.Start(ctx)
}

func (a *App) startBus(ctx context.Context) (*mqtt.Bus, error) {
	client, err := mqtt.NewClient(&a.Settings.MQTT, a.Log)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	a.mqtt = client

	bus := mqtt.NewBus(client, a.Events, a.Lifecycle, a.Settings.MQTT.Topic, a.Log)
	if err := bus.Start(ctx); err != nil {
		return nil, err
	}
	return bus, nil
}

// Close releases connections. It is safe on a partially built App.
func (a *App) Close() {
	if a.Dispatcher != nil {
		a.Dispatcher.Wait()
	}
	if a.Push != nil {
		a.Push.Wait()
	}
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Log.Warn("failed to close redis client", logger.Error(err))
		}
	}
	if a.db != nil {
		if err := datastore.Close(a.db); err != nil {
			a.Log.Warn("failed to close database", logger.Error(err))
		}
	}
}
