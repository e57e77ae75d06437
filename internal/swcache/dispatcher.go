package swcache

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/drsabri-stc/stcedge/internal/errors"
	"github.com/drsabri-stc/stcedge/internal/logger"
	"github.com/drsabri-stc/stcedge/internal/observability/metrics"
)

// ErrNotIntercepted is returned for routes the dispatcher leaves to the
// network: non-GET, API and foreign-origin requests.
var ErrNotIntercepted = errors.NewStd("request not intercepted")

// Source says where a dispatched response came from.
type Source string

const (
	SourceCache     Source = metrics.SourceCache
	SourceNetwork   Source = metrics.SourceNetwork
	SourceOffline   Source = metrics.SourceOffline
	SourceSynthetic Source = metrics.SourceSynthetic
)

// Result is a dispatched response.
type Result struct {
	Entry  *Entry
	Route  Route
	Source Source
}

// DispatcherConfig tunes background refreshes.
type DispatcherConfig struct {
	// RevalidateTimeout bounds each background refresh.
	RevalidateTimeout time.Duration
	// MaxRevalidations caps concurrent background refreshes; extra
	// refreshes are skipped, not queued.
	MaxRevalidations int64
}

// Dispatcher applies the per-route caching strategy to intercepted requests.
type Dispatcher struct {
	classifier *Classifier
	lifecycle  *Lifecycle
	fetcher    Fetcher
	offline    *OfflineResolver
	cfg        DispatcherConfig
	log        logger.Logger
	metrics    *metrics.CacheMetrics

	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	inflight sync.Map
}

func NewDispatcher(
	classifier *Classifier,
	lifecycle *Lifecycle,
	fetcher Fetcher,
	offline *OfflineResolver,
	cfg DispatcherConfig,
	log logger.Logger,
	m *metrics.CacheMetrics,
) *Dispatcher {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.MaxRevalidations <= 0 {
		cfg.MaxRevalidations = 1
	}
	return &Dispatcher{
		classifier: classifier,
		lifecycle:  lifecycle,
		fetcher:    fetcher,
		offline:    offline,
		cfg:        cfg,
		log:        log.Module("dispatcher"),
		metrics:    m,
		sem:        semaphore.NewWeighted(cfg.MaxRevalidations),
	}
}

// Classify exposes the route decision for callers that handle
// non-intercepted traffic themselves.
func (d *Dispatcher) Classify(req *Request) Route {
	return d.classifier.Classify(req)
}

// Handle answers an intercepted request. Cached responses are returned
// immediately and refreshed in the background; misses go to the network
// and are stored when cacheable; if the network fails too the offline
// resolver answers. Fonts, static assets and documents share this flow.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) (*Result, error) {
	route := d.classifier.Classify(req)
	if !route.Intercepted() {
		return nil, fmt.Errorf("%w: %s", ErrNotIntercepted, route)
	}

	res := d.serve(ctx, req, route)
	d.metrics.RecordDispatch(route.String(), string(res.Source))
	return res, nil
}

func (d *Dispatcher) serve(ctx context.Context, req *Request, route Route) *Result {
	key := CacheKey(req.URL)

	// An inactive worker controls nothing: network only.
	if !d.lifecycle.Active() {
		e, err := d.fetcher.Fetch(ctx, req)
		if err != nil {
			d.log.Debug("network fetch failed before activation", logger.String("url", key), logger.Error(err))
			entry, src := d.offline.Resolve(ctx, nil, req)
			return &Result{Entry: entry, Route: route, Source: src}
		}
		return &Result{Entry: e, Route: route, Source: SourceNetwork}
	}

	cache, err := d.lifecycle.Cache(ctx)
	if err != nil {
		d.log.Warn("cache unavailable", logger.Error(err))
		cache = nil
	}

	if cache != nil {
		cached, ok, err := cache.Match(ctx, key)
		if err != nil {
			d.log.Warn("cache match failed", logger.String("url", key), logger.Error(err))
		}
		if ok {
			d.revalidate(ctx, cache, req, key)
			return &Result{Entry: cached, Route: route, Source: SourceCache}
		}
	}

	e, err := d.fetcher.Fetch(ctx, req)
	if err != nil {
		d.log.Debug("network fetch failed", logger.String("url", key), logger.Error(err))
		entry, src := d.offline.Resolve(ctx, cache, req)
		return &Result{Entry: entry, Route: route, Source: src}
	}
	if cache != nil {
		d.store(ctx, cache, key, e)
	}
	return &Result{Entry: e, Route: route, Source: SourceNetwork}
}

// revalidate refreshes key in the background. The refresh outlives the
// request but not RevalidateTimeout; at most one refresh per key runs at a
// time and refreshes beyond MaxRevalidations are dropped.
func (d *Dispatcher) revalidate(ctx context.Context, cache Cache, req *Request, key string) {
	if _, busy := d.inflight.LoadOrStore(key, struct{}{}); busy {
		return
	}
	if !d.sem.TryAcquire(1) {
		d.inflight.Delete(key)
		d.log.Debug("revalidation skipped, limit reached", logger.String("url", key))
		return
	}

	bg := &Request{Method: req.Method, URL: req.URL, Header: req.Header.Clone(), Mode: req.Mode}
	detached := context.WithoutCancel(ctx)

	d.wg.Go(func() {
		defer d.sem.Release(1)
		defer d.inflight.Delete(key)

		rctx := detached
		if d.cfg.RevalidateTimeout > 0 {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(detached, d.cfg.RevalidateTimeout)
			defer cancel()
		}

		e, err := d.fetcher.Fetch(rctx, bg)
		if err != nil {
			d.metrics.RecordRevalidation(false)
			d.log.Debug("revalidation failed", logger.String("url", key), logger.Error(err))
			return
		}
		d.store(rctx, cache, key, e)
		d.metrics.RecordRevalidation(true)
	})
}

// store writes a cacheable response; anything else is ignored.
func (d *Dispatcher) store(ctx context.Context, cache Cache, key string, e *Entry) {
	if !e.Cacheable() {
		return
	}
	s := e.Clone()
	s.URL = key
	s.StoredAt = time.Now()
	s.Header.Del("Set-Cookie")
	if err := cache.Put(ctx, key, s); err != nil {
		d.log.Warn("cache put failed", logger.String("url", key), logger.Error(err))
	}
}

// Wait blocks until all background refreshes have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// SourceHeader labels edge responses with their Source.
const SourceHeader = "X-Stcedge-Source"

// WriteResult writes res to w with its source label.
func WriteResult(w http.ResponseWriter, res *Result) error {
	w.Header().Set(SourceHeader, string(res.Source))
	return res.Entry.Write(w)
}
