package swcache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drsabri-stc/stcedge/internal/errors"
	"github.com/drsabri-stc/stcedge/internal/logger"
	"github.com/drsabri-stc/stcedge/internal/observability/metrics"
)

// State mirrors a browser service worker registration state.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// ErrNotInstalled is returned when Activate runs before a successful Install.
var ErrNotInstalled = errors.NewStd("worker is not installed")

// secondaryConcurrency bounds best-effort page fetches during install.
const secondaryConcurrency = 4

// LifecycleConfig configures a Lifecycle.
type LifecycleConfig struct {
	Origin *url.URL
	// Prefix and Version form the namespace name Prefix-Version.
	Prefix         string
	Version        string
	CoreAssets     []string
	SecondaryPages []string
	// SkipWaiting activates immediately after a successful install.
	SkipWaiting bool
}

// Lifecycle owns the versioned cache namespace: it fills it on install and
// removes older versions on activate. Transitions are serialized; state
// reads never wait on fetches or storage calls.
type Lifecycle struct {
	storage Storage
	fetcher Fetcher
	cfg     LifecycleConfig
	log     logger.Logger
	metrics *metrics.CacheMetrics

	// op serializes Install, Activate and SkipWaiting.
	op sync.Mutex

	mu     sync.RWMutex
	state  State
	active atomic.Bool
}

func NewLifecycle(storage Storage, fetcher Fetcher, cfg LifecycleConfig, log logger.Logger, m *metrics.CacheMetrics) *Lifecycle {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Lifecycle{
		storage: storage,
		fetcher: fetcher,
		cfg:     cfg,
		log:     log.Module("lifecycle").With(logger.String("namespace", cfg.Prefix+"-"+cfg.Version)),
		metrics: m,
		state:   StateParsed,
	}
}

// Namespace is the current versioned namespace name.
func (l *Lifecycle) Namespace() string {
	return l.cfg.Prefix + "-" + l.cfg.Version
}

func (l *Lifecycle) Version() string {
	return l.cfg.Version
}

// State returns the latest lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Lifecycle) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Active reports whether the namespace has been activated at least once.
// A failed re-install does not deactivate a worker that already serves.
func (l *Lifecycle) Active() bool {
	return l.active.Load()
}

// Cache opens the current namespace.
func (l *Lifecycle) Cache(ctx context.Context) (Cache, error) {
	return l.storage.Open(ctx, l.Namespace())
}

// Install pre-populates the namespace. Core assets are all-or-nothing: if
// any fetch fails or returns a non-2xx status nothing is written and the
// worker becomes redundant. Secondary pages are best effort.
func (l *Lifecycle) Install(ctx context.Context) error {
	l.op.Lock()
	defer l.op.Unlock()

	l.setState(StateInstalling)
	start := time.Now()

	if err := l.install(ctx); err != nil {
		l.setState(StateRedundant)
		l.log.Error("install failed", logger.Error(err))
		return err
	}

	l.setState(StateInstalled)
	l.log.Info("install complete",
		logger.Int("core_assets", len(l.cfg.CoreAssets)),
		logger.Duration("elapsed", time.Since(start)))

	if l.cfg.SkipWaiting {
		if _, err := l.activate(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (l *Lifecycle) install(ctx context.Context) error {
	cache, err := l.storage.Open(ctx, l.Namespace())
	if err != nil {
		return errors.New(err).
			Component("swcache").
			Category(errors.CategoryStorage).
			Context("namespace", l.Namespace()).
			Build()
	}

	entries := make([]*Entry, len(l.cfg.CoreAssets))
	g, gctx := errgroup.WithContext(ctx)
	for i, asset := range l.cfg.CoreAssets {
		g.Go(func() error {
			e, err := l.fetcher.Fetch(gctx, l.assetRequest(asset))
			if err != nil {
				l.metrics.RecordPrecache("core", false)
				return err
			}
			if !e.OK() {
				l.metrics.RecordPrecache("core", false)
				return fmt.Errorf("precache %s: unexpected status %d", asset, e.Status)
			}
			l.metrics.RecordPrecache("core", true)
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.New(err).
			Component("swcache").
			Category(errors.CategoryNetwork).
			Context("namespace", l.Namespace()).
			Build()
	}

	now := time.Now()
	for _, e := range entries {
		e.StoredAt = now
		if err := cache.Put(ctx, e.URL, e); err != nil {
			return errors.New(err).
				Component("swcache").
				Category(errors.CategoryStorage).
				Context("namespace", l.Namespace()).
				Context("url", e.URL).
				Build()
		}
	}

	l.precacheSecondary(ctx, cache)
	return nil
}

func (l *Lifecycle) precacheSecondary(ctx context.Context, cache Cache) {
	var g errgroup.Group
	g.SetLimit(secondaryConcurrency)
	for _, page := range l.cfg.SecondaryPages {
		g.Go(func() error {
			e, err := l.fetcher.Fetch(ctx, l.assetRequest(page))
			if err == nil && !e.Cacheable() {
				err = fmt.Errorf("unexpected status %d", e.Status)
			}
			if err == nil {
				e.StoredAt = time.Now()
				err = cache.Put(ctx, e.URL, e)
			}
			if err != nil {
				l.metrics.RecordPrecache("secondary", false)
				l.log.Warn("secondary page not cached", logger.String("page", page), logger.Error(err))
				return nil
			}
			l.metrics.RecordPrecache("secondary", true)
			return nil
		})
	}
	_ = g.Wait()
}

// Activate deletes every namespace that shares this app's prefix but is not
// the current version and returns the deleted names. Running it again is a
// no-op.
func (l *Lifecycle) Activate(ctx context.Context) ([]string, error) {
	l.op.Lock()
	defer l.op.Unlock()
	return l.activate(ctx)
}

// SkipWaiting activates an installed worker that is waiting. Other states
// are left alone.
func (l *Lifecycle) SkipWaiting(ctx context.Context) ([]string, error) {
	l.op.Lock()
	defer l.op.Unlock()
	if l.State() != StateInstalled {
		return nil, nil
	}
	return l.activate(ctx)
}

// activate runs with op held.
func (l *Lifecycle) activate(ctx context.Context) ([]string, error) {
	prev := l.State()
	if prev != StateInstalled && prev != StateActivated {
		return nil, fmt.Errorf("%w: state is %s", ErrNotInstalled, prev)
	}
	l.setState(StateActivating)

	names, err := l.storage.Keys(ctx)
	if err != nil {
		l.setState(prev)
		return nil, errors.New(err).
			Component("swcache").
			Category(errors.CategoryStorage).
			Build()
	}

	current := l.Namespace()
	var deleted []string
	for _, name := range names {
		if name == current || !strings.HasPrefix(name, l.cfg.Prefix+"-") {
			continue
		}
		if _, err := l.storage.Delete(ctx, name); err != nil {
			l.setState(prev)
			return deleted, errors.New(err).
				Component("swcache").
				Category(errors.CategoryStorage).
				Context("namespace", name).
				Build()
		}
		l.log.Info("deleted stale namespace", logger.String("stale", name))
		deleted = append(deleted, name)
	}

	l.metrics.RecordNamespacesDeleted(len(deleted))
	l.setState(StateActivated)
	l.active.Store(true)
	return deleted, nil
}

// Status is a point-in-time view of the lifecycle.
type Status struct {
	State     string `json:"state"`
	Active    bool   `json:"active"`
	Version   string `json:"version"`
	Namespace string `json:"namespace"`
	Entries   int    `json:"entries"`
}

func (l *Lifecycle) Status(ctx context.Context) (Status, error) {
	st := Status{
		State:     l.State().String(),
		Active:    l.Active(),
		Version:   l.cfg.Version,
		Namespace: l.Namespace(),
	}

	if !st.Active {
		return st, nil
	}
	cache, err := l.Cache(ctx)
	if err != nil {
		return st, err
	}
	keys, err := cache.Keys(ctx)
	if err != nil {
		return st, err
	}
	st.Entries = len(keys)
	return st, nil
}

func (l *Lifecycle) assetRequest(p string) *Request {
	u := *l.cfg.Origin
	u.Path = p
	u.RawQuery = ""
	return &Request{
		Method: http.MethodGet,
		URL:    &u,
		Header: http.Header{},
	}
}
