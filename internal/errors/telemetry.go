package errors

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter receives built errors. The default reporter forwards to Sentry.
type Reporter func(err *EnhancedError)

var (
	telemetryEnabled atomic.Bool
	reporterMu       sync.RWMutex
	reporter         Reporter = sentryReporter
)

// InitTelemetry initializes the Sentry client and enables reporting.
// An empty DSN leaves telemetry disabled.
func InitTelemetry(dsn, release, environment string) error {
	if dsn == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Release:     release,
		Environment: environment,
	}); err != nil {
		return err
	}
	telemetryEnabled.Store(true)
	return nil
}

// FlushTelemetry waits for buffered events to be delivered.
func FlushTelemetry(timeout time.Duration) {
	if telemetryEnabled.Load() {
		sentry.Flush(timeout)
	}
}

// SetReporter replaces the reporter and enables reporting. Passing nil
// restores the Sentry reporter and disables reporting.
func SetReporter(r Reporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	if r == nil {
		reporter = sentryReporter
		telemetryEnabled.Store(false)
		return
	}
	reporter = r
	telemetryEnabled.Store(true)
}

func report(e *EnhancedError) {
	if !telemetryEnabled.Load() || e.reported {
		return
	}
	e.reported = true
	reporterMu.RLock()
	r := reporter
	reporterMu.RUnlock()
	r(e)
}

func sentryReporter(e *EnhancedError) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", e.component)
		scope.SetTag("category", string(e.category))
		if len(e.context) > 0 {
			scope.SetContext("error", sentry.Context(e.Context()))
		}
		scope.SetFingerprint([]string{e.describe(), e.Error()})
		sentry.CaptureException(e)
	})
}
