// Package api implements the JSON endpoints under /api: the push
// subscription flow and the cache lifecycle controls.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/drsabri-stc/stcedge/internal/conf"
	"github.com/drsabri-stc/stcedge/internal/logger"
	"github.com/drsabri-stc/stcedge/internal/push"
	"github.com/drsabri-stc/stcedge/internal/swcache"
)

// AdminSecretHeader carries the shared operator secret.
const AdminSecretHeader = "x-admin-secret"

const (
	rateLimitWindow = 3 * time.Minute
	maxMessageBody  = 64 << 10
)

// PushService is the subscription and broadcast API the handlers use.
type PushService interface {
	Subscribe(ctx context.Context, sub push.Subscription) (bool, error)
	Notify(ctx context.Context, msg push.Message) (push.Report, error)
}

// Lifecycle reports the cache lifecycle state.
type Lifecycle interface {
	Status(ctx context.Context) (swcache.Status, error)
}

// EventDispatcher runs lifecycle events.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev swcache.Event) (*swcache.Outcome, error)
}

// Controller holds the dependencies of the /api handlers.
type Controller struct {
	Group     *echo.Group
	Settings  *conf.Settings
	Push      PushService
	Lifecycle Lifecycle
	Events    EventDispatcher

	logger logger.Logger
}

// New creates the controller and registers its routes on e.
func New(e *echo.Echo, settings *conf.Settings, pushSvc PushService, lifecycle Lifecycle, events EventDispatcher, log logger.Logger) *Controller {
	if log == nil {
		log = logger.NewNopLogger()
	}
	c := &Controller{
		Group:     e.Group("/api"),
		Settings:  settings,
		Push:      pushSvc,
		Lifecycle: lifecycle,
		Events:    events,
		logger:    log.Module("api"),
	}
	c.initPushRoutes()
	c.initServiceWorkerRoutes()
	return c
}

// HandleError logs err and answers with {"error": message}.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	if err != nil {
		fields := []logger.Field{
			logger.Error(err),
			logger.String("path", ctx.Request().URL.Path),
			logger.Int("status", code),
		}
		if code >= http.StatusInternalServerError {
			c.logger.Error(message, fields...)
		} else {
			c.logger.Debug(message, fields...)
		}
	}
	return ctx.JSON(code, map[string]string{"error": message})
}

// adminMiddleware requires the configured admin secret. An unset secret
// locks the endpoint.
func (c *Controller) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		want := c.Settings.Push.AdminSecret
		got := ctx.Request().Header.Get(AdminSecretHeader)
		if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			c.logger.Warn("rejected admin request",
				logger.String("path", ctx.Request().URL.Path),
				logger.String("ip", ctx.RealIP()))
			return ctx.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		return next(ctx)
	}
}

// subscribeRateLimiter limits opt-ins per client IP.
func (c *Controller) subscribeRateLimiter() echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(c.Settings.Server.SubscribeRate),
				Burst:     c.Settings.Server.SubscribeBurst,
				ExpiresIn: rateLimitWindow,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, _ error) error {
			return ctx.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden"})
		},
		DenyHandler: func(ctx echo.Context, _ string, _ error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Too many subscription attempts, please wait before trying again",
			})
		},
	})
}
