// Package api is the HTTP surface of stcedge: the intercepting edge for
// site traffic and the JSON endpoints under /api.
package api

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	gommonlog "github.com/labstack/gommon/log"

	apiv2 "github.com/drsabri-stc/stcedge/internal/api/v2"
	"github.com/drsabri-stc/stcedge/internal/conf"
	"github.com/drsabri-stc/stcedge/internal/errors"
	"github.com/drsabri-stc/stcedge/internal/logger"
	"github.com/drsabri-stc/stcedge/internal/observability/metrics"
	"github.com/drsabri-stc/stcedge/internal/swcache"
)

// Config lists the server's collaborators.
type Config struct {
	Settings   *conf.Settings
	Logger     logger.Logger
	Classifier *swcache.Classifier
	Dispatcher *swcache.Dispatcher
	Lifecycle  *swcache.Lifecycle
	Events     *swcache.Events
	Push       apiv2.PushService
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Server routes every request either to an /api handler, through the
// cache dispatcher, or to the upstream.
type Server struct {
	echo       *echo.Echo
	settings   *conf.Settings
	log        logger.Logger
	origin     *url.URL
	classifier *swcache.Classifier
	dispatcher *swcache.Dispatcher
	lifecycle  *swcache.Lifecycle
	metrics    *metrics.Metrics
	proxy      *httputil.ReverseProxy
	controller *apiv2.Controller
}

func New(cfg Config) (*Server, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	origin, err := url.Parse(cfg.Settings.Site.Origin)
	if err != nil {
		return nil, errors.New(err).Component("api").Category(errors.CategoryConfiguration).Build()
	}
	upstream, err := url.Parse(cfg.Settings.Site.FetchBase())
	if err != nil {
		return nil, errors.New(err).Component("api").Category(errors.CategoryConfiguration).Build()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(gommonlog.OFF)

	s := &Server{
		echo:       e,
		settings:   cfg.Settings,
		log:        log.Module("http"),
		origin:     origin,
		classifier: cfg.Classifier,
		dispatcher: cfg.Dispatcher,
		lifecycle:  cfg.Lifecycle,
		metrics:    cfg.Metrics,
	}
	s.proxy = s.newProxy(upstream, nil)

	s.setupMiddleware()
	s.registerRoutes()
	s.controller = apiv2.New(e, cfg.Settings, cfg.Push, cfg.Lifecycle, cfg.Events, log)
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
				logger.String("request_id", v.RequestID),
				logger.String("ip", v.RemoteIP),
			}
			if src := c.Response().Header().Get(swcache.SourceHeader); src != "" {
				fields = append(fields, logger.String("source", src))
			}
			s.log.Debug("request", fields...)
			return nil
		},
	}))
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.healthz)
	if s.settings.Metrics.Enabled && s.metrics != nil {
		s.echo.GET(s.settings.Metrics.Path, echo.WrapHandler(s.metrics.Handler()))
	}
	s.registerPWARoutes()
	s.echo.Any("/*", s.handleEdge)
}

// Handler exposes the router for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"cache":     s.lifecycle.State().String(),
		"namespace": s.lifecycle.Namespace(),
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully and
// waits for background cache refreshes.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.settings.Server.Listen,
		Handler:           s.echo,
		ReadTimeout:       s.settings.Server.ReadTimeout.Std(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.settings.Server.WriteTimeout.Std(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logger.String("addr", srv.Addr))
		errCh <- s.echo.StartServer(srv)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New(err).Component("api").Category(errors.CategoryNetwork).Build()
	case <-ctx.Done():
	}

	timeout := s.settings.Server.ShutdownTimeout.Std()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	s.log.Info("shutting down http server")
	err := srv.Shutdown(shutdownCtx)
	s.dispatcher.Wait()
	<-errCh
	return err
}
