package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/drsabri-stc/stcedge/internal/errors"
	"github.com/drsabri-stc/stcedge/internal/logger"
	"github.com/drsabri-stc/stcedge/internal/swcache"
)

// LifecycleResponse reports the result of a lifecycle event.
type LifecycleResponse struct {
	Event   string         `json:"event"`
	Deleted []string       `json:"deleted"`
	Status  swcache.Status `json:"status"`
}

func (c *Controller) initServiceWorkerRoutes() {
	sw := c.Group.Group("/sw")
	sw.GET("/status", c.GetCacheStatus)

	protected := sw.Group("", c.adminMiddleware)
	protected.POST("/lifecycle/:event", c.TriggerLifecycle)
	protected.POST("/message", c.PostMessage)
}

// GetCacheStatus returns the lifecycle state of the cache.
// GET /api/sw/status
func (c *Controller) GetCacheStatus(ctx echo.Context) error {
	status, err := c.Lifecycle.Status(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read cache status", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, status)
}

// TriggerLifecycle runs install or activate.
// POST /api/sw/lifecycle/:event
func (c *Controller) TriggerLifecycle(ctx echo.Context) error {
	kind, ok := swcache.ParseEventKind(ctx.Param("event"))
	if !ok || (kind != swcache.EventInstall && kind != swcache.EventActivate) {
		return c.HandleError(ctx, nil, "Event must be install or activate", http.StatusBadRequest)
	}
	return c.dispatch(ctx, swcache.Event{Kind: kind})
}

// PostMessage delivers a client message such as "skipWaiting". The body
// is the message text, bare or JSON-encoded.
// POST /api/sw/message
func (c *Controller) PostMessage(ctx echo.Context) error {
	data, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxMessageBody))
	if err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	return c.dispatch(ctx, swcache.Event{Kind: swcache.EventMessage, Data: data})
}

func (c *Controller) dispatch(ctx echo.Context, ev swcache.Event) error {
	reqCtx := ctx.Request().Context()

	out, err := c.Events.Dispatch(reqCtx, ev)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, swcache.ErrNotInstalled) {
			code = http.StatusConflict
		}
		return c.HandleError(ctx, err, "Lifecycle event failed: "+err.Error(), code)
	}

	resp := LifecycleResponse{Event: string(ev.Kind), Deleted: []string{}}
	if out != nil && out.Deleted != nil {
		resp.Deleted = out.Deleted
	}
	if resp.Status, err = c.Lifecycle.Status(reqCtx); err != nil {
		c.logger.Warn("failed to read cache status", logger.Error(err))
	}

	c.logger.Info("lifecycle event handled",
		logger.String("event", string(ev.Kind)),
		logger.Int("deleted", len(resp.Deleted)),
		logger.String("state", resp.Status.State))
	return ctx.JSON(http.StatusOK, resp)
}
