package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/drsabri-stc/stcedge/internal/errors"
	"github.com/drsabri-stc/stcedge/internal/logger"
	"github.com/drsabri-stc/stcedge/internal/push"
)

// SubscribeResponse is returned by POST /api/subscribe.
type SubscribeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// NotifyResponse is returned by POST /api/send-notification.
type NotifyResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	Sent             *int   `json:"sent,omitempty"`
	Failed           *int   `json:"failed,omitempty"`
	Removed          *int   `json:"removed,omitempty"`
	TotalSubscribers *int   `json:"totalSubscribers,omitempty"`
}

func (c *Controller) initPushRoutes() {
	c.Group.POST("/subscribe", c.Subscribe, c.subscribeRateLimiter())
	c.Group.POST("/send-notification", c.SendNotification, c.adminMiddleware)
}

// Subscribe stores a browser push subscription. Duplicates succeed
// without being stored twice.
// POST /api/subscribe
func (c *Controller) Subscribe(ctx echo.Context) error {
	var sub push.Subscription
	if err := decodeJSON(ctx, &sub); err != nil {
		return c.HandleError(ctx, err, "Invalid subscription object", http.StatusBadRequest)
	}

	if _, err := c.Push.Subscribe(ctx.Request().Context(), sub); err != nil {
		if errors.Is(err, push.ErrInvalidSubscription) {
			return c.HandleError(ctx, err, "Invalid subscription object", http.StatusBadRequest)
		}
		return c.HandleError(ctx, err, "Internal Server Error", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, SubscribeResponse{Success: true, Message: "Subscribed successfully"})
}

// SendNotification broadcasts a message to every subscription.
// POST /api/send-notification
func (c *Controller) SendNotification(ctx echo.Context) error {
	var msg push.Message
	if err := decodeJSON(ctx, &msg); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}

	report, err := c.Push.Notify(ctx.Request().Context(), msg)
	switch {
	case errors.Is(err, push.ErrInvalidMessage):
		return c.HandleError(ctx, err, "Title and message are required", http.StatusBadRequest)
	case errors.Is(err, push.ErrNoSender):
		return c.HandleError(ctx, err, "Push delivery is not configured", http.StatusServiceUnavailable)
	case err != nil:
		return c.HandleError(ctx, err, "Internal Server Error", http.StatusInternalServerError)
	}

	if report == (push.Report{}) {
		return ctx.JSON(http.StatusOK, NotifyResponse{Success: true, Message: "No subscriptions to send to."})
	}

	c.logger.Info("notification broadcast requested",
		logger.String("title", msg.Title),
		logger.Int("sent", report.Sent),
		logger.Int("failed", report.Failed))

	return ctx.JSON(http.StatusOK, NotifyResponse{
		Success:          true,
		Message:          fmt.Sprintf("Notifications sent: %d, Failed: %d", report.Sent, report.Failed),
		Sent:             &report.Sent,
		Failed:           &report.Failed,
		Removed:          &report.Removed,
		TotalSubscribers: &report.Total,
	})
}

// decodeJSON reads a bounded JSON body into v. A "null" body is rejected.
func decodeJSON(ctx echo.Context, v any) error {
	body, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxMessageBody+1))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) > maxMessageBody {
		return fmt.Errorf("request body exceeds %d bytes", maxMessageBody)
	}
	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if string(raw) == "null" {
		return fmt.Errorf("empty JSON body")
	}
	return json.Unmarshal(raw, v)
}
