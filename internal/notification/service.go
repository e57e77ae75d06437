// Package notification relays operator-facing summaries of push broadcasts
// to chat and webhook channels through shoutrrr.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/drsabri-stc/stcedge/internal/errors"
	"github.com/drsabri-stc/stcedge/internal/logger"
	"github.com/drsabri-stc/stcedge/internal/push"
)

const defaultTimeout = 30 * time.Second

// sender is the part of shoutrrr's ServiceRouter the service uses.
type sender interface {
	Send(message string, params *types.Params) []error
}

// ServiceConfig configures the reporter channels.
type ServiceConfig struct {
	// URLs are shoutrrr service URLs, e.g. ntfy://ntfy.sh/stc-ops.
	URLs    []string
	Timeout time.Duration
	Log     logger.Logger
}

// Service sends summaries to every configured channel.
type Service struct {
	sender  sender
	timeout time.Duration
	log     logger.Logger
}

// NewService validates the URLs and builds a shoutrrr router for them.
func NewService(config *ServiceConfig) (*Service, error) {
	if len(config.URLs) == 0 {
		return nil, errors.Newf("no report URLs configured").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	router, err := shoutrrr.CreateSender(config.URLs...)
	if err != nil {
		return nil, errors.New(err).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("urls", len(config.URLs)).
			Build()
	}
	return newService(router, config), nil
}

func newService(s sender, config *ServiceConfig) *Service {
	log := config.Log
	if log == nil {
		log = logger.NewNopLogger()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{sender: s, timeout: timeout, log: log.Module("notification")}
}

// Send delivers one message to all channels. Errors from individual
// channels are joined. On timeout Send returns at once; the shoutrrr call
// may still finish later, and its result is dropped.
func (s *Service) Send(ctx context.Context, title, message string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan []error, 1)
	go func() {
		done <- s.sender.Send(message, &types.Params{"title": title})
	}()

	var errs []error
	select {
	case results := <-done:
		for _, err := range results {
			if err != nil {
				errs = append(errs, err)
			}
		}
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.New(errors.Join(errs...)).
		Component("notification").
		Category(errors.CategoryNetwork).
		Context("title", title).
		Build()
}

// BroadcastCompleted implements push.Reporter.
func (s *Service) BroadcastCompleted(ctx context.Context, payload push.Payload, report push.Report) {
	title, message := summarize(payload, report)
	if err := s.Send(ctx, title, message); err != nil {
		s.log.Warn("failed to send broadcast summary", logger.Error(err))
		return
	}
	s.log.Debug("broadcast summary sent", logger.String("title", payload.Title))
}

func summarize(payload push.Payload, report push.Report) (title, message string) {
	title = "Push broadcast: " + payload.Title
	message = fmt.Sprintf("Sent %d, failed %d, removed %d. %d subscribers remain.",
		report.Sent, report.Failed, report.Removed, report.Total)
	return title, message
}
