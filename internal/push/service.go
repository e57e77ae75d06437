package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drsabri-stc/stcedge/internal/errors"
	"github.com/drsabri-stc/stcedge/internal/logger"
	"github.com/drsabri-stc/stcedge/internal/observability/metrics"
)

var (
	// ErrInvalidSubscription is returned for a subscription without endpoint.
	ErrInvalidSubscription = errors.NewStd("invalid subscription object")
	// ErrNoSender is returned by Notify when VAPID keys are not configured.
	ErrNoSender = errors.NewStd("push delivery is not configured")
)

// Delivery outcome labels.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeRemoved = "removed"
	OutcomeExpired = "expired"
)

// Report summarizes a broadcast.
type Report struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Removed int `json:"removed"`
	// Total is the number of subscriptions left after pruning.
	Total int `json:"totalSubscribers"`
}

// Reporter is told about every completed broadcast.
type Reporter interface {
	BroadcastCompleted(ctx context.Context, payload Payload, report Report)
}

// ServiceConfig tunes delivery.
type ServiceConfig struct {
	// Concurrency bounds in-flight sends.
	Concurrency int
	// SendTimeout bounds each send.
	SendTimeout time.Duration
	Defaults    Defaults
}

// Service implements subscribe and broadcast on top of a Repository.
type Service struct {
	repo     Repository
	sender   Sender
	cfg      ServiceConfig
	log      logger.Logger
	metrics  *metrics.PushMetrics
	reporter Reporter
	now      func() time.Time

	// mu serializes read-modify-write cycles on the repository.
	mu sync.Mutex
	// reports tracks reporter calls still in flight.
	reports sync.WaitGroup
}

func NewService(repo Repository, sender Sender, cfg ServiceConfig, log logger.Logger, m *metrics.PushMetrics) *Service {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Service{
		repo:    repo,
		sender:  sender,
		cfg:     cfg,
		log:     log.Module("push"),
		metrics: m,
		now:     time.Now,
	}
}

// SetReporter installs a broadcast reporter; nil disables reporting.
// Reports run in the background and never delay Notify.
func (s *Service) SetReporter(r Reporter) {
	s.reporter = r
}

// Wait blocks until every background report has returned.
func (s *Service) Wait() {
	s.reports.Wait()
}

// Subscribe stores sub unless its endpoint is already known and reports
// whether it was added. Only a missing endpoint is an error; storage
// failures are logged, not returned.
func (s *Service) Subscribe(ctx context.Context, sub Subscription) (bool, error) {
	if sub.Endpoint == "" {
		s.metrics.RecordSubscribe("invalid")
		return false, ErrInvalidSubscription
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.repo.List(ctx)
	if err != nil {
		s.log.Error("failed to read subscriptions", logger.Error(err))
		return false, nil
	}
	for _, existing := range subs {
		if existing.Endpoint == sub.Endpoint {
			s.metrics.RecordSubscribe("duplicate")
			s.log.Debug("subscription already exists", logger.String("endpoint", sub.Endpoint))
			return false, nil
		}
	}

	if err := s.repo.Append(ctx, sub); err != nil {
		s.log.Error("failed to save subscription", logger.Error(err))
		return false, nil
	}
	s.metrics.RecordSubscribe("added")
	s.metrics.SetSubscriptions(len(subs) + 1)
	s.log.Info("new subscription added", logger.Int("total", len(subs)+1))
	return true, nil
}

// Subscriptions returns the stored list.
func (s *Service) Subscriptions(ctx context.Context) ([]Subscription, error) {
	return s.repo.List(ctx)
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeTransient
	outcomePermanent
	outcomeExpired
)

// Notify sends msg to every subscription concurrently. Subscriptions the
// push service reports as gone, or whose expiry has passed, are removed;
// transient failures are kept and counted as failed. The store is rewritten
// only when something was removed. An unreadable store is logged and
// treated as empty.
func (s *Service) Notify(ctx context.Context, msg Message) (Report, error) {
	payload, err := BuildPayload(msg, s.cfg.Defaults)
	if err != nil {
		return Report{}, err
	}
	if s.sender == nil {
		return Report{}, ErrNoSender
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Report{}, fmt.Errorf("failed to encode payload: %w", err)
	}

	subs, err := s.repo.List(ctx)
	if err != nil {
		s.log.Error("failed to read subscriptions", logger.Error(err))
		return Report{}, nil
	}
	if len(subs) == 0 {
		return Report{}, nil
	}

	results := s.deliver(ctx, subs, body)

	var report Report
	gone := make(map[string]struct{})
	for i, r := range results {
		switch r {
		case outcomeSent:
			report.Sent++
		case outcomeTransient:
			report.Failed++
		case outcomePermanent, outcomeExpired:
			report.Removed++
			gone[subs[i].Endpoint] = struct{}{}
		}
	}

	report.Total = s.prune(ctx, gone, len(subs)-len(gone))

	s.metrics.RecordDeliveries(OutcomeSent, report.Sent)
	s.metrics.RecordDeliveries(OutcomeFailed, report.Failed)
	s.metrics.RecordDeliveries(OutcomeRemoved, report.Removed)
	s.metrics.SetSubscriptions(report.Total)

	s.log.Info("broadcast complete",
		logger.String("title", payload.Title),
		logger.Int("sent", report.Sent),
		logger.Int("failed", report.Failed),
		logger.Int("removed", report.Removed),
		logger.Int("total", report.Total))

	if reporter := s.reporter; reporter != nil {
		rctx := context.WithoutCancel(ctx)
		s.reports.Add(1)
		go func() {
			defer s.reports.Done()
			reporter.BroadcastCompleted(rctx, payload, report)
		}()
	}
	return report, nil
}

func (s *Service) deliver(ctx context.Context, subs []Subscription, body []byte) []outcome {
	results := make([]outcome, len(subs))
	now := s.now()

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, sub := range subs {
		if sub.Expired(now) {
			results[i] = outcomeExpired
			s.metrics.RecordDeliveries(OutcomeExpired, 1)
			s.log.Info("removing expired subscription", logger.String("endpoint", sub.Endpoint))
			continue
		}
		g.Go(func() error {
			results[i] = s.send(ctx, sub, body)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) send(ctx context.Context, sub Subscription, body []byte) outcome {
	if s.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SendTimeout)
		defer cancel()
	}

	err := s.sender.Send(ctx, sub, body)
	if err == nil {
		return outcomeSent
	}

	var de *DeliveryError
	if errors.As(err, &de) && de.Permanent() {
		s.log.Info("removing gone subscription",
			logger.String("endpoint", sub.Endpoint),
			logger.Int("status", de.StatusCode))
		return outcomePermanent
	}
	s.log.Warn("error sending notification", logger.String("endpoint", sub.Endpoint), logger.Error(err))
	return outcomeTransient
}

// prune removes gone endpoints from a fresh read of the store, so
// subscriptions added while the broadcast was in flight survive. It
// returns the remaining count; fallback is used when the store cannot be
// read.
func (s *Service) prune(ctx context.Context, gone map[string]struct{}, fallback int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.List(ctx)
	if err != nil {
		s.log.Error("failed to re-read subscriptions", logger.Error(err))
		return fallback
	}
	if len(gone) == 0 {
		return len(current)
	}

	kept := make([]Subscription, 0, len(current))
	for _, sub := range current {
		if _, ok := gone[sub.Endpoint]; !ok {
			kept = append(kept, sub)
		}
	}
	if len(kept) == len(current) {
		return len(current)
	}
	if err := s.repo.Replace(ctx, kept); err != nil {
		s.log.Error("failed to save pruned subscriptions", logger.Error(err))
		return len(current)
	}
	return len(kept)
}
