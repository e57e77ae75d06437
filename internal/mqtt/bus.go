package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/drsabri-stc/stcedge/internal/errors"
	"github.com/drsabri-stc/stcedge/internal/logger"
	"github.com/drsabri-stc/stcedge/internal/swcache"
)

const commandTimeout = 2 * time.Minute

// ErrUnsupportedCommand is reported for commands other than install,
// activate and skipWaiting.
var ErrUnsupportedCommand = errors.NewStd("unsupported lifecycle command")

// EventDispatcher runs a lifecycle event.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev swcache.Event) (*swcache.Outcome, error)
}

// StatusSource reports the cache lifecycle state.
type StatusSource interface {
	Status(ctx context.Context) (swcache.Status, error)
}

// Report is published, retained, on the status topic after every command
// and once on start.
type Report struct {
	Command string         `json:"command,omitempty"`
	Deleted []string       `json:"deleted,omitempty"`
	Error   string         `json:"error,omitempty"`
	Status  swcache.Status `json:"status"`
	Time    time.Time      `json:"time"`
}

// Bus turns messages on <topic>/command into lifecycle events.
type Bus struct {
	client Client
	events EventDispatcher
	status StatusSource
	topic  string
	log    logger.Logger
	now    func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func NewBus(client Client, events EventDispatcher, status StatusSource, topic string, log logger.Logger) *Bus {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Bus{
		client: client,
		events: events,
		status: status,
		topic:  strings.TrimSuffix(topic, "/"),
		log:    log.Module("mqtt"),
		now:    time.Now,
	}
}

func (b *Bus) CommandTopic() string { return b.topic + "/command" }
func (b *Bus) StatusTopic() string  { return b.topic + "/status" }

// Start subscribes to the command topic and publishes the current status.
// ctx bounds the lifetime of command handling.
func (b *Bus) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if err := b.client.Subscribe(ctx, b.CommandTopic(), b.onCommand); err != nil {
		b.cancel()
		return err
	}
	b.log.Info("listening for lifecycle commands", logger.String("topic", b.CommandTopic()))
	return b.publish(ctx, b.report(ctx, "", nil, nil))
}

// Stop unsubscribes and waits for in-flight commands.
func (b *Bus) Stop(ctx context.Context) {
	if err := b.client.Unsubscribe(ctx, b.CommandTopic()); err != nil {
		b.log.Debug("unsubscribe failed", logger.Error(err))
	}
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

func (b *Bus) onCommand(_ string, payload []byte) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()
	defer b.wg.Done()

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	report := b.Handle(ctx, payload)
	if err := b.publish(ctx, report); err != nil {
		b.log.Warn("failed to publish lifecycle status", logger.Error(err))
	}
}

// Handle runs one command and returns the report to publish.
func (b *Bus) Handle(ctx context.Context, payload []byte) Report {
	name, ev, err := parseCommand(payload)
	if err != nil {
		b.log.Warn("rejected lifecycle command", logger.String("payload", string(payload)), logger.Error(err))
		return b.report(ctx, name, nil, err)
	}

	b.log.Info("lifecycle command received", logger.String("command", name))
	out, err := b.events.Dispatch(ctx, ev)
	var deleted []string
	if out != nil {
		deleted = out.Deleted
	}
	if err != nil {
		b.log.Error("lifecycle command failed", logger.String("command", name), logger.Error(err))
	}
	return b.report(ctx, name, deleted, err)
}

func (b *Bus) report(ctx context.Context, command string, deleted []string, cmdErr error) Report {
	r := Report{Command: command, Deleted: deleted, Time: b.now().UTC()}
	if cmdErr != nil {
		r.Error = cmdErr.Error()
	}
	status, err := b.status.Status(ctx)
	if err != nil {
		b.log.Warn("failed to read lifecycle status", logger.Error(err))
	}
	r.Status = status
	return r
}

func (b *Bus) publish(ctx context.Context, r Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return b.client.PublishWithRetain(ctx, b.StatusTopic(), string(data), true)
}

// parseCommand accepts a bare name ("install") or {"command": "install"}.
func parseCommand(payload []byte) (string, swcache.Event, error) {
	name := strings.TrimSpace(string(payload))
	var doc struct {
		Command string `json:"command"`
	}
	if json.Unmarshal(payload, &doc) == nil && doc.Command != "" {
		name = doc.Command
	}

	switch strings.ToLower(name) {
	case string(swcache.EventInstall):
		return name, swcache.Event{Kind: swcache.EventInstall}, nil
	case string(swcache.EventActivate):
		return name, swcache.Event{Kind: swcache.EventActivate}, nil
	case strings.ToLower(swcache.MessageSkipWaiting):
		return name, swcache.Event{Kind: swcache.EventMessage, Data: []byte(swcache.MessageSkipWaiting)}, nil
	}
	return name, swcache.Event{}, ErrUnsupportedCommand
}
