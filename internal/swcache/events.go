package swcache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/drsabri-stc/stcedge/internal/errors"
)

// EventKind names a worker lifecycle event.
type EventKind string

const (
	EventInstall           EventKind = "install"
	EventActivate          EventKind = "activate"
	EventFetch             EventKind = "fetch"
	EventMessage           EventKind = "message"
	EventPush              EventKind = "push"
	EventNotificationClick EventKind = "notificationclick"
)

// MessageSkipWaiting is the client message that activates a waiting worker.
const MessageSkipWaiting = "skipWaiting"

var (
	ErrUnknownEvent   = errors.NewStd("unknown event kind")
	ErrInvalidPayload = errors.NewStd("invalid event payload")
)

// ParseEventKind maps a name onto a known kind.
func ParseEventKind(s string) (EventKind, bool) {
	switch k := EventKind(strings.ToLower(s)); k {
	case EventInstall, EventActivate, EventFetch, EventMessage, EventPush, EventNotificationClick:
		return k, true
	}
	return "", false
}

// Event is a constructed lifecycle event.
type Event struct {
	Kind EventKind
	// Request is set for fetch events.
	Request *Request
	// Data carries the message text or the push payload.
	Data []byte
	// URL is the clicked notification's target.
	URL string
}

// Notification is what a push event would display.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
	Icon  string `json:"icon"`
}

// Outcome is the result of a handled event. Only the field matching the
// event kind is set.
type Outcome struct {
	Deleted      []string
	Result       *Result
	Notification *Notification
	OpenURL      string
}

// Handler handles one event kind.
type Handler func(ctx context.Context, ev Event) (*Outcome, error)

// EventsConfig carries the defaults used by push and notificationclick.
type EventsConfig struct {
	Origin      *url.URL
	DefaultURL  string
	DefaultIcon string
}

// Events is the handler table keyed by event kind.
type Events struct {
	handlers map[EventKind]Handler
}

// NewEvents builds the default table over a lifecycle and dispatcher.
func NewEvents(l *Lifecycle, d *Dispatcher, cfg EventsConfig) *Events {
	if cfg.DefaultURL == "" {
		cfg.DefaultURL = "/"
	}
	e := &Events{handlers: make(map[EventKind]Handler, 6)}

	e.handlers[EventInstall] = func(ctx context.Context, _ Event) (*Outcome, error) {
		return &Outcome{}, l.Install(ctx)
	}
	e.handlers[EventActivate] = func(ctx context.Context, _ Event) (*Outcome, error) {
		deleted, err := l.Activate(ctx)
		return &Outcome{Deleted: deleted}, err
	}
	e.handlers[EventFetch] = func(ctx context.Context, ev Event) (*Outcome, error) {
		if ev.Request == nil {
			return nil, fmt.Errorf("%w: fetch without request", ErrInvalidPayload)
		}
		res, err := d.Handle(ctx, ev.Request)
		if err != nil {
			return nil, err
		}
		return &Outcome{Result: res}, nil
	}
	e.handlers[EventMessage] = func(ctx context.Context, ev Event) (*Outcome, error) {
		if messageText(ev.Data) != MessageSkipWaiting {
			return &Outcome{}, nil
		}
		deleted, err := l.SkipWaiting(ctx)
		return &Outcome{Deleted: deleted}, err
	}
	e.handlers[EventPush] = func(_ context.Context, ev Event) (*Outcome, error) {
		var n Notification
		if err := json.Unmarshal(ev.Data, &n); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		if n.URL == "" {
			n.URL = cfg.DefaultURL
		}
		if n.Icon == "" {
			n.Icon = cfg.DefaultIcon
		}
		return &Outcome{Notification: &n}, nil
	}
	e.handlers[EventNotificationClick] = func(_ context.Context, ev Event) (*Outcome, error) {
		return &Outcome{OpenURL: resolveClickURL(cfg.Origin, ev.URL, cfg.DefaultURL)}, nil
	}
	return e
}

// On replaces the handler for kind.
func (e *Events) On(kind EventKind, h Handler) {
	e.handlers[kind] = h
}

// Dispatch runs the handler registered for ev.Kind.
func (e *Events) Dispatch(ctx context.Context, ev Event) (*Outcome, error) {
	h, ok := e.handlers[ev.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	}
	return h(ctx, ev)
}

// messageText accepts both a bare string and a JSON-encoded one.
func messageText(data []byte) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(data))
}

// resolveClickURL resolves target against origin. Targets on other origins
// fall back to the default so a push payload cannot redirect off-site.
func resolveClickURL(origin *url.URL, target, fallback string) string {
	if target == "" {
		target = fallback
	}
	ref, err := url.Parse(target)
	if err != nil {
		ref = &url.URL{Path: fallback}
	}
	u := origin.ResolveReference(ref)
	if u.Scheme != origin.Scheme || u.Host != origin.Host {
		u = origin.ResolveReference(&url.URL{Path: fallback})
	}
	return u.String()
}
