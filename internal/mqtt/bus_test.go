package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drsabri-stc/stcedge/internal/conf"
	"github.com/drsabri-stc/stcedge/internal/errors"
	"github.com/drsabri-stc/stcedge/internal/swcache"
)

type published struct {
	topic   string
	payload string
	retain  bool
}

// fakeClient keeps handlers in memory and records publishes.
type fakeClient struct {
	mu        sync.Mutex
	handlers  map[string]MessageHandler
	published []published
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]MessageHandler)}
}

func (f *fakeClient) Connect(context.Context) error { return nil }
func (f *fakeClient) IsConnected() bool             { return true }
func (f *fakeClient) Disconnect()                   {}

func (f *fakeClient) Publish(ctx context.Context, topic, payload string) error {
	return f.PublishWithRetain(ctx, topic, payload, false)
}

func (f *fakeClient) PublishWithRetain(_ context.Context, topic, payload string, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic, payload, retain})
	return nil
}

func (f *fakeClient) Subscribe(_ context.Context, topic string, h MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeClient) Unsubscribe(_ context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeClient) deliver(topic, payload string) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h != nil {
		h(topic, []byte(payload))
	}
}

func (f *fakeClient) last(t *testing.T) Report {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.published)
	var r Report
	require.NoError(t, json.Unmarshal([]byte(f.published[len(f.published)-1].payload), &r))
	return r
}

type fakeEvents struct {
	mu     sync.Mutex
	events []swcache.Event
	err    error
}

func (f *fakeEvents) Dispatch(_ context.Context, ev swcache.Event) (*swcache.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	if f.err != nil {
		return nil, f.err
	}
	if ev.Kind == swcache.EventActivate {
		return &swcache.Outcome{Deleted: []string{"dr-sabri-stc-v0"}}, nil
	}
	return &swcache.Outcome{}, nil
}

type fixedStatus swcache.Status

func (s fixedStatus) Status(context.Context) (swcache.Status, error) {
	return swcache.Status(s), nil
}

func newTestBus(t *testing.T, events EventDispatcher) (*Bus, *fakeClient) {
	t.Helper()
	client := newFakeClient()
	status := fixedStatus{State: "activated", Active: true, Version: "v1", Namespace: "dr-sabri-stc-v1", Entries: 12}
	bus := NewBus(client, events, status, "stcedge/lifecycle/", nil)
	bus.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	require.NoError(t, bus.Start(t.Context()))
	t.Cleanup(func() { bus.Stop(context.Background()) })
	return bus, client
}

func TestBus_StartPublishesRetainedStatus(t *testing.T) {
	t.Parallel()

	bus, client := newTestBus(t, &fakeEvents{})
	assert.Equal(t, "stcedge/lifecycle/command", bus.CommandTopic())

	require.Len(t, client.published, 1)
	assert.Equal(t, "stcedge/lifecycle/status", client.published[0].topic)
	assert.True(t, client.published[0].retain)

	r := client.last(t)
	assert.Empty(t, r.Command)
	assert.Equal(t, "dr-sabri-stc-v1", r.Status.Namespace)
	assert.Equal(t, 12, r.Status.Entries)
}

func TestBus_Commands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		payload     string
		wantKind    swcache.EventKind
		wantData    string
		wantDeleted []string
	}{
		{name: "bare install", payload: "install", wantKind: swcache.EventInstall},
		{name: "json activate", payload: `{"command":"activate"}`, wantKind: swcache.EventActivate, wantDeleted: []string{"dr-sabri-stc-v0"}},
		{name: "skip waiting", payload: " skipWaiting\n", wantKind: swcache.EventMessage, wantData: swcache.MessageSkipWaiting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			events := &fakeEvents{}
			bus, client := newTestBus(t, events)

			client.deliver(bus.CommandTopic(), tt.payload)

			require.Len(t, events.events, 1)
			assert.Equal(t, tt.wantKind, events.events[0].Kind)
			assert.Equal(t, tt.wantData, string(events.events[0].Data))

			r := client.last(t)
			assert.Empty(t, r.Error)
			assert.Equal(t, tt.wantDeleted, r.Deleted)
			assert.True(t, r.Status.Active)
		})
	}
}

func TestBus_RejectsFetchAndGarbage(t *testing.T) {
	t.Parallel()

	events := &fakeEvents{}
	bus, _ := newTestBus(t, events)

	for _, payload := range []string{"fetch", `{"command":"push"}`, "", "{"} {
		r := bus.Handle(t.Context(), []byte(payload))
		assert.Equal(t, ErrUnsupportedCommand.Error(), r.Error, "payload %q", payload)
	}
	assert.Empty(t, events.events)
}

func TestBus_ReportsDispatchError(t *testing.T) {
	t.Parallel()

	events := &fakeEvents{err: errors.NewStd("core asset /manifest.json returned 500")}
	bus, client := newTestBus(t, events)

	client.deliver(bus.CommandTopic(), "install")

	r := client.last(t)
	assert.Equal(t, "install", r.Command)
	assert.Contains(t, r.Error, "manifest.json")
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), r.Time)
}

func TestBus_IgnoresCommandsAfterStop(t *testing.T) {
	t.Parallel()

	events := &fakeEvents{}
	client := newFakeClient()
	bus := NewBus(client, events, fixedStatus{}, "stcedge/lifecycle", nil)
	require.NoError(t, bus.Start(t.Context()))

	handler := client.handlers[bus.CommandTopic()]
	bus.Stop(t.Context())
	handler(bus.CommandTopic(), []byte("install"))

	assert.Empty(t, events.events)
	assert.NotContains(t, client.handlers, bus.CommandTopic())
}

func TestNewClient_RequiresBroker(t *testing.T) {
	t.Parallel()

	_, err := NewClient(&conf.MQTTSettings{}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.CategoryConfiguration, errors.CategoryOf(err))
}

func TestClient_PublishWithoutConnect(t *testing.T) {
	t.Parallel()

	c, err := NewClient(&conf.MQTTSettings{Broker: "tcp://127.0.0.1:1", ClientID: "t"}, nil)
	require.NoError(t, err)
	assert.False(t, c.IsConnected())
	require.Error(t, c.Publish(t.Context(), "stcedge/x", "y"))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, c.Connect(ctx), context.Canceled)
}
