package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drsabri-stc/stcedge/internal/conf"
	"github.com/drsabri-stc/stcedge/internal/errors"
	"github.com/drsabri-stc/stcedge/internal/push"
	"github.com/drsabri-stc/stcedge/internal/swcache"
)

const secret = "s3cret"

type fakePush struct {
	mu        sync.Mutex
	subs      []push.Subscription
	subErr    error
	report    push.Report
	notifyErr error
	messages  []push.Message
}

func (f *fakePush) Subscribe(_ context.Context, sub push.Subscription) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub.Endpoint == "" {
		return false, push.ErrInvalidSubscription
	}
	if f.subErr != nil {
		return false, f.subErr
	}
	f.subs = append(f.subs, sub)
	return true, nil
}

func (f *fakePush) Notify(_ context.Context, msg push.Message) (push.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return f.report, f.notifyErr
}

type fakeLifecycle struct {
	status swcache.Status
	err    error
}

func (f *fakeLifecycle) Status(context.Context) (swcache.Status, error) {
	return f.status, f.err
}

type fakeEvents struct {
	mu     sync.Mutex
	events []swcache.Event
	out    *swcache.Outcome
	err    error
}

func (f *fakeEvents) Dispatch(_ context.Context, ev swcache.Event) (*swcache.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.out, f.err
}

type fixture struct {
	e         *echo.Echo
	push      *fakePush
	lifecycle *fakeLifecycle
	events    *fakeEvents
}

func newFixture(t *testing.T, adminSecret string) *fixture {
	t.Helper()
	settings := &conf.Settings{
		Server: conf.ServerSettings{SubscribeRate: 1, SubscribeBurst: 3},
		Push:   conf.PushSettings{AdminSecret: adminSecret},
	}
	f := &fixture{
		e:    echo.New(),
		push: &fakePush{},
		lifecycle: &fakeLifecycle{status: swcache.Status{
			State: "activated", Active: true, Version: "v1", Namespace: "dr-sabri-stc-v1", Entries: 4,
		}},
		events: &fakeEvents{out: &swcache.Outcome{}},
	}
	New(f.e, settings, f.push, f.lifecycle, f.events, nil)
	return f
}

func (f *fixture) post(t *testing.T, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) admin(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return f.post(t, path, body, AdminSecretHeader, secret)
}

func TestSubscribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		subErr   error
		wantCode int
		wantBody string
	}{
		{
			name:     "stored",
			body:     `{"endpoint":"https://push.example/1","keys":{"p256dh":"k","auth":"a"}}`,
			wantCode: http.StatusOK,
			wantBody: `{"success":true,"message":"Subscribed successfully"}`,
		},
		{
			name:     "missing endpoint",
			body:     `{"keys":{"p256dh":"k","auth":"a"}}`,
			wantCode: http.StatusBadRequest,
			wantBody: `{"error":"Invalid subscription object"}`,
		},
		{
			name:     "malformed json",
			body:     `{"endpoint":`,
			wantCode: http.StatusBadRequest,
			wantBody: `{"error":"Invalid subscription object"}`,
		},
		{
			name:     "null body",
			body:     `null`,
			wantCode: http.StatusBadRequest,
			wantBody: `{"error":"Invalid subscription object"}`,
		},
		{
			name:     "storage failure",
			body:     `{"endpoint":"https://push.example/1"}`,
			subErr:   errors.NewStd("disk full"),
			wantCode: http.StatusInternalServerError,
			wantBody: `{"error":"Internal Server Error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, secret)
			f.push.subErr = tt.subErr

			rec := f.post(t, "/api/subscribe", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestSubscribe_RateLimited(t *testing.T) {
	t.Parallel()
	f := newFixture(t, secret)
	body := `{"endpoint":"https://push.example/1"}`

	for range 3 {
		require.Equal(t, http.StatusOK, f.post(t, "/api/subscribe", body).Code)
	}
	rec := f.post(t, "/api/subscribe", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Len(t, f.push.subs, 3)
}

func TestAdminSecret(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		configured string
		sent       string
		wantCode   int
	}{
		{"missing header", secret, "", http.StatusUnauthorized},
		{"wrong secret", secret, "guess", http.StatusUnauthorized},
		{"unset secret locks endpoint", "", "", http.StatusUnauthorized},
		{"correct secret", secret, secret, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tt.configured)

			for _, path := range []string{"/api/send-notification", "/api/sw/lifecycle/install", "/api/sw/message"} {
				body := `{"title":"t","message":"m"}`
				rec := f.post(t, path, body, AdminSecretHeader, tt.sent)
				assert.Equal(t, tt.wantCode, rec.Code, path)
				if tt.wantCode == http.StatusUnauthorized {
					assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
				}
			}
			if tt.wantCode == http.StatusUnauthorized {
				assert.Empty(t, f.push.messages)
				assert.Empty(t, f.events.events)
			}
		})
	}
}

func TestSendNotification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		report    push.Report
		notifyErr error
		wantCode  int
		wantBody  string
	}{
		{
			name:     "broadcast",
			body:     `{"title":"New course","message":"Enrolment is open","url":"/en/courses"}`,
			report:   push.Report{Sent: 3, Failed: 1, Removed: 1, Total: 4},
			wantCode: http.StatusOK,
			wantBody: `{"success":true,"message":"Notifications sent: 3, Failed: 1","sent":3,"failed":1,"removed":1,"totalSubscribers":4}`,
		},
		{
			name:     "no subscriptions",
			body:     `{"title":"New course","message":"Enrolment is open"}`,
			wantCode: http.StatusOK,
			wantBody: `{"success":true,"message":"No subscriptions to send to."}`,
		},
		{
			name:      "missing title",
			body:      `{"message":"Enrolment is open"}`,
			notifyErr: push.ErrInvalidMessage,
			wantCode:  http.StatusBadRequest,
			wantBody:  `{"error":"Title and message are required"}`,
		},
		{
			name:     "malformed json",
			body:     `{"title":`,
			wantCode: http.StatusBadRequest,
			wantBody: `{"error":"Invalid request body"}`,
		},
		{
			name:      "no vapid keys",
			body:      `{"title":"t","message":"m"}`,
			notifyErr: push.ErrNoSender,
			wantCode:  http.StatusServiceUnavailable,
			wantBody:  `{"error":"Push delivery is not configured"}`,
		},
		{
			name:      "storage failure",
			body:      `{"title":"t","message":"m"}`,
			notifyErr: errors.NewStd("read failed"),
			wantCode:  http.StatusInternalServerError,
			wantBody:  `{"error":"Internal Server Error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, secret)
			f.push.report = tt.report
			f.push.notifyErr = tt.notifyErr

			rec := f.admin(t, "/api/send-notification", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestSendNotification_PassesMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, secret)

	f.admin(t, "/api/send-notification", `{"title":"Hi","message":"<b>Hello</b>","url":"/ar/","icon":"/i.png"}`)
	require.Len(t, f.push.messages, 1)
	assert.Equal(t, push.Message{Title: "Hi", Message: "<b>Hello</b>", URL: "/ar/", Icon: "/i.png"}, f.push.messages[0])
}

func TestGetCacheStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t, secret)

	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sw/status", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"activated","active":true,"version":"v1","namespace":"dr-sabri-stc-v1","entries":4}`, rec.Body.String())

	f.lifecycle.err = errors.NewStd("storage offline")
	rec = httptest.NewRecorder()
	f.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sw/status", http.NoBody))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTriggerLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("activate reports deleted namespaces", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, secret)
		f.events.out = &swcache.Outcome{Deleted: []string{"dr-sabri-stc-v0"}}

		rec := f.admin(t, "/api/sw/lifecycle/activate", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{
			"event": "activate",
			"deleted": ["dr-sabri-stc-v0"],
			"status": {"state":"activated","active":true,"version":"v1","namespace":"dr-sabri-stc-v1","entries":4}
		}`, rec.Body.String())
		require.Len(t, f.events.events, 1)
		assert.Equal(t, swcache.EventActivate, f.events.events[0].Kind)
	})

	t.Run("install with nothing deleted", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, secret)

		rec := f.admin(t, "/api/sw/lifecycle/install", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"deleted":[]`)
	})

	t.Run("other events rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, secret)

		for _, ev := range []string{"fetch", "push", "bogus"} {
			rec := f.admin(t, "/api/sw/lifecycle/"+ev, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, ev)
		}
		assert.Empty(t, f.events.events)
	})

	t.Run("activate before install conflicts", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, secret)
		f.events.err = swcache.ErrNotInstalled

		rec := f.admin(t, "/api/sw/lifecycle/activate", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("install failure", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, secret)
		f.events.err = errors.NewStd("precache failed")

		rec := f.admin(t, "/api/sw/lifecycle/install", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "precache failed")
	})
}

func TestPostMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, secret)

	rec := f.admin(t, "/api/sw/message", `"skipWaiting"`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, swcache.EventMessage, f.events.events[0].Kind)
	assert.JSONEq(t, `"skipWaiting"`, string(f.events.events[0].Data))
}
