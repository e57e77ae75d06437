package repository

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drsabri-stc/stcedge/internal/swcache"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

// staticFetcher answers every request with a small HTML body.
type staticFetcher struct{}

func (staticFetcher) Fetch(_ context.Context, req *swcache.Request) (*swcache.Entry, error) {
	return &swcache.Entry{
		URL:    swcache.CacheKey(req.URL),
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/html"}},
		Body:   []byte("<html>" + req.URL.Path + "</html>"),
	}, nil
}
