package swcache

import (
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockFetcher(t *testing.T, maxBytes int64) (*HTTPFetcher, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	f := NewHTTPFetcher(FetcherConfig{
		Client:        &http.Client{Transport: transport},
		Origin:        mustURL(t, testOrigin),
		Upstream:      mustURL(t, "http://127.0.0.1:3000"),
		MaxEntryBytes: maxBytes,
		Timeout:       5 * time.Second,
	})
	return f, transport
}

func TestHTTPFetcher_SameOriginGoesUpstream(t *testing.T) {
	t.Parallel()

	f, transport := newMockFetcher(t, 1024)

	var gotHost, gotLang, gotCookie string
	transport.RegisterResponder(http.MethodGet, "http://127.0.0.1:3000/en/about",
		func(req *http.Request) (*http.Response, error) {
			gotHost = req.Host
			gotLang = req.Header.Get("Accept-Language")
			gotCookie = req.Header.Get("Cookie")
			resp := httpmock.NewStringResponse(http.StatusOK, "<h1>About</h1>")
			resp.Header.Set("Content-Type", "text/html")
			resp.Header.Set("Connection", "keep-alive")
			return resp, nil
		})

	req := getRequest(t, testOrigin+"/en/about#team", true)
	req.Header.Set("Accept-Language", "en")
	req.Header.Set("Cookie", "sid=secret")

	e, err := f.Fetch(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, testOrigin+"/en/about", e.URL, "entries are keyed by public URL")
	assert.Equal(t, http.StatusOK, e.Status)
	assert.Equal(t, "OK", e.StatusText)
	assert.Equal(t, "<h1>About</h1>", string(e.Body))
	assert.Equal(t, "text/html", e.Header.Get("Content-Type"))
	assert.Empty(t, e.Header.Get("Connection"))

	assert.Equal(t, "drsabri-stc.com", gotHost)
	assert.Equal(t, "en", gotLang)
	assert.Empty(t, gotCookie)
}

func TestHTTPFetcher_FontHostFetchedDirectly(t *testing.T) {
	t.Parallel()

	f, transport := newMockFetcher(t, 1024)
	transport.RegisterResponder(http.MethodGet, "https://fonts.googleapis.com/css2?family=Cairo",
		httpmock.NewStringResponder(http.StatusOK, "@font-face{}"))

	e, err := f.Fetch(t.Context(), getRequest(t, "https://fonts.googleapis.com/css2?family=Cairo", false))
	require.NoError(t, err)
	assert.Equal(t, "@font-face{}", string(e.Body))
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestHTTPFetcher_NonOKIsAResult(t *testing.T) {
	t.Parallel()

	f, transport := newMockFetcher(t, 1024)
	transport.RegisterResponder(http.MethodGet, "http://127.0.0.1:3000/gone",
		httpmock.NewStringResponder(http.StatusNotFound, "nope"))

	e, err := f.Fetch(t.Context(), getRequest(t, testOrigin+"/gone", false))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, e.Status)
	assert.False(t, e.Cacheable())
}

func TestHTTPFetcher_Errors(t *testing.T) {
	t.Parallel()

	f, transport := newMockFetcher(t, 8)
	transport.RegisterResponder(http.MethodGet, "http://127.0.0.1:3000/big.js",
		httpmock.NewStringResponder(http.StatusOK, "0123456789"))
	transport.RegisterResponder(http.MethodGet, "http://127.0.0.1:3000/exact.js",
		httpmock.NewStringResponder(http.StatusOK, "01234567"))
	transport.RegisterResponder(http.MethodGet, "http://127.0.0.1:3000/down",
		httpmock.NewErrorResponder(errNetworkDown))

	_, err := f.Fetch(t.Context(), getRequest(t, testOrigin+"/big.js", false))
	require.ErrorIs(t, err, ErrEntryTooLarge)

	e, err := f.Fetch(t.Context(), getRequest(t, testOrigin+"/exact.js", false))
	require.NoError(t, err)
	assert.Len(t, e.Body, 8)

	_, err = f.Fetch(t.Context(), getRequest(t, testOrigin+"/down", false))
	require.ErrorIs(t, err, errNetworkDown)
}
