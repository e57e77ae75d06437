package swcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/drsabri-stc/stcedge/internal/errors"
)

// ErrEntryTooLarge is returned when a response body exceeds the entry limit.
var ErrEntryTooLarge = errors.NewStd("response exceeds maximum cache entry size")

// Fetcher performs live network fetches. A non-2xx response is a result,
// not an error; only transport failures are errors.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Entry, error)
}

// forwardedHeaders are copied from the client request to origin fetches.
// Cookies are not forwarded because stored entries are shared.
var forwardedHeaders = []string{"Accept", "Accept-Language", "User-Agent"}

// hopHeaders never make it into an entry.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// FetcherConfig configures an HTTPFetcher.
type FetcherConfig struct {
	Client *http.Client
	// Origin is the public site origin requests are keyed by.
	Origin *url.URL
	// Upstream, when set, receives same-origin fetches instead of Origin.
	Upstream      *url.URL
	MaxEntryBytes int64
	Timeout       time.Duration
}

// HTTPFetcher fetches same-origin URLs from the upstream and allow-listed
// foreign URLs directly.
type HTTPFetcher struct {
	client   *http.Client
	origin   *url.URL
	upstream *url.URL
	maxBytes int64
	timeout  time.Duration
}

func NewHTTPFetcher(cfg FetcherConfig) *HTTPFetcher {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	upstream := cfg.Upstream
	if upstream == nil {
		upstream = cfg.Origin
	}
	return &HTTPFetcher{
		client:   client,
		origin:   cfg.Origin,
		upstream: upstream,
		maxBytes: cfg.MaxEntryBytes,
		timeout:  cfg.Timeout,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*Entry, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	target := *req.URL
	target.Fragment = ""
	target.RawFragment = ""
	sameOrigin := target.Scheme == f.origin.Scheme && target.Host == f.origin.Host
	if sameOrigin {
		target.Scheme = f.upstream.Scheme
		target.Host = f.upstream.Host
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", req.URL, err)
	}
	if sameOrigin {
		httpReq.Host = f.origin.Host
	}
	for _, h := range forwardedHeaders {
		if v := req.Header.Get(h); v != "" {
			httpReq.Header.Set(h, v)
		}
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", req.URL, err)
	}

	header := resp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}

	return &Entry{
		URL:        CacheKey(req.URL),
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     header,
		Body:       body,
	}, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, ErrEntryTooLarge
	}
	return body, nil
}
