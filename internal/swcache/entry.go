// Package swcache implements the offline-first cache engine: a versioned
// cache namespace lifecycle, a per-route request dispatcher and the offline
// fallback resolver.
package swcache

import (
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Entry is a stored response snapshot.
type Entry struct {
	URL        string      `json:"url" msgpack:"url"`
	Status     int         `json:"status" msgpack:"status"`
	StatusText string      `json:"statusText" msgpack:"status_text"`
	Header     http.Header `json:"header" msgpack:"header"`
	Body       []byte      `json:"body" msgpack:"body"`
	StoredAt   time.Time   `json:"storedAt" msgpack:"stored_at"`
}

// Clone returns a deep copy so callers never share a stored body.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Header = e.Header.Clone()
	if e.Body != nil {
		c.Body = append([]byte(nil), e.Body...)
	}
	return &c
}

// OK reports a 2xx status.
func (e *Entry) OK() bool {
	return e != nil && e.Status >= 200 && e.Status <= 299
}

// Cacheable reports whether the response may be written to a namespace:
// any 2xx except partial content, and not marked no-store.
func (e *Entry) Cacheable() bool {
	if !e.OK() || e.Status == http.StatusPartialContent {
		return false
	}
	for _, v := range e.Header.Values("Cache-Control") {
		for directive := range strings.SplitSeq(v, ",") {
			if strings.EqualFold(strings.TrimSpace(directive), "no-store") {
				return false
			}
		}
	}
	return true
}

// Write copies the snapshot to w.
func (e *Entry) Write(w http.ResponseWriter) error {
	h := w.Header()
	maps.Copy(h, e.Header.Clone())
	h.Del("Content-Length")
	w.WriteHeader(e.Status)
	_, err := w.Write(e.Body)
	return err
}

// CacheKey is the namespace key for a URL: the absolute URL with its
// fragment removed. The query string is part of the key.
func CacheKey(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

func offlineEntry() *Entry {
	return &Entry{
		Status:     http.StatusServiceUnavailable,
		StatusText: http.StatusText(http.StatusServiceUnavailable),
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:       []byte("Offline"),
	}
}
