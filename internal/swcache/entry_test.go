package swcache

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntry_Cacheable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		status       int
		cacheControl string
		want         bool
	}{
		{"ok", http.StatusOK, "", true},
		{"no content", http.StatusNoContent, "", true},
		{"public max-age", http.StatusOK, "public, max-age=3600", true},
		{"partial", http.StatusPartialContent, "", false},
		{"redirect", http.StatusFound, "", false},
		{"not found", http.StatusNotFound, "", false},
		{"no-store", http.StatusOK, "no-store", false},
		{"no-store among others", http.StatusOK, "private, NO-STORE , max-age=0", false},
		{"no-cache is storable", http.StatusOK, "no-cache", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := &Entry{Status: tt.status, Header: http.Header{}}
			if tt.cacheControl != "" {
				e.Header.Set("Cache-Control", tt.cacheControl)
			}
			assert.Equal(t, tt.want, e.Cacheable())
		})
	}

	var nilEntry *Entry
	assert.False(t, nilEntry.Cacheable())
}

func TestCacheKey(t *testing.T) {
	t.Parallel()

	u := mustURL(t, testOrigin+"/en/verify?id=42#result")
	assert.Equal(t, testOrigin+"/en/verify?id=42", CacheKey(u))
	assert.Equal(t, "result", u.Fragment, "input URL is not modified")
}

func TestEntry_CloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := &Entry{Status: http.StatusOK, Header: http.Header{"X-A": {"1"}}, Body: []byte("abc")}
	c := orig.Clone()
	c.Body[0] = 'z'
	c.Header.Set("X-A", "2")

	assert.Equal(t, "abc", string(orig.Body))
	assert.Equal(t, "1", orig.Header.Get("X-A"))
}

func TestEntry_Write(t *testing.T) {
	t.Parallel()

	e := &Entry{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/css"}, "Content-Length": {"999"}},
		Body:   []byte("body{}"),
	}
	rec := httptest.NewRecorder()
	require.NoError(t, WriteResult(rec, &Result{Entry: e, Source: SourceCache}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/css", rec.Header().Get("Content-Type"))
	assert.Equal(t, "cache", rec.Header().Get(SourceHeader))
	assert.Empty(t, rec.Header().Get("Content-Length"))
	assert.Equal(t, "body{}", rec.Body.String())
}
