package swcache

import (
	"context"
	"net/url"
	"strings"

	"golang.org/x/text/language"
)

// OfflineResolver picks the response served when neither the cache nor the
// network can answer.
type OfflineResolver struct {
	origin        *url.URL
	pages         map[string]string
	bases         map[language.Base]string
	defaultLocale string
}

// NewOfflineResolver maps each locale to its offline document path.
// Unparseable locales are ignored for matching.
func NewOfflineResolver(origin *url.URL, pages map[string]string, defaultLocale string) *OfflineResolver {
	o := &OfflineResolver{
		origin:        origin,
		pages:         pages,
		bases:         make(map[language.Base]string, len(pages)),
		defaultLocale: defaultLocale,
	}
	for locale := range pages {
		tag, err := language.Parse(locale)
		if err != nil {
			continue
		}
		base, _ := tag.Base()
		o.bases[base] = locale
	}
	return o
}

// Locale returns the locale named by the first path segment, or the
// default. The segment must look like a language tag: /en and /en-US
// match English, /enroll does not.
func (o *OfflineResolver) Locale(path string) string {
	seg, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	primary, _, _ := strings.Cut(strings.ReplaceAll(seg, "_", "-"), "-")
	if len(primary) < 2 || len(primary) > 3 {
		return o.defaultLocale
	}
	tag, err := language.Parse(seg)
	if err != nil {
		return o.defaultLocale
	}
	base, _ := tag.Base()
	if locale, ok := o.bases[base]; ok {
		return locale
	}
	return o.defaultLocale
}

// PageKey returns the cache key of the offline document for path.
func (o *OfflineResolver) PageKey(path string) string {
	page, ok := o.pages[o.Locale(path)]
	if !ok {
		page = o.pages[o.defaultLocale]
	}
	u := *o.origin
	u.Path = page
	u.RawQuery = ""
	return CacheKey(&u)
}

// Resolve answers a request that failed both cache and network.
// Navigations get the locale's offline document from cache; everything
// else, or a missing document, gets a synthetic 503.
func (o *OfflineResolver) Resolve(ctx context.Context, cache Cache, req *Request) (*Entry, Source) {
	if cache != nil && req.IsNavigation() {
		if e, ok, err := cache.Match(ctx, o.PageKey(req.URL.Path)); err == nil && ok {
			return e, SourceOffline
		}
	}
	e := offlineEntry()
	e.URL = CacheKey(req.URL)
	return e, SourceSynthetic
}
