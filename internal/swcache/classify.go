package swcache

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Route is the dispatch strategy chosen for a request.
type Route int

const (
	// RouteBypass covers non-GET and non-http(s) requests.
	RouteBypass Route = iota
	// RouteAPI is any request whose path is under the API prefix.
	RouteAPI
	// RouteFont is an allow-listed cross-origin font host.
	RouteFont
	// RouteCrossOrigin is any other foreign origin.
	RouteCrossOrigin
	// RouteStatic is a same-origin static asset.
	RouteStatic
	// RouteDocument is everything else: pages and navigations.
	RouteDocument
)

func (r Route) String() string {
	switch r {
	case RouteBypass:
		return "bypass"
	case RouteAPI:
		return "api"
	case RouteFont:
		return "font"
	case RouteCrossOrigin:
		return "cross_origin"
	case RouteStatic:
		return "static"
	case RouteDocument:
		return "document"
	default:
		return "unknown"
	}
}

// Intercepted reports whether the dispatcher answers this route itself.
func (r Route) Intercepted() bool {
	return r == RouteFont || r == RouteStatic || r == RouteDocument
}

// ModeNavigate is the Sec-Fetch-Mode of top-level document loads.
const ModeNavigate = "navigate"

// Request is the part of an intercepted request the dispatcher looks at.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Mode   string
}

// NewRequest converts an incoming HTTP request. Origin-form request
// targets are resolved against origin; absolute-form targets (proxy
// requests) keep their own scheme and host.
func NewRequest(r *http.Request, origin *url.URL) *Request {
	u := *r.URL
	if !u.IsAbs() {
		u.Scheme = origin.Scheme
		u.Host = origin.Host
	}
	return &Request{
		Method: r.Method,
		URL:    &u,
		Header: r.Header,
		Mode:   r.Header.Get("Sec-Fetch-Mode"),
	}
}

// IsNavigation reports whether the request loads a top-level document.
// Clients that do not send Sec-Fetch-Mode are treated as navigating when
// they ask for HTML.
func (r *Request) IsNavigation() bool {
	if r.Mode != "" {
		return r.Mode == ModeNavigate
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

// Classifier maps requests onto routes.
type Classifier struct {
	origin    *url.URL
	apiPrefix string
	fontHosts map[string]struct{}
	exts      map[string]struct{}
	prefixes  []string
}

// ClassifierConfig lists the inputs a Classifier needs.
type ClassifierConfig struct {
	Origin         *url.URL
	APIPrefix      string
	FontHosts      []string
	StaticExts     []string
	StaticPrefixes []string
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	c := &Classifier{
		origin:    cfg.Origin,
		apiPrefix: strings.TrimSuffix(cfg.APIPrefix, "/"),
		fontHosts: make(map[string]struct{}, len(cfg.FontHosts)),
		exts:      make(map[string]struct{}, len(cfg.StaticExts)),
		prefixes:  cfg.StaticPrefixes,
	}
	for _, h := range cfg.FontHosts {
		c.fontHosts[strings.ToLower(h)] = struct{}{}
	}
	for _, e := range cfg.StaticExts {
		c.exts[strings.ToLower(e)] = struct{}{}
	}
	return c
}

// Classify picks the route for req. The checks run in a fixed order:
// method and scheme, API prefix, origin, static asset, document.
func (c *Classifier) Classify(req *Request) Route {
	if req.Method != http.MethodGet {
		return RouteBypass
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return RouteBypass
	}

	p := req.URL.Path
	if p == c.apiPrefix || strings.HasPrefix(p, c.apiPrefix+"/") {
		return RouteAPI
	}

	if !c.SameOrigin(req.URL) {
		if _, ok := c.fontHosts[strings.ToLower(req.URL.Hostname())]; ok {
			return RouteFont
		}
		return RouteCrossOrigin
	}

	if c.isStatic(p) {
		return RouteStatic
	}
	return RouteDocument
}

// SameOrigin compares scheme and host (including port) with the site origin.
func (c *Classifier) SameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, c.origin.Scheme) && strings.EqualFold(u.Host, c.origin.Host)
}

func (c *Classifier) isStatic(p string) bool {
	for _, prefix := range c.prefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	_, ok := c.exts[strings.ToLower(path.Ext(p))]
	return ok
}
