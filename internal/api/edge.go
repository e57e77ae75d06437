package api

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/drsabri-stc/stcedge/internal/logger"
	"github.com/drsabri-stc/stcedge/internal/observability/metrics"
	"github.com/drsabri-stc/stcedge/internal/swcache"
)

// handleEdge is the fetch path. Intercepted routes go through the
// dispatcher; other same-origin traffic (API calls, non-GET) is proxied to
// the upstream unchanged; foreign origins are refused.
func (s *Server) handleEdge(c echo.Context) error {
	req := swcache.NewRequest(c.Request(), s.origin)
	route := s.classifier.Classify(req)

	if route.Intercepted() {
		res, err := s.dispatcher.Handle(c.Request().Context(), req)
		if err != nil {
			return err
		}
		return swcache.WriteResult(c.Response(), res)
	}

	if route == swcache.RouteCrossOrigin || !s.classifier.SameOrigin(req.URL) {
		return c.JSON(http.StatusMisdirectedRequest, map[string]string{"error": "Misdirected Request"})
	}

	if s.metrics != nil {
		s.metrics.Cache.RecordDispatch(route.String(), metrics.SourceBypass)
	}
	s.proxy.ServeHTTP(c.Response(), c.Request())
	return nil
}

// newProxy forwards to upstream with the public Host header. modify, when
// set, edits upstream responses.
func (s *Server) newProxy(upstream *url.URL, modify func(*http.Response) error) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(upstream)
			r.Out.Host = s.origin.Host
			r.SetXForwarded()
		},
		ModifyResponse: modify,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.log.Warn("upstream request failed",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Error(err))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"Bad Gateway"}`))
		},
	}
}
