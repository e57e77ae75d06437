package api

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
)

// registerPWARoutes serves the browser-side worker script straight from
// the upstream, never from the cache. Service-Worker-Allowed widens its
// scope to the whole site.
func (s *Server) registerPWARoutes() {
	upstream, _ := url.Parse(s.settings.Site.FetchBase())
	worker := s.newProxy(upstream, func(resp *http.Response) error {
		resp.Header.Set("Service-Worker-Allowed", "/")
		resp.Header.Set("Cache-Control", "no-cache")
		return nil
	})

	s.echo.GET("/sw.js", echo.WrapHandler(worker))
}
