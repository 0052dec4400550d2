package ddotel

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/mux"
)

// RouteResolver returns the route pattern a router matched for r, such as
// "/merchants/{id}", or "" when nothing matched yet.
//
// The middleware asks once before calling the wrapped handler and, if that
// came back empty, once more after it returns. This covers routers that
// match before the middleware runs as well as routers the middleware wraps.
type RouteResolver func(r *http.Request) string

// ServeMuxRoute reads the pattern set by http.ServeMux, dropping the method
// and host parts: "GET example.com/items/{id}" becomes "/items/{id}".
func ServeMuxRoute(r *http.Request) string {
	pattern := r.Pattern
	if _, rest, ok := strings.Cut(pattern, " "); ok {
		pattern = strings.TrimSpace(rest)
	}
	if pattern != "" && !strings.HasPrefix(pattern, "/") {
		i := strings.IndexByte(pattern, '/')
		if i < 0 {
			return ""
		}
		pattern = pattern[i:]
	}
	return pattern
}

// ChiRoute reads the pattern matched by a chi router.
func ChiRoute(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}

// MuxRoute reads the path template matched by a gorilla/mux router.
func MuxRoute(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	tpl, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return tpl
}

// AnyRoute returns a resolver yielding the first non-empty result of
// resolvers.
func AnyRoute(resolvers ...RouteResolver) RouteResolver {
	return func(r *http.Request) string {
		for _, resolve := range resolvers {
			if route := resolve(r); route != "" {
				return route
			}
		}
		return ""
	}
}

// DefaultRouteResolver returns the resolver used when none is configured. It
// understands chi, gorilla/mux and http.ServeMux.
func DefaultRouteResolver() RouteResolver {
	return AnyRoute(ChiRoute, MuxRoute, ServeMuxRoute)
}
