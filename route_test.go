package ddotel

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestServeMuxRoute(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{pattern: "", want: ""},
		{pattern: "/items/{id}", want: "/items/{id}"},
		{pattern: "GET /items/{id}", want: "/items/{id}"},
		{pattern: "GET example.com/items/{id}", want: "/items/{id}"},
		{pattern: "example.com/", want: "/"},
		{pattern: "POST  /items", want: "/items"},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Pattern = tt.pattern
			assert.Equal(t, tt.want, ServeMuxRoute(req))
		})
	}
}

func TestAnyRoute(t *testing.T) {
	empty := func(*http.Request) string { return "" }
	fixed := func(route string) RouteResolver {
		return func(*http.Request) string { return route }
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	assert.Equal(t, "/a", AnyRoute(empty, fixed("/a"), fixed("/b"))(req))
	assert.Empty(t, AnyRoute(empty)(req))
	assert.Empty(t, AnyRoute()(req))
}

func TestDefaultRouteResolver(t *testing.T) {
	t.Run("should resolve nothing without a router", func(t *testing.T) {
		assert.Empty(t, DefaultRouteResolver()(httptest.NewRequest(http.MethodGet, "/merchants/1", nil)))
	})

	t.Run("should resolve a serve mux pattern", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/merchants/1", nil)
		req.Pattern = "GET /merchants/{id}"

		assert.Equal(t, "/merchants/{id}", DefaultRouteResolver()(req))
	})
}

func TestMiddlewareRoutes(t *testing.T) {
	noop := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	tests := []struct {
		name  string
		build func(mw *Middleware) http.Handler
	}{
		{
			name: "serve mux wrapped by the middleware",
			build: func(mw *Middleware) http.Handler {
				m := http.NewServeMux()
				m.Handle("GET /merchants/{id}", noop)
				return mw.Handler(m)
			},
		},
		{
			name: "middleware registered on a serve mux route",
			build: func(mw *Middleware) http.Handler {
				m := http.NewServeMux()
				m.Handle("GET /merchants/{id}", mw.Handler(noop))
				return m
			},
		},
		{
			name: "chi",
			build: func(mw *Middleware) http.Handler {
				r := chi.NewRouter()
				r.Use(mw.Handler)
				r.Get("/merchants/{id}", noop)
				return r
			},
		},
		{
			name: "gorilla mux",
			build: func(mw *Middleware) http.Handler {
				r := mux.NewRouter()
				r.Use(mw.Handler)
				r.Handle("/merchants/{id}", noop).Methods(http.MethodGet)
				return r
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw, recorder := newTestMiddleware(t)
			handler := tt.build(mw)

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/merchants/123", nil))

			attrs := spanAttrs(onlySpan(t, recorder))
			assert.Equal(t, "GET /merchants/{id}", attrs[AttrResourceName].AsString())
			assert.Equal(t, "/merchants/{id}", attrs[AttrHTTPRoute].AsString())
		})
	}
}

func TestMiddlewareUnmatchedRoute(t *testing.T) {
	mw, recorder := newTestMiddleware(t)

	r := chi.NewRouter()
	r.Use(mw.Handler)
	r.Get("/merchants/{id}", func(http.ResponseWriter, *http.Request) {})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unknown/42", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	attrs := spanAttrs(onlySpan(t, recorder))
	assert.Equal(t, "GET /unknown/?", attrs[AttrResourceName].AsString())
	assert.NotContains(t, attrs, AttrHTTPRoute)
	assert.Equal(t, int64(http.StatusNotFound), attrs[AttrHTTPStatusCode].AsInt64())
}

func TestMiddlewareCustomRouteResolver(t *testing.T) {
	mw, recorder := newTestMiddleware(t, WithRouteResolver(func(*http.Request) string {
		return "/custom"
	}))

	mw.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/anything/1", nil))

	attrs := spanAttrs(onlySpan(t, recorder))
	assert.Equal(t, "DELETE /custom", attrs[AttrResourceName].AsString())
}
