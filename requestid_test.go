package ddotel

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	t.Run("should keep the caller's id", func(t *testing.T) {
		var seen string
		handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = r.Header.Get(HeaderRequestID)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "req-42")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "req-42", seen)
		assert.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))
	})

	t.Run("should generate an id when missing", func(t *testing.T) {
		var seen string
		handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = r.Header.Get(HeaderRequestID)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		_, err := uuid.Parse(seen)
		require.NoError(t, err)
		assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))
	})

	t.Run("should put the id on the request span", func(t *testing.T) {
		mw, recorder := newTestMiddleware(t)
		handler := RequestID()(mw.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		attrs := spanAttrs(onlySpan(t, recorder))
		assert.Equal(t, rec.Header().Get(HeaderRequestID), attrs[AttrHTTPRequestID].AsString())
	})
}
