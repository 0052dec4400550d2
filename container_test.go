package ddotel

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupECSContainerID(t *testing.T) {
	t.Run("should read DockerId from the metadata endpoint", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"DockerId":"cd189a933e5849daa93386466019ab50-2495160603","Name":"curl"}`))
		}))
		defer server.Close()

		assert.Equal(t, "cd189a933e5849daa93386466019ab50-2495160603", lookupECSContainerID(server.URL))
	})

	t.Run("should return empty on an error response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		assert.Empty(t, lookupECSContainerID(server.URL))
	})

	t.Run("should return empty when the endpoint is unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		assert.Empty(t, lookupECSContainerID(url))
	})

	t.Run("should return empty outside ECS", func(t *testing.T) {
		assert.Empty(t, lookupECSContainerID(""))
	})
}

func TestLookupGKEPodUID(t *testing.T) {
	t.Run("should prefer the pod uid", func(t *testing.T) {
		t.Setenv("POD_UID", "7b1c6f02-9d1e-4c7e-9c61-0f1f0f6e2a11")
		t.Setenv("HOSTNAME", "settlements-6d8f7c9b5-x2lq9")

		assert.Equal(t, "7b1c6f02-9d1e-4c7e-9c61-0f1f0f6e2a11", lookupGKEPodUID())
	})

	t.Run("should fall back to the hostname", func(t *testing.T) {
		t.Setenv("POD_UID", "")
		t.Setenv("HOSTNAME", "settlements-6d8f7c9b5-x2lq9")

		assert.Equal(t, "settlements-6d8f7c9b5-x2lq9", lookupGKEPodUID())
	})
}

func TestContainerIDWithoutPlatform(t *testing.T) {
	assert.Empty(t, ContainerID(""))
	assert.Empty(t, ContainerID("nomad"))
}
