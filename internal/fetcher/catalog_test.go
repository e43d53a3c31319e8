package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"card-price-sync/internal/ratelimit"
	"card-price-sync/internal/upstream"
)

func newTestResolver(baseURL string) *CatalogResolver {
	caller := upstream.NewCaller(upstream.Policy{Service: "catalog"}, ratelimit.New(noopLogger()), noopLogger()).
		WithSleeper(noSleep)
	return NewCatalogResolver(CatalogOptions{BaseURL: baseURL, Timeout: time.Second, CacheTTL: time.Hour}, caller, noopLogger())
}

func TestResolveExactName(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "/cards/named", r.URL.Path)
		if r.URL.Query().Get("exact") != "Lightning Bolt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"id":"bolt-id","name":"Lightning Bolt"}`))
	}))
	defer srv.Close()

	r := newTestResolver(srv.URL)
	id, found, err := r.Resolve(context.Background(), "Lightning Bolt")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "bolt-id", id)

	id, found, err = r.Resolve(context.Background(), "  lightning   BOLT ")
	require.NoError(t, err)
	assert.True(t, found, "normalised name should hit the cache")
	assert.Equal(t, "bolt-id", id)
	assert.Equal(t, int32(1), hits.Load())
}

func TestResolveUnknownName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, found, err := newTestResolver(srv.URL).Resolve(context.Background(), "Nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResolveRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, _, err := newTestResolver(srv.URL).Resolve(context.Background(), "Lightning Bolt")
	require.ErrorIs(t, err, upstream.ErrRateLimited)
}

func TestResolveBlankName(t *testing.T) {
	_, found, err := newTestResolver("http://unused.invalid").Resolve(context.Background(), "   ")
	require.NoError(t, err)
	assert.False(t, found)
}
