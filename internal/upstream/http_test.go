package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusOK, nil},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusBadGateway, ErrNetwork},
		{http.StatusServiceUnavailable, ErrNetwork},
		{http.StatusBadRequest, ErrInvalidResponse},
		{http.StatusUnauthorized, ErrInvalidResponse},
	}
	for _, tt := range tests {
		err := CheckStatus("pricing", tt.status, http.Header{}, nil)
		if tt.want == nil {
			assert.NoError(t, err, "status %d", tt.status)
			continue
		}
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
	}
}

func TestCheckStatusRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "3")
	err := CheckStatus("pricing", http.StatusTooManyRequests, h, nil)

	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 3*time.Second, ue.RetryAfter)
	assert.Equal(t, http.StatusTooManyRequests, ue.StatusCode)
}

func TestParseRetryAfterDate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got := parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now)
	assert.Equal(t, 90*time.Second, got)
	assert.Zero(t, parseRetryAfter("soon", now))
	assert.Zero(t, parseRetryAfter("", now))
}

func TestHTTPGetSuccessAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cards/abc", r.URL.Path)
		assert.Equal(t, "x", r.URL.Query().Get("q"))
		assert.Equal(t, "cardsync/test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	h := NewHTTP(HTTPOptions{Service: "pricing", BaseURL: srv.URL + "/", UserAgent: "cardsync/test"})
	body, err := h.Get(context.Background(), "/cards/abc", map[string][]string{"q": {"x"}}, "application/json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestHTTPGetTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	h := NewHTTP(HTTPOptions{Service: "pricing", BaseURL: srv.URL, Timeout: 30 * time.Millisecond})
	_, err := h.Get(context.Background(), "/slow", nil, "")
	require.ErrorIs(t, err, ErrTimeout)
}

func TestHTTPGetConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	h := NewHTTP(HTTPOptions{Service: "pricing", BaseURL: url, Timeout: time.Second})
	_, err := h.Get(context.Background(), "/x", nil, "")
	require.ErrorIs(t, err, ErrNetwork)
}

func TestFromTransportPassesCancellation(t *testing.T) {
	err := FromTransport("pricing", context.Canceled)
	_, classified := KindOf(err)
	assert.False(t, classified)
	assert.ErrorIs(t, err, context.Canceled)
}
