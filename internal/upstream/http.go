package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const maxBodyBytes = 4 << 20

// HTTPOptions parameterise an HTTP origin.
type HTTPOptions struct {
	Service   string
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// HTTP issues GET requests against one origin and classifies the outcome.
type HTTP struct {
	service   string
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewHTTP constructs an origin client. The timeout bounds each single request.
func NewHTTP(opts HTTPOptions) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTP{
		service:   opts.Service,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

// Get fetches path relative to the base URL. It returns the body for 2xx,
// ErrNotFound for 404, and a classified *Error otherwise.
func (h *HTTP) Get(ctx context.Context, path string, query url.Values, accept string) ([]byte, error) {
	endpoint := h.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", h.service, err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, FromTransport(h.service, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, FromTransport(h.service, err)
	}

	if err := CheckStatus(h.service, resp.StatusCode, resp.Header, body); err != nil {
		return nil, err
	}
	return body, nil
}

// CheckStatus maps an HTTP status onto the taxonomy. 5xx is treated as a
// network-class failure because the origin itself is unavailable.
func CheckStatus(service string, status int, header http.Header, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		return &Error{
			Kind:       KindRateLimit,
			Service:    service,
			StatusCode: status,
			RetryAfter: parseRetryAfter(header.Get("Retry-After"), time.Now()),
		}
	case status >= 500:
		return &Error{Kind: KindNetwork, Service: service, StatusCode: status, Err: bodyError(body)}
	default:
		return &Error{Kind: KindInvalidResponse, Service: service, StatusCode: status, Err: bodyError(body)}
	}
}

// FromTransport classifies an error returned by http.Client.Do or a body read.
// Cancellation of the caller's context passes through unclassified.
func FromTransport(service string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Service: service, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Service: service, Err: err}
	}
	return &Error{Kind: KindNetwork, Service: service, Err: err}
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func bodyError(body []byte) error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return nil
	}
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return errors.New(msg)
}
