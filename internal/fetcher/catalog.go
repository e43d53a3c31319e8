package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"card-price-sync/internal/cache"
	"card-price-sync/internal/upstream"
)

// CatalogOptions parameterise the card-name resolver.
type CatalogOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	CacheTTL  time.Duration
}

// CatalogResolver resolves printed names to card identifiers through the
// catalog origin's exact-name endpoint. It shares the retry and gate
// behaviour of the price fetcher under its own service name.
type CatalogResolver struct {
	http    *upstream.HTTP
	caller  *upstream.Caller
	cache   *cache.TTL[string]
	service string
	logger  zerolog.Logger
}

// NewCatalogResolver constructs a resolver behind caller.
func NewCatalogResolver(opts CatalogOptions, caller *upstream.Caller, logger zerolog.Logger) *CatalogResolver {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.scryfall.com"
	}
	return &CatalogResolver{
		http: upstream.NewHTTP(upstream.HTTPOptions{
			Service:   caller.Service(),
			BaseURL:   baseURL,
			Timeout:   opts.Timeout,
			UserAgent: opts.UserAgent,
		}),
		caller:  caller,
		cache:   cache.New[string]("name_resolution", opts.CacheTTL),
		service: caller.Service(),
		logger:  logger.With().Str("component", "catalog_resolver").Logger(),
	}
}

// Resolve returns the identifier for name. found is false when the catalog
// has no card by that exact name.
func (r *CatalogResolver) Resolve(ctx context.Context, name string) (string, bool, error) {
	key := normaliseName(name)
	if key == "" {
		return "", false, nil
	}
	if id, ok := r.cache.Get(key); ok {
		return id, true, nil
	}

	var id string
	err := r.caller.Call(ctx, func(ctx context.Context) error {
		body, err := r.http.Get(ctx, "/cards/named", url.Values{"exact": {strings.TrimSpace(name)}}, "application/json")
		if err != nil {
			return err
		}
		var payload struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return upstream.Invalid(r.service, fmt.Errorf("decode named card: %w", err))
		}
		if payload.ID == "" {
			return upstream.Invalid(r.service, errors.New("named card response without id"))
		}
		id = payload.ID
		return nil
	})
	if errors.Is(err, upstream.ErrNotFound) {
		r.logger.Debug().Str("name", name).Msg("card name not found")
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve card name %q: %w", name, err)
	}

	r.cache.Set(key, id)
	return id, true, nil
}

// ClearCache drops every cached resolution.
func (r *CatalogResolver) ClearCache() {
	r.cache.Clear()
}

func normaliseName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

var _ NameResolver = (*CatalogResolver)(nil)
