package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"card-price-sync/internal/cache"
	"card-price-sync/internal/upstream"
)

// PriceOptions parameterise the pricing API client.
type PriceOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// PriceClient performs single, unretried card lookups against the pricing API.
type PriceClient struct {
	http    *upstream.HTTP
	service string
	now     func() time.Time
}

// NewPriceClient constructs the raw pricing client for service.
func NewPriceClient(service string, opts PriceOptions) *PriceClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.scryfall.com"
	}
	return &PriceClient{
		http: upstream.NewHTTP(upstream.HTTPOptions{
			Service:   service,
			BaseURL:   baseURL,
			Timeout:   opts.Timeout,
			UserAgent: opts.UserAgent,
		}),
		service: service,
		now:     time.Now,
	}
}

// Lookup fetches one card. It returns upstream.ErrNotFound when the API has
// no such card and a classified *upstream.Error on any other failure.
func (c *PriceClient) Lookup(ctx context.Context, cardID string) (*Snapshot, error) {
	body, err := c.http.Get(ctx, "/cards/"+url.PathEscape(cardID), nil, "application/json")
	if err != nil {
		return nil, err
	}

	var payload cardResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, upstream.Invalid(c.service, fmt.Errorf("decode card %s: %w", cardID, err))
	}
	if payload.Object == "error" {
		return nil, upstream.Invalid(c.service, fmt.Errorf("card %s: error object in 2xx response", cardID))
	}

	snap := &Snapshot{CardID: cardID, Name: payload.Name, FetchedAt: c.now().UTC()}
	fields := []struct {
		raw *string
		dst **int64
	}{
		{payload.Prices.USD, &snap.BaseMinor},
		{payload.Prices.USDFoil, &snap.FoilMinor},
		{payload.Prices.USDEtched, &snap.EtchedMinor},
	}
	for _, f := range fields {
		minor, err := ToMinorUnits(f.raw)
		if err != nil {
			return nil, upstream.Invalid(c.service, fmt.Errorf("card %s: %w", cardID, err))
		}
		*f.dst = minor
	}
	return snap, nil
}

type cardResponse struct {
	Object string `json:"object"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	Prices struct {
		USD       *string `json:"usd"`
		USDFoil   *string `json:"usd_foil"`
		USDEtched *string `json:"usd_etched"`
	} `json:"prices"`
}

type cardLookup interface {
	Lookup(ctx context.Context, cardID string) (*Snapshot, error)
}

// PriceService is the cached, throttled, retrying price fetcher.
type PriceService struct {
	client cardLookup
	caller *upstream.Caller
	cache  *cache.TTL[Snapshot]
	logger zerolog.Logger
}

// NewPriceService wires a lookup client behind the shared caller and a TTL cache.
func NewPriceService(client cardLookup, caller *upstream.Caller, ttl time.Duration, logger zerolog.Logger) *PriceService {
	return &PriceService{
		client: client,
		caller: caller,
		cache:  cache.New[Snapshot]("price_snapshot", ttl),
		logger: logger.With().Str("component", "price_fetcher").Logger(),
	}
}

// WithCache replaces the snapshot cache. Tests inject one with a fake clock.
func (s *PriceService) WithCache(c *cache.TTL[Snapshot]) *PriceService {
	s.cache = c
	return s
}

// Fetch returns the card's snapshot from cache or the upstream. Not-found
// results are returned as (nil, nil) and never cached.
func (s *PriceService) Fetch(ctx context.Context, cardID string) (*Snapshot, error) {
	if snap, ok := s.cache.Get(cardID); ok {
		return &snap, nil
	}
	return s.lookup(ctx, cardID)
}

// FetchFresh skips the cache read and always asks the upstream. The result
// still refreshes the cache for later Fetch calls.
func (s *PriceService) FetchFresh(ctx context.Context, cardID string) (*Snapshot, error) {
	return s.lookup(ctx, cardID)
}

func (s *PriceService) lookup(ctx context.Context, cardID string) (*Snapshot, error) {
	var snap *Snapshot
	err := s.caller.Call(ctx, func(ctx context.Context) error {
		got, err := s.client.Lookup(ctx, cardID)
		if err != nil {
			return err
		}
		snap = got
		return nil
	})
	if errors.Is(err, upstream.ErrNotFound) {
		s.cache.Delete(cardID)
		s.logger.Debug().Str("card_id", cardID).Msg("card not found upstream")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch price %s: %w", cardID, err)
	}

	s.cache.Set(cardID, *snap)
	return snap, nil
}

// ClearCache drops every cached snapshot.
func (s *PriceService) ClearCache() {
	s.logger.Debug().Int("entries", s.cache.Len()).Msg("clearing price cache")
	s.cache.Clear()
}

var _ FreshFetcher = (*PriceService)(nil)
