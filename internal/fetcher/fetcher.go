package fetcher

import (
	"context"
	"time"
)

// Snapshot is one card's current price data. Prices are minor units; nil
// means the card has no listed price for that finish.
type Snapshot struct {
	CardID      string
	Name        string
	BaseMinor   *int64
	FoilMinor   *int64
	EtchedMinor *int64
	FetchedAt   time.Time
}

// PriceFetcher returns a card's price snapshot. A nil snapshot with a nil
// error means the upstream has no record of the card.
type PriceFetcher interface {
	Fetch(ctx context.Context, cardID string) (*Snapshot, error)
}

// FreshFetcher is a PriceFetcher that can bypass its cache for one read.
type FreshFetcher interface {
	PriceFetcher
	FetchFresh(ctx context.Context, cardID string) (*Snapshot, error)
}

// NameResolver maps a printed card name to the pricing upstream's identifier.
type NameResolver interface {
	Resolve(ctx context.Context, name string) (cardID string, found bool, err error)
}

// DecklistSource fetches a published decklist.
type DecklistSource interface {
	FetchDeck(ctx context.Context, deckID string) (Deck, error)
}
