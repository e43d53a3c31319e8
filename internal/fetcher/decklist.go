package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"card-price-sync/internal/upstream"
)

// DeckEntry is one line of a decklist.
type DeckEntry struct {
	Quantity  int
	Name      string
	Sideboard bool
}

// Deck is a parsed decklist.
type Deck struct {
	ID      string
	Entries []DeckEntry
}

// DecklistOptions parameterise the decklist scraper.
type DecklistOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// DecklistFetcher downloads plain-text deck exports from the deck origin.
type DecklistFetcher struct {
	http    *upstream.HTTP
	caller  *upstream.Caller
	service string
	logger  zerolog.Logger
}

// NewDecklistFetcher constructs a scraper behind caller.
func NewDecklistFetcher(opts DecklistOptions, caller *upstream.Caller, logger zerolog.Logger) *DecklistFetcher {
	return &DecklistFetcher{
		http: upstream.NewHTTP(upstream.HTTPOptions{
			Service:   caller.Service(),
			BaseURL:   opts.BaseURL,
			Timeout:   opts.Timeout,
			UserAgent: opts.UserAgent,
		}),
		caller:  caller,
		service: caller.Service(),
		logger:  logger.With().Str("component", "decklist_fetcher").Logger(),
	}
}

// ErrDeckNotFound is returned when the deck origin has no such deck.
var ErrDeckNotFound = errors.New("deck not found")

// FetchDeck downloads and parses deckID.
func (f *DecklistFetcher) FetchDeck(ctx context.Context, deckID string) (Deck, error) {
	var deck Deck
	err := f.caller.Call(ctx, func(ctx context.Context) error {
		body, err := f.http.Get(ctx, "/decks/"+url.PathEscape(deckID)+"/export", nil, "text/plain")
		if err != nil {
			return err
		}
		entries, err := ParseDecklist(body)
		if err != nil {
			return upstream.Invalid(f.service, fmt.Errorf("deck %s: %w", deckID, err))
		}
		deck = Deck{ID: deckID, Entries: entries}
		return nil
	})
	if errors.Is(err, upstream.ErrNotFound) {
		return Deck{}, fmt.Errorf("%w: %s", ErrDeckNotFound, deckID)
	}
	if err != nil {
		return Deck{}, fmt.Errorf("fetch deck %s: %w", deckID, err)
	}

	f.logger.Debug().Str("deck_id", deckID).Int("entries", len(deck.Entries)).Msg("decklist fetched")
	return deck, nil
}

var (
	quantityPrefix = regexp.MustCompile(`^(\d+)x?\s+(.+)$`)
	setSuffix      = regexp.MustCompile(`\s+\([A-Za-z0-9]{2,6}\)(\s+\S+)?$`)
)

// ParseDecklist parses "N Card Name" lines. A "Sideboard" header or an "SB:"
// prefix marks sideboard cards; "//" and "#" lines are comments. Repeated
// names are merged.
func ParseDecklist(body []byte) ([]DeckEntry, error) {
	var (
		entries   []DeckEntry
		index     = make(map[string]int)
		sideboard bool
	)

	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "//"), strings.HasPrefix(line, "#"):
			if strings.Contains(strings.ToLower(line), "sideboard") {
				sideboard = true
			}
			continue
		case strings.EqualFold(line, "sideboard"), strings.EqualFold(line, "sideboard:"):
			sideboard = true
			continue
		case strings.EqualFold(line, "deck"), strings.EqualFold(line, "mainboard"):
			sideboard = false
			continue
		}

		entrySideboard := sideboard
		if len(line) >= 3 && strings.EqualFold(line[:3], "SB:") {
			entrySideboard = true
			line = strings.TrimSpace(line[3:])
			if line == "" {
				continue
			}
		}

		qty := 1
		name := line
		if m := quantityPrefix.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, fmt.Errorf("invalid quantity in line %q", line)
			}
			if n == 0 {
				continue
			}
			qty, name = n, m[2]
		}
		name = strings.TrimSpace(setSuffix.ReplaceAllString(name, ""))
		if name == "" {
			continue
		}

		key := fmt.Sprintf("%t|%s", entrySideboard, normaliseName(name))
		if i, ok := index[key]; ok {
			entries[i].Quantity += qty
			continue
		}
		index[key] = len(entries)
		entries = append(entries, DeckEntry{Quantity: qty, Name: name, Sideboard: entrySideboard})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.New("decklist has no entries")
	}
	return entries, nil
}

var _ DecklistSource = (*DecklistFetcher)(nil)
