package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"text/tabwriter"

	"card-price-sync/internal/fetcher"
	"card-price-sync/internal/service"
	"card-price-sync/internal/storage"
	"card-price-sync/internal/upstream"
)

// DeckLine is one valued decklist entry.
type DeckLine struct {
	Entry  fetcher.DeckEntry
	CardID string
	Finish storage.Finish
	// UnitMinor is nil when the card could not be priced.
	UnitMinor  *int64
	TotalMinor int64
	Note       string
}

// DeckValuation totals a decklist at current prices, in minor units.
type DeckValuation struct {
	DeckID     string
	Lines      []DeckLine
	TotalMinor int64
	Unpriced   int
}

// DeckValue fetches a published decklist, resolves every card name, and
// values it with fresh prices.
func (a *App) DeckValue(ctx context.Context, deckRef string) (DeckValuation, error) {
	deckID := deckIDFromRef(deckRef)
	if deckID == "" {
		return DeckValuation{}, fmt.Errorf("invalid deck reference %q", deckRef)
	}
	if a.Config.Decklist.BaseURL == "" {
		return DeckValuation{}, fmt.Errorf("decklist.base_url is not configured: %w", storage.ErrNotConfigured)
	}

	deck, err := a.newDecklist().FetchDeck(ctx, deckID)
	if err != nil {
		return DeckValuation{}, err
	}

	valuation, err := valueDeck(ctx, deck, a.newResolver(), a.newPriceFetcher())
	if err != nil {
		return valuation, err
	}
	a.Logger.Info().
		Str("deck_id", deckID).
		Int("entries", len(valuation.Lines)).
		Int("unpriced", valuation.Unpriced).
		Int64("total_minor", valuation.TotalMinor).
		Msg("deck valued")
	return valuation, a.printValuation(valuation)
}

// valueDeck prices each entry at its cheapest listed finish. Throttling or
// network exhaustion aborts; other per-card failures mark the line unpriced.
func valueDeck(ctx context.Context, deck fetcher.Deck, resolver fetcher.NameResolver, prices fetcher.PriceFetcher) (DeckValuation, error) {
	valuation := DeckValuation{DeckID: deck.ID}
	for _, entry := range deck.Entries {
		line := DeckLine{Entry: entry}
		if err := priceLine(ctx, &line, resolver, prices); err != nil {
			if service.IsRetryable(err) || ctx.Err() != nil {
				return valuation, err
			}
			line.Note = errorNote(err)
		}
		if line.UnitMinor == nil {
			valuation.Unpriced++
		} else {
			line.TotalMinor = *line.UnitMinor * int64(entry.Quantity)
			valuation.TotalMinor += line.TotalMinor
		}
		valuation.Lines = append(valuation.Lines, line)
	}
	return valuation, nil
}

func priceLine(ctx context.Context, line *DeckLine, resolver fetcher.NameResolver, prices fetcher.PriceFetcher) error {
	cardID, found, err := resolver.Resolve(ctx, line.Entry.Name)
	if err != nil {
		return err
	}
	if !found {
		line.Note = "unknown card"
		return nil
	}
	line.CardID = cardID

	snap, err := prices.Fetch(ctx, cardID)
	if err != nil {
		return err
	}
	if snap == nil {
		line.Note = "not found"
		return nil
	}

	obs := storage.PriceObservation{BaseMinor: snap.BaseMinor, FoilMinor: snap.FoilMinor, EtchedMinor: snap.EtchedMinor}
	for _, finish := range storage.Finishes {
		p := obs.Price(finish)
		if p != nil && (line.UnitMinor == nil || *p < *line.UnitMinor) {
			line.UnitMinor = p
			line.Finish = finish
		}
	}
	if line.UnitMinor == nil {
		line.Note = "no listed price"
	}
	return nil
}

func errorNote(err error) string {
	if kind, ok := upstream.KindOf(err); ok {
		return string(kind)
	}
	return "error"
}

// deckIDFromRef accepts a bare deck id or a deck page URL whose path
// contains ".../decks/{id}".
func deckIDFromRef(ref string) string {
	ref = strings.TrimSpace(ref)
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return strings.Trim(ref, "/")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		if (part == "decks" || part == "deck") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	if len(parts) > 0 {
		return parts[len(parts)-1]
	}
	return ""
}

func (a *App) printValuation(v DeckValuation) error {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Qty\tCard\tBoard\tFinish\tUnit\tTotal\tNote")
	for _, line := range v.Lines {
		board := "main"
		if line.Entry.Sideboard {
			board = "side"
		}
		total := "-"
		if line.UnitMinor != nil {
			total = fetcher.FormatMinorUnits(&line.TotalMinor)
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			line.Entry.Quantity,
			line.Entry.Name,
			board,
			line.Finish,
			fetcher.FormatMinorUnits(line.UnitMinor),
			total,
			line.Note,
		)
	}
	fmt.Fprintf(writer, "\t\t\t\t\t%s\t%d unpriced\n", fetcher.FormatMinorUnits(&v.TotalMinor), v.Unpriced)
	return writer.Flush()
}
