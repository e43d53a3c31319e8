package storage

import "time"

// AlertKind is the direction of a price movement.
type AlertKind string

const (
	AlertIncrease AlertKind = "increase"
	AlertDecrease AlertKind = "decrease"
)

// Finish is a card's print variant. Each finish carries its own price.
type Finish string

const (
	FinishNormal Finish = "normal"
	FinishFoil   Finish = "foil"
	FinishEtched Finish = "etched"
)

// Finishes lists every finish in the order alerts are evaluated.
var Finishes = []Finish{FinishNormal, FinishFoil, FinishEtched}

// Category is a holding category.
type Category string

const (
	CategoryOwned  Category = "owned"
	CategoryWanted Category = "wanted"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryOwned || c == CategoryWanted
}

// PriceObservation is one append-only price reading. A nil price means the
// card had no listed price for that finish when it was observed.
type PriceObservation struct {
	ID          int64
	CardID      string
	BaseMinor   *int64
	FoilMinor   *int64
	EtchedMinor *int64
	ObservedAt  time.Time
}

// Price returns the observation's price for finish.
func (o PriceObservation) Price(f Finish) *int64 {
	switch f {
	case FinishNormal:
		return o.BaseMinor
	case FinishFoil:
		return o.FoilMinor
	case FinishEtched:
		return o.EtchedMinor
	}
	return nil
}

// PriceAlert records a threshold-crossing move for one owner's card.
type PriceAlert struct {
	ID            int64
	OwnerID       int64
	CardID        string
	Kind          AlertKind
	Finish        Finish
	PreviousMinor int64
	NewMinor      int64
	PercentChange float64
	CreatedAt     time.Time
	Dismissed     bool
	DismissedAt   *time.Time
}

// Holding places a card in an owner's collection or wishlist.
type Holding struct {
	OwnerID  int64
	CardID   string
	Category Category
	Quantity int
}

// DayBounds returns the half-open calendar day [start, end) containing t in
// t's location.
func DayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
