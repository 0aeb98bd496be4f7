// Package ledger records executed trades and generates order numbers.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shockx/marketplace/internal/models"
	"github.com/shockx/marketplace/internal/store"
)

const orderNumberIDLength = 5

// OrderNumber builds the human-readable number stamped on an order when
// it matches: a side tag (B for bids, A for asks), the match date as
// yymmdd, and the order id zero-padded to five digits. Order ids are
// unique, so the number is unique by construction. It is generated
// exactly once; matched orders never change.
func OrderNumber(side models.Side, orderID int, when time.Time) string {
	tag := "A"
	if side == models.SideBid {
		tag = "B"
	}
	return fmt.Sprintf("%s%s%0*d", tag, when.Format("060102"), orderNumberIDLength, orderID)
}

// Ledger writes trade records. Trades are append-only; there is no update
// or delete path.
type Ledger struct {
	store store.Store
}

// New creates a Ledger over the given store.
func New(s store.Store) *Ledger {
	return &Ledger{store: s}
}

// RecordTrade persists the immutable pairing of a matched bid and ask.
func (l *Ledger) RecordTrade(ctx context.Context, bidID, askID int) (*models.Trade, error) {
	trade, err := l.store.CreateTrade(ctx, bidID, askID)
	if err != nil {
		return nil, fmt.Errorf("failed to record trade: %w", err)
	}
	return trade, nil
}
