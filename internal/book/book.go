// Package book exposes the order book for one side of the marketplace:
// resting current bids and asks per product size, with best-price lookups
// and the peer search the matching engine executes against.
package book

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/shockx/marketplace/internal/models"
	"github.com/shockx/marketplace/internal/store"
)

// Book reads and inserts resting orders. It carries no state of its own;
// the store is the single source of truth, so a Book built over a
// transactional store view sees that transaction's writes.
type Book struct {
	store store.Store
}

// New creates a Book over the given store.
func New(s store.Store) *Book {
	return &Book{store: s}
}

// BestAsk returns the current ask with the minimum price for a product
// size, earliest created among ties. Nil when the book side is empty.
func (b *Book) BestAsk(ctx context.Context, productSizeID int) (*models.Order, error) {
	return b.store.BestOrder(ctx, models.SideAsk, productSizeID)
}

// BestBid returns the current bid with the maximum price for a product
// size, earliest created among ties. Nil when the book side is empty.
func (b *Book) BestBid(ctx context.Context, productSizeID int) (*models.Order, error) {
	return b.store.BestOrder(ctx, models.SideBid, productSizeID)
}

// Insert adds a new resting order to the book.
func (b *Book) Insert(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.Status != models.StatusCurrent {
		return nil, fmt.Errorf("only current orders rest in the book, got %q", order.Status)
	}
	return b.store.CreateOrder(ctx, order)
}

// FindMatchablePeer returns the resting opposite-side order an incoming
// order would execute against: same product size, price equal to exactly
// the incoming price, earliest created among ties. Matching is by exact
// price equality, not price crossing; a bid at 105 does not take an ask
// at 100. Nil means nothing matchable rests in the book, which is not an
// error at this layer.
func (b *Book) FindMatchablePeer(ctx context.Context, incoming models.Side, productSizeID int, price decimal.Decimal) (*models.Order, error) {
	return b.store.FindMatchable(ctx, incoming.Opposite(), productSizeID, price)
}
