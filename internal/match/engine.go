// Package match implements the order matching engine. Two entry points
// exist per side: posting a resting offer (never matched immediately) and
// accepting the current best opposite offer (always executed immediately,
// atomically, or failed).
package match

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shockx/marketplace/internal/book"
	"github.com/shockx/marketplace/internal/ledger"
	"github.com/shockx/marketplace/internal/models"
	"github.com/shockx/marketplace/internal/store"
)

// Engine validates incoming orders, rests them in the book or executes
// them against a matchable peer, and records the resulting trades.
type Engine struct {
	store store.Store
}

// NewEngine creates an Engine over the given store.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// Execution is the outcome of a successful ExecuteBuy or ExecuteSell:
// the newly created pending order, the resting peer it took, and the
// trade linking them.
type Execution struct {
	Bid   *models.Order
	Ask   *models.Order
	Trade *models.Trade
}

// PostBid creates a resting bid. A posted bid never triggers a match;
// execution is always driven from the opposite side accepting it.
func (e *Engine) PostBid(ctx context.Context, userID, productSizeID int, price decimal.Decimal, shipping *models.ShippingInformation, expirationDays int) (*models.Order, error) {
	return e.post(ctx, models.SideBid, userID, productSizeID, price, shipping, expirationDays)
}

// PostAsk creates a resting ask, symmetric to PostBid.
func (e *Engine) PostAsk(ctx context.Context, userID, productSizeID int, price decimal.Decimal, shipping *models.ShippingInformation, expirationDays int) (*models.Order, error) {
	return e.post(ctx, models.SideAsk, userID, productSizeID, price, shipping, expirationDays)
}

// resolveShipping finds or creates the destination row inside the order
// transaction, so a failed order leaves no shipping row behind.
func resolveShipping(ctx context.Context, tx store.Store, shipping *models.ShippingInformation) (int, error) {
	if shipping == nil {
		return 0, nil
	}
	si, err := tx.GetOrCreateShippingInfo(ctx, shipping)
	if err != nil {
		return 0, err
	}
	return si.ID, nil
}

func (e *Engine) post(ctx context.Context, side models.Side, userID, productSizeID int, price decimal.Decimal, shipping *models.ShippingInformation, expirationDays int) (*models.Order, error) {
	if _, err := e.store.GetProductSizeByID(ctx, productSizeID); err != nil {
		return nil, err
	}
	if expirationDays <= 0 {
		return nil, fmt.Errorf("%w: expiration days", models.ErrMissingField)
	}

	expiration := time.Now().AddDate(0, 0, expirationDays)
	var created *models.Order
	err := e.store.WithTx(ctx, func(tx store.Store) error {
		shippingID, err := resolveShipping(ctx, tx, shipping)
		if err != nil {
			return err
		}
		created, err = book.New(tx).Insert(ctx, &models.Order{
			Side:                  side,
			UserID:                userID,
			ProductSizeID:         productSizeID,
			Price:                 price,
			Status:                models.StatusCurrent,
			ExpirationDate:        &expiration,
			ShippingInformationID: shippingID,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to post %s: %w", side, err)
	}
	return created, nil
}

// ExecuteBuy accepts the resting ask priced at exactly price: it creates
// the buyer's bid directly in pending status and transitions the
// earliest-created matchable ask in the same transaction. When no such
// ask rests in the book (or a concurrent buyer takes it first), the whole
// operation rolls back and ErrAskNotFound is returned; the attempted bid
// is never persisted.
func (e *Engine) ExecuteBuy(ctx context.Context, userID, productSizeID int, price, totalPrice decimal.Decimal, shipping *models.ShippingInformation) (*Execution, error) {
	return e.execute(ctx, models.SideBid, userID, productSizeID, price, totalPrice, shipping)
}

// ExecuteSell accepts the resting bid priced at exactly price, symmetric
// to ExecuteBuy with ErrBidNotFound on a missing peer.
func (e *Engine) ExecuteSell(ctx context.Context, userID, productSizeID int, price, totalPrice decimal.Decimal, shipping *models.ShippingInformation) (*Execution, error) {
	return e.execute(ctx, models.SideAsk, userID, productSizeID, price, totalPrice, shipping)
}

func (e *Engine) execute(ctx context.Context, side models.Side, userID, productSizeID int, price, totalPrice decimal.Decimal, shipping *models.ShippingInformation) (*Execution, error) {
	if _, err := e.store.GetProductSizeByID(ctx, productSizeID); err != nil {
		return nil, err
	}

	var exec *Execution
	err := e.store.WithTx(ctx, func(tx store.Store) error {
		now := time.Now()

		shippingID, err := resolveShipping(ctx, tx, shipping)
		if err != nil {
			return err
		}
		taker, err := tx.CreateOrder(ctx, &models.Order{
			Side:                  side,
			UserID:                userID,
			ProductSizeID:         productSizeID,
			Price:                 price,
			Status:                models.StatusPending,
			MatchedAt:             &now,
			TotalPrice:            &totalPrice,
			ShippingInformationID: shippingID,
		})
		if err != nil {
			return err
		}
		// the id is only known after insert
		takerNumber := ledger.OrderNumber(side, taker.ID, now)
		if err := tx.SetOrderNumber(ctx, taker.ID, takerNumber); err != nil {
			return err
		}
		taker.OrderNumber = &takerNumber

		peer, err := book.New(tx).FindMatchablePeer(ctx, side, productSizeID, price)
		if err != nil {
			return err
		}
		if peer == nil {
			return peerNotFound(side)
		}

		peerNumber := ledger.OrderNumber(peer.Side, peer.ID, now)
		ok, err := tx.TransitionOrder(ctx, peer.ID, now, totalPrice, peerNumber)
		if err != nil {
			return err
		}
		if !ok {
			// taken by a concurrent execution between lookup and update
			return peerNotFound(side)
		}
		peer.Status = models.StatusPending
		peer.MatchedAt = &now
		peer.TotalPrice = &totalPrice
		peer.OrderNumber = &peerNumber
		peer.ExpirationDate = nil

		exec = &Execution{}
		if side == models.SideBid {
			exec.Bid, exec.Ask = taker, peer
		} else {
			exec.Bid, exec.Ask = peer, taker
		}
		exec.Trade, err = ledger.New(tx).RecordTrade(ctx, exec.Bid.ID, exec.Ask.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return exec, nil
}

func peerNotFound(incoming models.Side) error {
	if incoming == models.SideBid {
		return models.ErrAskNotFound
	}
	return models.ErrBidNotFound
}
