// Package portfolio values a user's recorded past purchases against
// current market data.
package portfolio

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/shockx/marketplace/internal/models"
	"github.com/shockx/marketplace/internal/store"
)

// Valuer computes market values for portfolio entries.
type Valuer struct {
	store store.Store
}

// New creates a Valuer over the given store.
func New(s store.Store) *Valuer {
	return &Valuer{store: s}
}

// Valuation is one portfolio entry with its computed market value.
type Valuation struct {
	Entry       models.PortfolioEntry
	ProductID   int
	MarketValue int64
}

// MarketValue is a two-level average: the mean sale price per size, taken
// over every size of the entry's product that has sales, then averaged
// across those sizes. A product with no sales anywhere values at 0.
func (v *Valuer) MarketValue(ctx context.Context, entry *models.PortfolioEntry) (int64, error) {
	ps, err := v.store.GetProductSizeByID(ctx, entry.ProductSizeID)
	if err != nil {
		return 0, err
	}
	sizes, err := v.store.ListProductSizes(ctx, ps.ProductID)
	if err != nil {
		return 0, fmt.Errorf("failed to list product sizes: %w", err)
	}

	var perSize []decimal.Decimal
	for _, size := range sizes {
		history, err := v.store.HistoryAsks(ctx, size.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to load sales for size %d: %w", size.ID, err)
		}
		if len(history) == 0 {
			continue
		}
		sum := decimal.Zero
		for _, h := range history {
			sum = sum.Add(h.Price)
		}
		perSize = append(perSize, sum.Div(decimal.NewFromInt(int64(len(history)))))
	}
	if len(perSize) == 0 {
		return 0, nil
	}

	total := decimal.Zero
	for _, avg := range perSize {
		total = total.Add(avg)
	}
	return total.Div(decimal.NewFromInt(int64(len(perSize)))).Round(0).IntPart(), nil
}

// Value computes valuations for every entry in a user's portfolio.
func (v *Valuer) Value(ctx context.Context, userID int) ([]Valuation, error) {
	entries, err := v.store.ListPortfolio(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolio: %w", err)
	}

	valuations := make([]Valuation, 0, len(entries))
	for _, entry := range entries {
		ps, err := v.store.GetProductSizeByID(ctx, entry.ProductSizeID)
		if err != nil {
			return nil, err
		}
		value, err := v.MarketValue(ctx, &entry)
		if err != nil {
			return nil, err
		}
		valuations = append(valuations, Valuation{Entry: entry, ProductID: ps.ProductID, MarketValue: value})
	}
	return valuations, nil
}
