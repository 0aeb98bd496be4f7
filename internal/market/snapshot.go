package market

import (
	"context"
	"fmt"

	"github.com/shockx/marketplace/internal/store"
)

// SizeQuote is one product size's best prices, pushed over the market
// feed.
type SizeQuote struct {
	ProductID     int    `json:"product_id"`
	ProductSizeID int    `json:"product_size_id"`
	Size          string `json:"size"`
	LowestAsk     int64  `json:"lowest_ask"`
	HighestBid    int64  `json:"highest_bid"`
}

// Snapshot returns the best prices for every size of every product, in
// catalog order.
func (a *Analytics) Snapshot(ctx context.Context) ([]SizeQuote, error) {
	products, err := a.store.ListProducts(ctx, store.ProductFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	var quotes []SizeQuote
	for _, p := range products {
		sizes, err := a.store.ListProductSizes(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list sizes for product %d: %w", p.ID, err)
		}
		for _, ps := range sizes {
			lowest, err := a.LowestAsk(ctx, ps.ID)
			if err != nil {
				return nil, err
			}
			highest, err := a.HighestBid(ctx, ps.ID)
			if err != nil {
				return nil, err
			}
			quotes = append(quotes, SizeQuote{
				ProductID:     p.ID,
				ProductSizeID: ps.ID,
				Size:          ps.SizeName,
				LowestAsk:     lowest.IntPart(),
				HighestBid:    highest.IntPart(),
			})
		}
	}
	return quotes, nil
}
