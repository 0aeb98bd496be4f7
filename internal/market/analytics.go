// Package market derives read-only analytics from the order book and the
// trade history. Everything is recomputed on demand from storage; reads
// never block the matching path.
package market

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shockx/marketplace/internal/book"
	"github.com/shockx/marketplace/internal/models"
	"github.com/shockx/marketplace/internal/store"
)

// Analytics computes per-product-size market data.
type Analytics struct {
	store store.Store
	book  *book.Book
}

// New creates Analytics over the given store.
func New(s store.Store) *Analytics {
	return &Analytics{store: s, book: book.New(s)}
}

// Sale is one settled transaction in the sales history.
type Sale struct {
	SalePrice int64  `json:"sale_price"`
	Date      string `json:"date_time"`
	Time      string `json:"time"`
}

// SizeStats is the market snapshot for one product size. All monetary
// fields are narrowed to integers for display; storage keeps two decimal
// places.
type SizeStats struct {
	SizeID                int    `json:"size_id"`
	SizeName              string `json:"size_name"`
	LastSale              int64  `json:"last_sale"`
	PriceChange           int64  `json:"price_change"`
	PriceChangePercentage int64  `json:"price_change_percentage"`
	LowestAsk             int64  `json:"lowest_ask"`
	HighestBid            int64  `json:"highest_bid"`
	TotalSales            int    `json:"total_sales"`
	PricePremium          int64  `json:"price_premium"`
	AverageSalePrice      int64  `json:"average_sale_price"`
	SalesHistory          []Sale `json:"sales_history"`
}

// LowestAsk returns the best current ask price for a product size, 0 when
// no asks rest in the book.
func (a *Analytics) LowestAsk(ctx context.Context, productSizeID int) (decimal.Decimal, error) {
	best, err := a.book.BestAsk(ctx, productSizeID)
	if err != nil {
		return decimal.Zero, err
	}
	if best == nil {
		return decimal.Zero, nil
	}
	return best.Price, nil
}

// HighestBid returns the best current bid price for a product size, 0
// when no bids rest in the book.
func (a *Analytics) HighestBid(ctx context.Context, productSizeID int) (decimal.Decimal, error) {
	best, err := a.book.BestBid(ctx, productSizeID)
	if err != nil {
		return decimal.Zero, err
	}
	if best == nil {
		return decimal.Zero, nil
	}
	return best.Price, nil
}

// SizeStats computes the full snapshot for one product size against the
// product's retail price.
func (a *Analytics) SizeStats(ctx context.Context, ps *models.ProductSize, retailPrice decimal.Decimal) (*SizeStats, error) {
	stats := &SizeStats{SizeID: ps.SizeID, SizeName: ps.SizeName, SalesHistory: []Sale{}}

	lowest, err := a.LowestAsk(ctx, ps.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute lowest ask: %w", err)
	}
	stats.LowestAsk = lowest.IntPart()

	highest, err := a.HighestBid(ctx, ps.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute highest bid: %w", err)
	}
	stats.HighestBid = highest.IntPart()

	history, err := a.store.HistoryAsks(ctx, ps.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sales history: %w", err)
	}
	stats.TotalSales = len(history)
	if len(history) == 0 {
		return stats, nil
	}

	// "last" sale is the most recently inserted history ask, not the most
	// recently matched one
	lastSale := history[len(history)-1].Price
	stats.LastSale = lastSale.IntPart()
	stats.PriceChange = priceChange(history)
	// percentage mirrors the raw delta for now
	stats.PriceChangePercentage = stats.PriceChange
	stats.PricePremium = pricePremium(lastSale, retailPrice)
	stats.AverageSalePrice = averagePrice(history)

	for _, h := range history {
		sale := Sale{SalePrice: h.Price.IntPart()}
		if h.MatchedAt != nil {
			sale.Date = h.MatchedAt.Format("2006-01-02")
			sale.Time = h.MatchedAt.Format("15:04")
		}
		stats.SalesHistory = append(stats.SalesHistory, sale)
	}
	return stats, nil
}

// priceChange is the most recent sale minus the one before it, ordered by
// match time descending; 0 with fewer than two sales.
func priceChange(history []models.Order) int64 {
	if len(history) < 2 {
		return 0
	}
	byMatch := make([]models.Order, len(history))
	copy(byMatch, history)
	sort.SliceStable(byMatch, func(i, j int) bool {
		return matchTime(byMatch[i]).After(matchTime(byMatch[j]))
	})
	return byMatch[0].Price.IntPart() - byMatch[1].Price.IntPart()
}

func matchTime(o models.Order) time.Time {
	if o.MatchedAt == nil {
		return time.Time{}
	}
	return *o.MatchedAt
}

// pricePremium is the percentage over retail of the last sale, rounded.
func pricePremium(lastSale, retailPrice decimal.Decimal) int64 {
	if !retailPrice.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(100).
		Mul(lastSale.Sub(retailPrice)).
		Div(retailPrice).
		Round(0).IntPart()
}

func averagePrice(history []models.Order) int64 {
	sum := decimal.Zero
	for _, h := range history {
		sum = sum.Add(h.Price)
	}
	return sum.Div(decimal.NewFromInt(int64(len(history)))).Round(0).IntPart()
}
