package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shockx/marketplace/internal/models"
	"github.com/shockx/marketplace/internal/store"
)

type portfolioFixture struct {
	valuer *Valuer
	store  *store.MemStore
	sizes  []*models.ProductSize
	entry  *models.PortfolioEntry
}

func newPortfolioFixture(t *testing.T, sizeNames ...string) *portfolioFixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemStore()

	product, err := s.CreateProduct(ctx, &models.Product{Name: "Dunk Low", RetailPrice: decimal.NewFromInt(110)})
	require.NoError(t, err)

	var sizes []*models.ProductSize
	for _, name := range sizeNames {
		size, err := s.CreateSize(ctx, name)
		require.NoError(t, err)
		ps, err := s.CreateProductSize(ctx, product.ID, size.ID)
		require.NoError(t, err)
		sizes = append(sizes, ps)
	}

	entry, err := s.CreatePortfolioEntry(ctx, &models.PortfolioEntry{
		UserID:        1,
		ProductSizeID: sizes[0].ID,
		PurchaseDate:  time.Date(2021, 1, 15, 0, 0, 0, 0, time.UTC),
		PurchasePrice: decimal.NewFromInt(250),
	})
	require.NoError(t, err)

	return &portfolioFixture{valuer: New(s), store: s, sizes: sizes, entry: entry}
}

func (f *portfolioFixture) recordSale(t *testing.T, psID int, price int64) {
	t.Helper()
	now := time.Now()
	total := decimal.NewFromInt(price)
	number := "A21033100001"
	_, err := f.store.CreateOrder(context.Background(), &models.Order{
		Side:          models.SideAsk,
		UserID:        2,
		ProductSizeID: psID,
		Price:         decimal.NewFromInt(price),
		Status:        models.StatusHistory,
		MatchedAt:     &now,
		TotalPrice:    &total,
		OrderNumber:   &number,
		CreatedAt:     now,
	})
	require.NoError(t, err)
}

func TestValuer_MarketValueAveragesAcrossSizes(t *testing.T) {
	ctx := context.Background()
	f := newPortfolioFixture(t, "8", "9")

	// size 8 averages 400, size 9 averages 462
	f.recordSale(t, f.sizes[0].ID, 380)
	f.recordSale(t, f.sizes[0].ID, 420)
	f.recordSale(t, f.sizes[1].ID, 462)

	value, err := f.valuer.MarketValue(ctx, f.entry)
	require.NoError(t, err)
	assert.Equal(t, int64(431), value)
}

func TestValuer_MarketValueSkipsSizesWithoutSales(t *testing.T) {
	ctx := context.Background()
	f := newPortfolioFixture(t, "8", "9", "10")

	f.recordSale(t, f.sizes[1].ID, 500)

	value, err := f.valuer.MarketValue(ctx, f.entry)
	require.NoError(t, err)
	assert.Equal(t, int64(500), value)
}

func TestValuer_MarketValueNoSales(t *testing.T) {
	ctx := context.Background()
	f := newPortfolioFixture(t, "8")

	value, err := f.valuer.MarketValue(ctx, f.entry)
	require.NoError(t, err)
	assert.Zero(t, value)
}

func TestValuer_Value(t *testing.T) {
	ctx := context.Background()
	f := newPortfolioFixture(t, "8")
	f.recordSale(t, f.sizes[0].ID, 410)

	valuations, err := f.valuer.Value(ctx, 1)
	require.NoError(t, err)
	require.Len(t, valuations, 1)
	assert.Equal(t, f.entry.ID, valuations[0].Entry.ID)
	assert.Equal(t, f.sizes[0].ProductID, valuations[0].ProductID)
	assert.Equal(t, int64(410), valuations[0].MarketValue)

	// a user with no entries gets an empty slice, not nil
	empty, err := f.valuer.Value(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
