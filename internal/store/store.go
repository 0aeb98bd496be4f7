// Package store defines the storage contract the matching core runs
// against. Components never traverse a live object graph; every read or
// write crosses this interface explicitly. Two implementations exist:
// the Postgres store in internal/db and the in-memory MemStore below.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/shockx/marketplace/internal/models"
)

// ProductFilter narrows a catalog listing. Zero values mean "no filter"
// (and Limit 0 means no page cap).
type ProductFilter struct {
	SizeID   int
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	Limit    int
	Offset   int
}

// Store is the full persistence surface of the marketplace.
//
// Lookup methods that can legitimately find nothing (BestOrder,
// FindMatchable, LastShippingInfo) return (nil, nil); absence is a signal
// to the caller, not an error. Get* methods return the models sentinel
// errors on missing rows.
type Store interface {
	// Users
	CreateUser(ctx context.Context, email, name, passwordHash string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// Catalog
	GetProduct(ctx context.Context, productID int) (*models.Product, error)
	ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, error)
	ListSizes(ctx context.Context) ([]models.Size, error)
	GetProductSize(ctx context.Context, productID, sizeID int) (*models.ProductSize, error)
	GetProductSizeByID(ctx context.Context, productSizeID int) (*models.ProductSize, error)
	ListProductSizes(ctx context.Context, productID int) ([]models.ProductSize, error)
	// LowestProductAsk is the cheapest current ask across every size of a
	// product; zero when the product has no current asks.
	LowestProductAsk(ctx context.Context, productID int) (decimal.Decimal, error)

	// Orders
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	// BestOrder returns the best-priced current order on the given side:
	// lowest price for asks, highest for bids, earliest created among ties.
	BestOrder(ctx context.Context, side models.Side, productSizeID int) (*models.Order, error)
	// FindMatchable returns the current order on the given side priced at
	// exactly price, earliest created among ties.
	FindMatchable(ctx context.Context, side models.Side, productSizeID int, price decimal.Decimal) (*models.Order, error)
	// TransitionOrder moves an order from current to pending, stamping the
	// match fields, only if it is still current. Returns false when the
	// conditional update touched no row (the order was already taken).
	TransitionOrder(ctx context.Context, orderID int, matchedAt time.Time, totalPrice decimal.Decimal, orderNumber string) (bool, error)
	SetOrderNumber(ctx context.Context, orderID int, orderNumber string) error
	ListUserOrders(ctx context.Context, userID int, side models.Side) ([]models.Order, error)
	// HistoryAsks returns history-status asks for a product size in
	// insertion (id) order. Analytics depends on that ordering.
	HistoryAsks(ctx context.Context, productSizeID int) ([]models.Order, error)

	// Trades
	CreateTrade(ctx context.Context, bidID, askID int) (*models.Trade, error)

	// Shipping
	GetOrCreateShippingInfo(ctx context.Context, info *models.ShippingInformation) (*models.ShippingInformation, error)
	LastShippingInfo(ctx context.Context, userID int) (*models.ShippingInformation, error)

	// Portfolio
	CreatePortfolioEntry(ctx context.Context, entry *models.PortfolioEntry) (*models.PortfolioEntry, error)
	ListPortfolio(ctx context.Context, userID int) ([]models.PortfolioEntry, error)

	// WithTx runs fn against a transactional view of the store. All writes
	// made inside fn commit together or not at all.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
