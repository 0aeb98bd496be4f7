package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side distinguishes the two halves of the book.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// Status is the order lifecycle state. An order is created as StatusCurrent
// and transitions exactly once, at match time, to StatusPending. Settled
// orders are StatusHistory and feed the sales analytics.
type Status string

const (
	StatusCurrent Status = "current"
	StatusPending Status = "pending"
	StatusHistory Status = "history"
)

// User represents a registered user
type User struct {
	ID            int
	Email         string
	Name          string
	PasswordHash  string
	SellerLevelID int
	// TransactionFee is the seller fee percentage for the user's level,
	// loaded alongside the row.
	TransactionFee decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SellerLevel assigns a transaction fee percentage to sellers. New users
// start at the lowest level.
type SellerLevel struct {
	ID             int
	Name           string
	TransactionFee decimal.Decimal
}

// Product is a catalog entry (one sneaker model).
type Product struct {
	ID           int
	Name         string
	ModelNumber  string
	TickerNumber string
	Color        string
	Description  string
	RetailPrice  decimal.Decimal
	ReleaseDate  time.Time
	ImageURL     string   // first image, loaded alongside the row
	Images       []string // every image url, detail view only
}

// Size is a shoe size label.
type Size struct {
	ID   int
	Name string
}

// ProductSize is the tradable unit: a specific product at a specific size.
type ProductSize struct {
	ID        int
	ProductID int
	SizeID    int
	SizeName  string
}

// Order represents one side's intent: an ask (offer to sell) or a bid
// (offer to buy) for a product size. MatchedAt, TotalPrice and OrderNumber
// are null until the order matches, after which the order never changes
// again.
type Order struct {
	ID                    int
	Side                  Side
	UserID                int
	ProductSizeID         int
	Price                 decimal.Decimal
	Status                Status
	ExpirationDate        *time.Time
	MatchedAt             *time.Time
	TotalPrice            *decimal.Decimal
	OrderNumber           *string
	ShippingInformationID int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Matched reports whether the order has left the book.
func (o *Order) Matched() bool {
	return o.Status != StatusCurrent
}

// Trade is the immutable record of one executed bid/ask pairing.
type Trade struct {
	ID        int       `json:"id"`
	BidID     int       `json:"bid_id"`
	AskID     int       `json:"ask_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ShippingInformation is a user's delivery destination, attached to every
// order at submission time.
type ShippingInformation struct {
	ID               int
	UserID           int
	Name             string
	Country          string
	PrimaryAddress   string
	SecondaryAddress string
	City             string
	State            string
	PostalCode       string
	PhoneNumber      string
	CreatedAt        time.Time
}

// PortfolioEntry records a purchase made outside the live matching flow,
// valued against current market data.
type PortfolioEntry struct {
	ID            int
	UserID        int
	ProductSizeID int
	PurchaseDate  time.Time
	PurchasePrice decimal.Decimal
}
