package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/shockx/marketplace/internal/models"
)

// MemStore is an in-memory Store. Transactions are copy-on-write: WithTx
// clones the whole state, runs fn against the clone and swaps it in on
// success, so a failed execution leaves no trace. The store mutex is held
// for the duration of a transaction, which serializes concurrent
// executions the same way row locking does in Postgres.
type MemStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	users        map[int]*models.User
	sellerLevels map[int]*models.SellerLevel
	products     map[int]*models.Product
	sizes        map[int]*models.Size
	productSizes map[int]*models.ProductSize
	orders       map[int]*models.Order
	trades       map[int]*models.Trade
	shipping     map[int]*models.ShippingInformation
	portfolio    map[int]*models.PortfolioEntry
	seq          map[string]int
}

// NewMemStore creates an empty in-memory store with the default seller
// level seeded, matching the migration.
func NewMemStore() *MemStore {
	return &MemStore{state: &memState{
		users: map[int]*models.User{},
		sellerLevels: map[int]*models.SellerLevel{
			1: {ID: 1, Name: "1", TransactionFee: decimal.RequireFromString("9.50")},
		},
		products:     map[int]*models.Product{},
		sizes:        map[int]*models.Size{},
		productSizes: map[int]*models.ProductSize{},
		orders:       map[int]*models.Order{},
		trades:       map[int]*models.Trade{},
		shipping:     map[int]*models.ShippingInformation{},
		portfolio:    map[int]*models.PortfolioEntry{},
		seq:          map[string]int{},
	}}
}

func (s *memState) nextID(table string) int {
	s.seq[table]++
	return s.seq[table]
}

func cloneMap[V any](m map[int]V, cp func(V) V) map[int]V {
	out := make(map[int]V, len(m))
	for k, v := range m {
		out[k] = cp(v)
	}
	return out
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	if o.ExpirationDate != nil {
		t := *o.ExpirationDate
		c.ExpirationDate = &t
	}
	if o.MatchedAt != nil {
		t := *o.MatchedAt
		c.MatchedAt = &t
	}
	if o.TotalPrice != nil {
		p := *o.TotalPrice
		c.TotalPrice = &p
	}
	if o.OrderNumber != nil {
		n := *o.OrderNumber
		c.OrderNumber = &n
	}
	return &c
}

func shallow[T any](v *T) *T {
	c := *v
	return &c
}

func (s *memState) clone() *memState {
	seq := make(map[string]int, len(s.seq))
	for k, v := range s.seq {
		seq[k] = v
	}
	return &memState{
		users:        cloneMap(s.users, shallow[models.User]),
		sellerLevels: cloneMap(s.sellerLevels, shallow[models.SellerLevel]),
		products:     cloneMap(s.products, shallow[models.Product]),
		sizes:        cloneMap(s.sizes, shallow[models.Size]),
		productSizes: cloneMap(s.productSizes, shallow[models.ProductSize]),
		orders:       cloneMap(s.orders, cloneOrder),
		trades:       cloneMap(s.trades, shallow[models.Trade]),
		shipping:     cloneMap(s.shipping, shallow[models.ShippingInformation]),
		portfolio:    cloneMap(s.portfolio, shallow[models.PortfolioEntry]),
		seq:          seq,
	}
}

// WithTx runs fn against a cloned state and commits it atomically.
func (s *MemStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &MemStore{state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// Users

func (s *MemStore) CreateUser(ctx context.Context, email, name, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.state.users {
		if u.Email == email {
			return nil, fmt.Errorf("email %q already registered", email)
		}
	}
	level := s.state.sellerLevels[1]
	u := &models.User{
		ID:             s.state.nextID("users"),
		Email:          email,
		Name:           name,
		PasswordHash:   passwordHash,
		SellerLevelID:  level.ID,
		TransactionFee: level.TransactionFee,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	s.state.users[u.ID] = u
	return shallow(u), nil
}

func (s *MemStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.state.users {
		if u.Email == email {
			return shallow(u), nil
		}
	}
	return nil, models.ErrUserNotFound
}

// Catalog

// CreateProduct seeds a product row. Not part of the Store interface; the
// catalog is owned by an external system and only tests and the seeder
// write it.
func (s *MemStore) CreateProduct(ctx context.Context, p *models.Product) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := shallow(p)
	c.ID = s.state.nextID("products")
	if c.ImageURL == "" && len(c.Images) > 0 {
		c.ImageURL = c.Images[0]
	}
	s.state.products[c.ID] = c
	return shallow(c), nil
}

// CreateSize seeds a size row.
func (s *MemStore) CreateSize(ctx context.Context, name string) (*models.Size, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sz := &models.Size{ID: s.state.nextID("sizes"), Name: name}
	s.state.sizes[sz.ID] = sz
	return shallow(sz), nil
}

// CreateProductSize seeds a product×size row.
func (s *MemStore) CreateProductSize(ctx context.Context, productID, sizeID int) (*models.ProductSize, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sz, ok := s.state.sizes[sizeID]
	if !ok {
		return nil, models.ErrProductSizeNotFound
	}
	ps := &models.ProductSize{
		ID:        s.state.nextID("product_sizes"),
		ProductID: productID,
		SizeID:    sizeID,
		SizeName:  sz.Name,
	}
	s.state.productSizes[ps.ID] = ps
	return shallow(ps), nil
}

func (s *MemStore) GetProduct(ctx context.Context, productID int) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.state.products[productID]
	if !ok {
		return nil, models.ErrProductNotFound
	}
	return shallow(p), nil
}

func (s *MemStore) ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Product
	for _, p := range s.state.products {
		if f.SizeID != 0 && !s.state.hasSize(p.ID, f.SizeID) {
			continue
		}
		if f.MinPrice != nil || f.MaxPrice != nil {
			lowest, ok := s.state.lowestAskForProduct(p.ID)
			if !ok {
				continue
			}
			if f.MinPrice != nil && lowest.LessThan(*f.MinPrice) {
				continue
			}
			if f.MaxPrice != nil && lowest.GreaterThan(*f.MaxPrice) {
				continue
			}
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memState) hasSize(productID, sizeID int) bool {
	for _, ps := range s.productSizes {
		if ps.ProductID == productID && ps.SizeID == sizeID {
			return true
		}
	}
	return false
}

func (s *memState) lowestAskForProduct(productID int) (decimal.Decimal, bool) {
	var lowest decimal.Decimal
	found := false
	for _, o := range s.orders {
		if o.Side != models.SideAsk || o.Status != models.StatusCurrent {
			continue
		}
		ps, ok := s.productSizes[o.ProductSizeID]
		if !ok || ps.ProductID != productID {
			continue
		}
		if !found || o.Price.LessThan(lowest) {
			lowest = o.Price
			found = true
		}
	}
	return lowest, found
}

func (s *MemStore) ListSizes(ctx context.Context) ([]models.Size, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Size
	for _, sz := range s.state.sizes {
		out = append(out, *sz)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) GetProductSize(ctx context.Context, productID, sizeID int) (*models.ProductSize, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ps := range s.state.productSizes {
		if ps.ProductID == productID && ps.SizeID == sizeID {
			return shallow(ps), nil
		}
	}
	return nil, models.ErrProductSizeNotFound
}

func (s *MemStore) GetProductSizeByID(ctx context.Context, productSizeID int) (*models.ProductSize, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.state.productSizes[productSizeID]
	if !ok {
		return nil, models.ErrProductSizeNotFound
	}
	return shallow(ps), nil
}

func (s *MemStore) ListProductSizes(ctx context.Context, productID int) ([]models.ProductSize, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ProductSize
	for _, ps := range s.state.productSizes {
		if ps.ProductID == productID {
			out = append(out, *ps)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) LowestProductAsk(ctx context.Context, productID int) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lowest, _ := s.state.lowestAskForProduct(productID)
	return lowest, nil
}

// Orders

func (s *MemStore) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cloneOrder(order)
	c.ID = s.state.nextID("orders")
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = c.CreatedAt
	s.state.orders[c.ID] = c
	return cloneOrder(c), nil
}

// earlier orders win ties; ids break exact-timestamp collisions.
func olderThan(a, b *models.Order) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (s *MemStore) BestOrder(ctx context.Context, side models.Side, productSizeID int) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.Order
	for _, o := range s.state.orders {
		if o.Side != side || o.ProductSizeID != productSizeID || o.Status != models.StatusCurrent {
			continue
		}
		if best == nil {
			best = o
			continue
		}
		switch {
		case side == models.SideAsk && o.Price.LessThan(best.Price):
			best = o
		case side == models.SideBid && o.Price.GreaterThan(best.Price):
			best = o
		case o.Price.Equal(best.Price) && olderThan(o, best):
			best = o
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneOrder(best), nil
}

func (s *MemStore) FindMatchable(ctx context.Context, side models.Side, productSizeID int, price decimal.Decimal) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.Order
	for _, o := range s.state.orders {
		if o.Side != side || o.ProductSizeID != productSizeID || o.Status != models.StatusCurrent {
			continue
		}
		if !o.Price.Equal(price) {
			continue
		}
		if best == nil || olderThan(o, best) {
			best = o
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneOrder(best), nil
}

func (s *MemStore) TransitionOrder(ctx context.Context, orderID int, matchedAt time.Time, totalPrice decimal.Decimal, orderNumber string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.state.orders[orderID]
	if !ok || o.Status != models.StatusCurrent {
		return false, nil
	}
	o.Status = models.StatusPending
	o.MatchedAt = &matchedAt
	o.TotalPrice = &totalPrice
	o.OrderNumber = &orderNumber
	o.ExpirationDate = nil
	o.UpdatedAt = matchedAt
	return true, nil
}

func (s *MemStore) SetOrderNumber(ctx context.Context, orderID int, orderNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.state.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d not found", orderID)
	}
	o.OrderNumber = &orderNumber
	return nil
}

func (s *MemStore) ListUserOrders(ctx context.Context, userID int, side models.Side) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Order
	for _, o := range s.state.orders {
		if o.UserID == userID && o.Side == side {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) HistoryAsks(ctx context.Context, productSizeID int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Order
	for _, o := range s.state.orders {
		if o.Side == models.SideAsk && o.ProductSizeID == productSizeID && o.Status == models.StatusHistory {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Trades

func (s *MemStore) CreateTrade(ctx context.Context, bidID, askID int) (*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &models.Trade{
		ID:        s.state.nextID("trades"),
		BidID:     bidID,
		AskID:     askID,
		CreatedAt: time.Now(),
	}
	s.state.trades[t.ID] = t
	return shallow(t), nil
}

// ListTrades returns every trade in insertion order. Not part of the Store
// interface; used by tests to assert ledger contents.
func (s *MemStore) ListTrades(ctx context.Context) ([]models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Trade
	for _, t := range s.state.trades {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Shipping

func (s *MemStore) GetOrCreateShippingInfo(ctx context.Context, info *models.ShippingInformation) (*models.ShippingInformation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, si := range s.state.shipping {
		if si.UserID == info.UserID &&
			si.Name == info.Name &&
			si.Country == info.Country &&
			si.PrimaryAddress == info.PrimaryAddress &&
			si.SecondaryAddress == info.SecondaryAddress &&
			si.City == info.City &&
			si.State == info.State &&
			si.PostalCode == info.PostalCode &&
			si.PhoneNumber == info.PhoneNumber {
			return shallow(si), nil
		}
	}
	c := shallow(info)
	c.ID = s.state.nextID("shipping")
	c.CreatedAt = time.Now()
	s.state.shipping[c.ID] = c
	return shallow(c), nil
}

func (s *MemStore) LastShippingInfo(ctx context.Context, userID int) (*models.ShippingInformation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var last *models.ShippingInformation
	for _, si := range s.state.shipping {
		if si.UserID == userID && (last == nil || si.ID > last.ID) {
			last = si
		}
	}
	if last == nil {
		return nil, nil
	}
	return shallow(last), nil
}

// Portfolio

func (s *MemStore) CreatePortfolioEntry(ctx context.Context, entry *models.PortfolioEntry) (*models.PortfolioEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.productSizes[entry.ProductSizeID]; !ok {
		return nil, models.ErrProductSizeNotFound
	}
	c := shallow(entry)
	c.ID = s.state.nextID("portfolio")
	s.state.portfolio[c.ID] = c
	return shallow(c), nil
}

func (s *MemStore) ListPortfolio(ctx context.Context, userID int) ([]models.PortfolioEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.PortfolioEntry
	for _, e := range s.state.portfolio {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
