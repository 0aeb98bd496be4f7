package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/shockx/marketplace/internal/models"
	"github.com/shockx/marketplace/internal/store"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so every query
// method works inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB wraps a PostgreSQL connection pool and implements store.Store.
type DB struct {
	Pool *pgxpool.Pool
	q    querier
}

var _ store.Store = (*DB)(nil)

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	// NUMERIC columns scan straight into shopspring decimals
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &DB{Pool: pool, q: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// WithTx runs fn against a transactional view of the store. Rolling back
// on any error keeps partial writes invisible.
func (db *DB) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&DB{Pool: db.Pool, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Users

const userColumns = `u.id, u.email, u.name, u.password_hash, u.seller_level_id,
	sl.transaction_fee, u.created_at, u.updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash,
		&user.SellerLevelID, &user.TransactionFee, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUser inserts a new user at the default seller level.
func (db *DB) CreateUser(ctx context.Context, email, name, passwordHash string) (*models.User, error) {
	row := db.q.QueryRow(ctx, `
		WITH u AS (
			INSERT INTO users (email, name, password_hash) VALUES ($1, $2, $3)
			RETURNING id, email, name, password_hash, seller_level_id, created_at, updated_at
		)
		SELECT `+userColumns+` FROM u JOIN seller_levels sl ON sl.id = u.seller_level_id`,
		email, name, passwordHash)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := db.q.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users u JOIN seller_levels sl ON sl.id = u.seller_level_id WHERE u.email = $1",
		email)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// Catalog

func (db *DB) GetProduct(ctx context.Context, productID int) (*models.Product, error) {
	p := &models.Product{}
	err := db.q.QueryRow(ctx, `
		SELECT p.id, p.name, p.model_number, p.ticker_number, p.color, p.description,
		       p.retail_price, p.release_date,
		       COALESCE((SELECT array_agg(image_url ORDER BY id) FROM images WHERE product_id = p.id), '{}')
		FROM products p WHERE p.id = $1`,
		productID).Scan(&p.ID, &p.Name, &p.ModelNumber, &p.TickerNumber, &p.Color,
		&p.Description, &p.RetailPrice, &p.ReleaseDate, &p.Images)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	if len(p.Images) > 0 {
		p.ImageURL = p.Images[0]
	}
	return p, nil
}

func (db *DB) ListProducts(ctx context.Context, f store.ProductFilter) ([]models.Product, error) {
	// lowest_ask is computed in a derived table so the filters can reference
	// it, keeping pagination after all predicates
	query := `
		SELECT * FROM (
			SELECT p.id, p.name, p.model_number, p.ticker_number, p.color, p.description,
			       p.retail_price, p.release_date,
			       COALESCE((SELECT image_url FROM images WHERE product_id = p.id ORDER BY id LIMIT 1), '') AS image_url,
			       (SELECT MIN(o.price) FROM orders o
			        JOIN product_sizes ps ON ps.id = o.product_size_id
			        WHERE ps.product_id = p.id AND o.side = 'ask' AND o.status = 'current') AS lowest_ask
			FROM products p
		) q`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var where []string
	if f.SizeID != 0 {
		where = append(where, "EXISTS (SELECT 1 FROM product_sizes ps WHERE ps.product_id = q.id AND ps.size_id = "+arg(f.SizeID)+")")
	}
	// price-range filters apply to the lowest current ask
	if f.MinPrice != nil {
		where = append(where, "q.lowest_ask >= "+arg(*f.MinPrice))
	}
	if f.MaxPrice != nil {
		where = append(where, "q.lowest_ask <= "+arg(*f.MaxPrice))
	}
	if len(where) > 0 {
		query += " WHERE " + where[0]
		for _, w := range where[1:] {
			query += " AND " + w
		}
	}
	query += " ORDER BY q.id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := db.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		var lowest *decimal.Decimal
		if err := rows.Scan(&p.ID, &p.Name, &p.ModelNumber, &p.TickerNumber, &p.Color,
			&p.Description, &p.RetailPrice, &p.ReleaseDate, &p.ImageURL, &lowest); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (db *DB) ListSizes(ctx context.Context) ([]models.Size, error) {
	rows, err := db.q.Query(ctx, "SELECT id, name FROM sizes ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list sizes: %w", err)
	}
	defer rows.Close()

	var sizes []models.Size
	for rows.Next() {
		var s models.Size
		if err := rows.Scan(&s.ID, &s.Name); err != nil {
			return nil, fmt.Errorf("failed to scan size: %w", err)
		}
		sizes = append(sizes, s)
	}
	return sizes, rows.Err()
}

const productSizeQuery = `
	SELECT ps.id, ps.product_id, ps.size_id, s.name
	FROM product_sizes ps JOIN sizes s ON s.id = ps.size_id`

func (db *DB) GetProductSize(ctx context.Context, productID, sizeID int) (*models.ProductSize, error) {
	ps := &models.ProductSize{}
	err := db.q.QueryRow(ctx, productSizeQuery+" WHERE ps.product_id = $1 AND ps.size_id = $2",
		productID, sizeID).Scan(&ps.ID, &ps.ProductID, &ps.SizeID, &ps.SizeName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrProductSizeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product size: %w", err)
	}
	return ps, nil
}

func (db *DB) GetProductSizeByID(ctx context.Context, productSizeID int) (*models.ProductSize, error) {
	ps := &models.ProductSize{}
	err := db.q.QueryRow(ctx, productSizeQuery+" WHERE ps.id = $1",
		productSizeID).Scan(&ps.ID, &ps.ProductID, &ps.SizeID, &ps.SizeName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrProductSizeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product size: %w", err)
	}
	return ps, nil
}

func (db *DB) ListProductSizes(ctx context.Context, productID int) ([]models.ProductSize, error) {
	rows, err := db.q.Query(ctx, productSizeQuery+" WHERE ps.product_id = $1 ORDER BY ps.id", productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list product sizes: %w", err)
	}
	defer rows.Close()

	var sizes []models.ProductSize
	for rows.Next() {
		var ps models.ProductSize
		if err := rows.Scan(&ps.ID, &ps.ProductID, &ps.SizeID, &ps.SizeName); err != nil {
			return nil, fmt.Errorf("failed to scan product size: %w", err)
		}
		sizes = append(sizes, ps)
	}
	return sizes, rows.Err()
}

func (db *DB) LowestProductAsk(ctx context.Context, productID int) (decimal.Decimal, error) {
	var lowest *decimal.Decimal
	err := db.q.QueryRow(ctx, `
		SELECT MIN(o.price) FROM orders o
		JOIN product_sizes ps ON ps.id = o.product_size_id
		WHERE ps.product_id = $1 AND o.side = 'ask' AND o.status = 'current'`,
		productID).Scan(&lowest)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get lowest ask: %w", err)
	}
	if lowest == nil {
		return decimal.Zero, nil
	}
	return *lowest, nil
}

// Orders

const orderColumns = `id, side, user_id, product_size_id, price, status,
	expiration_date, matched_at, total_price, order_number,
	COALESCE(shipping_information_id, 0), created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(&o.ID, &o.Side, &o.UserID, &o.ProductSizeID, &o.Price, &o.Status,
		&o.ExpirationDate, &o.MatchedAt, &o.TotalPrice, &o.OrderNumber,
		&o.ShippingInformationID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// CreateOrder inserts a new order
func (db *DB) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.Side != models.SideBid && order.Side != models.SideAsk {
		return nil, fmt.Errorf("side must be 'bid' or 'ask'")
	}
	if !order.Price.IsPositive() {
		return nil, fmt.Errorf("price must be positive")
	}

	var shippingID any
	if order.ShippingInformationID != 0 {
		shippingID = order.ShippingInformationID
	}
	row := db.q.QueryRow(ctx, `
		INSERT INTO orders (side, user_id, product_size_id, price, status,
		                    expiration_date, matched_at, total_price, order_number, shipping_information_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+orderColumns,
		order.Side, order.UserID, order.ProductSizeID, order.Price, order.Status,
		order.ExpirationDate, order.MatchedAt, order.TotalPrice, order.OrderNumber, shippingID)
	created, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return created, nil
}

func (db *DB) BestOrder(ctx context.Context, side models.Side, productSizeID int) (*models.Order, error) {
	direction := "ASC"
	if side == models.SideBid {
		direction = "DESC"
	}
	row := db.q.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM orders
		WHERE side = $1 AND product_size_id = $2 AND status = 'current'
		ORDER BY price %s, created_at ASC, id ASC
		LIMIT 1`, orderColumns, direction),
		side, productSizeID)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get best %s: %w", side, err)
	}
	return order, nil
}

func (db *DB) FindMatchable(ctx context.Context, side models.Side, productSizeID int, price decimal.Decimal) (*models.Order, error) {
	row := db.q.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE side = $1 AND product_size_id = $2 AND status = 'current' AND price = $3
		ORDER BY created_at ASC, id ASC
		LIMIT 1`,
		side, productSizeID, price)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find matchable %s: %w", side, err)
	}
	return order, nil
}

// TransitionOrder moves an order from current to pending. The status guard
// in the WHERE clause is what prevents two concurrent executions from
// taking the same resting order: the loser updates zero rows.
func (db *DB) TransitionOrder(ctx context.Context, orderID int, matchedAt time.Time, totalPrice decimal.Decimal, orderNumber string) (bool, error) {
	tag, err := db.q.Exec(ctx, `
		UPDATE orders
		SET status = 'pending', matched_at = $1, total_price = $2, order_number = $3,
		    expiration_date = NULL, updated_at = $1
		WHERE id = $4 AND status = 'current'`,
		matchedAt, totalPrice, orderNumber, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to transition order: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (db *DB) SetOrderNumber(ctx context.Context, orderID int, orderNumber string) error {
	_, err := db.q.Exec(ctx, "UPDATE orders SET order_number = $1 WHERE id = $2", orderNumber, orderID)
	if err != nil {
		return fmt.Errorf("failed to set order number: %w", err)
	}
	return nil
}

// ListUserOrders retrieves all orders on one side for a user
func (db *DB) ListUserOrders(ctx context.Context, userID int, side models.Side) ([]models.Order, error) {
	rows, err := db.q.Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 AND side = $2 ORDER BY id",
		userID, side)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func (db *DB) HistoryAsks(ctx context.Context, productSizeID int) ([]models.Order, error) {
	rows, err := db.q.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE product_size_id = $1 AND side = 'ask' AND status = 'history'
		ORDER BY id`,
		productSizeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history asks: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// Trades

// CreateTrade inserts a new trade
func (db *DB) CreateTrade(ctx context.Context, bidID, askID int) (*models.Trade, error) {
	trade := &models.Trade{}
	err := db.q.QueryRow(ctx,
		"INSERT INTO trades (bid_id, ask_id) VALUES ($1, $2) RETURNING id, bid_id, ask_id, created_at",
		bidID, askID).Scan(&trade.ID, &trade.BidID, &trade.AskID, &trade.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create trade: %w", err)
	}
	return trade, nil
}

// Shipping

const shippingColumns = `id, user_id, name, country, primary_address,
	COALESCE(secondary_address, ''), city, COALESCE(state, ''), postal_code, phone_number, created_at`

func scanShipping(row pgx.Row) (*models.ShippingInformation, error) {
	si := &models.ShippingInformation{}
	err := row.Scan(&si.ID, &si.UserID, &si.Name, &si.Country, &si.PrimaryAddress,
		&si.SecondaryAddress, &si.City, &si.State, &si.PostalCode, &si.PhoneNumber, &si.CreatedAt)
	if err != nil {
		return nil, err
	}
	return si, nil
}

func (db *DB) GetOrCreateShippingInfo(ctx context.Context, info *models.ShippingInformation) (*models.ShippingInformation, error) {
	row := db.q.QueryRow(ctx, `
		SELECT `+shippingColumns+` FROM shipping_informations
		WHERE user_id = $1 AND name = $2 AND country = $3 AND primary_address = $4
		  AND COALESCE(secondary_address, '') = $5 AND city = $6 AND COALESCE(state, '') = $7
		  AND postal_code = $8 AND phone_number = $9
		ORDER BY id LIMIT 1`,
		info.UserID, info.Name, info.Country, info.PrimaryAddress, info.SecondaryAddress,
		info.City, info.State, info.PostalCode, info.PhoneNumber)
	existing, err := scanShipping(row)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up shipping info: %w", err)
	}

	row = db.q.QueryRow(ctx, `
		INSERT INTO shipping_informations
			(user_id, name, country, primary_address, secondary_address, city, state, postal_code, phone_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+shippingColumns,
		info.UserID, info.Name, info.Country, info.PrimaryAddress, info.SecondaryAddress,
		info.City, info.State, info.PostalCode, info.PhoneNumber)
	created, err := scanShipping(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create shipping info: %w", err)
	}
	return created, nil
}

func (db *DB) LastShippingInfo(ctx context.Context, userID int) (*models.ShippingInformation, error) {
	row := db.q.QueryRow(ctx,
		"SELECT "+shippingColumns+" FROM shipping_informations WHERE user_id = $1 ORDER BY id DESC LIMIT 1",
		userID)
	si, err := scanShipping(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shipping info: %w", err)
	}
	return si, nil
}

// Portfolio

func (db *DB) CreatePortfolioEntry(ctx context.Context, entry *models.PortfolioEntry) (*models.PortfolioEntry, error) {
	created := &models.PortfolioEntry{}
	err := db.q.QueryRow(ctx, `
		INSERT INTO portfolios (user_id, product_size_id, purchase_date, purchase_price)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, product_size_id, purchase_date, purchase_price`,
		entry.UserID, entry.ProductSizeID, entry.PurchaseDate, entry.PurchasePrice).Scan(
		&created.ID, &created.UserID, &created.ProductSizeID, &created.PurchaseDate, &created.PurchasePrice)
	if err != nil {
		return nil, fmt.Errorf("failed to create portfolio entry: %w", err)
	}
	return created, nil
}

func (db *DB) ListPortfolio(ctx context.Context, userID int) ([]models.PortfolioEntry, error) {
	rows, err := db.q.Query(ctx, `
		SELECT id, user_id, product_size_id, purchase_date, purchase_price
		FROM portfolios WHERE user_id = $1 ORDER BY id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolio: %w", err)
	}
	defer rows.Close()

	var entries []models.PortfolioEntry
	for rows.Next() {
		var e models.PortfolioEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.ProductSizeID, &e.PurchaseDate, &e.PurchasePrice); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
