package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shockx/marketplace/internal/models"
	"github.com/shockx/marketplace/internal/store"
)

var testDB *DB

// Tests in this package need a real PostgreSQL instance. Set
// TEST_DATABASE_URL to run them; without it the package passes vacuously.
func TestMain(m *testing.M) {
	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		os.Exit(0)
	}

	db, err := NewDB(context.Background(), connString)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Pool.Close()

	migration, err := os.ReadFile("../../migrations/001_init.sql")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to read migration: %v\n", err)
		os.Exit(1)
	}
	_, err = db.Pool.Exec(context.Background(), string(migration))
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		fmt.Fprintf(os.Stderr, "Unable to apply migration: %v\n", err)
		os.Exit(1)
	}

	testDB = db
	os.Exit(m.Run())
}

func truncateAll(t *testing.T) {
	t.Helper()
	_, err := testDB.Pool.Exec(context.Background(),
		"TRUNCATE TABLE users, products, images, sizes, product_sizes, shipping_informations, orders, trades, portfolios RESTART IDENTITY CASCADE")
	if err != nil {
		t.Fatalf("Failed to clean up database: %v", err)
	}
}

// seedCatalog inserts two users, one product and one size; ids come back
// as 1 across the board after a truncate.
func seedCatalog(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := testDB.Pool.Exec(ctx,
		"INSERT INTO users (email, name, password_hash) VALUES ('buyer@example.com', 'Buyer', 'hash'), ('seller@example.com', 'Seller', 'hash')")
	if err != nil {
		t.Fatalf("Failed to insert users: %v", err)
	}
	_, err = testDB.Pool.Exec(ctx, `
		INSERT INTO products (name, model_number, ticker_number, color, description, retail_price, release_date)
		VALUES ('Jordan 1 Retro High', '555088-134', 'AJ1-HI', 'University Blue', '', 170.00, '2021-02-06')`)
	if err != nil {
		t.Fatalf("Failed to insert product: %v", err)
	}
	_, err = testDB.Pool.Exec(ctx, "INSERT INTO sizes (name) VALUES ('9')")
	if err != nil {
		t.Fatalf("Failed to insert size: %v", err)
	}
	_, err = testDB.Pool.Exec(ctx, "INSERT INTO product_sizes (product_id, size_id) VALUES (1, 1)")
	if err != nil {
		t.Fatalf("Failed to insert product size: %v", err)
	}
}

func insertCurrentOrder(t *testing.T, side string, userID int, price string) int {
	t.Helper()
	var id int
	err := testDB.Pool.QueryRow(context.Background(), `
		INSERT INTO orders (side, user_id, product_size_id, price, status, expiration_date)
		VALUES ($1, $2, 1, $3, 'current', NOW() + INTERVAL '30 days') RETURNING id`,
		side, userID, price).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to insert order: %v", err)
	}
	return id
}

func TestDB_CreateUserSellerLevel(t *testing.T) {
	truncateAll(t)

	created, err := testDB.CreateUser(context.Background(), "new@example.com", "New", "hash")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.SellerLevelID != 1 {
		t.Errorf("expected default seller level 1, got %d", created.SellerLevelID)
	}
	if !created.TransactionFee.Equal(decimal.RequireFromString("9.50")) {
		t.Errorf("expected level 1 fee 9.50, got %s", created.TransactionFee)
	}

	got, err := testDB.GetUserByEmail(context.Background(), "new@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.TransactionFee.Equal(created.TransactionFee) {
		t.Errorf("fee mismatch: %s vs %s", got.TransactionFee, created.TransactionFee)
	}
}

func TestDB_GetProductImages(t *testing.T) {
	truncateAll(t)
	seedCatalog(t)
	ctx := context.Background()

	_, err := testDB.Pool.Exec(ctx,
		"INSERT INTO images (image_url, product_id) VALUES ('https://img.example.com/front.jpg', 1), ('https://img.example.com/side.jpg', 1)")
	if err != nil {
		t.Fatalf("Failed to insert images: %v", err)
	}

	p, err := testDB.GetProduct(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Images) != 2 || p.Images[0] != "https://img.example.com/front.jpg" {
		t.Errorf("unexpected images: %v", p.Images)
	}
	if p.ImageURL != p.Images[0] {
		t.Errorf("expected first image %q, got %q", p.Images[0], p.ImageURL)
	}
}

func TestDB_ListProducts(t *testing.T) {
	truncateAll(t)
	seedCatalog(t)
	ctx := context.Background()

	// second product with a pricier ask, third with no asks at all
	_, err := testDB.Pool.Exec(ctx, `
		INSERT INTO products (name, model_number, ticker_number, color, description, retail_price, release_date)
		VALUES ('Yeezy Boost 350', 'GW1229', 'YZY-350', 'Zebra', '', 220.00, '2022-03-01'),
		       ('Dunk Low', 'DD1391-100', 'DUNK-LOW', 'Panda', '', 110.00, '2021-01-14')`)
	if err != nil {
		t.Fatalf("Failed to insert products: %v", err)
	}
	_, err = testDB.Pool.Exec(ctx, "INSERT INTO product_sizes (product_id, size_id) VALUES (2, 1), (3, 1)")
	if err != nil {
		t.Fatalf("Failed to insert product sizes: %v", err)
	}
	insertCurrentOrder(t, "ask", 2, "300.00")
	var askID int
	err = testDB.Pool.QueryRow(ctx, `
		INSERT INTO orders (side, user_id, product_size_id, price, status, expiration_date)
		VALUES ('ask', 2, 2, 500.00, 'current', NOW() + INTERVAL '30 days') RETURNING id`).Scan(&askID)
	if err != nil {
		t.Fatalf("Failed to insert ask: %v", err)
	}

	min400 := decimal.NewFromInt(400)
	max400 := decimal.NewFromInt(400)
	tests := []struct {
		name    string
		filter  store.ProductFilter
		wantIDs []int
	}{
		{"no filter", store.ProductFilter{}, []int{1, 2, 3}},
		{"min price", store.ProductFilter{MinPrice: &min400}, []int{2}},
		{"max price", store.ProductFilter{MaxPrice: &max400}, []int{1}},
		// the page must fill from rows that pass the filter
		{"min price with limit", store.ProductFilter{MinPrice: &min400, Limit: 1}, []int{2}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			products, err := testDB.ListProducts(ctx, tc.filter)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var ids []int
			for _, p := range products {
				ids = append(ids, p.ID)
			}
			if len(ids) != len(tc.wantIDs) {
				t.Fatalf("expected ids %v, got %v", tc.wantIDs, ids)
			}
			for i := range ids {
				if ids[i] != tc.wantIDs[i] {
					t.Errorf("expected ids %v, got %v", tc.wantIDs, ids)
				}
			}
		})
	}
}

func TestDB_CreateOrder(t *testing.T) {
	truncateAll(t)
	seedCatalog(t)

	expiration := time.Now().AddDate(0, 0, 30)
	tests := []struct {
		name        string
		order       *models.Order
		expectError bool
	}{
		{
			name: "Success",
			order: &models.Order{
				Side:           models.SideAsk,
				UserID:         2,
				ProductSizeID:  1,
				Price:          decimal.NewFromInt(230),
				Status:         models.StatusCurrent,
				ExpirationDate: &expiration,
			},
			expectError: false,
		},
		{
			name: "InvalidSide",
			order: &models.Order{
				Side:          "short",
				UserID:        2,
				ProductSizeID: 1,
				Price:         decimal.NewFromInt(230),
				Status:        models.StatusCurrent,
			},
			expectError: true,
		},
		{
			name: "NegativePrice",
			order: &models.Order{
				Side:          models.SideAsk,
				UserID:        2,
				ProductSizeID: 1,
				Price:         decimal.NewFromInt(-230),
				Status:        models.StatusCurrent,
			},
			expectError: true,
		},
		{
			name: "NonExistentUser",
			order: &models.Order{
				Side:          models.SideAsk,
				UserID:        999,
				ProductSizeID: 1,
				Price:         decimal.NewFromInt(230),
				Status:        models.StatusCurrent,
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testDB.Pool.Exec(context.Background(), "TRUNCATE TABLE orders RESTART IDENTITY CASCADE")

			created, err := testDB.CreateOrder(context.Background(), tt.order)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if created.ID == 0 {
				t.Errorf("expected generated id, got 0")
			}
			if !created.Price.Equal(tt.order.Price) {
				t.Errorf("expected price %s, got %s", tt.order.Price, created.Price)
			}
		})
	}
}

func TestDB_FindMatchable(t *testing.T) {
	truncateAll(t)
	seedCatalog(t)

	askID := insertCurrentOrder(t, "ask", 2, "230.00")
	insertCurrentOrder(t, "ask", 2, "250.00")

	got, err := testDB.FindMatchable(context.Background(), models.SideAsk, 1, decimal.NewFromInt(230))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != askID {
		t.Errorf("expected ask %d, got %+v", askID, got)
	}

	// prices must match exactly; a cheaper ask is not good enough
	got, err = testDB.FindMatchable(context.Background(), models.SideAsk, 1, decimal.NewFromInt(240))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected no match at 240, got order %d", got.ID)
	}
}

func TestDB_TransitionOrder(t *testing.T) {
	truncateAll(t)
	seedCatalog(t)

	askID := insertCurrentOrder(t, "ask", 2, "230.00")
	matchedAt := time.Now()

	ok, err := testDB.TransitionOrder(context.Background(), askID, matchedAt, decimal.NewFromFloat(247.50), "A21033100001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected transition to succeed")
	}

	var status, orderNumber string
	var totalPrice decimal.Decimal
	err = testDB.Pool.QueryRow(context.Background(),
		"SELECT status, order_number, total_price FROM orders WHERE id = $1", askID).
		Scan(&status, &orderNumber, &totalPrice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != "pending" || orderNumber != "A21033100001" || !totalPrice.Equal(decimal.NewFromFloat(247.50)) {
		t.Errorf("unexpected row after transition: status=%s number=%s total=%s", status, orderNumber, totalPrice)
	}

	// second transition finds no current row
	ok, err = testDB.TransitionOrder(context.Background(), askID, matchedAt, decimal.NewFromFloat(247.50), "A21033100002")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Errorf("expected second transition to fail")
	}
}

func TestDB_TransitionOrder_Concurrent(t *testing.T) {
	truncateAll(t)
	seedCatalog(t)

	askID := insertCurrentOrder(t, "ask", 2, "230.00")

	var wg sync.WaitGroup
	n := 10
	wg.Add(n)
	successCount := 0
	mu := sync.Mutex{}

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			ok, err := testDB.TransitionOrder(context.Background(), askID, time.Now(), decimal.NewFromFloat(247.50), "A21033100001")
			if err == nil && ok {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successCount != 1 {
		t.Errorf("expected exactly 1 successful transition, got %d", successCount)
	}
}

func TestDB_WithTxRollback(t *testing.T) {
	truncateAll(t)
	seedCatalog(t)

	sentinel := errors.New("boom")
	expiration := time.Now().AddDate(0, 0, 30)
	err := testDB.WithTx(context.Background(), func(tx store.Store) error {
		_, err := tx.CreateOrder(context.Background(), &models.Order{
			Side:           models.SideBid,
			UserID:         1,
			ProductSizeID:  1,
			Price:          decimal.NewFromInt(230),
			Status:         models.StatusCurrent,
			ExpirationDate: &expiration,
		})
		if err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	var count int
	if err := testDB.Pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM orders").Scan(&count); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected rollback to discard the order, found %d rows", count)
	}
}

func TestDB_GetOrCreateShippingInfo(t *testing.T) {
	truncateAll(t)
	seedCatalog(t)

	info := &models.ShippingInformation{
		UserID:         1,
		Name:           "Buyer",
		Country:        "USA",
		PrimaryAddress: "1 Main St",
		City:           "Portland",
		State:          "OR",
		PostalCode:     "97201",
		PhoneNumber:    "555-0100",
	}
	first, err := testDB.GetOrCreateShippingInfo(context.Background(), info)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := testDB.GetOrCreateShippingInfo(context.Background(), info)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected identical shipping info to be reused, got ids %d and %d", first.ID, second.ID)
	}

	last, err := testDB.LastShippingInfo(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last == nil || last.ID != first.ID {
		t.Errorf("expected last shipping info %d, got %+v", first.ID, last)
	}
}

func TestDB_HistoryAsks(t *testing.T) {
	truncateAll(t)
	seedCatalog(t)

	ctx := context.Background()
	for i, price := range []string{"390.00", "420.00", "405.00"} {
		_, err := testDB.Pool.Exec(ctx, `
			INSERT INTO orders (side, user_id, product_size_id, price, status, matched_at, total_price, order_number)
			VALUES ('ask', 2, 1, $1, 'history', NOW() - ($2 || ' days')::INTERVAL, $1, $3)`,
			price, fmt.Sprint(3-i), fmt.Sprintf("A210331%05d", i+1))
		if err != nil {
			t.Fatalf("Failed to insert history ask: %v", err)
		}
	}

	history, err := testDB.HistoryAsks(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 history asks, got %d", len(history))
	}
	// id order, regardless of match time
	for i, want := range []int64{390, 420, 405} {
		if !history[i].Price.Equal(decimal.NewFromInt(want)) {
			t.Errorf("history[%d]: expected price %d, got %s", i, want, history[i].Price)
		}
	}
}
