package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/shockx/marketplace/internal/api"
	"github.com/shockx/marketplace/internal/auth"
	"github.com/shockx/marketplace/internal/config"
	"github.com/shockx/marketplace/internal/db"
	"github.com/shockx/marketplace/internal/market"
	"github.com/shockx/marketplace/internal/match"
)

var log = logrus.New()

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

var (
	clients   = make(map[*wsClient]bool)
	clientsMu sync.RWMutex
)

func broadcastMarket(ctx context.Context, analytics *market.Analytics) {
	quotes, err := analytics.Snapshot(ctx)
	if err != nil {
		log.WithError(err).Error("failed to build market snapshot")
		return
	}
	data, err := json.Marshal(map[string]any{"quotes": quotes})
	if err != nil {
		log.WithError(err).Error("failed to marshal market snapshot")
		return
	}

	clientsMu.RLock()
	var stale []*wsClient
	for client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			stale = append(stale, client)
		}
	}
	clientsMu.RUnlock()

	if len(stale) > 0 {
		clientsMu.Lock()
		for _, client := range stale {
			delete(clients, client)
		}
		clientsMu.Unlock()
	}
}

func handleWebSocket(analytics *market.Analytics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Warn("failed to upgrade connection")
			return
		}

		client := &wsClient{conn: conn}
		clientsMu.Lock()
		clients[client] = true
		clientsMu.Unlock()

		// Send initial snapshot
		broadcastMarket(r.Context(), analytics)

		// Keep connection alive and handle disconnection
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				clientsMu.Lock()
				delete(clients, client)
				clientsMu.Unlock()
				break
			}
		}
	}
}

// Main entry point: sets up database, matching engine, and HTTP server
func main() {
	ctx := context.Background()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer database.Close(ctx)

	engine := match.NewEngine(database)
	analytics := market.New(database)
	authService := auth.NewAuthService(database, []byte(cfg.JWTSecret), cfg.ParsedTokenTTL)
	handler := api.NewHandler(database, engine, authService, log)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WebSocket market feed
	r.Get("/ws", handleWebSocket(analytics))

	// Public endpoints
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)
	r.Get("/products", handler.ListProducts)
	r.Get("/products/{productID}", handler.ProductDetail)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Get("/order/buy/{productID}", handler.OfferView)
		r.Post("/order/buy/{productID}", handler.SubmitBuy)
		r.Get("/order/sell/{productID}", handler.OfferView)
		r.Post("/order/sell/{productID}", handler.SubmitSell)
		r.Get("/orders", handler.AccountStatus)
		r.Get("/portfolio", handler.GetPortfolio)
		r.Post("/portfolio", handler.CreatePortfolioEntry)
	})

	// Periodic market feed broadcast
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		for range ticker.C {
			broadcastMarket(ctx, analytics)
		}
	}()

	log.WithField("addr", cfg.Addr).Info("starting server")
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}
