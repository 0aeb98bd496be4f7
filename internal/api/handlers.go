package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/shockx/marketplace/internal/auth"
	"github.com/shockx/marketplace/internal/market"
	"github.com/shockx/marketplace/internal/match"
	"github.com/shockx/marketplace/internal/models"
	"github.com/shockx/marketplace/internal/portfolio"
	"github.com/shockx/marketplace/internal/store"
)

type ctxKey string

const userIDKey ctxKey = "user_id"

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Store       store.Store
	Engine      *match.Engine
	Analytics   *market.Analytics
	Valuer      *portfolio.Valuer
	AuthService *auth.AuthService
	Log         *logrus.Logger
}

// NewHandler creates a new handler
func NewHandler(s store.Store, engine *match.Engine, authService *auth.AuthService, log *logrus.Logger) *Handler {
	return &Handler{
		Store:       s,
		Engine:      engine,
		Analytics:   market.New(s),
		Valuer:      portfolio.New(s),
		AuthService: authService,
		Log:         log,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// respondError maps the domain error taxonomy onto the legacy response
// vocabulary the clients expect.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrProductSizeNotFound):
		writeMessage(w, http.StatusNotFound, "PRODUCT_SIZE_DOES_NOT_EXIST")
	case errors.Is(err, models.ErrProductNotFound):
		writeMessage(w, http.StatusNotFound, "PAGE_NOT_FOUND")
	case errors.Is(err, models.ErrAskNotFound):
		writeMessage(w, http.StatusNotFound, "ASK_DOES_NOT_EXIST")
	case errors.Is(err, models.ErrBidNotFound):
		writeMessage(w, http.StatusNotFound, "BID_DOES_NOT_EXIST")
	case errors.Is(err, models.ErrMissingField):
		writeMessage(w, http.StatusBadRequest, "KEY_ERROR")
	case errors.Is(err, models.ErrInvalidValue):
		writeMessage(w, http.StatusBadRequest, "INVALID_VALUE")
	case errors.Is(err, models.ErrUserNotFound):
		writeMessage(w, http.StatusBadRequest, "INVALID_USER")
	default:
		h.Log.WithError(err).Error("request failed")
		writeMessage(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR")
	}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "BAD_REQUEST")
		return
	}
	if req.Email == "" || req.Name == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "KEY_ERROR")
		return
	}

	userID, err := h.AuthService.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "SIGN_UP_FAILED")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": userID, "email": req.Email})
}

// Login handles user sign-in and issues an access token
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "BAD_REQUEST")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "INVALID_CREDENTIALS")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"accessToken": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeMessage(w, http.StatusUnauthorized, "NEED_LOGIN")
			return
		}
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "INVALID_TOKEN")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) (int, bool) {
	userID, ok := r.Context().Value(userIDKey).(int)
	return userID, ok
}

// productSizeFrom resolves the {productID} path param plus the size query
// param to a product size row.
func (h *Handler) productSizeFrom(r *http.Request) (*models.ProductSize, error) {
	productID, err := strconv.Atoi(chi.URLParam(r, "productID"))
	if err != nil {
		return nil, models.ErrProductSizeNotFound
	}
	sizeID, err := strconv.Atoi(r.URL.Query().Get("size"))
	if err != nil {
		return nil, models.ErrProductSizeNotFound
	}
	return h.Store.GetProductSize(r.Context(), productID, sizeID)
}

type shippingInfoResponse struct {
	Name             *string `json:"name"`
	Country          *string `json:"country"`
	PrimaryAddress   *string `json:"primaryAddress"`
	SecondaryAddress *string `json:"secondaryAddress"`
	City             *string `json:"city"`
	State            *string `json:"state"`
	PostalCode       *string `json:"postalCode"`
	PhoneNumber      *string `json:"phoneNumber"`
}

func shippingResponse(si *models.ShippingInformation) shippingInfoResponse {
	if si == nil {
		return shippingInfoResponse{}
	}
	return shippingInfoResponse{
		Name:             &si.Name,
		Country:          &si.Country,
		PrimaryAddress:   &si.PrimaryAddress,
		SecondaryAddress: &si.SecondaryAddress,
		City:             &si.City,
		State:            &si.State,
		PostalCode:       &si.PostalCode,
		PhoneNumber:      &si.PhoneNumber,
	}
}

// OfferView returns the current best prices for a product size plus the
// caller's last-known shipping destination. Serves both the buy and sell
// pages; the payload is identical.
func (h *Handler) OfferView(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "NEED_LOGIN")
		return
	}

	ps, err := h.productSizeFrom(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	product, err := h.Store.GetProduct(r.Context(), ps.ProductID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	lowestAsk, err := h.Analytics.LowestAsk(r.Context(), ps.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	highestBid, err := h.Analytics.HighestBid(r.Context(), ps.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	shipping, err := h.Store.LastShippingInfo(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"product": map[string]any{
			"id":         ps.ID,
			"name":       product.Name,
			"lowestAsk":  lowestAsk.IntPart(),
			"highestBid": highestBid.IntPart(),
			"size":       ps.SizeName,
			"image":      product.ImageURL,
		},
		"shippingInfo": shippingResponse(shipping),
	}})
}

type orderRequest struct {
	IsBid            string           `json:"isBid"`
	IsAsk            string           `json:"isAsk"`
	Price            decimal.Decimal  `json:"price"`
	Name             string           `json:"name"`
	Country          string           `json:"country"`
	PrimaryAddress   string           `json:"primaryAddress"`
	SecondaryAddress string           `json:"secondaryAddress"`
	City             string           `json:"city"`
	State            string           `json:"state"`
	PostalCode       string           `json:"postalCode"`
	PhoneNumber      string           `json:"phoneNumber"`
	ExpirationDate   int              `json:"expirationDate"`
	TotalPrice       *decimal.Decimal `json:"totalPrice"`
}

// validate checks the shared required fields and the side selector, which
// must be exactly "0" or "1". resting reports which path the request
// takes.
func (req *orderRequest) validate(selector string) (resting bool, err error) {
	if selector == "" {
		return false, models.ErrMissingField
	}
	if selector != "0" && selector != "1" {
		return false, models.ErrInvalidValue
	}
	if req.Name == "" || req.Country == "" || req.PrimaryAddress == "" || req.City == "" ||
		req.PostalCode == "" || req.PhoneNumber == "" || !req.Price.IsPositive() {
		return false, models.ErrMissingField
	}
	resting = selector == "1"
	if resting && req.ExpirationDate <= 0 {
		return false, models.ErrMissingField
	}
	if !resting && req.TotalPrice == nil {
		return false, models.ErrMissingField
	}
	return resting, nil
}

// SubmitBuy handles the buyer-side order form: a resting bid when
// isBid=="1", an immediate purchase of the matching ask when isBid=="0".
func (h *Handler) SubmitBuy(w http.ResponseWriter, r *http.Request) {
	h.submitOrder(w, r, models.SideBid)
}

// SubmitSell handles the seller-side order form: a resting ask when
// isAsk=="1", an immediate sale to the matching bid when isAsk=="0".
func (h *Handler) SubmitSell(w http.ResponseWriter, r *http.Request) {
	h.submitOrder(w, r, models.SideAsk)
}

func (h *Handler) submitOrder(w http.ResponseWriter, r *http.Request, side models.Side) {
	userID, ok := userFrom(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "NEED_LOGIN")
		return
	}

	ps, err := h.productSizeFrom(r)
	if err != nil {
		h.respondError(w, err)
		return
	}

	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "KEY_ERROR")
		return
	}
	selector := req.IsBid
	if side == models.SideAsk {
		selector = req.IsAsk
	}
	resting, err := req.validate(selector)
	if err != nil {
		h.respondError(w, err)
		return
	}

	// created inside the engine's transaction, so a failed order leaves
	// no shipping row behind
	shipping := &models.ShippingInformation{
		UserID:           userID,
		Name:             req.Name,
		Country:          req.Country,
		PrimaryAddress:   req.PrimaryAddress,
		SecondaryAddress: req.SecondaryAddress,
		City:             req.City,
		State:            req.State,
		PostalCode:       req.PostalCode,
		PhoneNumber:      req.PhoneNumber,
	}

	if resting {
		var post func(context.Context, int, int, decimal.Decimal, *models.ShippingInformation, int) (*models.Order, error)
		if side == models.SideBid {
			post = h.Engine.PostBid
		} else {
			post = h.Engine.PostAsk
		}
		order, err := post(r.Context(), userID, ps.ID, req.Price, shipping, req.ExpirationDate)
		if err != nil {
			h.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"message": "SUCCESS", "orderId": order.ID})
		return
	}

	var execute func(context.Context, int, int, decimal.Decimal, decimal.Decimal, *models.ShippingInformation) (*match.Execution, error)
	if side == models.SideBid {
		execute = h.Engine.ExecuteBuy
	} else {
		execute = h.Engine.ExecuteSell
	}
	exec, err := execute(r.Context(), userID, ps.ID, req.Price, *req.TotalPrice, shipping)
	if err != nil {
		h.respondError(w, err)
		return
	}

	taker := exec.Bid
	if side == models.SideAsk {
		taker = exec.Ask
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":     "SUCCESS",
		"orderId":     taker.ID,
		"orderNumber": taker.OrderNumber,
		"tradeId":     exec.Trade.ID,
	})
}

type orderResponse struct {
	ID            int     `json:"id"`
	ProductSizeID int     `json:"productSizeId"`
	Price         int64   `json:"price"`
	OrderNumber   *string `json:"orderNumber,omitempty"`
	MatchedAt     *string `json:"matchedAt,omitempty"`
	ExpiresAt     *string `json:"expiresAt,omitempty"`
}

func toOrderResponse(o models.Order) orderResponse {
	resp := orderResponse{
		ID:            o.ID,
		ProductSizeID: o.ProductSizeID,
		Price:         o.Price.IntPart(),
		OrderNumber:   o.OrderNumber,
	}
	if o.MatchedAt != nil {
		s := o.MatchedAt.Format("2006-01-02")
		resp.MatchedAt = &s
	}
	if o.ExpirationDate != nil {
		s := o.ExpirationDate.Format("2006-01-02")
		resp.ExpiresAt = &s
	}
	return resp
}

// AccountStatus returns the caller's orders on one side, grouped into
// current (resting) and pending (matched, awaiting settlement).
func (h *Handler) AccountStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "NEED_LOGIN")
		return
	}

	side := models.Side(r.URL.Query().Get("side"))
	if side != models.SideBid && side != models.SideAsk {
		writeMessage(w, http.StatusBadRequest, "INVALID_VALUE")
		return
	}

	orders, err := h.Store.ListUserOrders(r.Context(), userID, side)
	if err != nil {
		h.respondError(w, err)
		return
	}

	current := []orderResponse{}
	pending := []orderResponse{}
	for _, o := range orders {
		switch o.Status {
		case models.StatusCurrent:
			current = append(current, toOrderResponse(o))
		case models.StatusPending:
			pending = append(pending, toOrderResponse(o))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"current": current, "pending": pending})
}

// ListProducts returns the paginated catalog with each product's lowest
// current ask, plus the size categories for filtering.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.ProductFilter{}
	filter.Limit, _ = strconv.Atoi(query.Get("limit"))
	filter.Offset, _ = strconv.Atoi(query.Get("offset"))
	filter.SizeID, _ = strconv.Atoi(query.Get("size"))
	if v := query.Get("lowest"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			filter.MinPrice = &d
		}
	}
	if v := query.Get("highest"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			filter.MaxPrice = &d
		}
	}

	products, err := h.Store.ListProducts(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}

	results := make([]map[string]any, 0, len(products))
	for _, p := range products {
		lowest, err := h.Store.LowestProductAsk(r.Context(), p.ID)
		if err != nil {
			h.respondError(w, err)
			return
		}
		results = append(results, map[string]any{
			"productId":    p.ID,
			"productName":  p.Name,
			"productImage": p.ImageURL,
			"price":        lowest.IntPart(),
		})
	}

	sizes, err := h.Store.ListSizes(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	categories := make([]map[string]any, 0, len(sizes))
	for _, s := range sizes {
		categories = append(categories, map[string]any{"size": s.ID, "sizeName": s.Name})
	}

	writeJSON(w, http.StatusOK, map[string]any{"products": results, "size_categories": categories})
}

// ProductDetail returns a product's catalog data with the full market
// snapshot for every size.
func (h *Handler) ProductDetail(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.Atoi(chi.URLParam(r, "productID"))
	if err != nil {
		writeMessage(w, http.StatusNotFound, "PAGE_NOT_FOUND")
		return
	}

	product, err := h.Store.GetProduct(r.Context(), productID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	productSizes, err := h.Store.ListProductSizes(r.Context(), productID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	sizes := make([]*market.SizeStats, 0, len(productSizes))
	for i := range productSizes {
		stats, err := h.Analytics.SizeStats(r.Context(), &productSizes[i], product.RetailPrice)
		if err != nil {
			h.respondError(w, err)
			return
		}
		sizes = append(sizes, stats)
	}

	images := product.Images
	if images == nil {
		images = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": map[string]any{
		"product_id":     product.ID,
		"product_name":   product.Name,
		"product_ticker": product.TickerNumber,
		"color":          product.Color,
		"description":    product.Description,
		"retail_price":   product.RetailPrice.IntPart(),
		"release_date":   product.ReleaseDate.Format("2006-01-02"),
		"style":          product.ModelNumber,
		"image_url":      images,
		"sizes":          sizes,
	}})
}

// GetPortfolio returns the caller's portfolio entries with market values.
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "NEED_LOGIN")
		return
	}

	valuations, err := h.Valuer.Value(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	results := make([]map[string]any, 0, len(valuations))
	for _, v := range valuations {
		results = append(results, map[string]any{
			"id":            v.Entry.ID,
			"productId":     v.ProductID,
			"productSizeId": v.Entry.ProductSizeID,
			"purchaseDate":  v.Entry.PurchaseDate.Format("2006-01-02"),
			"purchasePrice": v.Entry.PurchasePrice.IntPart(),
			"marketValue":   v.MarketValue,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"portfolio": results})
}

// CreatePortfolioEntry records a past purchase for valuation.
func (h *Handler) CreatePortfolioEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "NEED_LOGIN")
		return
	}

	var req struct {
		ProductID     int             `json:"productId"`
		SizeID        int             `json:"sizeId"`
		PurchaseDate  string          `json:"purchaseDate"`
		PurchasePrice decimal.Decimal `json:"purchasePrice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "KEY_ERROR")
		return
	}
	purchaseDate, err := time.Parse("2006-01-02", req.PurchaseDate)
	if err != nil || !req.PurchasePrice.IsPositive() {
		writeMessage(w, http.StatusBadRequest, "KEY_ERROR")
		return
	}

	ps, err := h.Store.GetProductSize(r.Context(), req.ProductID, req.SizeID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	entry, err := h.Store.CreatePortfolioEntry(r.Context(), &models.PortfolioEntry{
		UserID:        userID,
		ProductSizeID: ps.ID,
		PurchaseDate:  purchaseDate,
		PurchasePrice: req.PurchasePrice,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "SUCCESS", "id": entry.ID})
}
