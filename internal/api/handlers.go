package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xtrntr/nftmarket/internal/auction"
	"github.com/xtrntr/nftmarket/internal/auth"
	"github.com/xtrntr/nftmarket/internal/custody"
	"github.com/xtrntr/nftmarket/internal/db"
	"github.com/xtrntr/nftmarket/internal/escrow"
	"github.com/xtrntr/nftmarket/internal/events"
	"github.com/xtrntr/nftmarket/internal/market"
	"github.com/xtrntr/nftmarket/internal/models"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB          *db.DB
	Assets      *custody.AssetBook
	Custodian   *custody.Custodian
	Market      *market.Market
	Auctions    *auction.Engine
	Ledger      *escrow.Ledger
	Bank        *escrow.Bank
	Events      *events.Log
	AuthService *auth.AuthService
}

// NewHandler creates a new handler
func NewHandler(database *db.DB, assets *custody.AssetBook, cust *custody.Custodian,
	m *market.Market, a *auction.Engine, ledger *escrow.Ledger, bank *escrow.Bank,
	evlog *events.Log, authService *auth.AuthService) *Handler {
	return &Handler{
		DB:          database,
		Assets:      assets,
		Custodian:   cust,
		Market:      m,
		Auctions:    a,
		Ledger:      ledger,
		Bank:        bank,
		Events:      evlog,
		AuthService: authService,
	}
}

// Routes mounts all marketplace endpoints on the router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Get("/listings", h.GetAllListings)
	r.Get("/listings/{collection}/{item}", h.GetListing)
	r.Get("/auctions", h.GetAllAuctions)
	r.Get("/auctions/{collection}/{item}", h.GetAuction)
	r.Get("/events", h.GetEvents)

	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Get("/assets", h.GetAssets)
		r.Post("/assets/mint", h.MintAsset)
		r.Post("/assets/{collection}/{item}/approve", h.ApproveAsset)

		r.Post("/listings", h.ListItem)
		r.Post("/listings/{collection}/{item}/buy", h.BuyItem)
		r.Delete("/listings/{collection}/{item}", h.CancelListing)

		r.Post("/auctions", h.CreateAuction)
		r.Post("/auctions/{collection}/{item}/bids", h.PlaceBid)
		r.Post("/auctions/{collection}/{item}/buy-now", h.BuyNow)
		r.Post("/auctions/{collection}/{item}/end", h.EndAuction)
		r.Delete("/auctions/{collection}/{item}", h.CancelAuction)

		r.Get("/escrow/balance", h.GetEscrowBalance)
		r.Post("/escrow/withdraw", h.Withdraw)
		r.Get("/bank/balance", h.GetBankBalance)
	})
}

// Register handles account registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, `{"error": "Username and password required"}`, http.StatusBadRequest)
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Failed to register user"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles account login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, username, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), "user_id", userID)
		ctx = context.WithValue(ctx, "username", username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// account extracts the authenticated account name from the request context
func account(r *http.Request) (string, bool) {
	username, ok := r.Context().Value("username").(string)
	return username, ok
}

// urlKey parses the asset key from URL parameters
func urlKey(r *http.Request) (models.AssetKey, error) {
	item, err := strconv.ParseInt(chi.URLParam(r, "item"), 10, 64)
	if err != nil {
		return models.AssetKey{}, err
	}
	return models.AssetKey{Collection: chi.URLParam(r, "collection"), ItemID: item}, nil
}

// writeEngineError maps engine errors to HTTP status codes
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, market.ErrNotListed),
		errors.Is(err, auction.ErrNoAuction),
		errors.Is(err, custody.ErrUnknownAsset):
		status = http.StatusNotFound
	case errors.Is(err, market.ErrNotSeller),
		errors.Is(err, auction.ErrNotSeller),
		errors.Is(err, auction.ErrNotParticipant),
		errors.Is(err, auction.ErrSellerCannotBid),
		errors.Is(err, custody.ErrNotOwner),
		errors.Is(err, custody.ErrNotApproved):
		status = http.StatusForbidden
	case errors.Is(err, escrow.ErrTransferFailed):
		status = http.StatusBadGateway
	}
	body, _ := json.Marshal(map[string]string{"error": err.Error()})
	http.Error(w, string(body), status)
}

// payable debits the caller's bank balance, runs the operation, and refunds
// the debit if the operation fails. The operation as a whole either keeps
// the payment or never takes it.
func (h *Handler) payable(account string, amount int64, op func() error) error {
	if err := h.Bank.Debit(account, amount); err != nil {
		return err
	}
	if err := op(); err != nil {
		h.Bank.Deposit(account, amount)
		return err
	}
	return nil
}

// persistAsset mirrors the asset's current ownership into the database.
// Non-fatal: the in-memory book is the source of truth for the engine.
func (h *Handler) persistAsset(ctx context.Context, key models.AssetKey) {
	owner, ok := h.Assets.OwnerOf(key)
	if !ok {
		return
	}
	asset := models.Asset{Key: key, Owner: owner, Approved: h.Assets.ApprovedFor(key)}
	if err := h.DB.UpsertAsset(ctx, asset); err != nil {
		log.Printf("Failed to persist asset %s: %v", key, err)
	}
}

// GetAssets returns the assets owned by the authenticated account
func (h *Handler) GetAssets(w http.ResponseWriter, r *http.Request) {
	user, ok := account(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	assets := h.Assets.OwnedBy(user)
	if assets == nil {
		assets = []models.Asset{}
	}
	json.NewEncoder(w).Encode(assets)
}

// MintAsset creates a new asset in a collection owned by the caller
func (h *Handler) MintAsset(w http.ResponseWriter, r *http.Request) {
	user, ok := account(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Collection string `json:"collection"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Collection == "" {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	key := h.Assets.Mint(req.Collection, user)
	h.persistAsset(r.Context(), key)

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(key)
}

// ApproveAsset authorizes the custodian to transfer the caller's asset
func (h *Handler) ApproveAsset(w http.ResponseWriter, r *http.Request) {
	user, ok := account(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	key, err := urlKey(r)
	if err != nil {
		http.Error(w, `{"error": "Invalid asset key"}`, http.StatusBadRequest)
		return
	}

	if err := h.Assets.Approve(key, user, h.Custodian.Account()); err != nil {
		writeEngineError(w, err)
		return
	}
	h.persistAsset(r.Context(), key)

	json.NewEncoder(w).Encode(map[string]string{"message": "Custodian approved"})
}

// ListItem creates a fixed-price listing
func (h *Handler) ListItem(w http.ResponseWriter, r *http.Request) {
	user, ok := account(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Collection string `json:"collection"`
		ItemID     int64  `json:"item_id"`
		Price      int64  `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	key := models.AssetKey{Collection: req.Collection, ItemID: req.ItemID}

	if err := h.Market.ListItem(key, user, req.Price); err != nil {
		writeEngineError(w, err)
		return
	}
	h.persistAsset(r.Context(), key)

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"message": "Item listed"})
}

// BuyItem purchases a listed asset at its exact price
func (h *Handler) BuyItem(w http.ResponseWriter, r *http.Request) {
	user, ok := account(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	key, err := urlKey(r)
	if err != nil {
		http.Error(w, `{"error": "Invalid asset key"}`, http.StatusBadRequest)
		return
	}

	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	err = h.payable(user, req.Amount, func() error {
		return h.Market.BuyItem(key, user, req.Amount)
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.persistAsset(r.Context(), key)

	json.NewEncoder(w).Encode(map[string]string{"message": "Item bought"})
}

// CancelListing returns a listed asset to its seller
func (h *Handler) CancelListing(w http.ResponseWriter, r *http.Request) {
	user, ok := account(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	key, err := urlKey(r)
	if err != nil {
		http.Error(w, `{"error": "Invalid asset key"}`, http.StatusBadRequest)
		return
	}

	if err := h.Market.CancelListing(key, user); err != nil {
		writeEngineError(w, err)
		return
	}
	h.persistAsset(r.Context(), key)

	json.NewEncoder(w).Encode(map[string]string{"message": "Listing canceled"})
}

// GetAllListings returns every tracked listing, tombstones included
func (h *Handler) GetAllListings(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(h.Market.AllListings())
}

// GetListing returns one listing by asset key
func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	key, err := urlKey(r)
	if err != nil {
		http.Error(w, `{"error": "Invalid asset key"}`, http.StatusBadRequest)
		return
	}
	lst, ok := h.Market.Listing(key)
	if !ok {
		http.Error(w, `{"error": "Listing not found"}`, http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(lst)
}

// CreateAuction opens a timed auction for the caller's asset
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	user, ok := account(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Collection      string `json:"collection"`
		ItemID          int64  `json:"item_id"`
		DurationSeconds int64  `json:"duration_seconds"`
		BuyNowPrice     int64  `json:"buy_now_price"`
		MinBidIncrement int64  `json:"min_bid_increment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	key := models.AssetKey{Collection: req.Collection, ItemID: req.ItemID}

	err := h.Auctions.CreateAuction(key, user,
		time.Duration(req.DurationSeconds)*time.Second, req.BuyNowPrice, req.MinBidIncrement)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.persistAsset(r.Context(), key)

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"message": "Auction created"})
}

// PlaceBid escrows a bid on an open auction
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	user, ok := account(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	key, err := urlKey(r)
	if err != nil {
		http.Error(w, `{"error": "Invalid asset key"}`, http.StatusBadRequest)
		return
	}

	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	err = h.payable(user, req.Amount, func() error {
		return h.Auctions.PlaceBid(key, user, req.Amount)
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"message": "Bid placed"})
}

// BuyNow ends an auction instantly at the buy-now price
func (h *Handler) BuyNow(w http.ResponseWriter, r *http.Request) {
	user, ok := account(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	key, err := urlKey(r)
	if err != nil {
		http.Error(w, `{"error": "Invalid asset key"}`, http.StatusBadRequest)
		return
	}

	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	err = h.payable(user, req.Amount, func() error {
		return h.Auctions.BuyNow(key, user, req.Amount)
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.persistAsset(r.Context(), key)

	json.NewEncoder(w).Encode(map[string]string{"message": "Auction settled"})
}

// EndAuction settles an expired auction
func (h *Handler) EndAuction(w http.ResponseWriter, r *http.Request) {
	user, ok := account(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	key, err := urlKey(r)
	if err != nil {
		http.Error(w, `{"error": "Invalid asset key"}`, http.StatusBadRequest)
		return
	}

	if err := h.Auctions.EndAuction(key, user); err != nil {
		writeEngineError(w, err)
		return
	}
	h.persistAsset(r.Context(), key)

	json.NewEncoder(w).Encode(map[string]string{"message": "Auction ended"})
}

// CancelAuction cancels a bid-free auction
func (h *Handler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	user, ok := account(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	key, err := urlKey(r)
	if err != nil {
		http.Error(w, `{"error": "Invalid asset key"}`, http.StatusBadRequest)
		return
	}

	if err := h.Auctions.CancelAuction(key, user); err != nil {
		writeEngineError(w, err)
		return
	}
	h.persistAsset(r.Context(), key)

	json.NewEncoder(w).Encode(map[string]string{"message": "Auction canceled"})
}

// GetAllAuctions returns every tracked auction, tombstones included
func (h *Handler) GetAllAuctions(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(h.Auctions.AllAuctions())
}

// GetAuction returns one auction by asset key
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	key, err := urlKey(r)
	if err != nil {
		http.Error(w, `{"error": "Invalid asset key"}`, http.StatusBadRequest)
		return
	}
	a, ok := h.Auctions.Auction(key)
	if !ok {
		http.Error(w, `{"error": "Auction not found"}`, http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(a)
}

// GetEscrowBalance returns the caller's withdrawable escrow balance
func (h *Handler) GetEscrowBalance(w http.ResponseWriter, r *http.Request) {
	user, ok := account(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	json.NewEncoder(w).Encode(map[string]int64{"balance": h.Ledger.Balance(user)})
}

// Withdraw pays out the caller's full escrow balance
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	user, ok := account(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	amount, err := h.Ledger.Withdraw(user)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]int64{"amount": amount})
}

// GetBankBalance returns the caller's spendable bank balance
func (h *Handler) GetBankBalance(w http.ResponseWriter, r *http.Request) {
	user, ok := account(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	json.NewEncoder(w).Encode(map[string]int64{"balance": h.Bank.Balance(user)})
}

// GetEvents returns the in-memory event log in append order
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	evs := h.Events.All()
	if evs == nil {
		evs = []events.Event{}
	}
	json.NewEncoder(w).Encode(evs)
}
