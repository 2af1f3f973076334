package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/xtrntr/nftmarket/internal/api"
	"github.com/xtrntr/nftmarket/internal/auction"
	"github.com/xtrntr/nftmarket/internal/auth"
	"github.com/xtrntr/nftmarket/internal/config"
	"github.com/xtrntr/nftmarket/internal/custody"
	"github.com/xtrntr/nftmarket/internal/db"
	"github.com/xtrntr/nftmarket/internal/escrow"
	"github.com/xtrntr/nftmarket/internal/events"
	"github.com/xtrntr/nftmarket/internal/keylock"
	"github.com/xtrntr/nftmarket/internal/market"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

var (
	clients   = make(map[*WSClient]bool)
	clientsMu sync.RWMutex
)

func broadcastEvent(e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("Failed to marshal event: %v", err)
		return
	}

	clientsMu.RLock()
	var dead []*WSClient
	for client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			dead = append(dead, client)
		}
	}
	clientsMu.RUnlock()

	if len(dead) > 0 {
		clientsMu.Lock()
		for _, client := range dead {
			delete(clients, client)
		}
		clientsMu.Unlock()
	}
}

func handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	client := &WSClient{conn: conn}
	clientsMu.Lock()
	clients[client] = true
	clientsMu.Unlock()

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

// Main entry point: sets up database, engines, and HTTP server
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	// Initialize database connection
	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	// Build the engine: asset book, custodian, bank, escrow ledger,
	// event log, listing market and auction engine sharing one lock ring
	assets := custody.NewAssetBook()
	custodian := custody.NewCustodian(cfg.CustodyAccount, assets)
	bank := escrow.NewBank()
	ledger := escrow.NewLedger(bank)
	evlog := events.NewLog()
	keys := keylock.NewRing()
	listings := market.New(keys, custodian, ledger, evlog)
	auctions := auction.New(keys, custodian, ledger, evlog, auction.SystemClock{})

	// Reload persisted assets and bank balances
	persisted, err := database.GetAssets(ctx)
	if err != nil {
		log.Fatalf("Failed to load assets: %v", err)
	}
	for _, a := range persisted {
		assets.Restore(a.Key, a.Owner, a.Approved)
	}
	balances, err := database.GetBalances(ctx)
	if err != nil {
		log.Fatalf("Failed to load balances: %v", err)
	}
	for account, amount := range balances {
		bank.Deposit(account, amount)
	}
	log.Printf("Loaded %d assets and %d funded accounts", len(persisted), len(balances))

	// Initialize auth service and API handlers
	authService := auth.NewAuthService(database, cfg.JWTSecret)
	handler := api.NewHandler(database, assets, custodian, listings, auctions, ledger, bank, evlog, authService)

	// Set up HTTP router
	r := chi.NewRouter()

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WebSocket event feed
	r.Get("/ws", handleWebSocket)

	handler.Routes(r)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}

	g, gctx := errgroup.WithContext(ctx)

	// Persist and broadcast every emitted event
	feed := evlog.Subscribe()
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case e := <-feed:
				if err := database.RecordEvent(gctx, e); err != nil {
					log.Printf("Failed to persist event %s: %v", e.ID, err)
				}
				broadcastEvent(e)
			}
		}
	})

	g.Go(func() error {
		log.Printf("Starting server on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
