package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/xtrntr/nftmarket/internal/config"
	"github.com/xtrntr/nftmarket/internal/db"
	"github.com/xtrntr/nftmarket/internal/models"
)

// bcrypt hash of "password123"
const demoPasswordHash = "$2a$10$XLhV7TU4dIvHO1d9UKgoT.Kt1XCYIbLV4LkQqmXGtN6VBnsmgS.G."

// Seed the database with demo accounts, assets and bank balances
func main() {
	ctx := context.Background()
	cfg := config.Load()

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	// Skip seeding if assets already exist
	assets, err := database.GetAssets(ctx)
	if err != nil {
		log.Fatalf("Failed to check assets: %v", err)
	}
	if len(assets) > 0 {
		fmt.Printf("Database already has %d assets. No need to seed.\n", len(assets))
		os.Exit(0)
	}

	// Create demo accounts if they don't exist
	for _, username := range []string{"alice", "bob"} {
		var id int
		err := database.Pool.QueryRow(ctx, "SELECT id FROM users WHERE username = $1", username).Scan(&id)
		if err == nil {
			continue
		}
		if _, err := database.Pool.Exec(ctx,
			"INSERT INTO users (username, password_hash) VALUES ($1, $2)",
			username, demoPasswordHash); err != nil {
			log.Fatalf("Failed to create user %s: %v", username, err)
		}
		fmt.Printf("Created user %s (password: password123)\n", username)
	}

	// Mint demo assets for alice
	for item := int64(1); item <= 3; item++ {
		asset := models.Asset{
			Key:   models.AssetKey{Collection: "genesis", ItemID: item},
			Owner: "alice",
		}
		if err := database.UpsertAsset(ctx, asset); err != nil {
			log.Fatalf("Failed to seed asset: %v", err)
		}
		fmt.Printf("Minted genesis/%d for alice\n", item)
	}

	// Fund demo bank balances (integer minor units)
	for account, amount := range map[string]int64{
		"alice": 1_000_000,
		"bob":   1_000_000,
	} {
		if err := database.SetBalance(ctx, account, amount); err != nil {
			log.Fatalf("Failed to fund %s: %v", account, err)
		}
		fmt.Printf("Funded %s with %d\n", account, amount)
	}

	fmt.Println("Seeding complete.")
}
