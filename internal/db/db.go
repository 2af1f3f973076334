package db

import (
	"context"
	"fmt"

	"github.com/xtrntr/nftmarket/internal/events"
	"github.com/xtrntr/nftmarket/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UpsertAsset records an asset's current owner and approved operator
func (db *DB) UpsertAsset(ctx context.Context, asset models.Asset) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO assets (collection, item_id, owner, approved) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (collection, item_id) DO UPDATE SET owner = $3, approved = $4`,
		asset.Key.Collection, asset.Key.ItemID, asset.Owner, asset.Approved)
	if err != nil {
		return fmt.Errorf("failed to upsert asset: %w", err)
	}
	return nil
}

// GetAssets retrieves all known assets
func (db *DB) GetAssets(ctx context.Context) ([]models.Asset, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT collection, item_id, owner, approved FROM assets ORDER BY collection, item_id")
	if err != nil {
		return nil, fmt.Errorf("failed to get assets: %w", err)
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		var a models.Asset
		if err := rows.Scan(&a.Key.Collection, &a.Key.ItemID, &a.Owner, &a.Approved); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// RecordEvent appends a marketplace event to the journal
func (db *DB) RecordEvent(ctx context.Context, e events.Event) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO events (id, type, collection, item_id, actor, amount, winner, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID.String(), string(e.Type), e.Key.Collection, e.Key.ItemID,
		e.Actor, e.Amount, e.Winner, string(e.Reason), e.At)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// GetEvents retrieves the most recent events, newest last
func (db *DB) GetEvents(ctx context.Context, limit int) ([]events.Event, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, type, collection, item_id, actor, amount, winner, reason, created_at
		 FROM events ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var e events.Event
		var id, typ, reason string
		if err := rows.Scan(&id, &typ, &e.Key.Collection, &e.Key.ItemID,
			&e.Actor, &e.Amount, &e.Winner, &reason, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event id: %w", err)
		}
		e.ID = parsed
		e.Type = events.Type(typ)
		e.Reason = events.EndReason(reason)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to append order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SetBalance stores an account's bank balance
func (db *DB) SetBalance(ctx context.Context, account string, amount int64) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO balances (account, amount) VALUES ($1, $2)
		 ON CONFLICT (account) DO UPDATE SET amount = $2`,
		account, amount)
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	return nil
}

// GetBalances retrieves all stored bank balances
func (db *DB) GetBalances(ctx context.Context) (map[string]int64, error) {
	rows, err := db.Pool.Query(ctx, "SELECT account, amount FROM balances")
	if err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var account string
		var amount int64
		if err := rows.Scan(&account, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		out[account] = amount
	}
	return out, rows.Err()
}
