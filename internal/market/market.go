// Package market implements the fixed-price listing registry built on asset
// custody and the escrow ledger.
package market

import (
	"errors"
	"fmt"
	"sync"

	"github.com/xtrntr/nftmarket/internal/custody"
	"github.com/xtrntr/nftmarket/internal/escrow"
	"github.com/xtrntr/nftmarket/internal/events"
	"github.com/xtrntr/nftmarket/internal/keylock"
	"github.com/xtrntr/nftmarket/internal/models"
)

var (
	// ErrAlreadyListed is returned when an active listing exists for the key.
	ErrAlreadyListed = errors.New("market: already listed")
	// ErrAssetInAuction is returned when the asset is held by an active auction.
	ErrAssetInAuction = errors.New("market: asset is in auction")
	// ErrInvalidPrice is returned for a non-positive listing price.
	ErrInvalidPrice = errors.New("market: price must be positive")
	// ErrNotListed is returned when no active listing exists for the key.
	ErrNotListed = errors.New("market: not listed")
	// ErrNotSeller is returned when the caller is not the listing's seller.
	ErrNotSeller = errors.New("market: caller is not the seller")
)

// Market is the fixed-price sale registry. Each state-changing operation on
// one key runs under that key's lock and either fully applies or leaves no
// trace: the only fallible external call (the seller payout) happens before
// any state is mutated.
type Market struct {
	keys      *keylock.Ring
	custodian *custody.Custodian
	ledger    *escrow.Ledger
	sink      events.Sink

	mu       sync.Mutex
	listings map[models.AssetKey]*models.Listing
}

// New creates a market sharing the given lock ring with the auction engine
// so listing and auction operations on one key never interleave.
func New(keys *keylock.Ring, c *custody.Custodian, l *escrow.Ledger, sink events.Sink) *Market {
	return &Market{
		keys:      keys,
		custodian: c,
		ledger:    l,
		sink:      sink,
		listings:  make(map[models.AssetKey]*models.Listing),
	}
}

// ListItem takes custody of the asset and records an active listing.
// The seller must own the asset and have approved the custodian.
func (m *Market) ListItem(key models.AssetKey, seller string, price int64) error {
	unlock := m.keys.Lock(key.String())
	defer unlock()

	if price <= 0 {
		return ErrInvalidPrice
	}
	switch m.custodian.HolderOf(key) {
	case custody.HolderMarket:
		return ErrAlreadyListed
	case custody.HolderAuction:
		return ErrAssetInAuction
	}
	if err := m.custodian.Take(key, seller, custody.HolderMarket); err != nil {
		return err
	}

	m.mu.Lock()
	m.listings[key] = &models.Listing{Seller: seller, Price: price, Active: true}
	m.mu.Unlock()

	m.sink.Emit(events.Event{
		Type:   events.ItemListed,
		Key:    key,
		Actor:  seller,
		Amount: price,
	})
	return nil
}

// BuyItem settles an active listing. The attached payment must equal the
// listing price exactly; overpayment is rejected, never kept. On success the
// seller is paid immediately, custody is released to the buyer and the
// listing becomes a tombstone.
func (m *Market) BuyItem(key models.AssetKey, buyer string, payment int64) error {
	unlock := m.keys.Lock(key.String())
	defer unlock()

	m.mu.Lock()
	lst, ok := m.listings[key]
	m.mu.Unlock()
	if !ok || !lst.Active {
		return ErrNotListed
	}
	if payment < lst.Price {
		return escrow.ErrInsufficientPayment
	}
	if payment > lst.Price {
		return escrow.ErrExcessPayment
	}

	m.ledger.Hold(payment)
	if err := m.ledger.PayOut(lst.Seller, lst.Price); err != nil {
		m.ledger.Unhold(payment)
		return err
	}
	if err := m.custodian.Release(key, buyer, custody.HolderMarket); err != nil {
		return fmt.Errorf("market: custody out of sync with listing: %w", err)
	}

	m.mu.Lock()
	lst.Active = false
	m.mu.Unlock()

	m.sink.Emit(events.Event{
		Type:   events.ItemBought,
		Key:    key,
		Actor:  buyer,
		Amount: lst.Price,
	})
	return nil
}

// CancelListing returns the asset to the seller and deactivates the listing.
func (m *Market) CancelListing(key models.AssetKey, caller string) error {
	unlock := m.keys.Lock(key.String())
	defer unlock()

	m.mu.Lock()
	lst, ok := m.listings[key]
	m.mu.Unlock()
	if !ok || !lst.Active {
		return ErrNotListed
	}
	if lst.Seller != caller {
		return ErrNotSeller
	}
	if err := m.custodian.Release(key, lst.Seller, custody.HolderMarket); err != nil {
		return fmt.Errorf("market: custody out of sync with listing: %w", err)
	}

	m.mu.Lock()
	lst.Active = false
	m.mu.Unlock()

	m.sink.Emit(events.Event{
		Type:  events.ItemCanceled,
		Key:   key,
		Actor: caller,
	})
	return nil
}

// Listing returns the listing tracked for the key, tombstones included.
func (m *Market) Listing(key models.AssetKey) (models.Listing, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lst, ok := m.listings[key]
	if !ok {
		return models.Listing{}, false
	}
	return *lst, true
}

// KeyedListing pairs a listing with its asset key for snapshots.
type KeyedListing struct {
	Key     models.AssetKey `json:"key"`
	Listing models.Listing  `json:"listing"`
}

// AllListings returns a snapshot of every tracked listing regardless of the
// active flag; filtering is the caller's responsibility.
func (m *Market) AllListings() []KeyedListing {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]KeyedListing, 0, len(m.listings))
	for k, l := range m.listings {
		out = append(out, KeyedListing{Key: k, Listing: *l})
	}
	return out
}
