// Package auction implements the timed English-auction state machine with a
// buy-now short-circuit, built on asset custody and the escrow ledger.
package auction

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xtrntr/nftmarket/internal/custody"
	"github.com/xtrntr/nftmarket/internal/escrow"
	"github.com/xtrntr/nftmarket/internal/events"
	"github.com/xtrntr/nftmarket/internal/keylock"
	"github.com/xtrntr/nftmarket/internal/models"
)

var (
	// ErrNoAuction is returned when no auction has ever been created for the key.
	ErrNoAuction = errors.New("auction: no auction")
	// ErrAuctionEnded is returned when the auction has already terminated.
	ErrAuctionEnded = errors.New("auction: auction ended")
	// ErrAlreadyEnded is returned by EndAuction on an already-terminated auction.
	ErrAlreadyEnded = errors.New("auction: already ended")
	// ErrAuctionActive is returned when creating over a still-open auction.
	ErrAuctionActive = errors.New("auction: auction already active")
	// ErrAuctionExpired is returned when the end time has passed.
	ErrAuctionExpired = errors.New("auction: auction expired")
	// ErrAssetListed is returned when the asset has an active fixed-price listing.
	ErrAssetListed = errors.New("auction: asset is listed for fixed-price sale")
	// ErrInvalidTerms is returned when duration, buy-now price or increment
	// violate durationSeconds > 0, buyNowPrice > minBidIncrement > 0.
	ErrInvalidTerms = errors.New("auction: invalid auction terms")
	// ErrBidTooLow is returned when a bid does not clear the minimum increment.
	ErrBidTooLow = errors.New("auction: bid too low")
	// ErrSellerCannotBid is returned when the seller bids on their own auction.
	ErrSellerCannotBid = errors.New("auction: seller cannot bid")
	// ErrHasBids is returned when canceling an auction that received a bid.
	ErrHasBids = errors.New("auction: auction has bids")
	// ErrTooEarly is returned when ending an auction before its end time.
	ErrTooEarly = errors.New("auction: auction still running")
	// ErrNotSeller is returned when the caller is not the auction's seller.
	ErrNotSeller = errors.New("auction: caller is not the seller")
	// ErrNotParticipant is returned when EndAuction is called by someone other
	// than the seller or the current highest bidder.
	ErrNotParticipant = errors.New("auction: caller is not seller or highest bidder")
)

// Clock supplies "now" for expiry checks; tests substitute a fake.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Engine runs one auction per asset key. Terminal auctions stay as
// tombstones and a fresh CreateAuction overwrites them. Fallible external
// calls (the seller payout) always precede state mutation so every operation
// is all-or-nothing.
type Engine struct {
	keys      *keylock.Ring
	custodian *custody.Custodian
	ledger    *escrow.Ledger
	sink      events.Sink
	clock     Clock

	mu       sync.Mutex
	auctions map[models.AssetKey]*models.Auction
}

// New creates an engine sharing the lock ring with the listing market.
func New(keys *keylock.Ring, c *custody.Custodian, l *escrow.Ledger, sink events.Sink, clock Clock) *Engine {
	return &Engine{
		keys:      keys,
		custodian: c,
		ledger:    l,
		sink:      sink,
		clock:     clock,
		auctions:  make(map[models.AssetKey]*models.Auction),
	}
}

// CreateAuction takes custody of the asset and opens an auction ending after
// the given duration. The seller must own the asset and have approved the
// custodian; buyNowPrice > minBidIncrement > 0 must hold.
func (e *Engine) CreateAuction(key models.AssetKey, seller string, duration time.Duration, buyNowPrice, minBidIncrement int64) error {
	unlock := e.keys.Lock(key.String())
	defer unlock()

	if duration <= 0 || minBidIncrement <= 0 || buyNowPrice <= minBidIncrement {
		return ErrInvalidTerms
	}
	switch e.custodian.HolderOf(key) {
	case custody.HolderMarket:
		return ErrAssetListed
	case custody.HolderAuction:
		return ErrAuctionActive
	}
	if err := e.custodian.Take(key, seller, custody.HolderAuction); err != nil {
		return err
	}

	endTime := e.clock.Now().Add(duration)
	e.mu.Lock()
	e.auctions[key] = &models.Auction{
		Seller:          seller,
		EndTime:         endTime,
		BuyNowPrice:     buyNowPrice,
		MinBidIncrement: minBidIncrement,
	}
	e.mu.Unlock()

	e.sink.Emit(events.Event{
		Type:            events.AuctionCreated,
		Key:             key,
		Actor:           seller,
		EndTime:         endTime,
		BuyNowPrice:     buyNowPrice,
		MinBidIncrement: minBidIncrement,
	})
	return nil
}

// PlaceBid escrows the attached amount as the new highest bid. The previous
// highest bidder's funds become withdrawable, never force-refunded, so a
// hostile bidder cannot block the auction. A bid of exactly
// highestBid + minBidIncrement is accepted.
func (e *Engine) PlaceBid(key models.AssetKey, bidder string, amount int64) error {
	unlock := e.keys.Lock(key.String())
	defer unlock()

	e.mu.Lock()
	a, ok := e.auctions[key]
	e.mu.Unlock()
	if !ok {
		return ErrNoAuction
	}
	if a.Ended {
		return ErrAuctionEnded
	}
	if !e.clock.Now().Before(a.EndTime) {
		return ErrAuctionExpired
	}
	if bidder == a.Seller {
		return ErrSellerCannotBid
	}
	if amount < a.HighestBid+a.MinBidIncrement {
		return ErrBidTooLow
	}

	e.ledger.Hold(amount)
	prevBidder, prevBid := a.HighestBidder, a.HighestBid

	e.mu.Lock()
	a.HighestBid = amount
	a.HighestBidder = bidder
	e.mu.Unlock()

	if prevBidder != "" {
		e.ledger.Credit(prevBidder, prevBid)
	}

	e.sink.Emit(events.Event{
		Type:   events.BidPlaced,
		Key:    key,
		Actor:  bidder,
		Amount: amount,
	})
	return nil
}

// BuyNow ends the auction immediately in the buyer's favor. The attached
// payment must equal the buy-now price exactly. Any standing bid becomes
// withdrawable for its bidder and the seller is paid the full buy-now price.
func (e *Engine) BuyNow(key models.AssetKey, buyer string, payment int64) error {
	unlock := e.keys.Lock(key.String())
	defer unlock()

	e.mu.Lock()
	a, ok := e.auctions[key]
	e.mu.Unlock()
	if !ok {
		return ErrNoAuction
	}
	if a.Ended {
		return ErrAuctionEnded
	}
	if !e.clock.Now().Before(a.EndTime) {
		return ErrAuctionExpired
	}
	if payment < a.BuyNowPrice {
		return escrow.ErrInsufficientPayment
	}
	if payment > a.BuyNowPrice {
		return escrow.ErrExcessPayment
	}

	e.ledger.Hold(payment)
	if err := e.ledger.PayOut(a.Seller, payment); err != nil {
		e.ledger.Unhold(payment)
		return err
	}
	if a.HighestBidder != "" {
		e.ledger.Credit(a.HighestBidder, a.HighestBid)
	}
	if err := e.custodian.Release(key, buyer, custody.HolderAuction); err != nil {
		return fmt.Errorf("auction: custody out of sync: %w", err)
	}

	e.mu.Lock()
	a.Ended = true
	e.mu.Unlock()

	e.sink.Emit(events.Event{
		Type:   events.AuctionEnded,
		Key:    key,
		Reason: events.ReasonBuyNow,
		Winner: buyer,
		Amount: payment,
	})
	return nil
}

// EndAuction settles an expired auction. Only the seller or the current
// highest bidder may call it. With no bids the asset returns to the seller;
// otherwise the seller is paid the highest bid and the asset goes to the
// highest bidder.
func (e *Engine) EndAuction(key models.AssetKey, caller string) error {
	unlock := e.keys.Lock(key.String())
	defer unlock()

	e.mu.Lock()
	a, ok := e.auctions[key]
	e.mu.Unlock()
	if !ok {
		return ErrNoAuction
	}
	if a.Ended {
		return ErrAlreadyEnded
	}
	if caller != a.Seller && caller != a.HighestBidder {
		return ErrNotParticipant
	}
	if e.clock.Now().Before(a.EndTime) {
		return ErrTooEarly
	}

	winner, amount := a.HighestBidder, a.HighestBid
	if amount == 0 {
		if err := e.custodian.Release(key, a.Seller, custody.HolderAuction); err != nil {
			return fmt.Errorf("auction: custody out of sync: %w", err)
		}
	} else {
		if err := e.ledger.PayOut(a.Seller, amount); err != nil {
			return err
		}
		if err := e.custodian.Release(key, winner, custody.HolderAuction); err != nil {
			return fmt.Errorf("auction: custody out of sync: %w", err)
		}
	}

	e.mu.Lock()
	a.Ended = true
	e.mu.Unlock()

	e.sink.Emit(events.Event{
		Type:   events.AuctionEnded,
		Key:    key,
		Reason: events.ReasonTime,
		Winner: winner,
		Amount: amount,
	})
	return nil
}

// CancelAuction returns the asset to the seller. Only permitted on a
// still-open, bid-free auction.
func (e *Engine) CancelAuction(key models.AssetKey, caller string) error {
	unlock := e.keys.Lock(key.String())
	defer unlock()

	e.mu.Lock()
	a, ok := e.auctions[key]
	e.mu.Unlock()
	if !ok {
		return ErrNoAuction
	}
	if a.Ended {
		return ErrAlreadyEnded
	}
	if caller != a.Seller {
		return ErrNotSeller
	}
	if a.HighestBid != 0 {
		return ErrHasBids
	}
	if !e.clock.Now().Before(a.EndTime) {
		return ErrAuctionExpired
	}
	if err := e.custodian.Release(key, a.Seller, custody.HolderAuction); err != nil {
		return fmt.Errorf("auction: custody out of sync: %w", err)
	}

	e.mu.Lock()
	a.Ended = true
	e.mu.Unlock()

	e.sink.Emit(events.Event{
		Type:  events.AuctionCanceled,
		Key:   key,
		Actor: caller,
	})
	return nil
}

// Auction returns the auction tracked for the key, tombstones included.
func (e *Engine) Auction(key models.AssetKey) (models.Auction, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.auctions[key]
	if !ok {
		return models.Auction{}, false
	}
	return *a, true
}

// KeyedAuction pairs an auction with its asset key for snapshots.
type KeyedAuction struct {
	Key     models.AssetKey `json:"key"`
	Auction models.Auction  `json:"auction"`
}

// AllAuctions returns a snapshot of every tracked auction regardless of the
// ended flag; filtering is the caller's responsibility.
func (e *Engine) AllAuctions() []KeyedAuction {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]KeyedAuction, 0, len(e.auctions))
	for k, a := range e.auctions {
		out = append(out, KeyedAuction{Key: k, Auction: *a})
	}
	return out
}
