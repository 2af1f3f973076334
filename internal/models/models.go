package models

import (
	"fmt"
	"time"
)

// User represents a registered account. The username doubles as the
// account address used by custody, escrow and the bank.
type User struct {
	ID           int
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// AssetKey identifies a unique tradable asset by collection and item ID.
// It is immutable and used as the map key in every registry.
type AssetKey struct {
	Collection string `json:"collection"`
	ItemID     int64  `json:"item_id"`
}

// String renders the key in "collection/item" form, used for per-key locking.
func (k AssetKey) String() string {
	return fmt.Sprintf("%s/%d", k.Collection, k.ItemID)
}

// Listing is a fixed-price sale entry. Settled or canceled listings are
// kept as tombstones with Active=false.
type Listing struct {
	Seller string `json:"seller"`
	Price  int64  `json:"price"` // integer minor units
	Active bool   `json:"active"`
}

// Auction is a timed English auction with an optional buy-now price.
// HighestBid == 0 means no bid has been placed and HighestBidder is empty.
type Auction struct {
	Seller          string    `json:"seller"`
	EndTime         time.Time `json:"end_time"`
	BuyNowPrice     int64     `json:"buy_now_price"`
	MinBidIncrement int64     `json:"min_bid_increment"`
	HighestBid      int64     `json:"highest_bid"`
	HighestBidder   string    `json:"highest_bidder"`
	Ended           bool      `json:"ended"`
}

// Asset is the ownership record the registry tracks for one key.
// Approved names the single operator authorized to take custody, if any.
type Asset struct {
	Key      AssetKey `json:"key"`
	Owner    string   `json:"owner"`
	Approved string   `json:"approved,omitempty"`
}
