// Package events defines the append-only record of state-changing
// marketplace actions, consumed by external indexers and the live feed.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xtrntr/nftmarket/internal/models"
)

// Type names a marketplace event.
type Type string

const (
	ItemListed      Type = "ItemListed"
	ItemBought      Type = "ItemBought"
	ItemCanceled    Type = "ItemCanceled"
	AuctionCreated  Type = "AuctionCreated"
	BidPlaced       Type = "BidPlaced"
	AuctionEnded    Type = "AuctionEnded"
	AuctionCanceled Type = "AuctionCanceled"
)

// EndReason says how an auction terminated.
type EndReason string

const (
	ReasonTime   EndReason = "Time"
	ReasonBuyNow EndReason = "BuyNow"
)

// Event carries enough data for an external indexer to reconstruct state
// without re-querying the engine. Fields beyond Type/Key/At are populated
// per event type.
type Event struct {
	ID     uuid.UUID       `json:"id"`
	Type   Type            `json:"type"`
	Key    models.AssetKey `json:"key"`
	Actor  string          `json:"actor,omitempty"`  // seller, buyer or bidder
	Amount int64           `json:"amount,omitempty"` // price, bid or proceeds
	Winner string          `json:"winner,omitempty"`
	Reason EndReason       `json:"reason,omitempty"`

	// AuctionCreated parameters.
	EndTime         time.Time `json:"end_time,omitempty"`
	BuyNowPrice     int64     `json:"buy_now_price,omitempty"`
	MinBidIncrement int64     `json:"min_bid_increment,omitempty"`

	At time.Time `json:"at"`
}

// Sink accepts emitted events.
type Sink interface {
	Emit(Event)
}

// Log is an in-memory append-only sink with fan-out to subscribers.
type Log struct {
	mu     sync.Mutex
	events []Event
	subs   []chan Event
}

// NewLog creates an empty event log.
func NewLog() *Log {
	return &Log{}
}

// Emit assigns the event an ID and timestamp if unset, appends it, and
// delivers it to subscribers. A subscriber that has fallen behind is skipped
// rather than allowed to block the emitting operation.
func (l *Log) Emit(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	l.events = append(l.events, e)

	for _, ch := range l.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// All returns a snapshot of every recorded event in append order.
func (l *Log) All() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Subscribe registers a buffered channel receiving future events.
func (l *Log) Subscribe() <-chan Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan Event, 256)
	l.subs = append(l.subs, ch)
	return ch
}
