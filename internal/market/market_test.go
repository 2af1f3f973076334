package market

import (
	"errors"
	"testing"

	"github.com/xtrntr/nftmarket/internal/custody"
	"github.com/xtrntr/nftmarket/internal/escrow"
	"github.com/xtrntr/nftmarket/internal/events"
	"github.com/xtrntr/nftmarket/internal/keylock"
	"github.com/xtrntr/nftmarket/internal/models"
)

type fixture struct {
	market    *Market
	book      *custody.AssetBook
	custodian *custody.Custodian
	ledger    *escrow.Ledger
	bank      *escrow.Bank
	log       *events.Log
}

func newFixture() *fixture {
	book := custody.NewAssetBook()
	custodian := custody.NewCustodian("market-custody", book)
	bank := escrow.NewBank()
	ledger := escrow.NewLedger(bank)
	log := events.NewLog()
	m := New(keylock.NewRing(), custodian, ledger, log)
	return &fixture{market: m, book: book, custodian: custodian, ledger: ledger, bank: bank, log: log}
}

// mintApproved mints an asset for the seller with the custodian approved.
func (f *fixture) mintApproved(seller string) models.AssetKey {
	key := f.book.Mint("genesis", seller)
	f.book.Approve(key, seller, "market-custody")
	return key
}

func (f *fixture) checkConservation(t *testing.T) {
	t.Helper()
	received, paidOut, escrowed, held := f.ledger.Totals()
	if received != paidOut+escrowed+held {
		t.Errorf("conservation violated: received=%d paidOut=%d escrowed=%d held=%d",
			received, paidOut, escrowed, held)
	}
}

func TestMarket_ListItem(t *testing.T) {
	f := newFixture()
	key := f.mintApproved("alice")

	if err := f.market.ListItem(key, "alice", 0); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice, got %v", err)
	}

	if err := f.market.ListItem(key, "alice", 100); err != nil {
		t.Fatalf("list: %v", err)
	}

	lst, ok := f.market.Listing(key)
	if !ok || !lst.Active || lst.Price != 100 || lst.Seller != "alice" {
		t.Errorf("unexpected listing %+v", lst)
	}

	// Custody now holds the asset on behalf of the market
	owner, _ := f.book.OwnerOf(key)
	if owner != "market-custody" {
		t.Errorf("expected custody to own the asset, got %q", owner)
	}

	// Listing again fails
	if err := f.market.ListItem(key, "alice", 100); !errors.Is(err, ErrAlreadyListed) {
		t.Errorf("expected ErrAlreadyListed, got %v", err)
	}

	evs := f.log.All()
	if len(evs) != 1 || evs[0].Type != events.ItemListed {
		t.Errorf("expected single ItemListed event, got %v", evs)
	}
}

func TestMarket_ListItemPreconditions(t *testing.T) {
	f := newFixture()

	// Unapproved asset
	key := f.book.Mint("genesis", "alice")
	if err := f.market.ListItem(key, "alice", 100); !errors.Is(err, custody.ErrNotApproved) {
		t.Errorf("expected ErrNotApproved, got %v", err)
	}

	// Not the owner
	f.book.Approve(key, "alice", "market-custody")
	if err := f.market.ListItem(key, "bob", 100); !errors.Is(err, custody.ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}

	// Asset held by an auction
	key2 := f.mintApproved("alice")
	if err := f.custodian.Take(key2, "alice", custody.HolderAuction); err != nil {
		t.Fatalf("take: %v", err)
	}
	if err := f.market.ListItem(key2, "alice", 100); !errors.Is(err, ErrAssetInAuction) {
		t.Errorf("expected ErrAssetInAuction, got %v", err)
	}
}

func TestMarket_BuyItem(t *testing.T) {
	f := newFixture()
	key := f.mintApproved("alice")
	if err := f.market.ListItem(key, "alice", 100); err != nil {
		t.Fatalf("list: %v", err)
	}

	tests := []struct {
		name    string
		payment int64
		wantErr error
	}{
		{name: "Underpayment", payment: 99, wantErr: escrow.ErrInsufficientPayment},
		{name: "Overpayment", payment: 101, wantErr: escrow.ErrExcessPayment},
		{name: "ExactPrice", payment: 100, wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.market.BuyItem(key, "bob", tt.payment)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			f.checkConservation(t)
		})
	}

	// Custody transferred to the buyer, seller credited, listing inactive
	owner, _ := f.book.OwnerOf(key)
	if owner != "bob" {
		t.Errorf("expected bob to own the asset, got %q", owner)
	}
	if f.bank.Balance("alice") != 100 {
		t.Errorf("expected seller paid 100, got %d", f.bank.Balance("alice"))
	}
	lst, _ := f.market.Listing(key)
	if lst.Active {
		t.Error("expected listing to be inactive after purchase")
	}

	// Tombstone behaves like an unlisted key
	if err := f.market.BuyItem(key, "bob", 100); !errors.Is(err, ErrNotListed) {
		t.Errorf("expected ErrNotListed after sale, got %v", err)
	}

	evs := f.log.All()
	last := evs[len(evs)-1]
	if last.Type != events.ItemBought || last.Actor != "bob" || last.Amount != 100 {
		t.Errorf("unexpected final event %+v", last)
	}
}

func TestMarket_BuyItemTransportFailure(t *testing.T) {
	book := custody.NewAssetBook()
	custodian := custody.NewCustodian("market-custody", book)
	ledger := escrow.NewLedger(rejectingTransport{})
	m := New(keylock.NewRing(), custodian, ledger, events.NewLog())

	key := book.Mint("genesis", "alice")
	book.Approve(key, "alice", "market-custody")
	if err := m.ListItem(key, "alice", 100); err != nil {
		t.Fatalf("list: %v", err)
	}

	if err := m.BuyItem(key, "bob", 100); !errors.Is(err, escrow.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	// Whole operation rolled back: listing still active, custody unchanged
	lst, _ := m.Listing(key)
	if !lst.Active {
		t.Error("expected listing to remain active")
	}
	owner, _ := book.OwnerOf(key)
	if owner != "market-custody" {
		t.Errorf("expected custody to still hold the asset, got %q", owner)
	}
	received, paidOut, escrowed, held := ledger.Totals()
	if received != 0 || paidOut != 0 || escrowed != 0 || held != 0 {
		t.Errorf("expected ledger untouched, got received=%d paidOut=%d escrowed=%d held=%d",
			received, paidOut, escrowed, held)
	}
}

type rejectingTransport struct{}

func (rejectingTransport) Send(to string, amount int64) error {
	return errors.New("payment rejected")
}

func TestMarket_CancelListing(t *testing.T) {
	f := newFixture()
	key := f.mintApproved("alice")
	if err := f.market.ListItem(key, "alice", 100); err != nil {
		t.Fatalf("list: %v", err)
	}

	if err := f.market.CancelListing(key, "bob"); !errors.Is(err, ErrNotSeller) {
		t.Errorf("expected ErrNotSeller, got %v", err)
	}

	if err := f.market.CancelListing(key, "alice"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// Round trip: asset back with the seller, ledger untouched
	owner, _ := f.book.OwnerOf(key)
	if owner != "alice" {
		t.Errorf("expected alice to own the asset again, got %q", owner)
	}
	received, paidOut, escrowed, held := f.ledger.Totals()
	if received != 0 || paidOut != 0 || escrowed != 0 || held != 0 {
		t.Errorf("expected ledger unchanged by cancel, got received=%d paidOut=%d escrowed=%d held=%d",
			received, paidOut, escrowed, held)
	}

	if err := f.market.CancelListing(key, "alice"); !errors.Is(err, ErrNotListed) {
		t.Errorf("expected ErrNotListed after cancel, got %v", err)
	}

	evs := f.log.All()
	if len(evs) != 2 || evs[1].Type != events.ItemCanceled {
		t.Errorf("expected ItemCanceled event, got %v", evs)
	}
}

func TestMarket_AllListings(t *testing.T) {
	f := newFixture()
	k1 := f.mintApproved("alice")
	k2 := f.mintApproved("alice")

	f.market.ListItem(k1, "alice", 100)
	f.market.ListItem(k2, "alice", 200)
	f.market.CancelListing(k2, "alice")

	all := f.market.AllListings()
	if len(all) != 2 {
		t.Fatalf("expected 2 listings (tombstones included), got %d", len(all))
	}

	active := 0
	for _, kl := range all {
		if kl.Listing.Active {
			active++
		}
	}
	if active != 1 {
		t.Errorf("expected 1 active listing, got %d", active)
	}
}
