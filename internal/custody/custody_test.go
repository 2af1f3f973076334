package custody

import (
	"errors"
	"testing"

	"github.com/xtrntr/nftmarket/internal/models"
)

func TestAssetBook_MintAndApprove(t *testing.T) {
	book := NewAssetBook()

	key := book.Mint("genesis", "alice")
	if key.Collection != "genesis" || key.ItemID != 1 {
		t.Errorf("unexpected key %v", key)
	}

	key2 := book.Mint("genesis", "alice")
	if key2.ItemID != 2 {
		t.Errorf("expected item ID 2, got %d", key2.ItemID)
	}

	owner, ok := book.OwnerOf(key)
	if !ok || owner != "alice" {
		t.Errorf("expected alice to own %v, got %q", key, owner)
	}

	// Only the owner may approve
	if err := book.Approve(key, "bob", "custodian"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
	if err := book.Approve(key, "alice", "custodian"); err != nil {
		t.Errorf("unexpected approve error: %v", err)
	}
	if book.ApprovedFor(key) != "custodian" {
		t.Errorf("expected custodian approved")
	}
}

func TestAssetBook_TransferClearsApproval(t *testing.T) {
	book := NewAssetBook()
	key := book.Mint("genesis", "alice")

	if err := book.Approve(key, "alice", "custodian"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := book.Transfer(key, "alice", "bob"); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if book.ApprovedFor(key) != "" {
		t.Error("approval should be cleared after transfer")
	}
	owner, _ := book.OwnerOf(key)
	if owner != "bob" {
		t.Errorf("expected bob, got %q", owner)
	}
}

func TestCustodian_TakeAndRelease(t *testing.T) {
	book := NewAssetBook()
	c := NewCustodian("market-custody", book)
	key := book.Mint("genesis", "alice")

	tests := []struct {
		name    string
		setup   func()
		from    string
		wantErr error
	}{
		{
			name:    "NotApproved",
			setup:   func() {},
			from:    "alice",
			wantErr: ErrNotApproved,
		},
		{
			name: "NotOwner",
			setup: func() {
				book.Approve(key, "alice", "market-custody")
			},
			from:    "bob",
			wantErr: ErrNotOwner,
		},
		{
			name:    "Success",
			setup:   func() {},
			from:    "alice",
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			err := c.Take(key, tt.from, HolderMarket)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	// Asset is now parked under the custody account
	owner, _ := book.OwnerOf(key)
	if owner != "market-custody" {
		t.Errorf("expected custody account to own the asset, got %q", owner)
	}
	if c.HolderOf(key) != HolderMarket {
		t.Error("expected market to hold the asset")
	}

	// Release by the wrong holder fails
	if err := c.Release(key, "bob", HolderAuction); !errors.Is(err, ErrNotHeld) {
		t.Errorf("expected ErrNotHeld, got %v", err)
	}

	if err := c.Release(key, "bob", HolderMarket); err != nil {
		t.Fatalf("release: %v", err)
	}
	owner, _ = book.OwnerOf(key)
	if owner != "bob" {
		t.Errorf("expected bob after release, got %q", owner)
	}
	if c.HolderOf(key) != HolderNone {
		t.Error("expected no holder after release")
	}

	// Releasing again fails
	if err := c.Release(key, "bob", HolderMarket); !errors.Is(err, ErrNotHeld) {
		t.Errorf("expected ErrNotHeld, got %v", err)
	}
}

func TestCustodian_UnknownAsset(t *testing.T) {
	book := NewAssetBook()
	c := NewCustodian("market-custody", book)

	key := models.AssetKey{Collection: "ghost", ItemID: 42}
	if err := c.Take(key, "alice", HolderMarket); !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestCustodian_ApprovalDoesNotPersist(t *testing.T) {
	book := NewAssetBook()
	c := NewCustodian("market-custody", book)
	key := book.Mint("genesis", "alice")

	book.Approve(key, "alice", "market-custody")
	if err := c.Take(key, "alice", HolderMarket); err != nil {
		t.Fatalf("take: %v", err)
	}
	if err := c.Release(key, "alice", HolderMarket); err != nil {
		t.Fatalf("release: %v", err)
	}

	// Approval was consumed by the round trip; a second take must re-approve
	if err := c.Take(key, "alice", HolderMarket); !errors.Is(err, ErrNotApproved) {
		t.Errorf("expected ErrNotApproved after round trip, got %v", err)
	}
}
