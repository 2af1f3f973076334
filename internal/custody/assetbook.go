package custody

import (
	"sync"

	"github.com/xtrntr/nftmarket/internal/models"
)

// AssetBook is an in-memory asset registry: per-key owner plus a single
// approved operator, in the style of an NFT contract. Transfers clear the
// approval so authorization never outlives an ownership change.
type AssetBook struct {
	mu     sync.Mutex
	assets map[models.AssetKey]*models.Asset
	nextID map[string]int64
}

// NewAssetBook creates an empty registry.
func NewAssetBook() *AssetBook {
	return &AssetBook{
		assets: make(map[models.AssetKey]*models.Asset),
		nextID: make(map[string]int64),
	}
}

// Mint creates a new asset in the collection owned by owner and returns its key.
// Item IDs start at 1 and increase per collection.
func (b *AssetBook) Mint(collection, owner string) models.AssetKey {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID[collection]++
	key := models.AssetKey{Collection: collection, ItemID: b.nextID[collection]}
	b.assets[key] = &models.Asset{Key: key, Owner: owner}
	return key
}

// Restore inserts an asset with a known key and owner, used to reload
// persisted state at startup. It bumps the collection's ID counter so later
// mints do not collide.
func (b *AssetBook) Restore(key models.AssetKey, owner, approved string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.assets[key] = &models.Asset{Key: key, Owner: owner, Approved: approved}
	if key.ItemID > b.nextID[key.Collection] {
		b.nextID[key.Collection] = key.ItemID
	}
}

// Approve authorizes operator to transfer the asset. Only the current owner
// may grant approval.
func (b *AssetBook) Approve(key models.AssetKey, owner, operator string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.assets[key]
	if !ok {
		return ErrUnknownAsset
	}
	if a.Owner != owner {
		return ErrNotOwner
	}
	a.Approved = operator
	return nil
}

// OwnerOf returns the current owner of the asset.
func (b *AssetBook) OwnerOf(key models.AssetKey) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.assets[key]
	if !ok {
		return "", false
	}
	return a.Owner, true
}

// ApprovedFor returns the operator approved for the asset, or "".
func (b *AssetBook) ApprovedFor(key models.AssetKey) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.assets[key]
	if !ok {
		return ""
	}
	return a.Approved
}

// Transfer moves ownership from from to to and clears any approval.
func (b *AssetBook) Transfer(key models.AssetKey, from, to string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.assets[key]
	if !ok {
		return ErrUnknownAsset
	}
	if a.Owner != from {
		return ErrNotOwner
	}
	a.Owner = to
	a.Approved = ""
	return nil
}

// All returns a snapshot of every asset in the registry.
func (b *AssetBook) All() []models.Asset {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Asset, 0, len(b.assets))
	for _, a := range b.assets {
		out = append(out, *a)
	}
	return out
}

// OwnedBy returns a snapshot of the assets owned by the account.
func (b *AssetBook) OwnedBy(owner string) []models.Asset {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []models.Asset
	for _, a := range b.assets {
		if a.Owner == owner {
			out = append(out, *a)
		}
	}
	return out
}
