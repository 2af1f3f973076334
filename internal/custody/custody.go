// Package custody implements the asset registry's exclusive control of an
// asset while it is listed or in auction. The custodian is the only
// component that changes asset ownership.
package custody

import (
	"errors"
	"sync"

	"github.com/xtrntr/nftmarket/internal/models"
)

var (
	// ErrNotOwner is returned when the transferor does not hold the asset.
	ErrNotOwner = errors.New("custody: caller is not the asset owner")
	// ErrNotApproved is returned when the custodian lacks transfer authorization.
	ErrNotApproved = errors.New("custody: custodian not approved for transfer")
	// ErrNotHeld is returned when nothing is held for the key.
	ErrNotHeld = errors.New("custody: asset not held")
	// ErrUnknownAsset is returned for keys the registry has never seen.
	ErrUnknownAsset = errors.New("custody: unknown asset")
)

// Holder identifies which sale mechanism holds an asset.
type Holder int

const (
	HolderNone Holder = iota
	HolderMarket
	HolderAuction
)

// Registry is the ownership/authorization oracle the custodian consults
// before every transfer, plus the transfer executor itself. Authorization is
// re-checked on every take; it is never assumed to persist.
type Registry interface {
	OwnerOf(key models.AssetKey) (string, bool)
	ApprovedFor(key models.AssetKey) string
	Transfer(key models.AssetKey, from, to string) error
}

// Custodian holds assets on behalf of the listing market and the auction
// engine. At most one holder exists per key at any time.
type Custodian struct {
	mu      sync.Mutex
	account string
	assets  Registry
	held    map[models.AssetKey]Holder
}

// NewCustodian creates a custodian that owns assets under the given account
// name while they are held.
func NewCustodian(account string, assets Registry) *Custodian {
	return &Custodian{
		account: account,
		assets:  assets,
		held:    make(map[models.AssetKey]Holder),
	}
}

// Account returns the account name assets are parked under while held.
func (c *Custodian) Account() string {
	return c.account
}

// Take transfers the asset from its owner into custody on behalf of the
// given holder. Either both precondition checks pass and the transfer
// completes, or nothing changes.
func (c *Custodian) Take(key models.AssetKey, from string, as Holder) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	owner, ok := c.assets.OwnerOf(key)
	if !ok {
		return ErrUnknownAsset
	}
	if owner != from {
		return ErrNotOwner
	}
	if c.assets.ApprovedFor(key) != c.account {
		return ErrNotApproved
	}
	if err := c.assets.Transfer(key, from, c.account); err != nil {
		return err
	}
	c.held[key] = as
	return nil
}

// Release transfers a held asset to the recipient. Fails with ErrNotHeld if
// the asset is not held by the given holder.
func (c *Custodian) Release(key models.AssetKey, to string, as Holder) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.held[key] != as {
		return ErrNotHeld
	}
	if err := c.assets.Transfer(key, c.account, to); err != nil {
		return err
	}
	delete(c.held, key)
	return nil
}

// HolderOf reports which mechanism currently holds the asset, if any.
func (c *Custodian) HolderOf(key models.AssetKey) Holder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held[key]
}
