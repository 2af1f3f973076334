package escrow

import (
	"errors"
	"sync"
)

// ErrInsufficientFunds is returned when an account cannot cover a debit.
var ErrInsufficientFunds = errors.New("escrow: insufficient funds")

// Bank is an in-memory account balance book. It funds payable operations
// (Debit) and acts as the ledger's payment transport (Send deposits sale
// proceeds and refunds into the recipient's account).
type Bank struct {
	mu       sync.Mutex
	accounts map[string]int64
}

// NewBank creates an empty bank.
func NewBank() *Bank {
	return &Bank{accounts: make(map[string]int64)}
}

// Deposit adds funds to an account, creating it if needed.
func (b *Bank) Deposit(account string, amount int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[account] += amount
}

// Debit removes funds from an account, failing if the balance is too low.
func (b *Bank) Debit(account string, amount int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.accounts[account] < amount {
		return ErrInsufficientFunds
	}
	b.accounts[account] -= amount
	return nil
}

// Balance returns the account's current balance.
func (b *Bank) Balance(account string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accounts[account]
}

// Send implements Transport by depositing into the recipient's account.
func (b *Bank) Send(to string, amount int64) error {
	b.Deposit(to, amount)
	return nil
}

// Accounts returns a snapshot of all balances.
func (b *Bank) Accounts() map[string]int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int64, len(b.accounts))
	for k, v := range b.accounts {
		out[k] = v
	}
	return out
}
