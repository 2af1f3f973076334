// Package escrow implements the fund-safety ledger: balances owed to
// bidders and sellers, held bid funds, and the payment transport boundary.
package escrow

import (
	"errors"
	"sync"
)

var (
	// ErrNothingToWithdraw is returned when a beneficiary's balance is zero.
	ErrNothingToWithdraw = errors.New("escrow: nothing to withdraw")
	// ErrTransferFailed is returned when the payment transport rejects a
	// payout. The associated balance is restored so the payment can be retried.
	ErrTransferFailed = errors.New("escrow: transfer failed")
	// ErrInsufficientPayment is returned when an attached payment is below
	// the required amount.
	ErrInsufficientPayment = errors.New("escrow: insufficient payment")
	// ErrExcessPayment is returned when an attached payment exceeds the
	// required amount. Overpayment is rejected, never kept.
	ErrExcessPayment = errors.New("escrow: excess payment")
)

// Transport pushes native-currency value to an account and reports success
// or failure synchronously.
type Transport interface {
	Send(to string, amount int64) error
}

// Ledger tracks funds flowing through the marketplace. Incoming payments are
// held first, then either credited to a beneficiary's withdrawable balance or
// paid out through the transport. At every instant
//
//	received == paidOut + sum(balances) + held
//
// so no value is created or destroyed.
type Ledger struct {
	mu        sync.Mutex
	transport Transport
	balances  map[string]int64
	received  int64
	paidOut   int64
	held      int64
}

// NewLedger creates a ledger that settles payouts over the given transport.
func NewLedger(t Transport) *Ledger {
	return &Ledger{
		transport: t,
		balances:  make(map[string]int64),
	}
}

// Hold records an incoming payment attached to an operation. The funds stay
// held until credited or paid out.
func (l *Ledger) Hold(amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.received += amount
	l.held += amount
}

// Unhold returns a held payment to the caller, voiding the operation that
// attached it.
func (l *Ledger) Unhold(amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.received -= amount
	l.held -= amount
}

// Credit moves held funds into the beneficiary's withdrawable balance.
// Pure bookkeeping; cannot fail.
func (l *Ledger) Credit(beneficiary string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held -= amount
	l.balances[beneficiary] += amount
}

// PayOut pushes held funds to an account immediately, used for sale
// proceeds. The ledger is debited before the transport is invoked and
// restored if the transport rejects the payment.
func (l *Ledger) PayOut(to string, amount int64) error {
	l.mu.Lock()
	l.held -= amount
	l.paidOut += amount
	l.mu.Unlock()

	if err := l.transport.Send(to, amount); err != nil {
		l.mu.Lock()
		l.held += amount
		l.paidOut -= amount
		l.mu.Unlock()
		return ErrTransferFailed
	}
	return nil
}

// Withdraw pays out the beneficiary's full balance. The balance is zeroed
// before the transport is invoked, so a reentrant call during payment sees
// zero and cannot double-withdraw; it is restored if the transport fails.
func (l *Ledger) Withdraw(beneficiary string) (int64, error) {
	l.mu.Lock()
	amount := l.balances[beneficiary]
	if amount == 0 {
		l.mu.Unlock()
		return 0, ErrNothingToWithdraw
	}
	l.balances[beneficiary] = 0
	l.paidOut += amount
	l.mu.Unlock()

	if err := l.transport.Send(beneficiary, amount); err != nil {
		l.mu.Lock()
		l.balances[beneficiary] = amount
		l.paidOut -= amount
		l.mu.Unlock()
		return 0, ErrTransferFailed
	}
	return amount, nil
}

// Balance returns the beneficiary's withdrawable balance.
func (l *Ledger) Balance(beneficiary string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[beneficiary]
}

// Totals returns the ledger's running sums for invariant checks:
// total received, total paid out, the sum of withdrawable balances, and the
// amount currently held against open operations.
func (l *Ledger) Totals() (received, paidOut, escrowed, held int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.balances {
		escrowed += b
	}
	return l.received, l.paidOut, escrowed, l.held
}
