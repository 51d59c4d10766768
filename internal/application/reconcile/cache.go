package reconcile

import (
	"time"

	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

// DefaultCacheTTL is how long a fetched bank transaction list is reused.
const DefaultCacheTTL = 5 * time.Minute

// BankTxCache is the candidate pool used for suggestions. It is not
// invalidated on write: a line reconciled after the fetch stays in Data
// until the TTL expires or the pool is reloaded explicitly.
type BankTxCache struct {
	Data      []payments.BankTransaction
	FetchedAt time.Time
	TTL       time.Duration
}

// IsStale reports whether the pool must be fetched again.
func (c BankTxCache) IsStale(now time.Time) bool {
	if c.FetchedAt.IsZero() {
		return true
	}
	return now.Sub(c.FetchedAt) >= c.TTL
}

// Age returns how long ago the pool was fetched.
func (c BankTxCache) Age(now time.Time) time.Duration {
	if c.FetchedAt.IsZero() {
		return 0
	}
	return now.Sub(c.FetchedAt)
}

// openOnly drops lines that can no longer be matched.
func openOnly(txs []payments.BankTransaction) []payments.BankTransaction {
	open := make([]payments.BankTransaction, 0, len(txs))
	for _, tx := range txs {
		if tx.IsOpen() {
			open = append(open, tx)
		}
	}
	return open
}
