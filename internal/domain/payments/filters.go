package payments

import (
	"context"
	"time"
)

// PaymentFilters narrows the unmatched payment listing.
type PaymentFilters struct {
	StartDate time.Time // zero = unbounded
	EndDate   time.Time // zero = unbounded
	Phone     string    // digits, any prefix
	Search    string    // matches transaction code or phone
	Limit     int       // 0 = default 500
}

// BankFilters narrows the bank transaction listing.
type BankFilters struct {
	Account  string // account number or bank name
	OpenOnly bool   // exclude processed and reconciled lines
	Limit    int    // 0 = default 500
}

// DefaultListLimit caps listings when no limit is given.
const DefaultListLimit = 500

// EffectiveLimit returns l or the default cap.
func EffectiveLimit(l int) int {
	if l <= 0 {
		return DefaultListLimit
	}
	return l
}

type actorKey struct{}

// WithActor attaches the name of the user performing a reconciliation.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the acting user, or fallback when none is set.
func ActorFromContext(ctx context.Context, fallback string) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return fallback
}

type batchKey struct{}

// WithBatch tags reconciliations made under ctx with a bulk batch ID.
func WithBatch(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, batchKey{}, batchID)
}

// BatchFromContext returns the bulk batch ID, or "" outside a batch.
func BatchFromContext(ctx context.Context) string {
	id, _ := ctx.Value(batchKey{}).(string)
	return id
}
