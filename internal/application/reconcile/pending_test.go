package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

func TestApplyDelta_RemoveAndUpdate(t *testing.T) {
	pending := []payments.UnmatchedPayment{
		{ID: "mp-1", Amount: decimal.NewFromInt(100)},
		{ID: "mp-2", Amount: decimal.NewFromInt(200)},
		{ID: "mp-3", Amount: decimal.NewFromInt(300)},
	}

	next := applyDelta(pending, removeDelta("mp-2"))
	require.Len(t, next, 2)
	assert.Equal(t, "mp-1", next[0].ID)
	assert.Equal(t, "mp-3", next[1].ID)
	assert.Len(t, pending, 3, "input slice is not modified")

	next = applyDelta(next, linkDelta(next[1], "stu-5"))
	assert.Equal(t, "stu-5", payments.Deref(next[1].StudentID))
	assert.Nil(t, pending[2].StudentID)
}

func TestPendingDelta_IsEmpty(t *testing.T) {
	assert.True(t, PendingDelta{}.IsEmpty())
	assert.False(t, removeDelta("mp-1").IsEmpty())
}

func TestBankTxCache_IsStale(t *testing.T) {
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	c := BankTxCache{TTL: DefaultCacheTTL}

	assert.True(t, c.IsStale(now), "never fetched")
	assert.Equal(t, time.Duration(0), c.Age(now))

	c.FetchedAt = now
	assert.False(t, c.IsStale(now.Add(299*time.Second)))
	assert.True(t, c.IsStale(now.Add(300*time.Second)))
	assert.Equal(t, time.Minute, c.Age(now.Add(time.Minute)))
}

func TestOpenOnly(t *testing.T) {
	txs := []payments.BankTransaction{
		{TransactionRef: "A", Status: payments.BankPending},
		{TransactionRef: "B", Status: payments.BankProcessed},
		{TransactionRef: "C", Status: payments.BankReconciled},
		{TransactionRef: "D"},
	}

	open := openOnly(txs)
	require.Len(t, open, 2)
	assert.Equal(t, "A", open[0].TransactionRef)
	assert.Equal(t, "D", open[1].TransactionRef)
}

func TestState_Next(t *testing.T) {
	assert.Equal(t, StateIdle, StateSettled.next())
	assert.Equal(t, StateSelecting, StateFailed.next())
	assert.Equal(t, StatePersisting, StatePersisting.next())
}

func TestFoldBulk_CountsAlwaysAddUp(t *testing.T) {
	outcomes := []BulkOutcome{
		{PaymentID: "mp-1"},
		{PaymentID: "mp-2", Err: errors.New("boom")},
		{PaymentID: "mp-3"},
	}

	var acc BulkResult
	for _, o := range outcomes {
		acc = foldBulk(acc, o)
	}

	assert.Equal(t, 2, acc.SuccessCount)
	assert.Equal(t, 1, acc.FailureCount)
	assert.Equal(t, len(outcomes), acc.SuccessCount+acc.FailureCount)
	assert.Equal(t, []string{"mp-1", "mp-3"}, acc.Succeeded())
	assert.Equal(t, []string{"mp-2"}, acc.Failed())
}

func TestTransportErr_KeepsClassification(t *testing.T) {
	base := errors.New("HTTP 500")
	wrapped := transportErr("reconcile", base)

	var te *TransportError
	require.ErrorAs(t, wrapped, &te)
	assert.Equal(t, "reconcile", te.Op)
	assert.ErrorIs(t, wrapped, base)

	ve := &ValidationError{Field: "mpesa_id", Message: "is required"}
	assert.Same(t, ve, transportErr("reconcile", ve))
	assert.Equal(t, "mpesa_id: is required", ve.Error())
}
