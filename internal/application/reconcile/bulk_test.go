package reconcile_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/mpesa-reconciler/internal/application/reconcile"
	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

func TestBulkReconcile_CommonReference(t *testing.T) {
	wf, repo := setupWorkflow(t, []payments.UnmatchedPayment{
		payment("mp-1", 100, "0712345678", "QA12BC34DE"),
		payment("mp-2", 200, "0799000111", "QB98ZY76XW"),
		payment("mp-3", 300, "0711000000", "QC11AA22BB"),
	}, nil)
	require.NoError(t, wf.Select("mp-1", "mp-3"))

	result, err := wf.BulkReconcile(context.Background(), reconcile.BulkRequest{CommonBankRef: "DEPOSIT-77"})
	require.NoError(t, err)

	assert.NotEmpty(t, result.BatchID)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 0, result.FailureCount)
	assert.Equal(t, []string{"mp-1", "mp-3"}, result.Succeeded())

	require.Len(t, repo.ReconcileCalls, 2)
	for _, call := range repo.ReconcileCalls {
		assert.Equal(t, "DEPOSIT-77", call.BankRef)
		assert.Equal(t, reconcile.DefaultBulkNote, call.Notes)
		assert.Equal(t, result.BatchID, call.BatchID)
	}

	assert.Equal(t, []string{"mp-2"}, pendingIDs(wf))
	assert.Empty(t, wf.Selection())
	assert.Equal(t, reconcile.StateIdle, wf.State())
}

func TestBulkReconcile_AutoMatchNeverReusesBankLine(t *testing.T) {
	// Both payments would pick BANK-1 on their own
	wf, repo := setupWorkflow(t, []payments.UnmatchedPayment{
		payment("mp-1", 500, "0712345678", "QA12BC34DE"),
		payment("mp-2", 500, "0712345678", "QB98ZY76XW"),
	}, []payments.BankTransaction{
		bankTx("BANK-1", 500, "MPESA 0712345678"),
		bankTx("BANK-2", 500, "MPESA 0712345678 SECOND"),
	})

	result, err := wf.BulkReconcile(context.Background(), reconcile.BulkRequest{
		PaymentIDs: []string{"mp-1", "mp-2"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.SuccessCount)
	require.Len(t, repo.ReconcileCalls, 2)
	assert.Equal(t, "BANK-1", repo.ReconcileCalls[0].BankRef)
	assert.Equal(t, "BANK-2", repo.ReconcileCalls[1].BankRef)
	assert.Equal(t, reconcile.DefaultBulkAutoNote, repo.ReconcileCalls[0].Notes)
	assert.True(t, result.Outcomes[0].Auto)
}

func TestBulkReconcile_PartialFailure(t *testing.T) {
	wf, repo := setupWorkflow(t, []payments.UnmatchedPayment{
		payment("mp-1", 100, "0712345678", "QA12BC34DE"),
		payment("mp-2", 200, "0799000111", "QB98ZY76XW"),
		payment("mp-3", 300, "0711000000", "QC11AA22BB"),
	}, nil)
	repo.ReconcileErrFor["mp-2"] = errors.New("Payment already reconciled")

	result, err := wf.BulkReconcile(context.Background(), reconcile.BulkRequest{
		PaymentIDs:    []string{"mp-1", "mp-2", "mp-3"},
		CommonBankRef: "DEPOSIT-1",
		Notes:         "term 1 deposit",
	})
	require.NoError(t, err)

	// Every item was attempted exactly once
	assert.Len(t, repo.ReconcileCalls, 3)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailureCount)
	assert.Equal(t, result.SuccessCount+result.FailureCount, len(result.Outcomes))
	assert.Equal(t, []string{"mp-2"}, result.Failed())
	assert.Equal(t, "Payment already reconciled", result.Outcomes[1].Err.Error())
	assert.Equal(t, "term 1 deposit", repo.ReconcileCalls[0].Notes)

	// Only the failed payment stays pending
	assert.Equal(t, []string{"mp-2"}, pendingIDs(wf))
	assert.Equal(t, reconcile.StateSelecting, wf.State())
}

func TestBulkReconcile_NoCandidateAndUnknownPayment(t *testing.T) {
	wf, repo := setupWorkflow(t, []payments.UnmatchedPayment{
		payment("mp-1", 500, "0712345678", "QA12BC34DE"),
		payment("mp-2", 999, "0799000111", "QB98ZY76XW"),
	}, []payments.BankTransaction{
		bankTx("BANK-1", 500, "MPESA QA12BC34DE"),
	})

	result, err := wf.BulkReconcile(context.Background(), reconcile.BulkRequest{
		PaymentIDs: []string{"mp-1", "mp-2", "ghost"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 2, result.FailureCount)
	assert.Len(t, repo.ReconcileCalls, 1, "items without a candidate never reach the store")

	var nm *reconcile.NoMatchError
	assert.ErrorAs(t, result.Outcomes[1].Err, &nm)
	assert.True(t, reconcile.IsNotFound(result.Outcomes[2].Err))
}

func TestBulkReconcile_EmptySelection(t *testing.T) {
	wf, repo := setupWorkflow(t, []payments.UnmatchedPayment{
		payment("mp-1", 100, "0712345678", "QA12BC34DE"),
	}, nil)

	_, err := wf.BulkReconcile(context.Background(), reconcile.BulkRequest{CommonBankRef: "DEPOSIT-1"})

	var ve *reconcile.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "mpesa_ids", ve.Field)
	assert.Empty(t, repo.ReconcileCalls)
}

func TestBulkReconcile_DuplicateIDsAttemptedOnce(t *testing.T) {
	wf, repo := setupWorkflow(t, []payments.UnmatchedPayment{
		payment("mp-1", 100, "0712345678", "QA12BC34DE"),
	}, nil)

	result, err := wf.BulkReconcile(context.Background(), reconcile.BulkRequest{
		PaymentIDs:    []string{"mp-1", " mp-1 "},
		CommonBankRef: "DEPOSIT-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.SuccessCount)
	assert.Len(t, repo.ReconcileCalls, 1)
}

func TestBulkReconcile_DepositCheck(t *testing.T) {
	wf, repo := setupWorkflow(t, []payments.UnmatchedPayment{
		payment("mp-1", 100, "0712345678", "QA12BC34DE"),
		payment("mp-2", 200, "0799000111", "QB98ZY76XW"),
		payment("mp-3", 400, "0711000000", "QC11AA22BB"),
	}, []payments.BankTransaction{
		bankTx("SWEEP-1", 300, "PAYBILL SWEEP"),
		bankTx("SWEEP-2", 500, "PAYBILL SWEEP"),
	})

	result, err := wf.BulkReconcile(context.Background(), reconcile.BulkRequest{
		PaymentIDs:    []string{"mp-1", "mp-2"},
		CommonBankRef: "SWEEP-1",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Deposit)
	assert.True(t, result.Deposit.Valid)
	assert.Equal(t, 2, result.SuccessCount)

	result, err = wf.BulkReconcile(context.Background(), reconcile.BulkRequest{
		PaymentIDs:    []string{"mp-3"},
		CommonBankRef: "SWEEP-2",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Deposit)
	assert.False(t, result.Deposit.Valid, "a mismatch is reported")
	assert.Equal(t, 1, result.SuccessCount, "but does not block the batch")
	assert.Len(t, repo.ReconcileCalls, 3)
}

func TestBulkReconcile_DepositCheckSkippedForUnknownLine(t *testing.T) {
	wf, _ := setupWorkflow(t, []payments.UnmatchedPayment{
		payment("mp-1", 100, "0712345678", "QA12BC34DE"),
	}, nil)

	result, err := wf.BulkReconcile(context.Background(), reconcile.BulkRequest{
		PaymentIDs:    []string{"mp-1"},
		CommonBankRef: "CASH-DEPOSIT",
	})
	require.NoError(t, err)
	assert.Nil(t, result.Deposit)
	assert.Equal(t, 1, result.SuccessCount)
}
