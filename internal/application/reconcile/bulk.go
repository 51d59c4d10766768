package reconcile

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eshaffer321/mpesa-reconciler/internal/domain/deposit"
	"github.com/eshaffer321/mpesa-reconciler/internal/domain/matcher"
	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

// BulkRequest reconciles several payments in one pass. When CommonBankRef is
// empty each payment is matched automatically. An empty PaymentIDs uses the
// current selection.
type BulkRequest struct {
	PaymentIDs    []string `json:"mpesa_ids" validate:"min=1,dive,required"`
	CommonBankRef string   `json:"bank_statement_ref" validate:"max=100"`
	Notes         string   `json:"notes" validate:"max=500"`
}

// BulkOutcome is the result for one payment of a bulk run.
type BulkOutcome struct {
	PaymentID string                         `json:"mpesa_id"`
	BankRef   string                         `json:"bank_statement_ref,omitempty"`
	Auto      bool                           `json:"auto"`
	Record    *payments.ReconciliationRecord `json:"record,omitempty"`
	Err       error                          `json:"-"`
}

// OK reports whether the payment was reconciled.
func (o BulkOutcome) OK() bool {
	return o.Err == nil
}

// BulkResult aggregates a bulk run. SuccessCount+FailureCount always equals
// the number of payments requested.
type BulkResult struct {
	BatchID      string        `json:"batch_id"`
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	Outcomes     []BulkOutcome `json:"outcomes"`

	// Deposit compares the batch total with the shared bank line. It is nil
	// for auto-matched batches and when the line is not in the open pool.
	Deposit *deposit.Validation `json:"deposit,omitempty"`
}

// Succeeded returns the IDs of reconciled payments.
func (r BulkResult) Succeeded() []string {
	var ids []string
	for _, o := range r.Outcomes {
		if o.OK() {
			ids = append(ids, o.PaymentID)
		}
	}
	return ids
}

// Failed returns the IDs of payments that were not reconciled.
func (r BulkResult) Failed() []string {
	var ids []string
	for _, o := range r.Outcomes {
		if !o.OK() {
			ids = append(ids, o.PaymentID)
		}
	}
	return ids
}

// foldBulk accumulates one outcome into the running result.
func foldBulk(acc BulkResult, o BulkOutcome) BulkResult {
	acc.Outcomes = append(acc.Outcomes, o)
	if o.OK() {
		acc.SuccessCount++
	} else {
		acc.FailureCount++
	}
	return acc
}

// BulkReconcile reconciles each requested payment with its own store call.
// A failure on one payment never stops the rest; the error is recorded in
// its outcome. The returned error is non-nil only when the request itself
// is invalid.
func (w *Workflow) BulkReconcile(ctx context.Context, req BulkRequest) (BulkResult, error) {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	if len(req.PaymentIDs) == 0 {
		req.PaymentIDs = w.Selection()
	}
	req.PaymentIDs = dedupe(req.PaymentIDs)
	req.CommonBankRef = strings.TrimSpace(req.CommonBankRef)
	req.Notes = strings.TrimSpace(req.Notes)

	if err := w.validate.Struct(req); err != nil {
		return BulkResult{}, w.fail(fromValidator(err))
	}

	notes := req.Notes
	if notes == "" {
		if req.CommonBankRef != "" {
			notes = w.config.BulkNote
		} else {
			notes = w.config.BulkAutoNote
		}
	}

	var (
		matches map[string]*matcher.MatchCandidate
		poolErr error
	)
	if req.CommonBankRef == "" {
		matches, poolErr = w.planAutoMatches(ctx, req.PaymentIDs)
	}

	acc := BulkResult{BatchID: uuid.NewString()}
	if req.CommonBankRef != "" {
		acc.Deposit = w.checkDeposit(ctx, req.CommonBankRef, req.PaymentIDs)
	}
	ctx = payments.WithBatch(ctx, acc.BatchID)
	for _, id := range req.PaymentIDs {
		acc = foldBulk(acc, w.bulkItem(ctx, id, req.CommonBankRef, notes, matches, poolErr))
	}

	if acc.FailureCount > 0 {
		w.mu.Lock()
		w.state = StateFailed.next()
		w.mu.Unlock()
	}

	w.logger.Info("Bulk reconciliation complete",
		"batch_id", acc.BatchID,
		"succeeded", acc.SuccessCount,
		"failed", acc.FailureCount,
	)

	return acc, nil
}

// checkDeposit compares the requested pending payments with the bank line
// they share. A mismatch is logged but does not stop the batch.
func (w *Workflow) checkDeposit(ctx context.Context, bankRef string, ids []string) *deposit.Validation {
	pool, err := w.candidatePool(ctx)
	if err != nil {
		return nil
	}

	var line *payments.BankTransaction
	for i := range pool {
		if pool[i].TransactionRef == bankRef {
			line = &pool[i]
			break
		}
	}
	if line == nil {
		return nil
	}

	amounts := make([]decimal.Decimal, 0, len(ids))
	for _, id := range ids {
		if p, ok := w.Payment(id); ok {
			amounts = append(amounts, p.Amount)
		}
	}
	if len(amounts) == 0 {
		return nil
	}

	result := deposit.ValidateSimple(amounts, line.Amount)
	if !result.Valid {
		w.logger.Warn("Bulk batch does not add up to the bank deposit",
			"bank_ref", bankRef,
			"reason", result.Reason,
		)
	}
	return result
}

// planAutoMatches assigns bank lines to the requested pending payments so
// no line is used twice within the batch.
func (w *Workflow) planAutoMatches(ctx context.Context, ids []string) (map[string]*matcher.MatchCandidate, error) {
	pool, err := w.candidatePool(ctx)
	if err != nil {
		return nil, err
	}

	selected := make([]payments.UnmatchedPayment, 0, len(ids))
	for _, id := range ids {
		if p, ok := w.Payment(id); ok {
			selected = append(selected, p)
		}
	}
	return w.matcher.MatchAll(selected, pool), nil
}

func (w *Workflow) bulkItem(ctx context.Context, id, commonRef, notes string, matches map[string]*matcher.MatchCandidate, poolErr error) BulkOutcome {
	outcome := BulkOutcome{PaymentID: id}

	payment, pending := w.Payment(id)

	switch {
	case commonRef != "":
		outcome.BankRef = commonRef
	case !pending:
		outcome.Err = notPending(id)
		return outcome
	case poolErr != nil:
		outcome.Err = poolErr
		return outcome
	default:
		match := matches[id]
		if match == nil {
			outcome.Err = &NoMatchError{PaymentID: id}
			return outcome
		}
		outcome.BankRef = match.BankRef()
		outcome.Auto = true
	}

	record, err := w.confirm(ctx, ConfirmRequest{
		PaymentID: id,
		BankRef:   outcome.BankRef,
		Notes:     notes,
		StudentID: payment.StudentID,
	})
	outcome.Record = record
	outcome.Err = err
	return outcome
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
