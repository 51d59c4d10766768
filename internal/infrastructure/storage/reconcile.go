package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

// Reconcile links a payment to a bank statement line in one transaction:
// the audit record is inserted, the payment is marked reconciled and the
// bank line (when it is known) is marked reconciled too.
func (s *Storage) Reconcile(ctx context.Context, paymentID, bankRef, notes string, studentID *string) (*payments.ReconciliationRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM mpesa_transactions WHERE id = ?`, paymentID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %s: %w", paymentID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if payments.PaymentStatus(status) == payments.PaymentReconciled {
		return nil, fmt.Errorf("payment %s: %w", paymentID, ErrAlreadyReconciled)
	}

	record := &payments.ReconciliationRecord{
		MpesaID:      paymentID,
		BankRef:      bankRef,
		Notes:        notes,
		StudentID:    studentID,
		ReconciledBy: payments.ActorFromContext(ctx, s.reconciledBy),
		ReconciledAt: s.now().UTC().Truncate(time.Second),
		BatchID:      payments.BatchFromContext(ctx),
	}

	res, err := tx.ExecContext(ctx, `
	INSERT INTO payment_reconciliations
	(mpesa_id, bank_statement_ref, notes, student_id, reconciled_by, reconciled_at, batch_id)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		record.MpesaID,
		record.BankRef,
		record.Notes,
		nullString(record.StudentID),
		record.ReconciledBy,
		record.ReconciledAt,
		record.BatchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert reconciliation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	record.ID = strconv.FormatInt(id, 10)

	_, err = tx.ExecContext(ctx, `
	UPDATE mpesa_transactions
	SET status = ?, student_id = COALESCE(?, student_id)
	WHERE id = ?
	`, string(payments.PaymentReconciled), nullString(studentID), paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to update payment status: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
	UPDATE bank_transactions
	SET status = ?, student_id = COALESCE(student_id, ?)
	WHERE transaction_ref = ?
	`, string(payments.BankReconciled), nullString(studentID), bankRef)
	if err != nil {
		return nil, fmt.Errorf("failed to update bank transaction status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reconciliation: %w", err)
	}

	return record, nil
}

// GetReconcileHistory returns the audit trail for a payment, newest first
func (s *Storage) GetReconcileHistory(ctx context.Context, paymentID string) ([]payments.ReconciliationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, mpesa_id, bank_statement_ref, notes, student_id,
	       reconciled_by, reconciled_at, batch_id
	FROM payment_reconciliations
	WHERE mpesa_id = ?
	ORDER BY reconciled_at DESC, id DESC
	`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconcile history: %w", err)
	}
	defer rows.Close()

	var result []payments.ReconciliationRecord
	for rows.Next() {
		var (
			r         payments.ReconciliationRecord
			id        int64
			studentID sql.NullString
		)
		err := rows.Scan(
			&id,
			&r.MpesaID,
			&r.BankRef,
			&r.Notes,
			&studentID,
			&r.ReconciledBy,
			&r.ReconciledAt,
			&r.BatchID,
		)
		if err != nil {
			return nil, err
		}
		r.ID = strconv.FormatInt(id, 10)
		r.StudentID = fromNullString(studentID)
		result = append(result, r)
	}
	return result, rows.Err()
}

// LinkStudentToPayment sets the student on a payment
func (s *Storage) LinkStudentToPayment(ctx context.Context, paymentID, studentID string) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM students WHERE id = ?`, studentID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("student %s: %w", studentID, ErrNotFound)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE mpesa_transactions SET student_id = ? WHERE id = ?`, studentID, paymentID)
	if err != nil {
		return fmt.Errorf("failed to link student: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("payment %s: %w", paymentID, ErrNotFound)
	}
	return nil
}

// GetReport summarizes payments per source. Amounts are summed in Go to
// keep decimal precision.
func (s *Storage) GetReport(ctx context.Context, start, end time.Time) (*Report, error) {
	query := `SELECT source, amount, status FROM mpesa_transactions WHERE 1=1`
	var args []any
	if !start.IsZero() {
		query += ` AND transaction_date >= ?`
		args = append(args, start.UTC())
	}
	if !end.IsZero() {
		query += ` AND transaction_date <= ?`
		args = append(args, end.UTC())
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query report: %w", err)
	}
	defer rows.Close()

	bySource := make(map[string]*SourceSummary)
	report := &Report{Start: start, End: end, Totals: SourceSummary{Source: "all"}}

	for rows.Next() {
		var (
			source string
			amount decimal.Decimal
			status string
		)
		if err := rows.Scan(&source, &amount, &status); err != nil {
			return nil, err
		}
		reconciled := payments.PaymentStatus(status) == payments.PaymentReconciled

		summary, ok := bySource[source]
		if !ok {
			summary = &SourceSummary{Source: source}
			bySource[source] = summary
		}
		summary.add(amount, reconciled)
		report.Totals.add(amount, reconciled)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, summary := range bySource {
		report.Sources = append(report.Sources, *summary)
	}
	sort.Slice(report.Sources, func(i, j int) bool {
		return report.Sources[i].Source < report.Sources[j].Source
	})

	return report, nil
}
