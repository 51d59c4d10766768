package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/eshaffer321/mpesa-reconciler/internal/domain/matcher"
	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

const paymentColumns = `id, amount, transaction_code, phone_number, student_id,
	transaction_date, status, source`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*payments.UnmatchedPayment, error) {
	var (
		p         payments.UnmatchedPayment
		studentID sql.NullString
		date      sql.NullTime
		status    string
	)
	err := row.Scan(
		&p.ID,
		&p.Amount,
		&p.TransactionCode,
		&p.PhoneNumber,
		&studentID,
		&date,
		&status,
		&p.Source,
	)
	if err != nil {
		return nil, err
	}
	p.StudentID = fromNullString(studentID)
	p.TransactionDate = fromNullTime(date)
	p.Status = payments.PaymentStatus(status)
	return &p, nil
}

// ListUnmatchedPayments returns payments that are not reconciled
func (s *Storage) ListUnmatchedPayments(ctx context.Context, filters payments.PaymentFilters) ([]payments.UnmatchedPayment, error) {
	where := []string{"status != ?"}
	args := []any{string(payments.PaymentReconciled)}

	if !filters.StartDate.IsZero() {
		where = append(where, "transaction_date >= ?")
		args = append(args, filters.StartDate.UTC())
	}
	if !filters.EndDate.IsZero() {
		where = append(where, "transaction_date <= ?")
		args = append(args, filters.EndDate.UTC())
	}
	if phone := matcher.DigitsOnly(filters.Phone); phone != "" {
		where = append(where, "phone_number LIKE ?")
		args = append(args, "%"+phone+"%")
	}
	if search := strings.TrimSpace(filters.Search); search != "" {
		where = append(where, "(transaction_code LIKE ? OR phone_number LIKE ?)")
		args = append(args, "%"+strings.ToUpper(search)+"%", "%"+search+"%")
	}
	args = append(args, payments.EffectiveLimit(filters.Limit))

	query := fmt.Sprintf(`
	SELECT %s FROM mpesa_transactions
	WHERE %s
	ORDER BY transaction_date DESC, id
	LIMIT ?`, paymentColumns, strings.Join(where, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list unmatched payments: %w", err)
	}
	defer rows.Close()

	var result []payments.UnmatchedPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

// GetPayment retrieves a payment by ID, returning nil when it does not exist
func (s *Storage) GetPayment(ctx context.Context, id string) (*payments.UnmatchedPayment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM mpesa_transactions WHERE id = ?`, id)

	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SavePayment inserts or updates a payment. An existing reconciled status
// is never downgraded by a re-import.
func (s *Storage) SavePayment(ctx context.Context, p *payments.UnmatchedPayment) error {
	status := p.Status
	if status == "" {
		status = payments.PaymentUnmatched
	}
	source := p.Source
	if source == "" {
		source = "mpesa"
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO mpesa_transactions
	(id, amount, transaction_code, phone_number, student_id, transaction_date, status, source)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		amount = excluded.amount,
		transaction_code = excluded.transaction_code,
		phone_number = excluded.phone_number,
		student_id = COALESCE(excluded.student_id, mpesa_transactions.student_id),
		transaction_date = excluded.transaction_date,
		source = excluded.source,
		status = CASE WHEN mpesa_transactions.status = 'reconciled'
			THEN mpesa_transactions.status ELSE excluded.status END
	`,
		p.ID,
		p.Amount,
		strings.ToUpper(strings.TrimSpace(p.TransactionCode)),
		strings.TrimSpace(p.PhoneNumber),
		nullString(p.StudentID),
		nullTime(p.TransactionDate),
		string(status),
		source,
	)
	return err
}

// ListBankTransactions returns bank statement lines
func (s *Storage) ListBankTransactions(ctx context.Context, filters payments.BankFilters) ([]payments.BankTransaction, error) {
	var where []string
	var args []any

	if filters.OpenOnly {
		where = append(where, "status NOT IN (?, ?)")
		args = append(args, string(payments.BankProcessed), string(payments.BankReconciled))
	}
	if account := strings.TrimSpace(filters.Account); account != "" {
		where = append(where, "account = ?")
		args = append(args, account)
	}
	args = append(args, payments.EffectiveLimit(filters.Limit))

	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	query := fmt.Sprintf(`
	SELECT transaction_ref, amount, narration, transaction_date, student_id, status
	FROM bank_transactions
	%s
	ORDER BY transaction_date DESC, transaction_ref
	LIMIT ?`, clause)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bank transactions: %w", err)
	}
	defer rows.Close()

	var result []payments.BankTransaction
	for rows.Next() {
		var (
			tx        payments.BankTransaction
			date      sql.NullTime
			studentID sql.NullString
			status    string
		)
		if err := rows.Scan(&tx.TransactionRef, &tx.Amount, &tx.Narration, &date, &studentID, &status); err != nil {
			return nil, err
		}
		tx.TransactionDate = fromNullTime(date)
		tx.StudentID = fromNullString(studentID)
		tx.Status = payments.BankStatus(status)
		result = append(result, tx)
	}
	return result, rows.Err()
}

// SaveBankTransaction inserts or updates a bank statement line
func (s *Storage) SaveBankTransaction(ctx context.Context, account string, tx *payments.BankTransaction) error {
	status := tx.Status
	if status == "" {
		status = payments.BankPending
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO bank_transactions
	(transaction_ref, account, amount, narration, transaction_date, student_id, status)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(transaction_ref) DO UPDATE SET
		account = excluded.account,
		amount = excluded.amount,
		narration = excluded.narration,
		transaction_date = excluded.transaction_date,
		student_id = COALESCE(excluded.student_id, bank_transactions.student_id),
		status = CASE WHEN bank_transactions.status = 'reconciled'
			THEN bank_transactions.status ELSE excluded.status END
	`,
		strings.TrimSpace(tx.TransactionRef),
		account,
		tx.Amount,
		tx.Narration,
		nullTime(tx.TransactionDate),
		nullString(tx.StudentID),
		string(status),
	)
	return err
}
