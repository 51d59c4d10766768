// Package payments defines the records that flow through reconciliation:
// mobile-money payments waiting for a bank correlation, the bank statement
// lines they may correlate with, and the audit entries written when a
// correlation is confirmed.
package payments

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a mobile-money payment.
type PaymentStatus string

const (
	PaymentUnmatched  PaymentStatus = "unmatched"
	PaymentReconciled PaymentStatus = "reconciled"
)

// BankStatus is the lifecycle state of a bank statement line.
type BankStatus string

const (
	BankPending    BankStatus = "pending"
	BankProcessed  BankStatus = "processed"
	BankReconciled BankStatus = "reconciled"
)

// UnmatchedPayment is an M-Pesa transaction lacking a confirmed bank correlation.
type UnmatchedPayment struct {
	ID              string          `json:"id"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionCode string          `json:"transaction_code"`
	PhoneNumber     string          `json:"phone_number"`
	StudentID       *string         `json:"student_id,omitempty"`
	TransactionDate time.Time       `json:"transaction_date"`
	Status          PaymentStatus   `json:"status"`
	Source          string          `json:"source,omitempty"` // feed the payment was ingested from, e.g. "mpesa"
}

// HasStudent reports whether the payment has been linked to a student.
func (p UnmatchedPayment) HasStudent() bool {
	return p.StudentID != nil && *p.StudentID != ""
}

// BankTransaction is a candidate bank statement line.
type BankTransaction struct {
	TransactionRef  string          `json:"transaction_ref"`
	Amount          decimal.Decimal `json:"amount"`
	Narration       string          `json:"narration"`
	TransactionDate time.Time       `json:"transaction_date"`
	StudentID       *string         `json:"student_id,omitempty"`
	Status          BankStatus      `json:"status"`
}

// IsOpen reports whether the line can still be matched.
func (b BankTransaction) IsOpen() bool {
	return b.Status != BankProcessed && b.Status != BankReconciled
}

// ReconciliationRecord is the persisted audit entry created on confirmation.
type ReconciliationRecord struct {
	ID           string    `json:"id"`
	MpesaID      string    `json:"mpesa_id"`
	BankRef      string    `json:"bank_statement_ref"`
	Notes        string    `json:"notes"`
	StudentID    *string   `json:"student_id,omitempty"`
	ReconciledBy string    `json:"reconciled_by"`
	ReconciledAt time.Time `json:"reconciled_at"`
	BatchID      string    `json:"batch_id,omitempty"`
}

// MatchSource says where a student directory hit came from.
type MatchSource string

const (
	SourceParentRecord MatchSource = "parent_record"
	SourceMpesaHistory MatchSource = "mpesa_history"
)

// StudentMatch is a student found by searching the directory by phone number.
type StudentMatch struct {
	StudentID    string          `json:"student_id"`
	AdmissionNo  string          `json:"admission_no"`
	FirstName    string          `json:"first_name"`
	LastName     string          `json:"last_name"`
	ClassName    string          `json:"class_name,omitempty"`
	MatchSource  MatchSource     `json:"match_source"`
	PaymentCount int             `json:"payment_count"`
	TotalPaid    decimal.Decimal `json:"total_paid"`
}

// FullName returns "First Last".
func (s StudentMatch) FullName() string {
	if s.LastName == "" {
		return s.FirstName
	}
	return s.FirstName + " " + s.LastName
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
