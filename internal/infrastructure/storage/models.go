package storage

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a referenced payment or student does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyReconciled is returned when a payment has already been reconciled.
	ErrAlreadyReconciled = errors.New("payment already reconciled")
)

// Student is a row of the student directory
type Student struct {
	ID          string `json:"id"`
	AdmissionNo string `json:"admission_no"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	ClassName   string `json:"class_name,omitempty"`
}

// Parent links a phone number to a student
type Parent struct {
	ID        int64  `json:"id"`
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
}

// ImportKind says what an import run loaded
type ImportKind string

const (
	ImportPayments ImportKind = "payments"
	ImportBank     ImportKind = "bank"
	ImportStudents ImportKind = "students"
)

// ImportCounts are the row counters of an import run
type ImportCounts struct {
	Read     int `json:"rows_read"`
	Imported int `json:"rows_imported"`
	Skipped  int `json:"rows_skipped"`
	Errored  int `json:"rows_errored"`
}

// ImportRun represents an import run record
type ImportRun struct {
	ID          int64        `json:"id"`
	Kind        ImportKind   `json:"kind"`
	SourceFile  string       `json:"source_file"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Counts      ImportCounts `json:"counts"`
	Status      string       `json:"status"`
}

// SourceSummary aggregates payments from one feed
type SourceSummary struct {
	Source           string          `json:"source"`
	Count            int             `json:"count"`
	ReconciledCount  int             `json:"reconciled_count"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	ReconciledAmount decimal.Decimal `json:"reconciled_amount"`
}

// UnmatchedCount returns the number of payments still open
func (s SourceSummary) UnmatchedCount() int {
	return s.Count - s.ReconciledCount
}

// Report is the reconciliation summary over a date range
type Report struct {
	Start   time.Time       `json:"start,omitempty"`
	End     time.Time       `json:"end,omitempty"`
	Sources []SourceSummary `json:"sources"`
	Totals  SourceSummary   `json:"totals"`
}

// add folds one payment into the summary
func (s *SourceSummary) add(amount decimal.Decimal, reconciled bool) {
	s.Count++
	s.TotalAmount = s.TotalAmount.Add(amount)
	if reconciled {
		s.ReconciledCount++
		s.ReconciledAmount = s.ReconciledAmount.Add(amount)
	}
}
