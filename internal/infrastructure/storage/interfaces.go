package storage

import (
	"context"
	"time"

	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

// Repository defines the complete storage interface.
// This interface allows swapping implementations (SQLite, the school API, etc.)
// and makes testing with mocks straightforward.
type Repository interface {
	PaymentRepository
	BankRepository
	ReconciliationRepository
	DirectoryRepository
	ImportRunRepository
	Close() error
}

// PaymentRepository handles M-Pesa payment records
type PaymentRepository interface {
	// ListUnmatchedPayments returns payments not yet reconciled, newest first
	ListUnmatchedPayments(ctx context.Context, filters payments.PaymentFilters) ([]payments.UnmatchedPayment, error)

	// GetPayment retrieves a payment by ID (nil if missing)
	GetPayment(ctx context.Context, id string) (*payments.UnmatchedPayment, error)

	// SavePayment inserts or updates a payment
	SavePayment(ctx context.Context, p *payments.UnmatchedPayment) error
}

// BankRepository handles bank statement lines
type BankRepository interface {
	// ListBankTransactions returns statement lines, newest first
	ListBankTransactions(ctx context.Context, filters payments.BankFilters) ([]payments.BankTransaction, error)

	// SaveBankTransaction inserts or updates a statement line
	SaveBankTransaction(ctx context.Context, account string, tx *payments.BankTransaction) error
}

// ReconciliationRepository persists reconciliation decisions
type ReconciliationRepository interface {
	Reconcile(ctx context.Context, paymentID, bankRef, notes string, studentID *string) (*payments.ReconciliationRecord, error)
	GetReconcileHistory(ctx context.Context, paymentID string) ([]payments.ReconciliationRecord, error)
	LinkStudentToPayment(ctx context.Context, paymentID, studentID string) error

	// GetReport summarizes payments by source over [start, end]. Zero bounds are open.
	GetReport(ctx context.Context, start, end time.Time) (*Report, error)
}

// DirectoryRepository handles students and their parents' phone numbers
type DirectoryRepository interface {
	FindStudentsByPhone(ctx context.Context, phone string) ([]payments.StudentMatch, error)
	SaveStudent(ctx context.Context, s *Student) error
	SaveParent(ctx context.Context, p *Parent) error
}

// ImportRunRepository tracks CSV import runs
type ImportRunRepository interface {
	// StartImportRun records the start of an import and returns the run ID
	StartImportRun(ctx context.Context, kind ImportKind, sourceFile string) (int64, error)

	// CompleteImportRun records the counters of a finished import
	CompleteImportRun(ctx context.Context, runID int64, counts ImportCounts) error

	// ListImportRuns returns recent runs, newest first
	ListImportRuns(ctx context.Context, limit int) ([]ImportRun, error)
}
