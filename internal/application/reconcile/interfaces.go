package reconcile

import (
	"context"

	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

// PaymentQuery lists the records the workflow works over.
type PaymentQuery interface {
	ListUnmatchedPayments(ctx context.Context, filters payments.PaymentFilters) ([]payments.UnmatchedPayment, error)
	ListBankTransactions(ctx context.Context, filters payments.BankFilters) ([]payments.BankTransaction, error)
}

// ReconcileStore persists reconciliation decisions.
type ReconcileStore interface {
	// Reconcile records the link between a payment and a bank line. It is
	// atomic: either the record is created or nothing changes.
	Reconcile(ctx context.Context, paymentID, bankRef, notes string, studentID *string) (*payments.ReconciliationRecord, error)

	// GetReconcileHistory returns the audit trail for a payment, newest first.
	GetReconcileHistory(ctx context.Context, paymentID string) ([]payments.ReconciliationRecord, error)

	// LinkStudentToPayment sets the student on a payment that has none.
	LinkStudentToPayment(ctx context.Context, paymentID, studentID string) error
}

// StudentDirectory searches students and parents by phone number.
type StudentDirectory interface {
	FindStudentsByPhone(ctx context.Context, phone string) ([]payments.StudentMatch, error)
}

// Backend bundles the three collaborators. Both the SQLite storage and the
// school API client satisfy it.
type Backend interface {
	PaymentQuery
	ReconcileStore
	StudentDirectory
}
