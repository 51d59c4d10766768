package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eshaffer321/mpesa-reconciler/internal/domain/matcher"
	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

// ReconcileCall captures the arguments of one Reconcile invocation
type ReconcileCall struct {
	PaymentID string
	BankRef   string
	Notes     string
	StudentID *string
	Actor     string
	BatchID   string
}

// MockRepository is an in-memory implementation of Repository for testing.
// It stores all data in maps and slices, making tests fast and isolated.
type MockRepository struct {
	mu sync.Mutex

	payments        map[string]*payments.UnmatchedPayment
	paymentOrder    []string
	bank            []payments.BankTransaction
	bankAccounts    map[string]string
	reconciliations map[string][]payments.ReconciliationRecord
	students        map[string]*Student
	parents         []Parent
	importRuns      map[int64]*ImportRun
	nextRecordID    int64
	nextRunID       int64

	// Hooks for test assertions
	ReconcileCalls     []ReconcileCall
	ListPaymentsCalls  int
	ListBankCalls      int
	HistoryCalled      bool
	LinkStudentCalled  bool
	FindStudentsCalled bool
	LastLinkedStudent  string

	// BeforeListBank runs at the start of ListBankTransactions, outside the lock.
	BeforeListBank func()

	// Error injection for testing error paths
	ListPaymentsErr error
	ListBankErr     error
	ReconcileErr    error
	ReconcileErrFor map[string]error // keyed by payment ID
	HistoryErr      error
	LinkStudentErr  error
	FindStudentsErr error
}

// NewMockRepository creates a new mock repository for testing
func NewMockRepository() *MockRepository {
	return &MockRepository{
		payments:        make(map[string]*payments.UnmatchedPayment),
		bankAccounts:    make(map[string]string),
		reconciliations: make(map[string][]payments.ReconciliationRecord),
		students:        make(map[string]*Student),
		importRuns:      make(map[int64]*ImportRun),
		ReconcileErrFor: make(map[string]error),
		nextRecordID:    1,
		nextRunID:       1,
	}
}

// Compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

// Close does nothing for mock
func (m *MockRepository) Close() error {
	return nil
}

// AddPayments seeds payments, keeping insertion order for listings
func (m *MockRepository) AddPayments(ps ...payments.UnmatchedPayment) {
	for i := range ps {
		_ = m.SavePayment(context.Background(), &ps[i])
	}
}

// AddBankTransactions seeds bank statement lines
func (m *MockRepository) AddBankTransactions(txs ...payments.BankTransaction) {
	for i := range txs {
		_ = m.SaveBankTransaction(context.Background(), "", &txs[i])
	}
}

// ================================================================
// PAYMENTS
// ================================================================

// ListUnmatchedPayments returns seeded payments that are not reconciled
func (m *MockRepository) ListUnmatchedPayments(ctx context.Context, filters payments.PaymentFilters) ([]payments.UnmatchedPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListPaymentsCalls++
	if m.ListPaymentsErr != nil {
		return nil, m.ListPaymentsErr
	}

	var result []payments.UnmatchedPayment
	for _, id := range m.paymentOrder {
		p := m.payments[id]
		if p.Status == payments.PaymentReconciled {
			continue
		}
		if phone := matcher.DigitsOnly(filters.Phone); phone != "" && !strings.Contains(p.PhoneNumber, phone) {
			continue
		}
		result = append(result, *p)
		if len(result) == payments.EffectiveLimit(filters.Limit) {
			break
		}
	}
	return result, nil
}

// GetPayment retrieves a payment from the in-memory map
func (m *MockRepository) GetPayment(ctx context.Context, id string) (*payments.UnmatchedPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

// SavePayment saves a payment to the in-memory map
func (m *MockRepository) SavePayment(ctx context.Context, p *payments.UnmatchedPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Deep copy to avoid test mutations
	copied := *p
	if copied.Status == "" {
		copied.Status = payments.PaymentUnmatched
	}
	if _, exists := m.payments[p.ID]; !exists {
		m.paymentOrder = append(m.paymentOrder, p.ID)
	}
	m.payments[p.ID] = &copied
	return nil
}

// ================================================================
// BANK TRANSACTIONS
// ================================================================

// ListBankTransactions returns seeded bank lines
func (m *MockRepository) ListBankTransactions(ctx context.Context, filters payments.BankFilters) ([]payments.BankTransaction, error) {
	if m.BeforeListBank != nil {
		m.BeforeListBank()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListBankCalls++
	if m.ListBankErr != nil {
		return nil, m.ListBankErr
	}

	var result []payments.BankTransaction
	for _, tx := range m.bank {
		if filters.OpenOnly && !tx.IsOpen() {
			continue
		}
		if filters.Account != "" && m.bankAccounts[tx.TransactionRef] != filters.Account {
			continue
		}
		result = append(result, tx)
	}
	return result, nil
}

// SaveBankTransaction saves a bank line, replacing one with the same ref
func (m *MockRepository) SaveBankTransaction(ctx context.Context, account string, tx *payments.BankTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *tx
	if copied.Status == "" {
		copied.Status = payments.BankPending
	}
	m.bankAccounts[tx.TransactionRef] = account
	for i := range m.bank {
		if m.bank[i].TransactionRef == tx.TransactionRef {
			m.bank[i] = copied
			return nil
		}
	}
	m.bank = append(m.bank, copied)
	return nil
}

// ================================================================
// RECONCILIATION
// ================================================================

// Reconcile records the call and mimics the SQLite semantics
func (m *MockRepository) Reconcile(ctx context.Context, paymentID, bankRef, notes string, studentID *string) (*payments.ReconciliationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	actor := payments.ActorFromContext(ctx, DefaultReconciledBy)
	batch := payments.BatchFromContext(ctx)
	m.ReconcileCalls = append(m.ReconcileCalls, ReconcileCall{
		PaymentID: paymentID,
		BankRef:   bankRef,
		Notes:     notes,
		StudentID: studentID,
		Actor:     actor,
		BatchID:   batch,
	})

	if m.ReconcileErr != nil {
		return nil, m.ReconcileErr
	}
	if err := m.ReconcileErrFor[paymentID]; err != nil {
		return nil, err
	}

	p, ok := m.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", paymentID, ErrNotFound)
	}
	if p.Status == payments.PaymentReconciled {
		return nil, fmt.Errorf("payment %s: %w", paymentID, ErrAlreadyReconciled)
	}

	record := payments.ReconciliationRecord{
		ID:           strconv.FormatInt(m.nextRecordID, 10),
		MpesaID:      paymentID,
		BankRef:      bankRef,
		Notes:        notes,
		StudentID:    studentID,
		ReconciledBy: actor,
		ReconciledAt: time.Now().UTC(),
		BatchID:      batch,
	}
	m.nextRecordID++

	m.reconciliations[paymentID] = append(m.reconciliations[paymentID], record)
	p.Status = payments.PaymentReconciled
	if studentID != nil {
		p.StudentID = studentID
	}
	for i := range m.bank {
		if m.bank[i].TransactionRef == bankRef {
			m.bank[i].Status = payments.BankReconciled
		}
	}

	return &record, nil
}

// GetReconcileHistory returns records for a payment, newest first
func (m *MockRepository) GetReconcileHistory(ctx context.Context, paymentID string) ([]payments.ReconciliationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.HistoryCalled = true
	if m.HistoryErr != nil {
		return nil, m.HistoryErr
	}

	records := m.reconciliations[paymentID]
	result := make([]payments.ReconciliationRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		result = append(result, records[i])
	}
	return result, nil
}

// LinkStudentToPayment sets the student on a seeded payment
func (m *MockRepository) LinkStudentToPayment(ctx context.Context, paymentID, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LinkStudentCalled = true
	m.LastLinkedStudent = studentID
	if m.LinkStudentErr != nil {
		return m.LinkStudentErr
	}

	p, ok := m.payments[paymentID]
	if !ok {
		return fmt.Errorf("payment %s: %w", paymentID, ErrNotFound)
	}
	id := studentID
	p.StudentID = &id
	return nil
}

// GetReport summarizes seeded payments per source
func (m *MockRepository) GetReport(ctx context.Context, start, end time.Time) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bySource := make(map[string]*SourceSummary)
	report := &Report{Start: start, End: end, Totals: SourceSummary{Source: "all"}}

	for _, id := range m.paymentOrder {
		p := m.payments[id]
		if !start.IsZero() && p.TransactionDate.Before(start) {
			continue
		}
		if !end.IsZero() && p.TransactionDate.After(end) {
			continue
		}
		source := p.Source
		if source == "" {
			source = "mpesa"
		}
		summary, ok := bySource[source]
		if !ok {
			summary = &SourceSummary{Source: source}
			bySource[source] = summary
		}
		reconciled := p.Status == payments.PaymentReconciled
		summary.add(p.Amount, reconciled)
		report.Totals.add(p.Amount, reconciled)
	}

	for _, summary := range bySource {
		report.Sources = append(report.Sources, *summary)
	}
	sort.Slice(report.Sources, func(i, j int) bool {
		return report.Sources[i].Source < report.Sources[j].Source
	})
	return report, nil
}

// ================================================================
// DIRECTORY
// ================================================================

// SaveStudent saves a student to the in-memory map
func (m *MockRepository) SaveStudent(ctx context.Context, s *Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *s
	m.students[s.ID] = &copied
	return nil
}

// SaveParent appends a parent record
func (m *MockRepository) SaveParent(ctx context.Context, p *Parent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *p
	copied.Phone = matcher.NormalizePhone(p.Phone, "254")
	copied.ID = int64(len(m.parents) + 1)
	m.parents = append(m.parents, copied)
	return nil
}

// FindStudentsByPhone matches parent phones first, then payment history
func (m *MockRepository) FindStudentsByPhone(ctx context.Context, phone string) ([]payments.StudentMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FindStudentsCalled = true
	if m.FindStudentsErr != nil {
		return nil, m.FindStudentsErr
	}

	normalized := matcher.NormalizePhone(phone, "254")
	seen := make(map[string]bool)
	var result []payments.StudentMatch

	add := func(studentID string, source payments.MatchSource) {
		st, ok := m.students[studentID]
		if !ok || seen[studentID] {
			return
		}
		seen[studentID] = true
		result = append(result, payments.StudentMatch{
			StudentID:   st.ID,
			AdmissionNo: st.AdmissionNo,
			FirstName:   st.FirstName,
			LastName:    st.LastName,
			ClassName:   st.ClassName,
			MatchSource: source,
		})
	}

	for _, p := range m.parents {
		if p.Phone == normalized {
			add(p.StudentID, payments.SourceParentRecord)
		}
	}
	for _, id := range m.paymentOrder {
		p := m.payments[id]
		if p.HasStudent() && matcher.NormalizePhone(p.PhoneNumber, "254") == normalized {
			add(*p.StudentID, payments.SourceMpesaHistory)
		}
	}

	for i := range result {
		for _, id := range m.paymentOrder {
			p := m.payments[id]
			if payments.Deref(p.StudentID) == result[i].StudentID {
				result[i].PaymentCount++
				result[i].TotalPaid = result[i].TotalPaid.Add(p.Amount)
			}
		}
	}
	return result, nil
}

// ================================================================
// IMPORT RUNS
// ================================================================

// StartImportRun creates a new import run and returns its ID
func (m *MockRepository) StartImportRun(ctx context.Context, kind ImportKind, sourceFile string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextRunID
	m.nextRunID++
	m.importRuns[id] = &ImportRun{
		ID:         id,
		Kind:       kind,
		SourceFile: sourceFile,
		StartedAt:  time.Now().UTC(),
		Status:     "running",
	}
	return id, nil
}

// CompleteImportRun marks an import run as complete
func (m *MockRepository) CompleteImportRun(ctx context.Context, runID int64, counts ImportCounts) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.importRuns[runID]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	run.CompletedAt = &now
	run.Counts = counts
	run.Status = "completed"
	if counts.Errored > 0 {
		run.Status = "completed_with_errors"
	}
	return nil
}

// ListImportRuns returns import runs, newest first
func (m *MockRepository) ListImportRuns(ctx context.Context, limit int) ([]ImportRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var runs []ImportRun
	for id := m.nextRunID - 1; id >= 1; id-- {
		if run, ok := m.importRuns[id]; ok {
			runs = append(runs, *run)
		}
		if limit > 0 && len(runs) == limit {
			break
		}
	}
	return runs, nil
}
