// Package reconcile drives the human-in-the-loop reconciliation of M-Pesa
// payments against bank statement lines.
//
// The workflow keeps a pending working set of unmatched payments, a
// selection for bulk actions, and a short-lived pool of open bank lines used
// for suggestions. Every mutating operation makes exactly one call to the
// ReconcileStore; on success the pending set is updated optimistically, on
// failure it is left untouched and the error is returned as-is. Nothing is
// retried.
//
// Example usage:
//
//	wf := reconcile.NewWorkflow(store, reconcile.DefaultConfig(), logger)
//	if _, err := wf.LoadPending(ctx, payments.PaymentFilters{}); err != nil {
//		return err
//	}
//	record, err := wf.AutoReconcile(ctx, "mp-1")
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/eshaffer321/mpesa-reconciler/internal/domain/matcher"
	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

// Default notes written on system-initiated reconciliations.
const (
	DefaultAutoNote     = "Auto-matched by system"
	DefaultBulkNote     = "Bulk reconciliation"
	DefaultBulkAutoNote = "Bulk auto-matched by system"
)

// Config holds workflow configuration
type Config struct {
	Matching     matcher.Config
	CacheTTL     time.Duration
	AutoNote     string
	BulkNote     string
	BulkAutoNote string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Matching:     matcher.DefaultConfig(),
		CacheTTL:     DefaultCacheTTL,
		AutoNote:     DefaultAutoNote,
		BulkNote:     DefaultBulkNote,
		BulkAutoNote: DefaultBulkAutoNote,
	}
}

// ConfirmRequest is a manual reconciliation of one payment.
type ConfirmRequest struct {
	PaymentID string  `json:"mpesa_id" validate:"required"`
	BankRef   string  `json:"bank_statement_ref" validate:"required,max=100"`
	Notes     string  `json:"notes" validate:"max=500"`
	StudentID *string `json:"student_id,omitempty"`
}

func (r ConfirmRequest) normalized() ConfirmRequest {
	r.PaymentID = strings.TrimSpace(r.PaymentID)
	r.BankRef = strings.TrimSpace(r.BankRef)
	r.Notes = strings.TrimSpace(r.Notes)
	if r.StudentID != nil {
		r.StudentID = payments.StringPtr(strings.TrimSpace(*r.StudentID))
	}
	return r
}

// Snapshot is a point-in-time view of the workflow for status endpoints.
type Snapshot struct {
	State          State         `json:"state"`
	PendingCount   int           `json:"pending_count"`
	SelectionCount int           `json:"selection_count"`
	CachedBankTxs  int           `json:"cached_bank_transactions"`
	CacheAge       time.Duration `json:"cache_age"`
	CacheStale     bool          `json:"cache_stale"`
	LastError      string        `json:"last_error,omitempty"`
}

// Workflow orchestrates single, auto and bulk reconciliation.
type Workflow struct {
	query     PaymentQuery
	store     ReconcileStore
	directory StudentDirectory
	matcher   *matcher.Matcher
	validate  *validator.Validate
	config    Config
	logger    *slog.Logger
	now       func() time.Time

	// opMu serializes mutating operations so each one observes the
	// pending set left by the previous one.
	opMu sync.Mutex

	mu          sync.Mutex
	state       State
	lastErr     error
	pending     []payments.UnmatchedPayment
	selection   []string
	suggestions map[string]*matcher.MatchCandidate
	cache       BankTxCache

	// fetching is an advisory guard: a pool refresh requested while one is
	// already running is skipped, not queued.
	fetching atomic.Bool
}

// NewWorkflow creates a workflow backed by the given collaborators.
func NewWorkflow(backend Backend, cfg Config, logger *slog.Logger) *Workflow {
	return NewWorkflowWith(backend, backend, backend, cfg, logger)
}

// NewWorkflowWith creates a workflow from separate collaborators.
func NewWorkflowWith(query PaymentQuery, store ReconcileStore, directory StudentDirectory, cfg Config, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.AutoNote == "" {
		cfg.AutoNote = DefaultAutoNote
	}
	if cfg.BulkNote == "" {
		cfg.BulkNote = DefaultBulkNote
	}
	if cfg.BulkAutoNote == "" {
		cfg.BulkAutoNote = DefaultBulkAutoNote
	}
	if cfg.Matching.MinConfidence == 0 {
		cfg.Matching = matcher.DefaultConfig()
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	return &Workflow{
		query:       query,
		store:       store,
		directory:   directory,
		matcher:     matcher.NewMatcher(cfg.Matching),
		validate:    v,
		config:      cfg,
		logger:      logger,
		now:         time.Now,
		state:       StateIdle,
		suggestions: make(map[string]*matcher.MatchCandidate),
		cache:       BankTxCache{TTL: cfg.CacheTTL},
	}
}

// SetClock replaces the time source used for cache staleness.
func (w *Workflow) SetClock(now func() time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now = now
}

// State returns the current workflow state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// LastError returns the error that last moved the workflow to Failed.
func (w *Workflow) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Snapshot returns the workflow's current counters.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	s := Snapshot{
		State:          w.state,
		PendingCount:   len(w.pending),
		SelectionCount: len(w.selection),
		CachedBankTxs:  len(w.cache.Data),
		CacheAge:       w.cache.Age(now),
		CacheStale:     w.cache.IsStale(now),
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// ================================================================
// PENDING SET & SELECTION
// ================================================================

// LoadPending replaces the pending working set with a fresh listing.
func (w *Workflow) LoadPending(ctx context.Context, filters payments.PaymentFilters) ([]payments.UnmatchedPayment, error) {
	list, err := w.query.ListUnmatchedPayments(ctx, filters)
	if err != nil {
		return nil, transportErr("list unmatched payments", err)
	}

	pending := make([]payments.UnmatchedPayment, 0, len(list))
	for _, p := range list {
		if p.Status != payments.PaymentReconciled {
			pending = append(pending, p)
		}
	}

	w.mu.Lock()
	w.pending = pending
	w.selection = nil
	w.suggestions = make(map[string]*matcher.MatchCandidate)
	w.state = StateIdle
	w.mu.Unlock()

	w.logger.Debug("Loaded pending payments", "count", len(pending))

	return w.Pending(), nil
}

// Pending returns a copy of the pending working set.
func (w *Workflow) Pending() []payments.UnmatchedPayment {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]payments.UnmatchedPayment, len(w.pending))
	copy(out, w.pending)
	return out
}

// Payment returns a pending payment by ID.
func (w *Workflow) Payment(id string) (payments.UnmatchedPayment, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return findPending(w.pending, id)
}

// Select adds payments to the bulk selection. Unknown IDs are rejected and
// nothing is selected.
func (w *Workflow) Select(ids ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, id := range ids {
		if _, ok := findPending(w.pending, id); !ok {
			return notPending(id)
		}
	}
	for _, id := range ids {
		if !contains(w.selection, id) {
			w.selection = append(w.selection, id)
		}
	}
	if len(w.selection) > 0 {
		w.state = StateSelecting
	}
	return nil
}

// Deselect removes payments from the bulk selection.
func (w *Workflow) Deselect(ids ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.selection = without(w.selection, ids...)
	if len(w.selection) == 0 && w.state == StateSelecting {
		w.state = StateIdle
	}
}

// ClearSelection empties the bulk selection.
func (w *Workflow) ClearSelection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.selection = nil
	if w.state == StateSelecting {
		w.state = StateIdle
	}
}

// Selection returns the selected payment IDs in selection order.
func (w *Workflow) Selection() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.selection))
	copy(out, w.selection)
	return out
}

// ================================================================
// SUGGESTIONS
// ================================================================

// SuggestMatch returns the best candidate for the payment from the cached
// bank transaction pool, or nil when none is eligible. The result is kept
// for AutoReconcile.
func (w *Workflow) SuggestMatch(ctx context.Context, payment payments.UnmatchedPayment) (*matcher.MatchCandidate, error) {
	pool, err := w.candidatePool(ctx)
	if err != nil {
		return nil, err
	}

	match := w.matcher.FindMatch(payment, pool)

	w.mu.Lock()
	if match != nil {
		w.suggestions[payment.ID] = match
	} else {
		delete(w.suggestions, payment.ID)
	}
	w.mu.Unlock()

	return match, nil
}

// RankedSuggestions returns every eligible candidate for the payment, best first.
func (w *Workflow) RankedSuggestions(ctx context.Context, payment payments.UnmatchedPayment) ([]matcher.MatchCandidate, error) {
	pool, err := w.candidatePool(ctx)
	if err != nil {
		return nil, err
	}
	return w.matcher.RankCandidates(payment, pool), nil
}

// SuggestAll computes a suggestion for every pending payment, keyed by
// payment ID. Payments without an eligible candidate are omitted.
func (w *Workflow) SuggestAll(ctx context.Context) (map[string]*matcher.MatchCandidate, error) {
	pool, err := w.candidatePool(ctx)
	if err != nil {
		return nil, err
	}

	pending := w.Pending()
	result := make(map[string]*matcher.MatchCandidate, len(pending))
	for _, p := range pending {
		if match := w.matcher.FindMatch(p, pool); match != nil {
			result[p.ID] = match
		}
	}

	w.mu.Lock()
	w.suggestions = make(map[string]*matcher.MatchCandidate, len(result))
	for id, match := range result {
		w.suggestions[id] = match
	}
	w.mu.Unlock()

	return result, nil
}

// BankCache returns a copy of the current candidate pool state.
func (w *Workflow) BankCache() BankTxCache {
	w.mu.Lock()
	defer w.mu.Unlock()
	c := w.cache
	c.Data = append([]payments.BankTransaction(nil), w.cache.Data...)
	return c
}

// ReloadBankTransactions refreshes the candidate pool regardless of its
// age and returns the number of open lines now cached.
func (w *Workflow) ReloadBankTransactions(ctx context.Context) (int, error) {
	pool, err := w.refreshPool(ctx)
	if err != nil {
		return 0, err
	}
	return len(pool), nil
}

func (w *Workflow) candidatePool(ctx context.Context) ([]payments.BankTransaction, error) {
	w.mu.Lock()
	cache := w.cache
	stale := cache.IsStale(w.now())
	w.mu.Unlock()

	if !stale {
		return cache.Data, nil
	}
	return w.refreshPool(ctx)
}

func (w *Workflow) refreshPool(ctx context.Context) ([]payments.BankTransaction, error) {
	if !w.fetching.CompareAndSwap(false, true) {
		w.logger.Debug("Bank transaction fetch already in flight, using cached pool")
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.cache.Data, nil
	}
	defer w.fetching.Store(false)

	txs, err := w.query.ListBankTransactions(ctx, payments.BankFilters{OpenOnly: true})
	if err != nil {
		w.mu.Lock()
		stale := w.cache.Data
		w.mu.Unlock()
		if stale != nil {
			w.logger.Warn("Failed to refresh bank transactions, keeping stale pool", "error", err)
			return stale, nil
		}
		return nil, transportErr("list bank transactions", err)
	}

	pool := openOnly(txs)

	w.mu.Lock()
	w.cache.Data = pool
	w.cache.FetchedAt = w.now()
	w.mu.Unlock()

	w.logger.Debug("Bank transaction pool loaded", "open", len(pool), "fetched", len(txs))

	return pool, nil
}

// ================================================================
// RECONCILIATION
// ================================================================

// ConfirmSingle persists a reconciliation and removes the payment from the
// pending set. On failure the pending set is unchanged.
func (w *Workflow) ConfirmSingle(ctx context.Context, req ConfirmRequest) (*payments.ReconciliationRecord, error) {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	return w.confirm(ctx, req)
}

// AutoReconcile confirms the payment against its suggested candidate. It
// returns a NoMatchError, without calling the store, when no candidate is
// eligible.
func (w *Workflow) AutoReconcile(ctx context.Context, paymentID string) (*payments.ReconciliationRecord, error) {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	w.setState(StateConfirming)

	payment, ok := w.Payment(paymentID)
	if !ok {
		return nil, w.fail(notPending(paymentID))
	}

	w.mu.Lock()
	match := w.suggestions[paymentID]
	w.mu.Unlock()

	if match == nil {
		var err error
		match, err = w.SuggestMatch(ctx, payment)
		if err != nil {
			return nil, w.fail(err)
		}
	}

	if match == nil || match.Confidence < w.config.Matching.MinConfidence {
		return nil, w.fail(&NoMatchError{PaymentID: paymentID})
	}

	return w.confirm(ctx, ConfirmRequest{
		PaymentID: paymentID,
		BankRef:   match.BankRef(),
		Notes:     w.config.AutoNote,
		StudentID: payment.StudentID,
	})
}

// confirm runs one reconciliation. Callers hold opMu.
func (w *Workflow) confirm(ctx context.Context, req ConfirmRequest) (*payments.ReconciliationRecord, error) {
	w.setState(StateConfirming)

	req = req.normalized()
	if err := w.validate.Struct(req); err != nil {
		return nil, w.fail(fromValidator(err))
	}

	if payment, ok := w.Payment(req.PaymentID); ok && !payment.Amount.IsPositive() {
		return nil, w.fail(&ValidationError{Field: "amount", Message: "must be greater than zero"})
	}

	w.setState(StatePersisting)

	record, err := w.store.Reconcile(ctx, req.PaymentID, req.BankRef, req.Notes, req.StudentID)
	if err != nil {
		w.logger.Error("Reconciliation failed",
			"payment_id", req.PaymentID,
			"bank_ref", req.BankRef,
			"error", err,
		)
		return nil, w.fail(transportErr("reconcile", err))
	}

	w.mu.Lock()
	w.pending = applyDelta(w.pending, removeDelta(req.PaymentID))
	w.selection = without(w.selection, req.PaymentID)
	delete(w.suggestions, req.PaymentID)
	w.state = StateSettled.next()
	w.lastErr = nil
	w.mu.Unlock()

	w.logger.Info("Reconciled payment",
		"payment_id", req.PaymentID,
		"bank_ref", req.BankRef,
	)

	return record, nil
}

// LinkStudent sets the student on a payment. The pending copy is updated
// so the next suggestion can use the student rule.
func (w *Workflow) LinkStudent(ctx context.Context, paymentID, studentID string) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	paymentID = strings.TrimSpace(paymentID)
	studentID = strings.TrimSpace(studentID)
	if paymentID == "" {
		return &ValidationError{Field: "mpesa_id", Message: "is required"}
	}
	if studentID == "" {
		return &ValidationError{Field: "student_id", Message: "is required"}
	}

	if err := w.store.LinkStudentToPayment(ctx, paymentID, studentID); err != nil {
		return transportErr("link student", err)
	}

	w.mu.Lock()
	if p, ok := findPending(w.pending, paymentID); ok {
		w.pending = applyDelta(w.pending, linkDelta(p, studentID))
	}
	delete(w.suggestions, paymentID)
	w.mu.Unlock()

	w.logger.Info("Linked student to payment", "payment_id", paymentID, "student_id", studentID)

	return nil
}

// FindStudents searches the directory for students whose parents (or past
// payments) use the phone number.
func (w *Workflow) FindStudents(ctx context.Context, phone string) ([]payments.StudentMatch, error) {
	if len(matcher.DigitsOnly(phone)) < w.config.Matching.PhoneMinDigits {
		return nil, &ValidationError{Field: "phone", Message: fmt.Sprintf("must contain at least %d digits", w.config.Matching.PhoneMinDigits)}
	}

	students, err := w.directory.FindStudentsByPhone(ctx, phone)
	if err != nil {
		return nil, transportErr("find students by phone", err)
	}
	return students, nil
}

// History returns the reconciliation audit trail for a payment.
func (w *Workflow) History(ctx context.Context, paymentID string) ([]payments.ReconciliationRecord, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, &ValidationError{Field: "mpesa_id", Message: "is required"}
	}

	history, err := w.store.GetReconcileHistory(ctx, paymentID)
	if err != nil {
		return nil, transportErr("reconcile history", err)
	}
	return history, nil
}

func (w *Workflow) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// fail records err, moves through Failed back to Selecting and returns err.
func (w *Workflow) fail(err error) error {
	w.mu.Lock()
	w.lastErr = err
	w.state = StateFailed.next()
	w.mu.Unlock()
	return err
}

func notPending(id string) error {
	return &ValidationError{Field: "mpesa_id", Message: ErrPaymentNotFound.Error() + ": " + id, Err: ErrPaymentNotFound}
}

// IsNotFound reports whether err names a payment missing from the pending set.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPaymentNotFound)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func without(ids []string, drop ...string) []string {
	if len(ids) == 0 {
		return ids
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !contains(drop, id) {
			out = append(out, id)
		}
	}
	return out
}
