// Package schoolapi talks to the school management system's payments API.
// It satisfies the same collaborator interfaces as the SQLite storage, so the
// reconciliation workflow can run against either.
package schoolapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eshaffer321/mpesa-reconciler/internal/application/reconcile"
	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
	"github.com/eshaffer321/mpesa-reconciler/internal/infrastructure/config"
	"github.com/eshaffer321/mpesa-reconciler/internal/infrastructure/storage"
)

const (
	contentType = "application/json"

	pathUnmatched   = "/api/payments/unmatched-mpesa"
	pathBankTxs     = "/api/accounts/bank-transactions"
	pathReconcile   = "/api/payments/reconcile-mpesa"
	pathHistory     = "/api/payments/mpesa-reconcile-history"
	pathLinkStudent = "/api/payments/link-student"
	pathLookup      = "/api/payments/lookup-by-phone"

	// ActorHeader carries the acting user to the school API.
	ActorHeader = "X-Reconciled-By"
)

var _ reconcile.Backend = (*Client)(nil)

// APIError is a non-success response from the school API. Its message is
// the server's message, unchanged.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("school api returned status %d", e.StatusCode)
}

// Is maps HTTP statuses onto the storage sentinels so callers can handle
// both backends the same way.
func (e *APIError) Is(target error) bool {
	switch target {
	case storage.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case storage.ErrAlreadyReconciled:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

// Client is an HTTP client for the school payments API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient creates a client from the school API config.
func NewClient(cfg config.SchoolAPIConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.APIToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
		now:    time.Now,
	}
}

// ListUnmatchedPayments fetches payments awaiting reconciliation.
func (c *Client) ListUnmatchedPayments(ctx context.Context, filters payments.PaymentFilters) ([]payments.UnmatchedPayment, error) {
	q := url.Values{}
	if !filters.StartDate.IsZero() {
		q.Set("start_date", filters.StartDate.Format("2006-01-02"))
	}
	if !filters.EndDate.IsZero() {
		q.Set("end_date", filters.EndDate.Format("2006-01-02"))
	}
	if filters.Phone != "" {
		q.Set("phone", filters.Phone)
	}
	if filters.Search != "" {
		q.Set("search", filters.Search)
	}
	q.Set("limit", fmt.Sprint(payments.EffectiveLimit(filters.Limit)))

	data, err := c.do(ctx, http.MethodGet, pathUnmatched, q, nil)
	if err != nil {
		return nil, err
	}

	var rows []wirePayment
	if err := decodeList(data, "transactions", &rows); err != nil {
		return nil, fmt.Errorf("decode unmatched payments: %w", err)
	}

	out := make([]payments.UnmatchedPayment, 0, len(rows))
	for _, r := range rows {
		p := r.toDomain()
		if p.ID == "" {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ListBankTransactions fetches bank statement lines. The API caps the list
// itself; OpenOnly is applied client side.
func (c *Client) ListBankTransactions(ctx context.Context, filters payments.BankFilters) ([]payments.BankTransaction, error) {
	q := url.Values{}
	if filters.Account != "" {
		q.Set("bank_id", filters.Account)
	}

	data, err := c.do(ctx, http.MethodGet, pathBankTxs, q, nil)
	if err != nil {
		return nil, err
	}

	var rows []wireBankTx
	if err := decodeList(data, "transactions", &rows); err != nil {
		return nil, fmt.Errorf("decode bank transactions: %w", err)
	}

	limit := payments.EffectiveLimit(filters.Limit)
	out := make([]payments.BankTransaction, 0, len(rows))
	for _, r := range rows {
		tx := r.toDomain()
		if tx.TransactionRef == "" || (filters.OpenOnly && !tx.IsOpen()) {
			continue
		}
		out = append(out, tx)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type reconcileBody struct {
	MpesaID          string  `json:"mpesa_id"`
	BankStatementRef string  `json:"bank_statement_ref"`
	Notes            string  `json:"notes"`
	StudentID        *string `json:"student_id,omitempty"`
	BatchID          string  `json:"batch_id,omitempty"`
}

// Reconcile posts a confirmed match. The returned record is filled from the
// response where the server provides fields and from the request otherwise.
func (c *Client) Reconcile(ctx context.Context, paymentID, bankRef, notes string, studentID *string) (*payments.ReconciliationRecord, error) {
	body := reconcileBody{
		MpesaID:          paymentID,
		BankStatementRef: bankRef,
		Notes:            notes,
		StudentID:        studentID,
		BatchID:          payments.BatchFromContext(ctx),
	}

	data, err := c.do(ctx, http.MethodPost, pathReconcile, nil, body)
	if err != nil {
		return nil, err
	}

	rec := payments.ReconciliationRecord{
		MpesaID:      paymentID,
		BankRef:      bankRef,
		Notes:        notes,
		StudentID:    studentID,
		ReconciledBy: payments.ActorFromContext(ctx, ""),
		ReconciledAt: c.now().UTC(),
		BatchID:      body.BatchID,
	}

	var w wireRecord
	if len(bytes.TrimSpace(data)) > 0 && json.Unmarshal(data, &w) == nil {
		got := w.toDomain()
		if got.ID != "" {
			rec.ID = got.ID
		}
		if got.ReconciledBy != "" {
			rec.ReconciledBy = got.ReconciledBy
		}
		if !got.ReconciledAt.IsZero() {
			rec.ReconciledAt = got.ReconciledAt
		}
	}

	c.logger.Info("Reconciled payment via school api",
		"payment_id", paymentID,
		"bank_ref", bankRef,
		"record_id", rec.ID)
	return &rec, nil
}

// GetReconcileHistory returns the audit trail for a payment, newest first.
func (c *Client) GetReconcileHistory(ctx context.Context, paymentID string) ([]payments.ReconciliationRecord, error) {
	q := url.Values{"mpesa_id": {paymentID}}
	data, err := c.do(ctx, http.MethodGet, pathHistory, q, nil)
	if err != nil {
		return nil, err
	}

	var rows []wireRecord
	if err := decodeList(data, "history", &rows); err != nil {
		return nil, fmt.Errorf("decode reconcile history: %w", err)
	}

	out := make([]payments.ReconciliationRecord, 0, len(rows))
	for _, r := range rows {
		rec := r.toDomain()
		if rec.MpesaID == "" {
			rec.MpesaID = paymentID
		}
		out = append(out, rec)
	}
	return out, nil
}

// LinkStudentToPayment assigns a student to a payment.
func (c *Client) LinkStudentToPayment(ctx context.Context, paymentID, studentID string) error {
	body := map[string]string{
		"mpesa_id":   paymentID,
		"student_id": studentID,
	}
	_, err := c.do(ctx, http.MethodPost, pathLinkStudent, nil, body)
	return err
}

// FindStudentsByPhone searches the school's student and parent records.
func (c *Client) FindStudentsByPhone(ctx context.Context, phone string) ([]payments.StudentMatch, error) {
	q := url.Values{"phone": {phone}}
	data, err := c.do(ctx, http.MethodGet, pathLookup, q, nil)
	if err != nil {
		return nil, err
	}

	var rows []wireStudent
	if err := decodeList(data, "students", &rows); err != nil {
		return nil, fmt.Errorf("decode student lookup: %w", err)
	}

	out := make([]payments.StudentMatch, 0, len(rows))
	for _, r := range rows {
		s := r.toDomain()
		if s.MatchSource == "" {
			s.MatchSource = payments.SourceParentRecord
		}
		out = append(out, s)
	}
	return out, nil
}

// do sends a request and returns the envelope's data on success. Any non-2xx
// status or an envelope with status "error" becomes an *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", contentType)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if actor := payments.ActorFromContext(ctx, ""); actor != "" {
		req.Header.Set(ActorHeader, actor)
	}

	c.logger.Debug("School api request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("School api request failed", "method", method, "path", path, "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: env.Message}
		c.logger.Warn("School api returned error",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"message", env.Message)
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	}
	if strings.EqualFold(env.Status, "error") {
		code := env.Code
		if code == 0 {
			code = resp.StatusCode
		}
		return nil, &APIError{StatusCode: code, Message: env.Message}
	}

	return env.payload(), nil
}

// IsAPIError reports whether err came from the school API rather than the
// network.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
