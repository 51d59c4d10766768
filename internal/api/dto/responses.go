package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/mpesa-reconciler/internal/application/reconcile"
	"github.com/eshaffer321/mpesa-reconciler/internal/domain/matcher"
	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
	"github.com/eshaffer321/mpesa-reconciler/internal/infrastructure/storage"
)

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// SuggestionResponse is a candidate bank line for a payment.
type SuggestionResponse struct {
	TransactionRef  string          `json:"transaction_ref"`
	Amount          decimal.Decimal `json:"amount"`
	Narration       string          `json:"narration"`
	TransactionDate string          `json:"transaction_date,omitempty"`
	MatchType       string          `json:"match_type"`
	MatchLabel      string          `json:"match_label"`
	Confidence      float64         `json:"confidence"`
	HighConfidence  bool            `json:"high_confidence"`
	AmountMatches   bool            `json:"amount_matches"`
	DateDiffDays    float64         `json:"date_diff_days"`
}

// PaymentResponse represents an unmatched payment in API responses.
type PaymentResponse struct {
	ID              string              `json:"id"`
	Amount          decimal.Decimal     `json:"amount"`
	TransactionCode string              `json:"transaction_code"`
	PhoneNumber     string              `json:"phone_number"`
	StudentID       string              `json:"student_id,omitempty"`
	TransactionDate string              `json:"transaction_date,omitempty"`
	Status          string              `json:"status"`
	Source          string              `json:"source,omitempty"`
	Suggestion      *SuggestionResponse `json:"suggestion,omitempty"`
}

// PaymentListResponse is returned when listing unmatched payments.
type PaymentListResponse struct {
	Payments       []PaymentResponse `json:"payments"`
	TotalCount     int               `json:"total_count"`
	SuggestedCount int               `json:"suggested_count"`
	Warning        string            `json:"warning,omitempty"`
}

// SuggestionListResponse lists ranked candidates for one payment.
type SuggestionListResponse struct {
	PaymentID   string               `json:"payment_id"`
	Suggestions []SuggestionResponse `json:"suggestions"`
}

// RecordResponse represents a reconciliation audit entry.
type RecordResponse struct {
	ID               string `json:"id"`
	MpesaID          string `json:"mpesa_id"`
	BankStatementRef string `json:"bank_statement_ref"`
	Notes            string `json:"notes"`
	StudentID        string `json:"student_id,omitempty"`
	ReconciledBy     string `json:"reconciled_by"`
	ReconciledAt     string `json:"reconciled_at"`
	BatchID          string `json:"batch_id,omitempty"`
}

// HistoryResponse is the audit trail for a payment.
type HistoryResponse struct {
	PaymentID string           `json:"payment_id"`
	History   []RecordResponse `json:"history"`
}

// BulkItemResponse is the outcome for one payment in a bulk call.
type BulkItemResponse struct {
	MpesaID          string `json:"mpesa_id"`
	BankStatementRef string `json:"bank_statement_ref,omitempty"`
	Auto             bool   `json:"auto"`
	Success          bool   `json:"success"`
	RecordID         string `json:"record_id,omitempty"`
	Error            string `json:"error,omitempty"`
}

// BulkResponse summarises a bulk reconciliation.
type BulkResponse struct {
	BatchID      string             `json:"batch_id"`
	SuccessCount int                `json:"success_count"`
	FailureCount int                `json:"failure_count"`
	Results      []BulkItemResponse `json:"results"`
	Deposit      *DepositResponse   `json:"deposit,omitempty"`
}

// DepositResponse compares a shared-reference batch with its bank line.
type DepositResponse struct {
	Valid       bool            `json:"valid"`
	PaymentsSum decimal.Decimal `json:"payments_sum"`
	ExpectedSum decimal.Decimal `json:"expected_sum"`
	Difference  decimal.Decimal `json:"difference"`
	Warning     string          `json:"warning,omitempty"`
}

// StudentResponse is a phone lookup hit.
type StudentResponse struct {
	StudentID    string          `json:"student_id"`
	AdmissionNo  string          `json:"admission_no"`
	FullName     string          `json:"full_name"`
	ClassName    string          `json:"class_name,omitempty"`
	MatchSource  string          `json:"match_source"`
	PaymentCount int             `json:"payment_count"`
	TotalPaid    decimal.Decimal `json:"total_paid"`
}

// StudentListResponse is returned by the phone lookup.
type StudentListResponse struct {
	Phone    string            `json:"phone"`
	Students []StudentResponse `json:"students"`
}

// ReloadResponse reports a bank transaction reload.
type ReloadResponse struct {
	Count     int    `json:"count"`
	FetchedAt string `json:"fetched_at,omitempty"`
}

// StatusResponse exposes the workflow snapshot.
type StatusResponse struct {
	State          string `json:"state"`
	PendingCount   int    `json:"pending_count"`
	SelectionCount int    `json:"selection_count"`
	CachedBankTxs  int    `json:"cached_bank_transactions"`
	CacheAgeSecs   int64  `json:"cache_age_seconds"`
	CacheStale     bool   `json:"cache_stale"`
	LastError      string `json:"last_error,omitempty"`
}

// ReportResponse is the per-source reconciliation report.
type ReportResponse struct {
	Start   string                  `json:"start,omitempty"`
	End     string                  `json:"end,omitempty"`
	Sources []storage.SourceSummary `json:"sources"`
	Totals  storage.SourceSummary   `json:"totals"`
}

// NewHealthResponse creates a health response with current timestamp.
func NewHealthResponse() HealthResponse {
	return HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// SuggestionFromCandidate converts a match candidate.
func SuggestionFromCandidate(c matcher.MatchCandidate) SuggestionResponse {
	return SuggestionResponse{
		TransactionRef:  c.BankTransaction.TransactionRef,
		Amount:          c.BankTransaction.Amount,
		Narration:       c.BankTransaction.Narration,
		TransactionDate: formatTime(c.BankTransaction.TransactionDate),
		MatchType:       c.MatchType.String(),
		MatchLabel:      c.MatchType.Label(),
		Confidence:      c.Confidence,
		HighConfidence:  c.HighConfidence(),
		AmountMatches:   c.AmountMatches,
		DateDiffDays:    c.DateDiffDays,
	}
}

// PaymentFromDomain converts a payment and its optional suggestion.
func PaymentFromDomain(p payments.UnmatchedPayment, suggestion *matcher.MatchCandidate) PaymentResponse {
	resp := PaymentResponse{
		ID:              p.ID,
		Amount:          p.Amount,
		TransactionCode: p.TransactionCode,
		PhoneNumber:     p.PhoneNumber,
		StudentID:       payments.Deref(p.StudentID),
		TransactionDate: formatTime(p.TransactionDate),
		Status:          string(p.Status),
		Source:          p.Source,
	}
	if suggestion != nil {
		s := SuggestionFromCandidate(*suggestion)
		resp.Suggestion = &s
	}
	return resp
}

// RecordFromDomain converts a reconciliation record.
func RecordFromDomain(r payments.ReconciliationRecord) RecordResponse {
	return RecordResponse{
		ID:               r.ID,
		MpesaID:          r.MpesaID,
		BankStatementRef: r.BankRef,
		Notes:            r.Notes,
		StudentID:        payments.Deref(r.StudentID),
		ReconciledBy:     r.ReconciledBy,
		ReconciledAt:     formatTime(r.ReconciledAt),
		BatchID:          r.BatchID,
	}
}

// BulkFromResult converts a bulk result.
func BulkFromResult(r reconcile.BulkResult) BulkResponse {
	resp := BulkResponse{
		BatchID:      r.BatchID,
		SuccessCount: r.SuccessCount,
		FailureCount: r.FailureCount,
		Results:      make([]BulkItemResponse, 0, len(r.Outcomes)),
	}
	for _, o := range r.Outcomes {
		item := BulkItemResponse{
			MpesaID:          o.PaymentID,
			BankStatementRef: o.BankRef,
			Auto:             o.Auto,
			Success:          o.OK(),
		}
		if o.Record != nil {
			item.RecordID = o.Record.ID
		}
		if o.Err != nil {
			item.Error = o.Err.Error()
		}
		resp.Results = append(resp.Results, item)
	}
	if d := r.Deposit; d != nil {
		resp.Deposit = &DepositResponse{
			Valid:       d.Valid,
			PaymentsSum: d.PaymentsSum,
			ExpectedSum: d.ExpectedSum,
			Difference:  d.Difference,
			Warning:     d.Reason,
		}
	}
	return resp
}

// StudentFromDomain converts a directory hit.
func StudentFromDomain(s payments.StudentMatch) StudentResponse {
	return StudentResponse{
		StudentID:    s.StudentID,
		AdmissionNo:  s.AdmissionNo,
		FullName:     s.FullName(),
		ClassName:    s.ClassName,
		MatchSource:  string(s.MatchSource),
		PaymentCount: s.PaymentCount,
		TotalPaid:    s.TotalPaid,
	}
}

// StatusFromSnapshot converts the workflow snapshot.
func StatusFromSnapshot(s reconcile.Snapshot) StatusResponse {
	return StatusResponse{
		State:          string(s.State),
		PendingCount:   s.PendingCount,
		SelectionCount: s.SelectionCount,
		CachedBankTxs:  s.CachedBankTxs,
		CacheAgeSecs:   int64(s.CacheAge.Seconds()),
		CacheStale:     s.CacheStale,
		LastError:      s.LastError,
	}
}

// ReportFromDomain converts a storage report.
func ReportFromDomain(r *storage.Report) ReportResponse {
	resp := ReportResponse{
		Sources: r.Sources,
		Totals:  r.Totals,
	}
	if !r.Start.IsZero() {
		resp.Start = r.Start.Format(DateLayout)
	}
	if !r.End.IsZero() {
		resp.End = r.End.Format(DateLayout)
	}
	if resp.Sources == nil {
		resp.Sources = []storage.SourceSummary{}
	}
	return resp
}
