package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/mpesa-reconciler/internal/api"
	"github.com/eshaffer321/mpesa-reconciler/internal/api/dto"
	"github.com/eshaffer321/mpesa-reconciler/internal/api/middleware"
	"github.com/eshaffer321/mpesa-reconciler/internal/application/reconcile"
	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
	"github.com/eshaffer321/mpesa-reconciler/internal/infrastructure/storage"
)

var day = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*api.Server, *storage.MockRepository) {
	t.Helper()
	repo := storage.NewMockRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wf := reconcile.NewWorkflow(repo, reconcile.DefaultConfig(), logger)
	server := api.NewServer(api.DefaultConfig(), wf, repo, logger)
	return server, repo
}

func seed(repo *storage.MockRepository) {
	repo.AddPayments(
		payments.UnmatchedPayment{
			ID: "mp-1", Amount: decimal.NewFromInt(1500), TransactionCode: "QAB1234567",
			PhoneNumber: "0712345678", TransactionDate: day, Status: payments.PaymentUnmatched, Source: "mpesa",
		},
		payments.UnmatchedPayment{
			ID: "mp-2", Amount: decimal.NewFromInt(900), TransactionCode: "QZZ9999999",
			PhoneNumber: "0799000111", TransactionDate: day, Status: payments.PaymentUnmatched, Source: "mpesa",
		},
	)
	repo.AddBankTransactions(
		payments.BankTransaction{
			TransactionRef: "FT001", Amount: decimal.NewFromInt(1500),
			Narration: "MPESA C2B QAB1234567", TransactionDate: day, Status: payments.BankPending,
		},
		payments.BankTransaction{
			TransactionRef: "FT002", Amount: decimal.NewFromInt(400),
			Narration: "CASH DEPOSIT", TransactionDate: day, Status: payments.BankPending,
		},
	)
}

func do(t *testing.T, server *api.Server, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestServer_HealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := do(t, server, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
	response := decode[dto.HealthResponse](t, rec)
	assert.Equal(t, "ok", response.Status)
}

func TestServer_ListUnmatched(t *testing.T) {
	t.Run("attaches suggestions", func(t *testing.T) {
		server, repo := newTestServer(t)
		seed(repo)

		rec := do(t, server, http.MethodGet, "/api/payments/unmatched", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		response := decode[dto.PaymentListResponse](t, rec)
		assert.Equal(t, 2, response.TotalCount)
		assert.Equal(t, 1, response.SuggestedCount)
		require.NotNil(t, response.Payments[0].Suggestion)
		assert.Equal(t, "FT001", response.Payments[0].Suggestion.TransactionRef)
		assert.Equal(t, "mpesa_code", response.Payments[0].Suggestion.MatchType)
		assert.Nil(t, response.Payments[1].Suggestion)
		assert.Empty(t, response.Warning)
	})

	t.Run("suggest=false skips matching", func(t *testing.T) {
		server, repo := newTestServer(t)
		seed(repo)

		rec := do(t, server, http.MethodGet, "/api/payments/unmatched?suggest=false", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		response := decode[dto.PaymentListResponse](t, rec)
		assert.Equal(t, 2, response.TotalCount)
		assert.Equal(t, 0, response.SuggestedCount)
		assert.Nil(t, response.Payments[0].Suggestion)
		assert.Zero(t, repo.ListBankCalls, "bank feed is not fetched")
	})

	t.Run("bank failure degrades to a warning", func(t *testing.T) {
		server, repo := newTestServer(t)
		seed(repo)
		repo.ListBankErr = errors.New("bank feed offline")

		rec := do(t, server, http.MethodGet, "/api/payments/unmatched", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		response := decode[dto.PaymentListResponse](t, rec)
		assert.Equal(t, 2, response.TotalCount)
		assert.Equal(t, "bank feed offline", response.Warning)
	})

	t.Run("payment listing failure is a bad gateway", func(t *testing.T) {
		server, repo := newTestServer(t)
		repo.ListPaymentsErr = errors.New("db locked")

		rec := do(t, server, http.MethodGet, "/api/payments/unmatched", nil)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		response := decode[dto.APIError](t, rec)
		assert.Equal(t, dto.ErrCodeUpstream, response.Code)
		assert.Equal(t, "db locked", response.Message)
	})

	t.Run("rejects bad dates and limits", func(t *testing.T) {
		server, _ := newTestServer(t)

		rec := do(t, server, http.MethodGet, "/api/payments/unmatched?start_date=03/01/2024", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = do(t, server, http.MethodGet, "/api/payments/unmatched?start_date=2024-03-10&end_date=2024-03-01", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = do(t, server, http.MethodGet, "/api/payments/unmatched?limit=9999", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		response := decode[dto.APIError](t, rec)
		assert.Equal(t, "limit", response.Field)
	})
}

func TestServer_Suggestions(t *testing.T) {
	server, repo := newTestServer(t)
	seed(repo)

	rec := do(t, server, http.MethodGet, "/api/payments/mp-1/suggestions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	response := decode[dto.SuggestionListResponse](t, rec)
	assert.Equal(t, "mp-1", response.PaymentID)
	require.Len(t, response.Suggestions, 1)
	assert.Equal(t, "FT001", response.Suggestions[0].TransactionRef)
	assert.True(t, response.Suggestions[0].HighConfidence)

	rec = do(t, server, http.MethodGet, "/api/payments/nope/suggestions", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SuggestionsLimit(t *testing.T) {
	server, repo := newTestServer(t)
	repo.AddPayments(payments.UnmatchedPayment{
		ID: "mp-9", Amount: decimal.NewFromInt(2500), TransactionCode: "QLM0000001",
		PhoneNumber: "0711222333", TransactionDate: day, Status: payments.PaymentUnmatched, Source: "mpesa",
	})
	repo.AddBankTransactions(
		payments.BankTransaction{TransactionRef: "FT101", Amount: decimal.NewFromInt(2500), Narration: "MPESA 254711222333", TransactionDate: day, Status: payments.BankPending},
		payments.BankTransaction{TransactionRef: "FT102", Amount: decimal.NewFromInt(2500), Narration: "FEES FROM 0711222333", TransactionDate: day.AddDate(0, 0, 1), Status: payments.BankPending},
	)

	rec := do(t, server, http.MethodGet, "/api/payments/mp-9/suggestions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[dto.SuggestionListResponse](t, rec)
	require.Len(t, all.Suggestions, 2)
	assert.False(t, all.Suggestions[0].HighConfidence)

	rec = do(t, server, http.MethodGet, "/api/payments/mp-9/suggestions?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	limited := decode[dto.SuggestionListResponse](t, rec)
	require.Len(t, limited.Suggestions, 1)
	assert.Equal(t, all.Suggestions[0].TransactionRef, limited.Suggestions[0].TransactionRef)

	rec = do(t, server, http.MethodGet, "/api/payments/mp-9/suggestions?limit=abc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[dto.SuggestionListResponse](t, rec).Suggestions, 2, "unparseable limit falls back to all")
}

func TestServer_Reconcile(t *testing.T) {
	t.Run("creates a record with the acting user", func(t *testing.T) {
		server, repo := newTestServer(t)
		seed(repo)

		rec := do(t, server, http.MethodPost, "/api/payments/mp-1/reconcile",
			dto.ReconcileRequest{BankStatementRef: "FT001", Notes: "checked statement"},
			middleware.ActorHeader, "bursar")

		require.Equal(t, http.StatusCreated, rec.Code)
		response := decode[dto.RecordResponse](t, rec)
		assert.Equal(t, "mp-1", response.MpesaID)
		assert.Equal(t, "FT001", response.BankStatementRef)
		assert.Equal(t, "bursar", response.ReconciledBy)

		require.Len(t, repo.ReconcileCalls, 1)
		assert.Equal(t, "bursar", repo.ReconcileCalls[0].Actor)
	})

	t.Run("missing bank ref is a validation error", func(t *testing.T) {
		server, repo := newTestServer(t)
		seed(repo)

		rec := do(t, server, http.MethodPost, "/api/payments/mp-1/reconcile", dto.ReconcileRequest{Notes: "x"})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		response := decode[dto.APIError](t, rec)
		assert.Equal(t, dto.ErrCodeValidation, response.Code)
		assert.Equal(t, "bank_statement_ref", response.Field)
		assert.Empty(t, repo.ReconcileCalls, "nothing is persisted")
	})

	t.Run("unknown payment is not found", func(t *testing.T) {
		server, repo := newTestServer(t)
		seed(repo)

		rec := do(t, server, http.MethodPost, "/api/payments/mp-404/reconcile", dto.ReconcileRequest{BankStatementRef: "FT001"})

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed json", func(t *testing.T) {
		server, _ := newTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/api/payments/mp-1/reconcile", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("payment that left the pending set is not found", func(t *testing.T) {
		server, repo := newTestServer(t)
		seed(repo)

		rec := do(t, server, http.MethodPost, "/api/payments/mp-1/reconcile", dto.ReconcileRequest{BankStatementRef: "FT001"})
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = do(t, server, http.MethodPost, "/api/payments/mp-1/reconcile", dto.ReconcileRequest{BankStatementRef: "FT001"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		response := decode[dto.APIError](t, rec)
		assert.Equal(t, dto.ErrCodeNotFound, response.Code)

		rec = do(t, server, http.MethodPost, "/api/payments/mp-1/auto-reconcile", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = do(t, server, http.MethodPost, "/api/payments/mp-1/link-student", dto.LinkStudentRequest{StudentID: "st-1"})
		assert.Equal(t, http.StatusNotFound, rec.Code)

		assert.Len(t, repo.ReconcileCalls, 1)
	})

	t.Run("already reconciled is a conflict", func(t *testing.T) {
		server, repo := newTestServer(t)
		seed(repo)
		repo.ReconcileErr = storage.ErrAlreadyReconciled

		rec := do(t, server, http.MethodPost, "/api/payments/mp-1/reconcile", dto.ReconcileRequest{BankStatementRef: "FT001"})

		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestServer_AutoReconcile(t *testing.T) {
	server, repo := newTestServer(t)
	seed(repo)

	rec := do(t, server, http.MethodPost, "/api/payments/mp-1/auto-reconcile", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	response := decode[dto.RecordResponse](t, rec)
	assert.Equal(t, "FT001", response.BankStatementRef)
	assert.Equal(t, reconcile.DefaultAutoNote, response.Notes)

	rec = do(t, server, http.MethodPost, "/api/payments/mp-2/auto-reconcile", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	errResp := decode[dto.APIError](t, rec)
	assert.Equal(t, dto.ErrCodeNoMatch, errResp.Code)
}

func TestServer_BulkReconcile(t *testing.T) {
	t.Run("auto matches and reports per payment", func(t *testing.T) {
		server, repo := newTestServer(t)
		seed(repo)

		rec := do(t, server, http.MethodPost, "/api/payments/bulk-reconcile",
			dto.BulkReconcileRequest{MpesaIDs: []string{"mp-1", "mp-2"}})

		require.Equal(t, http.StatusOK, rec.Code)
		response := decode[dto.BulkResponse](t, rec)
		assert.NotEmpty(t, response.BatchID)
		assert.Equal(t, 1, response.SuccessCount)
		assert.Equal(t, 1, response.FailureCount)
		require.Len(t, response.Results, 2)
		assert.True(t, response.Results[0].Success)
		assert.True(t, response.Results[0].Auto)
		assert.False(t, response.Results[1].Success)
		assert.NotEmpty(t, response.Results[1].Error)

		require.Len(t, repo.ReconcileCalls, 1)
		assert.Equal(t, response.BatchID, repo.ReconcileCalls[0].BatchID)
	})

	t.Run("common ref applies to every payment", func(t *testing.T) {
		server, repo := newTestServer(t)
		seed(repo)

		rec := do(t, server, http.MethodPost, "/api/payments/bulk-reconcile",
			dto.BulkReconcileRequest{MpesaIDs: []string{"mp-1", "mp-2"}, BankStatementRef: "BATCH-MARCH"})

		require.Equal(t, http.StatusOK, rec.Code)
		response := decode[dto.BulkResponse](t, rec)
		assert.Equal(t, 2, response.SuccessCount)
		for _, call := range repo.ReconcileCalls {
			assert.Equal(t, "BATCH-MARCH", call.BankRef)
			assert.Equal(t, reconcile.DefaultBulkNote, call.Notes)
		}
	})

	t.Run("payment added after the last listing is picked up", func(t *testing.T) {
		server, repo := newTestServer(t)
		seed(repo)

		rec := do(t, server, http.MethodGet, "/api/payments/unmatched", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		repo.AddPayments(payments.UnmatchedPayment{
			ID: "mp-3", Amount: decimal.NewFromInt(700), TransactionCode: "QNEW000001",
			PhoneNumber: "0722000333", TransactionDate: day, Status: payments.PaymentUnmatched, Source: "mpesa",
		})

		rec = do(t, server, http.MethodPost, "/api/payments/bulk-reconcile",
			dto.BulkReconcileRequest{MpesaIDs: []string{"mp-3"}, BankStatementRef: "FT009"})

		require.Equal(t, http.StatusOK, rec.Code)
		response := decode[dto.BulkResponse](t, rec)
		assert.Equal(t, 1, response.SuccessCount)
		assert.Equal(t, 0, response.FailureCount)
		require.Len(t, repo.ReconcileCalls, 1)
		assert.Equal(t, "mp-3", repo.ReconcileCalls[0].PaymentID)
	})

	t.Run("empty request is a validation error", func(t *testing.T) {
		server, repo := newTestServer(t)
		seed(repo)

		rec := do(t, server, http.MethodPost, "/api/payments/bulk-reconcile", dto.BulkReconcileRequest{})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		response := decode[dto.APIError](t, rec)
		assert.Equal(t, "mpesa_ids", response.Field)
	})
}

func TestServer_HistoryAndLinkStudent(t *testing.T) {
	server, repo := newTestServer(t)
	seed(repo)
	require.NoError(t, repo.SaveStudent(context.Background(), &storage.Student{ID: "st-1", FirstName: "Amina"}))

	rec := do(t, server, http.MethodPost, "/api/payments/mp-2/link-student", dto.LinkStudentRequest{StudentID: "st-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	linked := decode[dto.PaymentResponse](t, rec)
	assert.Equal(t, "st-1", linked.StudentID)
	assert.Equal(t, "st-1", repo.LastLinkedStudent)

	rec = do(t, server, http.MethodPost, "/api/payments/mp-2/link-student", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, server, http.MethodPost, "/api/payments/mp-1/reconcile", dto.ReconcileRequest{BankStatementRef: "FT001"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, server, http.MethodGet, "/api/payments/mp-1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[dto.HistoryResponse](t, rec)
	require.Len(t, history.History, 1)
	assert.Equal(t, "FT001", history.History[0].BankStatementRef)
	assert.Equal(t, storage.DefaultReconciledBy, history.History[0].ReconciledBy)
}

func TestServer_LookupByPhone(t *testing.T) {
	server, repo := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, repo.SaveStudent(ctx, &storage.Student{ID: "st-1", AdmissionNo: "ADM-1", FirstName: "Amina", LastName: "Otieno"}))
	require.NoError(t, repo.SaveParent(ctx, &storage.Parent{StudentID: "st-1", Name: "Mama Amina", Phone: "0712345678"}))

	rec := do(t, server, http.MethodGet, "/api/students/lookup-by-phone?phone=%2B254712345678", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	response := decode[dto.StudentListResponse](t, rec)
	require.Len(t, response.Students, 1)
	assert.Equal(t, "Amina Otieno", response.Students[0].FullName)
	assert.Equal(t, "parent_record", response.Students[0].MatchSource)

	rec = do(t, server, http.MethodGet, "/api/students/lookup-by-phone?phone=123", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ReloadAndStatus(t *testing.T) {
	server, repo := newTestServer(t)
	seed(repo)

	rec := do(t, server, http.MethodPost, "/api/bank-transactions/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reload := decode[dto.ReloadResponse](t, rec)
	assert.Equal(t, 2, reload.Count)
	assert.NotEmpty(t, reload.FetchedAt)

	rec = do(t, server, http.MethodGet, "/api/reconciliation/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[dto.StatusResponse](t, rec)
	assert.Equal(t, string(reconcile.StateIdle), status.State)
	assert.Equal(t, 2, status.CachedBankTxs)
	assert.False(t, status.CacheStale)
}

func TestServer_Report(t *testing.T) {
	t.Run("available with a reporter", func(t *testing.T) {
		server, repo := newTestServer(t)
		seed(repo)

		rec := do(t, server, http.MethodGet, "/api/reconciliation/report?start=2024-03-01&end=2024-03-31", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		response := decode[dto.ReportResponse](t, rec)
		assert.Equal(t, 2, response.Totals.Count)
	})

	t.Run("defaults to the current month", func(t *testing.T) {
		server, repo := newTestServer(t)
		seed(repo)
		now := time.Now()
		repo.AddPayments(payments.UnmatchedPayment{
			ID: "mp-now", Amount: decimal.NewFromInt(300), TransactionCode: "QCUR000001",
			PhoneNumber: "0733000111", TransactionDate: time.Date(now.Year(), now.Month(), 15, 12, 0, 0, 0, time.UTC),
			Status: payments.PaymentUnmatched, Source: "mpesa",
		})

		rec := do(t, server, http.MethodGet, "/api/reconciliation/report", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		response := decode[dto.ReportResponse](t, rec)
		assert.Equal(t, 1, response.Totals.Count)
		assert.Equal(t, time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).Format(dto.DateLayout), response.Start)
	})

	t.Run("not registered without a reporter", func(t *testing.T) {
		repo := storage.NewMockRepository()
		wf := reconcile.NewWorkflow(repo, reconcile.DefaultConfig(), nil)
		server := api.NewServer(api.DefaultConfig(), wf, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

		rec := do(t, server, http.MethodGet, "/api/reconciliation/report", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_CORS(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/payments/unmatched", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
