package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/mpesa-reconciler/internal/api/dto"
	"github.com/eshaffer321/mpesa-reconciler/internal/application/reconcile"
	"github.com/eshaffer321/mpesa-reconciler/internal/domain/matcher"
	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

// PaymentsHandler handles unmatched payment and reconciliation requests.
type PaymentsHandler struct {
	*Base
	workflow *reconcile.Workflow
}

// NewPaymentsHandler creates a new payments handler.
func NewPaymentsHandler(workflow *reconcile.Workflow, logger *slog.Logger) *PaymentsHandler {
	return &PaymentsHandler{
		Base:     NewBase(logger),
		workflow: workflow,
	}
}

// List reloads the pending set and attaches the best suggestion to each
// payment. A failed bank fetch still returns the payments, with a warning.
// suggest=false skips matching entirely.
func (h *PaymentsHandler) List(c *gin.Context) {
	var params dto.PaymentListParams
	if err := c.ShouldBindQuery(&params); err != nil {
		h.HandleBindError(c, err)
		return
	}
	start, end, err := dto.ParseDateRange(params.StartDate, params.EndDate)
	if err != nil {
		h.WriteError(c, http.StatusBadRequest, dto.ValidationError("start_date", err.Error()))
		return
	}

	ctx := c.Request.Context()
	pending, err := h.workflow.LoadPending(ctx, payments.PaymentFilters{
		StartDate: start,
		EndDate:   end,
		Phone:     params.Phone,
		Search:    params.Search,
		Limit:     params.Limit,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	response := dto.PaymentListResponse{
		Payments:   make([]dto.PaymentResponse, 0, len(pending)),
		TotalCount: len(pending),
	}

	var suggestions map[string]*matcher.MatchCandidate
	if ParseBoolParam(c, "suggest", true) {
		suggestions, err = h.workflow.SuggestAll(ctx)
		if err != nil {
			h.logger.Warn("suggestions unavailable", "error", err)
			response.Warning = err.Error()
		}
	}
	for _, p := range pending {
		match := suggestions[p.ID]
		if match != nil {
			response.SuggestedCount++
		}
		response.Payments = append(response.Payments, dto.PaymentFromDomain(p, match))
	}

	h.WriteJSON(c, http.StatusOK, response)
}

// Suggestions returns the eligible candidates for a payment, best first.
// A positive limit caps the list.
func (h *PaymentsHandler) Suggestions(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	payment, ok := h.lookup(ctx, id)
	if !ok {
		h.WriteError(c, http.StatusNotFound, dto.NotFoundError("payment"))
		return
	}

	ranked, err := h.workflow.RankedSuggestions(ctx, payment)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if limit := ParseIntParam(c, "limit", 0); limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}

	response := dto.SuggestionListResponse{
		PaymentID:   id,
		Suggestions: make([]dto.SuggestionResponse, 0, len(ranked)),
	}
	for _, candidate := range ranked {
		response.Suggestions = append(response.Suggestions, dto.SuggestionFromCandidate(candidate))
	}
	h.WriteJSON(c, http.StatusOK, response)
}

// Reconcile confirms a manual match for one payment.
func (h *PaymentsHandler) Reconcile(c *gin.Context) {
	var req dto.ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleBindError(c, err)
		return
	}

	id := c.Param("id")
	ctx := c.Request.Context()
	if _, ok := h.lookup(ctx, id); !ok {
		h.WriteError(c, http.StatusNotFound, dto.NotFoundError("payment"))
		return
	}

	record, err := h.workflow.ConfirmSingle(ctx, reconcile.ConfirmRequest{
		PaymentID: id,
		BankRef:   req.BankStatementRef,
		Notes:     req.Notes,
		StudentID: req.StudentID,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusCreated, dto.RecordFromDomain(*record))
}

// AutoReconcile confirms the best suggestion for one payment.
func (h *PaymentsHandler) AutoReconcile(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	if _, ok := h.lookup(ctx, id); !ok {
		h.WriteError(c, http.StatusNotFound, dto.NotFoundError("payment"))
		return
	}

	record, err := h.workflow.AutoReconcile(ctx, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusCreated, dto.RecordFromDomain(*record))
}

// BulkReconcile reconciles several payments. Per-payment failures are
// reported in the body; only a malformed request fails the whole call.
func (h *PaymentsHandler) BulkReconcile(c *gin.Context) {
	var req dto.BulkReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleBindError(c, err)
		return
	}

	ctx := c.Request.Context()
	if h.missingFromPending(req.MpesaIDs) {
		if _, err := h.workflow.LoadPending(ctx, payments.PaymentFilters{}); err != nil {
			h.HandleError(c, err)
			return
		}
	}

	result, err := h.workflow.BulkReconcile(ctx, reconcile.BulkRequest{
		PaymentIDs:    req.MpesaIDs,
		CommonBankRef: req.BankStatementRef,
		Notes:         req.Notes,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, dto.BulkFromResult(result))
}

// History returns the audit trail for a payment.
func (h *PaymentsHandler) History(c *gin.Context) {
	id := c.Param("id")

	records, err := h.workflow.History(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	response := dto.HistoryResponse{
		PaymentID: id,
		History:   make([]dto.RecordResponse, 0, len(records)),
	}
	for _, r := range records {
		response.History = append(response.History, dto.RecordFromDomain(r))
	}
	h.WriteJSON(c, http.StatusOK, response)
}

// LinkStudent assigns a student to a payment.
func (h *PaymentsHandler) LinkStudent(c *gin.Context) {
	var req dto.LinkStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleBindError(c, err)
		return
	}

	id := c.Param("id")
	ctx := c.Request.Context()
	if _, ok := h.lookup(ctx, id); !ok {
		h.WriteError(c, http.StatusNotFound, dto.NotFoundError("payment"))
		return
	}

	if err := h.workflow.LinkStudent(ctx, id, req.StudentID); err != nil {
		h.HandleError(c, err)
		return
	}

	payment, _ := h.workflow.Payment(id)
	h.WriteJSON(c, http.StatusOK, dto.PaymentFromDomain(payment, nil))
}

// lookup finds a payment in the pending set, reloading the set once when
// the payment is not in it.
func (h *PaymentsHandler) lookup(ctx context.Context, id string) (payments.UnmatchedPayment, bool) {
	if p, ok := h.workflow.Payment(id); ok {
		return p, true
	}
	if _, err := h.workflow.LoadPending(ctx, payments.PaymentFilters{}); err != nil {
		h.logger.Warn("reload pending payments failed", "error", err)
		return payments.UnmatchedPayment{}, false
	}
	return h.workflow.Payment(id)
}

// missingFromPending reports whether any of ids is outside the pending set.
func (h *PaymentsHandler) missingFromPending(ids []string) bool {
	for _, id := range ids {
		if _, ok := h.workflow.Payment(id); !ok {
			return true
		}
	}
	return false
}
