package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/mpesa-reconciler/internal/api/dto"
	"github.com/eshaffer321/mpesa-reconciler/internal/application/reconcile"
)

// BankHandler handles the bank transaction cache and workflow status.
type BankHandler struct {
	*Base
	workflow *reconcile.Workflow
}

// NewBankHandler creates a new bank handler.
func NewBankHandler(workflow *reconcile.Workflow, logger *slog.Logger) *BankHandler {
	return &BankHandler{
		Base:     NewBase(logger),
		workflow: workflow,
	}
}

// Reload refetches the bank transaction pool regardless of cache age.
func (h *BankHandler) Reload(c *gin.Context) {
	count, err := h.workflow.ReloadBankTransactions(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	response := dto.ReloadResponse{Count: count}
	if fetched := h.workflow.BankCache().FetchedAt; !fetched.IsZero() {
		response.FetchedAt = fetched.UTC().Format(time.RFC3339)
	}
	h.WriteJSON(c, http.StatusOK, response)
}

// Status reports the workflow state and cache freshness.
func (h *BankHandler) Status(c *gin.Context) {
	h.WriteJSON(c, http.StatusOK, dto.StatusFromSnapshot(h.workflow.Snapshot()))
}
