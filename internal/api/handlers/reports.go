package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/mpesa-reconciler/internal/api/dto"
	"github.com/eshaffer321/mpesa-reconciler/internal/infrastructure/storage"
)

// Reporter builds reconciliation reports. Only the SQLite backend has one.
type Reporter interface {
	GetReport(ctx context.Context, start, end time.Time) (*storage.Report, error)
}

// ReportsHandler handles reconciliation report requests.
type ReportsHandler struct {
	*Base
	reporter Reporter
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(reporter Reporter, logger *slog.Logger) *ReportsHandler {
	return &ReportsHandler{
		Base:     NewBase(logger),
		reporter: reporter,
	}
}

// Get returns per-source counts and totals for a date range. Missing
// bounds default to the current month.
func (h *ReportsHandler) Get(c *gin.Context) {
	var params dto.ReportParams
	if err := c.ShouldBindQuery(&params); err != nil {
		h.HandleBindError(c, err)
		return
	}
	params = params.WithDefaults(time.Now())
	start, end, err := dto.ParseDateRange(params.Start, params.End)
	if err != nil {
		h.WriteError(c, http.StatusBadRequest, dto.ValidationError("start", err.Error()))
		return
	}

	report, err := h.reporter.GetReport(c.Request.Context(), start, end)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, dto.ReportFromDomain(report))
}
