package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/eshaffer321/mpesa-reconciler/internal/api/dto"
	"github.com/eshaffer321/mpesa-reconciler/internal/application/reconcile"
	"github.com/eshaffer321/mpesa-reconciler/internal/infrastructure/storage"
)

// Base provides shared functionality for all handlers.
type Base struct {
	logger *slog.Logger
}

// NewBase creates a new base handler.
func NewBase(logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{logger: logger}
}

// WriteJSON writes a JSON response with the given status code.
func (b *Base) WriteJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// WriteError writes an error response with the given status code.
func (b *Base) WriteError(c *gin.Context, status int, err dto.APIError) {
	c.AbortWithStatusJSON(status, err)
}

// HandleError maps a workflow or storage error onto a status code.
func (b *Base) HandleError(c *gin.Context, err error) {
	var validationErr *reconcile.ValidationError
	var noMatch *reconcile.NoMatchError
	var transport *reconcile.TransportError

	switch {
	case errors.Is(err, reconcile.ErrPaymentNotFound):
		b.WriteError(c, http.StatusNotFound, dto.NotFoundError("payment"))
	case errors.As(err, &validationErr):
		b.WriteError(c, http.StatusBadRequest, dto.ValidationError(validationErr.Field, validationErr.Error()))
	case errors.As(err, &noMatch):
		b.WriteError(c, http.StatusUnprocessableEntity, dto.NewAPIError(dto.ErrCodeNoMatch, noMatch.Error()))
	case errors.Is(err, storage.ErrNotFound):
		b.WriteError(c, http.StatusNotFound, dto.NewAPIError(dto.ErrCodeNotFound, err.Error()))
	case errors.Is(err, storage.ErrAlreadyReconciled):
		b.WriteError(c, http.StatusConflict, dto.NewAPIError(dto.ErrCodeConflict, err.Error()))
	case errors.As(err, &transport):
		b.logger.Warn("upstream call failed", "op", transport.Op, "error", transport.Err)
		b.WriteError(c, http.StatusBadGateway, dto.UpstreamError(transport.Error()))
	default:
		b.logger.Error("request failed", "path", c.FullPath(), "error", err)
		b.WriteError(c, http.StatusInternalServerError, dto.InternalError())
	}
}

// HandleBindError reports a malformed request body or query.
func (b *Base) HandleBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		b.WriteError(c, http.StatusBadRequest, dto.ValidationError(fe.Field(), fe.Field()+" failed "+fe.Tag()+" check"))
		return
	}
	b.WriteError(c, http.StatusBadRequest, dto.BadRequestError(err.Error()))
}

// ParseIntParam parses an integer query parameter with a default value.
func ParseIntParam(c *gin.Context, name string, defaultVal int) int {
	val := c.Query(name)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}

// ParseBoolParam parses a boolean query parameter with a default value.
func ParseBoolParam(c *gin.Context, name string, defaultVal bool) bool {
	val := c.Query(name)
	if val == "" {
		return defaultVal
	}
	return val == "true" || val == "1"
}
