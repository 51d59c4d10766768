package handlers_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/mpesa-reconciler/internal/api/dto"
	"github.com/eshaffer321/mpesa-reconciler/internal/api/handlers"
	"github.com/eshaffer321/mpesa-reconciler/internal/application/reconcile"
	"github.com/eshaffer321/mpesa-reconciler/internal/infrastructure/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHealthHandler_Handle(t *testing.T) {
	t.Run("returns 200 OK with health status", func(t *testing.T) {
		handler := handlers.NewHealthHandler()

		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

		handler.Handle(c)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

		var response dto.HealthResponse
		err := json.NewDecoder(rec.Body).Decode(&response)
		require.NoError(t, err)

		assert.Equal(t, "ok", response.Status)
		assert.NotEmpty(t, response.Timestamp)
	})
}

func TestBase_HandleError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &reconcile.ValidationError{Field: "notes", Message: "too long"}, http.StatusBadRequest, dto.ErrCodeValidation},
		{"not pending", &reconcile.ValidationError{Field: "mpesa_id", Message: "not pending", Err: reconcile.ErrPaymentNotFound}, http.StatusNotFound, dto.ErrCodeNotFound},
		{"no match", &reconcile.NoMatchError{PaymentID: "mp-1"}, http.StatusUnprocessableEntity, dto.ErrCodeNoMatch},
		{"storage not found", &reconcile.TransportError{Op: "link", Err: fmt.Errorf("student: %w", storage.ErrNotFound)}, http.StatusNotFound, dto.ErrCodeNotFound},
		{"already reconciled", &reconcile.TransportError{Op: "reconcile", Err: storage.ErrAlreadyReconciled}, http.StatusConflict, dto.ErrCodeConflict},
		{"transport", &reconcile.TransportError{Op: "list", Err: errors.New("connection refused")}, http.StatusBadGateway, dto.ErrCodeUpstream},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, dto.ErrCodeInternalError},
	}

	base := handlers.NewBase(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			base.HandleError(c, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var response dto.APIError
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
			assert.Equal(t, tt.code, response.Code)
		})
	}
}

func TestParseDateRange(t *testing.T) {
	start, end, err := dto.ParseDateRange("2024-03-01", "2024-03-31")
	require.NoError(t, err)
	assert.Equal(t, 1, start.Day())
	assert.Equal(t, 31, end.Day())
	assert.Equal(t, 23, end.Hour(), "end date is inclusive")

	_, _, err = dto.ParseDateRange("2024-03-31", "2024-03-01")
	assert.Error(t, err)

	_, _, err = dto.ParseDateRange("yesterday", "")
	assert.Error(t, err)

	start, end, err = dto.ParseDateRange("", "")
	require.NoError(t, err)
	assert.True(t, start.IsZero())
	assert.True(t, end.IsZero())
}
