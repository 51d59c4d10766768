package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

const (
	// RequestIDHeader is echoed back on every response.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin context key holding the request ID.
	RequestIDKey = "request_id"

	// ActorHeader names the user performing a reconciliation.
	ActorHeader = "X-Reconciled-By"
)

// RequestID tags each request with the caller's ID or a new UUID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// Actor copies the acting user from the request header into the request
// context, where storage reads it when writing audit records.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actor := strings.TrimSpace(c.GetHeader(ActorHeader)); actor != "" {
			c.Request = c.Request.WithContext(payments.WithActor(c.Request.Context(), actor))
		}
		c.Next()
	}
}
