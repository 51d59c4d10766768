package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/mpesa-reconciler/internal/api/dto"
	"github.com/eshaffer321/mpesa-reconciler/internal/application/reconcile"
)

// StudentsHandler handles student directory lookups.
type StudentsHandler struct {
	*Base
	workflow *reconcile.Workflow
}

// NewStudentsHandler creates a new students handler.
func NewStudentsHandler(workflow *reconcile.Workflow, logger *slog.Logger) *StudentsHandler {
	return &StudentsHandler{
		Base:     NewBase(logger),
		workflow: workflow,
	}
}

// LookupByPhone finds students whose parent or payment history uses the
// given phone number.
func (h *StudentsHandler) LookupByPhone(c *gin.Context) {
	phone := c.Query("phone")

	matches, err := h.workflow.FindStudents(c.Request.Context(), phone)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	response := dto.StudentListResponse{
		Phone:    phone,
		Students: make([]dto.StudentResponse, 0, len(matches)),
	}
	for _, m := range matches {
		response.Students = append(response.Students, dto.StudentFromDomain(m))
	}
	h.WriteJSON(c, http.StatusOK, response)
}
