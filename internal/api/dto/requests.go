package dto

import (
	"fmt"
	"time"
)

// DateLayout is the format of date query parameters.
const DateLayout = "2006-01-02"

// PaymentListParams represents query parameters for listing unmatched payments.
type PaymentListParams struct {
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
	Phone     string `form:"phone" binding:"omitempty,max=20"`
	Search    string `form:"search" binding:"omitempty,max=100"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

// ReportParams represents query parameters for the reconciliation report.
type ReportParams struct {
	Start string `form:"start"`
	End   string `form:"end"`
}

// WithDefaults fills a missing bound with the first or last day of the
// month containing now.
func (p ReportParams) WithDefaults(now time.Time) ReportParams {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	if p.Start == "" {
		p.Start = first.Format(DateLayout)
	}
	if p.End == "" {
		p.End = first.AddDate(0, 1, -1).Format(DateLayout)
	}
	return p
}

// ReconcileRequest is the body of a single manual reconciliation. The
// payment ID comes from the path.
type ReconcileRequest struct {
	BankStatementRef string  `json:"bank_statement_ref"`
	Notes            string  `json:"notes"`
	StudentID        *string `json:"student_id"`
}

// BulkReconcileRequest reconciles several payments in one call. Without a
// bank_statement_ref each payment is auto-matched.
type BulkReconcileRequest struct {
	MpesaIDs         []string `json:"mpesa_ids"`
	BankStatementRef string   `json:"bank_statement_ref"`
	Notes            string   `json:"notes"`
}

// LinkStudentRequest assigns a student to a payment.
type LinkStudentRequest struct {
	StudentID string `json:"student_id" binding:"required"`
}

// ParseDateRange parses optional YYYY-MM-DD bounds. The end date is
// inclusive, so it is moved to the last instant of that day.
func ParseDateRange(start, end string) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error

	if start != "" {
		from, err = time.Parse(DateLayout, start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q, expected YYYY-MM-DD", start)
		}
	}
	if end != "" {
		to, err = time.Parse(DateLayout, end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q, expected YYYY-MM-DD", end)
		}
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date cannot be before start date")
	}
	return from, to, nil
}
