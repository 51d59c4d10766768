package schoolapi

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

// envelope is the response wrapper used by every school API endpoint.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	History json.RawMessage `json:"history"` // legacy history endpoint
}

// payload returns data, or the legacy top-level history array.
func (e envelope) payload() json.RawMessage {
	if len(bytes.TrimSpace(e.Data)) == 0 && len(e.History) > 0 {
		return e.History
	}
	return e.Data
}

// flexString accepts a JSON string or number. The school API returns
// numeric IDs from some endpoints and strings from others.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

// flexTime accepts RFC 3339 and MySQL DATETIME layouts. Unparseable or
// empty values decode to the zero time.
type flexTime time.Time

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*f = flexTime{}
		return nil
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*f = flexTime(t)
			return nil
		}
	}
	*f = flexTime{}
	return nil
}

func (f flexTime) Time() time.Time {
	return time.Time(f)
}

// flexAmount accepts quoted or bare numbers; anything else is zero.
type flexAmount decimal.Decimal

func (f *flexAmount) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		*f = flexAmount(decimal.Zero)
		return nil
	}
	*f = flexAmount(d)
	return nil
}

func (f flexAmount) Decimal() decimal.Decimal {
	return decimal.Decimal(f)
}

// wirePayment is an M-Pesa row as returned by the payments endpoints. Older
// rows use the alternate field names.
type wirePayment struct {
	ID              flexString `json:"id"`
	Amount          flexAmount `json:"amount"`
	Amt             flexAmount `json:"amt"`
	TransactionCode string     `json:"transaction_code"`
	MpesaCode       string     `json:"mpesa_code"`
	TransID         string     `json:"trans_id"`
	PhoneNumber     string     `json:"phone_number"`
	MSISDN          string     `json:"msisdn"`
	Phone           string     `json:"phone"`
	StudentID       flexString `json:"student_id"`
	TransactionDate flexTime   `json:"transaction_date"`
	CreatedAt       flexTime   `json:"created_at"`
	Status          string     `json:"status"`
	Source          string     `json:"source"`
}

func (w wirePayment) toDomain() payments.UnmatchedPayment {
	amount := w.Amount.Decimal()
	if amount.IsZero() {
		amount = w.Amt.Decimal()
	}
	date := w.TransactionDate.Time()
	if date.IsZero() {
		date = w.CreatedAt.Time()
	}
	status := payments.PaymentStatus(w.Status)
	if status == "" || status == "pending" || status == "completed" {
		status = payments.PaymentUnmatched
	}
	source := w.Source
	if source == "" {
		source = "mpesa"
	}

	return payments.UnmatchedPayment{
		ID:              string(w.ID),
		Amount:          amount,
		TransactionCode: firstNonEmpty(w.TransactionCode, w.MpesaCode, w.TransID),
		PhoneNumber:     firstNonEmpty(w.PhoneNumber, w.MSISDN, w.Phone),
		StudentID:       payments.StringPtr(string(w.StudentID)),
		TransactionDate: date,
		Status:          status,
		Source:          source,
	}
}

// wireBankTx is a bank statement line.
type wireBankTx struct {
	TransactionRef  string     `json:"transaction_ref"`
	Reference       string     `json:"reference"`
	ID              flexString `json:"id"`
	Amount          flexAmount `json:"amount"`
	Narration       string     `json:"narration"`
	TransactionDate flexTime   `json:"transaction_date"`
	CreatedAt       flexTime   `json:"created_at"`
	StudentID       flexString `json:"student_id"`
	Status          string     `json:"status"`
}

func (w wireBankTx) toDomain() payments.BankTransaction {
	date := w.TransactionDate.Time()
	if date.IsZero() {
		date = w.CreatedAt.Time()
	}
	status := payments.BankStatus(w.Status)
	if status == "" {
		status = payments.BankPending
	}

	return payments.BankTransaction{
		TransactionRef:  firstNonEmpty(w.TransactionRef, w.Reference, string(w.ID)),
		Amount:          w.Amount.Decimal(),
		Narration:       w.Narration,
		TransactionDate: date,
		StudentID:       payments.StringPtr(string(w.StudentID)),
		Status:          status,
	}
}

// wireRecord is a reconciliation history row.
type wireRecord struct {
	ID               flexString `json:"id"`
	MpesaID          flexString `json:"mpesa_id"`
	BankStatementRef string     `json:"bank_statement_ref"`
	Reference        string     `json:"reference"`
	Notes            string     `json:"notes"`
	StudentID        flexString `json:"student_id"`
	ReconciledBy     flexString `json:"reconciled_by"`
	ReconciledAt     flexTime   `json:"reconciled_at"`
	CreatedAt        flexTime   `json:"created_at"`
}

func (w wireRecord) toDomain() payments.ReconciliationRecord {
	at := w.ReconciledAt.Time()
	if at.IsZero() {
		at = w.CreatedAt.Time()
	}
	return payments.ReconciliationRecord{
		ID:           string(w.ID),
		MpesaID:      string(w.MpesaID),
		BankRef:      firstNonEmpty(w.BankStatementRef, w.Reference),
		Notes:        w.Notes,
		StudentID:    payments.StringPtr(string(w.StudentID)),
		ReconciledBy: string(w.ReconciledBy),
		ReconciledAt: at,
	}
}

// wireStudent is a phone lookup hit.
type wireStudent struct {
	ID           flexString `json:"id"`
	StudentID    flexString `json:"student_id"`
	AdmissionNo  string     `json:"admission_no"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	ClassName    string     `json:"class_name"`
	MatchSource  string     `json:"match_source"`
	PaymentCount flexString `json:"payment_count"`
	TotalPaid    flexAmount `json:"total_paid"`
}

func (w wireStudent) toDomain() payments.StudentMatch {
	count := 0
	if n, err := decimal.NewFromString(string(w.PaymentCount)); err == nil {
		count = int(n.IntPart())
	}
	return payments.StudentMatch{
		StudentID:    firstNonEmpty(string(w.StudentID), string(w.ID)),
		AdmissionNo:  w.AdmissionNo,
		FirstName:    w.FirstName,
		LastName:     w.LastName,
		ClassName:    w.ClassName,
		MatchSource:  payments.MatchSource(w.MatchSource),
		PaymentCount: count,
		TotalPaid:    w.TotalPaid.Decimal(),
	}
}

// listPayload is the data object of list endpoints. Depending on the
// endpoint the rows sit under one of these keys or data is the array itself.
type listPayload struct {
	Transactions json.RawMessage `json:"transactions"`
	History      json.RawMessage `json:"history"`
	Students     json.RawMessage `json:"students"`
}

// decodeList unmarshals rows from data, trying the named key first.
func decodeList(data json.RawMessage, key string, out any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '[' {
		return json.Unmarshal(data, out)
	}

	var p listPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var rows json.RawMessage
	switch key {
	case "transactions":
		rows = p.Transactions
	case "history":
		rows = p.History
	case "students":
		rows = p.Students
	}
	if len(rows) == 0 || string(rows) == "null" {
		return nil
	}
	return json.Unmarshal(rows, out)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
