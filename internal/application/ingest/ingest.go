// Package ingest loads M-Pesa payments, bank statement lines and the student
// directory from CSV exports into storage. Columns are located by header
// name, so exports from different banks and gateway versions load without
// reformatting.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
	"github.com/eshaffer321/mpesa-reconciler/internal/infrastructure/storage"
)

// Store is the subset of storage the importer writes to.
type Store interface {
	SavePayment(ctx context.Context, p *payments.UnmatchedPayment) error
	SaveBankTransaction(ctx context.Context, account string, tx *payments.BankTransaction) error
	SaveStudent(ctx context.Context, st *storage.Student) error
	SaveParent(ctx context.Context, p *storage.Parent) error
	StartImportRun(ctx context.Context, kind storage.ImportKind, sourceFile string) (int64, error)
	CompleteImportRun(ctx context.Context, runID int64, counts storage.ImportCounts) error
}

// Result reports one import run.
type Result struct {
	RunID  int64                `json:"run_id"`
	Kind   storage.ImportKind   `json:"kind"`
	Counts storage.ImportCounts `json:"counts"`
}

// Importer reads CSV files into a Store.
type Importer struct {
	store  Store
	logger *slog.Logger
}

// NewImporter creates an importer.
func NewImporter(store Store, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: store, logger: logger}
}

// ImportPayments loads M-Pesa payments. Re-importing a payment updates it
// but never reopens a reconciled one.
func (im *Importer) ImportPayments(ctx context.Context, r io.Reader, sourceFile string) (Result, error) {
	return im.run(ctx, storage.ImportPayments, r, sourceFile, paymentColumns, func(row record) (bool, error) {
		p, err := parsePayment(row)
		if err != nil || p == nil {
			return false, err
		}
		return true, im.store.SavePayment(ctx, p)
	})
}

// ImportBank loads bank statement lines. account applies to rows without
// an account column.
func (im *Importer) ImportBank(ctx context.Context, r io.Reader, sourceFile, account string) (Result, error) {
	return im.run(ctx, storage.ImportBank, r, sourceFile, bankColumns, func(row record) (bool, error) {
		tx, err := parseBankTx(row)
		if err != nil || tx == nil {
			return false, err
		}
		acct := row.get("account")
		if acct == "" {
			acct = account
		}
		return true, im.store.SaveBankTransaction(ctx, acct, tx)
	})
}

// ImportStudents loads students and their parents' phone numbers. A parent
// phone cell may hold several numbers separated by ';' or '/'.
func (im *Importer) ImportStudents(ctx context.Context, r io.Reader, sourceFile string) (Result, error) {
	return im.run(ctx, storage.ImportStudents, r, sourceFile, studentColumns, func(row record) (bool, error) {
		st, parents, err := parseStudent(row)
		if err != nil || st == nil {
			return false, err
		}
		if err := im.store.SaveStudent(ctx, st); err != nil {
			return false, err
		}
		for i := range parents {
			if err := im.store.SaveParent(ctx, &parents[i]); err != nil {
				return false, err
			}
		}
		return true, nil
	})
}

// run drives one import: it records the run, reads every row and tallies
// the outcome. Row failures are counted and logged; only an unreadable
// header or a storage failure on the run itself aborts.
func (im *Importer) run(ctx context.Context, kind storage.ImportKind, r io.Reader, sourceFile string, columns columnSet, apply func(record) (bool, error)) (Result, error) {
	result := Result{Kind: kind}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return result, fmt.Errorf("read %s header: %w", kind, err)
	}
	index, err := columns.resolve(header)
	if err != nil {
		return result, err
	}

	runID, err := im.store.StartImportRun(ctx, kind, sourceFile)
	if err != nil {
		return result, fmt.Errorf("start import run: %w", err)
	}
	result.RunID = runID

	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			result.Counts.Errored++
			im.logger.Warn("Unreadable CSV row", "kind", kind, "line", line, "error", err)
			continue
		}
		result.Counts.Read++

		row := record{fields: fields, index: index}
		if row.blank() {
			result.Counts.Skipped++
			continue
		}

		imported, err := apply(row)
		switch {
		case err != nil:
			result.Counts.Errored++
			im.logger.Warn("Rejected CSV row", "kind", kind, "line", line, "error", err)
		case imported:
			result.Counts.Imported++
		default:
			result.Counts.Skipped++
		}
	}

	if err := im.store.CompleteImportRun(ctx, runID, result.Counts); err != nil {
		return result, fmt.Errorf("complete import run: %w", err)
	}

	im.logger.Info("Import finished",
		"kind", kind,
		"file", sourceFile,
		"read", result.Counts.Read,
		"imported", result.Counts.Imported,
		"skipped", result.Counts.Skipped,
		"errored", result.Counts.Errored)

	return result, nil
}

// columnSet maps canonical column names to the header aliases accepted for
// them. Required columns must be present in the header.
type columnSet struct {
	aliases  map[string][]string
	required []string
}

func (cs columnSet) resolve(header []string) (map[string]int, error) {
	positions := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
		if _, dup := positions[key]; !dup {
			positions[key] = i
		}
	}

	index := make(map[string]int, len(cs.aliases))
	for name, aliases := range cs.aliases {
		for _, alias := range aliases {
			if pos, ok := positions[alias]; ok {
				index[name] = pos
				break
			}
		}
	}
	for _, name := range cs.required {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("missing required column %q (accepted: %s)", name, strings.Join(cs.aliases[name], ", "))
		}
	}
	return index, nil
}

var paymentColumns = columnSet{
	aliases: map[string][]string{
		"id":      {"id", "mpesa_id", "payment_id"},
		"amount":  {"amount", "trans_amount", "amt"},
		"code":    {"transaction_code", "mpesa_code", "trans_id", "transid", "receipt_no", "receipt"},
		"phone":   {"phone_number", "msisdn", "phone"},
		"date":    {"transaction_date", "trans_time", "created_at", "date"},
		"student": {"student_id"},
		"source":  {"source"},
	},
	required: []string{"amount", "code"},
}

var bankColumns = columnSet{
	aliases: map[string][]string{
		"ref":       {"transaction_ref", "reference", "ref", "bank_ref"},
		"amount":    {"amount", "credit", "credit_amount"},
		"narration": {"narration", "description", "details", "particulars"},
		"date":      {"transaction_date", "value_date", "date", "created_at"},
		"student":   {"student_id"},
		"status":    {"status"},
		"account":   {"account_number", "account", "bank_id"},
	},
	required: []string{"ref", "amount"},
}

var studentColumns = columnSet{
	aliases: map[string][]string{
		"id":           {"student_id", "id"},
		"admission":    {"admission_no", "admission_number", "adm_no"},
		"first_name":   {"first_name", "firstname"},
		"last_name":    {"last_name", "lastname", "surname"},
		"class":        {"class_name", "class", "grade"},
		"parent_name":  {"parent_name", "guardian_name"},
		"parent_phone": {"parent_phone", "guardian_phone", "phone"},
	},
	required: []string{"id", "first_name"},
}

// record is one CSV row addressed by canonical column name.
type record struct {
	fields []string
	index  map[string]int
}

func (r record) get(name string) string {
	pos, ok := r.index[name]
	if !ok || pos >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[pos])
}

func (r record) blank() bool {
	for _, f := range r.fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"20060102150405", // M-Pesa C2B TransTime
	"2006-01-02",
	"02/01/2006",
	"02-Jan-2006",
}

// parseDate accepts the layouts seen in gateway and bank exports. An empty
// cell is the zero time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// parseAmount strips thousands separators and currency prefixes.
func parseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer(",", "", "KES", "", "KSh", "", "Ksh", "", " ", "").Replace(s)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("amount is empty")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return d, nil
}

func parsePayment(row record) (*payments.UnmatchedPayment, error) {
	code := strings.ToUpper(row.get("code"))
	if code == "" {
		return nil, fmt.Errorf("transaction code is empty")
	}
	amount, err := parseAmount(row.get("amount"))
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive, got %s", amount)
	}
	date, err := parseDate(row.get("date"))
	if err != nil {
		return nil, err
	}

	id := row.get("id")
	if id == "" {
		id = code
	}
	source := row.get("source")
	if source == "" {
		source = "mpesa"
	}

	return &payments.UnmatchedPayment{
		ID:              id,
		Amount:          amount,
		TransactionCode: code,
		PhoneNumber:     row.get("phone"),
		StudentID:       payments.StringPtr(row.get("student")),
		TransactionDate: date,
		Status:          payments.PaymentUnmatched,
		Source:          source,
	}, nil
}

func parseBankTx(row record) (*payments.BankTransaction, error) {
	ref := row.get("ref")
	if ref == "" {
		return nil, fmt.Errorf("transaction reference is empty")
	}
	amount, err := parseAmount(row.get("amount"))
	if err != nil {
		return nil, err
	}
	date, err := parseDate(row.get("date"))
	if err != nil {
		return nil, err
	}

	status := payments.BankStatus(strings.ToLower(row.get("status")))
	switch status {
	case payments.BankPending, payments.BankProcessed, payments.BankReconciled:
	default:
		status = payments.BankPending
	}

	return &payments.BankTransaction{
		TransactionRef:  ref,
		Amount:          amount.Abs(),
		Narration:       row.get("narration"),
		TransactionDate: date,
		StudentID:       payments.StringPtr(row.get("student")),
		Status:          status,
	}, nil
}

func parseStudent(row record) (*storage.Student, []storage.Parent, error) {
	id := row.get("id")
	if id == "" {
		return nil, nil, fmt.Errorf("student id is empty")
	}

	st := &storage.Student{
		ID:          id,
		AdmissionNo: row.get("admission"),
		FirstName:   row.get("first_name"),
		LastName:    row.get("last_name"),
		ClassName:   row.get("class"),
	}
	if st.AdmissionNo == "" {
		st.AdmissionNo = id
	}

	var parents []storage.Parent
	for _, phone := range strings.FieldsFunc(row.get("parent_phone"), func(r rune) bool { return r == ';' || r == '/' }) {
		if phone = strings.TrimSpace(phone); phone != "" {
			parents = append(parents, storage.Parent{
				StudentID: id,
				Name:      row.get("parent_name"),
				Phone:     phone,
			})
		}
	}
	return st, parents, nil
}
