package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/eshaffer321/mpesa-reconciler/internal/application/ingest"
	"github.com/eshaffer321/mpesa-reconciler/internal/application/reconcile"
	"github.com/eshaffer321/mpesa-reconciler/internal/domain/matcher"
	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

const dateLayout = "2006-01-02"

// PrintImportResult prints the row counters of an import run
func PrintImportResult(w io.Writer, result ingest.Result) {
	c := result.Counts
	fmt.Fprintf(w, "Import %s (run %d): Read=%d Imported=%d Skipped=%d Errors=%d\n",
		result.Kind, result.RunID, c.Read, c.Imported, c.Skipped, c.Errored)
}

// PrintSuggestions prints pending payments and their best candidate
func PrintSuggestions(w io.Writer, pending []payments.UnmatchedPayment, suggestions map[string]*matcher.MatchCandidate) {
	if len(pending) == 0 {
		fmt.Fprintln(w, "No unmatched payments.")
		return
	}

	data := pterm.TableData{{"ID", "Code", "Amount", "Phone", "Date", "Suggestion", "Match", "Confidence"}}
	matched := 0
	for _, p := range pending {
		ref, kind, confidence := "-", "-", "-"
		if s := suggestions[p.ID]; s != nil {
			matched++
			ref = s.BankRef()
			kind = s.MatchType.Label()
			confidence = fmt.Sprintf("%.1f", s.Confidence)
		}
		data = append(data, []string{
			p.ID, p.TransactionCode, p.Amount.StringFixed(2), p.PhoneNumber,
			formatDate(p.TransactionDate), ref, kind, confidence,
		})
	}
	renderTable(w, data)

	fmt.Fprintln(w, strings.Repeat("-", 60))
	fmt.Fprintf(w, "Summary: Pending=%d Suggested=%d\n", len(pending), matched)
}

// PrintRanked prints every eligible candidate for one payment, best first
func PrintRanked(w io.Writer, payment payments.UnmatchedPayment, ranked []matcher.MatchCandidate) {
	fmt.Fprintf(w, "Payment %s: %s KES from %s\n", payment.ID, payment.Amount.StringFixed(2), payment.PhoneNumber)
	if len(ranked) == 0 {
		fmt.Fprintln(w, "No candidates.")
		return
	}

	data := pterm.TableData{{"#", "Ref", "Amount", "Date", "Match", "Confidence", "Narration"}}
	for i, c := range ranked {
		tx := c.BankTransaction
		data = append(data, []string{
			fmt.Sprintf("%d", i+1), tx.TransactionRef, tx.Amount.StringFixed(2),
			formatDate(tx.TransactionDate), c.MatchType.Label(),
			fmt.Sprintf("%.1f", c.Confidence), tx.Narration,
		})
	}
	renderTable(w, data)
}

// PrintBulkResult prints per-payment outcomes and the batch summary
func PrintBulkResult(w io.Writer, result reconcile.BulkResult) {
	for _, o := range result.Outcomes {
		if o.OK() {
			fmt.Fprintf(w, "  ok    %s -> %s\n", o.PaymentID, o.BankRef)
			continue
		}
		fmt.Fprintf(w, "  fail  %s: %v\n", o.PaymentID, o.Err)
	}
	if d := result.Deposit; d != nil && !d.Valid {
		fmt.Fprintf(w, "\nWarning: %s\n", d.Reason)
	}
	fmt.Fprintln(w, strings.Repeat("-", 60))
	fmt.Fprintf(w, "Batch %s: Succeeded=%d Failed=%d\n", result.BatchID, result.SuccessCount, result.FailureCount)
}

// PrintRecords prints reconciliation records, newest first
func PrintRecords(w io.Writer, records []payments.ReconciliationRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No reconciliation history.")
		return
	}

	data := pterm.TableData{{"When", "Payment", "Bank Ref", "By", "Student", "Notes"}}
	for _, r := range records {
		data = append(data, []string{
			r.ReconciledAt.Format("2006-01-02 15:04"), r.MpesaID, r.BankRef,
			r.ReconciledBy, orDash(payments.Deref(r.StudentID)), r.Notes,
		})
	}
	renderTable(w, data)
}

// renderTable writes data with the first row as header.
func renderTable(w io.Writer, data pterm.TableData) {
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		fmt.Fprintf(w, "failed to render table: %v\n", err)
		return
	}
	fmt.Fprintln(w, out)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(dateLayout)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
