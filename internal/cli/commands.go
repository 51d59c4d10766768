package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eshaffer321/mpesa-reconciler/internal/application/ingest"
	"github.com/eshaffer321/mpesa-reconciler/internal/application/reconcile"
	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

// withActor tags ctx with the acting user when one was given.
func withActor(ctx context.Context, flags CommonFlags) context.Context {
	if flags.Actor == "" {
		return ctx
	}
	return payments.WithActor(ctx, flags.Actor)
}

// RunImport loads a CSV file into the SQLite database.
func RunImport(ctx context.Context, rt *Runtime, flags *ImportFlags) (ingest.Result, error) {
	if rt.Store == nil {
		return ingest.Result{}, fmt.Errorf("import needs the sqlite backend, configured backend is %q", rt.Config.Backend)
	}

	f, err := os.Open(flags.File)
	if err != nil {
		return ingest.Result{}, err
	}
	defer func() { _ = f.Close() }()

	importer := ingest.NewImporter(rt.Store, rt.Logger.With("component", "ingest"))
	name := filepath.Base(flags.File)

	var result ingest.Result
	switch flags.Kind {
	case "bank":
		result, err = importer.ImportBank(ctx, f, name, flags.Account)
	case "students":
		result, err = importer.ImportStudents(ctx, f, name)
	default:
		result, err = importer.ImportPayments(ctx, f, name)
	}
	if err != nil {
		return result, err
	}

	PrintImportResult(rt.Out, result)
	return result, nil
}

// RunSuggest lists pending payments with their best match, or every ranked
// candidate for one payment when an ID is given.
func RunSuggest(ctx context.Context, rt *Runtime, flags *SuggestFlags) error {
	filters, err := flags.ToFilters()
	if err != nil {
		return err
	}

	pending, err := rt.Workflow.LoadPending(ctx, filters)
	if err != nil {
		return err
	}

	if flags.ID != "" {
		payment, ok := rt.Workflow.Payment(flags.ID)
		if !ok {
			return fmt.Errorf("payment %s is not pending", flags.ID)
		}
		ranked, err := rt.Workflow.RankedSuggestions(ctx, payment)
		if err != nil {
			return err
		}
		PrintRanked(rt.Out, payment, ranked)
		return nil
	}

	suggestions, err := rt.Workflow.SuggestAll(ctx)
	if err != nil {
		return err
	}
	PrintSuggestions(rt.Out, pending, suggestions)
	return nil
}

// RunAuto reconciles pending payments against their suggested bank lines.
func RunAuto(ctx context.Context, rt *Runtime, flags *AutoFlags) error {
	ctx = withActor(ctx, flags.CommonFlags)

	filters, err := flags.ToFilters()
	if err != nil {
		return err
	}
	pending, err := rt.Workflow.LoadPending(ctx, filters)
	if err != nil {
		return err
	}

	if flags.ID != "" && !flags.DryRun {
		record, err := rt.Workflow.AutoReconcile(ctx, flags.ID)
		if err != nil {
			return err
		}
		PrintRecords(rt.Out, []payments.ReconciliationRecord{*record})
		return nil
	}

	suggestions, err := rt.Workflow.SuggestAll(ctx)
	if err != nil {
		return err
	}

	var ids []string
	for _, p := range pending {
		if flags.ID != "" && p.ID != flags.ID {
			continue
		}
		if suggestions[p.ID] != nil {
			ids = append(ids, p.ID)
		}
	}

	if flags.DryRun {
		PrintSuggestions(rt.Out, filterPending(pending, ids), suggestions)
		return nil
	}
	if len(ids) == 0 {
		fmt.Fprintln(rt.Out, "No payments have a suggested match.")
		return nil
	}

	result, err := rt.Workflow.BulkReconcile(ctx, reconcile.BulkRequest{PaymentIDs: ids})
	if err != nil {
		return err
	}
	PrintBulkResult(rt.Out, result)
	return nil
}

// RunBulk reconciles the given payments in one batch.
func RunBulk(ctx context.Context, rt *Runtime, flags *BulkFlags) (reconcile.BulkResult, error) {
	ctx = withActor(ctx, flags.CommonFlags)

	if _, err := rt.Workflow.LoadPending(ctx, payments.PaymentFilters{}); err != nil {
		return reconcile.BulkResult{}, err
	}

	result, err := rt.Workflow.BulkReconcile(ctx, reconcile.BulkRequest{
		PaymentIDs:    flags.IDs,
		CommonBankRef: flags.Ref,
		Notes:         flags.Notes,
	})
	if err != nil {
		return result, err
	}
	PrintBulkResult(rt.Out, result)
	return result, nil
}

// RunHistory prints the audit trail of one payment.
func RunHistory(ctx context.Context, rt *Runtime, flags *HistoryFlags) error {
	records, err := rt.Workflow.History(ctx, flags.ID)
	if err != nil {
		return err
	}
	PrintRecords(rt.Out, records)
	return nil
}

func filterPending(pending []payments.UnmatchedPayment, ids []string) []payments.UnmatchedPayment {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	var out []payments.UnmatchedPayment
	for _, p := range pending {
		if keep[p.ID] {
			out = append(out, p)
		}
	}
	return out
}
