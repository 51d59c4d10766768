package ingest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
	"github.com/eshaffer321/mpesa-reconciler/internal/infrastructure/storage"
)

func quietImporter(store Store) *Importer {
	return NewImporter(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestImportPayments(t *testing.T) {
	repo := storage.NewMockRepository()
	im := quietImporter(repo)
	ctx := context.Background()

	csvData := "\ufeffTransID,Trans Amount,MSISDN,Trans Time,Student_ID\n" +
		"qab1234567,\"1,500.00\",254712345678,20240309142210,st-1\n" +
		"QCD7654321,KES 200,0722000111,2024-03-08 10:00:00,\n" +
		",,,,\n" +
		"QEF0000000,-50,0733000000,2024-03-08,\n" +
		"QGH1111111,abc,0733000000,2024-03-08,\n" +
		"QIJ2222222,300,0733000000,yesterday,\n"

	result, err := im.ImportPayments(ctx, strings.NewReader(csvData), "c2b-march.csv")
	require.NoError(t, err)

	assert.Equal(t, storage.ImportPayments, result.Kind)
	assert.NotZero(t, result.RunID)
	assert.Equal(t, storage.ImportCounts{Read: 6, Imported: 2, Skipped: 1, Errored: 3}, result.Counts)

	list, err := repo.ListUnmatchedPayments(ctx, payments.PaymentFilters{})
	require.NoError(t, err)
	require.Len(t, list, 2)

	first := list[0]
	assert.Equal(t, "QAB1234567", first.ID, "transaction code doubles as the id")
	assert.Equal(t, "QAB1234567", first.TransactionCode)
	assert.True(t, decimal.NewFromInt(1500).Equal(first.Amount))
	assert.Equal(t, "254712345678", first.PhoneNumber)
	assert.Equal(t, "st-1", payments.Deref(first.StudentID))
	assert.Equal(t, time.Date(2024, 3, 9, 14, 22, 10, 0, time.UTC), first.TransactionDate)
	assert.Equal(t, "mpesa", first.Source)

	assert.Nil(t, list[1].StudentID)
	assert.True(t, decimal.NewFromInt(200).Equal(list[1].Amount))

	runs, err := repo.ListImportRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "c2b-march.csv", runs[0].SourceFile)
	assert.Equal(t, 3, runs[0].Counts.Errored)
}

func TestImportPayments_MissingColumn(t *testing.T) {
	repo := storage.NewMockRepository()
	im := quietImporter(repo)

	_, err := im.ImportPayments(context.Background(), strings.NewReader("phone,date\n0712345678,2024-03-01\n"), "bad.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"amount"`)

	runs, err := repo.ListImportRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "no run is recorded for an unusable file")
}

func TestImportPayments_EmptyFile(t *testing.T) {
	im := quietImporter(storage.NewMockRepository())

	_, err := im.ImportPayments(context.Background(), strings.NewReader(""), "empty.csv")
	assert.Error(t, err)
}

func TestImportBank(t *testing.T) {
	repo := storage.NewMockRepository()
	im := quietImporter(repo)
	ctx := context.Background()

	csvData := "Reference,Value Date,Description,Credit,Status\n" +
		"FT24069ABC,09/03/2024,MPESA C2B QAB1234567 254712345678,1500.00,\n" +
		"FT24069DEF,2024-03-09,CHQ DEPOSIT,\"-2,000\",processed\n" +
		",2024-03-09,NO REF,10,\n"

	result, err := im.ImportBank(ctx, strings.NewReader(csvData), "equity-march.csv", "0011223344")
	require.NoError(t, err)
	assert.Equal(t, storage.ImportCounts{Read: 3, Imported: 2, Skipped: 0, Errored: 1}, result.Counts)

	txs, err := repo.ListBankTransactions(ctx, payments.BankFilters{})
	require.NoError(t, err)
	require.Len(t, txs, 2)

	byRef := map[string]payments.BankTransaction{}
	for _, tx := range txs {
		byRef[tx.TransactionRef] = tx
	}
	assert.Equal(t, payments.BankPending, byRef["FT24069ABC"].Status)
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), byRef["FT24069ABC"].TransactionDate)
	assert.Equal(t, payments.BankProcessed, byRef["FT24069DEF"].Status)
	assert.True(t, decimal.NewFromInt(2000).Equal(byRef["FT24069DEF"].Amount), "debits are stored as magnitudes")
}

func TestImportStudents_IntoSQLite(t *testing.T) {
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	im := quietImporter(store)
	ctx := context.Background()

	csvData := "student_id,admission_no,first_name,surname,class,guardian_name,guardian_phone\n" +
		"st-1,ADM-001,Amina,Otieno,Grade 4,Mama Amina,0712345678; +254722000111\n" +
		"st-2,,Baraka,,Grade 2,,\n" +
		",ADM-003,Nobody,,,,\n"

	result, err := im.ImportStudents(ctx, strings.NewReader(csvData), "students.csv")
	require.NoError(t, err)
	assert.Equal(t, storage.ImportCounts{Read: 3, Imported: 2, Skipped: 0, Errored: 1}, result.Counts)

	matches, err := store.FindStudentsByPhone(ctx, "0722000111")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "st-1", matches[0].StudentID)
	assert.Equal(t, "Grade 4", matches[0].ClassName)
	assert.Equal(t, payments.SourceParentRecord, matches[0].MatchSource)

	runs, err := store.ListImportRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed_with_errors", runs[0].Status)
}

func TestImportCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	im := quietImporter(storage.NewMockRepository())
	_, err := im.ImportPayments(ctx, strings.NewReader("amount,trans_id\n10,QAA\n"), "x.csv")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-09 14:22:10", time.Date(2024, 3, 9, 14, 22, 10, 0, time.UTC)},
		{"2024-03-09T14:22:10Z", time.Date(2024, 3, 9, 14, 22, 10, 0, time.UTC)},
		{"20240309142210", time.Date(2024, 3, 9, 14, 22, 10, 0, time.UTC)},
		{"09/03/2024", time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)},
		{"09-Mar-2024", time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)},
		{"", time.Time{}},
	}
	for _, tt := range tests {
		got, err := parseDate(tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), tt.in)
	}

	_, err := parseDate("March 9th")
	assert.Error(t, err)
}
