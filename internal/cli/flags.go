package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/eshaffer321/mpesa-reconciler/internal/api/dto"
	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

// CommonFlags are shared by every subcommand
type CommonFlags struct {
	ConfigPath string
	Verbose    bool
	Actor      string
}

func (f *CommonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.ConfigPath, "config", "", "Configuration file path (default: config.yaml, then environment)")
	fs.BoolVar(&f.Verbose, "verbose", false, "Verbose output")
	fs.StringVar(&f.Actor, "actor", "", "Name recorded as reconciled_by")
}

// FilterFlags narrow the pending payment set
type FilterFlags struct {
	Start  string
	End    string
	Phone  string
	Search string
	Limit  int
}

func (f *FilterFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.Start, "start", "", "Earliest transaction date (YYYY-MM-DD)")
	fs.StringVar(&f.End, "end", "", "Latest transaction date, inclusive (YYYY-MM-DD)")
	fs.StringVar(&f.Phone, "phone", "", "Only payments from this phone number")
	fs.StringVar(&f.Search, "search", "", "Match transaction code or phone")
	fs.IntVar(&f.Limit, "limit", 0, "Maximum payments to load (0 = 500)")
}

// ToFilters converts the flags to payment filters
func (f FilterFlags) ToFilters() (payments.PaymentFilters, error) {
	start, end, err := dto.ParseDateRange(f.Start, f.End)
	if err != nil {
		return payments.PaymentFilters{}, err
	}
	return payments.PaymentFilters{
		StartDate: start,
		EndDate:   end,
		Phone:     f.Phone,
		Search:    f.Search,
		Limit:     f.Limit,
	}, nil
}

// ServeFlags holds the CLI flags for the serve command.
type ServeFlags struct {
	CommonFlags
	Port int
}

// ParseServeFlags parses command line flags for the serve command.
func ParseServeFlags(args []string, output io.Writer) (*ServeFlags, error) {
	flags := &ServeFlags{}
	fs := newFlagSet("serve", output)
	flags.register(fs)
	fs.IntVar(&flags.Port, "port", 0, "Port to listen on (default from config)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return flags, nil
}

// ImportFlags holds the flags for the import command
type ImportFlags struct {
	CommonFlags
	Kind    string
	File    string
	Account string
}

// ParseImportFlags parses flags for the import command. The file may also be
// given as the first positional argument.
func ParseImportFlags(args []string, output io.Writer) (*ImportFlags, error) {
	flags := &ImportFlags{}
	fs := newFlagSet("import", output)
	flags.register(fs)
	fs.StringVar(&flags.Kind, "kind", "payments", "What the file holds: payments, bank or students")
	fs.StringVar(&flags.File, "file", "", "CSV file to import")
	fs.StringVar(&flags.Account, "account", "", "Bank account for statements without an account column")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if flags.File == "" && fs.NArg() > 0 {
		flags.File = fs.Arg(0)
	}
	if flags.File == "" {
		return nil, fmt.Errorf("import: a CSV file is required")
	}
	switch flags.Kind {
	case "payments", "bank", "students":
	default:
		return nil, fmt.Errorf("import: unknown kind %q", flags.Kind)
	}
	return flags, nil
}

// SuggestFlags holds the flags for the suggest command
type SuggestFlags struct {
	CommonFlags
	FilterFlags
	ID string
}

// ParseSuggestFlags parses flags for the suggest command
func ParseSuggestFlags(args []string, output io.Writer) (*SuggestFlags, error) {
	flags := &SuggestFlags{}
	fs := newFlagSet("suggest", output)
	flags.CommonFlags.register(fs)
	flags.FilterFlags.register(fs)
	fs.StringVar(&flags.ID, "id", "", "Rank every candidate for one payment")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return flags, nil
}

// AutoFlags holds the flags for the auto command
type AutoFlags struct {
	CommonFlags
	FilterFlags
	ID     string
	DryRun bool
}

// ParseAutoFlags parses flags for the auto command
func ParseAutoFlags(args []string, output io.Writer) (*AutoFlags, error) {
	flags := &AutoFlags{}
	fs := newFlagSet("auto", output)
	flags.CommonFlags.register(fs)
	flags.FilterFlags.register(fs)
	fs.StringVar(&flags.ID, "id", "", "Auto-reconcile a single payment")
	fs.BoolVar(&flags.DryRun, "dry-run", false, "Show the matches without reconciling")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return flags, nil
}

// BulkFlags holds the flags for the bulk command
type BulkFlags struct {
	CommonFlags
	IDs   []string
	Ref   string
	Notes string
}

// ParseBulkFlags parses flags for the bulk command. IDs come from -ids
// (comma separated) and any positional arguments.
func ParseBulkFlags(args []string, output io.Writer) (*BulkFlags, error) {
	flags := &BulkFlags{}
	var ids string
	fs := newFlagSet("bulk", output)
	flags.register(fs)
	fs.StringVar(&ids, "ids", "", "Comma separated payment IDs")
	fs.StringVar(&flags.Ref, "ref", "", "Bank statement reference shared by every payment (empty = auto-match each)")
	fs.StringVar(&flags.Notes, "notes", "", "Notes stored with each record")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	flags.IDs = splitList(ids)
	flags.IDs = append(flags.IDs, fs.Args()...)
	if len(flags.IDs) == 0 {
		return nil, fmt.Errorf("bulk: at least one payment ID is required")
	}
	return flags, nil
}

// HistoryFlags holds the flags for the history command
type HistoryFlags struct {
	CommonFlags
	ID string
}

// ParseHistoryFlags parses flags for the history command
func ParseHistoryFlags(args []string, output io.Writer) (*HistoryFlags, error) {
	flags := &HistoryFlags{}
	fs := newFlagSet("history", output)
	flags.register(fs)
	fs.StringVar(&flags.ID, "id", "", "Payment ID")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if flags.ID == "" && fs.NArg() > 0 {
		flags.ID = fs.Arg(0)
	}
	if flags.ID == "" {
		return nil, fmt.Errorf("history: a payment ID is required")
	}
	return flags, nil
}

func newFlagSet(name string, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	return fs
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
