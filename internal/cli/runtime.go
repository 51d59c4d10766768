package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/eshaffer321/mpesa-reconciler/internal/adapters/schoolapi"
	"github.com/eshaffer321/mpesa-reconciler/internal/application/reconcile"
	"github.com/eshaffer321/mpesa-reconciler/internal/domain/matcher"
	"github.com/eshaffer321/mpesa-reconciler/internal/infrastructure/config"
	"github.com/eshaffer321/mpesa-reconciler/internal/infrastructure/logging"
	"github.com/eshaffer321/mpesa-reconciler/internal/infrastructure/storage"
)

// Runtime bundles the collaborators a subcommand works with.
type Runtime struct {
	Config   *config.Config
	Logger   *slog.Logger
	Backend  reconcile.Backend
	Store    *storage.Storage // nil unless the sqlite backend is selected
	Workflow *reconcile.Workflow
	Out      io.Writer
}

// LoadConfig reads the file at path, or config.yaml then the environment
// when path is empty.
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadOrEnv(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

// Open loads configuration and connects the configured backend. Logs go to
// logOut so command output on stdout stays clean.
func Open(flags CommonFlags, system string, logOut io.Writer) (*Runtime, error) {
	cfg, err := LoadConfig(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(cfg, flags, system, logOut)
}

// OpenWithConfig is Open with an already loaded configuration.
func OpenWithConfig(cfg *config.Config, flags CommonFlags, system string, logOut io.Writer) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loggingCfg := cfg.Observability.Logging
	if flags.Verbose {
		loggingCfg.Level = "debug"
	}
	if logOut == nil {
		logOut = os.Stderr
	}
	logger := logging.NewLoggerTo(logOut, loggingCfg).With("system", system)

	rt := &Runtime{Config: cfg, Logger: logger, Out: os.Stdout}

	reconciledBy := cfg.Workflow.ReconciledBy
	if flags.Actor != "" {
		reconciledBy = flags.Actor
	}

	switch cfg.Backend {
	case config.BackendSchoolAPI:
		rt.Backend = schoolapi.NewClient(cfg.SchoolAPI, logger.With("component", "schoolapi"))
	default:
		store, err := storage.NewStorage(cfg.Storage.DatabasePath,
			storage.WithReconciledBy(reconciledBy),
			storage.WithCountryCode(cfg.Matching.CountryCode),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		rt.Store = store
		rt.Backend = store
	}

	rt.Workflow = reconcile.NewWorkflow(rt.Backend, WorkflowConfig(cfg), logger.With("component", "workflow"))

	logger.Debug("runtime ready",
		slog.String("backend", string(cfg.Backend)),
		slog.String("policy", cfg.Matching.Policy))
	return rt, nil
}

// Close releases the database, if one was opened.
func (r *Runtime) Close() error {
	if r.Store == nil {
		return nil
	}
	return r.Store.Close()
}

// WorkflowConfig maps application configuration onto the workflow's.
func WorkflowConfig(cfg *config.Config) reconcile.Config {
	wc := reconcile.DefaultConfig()
	wc.Matching.AmountTolerance = cfg.Matching.AmountTolerance
	wc.Matching.DateToleranceDays = cfg.Matching.DateToleranceDays
	wc.Matching.MinConfidence = cfg.Matching.MinConfidence
	wc.Matching.CountryCode = cfg.Matching.CountryCode
	wc.Matching.Policy = matcher.Policy(cfg.Matching.Policy)
	if cfg.Workflow.CacheTTL > 0 {
		wc.CacheTTL = cfg.Workflow.CacheTTL
	}
	return wc
}
