package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	_ "modernc.org/sqlite"

	"github.com/bubblepkg/bubblepkg/pkg/auditlog"
	"github.com/bubblepkg/bubblepkg/pkg/bpkgerrors"
	"github.com/bubblepkg/bubblepkg/pkg/bubble"
	"github.com/bubblepkg/bubblepkg/pkg/config"
	"github.com/bubblepkg/bubblepkg/pkg/consistency"
	"github.com/bubblepkg/bubblepkg/pkg/healing"
	"github.com/bubblepkg/bubblepkg/pkg/health"
	"github.com/bubblepkg/bubblepkg/pkg/installer"
	"github.com/bubblepkg/bubblepkg/pkg/kb"
	"github.com/bubblepkg/bubblepkg/pkg/loader"
	"github.com/bubblepkg/bubblepkg/pkg/locale"
	"github.com/bubblepkg/bubblepkg/pkg/manifest"
	"github.com/bubblepkg/bubblepkg/pkg/snapshot"
	"github.com/bubblepkg/bubblepkg/pkg/telemetry"
	"github.com/bubblepkg/bubblepkg/pkg/worker"
)

// App bundles every engine component one CLI invocation needs. It is
// rebuilt fresh per invocation, the same way the teacher's runServer
// wires its subsystems once at startup — there is no long-lived daemon
// here, so "startup" is just "one command".
type App struct {
	Config    *config.Config
	KB        kb.KB
	Installer *installer.Driver // nil if no installer tool is on PATH
	Builder   *bubble.Builder
	Snapshots *snapshot.Store
	Workers   *worker.Pool
	Healer    *healing.Analyzer
	Doctor    *health.Doctor
	Locale    *locale.Catalog
	Audit     *auditlog.Ledger // nil if the audit DB couldn't be opened
	Telemetry *telemetry.Provider

	db *sql.DB
}

// defaultInstallers is the priority list of ecosystem installer tools
// this driver knows how to invoke, highest-priority first (spec
// Section 4.2: "an external tool selected from a configurable priority
// list").
func defaultInstallers() []installer.Entry {
	reportArgs := func(requirementsFile, targetRoot, reportFile string) []string {
		return []string{
			"install",
			"--target", targetRoot,
			"-r", requirementsFile,
			"--report", reportFile,
		}
	}
	return []installer.Entry{
		{Binary: "pip", ReportArgs: reportArgs},
		{Binary: "pip3", ReportArgs: reportArgs},
	}
}

// globalFlags parses the --config flag common to every subcommand and
// returns the remaining positional args.
func globalFlags(name string, args []string) (configPath string, rest []string, err error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "bubblepkg.yaml", "path to bubblepkg.yaml")
	if parseErr := fs.Parse(args); parseErr != nil {
		return "", nil, parseErr
	}
	return configPath, fs.Args(), nil
}

func newApp(ctx context.Context, configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(cfg.InstallRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create install root: %w", err)
	}

	store, err := kb.Open(ctx, kb.Config{
		Backend:    kb.BackendKind(cfg.KBBackend),
		SQLitePath: filepath.Join(cfg.InstallRoot, "kb.sqlite"),
	})
	if err != nil {
		return nil, fmt.Errorf("open knowledge base: %w", err)
	}

	drv, err := installer.New(defaultInstallers(), installer.DefaultLookPath, 5*time.Minute)
	if err != nil {
		drv = nil // commands that don't stage installs (list, info, status, doctor...) still work.
	}

	bubbleRootFor := func(name, version string) string {
		return filepath.Join(cfg.InstallRoot, "bubbles", name+"-"+version)
	}

	refKind := manifest.EntryKind(cfg.DedupPolicy.RefKind)
	if refKind == "" {
		refKind = manifest.KindSymlink
	}

	builder := &bubble.Builder{
		KB:        store,
		Installer: drv,
		Coalescer: consistency.NewBuildCoalescer(),
		Dedup: bubble.DedupPolicy{
			NativeExtensions: cfg.DedupPolicy.NativeExtensions,
		},
		RefKind:       refKind,
		MainEnvRoot:   filepath.Join(cfg.InstallRoot, "main"),
		WorkDir:       filepath.Join(cfg.InstallRoot, "work"),
		BubbleRootFor: bubbleRootFor,
	}

	snaps, err := snapshot.NewStore(filepath.Join(cfg.InstallRoot, "snapshots"))
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	var admissionLimiter *rate.Limiter
	if cfg.Worker.MaxDispatchesPerSecond > 0 {
		admissionLimiter = rate.NewLimiter(rate.Limit(cfg.Worker.MaxDispatchesPerSecond), cfg.Worker.MaxDaemons)
	}

	workers := worker.New(worker.Config{
		BinaryFor: func(interpreterVersion string) (string, []string) {
			return "python3", []string{"-u"}
		},
		MaxDaemons:       cfg.Worker.MaxDaemons,
		IdleTimeout:      time.Duration(cfg.Worker.IdleTimeoutSeconds) * time.Second,
		ManifestLookup:   manifestLookupFromKB(store),
		BubbleRootFor:    bubbleRootFor,
		MainEnvRoot:      filepath.Join(cfg.InstallRoot, "main"),
		AdmissionLimiter: admissionLimiter,
	})

	healer, err := healing.NewAnalyzer(healing.DefaultRules)
	if err != nil {
		return nil, fmt.Errorf("compile healing rules: %w", err)
	}

	cat, err := locale.New(locale.DefaultTranslations)
	if err != nil {
		return nil, fmt.Errorf("build locale catalog: %w", err)
	}

	telemetryProvider, err := telemetry.New(ctx, telemetry.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(cfg.InstallRoot, "audit.sqlite"))
	var audit *auditlog.Ledger
	if err == nil {
		audit, err = auditlog.New(ctx, db)
	}
	if err != nil {
		audit = nil // audit logging is optional; its absence never blocks an operation.
	}

	doctor := health.New(store, bubbleRootFor, audit, "cli")

	return &App{
		Config:    cfg,
		KB:        store,
		Installer: drv,
		Builder:   builder,
		Snapshots: snaps,
		Workers:   workers,
		Healer:    healer,
		Doctor:    doctor,
		Locale:    cat,
		Audit:     audit,
		Telemetry: telemetryProvider,
		db:        db,
	}, nil
}

// manifestLookupFromKB wires the Runtime Loader Protocol's
// ManifestLookup to the Knowledge Base, the manifest's sole source of
// truth (pkg/bubble.Builder.commit writes it under kb.BubbleKey, never
// to disk — see pkg/health's package doc for the same reasoning).
func manifestLookupFromKB(store kb.KB) loader.ManifestLookup {
	return func(ctx context.Context, name, version string) (*manifest.Manifest, error) {
		raw, err := store.Get(ctx, kb.BubbleKey(name, version))
		if err != nil {
			var nf *bpkgerrors.NotFoundErr
			if errors.As(err, &nf) {
				return nil, nil
			}
			return nil, err
		}
		var m manifest.Manifest
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode manifest for %s==%s: %w", name, version, err)
		}
		return &m, nil
	}
}

func (a *App) Close(ctx context.Context) {
	a.Workers.Shutdown()
	_ = a.KB.Close()
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.Telemetry.Shutdown(ctx)
}

// renderErr prints err through the locale catalog when it's one of the
// taxonomy's CodedErrors, falling back to its raw message otherwise.
func (a *App) renderErr(w io.Writer, err error) {
	if coded, ok := err.(bpkgerrors.CodedError); ok {
		fmt.Fprintf(w, "%serror [%s]:%s %s\n", ColorRed, coded.Code(), ColorReset, coded.Message(a.Config.LanguageCode))
		return
	}
	fmt.Fprintf(w, "%serror:%s %v\n", ColorRed, ColorReset, err)
}
