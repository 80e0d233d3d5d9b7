package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bubblepkg/bubblepkg/pkg/bpkgerrors"
	"github.com/bubblepkg/bubblepkg/pkg/bubble"
	"github.com/bubblepkg/bubblepkg/pkg/installer"
	"github.com/bubblepkg/bubblepkg/pkg/kb"
)

// parseSpec splits a "name==version" install spec, canonical-lowercase
// normalizing the name per spec Section 3.
func parseSpec(spec string) (installer.Requirement, error) {
	parts := strings.SplitN(spec, "==", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return installer.Requirement{}, bpkgerrors.NewUserError(fmt.Sprintf("invalid spec %q, want name==version", spec))
	}
	return installer.Requirement{Name: strings.ToLower(parts[0]), Version: parts[1]}, nil
}

// setActive records name's active version in the Knowledge Base, or
// clears the entry when version is empty (an uninstall step). The
// SQLite backend's value column is NOT NULL, so a cleared entry is an
// empty byte slice, never nil.
func setActive(ctx context.Context, app *App, name, version string) error {
	if version == "" {
		return app.KB.Set(ctx, kb.PackageActiveKey(name), []byte{})
	}
	return app.KB.Set(ctx, kb.PackageActiveKey(name), []byte(version))
}

func exitCodeFor(err error) int {
	coded, ok := err.(bpkgerrors.CodedError)
	if !ok {
		return 1
	}
	switch coded.Code() {
	case bpkgerrors.CodeConflict, bpkgerrors.CodeLocked:
		return 3
	case bpkgerrors.CodeBackendUnavailable, bpkgerrors.CodeInstallTimeout,
		bpkgerrors.CodeSchemaMismatch, bpkgerrors.CodeInstallerProtocol:
		return 2
	default:
		return 1
	}
}

func runInstall(args []string, stdout, stderr io.Writer) int {
	configPath, specs, err := globalFlags("install", args)
	if err != nil {
		return 2
	}
	if len(specs) == 0 {
		fmt.Fprintln(stderr, "usage: bub install <name==version> [name==version...]")
		return 2
	}

	ctx := context.Background()
	app, err := newApp(ctx, configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%serror:%s %v\n", ColorRed, ColorReset, err)
		return 2
	}
	defer app.Close(ctx)

	if app.Installer == nil {
		fmt.Fprintln(stderr, "no installer tool found on PATH, tried: pip, pip3")
		return 2
	}

	ctx, done := app.Telemetry.TrackOperation(ctx, "bub.install")
	var opErr error
	defer func() { done(opErr) }()

	reqs := make([]installer.Requirement, 0, len(specs))
	for _, spec := range specs {
		req, perr := parseSpec(spec)
		if perr != nil {
			opErr = perr
			app.renderErr(stderr, perr)
			return 1
		}
		reqs = append(reqs, req)
	}
	reqs = app.Installer.VersionReorder(reqs)

	installed := map[string]string{}
	for _, r := range reqs {
		if raw, getErr := app.KB.Get(ctx, kb.PackageActiveKey(r.Name)); getErr == nil {
			installed[r.Name] = string(raw)
		}
	}

	preflight := app.Installer.Preflight(reqs, installed)
	if preflight.Satisfied {
		fmt.Fprintln(stdout, "already satisfied, nothing to do")
		return 0
	}

	workDir := filepath.Join(app.Config.InstallRoot, "work")
	if mkErr := os.MkdirAll(workDir, 0o755); mkErr != nil {
		opErr = mkErr
		fmt.Fprintf(stderr, "%serror:%s %v\n", ColorRed, ColorReset, mkErr)
		return 2
	}

	seen := map[string]bool{}
	for _, req := range reqs {
		if seen[req.Name] {
			// Reorder-and-Diff already put this name's newest version
			// first; every later entry for the same name is
			// unambiguously a downgrade, so it bubbles instead of
			// touching main (spec Section 4.2's reorder rationale).
			m, buildErr := app.Builder.Build(ctx, bubble.Request{
				Name: req.Name, Version: req.Version, CurrentActive: installed,
			})
			if buildErr != nil {
				opErr = buildErr
				app.renderErr(stderr, buildErr)
				return exitCodeFor(buildErr)
			}
			fmt.Fprintf(stdout, "%s==%s bubbled (%d entries, %d bytes deduped)\n",
				req.Name, req.Version, len(m.Entries), m.DedupSavings())
			continue
		}
		seen[req.Name] = true

		reqFile := filepath.Join(workDir, req.Name+"-"+req.Version+".reqs")
		reportFile := filepath.Join(workDir, req.Name+"-"+req.Version+".report.json")
		staged, stageErr := app.Installer.Stage(ctx, []installer.Requirement{req}, app.Builder.MainEnvRoot, reqFile, reportFile)
		if stageErr != nil {
			opErr = stageErr
			app.renderErr(stderr, stageErr)
			return exitCodeFor(stageErr)
		}

		if setErr := app.KB.Set(ctx, kb.PackageActiveKey(req.Name), []byte(req.Version)); setErr != nil {
			opErr = setErr
			fmt.Fprintf(stderr, "%serror:%s %v\n", ColorRed, ColorReset, setErr)
			return 2
		}
		installed[req.Name] = req.Version
		fmt.Fprintf(stdout, "%s==%s installed to main (installed=%d upgraded=%d downgraded=%d)\n",
			req.Name, req.Version, len(staged.Installed), len(staged.Upgraded), len(staged.Downgraded))
	}

	return 0
}

func runUninstall(args []string, stdout, stderr io.Writer) int {
	configPath, names, err := globalFlags("uninstall", args)
	if err != nil {
		return 2
	}
	if len(names) != 1 {
		fmt.Fprintln(stderr, "usage: bub uninstall <name>")
		return 2
	}
	name := strings.ToLower(names[0])

	ctx := context.Background()
	app, err := newApp(ctx, configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%serror:%s %v\n", ColorRed, ColorReset, err)
		return 2
	}
	defer app.Close(ctx)

	ctx, done := app.Telemetry.TrackOperation(ctx, "bub.uninstall")
	var opErr error
	defer func() { done(opErr) }()

	if _, getErr := app.KB.Get(ctx, kb.PackageActiveKey(name)); getErr != nil {
		opErr = getErr
		app.renderErr(stderr, getErr)
		return 1
	}

	if rmErr := os.RemoveAll(filepath.Join(app.Builder.MainEnvRoot, name)); rmErr != nil {
		opErr = rmErr
		fmt.Fprintf(stderr, "%serror:%s %v\n", ColorRed, ColorReset, rmErr)
		return 2
	}
	if setErr := setActive(ctx, app, name, ""); setErr != nil {
		opErr = setErr
		fmt.Fprintf(stderr, "%serror:%s %v\n", ColorRed, ColorReset, setErr)
		return 2
	}

	fmt.Fprintf(stdout, "%s uninstalled\n", name)
	return 0
}
