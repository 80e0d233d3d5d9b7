package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/bubblepkg/bubblepkg/pkg/snapshot"
)

// idFromClock derives a deterministic, monotonically-increasing
// snapshot ID from wall-clock time, matching the Store's on-disk
// naming (spec Section 6).
func idFromClock(now time.Time) string {
	return strconv.FormatInt(now.UnixNano(), 10)
}

func runSnapshotCmd(args []string, stdout, stderr io.Writer) int {
	configPath, _, err := globalFlags("snapshot", args)
	if err != nil {
		return 2
	}

	ctx := context.Background()
	app, err := newApp(ctx, configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%serror:%s %v\n", ColorRed, ColorReset, err)
		return 2
	}
	defer app.Close(ctx)

	active, err := activePackages(ctx, app.KB)
	if err != nil {
		app.renderErr(stderr, err)
		return 1
	}

	snap := snapshot.Capture(idFromClock(time.Now()), app.Config.InterpreterVersion, active, "", time.Now())
	if saveErr := app.Snapshots.Save(snap); saveErr != nil {
		app.renderErr(stderr, saveErr)
		return exitCodeFor(saveErr)
	}

	fmt.Fprintf(stdout, "snapshot %s captured (%d packages)\n", snap.ID, len(snap.Packages))
	return 0
}

func runRevert(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("revert", flag.ContinueOnError)
	var configPath, to string
	fs.StringVar(&configPath, "config", "bubblepkg.yaml", "path to bubblepkg.yaml")
	fs.StringVar(&to, "to", "", "snapshot id to revert to, empty for the latest")
	if err := fs.Parse(args); err != nil {
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

	active, err := activePackages(ctx, app.KB)
	if err != nil {
		app.renderErr(stderr, err)
		return 1
	}
	current := snapshot.Capture(idFromClock(time.Now()), app.Config.InterpreterVersion, active, "", time.Now())

	var target *snapshot.Snapshot
	if to == "" {
		target, err = app.Snapshots.Latest()
	} else {
		target, err = app.Snapshots.Load(to)
	}
	if err != nil {
		app.renderErr(stderr, err)
		return 1
	}

	plan := snapshot.ComputePlan(current, target)
	if plan.IsNoop() {
		fmt.Fprintln(stdout, "already at target state, nothing to do")
		return 0
	}

	exec := &snapshot.Executor{
		Driver:      app.Installer,
		Store:       app.Snapshots,
		TargetRoot:  app.Builder.MainEnvRoot,
		ReqFile:     app.Builder.WorkDir + "/revert.reqs",
		ReportFile:  app.Builder.WorkDir + "/revert.report.json",
		NewID:       func() string { return idFromClock(time.Now()) },
		Now:         time.Now,
		Interpreter: app.Config.InterpreterVersion,
	}

	result, applyErr := exec.Apply(ctx, current, plan)
	if applyErr != nil {
		app.renderErr(stderr, applyErr)
		return exitCodeFor(applyErr)
	}

	for _, p := range plan.Reinstall {
		if setErr := setActive(ctx, app, p.Name, p.Version); setErr != nil {
			app.renderErr(stderr, setErr)
			return 1
		}
	}
	for _, p := range plan.FixVersion {
		if setErr := setActive(ctx, app, p.Name, p.Version); setErr != nil {
			app.renderErr(stderr, setErr)
			return 1
		}
	}
	for _, name := range plan.Uninstall {
		if setErr := setActive(ctx, app, name, ""); setErr != nil {
			app.renderErr(stderr, setErr)
			return 1
		}
	}

	fmt.Fprintf(stdout, "reverted to %s, recorded as new snapshot %s (+%d ~%d -%d)\n",
		target.ID, result.ID, len(plan.Reinstall), len(plan.FixVersion), len(plan.Uninstall))
	return 0
}
