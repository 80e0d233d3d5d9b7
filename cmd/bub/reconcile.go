package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/bubblepkg/bubblepkg/pkg/health"
)

func runDoctor(args []string, stdout, stderr io.Writer) int {
	configPath, _, err := globalFlags("doctor", args)
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

	report, scanErr := app.Doctor.ScanBubbles(ctx)
	if scanErr != nil {
		app.renderErr(stderr, scanErr)
		return 1
	}

	fmt.Fprintf(stdout, "%sdoctor:%s %d bubble(s) checked\n", ColorBold, ColorReset, len(report.Checks))
	for _, c := range report.Checks {
		color := ColorGreen
		if c.Status == health.StatusFail {
			color = ColorRed
		}
		fmt.Fprintf(stdout, "  [%s%s%s] %s", color, c.Status, ColorReset, c.Name)
		if c.Detail != "" {
			fmt.Fprintf(stdout, " — %s", c.Detail)
		}
		fmt.Fprintln(stdout)
	}

	if !report.AllOK() {
		return 3
	}
	return 0
}

func runPrune(args []string, stdout, stderr io.Writer) int {
	configPath, _, err := globalFlags("prune", args)
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

	bubbled, err := bubbledVersions(ctx, app.KB)
	if err != nil {
		app.renderErr(stderr, err)
		return 1
	}
	active, err := activePackages(ctx, app.KB)
	if err != nil {
		app.renderErr(stderr, err)
		return 1
	}

	pruned := 0
	for name, versions := range bubbled {
		activeVersion := active[name]
		for _, version := range versions {
			if version == activeVersion {
				// Never prune the version currently active in the
				// main environment, even if nothing else references
				// its bubble.
				continue
			}
			result, verifyErr := app.Doctor.VerifyBubble(ctx, name, version)
			if verifyErr != nil {
				continue
			}
			if result.Status != health.StatusOK {
				dir := app.Builder.BubbleRootFor(name, version)
				if rmErr := os.RemoveAll(dir); rmErr != nil {
					fmt.Fprintf(stderr, "%swarning:%s could not remove %s==%s: %v\n", ColorYellow, ColorReset, name, version, rmErr)
					continue
				}
				pruned++
				fmt.Fprintf(stdout, "pruned orphaned bubble %s==%s\n", name, version)
			}
		}
	}

	fmt.Fprintf(stdout, "%d orphaned bubble(s) pruned\n", pruned)
	return 0
}

func runRebuildKB(args []string, stdout, stderr io.Writer) int {
	configPath, _, err := globalFlags("rebuild-kb", args)
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

	report, rebuildErr := app.Doctor.RebuildKB(ctx)
	if rebuildErr != nil {
		app.renderErr(stderr, rebuildErr)
		return 1
	}

	for _, c := range report.Checks {
		fmt.Fprintf(stdout, "  %s: %s\n", c.Name, c.Detail)
	}
	fmt.Fprintf(stdout, "%d package(s) reindexed\n", len(report.Checks))
	return 0
}
