package main

import (
	"context"
	"flag"
	"fmt"
	"io"
)

// runDaemonStart warms a worker daemon for an interpreter version by
// dispatching a no-op execution, the only way pkg/worker.Pool exposes
// to start a daemon (acquire is unexported, reached only through
// Execute/ExecuteAsync).
func runDaemonStart(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("daemon-start", flag.ContinueOnError)
	var configPath, version string
	fs.StringVar(&configPath, "config", "bubblepkg.yaml", "path to bubblepkg.yaml")
	fs.StringVar(&version, "interpreter", "", "interpreter version to warm, empty for the configured default")
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

	if version == "" {
		version = app.Config.InterpreterVersion
	}

	if _, execErr := app.Workers.Execute(ctx, version, "", "pass"); execErr != nil {
		app.renderErr(stderr, execErr)
		return exitCodeFor(execErr)
	}

	fmt.Fprintf(stdout, "daemon warmed for interpreter %s (%d total warm)\n", version, app.Workers.Size())
	return 0
}

// runDaemonStop shuts down every warm daemon. pkg/worker.Pool's only
// pool-wide stop primitive is Shutdown; it has no per-interpreter stop
// (individual daemons are only retired by LRU eviction or idle
// reaping), so this CLI command stops the whole pool rather than one
// daemon.
func runDaemonStop(args []string, stdout, stderr io.Writer) int {
	configPath, _, err := globalFlags("daemon-stop", args)
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

	before := app.Workers.Size()
	app.Workers.Shutdown()
	fmt.Fprintf(stdout, "stopped %d warm daemon(s)\n", before)
	return 0
}

func runDaemonStatus(args []string, stdout, stderr io.Writer) int {
	configPath, _, err := globalFlags("daemon-status", args)
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

	fmt.Fprintf(stdout, "%d warm daemon(s)\n", app.Workers.Size())
	return 0
}
