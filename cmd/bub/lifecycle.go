package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/bubblepkg/bubblepkg/pkg/bpkgerrors"
	"github.com/bubblepkg/bubblepkg/pkg/bubble"
	"github.com/bubblepkg/bubblepkg/pkg/healing"
	"github.com/bubblepkg/bubblepkg/pkg/retry"
)

// interpreterRegistryKey is a simple KB key convention this driver
// owns directly: interpreter adoption is explicitly scoped to the
// consuming front-end, not the core engine (the registry isn't one of
// the packages under pkg/).
func interpreterRegistryKey(version string) string {
	return "cli:interpreter:" + version
}

const activeInterpreterKey = "cli:interpreter:active"

type interpreterRecord struct {
	ExecutablePath string `json:"executable_path"`
	Managed        bool   `json:"managed"`
}

func runSwapInterpreter(args []string, stdout, stderr io.Writer) int {
	configPath, rest, err := globalFlags("swap-interpreter", args)
	if err != nil {
		return 2
	}
	if len(rest) != 1 {
		fmt.Fprintln(stderr, "usage: bub swap-interpreter <version>")
		return 2
	}
	version := rest[0]

	ctx := context.Background()
	app, err := newApp(ctx, configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%serror:%s %v\n", ColorRed, ColorReset, err)
		return 2
	}
	defer app.Close(ctx)

	raw, getErr := app.KB.Get(ctx, interpreterRegistryKey(version))
	if getErr != nil || len(raw) == 0 {
		notFound := bpkgerrors.NewNotFound(fmt.Sprintf("interpreter %s is not adopted, run adopt-interpreter first", version))
		app.renderErr(stderr, notFound)
		return 1
	}
	var rec interpreterRecord
	if jsonErr := json.Unmarshal(raw, &rec); jsonErr != nil {
		app.renderErr(stderr, jsonErr)
		return 1
	}

	if setErr := app.KB.Set(ctx, activeInterpreterKey, []byte(version)); setErr != nil {
		app.renderErr(stderr, setErr)
		return 1
	}

	fmt.Fprintf(stdout, "active interpreter swapped to %s (%s)\n", version, rec.ExecutablePath)
	return 0
}

func runRunScript(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run-script", flag.ContinueOnError)
	var configPath, bubbleSpec, file string
	var heal bool
	fs.StringVar(&configPath, "config", "bubblepkg.yaml", "path to bubblepkg.yaml")
	fs.StringVar(&bubbleSpec, "bubble", "", "bubble spec, name==version, empty for main environment")
	fs.StringVar(&file, "file", "", "path to a script file; reads stdin if empty")
	fs.BoolVar(&heal, "heal", true, "attempt an auto-heal install on failure and retry once")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var code string
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			fmt.Fprintf(stderr, "%serror:%s %v\n", ColorRed, ColorReset, err)
			return 2
		}
		code = string(data)
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(stderr, "%serror:%s %v\n", ColorRed, ColorReset, err)
			return 2
		}
		code = string(data)
	}

	ctx := context.Background()
	app, err := newApp(ctx, configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%serror:%s %v\n", ColorRed, ColorReset, err)
		return 2
	}
	defer app.Close(ctx)

	ctx, done := app.Telemetry.TrackOperation(ctx, "bub.run_script")
	var opErr error
	defer func() { done(opErr) }()

	result, runErr := app.Workers.Execute(ctx, app.Config.InterpreterVersion, bubbleSpec, code)
	if runErr == nil {
		fmt.Fprint(stdout, result.Output)
		if result.ExitCode != 0 {
			return 1
		}
		return 0
	}

	if !heal {
		opErr = runErr
		app.renderErr(stderr, runErr)
		return exitCodeFor(runErr)
	}

	// Auto-heal (spec Section 4.7): classify the failure, install
	// whatever the matched rule resolves to, then retry the run once.
	obs := healing.ErrorObservation{
		Message:           runErr.Error(),
		TargetInterpreter: app.Config.InterpreterVersion,
	}
	plan := app.Healer.Analyze(obs)
	if plan.IsEmpty() {
		opErr = runErr
		app.renderErr(stderr, runErr)
		return exitCodeFor(runErr)
	}

	fmt.Fprintf(stdout, "%sauto-heal:%s matched %s, installing %d requirement(s)\n",
		ColorYellow, ColorReset, strings.Join(plan.MatchedRules, ", "), len(plan.Requirements))

	if app.Installer == nil {
		opErr = runErr
		app.renderErr(stderr, runErr)
		return exitCodeFor(runErr)
	}

	// A fresh request ID per run-script invocation keeps concurrent
	// invocations' backoff jitter independent even when they're healing
	// the same bubble spec at the same moment.
	healErr := retry.Do(ctx, retry.Params{RequestID: "heal:" + uuid.NewString()}, retry.Policy{
		BaseMs: 200, MaxMs: 2000, MaxJitterMs: 100, MaxAttempts: 3,
	}, retry.DefaultClassifier, func(attempt int) error {
		for _, healReq := range plan.Requirements {
			if _, buildErr := app.Builder.Build(ctx, bubble.Request{
				Name:          healReq.Name,
				Version:       healReq.Version,
				CurrentActive: map[string]string{},
			}); buildErr != nil {
				return buildErr
			}
		}
		return nil
	})
	if healErr != nil {
		opErr = healErr
		app.renderErr(stderr, healErr)
		return exitCodeFor(healErr)
	}

	result, retryErr := app.Workers.Execute(ctx, app.Config.InterpreterVersion, bubbleSpec, code)
	if retryErr != nil {
		opErr = retryErr
		app.renderErr(stderr, retryErr)
		return exitCodeFor(retryErr)
	}
	fmt.Fprint(stdout, result.Output)
	if result.ExitCode != 0 {
		return 1
	}
	return 0
}
