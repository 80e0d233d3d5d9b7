package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os/exec"

	"github.com/bubblepkg/bubblepkg/pkg/bpkgerrors"
)

func runAdoptInterpreter(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("adopt-interpreter", flag.ContinueOnError)
	var configPath, version, execPath string
	fs.StringVar(&configPath, "config", "bubblepkg.yaml", "path to bubblepkg.yaml")
	fs.StringVar(&version, "version", "", "interpreter semver, e.g. 3.11.4")
	fs.StringVar(&execPath, "executable", "", "path to the interpreter binary")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if version == "" || execPath == "" {
		fmt.Fprintln(stderr, "usage: bub adopt-interpreter --version <semver> --executable <path>")
		return 2
	}

	ctx := context.Background()
	app, err := newApp(ctx, configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%serror:%s %v\n", ColorRed, ColorReset, err)
		return 2
	}
	defer app.Close(ctx)

	if _, statErr := exec.LookPath(execPath); statErr != nil {
		userErr := bpkgerrors.NewUserError(fmt.Sprintf("%s is not executable: %v", execPath, statErr))
		app.renderErr(stderr, userErr)
		return 1
	}

	rec := interpreterRecord{ExecutablePath: execPath, Managed: true}
	data, marshalErr := json.Marshal(rec)
	if marshalErr != nil {
		app.renderErr(stderr, marshalErr)
		return 1
	}
	if setErr := app.KB.Set(ctx, interpreterRegistryKey(version), data); setErr != nil {
		app.renderErr(stderr, setErr)
		return 1
	}

	fmt.Fprintf(stdout, "adopted interpreter %s at %s\n", version, execPath)
	return 0
}

func runRemoveInterpreter(args []string, stdout, stderr io.Writer) int {
	configPath, rest, err := globalFlags("remove-interpreter", args)
	if err != nil {
		return 2
	}
	if len(rest) != 1 {
		fmt.Fprintln(stderr, "usage: bub remove-interpreter <version>")
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

	if raw, getErr := app.KB.Get(ctx, activeInterpreterKey); getErr == nil && string(raw) == version {
		conflict := bpkgerrors.NewConflict(fmt.Sprintf("interpreter %s is currently active, swap before removing", version))
		app.renderErr(stderr, conflict)
		return 3
	}

	if raw, getErr := app.KB.Get(ctx, interpreterRegistryKey(version)); getErr != nil || len(raw) == 0 {
		notFound := bpkgerrors.NewNotFound(fmt.Sprintf("interpreter %s is not adopted", version))
		app.renderErr(stderr, notFound)
		return 1
	}

	if setErr := app.KB.Set(ctx, interpreterRegistryKey(version), []byte{}); setErr != nil {
		app.renderErr(stderr, setErr)
		return 1
	}

	fmt.Fprintf(stdout, "removed interpreter %s\n", version)
	return 0
}
