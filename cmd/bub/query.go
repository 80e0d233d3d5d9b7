package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/bubblepkg/bubblepkg/pkg/kb"
	"github.com/bubblepkg/bubblepkg/pkg/manifest"
)

const (
	pkgVersionsSuffix = ":versions"
	pkgActiveSuffix   = ":active"
)

// activePackages scans pkg:<name>:active entries and returns the
// name -> active version map, skipping names uninstalled via an
// empty-valued Set (see runUninstall).
func activePackages(ctx context.Context, store kb.KB) (map[string]string, error) {
	it, err := store.Scan(ctx, "pkg:")
	if err != nil {
		return nil, fmt.Errorf("scan pkg:*: %w", err)
	}
	defer func() { _ = it.Close() }()

	out := map[string]string{}
	for it.Next(ctx) {
		if !strings.HasSuffix(it.Key(), pkgActiveSuffix) {
			continue
		}
		val := it.Value()
		if len(val) == 0 {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(it.Key(), "pkg:"), pkgActiveSuffix)
		out[name] = string(val)
	}
	return out, it.Err()
}

// bubbledVersions scans bubble:<name>:<version> manifests (skipping
// the :build lock keys pkg/bubble's Build writes) and returns the
// name -> sorted-versions map.
func bubbledVersions(ctx context.Context, store kb.KB) (map[string][]string, error) {
	it, err := store.Scan(ctx, "bubble:")
	if err != nil {
		return nil, fmt.Errorf("scan bubble:*: %w", err)
	}
	defer func() { _ = it.Close() }()

	out := map[string][]string{}
	for it.Next(ctx) {
		if strings.HasSuffix(it.Key(), ":build") {
			continue
		}
		var m manifest.Manifest
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			continue
		}
		out[m.PackageName] = append(out[m.PackageName], m.Version)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	for name := range out {
		sort.Strings(out[name])
	}
	return out, nil
}

func runList(args []string, stdout, stderr io.Writer) int {
	configPath, _, err := globalFlags("list", args)
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
	bubbled, err := bubbledVersions(ctx, app.KB)
	if err != nil {
		app.renderErr(stderr, err)
		return 1
	}

	names := make([]string, 0, len(bubbled))
	seen := map[string]bool{}
	for name := range active {
		names = append(names, name)
		seen[name] = true
	}
	for name := range bubbled {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	if len(names) == 0 {
		fmt.Fprintln(stdout, "no packages installed")
		return 0
	}

	for _, name := range names {
		line := name
		if v, ok := active[name]; ok {
			line += fmt.Sprintf(" %s==%s%s (active)", ColorGreen, v, ColorReset)
		}
		if vs, ok := bubbled[name]; ok {
			line += fmt.Sprintf("  [bubbles: %s]", strings.Join(vs, ", "))
		}
		fmt.Fprintln(stdout, line)
	}
	return 0
}

func runInfo(args []string, stdout, stderr io.Writer) int {
	configPath, rest, err := globalFlags("info", args)
	if err != nil {
		return 2
	}
	if len(rest) != 1 {
		fmt.Fprintln(stderr, "usage: bub info <name>[==version]")
		return 2
	}

	ctx := context.Background()
	app, err := newApp(ctx, configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%serror:%s %v\n", ColorRed, ColorReset, err)
		return 2
	}
	defer app.Close(ctx)

	name, version, hasVersion := strings.Cut(rest[0], "==")
	name = strings.ToLower(name)

	if !hasVersion {
		raw, getErr := app.KB.Get(ctx, kb.PackageActiveKey(name))
		if getErr != nil || len(raw) == 0 {
			fmt.Fprintf(stderr, "%s has no active version and no version was given\n", name)
			return 1
		}
		version = string(raw)
	}

	raw, getErr := app.KB.Get(ctx, kb.BubbleKey(name, version))
	if getErr != nil {
		fmt.Fprintf(stdout, "%s==%s: not bubbled (installed in main environment, if active)\n", name, version)
		return 0
	}
	var m manifest.Manifest
	if jsonErr := json.Unmarshal(raw, &m); jsonErr != nil {
		app.renderErr(stderr, jsonErr)
		return 1
	}

	fmt.Fprintf(stdout, "%s%s==%s%s\n", ColorBold, m.PackageName, m.Version, ColorReset)
	fmt.Fprintf(stdout, "  entries:      %d\n", len(m.Entries))
	fmt.Fprintf(stdout, "  size:         %d bytes (%d deduped)\n", m.SizeBytes, m.DedupSavings())
	fmt.Fprintf(stdout, "  content hash: %s\n", m.ContentHash)
	fmt.Fprintf(stdout, "  created:      %s\n", m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	if len(m.ProvidedModules) > 0 {
		fmt.Fprintf(stdout, "  modules:      %s\n", strings.Join(m.ProvidedModules, ", "))
	}
	if m.Signature != nil {
		fmt.Fprintf(stdout, "  signed by:    %s (%s)\n", m.Signature.SignerID, m.Signature.Algorithm)
	}
	return 0
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	configPath, _, err := globalFlags("status", args)
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
	bubbled, err := bubbledVersions(ctx, app.KB)
	if err != nil {
		app.renderErr(stderr, err)
		return 1
	}
	bubbleCount := 0
	for _, vs := range bubbled {
		bubbleCount += len(vs)
	}

	schema, err := app.KB.SchemaVersion(ctx)
	if err != nil {
		app.renderErr(stderr, err)
		return 1
	}

	fmt.Fprintf(stdout, "%sinterpreter:%s   %s\n", ColorBold, ColorReset, app.Config.InterpreterVersion)
	fmt.Fprintf(stdout, "%skb backend:%s    %s (schema v%d)\n", ColorBold, ColorReset, app.Config.KBBackend, schema)
	fmt.Fprintf(stdout, "%spackages:%s      %d active\n", ColorBold, ColorReset, len(active))
	fmt.Fprintf(stdout, "%sbubbles:%s       %d\n", ColorBold, ColorReset, bubbleCount)
	fmt.Fprintf(stdout, "%sworker daemons:%s %d warm\n", ColorBold, ColorReset, app.Workers.Size())
	if app.Installer == nil {
		fmt.Fprintf(stdout, "%sinstaller:%s     %snone found on PATH%s\n", ColorBold, ColorReset, ColorYellow, ColorReset)
	} else {
		fmt.Fprintf(stdout, "%sinstaller:%s     available\n", ColorBold, ColorReset)
	}
	if app.Audit == nil {
		fmt.Fprintf(stdout, "%saudit log:%s     %sdisabled%s\n", ColorBold, ColorReset, ColorYellow, ColorReset)
	} else {
		fmt.Fprintf(stdout, "%saudit log:%s     enabled\n", ColorBold, ColorReset)
	}
	return 0
}
