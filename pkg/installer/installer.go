// Package installer implements the Installer Driver: the component
// that owns the subprocess relationship with the ecosystem's native
// installer tool (spec Section 4.2). It never retries on its own —
// failure classification and retry live one layer up, in the caller
// that wraps Stage with pkg/retry.
package installer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/bubblepkg/bubblepkg/pkg/bpkgerrors"
	"github.com/bubblepkg/bubblepkg/pkg/semver"
)

// Requirement is a single requested (name, version) pair, e.g. the
// parsed form of "requests==2.31.0".
type Requirement struct {
	Name    string
	Version string
}

// PreflightResult is the outcome of a cheap check against current
// environment metadata.
type PreflightResult struct {
	Satisfied bool
	// Delta holds the requirements not already satisfied, when
	// Satisfied is false.
	Delta []Requirement
}

// StagedResult is the outcome of driving the installer into a target
// root, classified per spec Section 4.2's stage contract.
type StagedResult struct {
	Installed  []string
	Downgraded []string
	Upgraded   []string
	Added      []string
	Removed    []string
}

// installerReport is the shape this package expects a configured
// installer's machine-readable "--report <file>" output to have.
// Real installers vary; each entry in Priority names both the binary
// and how to invoke it for a report (see entry.ReportArgs).
type installerReport struct {
	Install []struct {
		Name          string `json:"name"`
		Version       string `json:"version"`
		PreviousState string `json:"previous_state"` // "absent", "older", "newer", "same"
	} `json:"install"`
	Remove []struct {
		Name string `json:"name"`
	} `json:"remove"`
}

// Entry describes one installer tool in the priority list.
type Entry struct {
	// Binary is the executable name or path, resolved via exec.LookPath
	// by Driver's constructor.
	Binary string
	// ReportArgs builds the argument list for a `stage` invocation
	// given a requirements file path, the target root, and a report
	// output path.
	ReportArgs func(requirementsFile, targetRoot, reportFile string) []string
}

// Driver drives a configured installer subprocess.
type Driver struct {
	entry   Entry
	timeout time.Duration
}

// New selects the first reachable entry of priority (spec Section 4.2:
// "an external tool selected from a configurable priority list") and
// returns a Driver bound to it. Returns UserError if none are found on
// PATH.
func New(priority []Entry, lookPath func(string) (string, error), timeout time.Duration) (*Driver, error) {
	for _, entry := range priority {
		if _, err := lookPath(entry.Binary); err == nil {
			return &Driver{entry: entry, timeout: timeout}, nil
		}
	}
	names := make([]string, len(priority))
	for i, e := range priority {
		names[i] = e.Binary
	}
	return nil, bpkgerrors.NewUserError(fmt.Sprintf("no installer found on PATH, tried: %s", strings.Join(names, ", ")))
}

// DefaultLookPath adapts exec.LookPath to New's lookPath parameter.
func DefaultLookPath(name string) (string, error) { return exec.LookPath(name) }

// VersionReorder sorts requirements newest-first per name, keeping each
// name's group contiguous and the groups in first-seen order, per the
// Reorder-and-Diff algorithm (spec Section 4.2).
func (d *Driver) VersionReorder(reqs []Requirement) []Requirement {
	specs := make([]semver.Spec, len(reqs))
	for i, r := range reqs {
		specs[i] = semver.Spec{Name: r.Name, Version: r.Version}
	}
	reordered := semver.ReorderAndDiff(specs)
	out := make([]Requirement, len(reordered))
	for i, s := range reordered {
		out[i] = Requirement{Name: s.Name, Version: s.Version}
	}
	return out
}

// Preflight checks reqs against installed, a caller-supplied view of
// currently-active versions (name -> version). It never shells out, so
// it completes in sub-second time for already-satisfied sets.
func (d *Driver) Preflight(reqs []Requirement, installed map[string]string) PreflightResult {
	var delta []Requirement
	for _, r := range reqs {
		if active, ok := installed[r.Name]; !ok || active != r.Version {
			delta = append(delta, r)
		}
	}
	return PreflightResult{Satisfied: len(delta) == 0, Delta: delta}
}

// Stage drives the installer to install reqs into targetRoot, isolated
// from the main environment. requirementsFile and reportFile are
// caller-managed temp paths; Stage writes the requirements list to
// requirementsFile (one "name==version" per line) before invoking the
// installer, and reads reportFile back afterward.
func (d *Driver) Stage(ctx context.Context, reqs []Requirement, targetRoot, requirementsFile, reportFile string) (*StagedResult, error) {
	if requirementsFile != "" {
		if err := writeRequirementsFile(requirementsFile, reqs); err != nil {
			return nil, fmt.Errorf("write requirements file: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	args := d.entry.ReportArgs(requirementsFile, targetRoot, reportFile)
	//nolint:gosec // G204: args are built from this package's own Entry, not untrusted input
	cmd := exec.CommandContext(ctx, d.entry.Binary, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if ctx.Err() != nil {
		return nil, bpkgerrors.NewInstallTimeout(fmt.Sprintf("%s timed out after %s", d.entry.Binary, d.timeout))
	}

	report, parseErr := readReport(reportFile)
	if runErr != nil {
		if parseErr != nil {
			return nil, bpkgerrors.NewInstallerProtocolError(
				fmt.Sprintf("%s exited non-zero and produced no parseable report", d.entry.Binary), runErr)
		}
		return nil, bpkgerrors.NewInstallFailed("stage", stderrTail(stderr.String()), runErr)
	}
	if parseErr != nil {
		return nil, bpkgerrors.NewInstallerProtocolError(
			fmt.Sprintf("%s report at %s could not be parsed", d.entry.Binary, reportFile), parseErr)
	}

	return classify(report), nil
}

func classify(report *installerReport) *StagedResult {
	result := &StagedResult{}
	for _, item := range report.Install {
		switch item.PreviousState {
		case "absent":
			result.Installed = append(result.Installed, item.Name)
			result.Added = append(result.Added, item.Name)
		case "older":
			result.Upgraded = append(result.Upgraded, item.Name)
		case "newer":
			result.Downgraded = append(result.Downgraded, item.Name)
		default:
			result.Installed = append(result.Installed, item.Name)
		}
	}
	for _, item := range report.Remove {
		result.Removed = append(result.Removed, item.Name)
	}
	return result
}

func writeRequirementsFile(path string, reqs []Requirement) error {
	var b strings.Builder
	for _, r := range reqs {
		b.WriteString(r.Name)
		b.WriteString("==")
		b.WriteString(r.Version)
		b.WriteString("\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func readReport(path string) (*installerReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report installerReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// stderrTail returns at most the last 20 lines of s, matching the
// bound spec Section 7's InstallFailed.stderr_tail implies ("enough to
// diagnose, not the whole log").
func stderrTail(s string) string {
	scanner := bufio.NewScanner(strings.NewReader(s))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) > 20 {
		lines = lines[len(lines)-20:]
	}
	return strings.Join(lines, "\n")
}
