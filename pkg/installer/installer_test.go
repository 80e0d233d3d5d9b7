package installer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubblepkg/bubblepkg/pkg/bpkgerrors"
)

// shEntry builds an Entry that runs a small shell script instead of a
// real package installer, so these tests exercise Driver.Stage's
// parsing/classification without a network-dependent pip/uv install.
func shEntry(script string) Entry {
	return Entry{
		Binary: "/bin/sh",
		ReportArgs: func(requirementsFile, targetRoot, reportFile string) []string {
			return []string{"-c", script, "sh", requirementsFile, targetRoot, reportFile}
		},
	}
}

func lookPathAlwaysFound(string) (string, error) { return "/bin/sh", nil }
func lookPathNeverFound(string) (string, error)  { return "", errors.New("not found") }

func TestNew_SelectsFirstReachableEntry(t *testing.T) {
	d, err := New([]Entry{shEntry("true")}, lookPathAlwaysFound, time.Second)
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestNew_ReturnsUserErrorWhenNoneFound(t *testing.T) {
	_, err := New([]Entry{shEntry("true")}, lookPathNeverFound, time.Second)
	var userErr *bpkgerrors.UserErr
	assert.ErrorAs(t, err, &userErr)
}

func TestPreflight_SatisfiedWhenAllVersionsMatch(t *testing.T) {
	d, err := New([]Entry{shEntry("true")}, lookPathAlwaysFound, time.Second)
	require.NoError(t, err)

	result := d.Preflight(
		[]Requirement{{Name: "requests", Version: "2.31.0"}},
		map[string]string{"requests": "2.31.0"},
	)
	assert.True(t, result.Satisfied)
	assert.Empty(t, result.Delta)
}

func TestPreflight_NeedsWorkOnMismatch(t *testing.T) {
	d, err := New([]Entry{shEntry("true")}, lookPathAlwaysFound, time.Second)
	require.NoError(t, err)

	result := d.Preflight(
		[]Requirement{{Name: "requests", Version: "2.31.0"}},
		map[string]string{"requests": "2.25.0"},
	)
	assert.False(t, result.Satisfied)
	assert.Equal(t, []Requirement{{Name: "requests", Version: "2.31.0"}}, result.Delta)
}

func TestVersionReorder_DelegatesToSemverPackage(t *testing.T) {
	d, err := New([]Entry{shEntry("true")}, lookPathAlwaysFound, time.Second)
	require.NoError(t, err)

	got := d.VersionReorder([]Requirement{
		{Name: "X", Version: "1.0.0"},
		{Name: "X", Version: "2.0.0"},
	})
	want := []Requirement{
		{Name: "X", Version: "2.0.0"},
		{Name: "X", Version: "1.0.0"},
	}
	assert.Equal(t, want, got)
}

func TestStage_ParsesReportOnSuccess(t *testing.T) {
	reportPath := filepath.Join(t.TempDir(), "report.json")
	// $3 is the report file path passed through ReportArgs.
	script := `cat > "$3" <<'EOF'
{"install":[{"name":"requests","version":"2.31.0","previous_state":"absent"}]}
EOF`
	d, err := New([]Entry{shEntry(script)}, lookPathAlwaysFound, 5*time.Second)
	require.NoError(t, err)

	result, err := d.Stage(context.Background(), nil, t.TempDir(), "", reportPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"requests"}, result.Installed)
	assert.Equal(t, []string{"requests"}, result.Added)
}

func TestStage_NonZeroExitWithParseableReportSurfacesInstallFailed(t *testing.T) {
	reportPath := filepath.Join(t.TempDir(), "report.json")
	script := `cat > "$3" <<'EOF'
{"install":[]}
EOF
exit 1`
	d, err := New([]Entry{shEntry(script)}, lookPathAlwaysFound, 5*time.Second)
	require.NoError(t, err)

	_, err = d.Stage(context.Background(), nil, t.TempDir(), "", reportPath)
	var installFailed *bpkgerrors.InstallFailedErr
	assert.ErrorAs(t, err, &installFailed)
}

func TestStage_NonZeroExitWithoutReportSurfacesInstallerProtocolError(t *testing.T) {
	reportPath := filepath.Join(t.TempDir(), "does-not-exist.json")
	d, err := New([]Entry{shEntry("exit 1")}, lookPathAlwaysFound, 5*time.Second)
	require.NoError(t, err)

	_, err = d.Stage(context.Background(), nil, t.TempDir(), "", reportPath)
	var protoErr *bpkgerrors.InstallerProtocolErr
	assert.ErrorAs(t, err, &protoErr)
}

func TestStage_TimeoutSurfacesInstallTimeout(t *testing.T) {
	reportPath := filepath.Join(t.TempDir(), "report.json")
	d, err := New([]Entry{shEntry("sleep 5")}, lookPathAlwaysFound, 20*time.Millisecond)
	require.NoError(t, err)

	_, err = d.Stage(context.Background(), nil, t.TempDir(), "", reportPath)
	var timeoutErr *bpkgerrors.InstallTimeoutErr
	assert.ErrorAs(t, err, &timeoutErr)
}

func TestStderrTail_KeepsOnlyLastLines(t *testing.T) {
	var lines string
	for i := 0; i < 30; i++ {
		lines += "line\n"
	}
	tail := stderrTail(lines)
	assert.Equal(t, 20, len(strings.Split(tail, "\n")))
}
