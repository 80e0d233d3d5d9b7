package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig writes a minimal bubblepkg.yaml rooted at a fresh
// temp directory and returns its path.
func writeTestConfig(t *testing.T) (configPath, installRoot string) {
	t.Helper()
	installRoot = t.TempDir()
	configPath = filepath.Join(t.TempDir(), "bubblepkg.yaml")
	yaml := fmt.Sprintf(`
interpreter_version: "3.11.4"
kb_backend: embedded
install_root: %s
language_code: en
dedup_policy:
  ref_kind: symlink
worker:
  max_daemons: 1
  idle_timeout_seconds: 5
`, installRoot)
	require.NoError(t, os.WriteFile(configPath, []byte(yaml), 0o644))
	return configPath, installRoot
}

// fakePip installs a stub "pip" executable ahead of the real PATH that
// echoes back a successful install report for whatever single
// requirement it's asked to stage, so tests exercise runInstall's
// wiring without a real package index (matching pkg/installer's own
// shEntry fixture, adapted to PATH-based discovery since
// defaultInstallers resolves "pip" via exec.LookPath).
func fakePip(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	script := `#!/bin/sh
reqfile="$5"
reportfile="$7"
line=$(head -n1 "$reqfile")
name="${line%%==*}"
version="${line##*==}"
printf '{"install":[{"name":"%s","version":"%s","previous_state":"absent"}]}\n' "$name" "$version" > "$reportfile"
`
	path := filepath.Join(dir, "pip")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"bub", "help"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "bub")
	assert.Contains(t, stdout.String(), "install")
}

func TestRun_NoArgs_PrintsUsageAndFails(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"bub"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stdout.String(), "USAGE")
}

func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"bub", "not-a-command"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "unknown command")
}

func TestRun_Status_OnFreshInstallRoot(t *testing.T) {
	configPath, _ := writeTestConfig(t)
	var stdout, stderr bytes.Buffer

	code := Run([]string{"bub", "status", "--config", configPath}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "0 active")
	assert.Contains(t, stdout.String(), "embedded")
}

func TestRun_List_EmptyInstallRoot(t *testing.T) {
	configPath, _ := writeTestConfig(t)
	var stdout, stderr bytes.Buffer

	code := Run([]string{"bub", "list", "--config", configPath}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "no packages installed")
}

func TestRun_Doctor_EmptyInstallRootIsClean(t *testing.T) {
	configPath, _ := writeTestConfig(t)
	var stdout, stderr bytes.Buffer

	code := Run([]string{"bub", "doctor", "--config", configPath}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "0 bubble(s) checked")
}

func TestRun_RebuildKB_EmptyInstallRoot(t *testing.T) {
	configPath, _ := writeTestConfig(t)
	var stdout, stderr bytes.Buffer

	code := Run([]string{"bub", "rebuild-kb", "--config", configPath}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "0 package(s) reindexed")
}

func TestRun_InstallThenList_ReflectsActivePackage(t *testing.T) {
	fakePip(t)
	configPath, _ := writeTestConfig(t)

	var installOut, installErr bytes.Buffer
	code := Run([]string{"bub", "install", "--config", configPath, "requests==2.31.0"}, &installOut, &installErr)
	require.Equal(t, 0, code, installErr.String())
	assert.Contains(t, installOut.String(), "installed to main")

	var listOut, listErr bytes.Buffer
	code = Run([]string{"bub", "list", "--config", configPath}, &listOut, &listErr)
	require.Equal(t, 0, code, listErr.String())
	assert.Contains(t, listOut.String(), "requests")
	assert.Contains(t, listOut.String(), "2.31.0")
}

func TestRun_InstallThenUninstall_ClearsActiveVersion(t *testing.T) {
	fakePip(t)
	configPath, _ := writeTestConfig(t)

	var out, errOut bytes.Buffer
	require.Equal(t, 0, Run([]string{"bub", "install", "--config", configPath, "flask==3.0.0"}, &out, &errOut), errOut.String())

	out.Reset()
	errOut.Reset()
	code := Run([]string{"bub", "uninstall", "--config", configPath, "flask"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "uninstalled")

	out.Reset()
	errOut.Reset()
	code = Run([]string{"bub", "list", "--config", configPath}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.NotContains(t, out.String(), "flask==")
}

func TestRun_Install_InvalidSpecIsUserError(t *testing.T) {
	fakePip(t)
	configPath, _ := writeTestConfig(t)

	var out, errOut bytes.Buffer
	code := Run([]string{"bub", "install", "--config", configPath, "not-a-valid-spec"}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "USER_ERROR")
}

func TestRun_SnapshotThenRevert(t *testing.T) {
	fakePip(t)
	configPath, _ := writeTestConfig(t)

	var out, errOut bytes.Buffer
	require.Equal(t, 0, Run([]string{"bub", "install", "--config", configPath, "requests==2.31.0"}, &out, &errOut), errOut.String())

	out.Reset()
	errOut.Reset()
	code := Run([]string{"bub", "snapshot", "--config", configPath}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "captured")

	out.Reset()
	errOut.Reset()
	require.Equal(t, 0, Run([]string{"bub", "install", "--config", configPath, "flask==3.0.0"}, &out, &errOut), errOut.String())

	out.Reset()
	errOut.Reset()
	code = Run([]string{"bub", "revert", "--config", configPath}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "reverted")
}

func TestRun_AdoptThenSwapInterpreter(t *testing.T) {
	configPath, _ := writeTestConfig(t)

	// A real executable on PATH; adopt-interpreter only requires the
	// path to resolve via exec.LookPath.
	shell, err := lookPathForTest("sh")
	require.NoError(t, err)

	var out, errOut bytes.Buffer
	code := Run([]string{"bub", "adopt-interpreter", "--config", configPath, "--version", "3.12.0", "--executable", shell}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "adopted interpreter 3.12.0")

	out.Reset()
	errOut.Reset()
	code = Run([]string{"bub", "swap-interpreter", "--config", configPath, "3.12.0"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "swapped to 3.12.0")
}

func TestRun_RemoveInterpreter_UnknownVersionErrors(t *testing.T) {
	configPath, _ := writeTestConfig(t)

	var out, errOut bytes.Buffer
	code := Run([]string{"bub", "remove-interpreter", "--config", configPath, "9.9.9"}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "NOT_FOUND")
}

func TestRun_DaemonStatus_ZeroWhenIdle(t *testing.T) {
	configPath, _ := writeTestConfig(t)

	var out, errOut bytes.Buffer
	code := Run([]string{"bub", "daemon-status", "--config", configPath}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "0 warm daemon")
}

func lookPathForTest(name string) (string, error) {
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	for _, dir := range []string{"/bin", "/usr/bin"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s not found", name)
}
