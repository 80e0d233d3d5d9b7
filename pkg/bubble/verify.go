package bubble

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// ImportErrorClass categorizes why a smoke import of a provided module
// failed (spec Section 4.3 step 5).
type ImportErrorClass string

const (
	ErrModuleNotFound ImportErrorClass = "ModuleNotFound"
	ErrSymbolNotFound ImportErrorClass = "SymbolNotFound"
	ErrBinaryABI      ImportErrorClass = "BinaryABIError"
)

// ImportResult is the outcome of smoke-importing one provided module.
type ImportResult struct {
	Module  string
	OK      bool
	Class   ImportErrorClass
	Message string
}

// guestRequest is what the WASI guest verifier receives on stdin.
type guestRequest struct {
	Modules    []string `json:"modules"`
	BubbleDir  string   `json:"bubble_dir"`
	MainEnvDir string   `json:"main_env_dir"`
}

// guestResponse is what the guest writes to stdout.
type guestResponse struct {
	Results []ImportResult `json:"results"`
}

// ImportVerifier runs the "isolated sub-process configured to see
// only the bubble + main environment" smoke-import check from spec
// Section 4.3 step 5 as a WASI-sandboxed guest program instead of a
// real interpreter subprocess: the guest can only see its two
// preopened directories, has no network access, and cannot outlive
// the call's context deadline.
type ImportVerifier struct {
	runtime     wazero.Runtime
	guestModule wazero.CompiledModule
	timeout     time.Duration
}

// NewImportVerifier compiles guestWASM (the WASI guest verifier
// binary, built separately and embedded by the caller, e.g. via
// go:embed) under a fresh wazero runtime with a deny-by-default
// module config: no network, no ambient env vars, and filesystem
// access limited to exactly the two directories Verify is called with.
func NewImportVerifier(ctx context.Context, guestWASM []byte, timeout time.Duration) (*ImportVerifier, error) {
	runtime := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, guestWASM)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("compile guest verifier: %w", err)
	}

	return &ImportVerifier{runtime: runtime, guestModule: compiled, timeout: timeout}, nil
}

// VerifyImports smoke-imports each of modules inside the sandbox,
// with bubbleDir and mainEnvDir mounted read-only as the guest's only
// visible filesystem.
func (v *ImportVerifier) VerifyImports(ctx context.Context, bubbleDir, mainEnvDir string, modules []string) ([]ImportResult, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	reqBytes, err := json.Marshal(guestRequest{
		Modules:    modules,
		BubbleDir:  "/bubble",
		MainEnvDir: "/main",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal guest request: %w", err)
	}

	var stdout, stderr bytes.Buffer
	fsConfig := wazero.NewFSConfig().
		WithReadOnlyDirMount(bubbleDir, "/bubble").
		WithReadOnlyDirMount(mainEnvDir, "/main")

	modCfg := wazero.NewModuleConfig().
		WithName("bubble-import-verifier").
		WithStartFunctions("_start").
		WithStdin(bytes.NewReader(reqBytes)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithFSConfig(fsConfig)
		// Deliberately not calling WithSysNanotime/WithRandSource/
		// WithEnv: the guest gets no clock, no randomness, and no
		// inherited environment.

	mod, err := v.runtime.InstantiateModule(ctx, v.guestModule, modCfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("import verifier timed out after %s", v.timeout)
		}
		return nil, fmt.Errorf("instantiate guest verifier: %w, stderr: %s", err, stderr.String())
	}
	defer func() { _ = mod.Close(ctx) }()

	var resp guestResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("parse guest verifier output: %w", err)
	}
	return resp.Results, nil
}

// Close releases the wazero runtime.
func (v *ImportVerifier) Close(ctx context.Context) error {
	return v.runtime.Close(ctx)
}
