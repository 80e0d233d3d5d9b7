package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/bubblepkg/bubblepkg/pkg/installer"
)

// Executor drives a Plan through the Installer Driver and records the
// resulting state as a new snapshot, whether or not the plan completed
// in full (spec Section 4.4: "partially-applied reverts leave the
// environment in a well-defined intermediate state recorded in a new
// snapshot").
type Executor struct {
	Driver      *installer.Driver
	Store       *Store
	TargetRoot  string
	ReqFile     string
	ReportFile  string
	NewID       func() string
	Now         func() time.Time
	Interpreter string
}

// Apply executes plan against the main environment and snapshots the
// resulting package map. On any step's failure it still records what
// had been applied so far as a new snapshot before returning the
// error — the caller is left with a well-defined state to re-plan
// from, never a silently abandoned partial revert.
func (e *Executor) Apply(ctx context.Context, current *Snapshot, plan Plan) (*Snapshot, error) {
	applied := make(map[string]string, len(current.Packages))
	for k, v := range current.Packages {
		applied[k] = v
	}

	runErr := e.applySteps(ctx, plan, applied)

	snap := Capture(e.NewID(), e.Interpreter, applied, current.LockFileHash, e.Now())
	if saveErr := e.Store.Save(snap); saveErr != nil {
		if runErr != nil {
			return nil, fmt.Errorf("revert failed (%w) and recording intermediate snapshot also failed: %v", runErr, saveErr)
		}
		return nil, saveErr
	}
	if runErr != nil {
		return snap, runErr
	}
	return snap, nil
}

// applySteps drives each plan step through the installer in turn,
// updating applied as each step succeeds, and halting at the first
// failure (spec Section 4.4: "failure at any step halts execution").
func (e *Executor) applySteps(ctx context.Context, plan Plan, applied map[string]string) error {
	for _, target := range plan.Reinstall {
		if err := e.stage(ctx, target); err != nil {
			return fmt.Errorf("reinstall %s==%s: %w", target.Name, target.Version, err)
		}
		applied[target.Name] = target.Version
	}
	for _, target := range plan.FixVersion {
		if err := e.stage(ctx, target); err != nil {
			return fmt.Errorf("fix version %s==%s: %w", target.Name, target.Version, err)
		}
		applied[target.Name] = target.Version
	}
	for _, name := range plan.Uninstall {
		// The installer's stage contract doesn't model an uninstall-only
		// requirement, so an empty-version requirement signals removal:
		// Stage writes it to the requirements file as a bare "name=="
		// line, and how that line is treated is up to the installer tool.
		if err := e.stage(ctx, PackageTarget{Name: name, Version: ""}); err != nil {
			return fmt.Errorf("uninstall %s: %w", name, err)
		}
		delete(applied, name)
	}
	return nil
}

func (e *Executor) stage(ctx context.Context, target PackageTarget) error {
	_, err := e.Driver.Stage(ctx, []installer.Requirement{{Name: target.Name, Version: target.Version}},
		e.TargetRoot, e.ReqFile, e.ReportFile)
	return err
}
