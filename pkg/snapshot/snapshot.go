// Package snapshot implements the Snapshot/Revert Engine (spec Section
// 4.4): cheap capture of main-environment package state and the
// symmetric-difference algorithm that turns two snapshots into a
// minimal revert plan.
package snapshot

import "time"

// Snapshot is an immutable record of the package->version map visible
// in the main environment at one point in time, plus enough context to
// detect drift against an out-of-band lock file. Snapshots are
// append-only: nothing in this package ever mutates one in place.
type Snapshot struct {
	ID                 string            `json:"id"`
	InterpreterVersion string            `json:"interpreter_version"`
	CapturedAt         time.Time         `json:"captured_at"`
	Packages           map[string]string `json:"packages"`
	// LockFileHash is the content hash of the installer's dependency
	// lock file at capture time, if the interpreter ecosystem has one.
	// Empty when none was present.
	LockFileHash string `json:"lock_file_hash,omitempty"`
}

// Capture builds a new Snapshot. id is caller-supplied (typically a
// ULID or timestamp-derived string) so Store.Save can be deterministic
// under test.
func Capture(id, interpreterVersion string, packages map[string]string, lockFileHash string, capturedAt time.Time) *Snapshot {
	pkgsCopy := make(map[string]string, len(packages))
	for k, v := range packages {
		pkgsCopy[k] = v
	}
	return &Snapshot{
		ID:                 id,
		InterpreterVersion: interpreterVersion,
		CapturedAt:         capturedAt,
		Packages:           pkgsCopy,
		LockFileHash:       lockFileHash,
	}
}

// PackageTarget names a package and the version a plan step should
// bring it to.
type PackageTarget struct {
	Name    string
	Version string
}

// Plan is the minimal set of operations that takes the main
// environment from a current state to a target snapshot's state (spec
// Section 4.4's revert algorithm: symmetric difference between
// S_curr and S_tgt).
type Plan struct {
	// Reinstall are packages present in the target but absent from
	// current: install at the target version.
	Reinstall []PackageTarget
	// Uninstall are packages present in current but absent from the
	// target.
	Uninstall []string
	// FixVersion are packages present in both but at different
	// versions: install the target's version over the current one.
	FixVersion []PackageTarget
}

// IsNoop reports whether plan has nothing to do, e.g. reverting to the
// current state.
func (p Plan) IsNoop() bool {
	return len(p.Reinstall) == 0 && len(p.Uninstall) == 0 && len(p.FixVersion) == 0
}

// ComputePlan computes the revert plan that would take current to
// target, per spec Section 4.4: packages in target but not current are
// reinstalled, packages in current but not target are uninstalled,
// version mismatches are fixed to target's version.
func ComputePlan(current, target *Snapshot) Plan {
	var plan Plan

	for name, version := range target.Packages {
		currentVersion, present := current.Packages[name]
		switch {
		case !present:
			plan.Reinstall = append(plan.Reinstall, PackageTarget{Name: name, Version: version})
		case currentVersion != version:
			plan.FixVersion = append(plan.FixVersion, PackageTarget{Name: name, Version: version})
		}
	}

	for name := range current.Packages {
		if _, present := target.Packages[name]; !present {
			plan.Uninstall = append(plan.Uninstall, name)
		}
	}

	return plan
}
