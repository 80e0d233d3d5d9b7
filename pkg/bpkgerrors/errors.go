// Package bpkgerrors defines the typed error taxonomy shared across the
// bubblepkg core engine (Section 7 of the design spec).
package bpkgerrors

import (
	"fmt"
)

// Code is a stable, user-facing error code.
type Code string

const (
	CodeUserError            Code = "USER_ERROR"
	CodeConflict             Code = "CONFLICT"
	CodeInstallFailed        Code = "INSTALL_FAILED"
	CodeInstallerProtocol    Code = "INSTALLER_PROTOCOL_ERROR"
	CodeInstallTimeout       Code = "INSTALL_TIMEOUT"
	CodeVerificationFailed   Code = "VERIFICATION_FAILED"
	CodeBubbleCorrupted      Code = "BUBBLE_CORRUPTED"
	CodeBubbleNotFound       Code = "BUBBLE_NOT_FOUND"
	CodeLocked               Code = "LOCKED"
	CodeBackendUnavailable   Code = "BACKEND_UNAVAILABLE"
	CodeSchemaMismatch       Code = "SCHEMA_MISMATCH"
	CodeCancelled            Code = "CANCELLED"
	CodeNotFound             Code = "NOT_FOUND"
)

// CodedError is implemented by every error in the taxonomy. Callers branch
// on Code() (or errors.As onto the concrete type) rather than parsing
// messages.
type CodedError interface {
	error
	Code() Code
	// Message returns a user-facing message. lang is a BCP-47-ish tag
	// ("en", "es", ...); unknown tags fall back to English.
	Message(lang string) string
}

// base implements the boilerplate shared by every coded error.
type base struct {
	code    Code
	detail  string
	wrapped error
}

func (b *base) Error() string {
	if b.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", b.code, b.detail, b.wrapped)
	}
	return fmt.Sprintf("%s: %s", b.code, b.detail)
}

func (b *base) Code() Code   { return b.code }
func (b *base) Unwrap() error { return b.wrapped }

func (b *base) Message(lang string) string {
	return messageCatalog.render(lang, string(b.code), b.detail)
}

// UserErr reports a bad request: unknown package, malformed spec. Never
// retried.
type UserErr struct{ base }

func NewUserError(detail string) *UserErr {
	return &UserErr{base{code: CodeUserError, detail: detail}}
}

// ConflictErr reports a KB write race on a key group. Retryable up to a
// small bound.
type ConflictErr struct{ base }

func NewConflict(keyGroup string) *ConflictErr {
	return &ConflictErr{base{code: CodeConflict, detail: "concurrent writer committed to key group " + keyGroup}}
}

// InstallFailedErr wraps a parseable installer failure.
type InstallFailedErr struct {
	base
	Phase      string
	StderrTail string
}

func NewInstallFailed(phase, stderrTail string, cause error) *InstallFailedErr {
	return &InstallFailedErr{
		base:       base{code: CodeInstallFailed, detail: fmt.Sprintf("installer failed during %s", phase), wrapped: cause},
		Phase:      phase,
		StderrTail: stderrTail,
	}
}

// InstallerProtocolErr reports installer output that could not be parsed.
type InstallerProtocolErr struct{ base }

func NewInstallerProtocolError(detail string, cause error) *InstallerProtocolErr {
	return &InstallerProtocolErr{base{code: CodeInstallerProtocol, detail: detail, wrapped: cause}}
}

// InstallTimeoutErr reports an installer subprocess deadline exceeded.
type InstallTimeoutErr struct{ base }

func NewInstallTimeout(detail string) *InstallTimeoutErr {
	return &InstallTimeoutErr{base{code: CodeInstallTimeout, detail: detail}}
}

// VerificationFailedErr reports a failed bubble smoke-import after
// exhausting repair attempts.
type VerificationFailedErr struct {
	base
	Attempts int
}

func NewVerificationFailed(detail string, attempts int) *VerificationFailedErr {
	return &VerificationFailedErr{
		base:     base{code: CodeVerificationFailed, detail: detail},
		Attempts: attempts,
	}
}

// BubbleCorruptedErr reports a manifest/file hash mismatch.
type BubbleCorruptedErr struct{ base }

func NewBubbleCorrupted(name, version string) *BubbleCorruptedErr {
	return &BubbleCorruptedErr{base{code: CodeBubbleCorrupted, detail: fmt.Sprintf("bubble %s-%s manifest does not match disk contents", name, version)}}
}

// BubbleNotFoundErr reports activation of a missing bubble.
type BubbleNotFoundErr struct{ base }

func NewBubbleNotFound(name, version string) *BubbleNotFoundErr {
	return &BubbleNotFoundErr{base{code: CodeBubbleNotFound, detail: fmt.Sprintf("no bubble for %s==%s", name, version)}}
}

// LockedErr reports a held cross-process lock.
type LockedErr struct {
	base
	HolderPID  int
	HolderHost string
}

func NewLocked(holderPID int, holderHost string) *LockedErr {
	return &LockedErr{
		base:       base{code: CodeLocked, detail: fmt.Sprintf("install root locked by pid %d on %s", holderPID, holderHost)},
		HolderPID:  holderPID,
		HolderHost: holderHost,
	}
}

// BackendUnavailableErr reports a KB startup failure (fatal, triggers
// fallback).
type BackendUnavailableErr struct{ base }

func NewBackendUnavailable(backend string, cause error) *BackendUnavailableErr {
	return &BackendUnavailableErr{base{code: CodeBackendUnavailable, detail: "KB backend unavailable: " + backend, wrapped: cause}}
}

// SchemaMismatchErr reports a KB schema version mismatch (triggers
// rebuild).
type SchemaMismatchErr struct{ base }

func NewSchemaMismatch(want, got int) *SchemaMismatchErr {
	return &SchemaMismatchErr{base{code: CodeSchemaMismatch, detail: fmt.Sprintf("KB schema version %d does not match expected %d", got, want)}}
}

// CancelledErr reports a caller-requested cancellation. No partial commit.
type CancelledErr struct{ base }

func NewCancelled(detail string) *CancelledErr {
	return &CancelledErr{base{code: CodeCancelled, detail: detail}}
}

// NotFoundErr is a generic lookup miss (package, version, snapshot id).
type NotFoundErr struct{ base }

func NewNotFound(detail string) *NotFoundErr {
	return &NotFoundErr{base{code: CodeNotFound, detail: detail}}
}
