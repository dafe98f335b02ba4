// Package errs defines the error-kind taxonomy shared across the build
// engine: Graph, Cache, Build, Io and Internal errors, each carrying enough
// context for the CLI to pick an exit code and format a user-facing message.
package errs

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind classifies an error for propagation and reporting purposes.
type Kind int

const (
	// Unknown is the zero value; prefer a specific Kind.
	Unknown Kind = iota
	// Graph covers cycles, missing dependencies, and duplicate ids
	// introduced by discovery. Graph errors surface immediately and fail
	// the build before scheduling.
	Graph
	// Cache covers signature-verify failures, version mismatches, corrupt
	// blobs and invalid UTF-8. Always recovered locally: the offending
	// blob is discarded and the cache starts empty.
	Cache
	// Build covers handler failure, missing output, timeout and
	// cancellation. Fails the node and cascades to dependents but does
	// not abort the rest of the build unless fail-fast is configured.
	Build
	// Io covers unreadable files and unwritable directories. Some classes
	// are retryable (see IsTransient).
	Io
	// Internal covers invariant violations, e.g. pendingDeps underflow.
	// Always fatal.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Graph:
		return "GraphError"
	case Cache:
		return "CacheError"
	case Build:
		return "BuildError"
	case Io:
		return "IoError"
	case Internal:
		return "InternalError"
	default:
		return "UnknownError"
	}
}

// Error is the concrete error type produced by every component in this
// module. It wraps an underlying cause and tags it with a Kind and, where
// applicable, the offending target.
type Error struct {
	Kind   Kind
	Target string // TargetId, empty if not target-scoped
	Reason string // short machine-checkable tag, e.g. "MissingOutput", "Timeout", "Cancelled"
	Err    error
}

func (e *Error) Error() string {
	if e.Target != "" {
		if e.Reason != "" {
			return fmt.Sprintf("%s(%s) %s: %v", e.Kind, e.Target, e.Reason, e.Err)
		}
		return fmt.Sprintf("%s(%s): %v", e.Kind, e.Target, e.Err)
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind, optional target and reason.
func New(kind Kind, target, reason string, err error) *Error {
	return &Error{Kind: kind, Target: target, Reason: reason, Err: err}
}

// Wrapf builds a Kind error from a format string, mirroring the teacher's
// pervasive xerrors.Errorf("...: %w", err) wrapping idiom.
func Wrapf(kind Kind, target string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Target: target, Err: xerrors.Errorf(format, args...)}
}

// KindOf extracts the Kind of err, walking the Unwrap chain. Returns Unknown
// if no *Error is found.
func KindOf(err error) Kind {
	var e *Error
	if xerrors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// transientReasons are the default retryable Build-error reasons (spec §4.9
// Retries): process spawn failures and transient I/O are retried up to 3
// times with backoff; deterministic errors are not.
var transientReasons = map[string]bool{
	"ProcessSpawn": true,
	"IoTransient":  true,
}

// IsTransient reports whether err's Reason is in the configured transient
// set, making it eligible for the Executor's retry loop.
func IsTransient(err error) bool {
	var e *Error
	if !xerrors.As(err, &e) {
		return false
	}
	return transientReasons[e.Reason]
}

// SetTransient overrides the transient-error classification, mirroring the
// "configurable" language in spec §4.9.
func SetTransient(reasons []string) {
	m := make(map[string]bool, len(reasons))
	for _, r := range reasons {
		m[r] = true
	}
	transientReasons = m
}
