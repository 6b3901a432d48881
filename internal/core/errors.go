package core

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every typed error below except ConflictError satisfies
// errors.Is against one of these via Unwrap, so callers can branch with errors.Is instead of a
// type switch, per spec §7's error-taxonomy intent.
var (
	ErrManifestMissing    = errors.New("manifest missing")
	ErrManifestMalformed  = errors.New("manifest malformed")
	ErrLockfileStale      = errors.New("lockfile stale")
	ErrPackageNotFound    = errors.New("package not found")
	ErrVersionNotFound    = errors.New("version not found")
	ErrUnsatisfiableRange = errors.New("unsatisfiable range")
	ErrRegistry           = errors.New("registry error")
	ErrArchive            = errors.New("archive error")
	ErrIO                 = errors.New("io error")
)

// ManifestMissingError indicates jelly.json does not exist.
type ManifestMissingError struct {
	Path string
}

func (e *ManifestMissingError) Error() string {
	return fmt.Sprintf("manifest missing: %s", e.Path)
}

func (e *ManifestMissingError) Unwrap() error { return ErrManifestMissing }

// ManifestMalformedError indicates jelly.json exists but failed to parse
// or violates a data-model invariant (e.g. a package in two dep maps).
type ManifestMalformedError struct {
	Path  string
	Cause error
}

func (e *ManifestMalformedError) Error() string {
	return fmt.Sprintf("manifest malformed: %s: %v", e.Path, e.Cause)
}

func (e *ManifestMalformedError) Unwrap() error { return ErrManifestMalformed }

// LockfileStaleError indicates the lockfile disagrees with the manifest.
// It is recoverable: the caller regenerates.
type LockfileStaleError struct {
	Reason string
}

func (e *LockfileStaleError) Error() string {
	return fmt.Sprintf("lockfile stale: %s", e.Reason)
}

func (e *LockfileStaleError) Unwrap() error { return ErrLockfileStale }

// PackageNotFoundError indicates the registry has no such PackageId at all.
type PackageNotFoundError struct {
	Id PackageId
}

func (e *PackageNotFoundError) Error() string {
	return fmt.Sprintf("package not found: %s", e.Id)
}

func (e *PackageNotFoundError) Unwrap() error { return ErrPackageNotFound }

// VersionNotFoundError indicates no published version of Id satisfies Range.
type VersionNotFoundError struct {
	Id    PackageId
	Range Range
}

func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("no version of %s satisfies %q", e.Id, e.Range.String())
}

func (e *VersionNotFoundError) Unwrap() error { return ErrVersionNotFound }

// UnsatisfiableRangeError indicates the Resolver found no version
// satisfying the intersection of every requirer's range for Id.
type UnsatisfiableRangeError struct {
	Id         PackageId
	RequiredBy []RequiredBy
}

func (e *UnsatisfiableRangeError) Error() string {
	return fmt.Sprintf("unsatisfiable range for %s (required by %d requirer(s))", e.Id, len(e.RequiredBy))
}

func (e *UnsatisfiableRangeError) Unwrap() error { return ErrUnsatisfiableRange }

// RegistryError is a transport/server-side failure talking to the registry.
type RegistryError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry error: HTTP %d on %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *RegistryError) Unwrap() error { return ErrRegistry }

// ArchiveError indicates a malformed zip, a traversal attempt, or a
// write failure while materializing an archive to disk.
type ArchiveError struct {
	Path  string
	Cause error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive error at %s: %v", e.Path, e.Cause)
}

func (e *ArchiveError) Unwrap() error { return ErrArchive }

// IoError wraps any other filesystem failure.
type IoError struct {
	Path  string
	Cause error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("io error at %s: %v", e.Path, e.Cause)
}

func (e *IoError) Unwrap() error { return ErrIO }

// ConflictError carries a non-empty conflict list. Install/add do not use
// it: they return conflicts in-band as a plain []Conflict alongside
// success. The Engine returns a ConflictError only from AnalyzeStrict when
// AnalyzeOptions.StrictConflicts is set (spec §9 Open Question 1). It has
// no sentinel.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%d unresolved conflict(s)", len(e.Conflicts))
}
