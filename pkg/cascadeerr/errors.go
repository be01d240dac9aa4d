// Package cascadeerr defines the sentinel error kinds Cascade's read and
// write paths return, per the error handling design (§7). Callers should
// use errors.Is against these sentinels; wrapped context is added with
// fmt.Errorf("...: %w", ...) the way the rest of the codebase does.
package cascadeerr

import "errors"

var (
	// ErrPreviousVersionMismatch is returned when a client's declared
	// previous_version/previous_version_by_key is inconsistent with the
	// shard's observed chain. The write is rejected before it becomes
	// part of the log.
	ErrPreviousVersionMismatch = errors.New("cascade: previous version mismatch")

	// ErrVersionTruncated is returned when a read targets a version older
	// than the oldest retained delta.
	ErrVersionTruncated = errors.New("cascade: version truncated")

	// ErrNotStable is returned when a stable read times out waiting for
	// latest_stable_version to reach the requested watermark.
	ErrNotStable = errors.New("cascade: not stable")

	// ErrNoSuchPool is returned when a pool pathname has no metadata, or
	// its metadata is marked deleted.
	ErrNoSuchPool = errors.New("cascade: no such object pool")

	// ErrPoolAlreadyExists is returned by CreateObjectPool on a duplicate
	// pathname.
	ErrPoolAlreadyExists = errors.New("cascade: object pool already exists")

	// ErrNoMemberAvailable is returned by the router after exhausting a
	// shard's membership under the configured selection policy.
	ErrNoMemberAvailable = errors.New("cascade: no member available")

	// ErrNotLeader is returned when a write is attempted against a
	// non-leader replica.
	ErrNotLeader = errors.New("cascade: not the shard leader")

	// ErrPersistenceWriteFailed marks a persistent shard as having failed
	// to durably append a delta; the shard enters degraded read-only mode.
	ErrPersistenceWriteFailed = errors.New("cascade: persistence write failed")

	// ErrSignatureVerificationFailed indicates the signed chain could not
	// be verified for a requested version; fatal for that read.
	ErrSignatureVerificationFailed = errors.New("cascade: signature verification failed")

	// ErrDeserialization marks a wire-format decode failure.
	ErrDeserialization = errors.New("cascade: deserialization error")
)
