// Package types holds the wire/data-model structs shared across Cascade's
// storage, signing, and routing packages.
package types

// InvalidVersion marks "unset / invalid / current" per the object model.
const InvalidVersion int64 = -1

// Object is the unit of storage: an opaque blob addressed by key, tagged
// with the version and causal-predecessor metadata the replicated store
// assigns on commit.
type Object struct {
	Key                  string
	Blob                 []byte
	Version              int64
	TimestampUs          uint64
	PreviousVersion      int64
	PreviousVersionByKey int64
	// MessageID is an optional tracing tag, only meaningful (and only
	// present on the wire) when the owning store runs in evaluation mode.
	MessageID uint64
}

// Size returns the blob length, used by get_size/get_size_by_time.
func (o *Object) Size() uint64 {
	if o == nil {
		return 0
	}
	return uint64(len(o.Blob))
}

// Clone returns a deep copy so callers can mutate a returned Object without
// aliasing storage internals.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	blob := make([]byte, len(o.Blob))
	copy(blob, o.Blob)
	clone := *o
	clone.Blob = blob
	return &clone
}

// Equal reports whether two objects carry the same blob. DeltaMap uses
// Equal only to detect "this slot already holds the pool's tombstone", and
// a tombstone's identity is its blob content, not its key or the version at
// which it was written.
func (o *Object) Equal(other *Object) bool {
	if o == nil || other == nil {
		return o == other
	}
	if len(o.Blob) != len(other.Blob) {
		return false
	}
	for i := range o.Blob {
		if o.Blob[i] != other.Blob[i] {
			return false
		}
	}
	return true
}

// NewTombstone builds the sentinel "invalid value" for a pool: an Object
// carrying the given key and no blob. Pools may instead supply their own
// sentinel blob (e.g. a magic marker) by constructing an Object directly.
func NewTombstone(key string) *Object {
	return &Object{Key: key, Version: InvalidVersion, PreviousVersion: InvalidVersion, PreviousVersionByKey: InvalidVersion}
}
