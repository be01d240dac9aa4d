// Package deltamap implements DeltaMap, the ordered key→value map with an
// appendable delta log that underpins every persistent replica in Cascade.
// It mirrors derecho/cascade's DeltaMap<K, V, IV> template: a current-state
// map plus a list of keys changed since the last checkpoint, with the
// delta itself serialized in the format consumed by §6.2.
package deltamap

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/cascadedb/cascade/pkg/codec"
	"github.com/cascadedb/cascade/pkg/types"
)

// DeltaMap is a string-keyed map of *types.Object with delta-journal
// support. It is the backing store for both a shard's storage pool and a
// signed shard's signature pool (whose values are themselves Objects
// wrapping a hash, per §4.3).
type DeltaMap struct {
	mu           sync.RWMutex
	currentMap   map[string]*types.Object
	pendingDelta []string

	// invalid is the pool's sentinel "tombstone" value. It is never stored
	// by reference: put/remove copy its blob into a fresh Object so the
	// caller's sentinel is never mutated out from under it.
	invalid *types.Object

	// evaluationMode controls whether the canonical encoding used for
	// delta serialization includes the message_id field (§6.1).
	evaluationMode bool
}

// New constructs an empty DeltaMap. invalid is the pool-defined sentinel
// returned by Get for absent or removed keys.
//
// The original DeltaMap::create took a DeserializationManager pointer that
// both of its branches used identically; New has no
// corresponding parameter since there is nothing meaningful to pass.
func New(invalid *types.Object, evaluationMode bool) *DeltaMap {
	return &DeltaMap{
		currentMap:     make(map[string]*types.Object),
		invalid:        invalid,
		evaluationMode: evaluationMode,
	}
}

// Put replaces the entry for key and records key in the pending delta.
func (d *DeltaMap) Put(key string, value *types.Object) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyPut(key, value)
	d.pendingDelta = append(d.pendingDelta, key)
}

// Remove tombstones key. If the key is absent, or already holds the
// sentinel, the call is a no-op (the caller is expected to log a warning);
// otherwise it behaves as Put(key, sentinel) — the delta records a
// tombstone write, never an erasure.
func (d *DeltaMap) Remove(key string) (removed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.currentMap[key]
	if !ok || existing.Equal(d.invalid) {
		return false
	}
	tombstone := d.invalid.Clone()
	tombstone.Key = key
	d.applyPut(key, tombstone)
	d.pendingDelta = append(d.pendingDelta, key)
	return true
}

// Get returns the current value for key, or a copy of the sentinel if
// absent.
func (d *DeltaMap) Get(key string) *types.Object {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if v, ok := d.currentMap[key]; ok {
		return v.Clone()
	}
	return d.invalid.Clone()
}

// Snapshot returns an immutable (deep-copied) view of the current map.
func (d *DeltaMap) Snapshot() map[string]*types.Object {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]*types.Object, len(d.currentMap))
	for k, v := range d.currentMap {
		out[k] = v.Clone()
	}
	return out
}

// ListKeys returns the keys currently holding a non-tombstone value, sorted
// for deterministic iteration.
func (d *DeltaMap) ListKeys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, len(d.currentMap))
	for k, v := range d.currentMap {
		if !v.Equal(d.invalid) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// applyPut mutates current_map directly. Callers must hold d.mu.
func (d *DeltaMap) applyPut(key string, value *types.Object) {
	d.currentMap[key] = value.Clone()
}

// CurrentDeltaSize returns the serialized byte count of the pending delta,
// or 0 if it is empty (empty deltas are never emitted).
func (d *DeltaMap) CurrentDeltaSize() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.currentDeltaSizeLocked()
}

func (d *DeltaMap) currentDeltaSizeLocked() int {
	if len(d.pendingDelta) == 0 {
		return 0
	}
	size := 8 // u64 count
	for _, k := range d.pendingDelta {
		size += 4 + len(k) // canonical string
		size += codec.ObjectSize(d.currentMap[k], d.evaluationMode)
	}
	return size
}

// CurrentDeltaToBytes serializes the pending delta in §6.2 format —
//
//	u64 count
//	repeat count times: <key> <value>
//
// — and clears the pending delta. It returns nil if the delta is empty.
// Unlike the C++ original, which writes into a caller-supplied buffer and
// treats an undersized buffer as fatal, Go's implementation simply
// allocates; there is no fixed-size-buffer failure mode to report.
func (d *DeltaMap) CurrentDeltaToBytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	size := d.currentDeltaSizeLocked()
	if size == 0 {
		return nil
	}
	buf := make([]byte, 0, size)
	var countBytes [8]byte
	binary.LittleEndian.PutUint64(countBytes[:], uint64(len(d.pendingDelta)))
	buf = append(buf, countBytes[:]...)
	for _, k := range d.pendingDelta {
		buf = codec.EncodeString(buf, k)
		buf = codec.EncodeObject(buf, d.currentMap[k], d.evaluationMode)
	}
	d.pendingDelta = nil
	return buf
}

// ApplyDelta reverses CurrentDeltaToBytes, applying every (key, value) pair
// onto current_map. It never touches pendingDelta: deltas applied during
// replay must not themselves produce new deltas. On any corruption
// (truncated length prefix, bad key/value encoding) the whole apply fails
// and the map is left unchanged.
func (d *DeltaMap) ApplyDelta(data []byte) error {
	pairs, err := decodeDeltaPairs(data, d.evaluationMode)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range pairs {
		d.applyPut(p.key, p.value)
	}
	return nil
}

type deltaPair struct {
	key   string
	value *types.Object
}

// decodeDeltaPairs parses a §6.2 delta buffer without mutating any map,
// so a corrupt buffer can be rejected before any state changes.
func decodeDeltaPairs(data []byte, evaluationMode bool) ([]deltaPair, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("deltamap: truncated delta count prefix")
	}
	count := binary.LittleEndian.Uint64(data)
	pos := 8
	// count comes from untrusted bytes; every pair takes more than one byte,
	// so len(data) bounds the capacity a valid buffer can need.
	pairs := make([]deltaPair, 0, min(count, uint64(len(data))))
	for i := uint64(0); i < count; i++ {
		if pos > len(data) {
			return nil, fmt.Errorf("deltamap: truncated delta at pair %d", i)
		}
		key, n, err := codec.DecodeString(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("deltamap: decoding key for pair %d: %w", i, err)
		}
		pos += n
		if pos > len(data) {
			return nil, fmt.Errorf("deltamap: truncated delta value at pair %d", i)
		}
		value, n, err := codec.DecodeObject(data[pos:], evaluationMode)
		if err != nil {
			return nil, fmt.Errorf("deltamap: decoding value for pair %d: %w", i, err)
		}
		pos += n
		pairs = append(pairs, deltaPair{key: key, value: value})
	}
	return pairs, nil
}
