package store

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cascadedb/cascade/pkg/deltamap"
	"github.com/cascadedb/cascade/pkg/types"
	"github.com/hashicorp/raft"
)

const (
	opPut    = "put"
	opRemove = "remove"
	opRead   = "read"
)

// Command is one entry in the shard's Raft log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

func (c Command) marshal() ([]byte, error) {
	return json.Marshal(c)
}

// CmdPut carries a client's put, including its optimistic-concurrency
// assertions.
type CmdPut struct {
	Key                  string `json:"key"`
	Blob                 []byte `json:"blob"`
	PreviousVersion      int64  `json:"previous_version"`
	PreviousVersionByKey int64  `json:"previous_version_by_key"`
	MessageID            uint64 `json:"message_id"`
}

// CmdRemove carries a client's remove; per §6.4 it takes no version
// assertions.
type CmdRemove struct {
	Key string `json:"key"`
}

// CmdRead carries a multi_get's ordered read barrier.
type CmdRead struct {
	Key string `json:"key"`
}

// FSM implements raft.FSM. Apply runs single-threaded, on the raft
// goroutine that processes committed log entries in order — this is the
// "ordered delivery callback" of §5; all current-map mutation happens here.
type FSM struct {
	shard *Shard
}

// Apply dispatches a committed command to the shard's state.
func (f *FSM) Apply(l *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return fmt.Errorf("store: unmarshal command: %w", err)
	}

	switch cmd.Op {
	case opPut:
		return f.applyPut(cmd.Data)
	case opRemove:
		return f.applyRemove(cmd.Data)
	case opRead:
		return f.applyRead(cmd.Data)
	default:
		return fmt.Errorf("store: unknown command %q", cmd.Op)
	}
}

// applyPut assigns (version, timestamp_us), validates the caller's
// optimistic-concurrency assertions against the observed chain (§3.2
// invariant 3), and applies the object to the current map.
func (f *FSM) applyPut(data json.RawMessage) interface{} {
	var cmd CmdPut
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("store: unmarshal put: %w", err)
	}

	s := f.shard
	s.mu.Lock()
	observedLast := s.lastVersion
	observedByKey := s.dm.Get(cmd.Key).Version

	if cmd.PreviousVersion > observedLast || cmd.PreviousVersionByKey > observedByKey {
		s.mu.Unlock()
		return &PutResult{Version: types.InvalidVersion, TimestampUs: 0, Rejected: true}
	}

	v := observedLast + 1
	ts := nowMicros()
	if ts <= s.lastTimestamp {
		ts = s.lastTimestamp + 1
	}
	s.lastVersion = v
	s.lastTimestamp = ts
	s.mu.Unlock()

	obj := &types.Object{
		Key:                  cmd.Key,
		Blob:                 cmd.Blob,
		Version:              v,
		TimestampUs:          ts,
		PreviousVersion:      observedLast,
		PreviousVersionByKey: observedByKey,
		MessageID:            cmd.MessageID,
	}
	s.dm.Put(cmd.Key, obj)
	deltaBytes := s.dm.CurrentDeltaToBytes()
	if err := s.recordDelta(v, ts, deltaBytes); err != nil {
		return err
	}
	s.publishStable(v)
	s.notifyObserver(obj)

	return &PutResult{Version: v, TimestampUs: ts}
}

// applyRemove tombstones a key. Removal always succeeds and always
// advances the version — §6.4 gives remove no version assertions to
// violate.
func (f *FSM) applyRemove(data json.RawMessage) interface{} {
	var cmd CmdRemove
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("store: unmarshal remove: %w", err)
	}

	s := f.shard
	s.mu.Lock()
	observedLast := s.lastVersion
	observedByKey := s.dm.Get(cmd.Key).Version

	v := observedLast + 1
	ts := nowMicros()
	if ts <= s.lastTimestamp {
		ts = s.lastTimestamp + 1
	}
	s.lastVersion = v
	s.lastTimestamp = ts
	s.mu.Unlock()

	tombstone := s.invalid.Clone()
	tombstone.Key = cmd.Key
	tombstone.Version = v
	tombstone.TimestampUs = ts
	tombstone.PreviousVersion = observedLast
	tombstone.PreviousVersionByKey = observedByKey

	s.dm.Put(cmd.Key, tombstone)
	deltaBytes := s.dm.CurrentDeltaToBytes()
	if err := s.recordDelta(v, ts, deltaBytes); err != nil {
		return err
	}
	s.publishStable(v)
	s.notifyObserver(tombstone)

	return &PutResult{Version: v, TimestampUs: ts}
}

func (f *FSM) applyRead(data json.RawMessage) interface{} {
	var cmd CmdRead
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("store: unmarshal read: %w", err)
	}
	return f.shard.dm.Get(cmd.Key)
}

func nowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}

// fsmSnapshot is raft's own compaction snapshot, independent of the §6.5
// delta-log files: it lets raft truncate its own log without Cascade
// needing to replay every historical delta on a restart that raft itself
// already compacted.
type fsmSnapshot struct {
	Map           map[string]*types.Object
	LastVersion   int64
	LastTimestamp uint64
}

// Snapshot captures the current map for raft's log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	s := f.shard
	s.mu.Lock()
	lastVersion := s.lastVersion
	lastTimestamp := s.lastTimestamp
	s.mu.Unlock()

	return &fsmSnapshot{
		Map:           s.dm.Snapshot(),
		LastVersion:   lastVersion,
		LastTimestamp: lastTimestamp,
	}, nil
}

// Restore replaces the FSM's state wholesale from a raft snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap fsmSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("store: decode fsm snapshot: %w", err)
	}

	s := f.shard
	s.dm = deltamap.New(s.invalid, s.cfg.EvaluationMode)
	for k, v := range snap.Map {
		s.dm.Put(k, v)
	}
	s.dm.CurrentDeltaToBytes() // discard; restore is not itself a delta

	s.mu.Lock()
	s.lastVersion = snap.LastVersion
	s.lastTimestamp = snap.LastTimestamp
	s.history = nil
	s.mu.Unlock()
	s.publishStable(snap.LastVersion)
	return nil
}

// Persist writes the snapshot to raft's SnapshotSink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release releases snapshot resources; fsmSnapshot holds none beyond the
// in-memory map already referenced elsewhere.
func (s *fsmSnapshot) Release() {}
