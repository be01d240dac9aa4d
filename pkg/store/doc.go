// Package store implements the replicated store core (component B): the
// per-shard state machine that assigns versions and timestamps to ordered
// writes, maintains the per-key and per-shard version chain, and answers
// point, size, and listing queries at a version or wall-clock timestamp.
//
// Ordered delivery is modeled on hashicorp/raft: a Shard's FSM.Apply is the
// single-threaded "ordered delivery callback" of §5, raft.ApplyFuture is the
// asynchronous result future of §9, and raft's own commit index is the
// external ordering primitive's watermark. Durable persistence of the delta
// log (§6.5) is layered independently on top, since it is Cascade's own
// on-disk format rather than raft's log store.
package store
