// Package pooldir implements the object-pool directory and key routing
// (component D): pool metadata lives in an ordinary store.Shard, keyed by
// pathname, so pool creation and lookup reuse the same versioned-write and
// stable-read machinery as any other data — no bespoke registry type.
package pooldir
