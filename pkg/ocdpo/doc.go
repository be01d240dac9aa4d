// Package ocdpo implements the off-critical-data-path dispatch (component
// E): user observers run after a commit, off the ordered-delivery thread,
// and may emit follow-on writes back into the store.
//
// Dispatch runs on a bounded worker pool with a stopCh/sync.WaitGroup
// bounded-grace shutdown, fanning commits out over per-worker buffered
// channels to every registered observer.
package ocdpo
