// Package checkpoint persists a read-only, diagnostics-only snapshot of
// each agent's last-known lifecycle record to a local BoltDB file so a
// supervisor restart does not lose history for agents that existed
// before it (SPEC_FULL.md §12.1).
//
// The bucket-per-kind store shape, and the marshal-then-Put /
// Get-then-unmarshal access pattern, are adapted directly from the
// teacher's pkg/storage/boltdb.go BoltStore, narrowed to a single bucket
// keyed by agent id since there is only one kind of record here.
// Checkpointed agents are never auto-respawned: re-creating a live OS
// process from a stale on-disk record would violate the "exactly one
// Process Host per live agent id" invariant, so Store only supports
// Save/Load/List/Delete, never a Resume.
package checkpoint
