// Package pool implements the PoolDriver abstraction (C1) and the
// Pool/Volume/Snapshot data model and registry (C2).
package pool

import "context"

// SnapshotInfo is the raw snapshot record returned by a driver's
// ListSnapshots, before SnapshotRegistry parses timestamps and assigns
// ordinal roles.
type SnapshotInfo struct {
	ID        string
	Name      string
	SizeBytes uint64
}

// ClusterStats reports the pool's coarse capacity accounting, used by the
// best-effort space-pressure eviction pass.
type ClusterStats struct {
	UsedKB  uint64
	AvailKB uint64
}

// Driver abstracts operations on one block pool. A concrete driver invokes
// the pool CLI (rbd/ceph); ExportDiffCommand and ImportDiffCommand return
// argument vectors rather than executing them, so the engine composes the
// producer/consumer pipe itself and the transport is testable without a
// real cluster (spec.md §4.1).
type Driver interface {
	// Connect establishes the driver's session against the given cluster
	// config file, user, and (optional) keyring path.
	Connect(ctx context.Context, conf, user, keyring string) error
	// Close tears down the session. A Pool is either connected or closed;
	// there is no half-open state.
	Close() error

	ListVolumes(ctx context.Context) ([]string, error)
	// OpenVolume verifies the volume exists, returning an error wrapping
	// errs.ErrNotFound if it does not.
	OpenVolume(ctx context.Context, volume string) error
	CreateVolume(ctx context.Context, volume string, sizeBytes uint64) error

	ListSnapshots(ctx context.Context, volume string) ([]SnapshotInfo, error)
	CreateSnapshot(ctx context.Context, volume, name string) error
	RemoveSnapshot(ctx context.Context, volume, name string) error
	IsProtected(ctx context.Context, volume, name string) (bool, error)
	// Protect sets or clears the "keep" protection flag on a snapshot, used
	// by RetentionPlanner's rule-based keep tagging. Idempotent.
	Protect(ctx context.Context, volume, name string, protect bool) error

	// ExportDiffCommand composes the argv for the producer side of a
	// transfer: a full export-diff if fromSnap is empty, an incremental one
	// otherwise.
	ExportDiffCommand(volume, snapName, fromSnap string) []string
	// ImportDiffCommand composes the argv for the consumer side.
	ImportDiffCommand(volume string) []string

	ClusterStats(ctx context.Context) (ClusterStats, error)
	// IsScrubActive reports whether the pool is mid-scrub, a PoolBusy
	// condition. The CLI-backed driver stubs this to false (see spec Design
	// Notes); a real driver may wire it to cluster health.
	IsScrubActive(ctx context.Context) (bool, error)
}
