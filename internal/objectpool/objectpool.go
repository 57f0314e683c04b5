// Package objectpool adapts the replication engine to the RADOSGW
// object-store metadata pool pathway. spec.md §1 lists this as "out of
// scope / external collaborator" but "structurally identical to the block
// path but over a different pool family" (SPEC_FULL.md §4): a gateway
// geography's metadata heap is itself RBD-backed, so the same
// export-diff/import-diff argv composition and transport apply unchanged —
// only the pool names and the (single, fixed) volume differ.
package objectpool

import "github.com/aravindh-murugesan/rbdsentry-go/internal/pool"

// MetadataVolume is the one volume replicated within a gateway geography's
// metadata pool: RGW keeps a single metadata heap per zone rather than
// per-bucket volumes, so there is exactly one snapshot timeline per
// geography.
const MetadataVolume = "rgw-metadata"

// SourcePoolName derives the Ceph pool name backing one gateway geography's
// live metadata heap, e.g. "us-east" -> "us-east.rgw.meta".
func SourcePoolName(geography string) string {
	return geography + ".rgw.meta"
}

// BackupPoolName derives the geography's replicated-metadata pool name on
// the backup cluster.
func BackupPoolName(geography string) string {
	return geography + ".rgw.meta.backup"
}

// NewSourceDriver and NewBackupDriver return the same CLI-backed RBDDriver
// the block path uses, pointed at a geography's metadata pool names: no new
// transport or argv composition is invented for this pathway.
func NewSourceDriver(geography string, dryRun bool) *pool.RBDDriver {
	return pool.NewRBDDriver(SourcePoolName(geography), dryRun)
}

func NewBackupDriver(geography string, dryRun bool) *pool.RBDDriver {
	return pool.NewRBDDriver(BackupPoolName(geography), dryRun)
}
