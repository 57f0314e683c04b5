// Package poolfake provides an in-memory pool.Driver double for tests of
// retention, replication, and orchestration logic, without shelling out to
// rbd/ceph.
package poolfake

import (
	"context"
	"fmt"
	"sort"

	"github.com/aravindh-murugesan/rbdsentry-go/internal/errs"
	"github.com/aravindh-murugesan/rbdsentry-go/internal/pool"
)

type fakeSnap struct {
	name      string
	sizeBytes uint64
	protected bool
}

// Driver is an in-memory stand-in for pool.Driver. Construct it with New;
// the zero value has no volume map and panics on Seed or CreateVolume.
// Volumes are created implicitly by Seed or CreateVolume.
type Driver struct {
	PoolName string
	volumes  map[string][]fakeSnap
	stats    pool.ClusterStats
	scrub    bool

	// ExportCalls/ImportCalls record each argv ReplicationEngine asked for
	// (formatted with %v), without executing anything — this is the point
	// of the design.
	ExportCalls []string
	ImportCalls []string

	// NextImportErr is not read by any Driver method; tests of
	// TRANSFERRING's recovery path inject divergence through their own
	// replication.Transport instead.
	NextImportErr error
}

func New(poolName string) *Driver {
	return &Driver{PoolName: poolName, volumes: map[string][]fakeSnap{}}
}

// Seed pre-populates a volume with snapshot names (already in the canonical
// naming format, so ParseSnapshotCreation succeeds on them).
func (d *Driver) Seed(volume string, names ...string) {
	for _, n := range names {
		d.volumes[volume] = append(d.volumes[volume], fakeSnap{name: n})
	}
}

func (d *Driver) SetStats(s pool.ClusterStats) { d.stats = s }
func (d *Driver) SetScrubActive(b bool)        { d.scrub = b }

func (d *Driver) Connect(ctx context.Context, conf, user, keyring string) error { return nil }
func (d *Driver) Close() error                                                 { return nil }

func (d *Driver) ListVolumes(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(d.volumes))
	for n := range d.volumes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (d *Driver) OpenVolume(ctx context.Context, volume string) error {
	if _, ok := d.volumes[volume]; !ok {
		return fmt.Errorf("%w: %s", errs.ErrNotFound, volume)
	}
	return nil
}

func (d *Driver) CreateVolume(ctx context.Context, volume string, sizeBytes uint64) error {
	if _, ok := d.volumes[volume]; ok {
		return fmt.Errorf("%w: %s", errs.ErrAlreadyOpen, volume)
	}
	d.volumes[volume] = nil
	return nil
}

func (d *Driver) ListSnapshots(ctx context.Context, volume string) ([]pool.SnapshotInfo, error) {
	snaps, ok := d.volumes[volume]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, volume)
	}
	out := make([]pool.SnapshotInfo, len(snaps))
	for i, s := range snaps {
		out[i] = pool.SnapshotInfo{ID: s.name, Name: s.name, SizeBytes: s.sizeBytes}
	}
	return out, nil
}

func (d *Driver) CreateSnapshot(ctx context.Context, volume, name string) error {
	for _, s := range d.volumes[volume] {
		if s.name == name {
			return fmt.Errorf("%w: %s@%s", errs.ErrAlreadyOpen, volume, name)
		}
	}
	d.volumes[volume] = append(d.volumes[volume], fakeSnap{name: name})
	return nil
}

func (d *Driver) RemoveSnapshot(ctx context.Context, volume, name string) error {
	snaps := d.volumes[volume]
	for i, s := range snaps {
		if s.name == name {
			if s.protected {
				return fmt.Errorf("%w: %s@%s", errs.ErrProtected, volume, name)
			}
			d.volumes[volume] = append(snaps[:i], snaps[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s@%s", errs.ErrNotFound, volume, name)
}

func (d *Driver) IsProtected(ctx context.Context, volume, name string) (bool, error) {
	for _, s := range d.volumes[volume] {
		if s.name == name {
			return s.protected, nil
		}
	}
	return false, fmt.Errorf("%w: %s@%s", errs.ErrNotFound, volume, name)
}

func (d *Driver) Protect(ctx context.Context, volume, name string, protect bool) error {
	snaps := d.volumes[volume]
	for i, s := range snaps {
		if s.name == name {
			snaps[i].protected = protect
			return nil
		}
	}
	return fmt.Errorf("%w: %s@%s", errs.ErrNotFound, volume, name)
}

func (d *Driver) ExportDiffCommand(volume, snapName, fromSnap string) []string {
	argv := []string{"rbd", "export-diff"}
	if fromSnap != "" {
		argv = append(argv, "--from-snap", fromSnap)
	}
	argv = append(argv, fmt.Sprintf("%s/%s@%s", d.PoolName, volume, snapName), "-")
	d.ExportCalls = append(d.ExportCalls, fmt.Sprintf("%v", argv))
	return argv
}

func (d *Driver) ImportDiffCommand(volume string) []string {
	argv := []string{"rbd", "import-diff", "-", fmt.Sprintf("%s/%s", d.PoolName, volume)}
	d.ImportCalls = append(d.ImportCalls, fmt.Sprintf("%v", argv))
	return argv
}

func (d *Driver) ClusterStats(ctx context.Context) (pool.ClusterStats, error) {
	return d.stats, nil
}

func (d *Driver) IsScrubActive(ctx context.Context) (bool, error) {
	return d.scrub, nil
}
