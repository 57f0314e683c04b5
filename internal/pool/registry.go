package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/aravindh-murugesan/rbdsentry-go/internal/errs"
)

// LoadVolume fetches one volume's snapshot list from the driver, parses
// creation timestamps, sorts newest-first, and caches the result on the
// pool. It is the per-volume unit of SnapshotRegistry's "load" behavior
// (spec.md §4.2); Load below walks every volume in the pool.
func (p *Pool) LoadVolume(ctx context.Context, name string) (*Volume, error) {
	if err := p.Driver.OpenVolume(ctx, name); err != nil {
		v := &Volume{Name: name, PoolName: p.Name, Exists: false}
		p.put(v)
		return v, err
	}

	raw, err := p.Driver.ListSnapshots(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("list snapshots for %s/%s: %w", p.Name, name, err)
	}

	v := &Volume{Name: name, PoolName: p.Name, Exists: true}
	for _, r := range raw {
		creation, ok := ParseSnapshotCreation(r.Name)
		protected, perr := p.Driver.IsProtected(ctx, name, r.Name)
		if perr != nil {
			return nil, fmt.Errorf("check protection for %s/%s@%s: %w", p.Name, name, r.Name, perr)
		}
		v.Snapshots = append(v.Snapshots, &Snapshot{
			Name:      r.Name,
			Creation:  creation,
			HasTime:   ok,
			UsedBytes: r.SizeBytes,
			Protected: protected,
		})
	}
	v.SortSnapshots()

	if dup := firstDuplicateCreation(v.Snapshots); dup != nil {
		return nil, fmt.Errorf("%s/%s@%s: %w: duplicate creation timestamp with its predecessor", p.Name, name, dup.Name, errs.ErrCorruption)
	}

	p.put(v)
	return v, nil
}

// firstDuplicateCreation returns the first snapshot (in the already
// newest-first Snapshots order) whose creation timestamp ties its
// predecessor's, violating spec.md §3's strictly-decreasing invariant
// (P1). Snapshots without a parseable creation are excluded: they already
// sort last and carry no ordering guarantee to violate.
func firstDuplicateCreation(snapshots []*Snapshot) *Snapshot {
	for i := 1; i < len(snapshots); i++ {
		prev, cur := snapshots[i-1], snapshots[i]
		if prev.HasTime && cur.HasTime && prev.Creation.Equal(cur.Creation) {
			return cur
		}
	}
	return nil
}

// Load populates the pool's volume index from every volume the driver
// reports, loading and sorting each one's snapshots.
func (p *Pool) Load(ctx context.Context) error {
	names, err := p.Driver.ListVolumes(ctx)
	if err != nil {
		return fmt.Errorf("list volumes in pool %s: %w", p.Name, err)
	}
	for _, n := range names {
		if _, err := p.LoadVolume(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a previously loaded volume by name, or nil if it was never
// loaded (the caller should use LoadVolume or GetOrCreate/GetOrEmpty).
func (p *Pool) Get(name string) *Volume {
	return p.volumes[name]
}

// GetOrCreate loads the volume if present on this pool's cluster, or, if
// not, creates it (backup-pool semantics: a Volume is created on demand on
// the backup pool, never on the source, per spec.md §3).
func (p *Pool) GetOrCreate(ctx context.Context, name string, sizeBytes uint64) (*Volume, error) {
	v, err := p.LoadVolume(ctx, name)
	if err == nil {
		return v, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	if err := p.Driver.CreateVolume(ctx, name, sizeBytes); err != nil {
		return nil, fmt.Errorf("create volume %s/%s: %w", p.Name, name, err)
	}
	p.InvalidateStats()

	v = &Volume{Name: name, PoolName: p.Name, Exists: true}
	p.put(v)
	return v, nil
}

// GetOrEmpty returns a Volume marker with Exists=false when the volume has
// no counterpart on this pool, without attempting to create backing
// storage. Used for the no-remote-counterpart case during RESOLVING.
func (p *Pool) GetOrEmpty(name string) *Volume {
	if v := p.Get(name); v != nil {
		return v
	}
	v := &Volume{Name: name, PoolName: p.Name, Exists: false}
	p.put(v)
	return v
}

func isNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}
