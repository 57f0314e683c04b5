package pool

import (
	"context"
	"sort"
	"time"
)

// snapshotNameLayout is the bit-exact, interoperability-critical naming
// format from spec.md §6: literal prefix "backup", then an ISO-like
// date/time with "." instead of ":" between time components.
const snapshotNameLayout = "backup2006-01-02T15.04.05"

// FormatSnapshotName renders a single run timestamp into the canonical
// snapshot name. Capturing one "now" at run start and formatting it once
// guarantees a retried transfer reuses the same name (spec.md §4.5
// SNAPSHOTTING).
func FormatSnapshotName(now time.Time) string {
	return now.Format(snapshotNameLayout)
}

// ParseSnapshotCreation extracts the creation timestamp encoded in a
// snapshot name. Names that don't match the layout (or carry a trailing
// "@suffix" literal, e.g. a pinned snapshot) still parse their timestamp
// prefix; names that don't even have a parseable prefix return ok=false and
// sort last, per spec.md §4.2.
func ParseSnapshotCreation(name string) (creation time.Time, ok bool) {
	if len(name) < len(snapshotNameLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(snapshotNameLayout, name[:len(snapshotNameLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Role is the ordinal, derived-not-stored position of a snapshot within its
// volume's newest-first ordering (spec.md §3).
type Role int

const (
	RoleHistorical Role = iota
	RoleCurrent
	RoleLast
)

func roleForPosition(i int) Role {
	switch i {
	case 0:
		return RoleCurrent
	case 1:
		return RoleLast
	default:
		return RoleHistorical
	}
}

// Snapshot is an immutable point-in-time view of a volume. Role is derived
// from ordinal position in Volume.Snapshots and is recomputed whenever the
// list is (re)sorted; it is never stored.
type Snapshot struct {
	Name      string
	Creation  time.Time
	HasTime   bool
	UsedBytes uint64
	Protected bool
	Role      Role
}

// Suffix returns the literal text after the snapshot name's final '@', or
// "" if there is none. The matcher's "@<suffix>" form applies the same rule
// in its own code.
func (s Snapshot) Suffix() string {
	for i := len(s.Name) - 1; i >= 0; i-- {
		if s.Name[i] == '@' {
			return s.Name[i+1:]
		}
	}
	return ""
}

// Volume is a block-device image stored in a pool, uniquely identified by
// (pool name, volume name). Snapshots is kept sorted newest-first.
type Volume struct {
	Name      string
	PoolName  string
	Exists    bool
	Snapshots []*Snapshot
}

// SortSnapshots orders Snapshots newest-first (by creation, snapshots
// without a parseable creation sort last) and recomputes roles. Ties in
// Creation among parseable snapshots are a corruption condition per
// spec.md §3; this function does not itself reject them — it only orders
// whatever it's given. Pool.LoadVolume (registry.go) is the one caller that
// loads from the cluster, and it rejects ties via firstDuplicateCreation
// right after calling this, before the volume is cached or pruned.
func (v *Volume) SortSnapshots() {
	sort.SliceStable(v.Snapshots, func(i, j int) bool {
		a, b := v.Snapshots[i], v.Snapshots[j]
		if !a.HasTime && !b.HasTime {
			return false
		}
		if !a.HasTime {
			return false
		}
		if !b.HasTime {
			return true
		}
		return a.Creation.After(b.Creation)
	})
	for i, s := range v.Snapshots {
		s.Role = roleForPosition(i)
	}
}

// ByName returns the snapshot with the given name, or nil.
func (v *Volume) ByName(name string) *Snapshot {
	for _, s := range v.Snapshots {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Current returns the position-0 snapshot, or nil if the volume has none.
func (v *Volume) Current() *Snapshot {
	if len(v.Snapshots) == 0 {
		return nil
	}
	return v.Snapshots[0]
}

// Last returns the position-1 snapshot, or nil if fewer than two exist.
func (v *Volume) Last() *Snapshot {
	if len(v.Snapshots) < 2 {
		return nil
	}
	return v.Snapshots[1]
}

// Historical returns snapshots at position >= 2, the retention pruner's
// candidate set.
func (v *Volume) Historical() []*Snapshot {
	if len(v.Snapshots) < 3 {
		return nil
	}
	return v.Snapshots[2:]
}

// Pool is a named storage container grouping volumes; it owns a driver
// session and a lazily-computed, mutation-invalidated capacity cache
// (spec.md Design Notes: the cache belongs to the Pool, not a process
// global).
type Pool struct {
	Name    string
	Driver  Driver
	volumes map[string]*Volume

	statsCached bool
	stats       ClusterStats
}

// NewPool wraps a connected driver. The caller is responsible for calling
// Driver.Connect before constructing volumes.
func NewPool(name string, driver Driver) *Pool {
	return &Pool{Name: name, Driver: driver, volumes: map[string]*Volume{}}
}

// InvalidateStats drops the cached ClusterStats; called after every
// mutating driver operation (create/remove snapshot, create volume).
func (p *Pool) InvalidateStats() {
	p.statsCached = false
}

// ClusterStats returns the cached stats, fetching them from the driver when
// nothing is cached yet or InvalidateStats has dropped the cache.
func (p *Pool) ClusterStats(ctx context.Context) (ClusterStats, error) {
	if p.statsCached {
		return p.stats, nil
	}
	stats, err := p.Driver.ClusterStats(ctx)
	if err != nil {
		return ClusterStats{}, err
	}
	p.stats = stats
	p.statsCached = true
	return stats, nil
}

// put registers a loaded volume in the pool's in-memory index.
func (p *Pool) put(v *Volume) {
	p.volumes[v.Name] = v
}
