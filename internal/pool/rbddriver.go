package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/aravindh-murugesan/rbdsentry-go/internal/errs"
)

// RBDDriver is the CLI-backed Driver implementation: every operation shells
// out to "rbd" (and, for cluster stats, "ceph"), exactly as the reference
// export-diff/import-diff pipe composition does in the broader ecosystem.
// ExportDiffCommand and ImportDiffCommand only compose argv; nothing in this
// file executes a transfer — that is ReplicationEngine's job.
type RBDDriver struct {
	PoolName string
	Conf     string
	User     string
	Keyring  string

	dryRun bool
}

// NewRBDDriver constructs a driver bound to one pool name. DryRun, when
// true, makes every mutating call a silent no-op that returns nil (spec.md §6
// -d/--dry-run).
func NewRBDDriver(poolName string, dryRun bool) *RBDDriver {
	return &RBDDriver{PoolName: poolName, dryRun: dryRun}
}

func (d *RBDDriver) Connect(ctx context.Context, conf, user, keyring string) error {
	d.Conf, d.User, d.Keyring = conf, user, keyring
	// "Connect" for the CLI driver is merely remembering the invocation
	// parameters; cheap, so verify we can at least list volumes once.
	if _, err := d.ListVolumes(ctx); err != nil {
		return fmt.Errorf("%w: %s", errs.ErrConnect, err)
	}
	return nil
}

func (d *RBDDriver) Close() error { return nil }

// globalArgs returns the -c/--id/--keyring prefix shared by every rbd
// invocation, per spec.md §6's subprocess transport contract.
func (d *RBDDriver) globalArgs() []string {
	args := []string{}
	if d.Conf != "" {
		args = append(args, "-c", d.Conf)
	}
	if d.User != "" {
		args = append(args, "--id", d.User)
	}
	if d.Keyring != "" {
		args = append(args, "--keyring", d.Keyring)
	}
	return args
}

func (d *RBDDriver) spec(volume string) string {
	return fmt.Sprintf("%s/%s", d.PoolName, volume)
}

func (d *RBDDriver) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "rbd", append(d.globalArgs(), args...)...)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return out, fmt.Errorf("rbd %s: %s", strings.Join(args, " "), strings.TrimSpace(string(ee.Stderr)))
		}
		return out, fmt.Errorf("rbd %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

func (d *RBDDriver) ListVolumes(ctx context.Context) ([]string, error) {
	out, err := d.run(ctx, "ls", "--format", "json", d.PoolName)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(out, &names); err != nil {
		return nil, fmt.Errorf("parse rbd ls output: %w", err)
	}
	return names, nil
}

func (d *RBDDriver) OpenVolume(ctx context.Context, volume string) error {
	names, err := d.ListVolumes(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == volume {
			return nil
		}
	}
	return fmt.Errorf("%w: volume %s/%s", errs.ErrNotFound, d.PoolName, volume)
}

func (d *RBDDriver) CreateVolume(ctx context.Context, volume string, sizeBytes uint64) error {
	if d.dryRun {
		return nil
	}
	sizeMB := (sizeBytes / (1024 * 1024))
	if sizeMB == 0 {
		sizeMB = 1
	}
	_, err := d.run(ctx, "create", "--size", fmt.Sprintf("%d", sizeMB), d.spec(volume))
	return err
}

type rbdSnapJSON struct {
	ID       uint64 `json:"id"`
	Name     string `json:"name"`
	Size     uint64 `json:"size"`
	Protected string `json:"protected"`
}

func (d *RBDDriver) ListSnapshots(ctx context.Context, volume string) ([]SnapshotInfo, error) {
	out, err := d.run(ctx, "snap", "ls", "--format", "json", d.spec(volume))
	if err != nil {
		return nil, err
	}
	var raw []rbdSnapJSON
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parse rbd snap ls output: %w", err)
	}
	infos := make([]SnapshotInfo, 0, len(raw))
	for _, s := range raw {
		infos = append(infos, SnapshotInfo{
			ID:        fmt.Sprintf("%d", s.ID),
			Name:      s.Name,
			SizeBytes: s.Size,
		})
	}
	return infos, nil
}

func (d *RBDDriver) CreateSnapshot(ctx context.Context, volume, name string) error {
	if d.dryRun {
		return nil
	}
	_, err := d.run(ctx, "snap", "create", fmt.Sprintf("%s@%s", d.spec(volume), name))
	if err != nil && strings.Contains(err.Error(), errs.DivergenceMarker) {
		return fmt.Errorf("%w: %s", errs.ErrAlreadyOpen, err)
	}
	return err
}

func (d *RBDDriver) RemoveSnapshot(ctx context.Context, volume, name string) error {
	if d.dryRun {
		return nil
	}
	_, err := d.run(ctx, "snap", "rm", fmt.Sprintf("%s@%s", d.spec(volume), name))
	if err != nil {
		if strings.Contains(err.Error(), "protected") {
			return fmt.Errorf("%w: %s", errs.ErrProtected, err)
		}
		if strings.Contains(err.Error(), "No such file") || strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %s", errs.ErrNotFound, err)
		}
	}
	return err
}

func (d *RBDDriver) IsProtected(ctx context.Context, volume, name string) (bool, error) {
	_, err := d.run(ctx, "snap", "unprotect", "--dry-run", fmt.Sprintf("%s@%s", d.spec(volume), name))
	if err == nil {
		return false, nil
	}
	return true, nil
}

func (d *RBDDriver) Protect(ctx context.Context, volume, name string, protect bool) error {
	if d.dryRun {
		return nil
	}
	already, err := d.IsProtected(ctx, volume, name)
	if err != nil {
		return err
	}
	if already == protect {
		return nil
	}
	sub := "protect"
	if !protect {
		sub = "unprotect"
	}
	_, err = d.run(ctx, "snap", sub, fmt.Sprintf("%s@%s", d.spec(volume), name))
	return err
}

// ExportDiffCommand composes "rbd [-c ...] export-diff [--from-snap base]
// pool/vol@snap -"; it does not execute. fromSnap == "" produces a full send.
func (d *RBDDriver) ExportDiffCommand(volume, snapName, fromSnap string) []string {
	args := append([]string{"rbd"}, d.globalArgs()...)
	args = append(args, "export-diff")
	if fromSnap != "" {
		args = append(args, "--from-snap", fromSnap)
	}
	args = append(args, fmt.Sprintf("%s@%s", d.spec(volume), snapName), "-")
	return args
}

// ImportDiffCommand composes "rbd [-c ...] import-diff - pool/vol".
func (d *RBDDriver) ImportDiffCommand(volume string) []string {
	args := append([]string{"rbd"}, d.globalArgs()...)
	args = append(args, "import-diff", "-", d.spec(volume))
	return args
}

type cephDFJSON struct {
	Pools []struct {
		Name  string `json:"name"`
		Stats struct {
			BytesUsed uint64 `json:"bytes_used"`
			MaxAvail  uint64 `json:"max_avail"`
		} `json:"stats"`
	} `json:"pools"`
}

func (d *RBDDriver) ClusterStats(ctx context.Context) (ClusterStats, error) {
	cmd := exec.CommandContext(ctx, "ceph", append(d.globalArgs(), "df", "--format", "json")...)
	out, err := cmd.Output()
	if err != nil {
		return ClusterStats{}, fmt.Errorf("%w: ceph df: %s", errs.ErrConnect, err)
	}
	var parsed cephDFJSON
	if err := json.Unmarshal(out, &parsed); err != nil {
		return ClusterStats{}, fmt.Errorf("parse ceph df output: %w", err)
	}
	for _, p := range parsed.Pools {
		if p.Name == d.PoolName {
			return ClusterStats{
				UsedKB:  p.Stats.BytesUsed / 1024,
				AvailKB: p.Stats.MaxAvail / 1024,
			}, nil
		}
	}
	return ClusterStats{}, nil
}

// IsScrubActive is always false for the CLI driver. Per the Design Notes,
// the upstream implementation never wired this to real cluster state; the
// interface method exists so a future driver can.
func (d *RBDDriver) IsScrubActive(ctx context.Context) (bool, error) {
	return false, nil
}
