package replication

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aravindh-murugesan/rbdsentry-go/internal/errs"
	"github.com/aravindh-murugesan/rbdsentry-go/internal/pool"
	"github.com/aravindh-murugesan/rbdsentry-go/internal/pool/poolfake"
)

// loadedPair returns a source/backup pool pair with poolfake drivers,
// volumes loaded.
func loadedPair(t *testing.T, volume string, sourceSnaps, backupSnaps []string) (*pool.Pool, *pool.Pool, *poolfake.Driver, *poolfake.Driver) {
	t.Helper()
	srcDrv := poolfake.New("source")
	if len(sourceSnaps) > 0 {
		srcDrv.Seed(volume, sourceSnaps...)
	} else {
		_ = srcDrv.CreateVolume(context.Background(), volume, 0)
	}
	bkDrv := poolfake.New("backup")
	if len(backupSnaps) > 0 {
		bkDrv.Seed(volume, backupSnaps...)
	} else {
		_ = bkDrv.CreateVolume(context.Background(), volume, 0)
	}

	src := pool.NewPool("source", srcDrv)
	bk := pool.NewPool("backup", bkDrv)
	if err := src.Load(context.Background()); err != nil {
		t.Fatalf("load source: %v", err)
	}
	if err := bk.Load(context.Background()); err != nil {
		t.Fatalf("load backup: %v", err)
	}
	return src, bk, srcDrv, bkDrv
}

// simulateSuccessfulImport returns a Transport that mimics a successful
// import-diff by creating the new snapshot directly on the backup fake
// driver, the way a real `rbd import-diff` would leave it on the cluster.
func simulateSuccessfulImport(bkDrv *poolfake.Driver, volume, newSnap string) Transport {
	return func(ctx context.Context, exportArgv, importArgv []string) error {
		return bkDrv.CreateSnapshot(ctx, volume, newSnap)
	}
}

func TestEngineRunFullSendWhenNoCommonBase(t *testing.T) {
	src, bk, _, bkDrv := loadedPair(t, "vm-1", []string{"backup2024-01-15T09.00.00"}, nil)
	eng := &Engine{Source: src, Backup: bk}
	newSnap := "backup2024-01-16T09.00.00"
	eng.Transport = simulateSuccessfulImport(bkDrv, "vm-1", newSnap)

	res, err := eng.Run(context.Background(), "vm-1", newSnap)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.FullSend {
		t.Error("expected a full send when source and backup share no snapshot")
	}
	if res.BaseSnapshot != "" {
		t.Errorf("BaseSnapshot = %q, want empty for a full send", res.BaseSnapshot)
	}
	if res.NewSnapshot != newSnap {
		t.Errorf("NewSnapshot = %q, want %q", res.NewSnapshot, newSnap)
	}

	bv := bk.Get("vm-1")
	if bv.Current().Name != newSnap {
		t.Errorf("backup Current = %s, want %s", bv.Current().Name, newSnap)
	}
}

func TestEngineRunIncrementalUsesCommonBase(t *testing.T) {
	common := "backup2024-01-14T09.00.00"
	src, bk, _, bkDrv := loadedPair(t, "vm-1", []string{common}, []string{common})
	eng := &Engine{Source: src, Backup: bk}
	newSnap := "backup2024-01-15T09.00.00"
	eng.Transport = simulateSuccessfulImport(bkDrv, "vm-1", newSnap)

	res, err := eng.Run(context.Background(), "vm-1", newSnap)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FullSend {
		t.Error("expected an incremental send when a common base exists")
	}
	if res.BaseSnapshot != common {
		t.Errorf("BaseSnapshot = %q, want %q", res.BaseSnapshot, common)
	}
}

func TestEngineRunRecoversFromDivergenceOnce(t *testing.T) {
	currentPre := "backup2024-01-14T09.00.00" // source's pre-run Current, no backup counterpart
	base := "backup2024-01-13T09.00.00"       // common, but will diverge and get demoted
	evenOlder := "backup2024-01-12T09.00.00"  // the fallback common base after demotion
	src, bk, _, bkDrv := loadedPair(t, "vm-1",
		[]string{currentPre, base, evenOlder},
		[]string{base, evenOlder},
	)
	eng := &Engine{Source: src, Backup: bk}
	newSnap := "backup2024-01-15T09.00.00"

	attempts := 0
	eng.Transport = func(ctx context.Context, exportArgv, importArgv []string) error {
		attempts++
		if attempts == 1 {
			return fmt.Errorf("%w: rbd: snapshot already exists at the requested point", errs.ErrDivergence)
		}
		return bkDrv.CreateSnapshot(ctx, "vm-1", newSnap)
	}

	res, err := eng.Run(context.Background(), "vm-1", newSnap)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Retried {
		t.Error("expected Retried=true after one divergence recovery")
	}
	if res.BaseSnapshot != evenOlder {
		t.Errorf("BaseSnapshot after recovery = %q, want %q (the older common base)", res.BaseSnapshot, evenOlder)
	}
	if attempts != 2 {
		t.Errorf("transfer attempted %d times, want 2", attempts)
	}

	sv := src.Get("vm-1")
	if sv.ByName(base) != nil {
		t.Error("the diverged Last-role base should have been destroyed during recovery")
	}
}

// TestEngineRunRecoversFromDivergenceWithoutOrphanCurrent mirrors spec.md's
// canonical divergence scenario (§8 #3) directly: source holds {S2, S1} with
// no orphan pre-run Current, backup holds a diverged {S1, S2}. The chosen
// base S2 sits at pre-snapshot position 0 (stale role Current) but becomes
// the genuine Last-role snapshot once SNAPSHOTTING inserts S3 ahead of it —
// recovery must re-resolve that role against the reloaded source volume, not
// the stale pre-snapshot pointer, or it will keep recomputing the same base
// and fail forever instead of demoting it.
func TestEngineRunRecoversFromDivergenceWithoutOrphanCurrent(t *testing.T) {
	s1 := "backup2024-01-13T09.00.00"
	s2 := "backup2024-01-14T09.00.00"
	s3 := "backup2024-01-15T09.00.00"
	src, bk, _, bkDrv := loadedPair(t, "vm-1",
		[]string{s2, s1},
		[]string{s2, s1},
	)
	eng := &Engine{Source: src, Backup: bk}

	attempts := 0
	eng.Transport = func(ctx context.Context, exportArgv, importArgv []string) error {
		attempts++
		if attempts == 1 {
			return fmt.Errorf("%w: rbd: snapshot already exists at the requested point", errs.ErrDivergence)
		}
		return bkDrv.CreateSnapshot(ctx, "vm-1", s3)
	}

	res, err := eng.Run(context.Background(), "vm-1", s3)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Retried {
		t.Error("expected Retried=true after one divergence recovery")
	}
	if res.BaseSnapshot != s1 {
		t.Errorf("BaseSnapshot after recovery = %q, want %q (the older common base)", res.BaseSnapshot, s1)
	}
	if attempts != 2 {
		t.Errorf("transfer attempted %d times, want 2", attempts)
	}

	sv := src.Get("vm-1")
	if sv.ByName(s2) != nil {
		t.Error("the diverged Last-role base should have been destroyed during recovery")
	}
}

func TestEngineRunFailsAfterSecondDivergence(t *testing.T) {
	src, bk, _, _ := loadedPair(t, "vm-1", []string{"backup2024-01-14T09.00.00"}, nil)
	eng := &Engine{Source: src, Backup: bk}

	eng.Transport = func(ctx context.Context, exportArgv, importArgv []string) error {
		return fmt.Errorf("%w: rbd: snapshot already exists at the requested point", errs.ErrDivergence)
	}

	_, err := eng.Run(context.Background(), "vm-1", "backup2024-01-15T09.00.00")
	if err == nil {
		t.Fatal("expected failure after a second divergence")
	}
}

func TestEngineRunFailsWhenSourceVolumeMissing(t *testing.T) {
	src, bk, _, _ := loadedPair(t, "vm-1", nil, nil)
	// loadedPair created vm-1 on both pools, so query an unrelated name that
	// exists on neither.
	eng := &Engine{Source: src, Backup: bk}

	_, err := eng.Run(context.Background(), "does-not-exist", "backup2024-01-15T09.00.00")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEngineRunRespectsPoolBusy(t *testing.T) {
	src, bk, srcDrv, _ := loadedPair(t, "vm-1", []string{"backup2024-01-14T09.00.00"}, nil)
	srcDrv.SetScrubActive(true)
	eng := &Engine{Source: src, Backup: bk}

	_, err := eng.Run(context.Background(), "vm-1", "backup2024-01-15T09.00.00")
	if !errors.Is(err, errs.ErrPoolBusy) {
		t.Errorf("expected ErrPoolBusy, got %v", err)
	}
}

func TestEngineRunDryRunCreatesNoSnapshots(t *testing.T) {
	src, bk, srcDrv, bkDrv := loadedPair(t, "vm-1", []string{"backup2024-01-14T09.00.00"}, nil)
	eng := &Engine{Source: src, Backup: bk, DryRun: true}

	newSnap := "backup2024-01-15T09.00.00"
	res, err := eng.Run(context.Background(), "vm-1", newSnap)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.NewSnapshot != newSnap {
		t.Errorf("NewSnapshot = %q, want %q", res.NewSnapshot, newSnap)
	}

	snaps, _ := srcDrv.ListSnapshots(context.Background(), "vm-1")
	for _, s := range snaps {
		if s.Name == newSnap {
			t.Error("dry run must not create a snapshot on the source driver")
		}
	}
	bkSnaps, err := bkDrv.ListSnapshots(context.Background(), "vm-1")
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(bkSnaps) != 0 {
		t.Error("dry run must not create the backup volume's snapshot")
	}
}
