// Package replication implements the ReplicationEngine (C5): the per-volume
// snapshot lifecycle state machine described in spec.md §4.5 — recovery of
// an unfinished prior run, incremental base selection, snapshot creation
// (optionally bracketed by a hypervisor quiesce), the export/import transfer
// pipe, and the commit that leaves the backup registry consistent again.
// Pruning is not part of this package: the Orchestrator invokes
// retention.Planner separately once the engine returns.
package replication

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/aravindh-murugesan/rbdsentry-go/internal/errs"
	"github.com/aravindh-murugesan/rbdsentry-go/internal/hypervisor"
	"github.com/aravindh-murugesan/rbdsentry-go/internal/pool"
)

// Engine runs the state machine for one volume name across a source and
// backup pool pair. Source and Backup must already be connected and loaded
// (or at least GetOrCreate'd for the backup side) by the caller.
type Engine struct {
	Source   *pool.Pool
	Backup   *pool.Pool
	Quiescer hypervisor.Quiescer
	DryRun   bool
	Logger   *slog.Logger

	// Transport overrides the producer/consumer process pair spawned for
	// TRANSFERRING. Nil uses execTransport (the real rbd CLI pipe).
	Transport Transport
}

// Result reports what the engine actually did, for logging and for the
// caller's notification payload on partial success.
type Result struct {
	Volume       string
	BaseSnapshot string // "" if this was a full send
	NewSnapshot  string
	FullSend     bool
	Retried      bool // recovered from one divergence before succeeding
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Run drives one volume through RECOVERING -> RESOLVING -> SNAPSHOTTING ->
// TRANSFERRING -> COMMITTING. newSnap is the snapshot name formatted from
// the single "now" the caller captured at run start (pool.FormatSnapshotName),
// so a transfer retried within this run reuses the same name (spec.md §4.5
// SNAPSHOTTING).
func (e *Engine) Run(ctx context.Context, volumeName, newSnap string) (*Result, error) {
	log := e.logger().With("volume", volumeName)

	sourceVol := e.Source.Get(volumeName)
	if sourceVol == nil || !sourceVol.Exists {
		return nil, fmt.Errorf("source volume %s: %w", volumeName, errs.ErrNotFound)
	}
	backupVol := e.Backup.GetOrEmpty(volumeName)

	if busy, err := e.Source.Driver.IsScrubActive(ctx); err != nil {
		return nil, fmt.Errorf("check scrub status for %s: %w", volumeName, err)
	} else if busy {
		return nil, fmt.Errorf("source pool busy scrubbing: %w", errs.ErrPoolBusy)
	}

	// RECOVERING: an orphan Current from a crashed prior run needs no
	// physical action — role is derived from ordinal position, so it is
	// already a legitimate incremental base candidate for RESOLVING below.
	if c := sourceVol.Current(); c != nil && backupVol.ByName(c.Name) == nil && backupVol.Exists {
		log.Warn("recovering orphan snapshot from prior run", "snapshot", c.Name)
	}

	// RESOLVING
	base := mostRecentCommonSnapshot(sourceVol, backupVol)
	baseName := ""
	if base != nil {
		baseName = base.Name
	}

	// SNAPSHOTTING
	if err := e.quiesceAndSnapshot(ctx, log, volumeName, newSnap); err != nil {
		return nil, err
	}

	var err error
	sourceVol, err = e.Source.LoadVolume(ctx, volumeName)
	if err != nil {
		return nil, fmt.Errorf("reload source volume %s after snapshot: %w", volumeName, err)
	}

	// TRANSFERRING, with at most one full-send fallback on divergence.
	retried := false
	for {
		terr := e.transfer(ctx, volumeName, newSnap, baseName)
		if terr == nil {
			break
		}
		if !errors.Is(terr, errs.ErrDivergence) || retried {
			return nil, fmt.Errorf("transfer %s: %w", volumeName, terr)
		}

		log.Warn("transfer diverged, recovering with older base", "attempted_base", baseName, "error", terr)
		retried = true

		// base.Role was captured at RESOLVING, before SNAPSHOTTING inserted a
		// new Current and shifted every existing snapshot's ordinal position
		// down by one. The diverged base is destroyed if it held the Last
		// role either then or in the reloaded sourceVol, so the re-resolution
		// below lands on an older common base.
		if base != nil {
			if current := sourceVol.ByName(base.Name); current != nil && (base.Role == pool.RoleLast || current.Role == pool.RoleLast) {
				if rerr := e.Source.Driver.RemoveSnapshot(ctx, volumeName, base.Name); rerr != nil {
					return nil, fmt.Errorf("destroy stale base %s after divergence: %w", base.Name, rerr)
				}
				e.Source.InvalidateStats()
				sourceVol, err = e.Source.LoadVolume(ctx, volumeName)
				if err != nil {
					return nil, fmt.Errorf("reload source volume %s after divergence recovery: %w", volumeName, err)
				}
			}
		}

		// The backup side's own Last-role snapshot needs no physical
		// promotion: roles are ordinal, so once a stale base disappears
		// above it, it is already next in line as a common-base candidate.
		backupVol, err = e.Backup.LoadVolume(ctx, volumeName)
		if err != nil {
			return nil, fmt.Errorf("reload backup volume %s after divergence recovery: %w", volumeName, err)
		}

		base = mostRecentCommonSnapshot(sourceVol, backupVol)
		baseName = ""
		if base != nil {
			baseName = base.Name
		}
	}

	// COMMITTING: the import-diff created the new snapshot on the backup
	// side; reload its registry so ordinal roles reflect that.
	if _, err := e.Backup.LoadVolume(ctx, volumeName); err != nil {
		return nil, fmt.Errorf("reload backup volume %s after transfer: %w", volumeName, err)
	}
	e.Backup.InvalidateStats()

	return &Result{
		Volume:       volumeName,
		BaseSnapshot: baseName,
		NewSnapshot:  newSnap,
		FullSend:     baseName == "",
		Retried:      retried,
	}, nil
}

// mostRecentCommonSnapshot returns the newest snapshot (by source ordering,
// which is already newest-first) whose name also exists on backup, or nil if
// the volumes share no history — spec.md §4.5 RESOLVING.
func mostRecentCommonSnapshot(source, backup *pool.Volume) *pool.Snapshot {
	if backup == nil {
		return nil
	}
	for _, s := range source.Snapshots {
		if backup.ByName(s.Name) != nil {
			return s
		}
	}
	return nil
}

// quiesceAndSnapshot brackets snapshot creation with the optional hypervisor
// quiesce callback. A quiesce failure is a warning, not a fatal error — the
// run proceeds with a crash-consistent (rather than application-consistent)
// snapshot, per spec.md §7's QuiesceError handling. Resume runs on every exit
// path once Quiesce has been attempted, even if Quiesce failed.
func (e *Engine) quiesceAndSnapshot(ctx context.Context, log *slog.Logger, volumeName, newSnap string) error {
	if e.Quiescer != nil {
		if err := e.Quiescer.Quiesce(ctx, volumeName); err != nil {
			log.Warn("quiesce failed, proceeding with a crash-consistent snapshot", "error", err)
		}
		defer func() {
			if err := e.Quiescer.Resume(ctx, volumeName); err != nil {
				log.Warn("resume after quiesce failed", "error", err)
			}
		}()
	}

	if e.DryRun {
		log.Info("dry run: skipping snapshot creation", "snapshot", newSnap)
		return nil
	}
	if err := e.Source.Driver.CreateSnapshot(ctx, volumeName, newSnap); err != nil {
		return fmt.Errorf("create snapshot %s@%s: %w", volumeName, newSnap, err)
	}
	e.Source.InvalidateStats()
	return nil
}

// Transport spawns the producer/consumer pair for argv pairs already
// composed by the driver and reports the outcome. execTransport is the
// production implementation; tests inject a fake one so TRANSFERRING's
// retry/recovery logic is exercised without a real pool CLI on the test
// machine — the PoolDriver interface already keeps argv composition itself
// separately testable (spec.md §4.1).
type Transport func(ctx context.Context, exportArgv, importArgv []string) error

// transfer composes the export-diff | import-diff argument vectors and hands
// them to the engine's Transport, per spec.md §4.5 TRANSFERRING. It reports
// ErrDivergence when the consumer's stderr carries the divergence marker so
// Run can apply its bounded recovery.
func (e *Engine) transfer(ctx context.Context, volumeName, newSnap, fromSnap string) error {
	exportArgv := e.Source.Driver.ExportDiffCommand(volumeName, newSnap, fromSnap)
	importArgv := e.Backup.Driver.ImportDiffCommand(volumeName)

	if e.DryRun {
		return nil
	}
	if len(exportArgv) == 0 || len(importArgv) == 0 {
		return fmt.Errorf("%w: driver returned an empty argument vector", errs.ErrTransfer)
	}

	transport := e.Transport
	if transport == nil {
		transport = execTransport
	}
	return transport(ctx, exportArgv, importArgv)
}

// execTransport is the real producer/consumer pipe: it spawns both
// processes with the producer's stdout feeding the consumer's stdin
// directly, waits for the consumer, and inspects its stderr.
func execTransport(ctx context.Context, exportArgv, importArgv []string) error {
	exportCmd := exec.CommandContext(ctx, exportArgv[0], exportArgv[1:]...)
	importCmd := exec.CommandContext(ctx, importArgv[0], importArgv[1:]...)

	// cmd.StdoutPipe gives a blocking os.Pipe-backed reader; wiring it
	// straight into the consumer's Stdin keeps the whole transfer a single
	// kernel pipe with no intermediate buffering in this process.
	pipe, err := exportCmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: export-diff stdout pipe: %v", errs.ErrTransfer, err)
	}
	importCmd.Stdin = pipe

	var exportStderr, importStderr bytes.Buffer
	exportCmd.Stderr = &exportStderr
	importCmd.Stderr = &importStderr

	if err := importCmd.Start(); err != nil {
		return fmt.Errorf("%w: start import-diff: %v", errs.ErrTransfer, err)
	}
	if err := exportCmd.Start(); err != nil {
		_ = importCmd.Wait()
		return fmt.Errorf("%w: start export-diff: %v", errs.ErrTransfer, err)
	}

	exportErr := exportCmd.Wait()
	importErr := importCmd.Wait()

	if importErr != nil {
		msg := strings.TrimSpace(importStderr.String())
		if strings.Contains(msg, errs.DivergenceMarker) {
			return fmt.Errorf("%w: %s", errs.ErrDivergence, msg)
		}
		return fmt.Errorf("%w: import-diff: %v: %s", errs.ErrTransfer, importErr, msg)
	}
	if exportErr != nil {
		return fmt.Errorf("%w: export-diff: %v: %s", errs.ErrTransfer, exportErr, strings.TrimSpace(exportStderr.String()))
	}
	return nil
}
