package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aravindh-murugesan/rbdsentry-go/internal/cloud"
	"github.com/aravindh-murugesan/rbdsentry-go/internal/config"
	"github.com/aravindh-murugesan/rbdsentry-go/internal/errs"
	"github.com/aravindh-murugesan/rbdsentry-go/internal/hypervisor"
	"github.com/aravindh-murugesan/rbdsentry-go/internal/lock"
	"github.com/aravindh-murugesan/rbdsentry-go/internal/logging"
	"github.com/aravindh-murugesan/rbdsentry-go/internal/notifications"
	"github.com/aravindh-murugesan/rbdsentry-go/internal/objectpool"
	"github.com/aravindh-murugesan/rbdsentry-go/internal/orchestrator"
	"github.com/aravindh-murugesan/rbdsentry-go/internal/pool"
	"github.com/aravindh-murugesan/rbdsentry-go/internal/retention"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run one replication + retention pass over the configured volumes",
	Long: `run takes one new snapshot per configured volume, transfers the
incremental diff to the backup pool, and prunes the backup history according
to the [POLICY] retention settings. Equivalent to a single daemon tick.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), runOptions{})
	},
}

func init() {
	rootCommand.AddCommand(runCommand)
}

// runOptions lets daemon.go force clean-only behavior for its prune-only
// job without disturbing the --clean-only flag's value for the replication
// job scheduled alongside it.
type runOptions struct {
	forceCleanOnly bool
}

// runOnce assembles the pool pair, optional hypervisor quiescer, retention
// planner, and webhook notifier from configuration and flags, then drives
// one Orchestrator.Run pass across every configured volume (block and, if
// [RADOSGW] geographies are set, metadata pools). It is the single code
// path shared by "rbdsentry run" and both of "rbdsentry daemon"'s
// scheduled jobs.
func runOnce(ctx context.Context, opts runOptions) error {
	pidLock, err := lock.Acquire(pidFile)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return err
		}
		return fmt.Errorf("%w: %s", errs.ErrConfig, err)
	}
	defer pidLock.Release()

	runID := logging.NewRunID()
	logLevel := "info"
	if verbose {
		logLevel = "debug"
	}

	var logOut *os.File
	if silent {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("%w: open log file %s: %s", errs.ErrConfig, logFile, err)
		}
		defer f.Close()
		logOut = f
	}
	log := logging.Setup(logLevel, silent, logOut, runID)

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("%w: %s", errs.ErrConfig, err)
	}

	buckets, err := retention.ParseBucketPolicy(cfg.Policy.TimeToLive)
	if err != nil {
		return fmt.Errorf("%w: %s", errs.ErrConfig, err)
	}
	var retentionMatcher, maxRetentionMatcher *retention.Matcher
	if cfg.Policy.RetentionPolicy != "" {
		if retentionMatcher, err = retention.Parse(cfg.Policy.RetentionPolicy); err != nil {
			return fmt.Errorf("%w: retention_policy: %s", errs.ErrConfig, err)
		}
	}
	if cfg.Policy.MaxRetention != "" {
		if maxRetentionMatcher, err = retention.Parse(cfg.Policy.MaxRetention); err != nil {
			return fmt.Errorf("%w: max_retention: %s", errs.ErrConfig, err)
		}
	}
	planner := &retention.Planner{
		Buckets:         buckets,
		RetentionPolicy: retentionMatcher,
		MaxRetention:    maxRetentionMatcher,
	}

	quiescer, err := buildQuiescer(ctx, log)
	if err != nil {
		return fmt.Errorf("%w: %s", errs.ErrConnect, err)
	}

	notifier := &notifications.Webhook{URL: webhookURL, Username: webhookUsername, Password: webhookPassword}

	effectiveCleanOnly := cleanOnly || opts.forceCleanOnly
	now := time.Now().UTC()

	var runErrs error

	if src, bk, cerr := connectPoolPair(ctx, cfg.Main.SourceCephPool, cfg.Main.BackupCephPool,
		cfg.Main.SourceCephConf, cfg.Main.SourceCephUser, cfg.Main.SourceCephKeyring,
		cfg.Main.BackupCephConf, cfg.Main.BackupCephUser, cfg.Main.BackupCephKeyring); cerr != nil {
		return fmt.Errorf("%w: %s", errs.ErrConnect, cerr)
	} else {
		o := &orchestrator.Orchestrator{
			Source: src, Backup: bk, Quiescer: quiescer, Planner: planner, Notifier: notifier,
			DryRun: dryRun, CleanOnly: effectiveCleanOnly, Logger: log, RunID: runID,
		}
		if err := o.Run(ctx, cfg.Volumes(), now); err != nil {
			runErrs = errors.Join(runErrs, err)
		}
	}

	for _, geo := range cfg.Geographies() {
		srcDrv := objectpool.NewSourceDriver(geo, dryRun)
		bkDrv := objectpool.NewBackupDriver(geo, dryRun)
		src := pool.NewPool(objectpool.SourcePoolName(geo), srcDrv)
		bk := pool.NewPool(objectpool.BackupPoolName(geo), bkDrv)
		if err := src.Driver.Connect(ctx, "", "", ""); err != nil {
			runErrs = errors.Join(runErrs, fmt.Errorf("connect metadata pool %s: %w", geo, err))
			continue
		}
		if err := bk.Driver.Connect(ctx, "", "", ""); err != nil {
			runErrs = errors.Join(runErrs, fmt.Errorf("connect metadata backup pool %s: %w", geo, err))
			continue
		}
		if err := src.Load(ctx); err != nil {
			runErrs = errors.Join(runErrs, fmt.Errorf("load metadata pool %s: %w", geo, err))
			continue
		}
		if err := bk.Load(ctx); err != nil {
			runErrs = errors.Join(runErrs, fmt.Errorf("load metadata backup pool %s: %w", geo, err))
			continue
		}
		o := &orchestrator.Orchestrator{
			Source: src, Backup: bk, Planner: planner, Notifier: notifier,
			DryRun: dryRun, CleanOnly: effectiveCleanOnly, Logger: log.With("geography", geo), RunID: runID,
		}
		volumes := []orchestrator.Volume{{Name: objectpool.MetadataVolume}}
		if err := o.Run(ctx, volumes, now); err != nil {
			runErrs = errors.Join(runErrs, err)
		}
	}

	return runErrs
}

// connectPoolPair dials and loads the source and backup cluster pools.
func connectPoolPair(ctx context.Context, sourcePool, backupPool, sourceConf, sourceUser, sourceKeyring, backupConf, backupUser, backupKeyring string) (*pool.Pool, *pool.Pool, error) {
	srcDriver := pool.NewRBDDriver(sourcePool, dryRun)
	if err := srcDriver.Connect(ctx, sourceConf, sourceUser, sourceKeyring); err != nil {
		return nil, nil, fmt.Errorf("connect source pool %s: %w", sourcePool, err)
	}
	bkDriver := pool.NewRBDDriver(backupPool, dryRun)
	if err := bkDriver.Connect(ctx, backupConf, backupUser, backupKeyring); err != nil {
		return nil, nil, fmt.Errorf("connect backup pool %s: %w", backupPool, err)
	}

	src := pool.NewPool(sourcePool, srcDriver)
	bk := pool.NewPool(backupPool, bkDriver)
	if err := src.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("load source pool %s: %w", sourcePool, err)
	}
	if err := bk.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("load backup pool %s: %w", backupPool, err)
	}
	return src, bk, nil
}

// buildQuiescer returns nil (no quiescing) unless --cloud names a profile,
// in which case it authenticates an OpenStackQuiescer up front so a later
// per-volume failure surfaces at startup rather than mid-run.
func buildQuiescer(ctx context.Context, log *slog.Logger) (hypervisor.Quiescer, error) {
	if cloudProfile == "" {
		return nil, nil
	}
	retry := cloud.RetryConfig{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, OperationTimeout: 30 * time.Second}
	q, err := hypervisor.NewOpenStackQuiescer(ctx, cloudProfile, retry)
	if err != nil {
		return nil, err
	}
	log.Info("guest quiescing enabled", "cloud", cloudProfile)
	return q, nil
}
