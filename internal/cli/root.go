package cli

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aravindh-murugesan/rbdsentry-go/internal/errs"
	"github.com/aravindh-murugesan/rbdsentry-go/internal/lock"
)

var (
	configFile, pidFile, logFile       string
	silent, dryRun, cleanOnly, verbose bool

	cloudProfile string

	webhookURL      string
	webhookUsername string
	webhookPassword string
)

var rootCommand = &cobra.Command{
	Use:   "rbdsentry",
	Short: "rbdsentry: Ceph RBD pool-to-pool replication and retention",
	Long: `rbdsentry takes periodic snapshots of RBD volumes on a source pool,
streams the incremental diff into a backup pool through a producer/consumer
pipe, and prunes the backup history on a time-bucketed retention schedule.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCommand.Execute()
}

// ExitCode maps a command error to the exit code contract from spec.md §6:
// 0 on success or an already-running lock no-op, 2 on a fatal configuration
// or cluster-connect error, 1 otherwise (e.g. accumulated per-volume
// replication/prune failures that did not abort the whole run).
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, lock.ErrHeld):
		return 0
	case errors.Is(err, errs.ErrConfig), errors.Is(err, errs.ErrConnect):
		return 2
	default:
		return 1
	}
}

func init() {
	flags := rootCommand.PersistentFlags()
	flags.StringVar(&configFile, "config-file", "/etc/cephbackup.conf", "Path to the INI configuration file")
	flags.StringVar(&pidFile, "pid-file", "/var/run/cephlivebackup.pid", "Path to the single-instance advisory lock file")
	flags.StringVar(&logFile, "log-file", "/var/log/cephbackup/backup.log", "Path to the log file used with --silent")
	flags.BoolVarP(&silent, "silent", "s", false, "Redirect logging to --log-file instead of stderr")
	flags.BoolVarP(&dryRun, "dry-run", "d", false, "Compute and log all actions; do not mutate cluster state")
	flags.BoolVarP(&cleanOnly, "clean-only", "c", false, "Skip replication; run retention pruning only")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log-level debug")
	flags.StringVar(&cloudProfile, "cloud", "", "OpenStack cloud profile (clouds.yaml) used to quiesce guests; empty disables quiescing")
	flags.StringVar(&webhookURL, "webhook-url", "", "Webhook URL for failure alerting")
	flags.StringVar(&webhookUsername, "webhook-username", "", "Webhook basic-auth username")
	flags.StringVar(&webhookPassword, "webhook-password", "", "Webhook basic-auth password")

	_ = viper.BindPFlag("config-file", flags.Lookup("config-file"))
	viper.SetEnvPrefix("RBDSENTRY")
	viper.AutomaticEnv()
}
