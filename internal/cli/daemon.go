package cli

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron-ui/server"
	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"

	"github.com/aravindh-murugesan/rbdsentry-go/internal/logging"
)

var (
	replicateSchedule string
	pruneSchedule     string
	bindAddress       string
)

var daemonCommand = &cobra.Command{
	Use:   "daemon",
	Short: "Run rbdsentry as a background scheduler",
	Long: `daemon starts two scheduled jobs: one running a full replicate+prune
pass on --replicate-schedule, and one running a prune-only pass on
--prune-schedule for clusters that want cheap, frequent retention cleanup
between the more expensive replication ticks. Serves a scheduler dashboard on
--bind-address.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		banner := fmt.Sprintf("rbdsentry - Daemon Mode\n\nVersion: %s\nBuild Date: %s", Version, Date)
		fmt.Println(headerStyle.Render(banner))

		dlog := logging.Setup("info", false, nil, "daemon").With("component", "daemon")

		s, err := gocron.NewScheduler()
		if err != nil {
			return fmt.Errorf("create scheduler: %w", err)
		}
		s.Start()
		dlog.Info("scheduler started")

		var replicateJob gocron.Job
		replicateJob, err = s.NewJob(
			gocron.CronJob(replicateSchedule, false),
			gocron.NewTask(func() {
				if err := runOnce(cmd.Context(), runOptions{}); err != nil {
					dlog.Error("replication pass failed", "error", err)
				}
				if replicateJob != nil {
					if nextRun, err := replicateJob.NextRun(); err == nil {
						dlog.Info("replication pass completed", "next_run", nextRun.Format(time.RFC3339))
					}
				}
			}),
			gocron.WithName("Replicate"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("schedule replicate job: %w", err)
		}
		if nextRun, err := replicateJob.NextRun(); err == nil {
			dlog.Info("job scheduled", "job", replicateJob.Name(), "schedule", replicateSchedule, "next_run", nextRun.Format(time.RFC3339))
		}

		var pruneJob gocron.Job
		pruneJob, err = s.NewJob(
			gocron.CronJob(pruneSchedule, false),
			gocron.NewTask(func() {
				if err := runOnce(cmd.Context(), runOptions{forceCleanOnly: true}); err != nil {
					dlog.Error("prune pass failed", "error", err)
				}
				if pruneJob != nil {
					if nextRun, err := pruneJob.NextRun(); err == nil {
						dlog.Info("prune pass completed", "next_run", nextRun.Format(time.RFC3339))
					}
				}
			}),
			gocron.WithName("Prune"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("schedule prune job: %w", err)
		}
		if nextRun, err := pruneJob.NextRun(); err == nil {
			dlog.Info("job scheduled", "job", pruneJob.Name(), "schedule", pruneSchedule, "next_run", nextRun.Format(time.RFC3339))
		}

		srv := server.NewServer(s, 8080, server.WithTitle("rbdsentry - Scheduler Dashboard"))
		go func() {
			dlog.Info("scheduler UI started", "address", bindAddress)
			if err := http.ListenAndServe(bindAddress, srv.Router); err != nil {
				dlog.Error("scheduler UI stopped", "error", err)
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		dlog.Warn("shutting down scheduler due to system signal")
		return s.Shutdown()
	},
}

func init() {
	rootCommand.AddCommand(daemonCommand)
	daemonCommand.Flags().StringVar(&replicateSchedule, "replicate-schedule", "*/10 * * * *", "Cron schedule for the replicate+prune pass")
	daemonCommand.Flags().StringVar(&pruneSchedule, "prune-schedule", "0 */6 * * *", "Cron schedule for the prune-only pass")
	daemonCommand.Flags().StringVar(&bindAddress, "bind-address", "0.0.0.0:8080", "Address to bind the scheduler dashboard")
}
