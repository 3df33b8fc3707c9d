package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cbdata/internal/monitoring"
	"github.com/sells-group/cbdata/internal/pipeline"
	"github.com/sells-group/cbdata/internal/scheduler"
)

var scheduleRunNow bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run archive, quality, and health-check jobs on a cron schedule",
	Long:  "Starts a long-running daemon that archives the trading day, audits quality, and checks collection health on the schedules in config (Asia/Shanghai time).",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		s := scheduler.New(ctx, shanghai())
		archiveJob := modeJob(env.Pipeline, pipeline.ModeArchive)
		if err := s.AddJob(cfg.Schedule.ArchiveCron, archiveJob); err != nil {
			return err
		}
		if err := s.AddJob(cfg.Schedule.QualityCron, modeJob(env.Pipeline, pipeline.ModeQuality)); err != nil {
			return err
		}
		checker := monitoring.NewChecker(
			monitoring.NewCollector(env.Store),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
		if err := s.AddJob(cfg.Schedule.MonitorCron, checker); err != nil {
			return err
		}

		if scheduleRunNow {
			if err := s.RunNow(archiveJob); err != nil {
				zap.L().Error("initial archive failed", zap.Error(err))
			}
		}

		s.Start()
		<-ctx.Done()
		s.Stop()
		return nil
	},
}

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleRunNow, "now", false, "run an archive immediately before waiting for the schedule")
	rootCmd.AddCommand(scheduleCmd)
}

// modeJob wraps one pipeline mode as a scheduled job.
func modeJob(p *pipeline.Pipeline, mode pipeline.Mode) scheduler.Job {
	return scheduler.JobFunc{
		JobName: string(mode),
		Fn: func(ctx context.Context) error {
			_, err := p.Run(ctx, mode)
			return err
		},
	}
}

func shanghai() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}
