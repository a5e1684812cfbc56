package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cronOnce bool

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Run triage for every user on a fixed interval",
	RunE:  runCron,
}

func init() {
	cronCmd.Flags().BoolVar(&cronOnce, "once", false, "run a single pass and exit")
}

func runCron(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()
	log := a.logger

	interval := a.cfg.Triage.CronInterval()
	log.Info("Starting triage cron", zap.Duration("interval", interval))

	pass := func() {
		start := time.Now()
		if err := a.orchestrator.RunAll(ctx); err != nil {
			log.Error("Cron pass failed", zap.Error(err))
			return
		}
		log.Info("Cron pass completed", zap.Duration("took", time.Since(start)))
	}

	// 启动时立即跑一次
	pass()
	if cronOnce {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("Triage cron stopped")
			return nil
		case <-ticker.C:
			pass()
		}
	}
}
