package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mailtriage/internal/api"
	"mailtriage/pkg/mq"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the run-request consumer",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()
	log := a.logger

	if a.cfg.JWT.Secret == "" {
		return errors.New("jwt.secret is required to serve the API")
	}

	log.Info("Starting triage server",
		zap.String("env", a.cfg.Env),
		zap.String("port", a.cfg.Server.Port),
		zap.Bool("mq_enabled", a.publisher != nil),
	)

	// MQ 消费者：执行异步触发的运行
	if a.publisher != nil {
		consumer, err := mq.NewConsumer(a.cfg.MQ.URL, mq.QueueRunRequested, mq.RoutingRunRequested, log)
		if err != nil {
			return err
		}
		defer consumer.Close()
		consumer.SetHandler(a.orchestrator.HandleRunRequested)

		go func() {
			if err := consumer.StartConsuming(ctx); err != nil {
				log.Error("Consumer stopped", zap.Error(err))
			}
		}()
	}

	router := api.NewRouter(api.Handlers{
		Runs:            api.NewRunHandler(a.orchestrator, a.runs, log),
		Classifications: api.NewClassificationHandler(a.inboxService(), log),
		Rules:           api.NewRuleHandler(a.rules, log),
	}, a.cfg.JWT.Secret, a.pool, log)

	srv := &http.Server{
		Addr:              a.cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-errCh:
		log.Error("HTTP server failed", zap.Error(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
	log.Info("Triage server stopped")
	return nil
}
