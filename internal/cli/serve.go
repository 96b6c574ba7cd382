package cli

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

	"github.com/Alby2007/PLTM-sub001/internal/engine"
	"github.com/Alby2007/PLTM-sub001/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and background passes",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx, db, true)
	if err != nil {
		return err
	}
	defer eng.Close()

	sched := engine.NewScheduler(logger.Named("scheduler"), 0)
	if err := eng.SchedulePasses(sched, cfg.Index.Schedule, cfg.Migration.Schedule); err != nil {
		return err
	}
	sched.Start()

	srv := server.New(eng, server.Options{
		Version:        VersionString(),
		Logger:         logger.Named("http"),
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	})
	addr := cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		model := "none"
		if emb := eng.Embedder(); emb != nil {
			model = emb.Model()
		}
		logger.Info("pltm serving",
			zap.String("addr", addr),
			zap.String("db", db.Path),
			zap.String("embedder", model),
			zap.Bool("meta_judge", cfg.Jury.EnableMetaJudge),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sched.Stop(shutdownCtx)
	return httpServer.Shutdown(shutdownCtx)
}
