package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/coredelegate/internal/app"
	"github.com/user/coredelegate/internal/config"
	"github.com/user/coredelegate/internal/webhook"
)

// errRestart unwinds the serve loop when SIGHUP asks for a re-exec.
var errRestart = errors.New("restart requested")

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cron scheduler and the HTTP control API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	release, err := acquirePIDFile(cfg)
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		release()
		return err
	}

	err = serve(cfg, a)
	a.Close()
	release()
	if !errors.Is(err, errRestart) {
		return err
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	slog.Info("re-executing", "path", execPath)
	return syscall.Exec(execPath, os.Args, os.Environ())
}

// serve blocks until a signal arrives or the HTTP listener fails.
func serve(cfg *config.Config, a *app.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	slog.Info("delegatectl started",
		"data_dir", cfg.DataDir,
		"cron_store", cfg.Cron.Store,
		"sites", len(a.Sites.Sites()),
		"cron_jobs", len(a.Cron.Names()),
		"pid", os.Getpid(),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			slog.Info("shutting down", "signal", sig)
			if sig == syscall.SIGHUP {
				return errRestart
			}
			cancel()
			return nil
		case <-gctx.Done():
			return nil
		}
	})

	if cfg.HTTP.Enabled {
		srv := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           webhook.NewServer(a, cfg.HTTP.Token),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http server started", "listen", cfg.HTTP.Listen, "auth", cfg.HTTP.Token != "")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	} else {
		slog.Warn("http server disabled")
	}

	return g.Wait()
}
