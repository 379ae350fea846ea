package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/antoniostano/dyadchat/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pairing and chat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.BindAddr = addr
		}
		logger := slog.Default()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		built, err := app.Build(ctx, cfg, logger)
		if err != nil {
			return err
		}

		httpServer := &http.Server{
			Addr:    cfg.BindAddr,
			Handler: built.API.Router(),
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("server listening", "addr", cfg.BindAddr, "question_type", cfg.QuestionType)
			serverErrors <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			_ = built.Cleanup()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case err := <-built.Sessions.Faults():
			// Participants already heard connection_lost.
			logger.Error("fatal fault, exiting", "error", err)
			_ = httpServer.Close()
			if cerr := built.Cleanup(); cerr != nil {
				logger.Warn("cleanup failed", "error", cerr)
			}
			os.Exit(1)
		case <-ctx.Done():
			logger.Info("shutdown signal received")
		}

		// Participants hear connection_lost before the listener goes away.
		built.Sessions.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", "error", err)
			_ = httpServer.Close()
		}
		if err := built.Cleanup(); err != nil {
			logger.Warn("cleanup failed", "error", err)
		}
		logger.Info("shutdown complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides APP_BIND_ADDR)")
}
