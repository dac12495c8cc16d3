// Package main is the entry point for the chatproxy CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/comigor/chatproxy/internal/agent"
	"github.com/comigor/chatproxy/internal/config"
	"github.com/comigor/chatproxy/internal/history"
	"github.com/comigor/chatproxy/internal/llm"
	"github.com/comigor/chatproxy/internal/logger"
	"github.com/comigor/chatproxy/internal/server"
	"github.com/comigor/chatproxy/internal/session"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		logger.L.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatproxy",
		Short:         "HTTP chat proxy with per-session memory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")

	serve := serveCmd()
	root.RunE = serve.RunE
	root.AddCommand(serve, historyCmd(), purgeCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.Log.Level)
	logger.SetFormat(cfg.Log.Format)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.LLM.APIKey == "" {
				logger.L.Warn("no LLM API key configured")
			}

			store, err := history.Open(cfg.History.DBPath, cfg.History.QueueSize)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					logger.L.Error("failed to close history", "error", err)
				}
			}()

			client, err := llm.NewClient(cfg.LLM)
			if err != nil {
				return err
			}

			sessions := session.NewRegistry(store)
			janitor, err := session.StartJanitor(sessions, cfg.Session.SweepSchedule, cfg.Session.IdleTTL)
			if err != nil {
				return err
			}
			defer janitor.Stop()

			a := agent.New(client, sessions, store, cfg.Session.MaxEntries)
			srv := server.New(*cfg, a, sessions, store)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.L.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print the stored messages of a session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.History.DBPath, cfg.History.QueueSize)
			if err != nil {
				return err
			}
			defer store.Close()

			msgs, err := store.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if msgs == nil {
				msgs = []history.Message{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(msgs)
		},
	}
}

func purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <session-id>",
		Short: "Delete the stored messages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.History.DBPath, cfg.History.QueueSize)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %s\n", args[0])
			return nil
		},
	}
}
