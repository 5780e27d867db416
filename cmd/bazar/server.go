package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/bazar/internal/api"
	"github.com/kalambet/bazar/internal/config"
	"github.com/kalambet/bazar/internal/telegram"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot, the admin API and (optionally) the MCP stdio server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runServer(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer(cfg config.Config) error {
	logger := newLogger(cfg.Log, os.Stderr)
	logger.Info("bazar starting", "version", version, "storage", cfg.Storage.Backend, "data_dir", cfg.Storage.DataDir)

	if !cfg.Server.Enabled && cfg.Telegram.Token == "" && !cfg.MCP.Enabled {
		return errors.New("nothing to serve: enable server.enabled, mcp.enabled or set telegram.token")
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Server.Enabled {
		if cfg.Server.APIToken == "" {
			logger.Warn("server.api_token is empty, admin API is unauthenticated")
		}
		handler := api.NewHandler(api.AppDeps{
			Store:      a.store,
			Catalog:    a.catalog,
			Dispatcher: a.dispatcher,
			Token:      cfg.Server.APIToken,
			Logger:     logger,
		})
		addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
		srv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext: func(_ net.Listener) context.Context {
				return ctx
			},
		}
		g.Go(func() error {
			logger.Info("admin API listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Telegram.Token != "" {
		bot, err := telegram.NewBot(telegram.Options{
			Token:          cfg.Telegram.Token,
			BaseURL:        cfg.Telegram.BaseURL,
			PollTimeoutSec: cfg.Telegram.PollTimeout,
			Workers:        cfg.Telegram.Workers,
			OffsetFile:     cfg.OffsetFile(),
			Logger:         logger,
		}, a.dispatcher)
		if err != nil {
			return err
		}
		g.Go(func() error { return bot.Run(ctx) })
	} else {
		logger.Info("telegram.token not set, Telegram transport disabled")
	}

	if cfg.MCP.Enabled {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:     a.store,
			Catalog:   a.catalog,
			Extractor: a.extractor,
		}, version)
		stdio := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			logger.Info("MCP server started (stdio transport)")
			if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP stdio server: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Info("bazar stopped")
	return err
}
