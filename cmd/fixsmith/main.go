package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/jo-hoe/fixsmith/internal/codegen"
	"github.com/jo-hoe/fixsmith/internal/codegen/aiproxy"
	"github.com/jo-hoe/fixsmith/internal/codegen/mock"
	appcfg "github.com/jo-hoe/fixsmith/internal/config"
	"github.com/jo-hoe/fixsmith/internal/deploy"
	"github.com/jo-hoe/fixsmith/internal/deploy/vercel"
	"github.com/jo-hoe/fixsmith/internal/jobs"
	"github.com/jo-hoe/fixsmith/internal/notify/slack"
	"github.com/jo-hoe/fixsmith/internal/processor"
	"github.com/jo-hoe/fixsmith/internal/server"
	"github.com/jo-hoe/fixsmith/internal/vcs"
	gitrepo "github.com/jo-hoe/fixsmith/internal/vcs/git"
	"github.com/jo-hoe/fixsmith/internal/vcs/github"
)

func main() {
	// Optional .env file; real env vars win.
	_ = godotenv.Load()

	// Load config
	cfg, err := appcfg.Load("")
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	// Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	// Notification port (Slack)
	notifier := slack.New(cfg.Slack)

	// Code-generation port
	var generator codegen.Client
	switch strings.ToLower(cfg.CodeGen.Provider) {
	case "mock":
		generator = mock.New(cfg.CodeGen.Mock)
	case "aiproxy":
		generator = aiproxy.New(cfg.CodeGen.AIProxy)
	default:
		logger.Error("unsupported codegen provider", "provider", cfg.CodeGen.Provider)
		os.Exit(1)
	}

	// Version-control port: local go-git checkout plus the GitHub REST API
	repoOps, err := gitrepo.New(logger.With("component", "git"), cfg.Repo)
	if err != nil {
		logger.Error("init git repo port", "err", err)
		os.Exit(1)
	}
	hostOps, err := github.New(cfg.GitHub)
	if err != nil {
		logger.Error("init github port", "err", err)
		os.Exit(1)
	}
	vcsClient := vcs.NewClient(repoOps, hostOps)

	// Deployment port (optional)
	var deployer deploy.Waiter
	if cfg.Deploy.Enabled {
		deployer = vercel.New(logger.With("component", "vercel"), cfg.Deploy)
	}

	// Processor and queue
	worker := processor.New(logger.With("component", "processor"), cfg, notifier, generator, vcsClient, deployer)
	queue := jobs.NewQueue(logger.With("component", "queue"), cfg.Queue.Capacity, cfg.Queue.MaxAttempts)
	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := queue.Start(rootCtx, worker); err != nil {
		logger.Error("start queue", "err", err)
		os.Exit(1)
	}

	// HTTP server
	svc := &server.Service{
		Log:   logger,
		Cfg:   cfg,
		Queue: queue,
	}
	httpSrv := server.NewHTTPServer(svc)

	// Run server in background
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "address", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	// Drain the in-flight job
	queue.Shutdown(cfg.Server.ShutdownGrace)
	logger.Info("server stopped")
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
