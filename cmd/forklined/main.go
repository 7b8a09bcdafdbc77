// Package main is the entry point for forklined, the headless orchestration
// daemon: a loopback-only Control Daemon (PTY supervisor + worktree
// manager behind an HTTP+SSE API) and a second loopback Approval Gateway
// for agent-originated callbacks.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/forkline/core/internal/appctx"
	"github.com/forkline/core/internal/approval"
	"github.com/forkline/core/internal/bus"
	"github.com/forkline/core/internal/config"
	"github.com/forkline/core/internal/control"
	"github.com/forkline/core/internal/logger"
	"github.com/forkline/core/internal/pty"
	"github.com/forkline/core/internal/token"
	"github.com/forkline/core/internal/worktree"
)

func main() {
	var portFlag int
	flag.IntVar(&portFlag, "port", 0, "override FORKLINE_CORE_PORT (0 = use config)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if portFlag > 0 {
		cfg.CorePort = portFlag
	}

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "info", Format: "console", OutputPath: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	resolved, err := token.Resolve(cfg.CoreToken, cfg.CoreTokenFile)
	if err != nil {
		log.Fatal("failed to resolve auth token", zap.Error(err))
	}

	eventBus := bus.NewMemoryEventBus(log)
	defer eventBus.Close()

	supervisor := pty.NewSupervisor(eventBus, log, cfg.MaxPTYSessions, cfg.MaxPTYWriteBytes, 0)
	worktrees := worktree.NewManager(log)

	controlServer := control.NewServer(control.Config{
		Token:              resolved.Value,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		MaxPTYWriteBytes:   cfg.MaxPTYWriteBytes,
		MaxSSEClients:      cfg.MaxSSEClients,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, eventBus, supervisor, worktrees, log)

	writerDB, readerDB, err := approval.OpenDB(cfg.ApprovalDBPath)
	if err != nil {
		log.Fatal("failed to open approvals database", zap.Error(err))
	}
	defer func() { _ = writerDB.Close() }()
	defer func() { _ = readerDB.Close() }()

	approvalStore, err := approval.NewStore(writerDB, readerDB)
	if err != nil {
		log.Fatal("failed to initialize approvals store", zap.Error(err))
	}

	sweepCtx, sweepCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if n, err := approvalStore.SweepExpiredPending(sweepCtx, time.Duration(cfg.ApprovalWaitMaxSeconds)*time.Second); err != nil {
		log.Error("failed to sweep expired approval requests", zap.Error(err))
	} else if n > 0 {
		log.Info("swept expired approval requests", zap.Int64("count", n))
	}
	sweepCancel()

	prunerStop := make(chan struct{})
	prunerCtx, prunerCancel := appctx.Detached(context.Background(), prunerStop, 365*24*time.Hour)
	defer prunerCancel()
	go runApprovalPruner(prunerCtx, approvalStore, log, time.Duration(cfg.ApprovalRetentionDays)*24*time.Hour)

	approvalGateway := approval.NewGateway(approval.Config{
		Token:              resolved.Value,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		WaitMax:            time.Duration(cfg.ApprovalWaitMaxSeconds) * time.Second,
	}, approvalStore, approval.NewLogNotifier(log), log)

	coreHTTP := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.CorePort),
		Handler:      controlServer.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived.
	}
	approvalHTTP := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.ApprovalPort),
		Handler:      approvalGateway.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(cfg.ApprovalWaitMaxSeconds+30) * time.Second,
	}

	go func() {
		log.Info("control daemon listening", zap.String("addr", coreHTTP.Addr))
		if err := coreHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("control daemon failed to bind", zap.Error(err))
		}
	}()
	go func() {
		log.Info("approval gateway listening", zap.String("addr", approvalHTTP.Addr))
		if err := approvalHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("approval gateway failed to bind", zap.Error(err))
		}
	}()

	fmt.Printf("forklined listening on %s (control) and %s (approval), token source: %s\n",
		coreHTTP.Addr, approvalHTTP.Addr, resolved.Source)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down forklined")
	close(prunerStop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := coreHTTP.Shutdown(ctx); err != nil {
		log.Error("control daemon shutdown error", zap.Error(err))
	}
	if err := approvalHTTP.Shutdown(ctx); err != nil {
		log.Error("approval gateway shutdown error", zap.Error(err))
	}

	log.Info("forklined stopped")
}

// runApprovalPruner periodically deletes resolved approval requests past the
// configured retention window, keeping the table bounded in size and age.
func runApprovalPruner(ctx context.Context, store *approval.Store, log *logger.Logger, retention time.Duration) {
	const maxResolvedCount = 10_000
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.PruneResolved(ctx, retention, maxResolvedCount); err != nil {
				log.Error("failed to prune resolved approval requests", zap.Error(err))
			}
		}
	}
}
