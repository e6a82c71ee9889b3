package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/BrandonDHaskell/zorder/internal/archive"
	"github.com/BrandonDHaskell/zorder/internal/config"
	"github.com/BrandonDHaskell/zorder/internal/db"
	"github.com/BrandonDHaskell/zorder/internal/dedup"
	"github.com/BrandonDHaskell/zorder/internal/healthsrv"
	"github.com/BrandonDHaskell/zorder/internal/httpapi"
	"github.com/BrandonDHaskell/zorder/internal/logging"
	"github.com/BrandonDHaskell/zorder/internal/messaging"
	"github.com/BrandonDHaskell/zorder/internal/zorder/service"
	"github.com/BrandonDHaskell/zorder/internal/zorder/store"
	"github.com/BrandonDHaskell/zorder/internal/zorder/store/memory"
	"github.com/BrandonDHaskell/zorder/internal/zorder/store/postgres"
	"github.com/BrandonDHaskell/zorder/internal/zorder/store/sqlite"
)

const dedupWindow = time.Hour

func main() {
	cfg, err := config.Load(os.Getenv("ZORDER_CONFIG_FILE"))
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel, httpapi.ServiceName)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store
	approvals, pinger, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Collaborators
	notifier := messaging.New(messaging.Config{
		Token:       cfg.WhatsApp.Token,
		PhoneID:     cfg.WhatsApp.PhoneID,
		OwnerNumber: cfg.WhatsApp.OwnerNumber,
		APIBase:     cfg.WhatsApp.APIBase,
		Limiter:     rate.NewLimiter(rate.Limit(10), 5),
	})
	if !notifier.Configured() {
		logger.Warn("whatsapp credentials missing; approval requests will fail")
	}

	var deduper dedup.Deduper = dedup.NewMemory(dedupWindow)
	if cfg.RedisURL != "" {
		rdb, err := dedup.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		deduper = dedup.NewRedis(rdb, "zorder:webhook:", dedupWindow)
		logger.Info("webhook dedup via redis")
	}

	var archiver archive.Archiver
	if cfg.ArchiveURL != "" {
		a, err := archive.New(ctx, cfg.ArchiveURL)
		if err != nil {
			return err
		}
		defer a.Close()
		archiver = a
		logger.Info("recording archive enabled", "url", cfg.ArchiveURL)
	}

	// Services
	approvalSvc := service.NewApprovalService(approvals, notifier, deduper, logger)
	recordingSvc := service.NewRecordingService(cfg.UploadDir, notifier, archiver, logger)

	pruner := service.NewApprovalPruner(approvals, service.PrunerConfig{
		RetentionDays: cfg.ApprovalRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, logger)
	pruner.Start(ctx)
	defer pruner.Stop()

	// gRPC health
	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			return err
		}
		hs := healthsrv.New(pinger, logger)
		go func() {
			logger.Info("grpc health listening", "addr", cfg.GRPCHealthAddr)
			if err := hs.Serve(lis); err != nil {
				logger.Error("grpc health server", "err", err)
			}
		}()
		defer hs.Stop()
	}

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:           logger,
		Addr:             cfg.HTTPAddr,
		ApprovalService:  approvalSvc,
		RecordingService: recordingSvc,
		VerifyToken:      cfg.VerifyToken,
		HMACSecret:       cfg.HMACSecret,
		EventRPS:         cfg.EventRPS,
		EventBurst:       cfg.EventBurst,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr, "env", cfg.Env, "db", cfg.DBDriver)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// openStore returns the approval store for cfg.DBDriver. pinger is nil
// for the memory store so health reports SERVING.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.ApprovalStore, store.Pinger, func(), error) {
	switch cfg.DBDriver {
	case "postgres":
		conn, err := db.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		st := postgres.NewApprovalStore(conn)
		if err := st.EnsureSchema(ctx); err != nil {
			_ = conn.Close()
			return nil, nil, nil, err
		}
		logger.Info("approval store", "driver", "postgres")
		return st, st, func() { _ = conn.Close() }, nil

	case "memory":
		logger.Warn("approval store is in memory; approvals are lost on restart")
		return memory.New(), nil, func() {}, nil

	default:
		conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.Env == "dev" && cfg.SeedDev {
			if err := db.SeedDev(ctx, conn, db.SeedDevOptions{}); err != nil {
				_ = conn.Close()
				return nil, nil, nil, err
			}
			logger.Info("seeded dev approval", "machine_id", db.DevMachineID)
		}
		writer := db.NewWorker(conn)
		st := sqlite.NewApprovalStore(conn, writer)
		logger.Info("approval store", "driver", "sqlite", "path", cfg.DBPath)
		return st, st, func() {
			writer.Close()
			_ = conn.Close()
		}, nil
	}
}
