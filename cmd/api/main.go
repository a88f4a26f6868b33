package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"loan-lifecycle-engine/internal/adapter/credit"
	httpadp "loan-lifecycle-engine/internal/adapter/http"
	ledgerAdp "loan-lifecycle-engine/internal/adapter/ledger"
	lockAdp "loan-lifecycle-engine/internal/adapter/lock"
	idempotency "loan-lifecycle-engine/internal/adapter/middleware"
	"loan-lifecycle-engine/internal/adapter/notify"
	"loan-lifecycle-engine/internal/adapter/payment"
	"loan-lifecycle-engine/internal/adapter/repository/mysql"
	"loan-lifecycle-engine/internal/config"
	"loan-lifecycle-engine/internal/domain/ledger"
	"loan-lifecycle-engine/internal/domain/lock"
	"loan-lifecycle-engine/internal/infrastructure/cache"
	"loan-lifecycle-engine/internal/infrastructure/db"
	"loan-lifecycle-engine/internal/infrastructure/logger"
	"loan-lifecycle-engine/internal/usecase/lifecycle"
	"loan-lifecycle-engine/internal/usecase/reconcile"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = zl.Sync() }()

	gdb, err := db.OpenGorm(cfg.MySQLDSN(), zl)
	if err != nil {
		zl.Fatal("open mysql", zap.Error(err))
	}
	if err := db.Migrate(gdb); err != nil {
		zl.Fatal("migrate", zap.Error(err))
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		zl.Fatal("sql handle", zap.Error(err))
	}

	rdb, err := cache.OpenRedis(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		zl.Fatal("open redis", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	var locker lock.Locker = lockAdp.NewKeyedMutex()
	if cfg.LockBackend == config.LockBackendRedis {
		locker = lockAdp.NewRedisLocker(rdb, cfg.LockTTL, zl)
	}

	// left nil when no gateway is configured; loans then stay off-ledger
	checks := map[string]httpadp.Pinger{"redis": cache.NewPinger(rdb)}
	var ledgerClient ledger.Client
	if cfg.LedgerEnabled() {
		lc := ledgerAdp.NewClient(cfg.LedgerBaseURL, cfg.LedgerTimeout, zl)
		ledgerClient = lc
		checks["ledger"] = lc
	} else {
		zl.Warn("LEDGER_BASE_URL not set, ledger mirroring disabled")
	}

	loans := mysql.NewLoanRepository(gdb)
	audits := mysql.NewAuditRepository(gdb)
	unit := mysql.NewGormUoW(gdb)

	orch := lifecycle.NewOrchestrator(lifecycle.Deps{
		UoW:             unit,
		Loans:           loans,
		Audit:           audits,
		Locker:          locker,
		Payments:        payment.NewClient(cfg.PaymentBaseURL, cfg.PaymentTimeout, zl),
		Credit:          credit.NewRuleAssessor(),
		Ledger:          ledgerClient,
		Notifier:        notify.NewRedisNotifier(rdb, cfg.NotifyChannel),
		Log:             zl,
		LedgerTimeout:   cfg.LedgerTimeout,
		PaymentTimeout:  cfg.PaymentTimeout,
		MirrorByDefault: cfg.MirrorByDefault,
		Admins:          cfg.AdminActorIDs,
	})
	sweeper := reconcile.NewSweeper(reconcile.Deps{
		UoW:           unit,
		Loans:         loans,
		Audit:         audits,
		Locker:        locker,
		Ledger:        ledgerClient,
		Log:           zl,
		LedgerTimeout: cfg.LedgerTimeout,
		Interval:      cfg.SweepInterval,
		BatchSize:     cfg.SweepBatchSize,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go sweeper.Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Validator = httpadp.NewValidator()
	e.Use(middleware.RequestID(), middleware.Logger(), middleware.Recover())
	e.Use(idempotency.IdempotencyMiddleware(rdb, cfg.IdempotencyTTL(), zl))

	checks["mysql"] = sqlDB
	health := httpadp.NewHandler(checks)
	httpadp.Register(e, health, httpadp.NewLoanHandler(orch), httpadp.NewAdminHandler(sweeper))

	go func() {
		addr := ":" + cfg.AppPort
		zl.Info("listening", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown", zap.Error(err))
	}
	zl.Info("stopped")
}
