package main // Entry point package

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/license-panel/internal/auth"
	"github.com/iliyamo/license-panel/internal/config"
	"github.com/iliyamo/license-panel/internal/database"
	"github.com/iliyamo/license-panel/internal/handler"
	"github.com/iliyamo/license-panel/internal/logs"
	"github.com/iliyamo/license-panel/internal/middleware"
	"github.com/iliyamo/license-panel/internal/queue"
	"github.com/iliyamo/license-panel/internal/repository"
	"github.com/iliyamo/license-panel/internal/router"
	"github.com/iliyamo/license-panel/internal/service"
)

func main() {
	if err := run(); err != nil {
		logs.Logger.WithError(err).Fatal("server stopped")
	}
}

func run() error {
	cfg, err := config.Load() // .env is optional
	if err != nil {
		return err
	}
	closer, err := logs.Init(logs.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer closer.Close()
	log := logs.With("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// Redis is optional: without it lockout counters stay in process and
	// rate limiting is off.
	rdb, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.WithError(err).Warn("redis unavailable; using in-process lockout, rate limiting disabled")
	} else {
		defer rdb.Close()
	}

	var pub service.EventPublisher
	if cfg.AMQP.Enabled {
		pub = queue.NewPublisher(cfg.AMQP.URL)
		archive := queue.NewArchive(cfg.AMQP.Archive)
		go func() {
			if err := queue.StartActivityConsumer(ctx, cfg.AMQP.URL, archive); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Warn("activity consumer stopped")
			}
		}()
	}

	svc := service.NewLicensing(store, service.Options{
		Retry: service.RetryPolicy{
			Attempts:  cfg.Retry.Attempts,
			BaseDelay: cfg.Retry.BaseDelay,
			MaxDelay:  cfg.Retry.MaxDelay,
		},
		Publisher: pub,
	})

	verifier, err := auth.NewVerifier(store, cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("credential verifier: %w", err)
	}
	accounts := service.NewAccounts(store, verifier, service.AccountOptions{
		Lockout:    auth.Guard{Store: lockoutStore(rdb), Threshold: cfg.Lockout.Threshold, Window: cfg.Lockout.Window},
		BcryptCost: cfg.BcryptCost,
	})
	if cfg.AdminUsername != "" {
		created, err := accounts.BootstrapAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			log.WithField("username", cfg.AdminUsername).Info("created initial admin account")
		}
	}

	var apiLimit, loginLimit *middleware.TokenBucket
	if rdb != nil {
		apiLimit = middleware.NewTokenBucket(cfg.RateLimit, rdb)
		loginLimit = middleware.NewTokenBucket(cfg.RateLimit.Login(), rdb)
	}

	e := router.New(router.Panel{
		Auth:      handler.NewAuthHandler(accounts, cfg.JWTSecret, cfg.AccessTTLMin),
		Devices:   handler.NewDeviceHandler(svc),
		Logs:      handler.NewLogHandler(svc),
		Users:     handler.NewUserHandler(accounts),
		Dashboard: handler.NewDashboardHandler(svc),
	}, router.Security{
		JWTSecret:  cfg.JWTSecret,
		Loader:     accounts,
		APILimit:   apiLimit,
		LoginLimit: loginLimit,
	}, svc)

	addr := ":" + cfg.Port
	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).WithField("env", cfg.Env).WithField("storage", cfg.StorageDriver).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	svc.Wait()
	return nil
}

// openStore returns the configured storage and its release function.
func openStore(ctx context.Context, cfg config.Config) (repository.Store, func(), error) {
	if cfg.StorageDriver == config.DriverMemory {
		store := repository.NewMemoryStore()
		if err := store.Ping(ctx); err != nil {
			logs.With("main").WithError(err).Warn("memory store ping")
		}
		return store, func() {}, nil
	}

	db, err := database.Open(ctx, database.Options{
		User: cfg.DBUser,
		Pass: cfg.DBPass,
		Host: cfg.DBHost,
		Port: cfg.DBPort,
		Name: cfg.DBName,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return repository.NewMySQLStore(db), func() { _ = db.Close() }, nil
}

func lockoutStore(rdb *redis.Client) auth.LockoutStore {
	if rdb == nil {
		return auth.NewMemoryLockoutStore()
	}
	return auth.NewRedisLockoutStore(rdb)
}
