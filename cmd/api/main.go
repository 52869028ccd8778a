package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"dishdash.org/internal/auth"
	"dishdash.org/internal/config"
	"dishdash.org/internal/grpcapi"
	"dishdash.org/internal/httpapi"
	"dishdash.org/internal/migrate"
	"dishdash.org/internal/obs"
	"dishdash.org/internal/ratelimit"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("DISHDASH_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	obs.SetLogger(obs.NewLogger(os.Stdout, obs.ParseLevel(cfg.LogLevel)))
	obs.Init()
	obs.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		obs.Logger().Error("api stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	log := obs.Logger()

	// User store: PostgreSQL when a DSN is configured, memory otherwise.
	var (
		db    *sql.DB
		users auth.UserStore
	)
	if cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)

		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = migrate.Up(migrateCtx, db)
		cancel()
		if err != nil {
			return err
		}
		users = auth.NewPGUserStore(db)
	} else {
		log.Warn("no postgres DSN configured, using in-memory user store")
		users = auth.NewMemoryUserStore()
	}

	dir := auth.NewDirectory(users)
	for _, su := range cfg.SeedUsers {
		_, err := dir.Register(ctx, su.Email, su.Name, su.Role, su.Password)
		switch {
		case err == nil:
			log.Info("seeded user", "email", su.Email)
		case errors.Is(err, auth.ErrAlreadyExists):
		default:
			return err
		}
	}

	codec, err := auth.NewCodec([]byte(cfg.JWT.Secret), auth.WithIssuer(cfg.JWT.Issuer))
	if err != nil {
		return err
	}
	exchange, err := auth.NewExchange(codec, dir, dir,
		auth.WithAccessTTL(cfg.JWT.AccessTTL),
		auth.WithRefreshTTL(cfg.JWT.RefreshTTL),
		auth.WithIssueObserver(func(c auth.Class) { obs.TokenIssued(string(c)) }),
	)
	if err != nil {
		return err
	}

	throttle := ratelimit.NewThrottle(cfg.LoginThrottle.Burst, cfg.LoginThrottle.PerMinute, 0)

	var (
		limiter ratelimit.Admitter
		rdb     *redis.Client
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		limiter = ratelimit.NewRedisWindow(rdb, "dishdash:ratelimit:", cfg.RateLimit.Requests, cfg.RateLimit.Window, func(err error) {
			log.Warn("redis rate limiter unavailable, admitting request", "err", err)
		})
		go sweepEvery(ctx, cfg.RateLimit.SweepInterval, func() { throttle.Sweep(time.Now()) })
	} else {
		window := ratelimit.NewFixedWindow(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		limiter = window
		go window.Run(ctx, cfg.RateLimit.SweepInterval, func(removed, tracked int) {
			obs.SetRateLimitTracked(tracked)
			throttle.Sweep(time.Now())
			if removed > 0 {
				log.Debug("rate limiter sweep", "removed", removed, "tracked", tracked)
			}
		})
	}

	ready := httpapi.ReadyProbe{DB: db}
	if rdb != nil {
		ready.Redis = rdb
	}
	api := httpapi.New(httpapi.Deps{
		Version:       version,
		Ready:         ready,
		Codec:         codec,
		Exchange:      exchange,
		Identities:    dir,
		Registrar:     dir,
		Limiter:       limiter,
		LoginThrottle: throttle,
		MaxBodyBytes:  cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpcapi.New(cfg.GRPCAddr, grpcapi.Deps{
		Codec:      codec,
		Identities: dir,
		Limiter:    limiter,
	})

	errCh := make(chan error, 2)
	go func() {
		log.Info("starting dishdash-api", "version", version, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := grpcSrv.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}

func sweepEvery(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}
