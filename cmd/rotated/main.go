// Command rotated serves the goRotate engine over HTTP.
//
// Storage is chosen from the environment: ROTATE_DATABASE_URL selects Postgres,
// ROTATE_REDIS_ADDR selects Redis, and with neither set an embedded miniredis is used
// (sessions are lost on restart).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/common-nighthawk/go-figure"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	goRotate "github.com/MrEthical07/goRotate"
	"github.com/MrEthical07/goRotate/httpapi"
	"github.com/MrEthical07/goRotate/internal/config"
	"github.com/MrEthical07/goRotate/internal/rate"
	"github.com/MrEthical07/goRotate/internal/userdir"
	promexport "github.com/MrEthical07/goRotate/metrics/export/prometheus"
	"github.com/MrEthical07/goRotate/password"
	"github.com/MrEthical07/goRotate/store"
	"github.com/MrEthical07/goRotate/store/postgres"
	"github.com/MrEthical07/goRotate/store/redisstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rotated: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	figure.NewFigure("goRotate", "cybermedium", true).Print()
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, closeRedis, err := openRedis(cfg, log)
	if err != nil {
		return err
	}
	defer closeRedis()

	backend, closeBackend, err := openBackend(ctx, cfg, rdb, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	engine, err := goRotate.New().
		WithConfig(cfg.Engine).
		WithBackend(backend).
		WithLogger(log).
		WithAuditSink(goRotate.NewLoggerSink(log.With().Str("component", "audit").Logger())).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	report := engine.SecurityReport()
	for _, w := range report.Warnings {
		log.Warn().Str("backend", report.Backend).Msg(w)
	}

	users, err := newDirectory(cfg, log)
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(engine, users, httpapi.Config{
		InsecureCookies: cfg.InsecureCookies,
		Limiter: rate.New(rdb, rate.Config{
			Prefix:             "rotated:rl",
			MaxLoginAttempts:   cfg.LoginLimit,
			LoginWindow:        15 * time.Minute,
			MaxRefreshAttempts: cfg.RefreshLimit,
			RefreshWindow:      time.Minute,
		}),
		Metrics: promexport.NewCollector(engine).Handler(),
		Log:     log,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("backend", report.Backend).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(cfg *config.Server) zerolog.Logger {
	zerolog.SetGlobalLevel(cfg.LogLevel)
	if cfg.LogJSON {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// openRedis connects to ROTATE_REDIS_ADDR or starts an embedded miniredis. The client
// backs the rate limiter in every mode.
func openRedis(cfg *config.Server, log zerolog.Logger) (*redis.Client, func(), error) {
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		return rdb, func() { _ = rdb.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	log.Warn().Str("addr", mr.Addr()).Msg("using embedded miniredis; state is lost on restart")
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return rdb, func() {
		_ = rdb.Close()
		mr.Close()
	}, nil
}

func openBackend(ctx context.Context, cfg *config.Server, rdb *redis.Client, log zerolog.Logger) (store.Backend, func(), error) {
	if cfg.DatabaseURL == "" {
		return redisstore.New(rdb, redisstore.WithPrefix("rotated")), func() {}, nil
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	log.Info().Msg("postgres migrations applied")
	return postgres.New(db), func() { _ = db.Close() }, nil
}

func newDirectory(cfg *config.Server, log zerolog.Logger) (*userdir.Directory, error) {
	hasher, err := password.NewHasher(password.DefaultConfig())
	if err != nil {
		return nil, err
	}
	users, err := userdir.New(hasher)
	if err != nil {
		return nil, err
	}
	if err := users.Load(cfg.Users); err != nil {
		return nil, err
	}
	if users.Len() == 0 {
		log.Warn().Msg("ROTATE_USERS is empty; every login will be rejected")
	}
	return users, nil
}
