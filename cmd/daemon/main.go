// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/playq/internal/cache"
	"github.com/ManuGH/playq/internal/config"
	httpapi "github.com/ManuGH/playq/internal/control/http"
	"github.com/ManuGH/playq/internal/log"
	"github.com/ManuGH/playq/internal/node"
	"github.com/ManuGH/playq/internal/orchestrator"
	"github.com/ManuGH/playq/internal/retry"
	"github.com/ManuGH/playq/internal/store"
	"github.com/ManuGH/playq/internal/telemetry"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// The logger is configured once; read its knobs directly so the
	// config package's own logging does not lock in defaults first.
	log.Configure(log.Config{
		Level:   os.Getenv("PLAYQ_LOG_LEVEL"),
		Format:  os.Getenv("PLAYQ_LOG_FORMAT"),
		Service: "playq",
		Version: version,
	})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.invalid").
			Msg("refusing to start with invalid configuration")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.ListenAddr).
		Msg("starting playq")

	// Tracing. Disabled configs install a noop provider.
	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTELEnabled,
		ServiceName:    "playq",
		ServiceVersion: version,
		ExporterType:   cfg.OTELProtocol,
		Endpoint:       cfg.OTELEndpoint,
		SamplingRate:   1.0,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "telemetry.init_failed").Msg("tracing setup failed")
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	// Durable queue and allowlist store.
	qs, err := store.Open(store.Config{Driver: cfg.StoreDriver, Path: cfg.StorePath})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.open_failed").
			Str("driver", cfg.StoreDriver).
			Msg("could not open queue store")
	}
	defer func() {
		if err := qs.Close(); err != nil {
			logger.Warn().Err(err).Msg("store close failed")
		}
	}()
	logger.Info().Msgf("→ Store: %s (%s)", cfg.StoreDriver, cfg.StorePath)

	// Allowlist decisions are cached; redis when configured, in-process
	// otherwise.
	var allowCache cache.Cache
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}, log.WithComponent("cache"))
		if err != nil {
			logger.Fatal().Err(err).Str("event", "redis.connect_failed").Msg("redis cache unavailable")
		}
		defer func() {
			if err := rc.Close(); err != nil {
				logger.Warn().Err(err).Msg("redis close failed")
			}
		}()
		allowCache = rc
		logger.Info().Msgf("→ Allowlist cache: redis (%s)", cfg.RedisAddr)
	} else {
		mc := cache.NewMemory(time.Minute)
		defer mc.Close()
		allowCache = mc
		logger.Info().Msg("→ Allowlist cache: in-process")
	}
	allowlist := cache.NewAllowlist(qs, allowCache, cfg.AllowlistPositiveTTL, cfg.AllowlistNegativeTTL)

	// Node roster with hot reload.
	roster, err := config.LoadRoster(cfg.NodesFile)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "roster.load_failed").
			Str("path", cfg.NodesFile).
			Msg("could not load node roster")
	}
	logger.Info().Msgf("→ Nodes: %d configured from %s", len(roster), cfg.NodesFile)

	pool := node.NewPool(roster, node.Identity{
		UserID:     cfg.UserID,
		ClientName: cfg.ClientName,
	}, retry.Policy{
		MaxAttempts: 1 << 30, // reconnect forever, the cap bounds the delay
		BaseDelay:   cfg.ReconnectBaseDelay,
		MaxDelay:    cfg.ReconnectMaxDelay,
		Multiplier:  2,
		JitterRange: cfg.ReconnectBaseDelay / 2,
	})

	holder := config.NewRosterHolder(cfg.NodesFile, roster)
	holder.OnChange(pool.UpdateRoster)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Msg("roster hot reload disabled")
	}

	exec := retry.New(retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Multiplier:  2,
		JitterRange: cfg.RetryBaseDelay / 2,
	})

	orch := orchestrator.New(qs, allowlist, pool, exec)
	pool.SetSink(orch)
	pool.Start(ctx)

	api := httpapi.New(httpapi.Options{
		Orch:               orch,
		Store:              qs,
		Nodes:              pool,
		Allowlist:          allowlist,
		AdminToken:         cfg.AdminToken,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TracingEnabled:     cfg.OTELEnabled,
		Version:            version,
	})
	if cfg.AdminToken == "" {
		logger.Warn().Msg("→ Admin token: NOT configured, allowlist admin endpoints disabled")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown failed")
		}
		holder.Stop()
		return pool.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.failed").Msg("daemon exited with error")
	}
	logger.Info().Msg("server exiting")
}
