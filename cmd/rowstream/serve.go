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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/rowstream/internal/config"
	"github.com/Sternrassler/rowstream/pkg/logging"
	"github.com/Sternrassler/rowstream/pkg/metrics"
	"github.com/Sternrassler/rowstream/pkg/server"
	"github.com/Sternrassler/rowstream/pkg/session"
	"github.com/Sternrassler/rowstream/pkg/upstream"
	"github.com/Sternrassler/rowstream/pkg/validate"
)

const metricsShutdownTimeout = 5 * time.Second

func newServeCommand() *cobra.Command {
	v := config.NewViper("/etc/rowstream", "$HOME/.rowstream", ".")
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve list streams until interrupted or told to shut down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Read(v)
			if err != nil {
				return err
			}
			if err := cfg.Verify(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := logging.Setup(cfg.LoggingConfig())
			return runServe(ctx, cfg, logger)
		},
	}

	flags := cmd.Flags()

	flags.String("addr", defaults.Addr, "the host:port address to serve streams on")
	mustBindPFlag(v, "addr", flags.Lookup("addr"))

	flags.String("metrics-addr", defaults.MetricsAddr, "the host:port address to serve /metrics on (empty disables)")
	mustBindPFlag(v, "metricsAddr", flags.Lookup("metrics-addr"))

	flags.String("log-level", defaults.Log.Level, "the log level (debug, info, warn, error)")
	mustBindPFlag(v, "log.level", flags.Lookup("log-level"))

	flags.Bool("log-pretty", defaults.Log.Pretty, "human-readable console logs instead of JSON")
	mustBindPFlag(v, "log.pretty", flags.Lookup("log-pretty"))

	flags.Int("max-items", defaults.Session.MaxItems, "the largest list a request may resolve to")
	mustBindPFlag(v, "session.maxItems", flags.Lookup("max-items"))

	flags.StringSlice("fields", defaults.Session.Fields, "the attribute fields a request may ask for")
	mustBindPFlag(v, "session.fields", flags.Lookup("fields"))

	flags.Int("workers", defaults.Session.Workers, "concurrent item fetches per session")
	mustBindPFlag(v, "session.workers", flags.Lookup("workers"))

	flags.Duration("fetch-timeout", defaults.Session.FetchTimeout, "the deadline for a single item fetch")
	mustBindPFlag(v, "session.fetchTimeout", flags.Lookup("fetch-timeout"))

	flags.Duration("read-timeout", defaults.Session.ReadTimeout, "how long a connection may take to send its request (0 waits forever)")
	mustBindPFlag(v, "session.readTimeout", flags.Lookup("read-timeout"))

	flags.Duration("write-timeout", defaults.Session.WriteTimeout, "how long a single frame write may block on a slow reader (0 waits forever)")
	mustBindPFlag(v, "session.writeTimeout", flags.Lookup("write-timeout"))

	flags.String("upstream-url", defaults.Upstream.BaseURL, "the base URL of the upstream site")
	mustBindPFlag(v, "upstream.baseURL", flags.Lookup("upstream-url"))

	flags.String("user-agent", defaults.Upstream.UserAgent, "the User-Agent sent upstream")
	mustBindPFlag(v, "upstream.userAgent", flags.Lookup("user-agent"))

	flags.Duration("upstream-timeout", defaults.Upstream.Timeout, "the deadline for a single upstream HTTP request")
	mustBindPFlag(v, "upstream.timeout", flags.Lookup("upstream-timeout"))

	flags.String("redis-addr", defaults.Redis.Addr, "the Redis host:port for the document cache and rate-limit state (empty disables)")
	mustBindPFlag(v, "redis.addr", flags.Lookup("redis-addr"))

	flags.Int("redis-db", defaults.Redis.DB, "the Redis database number")
	mustBindPFlag(v, "redis.db", flags.Lookup("redis-db"))

	flags.Duration("cache-max-ttl", defaults.Redis.CacheMaxTTL, "the longest time an upstream document stays cached")
	mustBindPFlag(v, "redis.cacheMaxTTL", flags.Lookup("cache-max-ttl"))

	return cmd
}

// runServe serves until ctx is cancelled or a client sends the shutdown
// directive.
func runServe(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	srv, cleanup, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = metrics.NewServer(cfg.MetricsAddr)
	}

	return serve(ctx, srv, ln, metricsServer, logger)
}

// buildServer wires redis, the upstream client, the validator and the
// session controller into a stream server. cleanup releases the Redis client.
func buildServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*server.Server, func(), error) {
	cleanup := func() {}

	var redisClient redis.UniversalClient
	if cfg.Redis.Addr != "" {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rc.Ping(ctx).Err(); err != nil {
			rc.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
		redisClient = rc
		cleanup = func() { rc.Close() }
	}

	upstreamConfig := cfg.UpstreamConfig()
	upstreamConfig.Redis = redisClient
	up, err := upstream.New(upstreamConfig, logging.NewLogger(logger, "upstream"))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create upstream client: %w", err)
	}

	validator := validate.New(cfg.Session.Fields, cfg.Session.MaxItems)
	controller := session.NewController(up, validator, cfg.SessionConfig(), logging.NewLogger(logger, "session"))
	srv := server.New(controller, logging.NewLogger(logger, "server"))
	controller.OnShutdown(srv.Shutdown)

	logger.Info().
		Str("upstream", cfg.Upstream.BaseURL).
		Int("workers", cfg.Session.Workers).
		Int("max_items", cfg.Session.MaxItems).
		Bool("cache", redisClient != nil).
		Msg("Starting rowstream")

	return srv, cleanup, nil
}

// serve runs the stream server and the optional metrics server until the
// stream server stops, then shuts the metrics server down.
func serve(ctx context.Context, srv *server.Server, ln net.Listener, metricsServer *http.Server, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return srv.Serve(gctx, ln)
	})

	if metricsServer != nil {
		g.Go(func() error {
			logger.Info().Str("addr", metricsServer.Addr).Msg("Serving metrics")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	logger.Info().Err(err).Msg("rowstream stopped")
	return err
}
