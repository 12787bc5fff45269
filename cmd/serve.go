package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nexasecurity/nexasec/internal/api"
	"github.com/nexasecurity/nexasec/internal/auth"
	"github.com/nexasecurity/nexasec/internal/config"
	"github.com/nexasecurity/nexasec/internal/data/db"
	"github.com/nexasecurity/nexasec/internal/events"
	"github.com/nexasecurity/nexasec/internal/executor"
	"github.com/nexasecurity/nexasec/internal/log"
	"github.com/nexasecurity/nexasec/internal/metrics"
	"github.com/nexasecurity/nexasec/internal/orchestrator"
	"github.com/nexasecurity/nexasec/internal/pprof"
	"github.com/nexasecurity/nexasec/internal/ratelimit"
	"github.com/nexasecurity/nexasec/internal/report"
	"github.com/nexasecurity/nexasec/internal/sql"
	"github.com/nexasecurity/nexasec/pkg/scan"
	"github.com/nexasecurity/nexasec/pkg/types"
)

const metricsNamespace = "nexasec"

func newServeCmd(v *viper.Viper, load func() (*config.Config, error)) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the NexaSec HTTP API and scan orchestrator",
		Long: `Start the HTTP API server.

Scans interrupted by a previous shutdown are marked failed on boot. On SIGINT
or SIGTERM the server stops accepting requests, running scans are cancelled and
report generation is allowed to finish.

Example:
  nexasec serve --config nexasec.yaml
  NEXASEC_AUTH_JWT_SECRET=... nexasec serve --addr :9090 --pprof-addr localhost:6060
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	serveCmd.Flags().String("addr", "", "Address the API listens on (default :8080)")
	serveCmd.Flags().String("pprof-addr", "", "Address of the pprof server; disabled when empty")
	serveCmd.Flags().String("generator", "", "Finding generator: catalog|nmap")
	bindFlag(v, serveCmd, "server.addr", "addr")
	bindFlag(v, serveCmd, "pprof.addr", "pprof-addr")
	bindFlag(v, serveCmd, "scan.generator", "generator")
	return serveCmd
}

// runServe wires every component from cfg and serves until ctx is done.
//
//nolint:funlen
func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := log.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Zap(logger).Sync() }()
	ctx = log.WithLogger(ctx, logger)

	connector, err := sql.CreateDBConnector(cfg.Database, logger)
	if err != nil {
		return err
	}
	database, err := sql.Open(ctx, connector, cfg.Database)
	if err != nil {
		return err
	}
	if sqlDB, err := database.DB(); err == nil {
		defer sqlDB.Close()
	}
	logger.Info("database connected", zap.String("driver", cfg.Database.Driver))

	users, err := db.NewGormUserStore(database)
	if err != nil {
		return err
	}
	scans, err := db.NewGormScanStore(database)
	if err != nil {
		return err
	}
	vulns, err := db.NewGormVulnerabilityStore(database)
	if err != nil {
		return err
	}
	reports, err := db.NewGormReportStore(database)
	if err != nil {
		return err
	}
	templates, err := db.NewGormReportTemplateStore(database)
	if err != nil {
		return err
	}

	collector := metrics.New(metricsNamespace)

	var redisClient *redis.Client
	if needsRedis(cfg) {
		redisClient, err = newRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	publisher, closePublisher, err := newPublisher(cfg.AMQP)
	if err != nil {
		return err
	}
	defer closePublisher()

	generator, err := scan.NewGenerator(cfg.Scan.Generator, executor.NewCommandExecutor(), scan.FactoryOptions{NmapBinary: cfg.Scan.NmapPath})
	if err != nil {
		return fmt.Errorf("failed to create finding generator: %w", err)
	}
	orch, err := orchestrator.New(cfg.Scan, scans, vulns, generator,
		orchestrator.WithPublisher(publisher),
		orchestrator.WithMetrics(collector),
		orchestrator.WithLogger(logger),
		orchestrator.WithUserStore(users),
	)
	if err != nil {
		return err
	}
	if cfg.Scan.RecoverOnBoot {
		n, err := orch.RecoverInterrupted(ctx)
		if err != nil {
			return fmt.Errorf("failed to recover interrupted scans: %w", err)
		}
		if n > 0 {
			logger.Warn("marked interrupted scans failed", zap.Int64("count", n))
		}
	}

	assembler, err := report.NewAssembler(cfg.Report.Dir, scans, vulns, reports,
		report.WithPublisher(publisher),
		report.WithMetrics(collector),
		report.WithTemplateStore(templates),
	)
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	if err != nil {
		return err
	}
	authService, err := auth.NewService(users, auth.BcryptHasher{Cost: cfg.Auth.BcryptCost}, tokens, newBlacklist(cfg, redisClient))
	if err != nil {
		return err
	}

	limiter, closeLimiter, err := newLimiter(cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeLimiter()

	server, err := api.NewServer(api.Deps{
		Auth:            authService,
		Scans:           orch,
		ScanStore:       scans,
		Vulnerabilities: vulns,
		Reports:         assembler,
		Limiter:         limiter,
		Metrics:         collector,
		Logger:          logger,
		SecureCookies:   cfg.Auth.SecureCookies,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		BaseContext: func(net.Listener) context.Context {
			return log.WithLogger(context.Background(), logger)
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting API server", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})
	if cfg.Pprof.Addr != "" {
		g.Go(func() error {
			return pprof.StartPprofServer(gctx, cfg.Pprof.Addr)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(ctx, logger, cfg.Server, httpServer, orch, assembler)
	})
	return g.Wait()
}

// shutdown stops the API first so no new scans arrive, then cancels running
// scans and waits for report generation.
func shutdown(ctx context.Context, logger types.Logger, cfg config.ServerConfig, httpServer *http.Server,
	orch *orchestrator.Orchestrator, assembler *report.Assembler) error {
	logger.Info("shutting down", zap.Int("active_scans", orch.Active()))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("API server shutdown: %w", err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("orchestrator shutdown: %w", err))
	}
	if err := assembler.Wait(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("report assembler shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Auth.Blacklist == "redis" || (cfg.RateLimit.Enabled && cfg.RateLimit.Backend == "redis")
}

func newRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// newPublisher returns the AMQP publisher when a broker URL is configured and
// the log publisher otherwise.
func newPublisher(cfg config.AMQPConfig) (events.Publisher, func(), error) {
	if cfg.URL == "" {
		return events.LogPublisher{}, func() {}, nil
	}
	p, err := events.NewAMQPPublisher(cfg.URL, cfg.Exchange)
	if err != nil {
		return nil, nil, err
	}
	return p, func() { _ = p.Close() }, nil
}

func newBlacklist(cfg *config.Config, client redis.Cmdable) auth.Blacklist {
	if cfg.Auth.Blacklist == "redis" {
		return auth.NewRedisBlacklist(client, cfg.Redis.KeyPrefix)
	}
	return auth.NewMemoryBlacklist()
}

// newLimiter returns nil when rate limiting is disabled.
func newLimiter(cfg *config.Config, client redis.Cmdable) (ratelimit.Limiter, func(), error) {
	if !cfg.RateLimit.Enabled {
		return nil, func() {}, nil
	}
	limits := ratelimit.Config{Requests: cfg.RateLimit.Requests, Window: cfg.RateLimit.Window}
	if cfg.RateLimit.Backend == "redis" {
		l, err := ratelimit.NewRedisLimiter(client, cfg.Redis.KeyPrefix, limits)
		if err != nil {
			return nil, nil, err
		}
		return l, func() {}, nil
	}
	l, err := ratelimit.NewMemoryLimiter(limits)
	if err != nil {
		return nil, nil, err
	}
	return l, l.Close, nil
}
