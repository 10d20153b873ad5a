package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradeflow/auth"
	"tradeflow/config"
	"tradeflow/connection"
	"tradeflow/db"
	"tradeflow/followup"
	"tradeflow/issue"
	"tradeflow/ledger"
	"tradeflow/logging"
	"tradeflow/notify"
	"tradeflow/order"
	"tradeflow/overview"
	"tradeflow/payment"
)

func main() {
	configPath := flag.String("config", os.Getenv("TRADEFLOW_CONFIG"), "path to a YAML config file")
	migrate := flag.Bool("migrate", false, "apply embedded migrations before serving")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.New(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *migrate, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, migrate bool, logger *zap.Logger) error {
	pool, err := db.NewPool(ctx, cfg.Database.URL, db.WithMaxConns(cfg.Database.MaxConns), db.WithApplicationName("tradeflow-api"))
	if err != nil {
		return err
	}
	defer pool.Close()

	if migrate {
		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", zap.Strings("versions", applied))
	}

	notifier, closeNotifier, err := buildNotifier(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	server, sweep := buildServer(cfg, pool, notifier, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweep.Loop(gctx, cfg.Sweep.Interval)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// buildNotifier always writes to the outbox and additionally publishes to
// Redis when an address is configured.
func buildNotifier(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) (notify.Notifier, func(), error) {
	outbox := notify.NewOutboxNotifier(pool)
	if cfg.Redis.Addr == "" {
		return outbox, func() {}, nil
	}
	client, err := notify.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("publishing notifications to redis", zap.String("channel", cfg.Redis.Channel))
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("close redis", zap.Error(err))
		}
	}
	return notify.Multi{outbox, notify.NewRedisNotifier(client, cfg.Redis.Channel)}, closeFn, nil
}

func buildServer(cfg *config.Config, pool *pgxpool.Pool, notifier notify.Notifier, logger *zap.Logger) (*Server, *payment.Sweep) {
	connRepo := connection.NewRepository(pool)
	orderRepo := order.NewRepository(pool)
	paymentRepo := payment.NewRepository(pool)
	issueRepo := issue.NewRepository(pool)

	loader := ledger.NewLoader(connRepo, orderRepo, paymentRepo, issueRepo)
	overviewService := overview.NewService(loader, orderRepo, connRepo).
		WithLocation(cfg.TimeLocation()).
		WithLogger(logger.Named("overview"))

	runner := followup.New(overviewService, notifier, logger.Named("followup"))

	connectionService := connection.NewService(connRepo).WithFollowup(runner)
	orderService := order.NewService(orderRepo, connRepo).WithFollowup(runner)
	paymentService := payment.NewService(paymentRepo, orderRepo, connRepo).WithFollowup(runner)
	issueService := issue.NewService(issueRepo, orderRepo, connRepo).WithFollowup(runner)
	authService := auth.NewService(auth.NewRepository(pool), cfg.Auth.JWTSecret).WithTokenTTL(cfg.Auth.TokenTTL)

	server := &Server{
		authService:       authService,
		connectionService: connectionService,
		orderService:      orderService,
		paymentService:    paymentService,
		issueService:      issueService,
		overviewService:   overviewService,
		logger:            logger.Named("http"),
	}
	return server, payment.NewSweep(paymentRepo, logger.Named("sweep"))
}
