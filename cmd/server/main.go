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

	"arcadepay/internal/catalog"
	"arcadepay/internal/config"
	"arcadepay/internal/handler"
	"arcadepay/internal/infrastructure/cache"
	"arcadepay/internal/infrastructure/database"
	"arcadepay/internal/infrastructure/lock"
	"arcadepay/internal/infrastructure/mq"
	"arcadepay/internal/job"
	"arcadepay/internal/ledger"
	"arcadepay/internal/logger"
	"arcadepay/internal/model"
	"arcadepay/internal/monitoring"
	"arcadepay/internal/repository"
	"arcadepay/internal/repository/memstore"
	"arcadepay/internal/service"
	"arcadepay/pkg/idgen"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// store is everything the server needs from a backend.
type store interface {
	ledger.Store
	job.OutboxStore
	ResetAll(ctx context.Context) error
	BalanceDrifts(ctx context.Context) ([]model.BalanceDrift, error)
}

type publisher interface {
	job.Publisher
	Close() error
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the yaml config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server exited")
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// amounts go over the wire as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		return fmt.Errorf("init id generator: %w", err)
	}

	st, closeStore, err := openStore(cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeStore()

	locker, closeLocker, err := newLocker(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLocker()

	metrics := monitoring.NewMetrics()

	eventTopic := ""
	if cfg.Events.Provider != config.EventsNone {
		eventTopic = cfg.Events.Topic
	}
	l := ledger.New(st, ledger.Options{
		Locker:         locker,
		MaxRetries:     cfg.Ledger.MaxRetries,
		RetryBaseDelay: cfg.Ledger.RetryBaseDelay,
		RetryMaxDelay:  cfg.Ledger.RetryMaxDelay,
		EventTopic:     eventTopic,
		Metrics:        metrics,
		Logger:         log,
	})

	registry := service.NewCardRegistry(st)
	admin := service.NewAdminService(st, cfg.Admin.AllowReset, log)
	cat, err := catalog.FromConfig(cfg.Catalog)
	if err != nil {
		return err
	}

	if cfg.Seed.DemoCard {
		if err := service.SeedDemoCard(ctx, registry, l, log); err != nil {
			return fmt.Errorf("seed demo card: %w", err)
		}
	}

	gin.SetMode(cfg.Server.Mode)
	h := handler.NewHandler(l, registry, admin, cat, handler.Options{
		EnforcePrices: cfg.Catalog.EnforcePrices,
		Logger:        log,
	})
	router := handler.SetupRouter(h, metrics, handler.RouterConfig{StaticDir: cfg.Server.StaticDir}, log)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	pub, err := newPublisher(cfg, log)
	if err != nil {
		return err
	}
	if pub != nil {
		defer func() {
			if err := pub.Close(); err != nil {
				log.WithError(err).Warn("close event publisher")
			}
		}()
		sender := job.NewOutboxSender(st, pub, job.OutboxSenderConfig{
			Interval:      cfg.Outbox.Interval,
			BatchSize:     cfg.Outbox.BatchSize,
			MaxRetryCount: cfg.Outbox.MaxRetryCount,
		}, log)
		g.Go(func() error {
			sender.Start(gctx)
			return nil
		})
	}

	if cfg.Reconcile.Enabled {
		reconciler := job.NewReconcileJob(st, metrics, cfg.Reconcile.Interval, log)
		g.Go(func() error {
			reconciler.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		log.WithField("port", cfg.Server.Port).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(cfg config.DatabaseConfig, log *logrus.Logger) (store, func(), error) {
	if cfg.Driver == config.DriverMemory {
		log.Warn("using in-memory store, data is lost on restart")
		return memstore.New(), func() {}, nil
	}

	db, err := database.Open(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewStore(db), func() {
		if err := database.Close(db); err != nil {
			log.WithError(err).Warn("close database")
		}
	}, nil
}

func newLocker(ctx context.Context, cfg *config.Config, log *logrus.Logger) (ledger.Locker, func(), error) {
	if cfg.Ledger.Lock != config.LockRedis {
		return ledger.NewLocalLocker(), func() {}, nil
	}

	client, err := cache.NewRedis(ctx, cfg.Redis, log)
	if err != nil {
		return nil, nil, err
	}
	return lock.NewRedisLocker(client, cfg.Ledger.LockTTL, log), func() {
		if err := client.Close(); err != nil {
			log.WithError(err).Warn("close redis")
		}
	}, nil
}

func newPublisher(cfg *config.Config, log *logrus.Logger) (publisher, error) {
	switch cfg.Events.Provider {
	case config.EventsKafka:
		producer, err := mq.NewKafkaProducer(cfg.Kafka, log)
		if err != nil {
			return nil, err
		}
		return mq.NewKafkaPublisher(producer), nil
	case config.EventsNATS:
		nc, err := mq.ConnectNATS(cfg.NATS.URL, log)
		if err != nil {
			return nil, err
		}
		return mq.NewNATSPublisher(nc), nil
	default:
		return nil, nil
	}
}
