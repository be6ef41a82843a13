package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/storefront-cart/internal/cache"
	"github.com/fjod/storefront-cart/internal/config"
	h "github.com/fjod/storefront-cart/internal/http"
	"github.com/fjod/storefront-cart/internal/logger"
	"github.com/fjod/storefront-cart/internal/poller"
	"github.com/fjod/storefront-cart/internal/publisher"
	"github.com/fjod/storefront-cart/internal/repository"
	"github.com/fjod/storefront-cart/internal/service"
	"github.com/fjod/storefront-cart/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSizeMB:  64,
		MaxBackups: 5,
		MaxAgeDays: 14,
	})
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open storage", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}
	defer kv.Close()

	policy, _ := cfg.Pricing.Policy() // validated by Load
	opts := []service.Option{
		service.WithLogger(log),
		service.WithSession(cfg.Store.SessionID),
		service.WithPolicy(policy),
		service.WithStockClamp(cfg.Store.EnforceStock),
		service.WithPersistTimeout(cfg.Store.PersistTimeout),
	}
	if cfg.Store.SeedFile != "" {
		seed, errSeed := storage.LoadSeedFile(cfg.Store.SeedFile)
		if errSeed != nil {
			log.Warn("ignoring seed file", zap.String("path", cfg.Store.SeedFile), zap.Error(errSeed))
		} else {
			opts = append(opts, service.WithSeed(seed))
		}
	}

	store := service.NewCartStore(ctx, kv, opts...)
	defer store.Close()

	var wg sync.WaitGroup
	if len(cfg.Kafka.Brokers) > 0 {
		pub := publisher.NewKafkaPublisher(publisher.NewKafkaWriter(cfg.Kafka.EventsTopic, cfg.Kafka.Brokers...), log)
		if err := pub.Attach(store); err != nil {
			log.Fatal("failed to attach publisher", zap.Error(err))
		}
		defer pub.Close()

		p := poller.NewPoller(store, poller.NewKafkaReader(cfg.Kafka.CheckoutTopic, cfg.Kafka.GroupID, cfg.Kafka.Brokers...), log)
		defer p.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
		log.Info("kafka enabled", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      h.NewRouter(h.NewCartHandler(store), log, cfg.HTTP.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("storefront cart starting", zap.String("port", cfg.HTTP.Port), zap.String("backend", cfg.Storage.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	wg.Wait()
	// drain async subscribers before the deferred publisher close
	store.Close()
	log.Info("server exited")
}

// openStorage builds the durable backend chosen by storage.backend,
// optionally fronted by a Redis cache and a circuit breaker.
func openStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.KV, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var (
		kv  storage.KV
		err error
	)
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemoryKV(), nil
	case "bolt":
		kv, err = storage.OpenBolt(cfg.Storage.BoltPath)
	case "redis":
		kv, err = openRedis(connectCtx, cfg, 0)
	case "mongo":
		kv, err = openMongo(connectCtx, cfg)
	case "sqlite":
		kv, err = openSQL(repository.DialectSQLite, cfg.Storage.SQLitePath)
	case "postgres":
		kv, err = openSQL(repository.DialectPostgres, cfg.Storage.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Cache && cfg.Storage.Backend != "redis" {
		redisKV, errCache := openRedis(connectCtx, cfg, cfg.Redis.TTL)
		if errCache != nil {
			log.Warn("redis cache disabled", zap.Error(errCache))
		} else {
			kv = storage.NewLayered(kv, redisKV, log)
		}
	}

	if cfg.Storage.Breaker {
		kv = storage.NewBreaker(kv, storage.DefaultBreakerSettings(cfg.Storage.Backend), log)
	}
	return kv, nil
}

func openRedis(ctx context.Context, cfg *config.Config, ttl time.Duration) (*cache.RedisKV, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := cache.Ping(ctx, client); err != nil {
		client.Close()
		return nil, err
	}
	return cache.NewRedisKV(client, ttl), nil
}

func openMongo(ctx context.Context, cfg *config.Config) (*repository.MongoKV, error) {
	db, err := repository.ConnectMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return nil, err
	}
	kv := repository.NewMongoKV(db)
	if err := kv.CreateIndexes(ctx); err != nil {
		kv.Close()
		return nil, err
	}
	return kv, nil
}

func openSQL(dialect repository.Dialect, dsn string) (*repository.SQLKV, error) {
	open := repository.OpenPostgres
	if dialect == repository.DialectSQLite {
		open = repository.OpenSQLite
	}
	db, err := open(dsn)
	if err != nil {
		return nil, err
	}
	kv, err := repository.NewSQLKV(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := kv.RunMigrations(); err != nil {
		kv.Close()
		return nil, err
	}
	return kv, nil
}
