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
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/fjod/trophythreads/internal/cache"
	"github.com/fjod/trophythreads/internal/cart"
	"github.com/fjod/trophythreads/internal/checkout"
	"github.com/fjod/trophythreads/internal/engine"
	"github.com/fjod/trophythreads/internal/external"
	admingrpc "github.com/fjod/trophythreads/internal/grpc"
	h "github.com/fjod/trophythreads/internal/http"
	"github.com/fjod/trophythreads/internal/metrics"
	"github.com/fjod/trophythreads/internal/poller"
	"github.com/fjod/trophythreads/internal/publisher"
	"github.com/fjod/trophythreads/internal/repository"
	"github.com/fjod/trophythreads/internal/session"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := openRepository(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("failed to open repository")
	}
	defer repo.Close()

	if err := repo.RunMigrations(cfg.DB.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connection failed")
	}
	log.Info().Msg("redis ping succeeded")

	sources := external.Chain{external.NewCSVSource(cfg.CSVPath)}
	var mongoDB *mongo.Database
	if cfg.MongoURI != "" {
		mongoDB, err = external.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to MongoDB")
		}
		mongoSource := external.NewMongoSource(mongoDB)
		if err := mongoSource.CreateIndexes(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to create MongoDB indexes")
		}
		sources = append(sources, mongoSource)
		log.Info().Str("db", cfg.MongoDBName).Msg("connected to MongoDB")
	}

	serverMetrics := metrics.NewServerMetrics("checkout", nil)

	cartCache := cache.NewRedisCache(redisClient, cfg.CartCacheTTL)
	cartService := cart.NewCartService(repo, cartCache, sources)
	commitEngine := engine.NewEngine(repo, serverMetrics)
	handles := session.NewRedisHandleStore(redisClient, cfg.HandleTTL)
	checkoutService := checkout.NewService(cartService, commitEngine, handles, repo, cfg.Fees)

	// otelhttp/otelgrpc report to the global TracerProvider. None is
	// registered here, so spans are no-ops unless the deployment sets one.
	router := h.NewRouter(h.RouterConfig{
		Carts:          h.NewCartHandler(cartService, checkoutService, cfg.RequestTimeout),
		Checkout:       h.NewCheckoutHandler(checkoutService, cfg.RequestTimeout),
		Metrics:        serverMetrics,
		RequestTimeout: cfg.RequestTimeout,
		Ready: func(r *http.Request) error {
			if err := repo.Ping(r.Context()); err != nil {
				return fmt.Errorf("database: %w", err)
			}
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		},
	})

	var (
		outbox  *publisher.OutboxPoller
		evictor *poller.Poller
	)
	if len(cfg.KafkaBrokers) > 0 {
		outbox = publisher.NewOutboxPoller(repo, serverMetrics, cfg.KafkaTopic, cfg.KafkaBrokers...)
		go outbox.Run(ctx)
		evictor = poller.NewPoller(cartCache, cfg.KafkaTopic, cfg.KafkaGroupID, cfg.KafkaBrokers...)
		go evictor.Run(ctx)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("outbox poller started")
	} else {
		log.Warn().Msg("KAFKA_BROKERS not set, outbox events stay unpublished")
	}

	adminServer := admingrpc.NewServer(map[string]admingrpc.CheckFunc{
		"database": repo.Ping,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	})
	go adminServer.WatchHealth(ctx, cfg.HealthInterval)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to listen")
	}
	go func() {
		log.Info().Str("port", cfg.GRPCPort).Msg("admin gRPC listening")
		if err := adminServer.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("failed to serve gRPC")
		}
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("checkout service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down checkout service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	adminServer.GracefulStop()
	if outbox != nil {
		outbox.Close()
		evictor.Close()
	}
	if mongoDB != nil {
		if err := mongoDB.Client().Disconnect(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to disconnect from MongoDB")
		}
	}

	log.Info().Msg("checkout service stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	log.Logger = log.With().Str("service", "checkout").Logger()
}

func openRepository(cfg DBConfig) (*repository.Repository, error) {
	if cfg.Driver == "sqlite" {
		return repository.NewSQLiteRepository(cfg.SQLitePath)
	}
	return repository.NewRepository(&repository.Credentials{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		DBName:            cfg.Name,
		MigrationsDirPath: cfg.MigrationsPath,
		LockTimeout:       cfg.LockTimeout,
	})
}
