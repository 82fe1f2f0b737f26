package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"handmade/internal/cache"
	"handmade/internal/catalog"
	"handmade/internal/config"
	"handmade/internal/handlers"
	"handmade/internal/ingest"
	"handmade/internal/middleware"
	"handmade/internal/models"
	"handmade/internal/realtime"
	"handmade/internal/repositories"
	"handmade/internal/services"
	"handmade/internal/similar"
	"handmade/internal/store"
	"handmade/pkg/rabbitmq"
)

// Uploads carry several images per request.
const bodyLimit = 64 << 20

type application struct {
	app     *fiber.App
	store   *store.Store
	cancel  context.CancelFunc
	closers []func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	a, err := newApp(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	log.Printf("Starting server on port %s (store: %s)", cfg.AppPort, cfg.StoreDriver)

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := a.app.Listen(cfg.AppPort); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down server...")

	if err := a.Close(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Server gracefully stopped")
}

// newApp wires repositories, the store, background relays and HTTP routes.
func newApp(cfg *config.Config) (*application, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &application{cancel: cancel}

	productRepo, userRepo, err := a.openRepositories(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	broker := realtime.NewBroker()
	a.store = store.New(productRepo, broker)

	if cfg.RabbitMQURL != "" {
		mqClient, err := rabbitmq.NewClient(rabbitmq.Config{URL: cfg.RabbitMQURL})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, mqClient.Close)
		a.store.SetPublisher(mqClient)
		if err := mqClient.ConsumeProductChanges(broker.Relay); err != nil {
			a.Close()
			return nil, err
		}
	}

	var listingCache cache.Cache = cache.Noop{}
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedis(ctx, cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   "handmade:",
			TTL:      cfg.CacheTTL,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, redisCache.Close)
		listingCache = redisCache
	}

	listingService := services.NewListingService(a.store, listingCache)
	go listingService.WatchInvalidations(ctx, broker)

	authService := services.NewAuthService(userRepo, cfg.JWTSecret, cfg.AdminUserIDs...)
	pipeline := ingest.NewPipeline(cfg.Image)
	registry := catalog.NewRegistry(a.store, pipeline, catalog.ContextIdentity)
	similarClient := similar.NewClient(cfg.SimilarSearchURL, cfg.SimilarSearchTimeout)

	authHandler := handlers.NewAuthHandler(authService)
	productHandler := handlers.NewProductHandler(listingService, a.store, similarClient)
	sellerHandler := handlers.NewSellerHandler(registry, a.store)
	editHandler := handlers.NewEditHandler(registry, a.store)
	adminHandler := handlers.NewAdminHandler(registry, a.store)

	a.app = fiber.New(fiber.Config{
		BodyLimit: bodyLimit,
	})
	a.app.Use(logger.New())

	apiV1 := a.app.Group("/api/v1")
	authHandler.RegisterRoutes(apiV1)
	productHandler.RegisterRoutes(apiV1)

	seller := apiV1.Group("/seller", middleware.AuthRequired(authService))
	sellerHandler.RegisterRoutes(seller)
	editHandler.RegisterRoutes(seller)

	admin := apiV1.Group("/admin", middleware.AuthRequired(authService), middleware.AdminRequired())
	adminHandler.RegisterRoutes(admin)

	a.app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":    "healthy",
			"time":      time.Now().Format(time.RFC3339),
			"store":     cfg.StoreDriver,
			"listeners": broker.ListenerCount(),
		})
	})

	return a, nil
}

func (a *application) openRepositories(ctx context.Context, cfg *config.Config) (repositories.ProductRepository, repositories.UserRepository, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return repositories.NewMockProductRepository(), repositories.NewMockUserRepository(), nil

	case config.DriverSQLite, config.DriverPostgres:
		var dialector gorm.Dialector
		if cfg.StoreDriver == config.DriverPostgres {
			dialector = postgres.Open(cfg.DatabaseDSN)
		} else {
			dsn := cfg.DatabaseDSN
			if dsn == "" {
				dsn = "handmade.db"
			}
			dialector = sqlite.Open(dsn)
		}
		db, err := gorm.Open(dialector, &gorm.Config{})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to %s database: %w", cfg.StoreDriver, err)
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		if err := db.AutoMigrate(&models.Product{}, &models.User{}); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return repositories.NewGORMProductRepository(db), repositories.NewGORMUserRepository(db), nil

	case config.DriverMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		a.closers = append(a.closers, func() error {
			return client.Disconnect(context.Background())
		})
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx, nil); err != nil {
			return nil, nil, fmt.Errorf("failed to ping mongo at %s: %w", cfg.MongoURI, err)
		}

		db := client.Database(cfg.MongoDatabase)
		productRepo := repositories.NewMongoProductRepository(db)
		if err := productRepo.EnsureIndexes(pingCtx); err != nil {
			return nil, nil, err
		}
		userRepo := repositories.NewMongoUserRepository(db)
		if err := userRepo.EnsureIndexes(pingCtx); err != nil {
			return nil, nil, err
		}
		return productRepo, userRepo, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// Close stops background work, the HTTP server and every connection, in that order.
func (a *application) Close() error {
	a.cancel()

	var firstErr error
	if a.app != nil {
		if err := a.app.Shutdown(); err != nil {
			log.Printf("Error during Fiber shutdown: %v", err)
			firstErr = err
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("Error closing resource: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	a.closers = nil
	return firstErr
}
