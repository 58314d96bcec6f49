package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ravendoc/docs"
	"ravendoc/internal/config"
	"ravendoc/internal/database"
	"ravendoc/internal/database/migration"
	"ravendoc/internal/etag"
	handlers "ravendoc/internal/http/handler"
	"ravendoc/internal/http/middleware"
	"ravendoc/internal/logging"
	tracing "ravendoc/internal/otel"
	"ravendoc/internal/repository"
	"ravendoc/internal/repository/postgres"
	"ravendoc/internal/service"
	"ravendoc/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// @title Document Store API
// @version 1.0
// @description JSON documents with metadata, etag concurrency control and object-storage dumps.
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	log := logging.NewStdout(cfg.LogLevel, cfg.Location())
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server_stopped", zap.Error(err))
	}
}

func run(cfg *config.AppConfig, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if err := migration.EnsureMigrated(ctx, db, log, cfg.Database.Host); err != nil {
		return err
	}

	objStore, err := storage.NewMinIO(ctx, cfg.MinIO)
	if err != nil {
		return fmt.Errorf("init object storage: %w", err)
	}

	docRepo := postgres.NewDocumentPostgres(db)
	etags, err := newEtagGenerator(ctx, docRepo)
	if err != nil {
		return err
	}
	log.Info("etag_generator_ready", zap.Int64("restarts", etags.Last().Restarts()))

	docSvc := service.NewDocumentService(objStore, docRepo, etags, cfg.Export)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := database.RegisterStats(reg, db, cfg.Database.Name); err != nil {
		return fmt.Errorf("init db metrics: %w", err)
	}
	promMiddleware, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		JSONEncoder:  sonic.Marshal,
		JSONDecoder:  sonic.Unmarshal,
	})

	app.Use(otelfiber.Middleware())
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(log))
	app.Use(promMiddleware.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	handlers.RegisterRoutes(app, db, docSvc)

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	go func() {
		<-ctx.Done()
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Error("server_shutdown_failed", zap.Error(err))
		}
	}()

	addr := ":" + cfg.Port
	log.Info("server_starting", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("start server: %w", err)
	}
	return nil
}

// newEtagGenerator bumps the restart counter past the highest stored etag so new etags sort after every old one.
func newEtagGenerator(ctx context.Context, repo repository.DocumentRepository) (*etag.Generator, error) {
	last, err := repo.LastEtag(ctx)
	if err != nil {
		return nil, fmt.Errorf("read last etag: %w", err)
	}
	restarts := int64(1)
	if last != nil {
		restarts = last.Restarts() + 1
	}
	return etag.NewGenerator(restarts), nil
}
