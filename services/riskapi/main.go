package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"pulseguard/pkg/artifact"
	"pulseguard/pkg/database"
	"pulseguard/pkg/featurestore"
	"pulseguard/pkg/infer"
	"pulseguard/pkg/model"
	otelobs "pulseguard/pkg/observability/otel"
	"pulseguard/pkg/schema"
	"pulseguard/pkg/structlog"
	"pulseguard/pkg/transform"
)

func main() {
	log := structlog.NewLogger("riskapi", structlog.ParseLevel(os.Getenv("RISKAPI_LOG_LEVEL")), os.Stdout)
	ctx := context.Background()

	port := os.Getenv("RISKAPI_PORT")
	if port == "" {
		port = "8099"
	}
	artifactDir := os.Getenv("ARTIFACT_DIR")
	if artifactDir == "" {
		artifactDir = "./artifacts"
	}
	maxMissingness := 0.5
	if v := os.Getenv("RISKAPI_MAX_MISSINGNESS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			log.Fatal("invalid RISKAPI_MAX_MISSINGNESS", structlog.Fields{"value": v})
		}
		maxMissingness = f
	}

	var redisClient *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, continuing without cache", structlog.Fields{"addr": addr, "error": err.Error()})
			redisClient = nil
		}
	}

	var registry schema.Registry
	var rows featurestore.Store
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := database.Open(ctx, database.Config{DSN: dsn})
		if err != nil {
			log.Fatal("database connection failed", structlog.Fields{"error": err.Error()})
		}
		defer db.Close()
		dbName := os.Getenv("DATABASE_NAME")
		if dbName == "" {
			dbName = "pulseguard"
		}
		if err := database.Migrate(db, dbName); err != nil {
			log.Fatal("database migration failed", structlog.Fields{"error": err.Error()})
		}
		registry = schema.NewPostgresRegistry(db)
		rows = featurestore.NewPostgresStore(db)
		log.Info("using postgres storage", structlog.Fields{"database": dbName})
	} else {
		registry = schema.NewMemoryRegistry()
		rows = featurestore.NewMemoryStore()
		log.Warn("DATABASE_URL not set, using in-memory storage", nil)
	}

	// Seed the default schema so a fresh deployment can transform
	// immediately. Re-registering identical definitions is a no-op.
	if version, err := registry.Register(ctx, schema.Default()); err != nil {
		log.Error("default schema registration failed", structlog.Fields{"error": err.Error()})
	} else {
		log.Info("default schema registered", structlog.Fields{"schema_version": version})
	}

	artifacts, err := artifact.NewFileStore(artifactDir, redisClient)
	if err != nil {
		log.Fatal("artifact store init failed", structlog.Fields{"dir": artifactDir, "error": err.Error()})
	}

	srv := &Server{
		log:            log,
		registry:       registry,
		rows:           rows,
		artifacts:      artifacts,
		engine:         transform.NewEngine(transform.Config{}),
		trainer:        model.NewTrainer(),
		infer:          infer.NewAdapter(registry, artifacts),
		maxMissingness: maxMissingness,
	}

	shutdown := otelobs.InitTracer("riskapi")
	defer shutdown(ctx)

	handler := otelobs.WrapHTTPHandler("riskapi", otelobs.HTTPAccessLogMiddleware(log, srv.Routes()))
	httpSrv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      5 * time.Minute,
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		log.Info("shutting down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info("riskapi listening", structlog.Fields{"port": port})
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server failed", structlog.Fields{"error": err.Error()})
	}
}
