package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/modelhub/modelhub-api/internal/catalog"
	"github.com/modelhub/modelhub-api/internal/catalog/service"
	"github.com/modelhub/modelhub-api/internal/config"
	"github.com/modelhub/modelhub-api/internal/database"
	"github.com/modelhub/modelhub-api/internal/oidc"
	"github.com/modelhub/modelhub-api/internal/server"
	"github.com/modelhub/modelhub-api/internal/storage"
	"github.com/modelhub/modelhub-api/internal/store"
	"github.com/modelhub/modelhub-api/pkg/logger"
	"github.com/modelhub/modelhub-api/pkg/metrics"
	"github.com/modelhub/modelhub-api/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)
	logger.SetFormat(cfg.Log.Format)
	logger.Infof("config loaded: mongo=%v redis=%v oidc=%v storage=%v",
		cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.OIDC.Issuer != "" || cfg.OIDC.FirebaseProjectID != "", cfg.Storage.Endpoint != "")

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis backs the shared rate limiter when configured.
	var rdb *redis.Client
	if addr := cfg.Redis.Addr(); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("redis ping failed (%s): %v", addr, err)
		} else {
			logger.Infof("connected to redis at %s", addr)
		}
		defer func() { _ = rdb.Close() }()
	}

	models, downloads, storePing := openCollections(ctx, cfg)
	svc := service.New(models, downloads)

	if cfg.Storage.Endpoint != "" {
		artifacts, err := storage.NewArtifactStore(ctx, cfg.Storage)
		if err != nil {
			logger.Warnf("artifact storage disabled: %v", err)
		} else {
			svc.WithArtifacts(artifacts)
			logger.Infof("artifact urls signed from bucket %q", cfg.Storage.Bucket)
		}
	}

	verifier := newVerifier(ctx, cfg.OIDC)

	reg := prometheus.NewRegistry()
	metrics.RegisterCollectors(reg)

	r := server.NewRouter(server.Deps{
		Config:    cfg,
		Catalog:   svc,
		Verifier:  verifier,
		StorePing: storePing,
		Redis:     rdb,
		Gatherer:  reg,
	})

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("model hub API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("graceful shutdown failed: %v", err)
	}
}

// openCollections connects to MongoDB with retry/backoff to tolerate startup
// races. Without a URI the API runs on in-memory collections; a configured but
// unreachable database is fatal.
func openCollections(ctx context.Context, cfg *config.Config) (models, downloads store.Collection, ping server.PingFunc) {
	if cfg.MongoDB.URI == "" {
		logger.Warnf("no MongoDB URI configured: using in-memory collections, data is lost on restart")
		return store.WithMetrics(store.NewMemoryCollection(catalog.ModelsCollection)),
			store.WithMetrics(store.NewMemoryCollection(catalog.DownloadsCollection)),
			nil
	}

	var client *mongo.Client
	var errConn error
	backoff := time.Second
	const maxAttempts = 5
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		client, errConn = database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
		if errConn == nil {
			break
		}
		logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, errConn)
		if attempt < maxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	if errConn != nil {
		logger.Fatalf("could not connect to MongoDB after %d attempts: %v", maxAttempts, errConn)
	}
	go func() {
		<-ctx.Done()
		_ = client.Disconnect(context.Background())
	}()
	logger.Infof("connected to MongoDB database %q", cfg.MongoDB.Database)

	db := client.Database(cfg.MongoDB.Database)
	return store.WithMetrics(store.NewMongoCollection(db.Collection(catalog.ModelsCollection))),
		store.WithMetrics(store.NewMongoCollection(db.Collection(catalog.DownloadsCollection))),
		func(ctx context.Context) error { return database.Ping(ctx, client, 2*time.Second) }
}

// newVerifier returns nil when no provider is configured, which makes every
// protected route answer 403.
func newVerifier(ctx context.Context, cfg config.OIDCConfig) middleware.Verifier {
	issuer, clientID := cfg.IssuerAndClient()
	if issuer != "" {
		v, err := oidc.NewVerifier(ctx, issuer, clientID)
		if err == nil {
			logger.Infof("verifying tokens issued by %s", issuer)
			return v
		}
		logger.Warnf("oidc discovery failed for %s: %v", issuer, err)
	}
	if cfg.AllowInsecureTokens {
		logger.Warnf("ALLOW_INSECURE_TOKEN is set: token signatures are NOT verified")
		return oidc.NewInsecureVerifier()
	}
	logger.Warnf("no identity provider configured: protected routes will answer 403")
	return nil
}
