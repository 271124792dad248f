package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/gogotex/mindmaps/backend/go-services/internal/collab"
	"github.com/gogotex/mindmaps/backend/go-services/internal/config"
	"github.com/gogotex/mindmaps/backend/go-services/internal/database"
	"github.com/gogotex/mindmaps/backend/go-services/internal/events"
	"github.com/gogotex/mindmaps/backend/go-services/internal/history"
	"github.com/gogotex/mindmaps/backend/go-services/internal/lock"
	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap/handler"
	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap/repository"
	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap/service"
	"github.com/gogotex/mindmaps/backend/go-services/internal/oidc"
	"github.com/gogotex/mindmaps/backend/go-services/internal/sessions"
	"github.com/gogotex/mindmaps/backend/go-services/internal/storage"
	"github.com/gogotex/mindmaps/backend/go-services/internal/telemetry"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/logger"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/metrics"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/middleware"
)

var startTime = time.Now()

func main() {
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.LogLevel)
	logger.Infof("config loaded: keycloak=%v mongo=%v redis=%v minio=%v lockCapacity=%d lockTTL=%s",
		cfg.Keycloak.URL != "", cfg.MongoDB.URI != "", cfg.Redis.Enabled(), cfg.MinIO.Endpoint != "",
		cfg.Lock.Capacity, cfg.Lock.TTL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatalf("mindmap service: %v", err)
	}
	logger.Infof("mindmap service stopped")
}

// backends holds whatever external systems were configured.
type backends struct {
	mongo *mongo.Client
	redis *redis.Client
	minio *storage.MinIOStore
}

func (b *backends) close() {
	if b.mongo != nil {
		_ = b.mongo.Disconnect(context.Background())
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
}

func connect(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}
	if cfg.Redis.Enabled() {
		b.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.close()
			return nil, err
		}
		logger.Infof("connected to Redis %s", cfg.Redis.Addr())
	}
	if cfg.MongoDB.URI != "" {
		client, err := database.ConnectMongoRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, 5, 2*time.Second)
		if err != nil {
			b.close()
			return nil, err
		}
		b.mongo = client
		logger.Infof("connected to MongoDB database %s", cfg.MongoDB.Database)
	}
	if cfg.MinIO.Endpoint != "" {
		st, err := storage.NewMinIOStore(&storage.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			UseSSL:    cfg.MinIO.UseSSL,
			Bucket:    cfg.MinIO.Bucket,
		})
		if err != nil {
			b.close()
			return nil, err
		}
		b.minio = st
		logger.Infof("using MinIO bucket %s for content", cfg.MinIO.Bucket)
	}
	return b, nil
}

func buildService(cfg *config.Config, b *backends, sink events.Sink) (*service.Service, *lock.Manager) {
	locks := lock.NewManager(
		lock.WithCapacity(cfg.Lock.Capacity),
		lock.WithWarnRatio(cfg.Lock.WarnRatio),
		lock.WithTTL(cfg.Lock.TTL),
		lock.WithSink(sink),
	)

	var (
		repo    repository.Repository = repository.NewMemoryRepo()
		cstore  collab.Store          = collab.NewMemoryStore()
		hist    history.Backend       = history.NewMemoryBackend()
		content storage.ContentStore  = storage.NewMemoryStore()
	)
	if b.mongo != nil {
		db := b.mongo.Database(cfg.MongoDB.Database)
		repo = repository.NewMongoRepo(db.Collection("mindmaps"), db.Collection("counters"))
		cstore = collab.NewMongoStore(db.Collection("collaborations"))
		hist = history.NewMongoBackend(db.Collection("revisions"))
	} else {
		logger.Warnf("MONGODB_URI not set; mindmaps are kept in memory")
	}
	if b.minio != nil {
		content = b.minio
	}

	svc := service.New(service.Deps{
		Repo:          repo,
		Content:       content,
		Locks:         locks,
		Collaborators: collab.NewRegistry(cstore, sink),
		History:       history.NewStore(hist, nil, sink),
	})
	return svc, locks
}

func newVerifier(ctx context.Context, cfg *config.Config) (middleware.Verifier, error) {
	if cfg.Keycloak.URL != "" && cfg.Keycloak.Realm != "" {
		return oidc.NewVerifier(ctx, cfg.Keycloak.Issuer(), cfg.Keycloak.ClientID)
	}
	logger.Warn("enabling insecure OIDC verifier (integration mode)")
	return oidc.NewInsecureVerifier(), nil
}

func limiter(cfg *config.Config, rdb *redis.Client, name string) gin.HandlerFunc {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	if cfg.RateLimit.UseRedis && rdb != nil {
		return middleware.RedisRateLimitMiddleware(rdb, name, cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.Window)
	}
	return middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
}

// cors is a permissive policy for the editor frontend during development.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length, Location")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	b, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	sinks := []events.Sink{events.LogSink{}}
	var (
		blacklist sessions.Blacklist = sessions.NewMemoryBlacklist()
		feed      *events.RedisSink
	)
	if b.redis != nil {
		feed = events.NewRedisSink(b.redis, "", "")
		sinks = append(sinks, feed)
		blacklist = sessions.NewRedisBlacklist(b.redis)
	}
	svc, locks := buildService(cfg, b, events.NewFanout(sinks...))

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterCollectors(reg)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), cors())

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "healthy") })
	r.GET("/ready", readiness(b))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	handler.RegisterSwagger(r)

	authed := r.Group("/", middleware.AuthMiddleware(verifier, blacklist))
	handler.RegisterMindmapRoutes(authed, svc, handler.Limits{
		Create: limiter(cfg, b.redis, "create"),
		Edit:   limiter(cfg, b.redis, "edit"),
	})
	handler.RegisterSessionRoutes(authed, svc, blacklist, cfg.Keycloak.LogoutTTL)
	if feed != nil {
		handler.RegisterActivityRoutes(authed, svc, feed)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("mindmap service listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return lock.NewReaper(locks, cfg.Lock.ReapInterval).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// readiness returns 200 only when every configured dependency answers.
func readiness(b *backends) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		ready := true
		deps := map[string]bool{}
		if b.mongo != nil {
			deps["mongodb"] = b.mongo.Ping(ctx, nil) == nil
			ready = ready && deps["mongodb"]
		}
		if b.redis != nil {
			deps["redis"] = b.redis.Ping(ctx).Err() == nil
			ready = ready && deps["redis"]
		}
		if b.minio != nil {
			deps["minio"] = b.minio.Ping(ctx) == nil
			ready = ready && deps["minio"]
		}
		status, word := http.StatusOK, "ready"
		if !ready {
			status, word = http.StatusServiceUnavailable, "not_ready"
		}
		c.JSON(status, gin.H{"status": word, "deps": deps, "uptime": time.Since(startTime).String()})
	}
}
