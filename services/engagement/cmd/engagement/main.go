package main

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/example/novel-platform/internal/platform/auth"
	platformconfig "github.com/example/novel-platform/internal/platform/config"
	"github.com/example/novel-platform/internal/platform/db"
	"github.com/example/novel-platform/internal/platform/httpserver"
	"github.com/example/novel-platform/internal/platform/logging"
	"github.com/example/novel-platform/internal/platform/natsconn"
	"github.com/example/novel-platform/internal/platform/run"
	"github.com/example/novel-platform/services/engagement/internal/config"
	"github.com/example/novel-platform/services/engagement/internal/engagement"
	"github.com/example/novel-platform/services/engagement/internal/events"
	"github.com/example/novel-platform/services/engagement/internal/handlers"
	"github.com/example/novel-platform/services/engagement/internal/store"
	"github.com/example/novel-platform/services/engagement/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	appCfg, err := platformconfig.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(appCfg.LogLevel, appCfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg := config.Load()

	stores, pool := initStores(log, appCfg, cfg)
	if pool != nil {
		defer pool.Close()
	}
	if stores.gatePool != nil {
		defer stores.gatePool.Close()
	}

	publishers := events.Multi{}

	nc, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: appCfg.ServiceName, Logger: log})
	if err != nil {
		log.Warn("nats unavailable, durable events disabled", zap.Error(err))
	} else {
		defer nc.Close()
		pub, err := events.NewNATSPublisher(nc, log)
		if err != nil {
			log.Warn("jetstream unavailable, durable events disabled", zap.Error(err))
		} else {
			publishers = append(publishers, pub)
		}
	}

	var feed handlers.NotificationFeed
	rdb := initRedis(log, cfg.RedisURL)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		publishers = append(publishers, events.NewRedisPublisher(rdb))
		feed = events.NewRedisFeed(rdb)
	}

	coord := engagement.New(engagement.Options{
		Comments:      stores.comments,
		Notifications: stores.notifications,
		Contents:      stores.contents,
		Users:         stores.users,
		Publisher:     publishers,
		Logger:        log.Named("engagement"),
		Gate:          stores.gate,
	})

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, authenticated routes will reject every request")
	}
	verifier := auth.JWTVerifier{Secret: []byte(cfg.JWTSecret)}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{ReadyFunc: readiness(pool, nc)})
	handlers.Register(r, coord, auth.RequireUser(verifier), handlers.Live{Feed: feed, AllowedOrigins: httpserver.AllowedOrigins()})

	srv := httpserver.New(httpserver.Options{Addr: appCfg.HTTP.Addr, ServiceName: appCfg.ServiceName, Router: r})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error("grpc listen", zap.Error(err))
		run.Exit(1)
	}
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus(appCfg.ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcSrv)
	go func() {
		log.Info("grpc server starting", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			log.Error("grpc serve", zap.Error(err))
		}
	}()

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		if nc != nil && cfg.Worker.Enabled {
			h := worker.NewHandler(coord, stores.ledger, log.Named("worker"))
			if err := worker.Start(ctx, nc, h, cfg.Worker, log.Named("worker")); err != nil {
				log.Error("worker start", zap.Error(err))
			}
		}

		go func() {
			<-ctx.Done()
			healthSrv.Shutdown()
			stopped := make(chan struct{})
			go func() {
				grpcSrv.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-time.After(shutdownTimeout):
				grpcSrv.Stop()
			}
			_ = srv.Shutdown(shutdownTimeout)
		}()
		return srv.Start(log)
	})

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

type storeSet struct {
	comments      store.CommentStore
	notifications store.NotificationStore
	contents      store.ContentRegistry
	users         store.UserRegistry
	ledger        store.EventLedger
	// gate is nil for in-memory stores; the coordinator then uses a local one.
	gate          engagement.ContentGate
	gatePool      *pgxpool.Pool
}

// initStores selects the storage backend.
// In production (APP_ENV=production) it requires a working Postgres connection
// and terminates the process otherwise.
func initStores(log *zap.Logger, appCfg platformconfig.AppConfig, cfg config.Config) (storeSet, *pgxpool.Pool) {
	if cfg.DatabaseURL == "" {
		if appCfg.IsProduction() {
			log.Error("DATABASE_URL is required in production")
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("DATABASE_URL not set, using in-memory stores (development only)")
		return memoryStores(log), nil
	}

	pool, err := db.Open(context.Background(), cfg.DatabaseURL)
	if err != nil {
		if appCfg.IsProduction() {
			log.Error("postgres is required in production but unavailable", zap.Error(err))
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("postgres unavailable, falling back to in-memory stores", zap.Error(err))
		return memoryStores(log), nil
	}

	// Content gates hold their connection for a whole write, so they get a
	// pool of their own and never starve the queries made under them.
	gatePool, err := db.OpenSized(context.Background(), cfg.DatabaseURL, 20)
	if err != nil {
		log.Error("postgres gate pool unavailable", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}

	log.Info("engagement stores: postgres")
	return storeSet{
		gate:          store.NewPostgresContentGate(gatePool),
		gatePool:      gatePool,
		comments:      store.NewPostgresCommentStore(pool),
		notifications: store.NewPostgresNotificationStore(pool),
		contents:      store.NewPostgresContentRegistry(pool),
		users:         store.NewPostgresUserRegistry(pool),
		ledger:        store.NewPostgresEventLedger(pool),
	}, pool
}

// memoryStores seeds one novel so a local process can be exercised by hand.
func memoryStores(log *zap.Logger) storeSet {
	contents := store.NewInMemoryContentRegistry()
	users := store.NewInMemoryUserRegistry()
	contents.Put(store.Content{ID: "demo-novel", Kind: store.KindNovel, OwnerID: "demo-author"})
	users.Put(store.Profile{ID: "demo-author", Username: "demo-author"})
	users.Put(store.Profile{ID: "demo-reader", Username: "demo-reader"})
	log.Info("seeded in-memory registries", zap.String("content_id", "demo-novel"))

	return storeSet{
		comments:      store.NewInMemoryCommentStore(),
		notifications: store.NewInMemoryNotificationStore(),
		contents:      contents,
		users:         users,
		ledger:        store.NewInMemoryEventLedger(),
	}
}

// initRedis connects the realtime channel. Redis is optional: without it
// notifications are still stored and listed, only live delivery is off.
func initRedis(log *zap.Logger, url string) *redis.Client {
	if url == "" {
		log.Info("REDIS_URL not set, realtime notifications disabled")
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("invalid REDIS_URL, realtime notifications disabled", zap.Error(err))
		return nil
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		log.Warn("redis ping failed, realtime notifications disabled", zap.Error(err))
		return nil
	}
	log.Info("realtime notifications: redis")
	return client
}

func readiness(pool *pgxpool.Pool, nc *nats.Conn) func() error {
	return func() error {
		if pool != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				return err
			}
		}
		if nc != nil && !nc.IsConnected() {
			return errors.New("nats disconnected")
		}
		return nil
	}
}
