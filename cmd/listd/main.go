// listd serves a shared list document over HTTP and pushes every change to
// connected WebSocket/SSE clients. Mutations are serialized through a
// cooperative file lock so multiple listd processes can share one data
// directory.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	sarama "github.com/IBM/sarama"
	nats "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/bitlyn/listd/cache"
	"github.com/bitlyn/listd/lock"
	"github.com/bitlyn/listd/metrics"
	"github.com/bitlyn/listd/server"
	"github.com/bitlyn/listd/store"
	"github.com/bitlyn/listd/syncbus"
	"github.com/bitlyn/listd/watchbus"
)

var (
	addr      = flag.String("addr", ":8080", "HTTP listen address")
	dataDir   = flag.String("data", "./data", "Data directory holding the document and lock marker")
	listName  = flag.String("list", "default", "Name of the list this node serves")
	lockKind  = flag.String("lock", "file", "Lock backend: file or redis")
	busKind   = flag.String("bus", "", "Peer event bus: nats, redis, kafka or empty for single-node")
	watchKind = flag.String("watch", "memory", "Watch bus: memory or redis")
	redisAddr = flag.String("redis", "localhost:6379", "Redis address for redis-backed components")
	natsURL   = flag.String("nats", nats.DefaultURL, "NATS URL for -bus=nats")
	kafkaAddr = flag.String("kafka", "localhost:9092", "Comma-separated Kafka brokers for -bus=kafka")
	cacheTTL  = flag.Duration("cache-ttl", cache.DefaultTTL, "Read cache TTL, 0 disables the cache")

	lockAttempts  = flag.Int("lock-attempts", lock.DefaultMaxAttempts, "Lock acquisition attempts")
	lockBackoff   = flag.Duration("lock-backoff", lock.DefaultBackoff, "Lock acquisition backoff")
	lockStaleness = flag.Duration("lock-staleness", lock.DefaultStaleness, "Age after which a lock marker is broken")

	trace = flag.Bool("trace", false, "Print OpenTelemetry spans to stdout")
)

func main() {
	flag.Parse()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	if err := run(log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("listd exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *trace {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		otel.SetTracerProvider(tp)
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		return err
	}

	var redisClient *redis.Client
	needsRedis := *lockKind == "redis" || *busKind == "redis" || *watchKind == "redis"
	if needsRedis {
		redisClient = redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer redisClient.Close()
	}

	lockOpts := lock.Options{
		MaxAttempts: *lockAttempts,
		Backoff:     *lockBackoff,
		Staleness:   *lockStaleness,
		Logger:      log,
	}
	var locker lock.Locker
	switch *lockKind {
	case "file":
		locker = lock.NewFile(filepath.Join(*dataDir, *listName+".lock"), lockOpts)
	case "redis":
		locker = lock.NewRedis(redisClient, "listd:lock:"+*listName, lockOpts)
	default:
		return errors.New("unknown -lock backend: " + *lockKind)
	}

	var peers syncbus.Bus
	switch *busKind {
	case "":
		// single node
	case "nats":
		conn, err := nats.Connect(*natsURL)
		if err != nil {
			return err
		}
		defer conn.Close()
		peers = syncbus.NewNATS(conn)
	case "redis":
		peers = syncbus.NewRedis(redisClient)
	case "kafka":
		cfg := sarama.NewConfig()
		cfg.Producer.Return.Successes = true
		bus, err := syncbus.NewKafka(strings.Split(*kafkaAddr, ","), cfg)
		if err != nil {
			return err
		}
		defer bus.Close()
		peers = bus
	default:
		return errors.New("unknown -bus backend: " + *busKind)
	}

	var watch watchbus.Bus
	switch *watchKind {
	case "memory":
		watch = watchbus.NewInMemory()
	case "redis":
		watch = watchbus.NewRedis(redisClient)
	default:
		return errors.New("unknown -watch backend: " + *watchKind)
	}

	var snaps *cache.Snapshots
	if *cacheTTL > 0 {
		snaps = cache.New(cache.WithTTL(*cacheTTL))
		defer snaps.Close()
	}

	docs := store.NewFile(filepath.Join(*dataDir, *listName+".json"), *listName)
	srv := server.New(store.NewGuarded(locker, docs), watch, peers, snaps, server.Config{
		List:   *listName,
		Logger: log,
	})

	reg := metrics.NewRegistry()
	metrics.RegisterCoreMetrics(reg)
	srv.Mux().Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{Addr: *addr, Handler: srv}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listd listening", "addr", *addr, "list", *listName, "data", *dataDir)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := srv.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
