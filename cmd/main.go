package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/davidbz/hostmeter/internal/calibration"
	"github.com/davidbz/hostmeter/internal/config"
	"github.com/davidbz/hostmeter/internal/domain"
	"github.com/davidbz/hostmeter/internal/http"
	"github.com/davidbz/hostmeter/internal/http/middleware"
	"github.com/davidbz/hostmeter/internal/instrument"
	"github.com/davidbz/hostmeter/internal/observability"
	"github.com/davidbz/hostmeter/internal/store/bolt"
	"github.com/davidbz/hostmeter/internal/store/redis"
)

const (
	storeMemory = "memory"
	storeBolt   = "bolt"
	storeRedis  = "redis"
)

func main() {
	container := buildContainer()

	if err := newRootCmd(container).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func buildContainer() *dig.Container {
	container := dig.New()

	// Configuration
	if err := container.Provide(config.Load); err != nil {
		log.Fatalf("Failed to provide config: %v", err)
	}
	if err := container.Provide(config.ParseDependenciesConfig); err != nil {
		log.Fatalf("Failed to provide config dependencies: %v", err)
	}

	// Observability
	if err := container.Provide(observability.InitLogger); err != nil {
		log.Fatalf("Failed to provide logger: %v", err)
	}
	if err := container.Provide(
		prometheus.NewRegistry,
		dig.As(new(prometheus.Registerer), new(prometheus.Gatherer)),
	); err != nil {
		log.Fatalf("Failed to provide metrics registry: %v", err)
	}
	if err := container.Provide(observability.NewMetrics); err != nil {
		log.Fatalf("Failed to provide metrics: %v", err)
	}

	// Params store
	if err := container.Provide(openStore); err != nil {
		log.Fatalf("Failed to provide params store: %v", err)
	}

	// Calibration
	if err := container.Provide(newInstrumentContext); err != nil {
		log.Fatalf("Failed to provide instrumentation: %v", err)
	}
	if err := container.Provide(newHarness); err != nil {
		log.Fatalf("Failed to provide harness: %v", err)
	}

	// HTTP Layer
	if err := container.Provide(middleware.BuildMiddlewareChain); err != nil {
		log.Fatalf("Failed to provide middleware chain: %v", err)
	}
	if err := container.Provide(http.NewHandler); err != nil {
		log.Fatalf("Failed to provide HTTP handler: %v", err)
	}
	if err := container.Provide(http.NewServer); err != nil {
		log.Fatalf("Failed to provide HTTP server: %v", err)
	}

	return container
}

// openStore selects the params store backend. The logger dependency orders
// InitLogger before any store logs.
func openStore(cfg *config.StoreConfig, _ *zap.Logger) (domain.ParamsStore, error) {
	switch cfg.Backend {
	case storeMemory:
		return domain.NewInMemoryParamsStore(), nil
	case storeBolt:
		store, err := bolt.Open(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case storeRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(context.Background()).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis %s unreachable: %w", cfg.RedisAddr, err)
		}
		return redis.NewStore(client, cfg.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func closeStore(store domain.ParamsStore) {
	if c, ok := store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Printf("Failed to close params store: %v", err)
		}
	}
}

func newInstrumentContext(logger *zap.Logger) *instrument.Context {
	return instrument.NewContext(instrument.NewInstructionCounter(logger), instrument.NewHeapTracker())
}

func newHarness(
	inst *instrument.Context,
	cfg *config.CalibrationConfig,
	metrics *observability.Metrics,
) (*calibration.Harness, error) {
	seed, err := cfg.SeedBytes()
	if err != nil {
		return nil, err
	}
	return calibration.NewHarness(inst, calibration.Options{
		Seed:        seed,
		ScaleLevels: cfg.ScaleLevels,
	}, metrics), nil
}
