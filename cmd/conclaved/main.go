// Command conclaved is a minimal process entrypoint for the deliberation
// engine: it loads configuration, wires the full leaves-first stack
// (events → hooks → telemetry → router → critic → fusion → runtime), and
// exposes Runtime.Decide over stdin/stdout for manual testing. The HTTP/
// WebSocket front door spec.md places out of scope is deliberately absent;
// this is scaffolding for humans and integration tests, not a production
// service surface.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conclave-ai/conclave/backend"
	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/critic"
	"github.com/conclave-ai/conclave/events"
	"github.com/conclave-ai/conclave/resilience"
	"github.com/conclave-ai/conclave/router"
	"github.com/conclave-ai/conclave/runtime"
	"github.com/conclave-ai/conclave/storage"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	flag.Parse()

	opts := []core.Option{}
	if *configPath != "" {
		opts = append(opts, core.WithConfigFile(*configPath))
	}

	cfg, err := core.NewConfig(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "conclaved: config error: %v\n", err)
		os.Exit(1)
	}

	logger := core.NewProductionLogger(cfg.Logging, cfg.Development, cfg.Name)
	bus := events.New(logger)

	mode, err := core.ModeByName(cfg.Runtime.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "conclaved: invalid mode: %v\n", err)
		os.Exit(1)
	}

	var runner router.Runner
	for _, b := range cfg.Router.Backends {
		if b.BaseURL != "" {
			httpRunner := backend.NewHTTPRunner(b.BaseURL, b.APIKey, logger, nil)

			breaker, err := resilience.NewCircuitBreaker(&resilience.CircuitBreakerConfig{
				Name:             b.Name,
				ErrorThreshold:   0.5,
				VolumeThreshold:  10,
				SleepWindow:      30 * time.Second,
				HalfOpenRequests: 3,
				SuccessThreshold: 0.6,
				Logger:           logger,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "conclaved: circuit breaker config error: %v\n", err)
				os.Exit(1)
			}
			httpRunner.WithCircuitBreaker(breaker, bus)

			runner = httpRunner.Run
			break
		}
	}

	var store runtimeStorageBackend
	if cfg.Runtime.EnablePrecedent && cfg.Storage.RedisURL != "" {
		redisStore, err := storage.NewRedisPrecedentStore(storage.RedisPrecedentStoreOptions{
			RedisURL:  cfg.Storage.RedisURL,
			Namespace: cfg.Storage.KeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			logger.Warn("conclaved: precedent store unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			store = redisStore
			defer redisStore.Close()
		}
	}

	bootstrapped, err := runtime.Bootstrap(runtime.BootstrapOptions{
		Logger:               logger,
		Bus:                  bus,
		RouterConfig:         router.FromFileConfig(cfg.Router),
		Runner:               runner,
		Critics:              map[string]critic.Critic{},
		Storage:              store,
		FallbackModels:       cfg.Router.Fallback,
		Mode:                 mode,
		UncertaintyThreshold: cfg.Runtime.UncertaintyThreshold,
		RuntimeConfig: runtime.Config{
			MaxConcurrentTasks:  cfg.Runtime.MaxConcurrentTasks,
			DecisionTimeout:     cfg.Runtime.DecisionTimeout,
			HealthcheckInterval: cfg.Runtime.HealthcheckInterval,
		},
		TelemetryServiceName: telemetryServiceName(cfg),
		TelemetryEndpoint:    cfg.Telemetry.Endpoint,
		TelemetryUseStdout:   cfg.Telemetry.UseStdout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "conclaved: bootstrap failed: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("conclaved: ready, reading newline-delimited JSON requests from stdin", map[string]interface{}{
		"mode": mode.Name,
	})

	serveStdin(ctx, bootstrapped.Runtime, logger)
}

// runtimeStorageBackend matches fusion.StorageBackend structurally without
// importing fusion here, keeping cmd/conclaved's dependency surface small.
type runtimeStorageBackend interface {
	SearchEmbeddings(ctx context.Context, vector []float64, topK int) ([]core.PrecedentRef, error)
	Store(ctx context.Context, record map[string]interface{}) (string, error)
}

func telemetryServiceName(cfg *core.Config) string {
	if !cfg.Telemetry.Enabled {
		return ""
	}
	return cfg.Telemetry.ServiceName
}

func serveStdin(ctx context.Context, rt *runtime.Runtime, logger core.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	encoder := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var request core.Request
		if err := json.Unmarshal(line, &request); err != nil {
			logger.Error("conclaved: invalid request JSON", map[string]interface{}{"error": err.Error()})
			continue
		}

		decision := rt.Decide(ctx, request)
		if err := encoder.Encode(decision); err != nil {
			logger.Error("conclaved: failed to write decision", map[string]interface{}{"error": err.Error()})
		}
	}
}
