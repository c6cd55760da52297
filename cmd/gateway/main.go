// Command gateway runs the inference dispatch engine's HTTP surface: a
// single POST /inference endpoint backed by the model router, variant
// layer, and provider adapters. Startup wiring follows the teacher's
// registry/cmd/registry/main.go shape — environment-variable configuration,
// a run() function returning error, defer-closed collaborators — generalized
// from a single Redis dependency to the inference engine's full set of
// optional backing stores. Building a model/function table from a TOML
// config file is out of scope (see inference/config's package doc); this
// command seeds a single default chat function from GATEWAY_MODEL so the
// server is runnable standalone.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/tensorzero/inference-core/inference/cache"
	"github.com/tensorzero/inference-core/inference/config"
	"github.com/tensorzero/inference-core/inference/dispatch"
	"github.com/tensorzero/inference-core/inference/embedding"
	"github.com/tensorzero/inference-core/inference/httpapi"
	"github.com/tensorzero/inference-core/inference/objectstore"
	"github.com/tensorzero/inference-core/inference/observability"
	"github.com/tensorzero/inference-core/inference/provider/registry"
	"github.com/tensorzero/inference-core/inference/ratelimit"
	"github.com/tensorzero/inference-core/inference/router"
	"github.com/tensorzero/inference-core/inference/stream"
	"github.com/tensorzero/inference-core/inference/template"
	"github.com/tensorzero/inference-core/inference/variant"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(context.Background(), err)
	}
}

func run() error {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if envBool("GATEWAY_DEBUG", false) {
		ctx = log.Context(ctx, log.WithDebug())
	}

	addr := envOr("GATEWAY_ADDR", ":8088")
	defaultModel := envOr("GATEWAY_MODEL", "dummy::default")

	reg := registry.New(registry.DummyBehaviors{
		"default": {Text: "This is a dummy response. Set GATEWAY_MODEL to a real provider shorthand (e.g. anthropic::claude-sonnet-4-5) to talk to a live model."},
	})

	models := config.NewModelTable(map[string]config.ModelConfig{})
	functions := map[string]config.FunctionConfig{
		"default_chat": {
			Name: "default_chat",
			Kind: config.FunctionChat,
			Variants: map[string]config.VariantConfig{
				"default": {
					Name:   "default",
					Kind:   config.VariantChatCompletion,
					Weight: floatPtr(1.0),
					Chat:   &config.ChatCompletionParams{Model: defaultModel},
				},
			},
		},
	}

	renderer, err := template.NewRenderer(nil)
	if err != nil {
		return fmt.Errorf("compile templates: %w", err)
	}

	var cacheStore *cache.Store
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisURL, Password: os.Getenv("REDIS_PASSWORD")})
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Error(ctx, err, log.KV{K: "msg", V: "close redis"})
			}
		}()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		cacheStore = cache.New(rdb, envDuration("CACHE_TTL", cache.DefaultTTL))
	}

	// A resolved object store needs a live s3.Client, which in turn needs an
	// AWS config loaded the same way the bedrock provider's does; wiring one
	// up is deployment-specific (region, credentials, VPC endpoint) and left
	// to a fuller main for now, so image/file resolution from a storage
	// pointer is unavailable in this entrypoint.
	var objects *objectstore.Resolver

	var limiter *ratelimit.Limiter
	if envBool("RATE_LIMITING_ENABLED", false) {
		limiter = ratelimit.New(config.RateLimitConfig{Enabled: true})
	}

	var finalizer stream.Finalizer = httpapi.NoopFinalizer{}
	var writer *observability.Writer
	if dsn := os.Getenv("CLICKHOUSE_DSN"); dsn != "" {
		conn, err := clickhouse.Open(&clickhouse.Options{Addr: []string{dsn}})
		if err != nil {
			return fmt.Errorf("connect to clickhouse: %w", err)
		}
		defer func() {
			if err := conn.Close(); err != nil {
				log.Error(ctx, err, log.KV{K: "msg", V: "close clickhouse"})
			}
		}()
		writer = observability.New(observability.Options{Conn: conn, AsyncWrites: true})
		finalizer = modelInferenceFinalizer{writer: writer}
	}

	embedder := embedding.New(reg, models)

	deps := variant.Deps{
		Models:    models,
		Router:    router.New(reg),
		Templates: renderer,
		Cache:     cacheStore,
	}
	dispatcher := dispatch.New(functions, deps, nil, embedder, objects)

	handler := httpapi.New(dispatcher, finalizer, limiter, writer)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Print(ctx, log.KV{K: "addr", V: addr}, log.KV{K: "msg", V: "starting gateway"})
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
	case <-sigCh:
		log.Print(ctx, log.KV{K: "msg", V: "shutting down"})
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

// modelInferenceFinalizer persists every completed stream's usage as a
// ModelInferenceRow, the same per-attempt row the buffered path gets from
// httpapi.Handler's observability write after a non-streaming inference.
type modelInferenceFinalizer struct {
	writer *observability.Writer
}

// Finalize implements stream.Finalizer.
func (f modelInferenceFinalizer) Finalize(ctx context.Context, result stream.FinalResult) {
	f.writer.WriteModelInference(ctx, observability.ModelInferenceRow{
		InferenceID:  result.InferenceID,
		ProviderName: result.ProviderName,
		Usage:        result.Usage,
		FinishReason: result.FinishReason,
		Timestamp:    time.Now(),
	})
}

func floatPtr(f float64) *float64 { return &f }

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
