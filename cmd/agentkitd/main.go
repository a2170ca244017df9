package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/agentkit/runtime/agent/connreg"
	"github.com/agentkit/runtime/agent/instance"
	"github.com/agentkit/runtime/agent/loop"
	"github.com/agentkit/runtime/agent/model"
	"github.com/agentkit/runtime/agent/storage"
	"github.com/agentkit/runtime/agent/tools"
	"github.com/agentkit/runtime/httpedge"
	"github.com/agentkit/runtime/internal/config"
	"github.com/agentkit/runtime/internal/telemetry"
)

func main() {
	var (
		configF = flag.String("config", "", "path to YAML configuration file")
		dbgF    = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Error(ctx, err)
		os.Exit(1)
	}

	backend, err := newStore(cfg.Storage)
	if err != nil {
		log.Error(ctx, err)
		os.Exit(1)
	}

	conns := connreg.NewRegistry(backend)
	toolRegistry := tools.NewRegistry()
	registry := instance.NewRegistry(backend, toolRegistry, &unconfiguredModelClient{}, conns,
		instance.WithIdleAfter(cfg.HibernateAfter),
		instance.WithEventCapacity(cfg.EventLogSize),
		instance.WithLoopOptions(loop.WithToolsPerTick(cfg.Loop.ToolsPerTick)),
	)

	srv := httpedge.New(registry, telemetry.NewClueLogger())
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Router()}

	go func() {
		log.Print(ctx, log.KV{K: "addr", V: cfg.HTTPAddr}, log.KV{K: "msg", V: "listening"})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func newStore(cfg config.StorageConfig) (storage.Store, error) {
	if cfg.Backend != "redis" {
		return storage.NewMemoryStore(), nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return storage.NewRedisStore(rdb), nil
}

// unconfiguredModelClient is the default model.Client until an operator wires
// a concrete provider adapter (Anthropic, OpenAI, Bedrock, ...). The model
// port is intentionally provider-agnostic, so agentkitd ships with no SDK
// bound by default.
type unconfiguredModelClient struct{}

func (unconfiguredModelClient) Complete(context.Context, *model.Request) (*model.Response, error) {
	return nil, &modelNotConfiguredError{}
}

func (unconfiguredModelClient) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

type modelNotConfiguredError struct{}

func (*modelNotConfiguredError) Error() string {
	return "model: no provider client configured, see cmd/agentkitd/main.go"
}
