package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"toolmesh.dev/engine/common/id"
	"toolmesh.dev/engine/common/logger"
	"toolmesh.dev/engine/common/otel"
	"toolmesh.dev/engine/core/config"
	"toolmesh.dev/engine/internal/engine"
	"toolmesh.dev/engine/internal/httpapi"
	"toolmesh.dev/engine/internal/llmgateway"
	"toolmesh.dev/engine/internal/planstore"
	"toolmesh.dev/engine/internal/testtool"
	"toolmesh.dev/engine/internal/toolcache"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg := config.Load()

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "engine starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)

	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	gateway, err := llmgateway.New(llmgateway.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Model:    cfg.LLM.Model,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to construct llm gateway", "error", err)
		os.Exit(1)
	}

	var cache engine.CatalogCache
	if cfg.Redis.URL != "" {
		redisCache, err := toolcache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to construct redis catalog cache", "error", err)
			os.Exit(1)
		}
		cache = redisCache
		slog.InfoContext(ctx, "catalog cache backed by redis")
	} else {
		slog.InfoContext(ctx, "catalog cache disabled (no redis url configured)")
	}

	var store engine.PlanStore
	switch cfg.PlanStoreBackend {
	case "arango":
		arangoStore, err := planstore.NewArangoPlanStore(ctx, planstore.ArangoConfig{
			URL:      cfg.Arango.URL,
			Username: cfg.Arango.Username,
			Password: cfg.Arango.Password,
			Database: cfg.Arango.Database,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to construct arangodb plan store", "error", err)
			os.Exit(1)
		}
		store = arangoStore
		slog.InfoContext(ctx, "plan store backed by arangodb")
	default:
		store = planstore.NewFilePlanStore(cfg.LogDir)
		slog.InfoContext(ctx, "plan store backed by local files", "dir", cfg.LogDir)
	}

	planBuilder := engine.NewPlanBuilder(gateway, cache)
	resolver := engine.NewPlaceholderResolver(gateway)
	assessor := engine.NewAssessor(gateway)
	invoker := newToolInvoker(cfg)
	poller := engine.NewPollingDriver(invoker, gateway, engine.DefaultMaxIterations)
	scheduler := engine.NewScheduler(invoker, resolver, assessor, poller, gateway)
	finalAnswer := engine.NewFinalAnswerGenerator(gateway)

	orchestrator := engine.NewOrchestrator(gateway, planBuilder, scheduler, finalAnswer, store, func() []engine.ToolDescriptor {
		return loadCatalog(ctx)
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	httpapi.SetupRoutes(router, orchestrator, cfg.OTel.ServiceName, cfg.OTel.Enabled())

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // long-lived SSE responses
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// newToolInvoker and loadCatalog stand in for the stdio tool-server launcher
// and catalog loader, both out of scope per §1: the real implementation is
// an external collaborator. These in-memory fakes make the binary runnable
// end to end without one, per the ambient-stack instruction to wire a
// minimal version of every out-of-scope surface.
func newToolInvoker(cfg config.Config) *testtool.Registry {
	registry := testtool.NewRegistry()

	registry.Register("get_weather", func(args map[string]any, _ int) (string, error) {
		city, _ := args["city"].(string)
		return fmt.Sprintf(`{"city":%q,"condition":"clear","temperature_c":24}`, city), nil
	})

	registry.RegisterConstant("send_message", `{"status":"sent"}`, nil)

	registry.RegisterConstant("generate_image", `{"task_id":"img-1","status":"queued"}`, nil)

	registry.RegisterSequence("get_image_progress", []string{
		`{"status":"running","progress":"30%"}`,
		`{"status":"running","progress":"70%"}`,
		`{"status":"completed","progress":"100%","url":"https://example.invalid/img-1.png"}`,
	})

	return registry
}

func loadCatalog(ctx context.Context) []engine.ToolDescriptor {
	return []engine.ToolDescriptor{
		{Name: "get_weather", Description: "Get the current weather for a city.", ParameterSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"city": map[string]any{"type": "string"}},
			"required":   []string{"city"},
		}},
		{Name: "send_message", Description: "Send a message to a user.", ParameterSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"recipient": map[string]any{"type": "string"}, "content": map[string]any{"type": "string"}},
			"required":   []string{"recipient", "content"},
		}},
		{Name: "generate_image", Description: "Queue an asynchronous image generation task.", ParameterSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"prompt": map[string]any{"type": "string"}},
			"required":   []string{"prompt"},
		}},
		{Name: "get_image_progress", Description: "Poll the progress of a queued image generation task.", ParameterSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"task_id": map[string]any{"type": "string"}},
			"required":   []string{"task_id"},
		}},
	}
}

const banner = `
 _              _                      _
| |_ ___   ___ | |_ __ ___   ___  ___| |__
| __/ _ \ / _ \| | '_ ' _ \ / _ \/ __| '_ \
| || (_) | (_) | | | | | | |  __/\__ \ | | |
 \__\___/ \___/|_|_| |_| |_|\___||___/_| |_|
`
