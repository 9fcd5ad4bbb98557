package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gameforge/internal/artifact"
	"gameforge/internal/config"
	"gameforge/internal/health"
	"gameforge/internal/pipeline"
	"gameforge/internal/provider"
	"gameforge/internal/router"
	"gameforge/internal/server"
	"gameforge/internal/session"
	"gameforge/internal/store"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gameforge API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := setupLogging(cfg.LogLevel)

	st, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	pipe := pipeline.Default()
	if cfg.PipelinePath != "" {
		pipe, err = pipeline.Load(cfg.PipelinePath)
		if err != nil {
			return fmt.Errorf("load pipeline %s: %w", cfg.PipelinePath, err)
		}
	}

	var artifacts artifact.Store
	if cfg.Artifact.Enabled {
		artifacts, err = artifact.NewS3Store(artifact.S3Config{
			Endpoint:  cfg.Artifact.Endpoint,
			Region:    cfg.Artifact.Region,
			AccessKey: cfg.Artifact.AccessKey,
			SecretKey: cfg.Artifact.SecretKey,
			Bucket:    cfg.Artifact.Bucket,
			UseSSL:    cfg.Artifact.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("artifact store: %w", err)
		}
	} else {
		log.Warn("no artifact endpoint configured, using in-memory artifact store")
		artifacts = artifact.NewMemoryStore()
	}

	bus := health.NewBus(64)
	monitor := health.NewMonitor(health.Thresholds{
		DegradedAfter: cfg.Health.DegradedAfter,
		OfflineAfter:  cfg.Health.OfflineAfter,
		FailureWindow: cfg.Health.FailureWindow,
	}, cfg.Health.SelfHeal, bus, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clients, err := buildClients(ctx, cfg.Providers, monitor)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}()

	routerCfg := router.DefaultConfig()
	routerCfg.AttemptTimeout = cfg.Router.AttemptTimeout
	routerCfg.MaxAttempts = cfg.Router.MaxAttempts
	rt := router.New(routerCfg, monitor, clients, log)

	prober := health.NewProber(monitor, clients, cfg.Health.ProbeSpec, log)
	if err := prober.Start(); err != nil {
		return fmt.Errorf("start prober: %w", err)
	}
	defer prober.Stop()

	manager, err := session.NewManager(st, rt, pipe, artifacts, log)
	if err != nil {
		return fmt.Errorf("session manager: %w", err)
	}

	mux := server.NewMux(
		server.NewSessionHandler(manager, log),
		server.NewHealthHandler(monitor, rt, log),
		server.NewStreamHandler(bus, log),
	)
	srv := server.New(cfg.Port, mux, log)

	go func() {
		if err := srv.Start(); err != nil {
			log.Error("server error", "error", err)
		}
	}()

	log.Info("gameforge started",
		"port", cfg.Port,
		"env", cfg.Env,
		"providers", len(clients),
		"pipelineSteps", pipe.Len(),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// buildClients constructs one client per configured provider and registers
// every known provider with the monitor, configured or not, so the health
// report shows the full fleet.
func buildClients(ctx context.Context, pc config.ProvidersConfig, monitor *health.Monitor) ([]provider.Client, error) {
	var clients []provider.Client

	monitor.Register("deepseek", provider.CapabilityText, pc.DeepSeekKey != "")
	if pc.DeepSeekKey != "" {
		clients = append(clients, provider.NewDeepSeekClient(pc.DeepSeekKey, pc.DeepSeekModel))
	}

	monitor.Register("claude", provider.CapabilityText, pc.ClaudeKey != "")
	if pc.ClaudeKey != "" {
		clients = append(clients, provider.NewClaudeClient(pc.ClaudeKey, pc.ClaudeModel))
	}

	monitor.Register("openai", provider.CapabilityText, pc.OpenAIKey != "")
	monitor.Register("openai-image", provider.CapabilityImage, pc.OpenAIKey != "")
	if pc.OpenAIKey != "" {
		clients = append(clients,
			provider.NewOpenAIClient(pc.OpenAIKey, pc.OpenAIModel),
			provider.NewOpenAIImageClient(pc.OpenAIKey, pc.OpenAIImageModel))
	}

	monitor.Register("gemini", provider.CapabilityText, pc.GeminiKey != "")
	if pc.GeminiKey != "" {
		g, err := provider.NewGeminiClient(ctx, pc.GeminiKey, pc.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		clients = append(clients, g)
	}

	monitor.Register("stability", provider.CapabilityImage, pc.StabilityKey != "")
	if pc.StabilityKey != "" {
		clients = append(clients, provider.NewStabilityClient(pc.StabilityKey, pc.StabilityEngine))
	}

	return clients, nil
}

func setupLogging(level string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
	slog.SetDefault(log)
	return log
}
