// KubeRoot investigation server: HTTP API, the investigation
// orchestrator, and the background retention sweep.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kuberoot/kuberoot/pkg/api"
	"github.com/kuberoot/kuberoot/pkg/cleanup"
	"github.com/kuberoot/kuberoot/pkg/cluster"
	"github.com/kuberoot/kuberoot/pkg/config"
	"github.com/kuberoot/kuberoot/pkg/database"
	"github.com/kuberoot/kuberoot/pkg/events"
	"github.com/kuberoot/kuberoot/pkg/kgroot"
	"github.com/kuberoot/kuberoot/pkg/llm"
	"github.com/kuberoot/kuberoot/pkg/masking"
	"github.com/kuberoot/kuberoot/pkg/orchestrator"
	"github.com/kuberoot/kuberoot/pkg/services"
	"github.com/kuberoot/kuberoot/pkg/signals"
	"github.com/kuberoot/kuberoot/pkg/slack"
	"github.com/kuberoot/kuberoot/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting KubeRoot",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database (migrations run inside NewClient)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	taskService := services.NewTaskService(dbClient.DB())
	sessionService := services.NewSessionService(dbClient.DB())

	// 3. One-time startup orphan drain: tasks left processing by a dead
	// process can never finish, fail them before the API comes up.
	if drained, err := taskService.DrainOrphans(ctx); err != nil {
		slog.Error("Failed to drain orphaned tasks", "error", err)
		// Non-fatal, the tasks stay visible as processing
	} else if drained > 0 {
		slog.Info("Drained orphaned tasks", "count", drained)
	}

	// 4. LLM client
	provider, err := cfg.DefaultLLMProvider()
	if err != nil {
		slog.Error("Failed to resolve default LLM provider", "error", err)
		os.Exit(1)
	}
	llmClient, err := llm.NewClient(provider, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}

	// 5. Event log, signal tables, tool surface
	eventLog := events.NewLog(taskService, events.NewBroadcaster(cfg.Worker.SubscriberBuffer))
	// Investigation aborts are keyed by task id, chat aborts by trace id.
	// Separate tables keep the two keyspaces apart.
	taskAborts := signals.NewAbortTable()
	chatAborts := signals.NewAbortTable()
	approvals := signals.NewApprovalTable(cfg.Limits.ApprovalTimeout)
	redirects := signals.NewRedirectTable()

	masker := masking.NewService(masking.Config{Enabled: true}, slog.Default())
	toolFactory := cluster.NewFactory(cfg.ClusterRegistry, cfg.Defaults.Cluster, masker, cfg.Kubeignore, slog.Default())

	// 6. Root cause analysis over the default cluster's proxy
	engine := kgroot.NewCorrelationEngine(kgroot.DefaultCorrelationConfig(), llmClient)
	analyzer := kgroot.NewAnalyzer(engine, kgroot.DefaultCandidateLimit, llmClient)

	var extractor *kgroot.Extractor
	if clusterCfg, err := cfg.GetCluster(cfg.Defaults.Cluster); err == nil {
		proxyClient := cluster.NewClient(clusterCfg.ProxyURL, clusterCfg.ProxyToken())
		extractor = kgroot.NewExtractor(proxyClient, cfg.Limits.MaxOwnerDepth)
	} else {
		slog.Warn("No default cluster configured, root cause analysis runs without live events",
			"cluster", cfg.Defaults.Cluster)
	}

	// 7. Slack notifications (optional, nil service is a no-op)
	notifier := slack.NewService(slack.ServiceConfig{
		Token:        os.Getenv("SLACK_BOT_TOKEN"),
		Channel:      os.Getenv("SLACK_CHANNEL_ID"),
		DashboardURL: os.Getenv("DASHBOARD_URL"),
	})
	if notifier != nil {
		slog.Info("Slack notifications enabled")
	}

	orch := orchestrator.New(orchestrator.Deps{
		Limits:     cfg.Limits,
		Worker:     cfg.Worker,
		Policy:     cfg.Policy,
		Provider:   provider,
		Store:      taskService,
		Log:        eventLog,
		LLM:        llmClient,
		Structured: llmClient,
		Tools:      toolFactory,
		Analyzer:   analyzer,
		Extractor:  extractor,
		Ignore:     cfg.Kubeignore,
		Aborts:     taskAborts,
		Approvals:  approvals,
		Redirects:  redirects,
		Notifier:   notifier,
	})

	// 8. Retention sweep
	retention := cleanup.NewService(cfg.Retention, taskService, sessionService)
	retention.Start(ctx)
	defer retention.Stop()

	// 9. HTTP server
	server := api.NewServer(api.Deps{
		Investigator: orch,
		Tasks:        taskService,
		Sessions:     sessionService,
		Aborts:       chatAborts,
		Approvals:    approvals,
		Redirects:    redirects,
		DB:           dbClient,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("KubeRoot started",
		"max_concurrent_tasks", cfg.Worker.MaxConcurrentTasks,
		"clusters", cfg.ClusterRegistry.Len())

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop the listener first so no new
	// investigations arrive, then let running ones finish.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	orchCtx, orchCancel := context.WithTimeout(ctx, cfg.Worker.GracefulShutdownTimeout)
	defer orchCancel()
	orch.Shutdown(orchCtx)

	slog.Info("Shutdown complete")
}
