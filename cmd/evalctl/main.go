// evalctl runs an agentic-LLM evaluation experiment: discovering tasks from
// a catalog, scheduling (task, model, run) triples across a bounded worker
// pool, and aggregating the resulting artefacts into a k-run summary (spec
// §6.7). Flag handling follows the teacher's cmd/tarsy/main.go: stdlib flag,
// a getEnv fallback helper, and .env loading via godotenv.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/evalharness/pkg/agent/llm"
	"github.com/codeready-toolchain/evalharness/pkg/aggregator"
	"github.com/codeready-toolchain/evalharness/pkg/api"
	"github.com/codeready-toolchain/evalharness/pkg/catalog"
	"github.com/codeready-toolchain/evalharness/pkg/config"
	"github.com/codeready-toolchain/evalharness/pkg/pipeline"
	"github.com/codeready-toolchain/evalharness/pkg/queue"
	"github.com/codeready-toolchain/evalharness/pkg/state"
	"github.com/codeready-toolchain/evalharness/pkg/state/browserstate"
	"github.com/codeready-toolchain/evalharness/pkg/state/filesystemstate"
	"github.com/codeready-toolchain/evalharness/pkg/state/githubstate"
	"github.com/codeready-toolchain/evalharness/pkg/state/notionstate"
	"github.com/codeready-toolchain/evalharness/pkg/state/postgresstate"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	service := flag.String("service", "", "Service filter, e.g. \"github\" or \"all\" for all (spec §4.2.2)")
	model := flag.String("model", "", "Comma-separated list of models to evaluate")
	tasksExpr := flag.String("tasks", "all","Task filter expression (spec §4.2.2), repeatable via commas")
	runs := flag.Int("runs", 1, "Number of repeated runs per (task, model) pair (k)")
	maxWorkers := flag.Int("max-workers", 0, "Override the worker pool's global concurrency cap (0 = config default)")
	timeoutSeconds := flag.Int("timeout", 0, "Override the per-run wall deadline in seconds (0 = config default)")
	output := flag.String("output", "", "Results root directory (empty = config default)")
	experiment := flag.String("experiment", "", "Experiment name; defaults to a timestamp-free run of the service/model filter")
	statusAddr := flag.String("status-addr", "", "If set, serve /healthz and /status on this address while running")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v (continuing with existing environment)", envPath, err)
	}

	ctx := context.Background()

	cliOverrides := map[string]map[string]string{}
	cfg, err := config.Initialize(ctx, *configDir, cliOverrides)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	if *maxWorkers > 0 {
		cfg.Queue.MaxWorkers = *maxWorkers
	}
	if *output != "" {
		cfg.ResultsRoot = *output
	}
	if *timeoutSeconds > 0 {
		cfg.Defaults.AgentLimits.WallDeadline = time.Duration(*timeoutSeconds) * time.Second
	}

	stats := cfg.Stats()
	log.Printf("evalctl: loaded config from %s (%d services, %d tool servers)", cfg.ConfigDir(), stats.Services, stats.MCPServers)

	expr := strings.TrimSpace(*service)
	if expr == "" {
		expr = "all"
	}
	exprs := strings.Split(*tasksExpr, ",")

	tasks, err := catalog.Discover(cfg.CatalogRoot)
	if err != nil {
		log.Fatalf("failed to discover catalog: %v", err)
	}
	tasks = catalog.FilterAll(tasks, exprs)
	if expr != "all" {
		// narrow the task selection to the --service filter
		tasks = catalog.Filter(tasks, expr)
	}
	if len(tasks) == 0 {
		log.Fatalf("no tasks matched filter %q", strings.Join(exprs, ","))
	}

	models := splitAndTrim(*model)
	if len(models) == 0 {
		log.Fatalf("--model is required (comma-separated list)")
	}

	if *runs < 1 {
		*runs = 1
	}

	experimentName := *experiment
	if experimentName == "" {
		experimentName = fmt.Sprintf("%s-%s", expr, strings.Join(models, "+"))
	}

	registry := buildStateRegistry(cfg)
	creds := providerCredentials()

	p := pipeline.New(cfg, registry, creds, experimentName)
	pool := queue.NewWorkerPool(p, cfg.Queue, queue.ServiceCaps(cfg))

	if *statusAddr != "" {
		srv := api.NewServer(cfg, pool)
		go func() {
			if err := srv.ListenAndServe(*statusAddr); err != nil {
				slog.Warn("evalctl: status server exited", "error", err)
			}
		}()
	}

	var requests []queue.RunRequest
	for _, task := range tasks {
		for _, m := range models {
			for run := 1; run <= *runs; run++ {
				requests = append(requests, queue.RunRequest{Task: task, Model: m, RunIndex: run})
			}
		}
	}

	log.Printf("evalctl: scheduling %d runs (%d tasks x %d models x %d repeats) under experiment %q",
		len(requests), len(tasks), len(models), *runs, experimentName)

	outcomes := pool.Run(ctx, requests)
	pool.Stop()

	var faults int
	for _, o := range outcomes {
		if o.Err != nil {
			faults++
			log.Printf("evalctl: orchestrator fault running %s/%s run %d: %v",
				o.Request.Task.Path(), o.Request.Model, o.Request.RunIndex, o.Err)
		}
	}

	summary, err := aggregator.Aggregate(cfg.ResultsRoot, experimentName, *runs)
	if err != nil {
		log.Fatalf("failed to aggregate results: %v", err)
	}
	if err := aggregator.WriteSummary(cfg.ResultsRoot, experimentName, summary); err != nil {
		log.Fatalf("failed to write summary: %v", err)
	}

	log.Printf("evalctl: done. overall pass@1=%.4f pass@k=%.4f pass^k=%.4f avg@k=%.4f (%d unique tasks)",
		summary.OverallMetrics.PassAt1, summary.OverallMetrics.PassAtK, summary.OverallMetrics.PassPowK,
		summary.OverallMetrics.AvgAtK, summary.TotalUniqueTasks)

	// Exit code 0 iff every scheduled run's pipeline terminated, irrespective
	// of pass/fail; non-zero is reserved for orchestrator-internal faults
	// (spec §6.7/§7).
	if faults > 0 {
		os.Exit(1)
	}
}

// buildStateRegistry constructs the five concrete state.Manager
// implementations and registers each under its service name (spec §5).
func buildStateRegistry(cfg *config.Config) *state.Registry {
	registry := state.NewRegistry()

	if svc, err := cfg.GetService("notion"); err == nil {
		registry.Register("notion", notionstate.New(svc))
	}
	if svc, err := cfg.GetService("github"); err == nil {
		registry.Register("github", githubstate.New(svc))
	}
	if svc, err := cfg.GetService("filesystem"); err == nil {
		registry.Register("filesystem", filesystemstate.New(svc))
	}
	if svc, err := cfg.GetService("postgres"); err == nil {
		registry.Register("postgres", postgresstate.New(svc))
	}
	if svc, err := cfg.GetService("browser"); err == nil {
		registry.Register("browser", browserstate.New(svc))
	}
	return registry
}

// providerCredentials reads model-backend API keys from the process
// environment (spec §6.3); these are process-wide, not per-service, since
// the harness always runs a single set of model credentials per invocation.
func providerCredentials() llm.ProviderCredentials {
	return llm.ProviderCredentials{
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
	}
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
