package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/config"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/engine"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/jobs"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/llmclient"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/lock"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/mirror"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/tracing"
)

func runRunCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		jobRef     string
		queueJobID string
		jsonOutput bool
	)
	cmd.StringVar(&jobRef, "job", "", "Job ref under jobs/ (REQUIRED), e.g. jobs/release-001.yaml")
	cmd.StringVar(&queueJobID, "queue-job-id", "", "Queue-system job id, recorded but non-deterministic")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if jobRef == "" {
		fmt.Fprintln(stderr, "Error: --job is required")
		cmd.Usage()
		return 2
	}
	if queueJobID == "" {
		queueJobID = uuid.NewString()
	}

	cfg := config.Load()
	ctx := context.Background()

	var provider *tracing.Provider
	if cfg.OtelEndpoint != "" {
		p, perr := tracing.NewProvider(ctx, tracing.DefaultProviderConfig(cfg.OtelEndpoint))
		if perr != nil {
			fmt.Fprintf(stderr, "warning: tracing init failed, continuing without export: %v\n", perr)
		} else {
			provider = p
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = provider.Shutdown(shutdownCtx)
			}()
		}
	}

	eng := buildEngine(cfg)

	var recordRun func(jobType, status string, failed bool)
	if provider != nil {
		recordRun = provider.RunStarted(ctx)
	}

	result, err := eng.Run(ctx, jobRef, queueJobID)
	if recordRun != nil {
		jobType, status := "", "error"
		if result != nil {
			jobType, status = result.JobType, string(result.Status)
		}
		recordRun(jobType, status, err != nil)
	}
	if err != nil {
		if jsonOutput {
			out, _ := json.MarshalIndent(map[string]any{"error": err.Error()}, "", "  ")
			fmt.Fprintln(stdout, string(out))
		} else {
			fmt.Fprintf(stderr, "run failed: %v\n", err)
		}
		return 1
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(map[string]any{
			"run_id":            result.RunID,
			"job_id":            result.JobID,
			"artifact_dir":      result.ArtifactDir,
			"status":            result.Status,
			"idempotent_replay": result.IdempotentReplay,
		}, "", "  ")
		fmt.Fprintln(stdout, string(out))
	} else {
		fmt.Fprintf(stdout, "run_id:      %s\n", result.RunID)
		fmt.Fprintf(stdout, "job_id:      %s\n", result.JobID)
		fmt.Fprintf(stdout, "status:      %s\n", result.Status)
		fmt.Fprintf(stdout, "artifact:    %s\n", result.ArtifactDir)
		if result.IdempotentReplay {
			fmt.Fprintln(stdout, "replay:      idempotent (no new work performed)")
		}
	}

	if result.Status != "succeeded" {
		return 1
	}
	return 0
}

// buildEngine wires the engine with the registry, locker, tracer, and
// mirror implied by cfg.
func buildEngine(cfg *config.Config) *engine.Engine {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevelFromString(cfg.LogLevel),
	}))

	gen := llmclient.New(llmclient.NewOpenAIGeneratorFromEnv())
	registry := jobs.NewRegistry(gen, cfg.DoctrineRoot)

	eng := engine.New(cfg.RepoRoot, registry, logger)

	if cfg.LockRedisAddr != "" {
		eng.Locker = lock.NewRedisLocker(cfg.LockRedisAddr)
	}

	if cfg.OtelEndpoint != "" {
		eng.Tracer = &sinkTracer{sink: tracing.NewOTel("sigilzero")}
	} else {
		eng.Tracer = &sinkTracer{sink: tracing.NoOp{}}
	}

	if m, err := mirror.NewFromEnv(context.Background(), cfg.RepoRoot); err != nil {
		logger.Error("mirror init failed, continuing without mirror", "error", err)
	} else if m != nil {
		eng.Mirror = m
	}

	return eng
}

func logLevelFromString(level string) slog.Level {
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
