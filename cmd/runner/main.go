// Command runner starts the generation runtime's HTTP server: it
// deserializes a compiled engine plan, binds it to a runner.Server, and
// serves /load, /completion, /embedding, and /health.
//
// Grounded on runner/llamarunner/server.go's Execute: a flag.FlagSet, a
// process-wide slog.Logger, and a blocking server run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/inferencecore/llmrt/config"
	"github.com/inferencecore/llmrt/engine"
	"github.com/inferencecore/llmrt/envconfig"
	"github.com/inferencecore/llmrt/logutil"
	"github.com/inferencecore/llmrt/runner"
)

func main() {
	enginePath := flag.String("engine", "", "path to the compiled engine plan")
	port := flag.Int("port", 9432, "port to listen on")
	parallel := flag.Int("parallel", int(envconfig.NumParallel()), "number of concurrent sequences")
	batchSize := flag.Int("batch-size", 2048, "max tokens per engine launch")
	rank := flag.Int("rank", 0, "tensor/pipeline-parallel rank of this process")
	flag.Parse()

	logger := logutil.NewLogger(os.Stderr, envconfig.LogLevel())
	slog.SetDefault(logger)

	engine.BackendInit()

	srv := runner.NewServer(*parallel, *batchSize, nil, nil)

	if *enginePath != "" {
		plan, err := os.ReadFile(*enginePath)
		if err != nil {
			slog.Error("failed to read engine plan", "path", *enginePath, "err", err)
			os.Exit(1)
		}
		rt, err := engine.Load(plan, *rank)
		if err != nil {
			slog.Error("failed to load engine", "err", err)
			os.Exit(1)
		}
		// Static model shape (vocab size, layer count, head dims, ...)
		// comes from a model-config file alongside the plan; loading that
		// file is out of this module's scope (spec.md §1: no model-weight
		// loading), so callers wire config.Model in themselves in a real
		// deployment. DefaultModel is the placeholder used here.
		srv.SetEngine(rt, config.DefaultModel())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("runner listening", "addr", addr)
	if err := srv.Run(ctx, addr); err != nil {
		slog.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}
