// Package runner implements the Phase Runner: the worker-side engine that
// leases a task, selects a pipeline mode, drives provider subprocesses
// phase by phase, and reports completion back to the Gateway.
package runner

import (
	"context"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"ember/internal/async"
	"ember/internal/idgen"
	"ember/internal/logging"
	"ember/internal/provider"
)

// runsRoot is where per-attempt working directories are created, mirroring
// cmd/ember's startup-time runsDir root.
const runsRoot = "./runs"

// classifierCacheSize bounds how many distinct task prompts this process
// remembers a mode-classifier verdict for. Workers are long-lived and
// frequently re-run near-identical prompts (retries, templated tasks);
// memoizing the classifier call avoids paying for a provider round trip
// purely to re-derive the same lean/full decision.
const classifierCacheSize = 256

// Config configures one Runner instance.
type Config struct {
	WorkerID     string
	PollInterval time.Duration
	LeaseTTL     time.Duration
	PhaseTimeout time.Duration
}

// Runner is the worker-side outer loop: lease, heartbeat, drive pipeline,
// complete.
type Runner struct {
	cfg         Config
	client      *GatewayClient
	phase       *PhaseExecutor
	logger      *logging.Logger
	classifierCache *lru.Cache[string, string]
}

func New(cfg Config, client *GatewayClient, adapter provider.Adapter, logger *logging.Logger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	if cfg.PhaseTimeout <= 0 {
		cfg.PhaseTimeout = 10 * time.Minute
	}
	cache, _ := lru.New[string, string](classifierCacheSize)
	return &Runner{
		cfg:    cfg,
		client: client,
		phase: &PhaseExecutor{
			Adapter:      adapter,
			Client:       client,
			Logger:       logger,
			PhaseTimeout: cfg.PhaseTimeout,
		},
		logger:          logger,
		classifierCache: cache,
	}
}

// Loop polls for leased tasks until ctx is cancelled.
func (r *Runner) Loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		leased, err := r.client.Lease(ctx, r.cfg.WorkerID, r.cfg.LeaseTTL)
		if err != nil {
			r.logger.Warn("lease request failed", "error", err)
			sleepOrDone(ctx, r.cfg.PollInterval)
			continue
		}
		if leased == nil {
			sleepOrDone(ctx, r.cfg.PollInterval)
			continue
		}

		r.runOne(ctx, leased)
	}
}

func (r *Runner) runOne(ctx context.Context, leased *LeaseResult) {
	t := leased.Task
	runID := idgen.NewRunID()
	seq := &SequenceCounter{}

	runDir := filepath.Join(runsRoot, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		r.logger.Error("failed to create run directory", "run_id", runID, "error", err)
	}

	heartbeatInterval := r.cfg.LeaseTTL / 3
	if heartbeatInterval < time.Second {
		heartbeatInterval = time.Second
	}
	stopHeartbeat := r.startHeartbeat(ctx, t.ID, heartbeatInterval)
	defer stopHeartbeat()

	result := r.RunPipeline(ctx, t, runID, runDir, leased.AttemptID, seq)

	exitCode := result.ExitCode()
	err := r.client.Complete(ctx, t.ID, CompleteRequest{
		WorkerID:     r.cfg.WorkerID,
		WorkerExit:   exitCode,
		OutputJSON:   result.OutputJSON,
		FinalPhase:   result.FinalPhase,
		Succeeded:    result.Succeeded,
		Blocked:      result.Blocked,
		ErrorMessage: result.ErrorMessage,
	})
	if err != nil {
		r.logger.Error("complete request failed", "task_id", t.ID, "error", err)
	}
}

// ExitCode reports the worker-visible exit code convention: 0 on success,
// 1 otherwise. The Phase Runner doesn't run as a subprocess itself, so this
// is informational bookkeeping carried in output_json's sibling field
// rather than a real process exit.
func (p PipelineResult) ExitCode() *int {
	code := 0
	if !p.Succeeded && !p.Blocked {
		code = 1
	}
	return &code
}

func (r *Runner) startHeartbeat(ctx context.Context, taskID string, interval time.Duration) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	async.Go(r.logger, "heartbeat", func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := r.client.Heartbeat(hbCtx, taskID, r.cfg.WorkerID, r.cfg.LeaseTTL); err != nil {
					r.logger.Warn("heartbeat failed", "task_id", taskID, "error", err)
				}
			}
		}
	})
	return func() {
		cancel()
		<-done
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
