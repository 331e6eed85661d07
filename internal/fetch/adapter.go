// Package fetch runs external comparator lookups for a document. Each target
// is an Adapter; the Runner fans out over targets concurrently, bounds every
// call with a timeout and a small fixed-interval retry budget, and captures
// per-target failures instead of failing the whole job.
package fetch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"docrecon-backend/internal/pipeline"
)

// Adapter fetches comparator data from one external target.
type Adapter interface {
	Fetch(ctx context.Context, doc pipeline.DocumentView) (map[string]any, error)
}

// Options bounds collaborator calls.
type Options struct {
	Timeout    time.Duration // per attempt
	Attempts   int           // total attempts per target
	RetryDelay time.Duration // fixed interval between attempts
}

// DefaultOptions mirrors the service defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:    20 * time.Second,
		Attempts:   3,
		RetryDelay: time.Second,
	}
}

// Runner executes fetch targets. It satisfies pipeline.Fetcher.
type Runner struct {
	adapters map[string]Adapter
	opts     Options
}

// NewRunner constructs a Runner over the given adapters.
func NewRunner(opts Options, adapters map[string]Adapter) *Runner {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	return &Runner{adapters: adapters, opts: opts}
}

// Run fetches all targets concurrently. The result always has one entry per
// requested target; a failing target carries its error payload rather than
// aborting the others.
func (r *Runner) Run(ctx context.Context, targets []string, doc pipeline.DocumentView) map[string]pipeline.TargetResponse {
	responses := make([]pipeline.TargetResponse, len(targets))

	var g errgroup.Group
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			responses[i] = r.runTarget(ctx, target, doc)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]pipeline.TargetResponse, len(targets))
	for i, target := range targets {
		out[target] = responses[i]
	}
	return out
}

func (r *Runner) runTarget(ctx context.Context, target string, doc pipeline.DocumentView) pipeline.TargetResponse {
	adapter, ok := r.adapters[target]
	if !ok {
		return pipeline.TargetResponse{Success: false, Error: fmt.Sprintf("unknown target %q", target)}
	}

	var lastErr error
	for attempt := 1; attempt <= r.opts.Attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		payload, err := adapter.Fetch(attemptCtx, doc)
		cancel()
		if err == nil {
			return pipeline.TargetResponse{Payload: payload, Success: true}
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < r.opts.Attempts {
			select {
			case <-time.After(r.opts.RetryDelay):
			case <-ctx.Done():
				return pipeline.TargetResponse{Success: false, Error: ctx.Err().Error()}
			}
		}
	}
	return pipeline.TargetResponse{Success: false, Error: lastErr.Error()}
}
