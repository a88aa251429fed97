package scenario

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/epiforge/cascade/internal/engine"
	"github.com/epiforge/cascade/internal/framework"
	"github.com/epiforge/cascade/internal/parset"
	"github.com/epiforge/cascade/internal/progset"
	"github.com/epiforge/cascade/internal/results"
)

// Job is one independent simulation in a batch: an optional parameter
// scenario over the baseline and an optional program layer.
type Job struct {
	Name         string
	Parameters   *ParameterScenario
	Programs     *progset.ProgramSet
	Instructions *progset.Instructions
}

// RunBatch executes the jobs concurrently against a shared baseline,
// at most limit at a time, and collects results by job name. The first
// failure cancels the remaining jobs.
func RunBatch(ctx context.Context, f *framework.Framework, baseline *parset.ParameterSet, jobs []Job, opts engine.Options, limit int) (map[string]*results.Result, error) {
	if limit <= 0 {
		limit = 1
	}
	seen := map[string]struct{}{}
	for _, job := range jobs {
		if _, dup := seen[job.Name]; dup {
			return nil, fmt.Errorf("scenario: duplicate job name %q", job.Name)
		}
		seen[job.Name] = struct{}{}
	}

	var (
		mu  sync.Mutex
		out = make(map[string]*results.Result, len(jobs))
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, job := range jobs {
		g.Go(func() error {
			ps := baseline
			if job.Parameters != nil {
				applied, err := job.Parameters.Apply(baseline)
				if err != nil {
					return err
				}
				ps = applied
			}
			jobOpts := opts
			jobOpts.Name = job.Name
			jobOpts.Programs = job.Programs
			jobOpts.Instructions = job.Instructions
			res, err := engine.Run(ctx, f, ps, jobOpts)
			if err != nil {
				return fmt.Errorf("scenario %q: %w", job.Name, err)
			}
			mu.Lock()
			out[job.Name] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
