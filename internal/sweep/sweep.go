// Package sweep evaluates many independent runs in a worker pool. Every job
// owns its engine and driver; nothing is shared between jobs.
package sweep

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/EHPCL/RTHeter/internal/ctxlog"
	"github.com/EHPCL/RTHeter/internal/deadline"
	"github.com/EHPCL/RTHeter/internal/driver"
	"github.com/EHPCL/RTHeter/internal/engine"
	"github.com/EHPCL/RTHeter/internal/simulator"
	"github.com/EHPCL/RTHeter/internal/state"
	"github.com/EHPCL/RTHeter/internal/taskset"
)

// Job is one (task set, policy, strategy) combination.
type Job struct {
	File     string
	TaskSet  *taskset.TaskSet
	Policy   driver.Policy
	Strategy deadline.Strategy
}

func (j Job) String() string {
	return fmt.Sprintf("%s %s/%s", j.File, j.Policy, j.Strategy)
}

// Config holds sweep configuration.
type Config struct {
	Workers       int // defaults to runtime.NumCPU()
	EnginePath    string
	EngineArgs    []string
	Precision     *int
	HorizonFactor int
	Horizon       int
	Seed          int64 // execution-time variation seed for the in-process simulator
}

// Outcome is the result of one job. Err is set when the job could not run to
// a schedulability verdict.
type Outcome struct {
	Job      Job
	Result   *driver.Result
	Err      error
	Duration time.Duration
}

// Jobs builds the cross product files x policies x strategies, in that
// nesting order.
func Jobs(files []string, sets []*taskset.TaskSet, policies []driver.Policy, strategies []deadline.Strategy) []Job {
	var jobs []Job
	for i, ts := range sets {
		for _, p := range policies {
			for _, s := range strategies {
				jobs = append(jobs, Job{File: files[i], TaskSet: ts, Policy: p, Strategy: s})
			}
		}
	}
	return jobs
}

type jobAndWg struct {
	index int
	wg    *sync.WaitGroup
}

// Run evaluates jobs on a pool of cfg.Workers goroutines and returns their
// outcomes in job order. A failing job never affects another.
func Run(ctx context.Context, cfg Config, jobs []Job) ([]Outcome, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	log := ctxlog.FromContext(ctx)
	outcomes := make([]Outcome, len(jobs))

	pool, err := ants.NewPoolWithFunc(min(cfg.Workers, len(jobs)), func(i interface{}) {
		jw := i.(*jobAndWg)
		defer jw.wg.Done()
		outcomes[jw.index] = runJob(ctx, cfg, jw.index, jobs[jw.index])
	}, ants.WithPreAlloc(true))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	log.Info("sweep started", "jobs", len(jobs), "workers", min(cfg.Workers, len(jobs)))

	var wg sync.WaitGroup
	for i := range jobs {
		wg.Add(1)
		if err := pool.Invoke(&jobAndWg{index: i, wg: &wg}); err != nil {
			wg.Done()
			outcomes[i] = Outcome{Job: jobs[i], Err: fmt.Errorf("submit job: %w", err)}
		}
	}
	wg.Wait()

	log.Info("sweep finished", "jobs", len(jobs))
	return outcomes, nil
}

func runJob(ctx context.Context, cfg Config, index int, job Job) (out Outcome) {
	out.Job = job
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("job %s panicked: %v", job, r)
		}
		out.Duration = time.Since(start)
	}()

	log := ctxlog.FromContext(ctx).With("job", index, "file", job.File)
	ctx = ctxlog.WithLogger(ctx, log)

	eng, err := newEngine(ctx, cfg)
	if err != nil {
		out.Err = err
		return out
	}
	defer eng.Close()

	d, err := driver.New(eng, job.TaskSet, driver.Config{
		Policy:        job.Policy,
		Strategy:      job.Strategy,
		Precision:     cfg.Precision,
		HorizonFactor: cfg.HorizonFactor,
		Horizon:       cfg.Horizon,
	})
	if err != nil {
		out.Err = err
		return out
	}

	out.Result, out.Err = d.Run(ctx)
	if out.Err != nil {
		log.Warn("job failed", "error", out.Err)
	}
	return out
}

func newEngine(ctx context.Context, cfg Config) (engine.Engine, error) {
	if cfg.EnginePath == "" {
		return simulator.New(simulator.WithSeed(cfg.Seed)), nil
	}
	c, err := engine.NewClient(ctx, cfg.EnginePath, cfg.EngineArgs...)
	if err != nil {
		return nil, fmt.Errorf("start engine %s: %w", cfg.EnginePath, err)
	}
	return c, nil
}

// Record converts an outcome into its persisted form.
func (o Outcome) Record(index int) *state.JobResult {
	r := &state.JobResult{
		Index:      index,
		File:       o.Job.File,
		Policy:     o.Job.Policy.String(),
		Strategy:   o.Job.Strategy.String(),
		Outcome:    driver.OutcomeAborted.String(),
		DurationMS: o.Duration.Milliseconds(),
	}
	if o.Job.TaskSet != nil {
		r.TaskSet = o.Job.TaskSet.Name
	}
	if o.Result != nil {
		r.Outcome = o.Result.Outcome.String()
		r.Time = o.Result.Time
		r.Horizon = o.Result.Horizon
		r.Stats = o.Result.Stats
		r.Progress = o.Result.Progress
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return r
}
