// Package pipeline wires the five consensus-clustering stages together:
// base partitioning, binarization, consensus aggregation, pairwise
// validation and completion.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yumyai/cocluster/logger"
	"github.com/yumyai/cocluster/pkg/complete"
	"github.com/yumyai/cocluster/pkg/consensus"
	"github.com/yumyai/cocluster/pkg/evaluate"
	"github.com/yumyai/cocluster/pkg/expr"
	"github.com/yumyai/cocluster/pkg/partition"
	"go.uber.org/zap"
)

// Result is the structured output of one run. It is always produced when
// the configuration was valid, even when no consensus was found.
type Result struct {
	RunID string

	// Clusters are the final validated, completed clusters.
	Clusters []complete.FinalCluster
	// Assignments maps gene id to the final cluster ids holding it. Genes
	// assigned nowhere are absent.
	Assignments map[string][]int
	// Records carries the per-seed validity outcomes of the scatter test.
	Records []evaluate.ValidityRecord
	// Warnings lists the recoverable conditions hit during the run.
	Warnings []string
}

// Runner executes the pipeline for one configuration.
type Runner struct {
	cfg Config
	obs Observer
}

// NewRunner pairs a configuration with a progress observer; a nil observer
// disables progress reporting.
func NewRunner(cfg Config, obs Observer) *Runner {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Runner{cfg: cfg, obs: obs}
}

// Run executes all five stages. Configuration invariant violations fail
// immediately; numeric trouble inside a stage degrades to warnings.
func (r *Runner) Run(ctx context.Context, u *expr.Universe, datasets []*expr.Dataset) (*Result, error) {
	if err := r.cfg.Validate(datasets); err != nil {
		return nil, err
	}

	res := &Result{
		RunID:       uuid.New().String(),
		Assignments: make(map[string][]int),
	}

	// Stage 1+2: base partitions, binarized as they land.
	r.obs.Stage("partition")
	byDataset, warnings, err := r.runPartitions(ctx, u, datasets)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings, warnings...)
	if len(byDataset) == 0 {
		res.Warnings = append(res.Warnings, "all base partitions failed; nothing to aggregate")
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 3: consensus aggregation (barrier: needs every mask).
	r.obs.Stage("consensus")
	seeds, err := consensus.Aggregate(byDataset, r.cfg.Consensus)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		res.Warnings = append(res.Warnings, "no consensus found")
		return res, nil
	}
	logger.Info("Consensus seeds formed", zap.Int("count", len(seeds)))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 4: pairwise validation.
	r.obs.Stage("evaluate")
	ev := &evaluate.Evaluator{
		SeparationThreshold: r.cfg.SeparationThreshold,
		MergeCutoff:         r.cfg.MergeCutoff,
		Workers:             r.cfg.workers(),
		OnPair:              r.obs.PairDone,
	}
	valid, records, err := ev.Evaluate(ctx, datasets, seeds)
	if err != nil {
		return nil, err
	}
	res.Records = records
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 5: completion and deduplication.
	r.obs.Stage("complete")
	cp := &complete.Completer{
		Threshold:   r.cfg.CompletionThreshold,
		MergeCutoff: r.cfg.MergeCutoff,
		Overlapping: r.cfg.Overlapping,
	}
	finals, err := cp.Complete(datasets, u.Size(), valid)
	if err != nil {
		return nil, err
	}
	res.Clusters = finals

	for i := range finals {
		for _, g := range finals[i].Genes {
			id := u.ID(g)
			res.Assignments[id] = append(res.Assignments[id], finals[i].ID)
		}
	}
	if len(res.Assignments) == 0 {
		res.Warnings = append(res.Warnings, "all genes unassigned after completion")
	}

	logger.Info("Pipeline finished",
		zap.String("run", res.RunID),
		zap.Int("clusters", len(finals)),
		zap.Int("genes_assigned", len(res.Assignments)))
	return res, nil
}

// runPartitions fans every (dataset, method, k) run out over the worker
// pool, binarizes each result, and groups the matrices by dataset. A run
// that keeps failing after the retry budget is dropped with a warning.
func (r *Runner) runPartitions(ctx context.Context, u *expr.Universe, datasets []*expr.Dataset) (map[string][]*partition.BinaryMembership, []string, error) {
	type job struct {
		dataset *expr.Dataset
		spec    partition.Spec
	}
	var jobs []job
	for _, d := range datasets {
		for _, method := range r.cfg.Methods {
			for i, k := range r.cfg.Ks {
				jobs = append(jobs, job{
					dataset: d,
					spec: partition.Spec{
						DatasetID: d.ID,
						Method:    method,
						K:         k,
						// Distinct deterministic seed per run.
						Seed: r.cfg.Seed + int64(i)*1009 + int64(k),
					},
				})
			}
		}
	}

	var (
		mu       sync.Mutex
		done     int
		mats     []*partition.BinaryMembership
		warnings []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.workers())
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			m, err := r.runOne(gctx, u, j.dataset, j.spec)

			mu.Lock()
			defer mu.Unlock()
			done++
			r.obs.PartitionDone(done, len(jobs))
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				warnings = append(warnings, fmt.Sprintf("partition %s failed: %v", j.spec, err))
				logger.Warn("Base partition failed, excluded from aggregation",
					zap.String("spec", j.spec.String()), zap.Error(err))
				return nil
			}
			mats = append(mats, m)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	sort.Strings(warnings)
	byDataset := make(map[string][]*partition.BinaryMembership)
	for _, m := range mats {
		byDataset[m.Spec.DatasetID] = append(byDataset[m.Spec.DatasetID], m)
	}
	return byDataset, warnings, nil
}

// runOne runs a single clustering job with the bounded retry budget.
func (r *Runner) runOne(ctx context.Context, u *expr.Universe, d *expr.Dataset, spec partition.Spec) (*partition.BinaryMembership, error) {
	strat, err := partition.ForName(spec.Method)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		assign, err := strat.Partition(ctx, d.Rows, spec.K, spec.Seed+int64(attempt))
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}
		bp, err := partition.NewBasePartition(spec, assign)
		if err != nil {
			return nil, err
		}
		return partition.Binarize(bp, d.GeneIdx, u.Size())
	}
	return nil, lastErr
}
