package pipeline

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/yumyai/cocluster/pkg/consensus"
	"github.com/yumyai/cocluster/pkg/expr"
	"github.com/yumyai/cocluster/pkg/partition"
)

var (
	// ErrNoK indicates an empty cluster-count range.
	ErrNoK = errors.New("pipeline: no cluster counts configured")

	// ErrNoMethod indicates no clustering method configured.
	ErrNoMethod = errors.New("pipeline: no clustering methods configured")

	// ErrNoDatasets indicates the pipeline was given nothing to cluster.
	ErrNoDatasets = errors.New("pipeline: no datasets")
)

// Config is the immutable run-wide configuration, threaded explicitly
// through every stage.
type Config struct {
	// Ks is the cluster-count range tried per dataset and method.
	Ks []int
	// Methods names the base clustering strategies ("kmeans", "hierarchical").
	Methods []string

	// Consensus holds the restrictive/relaxed thresholds and combine mode.
	Consensus consensus.Params

	// SeparationThreshold gates the pairwise M-N scatter test.
	SeparationThreshold float64
	// CompletionThreshold gates completion assignments.
	CompletionThreshold float64
	// MergeCutoff is the membership overlap at which clusters merge, both in
	// conflict resolution and final deduplication.
	MergeCutoff float64

	// Overlapping lets completion assign a gene to several clusters.
	Overlapping bool

	// Seed drives every stochastic strategy; fixed seed, fixed output.
	Seed int64
	// Workers bounds parallel partition runs and pairwise comparisons.
	// Zero means GOMAXPROCS.
	Workers int
	// MaxRetries bounds re-runs of a non-converged base partition before it
	// is dropped with a warning.
	MaxRetries int
}

// DefaultConfig mirrors the usual consensus-clustering settings.
func DefaultConfig() Config {
	return Config{
		Ks:                  []int{4, 8, 12},
		Methods:             []string{"kmeans", "hierarchical"},
		Consensus:           consensus.Params{R: 0.8, L: 0.5, Mode: consensus.Intersection},
		SeparationThreshold: 0.25,
		CompletionThreshold: 0.7,
		MergeCutoff:         0.8,
		Seed:                1,
		MaxRetries:          2,
	}
}

// Validate rejects every configuration-level invariant violation up front,
// so the run never aborts from inside a stage.
func (c Config) Validate(datasets []*expr.Dataset) error {
	if len(c.Ks) == 0 {
		return ErrNoK
	}
	if len(c.Methods) == 0 {
		return ErrNoMethod
	}
	if len(datasets) == 0 {
		return ErrNoDatasets
	}
	for _, m := range c.Methods {
		if _, err := partition.ForName(m); err != nil {
			return err
		}
	}
	for _, d := range datasets {
		if d.NumGenes() == 0 || len(d.Samples) == 0 {
			return fmt.Errorf("%w: %s", expr.ErrEmptyDataset, d.ID)
		}
		for _, k := range c.Ks {
			if k < 1 || k > d.NumGenes() {
				return fmt.Errorf("%w: k=%d over %d genes (dataset %s)", partition.ErrBadK, k, d.NumGenes(), d.ID)
			}
		}
	}
	if err := c.Consensus.Validate(); err != nil {
		return err
	}
	if c.SeparationThreshold < 0 || c.SeparationThreshold > 1 {
		return fmt.Errorf("pipeline: separation threshold %g outside [0,1]", c.SeparationThreshold)
	}
	if c.CompletionThreshold < 0 || c.CompletionThreshold > 1 {
		return fmt.Errorf("pipeline: completion threshold %g outside [0,1]", c.CompletionThreshold)
	}
	if c.MergeCutoff < 0 || c.MergeCutoff > 1 {
		return fmt.Errorf("pipeline: merge cutoff %g outside [0,1]", c.MergeCutoff)
	}
	return nil
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}
