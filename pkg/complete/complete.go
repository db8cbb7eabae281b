// Package complete assigns genes left out of every validated seed cluster to
// a best-fit cluster when the relaxed consensus evidence supports it, then
// deduplicates near-identical final clusters.
package complete

import (
	"errors"
	"fmt"
	"sort"

	"github.com/yumyai/cocluster/internal/util"
	"github.com/yumyai/cocluster/logger"
	"github.com/yumyai/cocluster/pkg/consensus"
	"github.com/yumyai/cocluster/pkg/evaluate"
	"github.com/yumyai/cocluster/pkg/expr"
	"go.uber.org/zap"
)

// ErrBadCompletion indicates a completion threshold outside [0,1].
var ErrBadCompletion = errors.New("complete: completion threshold must be in [0,1]")

// FinalCluster is a validated, completed cluster: its genes split by
// provenance into seed members and completion-assigned members.
type FinalCluster struct {
	ID        int
	Genes     []int
	Seeded    []int
	Completed []int
	Tightness float64
	Sources   []consensus.Source
}

// Size returns the number of member genes.
func (f *FinalCluster) Size() int { return len(f.Genes) }

// Completer fills out validated clusters with leftover genes.
type Completer struct {
	// Threshold is the minimum profile similarity for an assignment.
	Threshold float64
	// MergeCutoff is the membership Jaccard at or above which two final
	// clusters collapse into one during deduplication.
	MergeCutoff float64
	// Overlapping admits a gene into every cluster passing the threshold
	// instead of only the best one.
	Overlapping bool
}

// Complete assigns every gene outside the valid clusters, then runs the
// final deduplication pass. Genes already seeded are never reassigned.
func (c *Completer) Complete(datasets []*expr.Dataset, universeSize int, clusters []consensus.SeedCluster) ([]FinalCluster, error) {
	if c.Threshold < 0 || c.Threshold > 1 {
		return nil, fmt.Errorf("%w: %g", ErrBadCompletion, c.Threshold)
	}

	finals := make([]FinalCluster, len(clusters))
	profiles := make([]*evaluate.Profile, len(clusters))
	seeded := make([]bool, universeSize)
	for i := range clusters {
		finals[i] = FinalCluster{
			ID:      clusters[i].ID,
			Genes:   append([]int(nil), clusters[i].Genes...),
			Seeded:  append([]int(nil), clusters[i].Genes...),
			Sources: clusters[i].Sources,
		}
		profiles[i] = evaluate.MeanProfile(datasets, clusters[i].Genes)
		for _, g := range clusters[i].Genes {
			seeded[g] = true
		}
	}

	assigned := 0
	for g := 0; g < universeSize; g++ {
		if seeded[g] {
			continue
		}

		// Candidates need relaxed evidence in at least one dataset; ranking
		// is by similarity to the cluster mean profile, ties to the lowest
		// cluster id (the iteration order).
		bestID, bestScore := -1, 0.0
		for i := range clusters {
			if !clusters[i].RelaxedSupports(g) {
				continue
			}
			score, ok := profiles[i].Similarity(datasets, g)
			if !ok || score < c.Threshold {
				continue
			}
			if c.Overlapping {
				finals[i].Genes = util.UnionSorted(finals[i].Genes, []int{g})
				finals[i].Completed = append(finals[i].Completed, g)
				assigned++
				continue
			}
			if score > bestScore {
				bestID, bestScore = i, score
			}
		}
		if !c.Overlapping && bestID >= 0 {
			finals[bestID].Genes = util.UnionSorted(finals[bestID].Genes, []int{g})
			finals[bestID].Completed = append(finals[bestID].Completed, g)
			assigned++
		}
	}

	finals = c.dedup(finals)

	for i := range finals {
		sort.Ints(finals[i].Completed)
		finals[i].Tightness = evaluate.Tightness(datasets, finals[i].Genes, evaluate.MeanProfile(datasets, finals[i].Genes))
		finals[i].ID = i
	}

	if assigned == 0 && len(clusters) > 0 {
		logger.Warn("Completion assigned no genes", zap.Float64("threshold", c.Threshold))
	}
	return finals, nil
}

// dedup merges final clusters whose gene sets overlap at or beyond the merge
// cutoff, lowest ids first, repeating until stable.
func (c *Completer) dedup(finals []FinalCluster) []FinalCluster {
	if c.MergeCutoff <= 0 || c.MergeCutoff > 1 {
		return finals
	}
	for {
		mergedAny := false
		for i := 0; i < len(finals) && !mergedAny; i++ {
			for j := i + 1; j < len(finals); j++ {
				if util.Jaccard(finals[i].Genes, finals[j].Genes) < c.MergeCutoff {
					continue
				}
				finals[i].Genes = util.UnionSorted(finals[i].Genes, finals[j].Genes)
				finals[i].Seeded = util.UnionSorted(finals[i].Seeded, finals[j].Seeded)
				finals[i].Completed = util.UnionSorted(finals[i].Completed, finals[j].Completed)
				finals[i].Sources = append(finals[i].Sources, finals[j].Sources...)
				finals = append(finals[:j], finals[j+1:]...)
				mergedAny = true
				break
			}
		}
		if !mergedAny {
			return finals
		}
	}
}
