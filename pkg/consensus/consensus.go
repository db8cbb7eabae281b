// Package consensus implements the Bi-CoPaM aggregation core: it aligns the
// clusters of many base partitions, applies the restrictive and relaxed
// consensus thresholds per dataset, and combines datasets into seed clusters.
package consensus

import (
	"errors"
	"fmt"

	"github.com/yumyai/cocluster/internal/util"
	"github.com/yumyai/cocluster/pkg/partition"
)

var (
	// ErrBadThreshold indicates R or L outside [0,1] or L > R.
	ErrBadThreshold = errors.New("consensus: thresholds must satisfy 0 <= L <= R <= 1")

	// ErrNoPartitions indicates aggregation was asked to run with no input.
	ErrNoPartitions = errors.New("consensus: no binary membership matrices")
)

// Mode selects how per-dataset restrictive memberships combine into a seed.
type Mode int

const (
	// Intersection requires restrictive membership in every dataset (AND).
	Intersection Mode = iota
	// Union requires restrictive membership in at least one dataset (OR).
	Union
)

func (m Mode) String() string {
	if m == Union {
		return "union"
	}
	return "intersection"
}

// ParseMode reads a combination-mode flag value.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "intersection", "and", "":
		return Intersection, nil
	case "union", "or":
		return Union, nil
	default:
		return Intersection, fmt.Errorf("consensus: unknown combination mode %q", s)
	}
}

// Params is the immutable consensus configuration: the restrictive threshold
// R, the relaxed threshold L and the cross-dataset combination mode.
type Params struct {
	R    float64
	L    float64
	Mode Mode
}

// Validate enforces 0 <= L <= R <= 1.
func (p Params) Validate() error {
	if p.R < 0 || p.R > 1 || p.L < 0 || p.L > 1 || p.L > p.R {
		return fmt.Errorf("%w: R=%g L=%g", ErrBadThreshold, p.R, p.L)
	}
	return nil
}

// support is the minimum number of supporting partitions out of total that a
// consensus threshold requires. Never below one: a gene with zero support is
// never a member, whatever the threshold.
func support(threshold float64, total int) int {
	need := int(ceilMul(threshold, total))
	if need < 1 {
		need = 1
	}
	return need
}

func ceilMul(t float64, n int) float64 {
	v := t * float64(n)
	if v == float64(int(v)) {
		return v
	}
	return float64(int(v) + 1)
}

// Source records which partitions of one dataset backed a seed cluster, and
// which consensus candidate column they were matched into.
type Source struct {
	DatasetID  string
	Candidate  int
	Partitions []partition.Spec
}

// SeedCluster is one consensus cluster: ascending universe gene indices,
// per-dataset provenance, and the relaxed-threshold evidence kept for the
// completion stage.
type SeedCluster struct {
	ID      int
	Genes   []int
	Sources []Source
	// Relaxed maps dataset id to the ascending gene indices inside that
	// dataset's relaxed mask for this cluster.
	Relaxed map[string][]int
}

// Contains reports membership of a universe gene index.
func (s *SeedCluster) Contains(gene int) bool {
	for _, g := range s.Genes {
		if g == gene {
			return true
		}
		if g > gene {
			return false
		}
	}
	return false
}

// RelaxedSupports reports whether any dataset's relaxed mask admits gene.
func (s *SeedCluster) RelaxedSupports(gene int) bool {
	for _, genes := range s.Relaxed {
		if contains(genes, gene) {
			return true
		}
	}
	return false
}

func contains(sorted []int, g int) bool {
	lo, hi := 0, len(sorted)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case sorted[mid] == g:
			return true
		case sorted[mid] < g:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return false
}

// mergeInto folds other's provenance and relaxed evidence into s.
func (s *SeedCluster) mergeInto(other *SeedCluster) {
	s.Sources = append(s.Sources, other.Sources...)
	if s.Relaxed == nil {
		s.Relaxed = make(map[string][]int)
	}
	for id, genes := range other.Relaxed {
		s.Relaxed[id] = util.UnionSorted(s.Relaxed[id], genes)
	}
}
