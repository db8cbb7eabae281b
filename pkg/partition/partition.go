// Package partition runs the pluggable base-clustering strategies and turns
// their hard partitions into binary membership matrices.
package partition

import (
	"context"
	"errors"
	"fmt"
)

const Unassigned = -1

var (
	// ErrBadK indicates a cluster count below 1 or above the gene count.
	ErrBadK = errors.New("partition: cluster count out of range")

	// ErrNoConverge indicates a strategy exhausted its internal retries.
	ErrNoConverge = errors.New("partition: clustering did not converge")

	// ErrUnknownMethod indicates an unrecognised strategy name.
	ErrUnknownMethod = errors.New("partition: unknown clustering method")
)

// Strategy is the base-partitioner contract: cluster the rows of data into k
// groups, returning one cluster index in [0,k) (or Unassigned) per row.
// Implementations must be deterministic for a fixed seed and safe for
// concurrent calls.
type Strategy interface {
	Name() string
	Partition(ctx context.Context, data [][]float64, k int, seed int64) ([]int, error)
}

// ForName returns the strategy registered under name.
func ForName(name string) (Strategy, error) {
	switch name {
	case "kmeans":
		return NewKMeans(), nil
	case "hierarchical":
		return NewHierarchical(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, name)
	}
}

// Spec identifies one clustering run.
type Spec struct {
	DatasetID string
	Method    string
	K         int
	Seed      int64
}

func (s Spec) String() string {
	return fmt.Sprintf("%s/%s/k=%d/seed=%d", s.DatasetID, s.Method, s.K, s.Seed)
}

// BasePartition is the immutable output of one clustering run. Assign is
// aligned to the dataset's covered genes, entries in [0,K) or Unassigned.
type BasePartition struct {
	Spec   Spec
	Assign []int
}

// NewBasePartition validates an assignment vector against its spec.
func NewBasePartition(spec Spec, assign []int) (*BasePartition, error) {
	if spec.K < 1 || spec.K > len(assign) {
		return nil, fmt.Errorf("%w: k=%d over %d genes", ErrBadK, spec.K, len(assign))
	}
	for i, c := range assign {
		if c != Unassigned && (c < 0 || c >= spec.K) {
			return nil, fmt.Errorf("partition: %s: gene %d assigned cluster %d outside [0,%d)", spec, i, c, spec.K)
		}
	}
	return &BasePartition{Spec: spec, Assign: assign}, nil
}
