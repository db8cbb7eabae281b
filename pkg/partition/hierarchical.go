package partition

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Hierarchical is the agglomerative strategy: average-linkage merging of
// singleton clusters until k remain. Deterministic regardless of seed.
type Hierarchical struct{}

// NewHierarchical returns the average-linkage agglomerative strategy.
func NewHierarchical() *Hierarchical { return &Hierarchical{} }

func (h *Hierarchical) Name() string { return "hierarchical" }

// Partition merges pairs with the smallest average inter-cluster distance
// until k clusters remain, then labels clusters 0..k-1 in order of their
// lowest member row.
func (h *Hierarchical) Partition(ctx context.Context, data [][]float64, k int, seed int64) ([]int, error) {
	n := len(data)
	if k < 1 || k > n {
		return nil, fmt.Errorf("%w: k=%d over %d genes", ErrBadK, k, n)
	}

	// Pairwise distance matrix; average linkage updates it in place with the
	// Lance-Williams weighting.
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := floats.Distance(data[i], data[j], 2)
			dist[i][j], dist[j][i] = d, d
		}
	}

	alive := make([]bool, n)
	size := make([]int, n)
	members := make([][]int, n)
	for i := range alive {
		alive[i] = true
		size[i] = 1
		members[i] = []int{i}
	}

	for remaining := n; remaining > k; remaining-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Closest alive pair, ties to the lowest indices.
		bi, bj, bd := -1, -1, math.Inf(1)
		for i := 0; i < n; i++ {
			if !alive[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if alive[j] && dist[i][j] < bd {
					bi, bj, bd = i, j, dist[i][j]
				}
			}
		}

		// Merge bj into bi.
		si, sj := float64(size[bi]), float64(size[bj])
		for x := 0; x < n; x++ {
			if !alive[x] || x == bi || x == bj {
				continue
			}
			d := (si*dist[bi][x] + sj*dist[bj][x]) / (si + sj)
			dist[bi][x], dist[x][bi] = d, d
		}
		members[bi] = append(members[bi], members[bj]...)
		size[bi] += size[bj]
		alive[bj] = false
	}

	assign := make([]int, n)
	label := 0
	for i := 0; i < n; i++ {
		if !alive[i] {
			continue
		}
		for _, m := range members[i] {
			assign[m] = label
		}
		label++
	}
	return assign, nil
}
