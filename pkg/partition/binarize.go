package partition

import (
	"fmt"
)

// BinaryMembership is the 0/1 genes-by-clusters matrix derived from one base
// partition. Rows are aligned to the full gene universe; genes the dataset
// does not cover, and unassigned genes, have all-zero rows.
type BinaryMembership struct {
	Spec Spec
	K    int
	Rows [][]uint8

	cols [][]int
}

// Binarize expands a base partition into a universe-aligned membership
// matrix. geneIdx maps partition rows to universe indices and must match the
// assignment vector in length; a mismatch is a programming error.
func Binarize(p *BasePartition, geneIdx []int, universeSize int) (*BinaryMembership, error) {
	if len(geneIdx) != len(p.Assign) {
		return nil, fmt.Errorf("partition: %s: %d assignments for %d genes", p.Spec, len(p.Assign), len(geneIdx))
	}

	m := &BinaryMembership{
		Spec: p.Spec,
		K:    p.Spec.K,
		Rows: make([][]uint8, universeSize),
		cols: make([][]int, p.Spec.K),
	}
	for g := range m.Rows {
		m.Rows[g] = make([]uint8, p.Spec.K)
	}
	for row, c := range p.Assign {
		if c == Unassigned {
			continue
		}
		g := geneIdx[row]
		m.Rows[g][c] = 1
		m.cols[c] = append(m.cols[c], g)
	}
	return m, nil
}

// Column returns the ascending universe gene indices belonging to cluster c.
func (m *BinaryMembership) Column(c int) []int { return m.cols[c] }

// Member reports whether universe gene g belongs to cluster c.
func (m *BinaryMembership) Member(g, c int) bool { return m.Rows[g][c] == 1 }
