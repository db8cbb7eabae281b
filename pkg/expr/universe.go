// Package expr holds the expression-data side of the pipeline: the gene
// universe, per-dataset matrices, the counts loader and normalisation.
package expr

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrDuplicateGene indicates repeated gene ids in a universe or counts file.
	ErrDuplicateGene = errors.New("expr: duplicate gene id")

	// ErrUnknownGene indicates a gene id outside the universe.
	ErrUnknownGene = errors.New("expr: gene id not in universe")

	// ErrNoCommonGenes indicates an intersection universe came out empty.
	ErrNoCommonGenes = errors.New("expr: datasets share no genes")
)

// UniverseMode selects how per-dataset gene lists are reconciled into one
// universe when they differ.
type UniverseMode int

const (
	// UniverseIntersection keeps only genes present in every dataset.
	UniverseIntersection UniverseMode = iota
	// UniverseUnion keeps every gene seen in any dataset.
	UniverseUnion
)

func (m UniverseMode) String() string {
	if m == UniverseUnion {
		return "union"
	}
	return "intersection"
}

// Universe is the ordered set of gene identifiers every matrix and mask is
// indexed against. Fixed before clustering begins.
type Universe struct {
	ids   []string
	index map[string]int
}

// NewUniverse builds a universe from an ordered id list. Ids must be unique.
func NewUniverse(ids []string) (*Universe, error) {
	u := &Universe{
		ids:   make([]string, len(ids)),
		index: make(map[string]int, len(ids)),
	}
	for i, id := range ids {
		if _, seen := u.index[id]; seen {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateGene, id)
		}
		u.ids[i] = id
		u.index[id] = i
	}
	return u, nil
}

// BuildUniverse reconciles the gene lists of several counts tables into a
// single universe. Intersection keeps the first table's ordering; union
// appends unseen genes in table order.
func BuildUniverse(tables []*CountsTable, mode UniverseMode) (*Universe, error) {
	if len(tables) == 0 {
		return nil, errors.New("expr: no counts tables")
	}

	if mode == UniverseUnion {
		seen := make(map[string]bool)
		var ids []string
		for _, t := range tables {
			for _, g := range t.Genes {
				if !seen[g] {
					seen[g] = true
					ids = append(ids, g)
				}
			}
		}
		return NewUniverse(ids)
	}

	// Intersection: count occurrences, keep first table's order.
	occ := make(map[string]int)
	for _, t := range tables {
		for _, g := range t.Genes {
			occ[g]++
		}
	}
	var ids []string
	for _, g := range tables[0].Genes {
		if occ[g] == len(tables) {
			ids = append(ids, g)
		}
	}
	if len(ids) == 0 {
		return nil, ErrNoCommonGenes
	}
	return NewUniverse(ids)
}

// Size returns the number of genes in the universe.
func (u *Universe) Size() int { return len(u.ids) }

// ID returns the gene identifier at index i.
func (u *Universe) ID(i int) string { return u.ids[i] }

// Index looks a gene id up, returning its index and whether it exists.
func (u *Universe) Index(id string) (int, bool) {
	i, ok := u.index[id]
	return i, ok
}

// IDs returns a copy of the ordered id list.
func (u *Universe) IDs() []string {
	out := make([]string, len(u.ids))
	copy(out, u.ids)
	return out
}

// SortedIndices maps gene ids to ascending universe indices, rejecting ids
// outside the universe.
func (u *Universe) SortedIndices(ids []string) ([]int, error) {
	idx := make([]int, 0, len(ids))
	for _, id := range ids {
		i, ok := u.index[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownGene, id)
		}
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx, nil
}
