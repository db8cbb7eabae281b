package expr

import (
	"errors"
	"fmt"
	"sort"
)

// ErrEmptyDataset indicates a dataset with no genes or no samples.
var ErrEmptyDataset = errors.New("expr: empty dataset matrix")

// Dataset is one normalised expression matrix restricted to the universe.
// GeneIdx lists the covered universe indices in ascending order; Rows is
// aligned to GeneIdx (len(Rows) == len(GeneIdx)). Read-only to the pipeline.
type Dataset struct {
	ID      string
	Samples []string
	GeneIdx []int
	Rows    [][]float64

	rowOf map[int]int
}

// NewDataset builds a dataset over universe indices. Rows must be rectangular
// and aligned to geneIdx.
func NewDataset(id string, samples []string, geneIdx []int, rows [][]float64) (*Dataset, error) {
	if len(rows) == 0 || len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDataset, id)
	}
	if len(rows) != len(geneIdx) {
		return nil, fmt.Errorf("expr: dataset %s: %d rows for %d genes", id, len(rows), len(geneIdx))
	}
	for i, r := range rows {
		if len(r) != len(samples) {
			return nil, fmt.Errorf("expr: dataset %s: row %d has %d values, want %d", id, i, len(r), len(samples))
		}
	}
	if !sort.IntsAreSorted(geneIdx) {
		return nil, fmt.Errorf("expr: dataset %s: gene indices not ascending", id)
	}

	rowOf := make(map[int]int, len(geneIdx))
	for row, g := range geneIdx {
		rowOf[g] = row
	}
	return &Dataset{
		ID:      id,
		Samples: samples,
		GeneIdx: geneIdx,
		Rows:    rows,
		rowOf:   rowOf,
	}, nil
}

// NumGenes returns the number of covered genes.
func (d *Dataset) NumGenes() int { return len(d.GeneIdx) }

// Row returns the expression vector for a universe gene index, or nil when
// the dataset does not cover the gene.
func (d *Dataset) Row(gene int) []float64 {
	row, ok := d.rowOf[gene]
	if !ok {
		return nil
	}
	return d.Rows[row]
}

// Covers reports whether the dataset covers a universe gene index.
func (d *Dataset) Covers(gene int) bool {
	_, ok := d.rowOf[gene]
	return ok
}

// BuildDatasets restricts normalised counts tables to the universe, dropping
// genes outside it. Table order is preserved.
func BuildDatasets(u *Universe, tables []*CountsTable) ([]*Dataset, error) {
	datasets := make([]*Dataset, 0, len(tables))
	for _, t := range tables {
		type pair struct {
			gene int
			row  []float64
		}
		pairs := make([]pair, 0, len(t.Genes))
		for i, g := range t.Genes {
			if idx, ok := u.Index(g); ok {
				pairs = append(pairs, pair{gene: idx, row: t.Rows[i]})
			}
		}
		sort.Slice(pairs, func(a, b int) bool { return pairs[a].gene < pairs[b].gene })

		geneIdx := make([]int, len(pairs))
		rows := make([][]float64, len(pairs))
		for i, p := range pairs {
			geneIdx[i] = p.gene
			rows[i] = p.row
		}

		d, err := NewDataset(t.ID, t.Samples, geneIdx, rows)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, d)
	}
	return datasets, nil
}
