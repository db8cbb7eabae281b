package expr

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/yumyai/cocluster/logger"
	"go.uber.org/zap"
)

// NormalizeOptions configures per-table normalisation and flat-profile
// filtering before a table enters the pipeline.
type NormalizeOptions struct {
	// CPM rescales every column to counts-per-million before the log.
	CPM bool
	// Log2 applies log2(x+1) to every value.
	Log2 bool
	// ZScore standardises every gene row to zero mean and unit variance.
	ZScore bool
	// TopGenes keeps only the N most variable genes (0 keeps all).
	TopGenes int
	// MinVariance drops genes whose row variance falls below it.
	MinVariance float64
}

// DefaultNormalize mirrors the usual counts preprocessing: CPM, log2,
// z-score, keep the 2000 most variable genes.
func DefaultNormalize() NormalizeOptions {
	return NormalizeOptions{CPM: true, Log2: true, ZScore: true, TopGenes: 2000}
}

// Normalize transforms a counts table in the order CPM -> log2 -> variance
// filter -> z-score, returning a new table. The input is not modified.
func Normalize(t *CountsTable, opts NormalizeOptions) *CountsTable {
	out := &CountsTable{
		ID:      t.ID,
		Genes:   append([]string(nil), t.Genes...),
		Samples: append([]string(nil), t.Samples...),
		Rows:    make([][]float64, len(t.Rows)),
	}
	for i, r := range t.Rows {
		out.Rows[i] = append([]float64(nil), r...)
	}

	if opts.CPM {
		scaleCPM(out.Rows)
	}
	if opts.Log2 {
		for _, r := range out.Rows {
			for i, v := range r {
				r[i] = math.Log2(v + 1)
			}
		}
	}

	filterFlat(out, opts)

	if opts.ZScore {
		for _, r := range out.Rows {
			zscore(r)
		}
	}
	return out
}

// scaleCPM rescales each sample column so its total is one million.
func scaleCPM(rows [][]float64) {
	if len(rows) == 0 {
		return
	}
	cols := len(rows[0])
	totals := make([]float64, cols)
	for _, r := range rows {
		for j, v := range r {
			totals[j] += v
		}
	}
	for _, r := range rows {
		for j := range r {
			if totals[j] > 0 {
				r[j] = r[j] / totals[j] * 1e6
			}
		}
	}
}

// filterFlat drops low-variance rows and optionally keeps only the TopGenes
// most variable ones. Variance ordering follows the original preprocessing:
// rows are standardised, shifted against their first sample and ranked by
// the variance of the shifted profile, so flat-but-offset genes rank low.
func filterFlat(t *CountsTable, opts NormalizeOptions) {
	if opts.TopGenes <= 0 && opts.MinVariance <= 0 {
		return
	}

	type ranked struct {
		idx int
		v   float64
	}
	rank := make([]ranked, 0, len(t.Rows))
	for i, r := range t.Rows {
		z := append([]float64(nil), r...)
		zscore(z)
		for j := range z {
			z[j] -= z[0]
		}
		rank = append(rank, ranked{idx: i, v: stat.Variance(z, nil)})
	}

	sort.SliceStable(rank, func(a, b int) bool { return rank[a].v > rank[b].v })

	keep := len(rank)
	if opts.TopGenes > 0 && opts.TopGenes < keep {
		keep = opts.TopGenes
	}
	kept := make([]int, 0, keep)
	for _, rk := range rank[:keep] {
		if opts.MinVariance > 0 && rk.v < opts.MinVariance {
			continue
		}
		kept = append(kept, rk.idx)
	}
	// Preserve file order of surviving genes.
	sort.Ints(kept)

	if len(kept) < len(t.Rows) {
		logger.Debug("Filtered flat profiles",
			zap.String("id", t.ID),
			zap.Int("before", len(t.Rows)),
			zap.Int("after", len(kept)))
	}

	genes := make([]string, len(kept))
	rows := make([][]float64, len(kept))
	for i, idx := range kept {
		genes[i] = t.Genes[idx]
		rows[i] = t.Rows[idx]
	}
	t.Genes, t.Rows = genes, rows
}

// zscore standardises v in place; an all-constant vector becomes all zeros.
func zscore(v []float64) {
	mean, std := stat.MeanStdDev(v, nil)
	if std == 0 || math.IsNaN(std) {
		for i := range v {
			v[i] = 0
		}
		return
	}
	for i := range v {
		v[i] = (v[i] - mean) / std
	}
}
