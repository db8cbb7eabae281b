// Package evaluate applies the M-N scatter technique: every pair of seed
// clusters is projected onto a 2-D plane of similarities to the two cluster
// mean profiles, and pairs whose point clouds are not separable are merged
// or pruned deterministically.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/yumyai/cocluster/internal/util"
	"github.com/yumyai/cocluster/logger"
	"github.com/yumyai/cocluster/pkg/consensus"
	"github.com/yumyai/cocluster/pkg/expr"
	"go.uber.org/zap"
)

// ErrBadSeparation indicates a separation threshold outside [0,1].
var ErrBadSeparation = errors.New("evaluate: separation threshold must be in [0,1]")

// PairResult is the verdict for one unordered cluster pair.
type PairResult struct {
	M, N       int
	Separation float64
	Separable  bool
}

// ValidityRecord collects one cluster's pairwise outcomes and its tightness.
type ValidityRecord struct {
	ClusterID int
	Tightness float64
	Valid     bool
	Merged    bool
	Pairs     []PairResult
}

// Evaluator prunes seed clusters that fail pairwise separability.
type Evaluator struct {
	// SeparationThreshold is the minimum separation statistic for a pair to
	// count as separable.
	SeparationThreshold float64
	// MergeCutoff is the membership Jaccard at or above which a failing pair
	// merges instead of losing its weaker side.
	MergeCutoff float64
	// Workers bounds the parallel pairwise comparisons (<=0 means serial).
	Workers int
	// OnPair, when set, is called once per completed pairwise comparison.
	OnPair func(done, total int)
}

// Evaluate tests every unordered seed pair and resolves conflicts in a
// deterministic serial reduction. It returns the surviving clusters (ids
// reassigned sequentially) and one validity record per input seed.
func (e *Evaluator) Evaluate(ctx context.Context, datasets []*expr.Dataset, seeds []consensus.SeedCluster) ([]consensus.SeedCluster, []ValidityRecord, error) {
	if e.SeparationThreshold < 0 || e.SeparationThreshold > 1 {
		return nil, nil, fmt.Errorf("%w: %g", ErrBadSeparation, e.SeparationThreshold)
	}

	profiles := make([]*Profile, len(seeds))
	tightness := make([]float64, len(seeds))
	for i := range seeds {
		profiles[i] = MeanProfile(datasets, seeds[i].Genes)
		tightness[i] = Tightness(datasets, seeds[i].Genes, profiles[i])
	}

	// Pairwise comparisons are independent; verdicts land in a pre-indexed
	// slice so the resolution below never depends on completion order.
	type pairIdx struct{ m, n int }
	var pairs []pairIdx
	for m := 0; m < len(seeds); m++ {
		for n := m + 1; n < len(seeds); n++ {
			pairs = append(pairs, pairIdx{m, n})
		}
	}
	verdicts := make([]PairResult, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	if e.Workers > 0 {
		g.SetLimit(e.Workers)
	} else {
		g.SetLimit(1)
	}
	var mu sync.Mutex
	done := 0
	for i, p := range pairs {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sep := Separation(datasets, seeds[p.m].Genes, seeds[p.n].Genes, profiles[p.m], profiles[p.n])
			verdicts[i] = PairResult{
				M:          p.m,
				N:          p.n,
				Separation: sep,
				Separable:  sep >= e.SeparationThreshold,
			}
			if e.OnPair != nil {
				mu.Lock()
				done++
				e.OnPair(done, len(pairs))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	records := make([]ValidityRecord, len(seeds))
	for i := range records {
		records[i] = ValidityRecord{ClusterID: seeds[i].ID, Tightness: tightness[i], Valid: true}
	}
	for _, v := range verdicts {
		records[v.M].Pairs = append(records[v.M].Pairs, v)
		records[v.N].Pairs = append(records[v.N].Pairs, PairResult{M: v.N, N: v.M, Separation: v.Separation, Separable: v.Separable})
	}

	survivors := e.resolve(datasets, seeds, verdicts, tightness, records)
	return survivors, records, nil
}

// resolve applies the conflict policy as a single serial reduction. Failing
// pairs are handled in descending order of the pair's best tightness, then
// ascending ids; a pair merges when its membership overlap reaches the merge
// cutoff, otherwise the cluster with lower tightness (then fewer genes, then
// the higher id) is discarded.
func (e *Evaluator) resolve(datasets []*expr.Dataset, seeds []consensus.SeedCluster, verdicts []PairResult, tightness []float64, records []ValidityRecord) []consensus.SeedCluster {
	failing := make([]PairResult, 0, len(verdicts))
	for _, v := range verdicts {
		if !v.Separable {
			failing = append(failing, v)
		}
	}
	sort.Slice(failing, func(a, b int) bool {
		ta := math.Max(tightness[failing[a].M], tightness[failing[a].N])
		tb := math.Max(tightness[failing[b].M], tightness[failing[b].N])
		if ta != tb {
			return ta > tb
		}
		if failing[a].M != failing[b].M {
			return failing[a].M < failing[b].M
		}
		return failing[a].N < failing[b].N
	})

	alive := make([]bool, len(seeds))
	for i := range alive {
		alive[i] = true
	}
	// Copy so merges never mutate the caller's seeds.
	work := append([]consensus.SeedCluster(nil), seeds...)

	for _, f := range failing {
		if !alive[f.M] || !alive[f.N] {
			continue
		}
		m, n := &work[f.M], &work[f.N]
		if util.Jaccard(m.Genes, n.Genes) >= e.MergeCutoff {
			merged := consensus.SeedCluster{
				ID:      m.ID,
				Genes:   util.UnionSorted(m.Genes, n.Genes),
				Sources: append(append([]consensus.Source(nil), m.Sources...), n.Sources...),
				Relaxed: make(map[string][]int),
			}
			for id, g := range m.Relaxed {
				merged.Relaxed[id] = append([]int(nil), g...)
			}
			for id, g := range n.Relaxed {
				merged.Relaxed[id] = util.UnionSorted(merged.Relaxed[id], g)
			}
			work[f.M] = merged
			tightness[f.M] = Tightness(datasets, merged.Genes, MeanProfile(datasets, merged.Genes))
			alive[f.N] = false
			records[f.N].Valid = false
			records[f.N].Merged = true
			records[f.M].Merged = true
			logger.Debug("Merged inseparable clusters", zap.Int("into", m.ID), zap.Int("from", n.ID))
			continue
		}

		drop := f.N
		if worse(tightness[f.M], len(m.Genes), f.M, tightness[f.N], len(n.Genes), f.N) {
			drop = f.M
		}
		alive[drop] = false
		records[drop].Valid = false
		logger.Debug("Discarded inseparable cluster",
			zap.Int("cluster", seeds[drop].ID),
			zap.Float64("separation", f.Separation))
	}

	var out []consensus.SeedCluster
	for i := range work {
		if alive[i] {
			out = append(out, work[i])
		}
	}
	for i := range out {
		out[i].ID = i
	}
	return out
}

// worse reports whether cluster a loses the conflict against b.
func worse(ta float64, sa, ia int, tb float64, sb, ib int) bool {
	if ta != tb {
		return ta < tb
	}
	if sa != sb {
		return sa < sb
	}
	return ia > ib
}

// Tightness is the mean member-to-profile similarity, in [0,1]. A cluster
// with no measurable members scores 0.
func Tightness(datasets []*expr.Dataset, genes []int, p *Profile) float64 {
	if len(genes) == 0 {
		return 0
	}
	total, n := 0.0, 0
	for _, g := range genes {
		if s, ok := p.Similarity(datasets, g); ok {
			total += s
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// Separation is the statistic of the M-N scatter test. Every gene in the
// union of M and N becomes a point (similarity to M's profile, similarity to
// N's profile); the statistic compares the two point clouds by centroid
// distance against their combined scatter:
//
//	sep = |cM - cN| / (|cM - cN| + sM + sN)
//
// It is 0 when the centroids coincide and approaches 1 for tight, distant
// clouds. Symmetric in M and N.
func Separation(datasets []*expr.Dataset, genesM, genesN []int, pm, pn *Profile) float64 {
	cm, sm, okM := cloud(datasets, genesM, pm, pn)
	cn, sn, okN := cloud(datasets, genesN, pm, pn)
	if !okM || !okN {
		return 0
	}
	d := math.Hypot(cm[0]-cn[0], cm[1]-cn[1])
	if d == 0 {
		return 0
	}
	return d / (d + sm + sn)
}

// cloud summarises one cluster's genes in the M-N plane: centroid and RMS
// scatter around it.
func cloud(datasets []*expr.Dataset, genes []int, pm, pn *Profile) (centroid [2]float64, scatter float64, ok bool) {
	var pts [][2]float64
	for _, g := range genes {
		x, okX := pm.Similarity(datasets, g)
		y, okY := pn.Similarity(datasets, g)
		if !okX || !okY {
			continue
		}
		pts = append(pts, [2]float64{x, y})
		centroid[0] += x
		centroid[1] += y
	}
	if len(pts) == 0 {
		return centroid, 0, false
	}
	centroid[0] /= float64(len(pts))
	centroid[1] /= float64(len(pts))
	for _, p := range pts {
		dx, dy := p[0]-centroid[0], p[1]-centroid[1]
		scatter += dx*dx + dy*dy
	}
	scatter = math.Sqrt(scatter / float64(len(pts)))
	return centroid, scatter, true
}

// Profile is a cluster's mean expression profile, one vector per dataset
// that covers at least one member gene.
type Profile struct {
	means map[string][]float64
}

// MeanProfile averages the member genes' rows per dataset.
func MeanProfile(datasets []*expr.Dataset, genes []int) *Profile {
	p := &Profile{means: make(map[string][]float64, len(datasets))}
	for _, d := range datasets {
		var mean []float64
		n := 0
		for _, g := range genes {
			row := d.Row(g)
			if row == nil {
				continue
			}
			if mean == nil {
				mean = make([]float64, len(row))
			}
			for i, v := range row {
				mean[i] += v
			}
			n++
		}
		if n > 0 {
			for i := range mean {
				mean[i] /= float64(n)
			}
			p.means[d.ID] = mean
		}
	}
	return p
}

// Mean returns the profile vector for a dataset id, or nil.
func (p *Profile) Mean(datasetID string) []float64 { return p.means[datasetID] }

// Similarity is the Pearson correlation of a gene's expression against the
// profile across every dataset covering both, mapped onto [0,1] as (1+r)/2.
// ok is false when no dataset covers the gene and the profile together.
func (p *Profile) Similarity(datasets []*expr.Dataset, gene int) (float64, bool) {
	var xs, ys []float64
	for _, d := range datasets {
		mean := p.means[d.ID]
		row := d.Row(gene)
		if mean == nil || row == nil {
			continue
		}
		xs = append(xs, row...)
		ys = append(ys, mean...)
	}
	if len(xs) < 2 {
		return 0, false
	}
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) {
		return 0.5, true
	}
	return (1 + r) / 2, true
}
