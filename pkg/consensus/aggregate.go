package consensus

import (
	"sort"

	"github.com/yumyai/cocluster/internal/util"
	"github.com/yumyai/cocluster/logger"
	"github.com/yumyai/cocluster/pkg/partition"
	"go.uber.org/zap"
)

// datasetConsensus holds one dataset's aligned consensus candidates: for each
// candidate, the ascending gene indices inside the restrictive and relaxed
// masks, plus the partitions that contributed.
type datasetConsensus struct {
	id          string
	restrictive [][]int
	relaxed     [][]int
	specs       []partition.Spec
	covered     map[int]bool
}

// Aggregate runs the Bi-CoPaM consensus over binary membership matrices
// grouped by dataset id and returns the seed clusters. Zero seeds is a valid
// outcome ("no consensus found"), not an error.
func Aggregate(byDataset map[string][]*partition.BinaryMembership, params Params) ([]SeedCluster, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(byDataset) == 0 {
		return nil, ErrNoPartitions
	}

	// Deterministic dataset order.
	ids := make([]string, 0, len(byDataset))
	for id, mats := range byDataset {
		if len(mats) == 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return nil, ErrNoPartitions
	}

	perDataset := make([]*datasetConsensus, 0, len(ids))
	for _, id := range ids {
		perDataset = append(perDataset, datasetAggregate(id, byDataset[id], params))
	}

	seeds := combineDatasets(perDataset, params)
	seeds = cleanup(seeds)

	if len(seeds) == 0 {
		logger.Warn("No consensus found", zap.Float64("R", params.R), zap.String("mode", params.Mode.String()))
	}
	return seeds, nil
}

// datasetAggregate aligns one dataset's partitions and applies both
// thresholds (steps 1-3). The partition with the most clusters acts as the
// labelling reference; every other partition's clusters are matched to it
// one-to-one by column overlap, unmatched clusters count as noise.
func datasetAggregate(id string, mats []*partition.BinaryMembership, params Params) *datasetConsensus {
	// Deterministic partition order, independent of arrival order.
	sorted := append([]*partition.BinaryMembership(nil), mats...)
	sort.Slice(sorted, func(a, b int) bool {
		sa, sb := sorted[a].Spec, sorted[b].Spec
		if sa.Method != sb.Method {
			return sa.Method < sb.Method
		}
		if sa.K != sb.K {
			return sa.K < sb.K
		}
		return sa.Seed < sb.Seed
	})

	ref := sorted[0]
	for _, m := range sorted[1:] {
		if m.K > ref.K {
			ref = m
		}
	}

	p := len(sorted)
	counts := make(map[int]map[int]int, ref.K) // candidate -> gene -> votes
	for c := 0; c < ref.K; c++ {
		counts[c] = make(map[int]int)
	}
	covered := make(map[int]bool)
	specs := make([]partition.Spec, 0, p)

	for _, m := range sorted {
		specs = append(specs, m.Spec)
		match := matchColumns(m, ref)
		for col, cand := range match {
			if cand < 0 {
				continue // noise for this comparison
			}
			for _, g := range m.Column(col) {
				counts[cand][g]++
				covered[g] = true
			}
		}
	}

	dc := &datasetConsensus{
		id:          id,
		restrictive: make([][]int, ref.K),
		relaxed:     make([][]int, ref.K),
		specs:       specs,
		covered:     covered,
	}
	needR := support(params.R, p)
	needL := support(params.L, p)
	for c := 0; c < ref.K; c++ {
		for g, votes := range counts[c] {
			if votes >= needR {
				dc.restrictive[c] = append(dc.restrictive[c], g)
			}
			if votes >= needL {
				dc.relaxed[c] = append(dc.relaxed[c], g)
			}
		}
		sort.Ints(dc.restrictive[c])
		sort.Ints(dc.relaxed[c])
	}
	return dc
}

// matchColumns matches m's columns one-to-one onto ref's columns, greedily
// taking the highest Jaccard overlap first. Ties break on the lowest column
// pair. Returns, per column of m, the matched ref column or -1.
func matchColumns(m, ref *partition.BinaryMembership) []int {
	if m == ref {
		match := make([]int, m.K)
		for c := range match {
			match[c] = c
		}
		return match
	}

	type cand struct {
		col, refCol int
		sim         float64
	}
	cands := make([]cand, 0, m.K*ref.K)
	for col := 0; col < m.K; col++ {
		for rc := 0; rc < ref.K; rc++ {
			sim := util.Jaccard(m.Column(col), ref.Column(rc))
			if sim > 0 {
				cands = append(cands, cand{col: col, refCol: rc, sim: sim})
			}
		}
	}
	sort.Slice(cands, func(a, b int) bool {
		if cands[a].sim != cands[b].sim {
			return cands[a].sim > cands[b].sim
		}
		if cands[a].col != cands[b].col {
			return cands[a].col < cands[b].col
		}
		return cands[a].refCol < cands[b].refCol
	})

	match := make([]int, m.K)
	for c := range match {
		match[c] = -1
	}
	usedRef := make([]bool, ref.K)
	for _, c := range cands {
		if match[c.col] >= 0 || usedRef[c.refCol] {
			continue
		}
		match[c.col] = c.refCol
		usedRef[c.refCol] = true
	}
	return match
}

// combineDatasets aligns candidates across datasets against a reference
// dataset and applies the AND/OR combination (step 4). The dataset with the
// most partitions is the reference; ties go to the lexicographically first
// id. A dataset that does not cover a gene, or has no candidate matched to a
// reference candidate, is neutral: it neither admits nor vetoes.
func combineDatasets(perDataset []*datasetConsensus, params Params) []SeedCluster {
	ref := perDataset[0]
	for _, dc := range perDataset[1:] {
		if len(dc.specs) > len(ref.specs) {
			ref = dc
		}
	}

	// Match every other dataset's candidates onto the reference candidates
	// by restrictive-mask overlap.
	aligned := make(map[string][]int, len(perDataset)) // dataset id -> per ref candidate, matched local candidate or -1
	for _, dc := range perDataset {
		aligned[dc.id] = alignCandidates(dc, ref)
	}

	seeds := make([]SeedCluster, 0, len(ref.restrictive))
	for cand := range ref.restrictive {
		var members []int
		votes := make(map[int]int)
		voters := make(map[int]int)
		for _, dc := range perDataset {
			local := aligned[dc.id][cand]
			if local < 0 {
				continue
			}
			for _, g := range dc.restrictive[local] {
				votes[g]++
			}
			for g := range dc.covered {
				voters[g]++
			}
		}
		for g, v := range votes {
			switch params.Mode {
			case Intersection:
				if v == voters[g] {
					members = append(members, g)
				}
			case Union:
				if v >= 1 {
					members = append(members, g)
				}
			}
		}
		sort.Ints(members)

		seed := SeedCluster{Genes: members, Relaxed: make(map[string][]int)}
		for _, dc := range perDataset {
			local := aligned[dc.id][cand]
			if local < 0 {
				continue
			}
			seed.Sources = append(seed.Sources, Source{
				DatasetID:  dc.id,
				Candidate:  local,
				Partitions: dc.specs,
			})
			seed.Relaxed[dc.id] = append([]int(nil), dc.relaxed[local]...)
		}
		seeds = append(seeds, seed)
	}
	return seeds
}

// alignCandidates matches dc's candidates onto ref's, one-to-one greedy by
// restrictive-mask Jaccard. The reference maps to itself.
func alignCandidates(dc, ref *datasetConsensus) []int {
	out := make([]int, len(ref.restrictive))
	if dc == ref {
		for i := range out {
			out[i] = i
		}
		return out
	}
	for i := range out {
		out[i] = -1
	}

	type cand struct {
		refCand, local int
		sim            float64
	}
	var cands []cand
	for rc := range ref.restrictive {
		for lc := range dc.restrictive {
			sim := util.Jaccard(ref.restrictive[rc], dc.restrictive[lc])
			if sim > 0 {
				cands = append(cands, cand{refCand: rc, local: lc, sim: sim})
			}
		}
	}
	sort.Slice(cands, func(a, b int) bool {
		if cands[a].sim != cands[b].sim {
			return cands[a].sim > cands[b].sim
		}
		if cands[a].refCand != cands[b].refCand {
			return cands[a].refCand < cands[b].refCand
		}
		return cands[a].local < cands[b].local
	})

	usedLocal := make([]bool, len(dc.restrictive))
	for _, c := range cands {
		if out[c.refCand] >= 0 || usedLocal[c.local] {
			continue
		}
		out[c.refCand] = c.local
		usedLocal[c.local] = true
	}
	return out
}

// cleanup drops empty seeds and merges seeds with identical gene sets,
// keeping the union of their provenance (step 5). Surviving seeds get
// sequential ids.
func cleanup(seeds []SeedCluster) []SeedCluster {
	out := make([]SeedCluster, 0, len(seeds))
	for i := range seeds {
		s := seeds[i]
		if len(s.Genes) == 0 {
			continue
		}
		merged := false
		for j := range out {
			if util.EqualSorted(out[j].Genes, s.Genes) {
				out[j].mergeInto(&s)
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, s)
		}
	}
	for i := range out {
		out[i].ID = i
	}
	return out
}
