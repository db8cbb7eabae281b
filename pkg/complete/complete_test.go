package complete

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/yumyai/cocluster/logger"
	"github.com/yumyai/cocluster/pkg/consensus"
	"github.com/yumyai/cocluster/pkg/expr"
)

func TestMain(m *testing.M) {
	if err := logger.InitLogger(zapcore.ErrorLevel); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

var (
	rising  = []float64{1, 2, 3, 4}
	falling = []float64{4, 3, 2, 1}
)

// fixture: genes 0-3 rise, genes 4-7 fall; clusters seed genes 0-2 and 4-6,
// leaving genes 3 and 7 for completion.
func fixture(t *testing.T) ([]*expr.Dataset, []consensus.SeedCluster) {
	t.Helper()
	rows := [][]float64{rising, rising, rising, rising, falling, falling, falling, falling}
	geneIdx := []int{0, 1, 2, 3, 4, 5, 6, 7}
	d, err := expr.NewDataset("d1", []string{"s1", "s2", "s3", "s4"}, geneIdx, rows)
	require.NoError(t, err)

	clusters := []consensus.SeedCluster{
		{ID: 0, Genes: []int{0, 1, 2}, Relaxed: map[string][]int{"d1": {0, 1, 2, 3}}},
		{ID: 1, Genes: []int{4, 5, 6}, Relaxed: map[string][]int{"d1": {4, 5, 6, 7}}},
	}
	return []*expr.Dataset{d}, clusters
}

func TestCompleteAssignsLeftoverGenes(t *testing.T) {
	ds, clusters := fixture(t)
	c := &Completer{Threshold: 0.7}

	finals, err := c.Complete(ds, 8, clusters)
	require.NoError(t, err)
	require.Len(t, finals, 2)

	assert.Equal(t, []int{0, 1, 2, 3}, finals[0].Genes)
	assert.Equal(t, []int{3}, finals[0].Completed)
	assert.Equal(t, []int{0, 1, 2}, finals[0].Seeded)

	assert.Equal(t, []int{4, 5, 6, 7}, finals[1].Genes)
	assert.Equal(t, []int{7}, finals[1].Completed)
}

// Seeded genes keep their cluster: completion never reassigns them.
func TestCompleteIdempotentOnSeededGenes(t *testing.T) {
	ds, clusters := fixture(t)
	c := &Completer{Threshold: 0.7}

	first, err := c.Complete(ds, 8, clusters)
	require.NoError(t, err)

	// Feed the completed clusters back in as if they were seeds.
	again := make([]consensus.SeedCluster, len(first))
	for i, f := range first {
		again[i] = consensus.SeedCluster{ID: f.ID, Genes: f.Genes, Relaxed: clusters[i].Relaxed}
	}
	second, err := c.Complete(ds, 8, again)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Genes, second[i].Genes)
		assert.Empty(t, second[i].Completed)
	}
}

// Without relaxed evidence a gene stays unassigned however similar it is.
func TestCompleteNeedsRelaxedEvidence(t *testing.T) {
	ds, clusters := fixture(t)
	clusters[0].Relaxed = map[string][]int{"d1": {0, 1, 2}} // gene 3 removed
	c := &Completer{Threshold: 0.7}

	finals, err := c.Complete(ds, 8, clusters)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, finals[0].Genes)
	assert.Empty(t, finals[0].Completed)
}

// Below the completion threshold nothing is assigned.
func TestCompleteThresholdGates(t *testing.T) {
	ds, clusters := fixture(t)
	c := &Completer{Threshold: 1.0}

	// Gene 3 correlates perfectly, so it still passes at 1.0; raise the bar
	// by giving it a profile that does not match.
	ds[0].Rows[3] = []float64{1, 3, 2, 4}
	finals, err := c.Complete(ds, 8, clusters)
	require.NoError(t, err)
	assert.Empty(t, finals[0].Completed)
}

// Ties on score go to the smallest cluster id in exclusive mode.
func TestCompleteTieBreaksToSmallestID(t *testing.T) {
	rows := [][]float64{rising, rising, rising}
	d, err := expr.NewDataset("d1", []string{"s1", "s2", "s3", "s4"}, []int{0, 1, 2}, rows)
	require.NoError(t, err)

	clusters := []consensus.SeedCluster{
		{ID: 0, Genes: []int{0}, Relaxed: map[string][]int{"d1": {0, 2}}},
		{ID: 1, Genes: []int{1}, Relaxed: map[string][]int{"d1": {1, 2}}},
	}
	c := &Completer{Threshold: 0.5}

	finals, err := c.Complete([]*expr.Dataset{d}, 3, clusters)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, finals[0].Completed)
	assert.Empty(t, finals[1].Completed)
}

// Overlapping mode admits a gene into every cluster passing the threshold.
func TestCompleteOverlapping(t *testing.T) {
	rows := [][]float64{rising, rising, rising}
	d, err := expr.NewDataset("d1", []string{"s1", "s2", "s3", "s4"}, []int{0, 1, 2}, rows)
	require.NoError(t, err)

	clusters := []consensus.SeedCluster{
		{ID: 0, Genes: []int{0}, Relaxed: map[string][]int{"d1": {0, 2}}},
		{ID: 1, Genes: []int{1}, Relaxed: map[string][]int{"d1": {1, 2}}},
	}
	c := &Completer{Threshold: 0.5, Overlapping: true}

	finals, err := c.Complete([]*expr.Dataset{d}, 3, clusters)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, finals[0].Completed)
	assert.Equal(t, []int{2}, finals[1].Completed)
}

// The final pass merges clusters overlapping beyond the cutoff.
func TestCompleteDedup(t *testing.T) {
	ds, _ := fixture(t)
	clusters := []consensus.SeedCluster{
		{ID: 0, Genes: []int{0, 1, 2}, Relaxed: map[string][]int{}},
		{ID: 1, Genes: []int{0, 1, 2, 3}, Relaxed: map[string][]int{}},
		{ID: 2, Genes: []int{4, 5}, Relaxed: map[string][]int{}},
	}
	c := &Completer{Threshold: 0.9, MergeCutoff: 0.7}

	finals, err := c.Complete(ds, 8, clusters)
	require.NoError(t, err)

	require.Len(t, finals, 2)
	assert.Equal(t, []int{0, 1, 2, 3}, finals[0].Genes)
	assert.Equal(t, 0, finals[0].ID)
	assert.Equal(t, []int{4, 5}, finals[1].Genes)
	assert.Equal(t, 1, finals[1].ID)
}

func TestCompleteRejectsBadThreshold(t *testing.T) {
	c := &Completer{Threshold: -0.1}
	_, err := c.Complete(nil, 0, nil)
	assert.ErrorIs(t, err, ErrBadCompletion)
}
