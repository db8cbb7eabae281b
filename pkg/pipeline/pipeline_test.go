package pipeline

import (
	"context"
	"math/rand"
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

// twoBlobUniverse builds 12 genes over one dataset: genes 0-5 rise, genes
// 6-11 fall, with small deterministic jitter so the strategies have real
// work to do.
func twoBlobUniverse(t *testing.T) (*expr.Universe, []*expr.Dataset) {
	t.Helper()
	ids := []string{"g0", "g1", "g2", "g3", "g4", "g5", "g6", "g7", "g8", "g9", "g10", "g11"}
	u, err := expr.NewUniverse(ids)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(99))
	rows := make([][]float64, 12)
	geneIdx := make([]int, 12)
	for i := 0; i < 12; i++ {
		geneIdx[i] = i
		base := []float64{-1.2, -0.4, 0.4, 1.2}
		row := make([]float64, 4)
		for j := range row {
			v := base[j]
			if i >= 6 {
				v = -v
			}
			row[j] = v + rng.Float64()*0.05
		}
		rows[i] = row
	}
	d, err := expr.NewDataset("d1", []string{"t1", "t2", "t3", "t4"}, geneIdx, rows)
	require.NoError(t, err)
	return u, []*expr.Dataset{d}
}

func testConfig() Config {
	return Config{
		Ks:                  []int{2},
		Methods:             []string{"kmeans", "hierarchical"},
		Consensus:           consensus.Params{R: 0.75, L: 0.5, Mode: consensus.Intersection},
		SeparationThreshold: 0.3,
		CompletionThreshold: 0.7,
		MergeCutoff:         0.8,
		Seed:                1,
		MaxRetries:          2,
	}
}

func TestRunRecoversTwoBlobs(t *testing.T) {
	u, ds := twoBlobUniverse(t)
	runner := NewRunner(testConfig(), nil)

	res, err := runner.Run(context.Background(), u, ds)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.Clusters, 2)

	// Every gene lands in exactly one cluster, blobs kept apart.
	require.Len(t, res.Assignments, 12)
	for id, cs := range res.Assignments {
		assert.Len(t, cs, 1, "gene %s", id)
	}
	assert.Equal(t, res.Assignments["g0"], res.Assignments["g5"])
	assert.Equal(t, res.Assignments["g6"], res.Assignments["g11"])
	assert.NotEqual(t, res.Assignments["g0"], res.Assignments["g6"])

	for _, cl := range res.Clusters {
		assert.Equal(t, 6, cl.Size())
		assert.Greater(t, cl.Tightness, 0.9)
	}
}

// Identical inputs, configuration and seed give identical assignments.
func TestRunDeterministic(t *testing.T) {
	u, ds := twoBlobUniverse(t)

	a, err := NewRunner(testConfig(), nil).Run(context.Background(), u, ds)
	require.NoError(t, err)
	b, err := NewRunner(testConfig(), nil).Run(context.Background(), u, ds)
	require.NoError(t, err)

	assert.Equal(t, a.Assignments, b.Assignments)
	require.Len(t, b.Clusters, len(a.Clusters))
	for i := range a.Clusters {
		assert.Equal(t, a.Clusters[i].Genes, b.Clusters[i].Genes)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	u, ds := twoBlobUniverse(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(testConfig(), nil).Run(ctx, u, ds)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	_, ds := twoBlobUniverse(t)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no ks", func(c *Config) { c.Ks = nil }},
		{"no methods", func(c *Config) { c.Methods = nil }},
		{"unknown method", func(c *Config) { c.Methods = []string{"dbscan"} }},
		{"k too small", func(c *Config) { c.Ks = []int{0} }},
		{"k over gene count", func(c *Config) { c.Ks = []int{100} }},
		{"L above R", func(c *Config) { c.Consensus = consensus.Params{R: 0.3, L: 0.9} }},
		{"R above one", func(c *Config) { c.Consensus = consensus.Params{R: 1.5, L: 0.5} }},
		{"bad separation", func(c *Config) { c.SeparationThreshold = -0.2 }},
		{"bad completion", func(c *Config) { c.CompletionThreshold = 2 }},
		{"bad merge cutoff", func(c *Config) { c.MergeCutoff = 1.1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate(ds))
		})
	}

	assert.ErrorIs(t, testConfig().Validate(nil), ErrNoDatasets)
	assert.NoError(t, testConfig().Validate(ds))
}

func TestRunWithObserver(t *testing.T) {
	u, ds := twoBlobUniverse(t)

	obs := &countingObserver{}
	_, err := NewRunner(testConfig(), obs).Run(context.Background(), u, ds)
	require.NoError(t, err)

	assert.Equal(t, []string{"partition", "consensus", "evaluate", "complete"}, obs.stages)
	assert.Equal(t, 2, obs.partitions, "one checkpoint per base partition")
}

type countingObserver struct {
	stages     []string
	partitions int
	pairs      int
}

func (o *countingObserver) Stage(name string)      { o.stages = append(o.stages, name) }
func (o *countingObserver) PartitionDone(d, n int) { o.partitions++ }
func (o *countingObserver) PairDone(d, n int)      { o.pairs++ }
