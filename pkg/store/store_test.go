package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/cocluster/pkg/complete"
	"github.com/yumyai/cocluster/pkg/pipeline"
)

func testResult() *pipeline.Result {
	return &pipeline.Result{
		RunID: "run-1",
		Clusters: []complete.FinalCluster{
			{ID: 0, Genes: []int{0, 1, 2}, Seeded: []int{0, 1}, Completed: []int{2}, Tightness: 0.91},
			{ID: 1, Genes: []int{3, 4}, Seeded: []int{3, 4}, Tightness: 0.85},
		},
	}
}

func geneID(i int) string {
	return []string{"gA", "gB", "gC", "gD", "gE"}[i]
}

func TestSaveAndGetRun(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	cfg := pipeline.DefaultConfig()
	res := testResult()

	require.NoError(t, st.SaveRun(ctx, cfg, res, geneID))

	clusters, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, clusters, 2)

	assert.Equal(t, 0, clusters[0].ClusterID)
	assert.InDelta(t, 0.91, clusters[0].Tightness, 1e-9)
	assert.Equal(t, []string{"gA", "gB"}, clusters[0].Seeded)
	assert.Equal(t, []string{"gC"}, clusters[0].Completed)

	assert.Equal(t, []string{"gD", "gE"}, clusters[1].Seeded)
	assert.Empty(t, clusters[1].Completed)
}

func TestListRuns(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.SaveRun(ctx, pipeline.DefaultConfig(), testResult(), geneID))

	runs, err := st.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, 2, runs[0].Clusters)
	assert.Equal(t, 5, runs[0].Genes)
}

func TestSaveRunRejectsDuplicateID(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.SaveRun(ctx, pipeline.DefaultConfig(), testResult(), geneID))
	assert.Error(t, st.SaveRun(ctx, pipeline.DefaultConfig(), testResult(), geneID))
}

func TestGetRunUnknownID(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer st.Close()

	clusters, err := st.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, clusters)
}
