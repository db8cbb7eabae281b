package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/cocluster/pkg/complete"
	"github.com/yumyai/cocluster/pkg/expr"
	"github.com/yumyai/cocluster/pkg/pipeline"
)

func testResult(t *testing.T) (*expr.Universe, *pipeline.Result) {
	t.Helper()
	u, err := expr.NewUniverse([]string{"gA", "gB", "gC", "gD", "gE"})
	require.NoError(t, err)

	res := &pipeline.Result{
		RunID: "run-1",
		Clusters: []complete.FinalCluster{
			{ID: 0, Genes: []int{0, 1, 2}, Seeded: []int{0, 1}, Completed: []int{2}, Tightness: 0.9},
			{ID: 1, Genes: []int{3}, Seeded: []int{3}, Tightness: 0.8},
		},
		Assignments: map[string][]int{"gA": {0}, "gB": {0}, "gC": {0}, "gD": {1}},
	}
	return u, res
}

func TestWriteClustersTSV(t *testing.T) {
	u, res := testResult(t)

	var buf bytes.Buffer
	require.NoError(t, WriteClustersTSV(&buf, u, res))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "C0 (3 genes)\tC1 (1 genes)", lines[0])
	assert.Equal(t, "gA\tgD", lines[1])
	assert.Equal(t, "gB\t", lines[2])
	assert.Equal(t, "gC\t", lines[3])
}

func TestWriteResultJSON(t *testing.T) {
	u, res := testResult(t)

	var buf bytes.Buffer
	require.NoError(t, WriteResultJSON(&buf, u, res))

	var decoded struct {
		RunID    string `json:"run_id"`
		Clusters []struct {
			ID        int      `json:"cluster_id"`
			Size      int      `json:"size"`
			Seeded    []string `json:"seeded_genes"`
			Completed []string `json:"completed_genes"`
		} `json:"clusters"`
		Assignments map[string][]int `json:"assignments"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	assert.Equal(t, "run-1", decoded.RunID)
	require.Len(t, decoded.Clusters, 2)
	assert.Equal(t, 3, decoded.Clusters[0].Size)
	assert.Equal(t, []string{"gA", "gB"}, decoded.Clusters[0].Seeded)
	assert.Equal(t, []string{"gC"}, decoded.Clusters[0].Completed)
	assert.Equal(t, []int{1}, decoded.Assignments["gD"])
}
