// Package render writes run results to the report files consumers expect:
// a clusters TSV (one column per cluster) and a full JSON result.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/yumyai/cocluster/pkg/expr"
	"github.com/yumyai/cocluster/pkg/pipeline"
)

// WriteClustersTSV writes the cluster membership table: one column per final
// cluster, headed "C<n> (<size> genes)", gene ids listed underneath. Empty
// cells pad the shorter columns.
func WriteClustersTSV(w io.Writer, u *expr.Universe, res *pipeline.Result) error {
	headers := make([]string, len(res.Clusters))
	columns := make([][]string, len(res.Clusters))
	maxLen := 0
	for i, cl := range res.Clusters {
		headers[i] = fmt.Sprintf("C%d (%d genes)", cl.ID, cl.Size())
		columns[i] = make([]string, 0, cl.Size())
		for _, g := range cl.Genes {
			columns[i] = append(columns[i], u.ID(g))
		}
		if len(columns[i]) > maxLen {
			maxLen = len(columns[i])
		}
	}

	if _, err := fmt.Fprintln(w, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for row := 0; row < maxLen; row++ {
		cells := make([]string, len(columns))
		for i, col := range columns {
			if row < len(col) {
				cells[i] = col[row]
			}
		}
		if _, err := fmt.Fprintln(w, strings.Join(cells, "\t")); err != nil {
			return err
		}
	}
	return nil
}

// jsonCluster is the JSON shape of one final cluster.
type jsonCluster struct {
	ID        int      `json:"cluster_id"`
	Size      int      `json:"size"`
	Tightness float64  `json:"tightness"`
	Seeded    []string `json:"seeded_genes"`
	Completed []string `json:"completed_genes"`
}

type jsonResult struct {
	RunID       string           `json:"run_id"`
	Clusters    []jsonCluster    `json:"clusters"`
	Assignments map[string][]int `json:"assignments"`
	Warnings    []string         `json:"warnings,omitempty"`
}

// WriteResultJSON writes the full structured result.
func WriteResultJSON(w io.Writer, u *expr.Universe, res *pipeline.Result) error {
	out := jsonResult{
		RunID:       res.RunID,
		Clusters:    make([]jsonCluster, 0, len(res.Clusters)),
		Assignments: res.Assignments,
		Warnings:    res.Warnings,
	}
	for _, cl := range res.Clusters {
		jc := jsonCluster{
			ID:        cl.ID,
			Size:      cl.Size(),
			Tightness: cl.Tightness,
			Seeded:    make([]string, 0, len(cl.Seeded)),
			Completed: make([]string, 0, len(cl.Completed)),
		}
		for _, g := range cl.Seeded {
			jc.Seeded = append(jc.Seeded, u.ID(g))
		}
		for _, g := range cl.Completed {
			jc.Completed = append(jc.Completed, u.ID(g))
		}
		out.Clusters = append(out.Clusters, jc)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
