package expr

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yumyai/cocluster/logger"
	"go.uber.org/zap"
)

// CountsTable is one raw counts file as loaded from disk: gene ids plus a
// rectangular numeric matrix, one row per gene, one column per sample.
type CountsTable struct {
	ID      string
	Genes   []string
	Samples []string
	Rows    [][]float64
}

// LoadCounts reads a tab-separated counts file in the featureCounts layout:
// one header row, gene id in the first column, numeric sample columns after
// it. Comment lines starting with '#' are skipped and version suffixes on
// accession numbers ("NM_001.2" -> "NM_001") are stripped. The table id is
// the file name without extension.
func LoadCounts(path string) (*CountsTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open counts file: %w", err)
	}
	defer f.Close()

	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	table := &CountsTable{ID: id}
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		lineNo++
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")

		if table.Samples == nil {
			if len(fields) < 2 {
				return nil, fmt.Errorf("counts %s: header needs a gene column and at least one sample", id)
			}
			table.Samples = fields[1:]
			continue
		}

		if len(fields) != len(table.Samples)+1 {
			return nil, fmt.Errorf("counts %s: line %d has %d columns, want %d", id, lineNo, len(fields), len(table.Samples)+1)
		}

		gene := stripAccessionVersion(fields[0])
		if gene == "" {
			return nil, fmt.Errorf("counts %s: line %d has an empty gene id", id, lineNo)
		}
		if seen[gene] {
			return nil, fmt.Errorf("%w: %s (counts %s line %d)", ErrDuplicateGene, gene, id, lineNo)
		}
		seen[gene] = true

		row := make([]float64, len(fields)-1)
		for i, v := range fields[1:] {
			x, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("counts %s: line %d column %d: %w", id, lineNo, i+2, err)
			}
			row[i] = x
		}
		table.Genes = append(table.Genes, gene)
		table.Rows = append(table.Rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read counts file: %w", err)
	}
	if len(table.Rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDataset, id)
	}

	logger.Debug("Loaded counts",
		zap.String("id", id),
		zap.Int("genes", len(table.Genes)),
		zap.Int("samples", len(table.Samples)))

	return table, nil
}

// Accessions like "NM_008084.3, NM_001289726.1" carry version suffixes and
// sometimes a synonym list; keep only the first accession without version.
func stripAccessionVersion(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.IndexAny(id, ",;"); i >= 0 {
		id = strings.TrimSpace(id[:i])
	}
	if dot := strings.LastIndex(id, "."); dot > 0 {
		if _, err := strconv.Atoi(id[dot+1:]); err == nil {
			id = id[:dot]
		}
	}
	return id
}
