// Package store persists run results to sqlite so finished clusterings can
// be inspected without re-running the pipeline.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yumyai/cocluster/pkg/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	created_at  TEXT NOT NULL,
	params_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS clusters (
	run_id     TEXT NOT NULL,
	cluster_id INTEGER NOT NULL,
	size       INTEGER NOT NULL,
	tightness  REAL NOT NULL,
	PRIMARY KEY (run_id, cluster_id)
);

CREATE TABLE IF NOT EXISTS cluster_genes (
	run_id     TEXT NOT NULL,
	cluster_id INTEGER NOT NULL,
	gene_id    TEXT NOT NULL,
	source     TEXT NOT NULL CHECK (source IN ('seed', 'completed')),
	PRIMARY KEY (run_id, cluster_id, gene_id)
);
`

// Store wraps the results database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite results database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open results db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init results schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveRun writes one result and its configuration in a single transaction.
// Gene ids are resolved by the caller via the universe, so the rows carry
// identifiers rather than indices.
func (s *Store) SaveRun(ctx context.Context, cfg pipeline.Config, res *pipeline.Result, geneID func(int) string) error {
	params, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, created_at, params_json) VALUES (?, ?, ?)`,
		res.RunID, time.Now().UTC().Format(time.RFC3339), string(params)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	clusterStm, err := tx.PrepareContext(ctx,
		`INSERT INTO clusters (run_id, cluster_id, size, tightness) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer clusterStm.Close()

	geneStm, err := tx.PrepareContext(ctx,
		`INSERT INTO cluster_genes (run_id, cluster_id, gene_id, source) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer geneStm.Close()

	for _, cl := range res.Clusters {
		if _, err := clusterStm.ExecContext(ctx, res.RunID, cl.ID, cl.Size(), cl.Tightness); err != nil {
			return fmt.Errorf("insert cluster %d: %w", cl.ID, err)
		}
		completed := make(map[int]bool, len(cl.Completed))
		for _, g := range cl.Completed {
			completed[g] = true
		}
		for _, g := range cl.Genes {
			source := "seed"
			if completed[g] {
				source = "completed"
			}
			if _, err := geneStm.ExecContext(ctx, res.RunID, cl.ID, geneID(g), source); err != nil {
				return fmt.Errorf("insert gene %s: %w", geneID(g), err)
			}
		}
	}

	return tx.Commit()
}

// RunSummary is one row of the runs listing.
type RunSummary struct {
	RunID     string
	CreatedAt string
	Clusters  int
	Genes     int
}

// ListRuns returns stored runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.created_at,
		       (SELECT COUNT(*) FROM clusters c WHERE c.run_id = r.run_id),
		       (SELECT COUNT(*) FROM cluster_genes g WHERE g.run_id = r.run_id)
		FROM runs r
		ORDER BY r.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.CreatedAt, &r.Clusters, &r.Genes); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// StoredCluster is a cluster read back from the database.
type StoredCluster struct {
	ClusterID int
	Tightness float64
	Seeded    []string
	Completed []string
}

// GetRun loads every cluster of a run, ordered by cluster id.
func (s *Store) GetRun(ctx context.Context, runID string) ([]StoredCluster, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.cluster_id, c.tightness, g.gene_id, g.source
		FROM clusters c
		JOIN cluster_genes g ON g.run_id = c.run_id AND g.cluster_id = c.cluster_id
		WHERE c.run_id = ?
		ORDER BY c.cluster_id, g.gene_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredCluster
	for rows.Next() {
		var (
			id        int
			tightness float64
			gene      string
			source    string
		)
		if err := rows.Scan(&id, &tightness, &gene, &source); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].ClusterID != id {
			out = append(out, StoredCluster{ClusterID: id, Tightness: tightness})
		}
		cl := &out[len(out)-1]
		if source == "completed" {
			cl.Completed = append(cl.Completed, gene)
		} else {
			cl.Seeded = append(cl.Seeded, gene)
		}
	}
	return out, rows.Err()
}
