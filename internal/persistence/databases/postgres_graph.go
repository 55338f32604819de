package databases

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"citegraph/internal/faults"
)

// graphCommitCeiling bounds the transaction commit inside the indexer; a
// slower commit is reported as a transient fault so the retry policy applies.
const graphCommitCeiling = 5 * time.Second

type pgGraph struct{ pool *pgxpool.Pool }

// NewPostgresGraph creates the node/edge tables if needed and returns a
// GraphDB backed by the pool.
func NewPostgresGraph(ctx context.Context, pool *pgxpool.Pool) (GraphDB, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS graph_nodes (
  id TEXT PRIMARY KEY,
  labels TEXT[] NOT NULL DEFAULT '{}',
  props JSONB NOT NULL DEFAULT '{}'::jsonb
)`,
		`CREATE TABLE IF NOT EXISTS graph_edges (
  source TEXT NOT NULL,
  rel TEXT NOT NULL,
  target TEXT NOT NULL,
  props JSONB NOT NULL DEFAULT '{}'::jsonb,
  PRIMARY KEY (source, rel, target)
)`,
		`CREATE INDEX IF NOT EXISTS graph_edges_dst_rel ON graph_edges(target, rel)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create graph schema: %w", err)
		}
	}
	return &pgGraph{pool: pool}, nil
}

func upsertNode(ctx context.Context, run func(ctx context.Context, sql string, args ...any) error, id string, labels []string, props map[string]any) error {
	if props == nil {
		props = map[string]any{}
	}
	return run(ctx, `
INSERT INTO graph_nodes(id, labels, props) VALUES($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET labels=EXCLUDED.labels, props=EXCLUDED.props
`, id, labels, props)
}

func upsertEdge(ctx context.Context, run func(ctx context.Context, sql string, args ...any) error, srcID, rel, dstID string, props map[string]any) error {
	if props == nil {
		props = map[string]any{}
	}
	return run(ctx, `
INSERT INTO graph_edges(source, rel, target, props) VALUES($1,$2,$3,$4)
ON CONFLICT (source, rel, target) DO UPDATE SET props=EXCLUDED.props
`, srcID, rel, dstID, props)
}

func (g *pgGraph) run(ctx context.Context, sql string, args ...any) error {
	_, err := g.pool.Exec(ctx, sql, args...)
	return err
}

func (g *pgGraph) UpsertNode(ctx context.Context, id string, labels []string, props map[string]any) error {
	return upsertNode(ctx, g.run, id, labels, props)
}

func (g *pgGraph) UpsertEdge(ctx context.Context, srcID, rel, dstID string, props map[string]any) error {
	return upsertEdge(ctx, g.run, srcID, rel, dstID, props)
}

func (g *pgGraph) DeleteNode(ctx context.Context, id string) error {
	if err := g.run(ctx, `DELETE FROM graph_edges WHERE source=$1 OR target=$1`, id); err != nil {
		return err
	}
	return g.run(ctx, `DELETE FROM graph_nodes WHERE id=$1`, id)
}

func (g *pgGraph) Neighbors(ctx context.Context, id string, rel string) ([]string, error) {
	rows, err := g.pool.Query(ctx, `SELECT target FROM graph_edges WHERE source=$1 AND rel=$2 ORDER BY target`, id, rel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (g *pgGraph) NodesByLabel(ctx context.Context, label string) ([]Node, error) {
	rows, err := g.pool.Query(ctx, `SELECT id, labels, props FROM graph_nodes WHERE $1 = ANY(labels) ORDER BY id`, label)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Labels, &n.Props); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (g *pgGraph) GetNode(ctx context.Context, id string) (Node, bool) {
	row := g.pool.QueryRow(ctx, `SELECT labels, props FROM graph_nodes WHERE id=$1`, id)
	var labels []string
	var props map[string]any
	if err := row.Scan(&labels, &props); err != nil {
		return Node{}, false
	}
	return Node{ID: id, Labels: labels, Props: props}, true
}

type pgGraphTx struct{ tx pgx.Tx }

func (t *pgGraphTx) run(ctx context.Context, sql string, args ...any) error {
	_, err := t.tx.Exec(ctx, sql, args...)
	return err
}

func (t *pgGraphTx) UpsertNode(ctx context.Context, id string, labels []string, props map[string]any) error {
	return upsertNode(ctx, t.run, id, labels, props)
}

func (t *pgGraphTx) UpsertEdge(ctx context.Context, srcID, rel, dstID string, props map[string]any) error {
	return upsertEdge(ctx, t.run, srcID, rel, dstID, props)
}

func (t *pgGraphTx) DeleteNode(ctx context.Context, id string) error {
	if err := t.run(ctx, `DELETE FROM graph_edges WHERE source=$1 OR target=$1`, id); err != nil {
		return err
	}
	return t.run(ctx, `DELETE FROM graph_nodes WHERE id=$1`, id)
}

// Batch runs fn inside one transaction. The commit carries a 5 s ceiling;
// exceeding it is surfaced as a transient fault.
func (g *pgGraph) Batch(ctx context.Context, fn func(tx GraphWriter) error) error {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return faults.New(faults.Transient, fmt.Errorf("begin graph tx: %w", err))
	}
	if err := fn(&pgGraphTx{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	commitCtx, cancel := context.WithTimeout(ctx, graphCommitCeiling)
	defer cancel()
	if err := tx.Commit(commitCtx); err != nil {
		_ = tx.Rollback(ctx)
		return faults.New(faults.Transient, fmt.Errorf("commit graph tx: %w", err))
	}
	return nil
}

func (g *pgGraph) Close() { g.pool.Close() }
