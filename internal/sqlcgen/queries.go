package sqlcgen

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const createTopologySnapshots = `-- name: CreateTopologySnapshots :exec
CREATE TABLE IF NOT EXISTS topology_snapshots (
  network_id   text PRIMARY KEY,
  snapshot_id  uuid NOT NULL,
  graph        jsonb NOT NULL,
  node_count   integer NOT NULL DEFAULT 0,
  edge_count   integer NOT NULL DEFAULT 0,
  generated_at timestamptz NOT NULL,
  updated_at   timestamptz NOT NULL DEFAULT now()
)
`

func (q *Queries) CreateTopologySnapshots(ctx context.Context) error {
	_, err := q.db.Exec(ctx, createTopologySnapshots)
	return err
}

const upsertTopologySnapshot = `-- name: UpsertTopologySnapshot :exec
INSERT INTO topology_snapshots (network_id, snapshot_id, graph, node_count, edge_count, generated_at)
VALUES ($1, $2::uuid, $3::jsonb, $4, $5, $6)
ON CONFLICT (network_id) DO UPDATE
SET snapshot_id = EXCLUDED.snapshot_id,
    graph = EXCLUDED.graph,
    node_count = EXCLUDED.node_count,
    edge_count = EXCLUDED.edge_count,
    generated_at = EXCLUDED.generated_at,
    updated_at = now()
`

type UpsertTopologySnapshotParams struct {
	NetworkID   string
	SnapshotID  string
	Graph       []byte
	NodeCount   int32
	EdgeCount   int32
	GeneratedAt time.Time
}

func (q *Queries) UpsertTopologySnapshot(ctx context.Context, arg UpsertTopologySnapshotParams) error {
	_, err := q.db.Exec(ctx, upsertTopologySnapshot,
		arg.NetworkID,
		arg.SnapshotID,
		arg.Graph,
		arg.NodeCount,
		arg.EdgeCount,
		arg.GeneratedAt,
	)
	return err
}

const getTopologySnapshot = `-- name: GetTopologySnapshot :one
SELECT network_id,
       snapshot_id::text,
       graph,
       node_count,
       edge_count,
       generated_at,
       updated_at
FROM topology_snapshots
WHERE network_id = $1
`

func (q *Queries) GetTopologySnapshot(ctx context.Context, networkID string) (TopologySnapshot, error) {
	row := q.db.QueryRow(ctx, getTopologySnapshot, networkID)
	var i TopologySnapshot
	err := row.Scan(
		&i.NetworkID,
		&i.SnapshotID,
		&i.Graph,
		&i.NodeCount,
		&i.EdgeCount,
		&i.GeneratedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const deleteTopologySnapshot = `-- name: DeleteTopologySnapshot :execrows
DELETE FROM topology_snapshots WHERE network_id = $1
`

func (q *Queries) DeleteTopologySnapshot(ctx context.Context, networkID string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteTopologySnapshot, networkID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
