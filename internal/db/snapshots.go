package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"topoview/internal/sqlcgen"
	"topoview/internal/topology"
)

// SnapshotQueries is the subset of sqlcgen.Queries the snapshot cache uses.
type SnapshotQueries interface {
	UpsertTopologySnapshot(ctx context.Context, arg sqlcgen.UpsertTopologySnapshotParams) error
	GetTopologySnapshot(ctx context.Context, networkID string) (sqlcgen.TopologySnapshot, error)
}

// SnapshotStore keeps the last published graph of each network so a restart
// can show it before the first refresh completes. Only the latest graph is
// kept.
type SnapshotStore struct {
	q SnapshotQueries
}

func NewSnapshotStore(q SnapshotQueries) *SnapshotStore {
	return &SnapshotStore{q: q}
}

func (s *SnapshotStore) SaveSnapshot(ctx context.Context, networkID string, g *topology.Graph) error {
	if s == nil || s.q == nil || g == nil {
		return nil
	}
	networkID = strings.TrimSpace(networkID)
	if networkID == "" {
		return errors.New("snapshot network id is required")
	}
	payload, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.q.UpsertTopologySnapshot(ctx, sqlcgen.UpsertTopologySnapshotParams{
		NetworkID:   networkID,
		SnapshotID:  g.ID.String(),
		Graph:       payload,
		NodeCount:   int32(len(g.Nodes)),
		EdgeCount:   int32(len(g.Edges)),
		GeneratedAt: g.GeneratedAt,
	})
}

// LoadSnapshot returns the cached graph for networkID. ok is false when
// nothing has been cached yet.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context, networkID string) (g *topology.Graph, ok bool, err error) {
	if s == nil || s.q == nil {
		return nil, false, nil
	}
	row, err := s.q.GetTopologySnapshot(ctx, strings.TrimSpace(networkID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var out topology.Graph
	if err := json.Unmarshal(row.Graph, &out); err != nil {
		return nil, false, fmt.Errorf("decode snapshot for %s: %w", networkID, err)
	}
	return &out, true, nil
}
