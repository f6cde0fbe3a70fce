package sqlcgen

import "time"

type TopologySnapshot struct {
	NetworkID   string
	SnapshotID  string
	Graph       []byte
	NodeCount   int32
	EdgeCount   int32
	GeneratedAt time.Time
	UpdatedAt   time.Time
}
