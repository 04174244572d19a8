package store

import (
	"errors"
	"time"
)

// ErrNoActivePolicy is returned when no model has been published to the store.
var ErrNoActivePolicy = errors.New("no active policy version")

// #region version-info
// VersionInfo summarises a persisted model without its tree.
type VersionInfo struct {
	VersionID   string
	ParentID    string
	Fingerprint string
	SampleCount int
	CreatedAt   time.Time
	MetricsJSON string
	Active      bool
}

// #endregion version-info

// #region retrain-entry
// RetrainEntry is a single row in the retrain_log table.
type RetrainEntry struct {
	ID               int64
	Cycle            uint64
	InteractionCount uint64
	Status           string // "published" | "rejected" | "failed"
	VersionID        string
	Samples          int
	GateJSON         string
	Reason           string
	StartedAt        time.Time
	Duration         time.Duration
	Manual           bool // run on request, outside the interval schedule
}

// #endregion retrain-entry

// #region gate-record
// GateRecord is the gate verdict serialized into retrain_log.gate_json.
type GateRecord struct {
	Action  string             `json:"action"`
	Reason  string             `json:"reason"`
	Vetoed  bool               `json:"vetoed"`
	Vetoes  []string           `json:"vetoes,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// #endregion gate-record
