package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/decision-dialogue/internal/interaction"
	"github.com/danielpatrickdp/decision-dialogue/internal/policy"
	"github.com/danielpatrickdp/decision-dialogue/internal/retrain"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
	_ "modernc.org/sqlite"
)

// #region schema
const ddl = `
CREATE TABLE IF NOT EXISTS interactions (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	record_id     TEXT NOT NULL UNIQUE,
	engine_seq    INTEGER NOT NULL,
	context_json  TEXT NOT NULL,
	action        TEXT NOT NULL,
	source        TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS policy_versions (
	version_id    TEXT PRIMARY KEY,
	parent_id     TEXT,
	fingerprint   TEXT NOT NULL,
	model_json    TEXT NOT NULL,
	sample_count  INTEGER NOT NULL,
	created_at    TEXT NOT NULL,
	metrics_json  TEXT,
	FOREIGN KEY (parent_id) REFERENCES policy_versions(version_id)
);

CREATE TABLE IF NOT EXISTS active_policy (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES policy_versions(version_id)
);

CREATE TABLE IF NOT EXISTS retrain_log (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle              INTEGER NOT NULL,
	interaction_count  INTEGER NOT NULL,
	status             TEXT NOT NULL,
	version_id         TEXT,
	samples            INTEGER NOT NULL,
	gate_json          TEXT,
	reason             TEXT,
	started_at         TEXT NOT NULL,
	duration_ms        INTEGER NOT NULL,
	manual             INTEGER NOT NULL DEFAULT 0
);
`

// #endregion schema

// #region store-struct
// Store persists interactions, policy versions and retrain provenance in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations. All access goes
// through one connection; other processes sharing the file wait up to 5s
// for its lock.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := addColumn(db, "retrain_log", "manual", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// addColumn adds a column missing from databases created before it existed.
func addColumn(db *sql.DB, table, column, decl string) error {
	var n int
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column,
	).Scan(&n); err != nil {
		return fmt.Errorf("table info %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region interactions

// RecordInteraction appends one decision. Records already stored (same ID)
// are ignored so re-recording an imported log is harmless.
func (s *Store) RecordInteraction(ctx context.Context, rec interaction.Record) error {
	ctxJSON, err := json.Marshal(rec.Context.Map())
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO interactions (record_id, engine_seq, context_json, action, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(record_id) DO NOTHING`,
		rec.ID, rec.Seq, string(ctxJSON), string(rec.Action), string(rec.Source),
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

// LoadInteractions returns stored records oldest first. limit > 0 keeps only
// the newest limit records. Context values are coerced back to s's kinds.
func (s *Store) LoadInteractions(ctx context.Context, sch *schema.Schema, limit int) ([]interaction.Record, error) {
	query := `SELECT seq, record_id, context_json, action, source, created_at FROM interactions ORDER BY seq`
	args := []any{}
	if limit > 0 {
		query = `SELECT * FROM (
			SELECT seq, record_id, context_json, action, source, created_at
			FROM interactions ORDER BY seq DESC LIMIT ?
		) ORDER BY seq`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load interactions: %w", err)
	}
	defer rows.Close()

	var out []interaction.Record
	for rows.Next() {
		var (
			seq        int64
			rec        interaction.Record
			ctxJSON    string
			action     string
			source     string
			createdStr string
		)
		if err := rows.Scan(&seq, &rec.ID, &ctxJSON, &action, &source, &createdStr); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		var values map[string]any
		if err := json.Unmarshal([]byte(ctxJSON), &values); err != nil {
			return nil, fmt.Errorf("unmarshal context %s: %w", rec.ID, err)
		}
		rec.Seq = uint64(seq)
		rec.Context = sch.Coerce(values)
		rec.Action = schema.Action(action)
		rec.Source = policy.Kind(source)
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
			return nil, fmt.Errorf("parse created_at of %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountInteractions returns the number of stored interactions.
func (s *Store) CountInteractions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count interactions: %w", err)
	}
	return n, nil
}

// #endregion interactions

// #region retrain-log

// RecordRetrain writes a provenance row for out. A published outcome also
// stores its model and moves the active pointer to it, in one transaction.
func (s *Store) RecordRetrain(ctx context.Context, out retrain.Outcome) error {
	gateJSON, err := json.Marshal(gateRecord(out.Gate))
	if err != nil {
		return fmt.Errorf("marshal gate: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var versionID string
	if out.Model != nil {
		versionID = out.Model.VersionID
	}
	if out.Published() {
		if err := saveModel(ctx, tx, out.Model, string(gateJSON)); err != nil {
			return err
		}
		if err := setActive(ctx, tx, versionID); err != nil {
			return err
		}
	} else {
		// rejected candidates are never stored, so nothing to reference
		versionID = ""
	}

	var reason string
	if out.Err != nil {
		reason = out.Err.Error()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO retrain_log (cycle, interaction_count, status, version_id, samples, gate_json, reason, started_at, duration_ms, manual)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.Cycle, out.Count, string(out.Status), nullIfEmpty(versionID), out.Samples,
		string(gateJSON), nullIfEmpty(reason),
		out.StartedAt.UTC().Format(time.RFC3339Nano), out.Duration.Milliseconds(), out.Manual,
	)
	if err != nil {
		return fmt.Errorf("log retrain: %w", err)
	}
	return tx.Commit()
}

// ListRetrains returns the most recent retrain rows, newest first.
func (s *Store) ListRetrains(ctx context.Context, limit int) ([]RetrainEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cycle, interaction_count, status, version_id, samples, gate_json, reason, started_at, duration_ms, manual
		 FROM retrain_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list retrains: %w", err)
	}
	defer rows.Close()

	var entries []RetrainEntry
	for rows.Next() {
		var e RetrainEntry
		var versionID, gateJSON, reason sql.NullString
		var startedStr string
		var durMs int64
		if err := rows.Scan(&e.ID, &e.Cycle, &e.InteractionCount, &e.Status, &versionID, &e.Samples, &gateJSON, &reason, &startedStr, &durMs, &e.Manual); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.VersionID = versionID.String
		e.GateJSON = gateJSON.String
		e.Reason = reason.String
		if e.StartedAt, err = time.Parse(time.RFC3339Nano, startedStr); err != nil {
			return nil, fmt.Errorf("parse started_at of retrain %d: %w", e.ID, err)
		}
		e.Duration = time.Duration(durMs) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func gateRecord(d retrain.Decision) GateRecord {
	rec := GateRecord{Action: d.Action, Reason: d.Reason, Vetoed: d.Vetoed}
	for _, v := range d.Vetoes {
		rec.Vetoes = append(rec.Vetoes, fmt.Sprintf("%s: %s", v.Type, v.Reason))
	}
	if len(d.Metrics) > 0 {
		rec.Metrics = make(map[string]float64, len(d.Metrics))
		for _, m := range d.Metrics {
			rec.Metrics[m.Name] = m.Value
		}
	}
	return rec
}

// #endregion retrain-log

// #region versions

// SaveModel stores m and makes it the active version.
func (s *Store) SaveModel(ctx context.Context, m *policy.Model) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := saveModel(ctx, tx, m, ""); err != nil {
		return err
	}
	if err := setActive(ctx, tx, m.VersionID); err != nil {
		return err
	}
	return tx.Commit()
}

func saveModel(ctx context.Context, tx *sql.Tx, m *policy.Model, metricsJSON string) error {
	modelJSON, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}

	// A parent trained before this store was attached is not referenced.
	var parentPtr any
	if m.ParentID != "" {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM policy_versions WHERE version_id = ?`, m.ParentID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check parent: %w", err)
		}
		if exists > 0 {
			parentPtr = m.ParentID
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO policy_versions (version_id, parent_id, fingerprint, model_json, sample_count, created_at, metrics_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.VersionID, parentPtr, m.Fingerprint, string(modelJSON), m.SampleCount,
		m.TrainedAt.UTC().Format(time.RFC3339Nano), nullIfEmpty(metricsJSON),
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func setActive(ctx context.Context, tx *sql.Tx, versionID string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO active_policy (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		versionID,
	)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	return nil
}

// ActiveModel loads the model the active pointer references.
func (s *Store) ActiveModel(ctx context.Context) (*policy.Model, error) {
	var versionID string
	err := s.db.QueryRowContext(ctx, `SELECT version_id FROM active_policy WHERE id = 1`).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActivePolicy
	}
	if err != nil {
		return nil, fmt.Errorf("get active: %w", err)
	}
	return s.GetModel(ctx, versionID)
}

// GetModel retrieves a specific model version by ID.
func (s *Store) GetModel(ctx context.Context, id string) (*policy.Model, error) {
	var modelJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT model_json FROM policy_versions WHERE version_id = ?`, id,
	).Scan(&modelJSON)
	if err != nil {
		return nil, fmt.Errorf("get version %s: %w", id, err)
	}
	var m policy.Model
	if err := json.Unmarshal([]byte(modelJSON), &m); err != nil {
		return nil, fmt.Errorf("unmarshal model %s: %w", id, err)
	}
	return &m, nil
}

// Rollback sets the active pointer to a previous version.
func (s *Store) Rollback(ctx context.Context, targetVersionID string) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM policy_versions WHERE version_id = ?`, targetVersionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("version %s not found", targetVersionID)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO active_policy (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`, targetVersionID)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// ListVersions returns the most recent policy versions, newest stored first.
func (s *Store) ListVersions(ctx context.Context, limit int) ([]VersionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT v.version_id, v.parent_id, v.fingerprint, v.sample_count, v.created_at, v.metrics_json,
		        a.version_id IS NOT NULL
		 FROM policy_versions v
		 LEFT JOIN active_policy a ON a.version_id = v.version_id
		 ORDER BY v.rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []VersionInfo
	for rows.Next() {
		var v VersionInfo
		var parentID, metricsJSON sql.NullString
		var createdStr string
		if err := rows.Scan(&v.VersionID, &parentID, &v.Fingerprint, &v.SampleCount, &createdStr, &metricsJSON, &v.Active); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		v.ParentID = parentID.String
		v.MetricsJSON = metricsJSON.String
		if v.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
			return nil, fmt.Errorf("parse created_at of %s: %w", v.VersionID, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// #endregion versions

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
