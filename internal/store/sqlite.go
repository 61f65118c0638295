package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/miradorstack/mirador-correlator/internal/models"
	"github.com/miradorstack/mirador-correlator/internal/utils"
)

var (
	// ErrNotFound is returned when an incident does not exist.
	ErrNotFound = errors.New("incident not found")
	// ErrInsightLinked is returned when an insight already belongs to an incident other than the target.
	ErrInsightLinked = errors.New("insight already linked to an incident")
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS incidents (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    severity TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active', 'resolved')),
    root_cause_insight_id TEXT NOT NULL,
    related_insight_ids TEXT NOT NULL DEFAULT '[]',
    affected_containers TEXT NOT NULL DEFAULT '[]',
    endpoint_id INTEGER,
    endpoint_name TEXT NOT NULL DEFAULT '',
    correlation_type TEXT NOT NULL,
    correlation_confidence TEXT NOT NULL,
    insight_count INTEGER NOT NULL DEFAULT 0,
    summary TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    resolved_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_incidents_status_created ON incidents(status, created_at DESC);

CREATE TABLE IF NOT EXISTS incident_insights (
    insight_id TEXT PRIMARY KEY,
    incident_id TEXT NOT NULL,
    container_id TEXT NOT NULL DEFAULT '',
    container_name TEXT NOT NULL DEFAULT '',
    attached_at TEXT NOT NULL,
    FOREIGN KEY (incident_id) REFERENCES incidents(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_incident_insights_container ON incident_insights(container_id);
CREATE INDEX IF NOT EXISTS idx_incident_insights_incident ON incident_insights(incident_id);
`,
	},
}

// SQLiteStore persists incidents and insight links in SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies pending migrations.
// Pass ":memory:" for a private in-memory store.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at TEXT NOT NULL
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version, applied_at) VALUES(?, ?)`, m.version, formatTime(s.now())); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping verifies the connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// InsertIncident writes a new incident and its insight links atomically. An insight that is
// already linked to another incident fails the whole insert with ErrInsightLinked.
func (s *SQLiteStore) InsertIncident(ctx context.Context, insert models.IncidentInsert) (models.Incident, error) {
	inc := insert.Incident
	now := s.now().UTC()
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.Status == "" {
		inc.Status = models.IncidentActive
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = now
	}
	inc.UpdatedAt = now
	if inc.RelatedInsightIDs == nil {
		inc.RelatedInsightIDs = []string{}
	}
	if inc.AffectedContainers == nil {
		inc.AffectedContainers = []string{}
	}

	related, err := json.Marshal(inc.RelatedInsightIDs)
	if err != nil {
		return models.Incident{}, fmt.Errorf("encode related insight ids: %w", err)
	}
	containers, err := json.Marshal(inc.AffectedContainers)
	if err != nil {
		return models.Incident{}, fmt.Errorf("encode affected containers: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Incident{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO incidents(id, title, severity, status, root_cause_insight_id, related_insight_ids,
            affected_containers, endpoint_id, endpoint_name, correlation_type, correlation_confidence,
            insight_count, summary, created_at, updated_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		inc.ID, inc.Title, string(inc.Severity), string(inc.Status), inc.RootCauseInsightID, string(related),
		string(containers), nullableInt(inc.EndpointID), inc.EndpointName, string(inc.CorrelationType),
		string(inc.CorrelationConfidence), inc.InsightCount, inc.Summary, formatTime(inc.CreatedAt), formatTime(inc.UpdatedAt),
	)
	if err != nil {
		return models.Incident{}, fmt.Errorf("insert incident: %w", err)
	}

	for _, link := range insert.Links {
		owner, err := linkedIncident(ctx, tx, link.InsightID)
		if err != nil {
			return models.Incident{}, err
		}
		if owner != "" {
			return models.Incident{}, fmt.Errorf("link insight %s (incident %s): %w", link.InsightID, owner, ErrInsightLinked)
		}
		_, err = tx.ExecContext(ctx, `
            INSERT INTO incident_insights(insight_id, incident_id, container_id, container_name, attached_at)
            VALUES(?,?,?,?,?)`,
			link.InsightID, inc.ID, link.ContainerID, link.ContainerName, formatTime(now),
		)
		if err != nil {
			return models.Incident{}, fmt.Errorf("link insight %s: %w", link.InsightID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Incident{}, err
	}
	return inc, nil
}

// GetActiveIncidentForContainer returns the newest active incident that links an insight from
// containerID and was created within the trailing window. It returns (nil, nil) when none exists.
func (s *SQLiteStore) GetActiveIncidentForContainer(ctx context.Context, containerID string, windowMinutes int) (*models.Incident, error) {
	since := utils.WindowStart(s.now().UTC(), windowMinutes)
	row := s.db.QueryRowContext(ctx, `
        SELECT `+incidentColumns+` FROM incidents i
        WHERE i.status = 'active'
          AND i.created_at >= ?
          AND EXISTS (SELECT 1 FROM incident_insights l WHERE l.incident_id = i.id AND l.container_id = ?)
        ORDER BY i.created_at DESC
        LIMIT 1`,
		formatTime(since), containerID,
	)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup active incident: %w", err)
	}
	return inc, nil
}

// AddInsightToIncident links one more insight to an existing incident. Linking an insight that
// is already attached to incidentID is a no-op; one attached elsewhere yields ErrInsightLinked.
func (s *SQLiteStore) AddInsightToIncident(ctx context.Context, incidentID, insightID, containerID, containerName string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	inc, err := scanIncident(tx.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents i WHERE i.id = ?`, incidentID))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load incident: %w", err)
	}

	now := s.now().UTC()
	res, err := tx.ExecContext(ctx, `
        INSERT OR IGNORE INTO incident_insights(insight_id, incident_id, container_id, container_name, attached_at)
        VALUES(?,?,?,?,?)`,
		insightID, incidentID, containerID, containerName, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("link insight %s: %w", insightID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		owner, err := linkedIncident(ctx, tx, insightID)
		if err != nil {
			return err
		}
		if owner != incidentID {
			return fmt.Errorf("link insight %s (incident %s): %w", insightID, owner, ErrInsightLinked)
		}
		return nil
	}

	if insightID != inc.RootCauseInsightID {
		inc.RelatedInsightIDs = appendUnique(inc.RelatedInsightIDs, insightID)
	}
	inc.AffectedContainers = appendUnique(inc.AffectedContainers, containerName)

	related, err := json.Marshal(inc.RelatedInsightIDs)
	if err != nil {
		return fmt.Errorf("encode related insight ids: %w", err)
	}
	containers, err := json.Marshal(inc.AffectedContainers)
	if err != nil {
		return fmt.Errorf("encode affected containers: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
        UPDATE incidents
        SET related_insight_ids = ?, affected_containers = ?, insight_count = insight_count + 1, updated_at = ?
        WHERE id = ?`,
		string(related), string(containers), formatTime(now), incidentID,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	return tx.Commit()
}

// linkedIncident returns the id of the incident insightID is attached to, or "" if none.
func linkedIncident(ctx context.Context, tx *sql.Tx, insightID string) (string, error) {
	var incidentID string
	err := tx.QueryRowContext(ctx, `SELECT incident_id FROM incident_insights WHERE insight_id = ?`, insightID).Scan(&incidentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup link for insight %s: %w", insightID, err)
	}
	return incidentID, nil
}

// GetIncident loads one incident by id.
func (s *SQLiteStore) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	inc, err := scanIncident(s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents i WHERE i.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return inc, nil
}

// ListIncidents returns incidents newest first, optionally filtered by status.
func (s *SQLiteStore) ListIncidents(ctx context.Context, status models.IncidentStatus, limit int) ([]models.Incident, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents i`
	args := []any{}
	if status != "" {
		query += ` WHERE i.status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY i.created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	incidents := make([]models.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, *inc)
	}
	return incidents, rows.Err()
}

// ResolveIncident closes an active incident. Resolving an already resolved incident returns it unchanged.
func (s *SQLiteStore) ResolveIncident(ctx context.Context, id string) (*models.Incident, error) {
	now := formatTime(s.now().UTC())
	_, err := s.db.ExecContext(ctx, `
        UPDATE incidents SET status = 'resolved', resolved_at = ?, updated_at = ?
        WHERE id = ? AND status = 'active'`,
		now, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve incident: %w", err)
	}
	return s.GetIncident(ctx, id)
}

const incidentColumns = `i.id, i.title, i.severity, i.status, i.root_cause_insight_id, i.related_insight_ids,
    i.affected_containers, i.endpoint_id, i.endpoint_name, i.correlation_type, i.correlation_confidence,
    i.insight_count, i.summary, i.created_at, i.updated_at, i.resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var (
		inc                            models.Incident
		severity, status, corrType     string
		confidence, related, container string
		createdAt, updatedAt           string
		endpointID                     sql.NullInt64
		resolvedAt                     sql.NullString
	)
	err := row.Scan(&inc.ID, &inc.Title, &severity, &status, &inc.RootCauseInsightID, &related,
		&container, &endpointID, &inc.EndpointName, &corrType, &confidence,
		&inc.InsightCount, &inc.Summary, &createdAt, &updatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	inc.Severity = models.Severity(severity)
	inc.Status = models.IncidentStatus(status)
	inc.CorrelationType = models.CorrelationType(corrType)
	inc.CorrelationConfidence = models.Confidence(confidence)
	if endpointID.Valid {
		id := int(endpointID.Int64)
		inc.EndpointID = &id
	}
	if err := json.Unmarshal([]byte(related), &inc.RelatedInsightIDs); err != nil {
		return nil, fmt.Errorf("decode related insight ids: %w", err)
	}
	if err := json.Unmarshal([]byte(container), &inc.AffectedContainers); err != nil {
		return nil, fmt.Errorf("decode affected containers: %w", err)
	}
	if inc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if inc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if resolvedAt.Valid && resolvedAt.String != "" {
		t, err := parseTime(resolvedAt.String)
		if err != nil {
			return nil, err
		}
		inc.ResolvedAt = &t
	}
	return &inc, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse time %q: %w", value, err)
	}
	return t.UTC(), nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func appendUnique(values []string, item string) []string {
	if item == "" {
		return values
	}
	for _, v := range values {
		if v == item {
			return values
		}
	}
	return append(values, item)
}
