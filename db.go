package main

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// HistoryStore keeps a local record of fetched incidents and written stat
// values so past reports can be inspected without refetching.
type HistoryStore struct {
	db *sql.DB
}

func NewHistoryStore(path string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS incidents (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_id     TEXT NOT NULL UNIQUE,
		team_key        TEXT NOT NULL,
		title           TEXT NOT NULL,
		urgency         TEXT DEFAULT '',
		resolution_type TEXT DEFAULT '',
		timed_out       INTEGER DEFAULT 0,
		created_at      DATETIME NOT NULL,
		acknowledged_at DATETIME,
		resolved_at     DATETIME,
		recorded_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_team ON incidents(team_key);
	CREATE INDEX IF NOT EXISTS idx_incidents_created ON incidents(created_at);

	CREATE TABLE IF NOT EXISTS stat_history (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		team_key     TEXT NOT NULL,
		window_start DATETIME NOT NULL,
		window_end   DATETIME NOT NULL,
		section      TEXT NOT NULL,
		metric_key   TEXT NOT NULL,
		label        TEXT DEFAULT '',
		value        TEXT NOT NULL,
		recorded_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_stat_history_team ON stat_history(team_key, window_start);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	return &HistoryStore{db: db}, nil
}

func (s *HistoryStore) Close() error { return s.db.Close() }

// RecordIncidents upserts fetched incidents keyed by their PagerDuty ID, so
// refreshing the same window twice does not duplicate rows.
func (s *HistoryStore) RecordIncidents(teamKey string, incidents []Incident) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO incidents (incident_id, team_key, title, urgency, resolution_type, timed_out, created_at, acknowledged_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, inc := range incidents {
		_, err := stmt.Exec(
			inc.ID, teamKey, inc.Title, inc.Urgency, inc.ResolutionType, inc.TimedOut,
			inc.CreatedAt, nullableTime(inc.FirstAckAt), nullableTime(inc.ResolvedAt),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecordStats appends one row per written stat value.
func (s *HistoryStore) RecordStats(teamKey string, window TimeWindow, section string, values []StatValue) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO stat_history (team_key, window_start, window_end, section, metric_key, label, value)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, v := range values {
		if _, err := stmt.Exec(teamKey, window.Start, window.End, section, v.Key, v.Label, v.Value); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// StatRecord is one historical stat value with its window.
type StatRecord struct {
	TeamKey     string
	WindowStart time.Time
	WindowEnd   time.Time
	Section     string
	MetricKey   string
	Label       string
	Value       string
}

// StatsForTeam returns a team's recorded stat values, newest window first.
func (s *HistoryStore) StatsForTeam(teamKey string, limit int) ([]StatRecord, error) {
	rows, err := s.db.Query(
		`SELECT team_key, window_start, window_end, section, metric_key, label, value
		 FROM stat_history WHERE team_key = ?
		 ORDER BY window_start DESC, id ASC LIMIT ?`,
		teamKey, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []StatRecord
	for rows.Next() {
		var r StatRecord
		if err := rows.Scan(&r.TeamKey, &r.WindowStart, &r.WindowEnd, &r.Section, &r.MetricKey, &r.Label, &r.Value); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// IncidentsForTeam returns recorded incidents created inside the window.
func (s *HistoryStore) IncidentsForTeam(teamKey string, window TimeWindow) ([]Incident, error) {
	rows, err := s.db.Query(
		`SELECT incident_id, title, urgency, resolution_type, timed_out, created_at, acknowledged_at, resolved_at
		 FROM incidents WHERE team_key = ? AND created_at >= ? AND created_at <= ?
		 ORDER BY created_at, id`,
		teamKey, window.Start, window.End,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []Incident
	for rows.Next() {
		var inc Incident
		var acked, resolved sql.NullTime
		if err := rows.Scan(&inc.ID, &inc.Title, &inc.Urgency, &inc.ResolutionType, &inc.TimedOut, &inc.CreatedAt, &acked, &resolved); err != nil {
			return nil, err
		}
		if acked.Valid {
			inc.FirstAckAt = acked.Time
		}
		if resolved.Valid {
			inc.ResolvedAt = resolved.Time
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
