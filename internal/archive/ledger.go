package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/PointGo/internal/logic/centering"
	_ "modernc.org/sqlite"
)

// Ledger records acquisition sessions, their attempts and target
// disables in SQLite.
type Ledger struct {
	DB *sql.DB
}

// OpenLedger opens (or creates) the database at path and ensures schema.
// ":memory:" gives a throwaway ledger.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// An in-memory database only exists on the connection that created it.
	db.SetMaxOpenConns(1)
	l := &Ledger{DB: db}
	if err := l.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS acquisition_sessions (
            id TEXT PRIMARY KEY,
            base_ra REAL NOT NULL,
            base_dec REAL NOT NULL,
            exposure_s REAL NOT NULL,
            path_json TEXT NOT NULL,
            outcome TEXT NOT NULL,
            path_index INTEGER,
            correction_ra REAL,
            correction_dec REAL,
            started_at TIMESTAMP NOT NULL,
            finished_at TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS acquisition_attempts (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            session_id TEXT NOT NULL,
            path_index INTEGER NOT NULL,
            offset_ra REAL NOT NULL,
            offset_dec REAL NOT NULL,
            image_path TEXT,
            settled BOOLEAN,
            solver_format TEXT,
            solver_fields TEXT,
            correction_ra REAL,
            correction_dec REAL,
            error_message TEXT,
            started_at TIMESTAMP,
            finished_at TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS target_disables (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            target TEXT NOT NULL,
            disabled_until TIMESTAMP NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_session ON acquisition_attempts(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_disables_target ON target_disables(target);`,
	}
	for _, stmt := range stmts {
		if _, err := l.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (l *Ledger) Close() error {
	if l == nil || l.DB == nil {
		return nil
	}
	return l.DB.Close()
}

// SessionStarted inserts a pending session.
func (l *Ledger) SessionStarted(ctx context.Context, s *centering.Session) error {
	path, err := json.Marshal(s.Path)
	if err != nil {
		return err
	}
	_, err = l.DB.ExecContext(ctx, `INSERT INTO acquisition_sessions
        (id, base_ra, base_dec, exposure_s, path_json, outcome, started_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Base.RA, s.Base.Dec, s.Exposure.Seconds(), string(path), s.Outcome.String(), s.Started.UTC())
	if err != nil {
		return fmt.Errorf("insert session %s: %w", s.ID, err)
	}
	return nil
}

// AttemptFinished appends one attempt of a session.
func (l *Ledger) AttemptFinished(ctx context.Context, s *centering.Session, a centering.Attempt) error {
	var (
		format, fields, errMsg sql.NullString
		corrRA, corrDec        sql.NullFloat64
	)
	if a.Succeeded() {
		corrRA = sql.NullFloat64{Float64: a.Correction.RA, Valid: true}
		corrDec = sql.NullFloat64{Float64: a.Correction.Dec, Valid: true}
	} else {
		errMsg = sql.NullString{String: a.Err.Error(), Valid: true}
	}
	if a.Solution.Format != 0 {
		b, err := json.Marshal(a.Solution.Fields)
		if err != nil {
			return err
		}
		format = sql.NullString{String: a.Solution.Format.String(), Valid: true}
		fields = sql.NullString{String: string(b), Valid: true}
	}
	_, err := l.DB.ExecContext(ctx, `INSERT INTO acquisition_attempts
        (session_id, path_index, offset_ra, offset_dec, image_path, settled,
         solver_format, solver_fields, correction_ra, correction_dec, error_message,
         started_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, a.Index, a.Offset.RA, a.Offset.Dec, nullString(a.Image), a.Settled,
		format, fields, corrRA, corrDec, errMsg,
		a.Started.UTC(), a.Finished.UTC())
	if err != nil {
		return fmt.Errorf("insert attempt %d of %s: %w", a.Index, s.ID, err)
	}
	return nil
}

// SessionFinished stores the outcome of a session.
func (l *Ledger) SessionFinished(ctx context.Context, s *centering.Session) error {
	var corrRA, corrDec sql.NullFloat64
	if s.Outcome == centering.Resolved {
		corrRA = sql.NullFloat64{Float64: s.Correction.RA, Valid: true}
		corrDec = sql.NullFloat64{Float64: s.Correction.Dec, Valid: true}
	}
	res, err := l.DB.ExecContext(ctx, `UPDATE acquisition_sessions
        SET outcome = ?, path_index = ?, correction_ra = ?, correction_dec = ?, finished_at = ?
        WHERE id = ?`,
		s.Outcome.String(), s.Index, corrRA, corrDec, s.Finished.UTC(), s.ID)
	if err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update session %s: not found", s.ID)
	}
	return nil
}

// DisableTarget records that target must not be observed before until.
func (l *Ledger) DisableTarget(ctx context.Context, target string, until time.Time) error {
	_, err := l.DB.ExecContext(ctx,
		`INSERT INTO target_disables (target, disabled_until) VALUES (?, ?)`,
		target, until.UTC())
	if err != nil {
		return fmt.Errorf("disable %s: %w", target, err)
	}
	return nil
}

// DisabledUntil returns the latest recorded disable of target, and false
// if it was never disabled.
func (l *Ledger) DisabledUntil(ctx context.Context, target string) (time.Time, bool, error) {
	var until time.Time
	err := l.DB.QueryRowContext(ctx,
		`SELECT disabled_until FROM target_disables WHERE target = ? ORDER BY disabled_until DESC LIMIT 1`,
		target).Scan(&until)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return until, true, nil
}

// SessionRecord is a stored session row.
type SessionRecord struct {
	ID         string
	Outcome    string
	PathIndex  int
	Attempts   int
	Correction *[2]float64
	StartedAt  time.Time
}

// RecentSessions lists the latest sessions, newest first.
func (l *Ledger) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	rows, err := l.DB.QueryContext(ctx, `SELECT s.id, s.outcome, COALESCE(s.path_index, 0),
            s.correction_ra, s.correction_dec, s.started_at,
            (SELECT COUNT(*) FROM acquisition_attempts a WHERE a.session_id = s.id)
        FROM acquisition_sessions s
        ORDER BY s.started_at DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			rec             SessionRecord
			corrRA, corrDec sql.NullFloat64
		)
		if err := rows.Scan(&rec.ID, &rec.Outcome, &rec.PathIndex, &corrRA, &corrDec, &rec.StartedAt, &rec.Attempts); err != nil {
			return nil, err
		}
		if corrRA.Valid && corrDec.Valid {
			rec.Correction = &[2]float64{corrRA.Float64, corrDec.Float64}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
