// Package history keeps a log of synthesis calls. Only metadata is stored:
// no text and no audio.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loqalabs/loqa-tts/internal/config"
	_ "modernc.org/sqlite"
)

const (
	ModeBatch  = "batch"
	ModeStream = "stream"

	StatusOK    = "ok"
	StatusError = "error"

	defaultLimit    = 100
	ephemeralRecent = 1000
)

// Record describes one synthesis call.
type Record struct {
	ID         string    `json:"id"`
	Voice      string    `json:"voice"`
	Family     string    `json:"family"`
	Mode       string    `json:"mode"`
	SpeakerID  int       `json:"speaker_id"`
	Speed      float64   `json:"speed"`
	TextLength int       `json:"text_length"`
	SampleRate int       `json:"sample_rate"`
	Samples    int64     `json:"samples"`
	Chunks     int       `json:"chunks"`
	Elapsed    int64     `json:"elapsed_ms"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is a sqlite-backed history. In ephemeral mode it keeps the most
// recent records in memory instead.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time

	mu     sync.Mutex
	recent []Record
}

func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "history"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS syntheses (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL,
    voice TEXT NOT NULL,
    family TEXT,
    mode TEXT NOT NULL,
    speaker_id INTEGER NOT NULL,
    speed REAL NOT NULL,
    text_length INTEGER NOT NULL,
    sample_rate INTEGER,
    samples INTEGER,
    chunks INTEGER,
    elapsed_ms INTEGER,
    status TEXT NOT NULL,
    error TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_syntheses_created ON syntheses(created_at);
CREATE INDEX IF NOT EXISTS idx_syntheses_voice ON syntheses(voice, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append writes one record. CreatedAt defaults to now.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.recent = append(s.recent, rec)
		if limit := s.ephemeralLimit(); len(s.recent) > limit {
			s.recent = append([]Record(nil), s.recent[len(s.recent)-limit:]...)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO syntheses(id, voice, family, mode, speaker_id, speed, text_length, sample_rate, samples, chunks, elapsed_ms, status, error, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Voice, rec.Family, rec.Mode, rec.SpeakerID, rec.Speed, rec.TextLength,
		rec.SampleRate, rec.Samples, rec.Chunks, rec.Elapsed, rec.Status, rec.Error, rec.CreatedAt.UnixMilli())
	return err
}

// Recent returns up to limit records, newest first, optionally for one voice.
func (s *Store) Recent(ctx context.Context, voice string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		var out []Record
		for i := len(s.recent) - 1; i >= 0 && len(out) < limit; i-- {
			if voice == "" || s.recent[i].Voice == voice {
				out = append(out, s.recent[i])
			}
		}
		return out, nil
	}

	query := `SELECT id, voice, family, mode, speaker_id, speed, text_length, sample_rate, samples, chunks, elapsed_ms, status, error, created_at
		 FROM syntheses`
	args := []any{}
	if voice != "" {
		query += ` WHERE voice = ?`
		args = append(args, voice)
	}
	query += ` ORDER BY created_at DESC, seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var family, errMsg sql.NullString
		var created int64
		if err := rows.Scan(&r.ID, &r.Voice, &family, &r.Mode, &r.SpeakerID, &r.Speed, &r.TextLength,
			&r.SampleRate, &r.Samples, &r.Chunks, &r.Elapsed, &r.Status, &errMsg, &created); err != nil {
			return nil, err
		}
		r.Family, r.Error = family.String, errMsg.String
		r.CreatedAt = time.UnixMilli(created).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// Prune applies retention_days and max_records.
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM syntheses WHERE created_at < ?`, cutoff.UnixMilli()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRecords > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM syntheses WHERE seq IN (
			SELECT seq FROM syntheses ORDER BY created_at DESC, seq DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRecords)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ephemeralLimit() int {
	if s.cfg.MaxRecords > 0 {
		return s.cfg.MaxRecords
	}
	return ephemeralRecent
}
