// Package storage persists search sessions, their segments and fetched
// subtitles in PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/pinpoint-video/worker/internal/models"
)

// Session statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// SessionStore handles PostgreSQL persistence for search sessions.
type SessionStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSessionStore connects to PostgreSQL and ensures the schema exists.
func NewSessionStore(postgresURL string, logger zerolog.Logger) (*SessionStore, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &SessionStore{
		db:     db,
		logger: logger.With().Str("component", "session_store").Logger(),
	}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *SessionStore) initSchema() error {
	tableSchema := `
	CREATE SCHEMA IF NOT EXISTS pinpoint;

	-- Search sessions, one row per job
	CREATE TABLE IF NOT EXISTS pinpoint.sessions (
		job_id VARCHAR(255) PRIMARY KEY,
		query TEXT NOT NULL,
		status VARCHAR(50) NOT NULL,
		integrated_summary TEXT,
		search_stats JSONB,
		processing_time_sec FLOAT,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP
	);

	-- Ranked segments of a completed session
	CREATE TABLE IF NOT EXISTS pinpoint.segments (
		id SERIAL PRIMARY KEY,
		job_id VARCHAR(255) NOT NULL REFERENCES pinpoint.sessions(job_id) ON DELETE CASCADE,
		position INT NOT NULL,
		video_id VARCHAR(255) NOT NULL,
		title TEXT,
		channel_name TEXT,
		duration_sec FLOAT,
		published_at TIMESTAMP,
		start_sec FLOAT NOT NULL,
		end_sec FLOAT NOT NULL,
		confidence FLOAT NOT NULL,
		summary TEXT,
		degraded BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Subtitles fetched during a session, kept for replay and debugging
	CREATE TABLE IF NOT EXISTS pinpoint.subtitles (
		job_id VARCHAR(255) NOT NULL REFERENCES pinpoint.sessions(job_id) ON DELETE CASCADE,
		video_id VARCHAR(255) NOT NULL,
		language VARCHAR(50),
		auto_generated BOOLEAN,
		chunks JSONB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (job_id, video_id)
	);
	`

	if _, err := s.db.Exec(tableSchema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	indexStatements := []string{
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON pinpoint.sessions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON pinpoint.sessions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_segments_job_id ON pinpoint.segments(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_segments_video_id ON pinpoint.segments(video_id)`,
		`CREATE INDEX IF NOT EXISTS idx_subtitles_video_id ON pinpoint.subtitles(video_id)`,
	}
	for _, stmt := range indexStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create index: %w (statement: %s)", err, stmt)
		}
	}
	return nil
}

// CreateSession inserts a pending session. Re-enqueued jobs reset to pending.
func (s *SessionStore) CreateSession(ctx context.Context, jobID, query string) error {
	stmt := `
		INSERT INTO pinpoint.sessions (job_id, query, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id) DO UPDATE SET
			query = EXCLUDED.query,
			status = EXCLUDED.status,
			error = NULL
	`
	_, err := s.db.ExecContext(ctx, stmt, jobID, query, StatusPending)
	return err
}

// UpdateStatus moves a session to a new status. Terminal statuses stamp
// completed_at.
func (s *SessionStore) UpdateStatus(ctx context.Context, jobID, status, errorMsg string) error {
	stmt := `
		UPDATE pinpoint.sessions
		SET status = $2,
		    error = NULLIF($3, ''),
		    completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE job_id = $1
	`
	_, err := s.db.ExecContext(ctx, stmt, jobID, status, errorMsg)
	return err
}

// StoreResult persists a finished run: the session summary row plus its
// segments, atomically.
func (s *SessionStore) StoreResult(ctx context.Context, jobID string, result *models.SearchResult) error {
	statsJSON, err := json.Marshal(result.SearchStats)
	if err != nil {
		return fmt.Errorf("marshal search stats: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	sessionStmt := `
		UPDATE pinpoint.sessions
		SET status = $2,
		    integrated_summary = $3,
		    search_stats = $4,
		    processing_time_sec = $5,
		    completed_at = CURRENT_TIMESTAMP
		WHERE job_id = $1
	`
	if _, err := tx.ExecContext(ctx, sessionStmt, jobID, StatusCompleted,
		result.IntegratedSummary, statsJSON, result.ProcessingTimeSec); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pinpoint.segments WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("clear segments: %w", err)
	}

	segmentStmt := `
		INSERT INTO pinpoint.segments (job_id, position, video_id, title, channel_name,
			duration_sec, published_at, start_sec, end_sec, confidence, summary, degraded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	for i, seg := range result.Segments {
		var publishedAt any
		if !seg.Video.PublishedAt.IsZero() {
			publishedAt = seg.Video.PublishedAt
		}
		if _, err := tx.ExecContext(ctx, segmentStmt,
			jobID,
			i,
			seg.Video.VideoID,
			seg.Video.Title,
			seg.Video.ChannelName,
			seg.Video.DurationSec,
			publishedAt,
			seg.Range.StartSec,
			seg.Range.EndSec,
			seg.Confidence,
			seg.Summary,
			seg.IsDegraded(),
		); err != nil {
			return fmt.Errorf("insert segment %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// StoreSubtitle upserts one fetched subtitle for the session.
func (s *SessionStore) StoreSubtitle(ctx context.Context, jobID string, sub *models.Subtitle) error {
	chunksJSON, err := json.Marshal(sub.Chunks)
	if err != nil {
		return fmt.Errorf("marshal chunks: %w", err)
	}

	stmt := `
		INSERT INTO pinpoint.subtitles (job_id, video_id, language, auto_generated, chunks)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id, video_id) DO UPDATE SET
			language = EXCLUDED.language,
			auto_generated = EXCLUDED.auto_generated,
			chunks = EXCLUDED.chunks
	`
	_, err = s.db.ExecContext(ctx, stmt, jobID, sub.VideoID, sub.Language, sub.IsAutoGenerated, chunksJSON)
	return err
}

// LoadResult reads back a completed session with its segments in rank order.
func (s *SessionStore) LoadResult(ctx context.Context, jobID string) (*models.SearchResult, error) {
	var (
		result    models.SearchResult
		statsJSON []byte
		summary   sql.NullString
		elapsed   sql.NullFloat64
	)
	sessionStmt := `
		SELECT query, integrated_summary, search_stats, processing_time_sec
		FROM pinpoint.sessions
		WHERE job_id = $1 AND status = $2
	`
	err := s.db.QueryRowContext(ctx, sessionStmt, jobID, StatusCompleted).Scan(
		&result.Query, &summary, &statsJSON, &elapsed)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", jobID, err)
	}
	result.IntegratedSummary = summary.String
	result.ProcessingTimeSec = elapsed.Float64
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &result.SearchStats); err != nil {
			return nil, fmt.Errorf("unmarshal search stats: %w", err)
		}
	}

	segmentStmt := `
		SELECT video_id, title, channel_name, duration_sec, published_at,
			start_sec, end_sec, confidence, summary
		FROM pinpoint.segments
		WHERE job_id = $1
		ORDER BY position
	`
	rows, err := s.db.QueryContext(ctx, segmentStmt, jobID)
	if err != nil {
		return nil, fmt.Errorf("load segments %s: %w", jobID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seg         models.VideoSegment
			publishedAt sql.NullTime
			segSummary  sql.NullString
		)
		if err := rows.Scan(
			&seg.Video.VideoID,
			&seg.Video.Title,
			&seg.Video.ChannelName,
			&seg.Video.DurationSec,
			&publishedAt,
			&seg.Range.StartSec,
			&seg.Range.EndSec,
			&seg.Confidence,
			&segSummary,
		); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg.Video.PublishedAt = publishedAt.Time
		seg.Summary = segSummary.String
		result.Segments = append(result.Segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments: %w", err)
	}
	return &result, nil
}

// Close releases the connection pool.
func (s *SessionStore) Close() error {
	return s.db.Close()
}
