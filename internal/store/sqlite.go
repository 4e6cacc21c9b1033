package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/vidsight/internal/session"
)

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting across connections.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sessionColumns = `id, user_id, status, ai_model, analysis_mode, keep_video, storage_type,
	master_video_path, last_window_start, current_length, title, start_time, end_time,
	created_at, updated_at`

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *session.Session) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, string(sess.Status), sess.AIModel, string(sess.AnalysisMode),
		sess.KeepVideo, sess.StorageType, nullString(sess.MasterVideoPath),
		sess.LastWindowStartTime, sess.CurrentVideoLength, nullString(sess.Title),
		unixSeconds(sess.StartTime), nullTime(sess.EndTime),
		unixSeconds(sess.CreatedAt), unixSeconds(sess.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *session.Session) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET
		status = ?, master_video_path = ?, last_window_start = ?, current_length = ?,
		end_time = ?, updated_at = ?
		WHERE id = ?`,
		string(sess.Status), nullString(sess.MasterVideoPath), sess.LastWindowStartTime,
		sess.CurrentVideoLength, nullTime(sess.EndTime),
		unixSeconds(sess.UpdatedAt), sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sess.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) SetSessionTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`,
		nullString(title), unixSeconds(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set session title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM analysis_records WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete analysis records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM video_chunks WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*session.Session, error) {
	var (
		sess                    session.Session
		status, mode            string
		master, title           sql.NullString
		start, created, updated float64
		end                     sql.NullFloat64
	)
	err := row.Scan(&sess.ID, &sess.UserID, &status, &sess.AIModel, &mode, &sess.KeepVideo,
		&sess.StorageType, &master, &sess.LastWindowStartTime, &sess.CurrentVideoLength,
		&title, &start, &end, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.Status = session.Status(status)
	sess.AnalysisMode = session.AnalysisMode(mode)
	sess.MasterVideoPath = master.String
	sess.Title = title.String
	sess.StartTime = timeFromUnix(start)
	sess.EndTime = timePtr(end)
	sess.CreatedAt = timeFromUnix(created)
	sess.UpdatedAt = timeFromUnix(updated)
	return &sess, nil
}

func (s *SQLiteStore) CreateChunk(ctx context.Context, c *session.VideoChunk) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO video_chunks
		(id, session_id, chunk_index, storage_path, declared_duration, status, uploaded_at, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.ChunkIndex, nullString(c.StoragePath), c.DeclaredDuration,
		string(c.Status), unixSeconds(c.UploadedAt), nullTime(c.AnalyzedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("chunk %d of session %s: %w", c.ChunkIndex, c.SessionID, ErrDuplicateChunk)
		}
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateChunk(ctx context.Context, c *session.VideoChunk) error {
	_, err := s.db.ExecContext(ctx, `UPDATE video_chunks SET
		storage_path = ?, status = ?, analyzed_at = ? WHERE id = ?`,
		nullString(c.StoragePath), string(c.Status), nullTime(c.AnalyzedAt), c.ID)
	if err != nil {
		return fmt.Errorf("update chunk: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListChunks(ctx context.Context, sessionID string) ([]*session.VideoChunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, chunk_index, storage_path,
		declared_duration, status, uploaded_at, analyzed_at
		FROM video_chunks WHERE session_id = ? ORDER BY chunk_index ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var out []*session.VideoChunk
	for rows.Next() {
		var (
			c        session.VideoChunk
			path     sql.NullString
			status   string
			uploaded float64
			analyzed sql.NullFloat64
		)
		if err := rows.Scan(&c.ID, &c.SessionID, &c.ChunkIndex, &path, &c.DeclaredDuration,
			&status, &uploaded, &analyzed); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.StoragePath = path.String
		c.Status = session.ChunkStatus(status)
		c.UploadedAt = timeFromUnix(uploaded)
		c.AnalyzedAt = timePtr(analyzed)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendAnalysisRecord(ctx context.Context, r *session.AnalysisRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analysis_records WHERE session_id = ?`, r.SessionID).Scan(&count); err != nil {
		return fmt.Errorf("count records: %w", err)
	}
	if r.WindowIndex != count {
		return fmt.Errorf("%w: got %d, have %d records", ErrWindowIndexMismatch, r.WindowIndex, count)
	}

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.RefinedContent == "" {
		r.RefinedContent = r.Content
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO analysis_records
		(id, session_id, chunk_id, window_index, content, refined_content, start_offset,
		 end_offset, video_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, nullString(r.ChunkID), r.WindowIndex, r.Content, r.RefinedContent,
		r.StartOffset, r.EndOffset, r.VideoPath, unixSeconds(r.CreatedAt)); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) CountAnalysisRecords(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analysis_records WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

const recordColumns = `id, session_id, chunk_id, window_index, content, refined_content,
	start_offset, end_offset, video_path, created_at`

func (s *SQLiteStore) LastAnalysisRecord(ctx context.Context, sessionID string) (*session.AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM analysis_records
		WHERE session_id = ? ORDER BY window_index DESC LIMIT 1`, sessionID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *SQLiteStore) ListAnalysisRecords(ctx context.Context, sessionID string) ([]*session.AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM analysis_records
		WHERE session_id = ? ORDER BY window_index ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []*session.AnalysisRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRecord(row scanner) (*session.AnalysisRecord, error) {
	var (
		r       session.AnalysisRecord
		chunkID sql.NullString
		created float64
	)
	err := row.Scan(&r.ID, &r.SessionID, &chunkID, &r.WindowIndex, &r.Content, &r.RefinedContent,
		&r.StartOffset, &r.EndOffset, &r.VideoPath, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}
	r.ChunkID = chunkID.String
	r.CreatedAt = timeFromUnix(created)
	return &r, nil
}

func (s *SQLiteStore) GetUserMemory(ctx context.Context, userID string) (string, error) {
	var memory string
	err := s.db.QueryRowContext(ctx, `SELECT memory FROM user_memory WHERE user_id = ?`, userID).Scan(&memory)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && memory == "") {
		return session.EmptyMemory, nil
	}
	if err != nil {
		return "", fmt.Errorf("query memory: %w", err)
	}
	return memory, nil
}

func (s *SQLiteStore) PutUserMemory(ctx context.Context, userID, memory string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_memory (user_id, memory, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET memory = excluded.memory, updated_at = excluded.updated_at`,
		userID, memory, unixSeconds(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullFloat64 {
	if t == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: unixSeconds(*t), Valid: true}
}

func timePtr(v sql.NullFloat64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := timeFromUnix(v.Float64)
	return &t
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func timeFromUnix(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(math.Round(frac*1e6))*1e3).UTC()
}
