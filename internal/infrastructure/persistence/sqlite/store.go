// Package sqlite implements an embedded single-node store for learner
// positions and score history on database/sql and go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/progression"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
)

// MemoryPath opens a throwaway in-process database.
const MemoryPath = ":memory:"

// Config holds SQLite settings.
type Config struct {
	// Path is the database file or MemoryPath.
	Path string

	// BusyTimeout is how long a writer waits for the database lock.
	BusyTimeout time.Duration

	// QueryTimeout bounds every operation that arrives without a deadline.
	QueryTimeout time.Duration
}

// DSN returns the go-sqlite3 connection string. Transactions take the write
// lock at BEGIN so that reads inside Atomically are serialized.
func (c Config) DSN() string {
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	sep := "?"
	if strings.Contains(c.Path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_foreign_keys=on&_busy_timeout=%d&_txlock=immediate", c.Path, sep, busy.Milliseconds())
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store implements progression.Store for SQLite.
type Store struct {
	db     *sql.DB
	config Config
}

// Open opens the database and applies the embedded schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// Every connection to ":memory:" is a separate database and dies with it.
	if cfg.Path == MemoryPath || strings.HasPrefix(cfg.Path, "file::memory:") {
		db.SetMaxOpenConns(1)
		db.SetConnMaxIdleTime(0)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(4)
		db.SetConnMaxIdleTime(time.Minute)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	s := &Store{db: db, config: cfg}
	if _, err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory opens an in-memory store.
func OpenMemory(ctx context.Context) (*Store, error) {
	return Open(ctx, Config{Path: MemoryPath})
}

// DB exposes the handle for tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Positions returns a repository bound to the database.
func (s *Store) Positions() progression.PositionRepository {
	return &positionRepository{store: s, q: s.db}
}

// Scores returns a repository bound to the database.
func (s *Store) Scores() progression.ScoreRepository {
	return &scoreRepository{store: s, q: s.db}
}

// Atomically runs fn inside one transaction.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, repos progression.Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, txRepositories{store: s, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Ping checks the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.QueryTimeout)
}

type txRepositories struct {
	store *Store
	tx    *sql.Tx
}

func (r txRepositories) Positions() progression.PositionRepository {
	return &positionRepository{store: r.store, q: r.tx}
}

func (r txRepositories) Scores() progression.ScoreRepository {
	return &scoreRepository{store: r.store, q: r.tx}
}

// ══════════════════════════════════════════════════════════════════════════════
// TIME ENCODING
// Timestamps are stored as UTC unix nanoseconds.
// ══════════════════════════════════════════════════════════════════════════════

func encodeTime(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func decodeTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// ══════════════════════════════════════════════════════════════════════════════
// POSITION REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

type positionRepository struct {
	store *Store
	q     querier
}

const positionColumns = `user_id, current_lesson_index, total_xp, last_daily_claim, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (*progression.Position, error) {
	var (
		p                  progression.Position
		lastClaim          sql.NullInt64
		created, updatedAt int64
	)
	if err := row.Scan(&p.UserID, &p.CurrentLessonIndex, &p.TotalXP, &lastClaim, &created, &updatedAt); err != nil {
		return nil, err
	}
	if lastClaim.Valid {
		t := decodeTime(lastClaim.Int64)
		p.LastDailyClaim = &t
	}
	p.CreatedAt = decodeTime(created)
	p.UpdatedAt = decodeTime(updatedAt)
	return &p, nil
}

// Get returns a learner position.
func (r *positionRepository) Get(ctx context.Context, userID string) (*progression.Position, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	p, err := scanPosition(r.q.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM learner_positions WHERE user_id = ?`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, progression.ErrPositionNotFound
		}
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return p, nil
}

// GetForUpdate is Get: the immediate transaction already holds the write lock.
func (r *positionRepository) GetForUpdate(ctx context.Context, userID string) (*progression.Position, error) {
	return r.Get(ctx, userID)
}

// Create inserts a new position.
func (r *positionRepository) Create(ctx context.Context, pos *progression.Position) error {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	var lastClaim any
	if pos.LastDailyClaim != nil {
		lastClaim = encodeTime(*pos.LastDailyClaim)
	}

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO learner_positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING
	`,
		pos.UserID,
		pos.CurrentLessonIndex,
		pos.TotalXP,
		lastClaim,
		encodeTime(pos.CreatedAt),
		encodeTime(pos.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return progression.ErrPositionExists
	}
	return nil
}

// SetCurrentLessonIndex moves the index forward only.
func (r *positionRepository) SetCurrentLessonIndex(ctx context.Context, userID string, index int) (bool, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE learner_positions
		SET current_lesson_index = ?, updated_at = ?
		WHERE user_id = ? AND current_lesson_index < ?
	`, index, encodeTime(time.Now()), userID, index)
	if err != nil {
		return false, fmt.Errorf("failed to set lesson index: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	if err := r.ensureExists(ctx, userID); err != nil {
		return false, err
	}
	return false, nil
}

// AddXP adds a non-negative amount and returns the new total.
func (r *positionRepository) AddXP(ctx context.Context, userID string, amount int) (int, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	if amount < 0 {
		amount = 0
	}

	var total int
	err := r.q.QueryRowContext(ctx, `
		UPDATE learner_positions
		SET total_xp = MIN(total_xp + ?, ?), updated_at = ?
		WHERE user_id = ?
		RETURNING total_xp
	`, amount, int(shared.MaxXP), encodeTime(time.Now()), userID).Scan(&total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, progression.ErrPositionNotFound
		}
		return 0, fmt.Errorf("failed to add xp: %w", err)
	}
	return total, nil
}

// SetLastDailyClaim records the claim time.
func (r *positionRepository) SetLastDailyClaim(ctx context.Context, userID string, at time.Time) error {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE learner_positions SET last_daily_claim = ?, updated_at = ? WHERE user_id = ?
	`, encodeTime(at), encodeTime(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("failed to set last daily claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return progression.ErrPositionNotFound
	}
	return nil
}

func (r *positionRepository) ensureExists(ctx context.Context, userID string) error {
	var one int
	err := r.q.QueryRowContext(ctx, `SELECT 1 FROM learner_positions WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return progression.ErrPositionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check position: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

type scoreRepository struct {
	store *Store
	q     querier
}

const scoreColumns = `id, user_id, lesson_id, lesson_index, session_id,
	attention_score, memory_score, speed_score, xp_earned, completed_at`

func scanScore(row rowScanner) (*performance.ScoreRecord, error) {
	var (
		rec         performance.ScoreRecord
		completedAt int64
	)
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.LessonID,
		&rec.LessonIndex,
		&rec.SessionID,
		&rec.Scores.Attention,
		&rec.Scores.Memory,
		&rec.Scores.Speed,
		&rec.XP,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.CompletedAt = decodeTime(completedAt)
	return &rec, nil
}

// isForeignKeyViolation reports a failed REFERENCES check.
func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

// Save inserts a score record. A second record for the same session is
// rejected with ErrScoreAlreadyRecorded.
func (r *scoreRepository) Save(ctx context.Context, rec *performance.ScoreRecord) error {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	scores := rec.Scores.Clamp()

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO score_records (`+scoreColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO NOTHING
	`,
		rec.ID,
		rec.UserID,
		rec.LessonID,
		rec.LessonIndex,
		rec.SessionID,
		scores.Attention,
		scores.Memory,
		scores.Speed,
		rec.XP,
		encodeTime(rec.CompletedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return progression.ErrPositionNotFound
		}
		return fmt.Errorf("failed to save score record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return progression.ErrScoreAlreadyRecorded
	}
	rec.Scores = scores
	return nil
}

// BySession returns the record written for a session.
func (r *scoreRepository) BySession(ctx context.Context, sessionID string) (*performance.ScoreRecord, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	rec, err := scanScore(r.q.QueryRowContext(ctx,
		`SELECT `+scoreColumns+` FROM score_records WHERE session_id = ?`, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, progression.ErrScoreNotFound
		}
		return nil, fmt.Errorf("failed to get score record: %w", err)
	}
	return rec, nil
}

// History returns a learner's records, oldest first.
func (r *scoreRepository) History(ctx context.Context, userID string) ([]performance.ScoreRecord, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT `+scoreColumns+`
		FROM score_records
		WHERE user_id = ?
		ORDER BY completed_at, rowid
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query score history: %w", err)
	}
	defer rows.Close()

	var records []performance.ScoreRecord
	for rows.Next() {
		rec, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate score history: %w", err)
	}
	return records, nil
}

var _ progression.Store = (*Store)(nil)
