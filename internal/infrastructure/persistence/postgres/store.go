package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/progression"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store implements progression.Store for PostgreSQL.
type Store struct {
	conn *Connection
}

// NewStore creates a new Store over an open connection.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

// Positions returns a repository bound to the pool.
func (s *Store) Positions() progression.PositionRepository {
	return &positionRepository{conn: s.conn, q: s.conn.Pool()}
}

// Scores returns a repository bound to the pool.
func (s *Store) Scores() progression.ScoreRepository {
	return &scoreRepository{conn: s.conn, q: s.conn.Pool()}
}

// Atomically runs fn inside one read-committed transaction.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, repos progression.Repositories) error) error {
	return s.conn.WithTx(ctx, readCommitted, func(tx pgx.Tx) error {
		return fn(ctx, txRepositories{conn: s.conn, tx: tx})
	})
}

// Ping checks the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.conn.Close()
	return nil
}

// txRepositories binds both repositories to one transaction.
type txRepositories struct {
	conn *Connection
	tx   pgx.Tx
}

func (r txRepositories) Positions() progression.PositionRepository {
	return &positionRepository{conn: r.conn, q: r.tx, inTx: true}
}

func (r txRepositories) Scores() progression.ScoreRepository {
	return &scoreRepository{conn: r.conn, q: r.tx}
}

// ══════════════════════════════════════════════════════════════════════════════
// POSITION REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

type positionRepository struct {
	conn *Connection
	q    Querier
	inTx bool
}

const positionColumns = `user_id, current_lesson_index, total_xp, last_daily_claim, created_at, updated_at`

func scanPosition(row pgx.Row) (*progression.Position, error) {
	var (
		p         progression.Position
		lastClaim *time.Time
	)
	if err := row.Scan(&p.UserID, &p.CurrentLessonIndex, &p.TotalXP, &lastClaim, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if lastClaim != nil {
		t := lastClaim.UTC()
		p.LastDailyClaim = &t
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// Get returns a learner position.
func (r *positionRepository) Get(ctx context.Context, userID string) (*progression.Position, error) {
	return r.get(ctx, userID, false)
}

// GetForUpdate locks the row until the surrounding transaction ends.
func (r *positionRepository) GetForUpdate(ctx context.Context, userID string) (*progression.Position, error) {
	return r.get(ctx, userID, r.inTx)
}

func (r *positionRepository) get(ctx context.Context, userID string, lock bool) (*progression.Position, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + positionColumns + ` FROM learner_positions WHERE user_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	p, err := scanPosition(r.q.QueryRow(ctx, query, userID))
	if err != nil {
		if IsNoRows(err) {
			return nil, progression.ErrPositionNotFound
		}
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return p, nil
}

// Create inserts a new position.
func (r *positionRepository) Create(ctx context.Context, pos *progression.Position) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	// ON CONFLICT keeps the surrounding transaction usable on a duplicate.
	query := `
		INSERT INTO learner_positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO NOTHING
	`

	tag, err := r.q.Exec(ctx, query,
		pos.UserID,
		pos.CurrentLessonIndex,
		pos.TotalXP,
		pos.LastDailyClaim,
		pos.CreatedAt,
		pos.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return progression.ErrPositionExists
		}
		return fmt.Errorf("failed to create position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return progression.ErrPositionExists
	}
	return nil
}

// SetCurrentLessonIndex moves the index forward only.
func (r *positionRepository) SetCurrentLessonIndex(ctx context.Context, userID string, index int) (bool, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	tag, err := r.q.Exec(ctx, `
		UPDATE learner_positions
		SET current_lesson_index = $2
		WHERE user_id = $1 AND current_lesson_index < $2
	`, userID, index)
	if err != nil {
		return false, fmt.Errorf("failed to set lesson index: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	if err := r.ensureExists(ctx, userID); err != nil {
		return false, err
	}
	return false, nil
}

// AddXP adds a non-negative amount and returns the new total.
func (r *positionRepository) AddXP(ctx context.Context, userID string, amount int) (int, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	if amount < 0 {
		amount = 0
	}

	var total int
	err := r.q.QueryRow(ctx, `
		UPDATE learner_positions
		SET total_xp = LEAST(total_xp::BIGINT + $2, $3)::INTEGER
		WHERE user_id = $1
		RETURNING total_xp
	`, userID, amount, int(shared.MaxXP)).Scan(&total)
	if err != nil {
		if IsNoRows(err) {
			return 0, progression.ErrPositionNotFound
		}
		return 0, fmt.Errorf("failed to add xp: %w", err)
	}
	return total, nil
}

// SetLastDailyClaim records the claim time.
func (r *positionRepository) SetLastDailyClaim(ctx context.Context, userID string, at time.Time) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	tag, err := r.q.Exec(ctx, `
		UPDATE learner_positions SET last_daily_claim = $2 WHERE user_id = $1
	`, userID, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to set last daily claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return progression.ErrPositionNotFound
	}
	return nil
}

func (r *positionRepository) ensureExists(ctx context.Context, userID string) error {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM learner_positions WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check position: %w", err)
	}
	if !exists {
		return progression.ErrPositionNotFound
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

type scoreRepository struct {
	conn *Connection
	q    Querier
}

const scoreColumns = `id, user_id, lesson_id, lesson_index, session_id,
	attention_score, memory_score, speed_score, xp_earned, completed_at`

func scanScore(row pgx.Row) (*performance.ScoreRecord, error) {
	var rec performance.ScoreRecord
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
		&rec.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.CompletedAt = rec.CompletedAt.UTC()
	return &rec, nil
}

// Save inserts a score record. A second record for the same session is
// rejected with ErrScoreAlreadyRecorded.
func (r *scoreRepository) Save(ctx context.Context, rec *performance.ScoreRecord) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	scores := rec.Scores.Clamp()

	tag, err := r.q.Exec(ctx, `
		INSERT INTO score_records (`+scoreColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
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
		rec.CompletedAt.UTC(),
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return progression.ErrPositionNotFound
		}
		return fmt.Errorf("failed to save score record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return progression.ErrScoreAlreadyRecorded
	}
	rec.Scores = scores
	return nil
}

// BySession returns the record written for a session.
func (r *scoreRepository) BySession(ctx context.Context, sessionID string) (*performance.ScoreRecord, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rec, err := scanScore(r.q.QueryRow(ctx,
		`SELECT `+scoreColumns+` FROM score_records WHERE session_id = $1`, sessionID))
	if err != nil {
		if IsNoRows(err) {
			return nil, progression.ErrScoreNotFound
		}
		return nil, fmt.Errorf("failed to get score record: %w", err)
	}
	return rec, nil
}

// History returns a learner's records, oldest first.
func (r *scoreRepository) History(ctx context.Context, userID string) ([]performance.ScoreRecord, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.q.Query(ctx, `
		SELECT `+scoreColumns+`
		FROM score_records
		WHERE user_id = $1
		ORDER BY completed_at, id
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
