// Package memory implements an in-process progression.Store for development
// and tests. Data lives as long as the Store value.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/progression"
)

type state struct {
	positions map[string]*progression.Position
	scores    map[string]performance.ScoreRecord // by session id
	seq       map[string]int                     // insertion order by session id
	next      int
}

func newState() *state {
	return &state{
		positions: make(map[string]*progression.Position),
		scores:    make(map[string]performance.ScoreRecord),
		seq:       make(map[string]int),
	}
}

func (s *state) clone() *state {
	c := &state{
		positions: make(map[string]*progression.Position, len(s.positions)),
		scores:    make(map[string]performance.ScoreRecord, len(s.scores)),
		seq:       make(map[string]int, len(s.seq)),
		next:      s.next,
	}
	for k, v := range s.positions {
		c.positions[k] = v.Clone()
	}
	for k, v := range s.scores {
		c.scores[k] = v
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	return c
}

// Store is a mutex-guarded in-memory store. Atomically works on a copy and
// swaps it in on success, so a failed fn leaves no trace.
type Store struct {
	mu   sync.Mutex
	data *state
	now  func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		data: newState(),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Positions returns a repository that locks per call.
func (s *Store) Positions() progression.PositionRepository {
	return &positionRepository{store: s}
}

// Scores returns a repository that locks per call.
func (s *Store) Scores() progression.ScoreRepository {
	return &scoreRepository{store: s}
}

// Atomically serializes fn against every other store call. fn must use the
// repositories it is given; the store's own repositories would deadlock.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, repos progression.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.data.clone()
	if err := fn(ctx, txRepositories{store: s, tx: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// do runs fn against the transaction copy, or under the store lock.
func (s *Store) do(tx *state, fn func(st *state) error) error {
	if tx != nil {
		return fn(tx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

type txRepositories struct {
	store *Store
	tx    *state
}

func (r txRepositories) Positions() progression.PositionRepository {
	return &positionRepository{store: r.store, tx: r.tx}
}

func (r txRepositories) Scores() progression.ScoreRepository {
	return &scoreRepository{store: r.store, tx: r.tx}
}

// ══════════════════════════════════════════════════════════════════════════════
// POSITIONS
// ══════════════════════════════════════════════════════════════════════════════

type positionRepository struct {
	store *Store
	tx    *state
}

func (r *positionRepository) Get(ctx context.Context, userID string) (*progression.Position, error) {
	var out *progression.Position
	err := r.store.do(r.tx, func(st *state) error {
		p, ok := st.positions[userID]
		if !ok {
			return progression.ErrPositionNotFound
		}
		out = p.Clone()
		return nil
	})
	return out, err
}

func (r *positionRepository) GetForUpdate(ctx context.Context, userID string) (*progression.Position, error) {
	return r.Get(ctx, userID)
}

func (r *positionRepository) Create(ctx context.Context, pos *progression.Position) error {
	return r.store.do(r.tx, func(st *state) error {
		if _, ok := st.positions[pos.UserID]; ok {
			return progression.ErrPositionExists
		}
		st.positions[pos.UserID] = pos.Clone()
		return nil
	})
}

func (r *positionRepository) SetCurrentLessonIndex(ctx context.Context, userID string, index int) (bool, error) {
	var moved bool
	err := r.store.do(r.tx, func(st *state) error {
		p, ok := st.positions[userID]
		if !ok {
			return progression.ErrPositionNotFound
		}
		if index > p.CurrentLessonIndex {
			p.CurrentLessonIndex = index
			p.UpdatedAt = r.store.now()
			moved = true
		}
		return nil
	})
	return moved, err
}

func (r *positionRepository) AddXP(ctx context.Context, userID string, amount int) (int, error) {
	var total int
	err := r.store.do(r.tx, func(st *state) error {
		p, ok := st.positions[userID]
		if !ok {
			return progression.ErrPositionNotFound
		}
		p.AddXP(amount)
		p.UpdatedAt = r.store.now()
		total = p.TotalXP
		return nil
	})
	return total, err
}

func (r *positionRepository) SetLastDailyClaim(ctx context.Context, userID string, at time.Time) error {
	return r.store.do(r.tx, func(st *state) error {
		p, ok := st.positions[userID]
		if !ok {
			return progression.ErrPositionNotFound
		}
		t := at.UTC()
		p.LastDailyClaim = &t
		p.UpdatedAt = r.store.now()
		return nil
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORES
// ══════════════════════════════════════════════════════════════════════════════

type scoreRepository struct {
	store *Store
	tx    *state
}

func (r *scoreRepository) Save(ctx context.Context, rec *performance.ScoreRecord) error {
	return r.store.do(r.tx, func(st *state) error {
		if _, ok := st.positions[rec.UserID]; !ok {
			return progression.ErrPositionNotFound
		}
		if _, ok := st.scores[rec.SessionID]; ok {
			return progression.ErrScoreAlreadyRecorded
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.Scores = rec.Scores.Clamp()
		rec.CompletedAt = rec.CompletedAt.UTC()
		st.scores[rec.SessionID] = *rec
		st.seq[rec.SessionID] = st.next
		st.next++
		return nil
	})
}

func (r *scoreRepository) BySession(ctx context.Context, sessionID string) (*performance.ScoreRecord, error) {
	var out *performance.ScoreRecord
	err := r.store.do(r.tx, func(st *state) error {
		rec, ok := st.scores[sessionID]
		if !ok {
			return progression.ErrScoreNotFound
		}
		out = &rec
		return nil
	})
	return out, err
}

func (r *scoreRepository) History(ctx context.Context, userID string) ([]performance.ScoreRecord, error) {
	var out []performance.ScoreRecord
	err := r.store.do(r.tx, func(st *state) error {
		for _, rec := range st.scores {
			if rec.UserID == userID {
				out = append(out, rec)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			a, b := out[i], out[j]
			if !a.CompletedAt.Equal(b.CompletedAt) {
				return a.CompletedAt.Before(b.CompletedAt)
			}
			return st.seq[a.SessionID] < st.seq[b.SessionID]
		})
		return nil
	})
	return out, err
}

var _ progression.Store = (*Store)(nil)
