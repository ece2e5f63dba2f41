package command

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/progression"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/neuroswitch/progression-engine/pkg/timeutil"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

// testCurriculum: two phases of two lessons each.
func testCurriculum(t *testing.T) *progression.Curriculum {
	t.Helper()
	steps := []performance.Kind{performance.KindFlipCard, performance.KindMultipleChoice}
	c, err := progression.NewCurriculum([]progression.PhaseDefinition{
		{Title: "Vocabulary", Lessons: []progression.LessonDefinition{
			{ID: "vocab-01", Title: "Greetings", Steps: steps},
			{ID: "vocab-02", Title: "Numbers", Steps: steps},
		}},
		{Title: "Pictures", Lessons: []progression.LessonDefinition{
			{ID: "picture-01", Title: "Animals", Steps: steps},
			{ID: "picture-02", Title: "Food", Steps: steps},
		}},
	})
	require.NoError(t, err)
	return c
}

func testConfig() HandlerConfig {
	return HandlerConfig{
		StoreAttempts:     3,
		StoreInitialDelay: time.Millisecond,
		Clock:             &timeutil.FixedClock{T: testNow},
	}
}

func registered(t *testing.T, store progression.Store, userID string) {
	t.Helper()
	pos, err := progression.NewPosition(userID, testNow)
	require.NoError(t, err)
	require.NoError(t, store.Positions().Create(context.Background(), pos))
}

// recordingPublisher keeps published events in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

// flakyStore fails the first failures transactions with err.
type flakyStore struct {
	*memory.Store
	failures int32
	err      error
	calls    atomic.Int32
}

func (s *flakyStore) Atomically(ctx context.Context, fn func(ctx context.Context, repos progression.Repositories) error) error {
	if s.calls.Add(1) <= s.failures {
		return s.err
	}
	return s.Store.Atomically(ctx, fn)
}

var errConnReset = errors.New("connection reset by peer")
