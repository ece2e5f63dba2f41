package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroswitch/progression-engine/config"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/neuroswitch/progression-engine/pkg/logger"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

const sessionLog = `[
	{"type": "multipleChoice", "isCorrect": true, "reactionTime": 1.5},
	{"type": "multipleChoice", "isCorrect": false, "reactionTime": 1.5},
	{"type": "flipCard", "flipCount": 1}
]`

func TestScoreCmd_FromStdin(t *testing.T) {
	out, err := run(t, sessionLog, "score")
	require.NoError(t, err)

	var report struct {
		DecisionCount int    `json:"decisionCount"`
		CorrectCount  int    `json:"correctCount"`
		MemorySignal  string `json:"memorySignal"`
		Scores        struct {
			Attention int `json:"attentionScore"`
			Memory    int `json:"memoryScore"`
			Speed     int `json:"speedScore"`
		} `json:"scores"`
		XP    int `json:"xp"`
		Bonus int `json:"bonus"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	assert.Equal(t, 2, report.DecisionCount)
	assert.Equal(t, 1, report.CorrectCount)
	assert.Equal(t, "flip_card", report.MemorySignal)
	assert.Equal(t, 50, report.Scores.Attention)
	assert.Equal(t, 100, report.Scores.Memory)
	assert.Equal(t, 100, report.Scores.Speed)
	assert.Equal(t, 83, report.Bonus)
	assert.Equal(t, 133, report.XP)
}

func TestScoreCmd_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o600))

	out, err := run(t, "", "score", "--pretty", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"xp": 83`)
	assert.Contains(t, out, `"memorySignal": "none"`)
}

func TestScoreCmd_RejectsBadEvents(t *testing.T) {
	_, err := run(t, `[{"type": "flipCard"}, {"type": "dance"}]`, "score")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event 1")

	_, err = run(t, `{"type": "flipCard"}`, "score")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode events")
}

func TestCurriculumCmd(t *testing.T) {
	out, err := run(t, "", "curriculum", "print")
	require.NoError(t, err)
	assert.Contains(t, out, "version: 1")

	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(out), 0o600))

	out, err = run(t, "", "curriculum", "validate", path)
	require.NoError(t, err)
	assert.Equal(t, "ok: 4 phases, 28 lessons\n", out)

	require.NoError(t, os.WriteFile(path, []byte("phases: [{title: x, lessons: [{id: a, steps: [dance]}]}]"), 0o600))
	_, err = run(t, "", "curriculum", "validate", path)
	assert.Error(t, err)
}

func TestOpenStore_DefaultsToMemory(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Driver: config.DriverMemory}}
	store, err := openStore(t.Context(), cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	assert.IsType(t, &memory.Store{}, store)
}

func TestOpenStore_SQLiteMemoryIsMigrated(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: ":memory:",
	}}
	store, err := openStore(t.Context(), cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Ping(t.Context()))
	_, err = store.Positions().Get(t.Context(), "nobody")
	assert.Error(t, err)
}

func TestOpenProgressCache_DisabledByConfig(t *testing.T) {
	cfg := &config.Config{Redis: config.RedisConfig{Disabled: true}}
	cache, progress := openProgressCache(t.Context(), cfg, nil, logger.Nop())
	assert.Nil(t, cache)
	assert.Nil(t, progress)
}
