package config

import (
	"errors"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Engine features that can be switched per deployment or rolled out to a
// share of learners.
const (
	FeatureDailyReward  = "engine.daily_reward"  // Daily XP bonus
	FeatureAchievements = "engine.achievements"  // Achievement evaluation and events
	FeatureScoreCache   = "engine.score_cache"   // Redis cache for positions and history
	FeatureScorePreview = "engine.score_preview" // Stateless scoring endpoint
)

// Errors returned when changing flags at runtime.
var (
	ErrFeatureNotFound       = errors.New("feature not found")
	ErrInvalidRolloutPercent = errors.New("rollout percent must be 0-100")
)

// Feature is one toggle. RolloutPercent selects learners by a stable hash
// of their ID; 0 turns the feature off.
type Feature struct {
	Name           string
	Description    string
	RolloutPercent int
}

// defaultFeatures lists every known feature with its default rollout.
var defaultFeatures = []Feature{
	{FeatureDailyReward, "Allow claiming the daily XP reward", 100},
	{FeatureAchievements, "Evaluate achievements and publish unlock events", 100},
	{FeatureScoreCache, "Read positions and score history through Redis", 100},
	// Debug tooling, off unless asked for.
	{FeatureScorePreview, "Expose the stateless score preview endpoint", 0},
}

// FeatureContext identifies the learner a feature is checked for.
type FeatureContext struct {
	UserID string
}

// ForUser returns a FeatureContext for a learner.
func ForUser(userID string) *FeatureContext {
	return &FeatureContext{UserID: userID}
}

// FeatureFlags holds the rollout of each feature plus per-learner overrides.
// A nil *FeatureFlags is usable and reports the defaults.
type FeatureFlags struct {
	mu        sync.RWMutex
	features  map[string]*Feature
	overrides map[string]map[string]bool // userID -> feature -> enabled
}

// LoadFeatureFlags starts from the defaults and applies FEATURE_* variables.
//
//	FEATURE_ENGINE_SCORE_PREVIEW=true   enable for everyone
//	FEATURE_ENGINE_DAILY_REWARD=50      enable for half of the learners
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:  make(map[string]*Feature, len(defaultFeatures)),
		overrides: make(map[string]map[string]bool),
	}
	for _, f := range defaultFeatures {
		if p, ok := rolloutFromEnv(os.Getenv(featureEnvKey(f.Name))); ok {
			f.RolloutPercent = p
		}
		ff.features[f.Name] = &f
	}
	return ff
}

// featureEnvKey maps "engine.daily_reward" to "FEATURE_ENGINE_DAILY_REWARD".
func featureEnvKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

func rolloutFromEnv(val string) (int, bool) {
	if val == "" {
		return 0, false
	}
	if b, err := strconv.ParseBool(val); err == nil {
		if b {
			return 100, true
		}
		return 0, true
	}
	if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
		return p, true
	}
	return 0, false
}

// IsEnabled checks if a feature is enabled for the given context.
// A nil receiver reports every feature as enabled except the preview.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	if ff == nil {
		return featureName != FeatureScorePreview
	}

	ff.mu.RLock()
	defer ff.mu.RUnlock()

	userID := ""
	if ctx != nil {
		userID = ctx.UserID
	}
	if enabled, ok := ff.overrides[userID][featureName]; ok && userID != "" {
		return enabled
	}

	feature, ok := ff.features[featureName]
	if !ok || feature.RolloutPercent <= 0 {
		return false
	}
	if feature.RolloutPercent >= 100 || userID == "" {
		return true
	}
	return inRollout(userID, featureName, feature.RolloutPercent)
}

// inRollout hashes the learner into a stable bucket per feature.
func inRollout(userID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(userID))
	return int(h.Sum32()%100) < percent
}

// SetUserOverride forces a feature on or off for one learner.
func (ff *FeatureFlags) SetUserOverride(userID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if ff.overrides[userID] == nil {
		ff.overrides[userID] = make(map[string]bool)
	}
	ff.overrides[userID][featureName] = enabled
}

// ClearUserOverrides removes all overrides for a learner.
func (ff *FeatureFlags) ClearUserOverrides(userID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.overrides, userID)
}

// SetRolloutPercent updates the rollout of a known feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	feature.RolloutPercent = percent
	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}
