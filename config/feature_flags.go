package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles. Supports gradual per-student
// rollout via consistent hashing and time-based activation windows.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	studentOverrides map[string]map[string]bool // studentID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100). Students are assigned to buckets by
	// a hash of their ID, so a given student stays in or out of the
	// rollout as the percentage grows.
	RolloutPercent int

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
// A nil context evaluates the flag globally.
type FeatureContext struct {
	StudentID string
}

// Predefined feature flag names.
const (
	// === Leaderboard ===
	FeatureLeaderboardCache       = "leaderboard.cache"        // keep rankings warm in Redis
	FeatureLeaderboardStreakBoard = "leaderboard.streak_board" // rank by current streak

	// === Engine bonuses ===
	FeatureEngineSpeedBonus   = "engine.speed_bonus"   // bonus for fast mastery
	FeatureEnginePerfectBonus = "engine.perfect_bonus" // bonus for a perfect score

	// === Background jobs ===
	FeatureJobsWeeklyRollover = "jobs.weekly_rollover"    // end-of-week signal intake
	FeatureJobsPeerHelpSync   = "jobs.peer_help_sync"     // peer-help signal intake
	FeatureJobsReconcile      = "jobs.reconcile_accounts" // ledger consistency sweep

	// === Experimental ===
	FeatureExperimentalRedisBus = "experimental.redis_bus" // Redis pub/sub event bus
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature),
		studentOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureLeaderboardCache] = &Feature{
		Name:           FeatureLeaderboardCache,
		Description:    "Keep leaderboard projections warm in Redis",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureLeaderboardStreakBoard] = &Feature{
		Name:           FeatureLeaderboardStreakBoard,
		Description:    "Serve the streak-ranked leaderboard",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureEngineSpeedBonus] = &Feature{
		Name:           FeatureEngineSpeedBonus,
		Description:    "Bonus points for mastering a concept quickly",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureEnginePerfectBonus] = &Feature{
		Name:           FeatureEnginePerfectBonus,
		Description:    "Bonus points for a perfect score on a status change",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureJobsWeeklyRollover] = &Feature{
		Name:           FeatureJobsWeeklyRollover,
		Description:    "Apply end-of-week signals from the external feed",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureJobsPeerHelpSync] = &Feature{
		Name:           FeatureJobsPeerHelpSync,
		Description:    "Pull peer-help signals for the Helper badge",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureJobsReconcile] = &Feature{
		Name:           FeatureJobsReconcile,
		Description:    "Verify account totals against the ledger",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureExperimentalRedisBus] = &Feature{
		Name:           FeatureExperimentalRedisBus,
		Description:    "Fan out domain events over Redis pub/sub",
		Enabled:        false,
		RolloutPercent: 0,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_ENGINE_SPEED_BONUS=false
// Example: FEATURE_LEADERBOARD_STREAK_BOARD=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		val := os.Getenv(envKey)
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "engine.speed_bonus" -> "FEATURE_ENGINE_SPEED_BONUS"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	// Check student overrides first
	if ctx != nil && ctx.StudentID != "" {
		if overrides, ok := ff.studentOverrides[ctx.StudentID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	if !feature.Enabled {
		return false
	}

	// Check time-based activation
	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	// Check rollout percentage
	if feature.RolloutPercent < 100 && ctx != nil && ctx.StudentID != "" {
		return isInRollout(ctx.StudentID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if a student is in the rollout percentage.
// Uses consistent hashing so students stay in their bucket.
func isInRollout(studentID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(studentID))
	bucket := int(h.Sum32() % 100)
	return bucket < percent
}

// SetStudentOverride sets a feature override for a specific student.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetStudentOverride(studentID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.studentOverrides[studentID]; !ok {
		ff.studentOverrides[studentID] = make(map[string]bool)
	}
	ff.studentOverrides[studentID][featureName] = enabled
}

// ClearStudentOverrides removes all overrides for a student.
func (ff *FeatureFlags) ClearStudentOverrides(studentID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.studentOverrides, studentID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
