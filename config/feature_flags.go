package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags toggles capability groups of the assistant.
// Supports gradual rollout by caller and time-boxed activation, so a new agent
// (for example write actions) can be opened to a share of callers first.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	callerOverrides map[string]map[string]bool // caller -> feature -> enabled

	now func() time.Time
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Callers are assigned based on hash of their ID
	RolloutPercent int

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	CallerID string // national code or session id of the caller
	IsAdmin  bool
}

// Agent feature names. The router checks FeatureAgentPrefix+group.
const (
	FeatureAgentPrefix = "agent."

	FeatureAgentCourses   = "agent.courses"
	FeatureAgentLessons   = "agent.lessons"
	FeatureAgentGrades    = "agent.grades"
	FeatureAgentHomeworks = "agent.homeworks"
	FeatureAgentStudents  = "agent.students"
	FeatureAgentAuth      = "agent.auth"
	FeatureAgentActions   = "agent.actions" // mutating capabilities
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

// NewFeatureFlags returns the defaults without reading the environment.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:        make(map[string]*Feature),
		callerOverrides: make(map[string]map[string]bool),
		now:             time.Now,
	}
	ff.initializeDefaults()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	readOnly := map[string]string{
		FeatureAgentCourses:   "Course catalogue queries",
		FeatureAgentLessons:   "Lesson queries",
		FeatureAgentGrades:    "Grade queries",
		FeatureAgentHomeworks: "Homework and submission queries",
		FeatureAgentStudents:  "Student directory queries",
		FeatureAgentAuth:      "Explicit authentication checks",
	}
	for name, desc := range readOnly {
		ff.features[name] = &Feature{Name: name, Description: desc, Enabled: true, RolloutPercent: 100}
	}

	ff.features[FeatureAgentActions] = &Feature{
		Name:           FeatureAgentActions,
		Description:    "Submissions, reservations and bookings",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_AGENT_ACTIONS=false
// Example: FEATURE_AGENT_ACTIONS=25 (25% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
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
// "agent.actions" -> "FEATURE_AGENT_ACTIONS"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context. Unknown
// features are disabled.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if ctx != nil && ctx.CallerID != "" {
		if overrides, ok := ff.callerOverrides[ctx.CallerID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	if ctx != nil && ctx.IsAdmin {
		return true
	}

	if !feature.Enabled {
		return false
	}

	now := ff.now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.CallerID != "" {
		return isInRollout(ctx.CallerID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if a caller is in the rollout percentage.
// Uses consistent hashing so callers stay in their bucket.
func isInRollout(callerID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(callerID))
	return int(h.Sum32()%100) < percent
}

// SetCallerOverride sets a feature override for a specific caller.
func (ff *FeatureFlags) SetCallerOverride(callerID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.callerOverrides[callerID]; !ok {
		ff.callerOverrides[callerID] = make(map[string]bool)
	}
	ff.callerOverrides[callerID][featureName] = enabled
}

// SetWindow restricts a feature to [from, until]. Nil bounds are open.
func (ff *FeatureFlags) SetWindow(featureName string, from, until *time.Time) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	feature.EnabledFrom, feature.EnabledUntil = from, until
	return nil
}

// SetRolloutPercent updates the rollout percentage for a feature.
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

// AgentEnabled checks the flag of a capability group.
func (ff *FeatureFlags) AgentEnabled(group string, ctx *FeatureContext) bool {
	return ff.IsEnabled(FeatureAgentPrefix+group, ctx)
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
