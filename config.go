package switchboard

import "time"

// NudgeRule drives the pre-discovery keyword heuristic for one catalog
// category. When the user text contains any of Keywords and no cached handle
// belongs to the category, the router issues a discovery call with Queries
// before the agent takes its first step.
type NudgeRule struct {
	Keywords []string `toml:"keywords" json:"keywords"`
	Queries  []string `toml:"queries" json:"queries"`
}

// Config holds every router tunable. Pass it by value to New; zero fields
// fall back to the corresponding DefaultConfig value, so callers only set
// what they care about.
type Config struct {
	// ExecutionModel is the model identifier handed to the agent executor.
	ExecutionModel string
	// EmbeddingModel is the model identifier the embedding client was
	// built with. The router treats it as opaque.
	EmbeddingModel string

	// SimilarityThreshold is the absolute cosine floor for search hits.
	SimilarityThreshold float32
	// RelativeScoreCutoff discards hits scoring below this fraction of
	// the best surviving hit.
	RelativeScoreCutoff float32
	// SearchTopK caps discovery results. Zero returns all survivors.
	SearchTopK int
	// DiscoverBindingK is how many bindings one discover_tools call opens.
	DiscoverBindingK int

	// MaxCacheSize is the binding cache capacity. Must be at least 1.
	MaxCacheSize int
	// PreloadCount is how many top-ranked handles to open at startup.
	PreloadCount int

	// MaxHistoryTurns is the per-session sliding window, counted in
	// user/assistant pairs.
	MaxHistoryTurns int
	// MaxSteps is the step budget handed to the agent executor.
	MaxSteps int

	// HealthCooldown is how long a handle stays quarantined after a
	// failure.
	HealthCooldown time.Duration

	// DataDir is the directory holding the usage metrics file.
	DataDir string

	// KeywordNudge maps catalog categories to nudge rules. Empty disables
	// the heuristic.
	KeywordNudge map[string]NudgeRule

	// Debug turns on verbose logging.
	Debug bool
}

// DefaultConfig returns the tunables the REPL ships with.
func DefaultConfig() Config {
	return Config{
		ExecutionModel:      "gpt-4.1-mini",
		EmbeddingModel:      "text-embedding-3-small",
		SimilarityThreshold: 0.35,
		RelativeScoreCutoff: 0.7,
		DiscoverBindingK:    1,
		MaxCacheSize:        10,
		PreloadCount:        5,
		MaxHistoryTurns:     20,
		MaxSteps:            20,
		HealthCooldown:      5 * time.Minute,
		DataDir:             "data",
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ExecutionModel == "" {
		c.ExecutionModel = def.ExecutionModel
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = def.EmbeddingModel
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = def.SimilarityThreshold
	}
	if c.RelativeScoreCutoff == 0 {
		c.RelativeScoreCutoff = def.RelativeScoreCutoff
	}
	if c.DiscoverBindingK == 0 {
		c.DiscoverBindingK = def.DiscoverBindingK
	}
	if c.MaxCacheSize == 0 {
		c.MaxCacheSize = def.MaxCacheSize
	}
	if c.PreloadCount == 0 {
		c.PreloadCount = def.PreloadCount
	}
	if c.MaxHistoryTurns == 0 {
		c.MaxHistoryTurns = def.MaxHistoryTurns
	}
	if c.MaxSteps == 0 {
		c.MaxSteps = def.MaxSteps
	}
	if c.HealthCooldown == 0 {
		c.HealthCooldown = def.HealthCooldown
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	return c
}

// validate rejects configurations the router cannot run with. Called after
// withDefaults, so only explicitly broken values trip it.
func (c Config) validate() error {
	if c.MaxCacheSize < 1 {
		return &ErrConfig{Field: "max_cache_size", Reason: "must be at least 1"}
	}
	if c.PreloadCount < 0 {
		return &ErrConfig{Field: "preload_count", Reason: "must not be negative"}
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return &ErrConfig{Field: "similarity_threshold", Reason: "must be in [0, 1]"}
	}
	if c.RelativeScoreCutoff < 0 || c.RelativeScoreCutoff > 1 {
		return &ErrConfig{Field: "relative_score_cutoff", Reason: "must be in [0, 1]"}
	}
	if c.SearchTopK < 0 {
		return &ErrConfig{Field: "search_top_k", Reason: "must not be negative"}
	}
	if c.DiscoverBindingK < 1 {
		return &ErrConfig{Field: "discover_binding_k", Reason: "must be at least 1"}
	}
	if c.MaxHistoryTurns < 1 {
		return &ErrConfig{Field: "max_history_turns", Reason: "must be at least 1"}
	}
	if c.MaxSteps < 1 {
		return &ErrConfig{Field: "max_steps", Reason: "must be at least 1"}
	}
	if c.HealthCooldown < 0 {
		return &ErrConfig{Field: "health_cooldown", Reason: "must not be negative"}
	}
	return nil
}
