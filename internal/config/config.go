// Package config loads the switchboard binaries' TOML configuration:
// defaults -> file -> SWITCHBOARD_* env overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	switchboard "github.com/nevindra/switchboard"
)

type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Router    RouterConfig    `toml:"router"`
	Observer  ObserverConfig  `toml:"observer"`
	Web       WebConfig       `toml:"web"`
	Servers   []ServerConfig  `toml:"servers"`
}

type LLMConfig struct {
	Name    string `toml:"name"`
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key"`
	RPM     int    `toml:"rpm"` // max requests per minute, 0 = unlimited
	TPM     int    `toml:"tpm"` // max tokens per minute, 0 = unlimited
}

type EmbeddingConfig struct {
	Name       string `toml:"name"`
	BaseURL    string `toml:"base_url"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	APIKey     string `toml:"api_key"`
}

type RouterConfig struct {
	SimilarityThreshold float32                `toml:"similarity_threshold"`
	RelativeScoreCutoff float32                `toml:"relative_score_cutoff"`
	SearchTopK          int                    `toml:"search_top_k"`
	DiscoverBindingK    int                    `toml:"discover_binding_k"`
	MaxCacheSize        int                    `toml:"max_cache_size"`
	PreloadCount        int                    `toml:"preload_count"`
	MaxHistoryTurns     int                    `toml:"max_history_turns"`
	MaxSteps            int                    `toml:"max_steps"`
	HealthCooldown      duration               `toml:"health_cooldown"`
	DataDir             string                 `toml:"data_dir"`
	Debug               bool                   `toml:"debug"`
	Nudge               map[string]NudgeConfig `toml:"nudge"`
}

type NudgeConfig struct {
	Keywords []string `toml:"keywords"`
	Queries  []string `toml:"queries"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

type WebConfig struct {
	Listen string `toml:"listen"`
}

// ServerConfig is one [[servers]] catalog entry. Transport fields sit flat
// in the table: kind picks stdio or http, the rest apply as relevant.
type ServerConfig struct {
	Handle      string            `toml:"handle"`
	DisplayName string            `toml:"display_name"`
	Category    string            `toml:"category"`
	Description string            `toml:"description"`
	Keywords    []string          `toml:"keywords"`
	Kind        string            `toml:"kind"`
	Command     string            `toml:"command"`
	Args        []string          `toml:"args"`
	Env         map[string]string `toml:"env"`
	URL         string            `toml:"url"`
	Headers     map[string]string `toml:"headers"`
	Timeout     duration          `toml:"timeout"`
}

// duration adds TOML text parsing ("5m", "30s") to time.Duration.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	d.Duration = v
	return err
}

// Default returns a Config with all defaults applied. Router tunables come
// from the library's own defaults so the file only needs deviations.
func Default() Config {
	rc := switchboard.DefaultConfig()
	return Config{
		LLM: LLMConfig{
			Name:    "openai",
			BaseURL: "https://api.openai.com/v1",
			Model:   rc.ExecutionModel,
		},
		Embedding: EmbeddingConfig{
			Name:  "openai",
			Model: rc.EmbeddingModel,
		},
		Router: RouterConfig{
			SimilarityThreshold: rc.SimilarityThreshold,
			RelativeScoreCutoff: rc.RelativeScoreCutoff,
			SearchTopK:          rc.SearchTopK,
			DiscoverBindingK:    rc.DiscoverBindingK,
			MaxCacheSize:        rc.MaxCacheSize,
			PreloadCount:        rc.PreloadCount,
			MaxHistoryTurns:     rc.MaxHistoryTurns,
			MaxSteps:            rc.MaxSteps,
			HealthCooldown:      duration{rc.HealthCooldown},
			DataDir:             rc.DataDir,
		},
		Web: WebConfig{Listen: ":8080"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins). A missing
// file is fine and yields defaults; a file that exists but does not parse is
// an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "switchboard.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// Env overrides
	if v := os.Getenv("SWITCHBOARD_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("SWITCHBOARD_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("SWITCHBOARD_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("SWITCHBOARD_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("SWITCHBOARD_DATA_DIR"); v != "" {
		cfg.Router.DataDir = v
	}
	if v := os.Getenv("SWITCHBOARD_WEB_LISTEN"); v != "" {
		cfg.Web.Listen = v
	}
	if v := os.Getenv("SWITCHBOARD_DEBUG"); v == "true" || v == "1" {
		cfg.Router.Debug = true
	}
	if v := os.Getenv("SWITCHBOARD_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = cfg.LLM.BaseURL
	}

	return cfg, nil
}

// ToRouterConfig maps the file's router section onto the library Config.
func (c Config) ToRouterConfig() switchboard.Config {
	nudge := make(map[string]switchboard.NudgeRule, len(c.Router.Nudge))
	for category, rule := range c.Router.Nudge {
		nudge[category] = switchboard.NudgeRule{Keywords: rule.Keywords, Queries: rule.Queries}
	}
	return switchboard.Config{
		ExecutionModel:      c.LLM.Model,
		EmbeddingModel:      c.Embedding.Model,
		SimilarityThreshold: c.Router.SimilarityThreshold,
		RelativeScoreCutoff: c.Router.RelativeScoreCutoff,
		SearchTopK:          c.Router.SearchTopK,
		DiscoverBindingK:    c.Router.DiscoverBindingK,
		MaxCacheSize:        c.Router.MaxCacheSize,
		PreloadCount:        c.Router.PreloadCount,
		MaxHistoryTurns:     c.Router.MaxHistoryTurns,
		MaxSteps:            c.Router.MaxSteps,
		HealthCooldown:      c.Router.HealthCooldown.Duration,
		DataDir:             c.Router.DataDir,
		KeywordNudge:        nudge,
		Debug:               c.Router.Debug,
	}
}

// Catalog maps the [[servers]] tables onto catalog entries.
func (c Config) Catalog() []switchboard.ServerEntry {
	entries := make([]switchboard.ServerEntry, 0, len(c.Servers))
	for _, s := range c.Servers {
		entries = append(entries, switchboard.ServerEntry{
			Handle:      s.Handle,
			DisplayName: s.DisplayName,
			Category:    s.Category,
			Description: s.Description,
			Keywords:    s.Keywords,
			Transport: switchboard.TransportSpec{
				Kind:    s.Kind,
				Command: s.Command,
				Args:    s.Args,
				Env:     s.Env,
				URL:     s.URL,
				Headers: s.Headers,
				Timeout: s.Timeout.Duration,
			},
		})
	}
	return entries
}
