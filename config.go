package auditrag

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all configuration for the audit-rag engine.
type Config struct {
	// DataRoot is the directory holding registry.json, vector.index,
	// vector.docs and graph.bin. Defaults to ~/.auditrag/<Profile>.
	DataRoot string `json:"data_root" yaml:"data_root"`
	Profile  string `json:"profile" yaml:"profile"`

	// LLM providers
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`
	Rerank    LLMConfig `json:"rerank" yaml:"rerank"`

	// Chunking
	ChunkerMode    string `json:"chunker_mode" yaml:"chunker_mode"` // regulation|audit_report|audit_issue|default|smart
	MaxChunkChars  int    `json:"max_chunk_chars" yaml:"max_chunk_chars"`
	ChunkOverlap   int    `json:"chunk_overlap" yaml:"chunk_overlap"`

	// Graph building
	GraphConcurrency int `json:"graph_concurrency" yaml:"graph_concurrency"` // max parallel extractor calls

	// Hybrid retrieval
	HybridAlpha    float64 `json:"hybrid_alpha" yaml:"hybrid_alpha"`
	GraphHops      int     `json:"graph_hops" yaml:"graph_hops"`
	GraphNodeCap   int     `json:"graph_node_cap" yaml:"graph_node_cap"`
	GraphSeedCap   int     `json:"graph_seed_cap" yaml:"graph_seed_cap"`
	DefaultTopK    int     `json:"default_top_k" yaml:"default_top_k"`
	RerankTopKMult int     `json:"rerank_top_k_mult" yaml:"rerank_top_k_mult"`

	// Answering
	MaxSessionTurns int `json:"max_session_turns" yaml:"max_session_turns"`
	SessionMaxAgeS  int `json:"session_max_age_seconds" yaml:"session_max_age_seconds"`

	// Ingest concurrency cap (§5: ingest units may run concurrently up to
	// this cap, each committing through the write lane).
	IngestConcurrency int `json:"ingest_concurrency" yaml:"ingest_concurrency"`

	// Embedding batch size and vector dimension.
	EmbedBatchSize int `json:"embed_batch_size" yaml:"embed_batch_size"`
	EmbeddingDim   int `json:"embedding_dim" yaml:"embedding_dim"`

	// Provider timeout budgets (§5). The embedding provider bounds each
	// batch call, client-side retries included, by the total budget; the
	// per-attempt value is stored but not applied as a deadline.
	ProviderAttemptTimeoutS int `json:"provider_attempt_timeout_seconds" yaml:"provider_attempt_timeout_seconds"`
	ProviderTotalTimeoutS   int `json:"provider_total_timeout_seconds" yaml:"provider_total_timeout_seconds"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
func DefaultConfig() Config {
	return Config{
		Profile: "default",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		Rerank: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		ChunkerMode:             "smart",
		MaxChunkChars:           1200,
		ChunkOverlap:            150,
		GraphConcurrency:        8,
		HybridAlpha:             DefaultHybridAlpha,
		GraphHops:               2,
		GraphNodeCap:            200,
		GraphSeedCap:            10,
		DefaultTopK:             5,
		RerankTopKMult:          3,
		MaxSessionTurns:         20,
		SessionMaxAgeS:          3600,
		IngestConcurrency:       4,
		EmbedBatchSize:          32,
		EmbeddingDim:            768,
		ProviderAttemptTimeoutS: 30,
		ProviderTotalTimeoutS:   120,
	}
}

// DefaultHybridAlpha is the committed fusion weight for Open Question
// (ii): final = alpha*vector + (1-alpha)*graph.
const DefaultHybridAlpha = 0.65

// LoadConfig starts from DefaultConfig, layers an optional YAML profile
// file (path from AUDITRAG_CONFIG), then applies AUDITRAG_* environment
// overrides. This mirrors the teacher's single-struct-plus-env
// configuration model (spec.md §6's "layered config").
func LoadConfig(profile string) Config {
	cfg := DefaultConfig()
	if profile != "" {
		cfg.Profile = profile
	}

	if path := os.Getenv("AUDITRAG_CONFIG"); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			_ = loadYAMLOverlay(data, &cfg)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AUDITRAG_DATA_ROOT"); v != "" {
		cfg.DataRoot = v
	}
	if v := os.Getenv("AUDITRAG_CHUNKER_MODE"); v != "" {
		cfg.ChunkerMode = v
	}
	if v := os.Getenv("AUDITRAG_HYBRID_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.HybridAlpha = f
		}
	}
	if v := os.Getenv("AUDITRAG_CHAT_PROVIDER"); v != "" {
		cfg.Chat.Provider = v
	}
	if v := os.Getenv("AUDITRAG_CHAT_MODEL"); v != "" {
		cfg.Chat.Model = v
	}
	if v := os.Getenv("AUDITRAG_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("AUDITRAG_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
}

// ResolveDataRoot computes the final data directory from config fields,
// mirroring the teacher's resolveDBPath fallback-to-home-dir shape.
func (c *Config) ResolveDataRoot() string {
	if c.DataRoot != "" {
		return c.DataRoot
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".auditrag", c.Profile)
	}
	return filepath.Join(home, ".auditrag", c.Profile)
}
