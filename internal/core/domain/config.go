package domain

import "time"

// AgentConfig bounds every reasoning run
type AgentConfig struct {
	MaxSteps          int    `json:"max_steps" yaml:"max_steps"`
	TimeoutSeconds    int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	ExtraContext      string `json:"extra_context" yaml:"extra_context"`
	MaxConcurrentRuns int    `json:"max_concurrent_runs" yaml:"max_concurrent_runs"`
}

// Timeout returns the run-level deadline as a duration.
func (c AgentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LLMProviderConfig configures the oracle backend
type LLMProviderConfig struct {
	Mode          string `json:"mode" yaml:"mode"`                     // "local", "remote" or "gollm"
	LocalURL      string `json:"local_url" yaml:"local_url"`           // "http://localhost:11434"
	RemoteURL     string `json:"remote_url" yaml:"remote_url"`         // "https://api.openai.com/v1"
	APIKey        string `json:"api_key" yaml:"api_key"`               // encrypted at rest
	DefaultModel  string `json:"default_model" yaml:"default_model"`   // "gpt-4o" or "qwen2.5:7b"
	GollmProvider string `json:"gollm_provider" yaml:"gollm_provider"` // "openai", "anthropic", "groq"...
}

// ProviderConfig holds configuration for all AI providers
type ProviderConfig struct {
	LLM LLMProviderConfig `json:"llm" yaml:"llm"`
}

// PapersConfig configures the papers metadata API client
type PapersConfig struct {
	BaseURL           string  `json:"base_url" yaml:"base_url"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	TimeoutSeconds    int     `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// StorageConfig locates the DuckDB files. The influencers catalog is kept
// apart from the application store and is opened read-only.
type StorageConfig struct {
	DBPath          string `json:"db_path" yaml:"db_path"`
	InfluencersPath string `json:"influencers_path" yaml:"influencers_path"`
}

// ServerConfig configures the HTTP kernel
type ServerConfig struct {
	Addr           string   `json:"addr" yaml:"addr"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// TelemetryConfig enables OTLP trace export
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	Insecure    bool   `json:"insecure" yaml:"insecure"`
	ServiceName string `json:"service_name" yaml:"service_name"`
}

// AppConfig is the main application configuration
type AppConfig struct {
	Agent     AgentConfig     `json:"agent" yaml:"agent"`
	Providers ProviderConfig  `json:"providers" yaml:"providers"`
	Papers    PapersConfig    `json:"papers" yaml:"papers"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	LogLevel  string          `json:"log_level" yaml:"log_level"`
}

const (
	DefaultMaxSteps       = 15
	DefaultTimeoutSeconds = 120
)

// DefaultConfig returns safe defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Agent: AgentConfig{
			MaxSteps:          DefaultMaxSteps,
			TimeoutSeconds:    DefaultTimeoutSeconds,
			MaxConcurrentRuns: 4,
		},
		Providers: ProviderConfig{
			LLM: LLMProviderConfig{
				Mode:          "local",
				LocalURL:      "http://localhost:11434",
				RemoteURL:     "https://api.openai.com/v1",
				DefaultModel:  "qwen2.5:7b",
				GollmProvider: "openai",
			},
		},
		Papers: PapersConfig{
			BaseURL:           "https://paperswithcode.com/api/v1",
			RequestsPerSecond: 2,
			TimeoutSeconds:    30,
		},
		Storage: StorageConfig{DBPath: "techscout.db", InfluencersPath: "influencers.db"},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Telemetry: TelemetryConfig{ServiceName: "techscout"},
		LogLevel:  "info",
	}
}
