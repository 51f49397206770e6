// Package types provides configuration types for the trading laboratory.
package types

import "time"

// ServerConfig represents the HTTP surface's listen and lifecycle
// configuration.
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	WebSocketPath  string        `json:"websocketPath"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	MaxConnections int           `json:"maxConnections"`
	EnableMetrics  bool          `json:"enableMetrics"`
	MetricsPort    int           `json:"metricsPort"`
}

// PriceSourceConfig configures the public spot-price poller (component A).
type PriceSourceConfig struct {
	BaseURL  string        `json:"baseUrl"`
	CacheTTL time.Duration `json:"cacheTtl"`
	Timeout  time.Duration `json:"timeout"`
}

// AdvisorConfig configures the external language-model advisor client
// (component F).
type AdvisorConfig struct {
	Endpoint  string        `json:"endpoint"`
	APIKeyEnv string        `json:"apiKeyEnv"`
	Model     string        `json:"model"`
	Timeout   time.Duration `json:"timeout"`
}

// AgentRuntimeConfig configures the top-level Agent Loop (component H).
type AgentRuntimeConfig struct {
	Symbol                string        `json:"symbol"`
	InitialCapital        string        `json:"initialCapital"`
	InitialSimDuration    time.Duration `json:"initialSimDuration"`
	ShortSimDuration      time.Duration `json:"shortSimDuration"`
	ValidationSimDuration time.Duration `json:"validationSimDuration"`
	TickInterval          time.Duration `json:"tickInterval"`
	HighScoreThreshold    float64       `json:"highScoreThreshold"`
	MediumScoreThreshold  float64       `json:"mediumScoreThreshold"`
	ScoreDropTolerance    float64       `json:"scoreDropTolerance"`
	EventBusCapacity      int           `json:"eventBusCapacity"`
}
