// Package config assembles the laboratory's runtime Config from environment
// variables (prefixed LAB_), an optional YAML file, and command-line flags
// layered on top, validating once at startup.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hhlabs/trading-agent/pkg/types"
)

// Config is the fully assembled, validated runtime configuration.
type Config struct {
	Server  types.ServerConfig
	Price   types.PriceSourceConfig
	Advisor types.AdvisorConfig
	Agent   types.AgentRuntimeConfig
	LogLevel string
}

// Load builds a Config from defaults, an optional YAML file, LAB_-prefixed
// environment variables, and the given CLI args, in ascending priority.
func Load(args []string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("lab")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	flags := pflag.NewFlagSet("lab", pflag.ContinueOnError)
	host := flags.String("host", v.GetString("server.host"), "HTTP bind host")
	port := flags.Int("port", v.GetInt("server.port"), "HTTP bind port")
	symbol := flags.String("symbol", v.GetString("agent.symbol"), "trading pair symbol")
	capital := flags.String("capital", v.GetString("agent.initial_capital"), "initial paper capital")
	logLevel := flags.String("log-level", v.GetString("log_level"), "log level (debug, info, warn, error)")
	if err := flags.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parsing flags: %w", err)
	}
	v.Set("server.host", *host)
	v.Set("server.port", *port)
	v.Set("agent.symbol", *symbol)
	v.Set("agent.initial_capital", *capital)
	v.Set("log_level", *logLevel)

	cfg := Config{
		LogLevel: v.GetString("log_level"),
		Server: types.ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			WebSocketPath:  v.GetString("server.websocket_path"),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
			MaxConnections: v.GetInt("server.max_connections"),
			EnableMetrics:  v.GetBool("server.enable_metrics"),
			MetricsPort:    v.GetInt("server.metrics_port"),
		},
		Price: types.PriceSourceConfig{
			BaseURL:  v.GetString("price.base_url"),
			CacheTTL: v.GetDuration("price.cache_ttl"),
			Timeout:  v.GetDuration("price.timeout"),
		},
		Advisor: types.AdvisorConfig{
			Endpoint:  v.GetString("advisor.endpoint"),
			APIKeyEnv: v.GetString("advisor.api_key_env"),
			Model:     v.GetString("advisor.model"),
			Timeout:   v.GetDuration("advisor.timeout"),
		},
		Agent: types.AgentRuntimeConfig{
			Symbol:                v.GetString("agent.symbol"),
			InitialCapital:        v.GetString("agent.initial_capital"),
			InitialSimDuration:    v.GetDuration("agent.initial_sim_duration"),
			ShortSimDuration:      v.GetDuration("agent.short_sim_duration"),
			ValidationSimDuration: v.GetDuration("agent.validation_sim_duration"),
			TickInterval:          v.GetDuration("agent.tick_interval"),
			HighScoreThreshold:    v.GetFloat64("agent.high_score_threshold"),
			MediumScoreThreshold:  v.GetFloat64("agent.medium_score_threshold"),
			ScoreDropTolerance:    v.GetFloat64("agent.score_drop_tolerance"),
			EventBusCapacity:      v.GetInt("agent.event_bus_capacity"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocket_path", "/agent/events/stream")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.max_connections", 100)
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.metrics_port", 9090)

	v.SetDefault("price.base_url", "https://api.coinbase.com")
	v.SetDefault("price.cache_ttl", 2*time.Second)
	v.SetDefault("price.timeout", 5*time.Second)

	v.SetDefault("advisor.endpoint", "")
	v.SetDefault("advisor.api_key_env", "LAB_ADVISOR_API_KEY")
	v.SetDefault("advisor.model", "advisor-default")
	v.SetDefault("advisor.timeout", 60*time.Second)

	v.SetDefault("agent.symbol", "BTC-USD")
	v.SetDefault("agent.initial_capital", "10000")
	v.SetDefault("agent.initial_sim_duration", 30*time.Second)
	v.SetDefault("agent.short_sim_duration", 60*time.Second)
	v.SetDefault("agent.validation_sim_duration", 120*time.Second)
	v.SetDefault("agent.tick_interval", 2*time.Second)
	v.SetDefault("agent.high_score_threshold", 65.0)
	v.SetDefault("agent.medium_score_threshold", 50.0)
	v.SetDefault("agent.score_drop_tolerance", 10.0)
	v.SetDefault("agent.event_bus_capacity", 500)
}

// validate surfaces a Configuration error for missing required input,
// matching §7's rule that the agent never starts without one.
func (c Config) validate() error {
	if c.Agent.Symbol == "" {
		return fmt.Errorf("agent.symbol must not be empty")
	}
	if c.Agent.InitialCapital == "" {
		return fmt.Errorf("agent.initial_capital must not be empty")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	return nil
}
