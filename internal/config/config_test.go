package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.Symbol != "BTC-USD" {
		t.Fatalf("Agent.Symbol = %q, want default BTC-USD", cfg.Agent.Symbol)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Agent.EventBusCapacity != 500 {
		t.Fatalf("Agent.EventBusCapacity = %d, want default 500", cfg.Agent.EventBusCapacity)
	}
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{"--symbol=ETH-USD", "--port=9999", "--capital=5000"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.Symbol != "ETH-USD" {
		t.Fatalf("Agent.Symbol = %q, want ETH-USD", cfg.Agent.Symbol)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Agent.InitialCapital != "5000" {
		t.Fatalf("Agent.InitialCapital = %q, want 5000", cfg.Agent.InitialCapital)
	}
}

func TestLoadRejectsEmptySymbol(t *testing.T) {
	if _, err := Load([]string{"--symbol="}); err == nil {
		t.Fatal("Load() with empty symbol = nil error, want one")
	}
}
