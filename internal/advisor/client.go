// Package advisor implements the Advisor Client (component F): prompt
// formatting per decision node, a bounded HTTP call to an external language
// model, JSON-only reply parsing with range clamping, and a deterministic
// fallback for every failure mode.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hhlabs/trading-agent/pkg/types"
)

// Client talks to the configured language-model endpoint. Grounded on
// _examples/chidi150c-coinbase/broker_coinbase.go's bounded-timeout
// net/http request/response/JSON-decode shape; the decision-node
// enumeration and prompt-per-node structure is grounded on
// original_source/.../agent_brain.py's NodeType enum.
type Client struct {
	cfg    types.AdvisorConfig
	apiKey string
	hc     *http.Client
	logger *zap.Logger

	tokensUsed int64
	callCount  int64
	fallbacks  int64
}

// New constructs a Client. If cfg.APIKeyEnv names an unset or empty
// environment variable, every call falls back immediately without
// attempting the network.
func New(cfg types.AdvisorConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		apiKey: strings.TrimSpace(os.Getenv(cfg.APIKeyEnv)),
		hc:     &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("advisor"),
	}
}

// Think renders node's prompt, calls the advisor, and returns either the
// parsed reply or a deterministic fallback. It never returns an error: a
// failure at any stage collapses into a fallback response.
func (c *Client) Think(ctx context.Context, node types.AdvisorNode, reqCtx map[string]any) types.AdvisorResponse {
	atomic.AddInt64(&c.callCount, 1)

	if c.apiKey == "" {
		atomic.AddInt64(&c.fallbacks, 1)
		return fallback(node, "no advisor credential configured")
	}

	prompt, err := buildPrompt(node, reqCtx)
	if err != nil {
		atomic.AddInt64(&c.fallbacks, 1)
		return fallback(node, fmt.Sprintf("prompt build failed: %v", err))
	}

	raw, tokens, err := c.call(ctx, prompt)
	if err != nil {
		c.logger.Warn("advisor call failed", zap.String("node", string(node)), zap.Error(err))
		atomic.AddInt64(&c.fallbacks, 1)
		return fallback(node, fmt.Sprintf("advisor call failed: %v", err))
	}
	atomic.AddInt64(&c.tokensUsed, int64(tokens))

	block, err := extractJSONObject(raw)
	if err != nil {
		atomic.AddInt64(&c.fallbacks, 1)
		return fallback(node, fmt.Sprintf("no JSON block in reply: %v", err))
	}

	var content map[string]any
	if err := json.Unmarshal([]byte(block), &content); err != nil {
		atomic.AddInt64(&c.fallbacks, 1)
		return fallback(node, fmt.Sprintf("malformed JSON reply: %v", err))
	}

	if node == types.NodeOptimizeParameters {
		content = clampParameters(content, c.logger)
	}

	return types.AdvisorResponse{
		Success:    true,
		Content:    content,
		Reasoning:  "advisor reply",
		Confidence: confidenceOf(content),
		TokensUsed: tokens,
		Fallback:   false,
	}
}

// requestBody / responseBody define this repo's own minimal advisor wire
// contract: a single prompt in, a content string plus token count out. No
// chat-completions SDK exists anywhere in the retrieved pack to model this
// on, so the shape is the simplest one the transport needs.
type requestBody struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type responseBody struct {
	Content    string `json:"content"`
	TokensUsed int    `json:"tokensUsed"`
}

func (c *Client) call(ctx context.Context, prompt string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(requestBody{Model: c.cfg.Model, Prompt: prompt})
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", "hhlabs-trading-agent/1.0")

	res, err := c.hc.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return "", 0, fmt.Errorf("advisor %d: %s", res.StatusCode, string(b))
	}

	var parsed responseBody
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", 0, err
	}
	return parsed.Content, parsed.TokensUsed, nil
}

// confidenceOf reads a "confidence" field from the reply if present,
// clamped to [0,1]; otherwise defaults to 0.7, a live-but-unstated opinion.
func confidenceOf(content map[string]any) float64 {
	v, ok := content["confidence"]
	if !ok {
		return 0.7
	}
	f, ok := v.(float64)
	if !ok {
		return 0.7
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Stats holds the cumulative call/token/fallback counters returned by
// Client.Stats.
type Stats struct {
	Calls      int64 `json:"calls"`
	TokensUsed int64 `json:"tokensUsed"`
	Fallbacks  int64 `json:"fallbacks"`
}

// Stats returns the current cumulative counters.
func (c *Client) Stats() Stats {
	return Stats{
		Calls:      atomic.LoadInt64(&c.callCount),
		TokensUsed: atomic.LoadInt64(&c.tokensUsed),
		Fallbacks:  atomic.LoadInt64(&c.fallbacks),
	}
}
