package advisor

import "github.com/hhlabs/trading-agent/pkg/types"

// fallbackConfidence is the ceiling spec §4.F fixes for every deterministic
// fallback reply, so callers can tell a real advisor opinion from a
// fallback by confidence alone if the Fallback flag is ever lost.
const fallbackConfidence = 0.3

// fallback returns the deterministic, node-specific reply used when no
// credential is configured, the network call fails, or the reply can't be
// parsed as JSON. It always reports success=true: the agent treats a
// fallback identically to a live reply except for logging.
func fallback(node types.AdvisorNode, reason string) types.AdvisorResponse {
	content := map[string]any{}
	switch node {
	case types.NodeEvaluateMarket:
		content["assessment"] = "no live assessment available"
		content["favorable"] = true
	case types.NodeEvaluateSimulation:
		content["verdict"] = "insufficient signal for an opinion"
		content["shouldAdopt"] = true
	case types.NodeOptimizeParameters:
		// Left empty: the caller falls back to trader.Recommend's
		// deterministic rules rather than a guessed parameter set.
	case types.NodeSearchHistory:
		content["versionId"] = ""
		content["rationale"] = "no advisor opinion; caller should use find_best_for"
	case types.NodeDecideNextStep:
		content["action"] = "resimulate"
		content["rationale"] = "default action while advisor is unavailable"
	case types.NodeAnalyzeFailure:
		content["cause"] = "unknown"
		content["suggestion"] = "resimulate with the current configuration"
	case types.NodeGenerateStrategy:
		// Left empty: the caller keeps the current configuration.
	}

	return types.AdvisorResponse{
		Success:    true,
		Content:    content,
		Reasoning:  "fallback: " + reason,
		Confidence: fallbackConfidence,
		Fallback:   true,
	}
}
