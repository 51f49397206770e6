package advisor

import (
	"encoding/json"
	"fmt"

	"github.com/hhlabs/trading-agent/pkg/types"
)

// promptTemplates holds one fixed template per decision node. %s is filled
// with the JSON-encoded request context; every template asks for JSON-only
// output so the client's extraction step has something to find.
var promptTemplates = map[types.AdvisorNode]string{
	types.NodeEvaluateMarket: "You are evaluating current market conditions for a crypto scalping " +
		"strategy. Context: %s. Reply with JSON only: {\"assessment\": string, \"favorable\": bool}.",
	types.NodeEvaluateSimulation: "You are evaluating the results of a completed paper-trading simulation. " +
		"Context: %s. Reply with JSON only: {\"verdict\": string, \"shouldAdopt\": bool}.",
	types.NodeOptimizeParameters: "You are proposing adjusted strategy parameters based on a simulation " +
		"report. Context: %s. Reply with JSON only, keys matching GraphConfig field names " +
		"(e.g. \"rsiOversold\", \"stopLossPct\", \"positionSizePct\").",
	types.NodeSearchHistory: "You are searching prior strategy versions for one suited to current market " +
		"conditions. Context: %s. Reply with JSON only: {\"versionId\": string, \"rationale\": string}.",
	types.NodeDecideNextStep: "You are deciding the agent's next action among resimulate, optimize, " +
		"search_history, go_live. Context: %s. Reply with JSON only: {\"action\": string, \"rationale\": string}.",
	types.NodeAnalyzeFailure: "You are analysing why a simulation underperformed. Context: %s. " +
		"Reply with JSON only: {\"cause\": string, \"suggestion\": string}.",
	types.NodeGenerateStrategy: "You are proposing a brand-new strategy parameter set for exploration. " +
		"Context: %s. Reply with JSON only, keys matching GraphConfig field names.",
}

// buildPrompt renders node's template with context marshalled to JSON.
func buildPrompt(node types.AdvisorNode, context map[string]any) (string, error) {
	tmpl, ok := promptTemplates[node]
	if !ok {
		tmpl = "Context: %s. Reply with JSON only."
	}
	ctxJSON, err := json.Marshal(context)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(tmpl, string(ctxJSON)), nil
}
