package advisor

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hhlabs/trading-agent/pkg/types"
)

// extractJSONObject returns the first balanced {...} substring of s,
// tolerating a model reply that wraps its JSON in prose or a markdown code
// fence.
func extractJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no '{' found in reply")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string literal, braces don't count
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced braces in reply")
}

// clampParameters clamps every field of content named in
// types.AdvisorParamRanges into its documented safe range, logging a
// warning (but not rejecting the reply) for each one that needed it.
func clampParameters(content map[string]any, logger *zap.Logger) map[string]any {
	for field, rng := range types.AdvisorParamRanges {
		raw, ok := content[field]
		if !ok {
			continue
		}
		v, ok := raw.(float64)
		if !ok {
			continue
		}
		clamped := rng.Clamp(v)
		if clamped != v {
			logger.Warn("advisor parameter clamped to safe range",
				zap.String("field", field), zap.Float64("suggested", v), zap.Float64("clamped", clamped))
		}
		content[field] = clamped
	}
	return content
}
