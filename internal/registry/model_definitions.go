// Package registry holds static metadata about the models the Antigravity
// upstream can serve, and the alias table the dispatcher consults when a
// client asks for a short model name.
package registry

import "strings"

// ThinkingSupport describes a model's extended-thinking capability.
type ThinkingSupport struct {
	// Min and Max bound the numeric thinking budget in tokens. Zero for
	// both means the model has no numeric budget, only discrete Levels.
	Min, Max int
	// Levels lists the discrete thinking levels the model accepts, in
	// low-to-high order (e.g. "low", "medium", "high").
	Levels []string
	// ZeroAllowed reports whether a budget of exactly 0 disables thinking
	// rather than being clamped up to Min.
	ZeroAllowed bool
	// DynamicAllowed reports whether the model accepts an automatic /
	// dynamic thinking budget (Claude's budget=-1, Gemini's "auto").
	DynamicAllowed bool
}

// ModelInfo describes one model as surfaced on /v1/models and consulted by
// the thinking-configuration layer.
type ModelInfo struct {
	ID                  string
	Name                string
	Description         string
	DisplayName         string
	Version             string
	Object              string
	Created             int64
	OwnedBy             string
	Type                string
	Thinking            *ThinkingSupport
	MaxCompletionTokens int
}

// antigravityModels is the static overlay of thinking-capability metadata
// keyed by the upstream's own model identifier. FetchAntigravityModels
// merges this into whatever the fetchAvailableModels call returns, since
// the upstream list does not carry thinking budgets itself.
var antigravityModels = map[string]*ModelInfo{
	"claude-sonnet-4-5": {
		ID:       "claude-sonnet-4-5",
		Thinking: &ThinkingSupport{Min: 1024, Max: 32000, ZeroAllowed: true, DynamicAllowed: true},
	},
	"claude-opus-4-5": {
		ID:       "claude-opus-4-5",
		Thinking: &ThinkingSupport{Min: 1024, Max: 32000, ZeroAllowed: true, DynamicAllowed: true},
	},
	"claude-haiku-4-5": {
		ID:       "claude-haiku-4-5",
		Thinking: &ThinkingSupport{Min: 1024, Max: 24000, ZeroAllowed: true, DynamicAllowed: true},
	},
	"gemini-3-pro-preview": {
		ID:                  "gemini-3-pro-preview",
		Thinking:            &ThinkingSupport{Levels: []string{"low", "medium", "high"}, DynamicAllowed: true},
		MaxCompletionTokens: 65536,
	},
}

// modelAliases maps a canonical model ID to the short names clients commonly
// send instead. Resolution is case-insensitive.
var modelAliases = map[string][]string{
	"claude-sonnet-4-5": {"sonnet", "sonnet-latest", "claude-sonnet"},
	"claude-opus-4-5":   {"opus", "opus-latest", "claude-opus"},
	"claude-haiku-4-5":  {"haiku", "haiku-latest", "claude-haiku"},
}

// GetAntigravityModelConfig returns the static thinking-capability overlay
// for models served through the Antigravity upstream.
func GetAntigravityModelConfig() map[string]*ModelInfo {
	return antigravityModels
}

// ResolveModelAlias returns the canonical model ID for a client-supplied
// name, or the input unchanged if it is not a known alias.
func ResolveModelAlias(name string) string {
	trimmed := strings.TrimSpace(name)
	lower := strings.ToLower(trimmed)
	if _, ok := antigravityModels[trimmed]; ok {
		return trimmed
	}
	for canonical, aliases := range modelAliases {
		for _, alias := range aliases {
			if strings.EqualFold(alias, lower) {
				return canonical
			}
		}
		if strings.EqualFold(canonical, lower) {
			return canonical
		}
	}
	return trimmed
}

// LookupModelInfo returns static metadata for a model ID. The provider
// argument is accepted for interface parity with the thinking package,
// which historically looked models up per-provider; Antigravity is the
// only provider left, so it is otherwise unused.
func LookupModelInfo(modelID, _ string) *ModelInfo {
	resolved := ResolveModelAlias(modelID)
	if info, ok := antigravityModels[resolved]; ok {
		return info
	}
	return nil
}
