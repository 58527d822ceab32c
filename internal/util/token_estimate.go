package util

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tiktoken-go/tokenizer"
)

// codecForModel picks a best-effort tiktoken codec for an Anthropic model
// id. None of Anthropic's tokenizers are public, so this is an estimate
// only, using the cl100k family as a stand-in.
func codecForModel(modelName string) (tokenizer.Codec, error) {
	if strings.Contains(strings.ToLower(modelName), "gpt") {
		return tokenizer.Get(tokenizer.O200kBase)
	}
	return tokenizer.Get(tokenizer.Cl100kBase)
}

// EstimateAnthropicTokens gives a best-effort token count for an Anthropic
// Messages request body, used only when the upstream response omits its
// own usage metadata. It is never authoritative.
func EstimateAnthropicTokens(modelName string, requestBody []byte) (int64, error) {
	enc, err := codecForModel(modelName)
	if err != nil {
		return 0, err
	}
	root := gjson.ParseBytes(requestBody)
	segments := make([]string, 0, 32)

	addIfNotEmpty(&segments, root.Get("system").String())
	collectAnthropicMessages(root.Get("messages"), &segments)
	collectAnthropicTools(root.Get("tools"), &segments)

	joined := strings.TrimSpace(strings.Join(segments, "\n"))
	if joined == "" {
		return 0, nil
	}
	ids, _, err := enc.Encode(joined)
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

func collectAnthropicMessages(messages gjson.Result, segments *[]string) {
	if !messages.IsArray() {
		return
	}
	messages.ForEach(func(_, message gjson.Result) bool {
		content := message.Get("content")
		if content.Type == gjson.String {
			addIfNotEmpty(segments, content.String())
			return true
		}
		content.ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "text", "thinking":
				addIfNotEmpty(segments, block.Get("text").String())
				addIfNotEmpty(segments, block.Get("thinking").String())
			case "tool_use":
				addIfNotEmpty(segments, block.Get("name").String())
				addIfNotEmpty(segments, block.Get("input").Raw)
			case "tool_result":
				addIfNotEmpty(segments, block.Get("content").String())
			}
			return true
		})
		return true
	})
}

func collectAnthropicTools(tools gjson.Result, segments *[]string) {
	if !tools.IsArray() {
		return
	}
	tools.ForEach(func(_, tool gjson.Result) bool {
		addIfNotEmpty(segments, tool.Get("name").String())
		addIfNotEmpty(segments, tool.Get("description").String())
		if schema := tool.Get("input_schema"); schema.Exists() {
			addIfNotEmpty(segments, schema.Raw)
		}
		return true
	})
}

func addIfNotEmpty(segments *[]string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*segments = append(*segments, trimmed)
	}
}
