package api

import (
	"fmt"

	"github.com/tidwall/gjson"
)

const (
	maxMessages       = 500
	maxTools          = 100
	maxTextBlockBytes = 1 << 20  // 1 MB
	maxImageBytes     = 10 << 20 // 10 MB
	minMaxTokens      = 1
	maxMaxTokens      = 200000
)

var forbiddenKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// validateMessagesRequest enforces the structural and size caps a
// /v1/messages body must satisfy before it reaches the translator: a
// non-empty, bounded message array, a bounded tool set, bounded text and
// image block sizes, a max_tokens within range, and no prototype-pollution
// keys anywhere in the body.
func validateMessagesRequest(body []byte) error {
	if !gjson.ValidBytes(body) {
		return fmt.Errorf("request body must be valid JSON")
	}
	if key, found := findForbiddenKey(gjson.ParseBytes(body)); found {
		return fmt.Errorf("disallowed key %q in request body", key)
	}

	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() || len(messages.Array()) == 0 {
		return fmt.Errorf("messages must be a non-empty array")
	}
	if len(messages.Array()) > maxMessages {
		return fmt.Errorf("messages array exceeds the maximum of %d entries", maxMessages)
	}

	if tools := gjson.GetBytes(body, "tools"); tools.Exists() && tools.IsArray() && len(tools.Array()) > maxTools {
		return fmt.Errorf("tools array exceeds the maximum of %d entries", maxTools)
	}

	if maxTokens := gjson.GetBytes(body, "max_tokens"); maxTokens.Exists() {
		n := maxTokens.Int()
		if n < minMaxTokens || n > maxMaxTokens {
			return fmt.Errorf("max_tokens must be between %d and %d", minMaxTokens, maxMaxTokens)
		}
	}

	for _, msg := range messages.Array() {
		if err := validateContentBlocks(msg.Get("content")); err != nil {
			return err
		}
	}
	return nil
}

func validateContentBlocks(content gjson.Result) error {
	if !content.IsArray() {
		return nil
	}
	for _, block := range content.Array() {
		switch block.Get("type").String() {
		case "text":
			if len(block.Get("text").String()) > maxTextBlockBytes {
				return fmt.Errorf("text block exceeds the maximum of %d bytes", maxTextBlockBytes)
			}
		case "image":
			if data := block.Get("source.data").String(); len(data) > maxImageBytes {
				return fmt.Errorf("image data exceeds the maximum of %d bytes", maxImageBytes)
			}
		}
	}
	return nil
}

// findForbiddenKey walks value looking for a prototype-pollution key
// anywhere in the deep object tree, not just the top level.
func findForbiddenKey(value gjson.Result) (string, bool) {
	switch {
	case value.IsObject():
		var key string
		var found bool
		value.ForEach(func(k, v gjson.Result) bool {
			if forbiddenKeys[k.String()] {
				key, found = k.String(), true
				return false
			}
			if fk, ok := findForbiddenKey(v); ok {
				key, found = fk, true
				return false
			}
			return true
		})
		return key, found
	case value.IsArray():
		var key string
		var found bool
		value.ForEach(func(_, v gjson.Result) bool {
			if fk, ok := findForbiddenKey(v); ok {
				key, found = fk, true
				return false
			}
			return true
		})
		return key, found
	default:
		return "", false
	}
}
