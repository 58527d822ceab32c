package thinking

import (
	"fmt"

	"github.com/antigravity-proxy/messages-proxy/internal/cache"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	continuingFromPreviousContext = "[Continuing from previous context]"
	toolCallInterrupted           = "[Tool call was interrupted.]"
	continueMarker                = "[Continue]"
)

// ConversationState summarizes the tail of a message list well enough to
// decide which repair steps apply.
type ConversationState struct {
	LastAssistantIndex      int
	HasValidThinking        bool
	ToolResultCountAfterLast int
	PlainUserAfterLast      bool
}

// AnalyzeConversation walks a Claude "messages" JSON array and reports the
// state RepairMessages needs to make its decisions.
func AnalyzeConversation(messagesJSON []byte) ConversationState {
	state := ConversationState{LastAssistantIndex: -1}
	messages := gjson.ParseBytes(messagesJSON)
	if !messages.IsArray() {
		return state
	}
	arr := messages.Array()
	for i := len(arr) - 1; i >= 0; i-- {
		if arr[i].Get("role").String() == "assistant" {
			state.LastAssistantIndex = i
			break
		}
	}
	if state.LastAssistantIndex < 0 {
		return state
	}
	last := arr[state.LastAssistantIndex]
	last.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "thinking" {
			sig := block.Get("signature").String()
			if cache.HasValidSignature("", sig) {
				state.HasValidThinking = true
			}
		}
		return true
	})

	for i := state.LastAssistantIndex + 1; i < len(arr); i++ {
		msg := arr[i]
		if msg.Get("role").String() != "user" {
			continue
		}
		isToolResult := false
		msg.Get("content").ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "tool_result" {
				isToolResult = true
				state.ToolResultCountAfterLast++
			}
			return true
		})
		if !isToolResult {
			state.PlainUserAfterLast = true
		}
	}
	return state
}

// RepairMessages runs the full thinking-block integrity pipeline: restore
// cached signatures, reorder each message's content blocks into a canonical
// thinking/text/tool_use order (dropping empty text), drop unsigned trailing
// thinking blocks, synthesize a leading thinking block where one is required
// but missing, and close out interrupted or completed tool loops.
func RepairMessages(modelName string, messagesJSON []byte) []byte {
	messagesJSON = restoreSignatures(modelName, messagesJSON)
	messagesJSON = reorderAllMessages(messagesJSON)
	messagesJSON = dropTrailingUnsignedThinking(modelName, messagesJSON)
	messagesJSON = synthesizeLeadingThinking(messagesJSON)
	messagesJSON = closeToolLoops(messagesJSON)
	return messagesJSON
}

func restoreSignatures(modelName string, messagesJSON []byte) []byte {
	messages := gjson.ParseBytes(messagesJSON)
	if !messages.IsArray() {
		return messagesJSON
	}
	out := messagesJSON
	for mi, msg := range messages.Array() {
		if msg.Get("role").String() != "assistant" {
			continue
		}
		msg.Get("content").ForEach(func(key, block gjson.Result) bool {
			if block.Get("type").String() != "thinking" {
				return true
			}
			sig := block.Get("signature").String()
			if cache.HasValidSignature(modelName, sig) {
				return true
			}
			text := block.Get("thinking").String()
			if cached := cache.GetCachedSignature(modelName, text); cached != "" {
				path := fmt.Sprintf("%d.content.%d.signature", mi, key.Int())
				out, _ = sjson.SetBytes(out, path, cached)
			}
			return true
		})
	}
	return out
}

func reorderAllMessages(messagesJSON []byte) []byte {
	messages := gjson.ParseBytes(messagesJSON)
	if !messages.IsArray() {
		return messagesJSON
	}
	out := messagesJSON
	for mi, msg := range messages.Array() {
		content := msg.Get("content")
		if !content.IsArray() {
			continue
		}
		reordered := reorderBlocks(content.Array())
		raw, err := marshalBlocks(reordered)
		if err != nil {
			continue
		}
		out, _ = sjson.SetRawBytes(out, fmt.Sprintf("%d.content", mi), raw)
	}
	return out
}

// reorderBlocks stable-partitions blocks into thinking, then text, then
// tool_use (and anything else, in original relative order within each
// group), dropping text blocks whose text is empty.
func reorderBlocks(blocks []gjson.Result) []gjson.Result {
	var thinking, text, toolUse, other []gjson.Result
	for _, b := range blocks {
		switch b.Get("type").String() {
		case "thinking", "redacted_thinking":
			thinking = append(thinking, b)
		case "text":
			if b.Get("text").String() == "" {
				continue
			}
			text = append(text, b)
		case "tool_use":
			toolUse = append(toolUse, b)
		default:
			other = append(other, b)
		}
	}
	result := make([]gjson.Result, 0, len(blocks))
	result = append(result, thinking...)
	result = append(result, text...)
	result = append(result, toolUse...)
	result = append(result, other...)
	return result
}

func marshalBlocks(blocks []gjson.Result) ([]byte, error) {
	out := []byte("[]")
	var err error
	for _, b := range blocks {
		out, err = sjson.SetRawBytes(out, "-1", []byte(b.Raw))
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// dropTrailingUnsignedThinking removes thinking blocks at the tail of the
// last assistant message that never received a valid signature: replaying
// them upstream unsigned is rejected.
func dropTrailingUnsignedThinking(modelName string, messagesJSON []byte) []byte {
	state := AnalyzeConversation(messagesJSON)
	if state.LastAssistantIndex < 0 {
		return messagesJSON
	}
	messages := gjson.ParseBytes(messagesJSON)
	arr := messages.Array()
	last := arr[state.LastAssistantIndex]
	content := last.Get("content")
	if !content.IsArray() {
		return messagesJSON
	}
	blocks := content.Array()
	kept := make([]gjson.Result, 0, len(blocks))
	for i, b := range blocks {
		if b.Get("type").String() == "thinking" {
			sig := b.Get("signature").String()
			isTrailingRun := true
			for j := i + 1; j < len(blocks); j++ {
				if blocks[j].Get("type").String() != "thinking" {
					isTrailingRun = false
					break
				}
			}
			if isTrailingRun && !cache.HasValidSignature(modelName, sig) {
				continue
			}
		}
		kept = append(kept, b)
	}
	if len(kept) == len(blocks) {
		return messagesJSON
	}
	raw, err := marshalBlocks(kept)
	if err != nil {
		return messagesJSON
	}
	out, _ := sjson.SetRawBytes(messagesJSON, fmt.Sprintf("%d.content", state.LastAssistantIndex), raw)
	return out
}

// synthesizeLeadingThinking inserts a placeholder thinking block at the
// front of the last assistant message when it opens directly with tool_use
// and carries no thinking at all, matching what a fresh turn would have had.
func synthesizeLeadingThinking(messagesJSON []byte) []byte {
	state := AnalyzeConversation(messagesJSON)
	if state.LastAssistantIndex < 0 || state.HasValidThinking {
		return messagesJSON
	}
	messages := gjson.ParseBytes(messagesJSON)
	arr := messages.Array()
	last := arr[state.LastAssistantIndex]
	content := last.Get("content")
	if !content.IsArray() {
		return messagesJSON
	}
	blocks := content.Array()
	if len(blocks) == 0 || blocks[0].Get("type").String() != "tool_use" {
		return messagesJSON
	}
	placeholder := fmt.Sprintf(`{"type":"thinking","thinking":%q,"signature":""}`, continuingFromPreviousContext)
	newContent := "[]"
	newContent, _ = sjson.SetRaw(newContent, "-1", placeholder)
	for _, b := range blocks {
		newContent, _ = sjson.SetRaw(newContent, "-1", b.Raw)
	}
	out, _ := sjson.SetRawBytes(messagesJSON, fmt.Sprintf("%d.content", state.LastAssistantIndex), []byte(newContent))
	return out
}

// closeToolLoops handles the case where the conversation ends in the middle
// of a tool call and the last assistant message carries no valid thinking
// to resume from. Two shapes trigger it:
//
//   - interrupted tool: the tool_use never got a tool_result at all, and the
//     client instead sent a plain follow-up message. A synthetic
//     assistant text message is spliced in immediately after the tool_use,
//     so the model sees its call was abandoned rather than still pending.
//   - tool loop: every tool_use already has its tool_result. A summary and
//     a continue nudge are appended so the model picks the turn back up.
//
// Either way, every thinking block in the whole history is stripped first:
// a model resuming without its original unsigned thinking can't be trusted
// to requote blocks it never validated.
func closeToolLoops(messagesJSON []byte) []byte {
	state := AnalyzeConversation(messagesJSON)
	if state.LastAssistantIndex < 0 || state.HasValidThinking {
		return messagesJSON
	}
	messages := gjson.ParseBytes(messagesJSON)
	arr := messages.Array()
	last := arr[state.LastAssistantIndex]
	toolUseIDs := pendingToolUseIDs(last)
	if len(toolUseIDs) == 0 {
		return messagesJSON
	}

	resultIDs := make(map[string]bool)
	plainUserSeen := false
	for i := state.LastAssistantIndex + 1; i < len(arr); i++ {
		msg := arr[i]
		if msg.Get("role").String() != "user" {
			continue
		}
		isToolResult := false
		msg.Get("content").ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "tool_result" {
				isToolResult = true
				resultIDs[block.Get("tool_use_id").String()] = true
			}
			return true
		})
		if !isToolResult {
			plainUserSeen = true
		}
	}

	allResolved := true
	for _, id := range toolUseIDs {
		if !resultIDs[id] {
			allResolved = false
			break
		}
	}
	interruptedTool := len(resultIDs) == 0 && plainUserSeen
	inToolLoop := allResolved

	if !interruptedTool && !inToolLoop {
		return messagesJSON
	}

	stripped := stripAllThinking(messagesJSON)

	if interruptedTool {
		synthetic := fmt.Sprintf(`{"role":"assistant","content":[{"type":"text","text":%q}]}`, toolCallInterrupted)
		return insertMessageAt(stripped, state.LastAssistantIndex+1, synthetic)
	}

	summary := fmt.Sprintf(`{"role":"assistant","content":[{"type":"text","text":"[%d tool executions completed.]"}]}`, len(toolUseIDs))
	out := appendMessage(stripped, summary)
	nudge := fmt.Sprintf(`{"role":"user","content":[{"type":"text","text":%q}]}`, continueMarker)
	return appendMessage(out, nudge)
}

// stripAllThinking removes every thinking and redacted_thinking block from
// every message in the history, not just the last assistant turn.
func stripAllThinking(messagesJSON []byte) []byte {
	messages := gjson.ParseBytes(messagesJSON)
	if !messages.IsArray() {
		return messagesJSON
	}
	out := messagesJSON
	for mi, msg := range messages.Array() {
		content := msg.Get("content")
		if !content.IsArray() {
			continue
		}
		blocks := content.Array()
		kept := make([]gjson.Result, 0, len(blocks))
		for _, b := range blocks {
			t := b.Get("type").String()
			if t == "thinking" || t == "redacted_thinking" {
				continue
			}
			kept = append(kept, b)
		}
		if len(kept) == len(blocks) {
			continue
		}
		raw, err := marshalBlocks(kept)
		if err != nil {
			continue
		}
		out, _ = sjson.SetRawBytes(out, fmt.Sprintf("%d.content", mi), raw)
	}
	return out
}

// insertMessageAt splices rawMessage into messagesJSON's array immediately
// before the message currently at index, shifting everything from index
// onward one slot later. index == len(array) appends.
func insertMessageAt(messagesJSON []byte, index int, rawMessage string) []byte {
	messages := gjson.ParseBytes(messagesJSON)
	arr := messages.Array()
	out := []byte("[]")
	for i, msg := range arr {
		if i == index {
			out, _ = sjson.SetRawBytes(out, "-1", []byte(rawMessage))
		}
		out, _ = sjson.SetRawBytes(out, "-1", []byte(msg.Raw))
	}
	if index >= len(arr) {
		out, _ = sjson.SetRawBytes(out, "-1", []byte(rawMessage))
	}
	return out
}

func appendMessage(messagesJSON []byte, rawMessage string) []byte {
	out, err := sjson.SetRawBytes(messagesJSON, "-1", []byte(rawMessage))
	if err != nil {
		return messagesJSON
	}
	return out
}

func pendingToolUseIDs(assistantMsg gjson.Result) []string {
	var ids []string
	assistantMsg.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "tool_use" {
			if id := block.Get("id").String(); id != "" {
				ids = append(ids, id)
			}
		}
		return true
	})
	return ids
}
