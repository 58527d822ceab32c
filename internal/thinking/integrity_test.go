package thinking

import (
	"strings"
	"testing"

	"github.com/antigravity-proxy/messages-proxy/internal/cache"
	"github.com/tidwall/gjson"
)

func validSignature() string {
	return strings.Repeat("s", cache.MinValidSignatureLen)
}

func TestReorderBlocksPartitionsByType(t *testing.T) {
	messages := []byte(`[{"role":"assistant","content":[
		{"type":"tool_use","id":"t1","name":"x"},
		{"type":"text","text":"hello"},
		{"type":"thinking","thinking":"hmm","signature":"` + validSignature() + `"},
		{"type":"text","text":""}
	]}]`)

	out := reorderAllMessages(messages)
	content := gjson.GetBytes(out, "0.content").Array()

	if len(content) != 3 {
		t.Fatalf("expected the empty text block to be dropped, got %d blocks", len(content))
	}
	if content[0].Get("type").String() != "thinking" {
		t.Fatalf("expected thinking block first, got %s", content[0].Get("type").String())
	}
	if content[1].Get("type").String() != "text" {
		t.Fatalf("expected text block second, got %s", content[1].Get("type").String())
	}
	if content[2].Get("type").String() != "tool_use" {
		t.Fatalf("expected tool_use block last, got %s", content[2].Get("type").String())
	}
}

func TestDropTrailingUnsignedThinkingRemovesUnsignedTail(t *testing.T) {
	messages := []byte(`[{"role":"assistant","content":[
		{"type":"text","text":"hello"},
		{"type":"thinking","thinking":"unsigned","signature":""}
	]}]`)

	out := dropTrailingUnsignedThinking("claude-sonnet-4-5", messages)
	content := gjson.GetBytes(out, "0.content").Array()
	if len(content) != 1 {
		t.Fatalf("expected the unsigned trailing thinking block to be dropped, got %d blocks", len(content))
	}
	if content[0].Get("type").String() != "text" {
		t.Fatalf("expected only the text block to remain")
	}
}

func TestDropTrailingUnsignedThinkingKeepsSignedTail(t *testing.T) {
	messages := []byte(`[{"role":"assistant","content":[
		{"type":"text","text":"hello"},
		{"type":"thinking","thinking":"signed","signature":"` + validSignature() + `"}
	]}]`)

	out := dropTrailingUnsignedThinking("claude-sonnet-4-5", messages)
	content := gjson.GetBytes(out, "0.content").Array()
	if len(content) != 2 {
		t.Fatalf("expected the signed thinking block to survive, got %d blocks", len(content))
	}
}

func TestSynthesizeLeadingThinkingInsertsPlaceholder(t *testing.T) {
	messages := []byte(`[{"role":"assistant","content":[
		{"type":"tool_use","id":"t1","name":"x"}
	]}]`)

	out := synthesizeLeadingThinking(messages)
	content := gjson.GetBytes(out, "0.content").Array()
	if len(content) != 2 {
		t.Fatalf("expected a synthesized thinking block to be prepended, got %d blocks", len(content))
	}
	if content[0].Get("type").String() != "thinking" {
		t.Fatalf("expected the first block to be the synthesized thinking block")
	}
	if content[1].Get("type").String() != "tool_use" {
		t.Fatalf("expected the original tool_use block to follow")
	}
}

func TestSynthesizeLeadingThinkingSkipsWhenThinkingAlreadyValid(t *testing.T) {
	messages := []byte(`[{"role":"assistant","content":[
		{"type":"thinking","thinking":"already there","signature":"` + validSignature() + `"},
		{"type":"tool_use","id":"t1","name":"x"}
	]}]`)

	out := synthesizeLeadingThinking(messages)
	if string(out) != string(messages) {
		t.Fatalf("expected no change when a valid thinking block already exists")
	}
}

// TestCloseToolLoopsInsertsInterruptedMarkerBetweenToolUseAndFollowup covers
// the literal scenario of a tool_use whose result never arrived, replaced
// instead by an unrelated follow-up message: the synthetic assistant text
// message must land strictly between the two, not at the tail of the array.
func TestCloseToolLoopsInsertsInterruptedMarkerBetweenToolUseAndFollowup(t *testing.T) {
	messages := []byte(`[
		{"role":"user","content":[{"type":"text","text":"fetch weather"}]},
		{"role":"assistant","content":[
			{"type":"thinking","thinking":"should check weather","signature":""},
			{"type":"tool_use","id":"tu1","name":"get_weather","input":{"loc":"Paris"}}
		]},
		{"role":"user","content":[{"type":"text","text":"nevermind, hello"}]}
	]`)

	out := closeToolLoops(messages)
	arr := gjson.ParseBytes(out).Array()
	if len(arr) != 4 {
		t.Fatalf("expected one synthetic message to be inserted, got %d messages", len(arr))
	}

	if arr[1].Get("role").String() != "assistant" || arr[1].Get("content.1.type").String() != "tool_use" {
		t.Fatalf("expected the original tool_use assistant message to stay at index 1, got %s", arr[1].Raw)
	}
	if len(arr[1].Get("content").Array()) != 1 {
		t.Fatalf("expected thinking to be stripped from the tool_use message, got %s", arr[1].Raw)
	}

	synthetic := arr[2]
	if synthetic.Get("role").String() != "assistant" {
		t.Fatalf("expected the synthetic message to have role assistant, got %s", synthetic.Raw)
	}
	if synthetic.Get("content.0.type").String() != "text" || synthetic.Get("content.0.text").String() != toolCallInterrupted {
		t.Fatalf("expected the synthetic message to read %q, got %s", toolCallInterrupted, synthetic.Raw)
	}

	followup := arr[3]
	if followup.Get("role").String() != "user" || followup.Get("content.0.text").String() != "nevermind, hello" {
		t.Fatalf("expected the original follow-up message to survive unchanged after the synthetic one, got %s", followup.Raw)
	}
}

func TestCloseToolLoopsAppendsSummaryAndContinueWhenToolLoopCompleted(t *testing.T) {
	messages := []byte(`[
		{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"x"}]},
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}
	]`)

	out := closeToolLoops(messages)
	arr := gjson.ParseBytes(out).Array()
	if len(arr) != 4 {
		t.Fatalf("expected both a summary and a continue message to be appended, got %d messages", len(arr))
	}
	summary := arr[2]
	if summary.Get("role").String() != "assistant" || summary.Get("content.0.text").String() != "[1 tool executions completed.]" {
		t.Fatalf("expected an assistant summary message, got %s", summary.Raw)
	}
	nudge := arr[3]
	if nudge.Get("role").String() != "user" || nudge.Get("content.0.text").String() != continueMarker {
		t.Fatalf("expected a trailing user continue message, got %s", nudge.Raw)
	}
}

func TestCloseToolLoopsLeavesResolvedConversationsAlone(t *testing.T) {
	messages := []byte(`[{"role":"assistant","content":[{"type":"text","text":"hi"}]}]`)
	out := closeToolLoops(messages)
	if string(out) != string(messages) {
		t.Fatalf("expected no change when the last assistant message has no pending tool_use")
	}
}

func TestCloseToolLoopsSkipsWhenValidThinkingAlreadyPresent(t *testing.T) {
	cache.ClearSignatureCache("claude-sonnet-4-5")
	sig := validSignature()
	cache.CacheSignature("claude-sonnet-4-5", "already thought", sig)

	messages := []byte(`[{"role":"assistant","content":[
		{"type":"thinking","thinking":"already thought","signature":"` + sig + `"},
		{"type":"tool_use","id":"t1","name":"x"}
	]}]`)
	out := closeToolLoops(messages)
	if string(out) != string(messages) {
		t.Fatalf("expected no change when the last assistant message already has valid thinking")
	}
}

func TestCloseToolLoopsLeavesBareTrailingToolUseAlone(t *testing.T) {
	messages := []byte(`[{"role":"assistant","content":[
		{"type":"tool_use","id":"call-1","name":"x"}
	]}]`)
	out := closeToolLoops(messages)
	if string(out) != string(messages) {
		t.Fatalf("expected no change when nothing follows the pending tool_use yet")
	}
}

func TestRestoreSignaturesFillsFromCache(t *testing.T) {
	cache.ClearSignatureCache("claude-sonnet-4-5")
	cache.CacheSignature("claude-sonnet-4-5", "remembered thought", validSignature())

	messages := []byte(`[{"role":"assistant","content":[
		{"type":"thinking","thinking":"remembered thought","signature":""}
	]}]`)

	out := restoreSignatures("claude-sonnet-4-5", messages)
	sig := gjson.GetBytes(out, "0.content.0.signature").String()
	if sig != validSignature() {
		t.Fatalf("expected the cached signature to be restored, got %q", sig)
	}
}

func TestAnalyzeConversationFindsLastAssistantAndToolResults(t *testing.T) {
	messages := []byte(`[
		{"role":"user","content":[{"type":"text","text":"go"}]},
		{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"x"}]},
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}
	]`)
	state := AnalyzeConversation(messages)
	if state.LastAssistantIndex != 1 {
		t.Fatalf("expected the last assistant index to be 1, got %d", state.LastAssistantIndex)
	}
	if state.ToolResultCountAfterLast != 1 {
		t.Fatalf("expected one tool result after the last assistant message, got %d", state.ToolResultCountAfterLast)
	}
}

func TestAnalyzeConversationNoAssistant(t *testing.T) {
	state := AnalyzeConversation([]byte(`[{"role":"user","content":[{"type":"text","text":"go"}]}]`))
	if state.LastAssistantIndex != -1 {
		t.Fatalf("expected -1 when no assistant message exists, got %d", state.LastAssistantIndex)
	}
}

func TestRepairMessagesIsIdempotentOnACleanConversation(t *testing.T) {
	messages := []byte(`[
		{"role":"user","content":[{"type":"text","text":"hi"}]},
		{"role":"assistant","content":[{"type":"thinking","thinking":"ok","signature":"` + validSignature() + `"},{"type":"text","text":"hello"}]}
	]`)
	once := RepairMessages("claude-sonnet-4-5", messages)
	twice := RepairMessages("claude-sonnet-4-5", once)
	if string(once) != string(twice) {
		t.Fatalf("expected repairing an already-clean conversation to be a no-op on the second pass")
	}
}
