package api

import (
	"strings"
	"testing"
)

func validMessagesBody() []byte {
	return []byte(`{"model":"claude-sonnet-4-5","max_tokens":1024,"messages":[{"role":"user","content":"hi"}]}`)
}

func TestValidateMessagesRequestAcceptsAWellFormedBody(t *testing.T) {
	if err := validateMessagesRequest(validMessagesBody()); err != nil {
		t.Fatalf("expected a well-formed body to pass validation, got %v", err)
	}
}

func TestValidateMessagesRequestRejectsEmptyMessages(t *testing.T) {
	err := validateMessagesRequest([]byte(`{"model":"claude-sonnet-4-5","messages":[]}`))
	if err == nil {
		t.Fatalf("expected an empty messages array to be rejected")
	}
}

func TestValidateMessagesRequestRejectsMissingMessages(t *testing.T) {
	err := validateMessagesRequest([]byte(`{"model":"claude-sonnet-4-5"}`))
	if err == nil {
		t.Fatalf("expected a missing messages field to be rejected")
	}
}

func TestValidateMessagesRequestRejectsTooManyMessages(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`{"messages":[`)
	for i := 0; i < maxMessages+1; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"role":"user","content":"hi"}`)
	}
	sb.WriteString(`]}`)
	if err := validateMessagesRequest([]byte(sb.String())); err == nil {
		t.Fatalf("expected exceeding %d messages to be rejected", maxMessages)
	}
}

func TestValidateMessagesRequestRejectsTooManyTools(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`{"messages":[{"role":"user","content":"hi"}],"tools":[`)
	for i := 0; i < maxTools+1; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"name":"t"}`)
	}
	sb.WriteString(`]}`)
	if err := validateMessagesRequest([]byte(sb.String())); err == nil {
		t.Fatalf("expected exceeding %d tools to be rejected", maxTools)
	}
}

func TestValidateMessagesRequestRejectsOversizedTextBlock(t *testing.T) {
	oversized := strings.Repeat("a", maxTextBlockBytes+1)
	body := []byte(`{"messages":[{"role":"user","content":[{"type":"text","text":"` + oversized + `"}]}]}`)
	if err := validateMessagesRequest(body); err == nil {
		t.Fatalf("expected an oversized text block to be rejected")
	}
}

func TestValidateMessagesRequestRejectsOversizedImageData(t *testing.T) {
	oversized := strings.Repeat("a", maxImageBytes+1)
	body := []byte(`{"messages":[{"role":"user","content":[{"type":"image","source":{"data":"` + oversized + `"}}]}]}`)
	if err := validateMessagesRequest(body); err == nil {
		t.Fatalf("expected oversized image data to be rejected")
	}
}

func TestValidateMessagesRequestRejectsMaxTokensOutOfRange(t *testing.T) {
	if err := validateMessagesRequest([]byte(`{"max_tokens":0,"messages":[{"role":"user","content":"hi"}]}`)); err == nil {
		t.Fatalf("expected max_tokens of 0 to be rejected")
	}
	if err := validateMessagesRequest([]byte(`{"max_tokens":200001,"messages":[{"role":"user","content":"hi"}]}`)); err == nil {
		t.Fatalf("expected max_tokens of 200001 to be rejected")
	}
}

func TestValidateMessagesRequestAcceptsMaxTokensBoundaries(t *testing.T) {
	if err := validateMessagesRequest([]byte(`{"max_tokens":1,"messages":[{"role":"user","content":"hi"}]}`)); err != nil {
		t.Fatalf("expected max_tokens of 1 to be accepted, got %v", err)
	}
	if err := validateMessagesRequest([]byte(`{"max_tokens":200000,"messages":[{"role":"user","content":"hi"}]}`)); err != nil {
		t.Fatalf("expected max_tokens of 200000 to be accepted, got %v", err)
	}
}

func TestValidateMessagesRequestRejectsProtoPollutionKeyAtTopLevel(t *testing.T) {
	body := []byte(`{"__proto__":{"polluted":true},"messages":[{"role":"user","content":"hi"}]}`)
	if err := validateMessagesRequest(body); err == nil {
		t.Fatalf("expected a top-level __proto__ key to be rejected")
	}
}

func TestValidateMessagesRequestRejectsProtoPollutionKeyDeeplyNested(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":[{"type":"text","text":"hi","metadata":{"constructor":{"prototype":1}}}]}]}`)
	if err := validateMessagesRequest(body); err == nil {
		t.Fatalf("expected a deeply nested constructor key to be rejected")
	}
}

func TestValidateMessagesRequestRejectsProtoPollutionKeyInArray(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"hi"}],"metadata":{"tags":[{"prototype":1}]}}`)
	if err := validateMessagesRequest(body); err == nil {
		t.Fatalf("expected a __proto__-family key inside an array to be rejected")
	}
}

func TestValidateMessagesRequestRejectsInvalidJSON(t *testing.T) {
	if err := validateMessagesRequest([]byte(`not json`)); err == nil {
		t.Fatalf("expected invalid JSON to be rejected")
	}
}
