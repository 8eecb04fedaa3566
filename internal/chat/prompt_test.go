package chat_test

import (
	"strings"
	"testing"

	"github.com/cloudsecdocs/docschat/internal/chat"
)

func TestBuildSystemPrompt_NoContext(t *testing.T) {
	got := chat.BuildSystemPrompt("", false)
	if !strings.Contains(got, "cloud security documentation site") {
		t.Error("prompt missing the assistant preamble")
	}
	if strings.Contains(got, "passages") {
		t.Error("prompt carries the blend instruction without any context")
	}
	if strings.Contains(got, "issue connecting") {
		t.Error("prompt carries the degraded disclaimer on a healthy request")
	}
}

func TestBuildSystemPrompt_WithContext(t *testing.T) {
	got := chat.BuildSystemPrompt("Passage 1 (from iam.md):\nIAM overview\n\n", false)
	if !strings.Contains(got, "IAM overview") {
		t.Error("prompt missing the context block")
	}
	if !strings.Contains(got, "naturally incorporate the information") {
		t.Error("prompt missing the blend instruction alongside context")
	}
	if i := strings.Index(got, "IAM overview"); i < strings.Index(got, "cloud security documentation site") {
		t.Error("context block should follow the preamble")
	}
}

func TestBuildSystemPrompt_Degraded(t *testing.T) {
	got := chat.BuildSystemPrompt("", true)
	if !strings.Contains(got, "issue connecting to the document database") {
		t.Error("prompt missing the degraded-retrieval disclaimer")
	}
}
