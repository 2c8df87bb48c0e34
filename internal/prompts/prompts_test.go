package prompts

import (
	"strings"
	"testing"
)

func TestSystemPrompt(t *testing.T) {
	got := SystemPrompt("", "")
	if !strings.HasPrefix(got, "You are Shiva AI, an advanced intelligent assistant.") {
		t.Errorf("unexpected prompt: %q", got)
	}
	if strings.Contains(got, "{{") {
		t.Errorf("unsubstituted variable in %q", got)
	}

	custom := SystemPrompt("Nova", "Answer in French.")
	if !strings.HasPrefix(custom, "You are Nova,") || !strings.HasSuffix(custom, "\n\nAnswer in French.") {
		t.Errorf("custom prompt = %q", custom)
	}
}

func TestRegistry_GetLatest(t *testing.T) {
	r := NewPromptRegistry()
	r.Register(&Prompt{ID: "p", Version: "1.0.0", Content: "one"})
	r.Register(&Prompt{ID: "p", Version: "2.0.0", Content: "two", Deprecated: true})

	p, err := r.GetLatest("p")
	if err != nil || p.Content != "one" {
		t.Errorf("GetLatest = %v, %v; want non-deprecated v1", p, err)
	}

	r.Register(&Prompt{ID: "q", Version: "1.0.0", Content: "old", Deprecated: true})
	if p, _ := r.GetLatest("q"); p == nil || p.Content != "old" {
		t.Error("all-deprecated prompt should still resolve")
	}

	if _, err := r.GetLatest("missing"); err == nil {
		t.Error("expected error for unknown prompt")
	}
	if _, err := r.Get("p", "9.9.9"); err == nil {
		t.Error("expected error for unknown version")
	}
	if ids := r.List(); len(ids) != 2 || ids[0] != "p" || ids[1] != "q" {
		t.Errorf("List() = %v", ids)
	}
}
