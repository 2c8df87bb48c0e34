package prompts

import (
	"fmt"
	"strings"
)

// PromptBuilder composes a registered prompt with extra fragments and
// {{name}} substitutions.
type PromptBuilder struct {
	fragments []string
	variables map[string]string
}

// NewPromptBuilder starts from a registered prompt.
func NewPromptBuilder(registry *PromptRegistry, id string, version PromptVersion) (*PromptBuilder, error) {
	base, err := registry.Get(id, version)
	if err != nil {
		return nil, fmt.Errorf("failed to get base prompt: %w", err)
	}
	return &PromptBuilder{
		fragments: []string{base.Content},
		variables: make(map[string]string),
	}, nil
}

// AddFragment appends a paragraph. Blank fragments are ignored.
func (b *PromptBuilder) AddFragment(text string) *PromptBuilder {
	if strings.TrimSpace(text) != "" {
		b.fragments = append(b.fragments, strings.TrimSpace(text))
	}
	return b
}

// SetVariable sets a value for {{key}}.
func (b *PromptBuilder) SetVariable(key, value string) *PromptBuilder {
	b.variables[key] = value
	return b
}

// Build joins the fragments and substitutes variables.
func (b *PromptBuilder) Build() string {
	result := strings.Join(b.fragments, "\n\n")
	for key, value := range b.variables {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}
