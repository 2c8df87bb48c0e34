package prompts

import "log/slog"

// AssistantPromptID names the system prompt seeded into every session.
const AssistantPromptID = "assistant"

// DefaultAssistantName is substituted for {{assistant_name}}.
const DefaultAssistantName = "Shiva AI"

func init() {
	DefaultRegistry().Register(&Prompt{
		ID:      AssistantPromptID,
		Version: PromptV1,
		Content: "You are {{assistant_name}}, an advanced intelligent assistant. " +
			"Provide helpful, accurate, and detailed responses. " +
			"When files are provided, analyze them thoroughly and reference specific details. " +
			"Be professional, clear, and comprehensive in your answers.",
		Description: "General chat assistant",
		Tags:        []string{"chat", "files"},
	})
}

// SystemPrompt renders the assistant prompt with optional user instructions
// appended as a final paragraph.
func SystemPrompt(name, instructions string) string {
	if name == "" {
		name = DefaultAssistantName
	}
	b, err := NewPromptBuilder(DefaultRegistry(), AssistantPromptID, PromptV1)
	if err != nil {
		// Registered in init; unreachable unless the registry was tampered with.
		slog.Error("assistant prompt missing", slog.Any("error", err))
		return "You are " + name + ", a helpful assistant."
	}
	return b.AddFragment(instructions).SetVariable("assistant_name", name).Build()
}
