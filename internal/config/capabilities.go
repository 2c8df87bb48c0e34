package config

import "strings"

// Capabilities lists the optional integrations available in this process.
// It is resolved once at startup and handed to the components that need it.
type Capabilities struct {
	TTS           bool // speak assistant replies
	Transcription bool // voice input via Whisper
	PDF           bool
	DOCX          bool
	Search        bool // full-text search over messages
}

// ResolveCapabilities decides which integrations are usable. disabled is a
// comma separated list of names (tts, transcription, pdf, docx, search) that
// are switched off regardless.
func ResolveCapabilities(s *Settings, disabled string) Capabilities {
	off := make(map[string]bool)
	for _, name := range strings.Split(disabled, ",") {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			off[name] = true
		}
	}

	hasSpeechKey := s.SpeechKey != ""
	return Capabilities{
		TTS:           s.TTS && hasSpeechKey && !off["tts"],
		Transcription: hasSpeechKey && !off["transcription"],
		PDF:           !off["pdf"],
		DOCX:          !off["docx"],
		Search:        !off["search"],
	}
}

// Names returns the enabled capability names, for display.
func (c Capabilities) Names() []string {
	var names []string
	for _, f := range []struct {
		name string
		on   bool
	}{
		{"tts", c.TTS},
		{"transcription", c.Transcription},
		{"pdf", c.PDF},
		{"docx", c.DOCX},
		{"search", c.Search},
	} {
		if f.on {
			names = append(names, f.name)
		}
	}
	return names
}
