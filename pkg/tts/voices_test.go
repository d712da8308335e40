package tts_test

import (
	"testing"

	"github.com/teslashibe/go-voicebridge/pkg/tts"
)

func TestResolveElevenLabsVoice(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"preset name maps to voice ID", "charlotte", "XB0fDUnXU5powFXDhCwa"},
		{"another preset", "josh", "TxGEqnHWrfWFTfGW9XjX"},
		{"raw voice ID passes through", "XB0fDUnXU5powFXDhCwa", "XB0fDUnXU5powFXDhCwa"},
		{"unknown name passes through", "some-custom-clone", "some-custom-clone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tts.ResolveElevenLabsVoice(tt.input); got != tt.want {
				t.Errorf("ResolveElevenLabsVoice(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDefaultElevenLabsVoiceResolves(t *testing.T) {
	// The default must be a preset, never sent to the API verbatim.
	if !tts.IsElevenLabsPreset(tts.DefaultElevenLabsVoice) {
		t.Fatalf("Default voice %q is not a known preset", tts.DefaultElevenLabsVoice)
	}
	if id := tts.ResolveElevenLabsVoice(tts.DefaultElevenLabsVoice); id == tts.DefaultElevenLabsVoice {
		t.Errorf("Default voice %q did not resolve to a voice ID", tts.DefaultElevenLabsVoice)
	}
}

func TestIsElevenLabsPreset(t *testing.T) {
	if !tts.IsElevenLabsPreset("rachel") {
		t.Error("Expected rachel to be a preset")
	}
	if tts.IsElevenLabsPreset("alloy") {
		t.Error("alloy is an OpenAI voice, not an ElevenLabs preset")
	}
}
