package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "Jarvis", cfg.Personality.Name)
	assert.NotEmpty(t, cfg.Personality.SystemPrompt)

	assert.True(t, cfg.LLM.Enabled)
	assert.Equal(t, "llama.cpp", cfg.LLM.Provider)
	assert.Equal(t, "whisper.cpp", cfg.ASR.Provider)
	assert.Equal(t, "piper", cfg.TTS.Provider)

	assert.True(t, cfg.Knowledge.Enabled)
	assert.Equal(t, 3, cfg.Knowledge.TopK)
	assert.NotEmpty(t, cfg.Knowledge.Path)

	// Wake detection needs an access key, so it ships off.
	assert.False(t, cfg.Wake.Enabled)
}
