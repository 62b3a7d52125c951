package asr

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/normanking/jarvisd/internal/provider"
)

func TestNormalizeWhisperModel(t *testing.T) {
	cases := map[string]string{
		"base.en":           "ggml-base.en.bin",
		"small":             "ggml-small.bin",
		"ggml-base.en":      "ggml-base.en.bin",
		"ggml-base.en.bin":  "ggml-base.en.bin",
		"custom-model.bin":  "custom-model.bin",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeWhisperModel(in), "input %q", in)
	}
}

func TestWhisperCppGenerateBeforeLoad(t *testing.T) {
	a := NewWhisperCpp(zerolog.Nop())

	_, err := a.Generate(context.Background(), "/tmp/audio.wav", provider.Config{})
	assert.ErrorIs(t, err, provider.ErrNotLoaded)
}

func TestWhisperCppLoadMissingModel(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	a := NewWhisperCpp(zerolog.Nop())

	err := a.Load(context.Background(), provider.Config{"model": "base.en"})
	assert.Error(t, err)
	assert.Equal(t, provider.StateError, a.Status().State)
}
