package tts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/jarvisd/internal/provider"
)

func TestSidecarSampleRate(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "voice.onnx")

	// No sidecar file: fall back to the default.
	assert.Equal(t, 22050, sidecarSampleRate(model, 22050))

	require.NoError(t, os.WriteFile(model+".json",
		[]byte(`{"audio": {"sample_rate": 16000}}`), 0o644))
	assert.Equal(t, 16000, sidecarSampleRate(model, 22050))

	require.NoError(t, os.WriteFile(model+".json", []byte(`{broken`), 0o644))
	assert.Equal(t, 22050, sidecarSampleRate(model, 22050))
}

func TestPiperGenerateBeforeLoad(t *testing.T) {
	a := NewPiper(zerolog.Nop())

	_, err := a.Generate(context.Background(), "hello", provider.Config{
		"output_path": filepath.Join(t.TempDir(), "out.wav"),
	})
	assert.ErrorIs(t, err, provider.ErrNotLoaded)
}

func TestCoquiGenerateBeforeLoad(t *testing.T) {
	a := NewCoqui(zerolog.Nop())

	_, err := a.Generate(context.Background(), "hello", provider.Config{
		"output_path": filepath.Join(t.TempDir(), "out.wav"),
	})
	assert.ErrorIs(t, err, provider.ErrNotLoaded)
}
