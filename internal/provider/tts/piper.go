// Package tts provides the synthesis-capability adapters.
package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/normanking/jarvisd/internal/provider"
)

const piperDefaultVoice = "en_US-ryan-high.onnx"

// PiperAdapter synthesizes with the Piper neural TTS CLI: one subprocess per
// request producing raw PCM on stdout, which is wrapped into a WAV container
// at the caller-supplied output path. Load only resolves and validates the
// binary and voice model.
type PiperAdapter struct {
	logger  zerolog.Logger
	tracker provider.StatusTracker

	rootDir   string
	binPath   string
	modelPath string
}

// NewPiper creates the Piper adapter, preferring the bundled ./piper binary
// over one on PATH.
func NewPiper(logger zerolog.Logger) *PiperAdapter {
	cwd, _ := os.Getwd()
	a := &PiperAdapter{
		logger:  logger.With().Str("provider", "piper").Logger(),
		rootDir: cwd,
	}
	a.binPath, _ = provider.ResolveBinary(filepath.Join(cwd, "piper", "piper"), "piper")
	a.modelPath = filepath.Join(cwd, "piper", "voices", piperDefaultVoice)
	a.tracker.SetModel(filepath.Base(a.modelPath))
	return a
}

func (a *PiperAdapter) Name() string { return "piper" }

func (a *PiperAdapter) Load(ctx context.Context, cfg provider.Config) error {
	a.tracker.SetState(provider.StateLoading)

	if a.binPath == "" {
		a.binPath, _ = provider.ResolveBinary(filepath.Join(a.rootDir, "piper", "piper"), "piper")
	}
	if a.binPath == "" {
		err := fmt.Errorf("%w: piper", provider.ErrBinaryNotFound)
		a.tracker.Fail(err)
		return err
	}

	if name := cfg.String("model", ""); name != "" {
		if !strings.HasSuffix(name, ".onnx") {
			name += ".onnx"
		}
		path, err := provider.ResolveFile(name,
			filepath.Join(a.rootDir, "piper", "voices"),
			filepath.Join(a.rootDir, "voices"),
			filepath.Join(a.rootDir, "piper"),
		)
		if err != nil {
			a.tracker.Fail(err)
			return err
		}
		a.modelPath = path
	}

	a.tracker.SetModel(filepath.Base(a.modelPath))
	a.tracker.SetState(provider.StateRunning)
	return nil
}

// Generate synthesizes text into the WAV file named by params["output_path"]
// and returns that path. A partially written file is removed on failure.
func (a *PiperAdapter) Generate(ctx context.Context, text string, params provider.Config) (string, error) {
	if !a.tracker.Running() {
		return "", provider.ErrNotLoaded
	}

	outputPath := params.String("output_path", "")
	if outputPath == "" {
		return "", fmt.Errorf("no output_path given")
	}

	sampleRate := sidecarSampleRate(a.modelPath, 22050)

	cmd := exec.CommandContext(ctx, a.binPath,
		"--model", a.modelPath,
		"--output_raw",
	)
	cmd.Stdin = strings.NewReader(text)
	// Piper's bundled onnxruntime lives next to the binary.
	cmd.Env = append(os.Environ(), "LD_LIBRARY_PATH="+prependPath(filepath.Dir(a.binPath), os.Getenv("LD_LIBRARY_PATH")))

	var pcm, stderr bytes.Buffer
	cmd.Stdout = &pcm
	cmd.Stderr = &stderr

	a.logger.Debug().Str("model", a.modelPath).Int("sample_rate", sampleRate).Msg("running piper synthesis")

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("piper failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	if err := writeWAV(outputPath, pcm.Bytes(), sampleRate); err != nil {
		os.Remove(outputPath)
		return "", err
	}
	return outputPath, nil
}

func (a *PiperAdapter) Unload() {
	a.tracker.SetState(provider.StateIdle)
}

func (a *PiperAdapter) Status() provider.Status { return a.tracker.Status() }

// sidecarSampleRate reads the sample rate from the voice model's .json
// sidecar, falling back to def when absent or malformed.
func sidecarSampleRate(modelPath string, def int) int {
	data, err := os.ReadFile(modelPath + ".json")
	if err != nil {
		return def
	}
	var cfg struct {
		Audio struct {
			SampleRate int `json:"sample_rate"`
		} `json:"audio"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil || cfg.Audio.SampleRate == 0 {
		return def
	}
	return cfg.Audio.SampleRate
}

// writeWAV wraps mono 16-bit little-endian PCM into a WAV container.
func writeWAV(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer f.Close()

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return fmt.Errorf("write wav: %w", err)
	}
	return enc.Close()
}

func prependPath(dir, existing string) string {
	if existing == "" {
		return dir
	}
	return dir + string(os.PathListSeparator) + existing
}
