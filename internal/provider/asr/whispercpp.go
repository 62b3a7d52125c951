// Package asr provides the transcription-capability adapters.
package asr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/normanking/jarvisd/internal/provider"
)

// WhisperCppAdapter transcribes via the whisper.cpp CLI: one fresh subprocess
// per request, no long-lived server. Load only resolves and validates the
// binary and model paths.
type WhisperCppAdapter struct {
	logger  zerolog.Logger
	tracker provider.StatusTracker

	rootDir   string
	cliPath   string
	modelPath string
}

// NewWhisperCpp creates the whisper.cpp adapter with the default base.en
// model.
func NewWhisperCpp(logger zerolog.Logger) *WhisperCppAdapter {
	cwd, _ := os.Getwd()
	a := &WhisperCppAdapter{
		logger:  logger.With().Str("provider", "whisper.cpp").Logger(),
		rootDir: cwd,
	}
	a.modelPath = a.findModel("ggml-base.en.bin")
	a.tracker.SetModel(filepath.Base(a.modelPath))
	return a
}

func (a *WhisperCppAdapter) Name() string { return "whisper.cpp" }

func (a *WhisperCppAdapter) Load(ctx context.Context, cfg provider.Config) error {
	a.tracker.SetState(provider.StateLoading)

	cli, err := provider.ResolveBinary(
		"whisper-cli",
		filepath.Join(a.rootDir, "whisper.cpp", "build", "bin", "whisper-cli"),
		filepath.Join(a.rootDir, "whisper.cpp", "build", "bin", "main"),
		"whisper",
	)
	if err != nil {
		a.tracker.Fail(err)
		return err
	}
	a.cliPath = cli

	if name := cfg.String("model", ""); name != "" {
		path := a.findModel(normalizeWhisperModel(name))
		if _, statErr := os.Stat(path); statErr != nil {
			err := fmt.Errorf("%w: %s", provider.ErrModelNotFound, name)
			a.tracker.Fail(err)
			return err
		}
		a.modelPath = path
	}

	a.tracker.SetModel(filepath.Base(a.modelPath))
	a.tracker.SetState(provider.StateRunning)
	return nil
}

// Generate transcribes the WAV file at wavPath. whisper-cli writes its
// transcript to <wav>.txt; that artifact is always removed before returning.
func (a *WhisperCppAdapter) Generate(ctx context.Context, wavPath string, params provider.Config) (string, error) {
	if !a.tracker.Running() {
		return "", provider.ErrNotLoaded
	}

	cmd := exec.CommandContext(ctx, a.cliPath,
		"-m", a.modelPath,
		"-f", wavPath,
		"-t", strconv.Itoa(params.Int("threads", 4)),
		"-otxt",
		"-nt",
		"-np",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	a.logger.Debug().Str("wav", wavPath).Str("model", a.modelPath).Msg("running whisper transcription")

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("whisper-cli failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	txtPath := wavPath + ".txt"
	if data, err := os.ReadFile(txtPath); err == nil {
		os.Remove(txtPath)
		return strings.TrimSpace(string(data)), nil
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (a *WhisperCppAdapter) Unload() {
	a.tracker.SetState(provider.StateIdle)
}

func (a *WhisperCppAdapter) Status() provider.Status { return a.tracker.Status() }

// findModel checks the flat whisper_models dir first, then the whisper.cpp
// checkout's own models dir.
func (a *WhisperCppAdapter) findModel(fileName string) string {
	for _, dir := range []string{
		filepath.Join(a.rootDir, "whisper_models"),
		filepath.Join(a.rootDir, "whisper.cpp", "models"),
	} {
		p := filepath.Join(dir, fileName)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(a.rootDir, "whisper_models", fileName)
}

// normalizeWhisperModel maps short model names to the ggml file naming
// convention: "base.en" -> "ggml-base.en.bin".
func normalizeWhisperModel(name string) string {
	if !strings.HasPrefix(name, "ggml-") && !strings.HasSuffix(name, ".bin") {
		return "ggml-" + name + ".bin"
	}
	if !strings.HasSuffix(name, ".bin") {
		return name + ".bin"
	}
	return name
}
