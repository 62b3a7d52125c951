// Package llm provides the generation-capability adapters: local inference
// engines exposed behind the shared provider contract.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/jarvisd/internal/provider"
)

// llamaStopSequences ends generation at the next conversational turn.
var llamaStopSequences = []string{"User:", "\n\n", "Jarvis:"}

// LlamaCppAdapter drives a llama.cpp llama-server instance. Load resolves the
// binary and model, spawns the server and polls /health; Generate is a single
// round-trip to /completion.
type LlamaCppAdapter struct {
	logger  zerolog.Logger
	tracker provider.StatusTracker
	sup     *provider.Supervisor
	probe   provider.HealthProbe
	client  *http.Client

	port      int
	modelDirs []string
}

// NewLlamaCpp creates the llama.cpp adapter with the standard port and search
// paths.
func NewLlamaCpp(logger zerolog.Logger) *LlamaCppAdapter {
	l := logger.With().Str("provider", "llama.cpp").Logger()
	a := &LlamaCppAdapter{
		logger:    l,
		sup:       provider.NewSupervisor(l),
		probe:     provider.DefaultProbe(),
		client:    &http.Client{Timeout: 60 * time.Second},
		port:      8080,
		modelDirs: []string{"models", filepath.Join("llama.cpp", "models"), "."},
	}
	a.tracker.SetModel("None")
	a.tracker.SetPort(a.port)
	return a
}

func (a *LlamaCppAdapter) Name() string { return "llama.cpp" }

func (a *LlamaCppAdapter) Load(ctx context.Context, cfg provider.Config) error {
	a.tracker.SetState(provider.StateLoading)
	a.Unload()

	bin, err := provider.ResolveBinary(
		"llama-server",
		"llama-cli",
		"main",
		filepath.Join("llama.cpp", "build", "bin", "llama-server"),
		filepath.Join("llama.cpp", "build", "bin", "llama-cli"),
		filepath.Join("llama.cpp", "main"),
	)
	if err != nil {
		a.tracker.Fail(err)
		return err
	}

	modelPath, err := provider.ResolveFile(cfg.String("model", ""), a.modelDirs...)
	if err != nil {
		a.tracker.Fail(err)
		return err
	}

	args := []string{
		"-m", modelPath,
		"-t", strconv.Itoa(cfg.Int("cpu_threads", 4)),
		"-c", strconv.Itoa(cfg.Int("context_window", 2048)),
		"-n", strconv.Itoa(cfg.Int("max_tokens", 2048)),
		"--port", strconv.Itoa(a.port),
		"--host", "127.0.0.1",
		"-ngl", strconv.Itoa(cfg.Int("gpu_layers", 0)),
	}
	if err := a.sup.Start(provider.SpawnSpec{Path: bin, Args: args}); err != nil {
		a.tracker.Fail(err)
		return err
	}

	if err := a.probe.Wait(ctx, a.baseURL()+"/health"); err != nil {
		// The half-started process stays supervised; the caller's next
		// Unload or Load retry tears it down.
		a.tracker.Fail(err)
		return err
	}

	a.tracker.SetModel(filepath.Base(modelPath))
	a.tracker.SetState(provider.StateRunning)
	a.logger.Info().Str("model", filepath.Base(modelPath)).Int("port", a.port).Msg("llama-server ready")
	return nil
}

func (a *LlamaCppAdapter) Generate(ctx context.Context, prompt string, params provider.Config) (string, error) {
	if !a.tracker.Running() {
		return "", provider.ErrNotLoaded
	}

	payload := map[string]any{
		"prompt":         prompt,
		"n_predict":      params.Int("max_tokens", 128),
		"temperature":    params.Float("temperature", 0.7),
		"top_p":          params.Float("top_p", 1.0),
		"repeat_penalty": 1.0 + params.Float("frequency_penalty", 0.0),
		"stop":           llamaStopSequences,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL()+"/completion", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("completion returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return trimResult(out.Content), nil
}

func (a *LlamaCppAdapter) Unload() {
	a.sup.Stop()
	a.tracker.SetState(provider.StateIdle)
}

func (a *LlamaCppAdapter) Status() provider.Status { return a.tracker.Status() }

func (a *LlamaCppAdapter) baseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", a.port)
}
