package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/jarvisd/internal/provider"
)

// OllamaAdapter drives an Ollama daemon. Ollama is a system-wide singleton
// that may already be running, so Load probes /api/tags first and only spawns
// `ollama serve` when nothing answers.
type OllamaAdapter struct {
	logger  zerolog.Logger
	tracker provider.StatusTracker
	sup     *provider.Supervisor
	probe   provider.HealthProbe
	client  *http.Client

	port  int
	model string
}

// NewOllama creates the Ollama adapter on the daemon's standard port.
func NewOllama(logger zerolog.Logger) *OllamaAdapter {
	l := logger.With().Str("provider", "ollama").Logger()
	a := &OllamaAdapter{
		logger: l,
		sup:    provider.NewSupervisor(l),
		probe: provider.HealthProbe{
			Client:   &http.Client{Timeout: time.Second},
			Attempts: 10,
			Interval: time.Second,
		},
		client: &http.Client{Timeout: 60 * time.Second},
		port:   11434,
	}
	a.tracker.SetModel("None")
	a.tracker.SetPort(a.port)
	return a
}

func (a *OllamaAdapter) Name() string { return "ollama" }

func (a *OllamaAdapter) Load(ctx context.Context, cfg provider.Config) error {
	a.model = cfg.String("model", "llama3.2:3b")
	a.tracker.SetModel(a.model)

	// Already-live daemon: adopt it, never double-start the singleton.
	if a.alive(ctx) {
		a.tracker.SetState(provider.StateRunning)
		a.logger.Info().Str("model", a.model).Msg("adopted running ollama daemon")
		return nil
	}

	a.tracker.SetState(provider.StateLoading)

	bin, err := provider.ResolveBinary("ollama")
	if err != nil {
		a.tracker.Fail(err)
		return err
	}
	if err := a.sup.Start(provider.SpawnSpec{Path: bin, Args: []string{"serve"}}); err != nil {
		a.tracker.Fail(err)
		return err
	}

	if err := a.probe.Wait(ctx, a.tagsURL()); err != nil {
		a.tracker.Fail(err)
		return err
	}

	a.tracker.SetState(provider.StateRunning)
	a.logger.Info().Str("model", a.model).Int("port", a.port).Msg("ollama daemon ready")
	return nil
}

func (a *OllamaAdapter) Generate(ctx context.Context, prompt string, params provider.Config) (string, error) {
	if !a.tracker.Running() {
		return "", provider.ErrNotLoaded
	}

	payload := map[string]any{
		"model":  a.model,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"temperature":    params.Float("temperature", 0.7),
			"num_predict":    params.Int("max_tokens", 128),
			"top_p":          params.Float("top_p", 1.0),
			"repeat_penalty": 1.0 + params.Float("frequency_penalty", 0.0),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/api/generate", a.port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("generate returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return trimResult(out.Response), nil
}

// Unload stops the daemon only if this adapter spawned it; an adopted
// system-wide instance is left alone.
func (a *OllamaAdapter) Unload() {
	a.sup.Stop()
	a.tracker.SetState(provider.StateIdle)
}

func (a *OllamaAdapter) Status() provider.Status { return a.tracker.Status() }

func (a *OllamaAdapter) alive(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.tagsURL(), nil)
	if err != nil {
		return false
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (a *OllamaAdapter) tagsURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/api/tags", a.port)
}
