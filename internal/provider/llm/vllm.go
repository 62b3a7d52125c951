package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/jarvisd/internal/provider"
)

// VLLMAdapter drives a vLLM OpenAI-compatible server. Model loading can take
// minutes, so the probe budget is the widest of the generation providers:
// 60 attempts, 2s apart.
type VLLMAdapter struct {
	logger  zerolog.Logger
	tracker provider.StatusTracker
	sup     *provider.Supervisor
	probe   provider.HealthProbe
	client  *http.Client

	port  int
	model string
}

// NewVLLM creates the vLLM adapter.
func NewVLLM(logger zerolog.Logger) *VLLMAdapter {
	l := logger.With().Str("provider", "vllm").Logger()
	a := &VLLMAdapter{
		logger: l,
		sup:    provider.NewSupervisor(l),
		probe: provider.HealthProbe{
			Client:   &http.Client{Timeout: 2 * time.Second},
			Attempts: 60,
			Interval: 2 * time.Second,
		},
		client: &http.Client{Timeout: 60 * time.Second},
		port:   8081,
	}
	a.tracker.SetModel("None")
	a.tracker.SetPort(a.port)
	return a
}

func (a *VLLMAdapter) Name() string { return "vllm" }

func (a *VLLMAdapter) Load(ctx context.Context, cfg provider.Config) error {
	a.tracker.SetState(provider.StateLoading)
	a.Unload()

	model := cfg.String("model", "")
	if model == "" {
		err := fmt.Errorf("%w: no model specified", provider.ErrModelNotFound)
		a.tracker.Fail(err)
		return err
	}
	a.model = model
	a.tracker.SetModel(model)

	python, err := provider.ResolveBinary("python3", "python")
	if err != nil {
		a.tracker.Fail(err)
		return err
	}

	args := []string{
		"-m", "vllm.entrypoints.openai.api_server",
		"--model", model,
		"--port", strconv.Itoa(a.port),
		"--host", "127.0.0.1",
		"--gpu-memory-utilization", strconv.FormatFloat(cfg.Float("gpu_memory_utilization", 0.9), 'f', -1, 64),
	}
	if err := a.sup.Start(provider.SpawnSpec{Path: python, Args: args}); err != nil {
		a.tracker.Fail(err)
		return err
	}

	if err := a.probe.Wait(ctx, a.baseURL()+"/health"); err != nil {
		a.tracker.Fail(err)
		return err
	}

	a.tracker.SetState(provider.StateRunning)
	a.logger.Info().Str("model", model).Int("port", a.port).Msg("vllm server ready")
	return nil
}

func (a *VLLMAdapter) Generate(ctx context.Context, prompt string, params provider.Config) (string, error) {
	if !a.tracker.Running() {
		return "", provider.ErrNotLoaded
	}

	payload := map[string]any{
		"model":             a.model,
		"prompt":            prompt,
		"max_tokens":        params.Int("max_tokens", 128),
		"temperature":       params.Float("temperature", 0.7),
		"top_p":             params.Float("top_p", 1.0),
		"frequency_penalty": params.Float("frequency_penalty", 0.0),
		"stop":              llamaStopSequences,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL()+"/v1/completions", bytes.NewReader(body))
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
		Choices []struct {
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return trimResult(out.Choices[0].Text), nil
}

func (a *VLLMAdapter) Unload() {
	a.sup.Stop()
	a.tracker.SetState(provider.StateIdle)
}

func (a *VLLMAdapter) Status() provider.Status { return a.tracker.Status() }

func (a *VLLMAdapter) baseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", a.port)
}
