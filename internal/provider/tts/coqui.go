package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/jarvisd/internal/provider"
)

// CoquiAdapter drives a Coqui `tts-server` instance. Unlike Piper it keeps a
// long-lived server warm: Load spawns tts-server with the requested model and
// waits for it to answer, Generate is a single round-trip to /api/tts.
type CoquiAdapter struct {
	logger  zerolog.Logger
	tracker provider.StatusTracker
	sup     *provider.Supervisor
	probe   provider.HealthProbe
	client  *http.Client

	port  int
	model string
}

// NewCoqui creates the Coqui adapter on tts-server's standard port.
func NewCoqui(logger zerolog.Logger) *CoquiAdapter {
	l := logger.With().Str("provider", "coqui").Logger()
	a := &CoquiAdapter{
		logger: l,
		sup:    provider.NewSupervisor(l),
		probe: provider.HealthProbe{
			Client:   &http.Client{Timeout: 2 * time.Second},
			Attempts: 30,
			Interval: time.Second,
		},
		client: &http.Client{Timeout: 60 * time.Second},
		port:   5002,
	}
	a.tracker.SetModel("None")
	a.tracker.SetPort(a.port)
	return a
}

func (a *CoquiAdapter) Name() string { return "coqui" }

func (a *CoquiAdapter) Load(ctx context.Context, cfg provider.Config) error {
	a.tracker.SetState(provider.StateLoading)
	a.Unload()

	bin, err := provider.ResolveBinary("tts-server")
	if err != nil {
		a.tracker.Fail(err)
		return err
	}

	a.model = cfg.String("model", "tts_models/en/ljspeech/vits")
	args := []string{
		"--model_name", a.model,
		"--port", fmt.Sprintf("%d", a.port),
	}
	if err := a.sup.Start(provider.SpawnSpec{Path: bin, Args: args}); err != nil {
		a.tracker.Fail(err)
		return err
	}

	if err := a.probe.Wait(ctx, a.baseURL()+"/"); err != nil {
		a.tracker.Fail(err)
		return err
	}

	a.tracker.SetModel(a.model)
	a.tracker.SetState(provider.StateRunning)
	a.logger.Info().Str("model", a.model).Int("port", a.port).Msg("tts-server ready")
	return nil
}

// Generate synthesizes text into the WAV file named by params["output_path"]
// and returns that path.
func (a *CoquiAdapter) Generate(ctx context.Context, text string, params provider.Config) (string, error) {
	if !a.tracker.Running() {
		return "", provider.ErrNotLoaded
	}

	outputPath := params.String("output_path", "")
	if outputPath == "" {
		return "", fmt.Errorf("no output_path given")
	}

	reqURL := a.baseURL() + "/api/tts?text=" + url.QueryEscape(text)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tts returned %d", resp.StatusCode)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if err := os.WriteFile(outputPath, audioData, 0o644); err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("write audio: %w", err)
	}
	return outputPath, nil
}

func (a *CoquiAdapter) Unload() {
	a.sup.Stop()
	a.tracker.SetState(provider.StateIdle)
}

func (a *CoquiAdapter) Status() provider.Status { return a.tracker.Status() }

func (a *CoquiAdapter) baseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", a.port)
}
