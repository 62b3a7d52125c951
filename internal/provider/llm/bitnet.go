package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/jarvisd/internal/provider"
)

const bitnetDefaultModel = "models/BitNet-b1.58-2B-4T/ggml-model-i2_s.gguf"

// BitNetAdapter drives the BitNet inference server, which is launched through
// its bundled python wrapper. BitNet loads slowly, so the health budget is
// doubled compared to llama.cpp. Its llama-server fork has shipped with
// different completion routes over time, so Generate walks the known
// endpoints until one answers.
type BitNetAdapter struct {
	logger  zerolog.Logger
	tracker provider.StatusTracker
	sup     *provider.Supervisor
	probe   provider.HealthProbe
	client  *http.Client

	port    int
	rootDir string
}

// NewBitNet creates the BitNet adapter rooted at ./BitNet.
func NewBitNet(logger zerolog.Logger) *BitNetAdapter {
	l := logger.With().Str("provider", "bitnet").Logger()
	cwd, _ := os.Getwd()
	a := &BitNetAdapter{
		logger: l,
		sup:    provider.NewSupervisor(l),
		probe: provider.HealthProbe{
			Client:   &http.Client{Timeout: 2 * time.Second},
			Attempts: 60,
			Interval: time.Second,
		},
		client:  &http.Client{Timeout: 60 * time.Second},
		port:    5000,
		rootDir: filepath.Join(cwd, "BitNet"),
	}
	a.tracker.SetModel("BitNet b1.58 2B")
	a.tracker.SetPort(a.port)
	return a
}

func (a *BitNetAdapter) Name() string { return "bitnet" }

func (a *BitNetAdapter) Load(ctx context.Context, cfg provider.Config) error {
	a.tracker.SetState(provider.StateLoading)
	a.Unload()

	script := filepath.Join(a.rootDir, "run_inference_server.py")
	if _, err := os.Stat(script); err != nil {
		err = fmt.Errorf("%w: %s", provider.ErrBinaryNotFound, script)
		a.tracker.Fail(err)
		return err
	}

	python := a.envPython()
	modelPath := a.resolveModel(cfg.String("model", ""))

	// BitNet is locked to conservative settings for stability.
	args := []string{
		script,
		"-m", modelPath,
		"-t", "2",
		"-c", "1024",
		"-n", "512",
		"--port", strconv.Itoa(a.port),
		"--host", "127.0.0.1",
		"--temperature", "0.8",
	}
	if prompt := cfg.String("system_prompt", ""); prompt != "" {
		args = append(args, "-p", prompt)
	}

	logPath := filepath.Join(filepath.Dir(a.rootDir), "bitnet_server.log")
	if err := a.sup.Start(provider.SpawnSpec{
		Path:    python,
		Args:    args,
		Dir:     a.rootDir,
		LogPath: logPath,
	}); err != nil {
		a.tracker.Fail(err)
		return err
	}

	if err := a.probe.Wait(ctx, a.baseURL()+"/health"); err != nil {
		a.tracker.Fail(err)
		return err
	}

	a.tracker.SetModel(filepath.Base(modelPath))
	a.tracker.SetState(provider.StateRunning)
	a.logger.Info().Str("model", modelPath).Int("port", a.port).Msg("bitnet server ready")
	return nil
}

func (a *BitNetAdapter) Generate(ctx context.Context, prompt string, params provider.Config) (string, error) {
	if !a.tracker.Running() {
		return "", provider.ErrNotLoaded
	}

	legacy := map[string]any{
		"prompt":         prompt,
		"n_predict":      params.Int("max_tokens", 128),
		"temperature":    params.Float("temperature", 0.7),
		"top_p":          params.Float("top_p", 1.0),
		"repeat_penalty": 1.0 + params.Float("frequency_penalty", 0.0),
		"stop":           llamaStopSequences,
	}
	v1 := map[string]any{
		"messages":         []map[string]string{{"role": "user", "content": prompt}},
		"max_tokens":       params.Int("max_tokens", 128),
		"temperature":      params.Float("temperature", 0.7),
		"top_p":            params.Float("top_p", 1.0),
		"presence_penalty": params.Float("frequency_penalty", 0.0),
	}

	var lastErr error
	for _, ep := range []string{"/completion", "/v1/chat/completions", "/v1/completions"} {
		payload := legacy
		if ep != "/completion" {
			payload = v1
		}
		text, err := a.post(ctx, ep, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err
		a.logger.Debug().Err(err).Str("endpoint", ep).Msg("completion endpoint failed, trying next")
	}
	return "", fmt.Errorf("all generation endpoints failed: %w", lastErr)
}

func (a *BitNetAdapter) post(ctx context.Context, endpoint string, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL()+endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned %d", endpoint, resp.StatusCode)
	}

	var out struct {
		Content string `json:"content"`
		Choices []struct {
			Text    string `json:"text"`
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Content != "" {
		return trimResult(out.Content), nil
	}
	if len(out.Choices) > 0 {
		if c := out.Choices[0].Message.Content; c != "" {
			return trimResult(c), nil
		}
		return trimResult(out.Choices[0].Text), nil
	}
	return "", fmt.Errorf("%s returned empty completion", endpoint)
}

func (a *BitNetAdapter) Unload() {
	a.sup.Stop()
	a.tracker.SetState(provider.StateIdle)
}

func (a *BitNetAdapter) Status() provider.Status { return a.tracker.Status() }

// envPython prefers the python bundled in BitNet's own virtualenv.
func (a *BitNetAdapter) envPython() string {
	envPath := filepath.Join(a.rootDir, "bitnet_env", "bin", "python")
	if runtime.GOOS == "windows" {
		envPath = filepath.Join(a.rootDir, "bitnet_env", "Scripts", "python.exe")
	}
	if _, err := os.Stat(envPath); err == nil {
		return envPath
	}
	return "python"
}

// resolveModel finds the model file under BitNet/models, falling back to the
// stock 2B checkpoint. Paths are returned relative to the BitNet root because
// the server script runs with that working directory.
func (a *BitNetAdapter) resolveModel(name string) string {
	if name == "" {
		return bitnetDefaultModel
	}
	if filepath.IsAbs(name) {
		return name
	}
	if _, err := os.Stat(filepath.Join(a.rootDir, "models", name)); err == nil {
		return filepath.Join("models", name)
	}
	var found string
	modelsRoot := filepath.Join(a.rootDir, "models")
	filepath.WalkDir(modelsRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || found != "" {
			return nil
		}
		if d.Name() == name {
			if rel, relErr := filepath.Rel(a.rootDir, path); relErr == nil {
				found = rel
			}
		}
		return nil
	})
	if found != "" {
		return found
	}
	return bitnetDefaultModel
}

func (a *BitNetAdapter) baseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", a.port)
}
