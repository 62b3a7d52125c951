package asr

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/normanking/jarvisd/internal/provider"
)

// voskChunkFrames is the number of samples fed to the recognizer per step.
const voskChunkFrames = 4000

// VoskAdapter runs Kaldi-based recognition fully in-process: Load pulls the
// model weights into this process's memory, Unload drops them so the memory
// is reclaimed. No subprocess, no network port.
type VoskAdapter struct {
	logger    zerolog.Logger
	tracker   provider.StatusTracker
	modelsDir string

	mu    sync.Mutex
	model *vosk.VoskModel
}

// NewVosk creates the Vosk adapter reading models from ./vosk_models.
func NewVosk(logger zerolog.Logger) *VoskAdapter {
	a := &VoskAdapter{
		logger:    logger.With().Str("provider", "vosk").Logger(),
		modelsDir: "vosk_models",
	}
	a.tracker.SetModel("None")
	return a
}

func (a *VoskAdapter) Name() string { return "vosk" }

func (a *VoskAdapter) Load(ctx context.Context, cfg provider.Config) error {
	a.tracker.SetState(provider.StateLoading)
	a.Unload()

	name := cfg.String("model", "")
	if name == "" {
		err := fmt.Errorf("%w: no model specified", provider.ErrModelNotFound)
		a.tracker.Fail(err)
		return err
	}

	path := filepath.Join(a.modelsDir, name)
	if _, err := os.Stat(path); err != nil {
		err = fmt.Errorf("%w: %s", provider.ErrModelNotFound, name)
		a.tracker.Fail(err)
		return err
	}

	model, err := vosk.NewModel(path)
	if err != nil {
		a.tracker.Fail(err)
		return fmt.Errorf("load vosk model: %w", err)
	}

	a.mu.Lock()
	a.model = model
	a.mu.Unlock()

	a.tracker.SetModel(name)
	a.tracker.SetState(provider.StateRunning)
	a.logger.Info().Str("model", name).Msg("vosk model loaded")
	return nil
}

// Generate transcribes the WAV file at wavPath by streaming its PCM frames
// through the recognizer in fixed-size chunks.
func (a *VoskAdapter) Generate(ctx context.Context, wavPath string, params provider.Config) (string, error) {
	a.mu.Lock()
	model := a.model
	a.mu.Unlock()
	if model == nil {
		return "", provider.ErrNotLoaded
	}

	f, err := os.Open(wavPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return "", fmt.Errorf("decode wav: %w", err)
	}

	rec, err := vosk.NewRecognizer(model, float64(buf.Format.SampleRate))
	if err != nil {
		return "", fmt.Errorf("create recognizer: %w", err)
	}
	defer rec.Free()

	var out strings.Builder
	samples := buf.Data
	for start := 0; start < len(samples); start += voskChunkFrames {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		end := start + voskChunkFrames
		if end > len(samples) {
			end = len(samples)
		}
		if rec.AcceptWaveform(pcmBytes(samples[start:end])) != 0 {
			appendVoskText(&out, rec.Result())
		}
	}
	appendVoskText(&out, rec.FinalResult())

	return strings.TrimSpace(out.String()), nil
}

// Unload drops the model reference so the weights can be reclaimed.
func (a *VoskAdapter) Unload() {
	a.mu.Lock()
	if a.model != nil {
		a.model.Free()
		a.model = nil
	}
	a.mu.Unlock()
	a.tracker.SetState(provider.StateIdle)
}

func (a *VoskAdapter) Status() provider.Status { return a.tracker.Status() }

// pcmBytes converts decoded samples back to the little-endian 16-bit frames
// the recognizer consumes.
func pcmBytes(samples []int) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(s)))
	}
	return out
}

// appendVoskText extracts the "text" field from a recognizer JSON result.
func appendVoskText(sb *strings.Builder, result string) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		return
	}
	if payload.Text != "" {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(payload.Text)
	}
}
