package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/normanking/jarvisd/internal/provider"
)

// handleTranscribe accepts a multipart WAV upload under the "file" field and
// returns the active ASR provider's transcription.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("audio upload: %w", err))
		return
	}
	defer file.Close()

	// ASR adapters work on files, so the upload is staged in the temp dir.
	wavPath := filepath.Join(os.TempDir(), "jarvisd_asr_"+uuid.NewString()+".wav")
	out, err := os.Create(wavPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("stage audio: %w", err))
		return
	}
	defer os.Remove(wavPath)

	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		writeError(w, http.StatusInternalServerError, fmt.Errorf("stage audio: %w", err))
		return
	}
	out.Close()

	text, err := s.orch.Transcribe(r.Context(), wavPath, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// handleSpeech renders the posted text to speech and streams the WAV back.
func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("text is required"))
		return
	}

	outPath := filepath.Join(os.TempDir(), "jarvisd_tts_"+uuid.NewString()+".wav")
	defer os.Remove(outPath)

	if _, err := s.orch.Synthesize(r.Context(), req.Text, provider.Config{"output_path": outPath}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("read synthesized audio: %w", err))
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Write(data)
}
