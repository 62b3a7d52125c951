package server

import (
	"encoding/base64"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/normanking/jarvisd/internal/provider"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The daemon serves a local frontend; origin checks are the reverse
	// proxy's job when one is deployed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// chatRequest is one inbound chat message.
type chatRequest struct {
	Text          string         `json:"text"`
	SpeakResponse bool           `json:"speak_response"`
	Params        map[string]any `json:"params,omitempty"`
}

// chatResponse is the reply pushed back on the socket. Audio carries
// base64-encoded WAV when speech was requested and synthesis succeeded.
type chatResponse struct {
	Sender  string   `json:"sender"`
	Text    string   `json:"text"`
	Sources []string `json:"sources,omitempty"`
	Audio   string   `json:"audio,omitempty"`
}

// handleChat upgrades to a websocket and serves chat turns until the client
// disconnects.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	s.hub.Add(id, conn)
	defer func() {
		s.hub.Remove(id)
		conn.Close()
	}()

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Str("conn", id).Err(err).Msg("chat read failed")
			}
			return
		}
		if req.Text == "" {
			continue
		}

		params := provider.Config(req.Params)
		if sp := s.systemPrompt(); sp != "" {
			params = params.Merge(provider.Config{"system_prompt": sp})
		}

		result := s.orch.Generate(r.Context(), req.Text, params)

		resp := chatResponse{
			Sender:  "jarvis",
			Text:    result.Text,
			Sources: result.Sources,
		}
		if req.SpeakResponse {
			resp.Audio = s.synthesizeToBase64(r, result.Text)
		}

		if err := s.hub.Send(id, resp); err != nil {
			s.logger.Warn().Str("conn", id).Err(err).Msg("chat write failed")
			return
		}
	}
}

// synthesizeToBase64 renders text to speech in a temp file and returns the
// WAV bytes base64-encoded. Synthesis failures degrade to text-only replies.
func (s *Server) synthesizeToBase64(r *http.Request, text string) string {
	outPath := filepath.Join(os.TempDir(), "jarvisd_tts_"+uuid.NewString()+".wav")
	defer os.Remove(outPath)

	if _, err := s.orch.Synthesize(r.Context(), text, provider.Config{"output_path": outPath}); err != nil {
		s.logger.Warn().Err(err).Msg("speech synthesis failed")
		return ""
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		s.logger.Warn().Err(err).Msg("read synthesized audio failed")
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}
