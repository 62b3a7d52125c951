package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/jarvisd/internal/bus"
	"github.com/normanking/jarvisd/internal/config"
	"github.com/normanking/jarvisd/internal/knowledge"
	"github.com/normanking/jarvisd/internal/memory"
	"github.com/normanking/jarvisd/internal/orchestrator"
	"github.com/normanking/jarvisd/internal/provider"
)

// echoAdapter answers every call with a fixed reply. With writeOut set it
// behaves like a synthesis adapter and writes the reply bytes to the
// requested output path.
type echoAdapter struct {
	name     string
	loaded   bool
	reply    string
	writeOut bool
}

func (e *echoAdapter) Name() string                                       { return e.name }
func (e *echoAdapter) Load(ctx context.Context, cfg provider.Config) error { e.loaded = true; return nil }
func (e *echoAdapter) Generate(ctx context.Context, input string, params provider.Config) (string, error) {
	if !e.loaded {
		return "", provider.ErrNotLoaded
	}
	if e.writeOut {
		out := params.String("output_path", "")
		if out == "" {
			return "", provider.ErrModelNotFound
		}
		if err := os.WriteFile(out, []byte(e.reply), 0o644); err != nil {
			return "", err
		}
		return out, nil
	}
	return e.reply, nil
}
func (e *echoAdapter) Unload() { e.loaded = false }
func (e *echoAdapter) Status() provider.Status {
	if e.loaded {
		return provider.Status{State: provider.StateRunning}
	}
	return provider.Status{State: provider.StateIdle}
}

func newTestServer(t *testing.T) (*Server, *orchestrator.Orchestrator, *bus.EventBus) {
	t.Helper()

	ks, err := knowledge.Open(filepath.Join(t.TempDir(), "knowledge.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { ks.Close() })

	reg := orchestrator.NewRegistry()
	reg.Register(orchestrator.CapGeneration, "echo", &echoAdapter{name: "echo", loaded: true, reply: "hello"})
	reg.Register(orchestrator.CapTranscription, "fake-asr", &echoAdapter{name: "fake-asr", loaded: true, reply: "what time is it"})
	reg.Register(orchestrator.CapSynthesis, "fake-tts", &echoAdapter{name: "fake-tts", loaded: true, reply: "RIFFsynthesized", writeOut: true})

	events := bus.NewEventBus()
	orch := orchestrator.New(reg, memory.NewStore(10), ks, "Jarvis", nil, zerolog.Nop())
	orch.SetEventBus(events)
	cfg := config.DefaultConfig()
	return New(cfg, orch, events, nil, nil, zerolog.Nop()), orch, events
}

func TestHandleOverview(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/overview", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]orchestrator.ModuleOverview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "llm")
	assert.Equal(t, "echo", body["llm"].ActiveProvider)
	assert.Contains(t, body, "knowledge")
}

func TestHandleIngestAndClearMemory(t *testing.T) {
	s, orch, _ := newTestServer(t)
	mux := s.Routes()

	payload, _ := json.Marshal(map[string]any{
		"source":  "manual.md",
		"content": "The reactor output is rated at three gigawatts continuous.",
	})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/knowledge/ingest", bytes.NewReader(payload)))
	require.Equal(t, http.StatusOK, rec.Code)

	res := orch.Generate(context.Background(), "reactor", nil)
	assert.Equal(t, []string{"manual.md"}, res.Sources)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/memory/clear", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, orch.MemoryTurns())
}

func TestHandleIngestValidation(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/knowledge/ingest",
		bytes.NewReader([]byte(`{"source": "", "content": ""}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetConfig(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got config.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Jarvis", got.Personality.Name)
}

func TestConfigUpdateConcurrentWithReads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	s, _, _ := newTestServer(t)
	mux := s.Routes()

	payload, err := json.Marshal(config.DefaultConfig())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/config", bytes.NewReader(payload)))
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	wg.Wait()
}

func TestHandleTranscribe(t *testing.T) {
	s, _, _ := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "clip.wav")
	require.NoError(t, err)
	_, err = part.Write([]byte("RIFFfakewavdata"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/audio/transcribe", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "what time is it", got["text"])
}

func TestHandleTranscribeRequiresUpload(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/audio/transcribe", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSpeech(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/audio/speech",
		bytes.NewReader([]byte(`{"text": "good evening"}`))))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.Equal(t, "RIFFsynthesized", rec.Body.String())
}

func TestHandleSpeechRequiresText(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/audio/speech",
		bytes.NewReader([]byte(`{"text": ""}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// dialChat connects a real websocket client to the server under test and
// waits until the hub has registered it.
func dialChat(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return s.Hub().Count() == 1 },
		time.Second, 10*time.Millisecond)
	return conn
}

func TestWakeBroadcastMatchesChatShape(t *testing.T) {
	s, _, events := newTestServer(t)
	conn := dialChat(t, s)

	events.Publish(bus.Event{Type: bus.EventTypeWakeDetected})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "wake_word_detected", msg["type"])
	assert.Equal(t, "System", msg["sender"])
	assert.Equal(t, "Yes, sir? I'm listening.", msg["text"])
}

func TestProviderEventsRelayedToClients(t *testing.T) {
	s, _, events := newTestServer(t)
	conn := dialChat(t, s)

	events.Publish(bus.Event{
		Type: bus.EventTypeProviderSwitched,
		Data: map[string]any{"module": "llm", "from": "echo", "to": "ollama"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "provider.switched", msg.Type)
	assert.Equal(t, "ollama", msg.Data["to"])
}

func TestHandleSpecs(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/specs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Suggestion struct {
			Tier string `json:"tier"`
		} `json:"suggestion"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Suggestion.Tier)
}
