// Package server exposes the daemon's HTTP and WebSocket surface.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/jarvisd/internal/bus"
	"github.com/normanking/jarvisd/internal/config"
	"github.com/normanking/jarvisd/internal/hardware"
	"github.com/normanking/jarvisd/internal/logging"
	"github.com/normanking/jarvisd/internal/metrics"
	"github.com/normanking/jarvisd/internal/orchestrator"
	"github.com/normanking/jarvisd/internal/provider"
)

// Server wires the orchestrator into HTTP handlers.
type Server struct {
	logger zerolog.Logger
	cfgMu  sync.RWMutex // guards cfg: updates replace the whole document
	cfg    *config.Config
	orch   *orchestrator.Orchestrator
	hub    *Hub
	events *bus.EventBus
	logs   *logging.Logger
	m      *metrics.Metrics

	httpServer *http.Server
}

// New builds the server. logs and m may be nil.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, events *bus.EventBus, logs *logging.Logger, m *metrics.Metrics, logger zerolog.Logger) *Server {
	s := &Server{
		logger: logger.With().Str("component", "server").Logger(),
		cfg:    cfg,
		orch:   orch,
		hub:    NewHub(logger),
		events: events,
		logs:   logs,
		m:      m,
	}
	s.subscribeEvents()
	return s
}

// Hub exposes the websocket hub for event wiring.
func (s *Server) Hub() *Hub { return s.hub }

// subscribeEvents relays internal bus events to connected clients.
func (s *Server) subscribeEvents() {
	if s.events == nil {
		return
	}
	s.events.Subscribe(bus.EventTypeWakeDetected, func(e bus.Event) {
		// Shaped like a chat message so the frontend renders the prompt
		// inline in the conversation.
		s.hub.Broadcast(map[string]any{
			"type":   "wake_word_detected",
			"sender": "System",
			"text":   "Yes, sir? I'm listening.",
		})
	})
	s.events.SubscribeMultiple([]bus.EventType{
		bus.EventTypeProviderSwitched,
		bus.EventTypeProviderLoaded,
		bus.EventTypeProviderFailed,
	}, func(e bus.Event) {
		s.hub.Broadcast(map[string]any{"type": string(e.Type), "data": e.Data})
	})
	s.events.Subscribe(bus.EventTypeLogLine, func(e bus.Event) {
		s.hub.Broadcast(map[string]any{"type": "log", "data": e.Data})
	})
}

// Routes builds the HTTP mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/system/overview", s.handleOverview)
	mux.HandleFunc("GET /api/system/specs", s.handleSpecs)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config", s.handleUpdateConfig)
	mux.HandleFunc("POST /api/audio/transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /api/audio/speech", s.handleSpeech)
	mux.HandleFunc("POST /api/knowledge/ingest", s.handleIngest)
	mux.HandleFunc("POST /api/memory/clear", s.handleClearMemory)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("/ws/chat", s.handleChat)
	if s.m != nil {
		mux.Handle("GET /metrics", s.m.Handler())
	}
	return mux
}

// Start runs the HTTP server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http server listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Overview())
}

func (s *Server) handleSpecs(w http.ResponseWriter, r *http.Request) {
	specs := hardware.Detect(s.logger)
	writeJSON(w, http.StatusOK, map[string]any{
		"specs":      specs,
		"suggestion": hardware.SuggestModelConfig(specs),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.cfgMu.RLock()
	snapshot := *s.cfg
	s.cfgMu.RUnlock()
	writeJSON(w, http.StatusOK, snapshot)
}

// systemPrompt reads the configured persona prompt under the config lock.
func (s *Server) systemPrompt() string {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg.Personality.SystemPrompt
}

// handleUpdateConfig applies a full config document. Provider changes take
// effect immediately: the affected module is switched and its provider
// reloaded in the background so the HTTP response is not held hostage to a
// model load.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var incoming config.Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode config: %w", err))
		return
	}

	s.cfgMu.Lock()
	old := *s.cfg
	*s.cfg = incoming
	s.cfgMu.Unlock()

	s.applyModuleSettings(orchestrator.ModuleLLM, old.LLM, incoming.LLM)
	s.applyModuleSettings(orchestrator.ModuleASR, old.ASR, incoming.ASR)
	s.applyModuleSettings(orchestrator.ModuleTTS, old.TTS, incoming.TTS)
	s.orch.SetEnabled(orchestrator.ModuleKnowledge, incoming.Knowledge.Enabled)

	if err := config.Save(&incoming); err != nil {
		s.logger.Warn().Err(err).Msg("config save failed")
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// applyModuleSettings reconciles one module with its new settings.
func (s *Server) applyModuleSettings(m orchestrator.Module, old, next config.ModuleSettings) {
	s.orch.SetEnabled(m, next.Enabled)
	if !next.Enabled {
		return
	}

	providerChanged := next.Provider != "" && next.Provider != s.orch.ActiveProvider(m)
	if providerChanged && !s.orch.Switch(m, next.Provider) {
		s.logger.Warn().Str("module", string(m)).Str("provider", next.Provider).Msg("config names unknown provider")
		return
	}

	optionsChanged := fmt.Sprint(old.Options) != fmt.Sprint(next.Options)
	if providerChanged || optionsChanged {
		opts := provider.Config(next.Options)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := s.orch.LoadModule(ctx, m, opts); err != nil {
				s.logger.Error().Err(err).Str("module", string(m)).Msg("provider reload failed")
				if s.events != nil {
					s.events.Publish(bus.Event{Type: bus.EventTypeProviderFailed, Data: map[string]any{
						"module": string(m), "error": err.Error(),
					}})
				}
				return
			}
			if s.events != nil {
				s.events.Publish(bus.Event{Type: bus.EventTypeProviderLoaded, Data: map[string]any{
					"module": string(m), "provider": s.orch.ActiveProvider(m),
				}})
			}
		}()
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source   string            `json:"source"`
		Content  string            `json:"content"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Source == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("source and content are required"))
		return
	}

	if err := s.orch.IngestKnowledge(req.Source, req.Content, req.Metadata); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if s.events != nil {
		s.events.Publish(bus.Event{Type: bus.EventTypeDocumentIngested, Data: map[string]any{
			"source": req.Source,
		}})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	s.orch.ClearMemory()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logging.LogEntry{})
		return
	}
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, s.logs.GetHistory(limit))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
