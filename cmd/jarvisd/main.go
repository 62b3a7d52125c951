// jarvisd is the local voice assistant daemon: it supervises model backend
// processes, routes chat turns through retrieval and memory, and serves the
// HTTP/WebSocket API the frontend talks to.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/jarvisd/internal/bus"
	"github.com/normanking/jarvisd/internal/config"
	"github.com/normanking/jarvisd/internal/knowledge"
	"github.com/normanking/jarvisd/internal/logging"
	"github.com/normanking/jarvisd/internal/memory"
	"github.com/normanking/jarvisd/internal/metrics"
	"github.com/normanking/jarvisd/internal/orchestrator"
	"github.com/normanking/jarvisd/internal/provider"
	"github.com/normanking/jarvisd/internal/provider/asr"
	"github.com/normanking/jarvisd/internal/provider/llm"
	"github.com/normanking/jarvisd/internal/provider/tts"
	"github.com/normanking/jarvisd/internal/server"
	"github.com/normanking/jarvisd/internal/wake"
)

func main() {
	logs, err := logging.New(nil)
	if err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logs.Close()
	logger := logs.Zerolog()

	cfg, err := config.Load()
	if err != nil {
		logger.Warn().Err(err).Msg("config load failed, using defaults")
	}

	m := metrics.New()
	events := bus.NewEventBus()

	ks, err := knowledge.Open(cfg.Knowledge.Path, logger)
	if err != nil {
		logger.Error().Err(err).Msg("knowledge store unavailable")
		ks = nil
	} else {
		defer ks.Close()
	}

	reg := buildRegistry(logger)
	mem := memory.NewStore(memory.DefaultCapacity)

	var store orchestrator.KnowledgeStore
	if ks != nil {
		store = ks
	}
	orch := orchestrator.New(reg, mem, store, cfg.Personality.Name, m, logger)
	orch.SetEventBus(events)
	applyModuleConfig(orch, cfg, logger)

	// Every log line is also streamed to connected frontends.
	logs.SetOnLog(func(e logging.LogEntry) {
		events.Publish(bus.Event{Type: bus.EventTypeLogLine, Data: map[string]any{
			"timestamp": e.Timestamp, "level": e.Level, "message": e.Message,
		}})
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, orch, events, logs, m, logger)

	if cfg.Wake.Enabled {
		listener, err := wake.New(wake.Options{
			AccessKey:   cfg.Wake.AccessKey,
			Keyword:     cfg.Wake.Keyword,
			Sensitivity: float32(cfg.Wake.Sensitivity),
		}, func() {
			// Synchronous so the broadcast lands before the listener
			// resumes reading frames.
			events.PublishSync(bus.Event{Type: bus.EventTypeWakeDetected})
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("wake word detection unavailable")
		} else if err := listener.Start(); err != nil {
			logger.Warn().Err(err).Msg("wake word detection failed to start")
		} else {
			defer listener.Stop()
		}
	}

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("server error")
	}

	logger.Info().Msg("shutting down")
	orch.Shutdown()
}

// buildRegistry registers every known provider adapter. Registration only
// constructs the adapter; nothing is spawned or loaded here.
func buildRegistry(logger zerolog.Logger) *orchestrator.Registry {
	reg := orchestrator.NewRegistry()

	for _, a := range []provider.Adapter{
		llm.NewLlamaCpp(logger),
		llm.NewOllama(logger),
		llm.NewBitNet(logger),
		llm.NewVLLM(logger),
	} {
		reg.Register(orchestrator.CapGeneration, a.Name(), a)
	}
	for _, a := range []provider.Adapter{
		asr.NewWhisperCpp(logger),
		asr.NewVosk(logger),
	} {
		reg.Register(orchestrator.CapTranscription, a.Name(), a)
	}
	for _, a := range []provider.Adapter{
		tts.NewPiper(logger),
		tts.NewCoqui(logger),
	} {
		reg.Register(orchestrator.CapSynthesis, a.Name(), a)
	}
	return reg
}

// applyModuleConfig selects the saved providers and loads them in the
// background so startup is not blocked on model loads.
func applyModuleConfig(orch *orchestrator.Orchestrator, cfg *config.Config, logger zerolog.Logger) {
	modules := []struct {
		module   orchestrator.Module
		settings config.ModuleSettings
	}{
		{orchestrator.ModuleLLM, cfg.LLM},
		{orchestrator.ModuleASR, cfg.ASR},
		{orchestrator.ModuleTTS, cfg.TTS},
	}

	for _, entry := range modules {
		orch.SetEnabled(entry.module, entry.settings.Enabled)
		if !entry.settings.Enabled {
			continue
		}
		if entry.settings.Provider != "" && !orch.Switch(entry.module, entry.settings.Provider) {
			logger.Warn().Str("module", string(entry.module)).
				Str("provider", entry.settings.Provider).
				Msg("configured provider is not registered")
			continue
		}

		module, opts := entry.module, provider.Config(entry.settings.Options)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := orch.LoadModule(ctx, module, opts); err != nil {
				logger.Error().Err(err).Str("module", string(module)).Msg("provider load failed")
			}
		}()
	}

	orch.SetEnabled(orchestrator.ModuleKnowledge, cfg.Knowledge.Enabled)
}
