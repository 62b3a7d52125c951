// Package orchestrator composes retrieval, conversational memory and the
// provider registry into the generation turn pipeline.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/jarvisd/internal/bus"
	"github.com/normanking/jarvisd/internal/knowledge"
	"github.com/normanking/jarvisd/internal/memory"
	"github.com/normanking/jarvisd/internal/metrics"
	"github.com/normanking/jarvisd/internal/provider"
)

// Module names the togglable subsystems.
type Module string

const (
	ModuleLLM       Module = "llm"
	ModuleASR       Module = "asr"
	ModuleTTS       Module = "tts"
	ModuleKnowledge Module = "knowledge"
)

// moduleCapability maps a module to the registry capability it drives.
var moduleCapability = map[Module]Capability{
	ModuleLLM: CapGeneration,
	ModuleASR: CapTranscription,
	ModuleTTS: CapSynthesis,
}

// Retrieval context markers. The generating model is prompted around these,
// so they are part of the observable output contract.
const (
	contextHeader = "RELEVANT CONTEXT FROM KNOWLEDGE BASE:"
	contextFooter = "END OF CONTEXT."
)

const defaultTopK = 3

// disabledReply is returned verbatim when a turn arrives with the LLM
// module switched off.
const disabledReply = "LLM Module is disabled."

// KnowledgeStore is the retrieval surface the pipeline needs.
type KnowledgeStore interface {
	Ingest(source, content string, metadata map[string]string) error
	Retrieve(query string, topK int) []knowledge.Result
	GetStatus() knowledge.Status
	Clear() error
}

// TurnResult is the outcome of one generation turn.
type TurnResult struct {
	Text    string   `json:"text"`
	Sources []string `json:"sources,omitempty"`
}

// ModuleOverview is one module's entry in the system overview.
type ModuleOverview struct {
	Enabled        bool     `json:"enabled"`
	ActiveProvider string   `json:"active_provider,omitempty"`
	Providers      []string `json:"providers,omitempty"`
	Status         string   `json:"status"`
	Model          string   `json:"model,omitempty"`
	Port           int      `json:"port,omitempty"`
	Documents      int      `json:"documents,omitempty"`
	Chunks         int      `json:"chunks,omitempty"`
}

// Orchestrator owns the turn pipeline and the module enable flags.
type Orchestrator struct {
	logger    zerolog.Logger
	registry  *Registry
	memory    *memory.Store
	knowledge KnowledgeStore
	metrics   *metrics.Metrics
	events    *bus.EventBus

	assistantName string

	mu      sync.RWMutex
	enabled map[Module]bool
}

// New wires the pipeline. metrics may be nil when instrumentation is not
// wanted, e.g. in tests.
func New(reg *Registry, mem *memory.Store, ks KnowledgeStore, assistantName string, m *metrics.Metrics, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		logger:        logger.With().Str("component", "orchestrator").Logger(),
		registry:      reg,
		memory:        mem,
		knowledge:     ks,
		metrics:       m,
		assistantName: assistantName,
		enabled: map[Module]bool{
			ModuleLLM:       true,
			ModuleASR:       true,
			ModuleTTS:       true,
			ModuleKnowledge: true,
		},
	}
}

// SetEventBus attaches the bus that carries provider and turn events. May be
// left unset, e.g. in tests that do not observe events.
func (o *Orchestrator) SetEventBus(b *bus.EventBus) {
	o.events = b
}

func (o *Orchestrator) publish(t bus.EventType, data map[string]any) {
	if o.events != nil {
		o.events.Publish(bus.Event{Type: t, Data: data})
	}
}

// SetEnabled toggles a module. Disabling never unloads the provider; it only
// short-circuits the pipeline entry points.
func (o *Orchestrator) SetEnabled(m Module, on bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enabled[m] = on
}

// Enabled reports whether a module is switched on.
func (o *Orchestrator) Enabled(m Module) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.enabled[m]
}

// Switch changes the active provider for a module's capability. Semantics
// follow Registry.Switch; a real swap is counted in the metrics.
func (o *Orchestrator) Switch(m Module, name string) bool {
	cap, ok := moduleCapability[m]
	if !ok {
		return false
	}
	previous := o.registry.ActiveName(cap)
	if !o.registry.Switch(cap, name) {
		o.logger.Warn().Str("module", string(m)).Str("provider", name).Msg("unknown provider")
		return false
	}
	if previous != name {
		o.logger.Info().Str("module", string(m)).Str("from", previous).Str("to", name).Msg("provider switched")
		if o.metrics != nil {
			o.metrics.ProviderSwitches.WithLabelValues(string(cap)).Inc()
		}
		o.publish(bus.EventTypeProviderSwitched, map[string]any{
			"module": string(m), "from": previous, "to": name,
		})
	}
	return true
}

// LoadModule initializes the module's active provider with cfg. Keys are
// normalized so callers can pass user-facing names like "Context Size".
func (o *Orchestrator) LoadModule(ctx context.Context, m Module, cfg provider.Config) error {
	cap, ok := moduleCapability[m]
	if !ok {
		return fmt.Errorf("module %q has no loadable provider", m)
	}
	return o.registry.LoadActive(ctx, cap, cfg.Normalize())
}

// Providers lists registered provider names for a module.
func (o *Orchestrator) Providers(m Module) []string {
	cap, ok := moduleCapability[m]
	if !ok {
		return nil
	}
	return o.registry.Providers(cap)
}

// ActiveProvider returns the module's active provider name.
func (o *Orchestrator) ActiveProvider(m Module) string {
	cap, ok := moduleCapability[m]
	if !ok {
		return ""
	}
	return o.registry.ActiveName(cap)
}

// Generate runs one full conversational turn: retrieval, memory append,
// prompt assembly, generation, and conditional persistence of the reply.
func (o *Orchestrator) Generate(ctx context.Context, input string, params provider.Config) TurnResult {
	if !o.Enabled(ModuleLLM) {
		return TurnResult{Text: disabledReply}
	}

	start := time.Now()
	params = params.Normalize()
	o.publish(bus.EventTypeTurnStarted, map[string]any{"input_chars": len(input)})

	contextBlock, sources := o.retrieveContext(input, params)

	// The user turn is recorded before generation so a failed turn still
	// leaves the question in the window.
	o.memory.Add(memory.RoleUser, input)

	prompt := o.assemblePrompt(contextBlock, params)

	text, err := o.registry.Call(ctx, CapGeneration, prompt, params)
	if o.metrics != nil {
		o.metrics.TurnsTotal.Inc()
		o.metrics.TurnDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		o.logger.Error().Err(err).Msg("generation failed")
		if o.metrics != nil {
			o.metrics.GenerationErrors.Inc()
		}
		o.publish(bus.EventTypeTurnFailed, map[string]any{"error": err.Error()})
		// Surfaced to the caller, never persisted: an error string in the
		// window would poison every later prompt.
		return TurnResult{Text: "Error: " + err.Error(), Sources: sources}
	}

	o.memory.Add(memory.RoleAssistant, text)
	o.publish(bus.EventTypeTurnCompleted, map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
		"sources":     len(sources),
	})
	return TurnResult{Text: text, Sources: sources}
}

// retrieveContext fetches knowledge chunks for the raw user input and
// renders them into the delimited context block.
func (o *Orchestrator) retrieveContext(input string, params provider.Config) (string, []string) {
	if o.knowledge == nil || !o.Enabled(ModuleKnowledge) || !params.Bool("use_rag", true) {
		return "", nil
	}

	hits := o.knowledge.Retrieve(input, params.Int("top_k", defaultTopK))
	if len(hits) == 0 {
		return "", nil
	}

	var sb strings.Builder
	var sources []string
	sb.WriteString("\n" + contextHeader + "\n")
	for _, h := range hits {
		fmt.Fprintf(&sb, "--- Source: %s ---\n%s\n", h.Source, h.Content)
		sources = append(sources, h.Source)
	}
	sb.WriteString("\n" + contextFooter + "\n")
	return sb.String(), sources
}

// assemblePrompt concatenates the system prompt, any retrieved context, the
// memory window and the assistant cue that invites the model to answer.
func (o *Orchestrator) assemblePrompt(contextBlock string, params provider.Config) string {
	system := params.String("system_prompt",
		"You are "+o.assistantName+", a helpful assistant.")

	var sb strings.Builder
	sb.WriteString(system)
	sb.WriteString("\n")
	if contextBlock != "" {
		sb.WriteString(contextBlock)
	}
	sb.WriteString("\n")
	sb.WriteString(o.memory.ContextString(o.assistantName))
	sb.WriteString(o.assistantName + ":")
	return sb.String()
}

// Transcribe converts the WAV file at wavPath to text via the active ASR
// provider.
func (o *Orchestrator) Transcribe(ctx context.Context, wavPath string, params provider.Config) (string, error) {
	if !o.Enabled(ModuleASR) {
		return "", fmt.Errorf("asr: %w", ErrModuleDisabled)
	}
	return o.registry.Call(ctx, CapTranscription, wavPath, params.Normalize())
}

// Synthesize renders text to a WAV file via the active TTS provider and
// returns the output path.
func (o *Orchestrator) Synthesize(ctx context.Context, text string, params provider.Config) (string, error) {
	if !o.Enabled(ModuleTTS) {
		return "", fmt.Errorf("tts: %w", ErrModuleDisabled)
	}
	return o.registry.Call(ctx, CapSynthesis, text, params.Normalize())
}

// IngestKnowledge indexes a document into the knowledge store.
func (o *Orchestrator) IngestKnowledge(source, content string, metadata map[string]string) error {
	if o.knowledge == nil {
		return fmt.Errorf("knowledge store not configured")
	}
	return o.knowledge.Ingest(source, content, metadata)
}

// ClearMemory wipes the conversation window.
func (o *Orchestrator) ClearMemory() {
	o.memory.Clear()
	o.logger.Info().Msg("conversation memory cleared")
}

// MemoryTurns returns a snapshot of the conversation window.
func (o *Orchestrator) MemoryTurns() []memory.Turn {
	return o.memory.Turns()
}

// Overview reports per-module status for the system overview endpoint.
func (o *Orchestrator) Overview() map[string]ModuleOverview {
	out := make(map[string]ModuleOverview, 4)
	for _, m := range []Module{ModuleLLM, ModuleASR, ModuleTTS} {
		cap := moduleCapability[m]
		name, st := o.registry.ActiveStatus(cap)
		out[string(m)] = ModuleOverview{
			Enabled:        o.Enabled(m),
			ActiveProvider: name,
			Providers:      o.registry.Providers(cap),
			Status:         st.Text(),
			Model:          st.Model,
			Port:           st.Port,
		}
	}

	ko := ModuleOverview{Enabled: o.Enabled(ModuleKnowledge), Status: "Not Configured"}
	if o.knowledge != nil {
		ks := o.knowledge.GetStatus()
		ko.Status = ks.Status
		ko.ActiveProvider = ks.Provider
		ko.Documents = ks.Documents
		ko.Chunks = ks.Chunks
	}
	out[string(ModuleKnowledge)] = ko
	return out
}

// Shutdown unloads every provider.
func (o *Orchestrator) Shutdown() {
	o.logger.Info().Msg("unloading providers")
	o.registry.UnloadAll()
}
