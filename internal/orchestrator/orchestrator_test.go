package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/jarvisd/internal/bus"
	"github.com/normanking/jarvisd/internal/knowledge"
	"github.com/normanking/jarvisd/internal/memory"
	"github.com/normanking/jarvisd/internal/provider"
)

// fakeAdapter records lifecycle calls and answers with a canned reply.
type fakeAdapter struct {
	name string

	mu         sync.Mutex
	loads      int
	unloads    int
	loaded     bool
	reply      string
	genErr     error
	lastPrompt string
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Load(ctx context.Context, cfg provider.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	f.loaded = true
	return nil
}

func (f *fakeAdapter) Generate(ctx context.Context, input string, params provider.Config) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPrompt = input
	if !f.loaded {
		return "", provider.ErrNotLoaded
	}
	if f.genErr != nil {
		return "", f.genErr
	}
	return f.reply, nil
}

func (f *fakeAdapter) Unload() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloads++
	f.loaded = false
}

func (f *fakeAdapter) Status() provider.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := provider.Status{State: provider.StateIdle}
	if f.loaded {
		st.State = provider.StateRunning
	}
	return st
}

// fakeKnowledge serves fixed hits for any query.
type fakeKnowledge struct {
	hits    []knowledge.Result
	queries []string
}

func (f *fakeKnowledge) Ingest(source, content string, metadata map[string]string) error { return nil }
func (f *fakeKnowledge) Retrieve(query string, topK int) []knowledge.Result {
	f.queries = append(f.queries, query)
	if topK < len(f.hits) {
		return f.hits[:topK]
	}
	return f.hits
}
func (f *fakeKnowledge) GetStatus() knowledge.Status { return knowledge.Status{Status: "Indexed"} }
func (f *fakeKnowledge) Clear() error                { return nil }

func newTestOrchestrator(ks KnowledgeStore, adapters ...*fakeAdapter) (*Orchestrator, *Registry) {
	reg := NewRegistry()
	for _, a := range adapters {
		reg.Register(CapGeneration, a.name, a)
	}
	orch := New(reg, memory.NewStore(10), ks, "Jarvis", nil, zerolog.Nop())
	return orch, reg
}

func TestSwitchToActiveIsNoOp(t *testing.T) {
	a := &fakeAdapter{name: "a", loaded: true}
	orch, _ := newTestOrchestrator(nil, a)

	assert.True(t, orch.Switch(ModuleLLM, "a"))
	assert.Zero(t, a.unloads)
	assert.True(t, a.loaded)
}

func TestSwitchToUnknownLeavesActiveUntouched(t *testing.T) {
	a := &fakeAdapter{name: "a"}
	orch, _ := newTestOrchestrator(nil, a)

	assert.False(t, orch.Switch(ModuleLLM, "nonexistent"))
	assert.Equal(t, "a", orch.ActiveProvider(ModuleLLM))
}

func TestSwitchUnloadsOldWithoutLoadingNew(t *testing.T) {
	a := &fakeAdapter{name: "a", loaded: true}
	b := &fakeAdapter{name: "b"}
	orch, _ := newTestOrchestrator(nil, a, b)

	require.True(t, orch.Switch(ModuleLLM, "b"))

	assert.Equal(t, 1, a.unloads)
	assert.Zero(t, b.loads)
	assert.Equal(t, "b", orch.ActiveProvider(ModuleLLM))

	// The new provider answers only after an explicit load.
	res := orch.Generate(context.Background(), "hello", nil)
	assert.Equal(t, "Error: "+provider.ErrNotLoaded.Error(), res.Text)

	require.NoError(t, orch.LoadModule(context.Background(), ModuleLLM, provider.Config{}))
	assert.Equal(t, 1, b.loads)
}

func TestGenerateDisabledShortCircuits(t *testing.T) {
	a := &fakeAdapter{name: "a", loaded: true, reply: "should not run"}
	orch, _ := newTestOrchestrator(nil, a)
	orch.SetEnabled(ModuleLLM, false)

	res := orch.Generate(context.Background(), "hello", nil)

	assert.Equal(t, "LLM Module is disabled.", res.Text)
	assert.Empty(t, orch.MemoryTurns())
	assert.Empty(t, a.lastPrompt)
}

func TestGenerateSuccessPersistsBothTurns(t *testing.T) {
	a := &fakeAdapter{name: "a", loaded: true, reply: "I am well."}
	orch, _ := newTestOrchestrator(nil, a)

	res := orch.Generate(context.Background(), "how are you?", nil)
	require.Equal(t, "I am well.", res.Text)

	turns := orch.MemoryTurns()
	require.Len(t, turns, 2)
	assert.Equal(t, memory.RoleUser, turns[0].Role)
	assert.Equal(t, "how are you?", turns[0].Content)
	assert.Equal(t, memory.RoleAssistant, turns[1].Role)
	assert.Equal(t, "I am well.", turns[1].Content)

	// The prompt ends with the assistant cue and includes the user turn.
	assert.Contains(t, a.lastPrompt, "User: how are you?")
	assert.True(t, strings.HasSuffix(a.lastPrompt, "Jarvis:"))
}

func TestGenerateErrorIsSurfacedNotPersisted(t *testing.T) {
	a := &fakeAdapter{name: "a", loaded: true, genErr: errors.New("backend exploded")}
	orch, _ := newTestOrchestrator(nil, a)

	res := orch.Generate(context.Background(), "hello", nil)
	assert.Equal(t, "Error: backend exploded", res.Text)

	turns := orch.MemoryTurns()
	require.Len(t, turns, 1)
	assert.Equal(t, memory.RoleUser, turns[0].Role)

	// A later successful turn must not see the error text in its prompt.
	a.mu.Lock()
	a.genErr = nil
	a.reply = "recovered"
	a.mu.Unlock()

	res = orch.Generate(context.Background(), "try again", nil)
	assert.Equal(t, "recovered", res.Text)
	assert.NotContains(t, a.lastPrompt, "backend exploded")
}

func TestGenerateWithRetrieval(t *testing.T) {
	ks := &fakeKnowledge{hits: []knowledge.Result{
		{Source: "manual.md", Content: "The reactor runs at 3 gigawatts.", Score: 1.0},
		{Source: "notes.md", Content: "Always wear gloves.", Score: 1.0},
	}}
	a := &fakeAdapter{name: "a", loaded: true, reply: "3 gigawatts."}
	orch, _ := newTestOrchestrator(ks, a)

	res := orch.Generate(context.Background(), "reactor output?", nil)

	assert.Equal(t, []string{"manual.md", "notes.md"}, res.Sources)
	assert.Contains(t, a.lastPrompt, "RELEVANT CONTEXT FROM KNOWLEDGE BASE:")
	assert.Contains(t, a.lastPrompt, "END OF CONTEXT.")
	assert.Contains(t, a.lastPrompt, "The reactor runs at 3 gigawatts.")
	// Retrieval sees the raw user input, not the assembled prompt.
	assert.Equal(t, []string{"reactor output?"}, ks.queries)
}

func TestGenerateRetrievalOptOut(t *testing.T) {
	ks := &fakeKnowledge{hits: []knowledge.Result{{Source: "doc.md", Content: "irrelevant"}}}
	a := &fakeAdapter{name: "a", loaded: true, reply: "ok"}
	orch, _ := newTestOrchestrator(ks, a)

	res := orch.Generate(context.Background(), "hi", provider.Config{"use_rag": false})

	assert.Empty(t, res.Sources)
	assert.Empty(t, ks.queries)
	assert.NotContains(t, a.lastPrompt, "RELEVANT CONTEXT")
}

func TestTranscribeAndSynthesizeRoute(t *testing.T) {
	asr := &fakeAdapter{name: "fake-asr", loaded: true, reply: "transcribed text"}
	ttsA := &fakeAdapter{name: "fake-tts", loaded: true, reply: "/tmp/out.wav"}

	reg := NewRegistry()
	reg.Register(CapTranscription, asr.name, asr)
	reg.Register(CapSynthesis, ttsA.name, ttsA)
	orch := New(reg, memory.NewStore(10), nil, "Jarvis", nil, zerolog.Nop())

	text, err := orch.Transcribe(context.Background(), "/tmp/in.wav", nil)
	require.NoError(t, err)
	assert.Equal(t, "transcribed text", text)

	path, err := orch.Synthesize(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out.wav", path)

	orch.SetEnabled(ModuleASR, false)
	_, err = orch.Transcribe(context.Background(), "/tmp/in.wav", nil)
	assert.ErrorIs(t, err, ErrModuleDisabled)
}

func TestSwitchPublishesEvent(t *testing.T) {
	a := &fakeAdapter{name: "a", loaded: true}
	b := &fakeAdapter{name: "b"}
	orch, _ := newTestOrchestrator(nil, a, b)

	events := bus.NewEventBus()
	orch.SetEventBus(events)
	got := make(chan bus.Event, 1)
	events.Subscribe(bus.EventTypeProviderSwitched, func(e bus.Event) { got <- e })

	require.True(t, orch.Switch(ModuleLLM, "b"))

	select {
	case e := <-got:
		assert.Equal(t, "llm", e.Data["module"])
		assert.Equal(t, "a", e.Data["from"])
		assert.Equal(t, "b", e.Data["to"])
	case <-time.After(time.Second):
		t.Fatal("no provider switch event published")
	}

	// Switching to the already active provider is a no-op and stays silent.
	require.True(t, orch.Switch(ModuleLLM, "b"))
	select {
	case <-got:
		t.Fatal("no-op switch must not publish an event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGeneratePublishesTurnEvents(t *testing.T) {
	a := &fakeAdapter{name: "a", loaded: true, reply: "fine"}
	orch, _ := newTestOrchestrator(nil, a)

	events := bus.NewEventBus()
	orch.SetEventBus(events)
	seen := make(chan bus.EventType, 4)
	events.SubscribeMultiple([]bus.EventType{
		bus.EventTypeTurnStarted, bus.EventTypeTurnCompleted, bus.EventTypeTurnFailed,
	}, func(e bus.Event) { seen <- e.Type })

	orch.Generate(context.Background(), "hello", nil)
	assert.ElementsMatch(t,
		[]bus.EventType{bus.EventTypeTurnStarted, bus.EventTypeTurnCompleted},
		collectEvents(t, seen, 2))

	a.mu.Lock()
	a.genErr = errors.New("backend exploded")
	a.mu.Unlock()

	orch.Generate(context.Background(), "again", nil)
	assert.ElementsMatch(t,
		[]bus.EventType{bus.EventTypeTurnStarted, bus.EventTypeTurnFailed},
		collectEvents(t, seen, 2))
}

func collectEvents(t *testing.T, ch chan bus.EventType, n int) []bus.EventType {
	t.Helper()
	out := make([]bus.EventType, 0, n)
	for len(out) < n {
		select {
		case e := <-ch:
			out = append(out, e)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d of %d", len(out)+1, n)
		}
	}
	return out
}

func TestRegistryCallWithoutAdapters(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Call(context.Background(), CapGeneration, "x", nil)
	assert.ErrorIs(t, err, ErrNoActiveProvider)
}

func TestOverviewReportsModules(t *testing.T) {
	a := &fakeAdapter{name: "a", loaded: true}
	orch, _ := newTestOrchestrator(&fakeKnowledge{}, a)

	overview := orch.Overview()
	require.Contains(t, overview, "llm")
	assert.True(t, overview["llm"].Enabled)
	assert.Equal(t, "a", overview["llm"].ActiveProvider)
	assert.Equal(t, "Indexed", overview["knowledge"].Status)
}
