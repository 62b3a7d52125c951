package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/jarvisd/internal/provider"
)

// pointAt rewires the adapter at a test server and marks it running.
func pointAt(t *testing.T, a *LlamaCppAdapter, srv *httptest.Server) {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	a.port = port
	a.tracker.SetState(provider.StateRunning)
}

func TestLlamaCppGenerateBeforeLoad(t *testing.T) {
	a := NewLlamaCpp(zerolog.Nop())

	_, err := a.Generate(context.Background(), "hello", provider.Config{})
	assert.ErrorIs(t, err, provider.ErrNotLoaded)
}

func TestLlamaCppLoadWithoutBinary(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	a := NewLlamaCpp(zerolog.Nop())

	err := a.Load(context.Background(), provider.Config{"model": "missing.gguf"})
	assert.ErrorIs(t, err, provider.ErrBinaryNotFound)
	assert.Equal(t, provider.StateError, a.Status().State)
}

func TestLlamaCppGenerate(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/completion", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		json.NewEncoder(w).Encode(map[string]string{"content": "  Hello there.  "})
	}))
	defer srv.Close()

	a := NewLlamaCpp(zerolog.Nop())
	pointAt(t, a, srv)

	got, err := a.Generate(context.Background(), "prompt text", provider.Config{
		"max_tokens":  64,
		"temperature": 0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there.", got)

	assert.Equal(t, "prompt text", gotPayload["prompt"])
	assert.EqualValues(t, 64, gotPayload["n_predict"])
	assert.InDelta(t, 0.2, gotPayload["temperature"].(float64), 1e-9)
	assert.Contains(t, gotPayload["stop"], "User:")
}

func TestLlamaCppGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model blew up", http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewLlamaCpp(zerolog.Nop())
	pointAt(t, a, srv)

	_, err := a.Generate(context.Background(), "prompt", provider.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestLlamaCppUnloadResetsState(t *testing.T) {
	a := NewLlamaCpp(zerolog.Nop())
	a.tracker.SetState(provider.StateRunning)

	a.Unload()

	assert.Equal(t, provider.StateIdle, a.Status().State)
	_, err := a.Generate(context.Background(), "hello", provider.Config{})
	assert.ErrorIs(t, err, provider.ErrNotLoaded)
}
