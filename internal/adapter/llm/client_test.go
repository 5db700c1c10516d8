package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/internal/domain"
	"agora/internal/infra/logger"
)

func newTestClient() *Client {
	return NewClient(Config{}, logger.Discard())
}

func TestGenerateSendsWireRequest(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/generate", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"response": "  hello there  "})
	}))
	defer srv.Close()

	text, err := newTestClient().Generate(context.Background(), srv.URL, "llama3", "what's up?", "You are Perry.")

	require.NoError(t, err)
	assert.Equal(t, "hello there", text, "reply is trimmed")
	assert.Equal(t, "llama3", got.Model)
	assert.Equal(t, "what's up?", got.Prompt)
	assert.Equal(t, "You are Perry.", got.System)
	assert.False(t, got.Stream)
}

func TestGenerateFallsBackToOutputField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"output": "from output"})
	}))
	defer srv.Close()

	text, err := newTestClient().Generate(context.Background(), srv.URL, "m", "p", "")
	require.NoError(t, err)
	assert.Equal(t, "from output", text)
}

func TestGenerateEmptyBodyFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	text, err := newTestClient().Generate(context.Background(), srv.URL, "m", "p", "")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestGenerateNon200IsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient().Generate(context.Background(), srv.URL, "m", "p", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAgentUnavailable))
}

func TestGenerateTransportErrorIsNotUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	_, err := newTestClient().Generate(context.Background(), srv.URL, "m", "p", "")
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrAgentUnavailable))
	assert.Contains(t, err.Error(), "http request")
}

func TestGenerateTrailingSlashHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"response": "ok"})
	}))
	defer srv.Close()

	text, err := newTestClient().Generate(context.Background(), srv.URL+"/", "m", "p", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestHealthPrefersAPIHealth(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.True(t, newTestClient().Health(context.Background(), srv.URL))
	assert.Equal(t, []string{"/api/health"}, paths)
}

func TestHealthFallsBackThroughProbeURLs(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.True(t, newTestClient().Health(context.Background(), srv.URL))
	assert.Equal(t, []string{"/api/health", "/health", "/"}, paths)
}

func TestHealthDownHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	assert.False(t, newTestClient().Health(context.Background(), srv.URL))
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"llama3:8b"},{"name":"mistral"}]}`))
	}))
	defer srv.Close()

	models, err := newTestClient().ListModels(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3:8b", "mistral"}, models)
}

func TestListModelsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient().ListModels(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAgentUnavailable))
}
