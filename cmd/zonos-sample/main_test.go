package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KKami91/zonos-worker/internal/audio"
)

const decodedWAV = "RIFF-sample-output"

// fakeBackend implements the inference service endpoints.
type fakeBackend struct {
	mu       sync.Mutex
	generate map[string]any
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/health":
		w.WriteHeader(http.StatusOK)
	case "/v1/models/load":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"Zyphra/Zonos-v0.1-transformer","sampling_rate":44100}`))
	case "/v1/speaker-embedding":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding":[0.1,0.2]}`))
	case "/v1/generate":
		var body map[string]any

		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.generate = body
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"codes":[[1,2],[3,4]]}`))
	case "/v1/decode":
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte(decodedWAV))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeReference(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "reference.wav")
	clip := audio.EncodeWAV(make([]byte, 24000*2*2), 24000, 1, 16)
	require.NoError(t, os.WriteFile(path, clip, 0o600))

	return path
}

func TestParseFlags_Defaults(t *testing.T) {
	t.Parallel()

	flags := parseFlags(nil)

	assert.Equal(t, defaultReference, flags.reference)
	assert.Equal(t, "ko", flags.language)
	assert.Equal(t, int64(421), flags.seed)
	assert.Equal(t, "transformer", flags.modelType)
	assert.Equal(t, "sample.wav", flags.output)
	assert.False(t, flags.health)

	flags = parseFlags([]string{"-text", "Hello", "-language", "en-us", "-seed", "7", "-model-type", "hybrid"})
	assert.Equal(t, "Hello", flags.text)
	assert.Equal(t, "en-us", flags.language)
	assert.Equal(t, int64(7), flags.seed)
	assert.Equal(t, "hybrid", flags.modelType)
}

func TestRun_WritesSample(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	service := httptest.NewServer(backend)
	defer service.Close()

	output := filepath.Join(t.TempDir(), "sample.wav")

	err := run(appFlags{
		reference:  writeReference(t),
		text:       defaultText,
		language:   defaultLanguage,
		seed:       defaultSeed,
		modelType:  "transformer",
		output:     output,
		serviceURL: service.URL,
	})
	require.NoError(t, err)

	written, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, decodedWAV, string(written))

	backend.mu.Lock()
	defer backend.mu.Unlock()

	assert.Equal(t, 421.0, backend.generate["seed"])

	conditioning, ok := backend.generate["conditioning"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ko", conditioning["language"])
	assert.Equal(t, defaultText, conditioning["text"])
	assert.Equal(t, []any{0.1, 0.2}, conditioning["speaker"])
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	service := httptest.NewServer(&fakeBackend{})
	defer service.Close()

	err := run(appFlags{serviceURL: service.URL, output: filepath.Join(t.TempDir(), "x.wav")})
	require.ErrorIs(t, err, ErrReferenceRequired)

	err = run(appFlags{
		reference:  filepath.Join(t.TempDir(), "missing.wav"),
		serviceURL: service.URL,
	})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRun_Health(t *testing.T) {
	t.Parallel()

	service := httptest.NewServer(&fakeBackend{})
	defer service.Close()

	require.NoError(t, run(appFlags{serviceURL: service.URL, health: true}))
}
