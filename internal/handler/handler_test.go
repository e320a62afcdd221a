package handler_test

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KKami91/zonos-worker/internal/audio"
	"github.com/KKami91/zonos-worker/internal/core"
	"github.com/KKami91/zonos-worker/internal/handler"
	"github.com/KKami91/zonos-worker/internal/job"
)

var (
	errMockGenerate = errors.New("mock generate error")
	errMockDownload = errors.New("mock download error")
)

const generatedWAV = "RIFF-generated-audio"

type mockModel struct {
	generateShouldFail bool
	panicOnDecode      bool
	receivedWAV        []byte
	receivedCond       core.Conditioning
	receivedOpts       core.GenerateOptions
}

func (m *mockModel) Name() string      { return "Zyphra/Zonos-v0.1-transformer" }
func (m *mockModel) SamplingRate() int { return 44100 }

func (m *mockModel) MakeSpeakerEmbedding(_ context.Context, wav []byte) (core.SpeakerEmbedding, error) {
	m.receivedWAV = wav

	return core.SpeakerEmbedding{0.1, 0.2, 0.3}, nil
}

func (m *mockModel) Generate(_ context.Context, cond core.Conditioning, opts core.GenerateOptions) (core.Codes, error) {
	if m.generateShouldFail {
		return nil, errMockGenerate
	}

	m.receivedCond = cond
	m.receivedOpts = opts

	return core.Codes{{1, 2, 3}}, nil
}

func (m *mockModel) Decode(_ context.Context, _ core.Codes) ([]byte, error) {
	if m.panicOnDecode {
		panic("decoder exploded")
	}

	return []byte(generatedWAV), nil
}

type mockProvider struct {
	model         *mockModel
	requestedType string
}

func (p *mockProvider) Get(_ context.Context, variant string) (core.Model, error) {
	p.requestedType = variant

	return p.model, nil
}

type mockObjectStore struct {
	downloadShouldFail bool
	objects            map[string][]byte
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	if m.downloadShouldFail {
		return nil, errMockDownload
	}

	return m.objects[key], nil
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	m.objects[key] = data

	return nil
}

func referenceClip() []byte {
	pcm := make([]byte, 24000*2*2)

	return audio.EncodeWAV(pcm, 24000, 1, 16)
}

func newHandler(
	t *testing.T,
	provider core.ModelProvider,
	store core.ObjectStore,
	upload bool,
) *handler.Handler {
	t.Helper()

	log, err := logger.New(t.TempDir(), "handler-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	h, err := handler.New(provider, store, handler.Options{
		Profile:       job.ProfileV3,
		MaxTextRunes:  200,
		Quality:       audio.NewQuality(1, 30),
		UploadResults: upload,
	}, log)
	require.NoError(t, err)

	return h
}

func TestHandle_Success(t *testing.T) {
	t.Parallel()

	model := &mockModel{}
	provider := &mockProvider{model: model}
	h := newHandler(t, provider, nil, false)

	clip := referenceClip()

	out := h.Handle(context.Background(), job.Job{
		ID: "job-1",
		Input: job.Input{
			"text":            "Hello   there — friend",
			"language":        "en-us",
			"reference_audio": base64.StdEncoding.EncodeToString(clip),
			"model_type":      "hybrid",
			"seed":            421,
		},
	})

	require.False(t, out.Failed(), out.Error)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte(generatedWAV)), out.Audio)
	assert.Equal(t, 44100, out.SamplingRate)
	assert.Empty(t, out.AudioKey)

	assert.Equal(t, "hybrid", provider.requestedType)
	assert.Equal(t, clip, model.receivedWAV)
	assert.Equal(t, "Hello there, friend", model.receivedCond.Text)
	assert.Equal(t, core.SpeakerEmbedding{0.1, 0.2, 0.3}, model.receivedCond.Speaker)
	require.NotNil(t, model.receivedOpts.Seed)
	assert.Equal(t, int64(421), *model.receivedOpts.Seed)
}

func TestHandle_MissingReferenceAudio(t *testing.T) {
	t.Parallel()

	h := newHandler(t, &mockProvider{model: &mockModel{}}, nil, false)

	out := h.Handle(context.Background(), job.Job{ID: "job-2", Input: job.Input{"text": "hi"}})

	assert.Equal(t, job.Output{Error: "Reference audio is required for voice cloning"}, out)
}

func TestHandle_ModelError(t *testing.T) {
	t.Parallel()

	h := newHandler(t, &mockProvider{model: &mockModel{generateShouldFail: true}}, nil, false)

	out := h.Handle(context.Background(), job.Job{
		ID:    "job-3",
		Input: job.Input{"reference_audio": base64.StdEncoding.EncodeToString(referenceClip())},
	})

	assert.Equal(t, errMockGenerate.Error(), out.Error)
	assert.Empty(t, out.Audio)
}

func TestHandle_RecoversPanic(t *testing.T) {
	t.Parallel()

	h := newHandler(t, &mockProvider{model: &mockModel{panicOnDecode: true}}, nil, false)

	out := h.Handle(context.Background(), job.Job{
		ID:    "job-4",
		Input: job.Input{"reference_audio": base64.StdEncoding.EncodeToString(referenceClip())},
	})

	require.True(t, out.Failed())
	assert.Contains(t, out.Error, "decoder exploded")
}

func TestHandle_RejectsBadReference(t *testing.T) {
	t.Parallel()

	h := newHandler(t, &mockProvider{model: &mockModel{}}, nil, false)

	short := audio.EncodeWAV(make([]byte, 100), 24000, 1, 16)

	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "not audio", payload: []byte("definitely not audio")},
		{name: "too short", payload: short},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			out := h.Handle(context.Background(), job.Job{
				ID:    "job-5",
				Input: job.Input{"reference_audio": base64.StdEncoding.EncodeToString(testCase.payload)},
			})

			assert.True(t, out.Failed())
		})
	}
}

func TestHandle_EmptyTextAfterNormalization(t *testing.T) {
	t.Parallel()

	h := newHandler(t, &mockProvider{model: &mockModel{}}, nil, false)

	out := h.Handle(context.Background(), job.Job{
		ID: "job-6",
		Input: job.Input{
			"text":            " \t\n ",
			"reference_audio": base64.StdEncoding.EncodeToString(referenceClip()),
		},
	})

	assert.Equal(t, "text cannot be empty", out.Error)
}

func TestHandle_ObjectStoreReferenceAndUpload(t *testing.T) {
	t.Parallel()

	store := &mockObjectStore{objects: map[string][]byte{"voices/alice.wav": referenceClip()}}
	h := newHandler(t, &mockProvider{model: &mockModel{}}, store, true)

	out := h.Handle(context.Background(), job.Job{
		ID:    "job-7",
		Input: job.Input{"reference_audio_key": "voices/alice.wav"},
	})

	require.False(t, out.Failed(), out.Error)
	assert.Equal(t, "job-7.wav", out.AudioKey)
	assert.Equal(t, []byte(generatedWAV), store.objects["job-7.wav"])
}

func TestHandle_ObjectStoreErrors(t *testing.T) {
	t.Parallel()

	noStore := newHandler(t, &mockProvider{model: &mockModel{}}, nil, false)

	out := noStore.Handle(context.Background(), job.Job{
		ID:    "job-8",
		Input: job.Input{"reference_audio_key": "voices/alice.wav"},
	})
	assert.Contains(t, out.Error, handler.ErrNoObjectStore.Error())

	failing := newHandler(t, &mockProvider{model: &mockModel{}},
		&mockObjectStore{downloadShouldFail: true, objects: map[string][]byte{}}, false)

	out = failing.Handle(context.Background(), job.Job{
		ID:    "job-9",
		Input: job.Input{"reference_audio_key": "voices/alice.wav"},
	})
	assert.Contains(t, out.Error, errMockDownload.Error())
}

func TestNew_UnknownProfile(t *testing.T) {
	t.Parallel()

	log, err := logger.New(t.TempDir(), "handler-test.log")
	require.NoError(t, err)

	defer log.Close()

	_, err = handler.New(&mockProvider{}, nil, handler.Options{Profile: "v9"}, log)
	require.ErrorIs(t, err, job.ErrUnknownProfile)
}

func TestHandle_RejectsInvalidUTF8Text(t *testing.T) {
	t.Parallel()

	h := newHandler(t, &mockProvider{model: &mockModel{}}, nil, false)

	out := h.Handle(context.Background(), job.Job{
		ID: "job-10",
		Input: job.Input{
			"text":            "broken \xff text",
			"reference_audio": base64.StdEncoding.EncodeToString(referenceClip()),
		},
	})

	assert.Equal(t, "text must be valid UTF-8", out.Error)
}
