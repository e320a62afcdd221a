// Package handler runs one voice-cloning job end to end: decode the reference
// clip, load the model, embed the speaker, condition, generate, decode and
// return base64 audio.
package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"

	"github.com/KKami91/zonos-worker/internal/audio"
	"github.com/KKami91/zonos-worker/internal/core"
	"github.com/KKami91/zonos-worker/internal/job"
	"github.com/KKami91/zonos-worker/internal/text"
)

const audioKeySuffix = ".wav"

var (
	// ErrNoObjectStore indicates a job that needs the object store when none is configured.
	ErrNoObjectStore = errors.New("object store is not configured")
	// ErrPanic wraps a panic recovered while running a job.
	ErrPanic = errors.New("job panicked")
)

// Options configure a Handler.
type Options struct {
	Profile       job.Profile
	Defaults      job.Defaults
	MaxTextRunes  int
	Quality       audio.Quality
	UploadResults bool
}

// Handler executes jobs against lazily loaded models.
type Handler struct {
	models     core.ModelProvider
	store      core.ObjectStore
	normalizer *text.Normalizer
	opts       Options
	log        *logger.Logger
}

// New creates a handler. store may be nil when no object store is configured.
func New(models core.ModelProvider, store core.ObjectStore, opts Options, log *logger.Logger) (*Handler, error) {
	profile, err := job.ParseProfile(string(opts.Profile))
	if err != nil {
		return nil, err
	}

	opts.Profile = profile

	return &Handler{
		models:     models,
		store:      store,
		normalizer: text.NewNormalizer(),
		opts:       opts,
		log:        log,
	}, nil
}

// Handle runs a job. Every failure, including a panic, is reported through
// the output's error field.
func (h *Handler) Handle(ctx context.Context, j job.Job) (out job.Output) {
	started := time.Now()

	defer func() {
		if recovered := recover(); recovered != nil {
			out = job.Failure(fmt.Errorf("%w: %v", ErrPanic, recovered))
		}

		if out.Failed() {
			h.log.Error("Job %s failed after %s: %s", j.ID, time.Since(started), out.Error)

			return
		}

		h.log.Info("Job %s completed in %s (%d Hz)", j.ID, time.Since(started), out.SamplingRate)
	}()

	result, err := h.run(ctx, j)
	if err != nil {
		return job.Failure(err)
	}

	return result
}

func (h *Handler) run(ctx context.Context, j job.Job) (job.Output, error) {
	req, err := job.Parse(j.Input, h.opts.Profile, h.opts.Defaults)
	if err != nil {
		return job.Output{}, err
	}

	req.Conditioning.Text, err = h.normalizer.Prepare(req.Conditioning.Text, h.opts.MaxTextRunes)
	if err != nil {
		return job.Output{}, err
	}

	reference, err := h.referenceWAV(ctx, req)
	if err != nil {
		return job.Output{}, err
	}

	model, err := h.models.Get(ctx, req.ModelType)
	if err != nil {
		return job.Output{}, err
	}

	speaker, err := model.MakeSpeakerEmbedding(ctx, reference)
	if err != nil {
		return job.Output{}, err
	}

	codes, err := model.Generate(ctx, req.WithSpeaker(speaker), req.Options)
	if err != nil {
		return job.Output{}, err
	}

	wav, err := model.Decode(ctx, codes)
	if err != nil {
		return job.Output{}, err
	}

	audioKey, err := h.uploadResult(ctx, j.ID, wav)
	if err != nil {
		return job.Output{}, err
	}

	return job.Success(audio.EncodeBase64(wav), model.SamplingRate(), audioKey), nil
}

// referenceWAV resolves the reference clip, converts it to WAV and checks it.
func (h *Handler) referenceWAV(ctx context.Context, req *job.Request) ([]byte, error) {
	raw := req.ReferenceAudio

	if raw == nil {
		if h.store == nil {
			return nil, fmt.Errorf("%w: cannot fetch reference audio '%s'", ErrNoObjectStore, req.ReferenceKey)
		}

		downloaded, err := h.store.Download(ctx, req.ReferenceKey)
		if err != nil {
			return nil, fmt.Errorf("failed to download reference audio '%s': %w", req.ReferenceKey, err)
		}

		raw = downloaded
	}

	wav, info, err := audio.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference audio: %w", err)
	}

	err = h.opts.Quality.Validate(info)
	if err != nil {
		return nil, err
	}

	return wav, nil
}

func (h *Handler) uploadResult(ctx context.Context, jobID string, wav []byte) (string, error) {
	if !h.opts.UploadResults || h.store == nil || jobID == "" {
		return "", nil
	}

	key := jobID + audioKeySuffix

	err := h.store.Upload(ctx, key, wav)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio for job %s: %w", jobID, err)
	}

	return key, nil
}
