package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/book-expert/logger"

	"github.com/KKami91/zonos-worker/internal/core"
)

// Model variants.
const (
	VariantTransformer = "transformer"
	VariantHybrid      = "hybrid"
)

var variantRepos = map[string]string{
	VariantTransformer: "Zyphra/Zonos-v0.1-transformer",
	VariantHybrid:      "Zyphra/Zonos-v0.1-hybrid",
}

// ErrUnknownVariant indicates a model type other than transformer or hybrid.
var ErrUnknownVariant = errors.New("unknown model type: expected transformer or hybrid")

// RepoFor returns the pretrained repository id for a variant.
func RepoFor(variant string) (string, error) {
	repo, ok := variantRepos[variant]
	if !ok {
		return "", fmt.Errorf("%w: '%s'", ErrUnknownVariant, variant)
	}

	return repo, nil
}

// Backend is the subset of Client a loaded model needs.
type Backend interface {
	LoadModel(ctx context.Context, name string) (LoadResponse, error)
	MakeSpeakerEmbedding(ctx context.Context, name string, wav []byte) (core.SpeakerEmbedding, error)
	Generate(ctx context.Context, name string, cond core.Conditioning, opts core.GenerateOptions) (core.Codes, error)
	Decode(ctx context.Context, name string, codes core.Codes) ([]byte, error)
}

// loadSlot guards one variant. done is closed once the in-flight load finishes.
type loadSlot struct {
	done  chan struct{}
	model *zonosModel
	err   error
}

// Loader lazily loads each model variant at most once per process. Callers
// racing on the same variant share a single load; a failed load is forgotten
// so the next caller tries again.
type Loader struct {
	backend Backend
	log     *logger.Logger
	mu      sync.Mutex
	slots   map[string]*loadSlot
}

// NewLoader creates a loader backed by backend.
func NewLoader(backend Backend, log *logger.Logger) *Loader {
	return &Loader{
		backend: backend,
		log:     log,
		slots:   make(map[string]*loadSlot),
	}
}

// Get returns the loaded model for variant, loading it on first use.
//
// The load runs in the background and outlives ctx: a caller whose ctx ends
// stops waiting, while the load continues for everyone else still waiting and
// for later callers. A failed load is reported to every waiter.
func (l *Loader) Get(ctx context.Context, variant string) (core.Model, error) {
	repo, err := RepoFor(variant)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()

	slot, ok := l.slots[variant]
	if !ok {
		slot = &loadSlot{done: make(chan struct{})}
		l.slots[variant] = slot
		l.mu.Unlock()

		// Detached so one caller giving up does not fail the others.
		go l.load(context.WithoutCancel(ctx), variant, repo, slot)
	} else {
		l.mu.Unlock()
	}

	select {
	case <-slot.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for model %s: %w", repo, ctx.Err())
	}

	if slot.err != nil {
		return nil, slot.err
	}

	return slot.model, nil
}

// Loaded reports the variants that are ready.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ready []string

	for variant, slot := range l.slots {
		select {
		case <-slot.done:
			if slot.err == nil {
				ready = append(ready, variant)
			}
		default:
		}
	}

	return ready
}

func (l *Loader) load(ctx context.Context, variant, repo string, slot *loadSlot) {
	defer close(slot.done)

	l.log.Info("Loading model %s (%s)", variant, repo)

	resp, err := l.backend.LoadModel(ctx, repo)
	if err != nil {
		l.log.Error("Failed to load model %s: %v", repo, err)

		slot.err = err

		l.mu.Lock()
		delete(l.slots, variant)
		l.mu.Unlock()

		return
	}

	slot.model = &zonosModel{
		backend:      l.backend,
		name:         resp.Model,
		samplingRate: resp.SamplingRate,
	}

	l.log.Info("Model %s ready, sampling rate %d", resp.Model, resp.SamplingRate)
}

// zonosModel is a loaded model handle on the backend.
type zonosModel struct {
	backend      Backend
	name         string
	samplingRate int
}

func (m *zonosModel) Name() string {
	return m.name
}

func (m *zonosModel) SamplingRate() int {
	return m.samplingRate
}

func (m *zonosModel) MakeSpeakerEmbedding(ctx context.Context, wav []byte) (core.SpeakerEmbedding, error) {
	return m.backend.MakeSpeakerEmbedding(ctx, m.name, wav)
}

func (m *zonosModel) Generate(
	ctx context.Context,
	cond core.Conditioning,
	opts core.GenerateOptions,
) (core.Codes, error) {
	return m.backend.Generate(ctx, m.name, cond, opts)
}

func (m *zonosModel) Decode(ctx context.Context, codes core.Codes) ([]byte, error) {
	return m.backend.Decode(ctx, m.name, codes)
}
