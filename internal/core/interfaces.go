// Package core defines the core types and interfaces shared by the zonos-worker packages.
package core

import "context"

// EmotionCount is the number of emotion weights the model conditions on.
const EmotionCount = 8

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// SpeakerEmbedding is the fixed-size vector the model derives from a reference voice.
type SpeakerEmbedding []float32

// Codes are the generated audio codebook tokens, one row per codebook.
type Codes [][]int

// Conditioning is the parameter bundle that steers prosody and emotion.
type Conditioning struct {
	Text              string           `json:"text"`
	Language          string           `json:"language"`
	Speaker           SpeakerEmbedding `json:"speaker,omitempty"`
	Emotion           []float64        `json:"emotion"`
	Fmax              float64          `json:"fmax"`
	PitchStd          float64          `json:"pitch_std"`
	SpeakingRate      float64          `json:"speaking_rate"`
	VQScore8          []float64        `json:"vqscore_8"`
	CTCLoss           float64          `json:"ctc_loss"`
	DNSMOSOverall     float64          `json:"dnsmos_ovrl"`
	SpeakerNoised     bool             `json:"speaker_noised"`
	UnconditionalKeys []string         `json:"unconditional_keys"`
}

// GenerateOptions controls a single generation call.
type GenerateOptions struct {
	CFGScale     float64 `json:"cfg_scale"`
	MaxNewTokens int     `json:"max_new_tokens"`
	Seed         *int64  `json:"seed,omitempty"`
}

// Model is a loaded voice-cloning model.
type Model interface {
	Name() string
	SamplingRate() int
	MakeSpeakerEmbedding(ctx context.Context, wav []byte) (SpeakerEmbedding, error)
	Generate(ctx context.Context, cond Conditioning, opts GenerateOptions) (Codes, error)
	Decode(ctx context.Context, codes Codes) ([]byte, error)
}

// ModelProvider hands out lazily loaded models by variant.
type ModelProvider interface {
	Get(ctx context.Context, variant string) (Model, error)
}
