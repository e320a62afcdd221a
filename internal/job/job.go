// Package job defines the job payloads the worker accepts and returns, and
// turns a raw parameter bag into a validated synthesis request.
package job

import (
	"errors"
	"fmt"

	"github.com/KKami91/zonos-worker/internal/core"
)

// Input is the raw job input: a flat bag of parameters.
type Input map[string]any

// Job is one invocation: an id and its input.
type Job struct {
	ID    string `json:"id"`
	Input Input  `json:"input"`
}

// Output is the job result. Success carries audio and sampling rate, failure
// carries only the error message.
type Output struct {
	Audio        string `json:"audio,omitempty"`
	SamplingRate int    `json:"sampling_rate,omitempty"`
	AudioKey     string `json:"audio_key,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Success builds a successful output.
func Success(audioBase64 string, samplingRate int, audioKey string) Output {
	return Output{
		Audio:        audioBase64,
		SamplingRate: samplingRate,
		AudioKey:     audioKey,
	}
}

// Failure builds a failed output from err.
func Failure(err error) Output {
	return Output{Error: err.Error()}
}

// Failed reports whether the output carries an error.
func (o Output) Failed() bool {
	return o.Error != ""
}

// Profile selects which parameters a handler version honours and their defaults.
type Profile string

// Handler versions.
const (
	ProfileV1 Profile = "v1"
	ProfileV2 Profile = "v2"
	ProfileV3 Profile = "v3"
)

// ErrUnknownProfile indicates a profile other than v1, v2 or v3.
var ErrUnknownProfile = errors.New("unknown handler profile")

// ParseProfile validates a profile name.
func ParseProfile(name string) (Profile, error) {
	switch Profile(name) {
	case ProfileV1, ProfileV2, ProfileV3:
		return Profile(name), nil
	default:
		return "", fmt.Errorf("%w: '%s'", ErrUnknownProfile, name)
	}
}

// Request is a parsed and validated job.
type Request struct {
	ReferenceAudio []byte
	ReferenceKey   string
	ModelType      string
	Conditioning   core.Conditioning
	Options        core.GenerateOptions
}

// WithSpeaker returns the conditioning bundle with the speaker embedding attached.
func (r *Request) WithSpeaker(speaker core.SpeakerEmbedding) core.Conditioning {
	cond := r.Conditioning
	cond.Speaker = speaker

	return cond
}
