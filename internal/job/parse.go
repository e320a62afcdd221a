package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/KKami91/zonos-worker/internal/audio"
	"github.com/KKami91/zonos-worker/internal/core"
)

// Input keys.
const (
	keyText              = "text"
	keyLanguage          = "language"
	keyReferenceAudio    = "reference_audio"
	keyReferenceAudioKey = "reference_audio_key"
	keySpeakingRate      = "speaking_rate"
	keyPitchStd          = "pitch_std"
	keyPitchVariation    = "pitch_variation"
	keyFmax              = "fmax"
	keyMaxFrequency      = "max_frequency"
	keyModelType         = "model_type"
	keyVQScore           = "vqscore_8"
	keyCTCLoss           = "ctc_loss"
	keyDNSMOSOverall     = "dnsmos_ovrl"
	keySpeakerNoised     = "speaker_noised"
	keyUnconditionalKeys = "unconditional_keys"
	keySeed              = "seed"
	keyCFGScale          = "cfg_scale"
	keyMaxNewTokens      = "max_new_tokens"
)

var (
	// ErrReferenceAudioRequired indicates a job without reference audio.
	ErrReferenceAudioRequired = errors.New("Reference audio is required for voice cloning")
	// ErrInvalidParameter indicates a parameter of the wrong type.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Parse turns a raw job input into a validated request. Keys the profile does
// not recognise are ignored.
func Parse(input Input, profile Profile, defaults Defaults) (*Request, error) {
	req := NewRequest(profile, defaults)

	err := parseCommon(input, req)
	if err != nil {
		return nil, err
	}

	err = parseEmotion(input, profile, req)
	if err != nil {
		return nil, err
	}

	if profile == ProfileV3 {
		err = parseExtended(input, req)
		if err != nil {
			return nil, err
		}
	}

	err = parseReference(input, req)
	if err != nil {
		return nil, err
	}

	err = Validate(req)
	if err != nil {
		return nil, err
	}

	return req, nil
}

// NewRequest returns a request holding the profile defaults and no reference audio.
func NewRequest(profile Profile, defaults Defaults) *Request {
	defaults = defaults.withFallbacks()

	return &Request{
		ModelType:    defaults.ModelType,
		Conditioning: newConditioning(profile, defaults),
		Options:      GenerateDefaults(),
	}
}

func parseCommon(input Input, req *Request) error {
	var err error

	cond := &req.Conditioning

	if cond.Text, err = stringValue(input, cond.Text, keyText); err != nil {
		return err
	}

	if cond.Language, err = stringValue(input, cond.Language, keyLanguage); err != nil {
		return err
	}

	cond.Language = strings.ToLower(strings.TrimSpace(cond.Language))

	if cond.SpeakingRate, err = floatValue(input, cond.SpeakingRate, keySpeakingRate); err != nil {
		return err
	}

	if cond.PitchStd, err = floatValue(input, cond.PitchStd, keyPitchStd, keyPitchVariation); err != nil {
		return err
	}

	if cond.Fmax, err = floatValue(input, cond.Fmax, keyFmax, keyMaxFrequency); err != nil {
		return err
	}

	return parseOptions(input, req)
}

func parseOptions(input Input, req *Request) error {
	var err error

	if req.Options.CFGScale, err = floatValue(input, req.Options.CFGScale, keyCFGScale); err != nil {
		return err
	}

	tokens, err := floatValue(input, float64(req.Options.MaxNewTokens), keyMaxNewTokens)
	if err != nil {
		return err
	}

	req.Options.MaxNewTokens = int(tokens)

	seed, present, err := seedValue(input)
	if err != nil {
		return err
	}

	if present {
		req.Options.Seed = &seed
	}

	return nil
}

// seedValue reads the seed, keeping integer json.Number values exact.
func seedValue(input Input) (int64, bool, error) {
	_, raw, ok := lookup(input, keySeed)
	if !ok {
		return 0, false, nil
	}

	if number, isNumber := raw.(json.Number); isNumber {
		if exact, err := number.Int64(); err == nil {
			return exact, true, nil
		}
	}

	value, err := floatValue(input, 0, keySeed)
	if err != nil {
		return 0, false, err
	}

	return int64(value), true, nil
}

func parseEmotion(input Input, profile Profile, req *Request) error {
	emotion := req.Conditioning.Emotion

	for _, entry := range emotionKeysFor(profile) {
		value, err := floatValue(input, emotion[entry.slot], entry.key)
		if err != nil {
			return err
		}

		emotion[entry.slot] = value
	}

	return nil
}

func parseExtended(input Input, req *Request) error {
	cond := &req.Conditioning

	modelType, err := stringValue(input, req.ModelType, keyModelType)
	if err != nil {
		return err
	}

	req.ModelType = strings.ToLower(strings.TrimSpace(modelType))

	if cond.VQScore8, err = vectorValue(input, cond.VQScore8, keyVQScore); err != nil {
		return err
	}

	if cond.CTCLoss, err = floatValue(input, cond.CTCLoss, keyCTCLoss); err != nil {
		return err
	}

	if cond.DNSMOSOverall, err = floatValue(input, cond.DNSMOSOverall, keyDNSMOSOverall); err != nil {
		return err
	}

	if cond.SpeakerNoised, err = boolValue(input, cond.SpeakerNoised, keySpeakerNoised); err != nil {
		return err
	}

	if cond.UnconditionalKeys, err = stringsValue(input, cond.UnconditionalKeys, keyUnconditionalKeys); err != nil {
		return err
	}

	return nil
}

func parseReference(input Input, req *Request) error {
	encoded, err := stringValue(input, "", keyReferenceAudio)
	if err != nil {
		return err
	}

	key, err := stringValue(input, "", keyReferenceAudioKey)
	if err != nil {
		return err
	}

	if strings.TrimSpace(encoded) == "" {
		if strings.TrimSpace(key) == "" {
			return ErrReferenceAudioRequired
		}

		req.ReferenceKey = strings.TrimSpace(key)

		return nil
	}

	data, err := audio.DecodeBase64(encoded)
	if err != nil {
		return fmt.Errorf("failed to decode reference audio: %w", err)
	}

	req.ReferenceAudio = data

	return nil
}

// GenerateDefaults returns the default sampling options.
func GenerateDefaults() core.GenerateOptions {
	return core.GenerateOptions{
		CFGScale:     DefaultCFGScale,
		MaxNewTokens: DefaultMaxNewTokens,
	}
}

// lookup returns the first present, non-null value among keys.
func lookup(input Input, keys ...string) (string, any, bool) {
	for _, key := range keys {
		value, ok := input[key]
		if ok && value != nil {
			return key, value, true
		}
	}

	return "", nil, false
}

func stringValue(input Input, fallback string, keys ...string) (string, error) {
	key, raw, ok := lookup(input, keys...)
	if !ok {
		return fallback, nil
	}

	value, isString := raw.(string)
	if !isString {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidParameter, key, raw)
	}

	return value, nil
}

func floatValue(input Input, fallback float64, keys ...string) (float64, error) {
	key, raw, ok := lookup(input, keys...)
	if !ok {
		return fallback, nil
	}

	value, err := toFloat(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %w", ErrInvalidParameter, key, err)
	}

	return value, nil
}

func boolValue(input Input, fallback bool, keys ...string) (bool, error) {
	key, raw, ok := lookup(input, keys...)
	if !ok {
		return fallback, nil
	}

	switch value := raw.(type) {
	case bool:
		return value, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return false, fmt.Errorf("%w: %s must be a boolean, got %q", ErrInvalidParameter, key, value)
		}

		return parsed, nil
	default:
		number, err := toFloat(raw)
		if err != nil {
			return false, fmt.Errorf("%w: %s must be a boolean, got %T", ErrInvalidParameter, key, raw)
		}

		return number != 0, nil
	}
}

// vectorValue accepts a list of numbers or a single number broadcast to every slot.
func vectorValue(input Input, fallback []float64, keys ...string) ([]float64, error) {
	key, raw, ok := lookup(input, keys...)
	if !ok {
		return fallback, nil
	}

	items, isList := raw.([]any)
	if !isList {
		scalar, err := toFloat(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %w", ErrInvalidParameter, key, err)
		}

		vector := make([]float64, len(fallback))
		for i := range vector {
			vector[i] = scalar
		}

		return vector, nil
	}

	vector := make([]float64, 0, len(items))

	for i, item := range items {
		value, err := toFloat(item)
		if err != nil {
			return nil, fmt.Errorf("%w: %s[%d] %w", ErrInvalidParameter, key, i, err)
		}

		vector = append(vector, value)
	}

	return vector, nil
}

func stringsValue(input Input, fallback []string, keys ...string) ([]string, error) {
	key, raw, ok := lookup(input, keys...)
	if !ok {
		return fallback, nil
	}

	items, isList := raw.([]any)
	if !isList {
		return nil, fmt.Errorf("%w: %s must be a list of strings, got %T", ErrInvalidParameter, key, raw)
	}

	values := make([]string, 0, len(items))

	for i, item := range items {
		value, isString := item.(string)
		if !isString {
			return nil, fmt.Errorf("%w: %s[%d] must be a string, got %T", ErrInvalidParameter, key, i, item)
		}

		values = append(values, value)
	}

	return values, nil
}

var (
	errNotNumber = errors.New("must be a number")
	errNotFinite = errors.New("must be a finite number")
)

// toFloat coerces a JSON value to a finite float64.
func toFloat(raw any) (float64, error) {
	value, err := rawFloat(raw)
	if err != nil {
		return 0, err
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: got %v", errNotFinite, raw)
	}

	return value, nil
}

func rawFloat(raw any) (float64, error) {
	switch value := raw.(type) {
	case float64:
		return value, nil
	case float32:
		return float64(value), nil
	case int:
		return float64(value), nil
	case int64:
		return float64(value), nil
	case json.Number:
		parsed, err := value.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", errNotNumber, value)
		}

		return parsed, nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", errNotNumber, value)
		}

		return parsed, nil
	default:
		return 0, fmt.Errorf("%w: got %T", errNotNumber, raw)
	}
}
