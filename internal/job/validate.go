package job

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/KKami91/zonos-worker/internal/core"
)

// Parameter bounds.
const (
	minSpeakingRate = 5.0
	maxSpeakingRate = 30.0
	maxPitchStd     = 400.0
	maxFmax         = 24000.0
	minVQScore      = 0.5
	maxVQScore      = 0.8
	minDNSMOS       = 1.0
	maxDNSMOS       = 5.0
	minCFGScale     = 1.0
)

var languagePattern = regexp.MustCompile(`^[a-z]{2,3}(-[a-z0-9]{2,8})*$`)

var (
	// ErrLanguageInvalid indicates a malformed language code.
	ErrLanguageInvalid = errors.New("language must be a code like en-us or ko")
	// ErrModelTypeInvalid indicates a model type other than transformer or hybrid.
	ErrModelTypeInvalid = errors.New("model_type must be transformer or hybrid")
	// ErrSpeakingRateRange indicates speaking_rate outside [5, 30].
	ErrSpeakingRateRange = errors.New("speaking_rate must be between 5 and 30")
	// ErrPitchStdRange indicates pitch_std outside [0, 400].
	ErrPitchStdRange = errors.New("pitch_std must be between 0 and 400")
	// ErrFmaxRange indicates fmax outside [0, 24000].
	ErrFmaxRange = errors.New("fmax must be between 0 and 24000")
	// ErrEmotionInvalid indicates negative or all-zero emotion weights.
	ErrEmotionInvalid = errors.New("emotion weights must be non-negative with at least one positive")
	// ErrVQScoreInvalid indicates a vqscore_8 vector of the wrong size or range.
	ErrVQScoreInvalid = errors.New("vqscore_8 must hold 8 values between 0.5 and 0.8")
	// ErrCTCLossNegative indicates a negative ctc_loss.
	ErrCTCLossNegative = errors.New("ctc_loss must be >= 0")
	// ErrDNSMOSRange indicates dnsmos_ovrl outside [1, 5].
	ErrDNSMOSRange = errors.New("dnsmos_ovrl must be between 1 and 5")
	// ErrCFGScaleRange indicates cfg_scale below 1.
	ErrCFGScaleRange = errors.New("cfg_scale must be >= 1")
	// ErrMaxNewTokensRange indicates max_new_tokens outside its limit.
	ErrMaxNewTokensRange = errors.New("max_new_tokens out of range")
	// ErrUnconditionalKey indicates an unconditional key that names no conditioning input.
	ErrUnconditionalKey = errors.New("unknown unconditional key")
)

// Validate checks a parsed request. Text is validated separately, after normalization.
func Validate(req *Request) error {
	cond := req.Conditioning

	if !languagePattern.MatchString(cond.Language) {
		return fmt.Errorf("%w: got %q", ErrLanguageInvalid, cond.Language)
	}

	if req.ModelType != ModelTypeTransformer && req.ModelType != ModelTypeHybrid {
		return fmt.Errorf("%w: got %q", ErrModelTypeInvalid, req.ModelType)
	}

	prosodyErr := validateProsody(cond)
	if prosodyErr != nil {
		return prosodyErr
	}

	emotionErr := validateEmotion(cond.Emotion)
	if emotionErr != nil {
		return emotionErr
	}

	qualityErr := validateQualityTargets(cond)
	if qualityErr != nil {
		return qualityErr
	}

	return validateOptions(req.Options)
}

func validateProsody(cond core.Conditioning) error {
	if cond.SpeakingRate < minSpeakingRate || cond.SpeakingRate > maxSpeakingRate {
		return fmt.Errorf("%w: got %g", ErrSpeakingRateRange, cond.SpeakingRate)
	}

	if cond.PitchStd < 0 || cond.PitchStd > maxPitchStd {
		return fmt.Errorf("%w: got %g", ErrPitchStdRange, cond.PitchStd)
	}

	if cond.Fmax < 0 || cond.Fmax > maxFmax {
		return fmt.Errorf("%w: got %g", ErrFmaxRange, cond.Fmax)
	}

	return nil
}

func validateEmotion(emotion []float64) error {
	if len(emotion) != core.EmotionCount {
		return fmt.Errorf("%w: got %d weights", ErrEmotionInvalid, len(emotion))
	}

	positive := false

	for i, weight := range emotion {
		if weight < 0 {
			return fmt.Errorf("%w: weight %d is %g", ErrEmotionInvalid, i, weight)
		}

		if weight > 0 {
			positive = true
		}
	}

	if !positive {
		return ErrEmotionInvalid
	}

	return nil
}

func validateQualityTargets(cond core.Conditioning) error {
	if len(cond.VQScore8) != vqScoreCount {
		return fmt.Errorf("%w: got %d values", ErrVQScoreInvalid, len(cond.VQScore8))
	}

	for i, score := range cond.VQScore8 {
		if score < minVQScore || score > maxVQScore {
			return fmt.Errorf("%w: value %d is %g", ErrVQScoreInvalid, i, score)
		}
	}

	if cond.CTCLoss < 0 {
		return fmt.Errorf("%w: got %g", ErrCTCLossNegative, cond.CTCLoss)
	}

	if cond.DNSMOSOverall < minDNSMOS || cond.DNSMOSOverall > maxDNSMOS {
		return fmt.Errorf("%w: got %g", ErrDNSMOSRange, cond.DNSMOSOverall)
	}

	for _, key := range cond.UnconditionalKeys {
		if _, ok := conditioningKeys[key]; !ok {
			return fmt.Errorf("%w: %q", ErrUnconditionalKey, key)
		}
	}

	return nil
}

func validateOptions(opts core.GenerateOptions) error {
	if opts.CFGScale < minCFGScale {
		return fmt.Errorf("%w: got %g", ErrCFGScaleRange, opts.CFGScale)
	}

	if opts.MaxNewTokens < 1 || opts.MaxNewTokens > MaxNewTokensLimit {
		return fmt.Errorf("%w: got %d, limit %d", ErrMaxNewTokensRange, opts.MaxNewTokens, MaxNewTokensLimit)
	}

	return nil
}
