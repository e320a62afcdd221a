package job

import "github.com/KKami91/zonos-worker/internal/core"

// Model types.
const (
	ModelTypeTransformer = "transformer"
	ModelTypeHybrid      = "hybrid"
)

// Conditioning defaults shared by every profile.
const (
	DefaultText          = "Hello, world!"
	DefaultLanguage      = "en-us"
	DefaultModelType     = ModelTypeTransformer
	DefaultSpeakingRate  = 15.0
	DefaultPitchStd      = 20.0
	DefaultFmax          = 22050.0
	DefaultVQScore       = 0.78
	DefaultCTCLoss       = 0.0
	DefaultDNSMOSOverall = 4.0
	DefaultCFGScale      = 2.0
	tokensPerSecond      = 86
	DefaultMaxNewTokens  = tokensPerSecond * 30
	MaxNewTokensLimit    = tokensPerSecond * 120
	legacyEmotionWeight  = 0.0256
	vqScoreCount         = 8
)

// Emotion slots in model order.
const (
	EmotionHappiness = iota
	EmotionSadness
	EmotionDisgust
	EmotionFear
	EmotionSurprise
	EmotionAnger
	EmotionOther
	EmotionNeutral
)

// emotionKey pairs an input key with its slot.
type emotionKey struct {
	key  string
	slot int
}

// The misspelt "emotion_suprise" is the historical key; the corrected spelling
// is accepted as well.
var (
	legacyEmotionKeys = []emotionKey{
		{"emotion_happiness", EmotionHappiness},
		{"emotion_sadness", EmotionSadness},
		{"emotion_anger", EmotionAnger},
		{"emotion_fear", EmotionFear},
	}
	allEmotionKeys = []emotionKey{
		{"emotion_happiness", EmotionHappiness},
		{"emotion_sadness", EmotionSadness},
		{"emotion_disgust", EmotionDisgust},
		{"emotion_fear", EmotionFear},
		{"emotion_suprise", EmotionSurprise},
		{"emotion_surprise", EmotionSurprise},
		{"emotion_anger", EmotionAnger},
		{"emotion_other", EmotionOther},
		{"emotion_neutral", EmotionNeutral},
	}
)

// conditioningKeys are the names unconditional_keys may refer to.
var conditioningKeys = map[string]struct{}{
	"speaker":        {},
	"emotion":        {},
	"fmax":           {},
	"pitch_std":      {},
	"speaking_rate":  {},
	"vqscore_8":      {},
	"ctc_loss":       {},
	"dnsmos_ovrl":    {},
	"speaker_noised": {},
}

// Defaults are the deployment-level fallbacks for text, language and model type.
type Defaults struct {
	Text      string
	Language  string
	ModelType string
}

func (d Defaults) withFallbacks() Defaults {
	if d.Text == "" {
		d.Text = DefaultText
	}

	if d.Language == "" {
		d.Language = DefaultLanguage
	}

	if d.ModelType == "" {
		d.ModelType = DefaultModelType
	}

	return d
}

// baseEmotion returns the emotion vector a profile starts from.
func baseEmotion(profile Profile) []float64 {
	if profile == ProfileV3 {
		return []float64{0.3077, 0.0256, 0.0256, 0.0256, 0.0256, 0.0256, 0.2564, 0.3077}
	}

	emotion := make([]float64, core.EmotionCount)
	for i := range emotion {
		emotion[i] = legacyEmotionWeight
	}

	return emotion
}

func emotionKeysFor(profile Profile) []emotionKey {
	if profile == ProfileV3 {
		return allEmotionKeys
	}

	return legacyEmotionKeys
}

func defaultVQScores() []float64 {
	scores := make([]float64, vqScoreCount)
	for i := range scores {
		scores[i] = DefaultVQScore
	}

	return scores
}

func defaultUnconditionalKeys() []string {
	return []string{"vqscore_8", "dnsmos_ovrl"}
}

// newConditioning returns the profile's starting conditioning bundle.
func newConditioning(profile Profile, defaults Defaults) core.Conditioning {
	return core.Conditioning{
		Text:              defaults.Text,
		Language:          defaults.Language,
		Emotion:           baseEmotion(profile),
		Fmax:              DefaultFmax,
		PitchStd:          DefaultPitchStd,
		SpeakingRate:      DefaultSpeakingRate,
		VQScore8:          defaultVQScores(),
		CTCLoss:           DefaultCTCLoss,
		DNSMOSOverall:     DefaultDNSMOSOverall,
		SpeakerNoised:     false,
		UnconditionalKeys: defaultUnconditionalKeys(),
	}
}
