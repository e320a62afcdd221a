// Command zonos-sample clones a voice from a reference clip on disk and writes
// the synthesized speech to a WAV file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/book-expert/logger"

	"github.com/KKami91/zonos-worker/internal/audio"
	"github.com/KKami91/zonos-worker/internal/core"
	"github.com/KKami91/zonos-worker/internal/job"
	"github.com/KKami91/zonos-worker/internal/model"
	"github.com/KKami91/zonos-worker/internal/text"
)

// Flag descriptions.
const (
	flagReferenceDesc  = "Reference voice clip (.wav or .mp3)"
	flagTextDesc       = "Text to speak"
	flagLanguageDesc   = "Language code of the text"
	flagSeedDesc       = "Random seed for generation"
	flagModelTypeDesc  = "Model variant: transformer or hybrid"
	flagOutputDesc     = "Output file path (.wav)"
	flagServiceURLDesc = "Zonos inference service URL (defaults to $ZONOS_SERVICE_URL)"
	flagHealthDesc     = "Check inference service health and exit"
)

// Flag names.
const (
	flagReference  = "reference"
	flagText       = "text"
	flagLanguage   = "language"
	flagSeed       = "seed"
	flagModelType  = "model-type"
	flagOutput     = "output"
	flagServiceURL = "service-url"
	flagHealth     = "health"
)

// Defaults.
const (
	defaultReference  = "assets/paper_lecture_30sec.mp3"
	defaultText       = "네, 각 언어 코드가 어떤 언어를 의미하는지 알려줄 수 있습니다. 아래에 주요 언어 코드와 해당 언어를 정리해 드릴게요."
	defaultLanguage   = "ko"
	defaultSeed       = 421
	defaultOutput     = "sample.wav"
	defaultServiceURL = "http://127.0.0.1:8000"
	envServiceURL     = "ZONOS_SERVICE_URL"
	logFileName       = "zonos-sample.log"
	maxTextRunes      = 2000
	requestTimeout    = 10 * time.Minute
	healthTimeout     = 10 * time.Second
	outputFileMode    = 0o644
)

// ErrReferenceRequired indicates an empty -reference flag.
var ErrReferenceRequired = errors.New("a reference clip is required")

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	reference  string
	text       string
	language   string
	seed       int64
	modelType  string
	output     string
	serviceURL string
	health     bool
}

func main() {
	err := run(parseFlags(os.Args[1:]))
	if err != nil {
		// The file logger may not exist yet, so report through the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run(flags appFlags) error {
	sampleLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer sampleLog.Close()

	client := model.NewClient(flags.serviceURL, requestTimeout)

	if flags.health {
		return checkHealth(client)
	}

	ctx := context.Background()

	wav, samplingRate, err := synthesize(ctx, model.NewLoader(client, sampleLog), flags)
	if err != nil {
		sampleLog.Error("Sample synthesis failed: %v", err)

		return err
	}

	err = os.WriteFile(flags.output, wav, outputFileMode)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", flags.output, err)
	}

	sampleLog.Info("Wrote %s (%d Hz, %d bytes)", flags.output, samplingRate, len(wav))
	fmt.Printf("Generated: %s (%d Hz)\n", flags.output, samplingRate)

	return nil
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) appFlags {
	serviceURL := os.Getenv(envServiceURL)
	if serviceURL == "" {
		serviceURL = defaultServiceURL
	}

	var flags appFlags

	flagSet := flag.NewFlagSet("zonos-sample", flag.ExitOnError)
	flagSet.StringVar(&flags.reference, flagReference, defaultReference, flagReferenceDesc)
	flagSet.StringVar(&flags.text, flagText, defaultText, flagTextDesc)
	flagSet.StringVar(&flags.language, flagLanguage, defaultLanguage, flagLanguageDesc)
	flagSet.Int64Var(&flags.seed, flagSeed, defaultSeed, flagSeedDesc)
	flagSet.StringVar(&flags.modelType, flagModelType, job.DefaultModelType, flagModelTypeDesc)
	flagSet.StringVar(&flags.output, flagOutput, defaultOutput, flagOutputDesc)
	flagSet.StringVar(&flags.serviceURL, flagServiceURL, serviceURL, flagServiceURLDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	_ = flagSet.Parse(args)

	return flags
}

func checkHealth(client *model.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	err := client.HealthCheck(ctx)
	if err != nil {
		fmt.Printf("Zonos service is not healthy: %v\n", err)

		return err
	}

	fmt.Println("Zonos service is healthy")

	return nil
}

// synthesize runs reference clip to waveform with the full-conditioning defaults.
func synthesize(ctx context.Context, models core.ModelProvider, flags appFlags) ([]byte, int, error) {
	if flags.reference == "" {
		return nil, 0, ErrReferenceRequired
	}

	raw, err := os.ReadFile(flags.reference)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read reference clip: %w", err)
	}

	reference, _, err := audio.Normalize(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read reference clip %s: %w", flags.reference, err)
	}

	req := job.NewRequest(job.ProfileV3, job.Defaults{
		Text:      flags.text,
		Language:  flags.language,
		ModelType: flags.modelType,
	})
	req.Options.Seed = &flags.seed

	req.Conditioning.Text, err = text.NewNormalizer().Prepare(req.Conditioning.Text, maxTextRunes)
	if err != nil {
		return nil, 0, err
	}

	err = job.Validate(req)
	if err != nil {
		return nil, 0, err
	}

	zonos, err := models.Get(ctx, req.ModelType)
	if err != nil {
		return nil, 0, err
	}

	speaker, err := zonos.MakeSpeakerEmbedding(ctx, reference)
	if err != nil {
		return nil, 0, err
	}

	codes, err := zonos.Generate(ctx, req.WithSpeaker(speaker), req.Options)
	if err != nil {
		return nil, 0, err
	}

	wav, err := zonos.Decode(ctx, codes)
	if err != nil {
		return nil, 0, err
	}

	return wav, zonos.SamplingRate(), nil
}
