package audio

import (
	"errors"
	"fmt"
	"time"
)

// Limits for reference audio validation.
const (
	MaxSampleRate = 192000
	MaxChannels   = 8
	BitDepth8     = 8
	BitDepth16    = 16
	BitDepth24    = 24
	BitDepth32    = 32
)

// Error message formats.
const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz, got %d"
	errFmtBitDepthValues  = "%w: bit depth must be 8, 16, 24, or 32, got %d"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d, got %d"
	errFmtTooShort        = "%w: reference audio is %s, minimum is %s"
	errFmtTooLong         = "%w: reference audio is %s, maximum is %s"
)

// ErrInvalidQuality indicates that reference audio falls outside the accepted limits.
var ErrInvalidQuality = errors.New("invalid reference audio")

// Quality holds the bounds a reference clip must satisfy before a speaker
// embedding is requested for it.
type Quality struct {
	MinDuration time.Duration
	MaxDuration time.Duration
}

// NewQuality builds quality bounds from seconds. Zero disables a bound.
func NewQuality(minSeconds, maxSeconds float64) Quality {
	return Quality{
		MinDuration: secondsToDuration(minSeconds),
		MaxDuration: secondsToDuration(maxSeconds),
	}
}

// Validate checks info against the bounds.
func (q Quality) Validate(info Info) error {
	sampleRateErr := validateSampleRate(info.SampleRate)
	if sampleRateErr != nil {
		return sampleRateErr
	}

	bitDepthErr := validateBitDepth(info.BitDepth)
	if bitDepthErr != nil {
		return bitDepthErr
	}

	channelsErr := validateChannels(info.Channels)
	if channelsErr != nil {
		return channelsErr
	}

	return q.validateDuration(info.Duration)
}

func (q Quality) validateDuration(duration time.Duration) error {
	if q.MinDuration > 0 && duration < q.MinDuration {
		return fmt.Errorf(errFmtTooShort, ErrInvalidQuality, duration, q.MinDuration)
	}

	if q.MaxDuration > 0 && duration > q.MaxDuration {
		return fmt.Errorf(errFmtTooLong, ErrInvalidQuality, duration, q.MaxDuration)
	}

	return nil
}

func validateSampleRate(sampleRate int) error {
	if sampleRate <= 0 || sampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidQuality, MaxSampleRate, sampleRate)
	}

	return nil
}

func validateBitDepth(bitDepth int) error {
	switch bitDepth {
	case BitDepth8, BitDepth16, BitDepth24, BitDepth32:
		return nil
	default:
		return fmt.Errorf(errFmtBitDepthValues, ErrInvalidQuality, bitDepth)
	}
}

func validateChannels(channels int) error {
	if channels <= 0 || channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidQuality, MaxChannels, channels)
	}

	return nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
