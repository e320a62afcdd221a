package audio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hajimehoshi/go-mp3"
)

// Format represents supported audio formats.
type Format string

// Supported formats.
const (
	FormatUnknown Format = "unknown"
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
)

const (
	dataURIPrefix   = "data:"
	dataURIBase64   = ";base64,"
	id3Tag          = "ID3"
	mp3SyncByte     = 0xFF
	mp3SyncMask     = 0xE0
	minSniffLength  = 4
	mp3SampleBuffer = 1 << 16
)

var (
	// ErrEmptyAudio indicates that no audio bytes were supplied.
	ErrEmptyAudio = errors.New("audio data is empty")
	// ErrInvalidBase64 indicates that the audio payload is not valid base64.
	ErrInvalidBase64 = errors.New("audio payload is not valid base64")
	// ErrUnsupportedFormat indicates that the audio is neither WAV nor MP3.
	ErrUnsupportedFormat = errors.New("unsupported audio format: expected wav or mp3")
)

// DecodeBase64 decodes a base64 audio payload. Padded and unpadded standard
// encodings are accepted, as is a data URI prefix and embedded whitespace.
func DecodeBase64(payload string) ([]byte, error) {
	cleaned := strings.TrimSpace(payload)

	if strings.HasPrefix(cleaned, dataURIPrefix) {
		idx := strings.Index(cleaned, dataURIBase64)
		if idx < 0 {
			return nil, fmt.Errorf("%w: data uri is not base64", ErrInvalidBase64)
		}

		cleaned = cleaned[idx+len(dataURIBase64):]
	}

	cleaned = strings.Join(strings.Fields(cleaned), "")
	if cleaned == "" {
		return nil, ErrEmptyAudio
	}

	encoding := base64.StdEncoding
	if !strings.HasSuffix(cleaned, "=") && len(cleaned)%4 != 0 {
		encoding = base64.RawStdEncoding
	}

	data, err := encoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBase64, err)
	}

	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	return data, nil
}

// EncodeBase64 encodes audio bytes as padded standard base64.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Sniff guesses the container format from the leading bytes.
func Sniff(data []byte) Format {
	if len(data) < minSniffLength {
		return FormatUnknown
	}

	if len(data) >= riffHeaderSize && bytes.Equal(data[0:4], riffTag) && bytes.Equal(data[8:12], waveTag) {
		return FormatWAV
	}

	if bytes.HasPrefix(data, []byte(id3Tag)) {
		return FormatMP3
	}

	if data[0] == mp3SyncByte && data[1]&mp3SyncMask == mp3SyncMask {
		return FormatMP3
	}

	return FormatUnknown
}

// MP3ToWAV decodes an MP3 stream to 16-bit stereo PCM wrapped in a WAV header.
func MP3ToWAV(data []byte) ([]byte, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open mp3 stream: %w", err)
	}

	var pcm bytes.Buffer

	buf := make([]byte, mp3SampleBuffer)

	_, err = io.CopyBuffer(&pcm, decoder, buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mp3 stream: %w", err)
	}

	if pcm.Len() == 0 {
		return nil, fmt.Errorf("failed to decode mp3 stream: %w", ErrEmptyAudio)
	}

	// go-mp3 always yields interleaved 16-bit little-endian stereo.
	return EncodeWAV(pcm.Bytes(), decoder.SampleRate(), defaultMP3Stereo, pcm16BitDepth), nil
}

// Normalize converts supported audio to WAV and reports its layout.
func Normalize(data []byte) ([]byte, Info, error) {
	if len(data) == 0 {
		return nil, Info{}, ErrEmptyAudio
	}

	source := Sniff(data)

	var wav []byte

	switch source {
	case FormatWAV:
		wav = data
	case FormatMP3:
		converted, err := MP3ToWAV(data)
		if err != nil {
			return nil, Info{}, err
		}

		wav = converted
	default:
		return nil, Info{}, ErrUnsupportedFormat
	}

	info, err := ParseWAV(wav)
	if err != nil {
		return nil, Info{}, fmt.Errorf("failed to parse wav: %w", err)
	}

	info.Format = source

	return wav, info, nil
}
