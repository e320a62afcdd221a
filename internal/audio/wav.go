// Package audio decodes, inspects and re-encodes the audio carried by jobs.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// WAV container constants.
const (
	riffHeaderSize   = 12
	chunkHeaderSize  = 8
	fmtChunkMinSize  = 16
	wavFormatPCM     = 1
	wavFormatFloat   = 3
	wavFormatExtend  = 0xFFFE
	bitsPerByte      = 8
	pcm16BitDepth    = 16
	defaultMP3Stereo = 2
)

var (
	riffTag = []byte("RIFF")
	waveTag = []byte("WAVE")
	fmtTag  = []byte("fmt ")
	dataTag = []byte("data")
)

var (
	// ErrNotWAV indicates that the data is not a RIFF/WAVE container.
	ErrNotWAV = errors.New("not a RIFF/WAVE file")
	// ErrMissingFmtChunk indicates that the WAV has no fmt chunk before its data.
	ErrMissingFmtChunk = errors.New("wav fmt chunk missing")
	// ErrMissingDataChunk indicates that the WAV has no data chunk.
	ErrMissingDataChunk = errors.New("wav data chunk missing")
	// ErrUnsupportedEncoding indicates a WAV encoding other than PCM or float.
	ErrUnsupportedEncoding = errors.New("unsupported wav encoding")
)

// Info describes a decoded WAV stream.
type Info struct {
	Format     Format        `json:"format"`
	SampleRate int           `json:"sampleRate"`
	Channels   int           `json:"channels"`
	BitDepth   int           `json:"bitDepth"`
	DataBytes  int           `json:"dataBytes"`
	Duration   time.Duration `json:"duration"`
}

// ParseWAV walks the RIFF chunks of data and reports the stream layout.
func ParseWAV(data []byte) (Info, error) {
	if len(data) < riffHeaderSize ||
		!bytes.Equal(data[0:4], riffTag) ||
		!bytes.Equal(data[8:12], waveTag) {
		return Info{}, ErrNotWAV
	}

	info := Info{Format: FormatWAV}
	haveFmt := false
	offset := riffHeaderSize

	for offset+chunkHeaderSize <= len(data) {
		chunkID := data[offset : offset+4]
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + chunkHeaderSize

		switch {
		case bytes.Equal(chunkID, fmtTag):
			if chunkSize < fmtChunkMinSize || body+fmtChunkMinSize > len(data) {
				return Info{}, fmt.Errorf("%w: fmt chunk truncated", ErrNotWAV)
			}

			parseErr := parseFmtChunk(data[body:body+fmtChunkMinSize], &info)
			if parseErr != nil {
				return Info{}, parseErr
			}

			haveFmt = true
		case bytes.Equal(chunkID, dataTag):
			if !haveFmt {
				return Info{}, ErrMissingFmtChunk
			}

			// Streamed WAVs often carry a zero or oversized data length.
			available := len(data) - body
			if chunkSize == 0 || chunkSize > available {
				chunkSize = available
			}

			info.DataBytes = chunkSize
			info.Duration = pcmDuration(info, chunkSize)

			return info, nil
		}

		offset = body + chunkSize + chunkSize%2
	}

	if !haveFmt {
		return Info{}, ErrMissingFmtChunk
	}

	return Info{}, ErrMissingDataChunk
}

func parseFmtChunk(chunk []byte, info *Info) error {
	encoding := binary.LittleEndian.Uint16(chunk[0:2])
	switch encoding {
	case wavFormatPCM, wavFormatFloat, wavFormatExtend:
	default:
		return fmt.Errorf("%w: format tag %d", ErrUnsupportedEncoding, encoding)
	}

	info.Channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
	info.SampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
	info.BitDepth = int(binary.LittleEndian.Uint16(chunk[14:16]))

	return nil
}

func pcmDuration(info Info, dataBytes int) time.Duration {
	frameBytes := info.Channels * info.BitDepth / bitsPerByte
	if frameBytes == 0 || info.SampleRate == 0 {
		return 0
	}

	frames := dataBytes / frameBytes

	return time.Duration(frames) * time.Second / time.Duration(info.SampleRate)
}

// EncodeWAV wraps interleaved little-endian PCM in a canonical 44-byte header.
func EncodeWAV(pcm []byte, sampleRate, channels, bitDepth int) []byte {
	blockAlign := channels * bitDepth / bitsPerByte
	byteRate := sampleRate * blockAlign

	var buf bytes.Buffer

	buf.Grow(riffHeaderSize + 2*chunkHeaderSize + fmtChunkMinSize + len(pcm))

	buf.Write(riffTag)
	writeUint32(&buf, uint32(4+2*chunkHeaderSize+fmtChunkMinSize+len(pcm)))
	buf.Write(waveTag)

	buf.Write(fmtTag)
	writeUint32(&buf, fmtChunkMinSize)
	writeUint16(&buf, wavFormatPCM)
	writeUint16(&buf, uint16(channels))
	writeUint32(&buf, uint32(sampleRate))
	writeUint32(&buf, uint32(byteRate))
	writeUint16(&buf, uint16(blockAlign))
	writeUint16(&buf, uint16(bitDepth))

	buf.Write(dataTag)
	writeUint32(&buf, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var scratch [2]byte

	binary.LittleEndian.PutUint16(scratch[:], v)
	buf.Write(scratch[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var scratch [4]byte

	binary.LittleEndian.PutUint32(scratch[:], v)
	buf.Write(scratch[:])
}
