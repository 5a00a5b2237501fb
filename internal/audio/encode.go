package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// Artifact formats.
const (
	FormatFLAC = "flac"
	FormatWAV  = "wav"
)

const flacBlockSize = 4096

// EncodeFLAC compresses little-endian mono s16 PCM into a FLAC stream.
func EncodeFLAC(pcm []byte) ([]byte, error) {
	var buf bytes.Buffer
	info := &meta.StreamInfo{
		BlockSizeMin:  flacBlockSize,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    SampleRate,
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
	}
	enc, err := flac.NewEncoder(&buf, info)
	if err != nil {
		return nil, fmt.Errorf("create flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)

	samples := pcmSamples(pcm)
	for start := 0; start < len(samples); start += flacBlockSize {
		end := min(start+flacBlockSize, len(samples))
		if err := enc.WriteFrame(flacFrame(samples[start:end])); err != nil {
			_ = enc.Close()
			return nil, fmt.Errorf("write flac frame: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close flac encoder: %w", err)
	}
	return buf.Bytes(), nil
}

func flacFrame(block []int32) *frame.Frame {
	return &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    SampleRate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   block,
			NSamples:  len(block),
		}},
	}
}

func pcmSamples(pcm []byte) []int32 {
	samples := make([]int32, len(pcm)/2)
	for i := range samples {
		samples[i] = int32(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return samples
}

// WriteWAV writes PCM behind a minimal 44-byte RIFF header.
func WriteWAV(w io.Writer, pcm []byte, sampleRate int, channels int) error {
	if channels <= 0 {
		channels = 1
	}
	const bits = BitsPerSample
	blockAlign := channels * bits / 8

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bits)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

// Encode renders pcm in format.
func Encode(format string, pcm []byte) ([]byte, error) {
	switch format {
	case "", FormatFLAC:
		return EncodeFLAC(pcm)
	case FormatWAV:
		var buf bytes.Buffer
		if err := WriteWAV(&buf, pcm, SampleRate, Channels); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported audio format %q", format)
	}
}
