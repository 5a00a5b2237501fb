package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/mewkiz/flac"
	"github.com/stretchr/testify/require"
)

func sinePCM(samples int) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

func TestEncodeFLACDecodesBack(t *testing.T) {
	pcm := sinePCM(flacBlockSize*2 + 123)

	data, err := EncodeFLAC(pcm)
	require.NoError(t, err)
	require.Equal(t, "fLaC", string(data[:4]))

	stream, err := flac.New(bytes.NewReader(data))
	require.NoError(t, err)
	defer stream.Close()
	require.Equal(t, uint32(SampleRate), stream.Info.SampleRate)
	require.Equal(t, uint8(Channels), stream.Info.NChannels)

	decoded := 0
	first := true
	for {
		f, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if first {
			want := int32(int16(binary.LittleEndian.Uint16(pcm[2:])))
			require.Equal(t, want, f.Subframes[0].Samples[1])
			first = false
		}
		decoded += int(f.BlockSize)
	}
	require.Equal(t, flacBlockSize*2+123, decoded)
}

func TestEncodeFLACEmpty(t *testing.T) {
	data, err := EncodeFLAC(nil)
	require.NoError(t, err)
	require.Equal(t, "fLaC", string(data[:4]))
}

func TestWriteWAVHeader(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	var buf bytes.Buffer
	require.NoError(t, WriteWAV(&buf, pcm, SampleRate, 0))

	out := buf.Bytes()
	require.Len(t, out, 48)
	require.Equal(t, "RIFF", string(out[0:4]))
	require.Equal(t, uint32(40), binary.LittleEndian.Uint32(out[4:8]))
	require.Equal(t, "WAVE", string(out[8:12]))
	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(out[22:24]))
	require.Equal(t, uint32(SampleRate), binary.LittleEndian.Uint32(out[24:28]))
	require.Equal(t, uint32(SampleRate*2), binary.LittleEndian.Uint32(out[28:32]))
	require.Equal(t, uint32(4), binary.LittleEndian.Uint32(out[40:44]))
	require.Equal(t, pcm, out[44:])
}

func TestEncodeRejectsUnknownFormat(t *testing.T) {
	_, err := Encode("mp3", nil)
	require.ErrorContains(t, err, "unsupported")

	wav, err := Encode(FormatWAV, []byte{0, 0})
	require.NoError(t, err)
	require.Equal(t, "RIFF", string(wav[:4]))
}
