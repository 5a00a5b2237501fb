package audio

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCaptureOnPCMBuffersAndTracksPeak(t *testing.T) {
	c := &Capture{}

	n, err := c.onPCM([]byte{0x10, 0x00, 0x00, 0x80}) // 16, -32768
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, int64(4), c.BytesCaptured())
	require.Equal(t, int16(32767), c.Peak())

	n, err = c.onPCM(nil)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())

	n, err = c.onPCM([]byte{1, 2})
	require.ErrorIs(t, err, io.EOF)
	require.Zero(t, n)
	require.Len(t, c.PCM(), 4)
}

func TestWriterFuncDelegatesWrite(t *testing.T) {
	var got []byte
	w := writerFunc(func(b []byte) (int, error) {
		got = append(got, b...)
		return len(b), nil
	})
	n, err := w.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []byte{1, 2, 3}, got)
}

type fakeStream struct {
	pcm     []byte
	stopped int
}

func (s *fakeStream) Stop() error    { s.stopped++; return nil }
func (s *fakeStream) PCM() []byte    { return s.pcm }
func (s *fakeStream) Device() Device { return Device{ID: "mic", Description: "Mic"} }

func newTestRecorder(t *testing.T, format string, s *fakeStream, openErr error) *Recorder {
	t.Helper()
	r := NewRecorder(RecorderConfig{Format: format, Dir: t.TempDir()}, nil)
	r.open = func(context.Context, string, string) (stream, Selection, error) {
		if openErr != nil {
			return nil, Selection{}, openErr
		}
		return s, Selection{Device: s.Device(), Warning: "fell back"}, nil
	}
	return r
}

func TestRecorderWritesArtifact(t *testing.T) {
	s := &fakeStream{pcm: sinePCM(SampleRate / 2)}
	r := newTestRecorder(t, FormatWAV, s, nil)
	ctx := context.Background()

	require.NoError(t, r.StartCapture(ctx, "Notes"))
	require.Error(t, r.StartCapture(ctx, "Notes"))

	artifact, ok, err := r.StopCapture(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, s.stopped)
	require.Equal(t, FormatWAV, artifact.Format)
	require.Equal(t, "Mic (mic)", artifact.Device)
	require.Equal(t, 500*time.Millisecond, artifact.Duration)

	data, err := os.ReadFile(artifact.Path)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), artifact.Bytes)
	require.Equal(t, "RIFF", string(data[:4]))

	_, _, err = r.StopCapture(ctx)
	require.Error(t, err)
}

func TestRecorderDiscardsShortCapture(t *testing.T) {
	s := &fakeStream{pcm: make([]byte, minCaptureBytes-2)}
	r := newTestRecorder(t, FormatFLAC, s, nil)

	require.NoError(t, r.StartCapture(context.Background(), "A"))
	_, ok, err := r.StopCapture(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecorderCancelAndOpenFailure(t *testing.T) {
	s := &fakeStream{}
	r := newTestRecorder(t, "", s, nil)
	require.NoError(t, r.CancelCapture(context.Background()))

	require.NoError(t, r.StartCapture(context.Background(), "A"))
	require.NoError(t, r.CancelCapture(context.Background()))
	require.Equal(t, 1, s.stopped)

	failing := newTestRecorder(t, "", s, errors.New("no pulse"))
	require.ErrorContains(t, failing.StartCapture(context.Background(), "A"), "no pulse")
}
