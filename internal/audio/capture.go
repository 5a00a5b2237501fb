package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16

	fragmentBytes = 640 // 20ms @ 16kHz mono s16
)

// Capture buffers the PCM of one Pulse record stream until Stop.
type Capture struct {
	device Device

	client *pulse.Client
	stream *pulse.RecordStream

	mu      sync.Mutex
	pcm     []byte
	stopped bool

	inflight sync.WaitGroup
	bytes    atomic.Int64
	peak     atomic.Int32
}

// StartCapture opens a 16kHz mono s16 record stream on selected. ctx only
// bounds the connection phase; the stream runs until Stop.
func StartCapture(ctx context.Context, selected Device) (*Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := newClient()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selected.ID, err)
	}

	c := &Capture{device: selected, client: client}
	writer := pulse.NewWriter(writerFunc(c.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordBufferFragmentSize(fragmentBytes),
		pulse.RecordMediaName("murmur dictation"),
	)
	if err != nil {
		_ = c.Stop()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}
	if err := ctx.Err(); err != nil {
		stream.Close()
		_ = c.Stop()
		return nil, err
	}

	c.stream = stream
	stream.Start()
	return c, nil
}

// Device returns the source being recorded.
func (c *Capture) Device() Device {
	return c.device
}

// BytesCaptured reports total PCM bytes accepted so far.
func (c *Capture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// Peak returns the loudest absolute sample seen so far.
func (c *Capture) Peak() int16 {
	return int16(c.peak.Load())
}

// PCM returns a copy of everything captured.
func (c *Capture) PCM() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.pcm...)
}

// Stop halts the stream and waits for in-flight writes. It is idempotent.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}
	c.inflight.Wait()
	return nil
}

func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same lock as stopped so Stop's Wait cannot miss it.
	c.inflight.Add(1)
	c.pcm = append(c.pcm, buffer...)
	c.mu.Unlock()
	defer c.inflight.Done()

	c.bytes.Add(int64(len(buffer)))
	c.trackPeak(buffer)
	return len(buffer), nil
}

func (c *Capture) trackPeak(buffer []byte) {
	peak := c.peak.Load()
	for i := 0; i+1 < len(buffer); i += 2 {
		s := int32(int16(uint16(buffer[i]) | uint16(buffer[i+1])<<8))
		if s < 0 {
			s = -s
		}
		if s > 32767 {
			s = 32767
		}
		if s > peak {
			peak = s
		}
	}
	for {
		current := c.peak.Load()
		if peak <= current || c.peak.CompareAndSwap(current, peak) {
			return
		}
	}
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
