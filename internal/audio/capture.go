package audio

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// Chunk is one captured microphone segment, already WAV-encoded so it can be
// appended to a session buffer as-is.
type Chunk struct {
	WAV       []byte
	DeviceID  string
	Timestamp time.Time
}

// Capturer records from the kiosk's microphone in fixed segments. It is used
// when the device itself records the visit instead of the caregiver's browser
// streaming chunks over the control surface.
type Capturer struct {
	outCh      chan Chunk
	sampleRate int
	segment    time.Duration

	mu      sync.Mutex
	stream  *portaudio.Stream
	cancel  context.CancelFunc
	running bool
}

// NewCapturer creates a kiosk microphone capturer. Segment length controls
// how often buffered audio is emitted as a chunk.
func NewCapturer(sampleRate int, segment time.Duration) (*Capturer, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	if segment <= 0 {
		segment = 2 * time.Second
	}
	return &Capturer{
		outCh:      make(chan Chunk, 16),
		sampleRate: sampleRate,
		segment:    segment,
	}, nil
}

// Output returns the channel for receiving captured chunks.
func (c *Capturer) Output() <-chan Chunk { return c.outCh }

// Start opens the default (or best available) input device and begins capture.
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.mu.Unlock()

	dev, err := pickInputDevice()
	if err != nil {
		return err
	}

	const framesPerBuf = 1024
	buf := make([]float32, framesPerBuf)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.sampleRate),
		FramesPerBuffer: framesPerBuf,
	}, buf)
	if err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return err
	}

	capCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.stream = stream
	c.cancel = cancel
	c.mu.Unlock()

	slog.Info("kiosk capture started", "device", dev.Name, "sample_rate", c.sampleRate)

	go c.readLoop(capCtx, stream, buf, dev.Name)
	return nil
}

func (c *Capturer) readLoop(ctx context.Context, stream *portaudio.Stream, buf []float32, deviceID string) {
	samplesPerSegment := int(float64(c.sampleRate) * c.segment.Seconds())
	segment := make([]float32, 0, samplesPerSegment)

	flush := func() {
		if len(segment) == 0 {
			return
		}
		chunk := Chunk{
			WAV:       EncodeWAV(segment, c.sampleRate),
			DeviceID:  deviceID,
			Timestamp: time.Now(),
		}
		segment = segment[:0]
		select {
		case c.outCh <- chunk:
		default:
			slog.Debug("capture buffer full, dropping segment", "device", deviceID)
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		default:
		}

		if err := stream.Read(); err != nil {
			slog.Debug("audio read error", "device", deviceID, "error", err)
			flush()
			return
		}
		segment = append(segment, buf...)
		if len(segment) >= samplesPerSegment {
			flush()
		}
	}
}

func pickInputDevice() (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	var best *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 {
			continue
		}
		if best == nil || preferDevice(dev.Name, best.Name) {
			best = dev
		}
	}
	if best != nil {
		return best, nil
	}
	return portaudio.DefaultInputDevice()
}

func preferDevice(name, current string) bool {
	for _, p := range []string{"built-in", "internal"} {
		if strings.Contains(strings.ToLower(name), p) && !strings.Contains(strings.ToLower(current), p) {
			return true
		}
	}
	return false
}

// Stop stops capture and releases the audio device.
func (c *Capturer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	if c.cancel != nil {
		c.cancel()
	}
	if c.stream != nil {
		_ = c.stream.Stop()
		_ = c.stream.Close()
		c.stream = nil
	}
	_ = portaudio.Terminate()
}
