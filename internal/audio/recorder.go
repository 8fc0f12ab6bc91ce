package audio

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"nova/internal/session"
)

// DefaultFrames is the number of samples per captured block.
const DefaultFrames = 4096

// Recorder opens mono input streams on the default device at its native
// rate. Init must be called before Open and Close after the last stream.
type Recorder struct {
	frames  int
	backlog int
}

func NewRecorder(frames int) *Recorder {
	if frames <= 0 {
		frames = DefaultFrames
	}
	return &Recorder{frames: frames, backlog: 16}
}

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// Open starts capturing. Blocks are delivered until Stop is called or the
// device fails, after which the channel is closed.
func (r *Recorder) Open(ctx context.Context) (session.Stream, error) {
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: default input: %w", session.ErrCaptureUnavailable, err)
	}
	rate := int(dev.DefaultSampleRate)
	if rate <= 0 {
		return nil, fmt.Errorf("%w: device %q reports no sample rate", session.ErrCaptureUnavailable, dev.Name)
	}

	buf := make([]float32, r.frames)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(rate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("%w: open stream: %w", session.ErrCaptureUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("%w: start stream: %w", session.ErrCaptureUnavailable, err)
	}

	log.Debug("Capture started", "device", dev.Name, "rate", rate, "frames", r.frames)

	s := &inputStream{
		stream: stream,
		buf:    buf,
		rate:   rate,
		blocks: make(chan []float32, r.backlog),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

type inputStream struct {
	stream *portaudio.Stream
	buf    []float32
	rate   int

	blocks chan []float32
	done   chan struct{}
	exited chan struct{}

	once sync.Once
	err  error
}

func (s *inputStream) Blocks() <-chan []float32 { return s.blocks }

func (s *inputStream) SampleRate() int { return s.rate }

func (s *inputStream) pump() {
	defer close(s.exited)
	defer close(s.blocks)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			// Overflow is recoverable.
			if err == portaudio.InputOverflowed {
				log.Warn("Input overflowed")
				continue
			}
			log.Error("Capture read failed", "err", err)
			return
		}

		block := make([]float32, len(s.buf))
		copy(block, s.buf)
		if !s.deliver(block) {
			return
		}
	}
}

// deliver hands block to the consumer, waiting while the backlog is full.
// It reports false once the stream is stopped.
func (s *inputStream) deliver(block []float32) bool {
	select {
	case s.blocks <- block:
		return true
	case <-s.done:
		return false
	}
}

// Stop ends the capture and releases the device. Safe to call twice.
func (s *inputStream) Stop() error {
	s.once.Do(func() {
		close(s.done)
		<-s.exited
		if err := s.stream.Stop(); err != nil {
			s.err = err
		}
		if err := s.stream.Close(); err != nil && s.err == nil {
			s.err = err
		}
	})
	return s.err
}
