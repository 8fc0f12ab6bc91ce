package session

import (
	"time"

	"github.com/google/uuid"

	"nova/internal/vad"
	"nova/pkg/audioconv"
	"nova/pkg/wavenc"
)

// Session is one recording: created on Idle -> Listening and dropped when
// the controller returns to Idle.
type Session struct {
	ID      string
	cfg     Config
	stream  Stream
	rate    int
	buf     *audioconv.Buffer
	ep      *vad.Endpointer
	started time.Time
	blocks  int
}

func newSession(cfg Config, stream Stream) *Session {
	return &Session{
		ID:      uuid.NewString(),
		cfg:     cfg,
		stream:  stream,
		rate:    stream.SampleRate(),
		buf:     audioconv.NewBuffer(),
		ep:      vad.New(cfg.VAD),
		started: time.Now(),
	}
}

// ingest appends one block and feeds the endpointer.
func (s *Session) ingest(block []float32) vad.Decision {
	s.blocks++
	s.buf.Append(block)
	return s.ep.Observe(block)
}

// recorded is the captured audio length at the native rate.
func (s *Session) recorded() time.Duration {
	if s.rate <= 0 {
		return 0
	}
	return time.Duration(s.buf.Len()) * time.Second / time.Duration(s.rate)
}

// encode drains the buffer and builds the WAV sent to the service.
func (s *Session) encode() []byte {
	samples := s.buf.Drain()
	down := audioconv.Resample(samples, s.rate, s.cfg.TargetRate)
	return wavenc.Encode(audioconv.Quantize(down), s.cfg.TargetRate)
}
