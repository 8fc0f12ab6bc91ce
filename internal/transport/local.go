package transport

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"

	"nova/internal/session"
	"nova/pkg/audioconv"
)

// Recognizer turns 16 kHz mono samples into text.
type Recognizer func(ctx context.Context, pcm16k []float32) (string, error)

// Responder drafts a reply for a transcript. A nil Responder leaves the
// reply empty.
type Responder func(ctx context.Context, transcript string) (string, error)

// Local runs recognition in process with whisper.cpp.
type Local struct {
	rec     Recognizer
	respond Responder
}

func NewLocal(rec Recognizer, respond Responder) *Local {
	return &Local{rec: rec, respond: respond}
}

func (l *Local) Send(ctx context.Context, wav []byte) (session.Response, error) {
	pcm, rate, err := audioconv.DecodeWAV(wav)
	if err != nil {
		return session.Response{}, fmt.Errorf("%w: decode: %w", session.ErrTransport, err)
	}
	if rate != 16000 {
		pcm = audioconv.ResampleAny(pcm, rate, 16000)
	}
	if len(pcm) == 0 {
		return session.Response{}, nil
	}

	text, err := l.rec(ctx, pcm)
	if err != nil {
		return session.Response{}, fmt.Errorf("%w: recognize: %w", session.ErrTransport, err)
	}

	text = strings.TrimSpace(text)
	log.Debug("Recognized locally", "samples", len(pcm), "text", text)

	out := session.Response{Transcription: text}
	if l.respond == nil || text == "" {
		return out, nil
	}

	reply, err := l.respond(ctx, text)
	if err != nil {
		return session.Response{}, fmt.Errorf("%w: respond: %w", session.ErrTransport, err)
	}
	out.ResponseText = reply
	return out, nil
}
