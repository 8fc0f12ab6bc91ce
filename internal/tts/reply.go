package tts

import (
	"bytes"
	"context"
	"io"
	log "log/slog"

	"nova/internal/notify"
	"nova/internal/session"
)

// Play plays an mp3 reply and blocks until it ends.
func Play(mp3 []byte) error {
	return notify.PlayMP3(io.NopCloser(bytes.NewReader(mp3)))
}

// Voice speaks every response: the service's audio when it sent some,
// espeak otherwise. Replies queue up on a worker goroutine.
type Voice struct {
	session.NopObserver

	lang    string
	replies chan reply
}

type reply struct {
	text  string
	audio []byte
}

func NewVoice(ctx context.Context, lang string) *Voice {
	v := &Voice{lang: lang, replies: make(chan reply, 4)}
	go v.run(ctx)
	return v
}

func (v *Voice) OnResponse(text string, audio []byte) {
	if text == "" && len(audio) == 0 {
		return
	}
	select {
	case v.replies <- reply{text, audio}:
	default:
		log.Warn("Reply queue full, not speaking", "text", text)
	}
}

func (v *Voice) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-v.replies:
			if len(r.audio) > 0 {
				err := Play(r.audio)
				if err == nil {
					continue
				}
				log.Warn("Failed to play reply audio, falling back to espeak", "err", err)
			}
			if err := Speak(r.text, v.lang); err != nil {
				log.Error("Failed to voice out", "err", err)
			}
		}
	}
}
