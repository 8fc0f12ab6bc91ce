package notify

import (
	"context"
	log "log/slog"
	"time"

	"nova/internal/session"
)

// Cues plays the start cue when listening begins and pops a desktop
// notification for transcriptions and errors. Work happens off the
// controller goroutine; events that arrive while busy are dropped.
type Cues struct {
	session.NopObserver

	beep   func() error
	notify func(ctx context.Context, summary, body string) error
	jobs   chan func()
}

// NewCues starts the cue worker. An empty cue path disables the beep.
func NewCues(ctx context.Context, cuePath string, desktop bool) *Cues {
	c := &Cues{jobs: make(chan func(), 8)}
	if cuePath != "" {
		c.beep = func() error { return Beep(cuePath) }
	}
	if desktop {
		c.notify = Notify
	}
	go c.run(ctx)
	return c
}

func (c *Cues) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-c.jobs:
			job()
		}
	}
}

func (c *Cues) enqueue(job func()) {
	select {
	case c.jobs <- job:
	default:
		log.Debug("Cue dropped")
	}
}

func (c *Cues) OnStateChange(s session.State) {
	if s != session.Listening {
		return
	}
	if c.beep != nil {
		c.enqueue(func() {
			if err := c.beep(); err != nil {
				log.Warn("Failed to play cue", "err", err)
			}
		})
	}
	c.desktop("Listening...", "")
}

func (c *Cues) OnTranscription(text string) {
	if text != "" {
		c.desktop("Heard", text)
	}
}

func (c *Cues) OnError(err error) {
	c.desktop("Nova error", err.Error())
}

func (c *Cues) desktop(summary, body string) {
	if c.notify == nil {
		return
	}
	c.enqueue(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := c.notify(ctx, summary, body); err != nil {
			log.Warn("Failed to notify", "err", err)
		}
	})
}
