package audio

import (
	"context"
	log "log/slog"
	"time"

	"nova/internal/session"
)

// Levels maps a controller state to the playback level of other streams.
// States that are absent play at full volume.
type Levels map[session.State]float64

// DuckLevels keeps other playback at factor while Listening and Processing.
func DuckLevels(factor float64) Levels {
	return Levels{
		session.Listening:  factor,
		session.Processing: factor,
	}
}

func (l Levels) of(s session.State) float64 {
	if v, ok := l[s]; ok {
		return v
	}
	return 1
}

// StateDucker follows the controller state with the Ducker. pactl runs on
// its own goroutine so the controller never waits for a fade.
type StateDucker struct {
	session.NopObserver

	d      *Ducker
	levels Levels
	fade   time.Duration
	want   chan session.State
}

func NewStateDucker(ctx context.Context, d *Ducker, levels Levels, fade time.Duration) *StateDucker {
	o := &StateDucker{
		d:      d,
		levels: levels,
		fade:   fade,
		want:   make(chan session.State, 4),
	}
	go o.run(ctx)
	return o
}

func (o *StateDucker) OnStateChange(s session.State) {
	select {
	case o.want <- s:
	default:
		log.Warn("Duck queue full", "state", s)
	}
}

func (o *StateDucker) run(ctx context.Context) {
	defer func() {
		restore, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := o.d.Restore(restore, 0); err != nil {
			log.Warn("Failed to restore volumes", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-o.want:
			// only the latest state matters
			for len(o.want) > 0 {
				s = <-o.want
			}
			level := o.levels.of(s)
			if err := o.d.Level(ctx, level, o.fade); err != nil {
				log.Warn("Ducking failed", "state", s, "level", level, "err", err)
			}
		}
	}
}
