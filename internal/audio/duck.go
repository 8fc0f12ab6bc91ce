package audio

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// pactl accepts up to 150%.
const maxVolume = 150

// sinkInput is one playback stream as pactl reports it.
type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

// mixer lists and adjusts playback streams.
type mixer interface {
	inputs(ctx context.Context) ([]sinkInput, error)
	setVolume(ctx context.Context, id, percent int) error
}

// Ducker scales foreign playback streams to a level relative to the volume
// they had before the first duck. Streams owned by the assistant are never
// touched.
type Ducker struct {
	mix   mixer
	own   map[string]bool
	floor int

	mu    sync.Mutex
	saved map[int]int // sink input id -> volume before ducking
	level float64
}

// NewDucker leaves streams whose application.name is in own alone and never
// ducks a stream below floor percent.
func NewDucker(own []string, floor int) *Ducker {
	d := &Ducker{
		mix:   pactl{},
		own:   make(map[string]bool, len(own)),
		floor: clampVolume(floor),
		level: 1,
	}
	for _, name := range own {
		d.own[name] = true
	}
	return d
}

// Level fades foreign streams to level times their saved volume. A level of
// 1 or more restores them and forgets the saved volumes.
func (d *Ducker) Level(ctx context.Context, level float64, fade time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if level >= 1 && d.saved == nil {
		return nil
	}
	if level == d.level && d.saved != nil {
		return nil
	}

	streams, err := d.mix.inputs(ctx)
	if err != nil {
		return fmt.Errorf("list streams: %w", err)
	}
	streams = d.foreign(streams)

	if d.saved == nil {
		d.saved = make(map[int]int, len(streams))
		for _, s := range streams {
			d.saved[s.ID] = s.Volume
		}
	}

	ramps := plan(streams, d.saved, level, d.floor)
	if err := d.run(ctx, ramps, fade); err != nil {
		return err
	}

	if level >= 1 {
		d.saved = nil
		d.level = 1
		return nil
	}
	d.level = level
	return nil
}

// Restore is Level(ctx, 1, fade).
func (d *Ducker) Restore(ctx context.Context, fade time.Duration) error {
	return d.Level(ctx, 1, fade)
}

func (d *Ducker) foreign(streams []sinkInput) []sinkInput {
	var out []sinkInput
	for _, s := range streams {
		if !d.own[s.AppName] {
			out = append(out, s)
		}
	}
	return out
}

type ramp struct {
	id       int
	from, to int
}

func (r ramp) at(frac float64) int {
	return int(math.Round(float64(r.from) + float64(r.to-r.from)*frac))
}

// plan computes one ramp per stream that was present when ducking began.
// Streams that appeared later keep whatever volume they have.
func plan(streams []sinkInput, saved map[int]int, level float64, floor int) []ramp {
	var ramps []ramp
	for _, s := range streams {
		orig, ok := saved[s.ID]
		if !ok {
			continue
		}
		to := orig
		if level < 1 {
			to = clampVolume(int(math.Round(float64(orig) * level)))
			to = max(to, min(floor, orig))
		}
		if to != s.Volume {
			ramps = append(ramps, ramp{id: s.ID, from: s.Volume, to: to})
		}
	}
	return ramps
}

const fadeStep = 10 * time.Millisecond

// run steps every ramp linearly over fade; a zero fade jumps straight to
// the targets.
func (d *Ducker) run(ctx context.Context, ramps []ramp, fade time.Duration) error {
	if len(ramps) == 0 {
		return nil
	}
	steps := max(int(fade/fadeStep), 1)
	tick := fade / time.Duration(steps)

	for i := 1; i <= steps; i++ {
		if i > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(tick):
			}
		}
		frac := float64(i) / float64(steps)
		for _, r := range ramps {
			if err := d.mix.setVolume(ctx, r.id, r.at(frac)); err != nil {
				return fmt.Errorf("set volume of sink input %d: %w", r.id, err)
			}
		}
	}
	return nil
}

func clampVolume(v int) int {
	return min(max(v, 0), maxVolume)
}

// pactl drives the PulseAudio / PipeWire command line client.
type pactl struct{}

func (pactl) inputs(ctx context.Context) ([]sinkInput, error) {
	out, err := exec.CommandContext(ctx, "pactl", "list", "sink-inputs").Output()
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

func (pactl) setVolume(ctx context.Context, id, percent int) error {
	return exec.CommandContext(ctx, "pactl", "set-sink-input-volume",
		strconv.Itoa(id), strconv.Itoa(clampVolume(percent))+"%").Run()
}

var (
	volumeRe  = regexp.MustCompile(`^Volume:.*?(\d+)%`)
	appNameRe = regexp.MustCompile(`^application\.name = "([^"]*)"`)
)

// parseSinkInputs reads the output of `pactl list sink-inputs`. Entries
// with an unreadable id, or with neither a volume nor a name, are skipped.
func parseSinkInputs(text string) []sinkInput {
	var (
		out []sinkInput
		cur *sinkInput
	)
	flush := func() {
		if cur != nil && (cur.Volume != 0 || cur.AppName != "") {
			out = append(out, *cur)
		}
		cur = nil
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		if rest, ok := strings.CutPrefix(line, "Sink Input #"); ok {
			flush()
			if id, err := strconv.Atoi(rest); err == nil {
				cur = &sinkInput{ID: id}
			}
			continue
		}
		if cur == nil {
			continue
		}

		if m := volumeRe.FindStringSubmatch(line); m != nil && cur.Volume == 0 {
			cur.Volume, _ = strconv.Atoi(m[1])
		}
		if m := appNameRe.FindStringSubmatch(line); m != nil && cur.AppName == "" {
			cur.AppName = m[1]
		}
	}
	flush()
	return out
}
