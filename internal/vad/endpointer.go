// Package vad decides when a speaker has finished an utterance from the
// loudness of successive capture blocks.
package vad

import "math"

type Decision int

const (
	Continue Decision = iota
	SuggestStop
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case SuggestStop:
		return "suggest-stop"
	default:
		return "unknown"
	}
}

type Config struct {
	// Threshold is the RMS level above which a block counts as speech.
	Threshold float64
	// SilenceBlocks is how many trailing quiet blocks are tolerated before
	// a stop is suggested.
	SilenceBlocks int
	// Continuous disables stop suggestions entirely.
	Continuous bool
}

// DefaultConfig matches ~0.5s of trailing silence with 4096-sample blocks.
func DefaultConfig() Config {
	return Config{
		Threshold:     0.02,
		SilenceBlocks: 4,
	}
}

type State struct {
	SpokenSinceStart bool
	SilenceRun       int
}

// Endpointer holds the per-session VAD state. It is not safe for
// concurrent use; one session owns one Endpointer.
type Endpointer struct {
	cfg   Config
	state State
}

func New(cfg Config) *Endpointer {
	return &Endpointer{cfg: cfg}
}

// Observe updates the state with one block and reports whether the
// utterance looks finished. The decision is advisory.
func (e *Endpointer) Observe(block []float32) Decision {
	if RMS(block) > e.cfg.Threshold {
		e.state.SpokenSinceStart = true
		e.state.SilenceRun = 0
	} else if e.state.SpokenSinceStart {
		e.state.SilenceRun++
	}

	if !e.cfg.Continuous && e.state.SpokenSinceStart && e.state.SilenceRun > e.cfg.SilenceBlocks {
		return SuggestStop
	}
	return Continue
}

func (e *Endpointer) State() State { return e.state }

func (e *Endpointer) Reset() { e.state = State{} }

// RMS returns sqrt(mean(x^2)), or 0 for an empty block.
func RMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s / float64(len(f)))
}
