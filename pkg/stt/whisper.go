// Package stt recognizes short spoken commands with a local whisper.cpp
// model.
package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// SampleRate is the only rate the model accepts.
const SampleRate = 16000

var ErrNoAudio = errors.New("no audio samples provided")

type Options struct {
	// Language is a whisper language code or "auto".
	Language string
	// Translate renders non-English speech as English text.
	Translate bool
	// Threads <= 0 uses every CPU.
	Threads int
	// Prompt biases decoding towards the given words, e.g. the wake phrase.
	Prompt string
	// BeamSize > 0 enables beam search; greedy otherwise.
	BeamSize int
	// Temperature 0 keeps the model default.
	Temperature float32
}

func (o Options) normalized() Options {
	if o.Language == "" {
		o.Language = "auto"
	}
	if o.Threads <= 0 {
		o.Threads = runtime.NumCPU()
	}
	return o
}

type Segment struct {
	Text       string
	Start, End time.Duration
}

// Utterance is what the model heard in one command.
type Utterance struct {
	Text     string
	Segments []Segment
	Language string
}

// Recognizer owns a loaded model and the decoding options applied to every
// utterance. The model decodes one utterance at a time.
type Recognizer struct {
	opt Options

	mu    sync.Mutex
	model whisper.Model
}

func NewRecognizer(modelPath string, opt Options) (*Recognizer, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", modelPath, err)
	}
	return &Recognizer{opt: opt.normalized(), model: m}, nil
}

func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model == nil {
		return nil
	}
	err := r.model.Close()
	r.model = nil
	return err
}

// Recognize decodes pcm, mono float32 at SampleRate.
func (r *Recognizer) Recognize(ctx context.Context, pcm []float32) (Utterance, error) {
	if len(pcm) == 0 {
		return Utterance{}, ErrNoAudio
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model == nil {
		return Utterance{}, errors.New("recognizer closed")
	}
	if err := ctx.Err(); err != nil {
		return Utterance{}, err
	}

	wctx, err := r.model.NewContext()
	if err != nil {
		return Utterance{}, fmt.Errorf("new context: %w", err)
	}
	if err := configure(wctx, r.opt); err != nil {
		return Utterance{}, err
	}
	if err := wctx.Process(pcm, nil, nil, nil); err != nil {
		return Utterance{}, fmt.Errorf("process: %w", err)
	}

	u, err := collect(ctx, wctx)
	if err != nil {
		return Utterance{}, err
	}
	u.Language = wctx.DetectedLanguage()
	if u.Language == "" {
		u.Language = wctx.Language()
	}
	return u, nil
}

// tuner is the part of whisper.Context the options touch.
type tuner interface {
	SetLanguage(string) error
	SetTranslate(bool)
	SetThreads(uint)
	SetInitialPrompt(string)
	SetBeamSize(int)
	SetTemperature(float32)
}

func configure(t tuner, opt Options) error {
	if err := t.SetLanguage(opt.Language); err != nil {
		return fmt.Errorf("set language %q: %w", opt.Language, err)
	}
	t.SetTranslate(opt.Translate)
	t.SetThreads(uint(opt.Threads))
	if opt.Prompt != "" {
		t.SetInitialPrompt(opt.Prompt)
	}
	if opt.BeamSize > 0 {
		t.SetBeamSize(opt.BeamSize)
	}
	if opt.Temperature != 0 {
		t.SetTemperature(opt.Temperature)
	}
	return nil
}

type segmenter interface {
	NextSegment() (whisper.Segment, error)
}

// collect drains the decoded segments and joins their non-blank text.
func collect(ctx context.Context, s segmenter) (Utterance, error) {
	var (
		u     Utterance
		words []string
	)
	for {
		if err := ctx.Err(); err != nil {
			return Utterance{}, err
		}
		seg, err := s.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Utterance{}, fmt.Errorf("next segment: %w", err)
		}

		text := strings.TrimSpace(seg.Text)
		u.Segments = append(u.Segments, Segment{Text: text, Start: seg.Start, End: seg.End})
		if text != "" {
			words = append(words, text)
		}
	}
	u.Text = strings.Join(words, " ")
	return u, nil
}
