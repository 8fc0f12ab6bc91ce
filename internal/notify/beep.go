package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

var (
	speakerMu   sync.Mutex
	speakerRate beep.SampleRate
)

// initSpeaker opens the output device on first use. Later streams are
// resampled to the rate it was opened with.
func initSpeaker(rate beep.SampleRate) (beep.SampleRate, error) {
	speakerMu.Lock()
	defer speakerMu.Unlock()

	if speakerRate != 0 {
		return speakerRate, nil
	}
	if err := speaker.Init(rate, rate.N(time.Second/10)); err != nil {
		return 0, fmt.Errorf("init speaker: %w", err)
	}
	speakerRate = rate
	return rate, nil
}

// PlayMP3 decodes rc and blocks until playback ends.
func PlayMP3(rc io.ReadCloser) error {
	streamer, format, err := mp3.Decode(rc)
	if err != nil {
		rc.Close()
		return fmt.Errorf("decode mp3: %w", err)
	}
	defer streamer.Close()

	rate, err := initSpeaker(format.SampleRate)
	if err != nil {
		return err
	}

	var s beep.Streamer = streamer
	if rate != format.SampleRate {
		s = beep.Resample(4, format.SampleRate, rate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		close(done)
	})))
	<-done
	return nil
}

// Beep plays the start cue at path.
func Beep(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open cue: %w", err)
	}
	return PlayMP3(f)
}

// Notify shows a desktop notification via notify-send.
func Notify(ctx context.Context, summary, body string) error {
	args := []string{"-a", "nova", "-t", "3000", summary}
	if body != "" {
		args = append(args, body)
	}
	if err := exec.CommandContext(ctx, "notify-send", args...).Run(); err != nil {
		return fmt.Errorf("notify-send: %w", err)
	}
	return nil
}
