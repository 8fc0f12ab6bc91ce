package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"nova/internal/vad"
)

const DefaultWakePhrase = "hey nova"

type Config struct {
	Continuous bool
	WakeGating bool
	WakePhrase string
	// TargetRate is the sample rate of the WAV sent to the service.
	TargetRate int
	VAD        vad.Config
	// Timeout bounds the wait for a response; expiry is a transport error.
	Timeout time.Duration
	// MaxDuration force-stops a recording that never goes quiet.
	MaxDuration time.Duration
	// RearmOnWakeMiss keeps continuous mode listening after a response was
	// discarded for a missing wake phrase. Off by default, in which case a
	// miss ends the loop and waits for a manual start.
	RearmOnWakeMiss bool
}

func DefaultConfig() Config {
	return Config{
		WakePhrase:  DefaultWakePhrase,
		TargetRate:  16000,
		VAD:         vad.DefaultConfig(),
		Timeout:     30 * time.Second,
		MaxDuration: 60 * time.Second,
	}
}

// withDefaults fills the fields whose zero value is unusable. The VAD
// settings are taken as given: a zero threshold or silence run is a valid,
// if aggressive, endpointer.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TargetRate <= 0 {
		c.TargetRate = d.TargetRate
	}
	if c.WakePhrase == "" {
		c.WakePhrase = d.WakePhrase
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	c.VAD.Continuous = c.Continuous
	return c
}

func (c Config) Validate() error {
	if c.VAD.Threshold < 0 || c.VAD.Threshold >= 1 {
		return fmt.Errorf("vad threshold must be in [0, 1), got %v", c.VAD.Threshold)
	}
	if c.VAD.SilenceBlocks < 0 {
		return fmt.Errorf("vad silence blocks must not be negative, got %d", c.VAD.SilenceBlocks)
	}
	if c.TargetRate < 0 {
		return fmt.Errorf("target rate must not be negative, got %d", c.TargetRate)
	}
	return nil
}

// Settings that can be changed at runtime through Set.
const (
	KeyContinuous  = "continuous"
	KeyWake        = "wake"
	KeyWakePhrase  = "wake-phrase"
	KeyRearmOnMiss = "rearm-on-miss"
)

var ErrUnknownSetting = errors.New("unknown setting")

// Set returns a copy of c with one policy setting changed.
func (c Config) Set(key, value string) (Config, error) {
	switch key {
	case KeyWakePhrase:
		phrase := strings.TrimSpace(value)
		if phrase == "" {
			return c, fmt.Errorf("%s: empty phrase", key)
		}
		c.WakePhrase = phrase
		return c, nil
	case KeyContinuous, KeyWake, KeyRearmOnMiss:
	default:
		return c, fmt.Errorf("%w: %q", ErrUnknownSetting, key)
	}

	on, err := strconv.ParseBool(value)
	if err != nil {
		return c, fmt.Errorf("%s: %w", key, err)
	}
	switch key {
	case KeyContinuous:
		c.Continuous = on
	case KeyWake:
		c.WakeGating = on
	case KeyRearmOnMiss:
		c.RearmOnWakeMiss = on
	}
	return c, nil
}
