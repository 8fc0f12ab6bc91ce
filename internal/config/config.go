package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"nova/internal/ipc"
	"nova/internal/session"
	"nova/internal/vad"
)

// Transport kinds.
const (
	TransportHTTP   = "http"
	TransportBus    = "bus"
	TransportOpenAI = "openai"
	TransportLocal  = "local"
)

// Config is the daemon configuration. Sources are applied in order: built-in
// defaults, the YAML file, the environment (with .env loaded first), then
// command line flags.
type Config struct {
	Session   SessionConfig   `yaml:"session"`
	Transport TransportConfig `yaml:"transport"`
	Audio     AudioConfig     `yaml:"audio"`
	Feedback  FeedbackConfig  `yaml:"feedback"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
	Socket    string          `yaml:"socket"`

	File    string `yaml:"-"`
	EnvFile string `yaml:"-"`
}

type SessionConfig struct {
	Continuous      bool          `yaml:"continuous"`
	WakeGating      bool          `yaml:"wake_gating"`
	WakePhrase      string        `yaml:"wake_phrase"`
	RearmOnWakeMiss bool          `yaml:"rearm_on_wake_miss"`
	TargetRate      int           `yaml:"target_rate"`
	Threshold       float64       `yaml:"threshold"`
	SilenceBlocks   int           `yaml:"silence_blocks"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxDuration     time.Duration `yaml:"max_duration"`
}

type TransportConfig struct {
	Kind      string `yaml:"kind"`
	URL       string `yaml:"url"`
	Shard     string `yaml:"shard"`
	Peer      string `yaml:"peer"`
	Proxy     string `yaml:"proxy"`
	Model     string `yaml:"model"`      // whisper.cpp model for the local transport
	ChatModel string `yaml:"chat_model"` // empty means no reply drafting for local
	Language  string `yaml:"language"`
	APIKey    string `yaml:"-"`
}

type AudioConfig struct {
	Frames     int           `yaml:"frames"`
	Duck       bool          `yaml:"duck"`
	DuckFactor float64       `yaml:"duck_factor"`
	DuckFade   time.Duration `yaml:"duck_fade"`
}

type FeedbackConfig struct {
	Cue     string `yaml:"cue"`
	Desktop bool   `yaml:"desktop"`
	Speak   bool   `yaml:"speak"`
	Voice   string `yaml:"voice"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Default() Config {
	s := session.DefaultConfig()
	return Config{
		Session: SessionConfig{
			WakePhrase:    s.WakePhrase,
			TargetRate:    s.TargetRate,
			Threshold:     s.VAD.Threshold,
			SilenceBlocks: s.VAD.SilenceBlocks,
			Timeout:       s.Timeout,
			MaxDuration:   s.MaxDuration,
		},
		Transport: TransportConfig{
			Kind:  TransportHTTP,
			URL:   "http://localhost:8000",
			Shard: "nova",
			Peer:  "stt",
		},
		Audio: AudioConfig{
			Frames:     4096,
			DuckFactor: 0.3,
			DuckFade:   150 * time.Millisecond,
		},
		Feedback: FeedbackConfig{
			Speak: true,
			Voice: "en",
		},
		Log:     LogConfig{Level: "info"},
		Socket:  ipc.DefaultSocketPath(),
		File:    "nova.yaml",
		EnvFile: ".env",
	}
}

// Load resolves the configuration from args and the environment. A missing
// config or env file is not an error.
func Load(args []string) (*Config, error) {
	pre := Default()
	fs := newFlagSet(&pre)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(pre.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file %s: %w", pre.EnvFile, err)
	}

	cfg := Default()
	cfg.File = pre.File
	cfg.EnvFile = pre.EnvFile
	if err := cfg.readFile(cfg.File); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	// Flags defaulted to the values resolved so far only change what was
	// set explicitly.
	if err := newFlagSet(&cfg).Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("OPENAI_API_KEY", &c.Transport.APIKey)
	str("NOVA_TRANSPORT", &c.Transport.Kind)
	str("NOVA_URL", &c.Transport.URL)
	str("NOVA_PROXY", &c.Transport.Proxy)
	str("NOVA_MODEL", &c.Transport.Model)
	str("NOVA_WAKE_PHRASE", &c.Session.WakePhrase)
	str("NOVA_METRICS_ADDR", &c.Metrics.Addr)
	str("NOVA_SOCKET", &c.Socket)
	str("NOVA_LOG", &c.Log.Level)

	if err := boolean("NOVA_CONTINUOUS", &c.Session.Continuous); err != nil {
		return err
	}
	return boolean("NOVA_WAKE", &c.Session.WakeGating)
}

func newFlagSet(c *Config) *cli.FlagSet {
	fs := cli.NewFlagSet("nova", cli.ContinueOnError)

	fs.StringVarP(&c.File, "config", "c", c.File, "YAML config file")
	fs.StringVarP(&c.EnvFile, "env", "e", c.EnvFile, "Env file path")
	fs.StringVarP(&c.Log.Level, "log", "l", c.Log.Level, "Log level")
	fs.StringVar(&c.Socket, "socket", c.Socket, "Control socket path")
	fs.StringVar(&c.Metrics.Addr, "metrics", c.Metrics.Addr, "Serve Prometheus metrics on this address")

	fs.StringVarP(&c.Transport.Kind, "transport", "t", c.Transport.Kind, "Transport: http, bus, openai or local")
	fs.StringVarP(&c.Transport.URL, "url", "u", c.Transport.URL, "Service URL (http base or ws hub)")
	fs.StringVarP(&c.Transport.Proxy, "proxy", "p", c.Transport.Proxy, "Socks proxy address")
	fs.StringVar(&c.Transport.Model, "model", c.Transport.Model, "whisper.cpp model path")
	fs.StringVar(&c.Transport.ChatModel, "chat-model", c.Transport.ChatModel, "OpenAI chat model for replies")
	fs.StringVar(&c.Transport.Language, "lang", c.Transport.Language, "Recognition language hint")

	fs.BoolVar(&c.Session.Continuous, "continuous", c.Session.Continuous, "Re-arm after every response")
	fs.BoolVarP(&c.Session.WakeGating, "wake", "w", c.Session.WakeGating, "Only act on utterances with the wake phrase")
	fs.StringVar(&c.Session.WakePhrase, "wake-phrase", c.Session.WakePhrase, "Wake phrase")
	fs.BoolVar(&c.Session.RearmOnWakeMiss, "rearm-on-miss", c.Session.RearmOnWakeMiss, "Keep listening after a wake miss in continuous mode")
	fs.Float64Var(&c.Session.Threshold, "threshold", c.Session.Threshold, "RMS speech threshold")
	fs.IntVar(&c.Session.SilenceBlocks, "silence-blocks", c.Session.SilenceBlocks, "Silent blocks before auto stop")
	fs.DurationVar(&c.Session.Timeout, "timeout", c.Session.Timeout, "Response timeout")
	fs.DurationVar(&c.Session.MaxDuration, "max-duration", c.Session.MaxDuration, "Longest recording")

	fs.BoolVar(&c.Audio.Duck, "duck", c.Audio.Duck, "Lower other audio while listening")
	fs.StringVar(&c.Feedback.Cue, "cue", c.Feedback.Cue, "MP3 played when listening starts")
	fs.BoolVar(&c.Feedback.Desktop, "notify", c.Feedback.Desktop, "Desktop notifications")
	fs.BoolVar(&c.Feedback.Speak, "speak", c.Feedback.Speak, "Voice responses")

	return fs
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log level must be one of [debug, info, warn, error], got '%s'", c.Log.Level)
	}
	if c.Socket == "" {
		return fmt.Errorf("socket cannot be empty")
	}
	return nil
}

func (s *SessionConfig) Validate() error {
	if s.TargetRate < 8000 || s.TargetRate > 48000 {
		return fmt.Errorf("target_rate must be between 8000 and 48000, got %d", s.TargetRate)
	}
	if s.Threshold < 0 || s.Threshold >= 1 {
		return fmt.Errorf("threshold must be in [0, 1), got %f", s.Threshold)
	}
	if s.SilenceBlocks < 0 {
		return fmt.Errorf("silence_blocks cannot be negative, got %d", s.SilenceBlocks)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", s.Timeout)
	}
	if s.MaxDuration < 0 {
		return fmt.Errorf("max_duration cannot be negative, got %s", s.MaxDuration)
	}
	if s.WakeGating && s.WakePhrase == "" {
		return fmt.Errorf("wake_phrase cannot be empty when wake gating is on")
	}
	return nil
}

func (t *TransportConfig) Validate() error {
	switch t.Kind {
	case TransportHTTP, TransportBus:
		if t.URL == "" {
			return fmt.Errorf("url cannot be empty for %s transport", t.Kind)
		}
	case TransportOpenAI:
		if t.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY not set")
		}
	case TransportLocal:
		if t.Model == "" {
			return fmt.Errorf("model cannot be empty for local transport")
		}
		if t.ChatModel != "" && t.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY not set, needed for chat_model")
		}
	default:
		return fmt.Errorf("kind must be one of [http, bus, openai, local], got '%s'", t.Kind)
	}
	return nil
}

func (a *AudioConfig) Validate() error {
	if a.Frames < 64 {
		return fmt.Errorf("frames must be at least 64, got %d", a.Frames)
	}
	if a.DuckFactor < 0 || a.DuckFactor > 1 {
		return fmt.Errorf("duck_factor must be between 0 and 1, got %f", a.DuckFactor)
	}
	return nil
}

// ToSession maps onto the controller settings.
func (c *Config) ToSession() session.Config {
	return session.Config{
		Continuous:      c.Session.Continuous,
		WakeGating:      c.Session.WakeGating,
		WakePhrase:      c.Session.WakePhrase,
		RearmOnWakeMiss: c.Session.RearmOnWakeMiss,
		TargetRate:      c.Session.TargetRate,
		Timeout:         c.Session.Timeout,
		MaxDuration:     c.Session.MaxDuration,
		VAD: vad.Config{
			Threshold:     c.Session.Threshold,
			SilenceBlocks: c.Session.SilenceBlocks,
			Continuous:    c.Session.Continuous,
		},
	}
}
