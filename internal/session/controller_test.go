package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"nova/internal/metrics"
	"nova/pkg/wavenc"
)

type fakeStream struct {
	rate    int
	blocks  chan []float32
	stopped atomic.Bool
}

func (s *fakeStream) Blocks() <-chan []float32 { return s.blocks }
func (s *fakeStream) SampleRate() int          { return s.rate }
func (s *fakeStream) Stop() error {
	s.stopped.Store(true)
	return nil
}

func (s *fakeStream) feed(level float32, size, n int) {
	for i := 0; i < n; i++ {
		b := make([]float32, size)
		for j := range b {
			b[j] = level
		}
		s.blocks <- b
	}
}

type fakeCapture struct {
	rate int
	err  error

	mu      sync.Mutex
	streams []*fakeStream
}

func (f *fakeCapture) Open(ctx context.Context) (Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeStream{rate: f.rate, blocks: make(chan []float32, 256)}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeCapture) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeCapture) stream(i int) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[i]
}

type fakeTransport struct {
	resp  Response
	err   error
	block bool
	// release, when set, holds Send until it is closed.
	release chan struct{}

	mu    sync.Mutex
	calls [][]byte
}

func (f *fakeTransport) Send(ctx context.Context, wav []byte) (Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, wav)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return Response{}, ctx.Err()
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	return f.resp, f.err
}

func (f *fakeTransport) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.calls...)
}

type recorder struct {
	mu          sync.Mutex
	states      []State
	transcripts []string
	responses   []string
	errs        []error
}

func (r *recorder) OnTranscription(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts = append(r.transcripts, text)
}

func (r *recorder) OnResponse(text string, _ []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, text)
}

func (r *recorder) OnStateChange(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		states:      append([]State(nil), r.states...),
		transcripts: append([]string(nil), r.transcripts...),
		responses:   append([]string(nil), r.responses...),
		errs:        append([]error(nil), r.errs...),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type harness struct {
	ctl  *Controller
	mic  *fakeCapture
	tr   *fakeTransport
	obs  *recorder
	stop context.CancelFunc
	done chan error
}

func newHarness(t *testing.T, cfg Config, mic *fakeCapture, tr *fakeTransport, opts ...Option) *harness {
	t.Helper()
	obs := &recorder{}
	ctl := New(cfg, mic, tr, obs, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{ctl: ctl, mic: mic, tr: tr, obs: obs, stop: cancel, done: make(chan error, 1)}
	go func() { h.done <- ctl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) waitStates(t *testing.T, want ...State) {
	t.Helper()
	waitFor(t, "states "+statesString(want), func() bool {
		return equalStates(h.obs.snapshot().states, want)
	})
}

func statesString(s []State) string {
	out := ""
	for i, x := range s {
		if i > 0 {
			out += ","
		}
		out += x.String()
	}
	return out
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{Idle, "Idle"},
		{Listening, "Listening"},
		{Processing, "Processing"},
		{State(7), "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.TargetRate != 16000 {
		t.Errorf("Expected target rate 16000, got %d", cfg.TargetRate)
	}
	if cfg.WakePhrase != "hey nova" {
		t.Errorf("Expected wake phrase %q, got %q", "hey nova", cfg.WakePhrase)
	}
	if cfg.Continuous || cfg.WakeGating || cfg.RearmOnWakeMiss {
		t.Error("Expected policy flags off by default")
	}
}

func TestAutoStopEncodesAndSurfaces(t *testing.T) {
	mic := &fakeCapture{rate: 16000}
	tr := &fakeTransport{resp: Response{Transcription: "turn on the lights", ResponseText: "done"}}
	h := newHarness(t, DefaultConfig(), mic, tr)

	h.ctl.Start()
	waitFor(t, "capture open", func() bool { return mic.opened() == 1 })

	s := mic.stream(0)
	s.feed(0.05, 4096, 1)
	s.feed(0, 4096, 5)

	h.waitStates(t, Listening, Processing, Idle)

	if !s.stopped.Load() {
		t.Error("Expected capture to be released")
	}

	sent := tr.sent()
	if len(sent) != 1 {
		t.Fatalf("Expected 1 transport call, got %d", len(sent))
	}
	if got := wavenc.DataSize(sent[0]); got != 6*4096*2 {
		t.Errorf("Expected data size %d, got %d", 6*4096*2, got)
	}
	if got := wavenc.SampleRate(sent[0]); got != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", got)
	}

	snap := h.obs.snapshot()
	if len(snap.transcripts) != 1 || snap.transcripts[0] != "turn on the lights" {
		t.Errorf("Unexpected transcripts %v", snap.transcripts)
	}
	if len(snap.responses) != 1 || snap.responses[0] != "done" {
		t.Errorf("Unexpected responses %v", snap.responses)
	}
	if h.ctl.State() != Idle {
		t.Errorf("Expected Idle, got %s", h.ctl.State())
	}
}

func TestResamplesToTargetRate(t *testing.T) {
	mic := &fakeCapture{rate: 48000}
	tr := &fakeTransport{resp: Response{Transcription: "hi"}}
	h := newHarness(t, DefaultConfig(), mic, tr)

	h.ctl.Start()
	waitFor(t, "capture open", func() bool { return mic.opened() == 1 })

	s := mic.stream(0)
	s.feed(0.5, 4800, 1)
	s.feed(0, 4800, 5)
	h.waitStates(t, Listening, Processing, Idle)

	sent := tr.sent()
	if len(sent) != 1 {
		t.Fatalf("Expected 1 transport call, got %d", len(sent))
	}
	if got := wavenc.SampleRate(sent[0]); got != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", got)
	}
	if got := wavenc.DataSize(sent[0]); got != 6*1600*2 {
		t.Errorf("Expected data size %d, got %d", 6*1600*2, got)
	}
}

func TestManualStopBeforeSpeech(t *testing.T) {
	mic := &fakeCapture{rate: 16000}
	tr := &fakeTransport{resp: Response{Transcription: "x"}}
	h := newHarness(t, DefaultConfig(), mic, tr)

	h.ctl.Toggle()
	waitFor(t, "listening", func() bool { return h.ctl.State() == Listening })

	h.ctl.Toggle()
	h.waitStates(t, Listening, Processing, Idle)

	if len(tr.sent()) != 1 {
		t.Errorf("Expected manual stop to dispatch audio, got %d calls", len(tr.sent()))
	}
}

func TestStartWhileListeningIsNoop(t *testing.T) {
	mic := &fakeCapture{rate: 16000}
	tr := &fakeTransport{resp: Response{Transcription: "x"}}
	h := newHarness(t, DefaultConfig(), mic, tr)

	h.ctl.Start()
	waitFor(t, "listening", func() bool { return h.ctl.State() == Listening })
	h.ctl.Start()
	h.ctl.Start()
	h.ctl.Stop()

	h.waitStates(t, Listening, Processing, Idle)
	time.Sleep(20 * time.Millisecond)

	if mic.opened() != 1 {
		t.Errorf("Expected a single capture session, got %d", mic.opened())
	}
}

func TestWakeGating(t *testing.T) {
	tests := []struct {
		name         string
		transcript   string
		wantResponse bool
	}{
		{"phrase present", "Hey Nova turn on the lights", true},
		{"phrase absent", "turn on the lights", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.WakeGating = true
			cfg.WakePhrase = "hey nova"

			mic := &fakeCapture{rate: 16000}
			tr := &fakeTransport{resp: Response{Transcription: tt.transcript, ResponseText: "ok"}}
			h := newHarness(t, cfg, mic, tr)

			h.ctl.Start()
			waitFor(t, "listening", func() bool { return mic.opened() == 1 })
			h.ctl.Stop()
			h.waitStates(t, Listening, Processing, Idle)

			snap := h.obs.snapshot()
			if len(snap.transcripts) != 1 {
				t.Errorf("Expected transcription surfaced regardless of gate, got %v", snap.transcripts)
			}
			if got := len(snap.responses) == 1; got != tt.wantResponse {
				t.Errorf("Expected response surfaced=%v, got %v", tt.wantResponse, snap.responses)
			}
		})
	}
}

func TestContinuousRearms(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Continuous = true

	mic := &fakeCapture{rate: 16000}
	tr := &fakeTransport{resp: Response{Transcription: "what time is it", ResponseText: "noon"}}
	h := newHarness(t, cfg, mic, tr)

	h.ctl.Start()
	waitFor(t, "first session", func() bool { return mic.opened() == 1 })

	// continuous mode never auto-stops
	mic.stream(0).feed(0.05, 4096, 1)
	mic.stream(0).feed(0, 4096, 10)
	time.Sleep(20 * time.Millisecond)
	if h.ctl.State() != Listening {
		t.Fatalf("Expected to keep listening in continuous mode, got %s", h.ctl.State())
	}

	h.ctl.Stop()
	waitFor(t, "second session", func() bool { return mic.opened() == 2 })
	h.waitStates(t, Listening, Processing, Idle, Listening)
}

func TestContinuousGatedRearmsOnlyAfterMatch(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		rearmMiss  bool
		wantOpened int
	}{
		{"match", "hey nova lights", false, 2},
		{"miss", "lights", false, 1},
		{"miss with rearm", "lights", true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Continuous = true
			cfg.WakeGating = true
			cfg.RearmOnWakeMiss = tt.rearmMiss

			mic := &fakeCapture{rate: 16000}
			tr := &fakeTransport{resp: Response{Transcription: tt.transcript, ResponseText: "ok"}}
			h := newHarness(t, cfg, mic, tr)

			h.ctl.Start()
			waitFor(t, "first session", func() bool { return mic.opened() == 1 })
			h.ctl.Stop()

			waitFor(t, "round trip", func() bool { return len(tr.sent()) == 1 })
			waitFor(t, "settled", func() bool {
				st := h.obs.snapshot().states
				return len(st) >= 3 && st[2] == Idle
			})
			time.Sleep(30 * time.Millisecond)

			if got := mic.opened(); got != tt.wantOpened {
				t.Errorf("Expected %d capture sessions, got %d", tt.wantOpened, got)
			}
		})
	}
}

func TestTransportErrorSuppressesRearm(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Continuous = true

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	mic := &fakeCapture{rate: 16000}
	tr := &fakeTransport{err: errors.New("connection refused")}
	h := newHarness(t, cfg, mic, tr, WithMetrics(m))

	h.ctl.Start()
	waitFor(t, "listening", func() bool { return mic.opened() == 1 })
	h.ctl.Stop()

	h.waitStates(t, Listening, Processing, Idle)
	time.Sleep(30 * time.Millisecond)

	if mic.opened() != 1 {
		t.Errorf("Expected no auto-restart after error, got %d sessions", mic.opened())
	}
	snap := h.obs.snapshot()
	if len(snap.errs) != 1 || !errors.Is(snap.errs[0], ErrTransport) {
		t.Fatalf("Expected one transport error, got %v", snap.errs)
	}
	if len(snap.responses) != 0 || len(snap.transcripts) != 0 {
		t.Error("Expected nothing surfaced on error")
	}
	if got := testutil.ToFloat64(m.TransportErrors.WithLabelValues("transport")); got != 1 {
		t.Errorf("Expected transport error metric 1, got %v", got)
	}
}

func TestMalformedResponseKeepsKind(t *testing.T) {
	mic := &fakeCapture{rate: 16000}
	tr := &fakeTransport{err: ErrMalformedResponse}
	h := newHarness(t, DefaultConfig(), mic, tr)

	h.ctl.Start()
	waitFor(t, "listening", func() bool { return mic.opened() == 1 })
	h.ctl.Stop()
	h.waitStates(t, Listening, Processing, Idle)

	snap := h.obs.snapshot()
	if len(snap.errs) != 1 || Kind(snap.errs[0]) != "malformed_response" {
		t.Fatalf("Expected malformed response error, got %v", snap.errs)
	}
}

func TestTransportTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond

	mic := &fakeCapture{rate: 16000}
	tr := &fakeTransport{block: true}
	h := newHarness(t, cfg, mic, tr)

	h.ctl.Start()
	waitFor(t, "listening", func() bool { return mic.opened() == 1 })
	h.ctl.Stop()
	h.waitStates(t, Listening, Processing, Idle)

	snap := h.obs.snapshot()
	if len(snap.errs) != 1 || !errors.Is(snap.errs[0], ErrTransport) {
		t.Fatalf("Expected timeout as transport error, got %v", snap.errs)
	}
	if !errors.Is(snap.errs[0], context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", snap.errs[0])
	}
}

func TestCaptureUnavailable(t *testing.T) {
	mic := &fakeCapture{err: errors.New("no input device")}
	tr := &fakeTransport{}
	h := newHarness(t, DefaultConfig(), mic, tr)

	h.ctl.Start()
	waitFor(t, "error", func() bool { return len(h.obs.snapshot().errs) == 1 })

	snap := h.obs.snapshot()
	if !errors.Is(snap.errs[0], ErrCaptureUnavailable) {
		t.Errorf("Expected capture unavailable, got %v", snap.errs[0])
	}
	if len(snap.states) != 0 {
		t.Errorf("Expected to stay Idle, got transitions %v", snap.states)
	}
	if h.ctl.State() != Idle {
		t.Errorf("Expected Idle, got %s", h.ctl.State())
	}
}

func TestStreamClosedWhileListening(t *testing.T) {
	mic := &fakeCapture{rate: 16000}
	tr := &fakeTransport{}
	h := newHarness(t, DefaultConfig(), mic, tr)

	h.ctl.Start()
	waitFor(t, "listening", func() bool { return mic.opened() == 1 })
	close(mic.stream(0).blocks)

	h.waitStates(t, Listening, Idle)
	if len(tr.sent()) != 0 {
		t.Error("Expected abandoned session not to dispatch audio")
	}
	snap := h.obs.snapshot()
	if len(snap.errs) != 1 || !errors.Is(snap.errs[0], ErrCaptureUnavailable) {
		t.Errorf("Expected capture error, got %v", snap.errs)
	}
}

func TestMaxDurationStops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDuration = 20 * time.Millisecond

	mic := &fakeCapture{rate: 16000}
	tr := &fakeTransport{resp: Response{Transcription: "long"}}
	h := newHarness(t, cfg, mic, tr)

	h.ctl.Start()
	h.waitStates(t, Listening, Processing, Idle)
}

func TestSubmitSkipsGating(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WakeGating = true
	cfg.Continuous = true

	mic := &fakeCapture{rate: 16000}
	tr := &fakeTransport{resp: Response{Transcription: "set a timer", ResponseText: "timer set"}}
	h := newHarness(t, cfg, mic, tr)

	wav := wavenc.Encode([]int16{1, 2, 3}, 16000)
	h.ctl.Submit(wav)
	h.waitStates(t, Processing, Idle)

	snap := h.obs.snapshot()
	if len(snap.responses) != 1 || snap.responses[0] != "timer set" {
		t.Errorf("Expected submitted audio response, got %v", snap.responses)
	}
	if mic.opened() != 0 {
		t.Error("Expected submit not to open capture")
	}
	if sent := tr.sent(); len(sent) != 1 || len(sent[0]) != len(wav) {
		t.Error("Expected submitted wav to be sent unchanged")
	}
}

func TestSetConfigAppliesToNextSession(t *testing.T) {
	mic := &fakeCapture{rate: 16000}
	tr := &fakeTransport{resp: Response{Transcription: "x"}}
	h := newHarness(t, DefaultConfig(), mic, tr)

	h.ctl.Start()
	waitFor(t, "listening", func() bool { return mic.opened() == 1 })

	cfg := DefaultConfig()
	cfg.TargetRate = 8000
	h.ctl.SetConfig(cfg)

	h.ctl.Stop()
	h.waitStates(t, Listening, Processing, Idle)
	if got := wavenc.SampleRate(tr.sent()[0]); got != 16000 {
		t.Errorf("Expected running session to keep 16000, got %d", got)
	}

	h.ctl.Start()
	waitFor(t, "second session", func() bool { return mic.opened() == 2 })
	h.ctl.Stop()
	waitFor(t, "second round trip", func() bool { return len(tr.sent()) == 2 })
	if got := wavenc.SampleRate(tr.sent()[1]); got != 8000 {
		t.Errorf("Expected next session at 8000, got %d", got)
	}
}

func TestHasWakePhrase(t *testing.T) {
	tests := []struct {
		text, phrase string
		want         bool
	}{
		{"hey nova turn on the lights", "hey nova", true},
		{"HEY   Nova, lights", "hey nova", true},
		{"please, hey nova", "Hey Nova", true},
		{"turn on the lights", "hey nova", false},
		{"", "hey nova", false},
		{"anything", "", true},
	}
	for _, tt := range tests {
		if got := HasWakePhrase(tt.text, tt.phrase); got != tt.want {
			t.Errorf("HasWakePhrase(%q, %q): expected %v, got %v", tt.text, tt.phrase, tt.want, got)
		}
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{captureError(errors.New("denied")), "capture_unavailable"},
		{asTransportError(errors.New("boom")), "transport"},
		{asTransportError(ErrMalformedResponse), "malformed_response"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v): expected %q, got %q", tt.err, tt.want, got)
		}
	}
}

func TestContinuousLoopEnds(t *testing.T) {
	tests := []struct {
		name string
		end  func(c *Controller)
	}{
		{"cancel", func(c *Controller) { c.Cancel() }},
		{"continuous turned off", func(c *Controller) {
			cfg, _ := c.Config().Set(KeyContinuous, "false")
			c.SetConfig(cfg)
			c.Stop()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Continuous = true

			mic := &fakeCapture{rate: 16000}
			tr := &fakeTransport{resp: Response{Transcription: "x", ResponseText: "ok"}}
			h := newHarness(t, cfg, mic, tr)

			h.ctl.Start()
			waitFor(t, "first session", func() bool { return mic.opened() == 1 })
			h.ctl.Stop()
			waitFor(t, "second session", func() bool { return mic.opened() == 2 && h.ctl.State() == Listening })

			tt.end(h.ctl)
			waitFor(t, "idle", func() bool { return h.ctl.State() == Idle })
			time.Sleep(30 * time.Millisecond)

			if got := mic.opened(); got != 2 {
				t.Errorf("Expected the loop to end after 2 sessions, got %d", got)
			}
			if h.ctl.State() != Idle {
				t.Errorf("Expected Idle, got %s", h.ctl.State())
			}
			if !mic.stream(1).stopped.Load() {
				t.Error("Expected capture to be released")
			}
		})
	}
}

func TestCancelDiscardsAudio(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	mic := &fakeCapture{rate: 16000}
	tr := &fakeTransport{resp: Response{Transcription: "x"}}
	h := newHarness(t, DefaultConfig(), mic, tr, WithMetrics(m))

	h.ctl.Start()
	waitFor(t, "listening", func() bool { return h.ctl.State() == Listening })
	h.ctl.Cancel()
	h.waitStates(t, Listening, Idle)

	if len(tr.sent()) != 0 {
		t.Errorf("Expected cancelled audio not to be sent, got %d calls", len(tr.sent()))
	}
	if got := testutil.ToFloat64(m.Stops.WithLabelValues(metrics.StopCancel)); got != 1 {
		t.Errorf("Expected cancel stop metric 1, got %v", got)
	}
}

func TestCancelWhileProcessingStopsRearm(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Continuous = true

	mic := &fakeCapture{rate: 16000}
	tr := &fakeTransport{resp: Response{Transcription: "x", ResponseText: "ok"}, release: make(chan struct{})}
	h := newHarness(t, cfg, mic, tr)

	h.ctl.Start()
	waitFor(t, "listening", func() bool { return mic.opened() == 1 })
	h.ctl.Stop()
	waitFor(t, "processing", func() bool { return h.ctl.State() == Processing })

	h.ctl.Cancel()
	time.Sleep(20 * time.Millisecond)
	close(tr.release)

	h.waitStates(t, Listening, Processing, Idle)
	if got := h.obs.snapshot().responses; len(got) != 1 {
		t.Errorf("Expected the in-flight response to be surfaced, got %v", got)
	}
	time.Sleep(30 * time.Millisecond)
	if mic.opened() != 1 {
		t.Errorf("Expected no re-arm after cancel, got %d sessions", mic.opened())
	}
}

func TestSubmitRefusedUnlessIdle(t *testing.T) {
	mic := &fakeCapture{rate: 16000}
	tr := &fakeTransport{resp: Response{Transcription: "x"}}
	h := newHarness(t, DefaultConfig(), mic, tr)

	h.ctl.Start()
	waitFor(t, "listening", func() bool { return h.ctl.State() == Listening })

	if h.ctl.Submit(wavenc.Encode([]int16{1}, 16000)) {
		t.Error("Expected Submit to be refused while listening")
	}
	h.ctl.Stop()
	h.waitStates(t, Listening, Processing, Idle)
	time.Sleep(20 * time.Millisecond)

	if got := len(tr.sent()); got != 1 {
		t.Errorf("Expected only the recording to be sent, got %d calls", got)
	}
	if !h.ctl.Submit(wavenc.Encode([]int16{1}, 16000)) {
		t.Error("Expected Submit to be accepted once idle")
	}
	waitFor(t, "submitted", func() bool { return len(tr.sent()) == 2 })
}

func TestSubmitRacingSessionIsHeld(t *testing.T) {
	mic := &fakeCapture{rate: 16000}
	tr := &fakeTransport{resp: Response{Transcription: "x", ResponseText: "ok"}}
	h := newHarness(t, DefaultConfig(), mic, tr)

	h.ctl.Start()
	waitFor(t, "listening", func() bool { return h.ctl.State() == Listening })

	// accepted just before the session started
	wav := wavenc.Encode([]int16{1, 2}, 16000)
	h.ctl.send(command{kind: cmdSubmit, wav: wav})
	h.ctl.Stop()

	waitFor(t, "both sent", func() bool { return len(tr.sent()) == 2 })
	sent := tr.sent()
	if len(sent[1]) != len(wav) {
		t.Errorf("Expected the held submission second, got %d bytes", len(sent[1]))
	}
	waitFor(t, "idle", func() bool { return h.ctl.State() == Idle })
	if got := len(h.obs.snapshot().responses); got != 2 {
		t.Errorf("Expected 2 responses, got %d", got)
	}
}

func TestVADZeroValuesKept(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VAD.Threshold = 0
	cfg.VAD.SilenceBlocks = 0
	c := New(cfg, &fakeCapture{}, &fakeTransport{}, nil)

	got := c.Config().VAD
	if got.Threshold != 0 || got.SilenceBlocks != 0 {
		t.Errorf("Expected zero VAD settings kept, got %+v", got)
	}
}

func TestVADZeroSilenceStopsOnFirstQuietBlock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VAD.SilenceBlocks = 0

	mic := &fakeCapture{rate: 16000}
	tr := &fakeTransport{resp: Response{Transcription: "x"}}
	h := newHarness(t, cfg, mic, tr)

	h.ctl.Start()
	waitFor(t, "listening", func() bool { return mic.opened() == 1 })
	mic.stream(0).feed(0.05, 1024, 1)
	mic.stream(0).feed(0, 1024, 1)
	h.waitStates(t, Listening, Processing, Idle)

	if got := wavenc.DataSize(tr.sent()[0]); got != 2*1024*2 {
		t.Errorf("Expected data size %d, got %d", 2*1024*2, got)
	}
}

func TestConfigSet(t *testing.T) {
	tests := []struct {
		key, value string
		check      func(Config) bool
		wantErr    bool
	}{
		{KeyContinuous, "true", func(c Config) bool { return c.Continuous }, false},
		{KeyWake, "on", nil, true},
		{KeyWake, "1", func(c Config) bool { return c.WakeGating }, false},
		{KeyWakePhrase, "  ok computer ", func(c Config) bool { return c.WakePhrase == "ok computer" }, false},
		{KeyWakePhrase, " ", nil, true},
		{KeyRearmOnMiss, "true", func(c Config) bool { return c.RearmOnWakeMiss }, false},
		{"volume", "11", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			got, err := DefaultConfig().Set(tt.key, tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !tt.check(got) {
				t.Errorf("Setting not applied: %+v", got)
			}
		})
	}
	if _, err := DefaultConfig().Set("volume", "1"); !errors.Is(err, ErrUnknownSetting) {
		t.Errorf("Expected ErrUnknownSetting, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	cfg.VAD.SilenceBlocks = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Expected negative silence blocks to be rejected")
	}
}
