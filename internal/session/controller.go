package session

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"nova/internal/metrics"
	"nova/internal/vad"
)

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdToggle
	cmdSubmit
	cmdCancel
)

func (k cmdKind) String() string {
	switch k {
	case cmdStart:
		return "start"
	case cmdStop:
		return "stop"
	case cmdToggle:
		return "toggle"
	case cmdSubmit:
		return "submit"
	case cmdCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

type command struct {
	kind cmdKind
	wav  []byte
}

type Option func(*Controller)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller owns the recording lifecycle. All transitions happen on the
// goroutine running Run; the exported methods only enqueue commands.
type Controller struct {
	capture   Capture
	transport Transport
	obs       Observer
	metrics   *metrics.Metrics

	cmds chan command

	// owned by the Run goroutine
	pending   [][]byte
	cancelled bool

	mu    sync.Mutex
	cfg   Config
	state State
}

func New(cfg Config, capture Capture, transport Transport, obs Observer, opts ...Option) *Controller {
	if obs == nil {
		obs = NopObserver{}
	}
	c := &Controller{
		capture:   capture,
		transport: transport,
		obs:       obs,
		cmds:      make(chan command, 8),
		cfg:       cfg.withDefaults(),
		state:     Idle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetConfig replaces the settings. A running session keeps the snapshot it
// started with; the change applies from the next Idle -> Listening. The
// re-arm decision of a continuous loop reads the current settings, so
// turning Continuous off ends the loop after the running session.
func (c *Controller) SetConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg.withDefaults()
}

// Start requests a new session. Ignored unless the controller is Idle.
func (c *Controller) Start() bool { return c.send(command{kind: cmdStart}) }

// Stop ends the current recording. Always honoured while Listening.
func (c *Controller) Stop() bool { return c.send(command{kind: cmdStop}) }

// Toggle starts when Idle and stops when Listening.
func (c *Controller) Toggle() bool { return c.send(command{kind: cmdToggle}) }

// Cancel abandons the running session and ends a continuous loop. While
// Listening the captured audio is discarded; while Processing the response
// is still surfaced but no new session is armed.
func (c *Controller) Cancel() bool { return c.send(command{kind: cmdCancel}) }

// Submit sends an already encoded WAV through the service without
// recording. Wake gating and auto-restart do not apply. It is refused
// unless the controller is Idle.
func (c *Controller) Submit(wav []byte) bool {
	if st := c.State(); st != Idle {
		log.Warn("Busy, refusing submitted audio", "state", st)
		return false
	}
	return c.send(command{kind: cmdSubmit, wav: wav})
}

func (c *Controller) send(cmd command) bool {
	select {
	case c.cmds <- cmd:
		return true
	default:
		log.Warn("Command queue full, dropping", "cmd", cmd.kind)
		return false
	}
}

// Run processes commands until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-c.cmds:
			switch cmd.kind {
			case cmdStart, cmdToggle:
				c.loop(ctx)
				c.flush(ctx)
			case cmdSubmit:
				c.submit(ctx, cmd.wav)
			default:
				log.Debug("Ignoring command while idle", "cmd", cmd.kind)
			}
		}
	}
}

// loop runs sessions back to back for as long as the re-arm policy asks
// for another one.
func (c *Controller) loop(ctx context.Context) {
	c.cancelled = false
	for ctx.Err() == nil {
		s, err := c.open(ctx)
		if err != nil {
			c.fail(err)
			return
		}
		if !c.listen(ctx, s) {
			return
		}
		if !c.process(ctx, s) {
			return
		}
		c.flush(ctx)
		if c.cancelled {
			return
		}
		log.Info("Re-arming", "session", s.ID)
	}
}

// hold queues a submission that raced in while a session was running.
func (c *Controller) hold(cmd command) {
	log.Debug("Holding submitted audio until idle", "bytes", len(cmd.wav))
	c.pending = append(c.pending, cmd.wav)
}

// flush sends the held submissions in arrival order.
func (c *Controller) flush(ctx context.Context) {
	for len(c.pending) > 0 && ctx.Err() == nil {
		wav := c.pending[0]
		c.pending = c.pending[1:]
		c.submit(ctx, wav)
	}
	c.pending = nil
}

func (c *Controller) open(ctx context.Context) (*Session, error) {
	cfg := c.Config()

	stream, err := c.capture.Open(ctx)
	if err != nil {
		return nil, captureError(err)
	}

	s := newSession(cfg, stream)
	c.metrics.SessionStarted()
	log.Info("Listening", "session", s.ID, "rate", s.rate, "continuous", cfg.Continuous, "wake", cfg.WakeGating)
	c.setState(Listening)
	return s, nil
}

// listen ingests blocks until the endpointer, a manual stop or the length
// cap ends the recording. It returns false when the session was abandoned.
func (c *Controller) listen(ctx context.Context, s *Session) bool {
	var deadline <-chan time.Time
	if s.cfg.MaxDuration > 0 {
		t := time.NewTimer(s.cfg.MaxDuration)
		defer t.Stop()
		deadline = t.C
	}

	blocks := s.stream.Blocks()
	reason := ""
	for reason == "" {
		select {
		case <-ctx.Done():
			c.release(s)
			c.setState(Idle)
			return false

		case block, ok := <-blocks:
			if !ok {
				c.release(s)
				c.fail(fmt.Errorf("%w: stream closed while listening", ErrCaptureUnavailable))
				c.setState(Idle)
				return false
			}
			if s.ingest(block) == vad.SuggestStop {
				reason = metrics.StopVAD
			}

		case cmd := <-c.cmds:
			switch cmd.kind {
			case cmdStop, cmdToggle:
				reason = metrics.StopManual
			case cmdCancel:
				c.release(s)
				c.metrics.Stopped(metrics.StopCancel, s.recorded())
				log.Info("Cancelled", "session", s.ID, "recorded", s.recorded())
				c.setState(Idle)
				return false
			case cmdSubmit:
				c.hold(cmd)
			default:
				log.Debug("Ignoring command while listening", "cmd", cmd.kind)
			}

		case <-deadline:
			reason = metrics.StopMaxDuration
		}
	}

	c.release(s)
	c.metrics.Stopped(reason, s.recorded())
	log.Info("Stopped listening", "session", s.ID, "reason", reason, "blocks", s.blocks, "recorded", s.recorded())
	return true
}

// process runs the encode and round trip and reports whether to re-arm.
func (c *Controller) process(ctx context.Context, s *Session) bool {
	c.setState(Processing)

	wav := s.encode()
	log.Debug("Encoded utterance", "session", s.ID, "bytes", len(wav))

	resp, err := c.roundTrip(ctx, s.cfg, wav)
	if err != nil {
		c.fail(err)
		c.setState(Idle)
		return false
	}

	passed := c.deliver(s.cfg, resp, true)
	c.setState(Idle)

	cfg := c.Config()
	if c.cancelled || !cfg.Continuous {
		return false
	}
	return passed || cfg.RearmOnWakeMiss
}

func (c *Controller) submit(ctx context.Context, wav []byte) {
	cfg := c.Config()
	c.setState(Processing)

	resp, err := c.roundTrip(ctx, cfg, wav)
	if err != nil {
		c.fail(err)
		c.setState(Idle)
		return
	}

	c.deliver(cfg, resp, false)
	c.setState(Idle)
}

// roundTrip waits for the transport, bounded by cfg.Timeout. Submissions
// arriving meanwhile are held, a cancel is recorded and anything else is
// dropped.
func (c *Controller) roundTrip(ctx context.Context, cfg Config, wav []byte) (Response, error) {
	tctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	start := time.Now()

	go func() {
		resp, err := c.transport.Send(tctx, wav)
		done <- result{resp, err}
	}()

	for {
		select {
		case r := <-done:
			took := time.Since(start)
			if r.err != nil {
				err := asTransportError(r.err)
				c.metrics.TransportError(Kind(err), took)
				return Response{}, err
			}
			c.metrics.Response(took)
			log.Debug("Response received", "took", took)
			return r.resp, nil

		case <-tctx.Done():
			err := fmt.Errorf("%w: %w", ErrTransport, tctx.Err())
			c.metrics.TransportError(Kind(err), time.Since(start))
			return Response{}, err

		case cmd := <-c.cmds:
			switch cmd.kind {
			case cmdSubmit:
				c.hold(cmd)
			case cmdCancel:
				log.Info("Cancel requested, not re-arming")
				c.cancelled = true
			default:
				log.Debug("Ignoring command while processing", "cmd", cmd.kind)
			}
		}
	}
}

// deliver surfaces resp and reports whether the wake gate passed.
func (c *Controller) deliver(cfg Config, resp Response, gate bool) bool {
	log.Info("Transcribed", "text", resp.Transcription)
	c.obs.OnTranscription(resp.Transcription)

	if gate && cfg.WakeGating && !HasWakePhrase(resp.Transcription, cfg.WakePhrase) {
		log.Info("Wake phrase absent, discarding response", "phrase", cfg.WakePhrase)
		c.metrics.WakeMiss()
		return false
	}

	c.obs.OnResponse(resp.ResponseText, resp.AudioReply)
	return true
}

func (c *Controller) release(s *Session) {
	if err := s.stream.Stop(); err != nil {
		log.Warn("Failed to stop capture", "session", s.ID, "err", err)
	}
}

func (c *Controller) fail(err error) {
	log.Error("Session failed", "kind", Kind(err), "err", err)
	c.obs.OnError(err)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	log.Debug("State", "state", s)
	c.obs.OnStateChange(s)
}
