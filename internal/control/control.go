// Package control maps control socket messages onto the session controller.
package control

import (
	"context"
	log "log/slog"
	"strconv"
	"time"

	"nova/internal/ipc"
	"nova/internal/session"
	"nova/pkg/audioconv"
	"nova/pkg/wavenc"
)

// Controller is the part of *session.Controller the socket drives.
type Controller interface {
	State() session.State
	Config() session.Config
	SetConfig(session.Config)
	Start() bool
	Stop() bool
	Toggle() bool
	Cancel() bool
	Submit(wav []byte) bool
}

// TextFunc sends an already transcribed command to the service.
type TextFunc func(ctx context.Context, text string) (session.Response, error)

type Options struct {
	// TargetRate is the rate uploaded files are converted to.
	TargetRate int
	// Timeout bounds a text round trip.
	Timeout time.Duration
	// Text is nil when the transport has no text endpoint.
	Text TextFunc
	// Observer receives the outcome of text commands.
	Observer session.Observer
}

// Handler returns the socket handler for ctl.
func Handler(ctx context.Context, ctl Controller, opt Options) ipc.Handler {
	if opt.Observer == nil {
		opt.Observer = session.NopObserver{}
	}
	if opt.Timeout <= 0 {
		opt.Timeout = session.DefaultConfig().Timeout
	}
	h := &handler{ctx: ctx, ctl: ctl, opt: opt}
	return h.handle
}

type handler struct {
	ctx context.Context
	ctl Controller
	opt Options
}

func (h *handler) handle(msg ipc.ControlMessage) ipc.Reply {
	switch msg.Cmd {
	case ipc.CmdToggle:
		return h.queued(h.ctl.Toggle())
	case ipc.CmdStart:
		return h.queued(h.ctl.Start())
	case ipc.CmdStop:
		return h.queued(h.ctl.Stop())
	case ipc.CmdCancel:
		return h.queued(h.ctl.Cancel())
	case ipc.CmdStatus:
		return h.status()
	case ipc.CmdSet:
		return h.set(msg.Arg, msg.Value)
	case ipc.CmdFile:
		return h.file(msg.Arg)
	case ipc.CmdText:
		return h.text(msg.Arg)
	default:
		log.Warn("Unknown command", "cmd", msg.Cmd)
		return ipc.Reply{Error: "unknown command " + msg.Cmd}
	}
}

func (h *handler) queued(ok bool) ipc.Reply {
	if !ok {
		return ipc.Reply{Error: "busy", State: h.ctl.State().String()}
	}
	return ipc.Reply{OK: true, State: h.ctl.State().String()}
}

func (h *handler) status() ipc.Reply {
	cfg := h.ctl.Config()
	return ipc.Reply{
		OK:    true,
		State: h.ctl.State().String(),
		Settings: map[string]string{
			session.KeyContinuous:  strconv.FormatBool(cfg.Continuous),
			session.KeyWake:        strconv.FormatBool(cfg.WakeGating),
			session.KeyWakePhrase:  cfg.WakePhrase,
			session.KeyRearmOnMiss: strconv.FormatBool(cfg.RearmOnWakeMiss),
		},
	}
}

func (h *handler) set(key, value string) ipc.Reply {
	cfg, err := h.ctl.Config().Set(key, value)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return ipc.Reply{Error: err.Error()}
	}
	h.ctl.SetConfig(cfg)
	log.Info("Setting changed", "key", key, "value", value)
	return h.status()
}

// file uploads the whole file; the recording length cap does not apply.
func (h *handler) file(path string) ipc.Reply {
	if st := h.ctl.State(); st != session.Idle {
		return ipc.Reply{Error: "busy", State: st.String()}
	}
	pcm, err := audioconv.ConvertFileToPCM(h.ctx, path, h.opt.TargetRate, audioconv.Options{})
	if err != nil {
		return ipc.Reply{Error: err.Error()}
	}
	log.Info("Submitting file", "path", path, "samples", len(pcm))
	return h.queued(h.ctl.Submit(wavenc.Encode(audioconv.Quantize(pcm), h.opt.TargetRate)))
}

// text surfaces the typed words as the transcription, then the reply.
func (h *handler) text(words string) ipc.Reply {
	if h.opt.Text == nil {
		return ipc.Reply{Error: "text commands need the http transport"}
	}
	ctx, cancel := context.WithTimeout(h.ctx, h.opt.Timeout)
	defer cancel()

	h.opt.Observer.OnTranscription(words)
	resp, err := h.opt.Text(ctx, words)
	if err != nil {
		h.opt.Observer.OnError(err)
		return ipc.Reply{Error: err.Error()}
	}
	h.opt.Observer.OnResponse(resp.ResponseText, resp.AudioReply)
	return ipc.Reply{OK: true, Text: resp.ResponseText}
}
