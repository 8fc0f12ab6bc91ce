package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	log "log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/spf13/pflag"

	"nova/internal/audio"
	"nova/internal/config"
	"nova/internal/control"
	"nova/internal/ipc"
	"nova/internal/metrics"
	"nova/internal/notify"
	"nova/internal/session"
	"nova/internal/tts"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, cli.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevelMap[cfg.Log.Level],
		TimeFormat: time.TimeOnly,
	})))

	log.Info("Booting up", "transport", cfg.Transport.Kind, "continuous", cfg.Session.Continuous, "wake", cfg.Session.WakeGating)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("Daemon failed", "err", err)
		os.Exit(1)
	}
	log.Info("Bye")
}

func run(ctx context.Context, cfg *config.Config) error {
	svc, err := newService(ctx, cfg)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer svc.close()

	log.Debug("Loaded transport")

	rec := audio.NewRecorder(cfg.Audio.Frames)
	if err := rec.Init(); err != nil {
		return fmt.Errorf("init audio: %w", err)
	}
	defer rec.Close()

	log.Debug("Loaded recorder")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg); err != nil {
				log.Error("Metrics server stopped", "err", err)
			}
		}()
	}

	obs := session.Observers{console{}}
	if cfg.Feedback.Cue != "" || cfg.Feedback.Desktop {
		obs = append(obs, notify.NewCues(ctx, cfg.Feedback.Cue, cfg.Feedback.Desktop))
	}
	if cfg.Feedback.Speak {
		obs = append(obs, tts.NewVoice(ctx, cfg.Feedback.Voice))
	}
	if cfg.Audio.Duck {
		d := audio.NewDucker([]string{"nova", "espeak-ng"}, 5)
		obs = append(obs, audio.NewStateDucker(ctx, d, audio.DuckLevels(cfg.Audio.DuckFactor), cfg.Audio.DuckFade))
	}

	ctl := session.New(cfg.ToSession(), rec, svc.transport, obs, session.WithMetrics(m))

	srv, err := ipc.Listen(cfg.Socket)
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	go func() {
		handler := control.Handler(ctx, ctl, control.Options{
			TargetRate: cfg.Session.TargetRate,
			Timeout:    cfg.Session.Timeout,
			Text:       svc.text,
			Observer:   obs,
		})
		if err := srv.Serve(ctx, handler); err != nil {
			log.Error("Control server stopped", "err", err)
		}
	}()

	log.Info("Boot up - successful", "socket", srv.Addr())

	if err := ctl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// console logs what the controller surfaces.
type console struct{ session.NopObserver }

func (console) OnResponse(text string, audio []byte) {
	log.Info("──────── NOVA ────────")
	log.Info("response", "text", text, "audio", len(audio))
	log.Info("──────────────────────")
}

func (console) OnStateChange(s session.State) {
	log.Info("State", "state", s)
}
