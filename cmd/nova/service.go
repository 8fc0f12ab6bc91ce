package main

import (
	"context"
	"fmt"
	log "log/slog"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"nova/internal/config"
	"nova/internal/nlu"
	"nova/internal/proxy"
	"nova/internal/session"
	"nova/internal/transport"
	"nova/pkg/stt"
)

// service is the transport selected by config plus what it can do beyond
// session.Transport.
type service struct {
	transport session.Transport
	text      func(ctx context.Context, text string) (session.Response, error)
	closers   []func() error
}

func (s *service) close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			log.Warn("Close failed", "err", err)
		}
	}
}

func newService(ctx context.Context, cfg *config.Config) (*service, error) {
	tc := cfg.Transport

	httpClient, err := proxy.NewClient(tc.Proxy, 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial socks proxy %s: %w", tc.Proxy, err)
	}
	if tc.Proxy != "" {
		log.Debug("Loaded proxy", "proxy", tc.Proxy)
	}

	switch tc.Kind {
	case config.TransportHTTP:
		h := transport.NewHTTP(tc.URL, httpClient)
		if tc.Language != "" {
			lctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := h.SetLanguage(lctx, tc.Language, tc.Language)
			cancel()
			if err != nil {
				log.Warn("Failed to set backend language", "lang", tc.Language, "err", err)
			}
		}
		return &service{transport: h, text: h.Command}, nil

	case config.TransportBus:
		b, err := transport.NewBus(tc.URL, tc.Shard, tc.Peer)
		if err != nil {
			return nil, err
		}
		return &service{transport: b, closers: []func() error{b.Close}}, nil

	case config.TransportOpenAI:
		client := newOpenAI(tc.APIKey, httpClient)
		return &service{transport: transport.NewOpenAI(client, transport.OpenAIOptions{
			Language:  tc.Language,
			ChatModel: tc.ChatModel,
		})}, nil

	case config.TransportLocal:
		opt := stt.Options{Language: tc.Language}
		if cfg.Session.WakeGating {
			opt.Prompt = cfg.Session.WakePhrase
		}
		w, err := stt.NewRecognizer(tc.Model, opt)
		if err != nil {
			return nil, fmt.Errorf("init whisper: %w", err)
		}
		log.Debug("Loaded whisper", "model", tc.Model)

		recognize := func(ctx context.Context, pcm []float32) (string, error) {
			u, err := w.Recognize(ctx, pcm)
			if err != nil {
				return "", err
			}
			log.Debug("Recognized", "lang", u.Language, "segments", len(u.Segments))
			return u.Text, nil
		}

		var respond transport.Responder
		if tc.ChatModel != "" {
			client := newOpenAI(tc.APIKey, httpClient)
			respond = func(ctx context.Context, text string) (string, error) {
				res, err := nlu.Analyze(ctx, client, tc.ChatModel, text)
				return res.Reply, err
			}
		}
		return &service{
			transport: transport.NewLocal(recognize, respond),
			closers:   []func() error{w.Close},
		}, nil
	}

	return nil, fmt.Errorf("unknown transport %q", tc.Kind)
}

func newOpenAI(apiKey string, hc *http.Client) openai.Client {
	return openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(hc),
	)
}
