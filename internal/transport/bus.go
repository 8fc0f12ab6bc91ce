package transport

import (
	"context"
	"encoding/json"
	"fmt"
	log "log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nova/internal/session"
)

// Message kinds exchanged on the bus.
const (
	KindAudio = "audio"
	KindReply = "reply"
	KindError = "error"
)

type BusMessage struct {
	From          string  `json:"from"`
	To            string  `json:"to"`
	Kind          string  `json:"kind"`
	Content       string  `json:"content"`
	Transcription *string `json:"transcription,omitempty"`
	Audio         []byte  `json:"audio,omitempty"`
}

// Bus sends utterances to a speech service over a websocket hub and waits
// for the reply addressed back to this shard. One request is in flight at
// a time.
type Bus struct {
	url   string
	shard string
	to    string

	attempts int
	retry    time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewBus(wsURL, shard, to string) (*Bus, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	if shard == "" {
		shard = "nova"
	}
	if to == "" {
		to = "stt"
	}
	return &Bus{url: u.String(), shard: shard, to: to, attempts: 3, retry: time.Second}, nil
}

func (b *Bus) dial(ctx context.Context) error {
	if b.conn != nil {
		return nil
	}

	var err error
	for i := 0; i < b.attempts; i++ {
		if i > 0 {
			log.Warn("Bus dial failed, retrying", "url", b.url, "attempt", i, "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.retry * time.Duration(i)):
			}
		}

		var conn *websocket.Conn
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, b.url, nil)
		if err == nil {
			log.Info("Connected to bus", "url", b.url)
			b.conn = conn
			return nil
		}
	}
	return err
}

func isClosed(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure)
}

// drop closes a broken connection; the next Send redials.
func (b *Bus) drop() {
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
}

func (b *Bus) Send(ctx context.Context, wav []byte) (session.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.dial(ctx); err != nil {
		return session.Response{}, fmt.Errorf("%w: dial bus: %w", session.ErrTransport, err)
	}
	conn := b.conn

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	out := BusMessage{From: b.shard, To: b.to, Kind: KindAudio, Audio: wav}
	data, err := json.Marshal(out)
	if err != nil {
		return session.Response{}, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		b.drop()
		return session.Response{}, fmt.Errorf("%w: write: %w", session.ErrTransport, err)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			b.drop()
			if ctx.Err() != nil {
				return session.Response{}, fmt.Errorf("%w: %w", session.ErrTransport, ctx.Err())
			}
			if isClosed(err) {
				return session.Response{}, fmt.Errorf("%w: bus closed the connection: %w", session.ErrTransport, err)
			}
			return session.Response{}, fmt.Errorf("%w: read: %w", session.ErrTransport, err)
		}

		var m BusMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			log.Warn("Failed to parse bus message", "msg", string(raw), "err", err)
			continue
		}
		if m.To != b.shard {
			continue
		}

		switch m.Kind {
		case KindReply:
			if m.Transcription == nil {
				return session.Response{}, fmt.Errorf("%w: reply without transcription", session.ErrMalformedResponse)
			}
			return session.Response{
				Transcription: *m.Transcription,
				ResponseText:  m.Content,
				AudioReply:    m.Audio,
			}, nil
		case KindError:
			return session.Response{}, fmt.Errorf("%w: %s", session.ErrTransport, m.Content)
		default:
			log.Debug("Ignoring bus message", "kind", m.Kind, "from", m.From)
		}
	}
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	_ = b.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := b.conn.Close()
	b.conn = nil
	return err
}
