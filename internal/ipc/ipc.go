package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Control commands understood by the daemon.
const (
	CmdToggle = "toggle"
	CmdStart  = "start"
	CmdStop   = "stop"
	CmdStatus = "status"
	// CmdFile uploads the audio file at Arg without recording.
	CmdFile = "file"
	// CmdText sends Arg as an already transcribed command.
	CmdText = "text"
	// CmdCancel abandons the running session and ends a continuous loop.
	CmdCancel = "cancel"
	// CmdSet changes the setting named by Arg to Value.
	CmdSet = "set"
)

type ControlMessage struct {
	Cmd   string `json:"cmd"`
	Arg   string `json:"arg,omitempty"`
	Value string `json:"value,omitempty"`
}

type Reply struct {
	OK       bool              `json:"ok"`
	State    string            `json:"state,omitempty"`
	Text     string            `json:"text,omitempty"`
	Settings map[string]string `json:"settings,omitempty"`
	Error    string            `json:"error,omitempty"`
}

type Handler func(ControlMessage) Reply

// DefaultSocketPath prefers $XDG_RUNTIME_DIR and falls back to /tmp.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "nova.sock")
	}
	return "/tmp/nova.sock"
}

type Server struct {
	path string
	ln   net.Listener
}

// Listen binds the control socket, replacing a stale one.
func Listen(path string) (*Server, error) {
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return &Server{path: path, ln: ln}, nil
}

func (s *Server) Addr() string { return s.path }

// Serve answers one message per connection until ctx is done.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()
	defer os.Remove(s.path)

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn("Accept failed", "err", err)
			continue
		}
		go handleConn(conn, handler)
	}
}

func handleConn(conn net.Conn, handler Handler) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Debug("Bad control message", "err", err)
		_ = json.NewEncoder(conn).Encode(Reply{Error: "bad message"})
		return
	}

	log.Debug("Control message", "cmd", msg.Cmd)
	_ = json.NewEncoder(conn).Encode(handler(msg))
}

// Send delivers one message and waits for the reply.
func Send(path string, msg ControlMessage) (Reply, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return Reply{}, err
	}

	var r Reply
	if err := json.NewDecoder(conn).Decode(&r); err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	return r, nil
}
