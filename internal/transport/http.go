package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	log "log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"nova/internal/session"
)

// HTTP talks to the assistant backend: WAV uploads, text commands and
// language selection.
type HTTP struct {
	base   string
	client *http.Client
}

func NewHTTP(baseURL string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &HTTP{
		base:   strings.TrimRight(baseURL, "/"),
		client: client,
	}
}

type apiResponse struct {
	Transcription *string        `json:"transcription"`
	Intent        string         `json:"intent"`
	Entities      map[string]any `json:"entities"`
	ResponseText  string         `json:"response_text"`
	AudioDataURL  string         `json:"audio_data_url"`
	Error         string         `json:"error"`
}

// Send uploads wav as multipart field "file" to /api/upload-audio.
func (h *HTTP) Send(ctx context.Context, wav []byte) (session.Response, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "command.wav")
	if err != nil {
		return session.Response{}, fmt.Errorf("%w: build form: %w", session.ErrTransport, err)
	}
	if _, err := part.Write(wav); err != nil {
		return session.Response{}, fmt.Errorf("%w: build form: %w", session.ErrTransport, err)
	}
	if err := mw.Close(); err != nil {
		return session.Response{}, fmt.Errorf("%w: build form: %w", session.ErrTransport, err)
	}

	log.Debug("Uploading audio", "url", h.base+"/api/upload-audio", "bytes", len(wav))
	return h.do(ctx, "/api/upload-audio", mw.FormDataContentType(), &body)
}

// Command sends already transcribed text to /api/command.
func (h *HTTP) Command(ctx context.Context, text string) (session.Response, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return session.Response{}, err
	}
	return h.do(ctx, "/api/command", "application/json", bytes.NewReader(payload))
}

// SetLanguage selects the recognition and speech languages on the backend.
// Empty values are left unchanged.
func (h *HTTP) SetLanguage(ctx context.Context, stt, tts string) error {
	payload, err := json.Marshal(map[string]string{"stt_lang": stt, "tts_lang": tts})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+"/api/language", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", session.ErrTransport, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: set language: status %d", session.ErrTransport, resp.StatusCode)
	}
	return nil
}

func (h *HTTP) do(ctx context.Context, path, contentType string, body io.Reader) (session.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+path, body)
	if err != nil {
		return session.Response{}, fmt.Errorf("%w: %w", session.ErrTransport, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := h.client.Do(req)
	if err != nil {
		return session.Response{}, fmt.Errorf("%w: %w", session.ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return session.Response{}, fmt.Errorf("%w: read body: %w", session.ErrTransport, err)
	}

	var ar apiResponse
	decodeErr := json.Unmarshal(raw, &ar)

	if resp.StatusCode/100 != 2 {
		msg := ar.Error
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return session.Response{}, fmt.Errorf("%w: %s: status %d: %s", session.ErrTransport, path, resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return session.Response{}, fmt.Errorf("%w: %w", session.ErrMalformedResponse, decodeErr)
	}

	return ar.toResponse()
}

func (ar apiResponse) toResponse() (session.Response, error) {
	if ar.Transcription == nil {
		return session.Response{}, fmt.Errorf("%w: missing transcription", session.ErrMalformedResponse)
	}

	if ar.Intent != "" {
		log.Debug("Intent", "intent", ar.Intent, "entities", ar.Entities)
	}

	out := session.Response{
		Transcription: *ar.Transcription,
		ResponseText:  ar.ResponseText,
	}

	if ar.AudioDataURL != "" {
		audio, err := decodeDataURL(ar.AudioDataURL)
		if err != nil {
			return session.Response{}, fmt.Errorf("%w: audio_data_url: %w", session.ErrMalformedResponse, err)
		}
		out.AudioReply = audio
	}

	return out, nil
}

// decodeDataURL extracts the payload of a base64 data: URL.
func decodeDataURL(u string) ([]byte, error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data url")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("data url without payload")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return []byte(data), nil
	}
	return base64.StdEncoding.DecodeString(data)
}
