package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"

	"nova/internal/nlu"
	"nova/internal/session"
)

// OpenAI transcribes with the hosted speech model and, when a chat model is
// set, drafts the reply with the nlu prompt.
type OpenAI struct {
	client    openai.Client
	language  string
	chatModel string
	analyze   bool
}

type OpenAIOptions struct {
	// Language hint for transcription, e.g. "en". Empty lets the model detect.
	Language string
	// ChatModel used for the reply; empty means the nlu default.
	ChatModel string
	// NoReply skips the chat step and returns only the transcription.
	NoReply bool
}

func NewOpenAI(client openai.Client, opt OpenAIOptions) *OpenAI {
	return &OpenAI{
		client:    client,
		language:  opt.Language,
		chatModel: opt.ChatModel,
		analyze:   !opt.NoReply,
	}
}

func (o *OpenAI) Send(ctx context.Context, wav []byte) (session.Response, error) {
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "command.wav", "audio/wav"),
		Model: openai.AudioModelWhisper1,
	}
	if o.language != "" {
		params.Language = openai.String(o.language)
	}

	tr, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return session.Response{}, fmt.Errorf("%w: transcription: %w", session.ErrTransport, err)
	}

	out := session.Response{Transcription: tr.Text}
	if !o.analyze || tr.Text == "" {
		return out, nil
	}

	res, err := nlu.Analyze(ctx, o.client, o.chatModel, tr.Text)
	if err != nil {
		if errors.Is(err, nlu.ErrUnparsable) {
			return session.Response{}, fmt.Errorf("%w: %w", session.ErrMalformedResponse, err)
		}
		return session.Response{}, fmt.Errorf("%w: %w", session.ErrTransport, err)
	}

	log.Debug("Intent", "intent", res.Intent, "entities", res.Entities)
	out.ResponseText = res.Reply
	return out, nil
}
