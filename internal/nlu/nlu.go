package nlu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"strings"

	openai "github.com/openai/openai-go/v3"
)

// ErrUnparsable is returned when the model answered with something that is
// not a Result.
var ErrUnparsable = errors.New("unparsable nlu result")

type Result struct {
	Intent   string            `json:"intent"`
	Entities map[string]string `json:"entities"`
	Query    string            `json:"query"`
	Reply    string            `json:"reply"`
}

const systemPrompt = `
You are NOVA, a desktop voice assistant.
Convert the user's utterance into a minimal structured JSON and a short spoken reply.

GENERAL RULES:
1. Output ONLY JSON. No markdown.
2. "reply" is one or two short sentences suitable for text-to-speech.
3. Never hallucinate unknown applications, files or parameters.

OUTPUT FORMAT:
{
  "intent": "<string>",
  "entities": { ... },
  "query": "<original user text>",
  "reply": "<short answer>"
}

INTENTS (canonical, snake_case):
- "greet", "bye"
- "time", "date"
- "open_app", "close_app", "open_path"
- "type_text", "save_as", "save_text"
- "reminder_create"
- "weather_query"
- "set_language"
- "none" (if not classifiable)

ENTITIES (only those that apply, all values are strings):
{
  "app": "<application name>",
  "target": "<path or url>",
  "text": "<text to type or save>",
  "filename": "<file name>",
  "what": "<reminder subject>",
  "in_minutes": "<number>",
  "at_time": "<raw time phrase>",
  "city": "<city>",
  "language": "<language code>"
}

If the meaning is unclear, intent = "none" and reply asks the user to repeat.
`

// Analyze classifies transcript and drafts a reply.
func Analyze(ctx context.Context, client openai.Client, model, transcript string) (Result, error) {
	if model == "" {
		model = string(openai.ChatModelGPT5Nano)
	}

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(transcript),
		},
		Model: openai.ChatModel(model),
	})
	if err != nil {
		return Result{}, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: no choices in response", ErrUnparsable)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return Result{}, fmt.Errorf("%w: empty message content", ErrUnparsable)
	}

	log.Debug("Analyzed", "data", content)

	var out Result
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return Result{}, fmt.Errorf("%w: %w (raw: %s)", ErrUnparsable, err, content)
	}
	if out.Query == "" {
		out.Query = transcript
	}

	return out, nil
}
