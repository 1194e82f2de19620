package structuring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/auriclabs/auric/internal/types"
	"github.com/auriclabs/auric/pkg/Logger"
)

// Completer is the LLM call behind the driver, split out so tests can
// fake it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Config struct {
	Model    string
	Timeout  time.Duration // per-conversation budget, default 60s
	Attempts int           // default 3
}

func (c *Config) fillDefaults() {
	if c.Model == "" {
		c.Model = openai.ChatModelGPT4oMini
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Attempts == 0 {
		c.Attempts = 3
	}
}

// Driver turns a sealed conversation's transcript into structured
// metadata. Transient model errors are retried inside the timeout
// budget; when the budget or the attempts run out the conversation is
// marked failed rather than left stuck in processing.
type Driver struct {
	completer Completer
	cfg       Config
	logger    *Logger.Logger
}

func New(cfg Config, completer Completer, logger *Logger.Logger) *Driver {
	cfg.fillDefaults()
	if completer == nil {
		panic("structuring: nil completer")
	}
	return &Driver{completer: completer, cfg: cfg, logger: logger}
}

// NewOpenAI builds a driver backed by the chat completions API.
func NewOpenAI(apiKey string, cfg Config, logger *Logger.Logger) *Driver {
	cfg.fillDefaults()
	return New(cfg, &openAICompleter{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  cfg.Model,
	}, logger)
}

const structurePrompt = `You summarize a transcribed conversation captured by a wearable microphone.
Reply with a single JSON object, no markdown fences, with exactly these keys:
  "title": short descriptive title (max 10 words)
  "overview": 1-3 sentence summary
  "emoji": one emoji capturing the conversation
  "category": one of personal, work, education, health, finance, other
  "action_items": array of {"description": string} for concrete follow-ups, empty if none

Transcript:
%s`

// Structure fills conv.Structured and advances its status. On
// permanent failure the status becomes failed and the error is
// returned; the transcript itself is always preserved.
func (d *Driver) Structure(ctx context.Context, conv *types.Conversation) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	prompt := fmt.Sprintf(structurePrompt, conv.Transcript())

	var lastErr error
	for attempt := 1; attempt <= d.cfg.Attempts; attempt++ {
		raw, err := d.completer.Complete(ctx, prompt)
		if err == nil {
			structured, perr := parseStructured(raw)
			if perr == nil {
				conv.Structured = structured
				conv.Status = types.StatusCompleted
				d.logger.Infof("structuring: conversation %s titled %q", conv.ID, structured.Title)
				return nil
			}
			err = perr
		}
		lastErr = err
		d.logger.Warnf("structuring: conversation %s attempt %d/%d failed: %v",
			conv.ID, attempt, d.cfg.Attempts, err)
		if ctx.Err() != nil {
			break
		}
		if attempt < d.cfg.Attempts {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
			}
		}
	}

	conv.Status = types.StatusFailed
	return fmt.Errorf("structure conversation %s: %w", conv.ID, lastErr)
}

func parseStructured(raw string) (*types.Structured, error) {
	raw = strings.TrimSpace(raw)
	// some models fence the JSON anyway
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var out types.Structured
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode structuring output: %w", err)
	}
	if out.Title == "" {
		return nil, fmt.Errorf("structuring output missing title")
	}
	if !validCategory(out.Category) {
		out.Category = types.CategoryOther
	}
	return &out, nil
}

func validCategory(c types.Category) bool {
	switch c {
	case types.CategoryPersonal, types.CategoryWork, types.CategoryEducation,
		types.CategoryHealth, types.CategoryFinance, types.CategoryOther:
		return true
	}
	return false
}

type openAICompleter struct {
	client openai.Client
	model  string
}

func (o *openAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: o.model,
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return completion.Choices[0].Message.Content, nil
}
