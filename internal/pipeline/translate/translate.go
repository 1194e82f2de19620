package translate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/auriclabs/auric/internal/types"
	"github.com/auriclabs/auric/pkg/Logger"
)

// Backend produces the target-language rendering of one final segment.
type Backend interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Translator rewrites finalized segments into the conversation's
// target language. Interim segments are never touched; their text is
// still in flux and a translation would be wasted. Identical
// (text, source, target) triples hit the cache instead of the backend.
type Translator struct {
	backend Backend
	cache   Cache
	target  string
	logger  *Logger.Logger
}

func New(backend Backend, cache Cache, target string, logger *Logger.Logger) *Translator {
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	return &Translator{backend: backend, cache: cache, target: target, logger: logger}
}

// Target reports the configured output language.
func (t *Translator) Target() string { return t.target }

// TranslateSegment rewrites seg in place when it is final and not
// already in the target language. Reports whether the text changed.
// Failures leave the segment untouched so the pipeline keeps flowing
// with untranslated text.
func (t *Translator) TranslateSegment(ctx context.Context, seg *types.TranscriptSegment) (bool, error) {
	if !seg.IsFinal || t.target == "" {
		return false, nil
	}
	src := strings.ToLower(seg.Language)
	if src != "" && sameLanguage(src, t.target) {
		return false, nil
	}

	key := CacheKey(seg.Text, src, t.target)
	if cached, ok := t.cache.Get(key); ok {
		t.applyTranslation(seg, cached)
		return true, nil
	}

	translated, err := t.backend.Translate(ctx, seg.Text, src, t.target)
	if err != nil {
		return false, fmt.Errorf("translate segment %s: %w", seg.ID, err)
	}
	translated = strings.TrimSpace(translated)
	if translated == "" || translated == seg.Text {
		return false, nil
	}
	t.cache.Set(key, translated)
	t.applyTranslation(seg, translated)
	return true, nil
}

func (t *Translator) applyTranslation(seg *types.TranscriptSegment, translated string) {
	if seg.OriginalText == "" {
		seg.OriginalText = seg.Text
	}
	seg.Text = translated
	seg.Language = t.target
}

// CacheKey is sha256 over the translation triple, hex-encoded.
func CacheKey(text, source, target string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(target))
	return hex.EncodeToString(h.Sum(nil))
}

func sameLanguage(a, b string) bool {
	// compare primary subtags so "en-US" matches "en"
	return primarySubtag(a) == primarySubtag(b)
}

func primarySubtag(lang string) string {
	lang = strings.ToLower(lang)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		return lang[:i]
	}
	return lang
}

// openAIBackend asks a chat model for a bare translation.
type openAIBackend struct {
	client openai.Client
	model  string
}

func NewOpenAIBackend(apiKey, model string) Backend {
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &openAIBackend{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (b *openAIBackend) Translate(ctx context.Context, text, source, target string) (string, error) {
	prompt := fmt.Sprintf(
		"Translate the following transcript snippet into %s. Keep names, numbers and tone. Reply with the translation only.\n\n%s",
		target, text)
	if source != "" {
		prompt = fmt.Sprintf(
			"Translate the following transcript snippet from %s into %s. Keep names, numbers and tone. Reply with the translation only.\n\n%s",
			source, target, text)
	}
	completion, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: b.model,
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return completion.Choices[0].Message.Content, nil
}
