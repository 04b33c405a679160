package language

import (
	"context"
	"log/slog"

	"github.com/cyberguard/internal/catalog"
)

// PromptCache stores translated question prompts keyed by language and the
// canonical prompt text.
type PromptCache interface {
	Get(ctx context.Context, language, source string) (string, bool, error)
	Put(ctx context.Context, language, source, translated string) error
}

type translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// Prompter resolves question prompts in the user's language, translating and
// caching them on first use.
type Prompter struct {
	translator translator
	cache      PromptCache
	canonical  string
	logger     *slog.Logger
}

func NewPrompter(t translator, cache PromptCache, canonical string, logger *slog.Logger) *Prompter {
	return &Prompter{translator: t, cache: cache, canonical: canonical, logger: logger}
}

// PromptFor never fails: when translation is unavailable the canonical prompt
// is returned and nothing is cached, so a later call retries.
func (p *Prompter) PromptFor(ctx context.Context, q catalog.Question, lang string) string {
	if text, ok := q.Prompt(lang); ok {
		return text
	}
	source, _ := q.Prompt(p.canonical)

	cached, ok, err := p.cache.Get(ctx, lang, source)
	if err != nil {
		p.logger.Warn("prompt cache read failed", "language", lang, "field", q.Field, "err", err)
	}
	if ok {
		return cached
	}

	translated, err := p.translator.Translate(ctx, source, p.canonical, lang)
	if err != nil {
		return source
	}

	if err := p.cache.Put(ctx, lang, source, translated); err != nil {
		p.logger.Warn("prompt cache write failed", "language", lang, "field", q.Field, "err", err)
	}
	return translated
}

// Translate is a convenience for ad-hoc bot messages (re-prompts, review
// notices) that are not catalog questions.
func (p *Prompter) Translate(ctx context.Context, text, lang string) string {
	out, err := p.translator.Translate(ctx, text, p.canonical, lang)
	if err != nil {
		return text
	}
	return out
}
