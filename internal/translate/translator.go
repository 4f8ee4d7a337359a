// Package translate turns cleaned OCR text into the target language through
// an LLM provider, with a cache and a circuit breaker in front of it.
package translate

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/GriffinCanCode/subvoice/internal/cache"
	apperrors "github.com/GriffinCanCode/subvoice/internal/errors"
	"github.com/GriffinCanCode/subvoice/internal/resilience"
	"github.com/GriffinCanCode/subvoice/internal/trace"
)

// Provider performs one uncached translation.
type Provider interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Translator cleans text and consults the cache before calling the provider.
// Errors are returned to the caller unchanged; nothing is retried.
type Translator struct {
	provider Provider
	cache    *cache.Cache // nil disables caching
	breaker  *resilience.Breaker
	keyParts []string
	ttl      time.Duration
}

type Option func(*Translator)

// WithCache enables the translation cache. keyParts (model, prompt) scope
// entries so a config change does not serve stale translations.
func WithCache(c *cache.Cache, ttl time.Duration, keyParts ...string) Option {
	return func(t *Translator) {
		t.cache = c
		t.ttl = ttl
		t.keyParts = keyParts
	}
}

func WithBreaker(b *resilience.Breaker) Option {
	return func(t *Translator) { t.breaker = b }
}

// New creates a translator over p.
func New(p Provider, opts ...Option) *Translator {
	t := &Translator{provider: p}
	for _, o := range opts {
		o(t)
	}
	if t.breaker == nil {
		t.breaker = resilience.New(resilience.ProviderConfig("translate"))
	}
	return t
}

// Translate returns "" for text that cleans down to nothing.
func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	text = Clean(text)
	if text == "" {
		return "", nil
	}

	ctx, span := trace.StartSpan(ctx, "translate")
	defer span.End()
	span.SetAttr("chars", utf8.RuneCountInString(text))

	key := t.key(text)
	if t.cache != nil {
		if e, ok := t.cache.Get(key); ok {
			span.SetAttr("cache", "hit")
			return e.Text, nil
		}
	}

	out, err := resilience.Do(ctx, t.breaker, func(ctx context.Context) (string, error) {
		return t.provider.Translate(ctx, text)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrOpen) {
			err = apperrors.Wrap(err, apperrors.Unavailable, "translation provider circuit open")
		}
		span.SetError(err)
		return "", err
	}

	if t.cache != nil && out != "" {
		if err := t.cache.Set(key, &cache.Entry{Text: out, CreatedAt: time.Now()}, t.ttl); err != nil {
			trace.Logger(ctx).Debug("cache write failed", "error", err)
		}
	}
	return out, nil
}

func (t *Translator) key(text string) string {
	parts := append(append([]string(nil), t.keyParts...), text)
	return cache.GenerateKey(parts...)
}
