package classify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/scrypster/memento-graph/internal/llm"
	"github.com/scrypster/memento-graph/internal/textutil"
	"github.com/scrypster/memento-graph/pkg/types"
)

const (
	defaultFallbackCacheSize = 512
	defaultFallbackTimeout   = 10 * time.Second
)

// LLMFallback asks a text model to classify notes the rules could not read.
// Responses are cached by content hash.
type LLMFallback struct {
	gen     llm.TextGenerator
	cache   *lru.Cache[string, *llm.ClassificationResponse]
	timeout time.Duration
	logger  *zap.Logger
}

// FallbackOption configures an LLMFallback.
type FallbackOption func(*LLMFallback)

// WithFallbackLogger sets the logger.
func WithFallbackLogger(l *zap.Logger) FallbackOption {
	return func(f *LLMFallback) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithFallbackTimeout bounds each model call.
func WithFallbackTimeout(d time.Duration) FallbackOption {
	return func(f *LLMFallback) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// NewLLMFallback creates a fallback around gen with a cache of cacheSize
// entries (512 when cacheSize <= 0).
func NewLLMFallback(gen llm.TextGenerator, cacheSize int, opts ...FallbackOption) (*LLMFallback, error) {
	if gen == nil {
		return nil, fmt.Errorf("text generator is required")
	}
	if cacheSize <= 0 {
		cacheSize = defaultFallbackCacheSize
	}
	cache, err := lru.New[string, *llm.ClassificationResponse](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create classification cache: %w", err)
	}
	f := &LLMFallback{
		gen:     gen,
		cache:   cache,
		timeout: defaultFallbackTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Refine merges the model's reading into res when res is a rule fallback.
// Any model or parse error leaves res unchanged. known marks existing
// entities on the merged result.
func (f *LLMFallback) Refine(ctx context.Context, text string, res *types.ClassificationResult, known EntityIndex) *types.ClassificationResult {
	if res == nil || !res.Fallback {
		return res
	}

	key := contentKey(text)
	resp, ok := f.cache.Get(key)
	if !ok {
		var err error
		resp, err = f.ask(ctx, text)
		if err != nil {
			f.logger.Warn("llm classification failed; keeping rule result",
				zap.String("model", f.gen.GetModel()),
				zap.Error(err))
			return res
		}
		f.cache.Add(key, resp)
	}

	merged := *res
	mergeResponse(&merged, resp, known)
	return &merged
}

func (f *LLMFallback) ask(ctx context.Context, text string) (*llm.ClassificationResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	raw, err := f.gen.Complete(ctx, llm.ClassificationPrompt(text))
	if err != nil {
		return nil, err
	}
	return llm.ParseClassificationResponse(raw)
}

// CacheLen reports how many responses are cached.
func (f *LLMFallback) CacheLen() int {
	return f.cache.Len()
}

func contentKey(text string) string {
	sum := sha256.Sum256([]byte(textutil.Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// mergeResponse fills res from resp. Rule findings that exist are kept;
// the model supplies what the rules left empty.
func mergeResponse(res *types.ClassificationResult, resp *llm.ClassificationResponse, known EntityIndex) {
	res.Type = types.ParseEntryType(resp.Type)
	res.Importance = resp.Importance

	if len(res.People) == 0 {
		for _, p := range resp.People {
			res.People = append(res.People, types.PersonRef{Name: textutil.Normalize(p.Name), Identifier: p.Identifier})
		}
	}
	if res.CaseRef == "" {
		res.CaseRef = textutil.Normalize(resp.Case)
	}
	if res.Place == "" {
		res.Place = textutil.Normalize(resp.Place)
	}
	res.Tags = textutil.UniqueFold(append(append([]string{}, res.Tags...), resp.Tags...))
	if res.Domain == "" {
		res.Domain = resp.Domain
	}
	if res.Emotion == "" && resp.Emotion != "" {
		res.Emotion, res.EmotionRaw = resp.Emotion, resp.Emotion
	}
	if st := types.ParseNodeStatus(resp.Status); st != types.StatusUnknown {
		res.Status = st
	}

	var cases, places []string
	if res.CaseRef != "" {
		cases = []string{res.CaseRef}
	}
	if res.Place != "" {
		places = []string{res.Place}
	}
	res.Entities = buildEntities(res.People, cases, places, known)
	res.Relationships = buildRelationships(res.People, cases, places)
	res.SuggestedLinks = suggestedLinks(res)
	res.Fallback = false
}
