// Package inference maps free-text underwriting questions onto the policy
// taxonomy so searches can be narrowed by category.
package inference

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/policyrag/internal/domain"
	"github.com/kailas-cloud/policyrag/internal/domain/search/filter"
	"github.com/kailas-cloud/policyrag/internal/metrics"
)

// Mode selects the inference strategy.
type Mode string

// Inference modes.
const (
	ModeKeyword  Mode = "keyword"
	ModeExternal Mode = "external"
	ModeOff      Mode = "off"
)

// DefaultMinConfidence is the confidence below which an inference is not
// turned into filters, and below which external answers are discarded.
const DefaultMinConfidence = 0.3

// hitWeight is the confidence contributed by each keyword hit.
const hitWeight = 0.2

// Result is the outcome of one inference.
type Result struct {
	domain.CategoryGuess
	Mode Mode
}

// Found reports whether a category was inferred.
func (r Result) Found() bool { return r.Category != "" }

// Filters turns the result into search filters. Results below minConfidence
// produce no filters.
func (r Result) Filters(minConfidence float64) filter.Filters {
	if !r.Found() || r.Confidence < minConfidence {
		return filter.Filters{}
	}
	f := filter.Filters{Category: r.Category, Subcategory: r.Subcategory}
	if r.RiskLevel != "" {
		f.RiskLevels = []string{r.RiskLevel}
	}
	return f
}

// Inferrer infers a category from a question.
type Inferrer interface {
	Infer(ctx context.Context, question string) (Result, error)
}

type compiled struct {
	name     string
	patterns []*regexp.Regexp
}

func compile(entries []entry) []compiled {
	out := make([]compiled, len(entries))
	for i, e := range entries {
		out[i] = compiled{name: e.name, patterns: make([]*regexp.Regexp, len(e.patterns))}
		for j, p := range e.patterns {
			out[i].patterns[j] = regexp.MustCompile(p)
		}
	}
	return out
}

// hits counts matching patterns.
func (c compiled) hits(q string) int {
	n := 0
	for _, p := range c.patterns {
		if p.MatchString(q) {
			n++
		}
	}
	return n
}

// best returns the entry with most hits, the earliest on ties, and the total
// hits over all entries.
func best(entries []compiled, q string) (name string, top, total int) {
	for _, e := range entries {
		n := e.hits(q)
		total += n
		if n > top {
			name, top = e.name, n
		}
	}
	return name, top, total
}

// Keyword scores every category by counting keyword hits.
type Keyword struct {
	categories    []compiled
	subcategories map[string][]compiled
	risks         []compiled
}

// NewKeyword compiles the keyword tables.
func NewKeyword() *Keyword {
	subs := make(map[string][]compiled, len(subcategoryTable))
	for cat, entries := range subcategoryTable {
		subs[cat] = compile(entries)
	}
	return &Keyword{
		categories:    compile(categoryTable),
		subcategories: subs,
		risks:         compile(riskTable),
	}
}

// Categories returns the known categories in table order.
func (k *Keyword) Categories() []string {
	out := make([]string, len(k.categories))
	for i, c := range k.categories {
		out[i] = c.name
	}
	return out
}

// Infer implements Inferrer. It never fails.
func (k *Keyword) Infer(_ context.Context, question string) (Result, error) {
	return k.infer(question), nil
}

func (k *Keyword) infer(question string) Result {
	q := strings.ToLower(question)
	res := Result{Mode: ModeKeyword}

	category, _, total := best(k.categories, q)
	if category == "" {
		return res
	}
	res.Category = category
	res.Confidence = min(1, float64(total)*hitWeight)
	res.Subcategory, _, _ = best(k.subcategories[category], q)
	res.RiskLevel, _, _ = best(k.risks, q)
	return res
}

// Classifier is a model-backed category classifier.
type Classifier interface {
	Classify(ctx context.Context, question string, categories []string) (domain.CategoryGuess, error)
}

// External asks a classifier and falls back to keyword inference when the
// call fails, times out, names an unknown category or is not confident.
type External struct {
	classifier    Classifier
	keyword       *Keyword
	minConfidence float64
	timeout       time.Duration
	logger        *zap.Logger
}

// ExternalOption configures External.
type ExternalOption func(*External)

// WithMinConfidence overrides DefaultMinConfidence.
func WithMinConfidence(v float64) ExternalOption {
	return func(e *External) { e.minConfidence = v }
}

// WithTimeout bounds each classifier call.
func WithTimeout(d time.Duration) ExternalOption {
	return func(e *External) { e.timeout = d }
}

// NewExternal creates an External inferrer.
func NewExternal(c Classifier, logger *zap.Logger, opts ...ExternalOption) *External {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &External{
		classifier:    c,
		keyword:       NewKeyword(),
		minConfidence: DefaultMinConfidence,
		logger:        logger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Infer implements Inferrer.
func (e *External) Infer(ctx context.Context, question string) (Result, error) {
	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	guess, err := e.classifier.Classify(callCtx, question, e.keyword.Categories())
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		metrics.InferenceTotal.WithLabelValues(string(ModeExternal), "error").Inc()
		e.logger.Warn("external inference failed, using keywords", zap.Error(err))
		return e.fallback(question), nil
	}

	if err := e.check(guess); err != nil {
		metrics.InferenceTotal.WithLabelValues(string(ModeExternal), "low_confidence").Inc()
		e.logger.Debug("external inference discarded", zap.String("reason", err.Error()))
		return e.fallback(question), nil
	}

	metrics.InferenceTotal.WithLabelValues(string(ModeExternal), "matched").Inc()
	return Result{CategoryGuess: guess, Mode: ModeExternal}, nil
}

func (e *External) check(g domain.CategoryGuess) error {
	if g.Confidence < e.minConfidence {
		return fmt.Errorf("confidence %.2f below %.2f", g.Confidence, e.minConfidence)
	}
	for _, c := range e.keyword.Categories() {
		if c == g.Category {
			return nil
		}
	}
	return fmt.Errorf("unknown category %q", g.Category)
}

func (e *External) fallback(question string) Result {
	return e.keyword.infer(question)
}

// Off never infers anything.
type Off struct{}

// Infer implements Inferrer.
func (Off) Infer(context.Context, string) (Result, error) {
	return Result{Mode: ModeOff}, nil
}

// New builds the inferrer for mode. External mode requires a classifier.
func New(mode Mode, c Classifier, logger *zap.Logger, opts ...ExternalOption) (Inferrer, error) {
	switch mode {
	case ModeKeyword, "":
		return instrumented{inner: NewKeyword(), mode: ModeKeyword}, nil
	case ModeExternal:
		if c == nil {
			return nil, fmt.Errorf("%w: external inference requires a classifier", domain.ErrConfiguration)
		}
		return NewExternal(c, logger, opts...), nil
	case ModeOff:
		return Off{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown inference mode %q", domain.ErrConfiguration, mode)
	}
}

// instrumented counts keyword inferences.
type instrumented struct {
	inner Inferrer
	mode  Mode
}

func (i instrumented) Infer(ctx context.Context, question string) (Result, error) {
	res, err := i.inner.Infer(ctx, question)
	switch {
	case err != nil:
		metrics.InferenceTotal.WithLabelValues(string(i.mode), "error").Inc()
	case res.Found():
		metrics.InferenceTotal.WithLabelValues(string(i.mode), "matched").Inc()
	default:
		metrics.InferenceTotal.WithLabelValues(string(i.mode), "none").Inc()
	}
	return res, err
}
