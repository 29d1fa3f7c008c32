// Package indexer keeps the chunk store in step with the policy corpus.
//
// A run moves through Loading, Diffing, Embedding and Persisting. Inside each
// phase policies are processed by a bounded worker pool. A policy that fails
// is recorded and dropped from the later phases; the rest of the run goes on.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/policyrag/internal/domain"
	"github.com/kailas-cloud/policyrag/internal/domain/chunk"
	"github.com/kailas-cloud/policyrag/internal/domain/index"
	"github.com/kailas-cloud/policyrag/internal/domain/policy"
	"github.com/kailas-cloud/policyrag/internal/metrics"
)

// DefaultConcurrency is the number of policies processed at once per phase.
const DefaultConcurrency = 4

// Config holds indexer settings.
type Config struct {
	Model        string        // embedding model every stored chunk must carry
	Concurrency  int           // worker pool size per phase
	StoreTimeout time.Duration // per store call, 0 = none
}

// Options selects what a run covers.
type Options struct {
	// PolicyIDs limits the run to these policies. Empty means the whole
	// corpus, in which case stored policies missing from it are removed.
	PolicyIDs []string
	// Force re-embeds unchanged chunks.
	Force bool
}

// Report is the indexer status as exposed to operators.
type Report struct {
	State index.State    `json:"state"`
	Since time.Time      `json:"since"`
	Error string         `json:"error,omitempty"`
	Last  *index.Summary `json:"-"`
}

// Service runs indexing.
type Service struct {
	source  Source
	chunker Chunker
	embed   Embedder
	store   Store
	cfg     Config
	machine *index.Machine
	logger  *zap.Logger

	mu   sync.Mutex
	last *index.Summary
}

// New creates an indexer.
func New(source Source, chunker Chunker, embed Embedder, store Store, cfg Config, logger *zap.Logger) (*Service, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("indexer: embedding model is required: %w", domain.ErrConfiguration)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		source:  source,
		chunker: chunker,
		embed:   embed,
		store:   store,
		cfg:     cfg,
		machine: index.NewMachine(),
		logger:  logger.With(zap.String("component", "indexer")),
	}, nil
}

// work is one policy travelling through the phases of a run.
type work struct {
	policy   policy.Policy
	force    bool
	warnings []string
	plan     index.Plan
	embedded []chunk.Chunk
	counts   index.Counts
	err      error
	skipped  bool
}

func (w *work) fail(err error) { w.err = err }

func (w *work) outcome() index.PolicyOutcome {
	switch {
	case w.skipped:
		return index.NewSkipped(w.policy.ID, w.err)
	case w.err != nil:
		return index.NewFailed(w.policy.ID, w.counts, w.err)
	default:
		return index.NewOK(w.policy.ID, w.counts, w.warnings)
	}
}

// IndexAll runs the pipeline over the selected policies. Per-policy failures
// are reported in the summary, not as an error. The error is non-nil only
// when the run could not proceed: another run is active, the corpus could
// not be loaded, or ctx was cancelled. A cancelled run still returns the
// summary of what was done.
func (s *Service) IndexAll(ctx context.Context, opts Options) (*index.Summary, error) {
	if !s.machine.Begin() {
		return nil, domain.ErrIndexBusy
	}
	start := time.Now()
	ctx, usage := domain.NewContextWithUsage(ctx)
	sum := &index.Summary{StartedAt: start}
	log := s.logger.With(zap.Int("selected", len(opts.PolicyIDs)), zap.Bool("force", opts.Force))

	corpus, err := s.source.Load(ctx)
	if err != nil {
		return s.abort(sum, start, fmt.Errorf("load corpus: %w", err))
	}

	selected, missing := corpus.Select(opts.PolicyIDs)
	for _, id := range missing {
		sum.Record(index.NewFailed(id, index.Counts{}, fmt.Errorf("%s: %w", id, domain.ErrPolicyNotFound)))
	}
	works := make([]*work, len(selected))
	for i, p := range selected {
		works[i] = &work{policy: p, force: opts.Force}
	}

	phases := []struct {
		state index.State
		run   func(context.Context, *work)
	}{
		{index.StateDiffing, s.diff},
		{index.StateEmbedding, s.embedChunks},
		{index.StatePersisting, s.persist},
	}
	for _, ph := range phases {
		if err := s.machine.Transition(ph.state); err != nil {
			return s.abort(sum, start, err)
		}
		s.each(ctx, works, ph.run)
	}

	for _, w := range works {
		o := w.outcome()
		sum.Record(o)
		logOutcome(log, o)
	}
	if len(opts.PolicyIDs) == 0 && ctx.Err() == nil {
		s.prune(ctx, corpus, sum, log)
	}

	sum.EmbeddingTokens = usage.Tokens()
	sum.EmbeddingCalls = usage.Calls()
	sum.Duration = time.Since(start)
	sum.Cancelled = ctx.Err() != nil

	s.finish(ctx, sum)
	if sum.Cancelled {
		s.machine.Fail(ctx.Err())
		log.Warn("index run cancelled", summaryFields(sum)...)
		return sum, fmt.Errorf("index run cancelled: %w", ctx.Err())
	}
	if err := s.machine.Transition(index.StateDone); err != nil {
		s.machine.Fail(err)
		return sum, err
	}
	log.Info("index run finished", summaryFields(sum)...)
	return sum, nil
}

// ReindexPolicy runs the pipeline for one policy.
func (s *Service) ReindexPolicy(ctx context.Context, policyID string, force bool) (index.PolicyOutcome, error) {
	sum, err := s.IndexAll(ctx, Options{PolicyIDs: []string{policyID}, Force: force})
	if err != nil {
		return index.PolicyOutcome{}, err
	}
	if len(sum.Policies) == 0 {
		return index.PolicyOutcome{}, fmt.Errorf("%s: %w", policyID, domain.ErrPolicyNotFound)
	}
	o := sum.Policies[0]
	return o, o.Err()
}

// ReindexAll re-embeds and rewrites the whole corpus.
func (s *Service) ReindexAll(ctx context.Context) (*index.Summary, error) {
	return s.IndexAll(ctx, Options{Force: true})
}

// DeletePolicy removes every stored chunk of a policy and returns how many
// were removed. It is rejected while a run is active.
func (s *Service) DeletePolicy(ctx context.Context, policyID string) (int, error) {
	if policyID == "" {
		return 0, fmt.Errorf("policy id is required: %w", domain.ErrInvalidQuery)
	}
	if !s.machine.Begin() {
		return 0, domain.ErrIndexBusy
	}
	sctx, cancel := s.storeCtx(ctx)
	n, err := s.store.DeleteByPolicy(sctx, policyID)
	cancel()
	if err != nil {
		s.machine.Fail(err)
		return 0, fmt.Errorf("delete policy %s: %w", policyID, err)
	}
	if err := s.machine.Transition(index.StateDone); err != nil {
		s.machine.Fail(err)
		return n, err
	}
	metrics.IndexChunksTotal.WithLabelValues("removed").Add(float64(n))
	if n == 0 {
		return 0, fmt.Errorf("%s: %w", policyID, domain.ErrPolicyNotFound)
	}
	s.logger.Info("policy deleted", zap.String("policy_id", policyID), zap.Int("chunks", n))
	return n, nil
}

// Status reports the current state and the last finished run.
func (s *Service) Status() Report {
	st := s.machine.Status()
	r := Report{State: st.State, Since: st.Since}
	if st.Err != nil {
		r.Error = st.Err.Error()
	}
	s.mu.Lock()
	r.Last = s.last
	s.mu.Unlock()
	return r
}

// Stats describes the chunk store.
func (s *Service) Stats(ctx context.Context) (index.Stats, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	st, err := s.store.Stats(sctx)
	if err != nil {
		return index.Stats{}, fmt.Errorf("index stats: %w", err)
	}
	st.Model = s.cfg.Model
	return st, nil
}

// each runs fn for every live work item with at most Concurrency in flight.
// Items not started before ctx is done are marked skipped.
func (s *Service) each(ctx context.Context, works []*work, fn func(context.Context, *work)) {
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, w := range works {
		if w.err != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			w.skipped = true
			w.fail(err)
			continue
		}
		g.Go(func() error {
			fn(ctx, w)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) diff(ctx context.Context, w *work) {
	chunks, warnings, err := s.chunker.Chunk(w.policy)
	if err != nil {
		w.fail(fmt.Errorf("chunk: %w", err))
		return
	}
	for _, vw := range warnings {
		s.logger.Warn("policy element skipped",
			zap.String("policy_id", vw.PolicyID),
			zap.String("element", vw.Element),
			zap.String("reason", vw.Reason),
		)
		w.warnings = append(w.warnings, vw.Element+": "+vw.Reason)
	}

	sctx, cancel := s.storeCtx(ctx)
	refs, err := s.store.Manifest(sctx, w.policy.ID)
	cancel()
	if err != nil {
		w.fail(fmt.Errorf("manifest: %w", err))
		return
	}
	w.plan = index.Diff(chunks, refs, s.cfg.Model, w.force)
	w.counts.Unchanged = len(w.plan.Unchanged)
}

func (s *Service) embedChunks(ctx context.Context, w *work) {
	todo := w.plan.ToEmbed()
	if len(todo) == 0 {
		return
	}
	texts := make([]string, len(todo))
	for i := range todo {
		texts[i] = todo[i].Content
	}
	vecs, err := s.embed.EmbedTexts(ctx, texts)
	if err == nil && len(vecs) != len(todo) {
		err = fmt.Errorf("%d vectors for %d chunks: %w", len(vecs), len(todo), domain.ErrProvider)
	}
	if err != nil {
		w.counts.Failed = len(todo)
		w.fail(fmt.Errorf("embed: %w", err))
		return
	}
	for i := range todo {
		todo[i].Embedding = vecs[i]
		todo[i].EmbeddingModel = s.cfg.Model
	}
	w.embedded = todo
}

// persist writes new and changed chunks before deleting orphans, so a
// concurrent reader sees the old or the new chunk set plus overlap, never a gap.
func (s *Service) persist(ctx context.Context, w *work) {
	if len(w.embedded) > 0 {
		sctx, cancel := s.storeCtx(ctx)
		err := s.store.Upsert(sctx, w.embedded)
		cancel()
		if err != nil {
			w.counts.Failed += len(w.embedded)
			w.fail(fmt.Errorf("upsert: %w", err))
			return
		}
		w.counts.Added = len(w.plan.New)
		w.counts.Updated = len(w.plan.Changed)
	}

	if len(w.plan.Restamp) > 0 {
		sctx, cancel := s.storeCtx(ctx)
		err := s.store.Restamp(sctx, w.plan.Restamp)
		cancel()
		if err != nil {
			w.counts.Failed += len(w.plan.Restamp)
			w.fail(fmt.Errorf("restamp: %w", err))
			return
		}
		w.counts.Restamped = len(w.plan.Restamp)
	}

	if ids := w.plan.OrphanIDs(); len(ids) > 0 {
		sctx, cancel := s.storeCtx(ctx)
		err := s.store.DeleteByIDs(sctx, ids)
		cancel()
		if err != nil {
			w.fail(fmt.Errorf("delete orphans: %w", err))
			return
		}
		w.counts.Removed = w.plan.Removed()
	}
}

// prune removes stored policies that are no longer in the corpus.
func (s *Service) prune(ctx context.Context, corpus policy.Corpus, sum *index.Summary, log *zap.Logger) {
	sctx, cancel := s.storeCtx(ctx)
	stored, err := s.store.PolicyIDs(sctx)
	cancel()
	if err != nil {
		log.Warn("list stored policies failed, skipping prune", zap.Error(err))
		return
	}
	known := corpus.IDs()
	for _, id := range stored {
		if slices.Contains(known, id) {
			continue
		}
		sctx, cancel := s.storeCtx(ctx)
		n, err := s.store.DeleteByPolicy(sctx, id)
		cancel()
		var o index.PolicyOutcome
		if err != nil {
			o = index.NewFailed(id, index.Counts{}, fmt.Errorf("remove policy: %w", err))
		} else {
			o = index.NewOK(id, index.Counts{Removed: n}, nil)
		}
		sum.Record(o)
		logOutcome(log, o)
	}
}

func (s *Service) abort(sum *index.Summary, start time.Time, err error) (*index.Summary, error) {
	s.machine.Fail(err)
	sum.Duration = time.Since(start)
	metrics.IndexRunsTotal.WithLabelValues("error").Inc()
	metrics.IndexRunDuration.Observe(sum.Duration.Seconds())
	s.logger.Error("index run failed", zap.Error(err))
	return nil, err
}

func (s *Service) finish(ctx context.Context, sum *index.Summary) {
	status := "done"
	switch {
	case sum.Cancelled:
		status = "cancelled"
	case sum.PoliciesFailed > 0:
		status = "partial"
	}
	metrics.IndexRunsTotal.WithLabelValues(status).Inc()
	metrics.IndexRunDuration.Observe(sum.Duration.Seconds())
	for result, n := range map[string]int{
		"added":     sum.Added,
		"updated":   sum.Updated,
		"unchanged": sum.Unchanged,
		"restamped": sum.Restamped,
		"removed":   sum.Removed,
		"failed":    sum.Failed,
	} {
		metrics.IndexChunksTotal.WithLabelValues(result).Add(float64(n))
	}

	if !sum.Cancelled {
		if st, err := s.Stats(ctx); err != nil {
			s.logger.Warn("refresh stored chunk gauge failed", zap.Error(err))
		} else {
			metrics.IndexChunksStored.Set(float64(st.TotalChunks))
		}
	}

	s.mu.Lock()
	s.last = sum
	s.mu.Unlock()
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func logOutcome(log *zap.Logger, o index.PolicyOutcome) {
	c := o.Counts()
	fields := []zap.Field{
		zap.String("policy_id", o.PolicyID()),
		zap.String("status", string(o.Status())),
		zap.Int("added", c.Added),
		zap.Int("updated", c.Updated),
		zap.Int("unchanged", c.Unchanged),
		zap.Int("restamped", c.Restamped),
		zap.Int("removed", c.Removed),
		zap.Int("failed", c.Failed),
	}
	switch {
	case o.Status() == index.OutcomeFailed:
		log.Error("policy index failed", append(fields, zap.Error(o.Err()))...)
	case o.Status() == index.OutcomeSkipped && !errors.Is(o.Err(), context.Canceled):
		log.Warn("policy skipped", append(fields, zap.Error(o.Err()))...)
	case o.Status() == index.OutcomeSkipped:
		log.Debug("policy skipped", fields...)
	default:
		log.Info("policy indexed", fields...)
	}
}

func summaryFields(sum *index.Summary) []zap.Field {
	return []zap.Field{
		zap.Int("policies", len(sum.Policies)),
		zap.Int("policies_failed", sum.PoliciesFailed),
		zap.Int("added", sum.Added),
		zap.Int("updated", sum.Updated),
		zap.Int("unchanged", sum.Unchanged),
		zap.Int("restamped", sum.Restamped),
		zap.Int("removed", sum.Removed),
		zap.Int("failed", sum.Failed),
		zap.Int64("embedding_tokens", sum.EmbeddingTokens),
		zap.Int64("embedding_calls", sum.EmbeddingCalls),
		zap.Duration("duration", sum.Duration),
	}
}
