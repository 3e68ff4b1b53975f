// Package dispatcher fans the link and article phases out over bounded worker
// pools and owns the single merge step of each phase.
package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/docfetcher/internal/crawler"
	"github.com/JakeFAU/docfetcher/internal/frontier"
	"github.com/JakeFAU/docfetcher/internal/metrics"
	"github.com/JakeFAU/docfetcher/internal/store"
	"github.com/JakeFAU/docfetcher/internal/worker"
)

const tracerName = "github.com/JakeFAU/docfetcher/internal/dispatcher"

// Collection is the part of store.Collection the dispatcher needs.
type Collection[T crawler.Keyed] interface {
	Load(ctx context.Context) ([]T, error)
	MergeAndSnapshot(ctx context.Context, existing, fresh []T) ([]T, int, error)
}

// LinkWalker paginates one target.
type LinkWalker interface {
	Walk(ctx context.Context, target crawler.Target, known map[string]struct{}) frontier.Result
}

// BatchProcessor extracts one batch of links.
type BatchProcessor interface {
	Process(ctx context.Context, batch []crawler.LinkRecord, known map[string]struct{}, budget *worker.Budget) []crawler.ArticleRecord
}

// Config controls fan-out.
type Config struct {
	RunID string
	Site  string
	// Workers is the configured pool size; each phase clamps it to its input.
	Workers int
	// MaxArticles caps extraction attempts across the whole article phase.
	MaxArticles int
	// Overwrite lets re-extracted articles replace their snapshot entries.
	Overwrite bool
	// Topic receives phase summaries when a publisher is set.
	Topic string
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithPublisher publishes every phase summary to cfg.Topic.
func WithPublisher(p crawler.Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

// WithRunStore records every phase summary in a run ledger.
func WithRunStore(s crawler.RunStore) Option {
	return func(d *Dispatcher) { d.runs = s }
}

// WithClock overrides the wall clock used for phase timing.
func WithClock(c crawler.Clock) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

// Dispatcher runs the link phase and then the article phase.
type Dispatcher struct {
	walker    LinkWalker
	processor BatchProcessor
	links     Collection[crawler.LinkRecord]
	articles  Collection[crawler.ArticleRecord]
	publisher crawler.Publisher
	runs      crawler.RunStore
	clock     crawler.Clock
	tracer    trace.Tracer
	cfg       Config
	logger    *zap.Logger

	mu     sync.RWMutex
	latest []crawler.PhaseSummary
}

// New creates a Dispatcher.
func New(
	walker LinkWalker,
	processor BatchProcessor,
	links Collection[crawler.LinkRecord],
	articles Collection[crawler.ArticleRecord],
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		walker:    walker,
		processor: processor,
		links:     links,
		articles:  articles,
		clock:     wallClock{},
		tracer:    otel.Tracer(tracerName),
		cfg:       cfg,
		logger:    logger.Named("dispatcher"),
	}
	if cfg.RunID != "" {
		d.logger = d.logger.With(zap.String("run_id", cfg.RunID))
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes the link phase and then the article phase over the full link
// snapshot. The phases never overlap.
func (d *Dispatcher) Run(ctx context.Context, targets []crawler.Target) ([]crawler.PhaseSummary, error) {
	linkSummary, links, err := d.CrawlLinks(ctx, targets)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		d.logger.Warn("run interrupted after link phase, skipping articles")
		return []crawler.PhaseSummary{linkSummary}, fmt.Errorf("article phase skipped: %w", err)
	}
	articleSummary, _, err := d.ExtractArticles(ctx, links)
	if err != nil {
		return []crawler.PhaseSummary{linkSummary}, err
	}
	return []crawler.PhaseSummary{linkSummary, articleSummary}, nil
}

// CrawlLinks walks every target on its own worker and merges the discovered
// links into the link snapshot. It returns the full snapshot. Cancellation
// stops the walkers; whatever they collected is still merged and written.
func (d *Dispatcher) CrawlLinks(ctx context.Context, targets []crawler.Target) (crawler.PhaseSummary, []crawler.LinkRecord, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.CrawlLinks",
		trace.WithAttributes(attribute.Int("targets", len(targets))))
	defer span.End()
	persist := context.WithoutCancel(ctx)

	started := d.clock.Now()
	existing, err := d.links.Load(persist)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load links")
		return crawler.PhaseSummary{}, nil, fmt.Errorf("load link snapshot: %w", err)
	}
	known := store.Keys(existing)

	workers := clampWorkers(d.cfg.Workers, len(targets))
	d.logger.Info("crawling links",
		zap.Int("targets", len(targets)),
		zap.Int("workers", workers),
		zap.Int("known", len(known)),
	)

	results := make([]frontier.Result, len(targets))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, target := range targets {
		g.Go(func() error {
			defer d.recoverWorker(crawler.PhaseLinks, target.URL)
			metrics.IncActiveWorkers(string(crawler.PhaseLinks))
			defer metrics.DecActiveWorkers(string(crawler.PhaseLinks))
			results[i] = d.walker.Walk(ctx, target, known)
			return nil
		})
	}
	_ = g.Wait()

	var fresh []crawler.LinkRecord
	repeats := 0
	for _, res := range results {
		fresh = append(fresh, res.Links...)
		repeats += res.Repeats
	}

	summary := d.newSummary(crawler.PhaseLinks, started)
	merged := existing
	if len(fresh) == 0 {
		d.logger.Info("no new links found")
	} else {
		var removed int
		merged, removed, err = d.links.MergeAndSnapshot(persist, existing, fresh)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "snapshot links")
			return crawler.PhaseSummary{}, nil, fmt.Errorf("snapshot links: %w", err)
		}
		summary.Discovered = len(fresh) - removed
		summary.Duplicates = repeats + removed
	}
	summary.Total = len(merged)
	d.finish(persist, span, &summary, started)
	return summary, merged, nil
}

// ExtractArticles splits links into contiguous batches, extracts each batch
// on its own worker and merges the articles into the article snapshot.
// Articles extracted before a cancellation are still written.
func (d *Dispatcher) ExtractArticles(ctx context.Context, links []crawler.LinkRecord) (crawler.PhaseSummary, []crawler.ArticleRecord, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.ExtractArticles",
		trace.WithAttributes(attribute.Int("links", len(links))))
	defer span.End()
	persist := context.WithoutCancel(ctx)

	started := d.clock.Now()
	existing, err := d.articles.Load(persist)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load articles")
		return crawler.PhaseSummary{}, nil, fmt.Errorf("load article snapshot: %w", err)
	}
	summary := d.newSummary(crawler.PhaseArticles, started)
	if len(links) == 0 {
		d.logger.Info("no links to extract")
		summary.Total = len(existing)
		d.finish(persist, span, &summary, started)
		return summary, existing, nil
	}

	known := store.Keys(existing)
	batches := Partition(links, d.cfg.Workers)
	workers := clampWorkers(d.cfg.Workers, len(batches))
	budget := worker.NewBudget(d.cfg.MaxArticles)
	d.logger.Info("extracting articles",
		zap.Int("links", len(links)),
		zap.Int("batches", len(batches)),
		zap.Int("workers", workers),
		zap.Int("max_articles", d.cfg.MaxArticles),
	)

	results := make([][]crawler.ArticleRecord, len(batches))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, batch := range batches {
		g.Go(func() error {
			defer d.recoverWorker(crawler.PhaseArticles, fmt.Sprintf("batch-%d", i))
			metrics.IncActiveWorkers(string(crawler.PhaseArticles))
			defer metrics.DecActiveWorkers(string(crawler.PhaseArticles))
			results[i] = d.processor.Process(ctx, batch, known, budget)
			return nil
		})
	}
	_ = g.Wait()

	var fresh []crawler.ArticleRecord
	for _, res := range results {
		fresh = append(fresh, res...)
	}

	merged := existing
	if len(fresh) == 0 {
		d.logger.Info("no new articles found")
	} else {
		base := existing
		if d.cfg.Overwrite {
			base = withoutKeys(existing, store.Keys(fresh))
		}
		var removed int
		merged, removed, err = d.articles.MergeAndSnapshot(persist, base, fresh)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "snapshot articles")
			return crawler.PhaseSummary{}, nil, fmt.Errorf("snapshot articles: %w", err)
		}
		summary.Discovered = len(fresh) - removed
		summary.Duplicates = removed
	}
	summary.Total = len(merged)
	d.finish(persist, span, &summary, started)
	return summary, merged, nil
}

// Latest returns the summaries of the most recent run, in phase order.
func (d *Dispatcher) Latest() []crawler.PhaseSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]crawler.PhaseSummary, len(d.latest))
	copy(out, d.latest)
	return out
}

// Partition splits items into contiguous batches of ceil(len/workers); the
// last batch may be short.
func Partition[T any](items []T, workers int) [][]T {
	if len(items) == 0 {
		return nil
	}
	workers = clampWorkers(workers, len(items))
	size := (len(items) + workers - 1) / workers
	batches := make([][]T, 0, workers)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end])
	}
	return batches
}

func clampWorkers(configured, natural int) int {
	return max(1, min(configured, natural))
}

func withoutKeys[T crawler.Keyed](records []T, drop map[string]struct{}) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		if _, ok := drop[r.Key()]; !ok {
			out = append(out, r)
		}
	}
	return out
}

func (d *Dispatcher) recoverWorker(phase crawler.Phase, unit string) {
	if r := recover(); r != nil {
		d.logger.Error("worker panicked",
			zap.String("phase", string(phase)),
			zap.String("unit", unit),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()),
		)
		metrics.ObserveSkip(string(phase), "panic")
	}
}

func (d *Dispatcher) newSummary(phase crawler.Phase, started time.Time) crawler.PhaseSummary {
	return crawler.PhaseSummary{
		RunID:     d.cfg.RunID,
		Phase:     phase,
		Site:      d.cfg.Site,
		StartedAt: started,
	}
}

// finish stamps the duration and reports the summary to every sink. Sink
// failures are logged and never fail the phase.
func (d *Dispatcher) finish(ctx context.Context, span trace.Span, summary *crawler.PhaseSummary, started time.Time) {
	summary.Duration = d.clock.Now().Sub(started)
	span.SetAttributes(
		attribute.Int("discovered", summary.Discovered),
		attribute.Int("total", summary.Total),
		attribute.Int("duplicates", summary.Duplicates),
	)

	d.logger.Info("phase complete",
		zap.String("phase", string(summary.Phase)),
		zap.Int("discovered", summary.Discovered),
		zap.Int("total", summary.Total),
		zap.Int("duplicates", summary.Duplicates),
		zap.Duration("duration", summary.Duration),
	)
	metrics.ObservePhase(string(summary.Phase), summary.Duration, summary.Discovered, summary.Total, summary.Duplicates)

	if d.publisher != nil && d.cfg.Topic != "" {
		if id, err := d.publisher.Publish(ctx, d.cfg.Topic, *summary); err != nil {
			d.logger.Warn("publish phase summary failed", zap.String("phase", string(summary.Phase)), zap.Error(err))
		} else {
			d.logger.Debug("phase summary published", zap.String("message_id", id))
		}
	}
	if d.runs != nil {
		if err := d.runs.RecordPhase(ctx, *summary); err != nil {
			d.logger.Warn("record phase failed", zap.String("phase", string(summary.Phase)), zap.Error(err))
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if summary.Phase == crawler.PhaseLinks {
		d.latest = d.latest[:0]
	}
	d.latest = append(d.latest, *summary)
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
