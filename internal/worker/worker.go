// Package worker implements the article batch loop: extract each link of a
// batch in order and append the resulting articles to the incremental log.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docfetcher/internal/crawler"
	"github.com/JakeFAU/docfetcher/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	// Overwrite re-extracts links whose URL already has an article.
	Overwrite bool
	// Delay is slept between items, never after the last one.
	Delay time.Duration
	// ProgressEvery logs a progress line every n processed items; 0 disables it.
	ProgressEvery int
}

// Worker processes batches of links sequentially. It holds no per-batch
// state, so one Worker may serve several goroutines.
type Worker struct {
	extractor crawler.Extractor
	log       crawler.Appender[crawler.ArticleRecord]
	clock     crawler.Clock
	sleeper   crawler.Sleeper
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. log and sleeper may be nil.
func New(
	extractor crawler.Extractor,
	log crawler.Appender[crawler.ArticleRecord],
	clock crawler.Clock,
	sleeper crawler.Sleeper,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		extractor: extractor,
		log:       log,
		clock:     clock,
		sleeper:   sleeper,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}
}

// Process extracts every link of batch that is not in known (unless Overwrite
// is set) until budget runs out, and returns the articles in processing order.
// known is only read.
func (w *Worker) Process(
	ctx context.Context,
	batch []crawler.LinkRecord,
	known map[string]struct{},
	budget *Budget,
) []crawler.ArticleRecord {
	var articles []crawler.ArticleRecord
	for i, link := range batch {
		if err := ctx.Err(); err != nil {
			w.logger.Warn("batch canceled", zap.Int("processed", i), zap.Error(err))
			break
		}
		if w.isKnown(known, link.URL) {
			w.logger.Info("article already exists, skipping", zap.String("url", link.URL), zap.String("title", link.Title))
			metrics.ObserveSkip("article", "known")
			continue
		}
		if !budget.Take() {
			w.logger.Info("reached max articles, stopping batch", zap.Int("processed", i))
			break
		}

		if article, ok := w.handleLink(ctx, link); ok {
			articles = append(articles, article)
		}

		if w.cfg.ProgressEvery > 0 && (i+1)%w.cfg.ProgressEvery == 0 {
			w.logger.Info("batch progress",
				zap.Int("processed", i+1),
				zap.Int("batch_size", len(batch)),
				zap.Int("articles", len(articles)),
			)
		}

		if w.cfg.Delay > 0 && w.sleeper != nil && i < len(batch)-1 {
			if err := w.sleeper.Sleep(ctx, w.cfg.Delay); err != nil {
				w.logger.Warn("batch canceled during delay", zap.Error(err))
				break
			}
		}
	}
	w.logger.Info("finished batch", zap.Int("batch_size", len(batch)), zap.Int("articles", len(articles)))
	return articles
}

func (w *Worker) isKnown(known map[string]struct{}, url string) bool {
	if w.cfg.Overwrite {
		return false
	}
	_, ok := known[url]
	return ok
}

func (w *Worker) handleLink(ctx context.Context, link crawler.LinkRecord) (crawler.ArticleRecord, bool) {
	out := w.extractor.Extract(ctx, link.URL)
	if out == nil {
		w.logger.Info("article could not be extracted, skipping",
			zap.String("url", link.URL),
			zap.String("title", link.Title),
		)
		return crawler.ArticleRecord{}, false
	}

	article := crawler.NewArticle(link, *out, w.now())
	if w.log != nil {
		if err := w.log.Append(ctx, article); err != nil {
			w.logger.Error("append article failed", zap.String("url", link.URL), zap.Error(err))
		}
	}
	metrics.ObserveArticle(string(article.Extraction))
	w.logger.Debug("article extracted",
		zap.String("url", link.URL),
		zap.String("extraction", string(article.Extraction)),
		zap.Int("pages", len(article.Text)),
	)
	return article, true
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}
