// Package frontier walks the paginated listing pages of one start target and
// collects the detail links they reference.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docfetcher/internal/crawler"
	"github.com/JakeFAU/docfetcher/internal/metrics"
)

// EmptyPagePolicy decides what a listing page without links means.
type EmptyPagePolicy string

const (
	// EmptyPageContinue advances to the next page; only the not-found sentinel stops.
	EmptyPageContinue EmptyPagePolicy = "continue"
	// EmptyPageStop ends the walk at the first page without links.
	EmptyPageStop EmptyPagePolicy = "stop"
)

// ParseEmptyPagePolicy maps a config value to a policy. Blank means continue.
func ParseEmptyPagePolicy(raw string) (EmptyPagePolicy, error) {
	switch EmptyPagePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", EmptyPageContinue:
		return EmptyPageContinue, nil
	case EmptyPageStop:
		return EmptyPageStop, nil
	default:
		return "", fmt.Errorf("unknown empty page policy %q", raw)
	}
}

// Config controls pagination.
type Config struct {
	StartPage          int
	MaxPages           int
	Delay              time.Duration
	PagePlaceholder    string
	KeywordPlaceholder string
	EmptyPagePolicy    EmptyPagePolicy
	// Render and WaitFor are forwarded to the fetcher for listing pages.
	Render  bool
	WaitFor string
	// Blocklist drops links to matching hosts before they are recorded.
	Blocklist *crawler.DomainBlocklist
}

// Result is the outcome of one walk.
type Result struct {
	// Links holds newly discovered links in discovery order.
	Links []crawler.LinkRecord
	// Repeats counts links seen again on a later page of the same walk.
	Repeats int
	// Known counts links skipped because the snapshot already had them.
	Known int
	// Blocked counts links dropped by the domain blocklist.
	Blocked int
	// Pages is the number of listing pages fetched.
	Pages int
}

// Walker paginates one target at a time. A Walker holds no per-walk state and
// may be shared by concurrent goroutines.
type Walker struct {
	fetcher crawler.Fetcher
	parser  crawler.Parser
	log     crawler.Appender[crawler.LinkRecord]
	sleeper crawler.Sleeper
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Walker. log and sleeper may be nil.
func New(
	fetcher crawler.Fetcher,
	parser crawler.Parser,
	log crawler.Appender[crawler.LinkRecord],
	sleeper crawler.Sleeper,
	cfg Config,
	logger *zap.Logger,
) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StartPage <= 0 {
		cfg.StartPage = 1
	}
	if cfg.PagePlaceholder == "" {
		cfg.PagePlaceholder = crawler.DefaultPagePlaceholder
	}
	if cfg.KeywordPlaceholder == "" {
		cfg.KeywordPlaceholder = crawler.DefaultKeywordPlaceholder
	}
	if cfg.EmptyPagePolicy == "" {
		cfg.EmptyPagePolicy = EmptyPageContinue
	}
	return &Walker{
		fetcher: fetcher,
		parser:  parser,
		log:     log,
		sleeper: sleeper,
		cfg:     cfg,
		logger:  logger.Named("frontier"),
	}
}

// Walk paginates target until the parser reports the end, MaxPages is
// exceeded, a single-page target has been read, or ctx is done. known holds the
// URLs already in the snapshot and is only read.
func (w *Walker) Walk(ctx context.Context, target crawler.Target, known map[string]struct{}) Result {
	template := target.URL
	if target.Keyword != "" {
		template = strings.ReplaceAll(template, w.cfg.KeywordPlaceholder, crawler.EncodeKeyword(target.Keyword))
	}
	site := metrics.SanitizeSite(template)
	logger := w.logger.With(zap.String("target", template))
	if target.Keyword != "" {
		logger = logger.With(zap.String("keyword", target.Keyword))
	}
	logger.Info("walking target")

	var res Result
	seen := make(map[string]struct{})
	for page := w.cfg.StartPage; ; page++ {
		if err := ctx.Err(); err != nil {
			logger.Warn("walk canceled", zap.Int("page", page), zap.Error(err))
			break
		}
		pageURL, paginated := crawler.PageURL(template, w.cfg.PagePlaceholder, page)
		links, err := w.readPage(ctx, pageURL)
		res.Pages++
		if errors.Is(err, crawler.ErrNoSuchPage) {
			logger.Info("no more pages", zap.String("url", pageURL), zap.Int("page", page))
			break
		}
		if err != nil {
			logger.Warn("listing page skipped",
				zap.String("url", pageURL),
				zap.Int("page", page),
				zap.String("reason", skipReason(err)),
				zap.Error(err),
			)
			metrics.ObserveSkip("listing", skipReason(err))
		}

		added := 0
		for _, link := range links {
			if w.cfg.Blocklist.Blocks(link.URL) {
				res.Blocked++
				logger.Info("link skipped", zap.String("url", link.URL), zap.String("reason", "blocked_domain"))
				continue
			}
			if _, ok := known[link.URL]; ok {
				res.Known++
				logger.Info("link skipped", zap.String("url", link.URL), zap.String("reason", "already_known"))
				continue
			}
			if _, ok := seen[link.URL]; ok {
				res.Repeats++
				logger.Info("link skipped", zap.String("url", link.URL), zap.String("reason", "repeat"))
				continue
			}
			seen[link.URL] = struct{}{}
			link.PageURL = pageURL
			link.Page = page
			link.Keyword = target.Keyword
			res.Links = append(res.Links, link)
			added++
			if w.log != nil {
				if err := w.log.Append(ctx, link); err != nil {
					logger.Error("append link failed", zap.String("url", link.URL), zap.Error(err))
				}
			}
		}
		metrics.AddLinksDiscovered(site, added)
		logger.Info("listing page done",
			zap.String("url", pageURL),
			zap.Int("page", page),
			zap.Int("links", len(links)),
			zap.Int("new", added),
		)

		if !paginated {
			break
		}
		if len(links) == 0 && w.cfg.EmptyPagePolicy == EmptyPageStop {
			logger.Info("empty listing page, stopping", zap.String("url", pageURL), zap.Int("page", page))
			break
		}
		if w.cfg.MaxPages > 0 && page+1 > w.cfg.MaxPages {
			logger.Info("reached max pages", zap.Int("max_pages", w.cfg.MaxPages))
			break
		}
		if w.cfg.Delay > 0 && w.sleeper != nil {
			if err := w.sleeper.Sleep(ctx, w.cfg.Delay); err != nil {
				logger.Warn("walk canceled during delay", zap.Error(err))
				break
			}
		}
	}

	logger.Info("finished target",
		zap.Int("links", len(res.Links)),
		zap.Int("pages", res.Pages),
		zap.Int("repeats", res.Repeats),
		zap.Int("known", res.Known),
		zap.Int("blocked", res.Blocked),
	)
	return res
}

func (w *Walker) readPage(ctx context.Context, pageURL string) ([]crawler.LinkRecord, error) {
	resp, err := w.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:     pageURL,
		Render:  w.cfg.Render,
		WaitFor: w.cfg.WaitFor,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	links, err := w.parser.ParseListing(resp)
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	return links, nil
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, crawler.ErrFetch):
		return "fetch"
	case errors.Is(err, crawler.ErrParse):
		return "parse"
	default:
		return "error"
	}
}
