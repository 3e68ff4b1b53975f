package fetcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/docfetcher/internal/crawler"
)

// Promoter decides whether a static response should be re-fetched headless.
type Promoter interface {
	ShouldPromote(resp crawler.FetchResponse) bool
}

// Waiter blocks until a request to url may be sent.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Router implements crawler.Fetcher on top of a static and an optional headless fetcher.
type Router struct {
	static   crawler.Fetcher
	headless crawler.Fetcher
	promoter Promoter
	limiter  Waiter
	logger   *zap.Logger
}

// Option customizes a Router.
type Option func(*Router)

// WithHeadless enables rendering through f.
func WithHeadless(f crawler.Fetcher) Option {
	return func(r *Router) { r.headless = f }
}

// WithPromoter re-fetches static responses headless when p says so.
func WithPromoter(p Promoter) Option {
	return func(r *Router) { r.promoter = p }
}

// WithLimiter makes every fetch wait on w first.
func WithLimiter(w Waiter) Option {
	return func(r *Router) { r.limiter = w }
}

// WithLogger sets the router logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l.Named("fetcher")
		}
	}
}

// NewRouter builds a Router around the static fetcher.
func NewRouter(static crawler.Fetcher, opts ...Option) *Router {
	r := &Router{static: static, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch sends render requests to the headless fetcher when one is configured
// and everything else to the static fetcher.
func (r *Router) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, request.URL); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("%w: %v", crawler.ErrFetch, err)
		}
	}
	if request.Render {
		if r.headless != nil {
			return r.headless.Fetch(ctx, request)
		}
		r.logger.Debug("render requested but headless is disabled, fetching statically", zap.String("url", request.URL))
	}
	resp, err := r.static.Fetch(ctx, request)
	if err != nil || r.headless == nil || r.promoter == nil || !r.promoter.ShouldPromote(resp) {
		return resp, err
	}
	r.logger.Info("promoting to headless", zap.String("url", request.URL))
	rendered, herr := r.headless.Fetch(ctx, request)
	if herr != nil {
		r.logger.Warn("headless promotion failed, keeping static response", zap.String("url", request.URL), zap.Error(herr))
		return resp, nil
	}
	return rendered, nil
}
