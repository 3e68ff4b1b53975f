// Package app builds the long-lived services behind the CLI and wires them
// into one pipeline per run.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path"
	"sync"
	"syscall"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/docfetcher/internal/api"
	"github.com/JakeFAU/docfetcher/internal/clock/system"
	"github.com/JakeFAU/docfetcher/internal/config"
	"github.com/JakeFAU/docfetcher/internal/crawler"
	"github.com/JakeFAU/docfetcher/internal/dispatcher"
	"github.com/JakeFAU/docfetcher/internal/extract"
	"github.com/JakeFAU/docfetcher/internal/extract/ocr"
	"github.com/JakeFAU/docfetcher/internal/extract/ocr/mupdf"
	"github.com/JakeFAU/docfetcher/internal/extract/ocr/tesseract"
	"github.com/JakeFAU/docfetcher/internal/extract/pdftext"
	"github.com/JakeFAU/docfetcher/internal/fetcher"
	collyfetcher "github.com/JakeFAU/docfetcher/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/docfetcher/internal/fetcher/headless"
	"github.com/JakeFAU/docfetcher/internal/frontier"
	"github.com/JakeFAU/docfetcher/internal/hash/sha256"
	"github.com/JakeFAU/docfetcher/internal/id/uuid"
	"github.com/JakeFAU/docfetcher/internal/logging"
	"github.com/JakeFAU/docfetcher/internal/metrics"
	"github.com/JakeFAU/docfetcher/internal/parser"
	"github.com/JakeFAU/docfetcher/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/docfetcher/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/docfetcher/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/docfetcher/internal/storage/gcs"
	localstorage "github.com/JakeFAU/docfetcher/internal/storage/local"
	memorystorage "github.com/JakeFAU/docfetcher/internal/storage/memory"
	pgstore "github.com/JakeFAU/docfetcher/internal/storage/postgres"
	"github.com/JakeFAU/docfetcher/internal/store"
	"github.com/JakeFAU/docfetcher/internal/telemetry"
	"github.com/JakeFAU/docfetcher/internal/worker"
)

// Version is reported in trace resources.
var Version = "dev"

// Run modes.
const (
	ModeFetch    = "fetch"
	ModeLinks    = "links"
	ModeArticles = "articles"
)

// App contains the application's dependencies.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	clock    *system.Clock
	ids      crawler.IDGenerator
	registry *parser.Registry
	fetcher  crawler.Fetcher
	headless *headlessfetcher.Fetcher

	blobs     crawler.BlobStore
	gcs       *gcsstorage.BlobStore
	publisher crawler.Publisher
	pubsub    *gcppublisher.Publisher
	runs      *pgstore.RunStore

	tracerProvider *sdktrace.TracerProvider

	// baseCtx parents runs started through Start.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	running bool
	latest  []crawler.PhaseSummary
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		var err error
		logger, err = logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	metrics.Init()

	baseCtx, cancel := context.WithCancel(context.Background())
	app := &App{
		cfg:     cfg,
		logger:  logger,
		clock:   system.New(),
		ids:     uuid.New(),
		baseCtx: baseCtx,
		cancel:  cancel,
	}

	steps := []func(context.Context) error{
		app.setupTracing,
		app.setupRegistry,
		app.setupStorage,
		app.setupDatabase,
		app.setupPublisher,
		app.setupFetcher,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			_ = app.Close(ctx)
			return nil, err
		}
	}
	app.logger.Info("application built",
		zap.String("site", cfg.Fetcher.Site),
		zap.String("storage", cfg.Storage.Backend),
		zap.Int("workers", cfg.Fetcher.Workers),
	)
	return app, nil
}

func (a *App) setupTracing(ctx context.Context) error {
	var exporters []sdktrace.SpanExporter
	if a.cfg.Tracing.Enabled {
		exp, err := telemetry.NewCloudTraceExporter(a.cfg.Tracing.ProjectID)
		if err != nil {
			return fmt.Errorf("tracer init failed: %w", err)
		}
		exporters = append(exporters, exp)
		a.logger.Info("exporting spans to Cloud Trace", zap.String("project", a.cfg.Tracing.ProjectID))
	}
	tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Tracing.ServiceName, Version, exporters...)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerProvider = tp
	return nil
}

func (a *App) setupRegistry(context.Context) error {
	a.registry = parser.NewRegistry()
	for _, desc := range a.cfg.Descriptors() {
		if err := a.registry.Register(desc); err != nil {
			return fmt.Errorf("register site %s: %w", desc.Name, err)
		}
	}
	if _, ok := a.registry.Lookup(a.cfg.Fetcher.Site); !ok {
		return fmt.Errorf("unknown site %q (known: %v)", a.cfg.Fetcher.Site, a.registry.Names())
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		blobStore, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcs = blobStore
		a.blobs = blobStore
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case config.BackendLocal:
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = blobStore
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.BaseDir))
	case config.BackendMemory:
		a.blobs = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory storage backend")
	default:
		a.logger.Debug("no storage backend configured")
	}
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Debug("no DSN specified, run ledger disabled")
		return nil
	}
	runs, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.runs = runs
	a.logger.Info("run ledger initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Debug("no Pub/Sub project configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = pub
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return nil
}

func (a *App) setupFetcher(context.Context) error {
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:    a.cfg.HTTP.UserAgent,
		Timeout:      a.cfg.HTTP.Timeout,
		MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
	}, a.logger)
	opts := []fetcher.Option{
		fetcher.WithLogger(a.logger),
		fetcher.WithLimiter(ratelimit.New(ratelimit.Config{
			RPS:   a.cfg.HTTP.RateLimitRPS,
			Burst: a.cfg.HTTP.RateLimitBurst,
		})),
	}
	if a.cfg.Headless.Enabled {
		hl, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.HTTP.UserAgent,
			NavigationTimeout: a.cfg.Headless.NavTimeout,
			SettleDelay:       a.cfg.Headless.SettleDelay,
			ExecPath:          a.cfg.Headless.ExecPath,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.headless = hl
		opts = append(opts, fetcher.WithHeadless(hl))
		if a.cfg.Headless.Promote {
			opts = append(opts, fetcher.WithPromoter(fetcher.NewHeuristic(a.cfg.Headless.PromotionThreshold)))
		}
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	}
	a.fetcher = fetcher.NewRouter(static, opts...)
	return nil
}

// pipeline is the per-run object graph.
type pipeline struct {
	dispatch *dispatcher.Dispatcher
	links    *store.Collection[crawler.LinkRecord]
}

func (a *App) newPipeline(runID string) (*pipeline, error) {
	cfg := a.cfg
	logger := a.logger.With(zap.String("run_id", runID))

	site, err := a.registry.Parser(cfg.Fetcher.Site, logger)
	if err != nil {
		return nil, fmt.Errorf("build parser: %w", err)
	}
	desc := site.Descriptor()
	render := desc.Render || cfg.Fetcher.Render
	waitFor := desc.WaitFor
	if cfg.Fetcher.WaitFor != "" {
		waitFor = cfg.Fetcher.WaitFor
	}

	snapshotPrefix := path.Join(cfg.Storage.Prefix, "snapshots", cfg.Fetcher.Site)
	links, err := store.New[crawler.LinkRecord](store.Config{
		Dir:          cfg.Fetcher.OutputDir,
		Name:         cfg.Fetcher.LinksFile,
		Mirror:       a.blobs,
		MirrorPrefix: snapshotPrefix,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("links store: %w", err)
	}
	articles, err := store.New[crawler.ArticleRecord](store.Config{
		Dir:          cfg.Fetcher.OutputDir,
		Name:         cfg.Fetcher.ArticlesFile,
		Mirror:       a.blobs,
		MirrorPrefix: snapshotPrefix,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("articles store: %w", err)
	}

	var recognizer extract.OCR
	if cfg.Extract.OCREnabled {
		recognizer = ocr.NewPipeline(
			mupdf.New(cfg.Extract.OCRDPI),
			tesseract.New(cfg.Extract.OCRLanguages...),
			ocr.Options{Deskew: cfg.Extract.Deskew},
			logger,
		)
	}
	var archive crawler.BlobStore
	if cfg.Extract.ArchiveDocuments {
		archive = a.blobs
	}
	cascade := extract.New(a.fetcher, site, pdftext.New(), recognizer, archive, extract.Config{
		FallbackMarkers:  cfg.Extract.FallbackMarkers,
		OCROnBlankText:   cfg.Extract.OCROnBlankText,
		ArchiveDocuments: cfg.Extract.ArchiveDocuments,
		ArchivePrefix:    path.Join(cfg.Storage.Prefix, "documents"),
		Render:           render,
		WaitFor:          waitFor,
	}, logger, extract.WithHasher(sha256.New()))

	policy, err := frontier.ParseEmptyPagePolicy(cfg.Fetcher.EmptyPagePolicy)
	if err != nil {
		return nil, err
	}
	walker := frontier.New(a.fetcher, site, links, a.clock, frontier.Config{
		StartPage:          cfg.Fetcher.StartPage,
		MaxPages:           cfg.Fetcher.MaxPages,
		Delay:              cfg.Fetcher.Delay,
		PagePlaceholder:    cfg.Fetcher.PagePlaceholder,
		KeywordPlaceholder: cfg.Fetcher.KeywordPlaceholder,
		EmptyPagePolicy:    policy,
		Render:             render,
		WaitFor:            waitFor,
		Blocklist:          crawler.NewDomainBlocklist(cfg.Fetcher.BlockedDomains),
	}, logger)

	batches := worker.New(cascade, articles, a.clock, a.clock, worker.Config{
		Overwrite:     cfg.Fetcher.OverwriteExisting,
		Delay:         cfg.Fetcher.Delay,
		ProgressEvery: cfg.Fetcher.ProgressEvery,
	}, logger)

	opts := []dispatcher.Option{dispatcher.WithClock(a.clock)}
	if a.publisher != nil && cfg.PubSub.Topic != "" {
		opts = append(opts, dispatcher.WithPublisher(a.publisher))
	}
	if a.runs != nil {
		opts = append(opts, dispatcher.WithRunStore(a.runs))
	}
	d := dispatcher.New(walker, batches, links, articles, dispatcher.Config{
		RunID:       runID,
		Site:        cfg.Fetcher.Site,
		Workers:     cfg.Fetcher.Workers,
		MaxArticles: cfg.Fetcher.MaxArticles,
		Overwrite:   cfg.Fetcher.OverwriteExisting,
		Topic:       cfg.PubSub.Topic,
	}, a.logger, opts...)
	return &pipeline{dispatch: d, links: links}, nil
}

// Execute runs mode to completion under ctx and returns the phase summaries.
func (a *App) Execute(ctx context.Context, mode string) ([]crawler.PhaseSummary, error) {
	if err := validMode(mode); err != nil {
		return nil, err
	}
	if err := a.acquire(); err != nil {
		return nil, err
	}
	defer a.release()
	runID, err := a.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	return a.execute(ctx, runID, mode)
}

// Start launches mode in the background and returns the new run ID. It
// implements api.Trigger.
func (a *App) Start(mode string) (string, error) {
	if err := validMode(mode); err != nil {
		return "", err
	}
	if err := a.acquire(); err != nil {
		return "", err
	}
	runID, err := a.ids.NewID()
	if err != nil {
		a.release()
		return "", fmt.Errorf("generate run id: %w", err)
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.release()
		if _, err := a.execute(a.baseCtx, runID, mode); err != nil {
			a.logger.Error("background run failed",
				zap.String("run_id", runID), zap.String("mode", mode), zap.Error(err))
		}
	}()
	return runID, nil
}

func (a *App) execute(ctx context.Context, runID, mode string) ([]crawler.PhaseSummary, error) {
	logger := logging.Component(a.logger, "app", runID)
	targets := a.cfg.Targets()
	logger.Info("run started", zap.String("mode", mode), zap.Int("targets", len(targets)))

	p, err := a.newPipeline(runID)
	if err != nil {
		return nil, err
	}

	var summaries []crawler.PhaseSummary
	switch mode {
	case ModeFetch:
		summaries, err = p.dispatch.Run(ctx, targets)
	case ModeLinks:
		var summary crawler.PhaseSummary
		if summary, _, err = p.dispatch.CrawlLinks(ctx, targets); err == nil {
			summaries = []crawler.PhaseSummary{summary}
		}
	case ModeArticles:
		var links []crawler.LinkRecord
		links, err = p.links.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load links: %w", err)
		}
		var summary crawler.PhaseSummary
		if summary, _, err = p.dispatch.ExtractArticles(ctx, links); err == nil {
			summaries = []crawler.PhaseSummary{summary}
		}
	}
	if latest := p.dispatch.Latest(); len(latest) > 0 {
		a.mu.Lock()
		a.latest = latest
		a.mu.Unlock()
	}
	if err != nil {
		return summaries, fmt.Errorf("%s run: %w", mode, err)
	}
	logger.Info("run finished", zap.String("mode", mode), zap.Int("phases", len(summaries)))
	return summaries, nil
}

// Latest returns the phase summaries of the last completed run. It implements
// api.SummarySource.
func (a *App) Latest() []crawler.PhaseSummary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]crawler.PhaseSummary, len(a.latest))
	copy(out, a.latest)
	return out
}

func (a *App) acquire() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return api.ErrRunInProgress
	}
	a.running = true
	return nil
}

func (a *App) release() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

func (a *App) ready(context.Context) error {
	if a.baseCtx.Err() != nil {
		return errors.New("shutting down")
	}
	return nil
}

func validMode(mode string) error {
	switch mode {
	case ModeFetch, ModeLinks, ModeArticles:
		return nil
	default:
		return fmt.Errorf("unknown mode %q (want %s, %s or %s)", mode, ModeFetch, ModeLinks, ModeArticles)
	}
}

// Serve runs the status server until ctx is canceled or SIGINT/SIGTERM arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(a, a.cfg.Server.APIKey, a.logger,
		api.WithTrigger(a),
		api.WithReadiness(a.ready),
	)
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", a.cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		serveErr = fmt.Errorf("http server: %w", err)
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return serveErr
}

// Close cancels background runs, waits for them and releases every client.
func (a *App) Close(ctx context.Context) error {
	a.cancel()
	a.wg.Wait()
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.runs != nil {
		a.runs.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
