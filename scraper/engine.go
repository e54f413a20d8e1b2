package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"ratecheck/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// Stage names the pipeline states a task moves through.
type Stage string

const (
	StageInit           Stage = "INIT"
	StageResolveURL     Stage = "RESOLVE_URL"
	StageFetchPage      Stage = "FETCH_PAGE"
	StageDetectMinStay  Stage = "DETECT_MINSTAY"
	StageRequeryMinStay Stage = "REQUERY_MINSTAY"
	StageExtractDOM     Stage = "EXTRACT_DOM"
	StageFallbackAPI    Stage = "FALLBACK_API"
)

// EngineConfig gathers the tuning of every pipeline stage.
type EngineConfig struct {
	Resolver        ResolverOptions
	Extractor       ExtractorOptions
	Fallback        FallbackOptions
	PageTimeout     time.Duration
	FallbackEnabled bool
}

// Engine resolves the nightly rate for one (hotel, date) task.
type Engine struct {
	sessions  SessionManager
	site      Site
	resolver  *Resolver
	extractor *Extractor
	fallback  *Fallback
	bots      *BotDetector
	cfg       EngineConfig
	logger    *slog.Logger

	tracer  trace.Tracer
	results metric.Int64Counter
}

func NewEngine(sessions SessionManager, site Site, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 15 * time.Second
	}

	results, err := otel.Meter("ratecheck/scraper").Int64Counter(
		"ratecheck.results",
		metric.WithDescription("rate lookups by status and reason"),
	)
	if err != nil {
		logger.Warn("results counter unavailable", "err", err)
		results = noop.Int64Counter{}
	}

	return &Engine{
		sessions:  sessions,
		site:      site,
		resolver:  NewResolver(site, cfg.Resolver, logger),
		extractor: NewExtractor(site, cfg.Extractor, logger),
		fallback:  NewFallback(site, cfg.Fallback, logger),
		bots:      NewBotDetector(),
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("ratecheck/scraper"),
		results:   results,
	}
}

type taskState struct {
	stage       Stage
	url         string
	nights      int
	minStay     bool
	diagnostics []models.RowDiagnostic
}

// Run drives one task through the pipeline. It always returns a result;
// failures, including panics, become NOT_FOUND with a reason.
func (e *Engine) Run(ctx context.Context, task models.Task) (result models.RateResult) {
	ctx, span := e.tracer.Start(ctx, "rate.task", trace.WithAttributes(
		attribute.String("hotel", task.Hotel.Name),
		attribute.String("date", task.Date.ISO()),
		attribute.String("site", e.site.Version()),
	))
	defer span.End()

	st := &taskState{stage: StageInit, nights: 1}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("task panicked",
				"hotel", task.Hotel.Name,
				"date", task.Date.ISO(),
				"stage", st.stage,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			result = models.NewNotFound(models.ReasonUnexpected, fmt.Sprint(rec), st.nights, task.Currency)
		}
		e.record(ctx, span, task, st, result)
	}()

	quote, err := e.run(ctx, span, task, st)
	if err != nil {
		var f *models.Failure
		if !errors.As(err, &f) {
			f = models.UnexpectedFailure(err.Error())
		}
		return models.NotFoundFrom(f, st.nights, task.Currency).WithDiagnostics(st.diagnostics)
	}
	return models.NewOK(quote, task.Currency).WithDiagnostics(st.diagnostics)
}

func (e *Engine) enter(span trace.Span, st *taskState, stage Stage) {
	st.stage = stage
	span.AddEvent(string(stage))
}

func (e *Engine) run(ctx context.Context, span trace.Span, task models.Task, st *taskState) (models.Quote, error) {
	sess, err := e.sessions.Acquire(ctx)
	if err != nil {
		return models.Quote{}, fmt.Errorf("acquire session: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			e.logger.Debug("session close failed", "err", err)
		}
	}()

	e.enter(span, st, StageResolveURL)
	canonical, err := e.propertyURL(ctx, sess, task.Hotel)
	if err != nil {
		return models.Quote{}, err
	}
	st.url = canonical

	e.enter(span, st, StageFetchPage)
	html, err := e.fetch(ctx, sess, canonical, task, st.nights)
	if err != nil {
		return models.Quote{}, err
	}

	e.enter(span, st, StageDetectMinStay)
	if n, ok := DetectMinStay(e.site, html, st.nights); ok {
		e.enter(span, st, StageRequeryMinStay)
		e.logger.Debug("minimum stay detected", "hotel", task.Hotel.Name, "nights", n)
		st.nights, st.minStay = n, true
		html, err = e.fetch(ctx, sess, canonical, task, n)
		if err != nil {
			return models.Quote{}, err
		}
	}

	e.enter(span, st, StageExtractDOM)
	ext, found, err := e.extractor.Cheapest(ctx, sess, st.nights, task.Debug)
	st.diagnostics = ext.Rows
	if err != nil {
		return models.Quote{}, err
	}
	if found {
		return models.Quote{
			PerNight:       ext.PerNight,
			TotalForStay:   ext.Total,
			NightsQueried:  st.nights,
			MinStayApplied: st.minStay,
			Source:         models.SourceDOM,
		}, nil
	}
	if !e.cfg.FallbackEnabled {
		return models.Quote{}, models.ExtractionFailure(models.ReasonNoValidRow, canonical)
	}

	e.enter(span, st, StageFallbackAPI)
	pageURL := e.site.PropertyURL(canonical, task.Date.CheckIn, st.nights, task.Currency)
	cookies, err := sess.Cookies(ctx, pageURL)
	if err != nil {
		e.logger.Debug("session cookies unavailable", "err", err)
	}
	return e.fallback.Quote(ctx, FallbackQuery{
		HTML:        html,
		PropertyURL: canonical,
		CheckIn:     task.Date.CheckIn,
		Nights:      st.nights,
		Currency:    task.Currency,
		Cookies:     cookies,
		UserAgent:   sess.Identity().UserAgent,
	})
}

func (e *Engine) propertyURL(ctx context.Context, sess Session, hotel models.HotelDescriptor) (string, error) {
	if !hotel.HasDirectURL() {
		return e.resolver.Resolve(ctx, sess, hotel)
	}
	canonical, err := Canonicalize(hotel.DirectURL, e.site.CanonicalHost())
	if err != nil {
		return "", models.ResolutionFailure(models.ReasonNoURL, err.Error())
	}
	return canonical, nil
}

// fetch loads the property page for the given stay length and returns its
// HTML. Challenge pages are reported as blocked.
func (e *Engine) fetch(ctx context.Context, sess Session, canonical string, task models.Task, nights int) (string, error) {
	pageURL := e.site.PropertyURL(canonical, task.Date.CheckIn, nights, task.Currency)
	if err := sess.Navigate(ctx, pageURL); err != nil {
		return "", err
	}

	waitErr := sess.WaitFor(ctx, e.site.Selectors().PropertyReady, e.cfg.PageTimeout)
	html, err := sess.HTML(ctx)
	if err != nil {
		return "", fmt.Errorf("read property page: %w", err)
	}
	title, _ := sess.Title(ctx)
	text := VisibleText(html)
	if blocked, reason, _ := e.bots.DetectBotWall(text, title); blocked {
		return "", models.FetchFailure(models.ReasonBlocked, e.bots.BlockType(text, title)+": "+reason)
	}
	if waitErr != nil {
		return "", waitErr
	}
	return html, nil
}

func (e *Engine) record(ctx context.Context, span trace.Span, task models.Task, st *taskState, r models.RateResult) {
	attrs := []attribute.KeyValue{
		attribute.String("status", string(r.Status())),
		attribute.String("reason", string(r.Reason())),
	}
	if q, ok := r.Quote(); ok {
		attrs = append(attrs, attribute.String("source", string(q.Source)))
		e.logger.Info("rate found",
			"hotel", task.Hotel.Name,
			"date", task.Date.ISO(),
			"per_night", q.PerNight.StringFixed(2),
			"currency", r.Currency(),
			"nights", q.NightsQueried,
			"source", q.Source,
		)
	} else {
		span.SetStatus(codes.Error, string(r.Reason()))
		e.logger.Info("no rate found",
			"hotel", task.Hotel.Name,
			"date", task.Date.ISO(),
			"stage", st.stage,
			"reason", r.Reason(),
			"detail", r.Detail(),
		)
	}
	span.SetAttributes(attrs...)
	e.results.Add(ctx, 1, metric.WithAttributes(attrs...))
}
