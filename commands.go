package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"ratecheck/config"
	"ratecheck/export"
	"ratecheck/models"
	"ratecheck/scheduler"
	"ratecheck/scraper"
	"ratecheck/telemetry"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:           "ratecheck",
	Short:         "ratecheck compares nightly hotel rates on booking.com.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging.")
	rootCmd.Version = version
}

func initSlog(cfg *config.Config) *slog.Logger {
	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)
	return logger
}

// app holds the long-lived pieces shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	tel      telemetry.Telemetry
	sessions *scraper.RodSessions
	coord    *scheduler.Coordinator
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := initSlog(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTELEndpoint,
		Headers:     cfg.OTELHeaders,
	})
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	if tel.Enabled() {
		telemetry.InstrumentPerfStats(ctx, 30*time.Second)
	}

	site := cfg.Site()
	sessions, err := scraper.NewRodSessions(cfg.BrowserOptions(), site, logger)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("start browser: %w", err)
	}

	engine := scraper.NewEngine(sessions, site, cfg.EngineConfig(), logger)
	logger.Debug("rate engine ready", "site", site.Version(), "concurrency", cfg.Concurrency)

	return &app{
		cfg:      cfg,
		logger:   logger,
		tel:      tel,
		sessions: sessions,
		coord:    scheduler.NewCoordinator(engine, cfg.CoordinatorOptions(), logger),
	}, nil
}

func (a *app) Close() {
	if err := a.sessions.Close(); err != nil {
		a.logger.Warn("browser close failed", "err", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", "err", err)
	}
}

// parseHotel reads "name", "name|url" or "name|url|city".
func parseHotel(s string) (models.HotelDescriptor, error) {
	parts := strings.Split(s, "|")
	if len(parts) > 3 {
		return models.HotelDescriptor{}, fmt.Errorf("hotel %q: expected name|url|city", s)
	}
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	h := models.HotelDescriptor{
		Name:      strings.TrimSpace(parts[0]),
		DirectURL: strings.TrimSpace(parts[1]),
		City:      strings.TrimSpace(parts[2]),
	}
	if h.Name == "" {
		return h, fmt.Errorf("hotel %q: name is required", s)
	}
	if h.HasDirectURL() && !scraper.LooksLikePropertyURL(h.DirectURL) {
		slog.Warn("url does not look like a property page", "hotel", h.Name, "url", h.DirectURL)
	}
	return h, nil
}

type checkFlags struct {
	batch          string
	hotels         []string
	dates          []string
	currency       string
	generateFrom   string
	generateMonths int
	debug          bool
	csvDir         string
	concurrency    int
}

var checkOpts checkFlags

func init() {
	f := checkCmd.Flags()
	f.StringVarP(&checkOpts.batch, "batch", "b", "", "json5 batch file with hotels, dates and currency.")
	f.StringArrayVar(&checkOpts.hotels, "hotel", nil, "Hotel as name, name|url or name|url|city. Repeatable.")
	f.StringArrayVarP(&checkOpts.dates, "date", "d", nil, "Check-in date (dd.mm.yyyy or yyyy-mm-dd). Repeatable.")
	f.StringVarP(&checkOpts.currency, "currency", "c", "", "Currency code, e.g. EUR.")
	f.StringVar(&checkOpts.generateFrom, "generate-from", "", "Start date for generated dates.")
	f.IntVar(&checkOpts.generateMonths, "generate-months", 0, "Append two generated dates per month for this many months.")
	f.BoolVar(&checkOpts.debug, "debug", false, "Print per-pair status and inspected room rows.")
	f.StringVar(&checkOpts.csvDir, "csv", "", "Write booking_rates_<CUR>.csv into this directory.")
	f.IntVar(&checkOpts.concurrency, "concurrency", 0, "Override the number of parallel lookups.")
	rootCmd.AddCommand(checkCmd)
}

// buildRequest merges the batch file with command line values, which win.
func buildRequest(opts checkFlags) (models.RateCheckRequest, error) {
	var req models.RateCheckRequest
	if opts.batch != "" {
		var err error
		req, err = config.ReadBatch(opts.batch)
		if err != nil {
			return req, fmt.Errorf("read batch: %w", err)
		}
	}
	for _, s := range opts.hotels {
		h, err := parseHotel(s)
		if err != nil {
			return req, err
		}
		req.Hotels = append(req.Hotels, h)
	}
	req.Dates = append(req.Dates, opts.dates...)
	if opts.currency != "" {
		req.Currency = opts.currency
	}
	if opts.generateMonths > 0 {
		req.GenerateMonths = opts.generateMonths
		req.GenerateFrom = opts.generateFrom
	}
	req.Debug = req.Debug || opts.debug
	return req, nil
}

var checkCmd = &cobra.Command{
	Use:   "check [--batch batch.json5] [--hotel name|url|city]... [--date dd.mm.yyyy]...",
	Short: "Looks up the cheapest nightly rate for every hotel and date.",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildRequest(checkOpts)
		if err != nil {
			return err
		}
		dates, err := req.DateQueries(time.Now())
		if err != nil {
			return err
		}
		if len(req.Hotels) == 0 || len(dates) == 0 {
			return errors.New("at least one hotel and one date are required")
		}

		cfg := config.Load()
		if checkOpts.concurrency > 0 {
			cfg.Concurrency = checkOpts.concurrency
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		hotels, dates, currency, err := a.coord.Normalize(req.Hotels, dates, req.Currency)
		if err != nil {
			return err
		}
		results, err := a.coord.Run(cmd.Context(), hotels, dates, currency, req.Debug, func(done, total int) {
			a.logger.Debug("progress", "done", done, "total", total)
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		layout := export.LayoutFor(hotels, dates)
		fmt.Fprintf(out, "Nightly rates (%s)\n", currency)
		fmt.Fprintln(out, export.RatesTable(results, layout).Render())
		if req.Debug {
			fmt.Fprintln(out, export.DebugTable(results).Render())
			fmt.Fprintln(out, export.DiagnosticsTable(results).Render())
		}
		fmt.Fprintln(out, results.Summary().Message())

		if checkOpts.csvDir != "" {
			path, err := export.SaveCSV(checkOpts.csvDir, currency, results, layout)
			if err != nil {
				return err
			}
			a.logger.Info("csv written", "path", path)
		}
		return nil
	},
}

var (
	datesFrom   string
	datesMonths int
)

func init() {
	datesCmd.Flags().StringVar(&datesFrom, "from", "", "Start date (defaults to today).")
	datesCmd.Flags().IntVarP(&datesMonths, "months", "m", 3, "Number of months to cover.")
	rootCmd.AddCommand(datesCmd)
}

var datesCmd = &cobra.Command{
	Use:   "dates [--from dd.mm.yyyy] [--months n]",
	Short: "Prints two check-in dates per month: one weekday night and one weekend night.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if datesMonths < 1 {
			return errors.New("--months must be at least 1")
		}
		start := time.Now()
		if datesFrom != "" {
			d, err := models.ParseDate(datesFrom)
			if err != nil {
				return err
			}
			start = d.CheckIn
		}
		for _, d := range models.GenerateDates(start, datesMonths) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", d.Display(), d.CheckIn.Weekday().String()[:3])
		}
		return nil
	},
}
