// catalog-harvester
// -----------------
//
// Job-oriented harvester for a JS-rendered wholesale catalog:
// render -> {network capture, embedded state, DOM scan} -> normalize ->
// dedup/target accounting -> exploration loop -> batched detail enrichment ->
// sink (append-only CSV or Postgres).
//
// All site/session specifics live behind the adapters package; the default
// surface and fetcher are offline-safe mocks so the job can run end to end
// with no network access.
//
// Configuration is primarily via environment variables (flags can override):
//   CATALOG_URL, TARGET_COUNT, SURFACE, AUTH_COOKIES, ENRICH_WORKERS,
//   STALL_THRESHOLD, OUT_CSV, PG_DSN, PG_SCHEMA, METRICS_ADDR, ...
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"catalog-harvester/adapters"
	"catalog-harvester/harvest"
	"catalog-harvester/sink"
)

// ───────── Config ─────────

type config struct {
	catalogURL string
	baseURL    string
	cdnBase    string
	target     int

	surface  string // mock|chrome
	headless bool
	cookies  string

	workers   int
	stall     int
	settleMs  int
	paceMinMs int
	paceMaxMs int
	fetchRPS  float64
	proxy     string

	outCSV       string
	pgDSN        string
	pgSchema     string
	pgMaxConns   int
	pgViaBouncer bool

	metricsAddr string
	logLevel    string
	jsonLogs    bool
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func parseFlags() config {
	var cfg config

	flag.StringVar(&cfg.catalogURL, "catalog-url", envString("CATALOG_URL", "https://example-catalog.invalid/search"), "Listing page to harvest. Env: CATALOG_URL")
	flag.StringVar(&cfg.baseURL, "base-url", envString("BASE_URL", "https://example-catalog.invalid"), "Catalog origin used to derive product/brand URLs. Env: BASE_URL")
	flag.StringVar(&cfg.cdnBase, "cdn-base", envString("CDN_BASE", "https://cdn.example-catalog.invalid/images"), "Image CDN prefix for bare image tokens. Env: CDN_BASE")
	flag.IntVar(&cfg.target, "target", envInt("TARGET_COUNT", 20), "Number of unique products to collect. Env: TARGET_COUNT")

	flag.StringVar(&cfg.surface, "surface", envString("SURFACE", "mock"), "Rendering surface: mock|chrome. Env: SURFACE")
	flag.BoolVar(&cfg.headless, "headless", envBool("HEADLESS", true), "Run the browser headless. Env: HEADLESS")
	flag.StringVar(&cfg.cookies, "cookies", envString("AUTH_COOKIES", ""), "Pre-set auth cookies, \"k=v; k2=v2\". Env: AUTH_COOKIES")

	flag.IntVar(&cfg.workers, "workers", envInt("ENRICH_WORKERS", 6), "Enrichment concurrency width. Env: ENRICH_WORKERS")
	flag.IntVar(&cfg.stall, "stall", envInt("STALL_THRESHOLD", 5), "Zero-yield cycles tolerated before exhaustion. Env: STALL_THRESHOLD")
	flag.IntVar(&cfg.settleMs, "settle-ms", envInt("SETTLE_MS", 1500), "Settle wait after each reveal, ms. Env: SETTLE_MS")
	flag.IntVar(&cfg.paceMinMs, "pace-min-ms", envInt("PACE_MIN_MS", 1000), "Minimum inter-batch delay, ms. Env: PACE_MIN_MS")
	flag.IntVar(&cfg.paceMaxMs, "pace-max-ms", envInt("PACE_MAX_MS", 2000), "Maximum inter-batch delay, ms. Env: PACE_MAX_MS")
	flag.Float64Var(&cfg.fetchRPS, "fetch-rps", envFloat("FETCH_RPS", 0), "Detail fetch rate limit, req/s (0 = unlimited). Env: FETCH_RPS")
	flag.StringVar(&cfg.proxy, "proxy", envString("FETCH_PROXY", ""), "Proxy URL for detail fetches. Env: FETCH_PROXY")

	flag.StringVar(&cfg.outCSV, "out", envString("OUT_CSV", ""), "Output CSV path (append-only). Env: OUT_CSV")
	flag.StringVar(&cfg.pgDSN, "pg-dsn", envString("PG_DSN", ""), "Postgres DSN (enables DB sink). Env: PG_DSN")
	flag.StringVar(&cfg.pgSchema, "pg-schema", envString("PG_SCHEMA", "public"), "Target Postgres schema. Env: PG_SCHEMA")
	flag.IntVar(&cfg.pgMaxConns, "pg-max-conns", envInt("PG_MAX_CONNS", 2), "DB max connections. Env: PG_MAX_CONNS")
	flag.BoolVar(&cfg.pgViaBouncer, "pg-via-bouncer", envBool("PG_VIA_BOUNCER", true), "Use simple protocol for PgBouncer. Env: PG_VIA_BOUNCER")

	flag.StringVar(&cfg.metricsAddr, "metrics", envString("METRICS_ADDR", ""), "Serve /metrics and pprof on this address. Env: METRICS_ADDR")
	flag.StringVar(&cfg.logLevel, "loglevel", envString("LOG_LEVEL", "info"), "Log level. Env: LOG_LEVEL")
	flag.BoolVar(&cfg.jsonLogs, "json-logs", envBool("JSON_LOGS", false), "Emit a JSON summary line. Env: JSON_LOGS")

	flag.Parse()

	if cfg.outCSV == "" && cfg.pgDSN == "" {
		fmt.Fprintln(os.Stderr, "either --out (CSV) / OUT_CSV or --pg-dsn (DB) / PG_DSN is required")
		os.Exit(2)
	}
	if cfg.target <= 0 {
		cfg.target = 20
	}
	if cfg.workers <= 0 {
		cfg.workers = 1
	}
	if cfg.stall <= 0 {
		cfg.stall = 5
	}
	if cfg.paceMaxMs < cfg.paceMinMs {
		cfg.paceMaxMs = cfg.paceMinMs
	}
	return cfg
}

// ───────── Collaborator wiring ─────────

type surfaceHandle interface {
	harvest.Surface
	Navigate(ctx context.Context, url string) error
	ApplyCookies(ctx context.Context, cookies []adapters.Cookie) error
	Close()
}

func buildSurface(ctx context.Context, cfg config) (surfaceHandle, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.surface)) {
	case "chrome", "chromedp", "browser":
		return adapters.NewChromeSurface(ctx, adapters.ChromeSurfaceOptions{Headless: cfg.headless})
	default:
		return adapters.NewMockSurface(mockCatalogPages(cfg)), nil
	}
}

func buildFetcher(cfg config) (harvest.Fetcher, error) {
	if strings.ToLower(strings.TrimSpace(cfg.surface)) == "mock" {
		return &adapters.MockFetcher{Pages: mockDetailPages(cfg)}, nil
	}
	return adapters.NewHTTPFetcher(adapters.HTTPFetcherOptions{
		UserAgent:    envString("HTTP_USER_AGENT", "catalog-harvester/1.0"),
		CookieHeader: cfg.cookies,
		RPS:          cfg.fetchRPS,
		Proxy:        cfg.proxy,
	})
}

func buildSink(ctx context.Context, cfg config) (sink.Sink, error) {
	if cfg.pgDSN != "" {
		return sink.OpenPostgresSink(ctx, sink.PostgresOptions{
			DSN:        cfg.pgDSN,
			Schema:     cfg.pgSchema,
			MaxConns:   cfg.pgMaxConns,
			ViaBouncer: cfg.pgViaBouncer,
		})
	}
	return sink.OpenCSVSink(cfg.outCSV)
}

// parseCookies turns "k=v; k2=v2" into surface cookies scoped to the catalog
// host.
func parseCookies(header, catalogURL string) []adapters.Cookie {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	domain := ""
	if u, err := url.Parse(catalogURL); err == nil {
		domain = u.Hostname()
	}
	var out []adapters.Cookie
	for _, part := range strings.Split(header, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			continue
		}
		out = append(out, adapters.Cookie{Name: kv[0], Value: kv[1], Domain: domain, Path: "/"})
	}
	return out
}

// countingSink wraps the real sink with prometheus accounting.
type countingSink struct {
	inner sink.Sink
}

func (c *countingSink) PersistBatch(ctx context.Context, batch []harvest.EnrichedRecord) (int, error) {
	n, err := c.inner.PersistBatch(ctx, batch)
	if err != nil {
		return n, err
	}
	batchesPersisted.Inc()
	rowsPersisted.Add(float64(n))
	for _, r := range batch {
		if r.DetailFetchSucceeded {
			enrichedOK.Inc()
		} else {
			enrichFailures.Inc()
		}
	}
	return n, nil
}

// ───────── Main ─────────

func main() {
	cfg := parseFlags()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	log.SetOutput(os.Stdout)
	if lvl, err := log.ParseLevel(cfg.logLevel); err == nil {
		log.SetLevel(lvl)
	}

	runID := uuid.NewString()
	logger := log.WithField("run_id", runID)
	logger.Info("catalog-harvester starting")

	startMetrics(cfg.metricsAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Warn("shutdown requested")
		cancel()
	}()

	start := time.Now()
	res, persisted, err := run(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("run failed")
		os.Exit(1)
	}

	dur := time.Since(start).Seconds()
	fmt.Printf(
		"surface=%s target=%d accepted=%d cycles=%d exhausted=%t persisted=%d duration=%0.2f\n",
		cfg.surface, cfg.target, len(res.Accepted), res.Cycles, res.Exhausted, persisted, dur,
	)

	if cfg.jsonLogs {
		summary := struct {
			Event       string  `json:"event"`
			RunID       string  `json:"run_id"`
			Surface     string  `json:"surface"`
			Target      int     `json:"target"`
			Accepted    int     `json:"accepted"`
			Cycles      int     `json:"cycles"`
			Exhausted   bool    `json:"exhausted"`
			Persisted   int     `json:"persisted"`
			DurationSec float64 `json:"duration_sec"`
		}{"summary", runID, cfg.surface, cfg.target, len(res.Accepted), res.Cycles, res.Exhausted, persisted, dur}
		b, _ := json.Marshal(summary)
		fmt.Println(string(b))
	}
}

// run wires one end-to-end pass: surface setup, exploration, then batched
// enrichment into the sink.
func run(ctx context.Context, cfg config, logger *log.Entry) (harvest.ExploreResult, int, error) {
	surface, err := buildSurface(ctx, cfg)
	if err != nil {
		return harvest.ExploreResult{}, 0, fmt.Errorf("%w: %v", adapters.ErrSurfaceUnavailable, err)
	}
	defer surface.Close()

	if cookies := parseCookies(cfg.cookies, cfg.catalogURL); len(cookies) > 0 {
		if err := surface.ApplyCookies(ctx, cookies); err != nil {
			logger.WithError(err).Warn("cookie injection failed")
		}
	}
	// Loss of the surface at navigation is the one fatal condition.
	if err := surface.Navigate(ctx, cfg.catalogURL); err != nil {
		return harvest.ExploreResult{}, 0, fmt.Errorf("%w: %v", adapters.ErrSurfaceUnavailable, err)
	}

	norm := harvest.NewNormalizer(harvest.NormalizerConfig{
		BaseURL:      cfg.baseURL,
		ImageCDNBase: cfg.cdnBase,
	})
	agg := harvest.NewAggregator(cfg.target)
	explorer := harvest.NewExplorer(
		surface,
		harvest.NewNetworkCapture(nil),
		harvest.NewEmbeddedState("", nil),
		harvest.NewDOMScan(""),
		norm,
		agg,
		harvest.ExplorerConfig{
			StallThreshold: cfg.stall,
			Settle:         time.Duration(cfg.settleMs) * time.Millisecond,
		},
	)

	res, err := explorer.Run(ctx)
	if err != nil {
		return res, 0, err
	}
	captureCycles.Add(float64(res.Cycles))
	candidatesAccepted.Add(float64(len(res.Accepted)))
	logger.WithFields(log.Fields{
		"accepted":  len(res.Accepted),
		"cycles":    res.Cycles,
		"exhausted": res.Exhausted,
	}).Info("exploration finished")

	fetcher, err := buildFetcher(cfg)
	if err != nil {
		return res, 0, err
	}
	out, err := buildSink(ctx, cfg)
	if err != nil {
		return res, 0, err
	}
	defer out.Close(context.Background())

	scheduler := harvest.NewBatchScheduler(
		harvest.NewEnricher(fetcher, harvest.EnricherConfig{}),
		&countingSink{inner: out},
		harvest.SchedulerConfig{
			Width:   cfg.workers,
			PaceMin: time.Duration(cfg.paceMinMs) * time.Millisecond,
			PaceMax: time.Duration(cfg.paceMaxMs) * time.Millisecond,
			Target:  cfg.target,
		},
	)
	persisted, err := scheduler.Run(ctx, res.Accepted)
	return res, persisted, err
}
