package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/FrenchMajesty/topic-trends/pkg/adapters"
	"github.com/FrenchMajesty/topic-trends/pkg/clustering"
	"github.com/FrenchMajesty/topic-trends/pkg/pipeline"
	"github.com/FrenchMajesty/topic-trends/pkg/source"
	"github.com/FrenchMajesty/topic-trends/pkg/source/csvfile"
	"github.com/FrenchMajesty/topic-trends/pkg/source/httpfeed"
	"github.com/FrenchMajesty/topic-trends/pkg/store"
	"github.com/FrenchMajesty/topic-trends/pkg/taxonomy"
	"github.com/FrenchMajesty/topic-trends/pkg/trend"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	previewRows = 5
	previewCols = 5

	taxonomyFileName = "taxonomy.json"
)

type runOptions struct {
	sourceKind string
	input      string
	feedURL    string
	feedKey    string
	pageSize   int
	pageDelay  time.Duration
	maxPages   int

	since  string
	until  string
	window int

	seed      string
	out       string
	dbPath    string
	pinecone  bool
	namespace string

	threshold   float64
	linkage     string
	maxTopics   int
	temperature float32
	dumpDir     string
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the taxonomy and the trend report for a window of feedback",
	Long: `Pulls feedback for the window, processes it day by day in ascending date order and
writes <out>/trend_analysis_report.csv plus <out>/taxonomy.json.

Examples:
  trends run --input feedback.csv
  trends run --source http --feed-url https://api.example.com/feedback --window 14
  trends run --input feedback.csv --since 2024-03-01 --until 2024-03-31 --db runs.db`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		opts := runOpts
		if !cmd.Flags().Changed("pinecone") {
			opts.pinecone = env.PineconeEnabled()
		}
		temperature := env.Temperature
		if cmd.Flags().Changed("temperature") {
			temperature = &opts.temperature
		}
		return runTrends(ctx, cmd.OutOrStdout(), opts, temperature)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.sourceKind, "source", "csv", "feedback source (csv, http)")
	f.StringVarP(&runOpts.input, "input", "i", "", "feedback CSV file (id,text,date)")
	f.StringVar(&runOpts.feedURL, "feed-url", "", "paginated feedback endpoint")
	f.StringVar(&runOpts.feedKey, "feed-key", "", "bearer token for the feedback endpoint")
	f.IntVar(&runOpts.pageSize, "page-size", 0, "items per page (default 1000)")
	f.DurationVar(&runOpts.pageDelay, "page-delay", source.DefaultPageDelay, "minimum delay between page requests (negative disables)")
	f.IntVar(&runOpts.maxPages, "max-pages", 0, "stop after this many pages (0 = no limit)")

	f.StringVar(&runOpts.since, "since", "", "first day of the window, YYYY-MM-DD (default: until minus window)")
	f.StringVar(&runOpts.until, "until", "", "last day of the window, YYYY-MM-DD (default: today)")
	f.IntVar(&runOpts.window, "window", 0, "days in the report (default 31)")

	f.StringVar(&runOpts.seed, "seed", "", "seed taxonomy file (YAML or JSON)")
	f.StringVarP(&runOpts.out, "out", "o", "output", "output directory")
	f.StringVar(&runOpts.dbPath, "db", "", "SQLite file recording run provenance")
	f.BoolVar(&runOpts.pinecone, "pinecone", false, "store day clusters in Pinecone and use them as labelling hints (default: on when PINECONE_API_KEY and PINECONE_HOST are set)")
	f.StringVar(&runOpts.namespace, "namespace", "clusters", "Pinecone namespace for day clusters")

	f.Float64Var(&runOpts.threshold, "threshold", 0, "clustering distance threshold (default 1.5)")
	f.StringVar(&runOpts.linkage, "linkage", string(clustering.LinkageWard), "clustering linkage (ward, average, complete, single)")
	f.IntVar(&runOpts.maxTopics, "max-topics", 0, "cap on taxonomy size (0 = unbounded)")
	f.Float32Var(&runOpts.temperature, "temperature", 0, "classifier sampling temperature (default: provider default)")
	f.StringVar(&runOpts.dumpDir, "dump-dir", "", "save every classifier request/response pair here")
}

func runTrends(ctx context.Context, w io.Writer, opts runOptions, temperature *float32) error {
	if opts.dumpDir == "" {
		opts.dumpDir = env.DumpDir
	}
	if opts.window == 0 {
		opts.window = env.WindowDays
	}
	if opts.window == 0 {
		opts.window = trend.DefaultWindowDays
	}
	if opts.threshold == 0 {
		opts.threshold = env.DistanceThreshold
	}
	if opts.maxTopics == 0 {
		opts.maxTopics = env.MaxTopics
	}

	since, until, err := resolveWindow(opts.since, opts.until, opts.window, civil.DateOf(time.Now()))
	if err != nil {
		return err
	}

	src, name, err := openSource(opts)
	if err != nil {
		return err
	}

	seed := taxonomy.DefaultSeed
	if opts.seed != "" {
		if seed, err = taxonomy.NewFilePersistence(opts.seed).Load(); err != nil {
			return err
		}
	}

	cfg := pipeline.Config{
		Source:          src,
		SourceName:      name,
		Since:           since,
		Until:           until,
		PageDelay:       opts.pageDelay,
		MaxPages:        opts.maxPages,
		EmbeddingAPIKey: env.VoyageAPIKey,
		EmbeddingModel:  env.EmbeddingModel,
		LLMAPIKey:       env.OpenAIAPIKey,
		Model:           env.Model,
		BaseURL:         env.OpenAIBaseURL,
		Temperature:     temperature,
		DumpDir:         opts.dumpDir,
		Seed:            seed,
		Persistence:     taxonomy.NewFilePersistence(filepath.Join(opts.out, taxonomyFileName)),
		Clustering: clustering.Config{
			DistanceThreshold: opts.threshold,
			Linkage:           clustering.Linkage(strings.ToLower(opts.linkage)),
		},
		MaxTopics:  opts.maxTopics,
		WindowDays: opts.window,
		Logger:     logger,
	}

	if opts.pinecone {
		index, err := adapters.NewPineconeVectorAdapter(nilIfEmpty(env.PineconeAPIKey), nilIfEmpty(env.PineconeHost), opts.namespace)
		if err != nil {
			return fmt.Errorf("failed to create cluster index: %w", err)
		}
		cfg.VectorClient = index
	}

	if opts.dbPath != "" {
		db, err := store.Open(opts.dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		cfg.Recorder = db
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}

	logger.Info("starting run",
		zap.String("source", name),
		zap.Stringer("since", since),
		zap.Stringer("until", until),
		zap.Int("window_days", opts.window))

	result, err := p.Run(ctx)
	if err != nil {
		return err
	}

	return report(w, result, opts)
}

func report(w io.Writer, result *pipeline.Result, opts runOptions) error {
	matrix, err := result.Matrix()
	if errors.Is(err, trend.ErrNoTrendData) {
		fmt.Fprintln(w, "No data to report.")
		return nil
	}
	if err != nil {
		return err
	}

	path, err := trend.WriteReport(opts.out, matrix)
	if err != nil {
		return err
	}

	degraded := 0
	for _, day := range result.Days {
		if day.Error != "" {
			degraded++
		}
	}

	fmt.Fprintf(w, "Run %s: %d items over %d days (%d with fallbacks)\n", result.RunID, result.Items, len(result.Days), degraded)
	fmt.Fprintf(w, "Report written to %s\n\n", path)
	trend.RenderPreview(w, matrix, previewRows, previewCols)

	fmt.Fprintf(w, "\nFinal taxonomy (%d topics):\n", len(result.Taxonomy))
	for _, topic := range result.Taxonomy {
		fmt.Fprintf(w, "  - %s\n", topic)
	}
	return nil
}

// resolveWindow turns the flag values into an inclusive date range. An empty until means
// today and an empty since means windowDays back from until.
func resolveWindow(sinceFlag, untilFlag string, windowDays int, today civil.Date) (civil.Date, civil.Date, error) {
	until := today
	if untilFlag != "" {
		d, err := civil.ParseDate(untilFlag)
		if err != nil {
			return civil.Date{}, civil.Date{}, fmt.Errorf("invalid --until %q: %w", untilFlag, err)
		}
		until = d
	}

	since := until.AddDays(-(windowDays - 1))
	if sinceFlag != "" {
		d, err := civil.ParseDate(sinceFlag)
		if err != nil {
			return civil.Date{}, civil.Date{}, fmt.Errorf("invalid --since %q: %w", sinceFlag, err)
		}
		since = d
	}

	if until.Before(since) {
		return civil.Date{}, civil.Date{}, fmt.Errorf("window end %s precedes start %s", until, since)
	}
	return since, until, nil
}

func openSource(opts runOptions) (source.Source, string, error) {
	switch strings.ToLower(opts.sourceKind) {
	case "csv":
		if opts.input == "" {
			return nil, "", errors.New("--input is required for the csv source")
		}
		src, err := csvfile.Open(opts.input, opts.pageSize)
		if err != nil {
			return nil, "", err
		}
		return src, "csv:" + filepath.Base(opts.input), nil
	case "http":
		if opts.feedURL == "" {
			return nil, "", errors.New("--feed-url is required for the http source")
		}
		client := httpfeed.NewClient(opts.feedURL, opts.feedKey)
		if opts.pageSize > 0 {
			client.PageSize = opts.pageSize
		}
		client.Logger = logger
		return client, "http:" + opts.feedURL, nil
	default:
		return nil, "", fmt.Errorf("unknown source %q (want csv or http)", opts.sourceKind)
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
