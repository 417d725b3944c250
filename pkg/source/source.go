package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/FrenchMajesty/topic-trends/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultPageDelay is the polite pause between page requests
const DefaultPageDelay = time.Second

// ErrSourceUnavailable marks a failure to acquire the feedback stream. It is fatal to a run.
var ErrSourceUnavailable = errors.New("feedback source unavailable")

// Page is one page of feedback, newest first. Next is empty on the last page.
type Page struct {
	Items []types.FeedbackItem
	Next  string
}

// Source yields feedback one page at a time. An empty cursor requests the first page.
type Source interface {
	FetchPage(ctx context.Context, cursor string) (Page, error)
}

// CollectOptions bounds the historical window pulled from a Source
type CollectOptions struct {
	// Since is the first day of the window. Required.
	Since civil.Date

	// Until is the last day of the window. Zero means no upper bound.
	Until civil.Date

	// Delay is the minimum spacing between page requests. If 0, uses DefaultPageDelay.
	// Negative disables the delay.
	Delay time.Duration

	// MaxPages stops after this many pages. 0 means no limit.
	MaxPages int

	Logger *zap.Logger
}

// Collect pages through src until it runs dry or the oldest item on a page precedes
// opts.Since, then returns the non-blank items inside the window.
func Collect(ctx context.Context, src Source, opts CollectOptions) ([]types.FeedbackItem, error) {
	if !opts.Since.IsValid() {
		return nil, fmt.Errorf("invalid window start %v", opts.Since)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	switch {
	case opts.Delay == 0:
		limit = rate.Every(DefaultPageDelay)
	case opts.Delay > 0:
		limit = rate.Every(opts.Delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	var all []types.FeedbackItem
	cursor := ""
	for pageNum := 1; ; pageNum++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}

		page, err := src.FetchPage(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %w", ErrSourceUnavailable, pageNum, err)
		}
		if len(page.Items) == 0 {
			break
		}

		all = append(all, page.Items...)
		oldest := oldestDate(page.Items)
		logger.Info("fetched feedback page",
			zap.Int("page", pageNum),
			zap.Int("items", len(page.Items)),
			zap.String("oldest", oldest.String()))

		if oldest.Before(opts.Since) || page.Next == "" {
			break
		}
		if opts.MaxPages > 0 && pageNum >= opts.MaxPages {
			logger.Warn("page limit reached before window start", zap.Int("max_pages", opts.MaxPages))
			break
		}
		cursor = page.Next
	}

	kept := all[:0]
	for _, item := range all {
		if item.Date.Before(opts.Since) {
			continue
		}
		if opts.Until.IsValid() && item.Date.After(opts.Until) {
			continue
		}
		if strings.TrimSpace(item.Text) == "" {
			continue
		}
		kept = append(kept, item)
	}

	logger.Info("collected feedback", zap.Int("fetched", len(all)), zap.Int("in_window", len(kept)))
	return kept, nil
}

func oldestDate(items []types.FeedbackItem) civil.Date {
	oldest := items[0].Date
	for _, item := range items[1:] {
		if item.Date.Before(oldest) {
			oldest = item.Date
		}
	}
	return oldest
}

// GroupByDay buckets items by date in chronological order. Within a day items keep
// their input order. Days without items do not appear.
func GroupByDay(items []types.FeedbackItem) []types.DayBatch {
	byDate := make(map[civil.Date][]types.FeedbackItem)
	for _, item := range items {
		byDate[item.Date] = append(byDate[item.Date], item)
	}

	batches := make([]types.DayBatch, 0, len(byDate))
	for date, dayItems := range byDate {
		batches = append(batches, types.DayBatch{Date: date, Items: dayItems})
	}
	sort.Slice(batches, func(i, j int) bool {
		return batches[i].Date.Before(batches[j].Date)
	})
	return batches
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDate reads a calendar date from a date or timestamp string
func ParseDate(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, fmt.Errorf("unrecognized date %q", s)
}
