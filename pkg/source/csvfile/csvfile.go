package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/FrenchMajesty/topic-trends/pkg/source"
	"github.com/FrenchMajesty/topic-trends/pkg/types"
)

// DefaultPageSize matches the page size of the upstream review API
const DefaultPageSize = 1000

var (
	idColumns   = []string{"id", "review_id", "reviewid"}
	textColumns = []string{"text", "content", "review"}
	dateColumns = []string{"date", "at", "created_at"}
)

// Source serves a local CSV export page by page, newest first, like a remote review feed.
// The header must name an id, a text and a date column.
type Source struct {
	items    []types.FeedbackItem
	pageSize int
}

var _ source.Source = (*Source)(nil)

// Open reads and indexes the CSV file at path
func Open(path string, pageSize int) (*Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open feedback file: %w", err)
	}
	defer file.Close()

	return New(file, pageSize)
}

// New reads a CSV document from r
func New(r io.Reader, pageSize int) (*Source, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("feedback file must have a header row")
	}

	header := records[0]
	idCol := findColumn(header, idColumns)
	textCol := findColumn(header, textColumns)
	dateCol := findColumn(header, dateColumns)
	if textCol < 0 || dateCol < 0 {
		return nil, fmt.Errorf("feedback file header must include text and date columns, got %v", header)
	}

	items := make([]types.FeedbackItem, 0, len(records)-1)
	for line, record := range records[1:] {
		if len(record) <= textCol || len(record) <= dateCol {
			continue // Skip malformed rows
		}
		date, err := source.ParseDate(record[dateCol])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line+2, err)
		}
		id := strconv.Itoa(line + 1)
		if idCol >= 0 && idCol < len(record) && record[idCol] != "" {
			id = record[idCol]
		}
		items = append(items, types.FeedbackItem{ID: id, Text: record[textCol], Date: date})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Date.After(items[j].Date)
	})

	return &Source{items: items, pageSize: pageSize}, nil
}

// FetchPage implements source.Source. The cursor is the offset of the next row.
func (s *Source) FetchPage(ctx context.Context, cursor string) (source.Page, error) {
	if err := ctx.Err(); err != nil {
		return source.Page{}, err
	}

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return source.Page{}, fmt.Errorf("invalid cursor %q", cursor)
		}
		offset = n
	}
	if offset >= len(s.items) {
		return source.Page{}, nil
	}

	end := offset + s.pageSize
	if end > len(s.items) {
		end = len(s.items)
	}

	page := source.Page{Items: append([]types.FeedbackItem(nil), s.items[offset:end]...)}
	if end < len(s.items) {
		page.Next = strconv.Itoa(end)
	}
	return page, nil
}

// Len returns the number of rows in the file
func (s *Source) Len() int {
	return len(s.items)
}

func findColumn(header []string, names []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, name := range names {
			if h == name {
				return i
			}
		}
	}
	return -1
}
