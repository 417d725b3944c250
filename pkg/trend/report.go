package trend

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// ReportFileName is the fixed name of the report inside the output directory
const ReportFileName = "trend_analysis_report.csv"

// WriteCSV writes the matrix with a "topic" column followed by one column per date
func (m *Matrix) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)

	header := make([]string, 0, len(m.Dates)+1)
	header = append(header, "topic")
	for _, d := range m.Dates {
		header = append(header, d.String())
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for i, topic := range m.Topics {
		record := make([]string, 0, len(m.Dates)+1)
		record = append(record, topic)
		for _, count := range m.Counts[i] {
			record = append(record, strconv.Itoa(count))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteReport writes the matrix to dir/ReportFileName, creating dir if needed, and
// returns the file path
func WriteReport(dir string, m *Matrix) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, ReportFileName)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report %s: %w", path, err)
	}

	if err := m.WriteCSV(file); err != nil {
		file.Close()
		return "", fmt.Errorf("failed to write report %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close report %s: %w", path, err)
	}
	return path, nil
}

// RenderPreview prints the first rows topics against the last cols dates
func RenderPreview(w io.Writer, m *Matrix, rows, cols int) {
	if rows <= 0 || rows > len(m.Topics) {
		rows = len(m.Topics)
	}
	if cols <= 0 || cols > len(m.Dates) {
		cols = len(m.Dates)
	}
	first := len(m.Dates) - cols

	header := []string{"topic"}
	for _, d := range m.Dates[first:] {
		header = append(header, d.String())
	}

	data := make([][]string, 0, rows)
	for i := 0; i < rows; i++ {
		row := []string{m.Topics[i]}
		for _, count := range m.Counts[i][first:] {
			row = append(row, strconv.Itoa(count))
		}
		data = append(data, row)
	}

	table := tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoFormat: tw.Off},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
	)
	table.Header(header)
	table.Bulk(data)
	table.Render()
}
