/*
Package export renders payroll reports as CSV or PDF.

REPORTS:
  payroll_details       Every payroll item of a period, one column per
                        component; all-zero numeric columns are dropped
                        unless requested
  contribution_bases    Base, rates and amounts per insurance type, from the
                        latest persisted calculation of each employee
  personnel_categories  Roster of the period with the personnel category
  calculations          Per-payroll calculation summary (English headers)

Rows of the Chinese reports are ordered by personnel category (missing
categories as 未分类), then employee code, then name.

ENCODINGS:
  CSV is written as UTF-8 with a byte order mark, which spreadsheet tools
  need to detect UTF-8, or as GB18030. PDF uses the core fonts, so it is
  offered only for reports with ASCII content.
*/
package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"golang.org/x/text/encoding/simplifiedchinese"
)

var (
	ErrUnknownReport     = errors.New("unknown report")
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// Encoding of CSV output.
type Encoding string

const (
	EncodingUTF8    Encoding = "utf8"
	EncodingGB18030 Encoding = "gb18030"
)

// ParseEncoding accepts "", "utf8", "utf-8" and "gb18030".
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(s) {
	case "", "utf8", "utf-8":
		return EncodingUTF8, nil
	case "gb18030":
		return EncodingGB18030, nil
	}
	return "", fmt.Errorf("%w: encoding %q", ErrUnsupportedFormat, s)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVExporter renders Dataset records into CSV bytes.
type CSVExporter struct {
	Encoding Encoding
}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter(enc Encoding) *CSVExporter {
	return &CSVExporter{Encoding: enc}
}

// Render produces CSV encoded bytes for the dataset.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, row := range data.Rows {
		record := make([]string, len(data.Headers))
		for i, header := range data.Headers {
			record[i] = row[header]
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	if e.Encoding == EncodingGB18030 {
		out, err := simplifiedchinese.GB18030.NewEncoder().Bytes(buf.Bytes())
		if err != nil {
			return nil, fmt.Errorf("encode gb18030: %w", err)
		}
		return out, nil
	}
	return append(append([]byte{}, utf8BOM...), buf.Bytes()...), nil
}

// ContentType is the MIME type of Render's output.
func (e *CSVExporter) ContentType() string {
	if e.Encoding == EncodingGB18030 {
		return "text/csv; charset=GB18030"
	}
	return "text/csv; charset=utf-8"
}

// PDFExporter renders datasets into a landscape tabular PDF.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with an optional title and table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, strings.ToUpper(title), "", 1, "C", false, 0, "")
		pdf.Ln(5)
	}

	pdf.SetFont("Arial", "B", 8)
	colWidth := 277.0 / float64(len(data.Headers))
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 8, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 7)
	for _, row := range data.Rows {
		for _, header := range data.Headers {
			pdf.CellFormat(colWidth, 6, row[header], "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// Filename builds a download name such as 工资明细_2025-06_20250630_101500.csv.
func Filename(label, periodKey string, at time.Time, ext string) string {
	return fmt.Sprintf("%s_%s_%s.%s", label, periodKey, at.Format("20060102_150405"), ext)
}
