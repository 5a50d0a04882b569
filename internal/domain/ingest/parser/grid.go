// Package parser reads billing report workbooks and delimited exports into
// raw grids and interprets them as line-item facts.
package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/normalizer"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/sniffer"
)

var (
	ErrEmptyFile      = errors.New("file is empty")
	ErrSheetMissing   = errors.New("required sheet is missing")
	ErrNoWorkbookData = errors.New("compound file has no Workbook stream")
)

// RawSheet is the cell grid of one worksheet. Rows may have different lengths.
type RawSheet struct {
	Name  string
	Index int
	Rows  [][]normalizer.Cell
}

// Cell returns the cell at (row, col), or an empty cell when out of range
func (s *RawSheet) Cell(row, col int) normalizer.Cell {
	if row < 0 || row >= len(s.Rows) || col < 0 || col >= len(s.Rows[row]) {
		return normalizer.Empty()
	}
	return s.Rows[row][col]
}

// Workbook is the ordered list of sheets of a file
type Workbook struct {
	Sheets []*RawSheet
}

// Sheet returns the sheet at index
func (w *Workbook) Sheet(index int) (*RawSheet, bool) {
	if index < 0 || index >= len(w.Sheets) {
		return nil, false
	}
	return w.Sheets[index], true
}

// ReadWorkbook reads every sheet of an .xlsx workbook. Cells are read raw, so
// numbers arrive unformatted and date cells arrive as serial day numbers.
func ReadWorkbook(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	names := f.GetSheetList()
	wb := &Workbook{Sheets: make([]*RawSheet, 0, len(names))}
	for i, name := range names {
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", name, err)
		}
		wb.Sheets = append(wb.Sheets, &RawSheet{Name: name, Index: i, Rows: toCells(rows)})
	}
	return wb, nil
}

// ReadLegacyWorkbook reads every sheet of a binary (BIFF8) .xls workbook, the
// format SDP provider reports are delivered in. Numbers arrive as plain
// decimals and trailing empty cells are dropped, as for .xlsx rows.
func ReadLegacyWorkbook(data []byte) (wb *Workbook, err error) {
	// the BIFF reader indexes record tables without bounds checks
	defer func() {
		if p := recover(); p != nil {
			wb, err = nil, fmt.Errorf("failed to open legacy workbook: malformed BIFF record: %v", p)
		}
	}()

	book, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("failed to open legacy workbook: %w", err)
	}
	if book == nil {
		return nil, fmt.Errorf("failed to open legacy workbook: %w", ErrNoWorkbookData)
	}

	wb = &Workbook{Sheets: make([]*RawSheet, 0, book.NumSheets())}
	for i := 0; i < book.NumSheets(); i++ {
		sheet := book.GetSheet(i)
		if sheet == nil {
			return nil, fmt.Errorf("failed to read sheet %d of legacy workbook", i+1)
		}
		wb.Sheets = append(wb.Sheets, &RawSheet{Name: sheet.Name, Index: i, Rows: toCells(legacyRows(sheet))})
	}
	return wb, nil
}

func legacyRows(sheet *xls.WorkSheet) [][]string {
	rows := make([][]string, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, 0, row.LastCol()+1)
		for c := 0; c <= row.LastCol(); c++ {
			cells = append(cells, row.Col(c))
		}
		for len(cells) > 0 && strings.TrimSpace(cells[len(cells)-1]) == "" {
			cells = cells[:len(cells)-1]
		}
		rows = append(rows, cells)
	}
	return rows
}

// ReadDelimited reads a CSV export. The bytes may be UTF-8 (with or without a
// BOM) or Windows-1250, which is what the billing system writes on Serbian
// Windows hosts. A zero delimiter is detected from the content.
func ReadDelimited(data []byte, delimiter rune) (*RawSheet, error) {
	text, err := DecodeText(data)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(text)) == 0 {
		return nil, ErrEmptyFile
	}
	if delimiter == 0 {
		delimiter = sniffer.DetectDelimiter(text)
	}

	reader := csv.NewReader(bytes.NewReader(text))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read delimited file: %w", err)
	}

	return &RawSheet{Name: "csv", Index: 0, Rows: toCells(records)}, nil
}

// DecodeText strips a UTF-8 BOM and converts Windows-1250 input to UTF-8
func DecodeText(data []byte) ([]byte, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		return data, nil
	}

	decoded, err := charmap.Windows1250.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Windows-1250 text: %w", err)
	}
	return decoded, nil
}

// Sample returns the raw text of up to n rows
func (s *RawSheet) Sample(n int) [][]string {
	n = min(n, len(s.Rows))
	out := make([][]string, 0, n)
	for _, row := range s.Rows[:n] {
		texts := make([]string, len(row))
		for i, c := range row {
			texts[i] = c.Raw
		}
		out = append(out, texts)
	}
	return out
}

func toCells(rows [][]string) [][]normalizer.Cell {
	out := make([][]normalizer.Cell, len(rows))
	for i, row := range rows {
		cells := make([]normalizer.Cell, len(row))
		for j, v := range row {
			cells[j] = normalizer.CellFromString(v)
		}
		out[i] = cells
	}
	return out
}
