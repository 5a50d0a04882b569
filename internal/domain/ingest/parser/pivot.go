package parser

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/model"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/normalizer"
)

// ErrNoHeaderRow is returned for a sheet too short to hold its header row
var ErrNoHeaderRow = errors.New("sheet has no header row")

// SheetResult is the parse of one worksheet
type SheetResult struct {
	Sheet   string
	Index   int
	Periods []model.PeriodColumn
	Facts   []model.LineItemFact
	Rows    []Row

	Errors   []model.RecordError
	Warnings []string

	TotalRows   int
	ParsedPairs int
	SkippedRows int
	// Boundary is the halting section boundary, if one was reached
	Boundary *BoundaryRow
}

// PivotParser interprets sheets laid out with dates as columns and a
// quantity/amount row pair per service.
type PivotParser struct {
	layout     Layout
	classifier *classifier
	logger     *slog.Logger
}

// NewPivotParser creates a parser for one layout
func NewPivotParser(layout Layout, logger *slog.Logger) *PivotParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &PivotParser{
		layout:     layout,
		classifier: newClassifier(layout),
		logger:     logger,
	}
}

// Layout returns the layout the parser was built with
func (p *PivotParser) Layout() Layout {
	return p.layout
}

// ParseWorkbook parses the sheets selected by the layout. The first selected
// sheet must exist; with an onward selector, empty trailing sheets are ignored.
func (p *PivotParser) ParseWorkbook(wb *Workbook) ([]*SheetResult, error) {
	sel := p.layout.Sheets
	if _, ok := wb.Sheet(sel.Index); !ok {
		return nil, fmt.Errorf("%w: sheet %d requested, workbook has %d", ErrSheetMissing, sel.Index+1, len(wb.Sheets))
	}

	last := sel.Index
	if sel.Onward {
		last = len(wb.Sheets) - 1
	}

	var results []*SheetResult
	for i := sel.Index; i <= last; i++ {
		sheet, _ := wb.Sheet(i)
		if sel.Onward && i != sel.Index && len(sheet.Rows) == 0 {
			continue
		}

		res, err := p.Parse(sheet)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Parse interprets one sheet. Malformed cells become record errors on the
// result; only a structurally unusable sheet returns an error.
func (p *PivotParser) Parse(sheet *RawSheet) (*SheetResult, error) {
	if len(sheet.Rows) <= p.layout.HeaderRow {
		return nil, fmt.Errorf("sheet %q: %w", sheet.Name, ErrNoHeaderRow)
	}

	rows := p.classifier.classify(sheet)
	header := rows[0].(HeaderRow)

	result := &SheetResult{
		Sheet:     sheet.Name,
		Index:     sheet.Index,
		Periods:   header.Periods,
		Rows:      rows,
		Facts:     make([]model.LineItemFact, 0),
		Errors:    make([]model.RecordError, 0),
		TotalRows: len(sheet.Rows) - p.layout.HeaderRow - 1,
	}

	for _, col := range header.OutOfOrder {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("sheet %s: date in column %d does not follow the previous period and was ignored", sheet.Name, col+1))
	}

	for _, row := range rows[1:] {
		switch r := row.(type) {
		case LineItemPairRow:
			result.ParsedPairs++
			if !p.layout.emits(r.Group) {
				continue
			}
			fact := p.buildFact(sheet, header, r, result)
			result.Facts = append(result.Facts, fact)
		case SkippedRow:
			result.SkippedRows++
		case BoundaryRow:
			if r.Halts {
				boundary := r
				result.Boundary = &boundary
				p.logger.Debug("section boundary reached",
					slog.String("sheet", sheet.Name),
					slog.Int("row", r.Index+1),
					slog.String("marker", r.Marker),
				)
			}
		}
	}

	return result, nil
}

func (p *PivotParser) buildFact(sheet *RawSheet, header HeaderRow, r LineItemPairRow, result *SheetResult) model.LineItemFact {
	loc := p.layout.Locale
	name := normalizer.CleanName(r.RawName)

	fact := model.LineItemFact{
		RawName:   r.RawName,
		Name:      name,
		Code:      normalizer.ExtractServiceCode(name),
		UnitPrice: r.Price,
		Group:     r.Group,
		Sheet:     sheet.Name,
		Row:       r.Index + 1,
		PerPeriod: make([]model.PeriodValue, 0, len(header.Periods)),
	}

	malformed := false
	for _, pc := range header.Periods {
		qtyCell, amtCell := cellAt(r.QuantityRow, pc.Column), cellAt(r.AmountRow, pc.Column)

		qty, err := normalizer.ParseCount(qtyCell, "quantity", loc)
		if err != nil {
			result.Errors = append(result.Errors, cellError(sheet.Name, r.Index+1, name, pc, qtyCell, err))
			malformed = true
			continue
		}
		amt, err := normalizer.ParseAmount(amtCell, "amount", loc)
		if err != nil {
			result.Errors = append(result.Errors, cellError(sheet.Name, r.Index+2, name, pc, amtCell, err))
			malformed = true
			continue
		}

		fact.PerPeriod = append(fact.PerPeriod, model.PeriodValue{Period: pc, Quantity: qty, Amount: amt})
	}

	if header.TotalColumn >= 0 {
		totalQty, errQ := normalizer.ParseCount(cellAt(r.QuantityRow, header.TotalColumn), "total quantity", loc)
		totalAmt, errA := normalizer.ParseAmount(cellAt(r.AmountRow, header.TotalColumn), "total amount", loc)
		if errQ == nil && errA == nil {
			fact.TotalQuantity, fact.TotalAmount, fact.HasTotals = totalQty, totalAmt, true
		} else {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("sheet %s, row %d, %q: unreadable total column", sheet.Name, r.Index+1, name))
		}
	}

	if fact.HasTotals && !malformed {
		qty, amt := fact.PeriodSum()
		if !qty.Equal(fact.TotalQuantity) || !amt.Equal(fact.TotalAmount) {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"sheet %s, row %d, %q: periods sum to %s / %s but total column has %s / %s",
				sheet.Name, r.Index+1, name, qty, amt, fact.TotalQuantity, fact.TotalAmount))
		}
	}

	if p.layout.SkipZeroQuantity {
		fact.PerPeriod = withoutZeroQuantity(fact.PerPeriod)
	}
	return fact
}

func withoutZeroQuantity(values []model.PeriodValue) []model.PeriodValue {
	kept := values[:0]
	for _, v := range values {
		if !v.Quantity.IsZero() {
			kept = append(kept, v)
		}
	}
	return kept
}

func cellAt(row []normalizer.Cell, col int) normalizer.Cell {
	if col < 0 || col >= len(row) {
		return normalizer.Empty()
	}
	return row[col]
}

func cellError(sheet string, row int, entity string, pc model.PeriodColumn, cell normalizer.Cell, err error) model.RecordError {
	period := pc.Date
	rec := model.NewRecordError(model.KindOf(err), entity, &period, err)
	rec.Sheet, rec.Row, rec.RawValue = sheet, row, cell.Raw
	return rec
}
