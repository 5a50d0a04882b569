package parser

import (
	"strings"

	"github.com/cloudflare/ahocorasick"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/model"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/normalizer"
)

// Row is one classified row of a sheet. It is one of HeaderRow, BoundaryRow,
// LineItemPairRow or SkippedRow.
type Row interface {
	RowIndex() int
	isRow()
}

// HeaderRow carries the period columns resolved from the header
type HeaderRow struct {
	Index   int
	Periods []model.PeriodColumn
	// TotalColumn is the index of the trailing total column, or -1
	TotalColumn int
	// OutOfOrder lists date columns dropped because they did not follow the previous date
	OutOfOrder []int
}

// BoundaryRow is a section marker. A halting boundary ends the parse; any
// other boundary switches the current group.
type BoundaryRow struct {
	Index  int
	Marker string
	Group  string
	Halts  bool
}

// LineItemPairRow is a quantity row and the amount row that follows it
type LineItemPairRow struct {
	Index       int
	RawName     string
	Price       decimal.Decimal
	Group       string
	QuantityRow []normalizer.Cell
	AmountRow   []normalizer.Cell
}

// SkippedRow is a row that is neither a line item nor a boundary
type SkippedRow struct {
	Index  int
	Reason string
}

func (r HeaderRow) RowIndex() int       { return r.Index }
func (r BoundaryRow) RowIndex() int     { return r.Index }
func (r LineItemPairRow) RowIndex() int { return r.Index }
func (r SkippedRow) RowIndex() int      { return r.Index }

func (HeaderRow) isRow()       {}
func (BoundaryRow) isRow()     {}
func (LineItemPairRow) isRow() {}
func (SkippedRow) isRow()      {}

// Skip reasons
const (
	SkipBlank      = "blank"
	SkipTitle      = "title"
	SkipTotal      = "total"
	SkipNoName     = "no name"
	SkipNoPrice    = "no price"
	SkipIncomplete = "incomplete pair"
)

type markerKind int

const (
	markerBoundary markerKind = iota
	markerGroup
	markerTitle
)

type marker struct {
	text string
	kind markerKind
}

// classifier recognises markers in first cells with a single Aho-Corasick pass.
// Markers are matched against the folded cell text; boundaries win over group
// markers, which win over titles.
type classifier struct {
	layout  Layout
	markers []marker
	matcher *ahocorasick.Matcher
}

func newClassifier(layout Layout) *classifier {
	c := &classifier{layout: layout}
	add := func(texts []string, kind markerKind) {
		for _, t := range texts {
			if t = normalizer.FoldHeader(t); t != "" {
				c.markers = append(c.markers, marker{text: t, kind: kind})
			}
		}
	}
	add(layout.Boundaries, markerBoundary)
	add(layout.GroupMarkers, markerGroup)
	add(layout.TitleMarkers, markerTitle)

	dict := make([]string, len(c.markers))
	for i, m := range c.markers {
		dict[i] = m.text
	}
	if len(dict) > 0 {
		c.matcher = ahocorasick.NewStringMatcher(dict)
	}
	return c
}

func (c *classifier) match(cell normalizer.Cell) (marker, bool) {
	if c.matcher == nil || !cell.IsText() {
		return marker{}, false
	}
	hits := c.matcher.MatchThreadSafe([]byte(normalizer.FoldHeader(cell.Raw)))
	if len(hits) == 0 {
		return marker{}, false
	}
	best := hits[0]
	for _, h := range hits[1:] {
		if h < best {
			best = h
		}
	}
	return c.markers[best], true
}

// Classify splits a sheet into typed rows. The first row returned is always
// the HeaderRow; classification stops at a halting boundary, so no row after
// it is returned.
func Classify(sheet *RawSheet, layout Layout) []Row {
	return newClassifier(layout).classify(sheet)
}

func (c *classifier) classify(sheet *RawSheet) []Row {
	l := c.layout
	rows := []Row{c.header(sheet)}
	group := l.DefaultGroup

	for i := l.HeaderRow + 1; i < len(sheet.Rows); {
		if isBlank(sheet.Rows[i]) {
			rows = append(rows, SkippedRow{Index: i, Reason: SkipBlank})
			i++
			continue
		}

		first := sheet.Cell(i, l.NameColumn)
		if m, ok := c.match(first); ok {
			switch m.kind {
			case markerBoundary:
				return append(rows, BoundaryRow{Index: i, Marker: m.text, Halts: true})
			case markerGroup:
				group = m.text
				rows = append(rows, BoundaryRow{Index: i, Marker: m.text, Group: m.text})
				i++
				continue
			case markerTitle:
				if i == l.HeaderRow+1 {
					rows = append(rows, SkippedRow{Index: i, Reason: SkipTitle})
					i++
					continue
				}
			}
		}

		priceCell := sheet.Cell(i, l.PriceColumn)
		if l.SkipTotalRows && priceCell.IsText() && strings.Contains(normalizer.FoldHeader(priceCell.Raw), "total") {
			rows = append(rows, SkippedRow{Index: i, Reason: SkipTotal})
			i++
			continue
		}

		// Parking services are often named by their bare 4-digit code
		if first.IsEmpty() {
			rows = append(rows, SkippedRow{Index: i, Reason: SkipNoName})
			i++
			continue
		}

		price, ok := c.price(priceCell)
		if !ok {
			rows = append(rows, SkippedRow{Index: i, Reason: SkipNoPrice})
			i++
			continue
		}

		if i+1 >= len(sheet.Rows) {
			rows = append(rows, SkippedRow{Index: i, Reason: SkipIncomplete})
			i++
			continue
		}
		if m, ok := c.match(sheet.Cell(i+1, l.NameColumn)); ok && m.kind == markerBoundary {
			rows = append(rows, SkippedRow{Index: i, Reason: SkipIncomplete})
			i++
			continue
		}

		rows = append(rows, LineItemPairRow{
			Index:       i,
			RawName:     first.Raw,
			Price:       price,
			Group:       group,
			QuantityRow: sheet.Rows[i],
			AmountRow:   sheet.Rows[i+1],
		})
		i += 2
	}

	return rows
}

// price accepts numeric cells and text that parses as a number
func (c *classifier) price(cell normalizer.Cell) (decimal.Decimal, bool) {
	if cell.IsEmpty() {
		return decimal.Zero, false
	}
	d, err := normalizer.ParseAmount(cell, "price", c.layout.Locale)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// header resolves the period columns between FirstPeriodColumn and the total
// column. Cells that are not dates are skipped; dates must strictly increase.
func (c *classifier) header(sheet *RawSheet) HeaderRow {
	l := c.layout
	h := HeaderRow{Index: l.HeaderRow, TotalColumn: -1}
	if l.HeaderRow >= len(sheet.Rows) {
		return h
	}
	cells := sheet.Rows[l.HeaderRow]

	end := len(cells)
	if marker := normalizer.FoldHeader(l.TotalMarker); marker != "" {
		for col := len(cells) - 1; col >= l.FirstPeriodColumn; col-- {
			if cells[col].IsText() && normalizer.FoldHeader(cells[col].Raw) == marker {
				h.TotalColumn = col
				end = col
				break
			}
		}
	}

	for col := l.FirstPeriodColumn; col < end; col++ {
		date, ok := normalizer.ParseDate(cells[col], l.DateHint)
		if !ok {
			continue
		}
		if n := len(h.Periods); n > 0 && !date.After(h.Periods[n-1].Date) {
			h.OutOfOrder = append(h.OutOfOrder, col)
			continue
		}
		h.Periods = append(h.Periods, model.PeriodColumn{Column: col, Date: date})
	}
	return h
}

func isBlank(row []normalizer.Cell) bool {
	for _, c := range row {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}
