package parser

import (
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/normalizer"
)

// SheetSelector picks the worksheets a layout applies to
type SheetSelector struct {
	// Index is the 0-based sheet index. It must exist in the workbook.
	Index int
	// Onward also selects every sheet after Index.
	Onward bool
}

// Layout describes one dialect of the pivot report: where the header and
// period columns are, which first-cell markers end or switch sections, and
// how numbers and dates are written.
type Layout struct {
	Name string

	HeaderRow         int
	NameColumn        int
	PriceColumn       int
	FirstPeriodColumn int
	// TotalMarker labels the trailing total column of the header row
	TotalMarker string

	// Boundaries end the parse at the first row whose first cell contains one of them
	Boundaries []string
	// GroupMarkers switch the current group instead of ending the parse
	GroupMarkers []string
	DefaultGroup string
	// EmitGroups restricts which groups produce facts; empty means all
	EmitGroups []string
	// TitleMarkers identify a report title directly below the header row
	TitleMarkers []string
	// SkipTotalRows skips rows whose price cell contains "total"
	SkipTotalRows bool
	// SkipZeroQuantity drops periods without quantity before facts are emitted
	SkipZeroQuantity bool

	Locale   normalizer.Locale
	DateHint normalizer.DateHint
	Sheets   SheetSelector
}

// PrepaidLayout is the humanitarian organisation prepaid report: the fourth
// sheet, dates from the fourth column, and a "postpaid" section that ends the
// prepaid data.
func PrepaidLayout() Layout {
	return Layout{
		Name:              "prepaid",
		HeaderRow:         0,
		NameColumn:        0,
		PriceColumn:       1,
		FirstPeriodColumn: 3,
		TotalMarker:       "total",
		Boundaries:        []string{"postpaid"},
		SkipZeroQuantity:  true,
		Locale:            normalizer.LocaleUS,
		DateHint:          normalizer.DateDMY,
		Sheets:            SheetSelector{Index: 3},
	}
}

// ProviderLayout is the provider SDP report: every sheet from the fourth on,
// with prepaid/postpaid/total section rows that switch the current group.
// Only the prepaid group is billed from these reports.
func ProviderLayout() Layout {
	return Layout{
		Name:              "provider",
		HeaderRow:         0,
		NameColumn:        0,
		PriceColumn:       1,
		FirstPeriodColumn: 3,
		TotalMarker:       "total",
		GroupMarkers:      []string{"prepaid", "postpaid", "total"},
		DefaultGroup:      "prepaid",
		EmitGroups:        []string{"prepaid"},
		TitleMarkers:      []string{"servis", "izvestaj"},
		SkipTotalRows:     true,
		SkipZeroQuantity:  true,
		Locale:            normalizer.LocaleUS,
		DateHint:          normalizer.DateDMYOrSerial,
		Sheets:            SheetSelector{Index: 3, Onward: true},
	}
}

// ParkingLayout is the parking operator report. It reads like the provider
// report but only from the fourth sheet.
func ParkingLayout() Layout {
	l := ProviderLayout()
	l.Name = "parking"
	l.Sheets = SheetSelector{Index: 3}
	return l
}

// LayoutFor returns the built-in layout by name
func LayoutFor(name string) (Layout, bool) {
	switch name {
	case "prepaid":
		return PrepaidLayout(), true
	case "provider":
		return ProviderLayout(), true
	case "parking":
		return ParkingLayout(), true
	}
	return Layout{}, false
}

func (l Layout) emits(group string) bool {
	if len(l.EmitGroups) == 0 {
		return true
	}
	for _, g := range l.EmitGroups {
		if g == group {
			return true
		}
	}
	return false
}
