// Package normalizer converts raw spreadsheet cells into typed values and
// canonicalises the provider and service names found in billing reports.
package normalizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/model"
)

// CellKind tags the value held by a Cell
type CellKind int

const (
	CellEmpty CellKind = iota
	CellText
	CellNumber
)

// Cell is one value of a raw sheet grid
type Cell struct {
	Kind   CellKind
	Raw    string
	Number decimal.Decimal
}

// Empty returns a blank cell
func Empty() Cell {
	return Cell{Kind: CellEmpty}
}

// Text returns a text cell
func Text(s string) Cell {
	if strings.TrimSpace(s) == "" {
		return Empty()
	}
	return Cell{Kind: CellText, Raw: s}
}

// Number returns a numeric cell
func Number(d decimal.Decimal) Cell {
	return Cell{Kind: CellNumber, Raw: d.String(), Number: d}
}

var plainNumber = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// CellFromString classifies a value read from a workbook or a CSV record.
// Only plain machine numbers ("1234.5", "-3") become numeric cells; anything
// formatted for display stays text and goes through ParseAmount.
func CellFromString(s string) Cell {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Empty()
	}
	if plainNumber.MatchString(trimmed) {
		if d, err := decimal.NewFromString(trimmed); err == nil {
			return Cell{Kind: CellNumber, Raw: s, Number: d}
		}
	}
	return Cell{Kind: CellText, Raw: s}
}

// IsEmpty reports whether the cell is blank
func (c Cell) IsEmpty() bool { return c.Kind == CellEmpty }

// IsText reports whether the cell holds non-numeric text
func (c Cell) IsText() bool { return c.Kind == CellText }

// IsNumber reports whether the cell holds a plain number
func (c Cell) IsNumber() bool { return c.Kind == CellNumber }

// String returns the trimmed source text of the cell
func (c Cell) String() string {
	return strings.TrimSpace(c.Raw)
}

// Locale selects the thousands and decimal separators of formatted numbers
type Locale int

const (
	// LocaleUS formats numbers as 1,234.56
	LocaleUS Locale = iota
	// LocaleEuropean formats numbers as 1.234,56
	LocaleEuropean
)

func (l Locale) String() string {
	if l == LocaleEuropean {
		return "european"
	}
	return "us"
}

// ParseLocale maps a configuration value to a Locale
func ParseLocale(s string) (Locale, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "us", "en", "international":
		return LocaleUS, nil
	case "eu", "european", "sr", "rs":
		return LocaleEuropean, nil
	}
	return LocaleUS, fmt.Errorf("unknown number locale %q", s)
}

// MalformedCellError is returned when a cell cannot be read as a number
type MalformedCellError struct {
	Field string
	Raw   string
}

func (e *MalformedCellError) Error() string {
	return fmt.Sprintf("malformed %s value %q", e.Field, e.Raw)
}

// Kind implements model.Kinded
func (e *MalformedCellError) Kind() model.ErrorKind {
	return model.KindMalformedCell
}

// currency tokens stripped before parsing, longest first
var currencyTokens = []string{"дин.", "din.", "дин", "din", "RSD", "rsd", "EUR", "eur", "€"}

// ParseAmount reads a monetary value. Blank cells and "0" are zero.
func ParseAmount(c Cell, field string, loc Locale) (decimal.Decimal, error) {
	return parseNumeric(c, field, loc)
}

// ParseCount reads a quantity with the same rules as ParseAmount.
// Quantities may be fractional in source data.
func ParseCount(c Cell, field string, loc Locale) (decimal.Decimal, error) {
	return parseNumeric(c, field, loc)
}

func parseNumeric(c Cell, field string, loc Locale) (decimal.Decimal, error) {
	switch c.Kind {
	case CellEmpty:
		return decimal.Zero, nil
	case CellNumber:
		return c.Number, nil
	}

	d, ok := parseFormatted(c.Raw, loc)
	if !ok {
		return decimal.Zero, &MalformedCellError{Field: field, Raw: c.Raw}
	}
	return d, nil
}

var digitsOnly = regexp.MustCompile(`^\d+(\.\d+)?$`)

func parseFormatted(raw string, loc Locale) (decimal.Decimal, bool) {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == ' ' || r == '\'' {
			return -1
		}
		return r
	}, raw)
	for _, tok := range currencyTokens {
		s = strings.ReplaceAll(s, tok, "")
	}

	// accounting formats render zero as a lone dash
	if s == "" || s == "-" {
		return decimal.Zero, true
	}

	negative := false
	switch {
	case strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")"):
		negative = true
		s = s[1 : len(s)-1]
	case strings.HasPrefix(s, "-"):
		negative = true
		s = s[1:]
	case strings.HasSuffix(s, "-"):
		negative = true
		s = s[:len(s)-1]
	}
	s = strings.TrimPrefix(s, "+")

	s = normalizeSeparators(s, loc)
	if !digitsOnly.MatchString(s) {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// normalizeSeparators rewrites s so that '.' is the only decimal separator.
// When both separators appear the later one is the decimal point. When only
// one appears it is a grouping mark if every group after it has three digits,
// otherwise a single occurrence is taken as the decimal point.
func normalizeSeparators(s string, loc Locale) string {
	lastDot, lastComma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			return strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastDot < 0 && lastComma < 0:
		return s
	}

	sep := "."
	if lastComma >= 0 {
		sep = ","
	}

	grouped := isGrouped(s, sep)
	// "1.234" is a thousand in European sheets and 1.234 in US ones
	if grouped && strings.Count(s, sep) == 1 {
		thousands := ","
		if loc == LocaleEuropean {
			thousands = "."
		}
		grouped = sep == thousands
	}

	if grouped {
		return strings.ReplaceAll(s, sep, "")
	}
	if strings.Count(s, sep) == 1 {
		return strings.Replace(s, sep, ".", 1)
	}
	return s
}

func isGrouped(s, sep string) bool {
	parts := strings.Split(s, sep)
	if len(parts[0]) == 0 || len(parts[0]) > 3 {
		return false
	}
	for _, p := range parts[1:] {
		if len(p) != 3 {
			return false
		}
	}
	return true
}

// DateHint selects the pattern ParseDate expects
type DateHint int

const (
	// DateDMY matches DD.MM.YYYY with '.', '/' or '-' separators
	DateDMY DateHint = iota
	// DateMY matches MM.YYYY (or YYYY-MM) and yields the first of the month
	DateMY
	// DateDMYOrSerial also accepts Excel serial day numbers
	DateDMYOrSerial
)

var (
	dmyPattern = regexp.MustCompile(`^(\d{1,2})[./-](\d{1,2})[./-](\d{4}|\d{2})`)
	myPattern  = regexp.MustCompile(`^(\d{1,2})[./-](\d{4})`)
	ymPattern  = regexp.MustCompile(`^(\d{4})[./-](\d{1,2})`)
	serialDay  = regexp.MustCompile(`^\d{5}(\.\d+)?$`)
	dateNoise  = regexp.MustCompile(`[^\d./-]`)
)

// ParseDate reads a period label. Header labels are often split over several
// visual lines ("01.12.\n2024."); whitespace and other noise are stripped
// before matching. It returns false instead of an error when the cell holds
// no recognisable date.
func ParseDate(c Cell, hint DateHint) (time.Time, bool) {
	if c.IsEmpty() {
		return time.Time{}, false
	}

	if c.IsNumber() {
		if hint != DateDMYOrSerial {
			return time.Time{}, false
		}
		f, _ := c.Number.Float64()
		return fromSerial(f)
	}

	s := dateNoise.ReplaceAllString(c.Raw, "")
	if s == "" {
		return time.Time{}, false
	}

	switch hint {
	case DateMY:
		if m := myPattern.FindStringSubmatch(s); m != nil {
			return buildDate(m[2], m[1], "1")
		}
		if m := ymPattern.FindStringSubmatch(s); m != nil {
			return buildDate(m[1], m[2], "1")
		}
		return time.Time{}, false
	case DateDMYOrSerial:
		if serialDay.MatchString(s) {
			if d, err := decimal.NewFromString(s); err == nil {
				f, _ := d.Float64()
				return fromSerial(f)
			}
		}
	}

	m := dmyPattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	year := m[3]
	if len(year) == 2 {
		year = "20" + year
	}
	return buildDate(year, m[2], m[1])
}

func buildDate(year, month, day string) (time.Time, bool) {
	y, errY := strconv.Atoi(year)
	mo, errM := strconv.Atoi(month)
	d, errD := strconv.Atoi(day)
	if errY != nil || errM != nil || errD != nil {
		return time.Time{}, false
	}
	if y < 1900 || y > 2100 || mo < 1 || mo > 12 || d < 1 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalises overflow (31.04 becomes 01.05); reject it
	if t.Day() != d || int(t.Month()) != mo {
		return time.Time{}, false
	}
	return t, true
}

func fromSerial(serial float64) (time.Time, bool) {
	if serial < 1 || serial > 2958465 {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
}

var headerFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldHeader lower-cases s, strips diacritics and collapses whitespace and
// underscores, so "Mesec_pružanja usluge" and "mesec pruzanja  usluge" compare equal.
func FoldHeader(s string) string {
	folded, _, err := transform.String(headerFolder, s)
	if err != nil {
		folded = s
	}
	folded = strings.NewReplacer("đ", "dj", "Đ", "dj", "_", " ").Replace(folded)
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// CleanName trims s and collapses internal whitespace
func CleanName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var (
	leadingCode    = regexp.MustCompile(`^\s*(\d+)`)
	standaloneCode = regexp.MustCompile(`(?:^|\D)(\d{4})(?:\D|$)`)
)

// ExtractServiceCode returns the numeric short code of a service name:
// its leading digit run, else the first standalone four-digit group.
func ExtractServiceCode(name string) string {
	if m := leadingCode.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	if m := standaloneCode.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return ""
}
