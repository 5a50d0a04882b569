package parser

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/model"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/normalizer"
)

// MonthlyRecord is one row of the columnar monthly VAS report.
// Header names are folded and mapped onto these tags before unmarshaling.
type MonthlyRecord struct {
	Product              string `csv:"proizvod"`
	Month                string `csv:"mesec_pruzanja_usluge"`
	UnitPrice            string `csv:"jedinicna_cena"`
	Transactions         string `csv:"broj_transakcija"`
	Invoiced             string `csv:"fakturisan_iznos"`
	InvoicedCorrected    string `csv:"fakturisan_korigovan_iznos"`
	Collected            string `csv:"naplacen_iznos"`
	CollectedCumulative  string `csv:"kumulativ_naplacenih_iznosa"`
	Uncollected          string `csv:"nenaplacen_iznos"`
	UncollectedCorrected string `csv:"nenaplacen_korigovan_iznos"`
	Reversed             string `csv:"storniran_iznos"`
	Cancelled            string `csv:"otkazan_iznos"`
	CancelledCumulative  string `csv:"kumulativ_otkazanih_iznosa"`
	Transfer             string `csv:"iznos_za_prenos_sredstava"`
	Provider             string `csv:"provajder"`
}

// measures returns the secondary amounts keyed by column tag
func (r MonthlyRecord) measures() map[string]string {
	return map[string]string{
		"fakturisan_korigovan_iznos":  r.InvoicedCorrected,
		"naplacen_iznos":              r.Collected,
		"kumulativ_naplacenih_iznosa": r.CollectedCumulative,
		"nenaplacen_iznos":            r.Uncollected,
		"nenaplacen_korigovan_iznos":  r.UncollectedCorrected,
		"storniran_iznos":             r.Reversed,
		"otkazan_iznos":               r.Cancelled,
		"kumulativ_otkazanih_iznosa":  r.CancelledCumulative,
		"iznos_za_prenos_sredstava":   r.Transfer,
	}
}

// headerPrefixes maps folded header spellings to column tags. Some exports
// append qualifiers ("storniran iznos u tekucem mesecu iz perioda pracenja").
var headerPrefixes = []struct {
	prefix string
	tag    string
}{
	{"storniran iznos", "storniran_iznos"},
	{"iznos za prenos sredstava", "iznos_za_prenos_sredstava"},
}

// monthlyHeaderScan is how many leading rows are searched for the header
const monthlyHeaderScan = 10

var formulaLegend = regexp.MustCompile(`^\d{1,2}$`)

// MonthlyResult is the parse of a monthly report
type MonthlyResult struct {
	Sheet       string
	HeaderRow   int
	Facts       []model.LineItemFact
	Errors      []model.RecordError
	Providers   []string
	TotalRows   int
	ParsedRows  int
	SkippedRows int
}

// MonthlyParser reads the columnar monthly VAS report: one row per product
// and month, with invoiced, collected and cancelled amounts.
type MonthlyParser struct {
	locale normalizer.Locale
	logger *slog.Logger
}

// NewMonthlyParser creates a monthly report parser
func NewMonthlyParser(locale normalizer.Locale, logger *slog.Logger) *MonthlyParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonthlyParser{locale: locale, logger: logger}
}

// Parse reads one sheet (the first sheet of a workbook, or a CSV grid)
func (p *MonthlyParser) Parse(sheet *RawSheet) (*MonthlyResult, error) {
	headerIdx := findMonthlyHeader(sheet)
	if headerIdx < 0 {
		return nil, fmt.Errorf("sheet %q: no \"proizvod\" column in the first %d rows: %w", sheet.Name, monthlyHeaderScan, ErrNoHeaderRow)
	}

	header := sheet.Rows[headerIdx]
	tags := make([]string, len(header))
	monthCol := -1
	for i, c := range header {
		tags[i] = columnTag(c.Raw)
		if tags[i] == "mesec_pruzanja_usluge" {
			monthCol = i
		}
	}

	result := &MonthlyResult{
		Sheet:     sheet.Name,
		HeaderRow: headerIdx,
		Facts:     make([]model.LineItemFact, 0),
		Errors:    make([]model.RecordError, 0),
	}

	records := [][]string{tags}
	var sourceRows []int
	for i := headerIdx + 1; i < len(sheet.Rows); i++ {
		row := sheet.Rows[i]
		result.TotalRows++

		if isBlank(row) || formulaLegend.MatchString(cellAt(row, 0).String()) {
			result.SkippedRows++
			continue
		}

		record := make([]string, len(tags))
		for j := range record {
			record[j] = cellAt(row, j).String()
		}
		records = append(records, record)
		sourceRows = append(sourceRows, i)
	}

	var parsed []MonthlyRecord
	if len(sourceRows) > 0 {
		if err := gocsv.UnmarshalCSV(&gridReader{records: records}, &parsed); err != nil {
			return nil, fmt.Errorf("failed to map monthly report columns: %w", err)
		}
	}

	providers := make(map[string]struct{})
	for k, rec := range parsed {
		fact, recErr := p.buildFact(sheet.Name, sourceRows[k]+1, monthCol, rec)
		if recErr != nil {
			result.Errors = append(result.Errors, *recErr)
			continue
		}
		result.Facts = append(result.Facts, fact)
		result.ParsedRows++
		if fact.Provider != "" {
			if _, seen := providers[fact.Provider]; !seen {
				providers[fact.Provider] = struct{}{}
				result.Providers = append(result.Providers, fact.Provider)
			}
		}
	}

	p.logger.Debug("monthly report parsed",
		slog.String("sheet", sheet.Name),
		slog.Int("header_row", headerIdx+1),
		slog.Int("facts", len(result.Facts)),
		slog.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (p *MonthlyParser) buildFact(sheet string, row, monthCol int, rec MonthlyRecord) (model.LineItemFact, *model.RecordError) {
	name := normalizer.CleanName(rec.Product)
	fail := func(kind model.ErrorKind, raw, msg string) *model.RecordError {
		return &model.RecordError{ErrKind: kind, Sheet: sheet, Row: row, Entity: name, RawValue: raw, Message: msg}
	}

	if name == "" || strings.TrimSpace(rec.Month) == "" {
		return model.LineItemFact{}, fail(model.KindMalformedCell, "", "missing required field: proizvod or mesec_pruzanja_usluge")
	}

	period, ok := normalizer.ParseDate(normalizer.Text(rec.Month), normalizer.DateMY)
	if !ok || period.Year() < 2000 || period.Year() > 2100 {
		return model.LineItemFact{}, fail(model.KindMalformedCell, rec.Month, "invalid service month, expected MM.YYYY")
	}

	number := func(field, raw string) (decimal.Decimal, *model.RecordError) {
		d, err := normalizer.ParseAmount(normalizer.CellFromString(raw), field, p.locale)
		if err != nil {
			re := fail(model.KindOf(err), raw, err.Error())
			re.Period = &period
			return decimal.Zero, re
		}
		return d, nil
	}

	price, recErr := number("jedinicna_cena", rec.UnitPrice)
	if recErr != nil {
		return model.LineItemFact{}, recErr
	}
	qty, recErr := number("broj_transakcija", rec.Transactions)
	if recErr != nil {
		return model.LineItemFact{}, recErr
	}
	amount, recErr := number("fakturisan_iznos", rec.Invoiced)
	if recErr != nil {
		return model.LineItemFact{}, recErr
	}

	measures := make(map[string]decimal.Decimal)
	for field, raw := range rec.measures() {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		d, recErr := number(field, raw)
		if recErr != nil {
			return model.LineItemFact{}, recErr
		}
		measures[field] = d
	}

	return model.LineItemFact{
		RawName:   rec.Product,
		Name:      name,
		Code:      normalizer.ExtractServiceCode(name),
		UnitPrice: price,
		Sheet:     sheet,
		Row:       row,
		PerPeriod: []model.PeriodValue{{
			Period:   model.PeriodColumn{Column: monthCol, Date: period},
			Quantity: qty,
			Amount:   amount,
		}},
		TotalQuantity: qty,
		TotalAmount:   amount,
		Measures:      measures,
		Provider:      strings.TrimSpace(rec.Provider),
	}, nil
}

func findMonthlyHeader(sheet *RawSheet) int {
	for i := 0; i < len(sheet.Rows) && i < monthlyHeaderScan; i++ {
		for _, c := range sheet.Rows[i] {
			if c.IsText() && strings.Contains(normalizer.FoldHeader(c.Raw), "proizvod") {
				return i
			}
		}
	}
	return -1
}

// columnTag folds a header label into its gocsv tag
func columnTag(label string) string {
	folded := strings.TrimRight(normalizer.FoldHeader(label), "* ")
	for _, hp := range headerPrefixes {
		if strings.HasPrefix(folded, hp.prefix) {
			return hp.tag
		}
	}
	return strings.ReplaceAll(folded, " ", "_")
}

// gridReader feeds already-split records to gocsv
type gridReader struct {
	records [][]string
	pos     int
}

func (r *gridReader) Read() ([]string, error) {
	if r.pos >= len(r.records) {
		return nil, io.EOF
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, nil
}

func (r *gridReader) ReadAll() ([][]string, error) {
	rest := r.records[r.pos:]
	r.pos = len(r.records)
	return rest, nil
}
