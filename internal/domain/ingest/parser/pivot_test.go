package parser

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/model"
)

func sheetOf(name string, rows ...[]string) *RawSheet {
	return &RawSheet{Name: name, Rows: toCells(rows)}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// ==================== Classify ====================

func TestClassify_StopsAtBoundary(t *testing.T) {
	sheet := sheetOf("Sheet4",
		[]string{"Naziv", "Cena", "", "01.01.2025", "02.01.2025", "TOTAL"},
		[]string{"ServiceA", "10", "Broj", "1", "2", "3"},
		[]string{"", "", "Iznos", "10", "20", "30"},
		[]string{"POSTPAID"},
		[]string{"ServiceB", "20", "Broj", "1", "1", "2"},
		[]string{"", "", "Iznos", "20", "20", "40"},
	)

	rows := Classify(sheet, PrepaidLayout())
	require.Len(t, rows, 3)

	header, ok := rows[0].(HeaderRow)
	require.True(t, ok)
	assert.Equal(t, 5, header.TotalColumn)
	require.Len(t, header.Periods, 2)
	assert.Equal(t, day(2025, 1, 1), header.Periods[0].Date)

	pair, ok := rows[1].(LineItemPairRow)
	require.True(t, ok)
	assert.Equal(t, "ServiceA", pair.RawName)
	assert.True(t, pair.Price.Equal(dec("10")))

	boundary, ok := rows[2].(BoundaryRow)
	require.True(t, ok)
	assert.True(t, boundary.Halts)
	assert.Equal(t, 3, boundary.RowIndex())
	for _, r := range rows {
		assert.Less(t, r.RowIndex(), 4, "no row after the boundary is classified")
	}
}

func TestClassify_SkippedRows(t *testing.T) {
	sheet := sheetOf("Sheet4",
		[]string{"Naziv", "Cena", "", "01.01.2025"},
		[]string{},
		[]string{"", "5", "Broj", "1"},
		[]string{"Bez cene", "", "Broj", "1"},
		[]string{"ServiceA", "10", "Broj", "1"},
	)

	rows := Classify(sheet, PrepaidLayout())
	reasons := make([]string, 0)
	for _, r := range rows[1:] {
		skipped, ok := r.(SkippedRow)
		require.True(t, ok, "row %d", r.RowIndex())
		reasons = append(reasons, skipped.Reason)
	}
	assert.Equal(t, []string{SkipBlank, SkipNoName, SkipNoPrice, SkipIncomplete}, reasons)
}

func TestClassify_DigitOnlyName(t *testing.T) {
	sheet := sheetOf("NTH",
		[]string{"Naziv", "Cena", "", "01.01.2025", "Total"},
		[]string{"1234", "50", "Broj", "2", "2"},
		[]string{"", "", "Iznos", "100", "100"},
	)

	rows := Classify(sheet, ParkingLayout())
	require.Len(t, rows, 2)
	pair, ok := rows[1].(LineItemPairRow)
	require.True(t, ok)
	assert.Equal(t, "1234", pair.RawName)

	res, err := NewPivotParser(ParkingLayout(), nil).Parse(sheet)
	require.NoError(t, err)
	require.Len(t, res.Facts, 1)
	assert.Equal(t, "1234", res.Facts[0].Name)
	assert.Equal(t, "1234", res.Facts[0].Code)
	assert.True(t, res.Facts[0].PerPeriod[0].Amount.Equal(dec("100")))
}

func TestClassify_PairBeforeBoundaryIsIncomplete(t *testing.T) {
	sheet := sheetOf("Sheet4",
		[]string{"Naziv", "Cena", "", "01.01.2025"},
		[]string{"ServiceA", "10", "Broj", "1"},
		[]string{"Postpaid usluge"},
	)

	rows := Classify(sheet, PrepaidLayout())
	require.Len(t, rows, 3)
	assert.Equal(t, SkippedRow{Index: 1, Reason: SkipIncomplete}, rows[1])
	assert.IsType(t, BoundaryRow{}, rows[2])
}

func TestClassify_OutOfOrderDates(t *testing.T) {
	sheet := sheetOf("Sheet4",
		[]string{"Naziv", "Cena", "", "02.01.2025", "01.01.2025", "03.01.2025", "Total"},
	)

	header := Classify(sheet, PrepaidLayout())[0].(HeaderRow)
	require.Len(t, header.Periods, 2)
	assert.Equal(t, 3, header.Periods[0].Column)
	assert.Equal(t, 5, header.Periods[1].Column)
	assert.Equal(t, []int{4}, header.OutOfOrder)
}

// ==================== PivotParser ====================

func TestPivotParser_PrepaidSheet(t *testing.T) {
	layout := PrepaidLayout()
	layout.SkipZeroQuantity = false

	sheet := sheetOf("Sheet4",
		[]string{"Name", "Price", "", "01.01.2025", "02.01.2025", "TOTAL"},
		[]string{"ServiceA", "10", "Broj", "5", "0", "5"},
		[]string{"", "", "Iznos", "50", "0", "50"},
	)

	res, err := NewPivotParser(layout, nil).Parse(sheet)
	require.NoError(t, err)

	require.Len(t, res.Facts, 1)
	fact := res.Facts[0]
	assert.Equal(t, "ServiceA", fact.Name)
	assert.True(t, fact.UnitPrice.Equal(dec("10")))
	assert.Equal(t, 2, fact.Row)
	require.Len(t, fact.PerPeriod, 2)
	assert.Equal(t, day(2025, 1, 1), fact.PerPeriod[0].Period.Date)
	assert.True(t, fact.PerPeriod[0].Quantity.Equal(dec("5")))
	assert.True(t, fact.PerPeriod[0].Amount.Equal(dec("50")))
	assert.True(t, fact.PerPeriod[1].IsZero())

	assert.True(t, fact.HasTotals)
	assert.True(t, fact.TotalQuantity.Equal(dec("5")))
	assert.True(t, fact.TotalAmount.Equal(dec("50")))

	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 1, res.ParsedPairs)
	assert.Nil(t, res.Boundary)
}

func TestPivotParser_SkipZeroQuantity(t *testing.T) {
	sheet := sheetOf("Sheet4",
		[]string{"Name", "Price", "", "01.01.2025", "02.01.2025", "TOTAL"},
		[]string{"ServiceA", "10", "Broj", "5", "0", "5"},
		[]string{"", "", "Iznos", "50", "0", "50"},
		[]string{"ServiceB", "10", "Broj", "0", "0", "0"},
		[]string{"", "", "Iznos", "0", "0", "0"},
	)

	res, err := NewPivotParser(PrepaidLayout(), nil).Parse(sheet)
	require.NoError(t, err)
	require.Len(t, res.Facts, 2)
	assert.Len(t, res.Facts[0].PerPeriod, 1)
	assert.Empty(t, res.Facts[1].PerPeriod, "fact is kept so the service can still be provisioned")
}

func TestPivotParser_BoundaryHaltsEmission(t *testing.T) {
	sheet := sheetOf("Sheet4",
		[]string{"Name", "Price", "", "01.01.2025", "TOTAL"},
		[]string{"ServiceA", "10", "Broj", "1", "1"},
		[]string{"", "", "Iznos", "10", "10"},
		[]string{"Postpaid"},
		[]string{"ServiceB", "10", "Broj", "1", "1"},
		[]string{"", "", "Iznos", "10", "10"},
	)

	res, err := NewPivotParser(PrepaidLayout(), nil).Parse(sheet)
	require.NoError(t, err)
	require.Len(t, res.Facts, 1)
	assert.Equal(t, "ServiceA", res.Facts[0].Name)
	require.NotNil(t, res.Boundary)
	assert.Equal(t, 3, res.Boundary.Index)
}

func TestPivotParser_MalformedCellKeepsOtherPeriods(t *testing.T) {
	sheet := sheetOf("Sheet4",
		[]string{"Name", "Price", "", "01.01.2025", "02.01.2025", "TOTAL"},
		[]string{"ServiceA", "10", "Broj", "abc", "2", "3"},
		[]string{"", "", "Iznos", "10", "2x0", "30"},
	)

	res, err := NewPivotParser(PrepaidLayout(), nil).Parse(sheet)
	require.NoError(t, err)

	require.Len(t, res.Errors, 2)
	assert.Equal(t, model.KindMalformedCell, res.Errors[0].ErrKind)
	assert.Equal(t, 2, res.Errors[0].Row)
	assert.Equal(t, "abc", res.Errors[0].RawValue)
	assert.Equal(t, day(2025, 1, 1), *res.Errors[0].Period)
	assert.Equal(t, 3, res.Errors[1].Row)
	assert.Equal(t, "2x0", res.Errors[1].RawValue)

	require.Len(t, res.Facts, 1)
	assert.Empty(t, res.Facts[0].PerPeriod)
	assert.Empty(t, res.Warnings, "totals are not cross-checked for a malformed line")
}

func TestPivotParser_TotalsMismatchWarns(t *testing.T) {
	sheet := sheetOf("Sheet4",
		[]string{"Name", "Price", "", "01.01.2025", "02.01.2025", "TOTAL"},
		[]string{"ServiceA", "10", "Broj", "1", "1", "2"},
		[]string{"", "", "Iznos", "10", "10", "25"},
	)

	res, err := NewPivotParser(PrepaidLayout(), nil).Parse(sheet)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "ServiceA")
}

func TestPivotParser_ProviderGroups(t *testing.T) {
	sheet := sheetOf("NTH",
		[]string{"Naziv", "Cena", "", "01.01.2025", "02.01.2025", "Total"},
		[]string{"Servis izveštaj NTH"},
		[]string{"Prepaid"},
		[]string{"1234 Kviz", "50", "Broj", "2", "0", "2"},
		[]string{"", "", "Iznos", "100", "0", "100"},
		[]string{"", "Total prepaid", "", "2", "0", "2"},
		[]string{"Postpaid"},
		[]string{"5678 Igra", "20", "Broj", "1", "1", "2"},
		[]string{"", "", "Iznos", "20", "20", "40"},
	)

	res, err := NewPivotParser(ProviderLayout(), nil).Parse(sheet)
	require.NoError(t, err)

	assert.Equal(t, 2, res.ParsedPairs)
	require.Len(t, res.Facts, 1)
	fact := res.Facts[0]
	assert.Equal(t, "1234 Kviz", fact.Name)
	assert.Equal(t, "1234", fact.Code)
	assert.Equal(t, "prepaid", fact.Group)
	require.Len(t, fact.PerPeriod, 1)
	assert.True(t, fact.PerPeriod[0].Amount.Equal(dec("100")))
	assert.Nil(t, res.Boundary)

	var reasons []string
	for _, r := range res.Rows {
		if s, ok := r.(SkippedRow); ok {
			reasons = append(reasons, s.Reason)
		}
	}
	assert.Equal(t, []string{SkipTitle, SkipTotal}, reasons)
}

func TestPivotParser_NoHeaderRow(t *testing.T) {
	_, err := NewPivotParser(PrepaidLayout(), nil).Parse(sheetOf("empty"))
	assert.ErrorIs(t, err, ErrNoHeaderRow)
}

func TestPivotParser_ParseWorkbook(t *testing.T) {
	data := [][]string{
		{"Name", "Price", "", "01.01.2025", "TOTAL"},
		{"ServiceA", "10", "Broj", "1", "1"},
		{"", "", "Iznos", "10", "10"},
	}

	t.Run("missing sheet", func(t *testing.T) {
		wb := &Workbook{Sheets: []*RawSheet{sheetOf("a"), sheetOf("b")}}
		_, err := NewPivotParser(PrepaidLayout(), nil).ParseWorkbook(wb)
		assert.ErrorIs(t, err, ErrSheetMissing)
	})

	t.Run("single sheet", func(t *testing.T) {
		wb := &Workbook{Sheets: []*RawSheet{
			sheetOf("a"), sheetOf("b"), sheetOf("c"), sheetOf("d", data...), sheetOf("e", data...),
		}}
		results, err := NewPivotParser(PrepaidLayout(), nil).ParseWorkbook(wb)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "d", results[0].Sheet)
	})

	t.Run("onward skips empty sheets", func(t *testing.T) {
		wb := &Workbook{Sheets: []*RawSheet{
			sheetOf("a"), sheetOf("b"), sheetOf("c"), sheetOf("d", data...), sheetOf("e"), sheetOf("f", data...),
		}}
		results, err := NewPivotParser(ProviderLayout(), nil).ParseWorkbook(wb)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "f", results[1].Sheet)
	})
}
