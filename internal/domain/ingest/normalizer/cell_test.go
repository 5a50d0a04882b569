package normalizer

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/model"
)

// ============================================================================
// Cells
// ============================================================================

func TestCellFromString(t *testing.T) {
	tests := []struct {
		input string
		kind  CellKind
	}{
		{"", CellEmpty},
		{"   ", CellEmpty},
		{"12", CellNumber},
		{"-3.5", CellNumber},
		{"1,234.56", CellText},
		{"Donacija 1234", CellText},
		{"01.12.2024", CellText},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.kind, CellFromString(tt.input).Kind)
		})
	}
}

// ============================================================================
// Numbers
// ============================================================================

func TestParseAmount_BlankAndZeroAreEquivalent(t *testing.T) {
	cells := []Cell{
		Empty(),
		Text(""),
		CellFromString(""),
		CellFromString("0"),
		Text("0"),
		Number(decimal.Zero),
	}

	for _, c := range cells {
		for _, loc := range []Locale{LocaleUS, LocaleEuropean} {
			got, err := ParseAmount(c, "amount", loc)
			require.NoError(t, err)
			assert.True(t, got.IsZero(), "cell %+v locale %s", c, loc)
		}
	}
}

func TestParseAmount_Formats(t *testing.T) {
	tests := []struct {
		name  string
		input string
		loc   Locale
		want  string
	}{
		{"us thousands", "1,234.56", LocaleUS, "1234.56"},
		{"european thousands", "1.234,56", LocaleEuropean, "1234.56"},
		{"us grouping only", "1,234", LocaleUS, "1234"},
		{"european grouping only", "1.234", LocaleEuropean, "1234"},
		{"us dot is decimal", "1.234", LocaleUS, "1.234"},
		{"european lone comma is decimal", "12,5", LocaleEuropean, "12.5"},
		{"us lone comma is decimal", "12,5", LocaleUS, "12.5"},
		{"millions", "1,234,567.89", LocaleUS, "1234567.89"},
		{"currency suffix", "1.500,00 RSD", LocaleEuropean, "1500"},
		{"dinar suffix", "250 din.", LocaleUS, "250"},
		{"negative prefix", "-50", LocaleUS, "-50"},
		{"negative suffix", "50-", LocaleUS, "-50"},
		{"accounting negative", "(1,000.00)", LocaleUS, "-1000"},
		{"nbsp thousands", "1 234,5", LocaleEuropean, "1234.5"},
		{"lone dash", "-", LocaleUS, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(Text(tt.input), "amount", tt.loc)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestParseAmount_Malformed(t *testing.T) {
	_, err := ParseAmount(Text("abc"), "quantity", LocaleUS)
	require.Error(t, err)

	var mce *MalformedCellError
	require.True(t, errors.As(err, &mce))
	assert.Equal(t, "quantity", mce.Field)
	assert.Equal(t, "abc", mce.Raw)
	assert.Equal(t, model.KindMalformedCell, model.KindOf(err))
}

func TestParseCount_NumericPassthrough(t *testing.T) {
	got, err := ParseCount(Number(decimal.NewFromFloat(2.5)), "quantity", LocaleEuropean)
	require.NoError(t, err)
	assert.Equal(t, "2.5", got.String())
}

func TestParseLocale(t *testing.T) {
	loc, err := ParseLocale("European")
	require.NoError(t, err)
	assert.Equal(t, LocaleEuropean, loc)

	loc, err = ParseLocale("")
	require.NoError(t, err)
	assert.Equal(t, LocaleUS, loc)

	_, err = ParseLocale("klingon")
	assert.Error(t, err)
}

// ============================================================================
// Dates
// ============================================================================

func TestParseDate(t *testing.T) {
	tests := []struct {
		name   string
		cell   Cell
		hint   DateHint
		want   time.Time
		wantOK bool
	}{
		{"multi-line header", Text("01.12.\n2024."), DateDMY, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), true},
		{"plain", Text("02.01.2025"), DateDMY, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), true},
		{"slashes", Text("5/3/2025"), DateDMY, time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), true},
		{"two digit year", Text("15-06-25"), DateDMY, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), true},
		{"quoted with CRLF", Text("\"03.02.\r\n2025.\""), DateDMY, time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC), true},
		{"with time", Text("03.02.2025 10:30"), DateDMY, time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC), true},
		{"not a date", Text("not a date"), DateDMY, time.Time{}, false},
		{"total marker", Text("TOTAL"), DateDMY, time.Time{}, false},
		{"impossible day", Text("31.04.2025"), DateDMY, time.Time{}, false},
		{"empty", Empty(), DateDMY, time.Time{}, false},
		{"month year", Text("03.2025"), DateMY, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), true},
		{"iso month", Text("2025-11"), DateMY, time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC), true},
		{"serial rejected without hint", Number(decimal.NewFromInt(45658)), DateDMY, time.Time{}, false},
		{"serial", Number(decimal.NewFromInt(45658)), DateDMYOrSerial, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.cell, tt.hint)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
			}
		})
	}
}

// ============================================================================
// Names
// ============================================================================

func TestFoldHeader(t *testing.T) {
	assert.Equal(t, "mesec pruzanja usluge", FoldHeader("Mesec_pružanja  usluge"))
	assert.Equal(t, "jedinicna cena", FoldHeader(" Jedinična cena "))
	assert.Equal(t, "izvestaj", FoldHeader("IZVEŠTAJ"))
}

func TestExtractServiceCode(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"1234 Donacija Crveni krst", "1234"},
		{"Donacija SMS 3030 Unicef", "3030"},
		{"Donacija 12345", ""},
		{"Parking zona", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractServiceCode(tt.name))
		})
	}
}

func TestCleanName(t *testing.T) {
	assert.Equal(t, "1234 Donacija", CleanName("  1234   Donacija\n"))
}
