// Package sniffer detects the shape of billing exports: the field delimiter
// of delimited text and the number formatting convention of the amounts.
package sniffer

import (
	"strings"
	"unicode"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/normalizer"
)

// maxHeaderScan bounds how many lines are read to pick the delimiter
const maxHeaderScan = 20

// Dialect is the inferred number formatting of a file
type Dialect struct {
	Locale       normalizer.Locale
	CurrencyHint string
	Confidence   float64
}

// DetectDelimiter returns the most frequent candidate delimiter of the first
// non-blank lines, defaulting to ';' which is what the billing system exports.
func DetectDelimiter(data []byte) rune {
	counts := make(map[rune]int)
	seen := 0
	for i, line := range strings.Split(string(data), "\n") {
		line = cleanLine(line, i == 0)
		if line == "" {
			continue
		}
		if d, n := detectDelimiter(line); n > 0 {
			counts[d]++
		}
		seen++
		if seen >= maxHeaderScan {
			break
		}
	}

	best, bestCount := ';', 0
	for _, d := range candidateDelimiters {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best
}

// DetectDialect inspects sample rows for the thousands/decimal convention.
// Cells that are unambiguous ("1.234,56", "12,5") vote; the majority wins.
func DetectDialect(sampleRows [][]string) *Dialect {
	dialect := &Dialect{Locale: normalizer.LocaleUS, Confidence: 0.5}

	europeanHints, usHints := 0, 0
	for _, row := range sampleRows {
		for _, cell := range row {
			switch hint := analyzeAmountFormat(cell); {
			case hint > 0:
				europeanHints++
			case hint < 0:
				usHints++
			}

			upper := strings.ToUpper(cell)
			switch {
			case strings.Contains(upper, "RSD") || strings.Contains(upper, "DIN"):
				dialect.CurrencyHint = "RSD"
			case strings.Contains(cell, "€") || strings.Contains(upper, "EUR"):
				dialect.CurrencyHint = "EUR"
			}
		}
	}

	if europeanHints > usHints {
		dialect.Locale = normalizer.LocaleEuropean
	}

	if total := europeanHints + usHints; total > 0 {
		winning := europeanHints
		if usHints > europeanHints {
			winning = usHints
		}
		dialect.Confidence = float64(winning) / float64(total)
	}

	return dialect
}

// analyzeAmountFormat returns: >0 for European, <0 for US, 0 for ambiguous
func analyzeAmountFormat(val string) int {
	if strings.IndexFunc(val, unicode.IsLetter) >= 0 {
		return 0
	}
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == ',' || r == '.' {
			return r
		}
		return -1
	}, val)

	if cleaned == "" {
		return 0
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			return 1
		}
		return -1
	case lastComma >= 0:
		if len(cleaned)-lastComma-1 <= 2 {
			return 1
		}
	case lastDot >= 0:
		// dates such as 01.12.2024 carry two dots and say nothing about amounts
		if strings.Count(cleaned, ".") == 1 && len(cleaned)-lastDot-1 <= 2 {
			return -1
		}
	}
	return 0
}

func cleanLine(line string, firstLine bool) string {
	line = strings.TrimRight(line, "\r")
	if firstLine {
		line = strings.TrimPrefix(line, "\uFEFF")
	}
	return strings.TrimSpace(line)
}

var candidateDelimiters = []rune{';', '\t', ',', '|'}

func detectDelimiter(line string) (rune, int) {
	bestDelimiter := rune(0)
	bestCount := 0
	for _, d := range candidateDelimiters {
		count := strings.Count(line, string(d))
		if count > bestCount {
			bestCount = count
			bestDelimiter = d
		}
	}
	return bestDelimiter, bestCount
}
