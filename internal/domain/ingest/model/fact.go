// Package model holds the types shared by every stage of the billing report pipeline.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DomainType partitions services into disjoint business domains.
type DomainType string

const (
	DomainVAS          DomainType = "VAS"
	DomainHumanitarian DomainType = "HUMANITARIAN"
	DomainParking      DomainType = "PARKING"
)

// BillingType is the billing discriminator of a ledger record.
type BillingType string

const (
	BillingPrepaid  BillingType = "PREPAID"
	BillingPostpaid BillingType = "POSTPAID"
)

// ReportKind selects the importer variant for a file.
type ReportKind string

const (
	// ReportPrepaid is the humanitarian organisation prepaid pivot report.
	ReportPrepaid ReportKind = "prepaid"
	// ReportProvider is the provider SDP pivot report with prepaid/postpaid sections.
	ReportProvider ReportKind = "provider"
	// ReportMonthly is the columnar monthly VAS report (one row per product and month).
	ReportMonthly ReportKind = "monthly"
	// ReportParking is the parking operator pivot report. Services are keyed by
	// their 4-digit code.
	ReportParking ReportKind = "parking"
)

// ParseReportKind validates a user-supplied report kind.
func ParseReportKind(s string) (ReportKind, bool) {
	switch k := ReportKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ReportPrepaid, ReportProvider, ReportMonthly, ReportParking:
		return k, true
	}
	return "", false
}

// PeriodColumn binds a calendar day to a column of the header row.
type PeriodColumn struct {
	Column int       `json:"column"`
	Date   time.Time `json:"date"`
}

// PeriodValue is the activity of one line item in one period.
type PeriodValue struct {
	Period   PeriodColumn    `json:"period"`
	Quantity decimal.Decimal `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

// IsZero reports whether the period carries no billable activity.
func (v PeriodValue) IsZero() bool {
	return v.Quantity.IsZero() && v.Amount.IsZero()
}

// LineItemFact is one parsed service line with its per-period activity.
type LineItemFact struct {
	// RawName is the name exactly as it appears in the sheet.
	RawName string `json:"raw_name"`
	// Name is the trimmed, whitespace-collapsed form used for lookups.
	Name      string          `json:"name"`
	Code      string          `json:"code,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Group     string          `json:"group,omitempty"`
	Sheet     string          `json:"sheet,omitempty"`
	Row       int             `json:"row"`

	PerPeriod []PeriodValue `json:"per_period"`

	TotalQuantity decimal.Decimal `json:"total_quantity"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	HasTotals     bool            `json:"has_totals"`

	// Measures holds additional named amounts reported alongside the line
	// (collected, cancelled, reversed...). Only columnar reports fill it.
	Measures map[string]decimal.Decimal `json:"measures,omitempty"`
	// Provider is set when the row itself names its provider.
	Provider string `json:"provider,omitempty"`
}

// PeriodSum returns the sums of quantity and amount across all periods.
func (f LineItemFact) PeriodSum() (decimal.Decimal, decimal.Decimal) {
	qty, amt := decimal.Zero, decimal.Zero
	for _, p := range f.PerPeriod {
		qty = qty.Add(p.Quantity)
		amt = amt.Add(p.Amount)
	}
	return qty, amt
}
