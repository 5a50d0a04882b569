package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/billing-ingest/pkg/money"
)

// ServiceSummary is one service's activity in a month
type ServiceSummary struct {
	ServiceID   uuid.UUID       `json:"service_id"`
	ServiceName string          `json:"service_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	Amount      *money.Money    `json:"amount"`
	Days        int             `json:"days"`
}

// MonthSummary is an owner's ledger activity for one calendar month
type MonthSummary struct {
	OwnerID       uuid.UUID        `json:"owner_id"`
	Month         string           `json:"month"`
	Services      []ServiceSummary `json:"services"`
	TotalQuantity decimal.Decimal  `json:"total_quantity"`
	TotalAmount   *money.Money     `json:"total_amount"`
}

// ParseMonth reads a YYYY-MM month and returns its first day in UTC
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: month must be YYYY-MM, got %q", ErrInvalidRequest, s)
	}
	return t, nil
}

// MonthSummary totals the owner's ledger records per service for the month
// starting at month
func (s *ImportService) MonthSummary(ctx context.Context, ownerID uuid.UUID, month time.Time) (*MonthSummary, error) {
	from := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	totals, err := s.ledger.ServiceTotals(ctx, ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load service totals: %w", err)
	}

	summary := &MonthSummary{
		OwnerID:       ownerID,
		Month:         from.Format("2006-01"),
		Services:      make([]ServiceSummary, 0, len(totals)),
		TotalQuantity: decimal.Zero,
		TotalAmount:   money.Zero(money.RSD),
	}
	for _, t := range totals {
		summary.Services = append(summary.Services, ServiceSummary{
			ServiceID:   t.ServiceID,
			ServiceName: t.ServiceName,
			Quantity:    t.Quantity,
			Amount:      money.NewFromDecimal(t.Amount, money.RSD),
			Days:        t.Days,
		})
		summary.TotalQuantity = summary.TotalQuantity.Add(t.Quantity)
		summary.TotalAmount = summary.TotalAmount.AddDecimal(t.Amount)
	}
	return summary, nil
}
