package normalizer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/billing-ingest/pkg/db"
)

// Match types for provider aliases
const (
	MatchExact    = "exact"
	MatchContains = "contains"
	MatchRegex    = "regex"
)

// ErrAliasNotFound is returned when an alias id does not exist
var ErrAliasNotFound = errors.New("provider alias not found")

// ProviderAlias is an operator-defined mapping from a raw spelling to a provider
type ProviderAlias struct {
	ID            uuid.UUID  `json:"id"`
	MatchPattern  string     `json:"match_pattern"`
	MatchType     string     `json:"match_type"`
	ProviderName  string     `json:"provider_name"`
	MatchCount    int        `json:"match_count"`
	LastMatchedAt *time.Time `json:"last_matched_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Matches reports whether raw is covered by the alias. Matching is case-insensitive;
// an invalid regex never matches.
func (a ProviderAlias) Matches(raw string) bool {
	if raw == "" || a.MatchPattern == "" {
		return false
	}

	switch a.MatchType {
	case MatchContains:
		return strings.Contains(strings.ToUpper(raw), strings.ToUpper(a.MatchPattern))
	case MatchRegex:
		re, err := regexp.Compile("(?i)" + a.MatchPattern)
		if err != nil {
			return false
		}
		return re.MatchString(raw)
	default:
		return strings.EqualFold(strings.TrimSpace(raw), strings.TrimSpace(a.MatchPattern))
	}
}

// ValidMatchType reports whether t is a supported match type
func ValidMatchType(t string) bool {
	return t == MatchExact || t == MatchContains || t == MatchRegex
}

// AliasStore persists provider aliases
type AliasStore struct {
	db db.DBTX
}

// NewAliasStore creates a new alias store
func NewAliasStore(conn db.DBTX) *AliasStore {
	return &AliasStore{db: conn}
}

// Save creates or updates an alias keyed by its pattern
func (s *AliasStore) Save(ctx context.Context, alias ProviderAlias) (*ProviderAlias, error) {
	if alias.MatchType == "" {
		alias.MatchType = MatchExact
	}
	if !ValidMatchType(alias.MatchType) {
		return nil, fmt.Errorf("unsupported match type %q", alias.MatchType)
	}
	if alias.MatchType == MatchRegex {
		if _, err := regexp.Compile(alias.MatchPattern); err != nil {
			return nil, fmt.Errorf("invalid alias pattern: %w", err)
		}
	}

	query := `
		INSERT INTO provider_aliases (match_pattern, match_type, provider_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (match_pattern) DO UPDATE SET
			match_type = EXCLUDED.match_type,
			provider_name = EXCLUDED.provider_name,
			updated_at = now()
		RETURNING id, match_pattern, match_type, provider_name, match_count,
			last_matched_at, created_at, updated_at
	`

	var result ProviderAlias
	err := s.db.QueryRow(ctx, query, alias.MatchPattern, alias.MatchType, alias.ProviderName).Scan(
		&result.ID, &result.MatchPattern, &result.MatchType, &result.ProviderName,
		&result.MatchCount, &result.LastMatchedAt, &result.CreatedAt, &result.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save provider alias: %w", err)
	}
	return &result, nil
}

// List returns all aliases, most used first
func (s *AliasStore) List(ctx context.Context) ([]ProviderAlias, error) {
	query := `
		SELECT id, match_pattern, match_type, provider_name, match_count,
			last_matched_at, created_at, updated_at
		FROM provider_aliases
		ORDER BY match_count DESC, updated_at DESC
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider aliases: %w", err)
	}
	defer rows.Close()

	var aliases []ProviderAlias
	for rows.Next() {
		var a ProviderAlias
		if err := rows.Scan(
			&a.ID, &a.MatchPattern, &a.MatchType, &a.ProviderName,
			&a.MatchCount, &a.LastMatchedAt, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan provider alias: %w", err)
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

// RecordHit bumps the usage counter of an alias
func (s *AliasStore) RecordHit(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE provider_aliases
		SET match_count = match_count + 1, last_matched_at = now()
		WHERE id = $1
	`
	if _, err := s.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to record alias hit: %w", err)
	}
	return nil
}

// Delete removes an alias
func (s *AliasStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.Exec(ctx, `DELETE FROM provider_aliases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete provider alias: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAliasNotFound
	}
	return nil
}
