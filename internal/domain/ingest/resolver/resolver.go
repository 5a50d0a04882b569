// Package resolver maps the names found in billing reports to persisted
// providers, services and contracts, creating them on first sight.
//
// A Resolver caches what it resolves and must not outlive one import run.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/model"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/normalizer"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/repository"
)

// MatchMode controls how provider names are looked up
type MatchMode string

const (
	// MatchExact requires a case-insensitive equal name
	MatchExact MatchMode = "exact"
	// MatchContains falls back to providers whose name contains the canonical name
	MatchContains MatchMode = "contains"
)

var ErrEmptyName = errors.New("empty name")

const linkDescription = "Auto-linked from report import"

// Options configures one resolver
type Options struct {
	MatchMode     MatchMode
	DefaultDomain model.DomainType
	BillingType   model.BillingType
	// Source names the report kind in descriptions of created services
	Source string
	// ContractKinds restricts ActiveContract to these contract kinds; empty means any
	ContractKinds []string
	Canonicalizer *normalizer.ProviderCanonicalizer
	ActorID       *uuid.UUID
	// OnAliasHit is called when a provider name was resolved through an alias
	OnAliasHit func(ctx context.Context, alias normalizer.ProviderAlias)
	Now        func() time.Time
}

// ProvisioningResult reports the provisioning pass for one file
type ProvisioningResult struct {
	model.ProvisioningCounts
	Errors []model.RecordError
}

type serviceKey struct {
	domain model.DomainType
	name   string
}

type contractKey struct {
	owner uuid.UUID
	name  string
}

type linkKey struct {
	contract uuid.UUID
	service  uuid.UUID
}

// Resolver resolves reference entities for one import run. It is not safe
// for concurrent use.
type Resolver struct {
	store  repository.ReferenceStore
	audit  repository.AuditSink
	opts   Options
	logger *slog.Logger

	providers map[string]*repository.Provider
	services  map[serviceKey]*repository.Service
	contracts map[contractKey]*repository.Contract
	links     map[linkKey]struct{}
}

// New creates a resolver. audit may be nil.
func New(store repository.ReferenceStore, audit repository.AuditSink, opts Options, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MatchMode == "" {
		opts.MatchMode = MatchExact
	}
	if opts.DefaultDomain == "" {
		opts.DefaultDomain = model.DomainVAS
	}
	if opts.BillingType == "" {
		opts.BillingType = model.BillingPrepaid
	}
	if opts.Canonicalizer == nil {
		opts.Canonicalizer = normalizer.NewProviderCanonicalizer()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		store:     store,
		audit:     audit,
		opts:      opts,
		logger:    logger,
		providers: make(map[string]*repository.Provider),
		services:  make(map[serviceKey]*repository.Service),
		contracts: make(map[contractKey]*repository.Contract),
		links:     make(map[linkKey]struct{}),
	}
}

// ResolveProvider returns the provider for a raw provider name, creating it
// when no stored provider matches.
func (r *Resolver) ResolveProvider(ctx context.Context, name string) (*repository.Provider, error) {
	canonical, alias := r.opts.Canonicalizer.CanonicalizeMatch(name)
	if canonical == "" {
		return nil, fmt.Errorf("provider %q: %w", name, ErrEmptyName)
	}
	if alias != nil && r.opts.OnAliasHit != nil {
		r.opts.OnAliasHit(ctx, *alias)
	}

	if p, ok := r.providers[canonical]; ok {
		return p, nil
	}

	p, err := r.findProvider(ctx, canonical)
	if errors.Is(err, repository.ErrNotFound) {
		p, err = r.createProvider(ctx, canonical)
	}
	if err != nil {
		return nil, err
	}

	r.providers[canonical] = p
	return p, nil
}

func (r *Resolver) findProvider(ctx context.Context, canonical string) (*repository.Provider, error) {
	p, err := r.store.FindProviderByName(ctx, canonical)
	if err == nil || !errors.Is(err, repository.ErrNotFound) || r.opts.MatchMode != MatchContains {
		return p, err
	}

	candidates, err := r.store.SearchProviders(ctx, canonical)
	if err != nil {
		return nil, err
	}
	if best := bestProvider(canonical, candidates); best != nil {
		r.logger.Debug("provider matched by name fragment",
			slog.String("name", canonical),
			slog.String("provider", best.Name),
		)
		return best, nil
	}
	return nil, repository.ErrNotFound
}

// bestProvider ranks candidates by edit distance to name, then by length
func bestProvider(name string, candidates []*repository.Provider) *repository.Provider {
	if len(candidates) == 0 {
		return nil
	}

	targets := make([]string, len(candidates))
	for i, c := range candidates {
		targets[i] = c.Name
	}
	ranks := fuzzy.RankFindFold(name, targets)
	if len(ranks) == 0 {
		// Stored names may carry separators the canonical form drops
		return candidates[0]
	}
	sort.SliceStable(ranks, func(i, j int) bool {
		if ranks[i].Distance != ranks[j].Distance {
			return ranks[i].Distance < ranks[j].Distance
		}
		return len(ranks[i].Target) < len(ranks[j].Target)
	})
	return candidates[ranks[0].OriginalIndex]
}

func (r *Resolver) createProvider(ctx context.Context, name string) (*repository.Provider, error) {
	p := &repository.Provider{Name: name, Active: true}
	err := r.store.CreateProvider(ctx, p)
	if errors.Is(err, repository.ErrConstraintViolation) {
		return r.store.FindProviderByName(ctx, name)
	}
	if err != nil {
		return nil, err
	}

	r.logger.Info("provider created", slog.String("provider", name), slog.String("id", p.ID.String()))
	r.record(ctx, "Provider", p.ID, "CREATE", fmt.Sprintf("Auto-created provider %s from %s report", name, r.source()))
	return p, nil
}

// ResolveService returns the service with the exact name in domain, creating
// it when absent. A service stored under another domain is an EntityConflict
// record error and nothing is created.
func (r *Resolver) ResolveService(ctx context.Context, name string, domain model.DomainType) (*repository.Service, error) {
	svc, _, err := r.resolveService(ctx, name, domain)
	return svc, err
}

func (r *Resolver) resolveService(ctx context.Context, name string, domain model.DomainType) (*repository.Service, bool, error) {
	name = normalizer.CleanName(name)
	if name == "" {
		return nil, false, fmt.Errorf("service: %w", ErrEmptyName)
	}
	if domain == "" {
		domain = r.opts.DefaultDomain
	}

	key := serviceKey{domain: domain, name: name}
	if svc, ok := r.services[key]; ok {
		return svc, false, nil
	}

	created := false
	svc, err := r.store.FindServiceByName(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		svc, created, err = r.createService(ctx, name, domain)
	}
	if err != nil {
		return nil, false, err
	}

	if svc.Type != domain {
		return nil, false, model.RecordError{
			ErrKind: model.KindEntityConflict,
			Entity:  name,
			Message: fmt.Sprintf("service %q exists with type %s, requested %s", name, svc.Type, domain),
		}
	}

	r.services[key] = svc
	return svc, created, nil
}

func (r *Resolver) createService(ctx context.Context, name string, domain model.DomainType) (*repository.Service, bool, error) {
	desc := fmt.Sprintf("Auto-created from %s report", r.source())
	if code := normalizer.ExtractServiceCode(name); code != "" && domain == model.DomainVAS {
		desc = fmt.Sprintf("Auto-created VAS service: %s (%s)", name, code)
	}

	svc := &repository.Service{
		Name:        name,
		Type:        domain,
		BillingType: r.opts.BillingType,
		Description: desc,
	}
	err := r.store.CreateService(ctx, svc)
	if errors.Is(err, repository.ErrConstraintViolation) {
		found, findErr := r.store.FindServiceByName(ctx, name)
		return found, false, findErr
	}
	if err != nil {
		return nil, false, err
	}

	r.logger.Info("service created",
		slog.String("service", name),
		slog.String("type", string(domain)),
		slog.String("id", svc.ID.String()),
	)
	r.record(ctx, "Service", svc.ID, "CREATE", desc)
	return svc, true, nil
}

// ResolveContract returns the owner's contract with the given name, creating
// an active one-year contract of contractType when absent.
func (r *Resolver) ResolveContract(ctx context.Context, ownerKind repository.OwnerKind, ownerID uuid.UUID, name, contractType string) (*repository.Contract, error) {
	key := contractKey{owner: ownerID, name: name}
	if c, ok := r.contracts[key]; ok {
		return c, nil
	}

	c, err := r.store.FindContract(ctx, ownerID, name)
	if errors.Is(err, repository.ErrNotFound) {
		c, err = r.createContract(ctx, ownerKind, ownerID, name, contractType)
	}
	if err != nil {
		return nil, err
	}

	r.contracts[key] = c
	return c, nil
}

const contractNumberAttempts = 3

func (r *Resolver) createContract(ctx context.Context, ownerKind repository.OwnerKind, ownerID uuid.UUID, name, contractType string) (*repository.Contract, error) {
	start := truncateDay(r.opts.Now())
	kind := strings.ToUpper(contractType)

	var lastErr error
	for attempt := 0; attempt < contractNumberAttempts; attempt++ {
		c := &repository.Contract{
			OwnerKind:      ownerKind,
			OwnerID:        ownerID,
			Kind:           kind,
			Status:         repository.ContractActive,
			Name:           name,
			ContractNumber: ContractNumber(kind),
			StartDate:      start,
			EndDate:        start.AddDate(1, 0, 0),
		}

		err := r.store.CreateContract(ctx, c)
		if err == nil {
			r.logger.Info("contract created",
				slog.String("contract", name),
				slog.String("number", c.ContractNumber),
			)
			r.record(ctx, "Contract", c.ID, "CREATE", fmt.Sprintf("Created contract %s (%s)", name, c.ContractNumber))
			return c, nil
		}
		if !errors.Is(err, repository.ErrConstraintViolation) {
			return nil, err
		}

		// Either the name was taken by a concurrent import or the number collided
		if existing, findErr := r.store.FindContract(ctx, ownerID, name); findErr == nil {
			return existing, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to allocate a contract number for %s: %w", name, lastErr)
}

// ContractNumber generates a contract number of the form VAS-<TYPE>-<6 digits>
func ContractNumber(contractType string) string {
	return fmt.Sprintf("VAS-%s-%06d", strings.ToUpper(contractType), rand.IntN(1_000_000))
}

// ActiveContract returns the owner's most recently created contract that is
// active or being renewed.
func (r *Resolver) ActiveContract(ctx context.Context, ownerID uuid.UUID) (*repository.Contract, error) {
	return r.store.LatestContract(ctx, ownerID, r.opts.ContractKinds, repository.ActiveStatuses)
}

// EnsureServicesLinked links every named service to the owner's active
// contract. Without an active contract nothing happens and ContractFound is
// false. Failures for single names are collected and the pass continues.
func (r *Resolver) EnsureServicesLinked(ctx context.Context, names []string, ownerID uuid.UUID) ProvisioningResult {
	contract, err := r.ActiveContract(ctx, ownerID)
	if err != nil {
		res := ProvisioningResult{}
		if !errors.Is(err, repository.ErrNotFound) {
			r.logger.Warn("failed to look up active contract", slog.String("owner", ownerID.String()), slog.Any("error", err))
			res.Errors = append(res.Errors, model.RecordError{
				ErrKind: model.KindStorageFailure,
				Message: fmt.Sprintf("failed to look up active contract: %v", err),
			})
		} else {
			r.logger.Warn("no active contract, services will not be linked", slog.String("owner", ownerID.String()))
		}
		return res
	}
	return r.EnsureServicesLinkedTo(ctx, names, contract)
}

// EnsureServicesLinkedTo links every named service to contract
func (r *Resolver) EnsureServicesLinkedTo(ctx context.Context, names []string, contract *repository.Contract) ProvisioningResult {
	res := ProvisioningResult{}
	res.ContractFound = true
	res.ContractID = contract.ID

	linked := make(map[string]struct{})
	existing, err := r.store.LinkedServiceNames(ctx, contract.ID)
	if err != nil {
		r.logger.Warn("failed to list linked services", slog.String("contract", contract.ID.String()), slog.Any("error", err))
	}
	for _, n := range existing {
		linked[n] = struct{}{}
	}

	seen := make(map[string]struct{})
	for _, raw := range names {
		name := normalizer.CleanName(raw)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, model.RecordError{ErrKind: model.KindCanceled, Entity: name, Message: err.Error()})
			return res
		}

		svc, created, err := r.resolveService(ctx, name, r.opts.DefaultDomain)
		if err != nil {
			res.Errors = append(res.Errors, RecordError(name, err))
			continue
		}
		if created {
			res.Created++
		}

		if _, ok := linked[name]; ok {
			r.links[linkKey{contract: contract.ID, service: svc.ID}] = struct{}{}
			res.Existing++
			continue
		}

		newLink, err := r.EnsureLinked(ctx, svc.ID, contract.ID)
		if err != nil {
			res.Errors = append(res.Errors, RecordError(name, err))
			continue
		}
		if newLink {
			res.Linked++
		} else {
			res.Existing++
		}
	}

	r.logger.Info("provisioning pass finished",
		slog.String("contract", contract.Name),
		slog.Int("created", res.Created),
		slog.Int("linked", res.Linked),
		slog.Int("existing", res.Existing),
		slog.Int("errors", len(res.Errors)),
	)
	return res
}

// EnsureLinked links a service to a contract unless a link already exists.
// It reports whether a link was created.
func (r *Resolver) EnsureLinked(ctx context.Context, serviceID, contractID uuid.UUID) (bool, error) {
	key := linkKey{contract: contractID, service: serviceID}
	if _, ok := r.links[key]; ok {
		return false, nil
	}

	_, err := r.store.FindServiceContract(ctx, contractID, serviceID)
	if err == nil {
		r.links[key] = struct{}{}
		return false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return false, err
	}

	sc := &repository.ServiceContract{ContractID: contractID, ServiceID: serviceID, Description: linkDescription}
	err = r.store.CreateServiceContract(ctx, sc)
	if errors.Is(err, repository.ErrConstraintViolation) {
		// Linked by a concurrent import in the meantime
		if _, err := r.store.FindServiceContract(ctx, contractID, serviceID); err != nil {
			return false, err
		}
		r.links[key] = struct{}{}
		return false, nil
	}
	if err != nil {
		return false, err
	}

	r.links[key] = struct{}{}
	r.record(ctx, "ServiceContract", sc.ID, "CREATE", linkDescription)
	return true, nil
}

// record writes an audit entry. Failures are logged and otherwise ignored.
func (r *Resolver) record(ctx context.Context, entityType string, id uuid.UUID, action, description string) {
	if r.audit == nil {
		return
	}
	err := r.audit.Record(ctx, repository.AuditEntry{
		EntityType:  entityType,
		EntityID:    id,
		Action:      action,
		Description: description,
		Severity:    repository.SeverityInfo,
		ActorID:     r.opts.ActorID,
	})
	if err != nil {
		r.logger.Warn("failed to write activity log",
			slog.String("entity", entityType),
			slog.String("action", action),
			slog.Any("error", err),
		)
	}
}

func (r *Resolver) source() string {
	if r.opts.Source == "" {
		return "billing"
	}
	return r.opts.Source
}

// RecordError turns a resolution failure into a record error for name
func RecordError(name string, err error) model.RecordError {
	var rec model.RecordError
	if errors.As(err, &rec) {
		return rec
	}
	kind := model.KindStorageFailure
	if errors.Is(err, repository.ErrConstraintViolation) {
		kind = model.KindConstraintViolation
	}
	return model.RecordError{ErrKind: kind, Entity: name, Message: err.Error()}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
