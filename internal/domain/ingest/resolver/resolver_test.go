package resolver

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/model"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/normalizer"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/repository"
)

// fakeStore is an in-memory ReferenceStore that counts calls
type fakeStore struct {
	providers []*repository.Provider
	services  map[string]*repository.Service
	contracts []*repository.Contract
	links     []*repository.ServiceContract

	calls map[string]int
	// failCreateLink makes the next CreateServiceContract fail with the error
	failCreateLink error
	// raceLink stores the link and then reports a constraint violation
	raceLink bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{services: make(map[string]*repository.Service), calls: make(map[string]int)}
}

func (f *fakeStore) FindProviderByName(_ context.Context, name string) (*repository.Provider, error) {
	f.calls["FindProviderByName"]++
	for _, p := range f.providers {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) SearchProviders(_ context.Context, fragment string) ([]*repository.Provider, error) {
	f.calls["SearchProviders"]++
	var out []*repository.Provider
	for _, p := range f.providers {
		if strings.Contains(strings.ToLower(p.Name), strings.ToLower(fragment)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetProvider(_ context.Context, id uuid.UUID) (*repository.Provider, error) {
	for _, p := range f.providers {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) CreateProvider(_ context.Context, p *repository.Provider) error {
	f.calls["CreateProvider"]++
	p.ID = uuid.New()
	f.providers = append(f.providers, p)
	return nil
}

func (f *fakeStore) FindServiceByName(_ context.Context, name string) (*repository.Service, error) {
	f.calls["FindServiceByName"]++
	if s, ok := f.services[name]; ok {
		return s, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) CreateService(_ context.Context, s *repository.Service) error {
	f.calls["CreateService"]++
	s.ID = uuid.New()
	f.services[s.Name] = s
	return nil
}

func (f *fakeStore) FindContract(_ context.Context, ownerID uuid.UUID, name string) (*repository.Contract, error) {
	f.calls["FindContract"]++
	for _, c := range f.contracts {
		if c.OwnerID == ownerID && c.Name == name {
			return c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) LatestContract(_ context.Context, ownerID uuid.UUID, kinds []string, statuses []repository.ContractStatus) (*repository.Contract, error) {
	var best *repository.Contract
	for _, c := range f.contracts {
		if c.OwnerID != ownerID || !containsStatus(statuses, c.Status) {
			continue
		}
		if len(kinds) > 0 && !containsString(kinds, c.Kind) {
			continue
		}
		if best == nil || c.CreatedAt.After(best.CreatedAt) {
			best = c
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return best, nil
}

func (f *fakeStore) CreateContract(_ context.Context, c *repository.Contract) error {
	f.calls["CreateContract"]++
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	f.contracts = append(f.contracts, c)
	return nil
}

func (f *fakeStore) FindServiceContract(_ context.Context, contractID, serviceID uuid.UUID) (*repository.ServiceContract, error) {
	f.calls["FindServiceContract"]++
	for _, l := range f.links {
		if l.ContractID == contractID && l.ServiceID == serviceID {
			return l, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) LinkedServiceNames(_ context.Context, contractID uuid.UUID) ([]string, error) {
	var names []string
	for _, l := range f.links {
		if l.ContractID != contractID {
			continue
		}
		for _, s := range f.services {
			if s.ID == l.ServiceID {
				names = append(names, s.Name)
			}
		}
	}
	return names, nil
}

func (f *fakeStore) CreateServiceContract(_ context.Context, sc *repository.ServiceContract) error {
	f.calls["CreateServiceContract"]++
	if err := f.failCreateLink; err != nil {
		f.failCreateLink = nil
		return err
	}
	sc.ID = uuid.New()
	f.links = append(f.links, sc)
	if f.raceLink {
		f.raceLink = false
		return repository.ErrConstraintViolation
	}
	return nil
}

func containsStatus(list []repository.ContractStatus, s repository.ContractStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type fakeAudit struct {
	entries []repository.AuditEntry
	err     error
}

func (a *fakeAudit) Record(_ context.Context, e repository.AuditEntry) error {
	a.entries = append(a.entries, e)
	return a.err
}

// ==================== Providers ====================

func TestResolveProvider_CreatesOnceAndCaches(t *testing.T) {
	store := newFakeStore()
	audit := &fakeAudit{}
	r := New(store, audit, Options{}, nil)
	ctx := context.Background()

	p1, err := r.ResolveProvider(ctx, "NTH Media")
	require.NoError(t, err)
	assert.Equal(t, "NTH", p1.Name)
	assert.True(t, p1.Active)

	p2, err := r.ResolveProvider(ctx, "nth apps")
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)

	assert.Equal(t, 1, store.calls["CreateProvider"])
	assert.Equal(t, 1, store.calls["FindProviderByName"])
	require.Len(t, audit.entries, 1)
	assert.Equal(t, "Provider", audit.entries[0].EntityType)
	assert.Equal(t, "CREATE", audit.entries[0].Action)
}

func TestResolveProvider_ContainsMode(t *testing.T) {
	store := newFakeStore()
	store.providers = []*repository.Provider{
		{ID: uuid.New(), Name: "MOND Media Group"},
		{ID: uuid.New(), Name: "MOND d.o.o."},
	}

	exact := New(store, nil, Options{MatchMode: MatchExact}, nil)
	p, err := exact.ResolveProvider(context.Background(), "Mond")
	require.NoError(t, err)
	assert.Equal(t, "MOND", p.Name, "exact mode creates a new provider")

	store = newFakeStore()
	store.providers = []*repository.Provider{
		{ID: uuid.New(), Name: "MOND Media Group"},
		{ID: uuid.New(), Name: "MOND d.o.o."},
	}
	contains := New(store, nil, Options{MatchMode: MatchContains}, nil)
	p, err = contains.ResolveProvider(context.Background(), "Mond")
	require.NoError(t, err)
	assert.Equal(t, "MOND d.o.o.", p.Name)
	assert.Zero(t, store.calls["CreateProvider"])
}

func TestResolveProvider_AliasHit(t *testing.T) {
	var hits []string
	canon := normalizer.NewProviderCanonicalizer().WithAliases([]normalizer.ProviderAlias{
		{MatchPattern: "Telenor", MatchType: normalizer.MatchContains, ProviderName: "TLN"},
	})
	r := New(newFakeStore(), nil, Options{
		Canonicalizer: canon,
		OnAliasHit: func(_ context.Context, a normalizer.ProviderAlias) {
			hits = append(hits, a.MatchPattern)
		},
	}, nil)

	p, err := r.ResolveProvider(context.Background(), "Telenor Content")
	require.NoError(t, err)
	assert.Equal(t, "TLN", p.Name)
	assert.Equal(t, []string{"Telenor"}, hits)
}

func TestResolveProvider_EmptyName(t *testing.T) {
	_, err := New(newFakeStore(), nil, Options{}, nil).ResolveProvider(context.Background(), " -- ")
	assert.ErrorIs(t, err, ErrEmptyName)
}

// ==================== Services ====================

func TestResolveService_DomainConflict(t *testing.T) {
	store := newFakeStore()
	store.services["Donacija"] = &repository.Service{ID: uuid.New(), Name: "Donacija", Type: model.DomainParking}
	r := New(store, nil, Options{}, nil)

	_, err := r.ResolveService(context.Background(), "Donacija", model.DomainHumanitarian)
	require.Error(t, err)
	assert.Equal(t, model.KindEntityConflict, model.KindOf(err))
	assert.Contains(t, err.Error(), "PARKING")
	assert.Zero(t, store.calls["CreateService"])
}

func TestResolveService_CreatesWithDescription(t *testing.T) {
	store := newFakeStore()
	audit := &fakeAudit{err: errors.New("log table missing")}
	r := New(store, audit, Options{Source: "provider"}, nil)
	ctx := context.Background()

	svc, err := r.ResolveService(ctx, " 1234  Kviz ", model.DomainVAS)
	require.NoError(t, err, "audit failures are swallowed")
	assert.Equal(t, "1234 Kviz", svc.Name)
	assert.Equal(t, "Auto-created VAS service: 1234 Kviz (1234)", svc.Description)
	assert.Equal(t, model.BillingPrepaid, svc.BillingType)

	hum, err := r.ResolveService(ctx, "Donacija", model.DomainHumanitarian)
	require.NoError(t, err)
	assert.Equal(t, "Auto-created from provider report", hum.Description)

	again, err := r.ResolveService(ctx, "1234 Kviz", model.DomainVAS)
	require.NoError(t, err)
	assert.Equal(t, svc.ID, again.ID)
	assert.Equal(t, 2, store.calls["CreateService"])
	assert.Equal(t, 2, store.calls["FindServiceByName"])
}

// ==================== Contracts ====================

func TestResolveContract(t *testing.T) {
	store := newFakeStore()
	owner := uuid.New()
	fixed := time.Date(2025, 3, 10, 15, 4, 0, 0, time.UTC)
	r := New(store, nil, Options{Now: func() time.Time { return fixed }}, nil)
	ctx := context.Background()

	c, err := r.ResolveContract(ctx, repository.OwnerProvider, owner, "NTH_MEDIA", "media")
	require.NoError(t, err)
	assert.Equal(t, "MEDIA", c.Kind)
	assert.Equal(t, repository.ContractActive, c.Status)
	assert.Regexp(t, `^VAS-MEDIA-\d{6}$`, c.ContractNumber)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), c.StartDate)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), c.EndDate)

	again, err := r.ResolveContract(ctx, repository.OwnerProvider, owner, "NTH_MEDIA", "media")
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, 1, store.calls["CreateContract"])
}

func TestActiveContract_PrefersMostRecent(t *testing.T) {
	store := newFakeStore()
	owner := uuid.New()
	now := time.Now()
	older := &repository.Contract{ID: uuid.New(), OwnerID: owner, Kind: "HUMANITARIAN", Status: repository.ContractActive, CreatedAt: now.Add(-time.Hour)}
	newer := &repository.Contract{ID: uuid.New(), OwnerID: owner, Kind: "HUMANITARIAN", Status: repository.ContractRenewalInProgress, CreatedAt: now}
	expired := &repository.Contract{ID: uuid.New(), OwnerID: owner, Kind: "HUMANITARIAN", Status: repository.ContractExpired, CreatedAt: now.Add(time.Hour)}
	store.contracts = []*repository.Contract{older, newer, expired}

	c, err := New(store, nil, Options{ContractKinds: []string{"HUMANITARIAN"}}, nil).ActiveContract(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, c.ID)
}

// ==================== Provisioning ====================

func TestEnsureServicesLinked_NoActiveContract(t *testing.T) {
	store := newFakeStore()
	res := New(store, nil, Options{}, nil).EnsureServicesLinked(context.Background(), []string{"A", "B"}, uuid.New())

	assert.False(t, res.ContractFound)
	assert.Zero(t, res.Created+res.Linked+res.Existing)
	assert.Empty(t, res.Errors)
	assert.Zero(t, store.calls["CreateService"])
}

func TestEnsureServicesLinked_Counts(t *testing.T) {
	store := newFakeStore()
	owner := uuid.New()
	contract := &repository.Contract{ID: uuid.New(), OwnerID: owner, Status: repository.ContractActive, CreatedAt: time.Now()}
	store.contracts = []*repository.Contract{contract}

	linkedSvc := &repository.Service{ID: uuid.New(), Name: "Linked", Type: model.DomainHumanitarian}
	unlinkedSvc := &repository.Service{ID: uuid.New(), Name: "Unlinked", Type: model.DomainHumanitarian}
	store.services["Linked"] = linkedSvc
	store.services["Unlinked"] = unlinkedSvc
	store.services["Parking"] = &repository.Service{ID: uuid.New(), Name: "Parking", Type: model.DomainParking}
	store.links = []*repository.ServiceContract{{ID: uuid.New(), ContractID: contract.ID, ServiceID: linkedSvc.ID}}

	r := New(store, nil, Options{DefaultDomain: model.DomainHumanitarian}, nil)
	res := r.EnsureServicesLinked(context.Background(),
		[]string{"Linked", "Unlinked", "New", "New ", "Parking", ""}, owner)

	assert.True(t, res.ContractFound)
	assert.Equal(t, contract.ID, res.ContractID)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 2, res.Linked)
	assert.Equal(t, 1, res.Existing)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, model.KindEntityConflict, res.Errors[0].ErrKind)
	assert.Equal(t, "Parking", res.Errors[0].Entity)

	// the reconciliation loop reuses the cached services
	before := store.calls["FindServiceByName"]
	_, err := r.ResolveService(context.Background(), "New", model.DomainHumanitarian)
	require.NoError(t, err)
	assert.Equal(t, before, store.calls["FindServiceByName"])
}

func TestEnsureServicesLinked_LinkFailureContinues(t *testing.T) {
	store := newFakeStore()
	owner := uuid.New()
	store.contracts = []*repository.Contract{{ID: uuid.New(), OwnerID: owner, Status: repository.ContractActive}}
	store.failCreateLink = errors.New("connection reset")

	res := New(store, nil, Options{}, nil).EnsureServicesLinked(context.Background(), []string{"A", "B"}, owner)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, model.KindStorageFailure, res.Errors[0].ErrKind)
	assert.Equal(t, "A", res.Errors[0].Entity)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Linked)
}

func TestEnsureLinked_Idempotent(t *testing.T) {
	store := newFakeStore()
	contractID, serviceID := uuid.New(), uuid.New()
	r := New(store, nil, Options{}, nil)
	ctx := context.Background()

	created, err := r.EnsureLinked(ctx, serviceID, contractID)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = r.EnsureLinked(ctx, serviceID, contractID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, store.links, 1)
	assert.Equal(t, 1, store.calls["CreateServiceContract"])
}

func TestEnsureLinked_ConcurrentCreate(t *testing.T) {
	store := newFakeStore()
	store.raceLink = true

	created, err := New(store, nil, Options{}, nil).EnsureLinked(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, store.links, 1)
}
