package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/model"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/normalizer"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memRefs is an in-memory ReferenceStore
type memRefs struct {
	mu        sync.Mutex
	providers []*repository.Provider
	services  map[string]*repository.Service
	contracts []*repository.Contract
	links     []*repository.ServiceContract
}

func newMemRefs() *memRefs {
	return &memRefs{services: make(map[string]*repository.Service)}
}

func (m *memRefs) addContract(ownerKind repository.OwnerKind, ownerID uuid.UUID, kind, name string) *repository.Contract {
	c := &repository.Contract{
		ID:        uuid.New(),
		OwnerKind: ownerKind,
		OwnerID:   ownerID,
		Kind:      kind,
		Status:    repository.ContractActive,
		Name:      name,
	}
	m.contracts = append(m.contracts, c)
	return c
}

func (m *memRefs) linkedTo(contractID uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, l := range m.links {
		if l.ContractID != contractID {
			continue
		}
		for _, s := range m.services {
			if s.ID == l.ServiceID {
				names = append(names, s.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func (m *memRefs) FindProviderByName(_ context.Context, name string) (*repository.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.providers {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memRefs) SearchProviders(_ context.Context, fragment string) ([]*repository.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Provider
	for _, p := range m.providers {
		if strings.Contains(strings.ToLower(p.Name), strings.ToLower(fragment)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memRefs) GetProvider(_ context.Context, id uuid.UUID) (*repository.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.providers {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memRefs) CreateProvider(_ context.Context, p *repository.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	m.providers = append(m.providers, p)
	return nil
}

func (m *memRefs) FindServiceByName(_ context.Context, name string) (*repository.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.services[name]; ok {
		return s, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memRefs) CreateService(_ context.Context, s *repository.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[s.Name]; ok {
		return repository.ErrConstraintViolation
	}
	s.ID = uuid.New()
	m.services[s.Name] = s
	return nil
}

func (m *memRefs) FindContract(_ context.Context, ownerID uuid.UUID, name string) (*repository.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contracts {
		if c.OwnerID == ownerID && c.Name == name {
			return c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memRefs) LatestContract(_ context.Context, ownerID uuid.UUID, kinds []string, statuses []repository.ContractStatus) (*repository.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.contracts) - 1; i >= 0; i-- {
		c := m.contracts[i]
		if c.OwnerID != ownerID || !contains(statuses, c.Status) {
			continue
		}
		if len(kinds) > 0 && !contains(kinds, c.Kind) {
			continue
		}
		return c, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memRefs) CreateContract(_ context.Context, c *repository.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	m.contracts = append(m.contracts, c)
	return nil
}

func (m *memRefs) FindServiceContract(_ context.Context, contractID, serviceID uuid.UUID) (*repository.ServiceContract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.ContractID == contractID && l.ServiceID == serviceID {
			return l, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memRefs) LinkedServiceNames(_ context.Context, contractID uuid.UUID) ([]string, error) {
	return m.linkedTo(contractID), nil
}

func (m *memRefs) CreateServiceContract(_ context.Context, sc *repository.ServiceContract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc.ID = uuid.New()
	m.links = append(m.links, sc)
	return nil
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// memLedger is an in-memory Ledger keyed by natural key
type memLedger struct {
	mu      sync.Mutex
	records map[repository.NaturalKey]*repository.Transaction
}

func newMemLedger() *memLedger {
	return &memLedger{records: make(map[repository.NaturalKey]*repository.Transaction)}
}

func (m *memLedger) all() []*repository.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*repository.Transaction, 0, len(m.records))
	for _, t := range m.records {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ServiceName != out[j].ServiceName {
			return out[i].ServiceName < out[j].ServiceName
		}
		return out[i].PeriodDate.Before(out[j].PeriodDate)
	})
	return out
}

func (m *memLedger) FindTransaction(_ context.Context, key repository.NaturalKey) (*repository.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.records[key]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memLedger) InsertTransaction(_ context.Context, t *repository.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[t.Key()]; ok {
		return repository.ErrConstraintViolation
	}
	cp := *t
	m.records[t.Key()] = &cp
	return nil
}

func (m *memLedger) UpdateTransaction(_ context.Context, t *repository.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.records[t.Key()] = &cp
	return nil
}

func (m *memLedger) ServiceTotals(_ context.Context, ownerID uuid.UUID, from, to time.Time) ([]repository.ServiceTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	totals := make(map[uuid.UUID]*repository.ServiceTotal)
	for _, t := range m.records {
		if t.OwnerID != ownerID || t.PeriodDate.Before(from) || !t.PeriodDate.Before(to) {
			continue
		}
		st, ok := totals[t.ServiceID]
		if !ok {
			st = &repository.ServiceTotal{ServiceID: t.ServiceID, ServiceName: t.ServiceName}
			totals[t.ServiceID] = st
		}
		st.Quantity = st.Quantity.Add(t.Quantity)
		st.Amount = st.Amount.Add(t.Amount)
		st.Days++
	}
	out := make([]repository.ServiceTotal, 0, len(totals))
	for _, st := range totals {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceName < out[j].ServiceName })
	return out, nil
}

// memAudit collects activity log entries
type memAudit struct {
	mu      sync.Mutex
	entries []repository.AuditEntry
}

func (m *memAudit) Record(_ context.Context, entry repository.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memAudit) count(entityType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.EntityType == entityType {
			n++
		}
	}
	return n
}

// memAliases is a fixed alias list that counts hits
type memAliases struct {
	mu      sync.Mutex
	aliases []normalizer.ProviderAlias
	hits    map[uuid.UUID]int
}

func (m *memAliases) List(context.Context) ([]normalizer.ProviderAlias, error) {
	return m.aliases, nil
}

func (m *memAliases) RecordHit(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hits == nil {
		m.hits = make(map[uuid.UUID]int)
	}
	m.hits[id]++
	return nil
}

// recMetrics records what the service reports
type recMetrics struct {
	mu      sync.Mutex
	stages  []string
	files   []string
	records map[string]int
}

func (m *recMetrics) ObserveStage(kind, stage string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, stage)
}

func (m *recMetrics) RecordFile(kind, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = append(m.files, kind+":"+status)
}

func (m *recMetrics) AddRecords(kind, action string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string]int)
	}
	m.records[action] += n
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func kinds(errs []model.RecordError) []model.ErrorKind {
	out := make([]model.ErrorKind, len(errs))
	for i, e := range errs {
		out[i] = e.ErrKind
	}
	return out
}
