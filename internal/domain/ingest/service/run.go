package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/model"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/normalizer"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/parser"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/reconciler"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/repository"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/resolver"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/sniffer"
)

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0}
)

type owner struct {
	kind       repository.OwnerKind
	id         uuid.UUID
	providerID *uuid.UUID
}

// importRun is the state of one file import. It owns its resolver, so
// nothing resolved here is visible to other runs.
type importRun struct {
	svc     *ImportService
	req     FileRequest
	outcome *model.ImportOutcome
	logger  *slog.Logger

	layout    parser.Layout
	workbook  *parser.Workbook
	delimited bool

	facts []model.LineItemFact

	canon  *normalizer.ProviderCanonicalizer
	res    *resolver.Resolver
	domain model.DomainType
	// owner is fixed for the whole file, or nil when rows name their provider
	owner     *owner
	rowOwners map[string]*owner

	periods map[time.Time]struct{}
}

func newImportRun(s *ImportService, req FileRequest) *importRun {
	return &importRun{
		svc:       s,
		req:       req,
		outcome:   model.NewImportOutcome(req.Name, req.Kind),
		logger:    s.logger.With(slog.String("file", req.Name), slog.String("kind", string(req.Kind))),
		rowOwners: make(map[string]*owner),
		periods:   make(map[time.Time]struct{}),
	}
}

func (r *importRun) execute(ctx context.Context) (*model.ImportOutcome, error) {
	if err := r.validate(); err != nil {
		return nil, &model.FileError{Stage: model.StageReading, Err: err}
	}

	steps := []struct {
		stage model.Stage
		fn    func(context.Context) error
	}{
		{model.StageReading, r.read},
		{model.StageParsing, r.parse},
		{model.StageProvisioning, r.provision},
		{model.StageReconciling, r.reconcile},
		{model.StageSummarizing, r.summarize},
	}
	for _, step := range steps {
		err := r.svc.stage(ctx, r.req.Kind, step.stage, step.fn)
		if err == nil {
			continue
		}
		if step.stage == model.StageProvisioning && ctx.Err() != nil {
			r.abandon(ctx)
			return r.outcome, nil
		}
		return nil, &model.FileError{Stage: step.stage, Err: err}
	}
	return r.outcome, nil
}

// abandon ends a run whose caller went away during provisioning. Nothing was
// written, so every parsed record is reported as not attempted.
func (r *importRun) abandon(ctx context.Context) {
	remaining := 0
	for _, f := range r.facts {
		remaining += len(f.PerPeriod)
	}
	r.outcome.TotalRecords += remaining
	r.cutShort(ctx, remaining)
	_ = r.summarize(ctx)
}

func (r *importRun) validate() error {
	if _, ok := model.ParseReportKind(string(r.req.Kind)); !ok {
		return fmt.Errorf("%w: unknown report kind %q", ErrInvalidRequest, r.req.Kind)
	}
	if len(r.req.Data) == 0 {
		return parser.ErrEmptyFile
	}
	if r.req.Kind == model.ReportPrepaid && r.req.OwnerID == uuid.Nil {
		return fmt.Errorf("%w: prepaid reports need the organisation id", ErrInvalidRequest)
	}

	if r.req.Layout != nil {
		r.layout = *r.req.Layout
	} else if l, ok := parser.LayoutFor(string(r.req.Kind)); ok {
		r.layout = l
	}
	return nil
}

// ==================== Reading ====================

func (r *importRun) read(ctx context.Context) error {
	data := r.req.Data
	if !bytes.HasPrefix(data, zipMagic) && !bytes.HasPrefix(data, oleMagic) {
		sheet, err := parser.ReadDelimited(data, r.svc.opts.Delimiter)
		if err != nil {
			return err
		}
		r.workbook = &parser.Workbook{Sheets: []*parser.RawSheet{sheet}}
		r.delimited = true
		r.logger.Debug("file read", slog.Int("sheets", 1), slog.Bool("delimited", true))
		return nil
	}

	var (
		wb  *parser.Workbook
		err error
	)
	if bytes.HasPrefix(data, oleMagic) {
		wb, err = parser.ReadLegacyWorkbook(data)
	} else {
		wb, err = parser.ReadWorkbook(bytes.NewReader(data))
	}
	if err != nil {
		return err
	}
	if len(wb.Sheets) == 0 {
		return fmt.Errorf("%w: workbook has no sheets", parser.ErrSheetMissing)
	}
	if r.req.Kind != model.ReportMonthly {
		if _, ok := wb.Sheet(r.layout.Sheets.Index); !ok {
			return fmt.Errorf("%w: sheet %d requested, workbook has %d",
				parser.ErrSheetMissing, r.layout.Sheets.Index+1, len(wb.Sheets))
		}
	}
	r.workbook = wb

	r.logger.Debug("file read", slog.Int("sheets", len(wb.Sheets)), slog.Bool("legacy", bytes.HasPrefix(data, oleMagic)))
	return nil
}

// ==================== Parsing ====================

func (r *importRun) parse(ctx context.Context) error {
	if r.req.Kind == model.ReportMonthly {
		return r.parseMonthly()
	}

	pp := parser.NewPivotParser(r.layout, r.logger)
	var results []*parser.SheetResult
	if r.delimited {
		// CSV exports carry a single sheet whatever the layout's selector says
		res, err := pp.Parse(r.workbook.Sheets[0])
		if err != nil {
			return err
		}
		results = append(results, res)
	} else {
		var err error
		if results, err = pp.ParseWorkbook(r.workbook); err != nil {
			return err
		}
	}

	for _, res := range results {
		r.facts = append(r.facts, res.Facts...)
		r.recordParseErrors(res.Errors)
		for _, w := range res.Warnings {
			r.outcome.AddWarning(w)
		}
		r.logger.Debug("sheet parsed",
			slog.String("sheet", res.Sheet),
			slog.Int("periods", len(res.Periods)),
			slog.Int("facts", len(res.Facts)),
			slog.Int("skipped_rows", res.SkippedRows),
			slog.Bool("boundary", res.Boundary != nil),
		)
	}
	return nil
}

// monthlyDialectRows bounds the rows sampled for the number convention
const monthlyDialectRows = 50

func (r *importRun) parseMonthly() error {
	sheet := r.workbook.Sheets[0]
	res, err := parser.NewMonthlyParser(r.monthlyLocale(sheet), r.logger).Parse(sheet)
	if err != nil {
		return err
	}
	r.facts = res.Facts
	r.recordParseErrors(res.Errors)
	return nil
}

// monthlyLocale reads the number convention from the report itself when its
// amounts are unambiguous, and falls back to the configured locale otherwise.
func (r *importRun) monthlyLocale(sheet *parser.RawSheet) normalizer.Locale {
	dialect := sniffer.DetectDialect(sheet.Sample(monthlyDialectRows))
	if dialect.Confidence < 0.75 {
		return r.svc.opts.Locale
	}
	if dialect.Locale != r.svc.opts.Locale {
		r.logger.Info("monthly report uses a different number format than configured",
			slog.String("detected", dialect.Locale.String()),
			slog.String("configured", r.svc.opts.Locale.String()),
		)
	}
	return dialect.Locale
}

func (r *importRun) recordParseErrors(errs []model.RecordError) {
	for _, e := range errs {
		r.outcome.TotalRecords++
		r.outcome.AddError(e)
	}
}

// ==================== Provisioning ====================

func (r *importRun) newResolver(opts resolver.Options) {
	opts.MatchMode = r.svc.opts.MatchMode
	opts.Canonicalizer = r.canon
	opts.ActorID = r.req.ImportedBy
	opts.OnAliasHit = r.svc.aliasHit
	r.domain = opts.DefaultDomain
	r.res = resolver.New(r.svc.refs, r.svc.audit, opts, r.logger)
}

func (r *importRun) provision(ctx context.Context) error {
	r.canon = r.svc.canonicalizer(ctx)

	switch r.req.Kind {
	case model.ReportPrepaid:
		return r.provisionPrepaid(ctx)
	case model.ReportProvider:
		return r.provisionProvider(ctx)
	case model.ReportParking:
		return r.provisionParking(ctx)
	default:
		return r.provisionMonthly(ctx)
	}
}

func (r *importRun) provisionPrepaid(ctx context.Context) error {
	r.newResolver(resolver.Options{
		DefaultDomain: model.DomainHumanitarian,
		BillingType:   model.BillingPrepaid,
		Source:        "prepaid",
		ContractKinds: []string{string(model.DomainHumanitarian)},
	})
	r.owner = &owner{kind: repository.OwnerOrganization, id: r.req.OwnerID}

	prov := r.res.EnsureServicesLinked(ctx, r.serviceNames(r.facts), r.req.OwnerID)
	return r.applyProvisioning(prov, r.req.OwnerID)
}

func (r *importRun) provisionProvider(ctx context.Context) error {
	r.newResolver(resolver.Options{
		DefaultDomain: model.DomainVAS,
		BillingType:   model.BillingPrepaid,
		Source:        "provider",
	})

	name := parser.ParseReportFilename(r.req.Name, r.canon)
	provider, err := r.fixedProvider(ctx, name.Provider)
	if err != nil {
		return err
	}
	r.owner = &owner{kind: repository.OwnerProvider, id: provider.ID, providerID: &provider.ID}

	contractName := provider.Name + "_" + name.ContractType
	contract, err := r.res.ResolveContract(ctx, repository.OwnerProvider, provider.ID, contractName, name.ContractType)
	if err != nil {
		if r.svc.opts.RequireContract {
			return fmt.Errorf("failed to resolve contract %s: %w", contractName, err)
		}
		r.logger.Warn("failed to resolve provider contract", slog.String("contract", contractName), slog.Any("error", err))
		r.outcome.AddWarning(fmt.Sprintf("contract %s could not be resolved, services were not linked: %v", contractName, err))
		return nil
	}

	prov := r.res.EnsureServicesLinkedTo(ctx, r.serviceNames(r.facts), contract)
	return r.applyProvisioning(prov, provider.ID)
}

// provisionParking attributes the file to the parking operator its name
// carries and links the services, keyed by their 4-digit code, to the
// operator's parking contract.
func (r *importRun) provisionParking(ctx context.Context) error {
	r.newResolver(resolver.Options{
		DefaultDomain: model.DomainParking,
		BillingType:   model.BillingPrepaid,
		Source:        "parking",
		ContractKinds: []string{string(model.DomainParking)},
	})
	r.keyFactsByCode()

	operator, err := r.fixedProvider(ctx, parser.ParkingOperator(r.req.Name))
	if err != nil {
		return err
	}
	r.owner = &owner{kind: repository.OwnerProvider, id: operator.ID, providerID: &operator.ID}

	contract, err := r.res.ActiveContract(ctx, operator.ID)
	if errors.Is(err, repository.ErrNotFound) {
		contract, err = r.res.ResolveContract(ctx, repository.OwnerProvider, operator.ID,
			operator.Name+"_"+string(model.DomainParking), string(model.DomainParking))
	}
	if err != nil {
		return fmt.Errorf("failed to resolve parking contract of %s: %w", operator.Name, err)
	}

	prov := r.res.EnsureServicesLinkedTo(ctx, r.serviceNames(r.facts), contract)
	return r.applyProvisioning(prov, operator.ID)
}

// keyFactsByCode renames line items to their service code. Items without a
// code keep their cleaned name.
func (r *importRun) keyFactsByCode() {
	for i := range r.facts {
		if r.facts[i].Code != "" {
			r.facts[i].Name = r.facts[i].Code
		}
	}
}

// fixedProvider returns the explicitly requested provider or the one the
// filename names. Without either the file cannot be attributed.
func (r *importRun) fixedProvider(ctx context.Context, fromName string) (*repository.Provider, error) {
	if r.req.ProviderID != nil {
		p, err := r.svc.refs.GetProvider(ctx, *r.req.ProviderID)
		if err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", r.req.ProviderID, err)
		}
		return p, nil
	}
	if fromName == "" || fromName == "UNK" {
		return nil, fmt.Errorf("%w from filename %q", ErrUnknownProvider, r.req.Name)
	}
	p, err := r.res.ResolveProvider(ctx, fromName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve provider %s: %w", fromName, err)
	}
	return p, nil
}

func (r *importRun) provisionMonthly(ctx context.Context) error {
	r.newResolver(resolver.Options{
		DefaultDomain: model.DomainVAS,
		BillingType:   model.BillingPrepaid,
		Source:        "monthly",
	})

	if r.req.ProviderID != nil {
		p, err := r.fixedProvider(ctx, "")
		if err != nil {
			return err
		}
		r.owner = &owner{kind: repository.OwnerProvider, id: p.ID, providerID: &p.ID}
	}

	// Group the services by the provider that owns them
	groups := make(map[uuid.UUID][]model.LineItemFact)
	var order []uuid.UUID
	for _, f := range r.facts {
		o, err := r.ownerFor(ctx, f)
		if err != nil {
			continue
		}
		if _, ok := groups[o.id]; !ok {
			order = append(order, o.id)
		}
		groups[o.id] = append(groups[o.id], f)
	}

	for _, id := range order {
		prov := r.res.EnsureServicesLinked(ctx, r.serviceNames(groups[id]), id)
		if err := r.applyProvisioning(prov, id); err != nil {
			return err
		}
	}
	return nil
}

// ownerFor returns the ledger owner of a line item
func (r *importRun) ownerFor(ctx context.Context, f model.LineItemFact) (*owner, error) {
	if r.owner != nil {
		return r.owner, nil
	}
	if f.Provider == "" {
		return nil, ErrUnknownProvider
	}
	if o, ok := r.rowOwners[f.Provider]; ok {
		return o, nil
	}

	p, err := r.res.ResolveProvider(ctx, f.Provider)
	if err != nil {
		return nil, err
	}
	o := &owner{kind: repository.OwnerProvider, id: p.ID, providerID: &p.ID}
	r.rowOwners[f.Provider] = o
	return o, nil
}

func (r *importRun) applyProvisioning(prov resolver.ProvisioningResult, ownerID uuid.UUID) error {
	counts := &r.outcome.Provisioning
	counts.Created += prov.Created
	counts.Linked += prov.Linked
	counts.Existing += prov.Existing
	if prov.ContractFound {
		counts.ContractFound = true
		counts.ContractID = prov.ContractID
	}

	for _, e := range prov.Errors {
		r.logger.Warn("provisioning failed for service", slog.String("service", e.Entity), slog.String("error", e.Message))
	}

	if !prov.ContractFound {
		if r.svc.opts.RequireContract {
			return fmt.Errorf("%w for owner %s", ErrNoActiveContract, ownerID)
		}
		r.outcome.AddWarning(fmt.Sprintf("no active contract for owner %s, services were not linked", ownerID))
	}
	return nil
}

func (r *importRun) serviceNames(facts []model.LineItemFact) []string {
	seen := make(map[string]struct{}, len(facts))
	names := make([]string, 0, len(facts))
	for _, f := range facts {
		if _, ok := seen[f.Name]; ok || f.Name == "" {
			continue
		}
		seen[f.Name] = struct{}{}
		names = append(names, f.Name)
	}
	return names
}

// ==================== Reconciling ====================

func (r *importRun) reconcile(ctx context.Context) error {
	if r.svc.opts.FileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.svc.opts.FileTimeout)
		defer cancel()
	}

	slices, ok := r.buildSlices(ctx)
	if !ok {
		return nil
	}
	if r.req.Kind == model.ReportProvider || r.req.Kind == model.ReportParking {
		slices = reconciler.MergeSigned(slices)
	}
	r.outcome.TotalRecords += len(slices)

	rec := reconciler.New(r.svc.ledger, reconciler.Options{
		SkipZeroActivity: r.skipZero(),
		Limiter:          r.svc.opts.WriteLimiter,
	}, r.logger)

	actions := make(map[reconciler.Action]int)
	for i, s := range slices {
		r.periods[s.Period] = struct{}{}

		res := rec.Reconcile(ctx, s)
		if res.Action == reconciler.ActionFailed && res.Err.ErrKind == model.KindCanceled {
			r.cutShort(ctx, len(slices)-i)
			break
		}
		actions[res.Action]++

		switch res.Action {
		case reconciler.ActionInserted:
			r.outcome.Inserted++
		case reconciler.ActionUpdated:
			r.outcome.Updated++
		case reconciler.ActionDuplicate:
			r.outcome.Duplicates++
		case reconciler.ActionSkipped:
			r.outcome.Skipped++
			continue
		case reconciler.ActionFailed:
			r.outcome.AddError(*res.Err)
			continue
		}
		r.outcome.TotalAmount = r.outcome.TotalAmount.AddDecimal(s.Amount)
	}

	if r.svc.metrics != nil {
		for action, n := range actions {
			r.svc.metrics.AddRecords(string(r.req.Kind), string(action), n)
		}
	}
	return nil
}

func (r *importRun) cutShort(ctx context.Context, remaining int) {
	cause := ctx.Err()
	if cause == nil {
		cause = context.Canceled
	}
	r.outcome.MarkPartial(remaining, cause)
	r.logger.Warn("import cut short", slog.Int("not_attempted", remaining), slog.Any("cause", cause))
}

// buildSlices resolves every line item's service and splits it into period
// slices. Items that cannot be resolved fail as a whole. It reports false
// when ctx ended before every item was resolved.
func (r *importRun) buildSlices(ctx context.Context) ([]reconciler.Slice, bool) {
	var slices []reconciler.Slice
	for i, f := range r.facts {
		if ctx.Err() != nil {
			remaining := 0
			for _, rest := range r.facts[i:] {
				remaining += len(rest.PerPeriod)
			}
			r.outcome.TotalRecords += remaining
			r.cutShort(ctx, remaining)
			return nil, false
		}

		for _, pv := range f.PerPeriod {
			r.outcome.ObserveDate(pv.Period.Date)
		}

		o, err := r.ownerFor(ctx, f)
		var svc *repository.Service
		if err == nil {
			svc, err = r.res.ResolveService(ctx, f.Name, r.domain)
		}
		if err != nil {
			r.outcome.TotalRecords += max(len(f.PerPeriod), 1)
			r.outcome.FailRecords(r.itemError(f, err), len(f.PerPeriod))
			continue
		}

		for _, pv := range f.PerPeriod {
			slices = append(slices, reconciler.Slice{
				OwnerKind:   o.kind,
				OwnerID:     o.id,
				ProviderID:  o.providerID,
				ServiceID:   svc.ID,
				ServiceName: svc.Name,
				ServiceCode: f.Code,
				Period:      pv.Period.Date,
				BillingType: svc.BillingType,
				Group:       f.Group,
				UnitPrice:   f.UnitPrice,
				Quantity:    pv.Quantity,
				Amount:      pv.Amount,
				Measures:    f.Measures,
				Description: fmt.Sprintf("Imported from %s report", r.req.Kind),
				SourceFile:  r.req.Name,
				ImportedBy:  r.req.ImportedBy,
			})
		}
	}
	return slices, true
}

func (r *importRun) itemError(f model.LineItemFact, err error) model.RecordError {
	rec := resolver.RecordError(f.Name, err)
	if errors.Is(err, ErrUnknownProvider) {
		rec.ErrKind = model.KindMalformedCell
		rec.Message = "row names no provider"
	}
	rec.Sheet, rec.Row = f.Sheet, f.Row
	if rec.Entity == "" {
		rec.Entity = f.Name
	}
	return rec
}

func (r *importRun) skipZero() bool {
	if r.svc.opts.SkipZeroActivity != nil {
		return *r.svc.opts.SkipZeroActivity
	}
	return r.req.Kind != model.ReportMonthly
}

// ==================== Summarizing ====================

func (r *importRun) summarize(ctx context.Context) error {
	o := r.outcome
	o.ServicesSeen = len(r.serviceNames(r.facts))
	o.PeriodsSeen = len(r.periods)
	o.Success = true
	o.FinishedAt = time.Now()

	r.logger.Info("import finished",
		slog.String("run_id", o.RunID.String()),
		slog.Int("total", o.TotalRecords),
		slog.Int("inserted", o.Inserted),
		slog.Int("updated", o.Updated),
		slog.Int("duplicates", o.Duplicates),
		slog.Int("skipped", o.Skipped),
		slog.Int("failed", o.Failed),
		slog.Int("services_created", o.Provisioning.Created),
		slog.Int("services_linked", o.Provisioning.Linked),
		slog.Bool("partial", o.Partial),
		slog.Duration("took", o.FinishedAt.Sub(o.StartedAt)),
	)
	return nil
}
