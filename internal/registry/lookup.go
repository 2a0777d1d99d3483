// Package registry resolves a contractor's canonical record from the
// knowledge cache, an offline registry dataset, or the live portal.
package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/discovery-cli/internal/knowledge"
	"github.com/sells-group/discovery-cli/internal/model"
)

// Result is a resolved entity plus where it came from.
type Result struct {
	Entity    model.Entity
	Source    string
	FromCache bool
	Persisted bool
}

// Lookup runs the registry resolution order: fresh cache, dataset, live
// portal, then the caller's own input.
type Lookup struct {
	store      knowledge.Store
	dataset    *Dataset
	portal     PortalExtractor
	staleAfter time.Duration
	now        func() time.Time
}

// Option configures a Lookup.
type Option func(*Lookup)

// WithDataset sets the offline registry dataset.
func WithDataset(d *Dataset) Option {
	return func(l *Lookup) { l.dataset = d }
}

// WithPortal sets the live portal extractor.
func WithPortal(p PortalExtractor) Option {
	return func(l *Lookup) { l.portal = p }
}

// WithStaleAfter overrides the cache freshness window.
func WithStaleAfter(d time.Duration) Option {
	return func(l *Lookup) { l.staleAfter = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Lookup) { l.now = now }
}

// NewLookup creates a Lookup. store may be nil to disable caching.
func NewLookup(store knowledge.Store, opts ...Option) *Lookup {
	l := &Lookup{
		store:      store,
		staleAfter: knowledge.DefaultStaleAfter,
		now:        time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Resolve returns the entity for in. It fails with model.ErrNotFound only
// when the input carries neither a registry number nor a name.
func (l *Lookup) Resolve(ctx context.Context, in model.ContractorInput) (*Result, error) {
	input := model.EntityFromInput(in)
	if input.RegistryNumber == "" && input.Name == "" {
		return nil, eris.Wrap(model.ErrNotFound, "registry: input has no registry number or name")
	}
	log := zap.L().With(
		zap.String("registry_number", input.RegistryNumber),
		zap.String("entity", input.Name),
	)

	if rec := l.cached(ctx, input.RegistryNumber, log); rec != nil {
		e := rec.Entity.Merge(input)
		e.Source = model.EntitySourceKnowledge
		if e.ID == "" {
			e.ID = input.ID
		}
		log.Debug("registry: fresh cache hit", zap.Time("last_verified", rec.LastVerified))
		return &Result{Entity: e, Source: model.EntitySourceKnowledge, FromCache: true}, nil
	}

	if r, ok := l.dataset.Find(input.RegistryNumber, input.Name); ok {
		found := r.Entity()
		log.Debug("registry: dataset match", zap.String("matched", found.Name))
		return l.finish(ctx, input, found, log), nil
	}

	if l.portal != nil && input.RegistryNumber != "" {
		found, err := l.portal.Extract(ctx, input.RegistryNumber, input.Name)
		switch {
		case err == nil:
			log.Debug("registry: portal capture", zap.String("portal", l.portal.Name()))
			return l.finish(ctx, input, *found, log), nil
		case ctx.Err() != nil:
			return nil, eris.Wrap(ctx.Err(), "registry: lookup cancelled")
		case errors.Is(err, model.ErrNotFound):
			log.Info("registry: portal has no record, using input")
		default:
			log.Warn("registry: portal extraction failed, using input", zap.Error(err))
		}
	}

	return l.finish(ctx, input, model.Entity{}, log), nil
}

func (l *Lookup) cached(ctx context.Context, registryNumber string, log *zap.Logger) *knowledge.ContractorRecord {
	if l.store == nil || registryNumber == "" {
		return nil
	}
	rec, err := l.store.GetContractor(ctx, registryNumber)
	if err != nil {
		log.Warn("registry: cache read failed", zap.Error(err))
		return nil
	}
	if rec == nil || !rec.Fresh(l.now(), l.staleAfter) {
		return nil
	}
	return rec
}

// finish merges a capture over the input and persists it when it adds
// anything beyond the bare name.
func (l *Lookup) finish(ctx context.Context, input, found model.Entity, log *zap.Logger) *Result {
	if conflictingNumber(input.RegistryNumber, found.RegistryNumber) {
		log.Warn("registry: capture has a different registry number, using input",
			zap.String("captured", found.RegistryNumber))
		found = model.Entity{}
	}

	source := found.Source
	if source == "" {
		source = model.EntitySourceInput
	}

	e := found.Merge(input)
	e.ID = input.ID
	e.Source = source
	if input.RegistryNumber != "" {
		e.RegistryNumber = input.RegistryNumber
	}

	res := &Result{Entity: e, Source: source}
	if source == model.EntitySourceInput || !found.HasEnrichment() {
		return res
	}
	res.Persisted = l.persist(ctx, e, log)
	return res
}

// conflictingNumber reports whether a capture names a different contractor
// than the one the caller asked for.
func conflictingNumber(want, got string) bool {
	want, got = normalizeNumber(want), normalizeNumber(got)
	return want != "" && got != "" && want != got
}

func (l *Lookup) persist(ctx context.Context, e model.Entity, log *zap.Logger) bool {
	if l.store == nil || strings.TrimSpace(e.RegistryNumber) == "" {
		return false
	}
	ok, err := l.store.UpsertContractor(ctx, knowledge.ContractorRecord{
		Entity:        e,
		CaptureSource: e.Source,
		LastVerified:  l.now(),
	})
	if err != nil {
		perr := &model.PersistenceError{Op: "upsert_contractor", Err: err}
		log.Warn("registry: persist capture failed", zap.Error(perr))
		return false
	}
	return ok
}
