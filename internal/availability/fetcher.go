// Package availability fetches free and busy slots for a service, instructor
// and day, normalizes them and keeps only future ones.
package availability

import (
	"context"
	"sort"
	"sync"
	"time"

	"agenda/internal/backend"
	"agenda/internal/metrics"
	"agenda/internal/timefmt"

	"github.com/rs/zerolog"
)

// User-facing messages.
const (
	MsgPastDate       = "⚠️ No podés buscar horarios para fechas pasadas"
	MsgInvalidDate    = "⚠️ La fecha seleccionada no es válida"
	MsgNoAvailability = "No hay horarios disponibles para esta fecha"
)

// Source is the backend availability endpoint.
type Source interface {
	GetAvailability(ctx context.Context, serviceID, instructorID, date string, stepMinutes int) (*backend.Availability, error)
}

// Query identifies one availability request.
type Query struct {
	ServiceID    string
	InstructorID string
	Date         string // YYYY-MM-DD
}

func (q Query) complete() bool {
	return q.ServiceID != "" && q.InstructorID != "" && q.Date != ""
}

// Result is what the slot grid renders. Slots and BusySlots share the
// canonical timefmt.Layout format.
type Result struct {
	Query     Query
	Slots     []string
	BusySlots map[string]bool
	Loading   bool
	Error     string
}

// IsBusy reports whether slot is already taken.
func (r Result) IsBusy(slot string) bool {
	return r.BusySlots[slot]
}

func (r Result) clone() Result {
	if r.Slots != nil {
		r.Slots = append([]string(nil), r.Slots...)
	}
	if r.BusySlots != nil {
		busy := make(map[string]bool, len(r.BusySlots))
		for k, v := range r.BusySlots {
			busy[k] = v
		}
		r.BusySlots = busy
	}
	return r
}

// Fetcher issues one cancellable request per Load. A Load supersedes every
// earlier one: the earlier request is cancelled and its response dropped.
type Fetcher struct {
	source Source
	norm   *timefmt.Normalizer
	step   int
	now    func() time.Time
	logger zerolog.Logger

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	result   Result
	onChange func(Result)
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// WithStepMinutes sets the slot granularity requested from the backend.
func WithStepMinutes(step int) Option {
	return func(f *Fetcher) { f.step = step }
}

// WithOnChange registers a hook called after every state change.
func WithOnChange(fn func(Result)) Option {
	return func(f *Fetcher) { f.onChange = fn }
}

// New creates a Fetcher.
func New(source Source, norm *timefmt.Normalizer, logger zerolog.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		source: source,
		norm:   norm,
		now:    time.Now,
		logger: logger.With().Str("component", "availability").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Snapshot returns the current result.
func (f *Fetcher) Snapshot() Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result.clone()
}

// Cancel aborts the in-flight request, if any. Loading is cleared and no
// error is recorded.
func (f *Fetcher) Cancel() {
	f.mu.Lock()
	if f.cancel == nil {
		f.mu.Unlock()
		return
	}
	f.cancel()
	f.cancel = nil
	f.gen++
	f.result.Loading = false
	res := f.result.clone()
	f.mu.Unlock()

	metrics.IncAvailabilityFetch("canceled")
	f.notify(res)
}

// Load fetches availability for q and blocks until that request resolves.
// The returned Result is the fetcher state afterwards, which belongs to the
// most recently issued Load.
func (f *Fetcher) Load(ctx context.Context, q Query) Result {
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.gen++
	gen := f.gen

	if rejected, ok := f.precheck(q); !ok {
		f.result = rejected
		f.mu.Unlock()
		f.notify(rejected)
		return rejected
	}

	reqCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.result = Result{Query: q, Loading: true}
	loading := f.result.clone()
	f.mu.Unlock()
	f.notify(loading)

	raw, err := f.source.GetAvailability(reqCtx, q.ServiceID, q.InstructorID, q.Date, f.step)
	canceled := reqCtx.Err() != nil || backend.IsCanceled(err)
	cancel()

	f.mu.Lock()
	if gen != f.gen {
		res := f.result.clone()
		f.mu.Unlock()
		f.logger.Debug().Str("date", q.Date).Msg("superseded availability response dropped")
		return res
	}
	f.cancel = nil

	switch {
	case canceled:
		f.result = Result{Query: q}
		metrics.IncAvailabilityFetch("canceled")
	case err != nil:
		f.result = Result{Query: q, Error: err.Error()}
		metrics.IncAvailabilityFetch("error")
		f.logger.Error().Err(err).Str("date", q.Date).Msg("availability fetch failed")
	default:
		f.result = f.build(q, raw)
		if len(f.result.Slots) == 0 {
			metrics.IncAvailabilityFetch("empty")
		} else {
			metrics.IncAvailabilityFetch("ok")
		}
	}
	res := f.result.clone()
	f.mu.Unlock()

	f.notify(res)
	return res
}

// precheck validates q without touching the network.
func (f *Fetcher) precheck(q Query) (Result, bool) {
	if !q.complete() {
		return Result{Query: q}, false
	}
	if !timefmt.ValidDate(q.Date) {
		metrics.IncAvailabilityFetch("rejected")
		return Result{Query: q, Error: MsgInvalidDate}, false
	}
	// YYYY-MM-DD compares chronologically as a string.
	if q.Date < f.norm.Today(f.now()) {
		metrics.IncAvailabilityFetch("rejected")
		return Result{Query: q, Error: MsgPastDate}, false
	}
	return Result{}, true
}

func (f *Fetcher) build(q Query, raw *backend.Availability) Result {
	res := Result{Query: q, BusySlots: make(map[string]bool)}
	if raw == nil {
		res.Error = MsgNoAvailability
		return res
	}
	now := f.now()

	seen := make(map[string]bool, len(raw.Slots))
	for _, s := range raw.Slots {
		slot, ok := f.norm.Normalize(s, q.Date)
		if !ok || seen[slot] || !f.norm.IsFuture(slot, now) {
			continue
		}
		seen[slot] = true
		res.Slots = append(res.Slots, slot)
	}
	sort.Strings(res.Slots)

	for _, s := range raw.BusySlots {
		slot, ok := f.norm.Normalize(s, q.Date)
		if !ok || !f.norm.IsFuture(slot, now) {
			continue
		}
		res.BusySlots[slot] = true
	}

	if len(res.Slots) == 0 {
		res.Error = MsgNoAvailability
	}
	return res
}

func (f *Fetcher) notify(res Result) {
	if f.onChange != nil {
		f.onChange(res)
	}
}
