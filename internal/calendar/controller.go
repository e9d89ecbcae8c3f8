// Package calendar owns the visible appointment list for a date range and
// keeps it in sync with the backend through polling and mutation reloads.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"agenda/internal/backend"
	"agenda/internal/events"
	"agenda/internal/metrics"
	"agenda/internal/timefmt"

	"github.com/rs/zerolog"
)

const (
	DefaultPollInterval = 30 * time.Second
	fetchTimeout        = 20 * time.Second
)

// Status of the controller.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusLoaded  Status = "loaded"
	StatusError   Status = "error"
)

// Source lists appointments in a time range.
type Source interface {
	ListAppointments(ctx context.Context, from, to string) ([]backend.Appointment, error)
}

// Subscriber registers event handlers.
type Subscriber interface {
	Subscribe(handler events.EventHandler, eventTypes ...string)
}

// Range is a span of calendar days, From inclusive and To exclusive.
type Range struct {
	From string // YYYY-MM-DD
	To   string // YYYY-MM-DD
}

// Valid reports whether both bounds are dates and From is not after To.
func (r Range) Valid() bool {
	return timefmt.ValidDate(r.From) && timefmt.ValidDate(r.To) && r.From <= r.To
}

// Event is one appointment as shown on the calendar.
type Event struct {
	ID            string
	Title         string
	Start         string // canonical
	End           string // canonical
	ColorHex      *string
	ExtendedProps backend.Appointment
}

// Snapshot is a copy of the controller state.
type Snapshot struct {
	Status    Status
	Range     Range
	Events    []Event
	Error     string
	UpdatedAt time.Time
}

// Controller is the single writer of the calendar event list.
type Controller struct {
	source   Source
	norm     *timefmt.Normalizer
	logger   zerolog.Logger
	onChange func(Snapshot)

	mu        sync.Mutex
	rng       Range
	status    Status
	events    []Event
	errMsg    string
	updatedAt time.Time
	issued    uint64
	applied   uint64
	interval  time.Duration

	baseCtx    context.Context
	cancelBase context.CancelFunc
	intervalCh chan time.Duration
	stopCh     chan struct{}
	running    bool
	loopWG     sync.WaitGroup
	closed     bool
	inflight   int
	idle       *sync.Cond
}

// Option configures a Controller.
type Option func(*Controller)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithRange sets the initial range without fetching it.
func WithRange(r Range) Option {
	return func(c *Controller) {
		if r.Valid() {
			c.rng = r
		}
	}
}

// WithOnChange is called after every state change.
func WithOnChange(fn func(Snapshot)) Option {
	return func(c *Controller) { c.onChange = fn }
}

// NewController creates an idle controller.
func NewController(source Source, norm *timefmt.Normalizer, logger zerolog.Logger, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		source:     source,
		norm:       norm,
		logger:     logger.With().Str("component", "calendar").Logger(),
		status:     StatusIdle,
		interval:   DefaultPollInterval,
		baseCtx:    ctx,
		cancelBase: cancel,
		intervalCh: make(chan time.Duration, 1),
	}
	c.idle = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubscribeTo reloads the calendar after every appointment mutation.
func (c *Controller) SubscribeTo(bus Subscriber) {
	bus.Subscribe(func(e events.Event) {
		c.logger.Debug().Str("event", e.Type).Strs("ids", e.AppointmentIDs).Msg("reload after mutation")
		c.Reload()
	}, events.MutationTypes...)
}

// Start begins the polling loop. The current range is fetched immediately.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	interval := c.interval
	c.mu.Unlock()

	c.loopWG.Add(1)
	go c.loop(c.stopCh, interval)

	c.logger.Info().Dur("interval", interval).Msg("calendar polling started")
}

// Stop ends polling. Fetches already in flight are waited for.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.loopWG.Wait()
	c.waitFetches()
	c.logger.Info().Msg("calendar polling stopped")
}

// Close stops polling and cancels every outstanding fetch. Reloads
// requested afterwards are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancelBase()
	c.Stop()
	c.waitFetches()
}

func (c *Controller) waitFetches() {
	c.mu.Lock()
	for c.inflight > 0 {
		c.idle.Wait()
	}
	c.mu.Unlock()
}

// SetInterval changes the polling cadence of a running loop.
func (c *Controller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.interval = d
	c.mu.Unlock()

	select {
	case c.intervalCh <- d:
	default:
		// A pending change is already queued; replace it.
		select {
		case <-c.intervalCh:
		default:
		}
		c.intervalCh <- d
	}
}

func (c *Controller) loop(stopCh <-chan struct{}, interval time.Duration) {
	defer c.loopWG.Done()

	c.Reload()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-c.baseCtx.Done():
			return
		case d := <-c.intervalCh:
			ticker.Reset(d)
		case <-ticker.C:
			c.Reload()
		}
	}
}

// SetRange switches the visible range and fetches it. The poll timer keeps
// its cadence; the next tick fetches the new range.
func (c *Controller) SetRange(r Range) error {
	if !r.Valid() {
		return fmt.Errorf("invalid range %s..%s", r.From, r.To)
	}
	c.mu.Lock()
	c.rng = r
	c.mu.Unlock()

	c.Reload()
	return nil
}

// Reload fetches the current range in the background. It is a no-op once
// the controller is closed.
func (c *Controller) Reload() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.inflight++
	c.mu.Unlock()

	go func() {
		defer c.fetchDone()
		ctx, cancel := context.WithTimeout(c.baseCtx, fetchTimeout)
		defer cancel()
		_ = c.Refresh(ctx)
	}()
}

func (c *Controller) fetchDone() {
	c.mu.Lock()
	c.inflight--
	if c.inflight == 0 {
		c.idle.Broadcast()
	}
	c.mu.Unlock()
}

// Refresh fetches the current range and waits for the result. A result is
// applied only when no later fetch has been applied and the range it was
// issued for is still current. Canceled fetches are dropped silently.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	rng := c.rng
	if !rng.Valid() {
		c.mu.Unlock()
		return nil
	}
	c.issued++
	seq := c.issued
	c.status = StatusLoading
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	from, to, err := c.bounds(rng)
	if err != nil {
		return err
	}

	started := time.Now()
	appts, err := c.source.ListAppointments(ctx, from, to)
	metrics.ObserveCalendarFetch(time.Since(started).Seconds())

	c.mu.Lock()
	if seq <= c.applied || rng != c.rng || backend.IsCanceled(err) {
		c.mu.Unlock()
		metrics.IncCalendarFetch("superseded")
		c.logger.Debug().Uint64("seq", seq).Msg("calendar fetch superseded")
		return nil
	}
	c.applied = seq
	if err != nil {
		c.status = StatusError
		c.errMsg = errorMessage(err)
	} else {
		c.events = c.toEvents(appts)
		c.status = StatusLoaded
		c.errMsg = ""
		c.updatedAt = time.Now()
	}
	snap = c.snapshotLocked()
	c.mu.Unlock()

	if err != nil {
		metrics.IncCalendarFetch("error")
		c.logger.Error().Err(err).Str("from", rng.From).Str("to", rng.To).Msg("calendar fetch failed")
	} else {
		metrics.IncCalendarFetch("applied")
		metrics.SetCalendarEvents(len(snap.Events))
	}
	c.notify(snap)
	return err
}

func (c *Controller) bounds(r Range) (string, string, error) {
	from, ok := c.norm.ToZoned(r.From + " 00:00:00")
	if !ok {
		return "", "", fmt.Errorf("invalid range start %q", r.From)
	}
	to, ok := c.norm.ToZoned(r.To + " 00:00:00")
	if !ok {
		return "", "", fmt.Errorf("invalid range end %q", r.To)
	}
	return from, to, nil
}

func (c *Controller) toEvents(appts []backend.Appointment) []Event {
	out := make([]Event, 0, len(appts))
	for _, a := range appts {
		start, ok := c.norm.Normalize(a.StartsAt, "")
		if !ok {
			c.logger.Warn().Str("id", a.ID).Str("starts_at", a.StartsAt).Msg("skipping appointment with invalid start")
			continue
		}
		end, ok := c.norm.Normalize(a.EndsAt, "")
		if !ok {
			end = start
		}
		ev := Event{
			ID:            a.ID,
			Title:         title(a),
			Start:         start,
			End:           end,
			ExtendedProps: a,
		}
		if a.ColorHex != "" {
			color := a.ColorHex
			ev.ColorHex = &color
		}
		out = append(out, ev)
	}
	return out
}

func title(a backend.Appointment) string {
	parts := make([]string, 0, 2)
	if a.CustomerName != "" {
		parts = append(parts, a.CustomerName)
	}
	if a.ServiceName != "" {
		parts = append(parts, a.ServiceName)
	}
	if len(parts) == 0 {
		return "Turno"
	}
	return strings.Join(parts, " - ")
}

func errorMessage(err error) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	return "No se pudo cargar el calendario"
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Status:    c.status,
		Range:     c.rng,
		Events:    append([]Event(nil), c.events...),
		Error:     c.errMsg,
		UpdatedAt: c.updatedAt,
	}
}

func (c *Controller) notify(s Snapshot) {
	if c.onChange != nil {
		c.onChange(s)
	}
}
