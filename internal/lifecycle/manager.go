// Package lifecycle turns booking drafts into backend appointments and wraps
// update, delete and cancel calls.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"agenda/internal/backend"
	"agenda/internal/draft"
	"agenda/internal/events"
	"agenda/internal/journal"
	"agenda/internal/metrics"
	"agenda/internal/timefmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultAutoReset   = 3 * time.Second
	defaultDurationMin = 60
)

var phoneRe = regexp.MustCompile(`^\+\d{10,15}$`)

// Backend provides appointment mutations.
type Backend interface {
	CreateAppointment(ctx context.Context, req backend.CreateAppointmentRequest, idempotencyKey string) (*backend.Appointment, error)
	CreateSeries(ctx context.Context, req backend.CreateSeriesRequest, idempotencyKey string) (*backend.SeriesResult, error)
	UpdateAppointment(ctx context.Context, id string, patch backend.AppointmentPatch) (*backend.Appointment, error)
	DeleteAppointment(ctx context.Context, id string) error
	CancelAppointment(ctx context.Context, id, reason string) error
}

// ServiceCatalog resolves service durations.
type ServiceCatalog interface {
	ListServices(ctx context.Context) ([]backend.Service, error)
}

// Publisher receives mutation events.
type Publisher interface {
	Publish(event events.Event)
}

// Recorder persists a mutation log.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// SaveState tracks the create submission shown by the booking form.
type SaveState struct {
	Saving bool
	OK     bool
	Error  string
}

// Submission is a validated create payload waiting to be sent.
type Submission struct {
	Service     backend.Service
	SeriesID    string
	Occurrences []backend.CreateAppointmentRequest
	key         string
	draft       draft.Draft
}

// Recurring reports whether the submission creates a series.
func (s *Submission) Recurring() bool {
	return s.SeriesID != ""
}

// Manager executes appointment mutations.
type Manager struct {
	backend  Backend
	catalog  ServiceCatalog
	drafts   *draft.Store
	norm     *timefmt.Normalizer
	events   Publisher
	journal  Recorder
	logger   zerolog.Logger
	now      func() time.Time
	newKey   func() string
	reset    time.Duration
	onChange func(SaveState)

	mu         sync.Mutex
	state      SaveState
	stateGen   uint64
	resetTimer *time.Timer
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithAutoReset sets how long a successful SaveState stays visible.
func WithAutoReset(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.reset = d
		}
	}
}

// WithJournal records every mutation.
func WithJournal(r Recorder) Option {
	return func(m *Manager) { m.journal = r }
}

// WithOnStateChange is called after every SaveState change.
func WithOnStateChange(fn func(SaveState)) Option {
	return func(m *Manager) { m.onChange = fn }
}

// WithKeyGenerator overrides idempotency key generation.
func WithKeyGenerator(fn func() string) Option {
	return func(m *Manager) { m.newKey = fn }
}

// NewManager creates a lifecycle manager.
func NewManager(
	b Backend,
	catalog ServiceCatalog,
	drafts *draft.Store,
	norm *timefmt.Normalizer,
	publisher Publisher,
	logger zerolog.Logger,
	opts ...Option,
) *Manager {
	m := &Manager{
		backend: b,
		catalog: catalog,
		drafts:  drafts,
		norm:    norm,
		events:  publisher,
		logger:  logger.With().Str("component", "lifecycle").Logger(),
		now:     time.Now,
		newKey:  uuid.NewString,
		reset:   DefaultAutoReset,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current SaveState.
func (m *Manager) State() SaveState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Prepare validates d and builds its create payload. Only the service
// catalog is consulted; nothing is written.
func (m *Manager) Prepare(ctx context.Context, d draft.Draft) (*Submission, error) {
	switch {
	case d.ServiceID == "":
		return nil, invalid("service_id", MsgMissingService)
	case d.InstructorID == "":
		return nil, invalid("instructor_id", MsgMissingStaff)
	case d.SelectedSlot == "":
		return nil, invalid("selected_slot", MsgMissingSlot)
	case strings.TrimSpace(d.CustomerName) == "":
		return nil, invalid("customer_name", MsgMissingName)
	}
	if !d.Linked() && !phoneRe.MatchString(strings.TrimSpace(d.CustomerPhone)) {
		return nil, invalid("customer_phone", MsgPhoneFormat)
	}

	slot, ok := m.norm.Normalize(d.SelectedSlot, d.Date)
	if !ok {
		return nil, invalid("selected_slot", MsgInvalidSlot)
	}
	if !m.norm.IsFuture(slot, m.now()) {
		return nil, ErrSlotExpired
	}

	svc, err := m.resolveService(ctx, d.ServiceID)
	if err != nil {
		return nil, err
	}

	starts := []string{slot}
	sub := &Submission{Service: svc, key: m.newKey(), draft: d}
	if d.RepeatEnabled {
		starts, err = RecurrenceFromDraft(d, slot).Occurrences()
		if err != nil {
			return nil, err
		}
		sub.SeriesID = m.newKey()
	}

	for _, start := range starts {
		end, ok := timefmt.AddMinutes(start, svc.DurationMin)
		if !ok {
			return nil, invalid("selected_slot", MsgInvalidSlot)
		}
		sub.Occurrences = append(sub.Occurrences, backend.CreateAppointmentRequest{
			CustomerID:    d.CustomerID,
			CustomerName:  strings.TrimSpace(d.CustomerName),
			CustomerPhone: strings.TrimSpace(d.CustomerPhone),
			ServiceID:     d.ServiceID,
			InstructorID:  d.InstructorID,
			BranchID:      d.BranchID,
			StartsAt:      start,
			EndsAt:        end,
			DurationMin:   svc.DurationMin,
			SeriesID:      sub.SeriesID,
		})
	}
	return sub, nil
}

func (m *Manager) resolveService(ctx context.Context, id string) (backend.Service, error) {
	services, err := m.catalog.ListServices(ctx)
	if err != nil {
		return backend.Service{}, fmt.Errorf("list services: %w", err)
	}
	for _, s := range services {
		if string(s.ID) == id {
			if s.DurationMin <= 0 {
				s.DurationMin = defaultDurationMin
			}
			return s, nil
		}
	}
	return backend.Service{}, invalid("service_id", MsgUnknownService)
}

// Submit sends a prepared submission tagged with the notification channel.
// The first slot is checked against the clock again, since a submission can
// wait on the channel prompt. On success the draft is reset unless it was
// edited after Prepare, a created event is published and the SaveState turns
// OK until the auto-reset delay elapses.
func (m *Manager) Submit(ctx context.Context, sub *Submission, channel string) ([]backend.Appointment, error) {
	if len(sub.Occurrences) == 0 || !m.norm.IsFuture(sub.Occurrences[0].StartsAt, m.now()) {
		m.logger.Warn().Err(ErrSlotExpired).Msg("booking rejected")
		m.setState(SaveState{Error: UserMessage(ErrSlotExpired, MsgCreateFailed)})
		return nil, ErrSlotExpired
	}
	m.setState(SaveState{Saving: true})

	kind := "single"
	if sub.Recurring() {
		kind = "series"
	}

	var (
		created []backend.Appointment
		err     error
	)
	if sub.Recurring() {
		created, err = m.createSeries(ctx, sub, channel)
	} else {
		created, err = m.createSingle(ctx, sub, channel)
	}
	metrics.IncBookingCreated(kind, metrics.Status(err))

	if err != nil {
		m.logger.Error().Err(err).Str("kind", kind).Msg("create appointment failed")
		m.setState(SaveState{Error: UserMessage(err, MsgCreateFailed)})
		return nil, err
	}

	ids := appointmentIDs(created)
	action := journal.ActionCreate
	if sub.Recurring() {
		action = journal.ActionSeries
	}
	m.record(ctx, action, ids, nil)
	m.logger.Info().Strs("ids", ids).Str("channel", channel).Msg("appointment created")

	if m.drafts != nil && !m.drafts.ResetIf(sub.draft) {
		m.logger.Info().Msg("draft edited while submitting; kept")
	}
	m.publish(events.AppointmentCreated, ids)
	m.succeed()
	return created, nil
}

// Create validates the current draft and submits it.
func (m *Manager) Create(ctx context.Context, channel string) ([]backend.Appointment, error) {
	sub, err := m.Prepare(ctx, m.drafts.Snapshot())
	if err != nil {
		if IsValidation(err) || errors.Is(err, ErrSlotExpired) {
			m.logger.Warn().Err(err).Msg("booking rejected")
		}
		m.setState(SaveState{Error: UserMessage(err, MsgCreateFailed)})
		return nil, err
	}
	return m.Submit(ctx, sub, channel)
}

func (m *Manager) createSingle(ctx context.Context, sub *Submission, channel string) ([]backend.Appointment, error) {
	req := sub.Occurrences[0]
	req.NotifyChannel = channel
	appt, err := m.backend.CreateAppointment(ctx, req, sub.key)
	if err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	return []backend.Appointment{*appt}, nil
}

func (m *Manager) createSeries(ctx context.Context, sub *Submission, channel string) ([]backend.Appointment, error) {
	occ := make([]backend.CreateAppointmentRequest, len(sub.Occurrences))
	for i, o := range sub.Occurrences {
		o.NotifyChannel = channel
		occ[i] = o
	}
	req := backend.CreateSeriesRequest{SeriesID: sub.SeriesID, Atomic: true, Occurrences: occ}

	res, err := m.backend.CreateSeries(ctx, req, sub.key)
	if err == nil && res != nil && res.OK && len(res.Conflicts) == 0 {
		return res.Created, nil
	}

	if res != nil && len(res.Created) > 0 {
		m.rollback(ctx, res.Created)
	}

	switch {
	case err != nil && backend.IsConflict(err):
		return nil, fmt.Errorf("create series: %w: %w", ErrSeriesConflict, err)
	case err != nil:
		return nil, fmt.Errorf("create series: %w", err)
	case res != nil && len(res.Conflicts) > 0:
		return nil, fmt.Errorf("create series: %w", ErrSeriesConflict)
	case res != nil && res.Error != "":
		return nil, fmt.Errorf("create series: %w", &backend.APIError{Message: res.Error})
	}
	return nil, fmt.Errorf("create series: %w", ErrSeriesConflict)
}

// rollback deletes occurrences a failed series left behind. It runs on a
// context detached from the caller's cancellation.
func (m *Manager) rollback(ctx context.Context, created []backend.Appointment) {
	ctx = context.WithoutCancel(ctx)
	ids := appointmentIDs(created)
	var failed []string
	for _, id := range ids {
		if err := m.backend.DeleteAppointment(ctx, id); err != nil {
			m.logger.Error().Err(err).Str("id", id).Msg("series rollback delete failed")
			failed = append(failed, id)
		}
	}
	var err error
	if len(failed) > 0 {
		err = fmt.Errorf("rollback left %s", strings.Join(failed, ","))
	}
	m.record(ctx, journal.ActionRollback, ids, err)
	m.logger.Warn().Strs("ids", ids).Int("failed", len(failed)).Msg("partial series rolled back")
}

// Update applies a sparse patch. Start and end are normalized first.
func (m *Manager) Update(ctx context.Context, id string, patch backend.AppointmentPatch) OpResult {
	if patch.StartsAt != nil {
		v, ok := m.norm.Normalize(*patch.StartsAt, "")
		if !ok {
			return OpResult{Error: MsgInvalidTime}
		}
		patch.StartsAt = &v
	}
	if patch.EndsAt != nil {
		v, ok := m.norm.Normalize(*patch.EndsAt, "")
		if !ok {
			return OpResult{Error: MsgInvalidTime}
		}
		patch.EndsAt = &v
	}

	_, err := m.backend.UpdateAppointment(ctx, id, patch)
	if err != nil {
		err = fmt.Errorf("update appointment: %w", err)
	}
	return m.finishMutation(ctx, "update", journal.ActionUpdate, events.AppointmentUpdated, id, err)
}

// Delete removes an appointment once confirm approves it. A declined
// confirmation returns a zero OpResult and issues no call.
func (m *Manager) Delete(ctx context.Context, id string, confirm func() bool) OpResult {
	if confirm == nil || !confirm() {
		return OpResult{}
	}
	err := m.backend.DeleteAppointment(ctx, id)
	if err != nil {
		err = fmt.Errorf("delete appointment: %w", err)
	}
	return m.finishMutation(ctx, "delete", journal.ActionDelete, events.AppointmentDeleted, id, err)
}

// RebookResult is the outcome of CancelAndRebook.
type RebookResult struct {
	OpResult
	Cancelled bool
	Rebooked  *backend.Appointment
}

// CancelAndRebook cancels appt, which makes the backend notify the
// customer, and when rebook is set creates a new appointment at the same
// slot for the same customer, service and instructor. The create is never
// attempted if the cancel fails.
func (m *Manager) CancelAndRebook(ctx context.Context, appt backend.Appointment, reason string, rebook bool) RebookResult {
	id := appt.ID
	err := m.backend.CancelAppointment(ctx, id, reason)
	if err != nil {
		err = fmt.Errorf("cancel appointment: %w", err)
	}
	res := RebookResult{OpResult: m.finishMutation(ctx, "cancel", journal.ActionCancel, events.AppointmentCancelled, id, err)}
	if !res.OK {
		return res
	}
	res.Cancelled = true
	if !rebook {
		return res
	}

	req, err := m.rebookRequest(appt)
	if err != nil {
		res.OpResult = resultOf(err)
		return res
	}
	created, err := m.backend.CreateAppointment(ctx, req, m.newKey())
	metrics.IncBookingCreated("rebook", metrics.Status(err))
	if err != nil {
		m.logger.Error().Err(err).Str("id", id).Msg("rebook failed")
		res.OpResult = resultOf(fmt.Errorf("rebook appointment: %w", err))
		return res
	}

	ids := []string{created.ID}
	m.record(ctx, journal.ActionCreate, ids, nil)
	m.publish(events.AppointmentCreated, ids)
	res.Rebooked = created
	return res
}

func (m *Manager) rebookRequest(appt backend.Appointment) (backend.CreateAppointmentRequest, error) {
	start, ok := m.norm.Normalize(appt.StartsAt, "")
	if !ok {
		return backend.CreateAppointmentRequest{}, invalid("starts_at", MsgInvalidTime)
	}
	end, ok := m.norm.Normalize(appt.EndsAt, "")
	if !ok {
		return backend.CreateAppointmentRequest{}, invalid("ends_at", MsgInvalidTime)
	}
	duration := 0
	if from, ok := m.norm.Instant(start); ok {
		if to, ok := m.norm.Instant(end); ok {
			duration = int(to.Sub(from).Minutes())
		}
	}
	return backend.CreateAppointmentRequest{
		CustomerID:    appt.CustomerID,
		CustomerName:  appt.CustomerName,
		CustomerPhone: appt.CustomerPhone,
		ServiceID:     appt.ServiceID,
		InstructorID:  appt.InstructorID,
		BranchID:      appt.BranchID,
		StartsAt:      start,
		EndsAt:        end,
		DurationMin:   duration,
		NotifyChannel: appt.NotifyChannel,
	}, nil
}

func (m *Manager) finishMutation(ctx context.Context, op, action, eventType, id string, err error) OpResult {
	metrics.IncMutation(op, metrics.Status(err))
	m.record(ctx, action, []string{id}, err)
	if err != nil {
		m.logger.Error().Err(err).Str("op", op).Str("id", id).Msg("appointment mutation failed")
		return resultOf(err)
	}
	m.logger.Info().Str("op", op).Str("id", id).Msg("appointment mutated")
	m.publish(eventType, []string{id})
	return OpResult{OK: true}
}

func (m *Manager) publish(eventType string, ids []string) {
	if m.events == nil {
		return
	}
	m.events.Publish(events.Event{Type: eventType, AppointmentIDs: ids, CreatedAt: m.now()})
}

func (m *Manager) record(ctx context.Context, action string, ids []string, err error) {
	if m.journal == nil {
		return
	}
	e := journal.Entry{Action: action, AppointmentIDs: ids, Status: "ok", CreatedAt: m.now()}
	if err != nil {
		e.Status = "error"
		e.Detail = err.Error()
	}
	if jerr := m.journal.Record(context.WithoutCancel(ctx), e); jerr != nil {
		m.logger.Warn().Err(jerr).Str("action", action).Msg("journal write failed")
	}
}

func (m *Manager) setState(s SaveState) {
	m.mu.Lock()
	m.stateGen++
	if m.resetTimer != nil {
		m.resetTimer.Stop()
		m.resetTimer = nil
	}
	m.state = s
	m.mu.Unlock()
	m.notify(s)
}

func (m *Manager) succeed() {
	ok := SaveState{OK: true}
	m.mu.Lock()
	m.stateGen++
	gen := m.stateGen
	m.state = ok
	m.resetTimer = time.AfterFunc(m.reset, func() {
		m.mu.Lock()
		if m.stateGen != gen {
			m.mu.Unlock()
			return
		}
		m.state = SaveState{}
		m.resetTimer = nil
		m.mu.Unlock()
		m.notify(SaveState{})
	})
	m.mu.Unlock()
	m.notify(ok)
}

// Close stops a pending auto-reset.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resetTimer != nil {
		m.resetTimer.Stop()
		m.resetTimer = nil
	}
}

func (m *Manager) notify(s SaveState) {
	if m.onChange != nil {
		m.onChange(s)
	}
}

func appointmentIDs(appts []backend.Appointment) []string {
	ids := make([]string, 0, len(appts))
	for _, a := range appts {
		ids = append(ids, a.ID)
	}
	return ids
}
