package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"agenda/internal/backend"
	"agenda/internal/draft"
	"agenda/internal/journal"
	"agenda/internal/lifecycle"
	"agenda/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	ErrNotPending     = errors.New("no hay una reserva esperando confirmación")
	ErrInvalidChannel = errors.New("canal de notificación inválido")
	ErrBusy           = errors.New("ya hay una reserva en curso")
	ErrNoPrice        = errors.New("El servicio no tiene precio; no se puede generar el link de pago")
	ErrNoPhone        = errors.New("El turno no tiene teléfono; no se puede generar el link de pago")
)

// Creator validates and submits booking drafts.
type Creator interface {
	Prepare(ctx context.Context, d draft.Draft) (*lifecycle.Submission, error)
	Submit(ctx context.Context, sub *lifecycle.Submission, channel string) ([]backend.Appointment, error)
}

// DraftSource provides the current draft.
type DraftSource interface {
	Snapshot() draft.Draft
}

// SideEffects are the backend notification endpoints.
type SideEffects interface {
	CreatePaymentLink(ctx context.Context, req backend.PaymentLinkRequest, idempotencyKey string) (*backend.PaymentLink, error)
	SendReprogram(ctx context.Context, req backend.ReprogramRequest) (*backend.ActionResult, error)
	SendTestMessage(ctx context.Context, phone string) (*backend.ActionResult, error)
	EnrollClass(ctx context.Context, req backend.ClassEnrollmentRequest) (*backend.ActionResult, error)
}

// Workflow holds the channel choice between a validated draft and its
// create call.
type Workflow struct {
	fsm     *FSM
	creator Creator
	drafts  DraftSource
	effects SideEffects
	limiter *rate.Limiter
	journal lifecycle.Recorder
	logger  zerolog.Logger

	mu         sync.Mutex
	state      State
	pending    *lifecycle.Submission
	submitting bool
	created    []backend.Appointment
	linkKeys   map[string]string
	links      map[string]string
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithRateLimit bounds side-effect calls to perSecond with burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(w *Workflow) {
		if perSecond > 0 && burst > 0 {
			w.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithJournal records side effects.
func WithJournal(r lifecycle.Recorder) Option {
	return func(w *Workflow) { w.journal = r }
}

// NewWorkflow creates a workflow in the collecting state.
func NewWorkflow(creator Creator, drafts DraftSource, effects SideEffects, logger zerolog.Logger, opts ...Option) *Workflow {
	w := &Workflow{
		fsm:      NewFSM(),
		creator:  creator,
		drafts:   drafts,
		effects:  effects,
		limiter:  rate.NewLimiter(rate.Limit(2), 4),
		logger:   logger.With().Str("component", "notify").Logger(),
		state:    StateCollecting,
		linkKeys: make(map[string]string),
		links:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns the current workflow state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Pending returns the submission awaiting a channel, or nil.
func (w *Workflow) Pending() *lifecycle.Submission {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

// Created returns the appointments of the last dispatched booking.
func (w *Workflow) Created() []backend.Appointment {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]backend.Appointment(nil), w.created...)
}

// Begin validates the current draft and, when valid, waits for a channel.
// Validation errors leave the workflow collecting.
func (w *Workflow) Begin(ctx context.Context) (*lifecycle.Submission, error) {
	w.mu.Lock()
	if w.submitting {
		w.mu.Unlock()
		return nil, ErrBusy
	}
	w.mu.Unlock()

	sub, err := w.creator.Prepare(ctx, w.drafts.Snapshot())
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StatePendingChoice {
		w.pending = sub
		return sub, nil
	}
	if !w.fsm.CanTransition(w.state, StatePendingChoice) {
		return nil, fmt.Errorf("cannot begin from %s", w.state)
	}
	w.state = StatePendingChoice
	w.pending = sub
	return sub, nil
}

// Choose issues the pending create tagged with ch. The pending submission is
// cleared whatever the outcome; failures surface through the lifecycle
// SaveState and the returned error.
func (w *Workflow) Choose(ctx context.Context, ch Channel) ([]backend.Appointment, error) {
	if !ch.Valid() {
		return nil, ErrInvalidChannel
	}

	w.mu.Lock()
	if w.state != StatePendingChoice || w.pending == nil {
		w.mu.Unlock()
		return nil, ErrNotPending
	}
	sub := w.pending
	w.pending = nil
	w.state = StateDispatched
	w.submitting = true
	w.mu.Unlock()

	created, err := w.creator.Submit(ctx, sub, string(ch))

	w.mu.Lock()
	w.submitting = false
	w.created = created
	w.mu.Unlock()

	if err != nil {
		return nil, err
	}
	w.logger.Info().Str("channel", string(ch)).Int("appointments", len(created)).Msg("booking dispatched")
	return created, nil
}

// Dismiss closes the channel prompt without creating anything.
func (w *Workflow) Dismiss() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StatePendingChoice {
		w.state = StateCollecting
		w.pending = nil
	}
}

// Reset returns a dispatched workflow to collecting.
func (w *Workflow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsm.CanTransition(w.state, StateCollecting) {
		w.state = StateCollecting
		w.pending = nil
	}
}

// GeneratePaymentLink returns the payment link of appt, creating it on first
// use. Retries reuse the same idempotency key and a stored link is returned
// without calling the backend. The link is never sent by this call.
func (w *Workflow) GeneratePaymentLink(ctx context.Context, appt backend.Appointment) (string, error) {
	amount := appt.Price
	if appt.DepositAmount > 0 {
		amount = appt.DepositAmount
	}
	if amount <= 0 {
		return "", ErrNoPrice
	}
	phone := strings.TrimSpace(appt.CustomerPhone)
	if phone == "" {
		return "", ErrNoPhone
	}

	w.mu.Lock()
	if link, ok := w.links[appt.ID]; ok {
		w.mu.Unlock()
		return link, nil
	}
	key, ok := w.linkKeys[appt.ID]
	if !ok {
		key = uuid.NewString()
		w.linkKeys[appt.ID] = key
	}
	w.mu.Unlock()

	if err := w.limiter.Wait(ctx); err != nil {
		return "", err
	}
	res, err := w.effects.CreatePaymentLink(ctx, backend.PaymentLinkRequest{
		AppointmentID: appt.ID,
		Amount:        amount,
		Phone:         phone,
	}, key)
	w.finish(ctx, "payment_link", journal.ActionPaymentLink, appt.ID, err)
	if err != nil {
		return "", err
	}

	w.mu.Lock()
	w.links[appt.ID] = res.Link
	w.mu.Unlock()
	return res.Link, nil
}

// PaymentLink returns a stored link.
func (w *Workflow) PaymentLink(appointmentID string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	link, ok := w.links[appointmentID]
	return link, ok
}

// SendReprogram asks the backend to send a reschedule message for appt.
func (w *Workflow) SendReprogram(ctx context.Context, appt backend.Appointment) lifecycle.OpResult {
	return w.action(ctx, "reprogram", journal.ActionReprogram, appt.ID, func() (*backend.ActionResult, error) {
		return w.effects.SendReprogram(ctx, backend.ReprogramRequest{AppointmentID: appt.ID, Phone: appt.CustomerPhone})
	})
}

// SendTest sends a WhatsApp test message to phone.
func (w *Workflow) SendTest(ctx context.Context, phone string) lifecycle.OpResult {
	return w.action(ctx, "test_message", journal.ActionTestMessage, "", func() (*backend.ActionResult, error) {
		return w.effects.SendTestMessage(ctx, strings.TrimSpace(phone))
	})
}

// EnrollClass enrolls a customer into a group class.
func (w *Workflow) EnrollClass(ctx context.Context, req backend.ClassEnrollmentRequest) lifecycle.OpResult {
	return w.action(ctx, "enroll", journal.ActionEnroll, req.ClassID, func() (*backend.ActionResult, error) {
		return w.effects.EnrollClass(ctx, req)
	})
}

func (w *Workflow) action(ctx context.Context, name, action, id string, call func() (*backend.ActionResult, error)) lifecycle.OpResult {
	if err := w.limiter.Wait(ctx); err != nil {
		return lifecycle.OpResult{Error: lifecycle.UserMessage(err, lifecycle.MsgGenericFailure)}
	}
	res, err := call()
	if err == nil {
		err = res.Err()
	}
	w.finish(ctx, name, action, id, err)
	if err != nil {
		return lifecycle.OpResult{Error: lifecycle.UserMessage(err, lifecycle.MsgGenericFailure)}
	}
	return lifecycle.OpResult{OK: true}
}

func (w *Workflow) finish(ctx context.Context, name, action, id string, err error) {
	metrics.IncSideEffect(name, metrics.Status(err))
	if err != nil {
		w.logger.Error().Err(err).Str("action", name).Str("id", id).Msg("side effect failed")
	} else {
		w.logger.Info().Str("action", name).Str("id", id).Msg("side effect sent")
	}
	if w.journal == nil {
		return
	}
	e := journal.Entry{Action: action, Status: "ok"}
	if id != "" {
		e.AppointmentIDs = []string{id}
	}
	if err != nil {
		e.Status = "error"
		e.Detail = err.Error()
	}
	if jerr := w.journal.Record(context.WithoutCancel(ctx), e); jerr != nil {
		w.logger.Warn().Err(jerr).Msg("journal write failed")
	}
}
