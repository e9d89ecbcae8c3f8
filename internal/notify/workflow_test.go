package notify

import (
	"context"
	"errors"
	"io"
	"testing"

	"agenda/internal/backend"
	"agenda/internal/draft"
	"agenda/internal/lifecycle"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCreator struct {
	mock.Mock
}

func (m *mockCreator) Prepare(ctx context.Context, d draft.Draft) (*lifecycle.Submission, error) {
	args := m.Called(ctx, d)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lifecycle.Submission), args.Error(1)
}

func (m *mockCreator) Submit(ctx context.Context, sub *lifecycle.Submission, channel string) ([]backend.Appointment, error) {
	args := m.Called(ctx, sub, channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]backend.Appointment), args.Error(1)
}

type mockEffects struct {
	mock.Mock
}

func (m *mockEffects) CreatePaymentLink(ctx context.Context, req backend.PaymentLinkRequest, key string) (*backend.PaymentLink, error) {
	args := m.Called(ctx, req, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.PaymentLink), args.Error(1)
}

func (m *mockEffects) SendReprogram(ctx context.Context, req backend.ReprogramRequest) (*backend.ActionResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.ActionResult), args.Error(1)
}

func (m *mockEffects) SendTestMessage(ctx context.Context, phone string) (*backend.ActionResult, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.ActionResult), args.Error(1)
}

func (m *mockEffects) EnrollClass(ctx context.Context, req backend.ClassEnrollmentRequest) (*backend.ActionResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.ActionResult), args.Error(1)
}

func newWorkflow() (*Workflow, *mockCreator, *mockEffects) {
	creator := new(mockCreator)
	effects := new(mockEffects)
	w := NewWorkflow(creator, draft.NewStore(nil), effects, zerolog.New(io.Discard), WithRateLimit(1000, 10))
	return w, creator, effects
}

func TestFSMTransitions(t *testing.T) {
	fsm := NewFSM()

	assert.True(t, fsm.CanTransition(StateCollecting, StatePendingChoice))
	assert.True(t, fsm.CanTransition(StatePendingChoice, StateDispatched))
	assert.True(t, fsm.CanTransition(StatePendingChoice, StateCollecting))
	assert.True(t, fsm.CanTransition(StateDispatched, StateCollecting))
	assert.False(t, fsm.CanTransition(StateCollecting, StateDispatched))
	assert.False(t, fsm.CanTransition(State("unknown"), StateCollecting))
}

func TestChannelValid(t *testing.T) {
	for _, ch := range Channels {
		assert.True(t, ch.Valid(), ch)
	}
	assert.False(t, Channel("sms").Valid())
}

func TestBeginThenChooseDispatches(t *testing.T) {
	w, creator, _ := newWorkflow()
	sub := &lifecycle.Submission{}
	creator.On("Prepare", mock.Anything, mock.Anything).Return(sub, nil).Once()
	creator.On("Submit", mock.Anything, sub, "with_payment").
		Return([]backend.Appointment{{ID: "1"}}, nil).Once()

	got, err := w.Begin(context.Background())
	require.NoError(t, err)
	assert.Same(t, sub, got)
	assert.Equal(t, StatePendingChoice, w.State())
	assert.Same(t, sub, w.Pending())

	created, err := w.Choose(context.Background(), ChannelWithPayment)
	require.NoError(t, err)
	assert.Len(t, created, 1)
	assert.Equal(t, StateDispatched, w.State())
	assert.Nil(t, w.Pending())
	assert.Equal(t, "1", w.Created()[0].ID)
	creator.AssertExpectations(t)
}

func TestFailedSubmitStillClearsPending(t *testing.T) {
	w, creator, _ := newWorkflow()
	sub := &lifecycle.Submission{}
	creator.On("Prepare", mock.Anything, mock.Anything).Return(sub, nil).Once()
	creator.On("Submit", mock.Anything, sub, "none").Return(nil, errors.New("backend down")).Once()

	_, err := w.Begin(context.Background())
	require.NoError(t, err)
	_, err = w.Choose(context.Background(), ChannelNone)
	require.Error(t, err)

	assert.Nil(t, w.Pending())
	assert.Equal(t, StateDispatched, w.State())

	_, err = w.Choose(context.Background(), ChannelNone)
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestBeginValidationKeepsCollecting(t *testing.T) {
	w, creator, _ := newWorkflow()
	verr := &lifecycle.ValidationError{Field: "customer_phone", Message: lifecycle.MsgPhoneFormat}
	creator.On("Prepare", mock.Anything, mock.Anything).Return(nil, verr).Once()

	_, err := w.Begin(context.Background())
	require.ErrorIs(t, err, verr)
	assert.Equal(t, StateCollecting, w.State())
	assert.Nil(t, w.Pending())
}

func TestInvalidChannelKeepsPending(t *testing.T) {
	w, creator, _ := newWorkflow()
	creator.On("Prepare", mock.Anything, mock.Anything).Return(&lifecycle.Submission{}, nil).Once()

	_, err := w.Begin(context.Background())
	require.NoError(t, err)

	_, err = w.Choose(context.Background(), Channel("sms"))
	assert.ErrorIs(t, err, ErrInvalidChannel)
	assert.Equal(t, StatePendingChoice, w.State())
	creator.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
}

func TestDismissAndRestart(t *testing.T) {
	w, creator, _ := newWorkflow()
	creator.On("Prepare", mock.Anything, mock.Anything).Return(&lifecycle.Submission{}, nil)
	creator.On("Submit", mock.Anything, mock.Anything, "reminder_only").Return([]backend.Appointment{{ID: "2"}}, nil).Once()

	_, err := w.Begin(context.Background())
	require.NoError(t, err)
	w.Dismiss()
	assert.Equal(t, StateCollecting, w.State())
	assert.Nil(t, w.Pending())

	_, err = w.Begin(context.Background())
	require.NoError(t, err)
	_, err = w.Choose(context.Background(), ChannelReminderOnly)
	require.NoError(t, err)

	_, err = w.Begin(context.Background())
	require.NoError(t, err, "a new booking can start after dispatch")
	assert.Equal(t, StatePendingChoice, w.State())

	w.Dismiss()
	w.Reset()
	assert.Equal(t, StateCollecting, w.State())
}

func TestPaymentLinkIsIdempotent(t *testing.T) {
	w, _, effects := newWorkflow()
	appt := backend.Appointment{ID: "7", Price: 15000, CustomerPhone: "+5491112345678"}

	var firstKey string
	effects.On("CreatePaymentLink", mock.Anything, backend.PaymentLinkRequest{AppointmentID: "7", Amount: 15000, Phone: "+5491112345678"}, mock.Anything).
		Run(func(args mock.Arguments) { firstKey = args.String(2) }).
		Return(nil, errors.New("timeout")).Once()

	_, err := w.GeneratePaymentLink(context.Background(), appt)
	require.Error(t, err)

	effects.On("CreatePaymentLink", mock.Anything, mock.Anything, mock.MatchedBy(func(k string) bool { return k == firstKey })).
		Return(&backend.PaymentLink{Link: "https://pay.example/abc"}, nil).Once()

	link, err := w.GeneratePaymentLink(context.Background(), appt)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/abc", link)

	link, err = w.GeneratePaymentLink(context.Background(), appt)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/abc", link)

	stored, ok := w.PaymentLink("7")
	assert.True(t, ok)
	assert.Equal(t, link, stored)
	effects.AssertNumberOfCalls(t, "CreatePaymentLink", 2)
	assert.NotEmpty(t, firstKey)
}

func TestPaymentLinkPreconditions(t *testing.T) {
	w, _, effects := newWorkflow()

	_, err := w.GeneratePaymentLink(context.Background(), backend.Appointment{ID: "1", CustomerPhone: "+5491112345678"})
	assert.ErrorIs(t, err, ErrNoPrice)

	_, err = w.GeneratePaymentLink(context.Background(), backend.Appointment{ID: "1", Price: 100})
	assert.ErrorIs(t, err, ErrNoPhone)

	effects.AssertNotCalled(t, "CreatePaymentLink", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentLinkUsesDeposit(t *testing.T) {
	w, _, effects := newWorkflow()
	effects.On("CreatePaymentLink", mock.Anything, mock.MatchedBy(func(r backend.PaymentLinkRequest) bool {
		return r.Amount == 3000
	}), mock.Anything).Return(&backend.PaymentLink{Link: "l"}, nil).Once()

	_, err := w.GeneratePaymentLink(context.Background(), backend.Appointment{ID: "3", Price: 15000, DepositAmount: 3000, CustomerPhone: "+5491100000000"})
	require.NoError(t, err)
	effects.AssertExpectations(t)
}

func TestSideEffectResults(t *testing.T) {
	w, _, effects := newWorkflow()
	appt := backend.Appointment{ID: "5", CustomerPhone: "+5491112345678"}

	effects.On("SendReprogram", mock.Anything, backend.ReprogramRequest{AppointmentID: "5", Phone: "+5491112345678"}).
		Return(&backend.ActionResult{OK: true}, nil).Once()
	effects.On("SendTestMessage", mock.Anything, "+5491112345678").
		Return(&backend.ActionResult{OK: false, Error: "WhatsApp no está conectado"}, nil).Once()
	effects.On("EnrollClass", mock.Anything, mock.Anything).
		Return(nil, &backend.APIError{Status: 409, Message: "La clase está completa"}).Once()

	assert.Equal(t, lifecycle.OpResult{OK: true}, w.SendReprogram(context.Background(), appt))
	assert.Equal(t, lifecycle.OpResult{Error: "WhatsApp no está conectado"}, w.SendTest(context.Background(), " +5491112345678 "))
	assert.Equal(t, lifecycle.OpResult{Error: "La clase está completa"},
		w.EnrollClass(context.Background(), backend.ClassEnrollmentRequest{ClassID: "c1", CustomerName: "Ana"}))
	effects.AssertExpectations(t)
}
