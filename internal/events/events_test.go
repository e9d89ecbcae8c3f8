package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishReachesOnlySubscribedTypes(t *testing.T) {
	bus := NewEventBus()

	var got []Event
	bus.Subscribe(func(e Event) { got = append(got, e) }, AppointmentCreated, AppointmentDeleted)

	bus.Publish(Event{Type: AppointmentCreated, AppointmentIDs: []string{"1"}})
	bus.Publish(Event{Type: AppointmentUpdated, AppointmentIDs: []string{"2"}})
	bus.Publish(Event{Type: AppointmentDeleted, AppointmentIDs: []string{"3"}})

	if assert.Len(t, got, 2) {
		assert.Equal(t, []string{"1"}, got[0].AppointmentIDs)
		assert.Equal(t, []string{"3"}, got[1].AppointmentIDs)
		assert.False(t, got[0].CreatedAt.IsZero())
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewEventBus()
	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: AppointmentCancelled})
	})
}
