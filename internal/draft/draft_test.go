package draft

import (
	"testing"

	"agenda/internal/backend"

	"github.com/stretchr/testify/assert"
)

func TestUpdateShallowMerges(t *testing.T) {
	s := NewStore(nil)

	s.Update(Patch{ServiceID: String("s1"), InstructorID: String("i1")})
	d := s.Update(Patch{Date: String("2025-03-10"), SelectedSlot: String("2025-03-10 14:00:00")})

	assert.Equal(t, "s1", d.ServiceID)
	assert.Equal(t, "i1", d.InstructorID)
	assert.Equal(t, "2025-03-10", d.Date)
	assert.Equal(t, "2025-03-10 14:00:00", d.SelectedSlot)
}

func TestChangingSelectionKeepsSlot(t *testing.T) {
	s := NewStore(nil)
	s.Update(Patch{SelectedSlot: String("2025-03-10 14:00:00")})

	d := s.Update(Patch{ServiceID: String("s2"), InstructorID: String("i2"), Date: String("2025-03-11")})

	assert.Equal(t, "2025-03-10 14:00:00", d.SelectedSlot)
}

func TestSelectCustomerThenTypingClearsLink(t *testing.T) {
	s := NewStore(nil)

	d := s.SelectCustomer(backend.Customer{ID: "77", Name: "Ana Pérez", Phone: "+5491112345678"})
	assert.Equal(t, "77", d.CustomerID)
	assert.Equal(t, "Ana Pérez", d.CustomerName)
	assert.Equal(t, "+5491112345678", d.CustomerPhone)
	assert.True(t, d.Linked())

	d = s.TypeCustomerName("Ana P")
	assert.Empty(t, d.CustomerID)
	assert.False(t, d.Linked())
	assert.Equal(t, "Ana P", d.CustomerName)
	assert.Equal(t, "+5491112345678", d.CustomerPhone)
}

func TestSelectAnotherCustomerOverwrites(t *testing.T) {
	s := NewStore(nil)
	s.TypeCustomerName("Juan")
	s.Update(Patch{CustomerPhone: String("+5491100000000")})

	d := s.SelectCustomer(backend.Customer{ID: "8", Name: "Lucía", Phone: "+5491199999999"})
	assert.Equal(t, "8", d.CustomerID)
	assert.Equal(t, "Lucía", d.CustomerName)
	assert.Equal(t, "+5491199999999", d.CustomerPhone)
}

func TestRepeatToggle(t *testing.T) {
	s := NewStore(nil)

	d := s.SetRepeatEnabled(true)
	assert.True(t, d.RepeatEnabled)
	assert.Equal(t, DefaultRepeatCount, d.RepeatCount)
	assert.Equal(t, 4, d.RepeatCount)

	s.Update(Patch{RepeatCount: Int(10)})
	d = s.SetRepeatEnabled(false)
	assert.False(t, d.RepeatEnabled)
	assert.Equal(t, 10, d.RepeatCount)

	d = s.SetRepeatEnabled(true)
	assert.Equal(t, 10, d.RepeatCount)
}

func TestResetEmptiesDraft(t *testing.T) {
	var seen []Draft
	s := NewStore(func(d Draft) { seen = append(seen, d) })
	s.Update(Patch{ServiceID: String("s1"), CustomerName: String("Ana")})

	d := s.Reset()
	assert.Equal(t, Draft{}, d)
	assert.Len(t, seen, 2)
	assert.Equal(t, Draft{}, s.Snapshot())
}

func TestResetIfOnlyResetsUnchangedDraft(t *testing.T) {
	s := NewStore(nil)
	submitted := s.Update(Patch{ServiceID: String("s1"), CustomerName: String("Ana")})

	s.Update(Patch{CustomerName: String("Ana María")})
	assert.False(t, s.ResetIf(submitted))
	assert.Equal(t, "Ana María", s.Snapshot().CustomerName)

	assert.True(t, s.ResetIf(s.Snapshot()))
	assert.Equal(t, Draft{}, s.Snapshot())
}

func TestPatchHelpers(t *testing.T) {
	s := NewStore(nil)
	d := s.Update(Patch{ServiceID: String("s1"), RepeatCount: Int(6), RepeatEnabled: Bool(true)})
	assert.Equal(t, "s1", d.ServiceID)
	assert.Equal(t, 6, d.RepeatCount)
	assert.True(t, d.RepeatEnabled)
}

func TestProgress(t *testing.T) {
	tests := []struct {
		name  string
		draft Draft
		want  Step
	}{
		{"empty", Draft{}, StepService},
		{"service", Draft{ServiceID: "s"}, StepInstructor},
		{"instructor", Draft{ServiceID: "s", InstructorID: "i"}, StepDate},
		{"date", Draft{ServiceID: "s", InstructorID: "i", Date: "2025-03-10"}, StepSlot},
		{"slot", Draft{ServiceID: "s", InstructorID: "i", Date: "2025-03-10", SelectedSlot: "x"}, StepCustomer},
		{"name without phone", Draft{ServiceID: "s", InstructorID: "i", Date: "d", SelectedSlot: "x", CustomerName: "A"}, StepCustomer},
		{"linked without phone", Draft{ServiceID: "s", InstructorID: "i", Date: "d", SelectedSlot: "x", CustomerName: "A", CustomerID: "1"}, StepConfirm},
		{"complete", Draft{ServiceID: "s", InstructorID: "i", Date: "d", SelectedSlot: "x", CustomerName: "A", CustomerPhone: "+1"}, StepConfirm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Progress(tt.draft))
		})
	}
	assert.Equal(t, "confirm", StepConfirm.String())
	assert.Equal(t, "Horario", StepLabels[StepSlot])
}
