// Package draft holds the in-progress booking selection.
package draft

import (
	"sync"

	"agenda/internal/backend"
)

// Recurrence bounds.
const (
	DefaultRepeatCount = 4
	MinRepeatCount     = 2
	MaxRepeatCount     = 26
)

// Draft is the working selection of the booking form.
type Draft struct {
	ServiceID     string
	InstructorID  string
	BranchID      string
	Date          string // YYYY-MM-DD
	SelectedSlot  string // canonical timestamp or empty
	CustomerID    string // set only while linked to an existing customer
	CustomerName  string
	CustomerPhone string
	RepeatEnabled bool
	RepeatCount   int
	RepeatUntil   string // YYYY-MM-DD; takes precedence over RepeatCount
}

// Linked reports whether the draft points at an existing customer record.
func (d Draft) Linked() bool {
	return d.CustomerID != ""
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	ServiceID     *string
	InstructorID  *string
	BranchID      *string
	Date          *string
	SelectedSlot  *string
	CustomerID    *string
	CustomerName  *string
	CustomerPhone *string
	RepeatEnabled *bool
	RepeatCount   *int
	RepeatUntil   *string
}

// String returns a pointer to s for inline Patch fields.
func String(s string) *string { return &s }

// Int returns a pointer to n for inline Patch fields.
func Int(n int) *int { return &n }

// Bool returns a pointer to b for inline Patch fields.
func Bool(b bool) *bool { return &b }

// Store is the single writer of the draft.
type Store struct {
	mu       sync.RWMutex
	draft    Draft
	onChange func(Draft)
}

// NewStore creates an empty store. onChange, when not nil, is called after
// every mutation with the new draft.
func NewStore(onChange func(Draft)) *Store {
	return &Store{onChange: onChange}
}

// Snapshot returns a copy of the current draft.
func (s *Store) Snapshot() Draft {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draft
}

// Update shallow-merges p into the draft. It never clears SelectedSlot on its
// own; callers clear it when their semantics require.
func (s *Store) Update(p Patch) Draft {
	return s.mutate(func(d *Draft) { apply(d, p) })
}

// SelectCustomer links an existing customer and copies its name and phone.
func (s *Store) SelectCustomer(c backend.Customer) Draft {
	return s.mutate(func(d *Draft) {
		d.CustomerID = string(c.ID)
		d.CustomerName = c.Name
		d.CustomerPhone = c.Phone
	})
}

// TypeCustomerName records a manual edit of the name field. Manual edits and
// customer linkage are exclusive, so the link is dropped.
func (s *Store) TypeCustomerName(name string) Draft {
	return s.mutate(func(d *Draft) {
		d.CustomerName = name
		d.CustomerID = ""
	})
}

// SetRepeatEnabled toggles recurrence. Enabling defaults the count to
// DefaultRepeatCount when unset; disabling keeps the stored count.
func (s *Store) SetRepeatEnabled(enabled bool) Draft {
	return s.mutate(func(d *Draft) {
		d.RepeatEnabled = enabled
		if enabled && d.RepeatCount == 0 {
			d.RepeatCount = DefaultRepeatCount
		}
	})
}

// Reset empties the draft.
func (s *Store) Reset() Draft {
	return s.mutate(func(d *Draft) { *d = Draft{} })
}

// ResetIf empties the draft only when it still equals want, and reports
// whether it did.
func (s *Store) ResetIf(want Draft) bool {
	s.mu.Lock()
	if s.draft != want {
		s.mu.Unlock()
		return false
	}
	s.draft = Draft{}
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(Draft{})
	}
	return true
}

func (s *Store) mutate(fn func(*Draft)) Draft {
	s.mu.Lock()
	fn(&s.draft)
	d := s.draft
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(d)
	}
	return d
}

func apply(d *Draft, p Patch) {
	setString(&d.ServiceID, p.ServiceID)
	setString(&d.InstructorID, p.InstructorID)
	setString(&d.BranchID, p.BranchID)
	setString(&d.Date, p.Date)
	setString(&d.SelectedSlot, p.SelectedSlot)
	setString(&d.CustomerID, p.CustomerID)
	setString(&d.CustomerName, p.CustomerName)
	setString(&d.CustomerPhone, p.CustomerPhone)
	setString(&d.RepeatUntil, p.RepeatUntil)
	if p.RepeatEnabled != nil {
		d.RepeatEnabled = *p.RepeatEnabled
	}
	if p.RepeatCount != nil {
		d.RepeatCount = *p.RepeatCount
	}
}

func setString(dst, src *string) {
	if src != nil {
		*dst = *src
	}
}
