package lifecycle

import (
	"fmt"
	"time"

	"agenda/internal/draft"
	"agenda/internal/timefmt"

	"github.com/teambition/rrule-go"
)

// RecurrenceSpec describes a weekly series derived from a draft.
type RecurrenceSpec struct {
	AnchorSlot      string // canonical
	IntervalDays    int
	OccurrenceCount int
	UntilDate       string // YYYY-MM-DD; when set OccurrenceCount is ignored
}

// RecurrenceFromDraft derives the series for an already normalized anchor.
func RecurrenceFromDraft(d draft.Draft, anchor string) RecurrenceSpec {
	spec := RecurrenceSpec{AnchorSlot: anchor, IntervalDays: 7}
	if d.RepeatUntil != "" {
		spec.UntilDate = d.RepeatUntil
		return spec
	}
	spec.OccurrenceCount = clampCount(d.RepeatCount)
	return spec
}

func clampCount(n int) int {
	switch {
	case n == 0:
		return draft.DefaultRepeatCount
	case n < draft.MinRepeatCount:
		return draft.MinRepeatCount
	case n > draft.MaxRepeatCount:
		return draft.MaxRepeatCount
	}
	return n
}

// Occurrences expands the series into canonical timestamps. Wall-clock
// fields are computed in UTC so daylight saving transitions never shift the
// time of day. Until-bounded series include any occurrence on the until day
// and are capped at draft.MaxRepeatCount.
func (r RecurrenceSpec) Occurrences() ([]string, error) {
	anchor, err := time.ParseInLocation(timefmt.Layout, r.AnchorSlot, time.UTC)
	if err != nil {
		return nil, invalid("selected_slot", MsgInvalidSlot)
	}
	interval := r.IntervalDays
	if interval <= 0 {
		interval = 7
	}

	opt := rrule.ROption{
		Freq:     rrule.DAILY,
		Interval: interval,
		Dtstart:  anchor,
	}
	if r.UntilDate != "" {
		until, err := time.ParseInLocation(timefmt.DateLayout, r.UntilDate, time.UTC)
		if err != nil {
			return nil, invalid("repeat_until", MsgInvalidUntil)
		}
		opt.Until = until.Add(24*time.Hour - time.Second)
		opt.Count = draft.MaxRepeatCount
	} else {
		opt.Count = clampCount(r.OccurrenceCount)
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("build recurrence: %w", err)
	}

	instants := rule.All()
	if len(instants) < draft.MinRepeatCount {
		return nil, invalid("repeat_until", MsgShortSeries)
	}

	out := make([]string, 0, len(instants))
	for _, t := range instants {
		out = append(out, t.Format(timefmt.Layout))
	}
	return out, nil
}
