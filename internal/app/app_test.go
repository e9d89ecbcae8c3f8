package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"agenda/internal/backend"
	"agenda/internal/calendar"
	"agenda/internal/config"
	"agenda/internal/draft"
	"agenda/internal/journal"
	"agenda/internal/notify"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeBackend struct {
	mu       sync.Mutex
	created  []backend.CreateAppointmentRequest
	listFrom []string
}

func (f *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/services", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"services": []backend.Service{{ID: "s1", Name: "Corte", DurationMin: 30, Price: 12000}}})
	})
	mux.HandleFunc("/api/availability", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"slots": []string{"09:00", "15:00", "15:30"}, "busy_slots": []string{"15:30"}})
	})
	mux.HandleFunc("/api/appointments", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			f.listFrom = append(f.listFrom, r.URL.Query().Get("from"))
			list := make([]map[string]any, 0, len(f.created))
			for i, c := range f.created {
				list = append(list, map[string]any{
					"id":            i + 1,
					"customer_name": c.CustomerName,
					"service_name":  "Corte",
					"starts_at":     c.StartsAt,
					"ends_at":       c.EndsAt,
				})
			}
			writeJSON(w, list)
		case http.MethodPost:
			var req backend.CreateAppointmentRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			f.created = append(f.created, req)
			writeJSON(w, map[string]any{"appointment": map[string]any{
				"id":             len(f.created),
				"customer_name":  req.CustomerName,
				"starts_at":      req.StartsAt,
				"ends_at":        req.EndsAt,
				"notify_channel": req.NotifyChannel,
			}})
		}
	})
	return mux
}

func newTestApp(t *testing.T, baseURL string, opts ...Option) *App {
	t.Helper()
	cfg := &config.Config{}
	cfg.Backend.BaseURL = baseURL
	cfg.Journal.Path = ":memory:"
	cfg.Booking.Timezone = "America/Argentina/Buenos_Aires"

	now := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC) // 10:00 in Buenos Aires
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)

	a, err := New(context.Background(), cfg, zerolog.New(io.Discard), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestBookingFlowEndToEnd(t *testing.T) {
	fb := &fakeBackend{}
	srv := httptest.NewServer(fb.handler(t))
	defer srv.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	a := newTestApp(t, srv.URL, WithRedis(rdb))
	ctx := context.Background()

	a.Drafts.Update(draft.Patch{
		ServiceID:    draft.String("s1"),
		InstructorID: draft.String("i1"),
		Date:         draft.String("2025-03-10"),
	})

	res := a.LoadAvailability(ctx)
	require.Empty(t, res.Error)
	assert.Equal(t, []string{"2025-03-10 15:00:00", "2025-03-10 15:30:00"}, res.Slots)
	assert.True(t, res.IsBusy("2025-03-10 15:30:00"))

	a.Drafts.Update(draft.Patch{
		SelectedSlot:  draft.String("2025-03-10 15:00:00"),
		CustomerName:  draft.String("Ana Pérez"),
		CustomerPhone: draft.String("+5491122334455"),
	})

	sub, err := a.Notify.Begin(ctx)
	require.NoError(t, err)
	assert.False(t, sub.Recurring())
	assert.Equal(t, notify.StatePendingChoice, a.Notify.State())

	created, err := a.Notify.Choose(ctx, notify.ChannelReminderOnly)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.True(t, a.Lifecycle.State().OK)
	assert.Equal(t, draft.Draft{}, a.Drafts.Snapshot())

	fb.mu.Lock()
	require.Len(t, fb.created, 1)
	req := fb.created[0]
	fb.mu.Unlock()
	assert.Equal(t, "2025-03-10 15:00:00", req.StartsAt)
	assert.Equal(t, "2025-03-10 15:30:00", req.EndsAt)
	assert.Equal(t, "reminder_only", req.NotifyChannel)

	// the service catalog went through the cache
	assert.True(t, mr.Exists("agenda:services"))

	entries, err := a.Journal.Recent(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, journal.ActionCreate, entries[0].Action)

	// the create published a mutation; the calendar reloads on its own
	require.Eventually(t, func() bool {
		snap := a.Calendar.Snapshot()
		return snap.Status == calendar.StatusLoaded && len(snap.Events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	path := filepath.Join(t.TempDir(), "agenda.xlsx")
	require.NoError(t, a.Export(ctx, path, 10))

	snap := a.Calendar.Snapshot()
	assert.Equal(t, calendar.StatusLoaded, snap.Status)
	require.Len(t, snap.Events, 1)
	assert.Equal(t, "2025-03-10 15:00:00", snap.Events[0].Start)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Turnos")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.NotEmpty(t, fb.listFrom)
	assert.Contains(t, fb.listFrom[len(fb.listFrom)-1], "2025-03-10")
}

func TestChooseAfterSlotPassedCreatesNothing(t *testing.T) {
	fb := &fakeBackend{}
	srv := httptest.NewServer(fb.handler(t))
	defer srv.Close()

	var mu sync.Mutex
	now := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)
	a := newTestApp(t, srv.URL, WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}))
	ctx := context.Background()

	a.Drafts.Update(draft.Patch{
		ServiceID:     draft.String("s1"),
		InstructorID:  draft.String("i1"),
		Date:          draft.String("2025-03-10"),
		SelectedSlot:  draft.String("2025-03-10 10:10:00"),
		CustomerName:  draft.String("Ana Pérez"),
		CustomerPhone: draft.String("+5491122334455"),
	})
	_, err := a.Notify.Begin(ctx)
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(20 * time.Minute)
	mu.Unlock()

	_, err = a.Notify.Choose(ctx, notify.ChannelNone)
	require.Error(t, err)
	assert.Equal(t, notify.StateDispatched, a.Notify.State())
	assert.NotEmpty(t, a.Lifecycle.State().Error)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.Empty(t, fb.created)
}

func TestReady(t *testing.T) {
	fb := &fakeBackend{}
	srv := httptest.NewServer(fb.handler(t))

	a := newTestApp(t, srv.URL)
	require.NoError(t, a.Ready(context.Background()))

	srv.Close()
	assert.ErrorContains(t, a.Ready(context.Background()), "backend")
}

func TestApplyReloadable(t *testing.T) {
	a := newTestApp(t, "http://127.0.0.1:1")
	a.Apply(config.Reloadable{PollInterval: time.Minute, SearchDebounce: 50 * time.Millisecond})

	assert.Equal(t, calendar.Range{From: "2025-03-10", To: "2025-03-17"}, a.Calendar.Snapshot().Range)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
