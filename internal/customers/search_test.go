package customers

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"agenda/internal/backend"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) SearchCustomers(ctx context.Context, query string) ([]backend.Customer, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]backend.Customer), args.Error(1)
}

type collector struct {
	mu    sync.Mutex
	calls []string
	done  chan struct{}
}

func newCollector() *collector {
	return &collector{done: make(chan struct{}, 10)}
}

func (c *collector) onResults(q string, _ []backend.Customer) {
	c.mu.Lock()
	c.calls = append(c.calls, q)
	c.mu.Unlock()
	c.done <- struct{}{}
}

func TestRapidQueriesOnlySearchLatest(t *testing.T) {
	src := new(mockSource)
	src.On("SearchCustomers", mock.Anything, "ana pe").
		Return([]backend.Customer{{ID: "1", Name: "Ana Pérez", Phone: "+5491112345678"}}, nil).Once()

	c := newCollector()
	s := NewSearcher(src, 20*time.Millisecond, zerolog.New(io.Discard), c.onResults)
	ctx := context.Background()

	s.Query(ctx, "an")
	s.Query(ctx, "ana")
	s.Query(ctx, "ana p")
	s.Query(ctx, "ana pe")

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("no results delivered")
	}
	s.Stop()

	src.AssertExpectations(t)
	src.AssertNumberOfCalls(t, "SearchCustomers", 1)
	assert.Equal(t, []string{"ana pe"}, c.calls)
	require.Len(t, s.Results(), 1)
	assert.Equal(t, "Ana Pérez", s.Results()[0].Name)
}

func TestShortQueryClearsWithoutSearching(t *testing.T) {
	src := new(mockSource)
	c := newCollector()
	s := NewSearcher(src, 10*time.Millisecond, zerolog.New(io.Discard), c.onResults)

	s.Query(context.Background(), " a ")
	<-c.done
	s.Stop()

	src.AssertNotCalled(t, "SearchCustomers", mock.Anything, mock.Anything)
	assert.Empty(t, s.Results())
}

func TestStaleInFlightResultIsDropped(t *testing.T) {
	src := new(mockSource)
	started := make(chan struct{})
	src.On("SearchCustomers", mock.Anything, "juan").
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled).Once()
	src.On("SearchCustomers", mock.Anything, "lucia").
		Return([]backend.Customer{{ID: "2", Name: "Lucía"}}, nil).Once()

	c := newCollector()
	s := NewSearcher(src, 5*time.Millisecond, zerolog.New(io.Discard), c.onResults)
	ctx := context.Background()

	s.Query(ctx, "juan")
	<-started
	s.Query(ctx, "lucia")

	<-c.done
	s.Stop()

	src.AssertExpectations(t)
	assert.Equal(t, []string{"lucia"}, c.calls)
	assert.Equal(t, "Lucía", s.Results()[0].Name)
}

func TestStopCancelsPendingTimer(t *testing.T) {
	src := new(mockSource)
	s := NewSearcher(src, time.Hour, zerolog.New(io.Discard), nil)

	s.Query(context.Background(), "pendiente")
	s.Stop()

	src.AssertNotCalled(t, "SearchCustomers", mock.Anything, mock.Anything)
}
