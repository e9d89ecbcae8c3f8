// Package customers implements the debounced customer lookup behind the
// booking form's name field.
package customers

import (
	"context"
	"strings"
	"sync"
	"time"

	"agenda/internal/backend"

	"github.com/rs/zerolog"
)

const (
	DefaultDebounce = 200 * time.Millisecond
	minQueryLength  = 2
)

// Source searches customer records.
type Source interface {
	SearchCustomers(ctx context.Context, query string) ([]backend.Customer, error)
}

// Searcher debounces queries. Each Query cancels the pending timer and any
// in-flight request of the previous one, so only the latest query can
// deliver suggestions.
type Searcher struct {
	source Source
	logger zerolog.Logger

	mu        sync.Mutex
	debounce  time.Duration
	gen       uint64
	cancel    context.CancelFunc
	query     string
	results   []backend.Customer
	onResults func(query string, results []backend.Customer)
	wg        sync.WaitGroup
}

// NewSearcher creates a Searcher. onResults may be nil.
func NewSearcher(source Source, debounce time.Duration, logger zerolog.Logger, onResults func(string, []backend.Customer)) *Searcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Searcher{
		source:    source,
		debounce:  debounce,
		logger:    logger.With().Str("component", "customer_search").Logger(),
		onResults: onResults,
	}
}

// SetDebounce changes the debounce delay for subsequent queries.
func (s *Searcher) SetDebounce(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.debounce = d
	s.mu.Unlock()
}

// Query schedules a search for q. Queries shorter than two characters clear
// the suggestions without calling the backend.
func (s *Searcher) Query(ctx context.Context, q string) {
	q = strings.TrimSpace(q)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	gen := s.gen
	s.query = q

	if len([]rune(q)) < minQueryLength {
		s.results = nil
		s.mu.Unlock()
		s.deliver(q, nil)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	debounce := s.debounce
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(runCtx, cancel, gen, q, debounce)
}

func (s *Searcher) run(ctx context.Context, cancel context.CancelFunc, gen uint64, q string, debounce time.Duration) {
	defer s.wg.Done()
	defer cancel()

	timer := time.NewTimer(debounce)
	select {
	case <-ctx.Done():
		timer.Stop()
		return
	case <-timer.C:
	}

	found, err := s.source.SearchCustomers(ctx, q)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.cancel = nil
	if err != nil {
		s.mu.Unlock()
		if !backend.IsCanceled(err) {
			s.logger.Error().Err(err).Str("query", q).Msg("customer search failed")
		}
		return
	}
	s.results = found
	s.mu.Unlock()

	s.deliver(q, found)
}

// Results returns the suggestions of the latest completed query.
func (s *Searcher) Results() []backend.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]backend.Customer(nil), s.results...)
}

// Stop cancels any pending search and waits for it to exit.
func (s *Searcher) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Searcher) deliver(q string, results []backend.Customer) {
	if s.onResults != nil {
		s.onResults(q, results)
	}
}
