// Package app wires the booking engine components together.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agenda/internal/availability"
	"agenda/internal/backend"
	"agenda/internal/calendar"
	"agenda/internal/config"
	"agenda/internal/customers"
	"agenda/internal/draft"
	"agenda/internal/events"
	"agenda/internal/export"
	"agenda/internal/journal"
	"agenda/internal/lifecycle"
	"agenda/internal/notify"
	"agenda/internal/timefmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2/clientcredentials"
)

// App owns every component of one booking session.
type App struct {
	cfg    *config.Config
	log    zerolog.Logger
	now    func() time.Time
	rdb    *redis.Client
	closed bool

	Backend      *backend.Client
	Journal      *journal.DB
	Norm         *timefmt.Normalizer
	Bus          *events.EventBus
	Drafts       *draft.Store
	Availability *availability.Fetcher
	Customers    *customers.Searcher
	Lifecycle    *lifecycle.Manager
	Calendar     *calendar.Controller
	Notify       *notify.Workflow
}

// Option configures an App.
type Option func(*App)

// WithClock overrides the wall clock used by every component.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithRedis caches catalog reads in rdb.
func WithRedis(rdb *redis.Client) Option {
	return func(a *App) { a.rdb = rdb }
}

// New builds the components. The calendar is not polling until Start.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, log: log, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a.Norm = timefmt.New(loc)

	a.initBackend(ctx)

	if err := a.initJournal(); err != nil {
		return nil, fmt.Errorf("init journal: %w", err)
	}

	a.initComponents()

	return a, nil
}

func (a *App) initBackend(ctx context.Context) {
	c := a.cfg.Backend
	a.Backend = backend.NewClient(c.BaseURL, c.APIKey, c.APIExtra, a.cfg.BackendTimeout())
	if a.rdb != nil {
		a.Backend.UseRedisCache(a.rdb, a.cfg.CacheTTL())
	}
	if a.cfg.OAuthEnabled() {
		a.Backend.UseOAuth2(ctx, &clientcredentials.Config{
			ClientID:     c.OAuth.ClientID,
			ClientSecret: c.OAuth.ClientSecret,
			TokenURL:     c.OAuth.TokenURL,
			Scopes:       c.OAuth.Scopes,
		})
		a.log.Info().Str("token_url", c.OAuth.TokenURL).Msg("backend oauth2 enabled")
	}
}

func (a *App) initJournal() error {
	db, err := journal.NewDB(a.cfg.Journal.Path)
	if err != nil {
		return err
	}
	a.Journal = db
	return nil
}

func (a *App) initComponents() {
	a.Bus = events.NewEventBus()
	a.Drafts = draft.NewStore(nil)

	a.Availability = availability.New(a.Backend, a.Norm, a.log,
		availability.WithClock(a.now),
		availability.WithStepMinutes(a.cfg.StepMinutes()),
	)

	a.Customers = customers.NewSearcher(a.Backend, a.cfg.SearchDebounce(), a.log, nil)

	a.Lifecycle = lifecycle.NewManager(a.Backend, a.Backend, a.Drafts, a.Norm, a.Bus, a.log,
		lifecycle.WithClock(a.now),
		lifecycle.WithAutoReset(a.cfg.AutoReset()),
		lifecycle.WithJournal(a.Journal),
	)

	a.Calendar = calendar.NewController(a.Backend, a.Norm, a.log,
		calendar.WithInterval(a.cfg.PollInterval()),
		calendar.WithRange(a.initialRange()),
	)
	a.Calendar.SubscribeTo(a.Bus)

	perSecond, burst := a.cfg.NotificationRate()
	a.Notify = notify.NewWorkflow(a.Lifecycle, a.Drafts, a.Backend, a.log,
		notify.WithRateLimit(perSecond, burst),
		notify.WithJournal(a.Journal),
	)
}

func (a *App) initialRange() calendar.Range {
	today := a.Norm.Today(a.now())
	end, _ := timefmt.AddDays(today+" 00:00:00", a.cfg.InitialRangeDays())
	return calendar.Range{From: today, To: timefmt.DateOf(end)}
}

// Start begins calendar polling.
func (a *App) Start() {
	a.Calendar.Start()
	a.log.Info().Msg("agenda started")
}

// LoadAvailability fetches slots for the service, instructor and date of the
// current draft.
func (a *App) LoadAvailability(ctx context.Context) availability.Result {
	d := a.Drafts.Snapshot()
	return a.Availability.Load(ctx, availability.Query{
		ServiceID:    d.ServiceID,
		InstructorID: d.InstructorID,
		Date:         d.Date,
	})
}

// TypeCustomerName records a manual name edit and searches matching
// customers in the background.
func (a *App) TypeCustomerName(ctx context.Context, name string) {
	a.Drafts.TypeCustomerName(name)
	a.Customers.Query(ctx, name)
}

// Apply applies hot-reloaded settings.
func (a *App) Apply(r config.Reloadable) {
	a.Calendar.SetInterval(r.PollInterval)
	a.Customers.SetDebounce(r.SearchDebounce)
}

// Ready checks the backend, the journal and the cache.
func (a *App) Ready(ctx context.Context) error {
	if err := a.Backend.HealthCheck(ctx); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	if err := a.Journal.PingContext(ctx); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if a.rdb != nil {
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Export refreshes the calendar and writes it, with the recent journal, to
// path.
func (a *App) Export(ctx context.Context, path string, journalLimit int) error {
	if err := a.Calendar.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh calendar: %w", err)
	}
	entries, err := a.Journal.Recent(ctx, journalLimit)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	if err := export.WriteFile(path, a.Calendar.Snapshot(), entries); err != nil {
		return err
	}
	a.log.Info().Str("path", path).Int("events", len(a.Calendar.Snapshot().Events)).Msg("calendar exported")
	return nil
}

// Close stops background work and releases resources.
func (a *App) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	if a.Calendar != nil {
		a.Calendar.Close()
	}
	if a.Customers != nil {
		a.Customers.Stop()
	}
	if a.Availability != nil {
		a.Availability.Cancel()
	}
	if a.Lifecycle != nil {
		a.Lifecycle.Close()
	}

	var errs []error
	if a.Journal != nil {
		errs = append(errs, a.Journal.Close())
	}
	return errors.Join(errs...)
}
