package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"ventas/internal/cache"
	"ventas/internal/core"
	"ventas/internal/months"
	"ventas/internal/sheets"
	"ventas/internal/telemetry"
)

// ErrInvalidBudget is returned for budgets that are not a non-negative number.
var ErrInvalidBudget = errors.New("invalid budget")

// Snapshot is the dashboard state of one month at a given budget.
// Metrics is nil when NoData is set.
type Snapshot struct {
	Month      months.Month        `json:"month"`
	Budget     float64             `json:"budget"`
	NoData     bool                `json:"noData"`
	Metrics    *core.Metrics       `json:"metrics,omitempty"`
	Campaigns  []core.CampaignView `json:"campaigns,omitempty"`
	Advisors   []core.AdvisorView  `json:"advisors,omitempty"`
	Sources    []core.SourceView   `json:"sources,omitempty"`
	LastUpdate time.Time           `json:"lastUpdate,omitzero"`
}

// Publisher announces a refresh to other instances.
type Publisher interface {
	PublishRefresh(ctx context.Context, monthKey string) error
}

type cachedRows struct {
	rows []core.Row
	at   time.Time
}

// DashboardService loads month rows through a RowSource, keeps the rows with a
// campaign in a TTL cache and aggregates them on demand. The budget never
// triggers a refetch.
type DashboardService struct {
	source        sheets.RowSource
	months        *months.Table
	rows          cache.Cache[[]core.Row]
	group         singleflight.Group
	metrics       *telemetry.Metrics
	publisher     Publisher
	logger        *slog.Logger
	defaultBudget float64
	fetchTimeout  time.Duration
	warmLimit     int
	aggregate     func([]core.Row, float64) core.Metrics
}

// Option customizes a DashboardService.
type Option func(*DashboardService)

func WithCache(c cache.Cache[[]core.Row]) Option {
	return func(s *DashboardService) { s.rows = c }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *DashboardService) { s.metrics = m }
}

func WithPublisher(p Publisher) Option {
	return func(s *DashboardService) { s.publisher = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *DashboardService) { s.logger = l }
}

func WithDefaultBudget(b float64) Option {
	return func(s *DashboardService) { s.defaultBudget = b }
}

func WithFetchTimeout(d time.Duration) Option {
	return func(s *DashboardService) { s.fetchTimeout = d }
}

func NewDashboardService(source sheets.RowSource, table *months.Table, opts ...Option) *DashboardService {
	s := &DashboardService{
		source:        source,
		months:        table,
		logger:        slog.Default(),
		defaultBudget: 150000,
		fetchTimeout:  10 * time.Second,
		warmLimit:     4,
		aggregate:     core.Aggregate,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rows == nil {
		s.rows = cache.NewLRUCache[[]core.Row](24, 5*time.Minute)
	}
	return s
}

// Months returns the month table served by the dashboard.
func (s *DashboardService) Months() *months.Table { return s.months }

// DefaultBudget is the budget used when none is given.
func (s *DashboardService) DefaultBudget() float64 { return s.defaultBudget }

// ParseBudget reads a budget from user input. Empty input yields the default
// budget; anything that is not a finite non-negative number yields the
// default together with ErrInvalidBudget.
func (s *DashboardService) ParseBudget(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.defaultBudget, nil
	}
	b, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(b) || math.IsInf(b, 0) || b < 0 {
		return s.defaultBudget, fmt.Errorf("%w: %q", ErrInvalidBudget, raw)
	}
	return b, nil
}

// Load returns the snapshot of a month. A month without a sheet, or whose
// sheet has no campaign rows, yields a NoData snapshot and is not aggregated.
func (s *DashboardService) Load(ctx context.Context, monthKey string, budget float64) (Snapshot, error) {
	month, err := s.months.Lookup(monthKey)
	if err != nil {
		return Snapshot{}, err
	}
	if budget < 0 || math.IsNaN(budget) || math.IsInf(budget, 0) {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidBudget, budget)
	}

	snap := Snapshot{Month: month, Budget: budget}
	if !month.Available {
		snap.NoData = true
		return snap, nil
	}

	entry, err := s.rowsFor(ctx, month)
	if err != nil {
		return Snapshot{}, err
	}
	snap.LastUpdate = entry.at
	if len(entry.rows) == 0 {
		snap.NoData = true
		return snap, nil
	}

	m := s.aggregate(entry.rows, budget)
	snap.Metrics = &m
	snap.Campaigns = core.SortedCampaigns(m)
	snap.Advisors = core.SortedAdvisors(m)
	snap.Sources = core.SortedSources(m)
	return snap, nil
}

// Refresh drops the cached rows of a month and loads them again. Manual
// refreshes are announced to other instances when a publisher is set.
func (s *DashboardService) Refresh(ctx context.Context, monthKey, trigger string) (time.Time, error) {
	month, err := s.months.Lookup(monthKey)
	if err != nil {
		return time.Time{}, err
	}
	if !month.Available {
		return time.Time{}, fmt.Errorf("%w: %s", sheets.ErrMonthUnavailable, month.Key)
	}

	s.drop(month.Key)
	s.metrics.Refresh(trigger)
	entry, err := s.rowsFor(ctx, month)
	if err != nil {
		return time.Time{}, err
	}

	if trigger == telemetry.TriggerManual && s.publisher != nil {
		if err := s.publisher.PublishRefresh(ctx, month.Key); err != nil {
			s.logger.WarnContext(ctx, "Failed to broadcast refresh", "month", month.Key, "error", err)
		}
	}
	s.logger.InfoContext(ctx, "Month refreshed", "month", month.Key, "trigger", trigger, "rows", len(entry.rows))
	return entry.at, nil
}

// Invalidate drops the cached rows of a month without reloading.
func (s *DashboardService) Invalidate(monthKey string) error {
	month, err := s.months.Lookup(monthKey)
	if err != nil {
		return err
	}
	s.drop(month.Key)
	return nil
}

// WarmAll loads every available month concurrently.
func (s *DashboardService) WarmAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.warmLimit)
	for _, m := range s.months.Available() {
		g.Go(func() error {
			if _, err := s.rowsFor(ctx, m); err != nil {
				return fmt.Errorf("warm %s: %w", m.Key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// RefreshAll reloads every available month. Failures are joined.
func (s *DashboardService) RefreshAll(ctx context.Context, trigger string) error {
	var errs []error
	for _, m := range s.months.Available() {
		if _, err := s.Refresh(ctx, m.Key, trigger); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *DashboardService) drop(key string) {
	s.rows.Delete(key)
	s.group.Forget(key)
}

// rowsFor returns the campaign rows of a month from the cache, or fetches
// them once for all concurrent callers.
func (s *DashboardService) rowsFor(ctx context.Context, month months.Month) (cachedRows, error) {
	if rows, at, ok := s.rows.GetWithTime(month.Key); ok {
		s.metrics.CacheLookup(true)
		return cachedRows{rows: rows, at: at}, nil
	}
	s.metrics.CacheLookup(false)

	ch := s.group.DoChan(month.Key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()

		start := time.Now()
		raw, err := s.source.FetchRows(fetchCtx, month)
		s.metrics.ObserveFetch(month.Key, time.Since(start), err)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to fetch month rows", "month", month.Key, "error", err)
			return nil, fmt.Errorf("load %s: %w", month.Key, err)
		}

		rows := core.FilterByCampaign(raw)
		s.rows.Set(month.Key, rows)
		s.metrics.RowsLoaded(month.Key, len(rows))
		s.logger.DebugContext(ctx, "Month rows loaded", "month", month.Key, "rows", len(raw), "campaign_rows", len(rows))
		_, at, _ := s.rows.GetWithTime(month.Key)
		if at.IsZero() {
			at = time.Now()
		}
		return cachedRows{rows: rows, at: at}, nil
	})

	select {
	case <-ctx.Done():
		return cachedRows{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return cachedRows{}, res.Err
		}
		return res.Val.(cachedRows), nil
	}
}
