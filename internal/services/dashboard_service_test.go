package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ventas/internal/core"
	"ventas/internal/months"
	"ventas/internal/sheets"
	"ventas/internal/telemetry"
)

type fakeSource struct {
	mu    sync.Mutex
	rows  map[string][]core.Row
	err   error
	calls int32
	delay time.Duration
}

func (f *fakeSource) FetchRows(ctx context.Context, month months.Month) ([]core.Row, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[month.Key], nil
}

type fakePublisher struct{ keys []string }

func (p *fakePublisher) PublishRefresh(_ context.Context, key string) error {
	p.keys = append(p.keys, key)
	return nil
}

func octoberRows() []core.Row {
	return []core.Row{
		{core.ColCampaign: "A", core.ColSale: "Sí", core.ColAmount: 100.0, core.ColQualified: "Sí"},
		{core.ColCampaign: "A", core.ColSale: "No", core.ColQualified: "No"},
		{core.ColCampaign: "", core.ColSale: "Sí", core.ColAmount: 999.0},
	}
}

func testTable(t *testing.T) *months.Table {
	t.Helper()
	table, err := months.NewTable([]months.Month{
		{Key: "octubre", SheetGID: "1", Name: "Octubre", Available: true},
		{Key: "noviembre", SheetGID: months.PendingGID, Name: "Noviembre"},
		{Key: "diciembre", SheetGID: "3", Name: "Diciembre", Available: true},
	})
	require.NoError(t, err)
	return table
}

func newTestService(t *testing.T, src *fakeSource, opts ...Option) *DashboardService {
	t.Helper()
	return NewDashboardService(src, testTable(t), opts...)
}

func TestLoad_AggregatesCampaignRows(t *testing.T) {
	src := &fakeSource{rows: map[string][]core.Row{"octubre": octoberRows()}}
	svc := newTestService(t, src)

	snap, err := svc.Load(context.Background(), "octubre", 200)
	require.NoError(t, err)
	require.False(t, snap.NoData)
	require.NotNil(t, snap.Metrics)

	assert.Equal(t, 2, snap.Metrics.TotalLeads, "rows without campaign are dropped")
	assert.Equal(t, 100.0, snap.Metrics.TotalSales)
	assert.Equal(t, 50.0, snap.Metrics.BudgetProgress)
	require.Len(t, snap.Campaigns, 1)
	assert.Equal(t, 200.0, snap.Campaigns[0].Investment)
	assert.False(t, snap.LastUpdate.IsZero())
}

func TestLoad_BudgetChangeDoesNotRefetch(t *testing.T) {
	src := &fakeSource{rows: map[string][]core.Row{"octubre": octoberRows()}}
	svc := newTestService(t, src)

	first, err := svc.Load(context.Background(), "octubre", 200)
	require.NoError(t, err)
	second, err := svc.Load(context.Background(), "octubre", 400)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))
	assert.Equal(t, 100.0, first.Metrics.CPL)
	assert.Equal(t, 200.0, second.Metrics.CPL)
	assert.Equal(t, first.LastUpdate, second.LastUpdate)
}

func TestLoad_NoDataNeverAggregates(t *testing.T) {
	src := &fakeSource{rows: map[string][]core.Row{
		"diciembre": {{core.ColCampaign: "  ", core.ColSale: "Sí"}},
	}}
	svc := newTestService(t, src)
	var aggregated int32
	svc.aggregate = func(rows []core.Row, budget float64) core.Metrics {
		atomic.AddInt32(&aggregated, 1)
		return core.Aggregate(rows, budget)
	}

	snap, err := svc.Load(context.Background(), "diciembre", 1000)
	require.NoError(t, err)
	assert.True(t, snap.NoData)
	assert.Nil(t, snap.Metrics)

	snap, err = svc.Load(context.Background(), "noviembre", 1000)
	require.NoError(t, err)
	assert.True(t, snap.NoData)
	assert.True(t, snap.LastUpdate.IsZero())

	assert.Zero(t, atomic.LoadInt32(&aggregated))
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls), "pending month is never fetched")
}

func TestLoad_Errors(t *testing.T) {
	src := &fakeSource{err: &sheets.StatusError{Code: 403}}
	svc := newTestService(t, src)

	_, err := svc.Load(context.Background(), "enero", 100)
	assert.ErrorIs(t, err, months.ErrUnknownMonth)

	_, err = svc.Load(context.Background(), "octubre", -1)
	assert.ErrorIs(t, err, ErrInvalidBudget)

	_, err = svc.Load(context.Background(), "octubre", 100)
	assert.ErrorIs(t, err, sheets.ErrUpstream)

	src.mu.Lock()
	src.err = nil
	src.rows = map[string][]core.Row{"octubre": octoberRows()}
	src.mu.Unlock()

	snap, err := svc.Load(context.Background(), "octubre", 100)
	require.NoError(t, err, "failures are not cached")
	assert.False(t, snap.NoData)
}

func TestLoad_ConcurrentCallersShareFetch(t *testing.T) {
	src := &fakeSource{rows: map[string][]core.Row{"octubre": octoberRows()}, delay: 50 * time.Millisecond}
	svc := newTestService(t, src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Load(context.Background(), "octubre", 100)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))
}

func TestLoad_CallerCancellation(t *testing.T) {
	src := &fakeSource{rows: map[string][]core.Row{"octubre": octoberRows()}, delay: time.Second}
	svc := newTestService(t, src)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := svc.Load(ctx, "octubre", 100)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRefresh(t *testing.T) {
	src := &fakeSource{rows: map[string][]core.Row{"octubre": octoberRows()}}
	pub := &fakePublisher{}
	svc := newTestService(t, src, WithPublisher(pub), WithMetrics(telemetry.New()))

	_, err := svc.Load(context.Background(), "octubre", 100)
	require.NoError(t, err)

	src.mu.Lock()
	src.rows["octubre"] = append(octoberRows(), core.Row{core.ColCampaign: "B", core.ColSale: "SI", core.ColAmount: 50.0})
	src.mu.Unlock()

	at, err := svc.Refresh(context.Background(), "OCTUBRE", telemetry.TriggerManual)
	require.NoError(t, err)
	assert.False(t, at.IsZero())
	assert.Equal(t, []string{"octubre"}, pub.keys)

	snap, err := svc.Load(context.Background(), "octubre", 100)
	require.NoError(t, err)
	assert.Equal(t, 150.0, snap.Metrics.TotalSales)
	assert.Equal(t, int32(2), atomic.LoadInt32(&src.calls))

	_, err = svc.Refresh(context.Background(), "octubre", telemetry.TriggerBroadcast)
	require.NoError(t, err)
	assert.Len(t, pub.keys, 1, "only manual refreshes are broadcast")

	_, err = svc.Refresh(context.Background(), "noviembre", telemetry.TriggerManual)
	assert.ErrorIs(t, err, sheets.ErrMonthUnavailable)
}

func TestInvalidate(t *testing.T) {
	src := &fakeSource{rows: map[string][]core.Row{"octubre": octoberRows()}}
	svc := newTestService(t, src)

	_, err := svc.Load(context.Background(), "octubre", 100)
	require.NoError(t, err)
	require.NoError(t, svc.Invalidate("octubre"))
	_, err = svc.Load(context.Background(), "octubre", 100)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&src.calls))

	assert.ErrorIs(t, svc.Invalidate("enero"), months.ErrUnknownMonth)
}

func TestWarmAll(t *testing.T) {
	src := &fakeSource{rows: map[string][]core.Row{"octubre": octoberRows()}}
	svc := newTestService(t, src)

	require.NoError(t, svc.WarmAll(context.Background()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&src.calls), "only available months are fetched")

	_, err := svc.Load(context.Background(), "octubre", 100)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&src.calls))
}

func TestRefreshAllJoinsErrors(t *testing.T) {
	src := &fakeSource{err: errors.New("offline")}
	svc := newTestService(t, src)

	err := svc.RefreshAll(context.Background(), telemetry.TriggerSchedule)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load octubre")
	assert.Contains(t, err.Error(), "load diciembre")
}

func TestParseBudget(t *testing.T) {
	svc := newTestService(t, &fakeSource{}, WithDefaultBudget(150000))

	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"", 150000, false},
		{"  ", 150000, false},
		{"200", 200, false},
		{"0", 0, false},
		{"1234.5", 1234.5, false},
		{"abc", 150000, true},
		{"-5", 150000, true},
		{"NaN", 150000, true},
		{"Inf", 150000, true},
	}
	for _, tt := range tests {
		got, err := svc.ParseBudget(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidBudget, tt.in)
		} else {
			assert.NoError(t, err, tt.in)
		}
	}
}
