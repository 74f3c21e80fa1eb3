package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"ventas/internal/core"
	"ventas/internal/log"
	"ventas/internal/months"
	"ventas/internal/services"
	"ventas/internal/sheets"
	"ventas/internal/sheets/memory"
	"ventas/internal/telemetry"
)

// failingSource serves rows from memory except for months set in fail.
type failingSource struct {
	*memory.Store
	fail map[string]error
}

func (f failingSource) FetchRows(ctx context.Context, month months.Month) ([]core.Row, error) {
	if err, ok := f.fail[month.Key]; ok {
		return nil, err
	}
	return f.Store.FetchRows(ctx, month)
}

type testEnv struct {
	srv     *Server
	store   *memory.Store
	metrics *telemetry.Metrics
	logs    *bytes.Buffer
}

func newTestEnv(t *testing.T, rateLimit int) testEnv {
	t.Helper()

	table, err := months.NewTable([]months.Month{
		{Key: "octubre", SheetGID: "1", Name: "Octubre", Available: true},
		{Key: "noviembre", SheetGID: months.PendingGID, Name: "Noviembre"},
		{Key: "diciembre", SheetGID: "3", Name: "Diciembre", Available: true},
		{Key: "enero", SheetGID: "4", Name: "Enero", Available: true},
	})
	require.NoError(t, err)

	store := memory.New()
	store.Set("octubre", []core.Row{
		{core.ColCampaign: "A", core.ColSale: "Sí", core.ColAmount: 100.0, core.ColQualified: "Sí", core.ColAdvisor: "Ana", core.ColSource: "Facebook"},
		{core.ColCampaign: "A", core.ColSale: "No", core.ColQualified: "No", core.ColSource: "Facebook"},
		{core.ColCampaign: "", core.ColSale: "Sí", core.ColAmount: 999.0},
	})
	store.Set("diciembre", []core.Row{{core.ColCampaign: "", core.ColSale: "Sí"}})
	source := failingSource{
		Store: store,
		fail:  map[string]error{"enero": &sheets.StatusError{Code: http.StatusUnauthorized}},
	}

	var logs bytes.Buffer
	logger := log.New(log.Config{Level: slog.LevelDebug, Format: "json", Output: &logs})
	metrics := telemetry.New()
	svc := services.NewDashboardService(source, table,
		services.WithMetrics(metrics),
		services.WithLogger(logger.WithComponent(log.ComponentDashboard).Logger),
	)

	srv, err := NewServer(Config{
		Addr:               ":0",
		RateLimitPerMinute: rateLimit,
		Metrics:            metrics,
		Logger:             logger,
	}, svc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return testEnv{srv: srv, store: store, metrics: metrics, logs: &logs}
}

func (e testEnv) do(method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestIndexRendersDefaultMonth(t *testing.T) {
	env := newTestEnv(t, 30)

	rr := env.do(http.MethodGet, "/?budget=200", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()

	assert.Contains(t, body, "Dashboard de Ventas")
	assert.Contains(t, body, "Noviembre")
	assert.Contains(t, body, "S/ 100.00")
	assert.Contains(t, body, "50.0%")
	assert.Contains(t, body, "Resultados por Campaña")
	assert.Contains(t, body, "Ana")
	assert.NotContains(t, body, "999")
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rr.Header().Get("Content-Security-Policy"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestMetricsPartial(t *testing.T) {
	env := newTestEnv(t, 30)

	t.Run("pending month shows no data", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/ui/metrics?month=noviembre", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "Este mes aún no cuenta con información")
		assert.NotContains(t, rr.Body.String(), "<html")
	})

	t.Run("month without campaign rows shows no data", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/ui/metrics?month=diciembre", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "Este mes aún no cuenta con información")
	})

	t.Run("upstream failure shows troubleshooting steps", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/ui/metrics?month=enero", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		body := rr.Body.String()
		assert.Contains(t, body, "Verifica que el Sheet sea público")
		assert.Contains(t, body, "Pasos para solucionar")
		assert.Contains(t, body, "Reintentar conexión")
	})

	t.Run("invalid budget falls back to default", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/ui/metrics?month=octubre&budget=abc", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "Presupuesto inválido, se usa S/ 150,000.00")
		assert.Empty(t, rr.Header().Get("HX-Trigger"))

		rr = env.do(http.MethodGet, "/ui/metrics?month=octubre&budget=abc", map[string]string{"HX-Request": "true"})
		require.Equal(t, http.StatusOK, rr.Code)
		trigger := rr.Header().Get("HX-Trigger")
		assert.Contains(t, trigger, EventShowNotification)
		assert.Contains(t, trigger, `"type":"warning"`)
		assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	})

	t.Run("unknown month is 404", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/ui/metrics?month=marzo", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Contains(t, rr.Body.String(), "Mes desconocido")
	})
}

func TestMonthsAPI(t *testing.T) {
	env := newTestEnv(t, 30)

	rr := env.do(http.MethodGet, "/api/months", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp monthsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Months, 4)
	assert.Equal(t, "octubre", resp.Default)
	assert.Equal(t, 150000.0, resp.DefaultBudget)
	assert.False(t, resp.Months[1].Available)
}

func TestMonthMetricsAPI(t *testing.T) {
	env := newTestEnv(t, 30)

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"ok", "/api/months/octubre/metrics?budget=200", http.StatusOK},
		{"case insensitive key", "/api/months/Octubre/metrics", http.StatusOK},
		{"unknown month", "/api/months/marzo/metrics", http.StatusNotFound},
		{"invalid budget", "/api/months/octubre/metrics?budget=-5", http.StatusBadRequest},
		{"upstream error", "/api/months/enero/metrics", http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.status, rr.Code)
			assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
		})
	}

	rr := env.do(http.MethodGet, "/api/months/octubre/metrics?budget=200", nil)
	raw := rr.Body.String()
	for _, key := range []string{"totalSales", "totalLeads", "cplc", "salesByCampaign", "salesByAdvisor", "leadsBySource", "lastUpdate"} {
		assert.Contains(t, raw, `"`+key+`"`)
	}
	var snap services.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	require.NotNil(t, snap.Metrics)
	assert.Equal(t, 2, snap.Metrics.TotalLeads)
	assert.Equal(t, 1, snap.Metrics.SalesCount)
	assert.Equal(t, 100.0, snap.Metrics.TotalSales)
	assert.Equal(t, 1, snap.Metrics.QualifiedLeads)
	assert.InDelta(t, 100, snap.Metrics.CPL, 1e-9)
	assert.InDelta(t, 200, snap.Metrics.CPLC, 1e-9)
	assert.InDelta(t, 50, snap.Metrics.ConversionRate, 1e-9)
	assert.InDelta(t, 50, snap.Metrics.BudgetProgress, 1e-9)

	rr = env.do(http.MethodGet, "/api/months/enero/metrics", nil)
	assert.Contains(t, rr.Body.String(), "Verifica que el Sheet sea público")

	rr = env.do(http.MethodGet, "/api/months/noviembre/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "lastUpdate")
	snap = services.Snapshot{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.True(t, snap.NoData)
	assert.Nil(t, snap.Metrics)
}

func TestRefreshAPI(t *testing.T) {
	env := newTestEnv(t, 30)

	rr := env.do(http.MethodPost, "/api/months/octubre/refresh", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp refreshResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "octubre", resp.Month)
	assert.False(t, resp.LastUpdate.IsZero())

	rr = env.do(http.MethodPost, "/api/months/octubre/refresh", map[string]string{"HX-Request": "true"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("HX-Trigger"), EventMonthRefreshed)

	rr = env.do(http.MethodPost, "/api/months/noviembre/refresh", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(http.MethodPost, "/api/months/marzo/refresh", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(http.MethodGet, "/api/months/octubre/refresh", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestRefreshIsRateLimited(t *testing.T) {
	env := newTestEnv(t, 2)

	for i := 0; i < 2; i++ {
		rr := env.do(http.MethodPost, "/api/months/octubre/refresh", nil)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := env.do(http.MethodPost, "/api/months/octubre/refresh", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Contains(t, env.logs.String(), "Rate limit exceeded")

	// Reads are not limited.
	rr = env.do(http.MethodGet, "/api/months/octubre/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestExportXLSX(t *testing.T) {
	env := newTestEnv(t, 30)

	rr := env.do(http.MethodGet, "/api/months/octubre/export.xlsx?budget=200", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "ventas-octubre.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.Contains(t, f.GetSheetList(), "Campañas")

	rr = env.do(http.MethodGet, "/api/months/octubre/export.xlsx?budget=x", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthReadyAndMetrics(t *testing.T) {
	env := newTestEnv(t, 30)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := env.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}

	env.srv.ready = func(context.Context) error { return errors.New("sheet unreachable") }
	rr := env.do(http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "sheet unreachable")

	env.do(http.MethodGet, "/api/months/octubre/metrics", nil)
	rr = env.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ventas_http_requests_total{method="GET",route="/api/months/{month}/metrics",status="200"}`)
	assert.Contains(t, string(body), "ventas_sheet_fetches_total")
}

func TestStaticAssets(t *testing.T) {
	env := newTestEnv(t, 30)

	rr := env.do(http.MethodGet, "/static/app.css", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "public, max-age=3600", rr.Header().Get("Cache-Control"))
	assert.True(t, strings.Contains(rr.Body.String(), ".tabs"))
}

func TestFormatPEN(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "S/ 0.00"},
		{100, "S/ 100.00"},
		{1234.5, "S/ 1,234.50"},
		{150000, "S/ 150,000.00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatPEN(tt.in))
	}
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusForError(months.ErrUnknownMonth))
	assert.Equal(t, http.StatusBadRequest, statusForError(services.ErrInvalidBudget))
	assert.Equal(t, http.StatusConflict, statusForError(sheets.ErrMonthUnavailable))
	assert.Equal(t, http.StatusGatewayTimeout, statusForError(context.DeadlineExceeded))
	assert.Equal(t, http.StatusBadGateway, statusForError(&sheets.StatusError{Code: 500}))
}

func TestMonthMetricsAPI_OverflowingAmounts(t *testing.T) {
	env := newTestEnv(t, 30)
	env.store.Set("octubre", []core.Row{
		{core.ColCampaign: "A", core.ColSale: "Sí", core.ColAmount: "1e308"},
		{core.ColCampaign: "A", core.ColSale: "Sí", core.ColAmount: "1e308"},
	})

	rr := env.do(http.MethodGet, "/api/months/octubre/metrics?budget=100", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var snap services.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	require.NotNil(t, snap.Metrics)
	assert.Zero(t, snap.Metrics.TotalSales)
	assert.Zero(t, snap.Metrics.BudgetProgress)
	assert.Equal(t, 2, snap.Metrics.SalesCount)
}

func TestWriteJSON_EncodeFailure(t *testing.T) {
	env := newTestEnv(t, 30)
	req := httptest.NewRequest(http.MethodGet, "/api/months", nil)
	rr := httptest.NewRecorder()

	env.srv.writeJSON(rr, req, http.StatusOK, map[string]float64{"total": math.Inf(1)})

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"error":"could not encode response"}`, rr.Body.String())
	assert.Contains(t, env.logs.String(), "JSON encoding failed")
}
