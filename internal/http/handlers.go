package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ventas/internal/export"
	"ventas/internal/log"
	"ventas/internal/middleware/trace"
	"ventas/internal/months"
	"ventas/internal/services"
	"ventas/internal/sheets"
	"ventas/internal/telemetry"
)

// publicSheetSteps walks the user through sharing the sheet publicly.
var publicSheetSteps = []string{
	"Abre tu Google Sheet",
	`Haz clic en "Compartir" (esquina superior derecha)`,
	`En "Acceso general", selecciona "Cualquier persona con el enlace"`,
	`Configura el permiso como "Lector"`,
	"Guarda los cambios",
}

type errorView struct {
	Title   string
	Message string
	Steps   []string
}

// dashboardView is everything the dashboard templates render for a month.
type dashboardView struct {
	Months        []months.Month
	Month         months.Month
	Budget        float64
	BudgetWarning string
	Snapshot      services.Snapshot
	Error         *errorView
}

// loadView resolves the dashboard state for p. The returned status is only
// non-200 for an unknown month.
func (s *Server) loadView(ctx context.Context, p dashboardParams) (dashboardView, int) {
	table := s.dashboard.Months()
	view := dashboardView{Months: table.All(), Budget: p.Budget}
	if p.BudgetErr != nil {
		view.BudgetWarning = "Presupuesto inválido, se usa " + formatPEN(p.Budget)
	}

	month, err := table.Lookup(p.Month)
	if err != nil {
		view.Month = table.Default()
		view.Error = &errorView{
			Title:   "Mes desconocido",
			Message: fmt.Sprintf("No existe configuración para %q.", p.Month),
		}
		return view, http.StatusNotFound
	}
	view.Month = month

	snap, err := s.dashboard.Load(ctx, month.Key, p.Budget)
	if err != nil {
		s.structured.LogError(ctx, "Dashboard load failed", err, log.OpLoad,
			log.NewFields().WithMonth(month.Key, p.Budget).WithRequestID(trace.RequestID(ctx)))
		view.Error = &errorView{Title: "Error de conexión", Message: "No se pudieron cargar los datos del mes."}
		if errors.Is(err, sheets.ErrUpstream) {
			view.Error.Message = sheets.PublicSheetHint
			view.Error.Steps = publicSheetSteps
		}
		return view, http.StatusOK
	}
	view.Snapshot = snap
	return view, http.StatusOK
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	view, status := s.loadView(r.Context(), parseDashboardParams(r, s.dashboard))
	s.render(w, r, NewHTMXResponse().Status(status), "index.html", view)
}

// handleMetricsPartial renders the dashboard body for htmx swaps. A rejected
// budget is also raised as a warning toast.
func (s *Server) handleMetricsPartial(w http.ResponseWriter, r *http.Request) {
	view, status := s.loadView(r.Context(), parseDashboardParams(r, s.dashboard))
	resp := NewHTMXResponse().Status(status)
	if view.BudgetWarning != "" && isHTMX(r) {
		resp.TriggerWarningNotification(view.BudgetWarning)
	}
	s.render(w, r, resp, "dashboard", view)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, resp *HTMXResponseBuilder, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.structured.LogError(r.Context(), "Template execution failed", err, log.OpRender,
			log.NewFields().WithComponent(log.ComponentTemplate).WithRequestID(trace.RequestID(r.Context())))
		ErrorResponse(http.StatusInternalServerError, "Error al mostrar el dashboard").Write(w)
		return
	}
	resp.BodyHTML(buf.String()).Write(w)
}

type monthsResponse struct {
	Months        []months.Month `json:"months"`
	Default       string         `json:"default"`
	DefaultBudget float64        `json:"defaultBudget"`
}

func (s *Server) handleMonths(w http.ResponseWriter, r *http.Request) {
	table := s.dashboard.Months()
	s.writeJSON(w, r, http.StatusOK, monthsResponse{
		Months:        table.All(),
		Default:       table.Default().Key,
		DefaultBudget: s.dashboard.DefaultBudget(),
	})
}

func (s *Server) handleMonthMetrics(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, r, http.StatusOK, snap)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}
	data, err := export.Workbook(snap)
	if err != nil {
		s.structured.LogError(r.Context(), "Workbook export failed", err, log.OpExport,
			log.NewFields().WithMonth(snap.Month.Key, snap.Budget))
		writeJSONError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(snap)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// loadSnapshot serves the JSON API's strict variant of loadView: an invalid
// budget is rejected instead of defaulted.
func (s *Server) loadSnapshot(w http.ResponseWriter, r *http.Request) (services.Snapshot, bool) {
	p := parseDashboardParams(r, s.dashboard)
	if p.BudgetErr != nil {
		writeJSONError(w, http.StatusBadRequest, p.BudgetErr.Error())
		return services.Snapshot{}, false
	}
	snap, err := s.dashboard.Load(r.Context(), p.Month, p.Budget)
	if err != nil {
		status := statusForError(err)
		if status >= http.StatusInternalServerError {
			s.structured.LogError(r.Context(), "Dashboard load failed", err, log.OpLoad,
				log.NewFields().WithMonth(p.Month, p.Budget).WithRequestID(trace.RequestID(r.Context())))
		}
		writeJSONError(w, status, errorMessage(err, status))
		return services.Snapshot{}, false
	}
	return snap, true
}

type refreshResponse struct {
	Month      string    `json:"month"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// handleRefresh reloads a month now. htmx callers get HX-Trigger events so
// the dashboard reloads itself.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	key := parseDashboardParams(r, s.dashboard).Month
	at, err := s.dashboard.Refresh(r.Context(), key, telemetry.TriggerManual)
	if err != nil {
		status := statusForError(err)
		if status >= http.StatusInternalServerError {
			s.structured.LogError(r.Context(), "Manual refresh failed", err, log.OpRefresh,
				log.NewFields().WithRequestID(trace.RequestID(r.Context())))
		}
		if isHTMX(r) {
			NewHTMXResponse().
				Status(status).
				TriggerErrorNotification(errorMessage(err, status)).
				Write(w)
			return
		}
		writeJSONError(w, status, errorMessage(err, status))
		return
	}

	month, _ := s.dashboard.Months().Lookup(key)
	if isHTMX(r) {
		NewHTMXResponse().
			TriggerMonthRefreshed(month.Key).
			TriggerSuccessNotification("Datos actualizados").
			Write(w)
		return
	}
	s.writeJSON(w, r, http.StatusOK, refreshResponse{Month: month.Key, LastUpdate: at})
}

// errorMessage hides upstream details from clients.
func errorMessage(err error, status int) string {
	switch {
	case errors.Is(err, sheets.ErrUpstream):
		return sheets.PublicSheetHint
	case status >= http.StatusInternalServerError:
		return "could not load month data"
	default:
		return err.Error()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady reports readiness of the row source and the rate limiter.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	httpStatus := http.StatusOK
	checks := map[string]any{
		"templates": "ok",
		"rate_limiter": s.rateLimiter.GetMetrics(),
	}

	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			checks["row_source"] = "failed: " + err.Error()
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["row_source"] = "ok"
		}
	}

	s.writeJSON(w, r, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}
