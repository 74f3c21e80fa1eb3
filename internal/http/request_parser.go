package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// dashboardParams is the explicit UI state of a dashboard request.
type dashboardParams struct {
	Month     string
	Budget    float64
	RawBudget string
	BudgetErr error
}

// parseDashboardParams reads the month from the route or the query string,
// falling back to the default month, and the budget from the query string.
// An invalid budget is reported in BudgetErr and replaced by the default.
func parseDashboardParams(r *http.Request, d Dashboard) dashboardParams {
	p := dashboardParams{
		Month:     strings.TrimSpace(chi.URLParam(r, "month")),
		RawBudget: strings.TrimSpace(r.URL.Query().Get("budget")),
	}
	if p.Month == "" {
		p.Month = strings.TrimSpace(r.URL.Query().Get("month"))
	}
	if p.Month == "" {
		p.Month = d.Months().Default().Key
	}
	p.Budget, p.BudgetErr = d.ParseBudget(p.RawBudget)
	return p
}

// isHTMX reports whether the request was issued by htmx.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
