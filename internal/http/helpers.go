package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"math"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"ventas/internal/log"
	"ventas/internal/middleware/trace"
	"ventas/internal/months"
	"ventas/internal/services"
	"ventas/internal/sheets"
)

// formatPEN formats an amount in soles with es-PE grouping (e.g. "S/ 1,234.56").
func formatPEN(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	return "S/ " + humanize.FormatFloat("#,###.##", v)
}

// formatPercent renders a ratio already expressed in percent with one decimal.
func formatPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

func formatCount(n int) string {
	return humanize.Comma(int64(n))
}

// progressWidth clamps a percentage to a CSS width between 0 and 100.
func progressWidth(v float64) int {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 100:
		return 100
	default:
		return int(math.Round(v))
	}
}

func viewFuncs() template.FuncMap {
	return template.FuncMap{
		"pen":      formatPEN,
		"percent":  formatPercent,
		"count":    formatCount,
		"progress": progressWidth,
		"inc":      func(i int) int { return i + 1 },
		"clock": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("15:04:05")
		},
		"budgetValue": func(v float64) string {
			return humanize.FtoaWithDigits(v, 2)
		},
	}
}

// statusForError maps dashboard errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, months.ErrUnknownMonth):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidBudget):
		return http.StatusBadRequest
	case errors.Is(err, sheets.ErrMonthUnavailable):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// encodeJSON buffers the body so nothing is written when encoding fails.
func encodeJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	if err := encodeJSON(w, status, v); err != nil {
		s.structured.LogError(r.Context(), "JSON encoding failed", err, log.OpRender,
			log.NewFields().WithComponent(log.ComponentHTTP).WithRequestID(trace.RequestID(r.Context())))
		writeJSONError(w, http.StatusInternalServerError, "could not encode response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	_ = encodeJSON(w, status, map[string]string{"error": message})
}
