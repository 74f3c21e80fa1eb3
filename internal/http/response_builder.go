// Package http provides the dashboard HTTP server and handlers.

package http

import (
	"encoding/json"
	"html/template"
	"net/http"
)

// Client-side events raised through HX-Trigger.
const (
	EventMonthRefreshed   = "month:refreshed"
	EventShowNotification = "show-notification"
)

// HTMXResponseBuilder assembles a response whose HX-Trigger header carries
// dashboard events alongside an optional HTML body.
type HTMXResponseBuilder struct {
	triggers   map[string]any
	statusCode int
	body       []byte
}

func NewHTMXResponse() *HTMXResponseBuilder {
	return &HTMXResponseBuilder{
		triggers:   make(map[string]any),
		statusCode: http.StatusOK,
	}
}

func (b *HTMXResponseBuilder) Status(code int) *HTMXResponseBuilder {
	b.statusCode = code
	return b
}

// Trigger registers an event; data becomes the event detail.
func (b *HTMXResponseBuilder) Trigger(name string, data any) *HTMXResponseBuilder {
	b.triggers[name] = data
	return b
}

// TriggerMonthRefreshed tells the dashboard to reload the month's metrics.
func (b *HTMXResponseBuilder) TriggerMonthRefreshed(month string) *HTMXResponseBuilder {
	return b.Trigger(EventMonthRefreshed, map[string]string{"month": month})
}

// NotificationType selects the toast style in app.js.
type NotificationType string

const (
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
	NotificationWarning NotificationType = "warning"
)

func (b *HTMXResponseBuilder) TriggerNotification(kind NotificationType, message string, durationMs int) *HTMXResponseBuilder {
	return b.Trigger(EventShowNotification, map[string]any{
		"type":     string(kind),
		"message":  message,
		"duration": durationMs,
	})
}

func (b *HTMXResponseBuilder) TriggerSuccessNotification(message string) *HTMXResponseBuilder {
	return b.TriggerNotification(NotificationSuccess, message, 3000)
}

func (b *HTMXResponseBuilder) TriggerWarningNotification(message string) *HTMXResponseBuilder {
	return b.TriggerNotification(NotificationWarning, message, 4000)
}

func (b *HTMXResponseBuilder) TriggerErrorNotification(message string) *HTMXResponseBuilder {
	return b.TriggerNotification(NotificationError, message, 5000)
}

// BodyHTML sets an HTML body. Without one the response has no Content-Type.
func (b *HTMXResponseBuilder) BodyHTML(html string) *HTMXResponseBuilder {
	b.body = []byte(html)
	return b
}

// Write sends headers, status and body. Triggers that fail to marshal are
// dropped.
func (b *HTMXResponseBuilder) Write(w http.ResponseWriter) {
	if b.body != nil {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	if len(b.triggers) > 0 {
		if raw, err := json.Marshal(b.triggers); err == nil {
			w.Header().Set("HX-Trigger", string(raw))
		}
	}
	w.WriteHeader(b.statusCode)
	if len(b.body) > 0 {
		_, _ = w.Write(b.body)
	}
}

// ErrorResponse wraps an escaped message in the dashboard's error markup.
func ErrorResponse(statusCode int, message string) *HTMXResponseBuilder {
	return NewHTMXResponse().
		Status(statusCode).
		BodyHTML(`<div class="error">` + template.HTMLEscapeString(message) + `</div>`)
}
