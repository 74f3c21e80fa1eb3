package sheets

import (
	"context"
	"errors"
	"fmt"

	"ventas/internal/core"
	"ventas/internal/months"
)

// Ports for outbound adapters.
type (
	// RowSource returns every record of the sheet tab configured for a month,
	// unfiltered and in sheet order.
	RowSource interface {
		FetchRows(ctx context.Context, month months.Month) ([]core.Row, error)
	}
)

var (
	// ErrUpstream reports that the sheet could not be read from its origin.
	ErrUpstream = errors.New("sheet upstream error")
	// ErrMonthUnavailable is returned for months without a sheet tab.
	ErrMonthUnavailable = errors.New("month has no sheet")
)

// PublicSheetHint is shown to users when the export endpoint refuses access.
const PublicSheetHint = "No se pudo conectar con Google Sheets. Verifica que el Sheet sea público."

// StatusError is a non-2xx answer from the sheet origin.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("sheet origin returned status %d", e.Code)
	}
	return fmt.Sprintf("sheet origin returned status %d: %s", e.Code, e.Body)
}

// Is makes every StatusError match ErrUpstream.
func (e *StatusError) Is(target error) bool { return target == ErrUpstream }
