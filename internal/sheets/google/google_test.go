package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"ventas/internal/core"
	"ventas/internal/months"
	ports "ventas/internal/sheets"
)

const metadataJSON = `{"sheets":[{"properties":{"sheetId":1351719326,"title":"Octubre"}},{"properties":{"sheetId":0,"title":"Resumen"}}]}`

const valuesJSON = `{
  "range": "'Octubre'!A1:G3",
  "majorDimension": "ROWS",
  "values": [
    ["Campaña", "¿Venta?", "Monto Venta", "Asesor"],
    ["Verano", "Sí", 1500.5, "Ana"],
    ["", "No"]
  ]
}`

func newFakeAPI(t *testing.T, metaCalls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(r.URL.Path, "/values/"):
			assert.Equal(t, "UNFORMATTED_VALUE", r.URL.Query().Get("valueRenderOption"))
			_, _ = w.Write([]byte(valuesJSON))
		case strings.HasSuffix(r.URL.Path, "/v4/spreadsheets/sheet-123"):
			atomic.AddInt32(metaCalls, 1)
			_, _ = w.Write([]byte(metadataJSON))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"not found"}}`))
		}
	}))
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(context.Background(), Config{
		SpreadsheetID: "sheet-123",
		ClientOptions: []option.ClientOption{
			option.WithEndpoint(srv.URL + "/"),
			option.WithHTTPClient(srv.Client()),
		},
	})
	require.NoError(t, err)
	return c
}

func TestFetchRows(t *testing.T) {
	var metaCalls int32
	srv := newFakeAPI(t, &metaCalls)
	defer srv.Close()
	c := newTestClient(t, srv)

	month := months.Month{Key: "octubre", SheetGID: "1351719326", Available: true}
	rows, err := c.FetchRows(context.Background(), month)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Verano", rows[0].Campaign())
	assert.Equal(t, 1500.5, rows[0].Amount())
	assert.Equal(t, "Ana", rows[0].Text(core.ColAdvisor))
	assert.False(t, rows[1].HasCampaign())

	_, err = c.FetchRows(context.Background(), month)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&metaCalls), "titles are cached")
}

func TestFetchRowsUnknownGID(t *testing.T) {
	var metaCalls int32
	srv := newFakeAPI(t, &metaCalls)
	defer srv.Close()
	c := newTestClient(t, srv)

	_, err := c.FetchRows(context.Background(), months.Month{Key: "x", SheetGID: "99", Available: true})
	assert.ErrorIs(t, err, ports.ErrUpstream)
}

func TestFetchRowsPendingMonth(t *testing.T) {
	var metaCalls int32
	srv := newFakeAPI(t, &metaCalls)
	defer srv.Close()
	c := newTestClient(t, srv)

	_, err := c.FetchRows(context.Background(), months.Month{Key: "noviembre", SheetGID: months.PendingGID})
	assert.ErrorIs(t, err, ports.ErrMonthUnavailable)
	assert.Zero(t, atomic.LoadInt32(&metaCalls))
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{SpreadsheetID: "abc"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{SpreadsheetID: "abc", CredentialsJSON: []byte("not json")})
	assert.Error(t, err)
}

func TestQuoteTitle(t *testing.T) {
	assert.Equal(t, "'Octubre'", quoteTitle("Octubre"))
	assert.Equal(t, "'Mes ''A'''", quoteTitle("Mes 'A'"))
}
