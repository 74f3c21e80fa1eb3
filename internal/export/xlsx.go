// Package export renders a dashboard snapshot as an Excel workbook.
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"ventas/internal/services"
)

// Sheet names of the workbook.
const (
	SheetSummary   = "Resumen"
	SheetCampaigns = "Campañas"
	SheetAdvisors  = "Asesores"
	SheetSources   = "Medios"
)

const (
	currencyFormat = `"S/ "#,##0.00`
	percentFormat  = `0.00"%"`
)

type styles struct {
	title    int
	header   int
	currency int
	percent  int
	text     int
}

// Workbook builds the xlsx bytes of a snapshot. NoData snapshots produce a
// summary sheet only.
func Workbook(snap services.Snapshot) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetSummary); err != nil {
		return nil, fmt.Errorf("set sheet name: %w", err)
	}
	st, err := newStyles(f)
	if err != nil {
		return nil, err
	}

	if err := writeSummary(f, st, snap); err != nil {
		return nil, err
	}
	if !snap.NoData && snap.Metrics != nil {
		if err := writeCampaigns(f, st, snap); err != nil {
			return nil, err
		}
		if err := writeAdvisors(f, st, snap); err != nil {
			return nil, err
		}
		if err := writeSources(f, st, snap); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// Filename is the download name of a month workbook.
func Filename(snap services.Snapshot) string {
	return fmt.Sprintf("ventas-%s.xlsx", snap.Month.Key)
}

func newStyles(f *excelize.File) (styles, error) {
	var st styles
	var err error
	currency, percent := currencyFormat, percentFormat

	if st.title, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}}); err != nil {
		return st, fmt.Errorf("create title style: %w", err)
	}
	if st.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#1F4E79"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Border:    thinBorders(),
	}); err != nil {
		return st, fmt.Errorf("create header style: %w", err)
	}
	if st.currency, err = f.NewStyle(&excelize.Style{CustomNumFmt: &currency, Border: thinBorders()}); err != nil {
		return st, fmt.Errorf("create currency style: %w", err)
	}
	if st.percent, err = f.NewStyle(&excelize.Style{CustomNumFmt: &percent, Border: thinBorders()}); err != nil {
		return st, fmt.Errorf("create percent style: %w", err)
	}
	if st.text, err = f.NewStyle(&excelize.Style{Border: thinBorders()}); err != nil {
		return st, fmt.Errorf("create text style: %w", err)
	}
	return st, nil
}

func writeSummary(f *excelize.File, st styles, snap services.Snapshot) error {
	sh := SheetSummary
	_ = f.SetColWidth(sh, "A", "A", 28)
	_ = f.SetColWidth(sh, "B", "B", 20)

	_ = f.SetCellValue(sh, "A1", fmt.Sprintf("Dashboard de ventas - %s", snap.Month.Name))
	_ = f.SetCellStyle(sh, "A1", "A1", st.title)
	if !snap.LastUpdate.IsZero() {
		_ = f.SetCellValue(sh, "A2", "Actualizado: "+snap.LastUpdate.Format(time.DateTime))
	}

	if snap.NoData || snap.Metrics == nil {
		_ = f.SetCellValue(sh, "A4", "Sin datos disponibles para este mes")
		return nil
	}
	m := snap.Metrics

	type kpi struct {
		label string
		value any
		style int
	}
	rows := []kpi{
		{"Presupuesto", snap.Budget, st.currency},
		{"Ventas totales", m.TotalSales, st.currency},
		{"Avance del presupuesto", m.BudgetProgress, st.percent},
		{"Leads", m.TotalLeads, st.text},
		{"Leads calificados", m.QualifiedLeads, st.text},
		{"Reservas", m.Reservations, st.text},
		{"Ventas cerradas", m.SalesCount, st.text},
		{"Tasa de conversión", m.ConversionRate, st.percent},
		{"CPL", m.CPL, st.currency},
		{"CPLC", m.CPLC, st.currency},
	}
	for i, k := range rows {
		r := i + 4
		label, _ := excelize.CoordinatesToCellName(1, r)
		value, _ := excelize.CoordinatesToCellName(2, r)
		_ = f.SetCellValue(sh, label, k.label)
		_ = f.SetCellValue(sh, value, k.value)
		_ = f.SetCellStyle(sh, label, label, st.text)
		_ = f.SetCellStyle(sh, value, value, k.style)
	}
	return nil
}

func writeCampaigns(f *excelize.File, st styles, snap services.Snapshot) error {
	headers := []string{"Campaña", "Leads", "Calificados", "Ventas", "Monto", "Inversión", "CPL", "CPLC"}
	colStyles := []int{st.text, st.text, st.text, st.text, st.currency, st.currency, st.currency, st.currency}
	rows := make([][]any, 0, len(snap.Campaigns))
	for _, c := range snap.Campaigns {
		rows = append(rows, []any{sanitizeExcelCell(c.Name), c.Leads, c.Qualified, c.Sales, c.Amount, c.Investment, c.CPL, c.CPLC})
	}
	return writeTable(f, st, SheetCampaigns, headers, colStyles, rows)
}

func writeAdvisors(f *excelize.File, st styles, snap services.Snapshot) error {
	headers := []string{"Asesor", "Ventas", "Monto"}
	colStyles := []int{st.text, st.text, st.currency}
	rows := make([][]any, 0, len(snap.Advisors))
	for _, a := range snap.Advisors {
		rows = append(rows, []any{sanitizeExcelCell(a.Name), a.Count, a.Amount})
	}
	return writeTable(f, st, SheetAdvisors, headers, colStyles, rows)
}

func writeSources(f *excelize.File, st styles, snap services.Snapshot) error {
	headers := []string{"Medio de contacto", "Leads", "Porcentaje"}
	colStyles := []int{st.text, st.text, st.percent}
	rows := make([][]any, 0, len(snap.Sources))
	for _, s := range snap.Sources {
		rows = append(rows, []any{sanitizeExcelCell(s.Name), s.Count, s.Share})
	}
	return writeTable(f, st, SheetSources, headers, colStyles, rows)
}

func writeTable(f *excelize.File, st styles, sheet string, headers []string, colStyles []int, rows [][]any) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetColWidth(sheet, "A", "A", 32)
	_ = f.SetColWidth(sheet, "B", lastCol, 14)

	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	_ = f.SetCellStyle(sheet, "A1", lastCol+"1", st.header)

	for i, row := range rows {
		start, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, start, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+2, err)
		}
		for c, style := range colStyles {
			cell, _ := excelize.CoordinatesToCellName(c+1, i+2)
			_ = f.SetCellStyle(sheet, cell, cell, style)
		}
	}
	return nil
}

// sanitizeExcelCell prefixes a quote to text that Excel would read as a
// formula.
func sanitizeExcelCell(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r', '|':
		return "'" + s
	}
	return s
}

func thinBorders() []excelize.Border {
	sides := []string{"left", "top", "bottom", "right"}
	borders := make([]excelize.Border, len(sides))
	for i, side := range sides {
		borders[i] = excelize.Border{Type: side, Color: "#BFBFBF", Style: 1}
	}
	return borders
}
