package core

import (
	"math"
	"strconv"
	"strings"
)

// Column headers of the monthly sales sheet.
const (
	ColCampaign  = "Campaña"
	ColSale      = "¿Venta?"
	ColAmount    = "Monto Venta"
	ColQualified = "¿Lead calificado?"
	ColReserved  = "¿Reservó?"
	ColAdvisor   = "Asesor"
	ColSource    = "Medio de contacto"
)

// Fallback group names for rows without an advisor or a contact source.
const (
	DefaultAdvisor = "Sin asignar"
	DefaultSource  = "Desconocido"
)

// Row is a single sheet record keyed by column header.
// Values are either string or float64; numeric cells are typed by the reader.
type Row map[string]any

// Text returns the cell as a string. Numbers use the shortest decimal form.
// Missing cells, numeric zero and false yield "" so they fall back to the
// default labels like a blank cell.
func (r Row) Text(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == 0 || math.IsNaN(v) {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		if v == 0 {
			return ""
		}
		return strconv.Itoa(v)
	case int64:
		if v == 0 {
			return ""
		}
		return strconv.FormatInt(v, 10)
	case bool:
		if !v {
			return ""
		}
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Flag reports whether the cell holds one of the affirmative literals.
func (r Row) Flag(col string) bool {
	return IsYes(r[col])
}

// Amount returns the sale amount of the row, 0 when it is not numeric.
func (r Row) Amount() float64 {
	return ParseAmount(r[ColAmount])
}

// Campaign returns the raw campaign label, untrimmed.
func (r Row) Campaign() string {
	return r.Text(ColCampaign)
}

// HasCampaign reports whether the campaign cell is non-blank after trimming.
func (r Row) HasCampaign() bool {
	return strings.TrimSpace(r.Campaign()) != ""
}

// FilterByCampaign keeps the rows that carry a campaign label, preserving order.
func FilterByCampaign(rows []Row) []Row {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if row.HasCampaign() {
			out = append(out, row)
		}
	}
	return out
}

// IsYes matches exactly "Sí", "SI" and "Si". Lowercase "sí" and non-string
// values are not affirmative.
func IsYes(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	switch s {
	case "Sí", "SI", "Si":
		return true
	}
	return false
}

// ParseAmount coerces a cell to a finite float. Strings are read the way a
// spreadsheet export is usually consumed: leading blanks are skipped and the
// longest decimal prefix is used ("120.5 soles" -> 120.5). Anything else is 0.
func ParseAmount(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		f = parseFloatPrefix(x)
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func parseFloatPrefix(s string) float64 {
	s = strings.TrimLeft(s, " \t\n\r\v\f ")
	end := decimalPrefixLen(s)
	if end == 0 {
		return 0
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return f
}

// decimalPrefixLen returns the length of the longest prefix of s matching
// [+-]?(digits[.digits]?|.digits)([eE][+-]?digits)?, or 0 if none.
func decimalPrefixLen(s string) int {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		j := i + 1
		frac := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			frac++
		}
		if digits > 0 || frac > 0 {
			i = j
			digits += frac
		}
	}
	if digits == 0 {
		return 0
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		exp := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			exp++
		}
		if exp > 0 {
			i = j
		}
	}
	return i
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
