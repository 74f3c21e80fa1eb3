package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
	}{
		{"plain", "100", 100},
		{"decimal", "1234.56", 1234.56},
		{"leading blanks", "  42.5", 42.5},
		{"trailing text", "120.5 soles", 120.5},
		{"comma stops number", "1,500", 1},
		{"leading dot", ".5", 0.5},
		{"trailing dot", "7.", 7},
		{"negative", "-3", -3},
		{"exponent", "1e3", 1000},
		{"dangling exponent", "2e", 2},
		{"currency prefix", "S/ 100", 0},
		{"empty", "", 0},
		{"sign only", "-", 0},
		{"dot only", ".", 0},
		{"overflow", "1e400", 0},
		{"float", 99.9, 99.9},
		{"int", 12, 12},
		{"nil", nil, 0},
		{"bool", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAmount(tt.in))
		})
	}
}

func TestRow_Text(t *testing.T) {
	r := Row{"s": "hola", "f": 1500.0, "g": 0.25, "i": 3}
	assert.Equal(t, "hola", r.Text("s"))
	assert.Equal(t, "1500", r.Text("f"))
	assert.Equal(t, "0.25", r.Text("g"))
	assert.Equal(t, "3", r.Text("i"))
	assert.Equal(t, "", r.Text("missing"))
}

func TestRow_Text_ZeroIsBlank(t *testing.T) {
	r := Row{"f": 0.0, "i": 0, "b": false, "t": true}
	assert.Equal(t, "", r.Text("f"))
	assert.Equal(t, "", r.Text("i"))
	assert.Equal(t, "", r.Text("b"))
	assert.Equal(t, "true", r.Text("t"))
}

func TestFilterByCampaign(t *testing.T) {
	rows := []Row{
		{ColCampaign: "A"},
		{ColCampaign: "   "},
		{ColCampaign: ""},
		{ColSale: "Sí"},
		{ColCampaign: " B "},
		{ColCampaign: 2024.0},
	}
	got := FilterByCampaign(rows)
	assert.Len(t, got, 3)
	assert.Equal(t, "A", got[0].Campaign())
	assert.Equal(t, " B ", got[1].Campaign())
	assert.Equal(t, "2024", got[2].Campaign())

	assert.Empty(t, FilterByCampaign(nil))
}
