// Package months holds the table that maps a month key to the sheet tab
// carrying its leads.
package months

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// PendingGID marks a month whose sheet tab has not been created yet.
const PendingGID = "PENDIENTE"

var (
	ErrUnknownMonth = errors.New("unknown month")
	ErrNoMonths     = errors.New("month table is empty")
)

// Month is one entry of the table.
type Month struct {
	Key       string `toml:"key" json:"key"`
	SheetGID  string `toml:"gid" json:"gid"`
	Name      string `toml:"name" json:"name"`
	Available bool   `toml:"available" json:"available"`
}

// Table is an ordered month table; order drives the dashboard tabs.
type Table struct {
	months []Month
}

// DefaultTable returns the months the dashboard ships with.
func DefaultTable() *Table {
	t, _ := NewTable([]Month{
		{Key: "octubre", SheetGID: "1351719326", Name: "Octubre", Available: true},
		{Key: "noviembre", SheetGID: PendingGID, Name: "Noviembre", Available: false},
		{Key: "diciembre", SheetGID: PendingGID, Name: "Diciembre", Available: false},
	})
	return t
}

// NewTable validates and normalizes entries: keys are lowercased, names
// default to the key and a pending gid can never be available.
func NewTable(entries []Month) (*Table, error) {
	if len(entries) == 0 {
		return nil, ErrNoMonths
	}
	seen := make(map[string]struct{}, len(entries))
	out := make([]Month, 0, len(entries))
	for i, m := range entries {
		m.Key = strings.ToLower(strings.TrimSpace(m.Key))
		m.SheetGID = strings.TrimSpace(m.SheetGID)
		m.Name = strings.TrimSpace(m.Name)
		if m.Key == "" {
			return nil, fmt.Errorf("month #%d: empty key", i+1)
		}
		if _, dup := seen[m.Key]; dup {
			return nil, fmt.Errorf("month %q: duplicate key", m.Key)
		}
		seen[m.Key] = struct{}{}
		if m.Name == "" {
			m.Name = m.Key
		}
		if m.SheetGID == "" || m.SheetGID == PendingGID {
			m.SheetGID = PendingGID
			m.Available = false
		}
		out = append(out, m)
	}
	return &Table{months: out}, nil
}

type tableFile struct {
	Months []Month `toml:"months"`
}

// LoadFile reads a table from a TOML file with [[months]] entries.
func LoadFile(path string) (*Table, error) {
	var f tableFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("decode month table %s: %w", path, err)
	}
	return NewTable(f.Months)
}

// Parse reads a table from TOML text.
func Parse(data string) (*Table, error) {
	var f tableFile
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("decode month table: %w", err)
	}
	return NewTable(f.Months)
}

// All returns a copy of the table in display order.
func (t *Table) All() []Month {
	return append([]Month(nil), t.months...)
}

// Available returns the months that have a sheet tab.
func (t *Table) Available() []Month {
	var out []Month
	for _, m := range t.months {
		if m.Available {
			out = append(out, m)
		}
	}
	return out
}

// Lookup finds a month by key, ignoring case and surrounding blanks.
func (t *Table) Lookup(key string) (Month, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, m := range t.months {
		if m.Key == key {
			return m, nil
		}
	}
	return Month{}, fmt.Errorf("%w: %q", ErrUnknownMonth, key)
}

// Default is the first available month, or the first entry when none is.
func (t *Table) Default() Month {
	for _, m := range t.months {
		if m.Available {
			return m
		}
	}
	return t.months[0]
}
