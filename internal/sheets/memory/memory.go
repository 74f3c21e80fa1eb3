package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ventas/internal/core"
	"ventas/internal/months"
	"ventas/internal/sheets"
)

// Store serves month rows from memory, optionally seeded from CSV fixtures
// named after the month key (e.g. data/octubre.csv).
type Store struct {
	mu   sync.RWMutex
	dir  string
	rows map[string][]core.Row
}

var _ sheets.RowSource = (*Store)(nil)

func New() *Store {
	return &Store{rows: map[string][]core.Row{}}
}

// NewFromFiles serves fixtures from base. Files are read on every fetch so
// edits show up after a refresh.
func NewFromFiles(base string) *Store {
	s := New()
	s.dir = base
	return s
}

// Set replaces the rows returned for a month key.
func (s *Store) Set(key string, rows []core.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[key] = append([]core.Row(nil), rows...)
}

func (s *Store) FetchRows(ctx context.Context, month months.Month) ([]core.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !month.Available {
		return nil, fmt.Errorf("%w: %s", sheets.ErrMonthUnavailable, month.Key)
	}

	s.mu.RLock()
	rows, ok := s.rows[month.Key]
	s.mu.RUnlock()
	if ok {
		return append([]core.Row(nil), rows...), nil
	}
	if s.dir == "" {
		return nil, nil
	}

	f, err := os.Open(filepath.Join(s.dir, month.Key+".csv"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()
	return sheets.ParseCSV(f)
}
