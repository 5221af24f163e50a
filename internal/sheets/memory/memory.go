package memory

import (
	"context"
	"fmt"
	"sync"

	ports "fintrack/internal/sheets"
)

// Store keeps journal rows in memory. It backs local runs without Google
// credentials and the worker tests.
type Store struct {
	mu   sync.Mutex
	rows []ports.JournalRow
}

var (
	_ ports.JournalWriter = (*Store)(nil)
	_ ports.JournalReader = (*Store)(nil)
)

func New() *Store {
	return &Store{}
}

// Append stores the rows and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, rows ...ports.JournalRow) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// ListJournal returns the rows of one year in insertion order.
func (s *Store) ListJournal(_ context.Context, year int) ([]ports.JournalRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.JournalRow
	for _, r := range s.rows {
		if r.Year() == year {
			out = append(out, r)
		}
	}
	return out, nil
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []ports.JournalRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.JournalRow(nil), s.rows...)
}
