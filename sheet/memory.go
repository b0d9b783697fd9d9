package sheet

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Memory is an in-process Client used by tests and local development runs. It
// mirrors the remote store's semantics: no cross-call atomicity, 1-based row
// addressing, string cells.
type Memory struct {
	mu   sync.Mutex
	tabs map[string][][]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tabs: make(map[string][][]string)}
}

// Seed replaces the named tab with the supplied rows.
func (m *Memory) Seed(tab string, rows ...[]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([][]string, 0, len(rows))
	for _, row := range rows {
		copied = append(copied, append([]string(nil), row...))
	}
	m.tabs[tab] = copied
}

// Rows returns a copy of the named tab's rows.
func (m *Memory) Rows(tab string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.tabs[tab]
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, append([]string(nil), row...))
	}
	return out
}

func parseRangeSpec(spec string) (tab string, startRow, endRow int, err error) {
	parts := strings.SplitN(spec, "!", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", 0, 0, fmt.Errorf("sheet: malformed range %q", spec)
	}
	tab = parts[0]
	bounds := strings.SplitN(parts[1], ":", 2)
	if len(bounds) != 2 {
		return "", 0, 0, fmt.Errorf("sheet: malformed range %q", spec)
	}
	startRow = cellRow(bounds[0])
	endRow = cellRow(bounds[1])
	return tab, startRow, endRow, nil
}

// cellRow extracts the 1-based row index of a cell reference, or 0 when the
// reference is a bare column letter.
func cellRow(cell string) int {
	digits := strings.TrimLeft(cell, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	if digits == "" {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0
	}
	return n
}

// ReadRange returns the rows covered by the range spec.
func (m *Memory) ReadRange(_ context.Context, rangeSpec string) ([][]string, error) {
	tab, startRow, endRow, err := parseRangeSpec(rangeSpec)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.tabs[tab]
	if startRow == 0 {
		startRow = 1
	}
	if endRow == 0 || endRow > len(rows) {
		endRow = len(rows)
	}
	if startRow > len(rows) {
		return nil, nil
	}
	out := make([][]string, 0, endRow-startRow+1)
	for _, row := range rows[startRow-1 : endRow] {
		out = append(out, append([]string(nil), row...))
	}
	return out, nil
}

// AppendRow appends a row to the named tab, creating the tab when absent.
func (m *Memory) AppendRow(_ context.Context, table string, row []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tabs[table] = append(m.tabs[table], append([]string(nil), row...))
	return nil
}

// UpdateRange overwrites rows starting at the range's first row, growing the
// tab when the range extends past its current end.
func (m *Memory) UpdateRange(_ context.Context, rangeSpec string, rows [][]string) error {
	tab, startRow, _, err := parseRangeSpec(rangeSpec)
	if err != nil {
		return err
	}
	if startRow == 0 {
		startRow = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.tabs[tab]
	for i, row := range rows {
		idx := startRow - 1 + i
		for idx >= len(existing) {
			existing = append(existing, nil)
		}
		existing[idx] = append([]string(nil), row...)
	}
	m.tabs[tab] = existing
	return nil
}
