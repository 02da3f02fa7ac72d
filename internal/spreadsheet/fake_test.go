package spreadsheet

import (
	"context"
	"errors"
	"sync"

	"leadpipe/internal/sms"
)

// memorySheet is an in-memory Sheet with a fixed-size grid.
type memorySheet struct {
	mu          sync.Mutex
	rows        [][]string
	gridRows    int
	backgrounds map[int]Color
	appended    int
	failValues  error
	failWrite   error
	failPaint   error
}

func newMemorySheet(gridRows int, rows ...[]string) *memorySheet {
	return &memorySheet{
		rows:        rows,
		gridRows:    gridRows,
		backgrounds: map[int]Color{},
	}
}

func (m *memorySheet) Values(ctx context.Context) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failValues != nil {
		return nil, m.failValues
	}
	out := make([][]string, len(m.rows))
	for i, r := range m.rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

func (m *memorySheet) RowCount(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gridRows, nil
}

func (m *memorySheet) AppendRows(ctx context.Context, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gridRows += n
	m.appended += n
	return nil
}

func (m *memorySheet) WriteRow(ctx context.Context, row int, values []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return m.failWrite
	}
	if row > m.gridRows {
		return errors.New("row outside grid")
	}
	for len(m.rows) < row {
		m.rows = append(m.rows, nil)
	}
	m.rows[row-1] = append([]string(nil), values...)
	return nil
}

func (m *memorySheet) WriteCell(ctx context.Context, row, col int, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return m.failWrite
	}
	for len(m.rows) < row {
		m.rows = append(m.rows, nil)
	}
	for len(m.rows[row-1]) <= col {
		m.rows[row-1] = append(m.rows[row-1], "")
	}
	m.rows[row-1][col] = value
	return nil
}

func (m *memorySheet) SetRowBackground(ctx context.Context, row int, color Color) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPaint != nil {
		return m.failPaint
	}
	m.backgrounds[row] = color
	return nil
}

func (m *memorySheet) Row(n int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[n-1]
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sms.Message
	err  error
}

func (r *recordingSender) Send(ctx context.Context, msg sms.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) Sent() []sms.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sms.Message(nil), r.sent...)
}
