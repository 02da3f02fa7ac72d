// Package spreadsheet appends leads to the shared lead sheet and handles
// unsubscribe requests against it.
package spreadsheet

import "context"

// Color is an RGB background with components in [0,1].
type Color struct {
	Red   float64 `json:"red"`
	Green float64 `json:"green"`
	Blue  float64 `json:"blue"`
}

var (
	Neutral = Color{Red: 1, Green: 1, Blue: 1}
	Alert   = Color{Red: 0.96, Green: 0.8, Blue: 0.8}
)

// Sheet is the worksheet the sinks operate on. Rows and columns are 1-based
// and 0-based respectively, as in the layout constants.
type Sheet interface {
	// Values returns every non-empty row from the top of the sheet. Rows may
	// be shorter than the layout.
	Values(ctx context.Context) ([][]string, error)
	// RowCount is the size of the grid, used or not.
	RowCount(ctx context.Context) (int, error)
	AppendRows(ctx context.Context, n int) error
	WriteRow(ctx context.Context, row int, values []string) error
	WriteCell(ctx context.Context, row, col int, value string) error
	SetRowBackground(ctx context.Context, row int, color Color) error
}
