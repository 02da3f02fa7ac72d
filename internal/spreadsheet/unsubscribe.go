package spreadsheet

import (
	"context"
	"fmt"

	"leadpipe/internal/logger"
	"leadpipe/pkg/metrics"
)

type Unsubscriber struct {
	sheet  Sheet
	logger logger.Logger
}

func NewUnsubscriber(sheet Sheet, log logger.Logger) *Unsubscriber {
	return &Unsubscriber{sheet: sheet, logger: log}
}

// Unsubscribe marks the row holding phone. A phone that is not in the sheet
// is reported through found, not as an error.
func (u *Unsubscriber) Unsubscribe(ctx context.Context, phone string) (found bool, row int, err error) {
	values, err := u.sheet.Values(ctx)
	if err != nil {
		metrics.IncUnsubscribe("error")
		return false, 0, fmt.Errorf("read sheet: %w", err)
	}

	row = FindPhone(values, phone)
	if row == 0 {
		metrics.IncUnsubscribe("not_found")
		u.logger.InfowCtx(ctx, "Phone to unsubscribe not found")
		return false, 0, nil
	}

	if err := u.sheet.WriteCell(ctx, row, ColStatus, UnsubscribedMarker); err != nil {
		metrics.IncUnsubscribe("error")
		return true, row, fmt.Errorf("mark row %d: %w", row, err)
	}
	if err := u.sheet.SetRowBackground(ctx, row, Alert); err != nil {
		u.logger.WarnwCtx(ctx, "Failed to highlight unsubscribed row", "row", row, "error", err)
	}

	metrics.IncUnsubscribe("unsubscribed")
	u.logger.InfowCtx(ctx, "Lead unsubscribed", "row", row)
	return true, row, nil
}
