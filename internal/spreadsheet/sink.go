package spreadsheet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"leadpipe/internal/lead"
	"leadpipe/internal/logger"
	"leadpipe/internal/sms"
	"leadpipe/pkg/metrics"
	"leadpipe/pkg/retry"
)

const SinkName = "spreadsheet"

type Result struct {
	Duplicate bool `json:"duplicate"`
	Row       int  `json:"row,omitempty"`
	Alert     bool `json:"alert"`
	SMSSent   bool `json:"sms_sent"`
}

// LeadSink inserts a lead once per phone number and confirms it by SMS
// unless the alert rule flags it.
type LeadSink struct {
	sheet     Sheet
	sender    sms.Sender
	templater *sms.Templater
	alert     *AlertRule
	logger    logger.Logger

	// mu serializes the read-then-append sequence between the worker and
	// synchronous intake.
	mu sync.Mutex
}

func NewLeadSink(sheet Sheet, sender sms.Sender, templater *sms.Templater, alert *AlertRule, log logger.Logger) *LeadSink {
	return &LeadSink{
		sheet:     sheet,
		sender:    sender,
		templater: templater,
		alert:     alert,
		logger:    log,
	}
}

func (s *LeadSink) Name() string { return SinkName }

// Deliver decodes a queued lead. An undecodable payload is fatal.
func (s *LeadSink) Deliver(ctx context.Context, payload json.RawMessage) error {
	var r lead.Record
	if err := json.Unmarshal(payload, &r); err != nil {
		return retry.NewFatalError(fmt.Errorf("decode lead: %w", err))
	}
	_, err := s.DeliverLead(ctx, r)
	return err
}

// DeliverLead is idempotent per phone. Only failures to read the sheet or to
// write the row are returned; formatting and SMS failures are logged.
func (s *LeadSink) DeliverLead(ctx context.Context, r lead.Record) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.sheet.Values(ctx)
	if err != nil {
		metrics.IncSpreadsheetRow("error")
		return Result{}, fmt.Errorf("read sheet: %w", err)
	}

	if existing := FindPhone(values, r.Phone); existing > 0 {
		metrics.IncSpreadsheetRow("duplicate")
		s.logger.InfowCtx(ctx, "Lead already in sheet", "row", existing)
		return Result{Duplicate: true, Row: existing}, nil
	}

	row := NextFreeRow(values)
	if err := s.ensureRows(ctx, row); err != nil {
		metrics.IncSpreadsheetRow("error")
		return Result{}, err
	}

	if err := s.sheet.SetRowBackground(ctx, row, Neutral); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to reset row background", "row", row, "error", err)
	}

	if err := s.sheet.WriteRow(ctx, row, BuildRow(r)); err != nil {
		metrics.IncSpreadsheetRow("error")
		return Result{}, fmt.Errorf("write row %d: %w", row, err)
	}
	metrics.IncSpreadsheetRow("inserted")

	result := Result{Row: row}

	alert, err := s.alert.Matches(ctx, r)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Alert rule evaluation failed", "rule", s.alert.String(), "error", err)
	}
	if alert {
		result.Alert = true
		if err := s.sheet.SetRowBackground(ctx, row, Alert); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to highlight row", "row", row, "error", err)
		}
		s.logger.InfowCtx(ctx, "Lead inserted and highlighted",
			"row", row,
			"dwelling_type", r.DwellingType,
			"ownership_status", r.OwnershipStatus,
		)
		return result, nil
	}

	result.SMSSent = s.confirm(ctx, r)
	s.logger.InfowCtx(ctx, "Lead inserted", "row", row, "sms_sent", result.SMSSent)
	return result, nil
}

func (s *LeadSink) ensureRows(ctx context.Context, row int) error {
	count, err := s.sheet.RowCount(ctx)
	if err != nil {
		return fmt.Errorf("read grid size: %w", err)
	}
	if row <= count {
		return nil
	}
	if err := s.sheet.AppendRows(ctx, row-count); err != nil {
		return fmt.Errorf("grow grid to %d rows: %w", row, err)
	}
	return nil
}

func (s *LeadSink) confirm(ctx context.Context, r lead.Record) bool {
	msg, err := s.templater.Compose(r)
	if err != nil {
		metrics.IncSMSSent("failure")
		s.logger.ErrorwCtx(ctx, "Failed to compose SMS", "error", err)
		return false
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		metrics.IncSMSSent("failure")
		s.logger.ErrorwCtx(ctx, "Failed to send SMS", "error", err)
		return false
	}
	metrics.IncSMSSent("success")
	return true
}
