// Package sms sends the confirmation text a lead receives after a
// successful spreadsheet insert.
package sms

import (
	"context"
	"errors"
)

var ErrNotConfigured = errors.New("sms sender is not configured")

type Message struct {
	To   string
	Text string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NopSender stands in when no SMS credentials are configured.
type NopSender struct{}

func (NopSender) Send(ctx context.Context, msg Message) error {
	return ErrNotConfigured
}
