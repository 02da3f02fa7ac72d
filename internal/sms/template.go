package sms

import (
	"fmt"

	"github.com/osteele/liquid"

	"leadpipe/internal/constants"
	"leadpipe/internal/lead"
)

// Templater renders the confirmation text for a lead. Bindings are the
// lead's JSON field names.
type Templater struct {
	tpl *liquid.Template
}

// NewTemplater parses source once; an empty source selects the default
// confirmation text.
func NewTemplater(source string) (*Templater, error) {
	if source == "" {
		source = constants.DefaultSMSTemplate
	}
	tpl, err := liquid.NewEngine().ParseString(source)
	if err != nil {
		return nil, fmt.Errorf("parse sms template: %w", err)
	}
	return &Templater{tpl: tpl}, nil
}

func (t *Templater) Render(r lead.Record) (string, error) {
	out, err := t.tpl.RenderString(liquid.Bindings(r.Fields()))
	if err != nil {
		return "", fmt.Errorf("render sms template: %w", err)
	}
	return out, nil
}

// Compose builds the message for r, addressed to the lead's phone.
func (t *Templater) Compose(r lead.Record) (Message, error) {
	text, err := t.Render(r)
	if err != nil {
		return Message{}, err
	}
	return Message{To: r.Phone, Text: text}, nil
}
