// Package warehouse writes one analytical row per accepted lead.
package warehouse

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"leadpipe/internal/lead"
)

const (
	maxFieldLen     = 1000
	maxAnswerLen    = 50
	maxAnalyticsLen = 4000

	rawContentKey = "raw_content"
)

// Columns lists the insert columns in Row.Values order.
var Columns = []string{
	"phone", "first_name", "last_name", "email", "postal_code",
	"department", "salutation", "utm_source", "utm_medium", "utm_campaign",
	"dossier_code", "cohort", "dwelling_type", "ownership_status", "heating_type",
	"interests", "page_url", "user_agent", "submitted_at", "analytics",
}

type Row struct {
	Phone           string `json:"phone"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	PostalCode      string `json:"postal_code"`
	Department      string `json:"department"`
	Salutation      string `json:"salutation"`
	UTMSource       string `json:"utm_source"`
	UTMMedium       string `json:"utm_medium"`
	UTMCampaign     string `json:"utm_campaign"`
	DossierCode     string `json:"dossier_code"`
	Cohort          string `json:"cohort"`
	DwellingType    string `json:"dwelling_type"`
	OwnershipStatus string `json:"ownership_status"`
	HeatingType     string `json:"heating_type"`
	Interests       string `json:"interests"`
	PageURL         string `json:"page_url"`
	UserAgent       string `json:"user_agent"`
	SubmittedAt     string `json:"submitted_at"`
	Analytics       string `json:"analytics"`
}

func (r Row) Values() []interface{} {
	return []interface{}{
		r.Phone, r.FirstName, r.LastName, r.Email, r.PostalCode,
		r.Department, r.Salutation, r.UTMSource, r.UTMMedium, r.UTMCampaign,
		r.DossierCode, r.Cohort, r.DwellingType, r.OwnershipStatus, r.HeatingType,
		r.Interests, r.PageURL, r.UserAgent, r.SubmittedAt, r.Analytics,
	}
}

// RequestMeta is what the server knows about the request beyond its body.
type RequestMeta struct {
	RemoteAddr     string
	ForwardedFor   string
	AcceptLanguage string
	UserAgent      string
	ReceivedAt     time.Time
}

func MetaFromRequest(r *http.Request, receivedAt time.Time) RequestMeta {
	return RequestMeta{
		RemoteAddr:     r.RemoteAddr,
		ForwardedFor:   r.Header.Get("X-Forwarded-For"),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		UserAgent:      r.UserAgent(),
		ReceivedAt:     receivedAt.UTC(),
	}
}

// ClientIP is the first X-Forwarded-For hop, else the socket address.
func (m RequestMeta) ClientIP() string {
	if m.ForwardedFor != "" {
		first := strings.TrimSpace(strings.Split(m.ForwardedFor, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(m.RemoteAddr)
	if err != nil {
		return m.RemoteAddr
	}
	return host
}

// BuildRow combines the normalized record with fields only the warehouse
// keeps. Every field is truncated to its column width.
func BuildRow(payload map[string]interface{}, rec lead.Record, meta RequestMeta) Row {
	heating := lead.Lookup(payload, "chauffage", "type_chauffage", "heating_type")
	if heating == "" {
		if answers := lead.Answers(payload); len(answers) > 2 {
			heating = answers[2]
		}
	}
	userAgent := meta.UserAgent
	if userAgent == "" {
		userAgent = lead.Lookup(payload, "user_agent")
	}

	return Row{
		Phone:           truncate(rec.Phone, maxFieldLen),
		FirstName:       truncate(rec.FirstName, maxFieldLen),
		LastName:        truncate(rec.LastName, maxFieldLen),
		Email:           truncate(rec.Email, maxFieldLen),
		PostalCode:      truncate(rec.PostalCode, maxFieldLen),
		Department:      truncate(rec.Department, maxFieldLen),
		Salutation:      truncate(rec.Salutation, maxFieldLen),
		UTMSource:       truncate(rec.Source, maxFieldLen),
		UTMMedium:       truncate(lead.Lookup(payload, "utm_medium"), maxFieldLen),
		UTMCampaign:     truncate(lead.Lookup(payload, "utm_campaign"), maxFieldLen),
		DossierCode:     truncate(rec.DossierCode, maxFieldLen),
		Cohort:          truncate(rec.Cohort, maxFieldLen),
		DwellingType:    truncate(rec.DwellingType, maxAnswerLen),
		OwnershipStatus: truncate(rec.OwnershipStatus, maxAnswerLen),
		HeatingType:     truncate(heating, maxAnswerLen),
		Interests:       truncate(rec.Interests, maxFieldLen),
		PageURL:         truncate(lead.Lookup(payload, "page_url", "landing_page", "url"), maxFieldLen),
		UserAgent:       truncate(userAgent, maxFieldLen),
		SubmittedAt:     truncate(rec.SubmittedAt, maxFieldLen),
		Analytics:       BuildAnalytics(payload["analytics"], meta),
	}
}

// BuildAnalytics serializes the caller's analytics with server-side fields
// added. The result is always a JSON object no longer than the column.
func BuildAnalytics(raw interface{}, meta RequestMeta) string {
	blob := map[string]interface{}{}
	switch v := raw.(type) {
	case nil:
	case map[string]interface{}:
		for k, val := range v {
			blob[k] = val
		}
	case string:
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(v), &parsed); err == nil && parsed != nil {
			blob = parsed
		} else if v != "" {
			blob[rawContentKey] = v
		}
	default:
		blob[rawContentKey] = raw
	}

	blob["ip"] = meta.ClientIP()
	blob["accept_language"] = meta.AcceptLanguage
	blob["received_at"] = meta.ReceivedAt.UTC().Format(time.RFC3339)

	data, err := json.Marshal(blob)
	if err == nil && utf8.RuneCount(data) <= maxAnalyticsLen {
		return string(data)
	}

	// Too long: keep the server fields and as much of the serialized blob
	// as fits under raw_content.
	original := string(data)
	budget := maxAnalyticsLen
	for {
		envelope := map[string]interface{}{
			"ip":              truncate(meta.ClientIP(), maxAnswerLen),
			"accept_language": truncate(meta.AcceptLanguage, maxAnswerLen),
			"received_at":     meta.ReceivedAt.UTC().Format(time.RFC3339),
			"truncated":       true,
			rawContentKey:     truncate(original, budget),
		}
		out, _ := json.Marshal(envelope)
		n := utf8.RuneCount(out)
		if n <= maxAnalyticsLen || budget == 0 {
			return string(out)
		}
		budget -= n - maxAnalyticsLen
		if budget < 0 {
			budget = 0
		}
	}
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
