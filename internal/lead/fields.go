package lead

import (
	"encoding/json"
	"strconv"
	"strings"
)

// CanonicalField names a Record attribute that several inbound key spellings
// map onto.
type CanonicalField string

const (
	FieldPhone      CanonicalField = "phone"
	FieldFirstName  CanonicalField = "first_name"
	FieldLastName   CanonicalField = "last_name"
	FieldEmail      CanonicalField = "email"
	FieldPostalCode CanonicalField = "postal_code"
	FieldSalutation CanonicalField = "salutation"
	FieldSource     CanonicalField = "source"
	FieldDossier    CanonicalField = "dossier_code"
	FieldCohort     CanonicalField = "cohort"
	FieldSubmitted  CanonicalField = "submitted_at"
	FieldDwelling   CanonicalField = "dwelling_type"
	FieldOwnership  CanonicalField = "ownership_status"
)

// fieldAliases lists, per canonical field, the inbound key spellings in
// priority order. Keys are compared lowercased.
var fieldAliases = []struct {
	field CanonicalField
	keys  []string
}{
	{FieldPhone, []string{"telephone", "téléphone", "phone", "tel", "phone_number", "mobile"}},
	{FieldFirstName, []string{"prenom", "prénom", "first_name", "firstname"}},
	{FieldLastName, []string{"nom", "last_name", "lastname"}},
	{FieldEmail, []string{"email", "mail"}},
	{FieldPostalCode, []string{"code_postal", "zipcode", "zip", "postal_code", "cp"}},
	{FieldSalutation, []string{"civilite", "civilité", "salutation", "title"}},
	{FieldSource, []string{"utm_source", "source"}},
	{FieldDossier, []string{"code", "code_dossier", "dossier"}},
	{FieldCohort, []string{"cohort"}},
	{FieldSubmitted, []string{"submitted_at", "date", "timestamp", "date_submitted"}},
	{FieldDwelling, []string{"type_habitation", "dwelling_type", "logement"}},
	{FieldOwnership, []string{"statut_habitation", "ownership_status", "statut"}},
}

// mapFields resolves every recognised key of a flat object.
func mapFields(flat map[string]interface{}) map[CanonicalField]string {
	lowered := lowerKeys(flat)
	out := make(map[CanonicalField]string)
	for _, alias := range fieldAliases {
		for _, key := range alias.keys {
			if val := Stringify(lowered[key]); val != "" {
				out[alias.field] = val
				break
			}
		}
	}
	return out
}

func lowerKeys(m map[string]interface{}) map[string]interface{} {
	lowered := make(map[string]interface{}, len(m))
	for k, v := range m {
		k = strings.ToLower(strings.TrimSpace(k))
		if _, exists := lowered[k]; !exists || Stringify(lowered[k]) == "" {
			lowered[k] = v
		}
	}
	return lowered
}

// Stringify renders a JSON scalar as trimmed text. Single-element arrays, as
// posted by Unbounce, are unwrapped. Anything else yields "".
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case []interface{}:
		if len(val) == 1 {
			return Stringify(val[0])
		}
		return ""
	case []string:
		if len(val) == 1 {
			return strings.TrimSpace(val[0])
		}
		return ""
	default:
		return ""
	}
}

// Lookup returns the first non-empty value among keys, searching the top
// level of payload and then the typeform hidden fields. Keys match
// case-insensitively.
func Lookup(payload map[string]interface{}, keys ...string) string {
	sources := []map[string]interface{}{payload}
	if hidden := hiddenFields(payload); hidden != nil {
		sources = append(sources, hidden)
	}

	for _, src := range sources {
		lowered := lowerKeys(src)
		for _, key := range keys {
			if val := Stringify(lowered[strings.ToLower(key)]); val != "" {
				return val
			}
		}
	}
	return ""
}

func formResponse(payload map[string]interface{}) map[string]interface{} {
	fr, _ := payload["form_response"].(map[string]interface{})
	return fr
}

func hiddenFields(payload map[string]interface{}) map[string]interface{} {
	fr := formResponse(payload)
	if fr == nil {
		return nil
	}
	hidden, _ := fr["hidden"].(map[string]interface{})
	return hidden
}

func answerList(payload map[string]interface{}) []map[string]interface{} {
	raw, ok := payload["answers"].([]interface{})
	if fr := formResponse(payload); fr != nil {
		if nested, ok2 := fr["answers"].([]interface{}); ok2 {
			raw, ok = nested, true
		}
	}
	if !ok {
		return nil
	}

	answers := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			answers = append(answers, m)
		}
	}
	return answers
}

// answerText extracts the human readable value of a typeform answer.
func answerText(answer map[string]interface{}) string {
	switch Stringify(answer["type"]) {
	case "choice":
		if choice, ok := answer["choice"].(map[string]interface{}); ok {
			if label := Stringify(choice["label"]); label != "" {
				return label
			}
			return Stringify(choice["other"])
		}
	case "choices":
		if choices, ok := answer["choices"].(map[string]interface{}); ok {
			if labels, ok := choices["labels"].([]interface{}); ok {
				parts := make([]string, 0, len(labels))
				for _, l := range labels {
					if s := Stringify(l); s != "" {
						parts = append(parts, s)
					}
				}
				return strings.Join(parts, " ")
			}
		}
	case "phone_number":
		return Stringify(answer["phone_number"])
	case "email":
		return Stringify(answer["email"])
	case "text", "long_text", "short_text":
		return Stringify(answer["text"])
	}
	return Stringify(answer["text"])
}
