package lead

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	tokenHouse     = "maison"
	tokenApartment = "appartement"
	tokenOwner     = "proprietaire"
	tokenTenant    = "locataire"
)

var folder = cases.Fold()

// fold lowercases s and strips combining marks so "Propriétaire" and
// "PROPRIETAIRE" compare equal.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return folder.String(strings.TrimSpace(stripped))
}

// ClassifyDwelling maps free text to LabelHouse, LabelApartment or "".
func ClassifyDwelling(text string) string {
	f := fold(text)
	switch {
	case strings.Contains(f, tokenHouse):
		return LabelHouse
	case strings.Contains(f, tokenApartment):
		return LabelApartment
	default:
		return ""
	}
}

// ClassifyOwnership maps free text to LabelOwner, LabelTenant or "".
func ClassifyOwnership(text string) string {
	f := fold(text)
	switch {
	case strings.Contains(f, tokenOwner):
		return LabelOwner
	case strings.Contains(f, tokenTenant):
		return LabelTenant
	default:
		return ""
	}
}

// ClassifyCombined derives both labels from a single answer such as
// "Propriétaire d'une maison". Unmatched families stay empty and the
// original text is not kept.
func ClassifyCombined(text string) (dwelling, ownership string) {
	return ClassifyDwelling(text), ClassifyOwnership(text)
}

// dwellingFromCode maps the enumerated flat codes "maison" and "appartement".
func dwellingFromCode(code string) string {
	switch fold(code) {
	case tokenHouse:
		return LabelHouse
	case tokenApartment:
		return LabelApartment
	default:
		return ""
	}
}

// ownershipFromCode maps the enumerated flat codes "proprietaire" and
// "locataire".
func ownershipFromCode(code string) string {
	switch fold(code) {
	case tokenOwner:
		return LabelOwner
	case tokenTenant:
		return LabelTenant
	default:
		return ""
	}
}
