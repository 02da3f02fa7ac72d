package lead

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// InterestTable maps an agent to the department codes it covers.
type InterestTable map[string][]string

// DefaultInterestTable is used when no interests are configured.
func DefaultInterestTable() InterestTable {
	return InterestTable{
		"Agence Île-de-France":        {"75", "77", "78", "91", "92", "93", "94", "95"},
		"Agence Hauts-de-France":      {"02", "59", "60", "62", "80"},
		"Agence Auvergne-Rhône-Alpes": {"01", "07", "26", "38", "42", "69", "73", "74"},
		"Agence Occitanie":            {"11", "30", "31", "34", "66", "81", "82"},
		"Agence Provence":             {"04", "05", "06", "13", "83", "84"},
		"Agence Nouvelle-Aquitaine":   {"16", "17", "24", "33", "40", "47", "64"},
	}
}

// Match returns the agents covering dept, sorted by name.
func (t InterestTable) Match(dept string) []string {
	if dept == "" {
		return nil
	}

	var agents []string
	for agent, depts := range t {
		for _, d := range depts {
			if d == dept {
				agents = append(agents, agent)
				break
			}
		}
	}
	sort.Strings(agents)
	return agents
}

// Annotate returns the comma-joined Match result.
func (t InterestTable) Annotate(dept string) string {
	return strings.Join(t.Match(dept), ",")
}

// PadPostalCode restores the leading zero that spreadsheets and numeric form
// fields drop from four-character postal codes.
func PadPostalCode(postal string) string {
	postal = strings.TrimSpace(postal)
	if utf8.RuneCountInString(postal) == 4 {
		return "0" + postal
	}
	return postal
}

// Department is the first two characters of the padded postal code, or ""
// when there is no postal code.
func Department(postal string) string {
	runes := []rune(PadPostalCode(postal))
	if len(runes) < 2 {
		return string(runes)
	}
	return string(runes[:2])
}
