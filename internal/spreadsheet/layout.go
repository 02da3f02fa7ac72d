package spreadsheet

import (
	"strings"

	"leadpipe/internal/lead"
)

// Column positions, 0-based.
const (
	ColDwelling = iota
	ColOwnership
	ColSalutation
	ColLastName
	ColFirstName
	ColPhone
	ColEmail
	ColPostalCode
	ColDossier
	ColSource
	ColStatus
	ColDate
	ColDepartment
	ColInterests

	ColumnCount
)

const (
	DateLayout         = "02/01/2006 15:04"
	UnsubscribedMarker = "DÉSINSCRIT"
)

// BuildRow lays a record out across the sheet columns. The status column is
// left blank for the unsubscribe flow.
func BuildRow(r lead.Record) []string {
	row := make([]string, ColumnCount)
	row[ColDwelling] = r.DwellingType
	row[ColOwnership] = r.OwnershipStatus
	row[ColSalutation] = r.Salutation
	row[ColLastName] = r.LastName
	row[ColFirstName] = r.FirstName
	row[ColPhone] = r.Phone
	row[ColEmail] = r.Email
	row[ColPostalCode] = r.PostalCode
	row[ColDossier] = r.DossierCode
	row[ColSource] = r.Source
	row[ColDate] = formatDate(r)
	row[ColDepartment] = r.Department
	row[ColInterests] = r.Interests
	return row
}

func formatDate(r lead.Record) string {
	t := r.SubmittedTime()
	if t.IsZero() {
		return r.SubmittedAt
	}
	return t.Format(DateLayout)
}

// FindPhone returns the 1-based row holding phone in the phone column, or 0.
func FindPhone(values [][]string, phone string) int {
	want := lead.CleanPhone(phone)
	if want == "" {
		return 0
	}
	for i, row := range values {
		if ColPhone < len(row) && lead.CleanPhone(row[ColPhone]) == want {
			return i + 1
		}
	}
	return 0
}

// NextFreeRow is the 1-based row after the last row with any content.
func NextFreeRow(values [][]string) int {
	last := 0
	for i, row := range values {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				last = i + 1
				break
			}
		}
	}
	return last + 1
}

// ColumnLetter converts a 0-based column index to A1 notation.
func ColumnLetter(col int) string {
	var b []byte
	for col >= 0 {
		b = append([]byte{byte('A' + col%26)}, b...)
		col = col/26 - 1
	}
	return string(b)
}
