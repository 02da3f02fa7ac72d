// Package lead turns the differently shaped form submissions the intake
// receives into one canonical Record.
package lead

import "time"

// Classification labels as they appear in the spreadsheet.
const (
	LabelHouse     = "Maison"
	LabelApartment = "Appartement"
	LabelOwner     = "Propriétaire"
	LabelTenant    = "Locataire"
)

// TimestampLayout is the canonical submission timestamp format.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Record is the canonical lead carried by the lead queue. It is immutable
// once enqueued; missing fields are empty strings.
type Record struct {
	Phone           string `json:"phone"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	PostalCode      string `json:"postal_code"`
	Salutation      string `json:"salutation"`
	Source          string `json:"source"`
	DossierCode     string `json:"dossier_code"`
	Cohort          string `json:"cohort"`
	SubmittedAt     string `json:"submitted_at"`
	DwellingType    string `json:"dwelling_type"`
	OwnershipStatus string `json:"ownership_status"`
	Department      string `json:"department"`
	Interests       string `json:"interests"`
}

// Fields exposes the record to rule expressions under its JSON names.
func (r Record) Fields() map[string]interface{} {
	return map[string]interface{}{
		"phone":            r.Phone,
		"first_name":       r.FirstName,
		"last_name":        r.LastName,
		"email":            r.Email,
		"postal_code":      r.PostalCode,
		"salutation":       r.Salutation,
		"source":           r.Source,
		"dossier_code":     r.DossierCode,
		"cohort":           r.Cohort,
		"submitted_at":     r.SubmittedAt,
		"dwelling_type":    r.DwellingType,
		"ownership_status": r.OwnershipStatus,
		"department":       r.Department,
		"interests":        r.Interests,
	}
}

// SubmittedTime parses SubmittedAt. It returns the zero time when the record
// was built outside the Normalizer with a malformed value.
func (r Record) SubmittedTime() time.Time {
	t, err := time.Parse(TimestampLayout, r.SubmittedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}
