package lead

import (
	"strings"
	"time"
)

// Normalizer maps inbound payloads to Records. It holds no per-request state
// and is safe for concurrent use.
type Normalizer struct {
	Interests InterestTable
	Now       func() time.Time
}

func NewNormalizer(interests InterestTable) *Normalizer {
	if len(interests) == 0 {
		interests = DefaultInterestTable()
	}
	return &Normalizer{
		Interests: interests,
		Now:       time.Now,
	}
}

// Normalize never fails; unknown shapes produce a mostly empty Record with a
// current timestamp.
func (n *Normalizer) Normalize(payload map[string]interface{}) Record {
	var rec Record
	if fr := formResponse(payload); fr != nil {
		rec = n.fromTypeform(payload, fr)
	} else {
		rec = n.fromFlat(payload)
	}

	rec.PostalCode = strings.TrimSpace(rec.PostalCode)
	rec.Department = Department(rec.PostalCode)
	rec.Interests = n.interests().Annotate(rec.Department)
	return rec
}

// fromTypeform handles hidden fields plus an answers array. Two answers are
// read as dwelling then ownership; a single answer carries both.
func (n *Normalizer) fromTypeform(payload, fr map[string]interface{}) Record {
	hidden, _ := fr["hidden"].(map[string]interface{})
	fields := mapFields(hidden)

	submitted := Stringify(fr["submitted_at"])
	if submitted == "" {
		submitted = fields[FieldSubmitted]
	}

	rec := recordFrom(fields)
	rec.SubmittedAt = NormalizeTimestamp(submitted, n.now())

	texts := classificationAnswers(answerList(payload))
	switch len(texts) {
	case 0:
		rec.DwellingType = dwellingFromCode(fields[FieldDwelling])
		rec.OwnershipStatus = ownershipFromCode(fields[FieldOwnership])
	case 1:
		rec.DwellingType, rec.OwnershipStatus = ClassifyCombined(texts[0])
	default:
		rec.DwellingType = ClassifyDwelling(texts[0])
		rec.OwnershipStatus = ClassifyOwnership(texts[1])
	}
	return rec
}

func (n *Normalizer) fromFlat(payload map[string]interface{}) Record {
	fields := mapFields(payload)
	rec := recordFrom(fields)
	rec.SubmittedAt = NormalizeTimestamp(fields[FieldSubmitted], n.now())
	rec.DwellingType = dwellingFromCode(fields[FieldDwelling])
	rec.OwnershipStatus = ownershipFromCode(fields[FieldOwnership])
	return rec
}

func recordFrom(fields map[CanonicalField]string) Record {
	return Record{
		Phone:       fields[FieldPhone],
		FirstName:   fields[FieldFirstName],
		LastName:    fields[FieldLastName],
		Email:       fields[FieldEmail],
		PostalCode:  fields[FieldPostalCode],
		Salutation:  fields[FieldSalutation],
		Source:      fields[FieldSource],
		DossierCode: fields[FieldDossier],
		Cohort:      fields[FieldCohort],
	}
}

// Answers returns the classification answers of a typeform payload in form
// order.
func Answers(payload map[string]interface{}) []string {
	return classificationAnswers(answerList(payload))
}

// classificationAnswers keeps the choice and free-text answers, skipping
// contact answers such as phone or email.
func classificationAnswers(answers []map[string]interface{}) []string {
	var texts []string
	for _, a := range answers {
		switch Stringify(a["type"]) {
		case "phone_number", "email", "number", "date":
			continue
		}
		if text := answerText(a); text != "" {
			texts = append(texts, text)
		}
	}
	return texts
}

func (n *Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func (n *Normalizer) interests() InterestTable {
	if n.Interests != nil {
		return n.Interests
	}
	return DefaultInterestTable()
}

// ExtractPhone finds the phone number of an unsubscribe submission. It
// prefers phone_number answers, then text answers, then flat phone fields.
// A leading '+' is removed to match how numbers are stored in the sheet.
func ExtractPhone(payload map[string]interface{}) (string, bool) {
	answers := answerList(payload)

	for _, a := range answers {
		if Stringify(a["type"]) == "phone_number" {
			if p := CleanPhone(Stringify(a["phone_number"])); p != "" {
				return p, true
			}
		}
	}

	for _, a := range answers {
		if Stringify(a["type"]) == "text" {
			if p := CleanPhone(Stringify(a["text"])); p != "" && looksLikePhone(p) {
				return p, true
			}
		}
	}

	if p := CleanPhone(Lookup(payload, "telephone", "phone", "tel", "phone_number", "mobile")); p != "" {
		return p, true
	}
	return "", false
}

// CleanPhone trims a phone number and drops its leading '+'.
func CleanPhone(p string) string {
	return strings.TrimLeft(strings.TrimSpace(p), "+")
}

func looksLikePhone(p string) bool {
	digits := 0
	for _, r := range p {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ' ' || r == '.' || r == '-' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 6
}
