package classify

import (
	"regexp"
	"strings"

	"mabletask/agent/models"
)

// FormUnknown is the label of a form no rule matched.
const FormUnknown = "unknown"

// Later rules override earlier ones, so order is priority.
var formTypeRules = []rule{
	{regexp.MustCompile(`(^| )(q|s|search|query|keywords?)( |$)`), "search"},
	{regexp.MustCompile(`message|comment|subject|contact|enquiry`), "contact"},
	{regexp.MustCompile(`newsletter|subscri|mailing`), "newsletter"},
	{regexp.MustCompile(`appointment|booking|reservation|time_?slot|party_?size|guests|preferred_?date`), "booking"},
	{regexp.MustCompile(`company|business|job_?title|budget|website|employees`), "lead_gen"},
	{regexp.MustCompile(`quote|estimate|project|sq_?ft|square_?feet`), "quote"},
	{regexp.MustCompile(`card_?number|cc_|cvv|cvc|billing|shipping|payment|expir`), "checkout"},
	{regexp.MustCompile(`inquiry|question|interest`), "inquiry"},
	{regexp.MustCompile(`resume|cover_?letter|position|applicant|employment`), "application"},
	{regexp.MustCompile(`insurance|dob|date_?of_?birth|patient|symptom|medical|allerg`), "intake"},
	{regexp.MustCompile(`feedback|rating|review|satisf`), "feedback"},
}

// FormType classifies a form from its field names and ids. Hidden and
// submit fields are ignored.
func FormType(fields []models.FormField) string {
	var parts []string
	for _, f := range fields {
		switch strings.ToLower(f.Type) {
		case "hidden", "submit":
			continue
		}
		if f.Name != "" {
			parts = append(parts, f.Name)
		}
		if f.ID != "" {
			parts = append(parts, f.ID)
		}
	}
	text := strings.ToLower(strings.Join(parts, " "))

	label := FormUnknown
	if text == "" {
		return label
	}
	for _, r := range formTypeRules {
		if r.pattern.MatchString(text) {
			label = r.label
		}
	}
	return label
}
