package cel

// AlertRulePresets lists rule expressions operators commonly configure for
// spreadsheet row highlighting, addressable by name from configuration.
var AlertRulePresets = map[string]string{
	"negative_labels":   `lead.dwelling_type == "Appartement" || lead.ownership_status == "Locataire"`,
	"tenant_only":       `lead.ownership_status == "Locataire"`,
	"missing_answers":   `lead.dwelling_type == "" && lead.ownership_status == ""`,
	"outside_territory": `lead.interests == ""`,
	"department_list":   `lead.department in ["75", "92", "93", "94"]`,
	"source_match":      `lead.source.startsWith("fb")`,
	"never":             `false`,
}

// ResolveRule returns the preset expression when name is a preset, name itself otherwise.
func ResolveRule(name string) string {
	if expr, ok := AlertRulePresets[name]; ok {
		return expr
	}
	return name
}
