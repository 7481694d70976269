package engine

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"salesflow/models"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Corporate suffixes stripped from company names before they are used in
// message copy ("Acme Comercio LTDA" reads badly in a greeting).
var corporateSuffixes = map[string]bool{
	"LTDA":   true,
	"S/A":    true,
	"S.A":    true,
	"S.A.":   true,
	"SA":     true,
	"ME":     true,
	"EIRELI": true,
	"EPP":    true,
}

var titleCaser = cases.Title(language.Und)

// Render substitutes {{name}} placeholders in text using the given variable
// map. Placeholders whose key is missing or nil are left verbatim, so
// rendering never fails and re-rendering an already rendered string with the
// same map is a no-op.
func Render(text string, variables map[string]*string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		if value, ok := variables[name]; ok && value != nil {
			return *value
		}
		return match
	})
}

// ExtractVariables returns the unique placeholder names in text, in order of
// first appearance. Used when templates are authored or previewed.
func ExtractVariables(text string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, match := range placeholderRe.FindAllStringSubmatch(text, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			names = append(names, match[1])
		}
	}
	return names
}

// LeadVariables builds the substitution map for a lead. Empty source fields
// map to nil so their placeholders survive rendering verbatim instead of
// collapsing to empty strings.
func LeadVariables(lead *models.Lead) map[string]*string {
	return map[string]*string{
		"first_name": nonEmpty(firstName(lead.ContactName)),
		"name":       nonEmpty(DisplayName(lead.Name)),
		"legal_name": nonEmpty(lead.LegalName),
		"tax_id":     nonEmpty(lead.TaxID),
		"email":      nonEmpty(lead.Email),
		"phone":      nonEmpty(lead.Phone),
		"city":       nonEmpty(lead.City),
		"state":      nonEmpty(lead.State),
		"size_tier":  nonEmpty(lead.SizeTier),
	}
}

// DisplayName cleans a raw company name for use in message copy: corporate
// suffixes are stripped, the result is capped to its first two words and
// title-cased.
func DisplayName(raw string) string {
	var words []string
	for _, token := range strings.Fields(raw) {
		trimmed := strings.ToUpper(strings.Trim(token, ".,"))
		if corporateSuffixes[trimmed] {
			continue
		}
		words = append(words, token)
		if len(words) == 2 {
			break
		}
	}
	return titleCaser.String(strings.ToLower(strings.Join(words, " ")))
}

// firstName takes the first whitespace-delimited token of a full name.
func firstName(fullName string) string {
	fields := strings.Fields(fullName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
