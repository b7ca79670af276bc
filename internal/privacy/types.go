package privacy

import "regexp"

// DetectionRule masks every match of Pattern with Replacement.
type DetectionRule struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

// Finding counts the matches of one rule in a text.
type Finding struct {
	EntityType string `json:"entity_type"`
	Masked     string `json:"masked"`
	Count      int    `json:"count"`
}

// ProcessResult is the redacted text plus one Finding per rule that matched.
type ProcessResult struct {
	MaskedText string    `json:"masked_text"`
	Findings   []Finding `json:"findings"`
}
