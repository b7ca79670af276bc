package privacy

import "regexp"

// Rule names accepted by New.
const (
	RuleEmail      = "email"
	RulePhone      = "phone"
	RuleCreditCard = "credit_card"
	RuleSSN        = "ssn"
	RuleIPv4       = "ipv4"
	RuleAWSKey     = "aws_access_key"
	RuleBearer     = "bearer_token"
	RuleAPIKey     = "api_key"
)

// GetDefaultRules returns every built-in rule in the order they are applied.
// Token rules run before the generic number rules so a key is masked whole.
func GetDefaultRules() []DetectionRule {
	return []DetectionRule{
		{
			Name:        RuleBearer,
			Pattern:     regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]+=*`),
			Replacement: "Bearer [TOKEN]",
		},
		{
			Name:        RuleAWSKey,
			Pattern:     regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`),
			Replacement: "[AWS_KEY]",
		},
		{
			Name:        RuleAPIKey,
			Pattern:     regexp.MustCompile(`\b(?:sk|pk|rk)[-_](?:live[-_]|test[-_])?[A-Za-z0-9]{16,}\b`),
			Replacement: "[API_KEY]",
		},
		{
			Name:        RuleEmail,
			Pattern:     regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
			Replacement: "[EMAIL]",
		},
		{
			Name:        RuleCreditCard,
			Pattern:     regexp.MustCompile(`\b(?:\d{4}[ -]?){3}\d{4}\b`),
			Replacement: "[CREDIT_CARD]",
		},
		{
			Name:        RuleSSN,
			Pattern:     regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Replacement: "[SSN]",
		},
		{
			Name:        RuleIPv4,
			Pattern:     regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`),
			Replacement: "[IP_ADDRESS]",
		},
		{
			Name:        RulePhone,
			Pattern:     regexp.MustCompile(`(?:\+\d{1,3}[ .\-]?)?\(?\b\d{3}\)?[ .\-]?\d{3}[ .\-]\d{4}\b`),
			Replacement: "[PHONE]",
		},
	}
}
