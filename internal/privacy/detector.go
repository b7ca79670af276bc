package privacy

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Detector masks PII in texts before they are embedded or stored.
type Detector struct {
	rules  []DetectionRule
	logger *zap.Logger
}

// New enables the named rules. "all" enables every built-in rule; an empty
// list yields a detector that leaves text unchanged.
func New(detectors []string, logger *zap.Logger) (*Detector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	all := GetDefaultRules()
	enabled := make(map[string]bool)
	for _, name := range detectors {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if name == "all" {
			for _, rule := range all {
				enabled[rule.Name] = true
			}
			continue
		}
		found := false
		for _, rule := range all {
			if rule.Name == name {
				enabled[name] = true
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown detector: %s", name)
		}
	}

	d := &Detector{logger: logger}
	for _, rule := range all {
		if enabled[rule.Name] {
			d.rules = append(d.rules, rule)
		}
	}

	logger.Info("Privacy detector initialized",
		zap.Int("total_rules", len(all)),
		zap.Strings("enabled_rules", d.EnabledRules()))

	return d, nil
}

// ProcessText applies every enabled rule in order.
func (d *Detector) ProcessText(text string) ProcessResult {
	masked := text
	findings := make([]Finding, 0)

	for _, rule := range d.rules {
		matches := rule.Pattern.FindAllStringIndex(masked, -1)
		if len(matches) == 0 {
			continue
		}
		findings = append(findings, Finding{
			EntityType: rule.Name,
			Masked:     rule.Replacement,
			Count:      len(matches),
		})
		masked = rule.Pattern.ReplaceAllLiteralString(masked, rule.Replacement)

		d.logger.Debug("PII detected and masked",
			zap.String("entity_type", rule.Name),
			zap.Int("count", len(matches)))
	}

	return ProcessResult{MaskedText: masked, Findings: findings}
}

// Redact returns the masked text and whether anything was masked.
func (d *Detector) Redact(text string) (string, bool) {
	if len(d.rules) == 0 {
		return text, false
	}
	res := d.ProcessText(text)
	return res.MaskedText, len(res.Findings) > 0
}

// EnabledRules returns the enabled rule names, sorted.
func (d *Detector) EnabledRules() []string {
	names := make([]string, len(d.rules))
	for i, rule := range d.rules {
		names[i] = rule.Name
	}
	sort.Strings(names)
	return names
}
