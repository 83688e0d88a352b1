package rules

import (
	"fmt"
	"strings"

	"threatlens/pkg/models"
)

// Classifier is the deterministic heuristic scorer used whenever no trained
// model is available, and as a safety net alongside trained predictions.
type Classifier struct {
	set *IndicatorSet
}

// NewClassifier creates a rule-based classifier over the given indicators.
func NewClassifier(set *IndicatorSet) *Classifier {
	if set == nil {
		set = DefaultIndicatorSet()
	}
	return &Classifier{set: set}
}

// Classify scores one event against the indicator content. Rules run in
// strict priority order: the first matching rule fixes the category, later
// rules may only raise the confidence. Never fails; missing attributes are
// treated as empty.
func (c *Classifier) Classify(event *models.Event) *models.ClassificationResult {
	name := strings.ToLower(event.ProcessName)
	cmd := strings.ToLower(event.Cmdline)

	// Known-safe processes short-circuit everything else. Legitimate build
	// and browser activity routinely pegs a core, so resource checks must
	// not fire on whitelisted names.
	if name != "" {
		if safe, ok := c.set.SafeProcess(name); ok {
			return c.result(models.CategoryNormal, 0.95, []string{"whitelisted_process:" + safe})
		}
	}

	for _, tool := range c.set.MaliciousTools {
		if tool == "" {
			continue
		}
		if strings.Contains(name, tool) || strings.Contains(cmd, tool) {
			return c.result(models.CategoryMalware, 0.95, []string{"known_malicious_tool:" + tool})
		}
	}

	category := models.CategoryNormal
	confidence := 0.0
	var indicators []string

	for _, typo := range c.set.Typosquats {
		if name == typo {
			category = models.CategoryTrojan
			confidence = 0.9
			indicators = append(indicators, "typosquat_process:"+typo)
			break
		}
	}

	for _, pattern := range c.set.CmdlinePatterns {
		if pattern.Pattern == "" || !strings.Contains(cmd, pattern.Pattern) {
			continue
		}
		indicators = append(indicators, "suspicious_cmdline:"+pattern.Pattern)
		if category == models.CategoryNormal {
			category = pattern.Category
		}
		if pattern.Confidence > confidence {
			confidence = pattern.Confidence
		}
	}

	if c.set.IsSuspiciousPort(event.RemotePort) {
		indicators = append(indicators, fmt.Sprintf("suspicious_port:%d", event.RemotePort))
		if category == models.CategoryNormal {
			category = models.CategoryTrojan
		}
		if confidence < 0.75 {
			confidence = 0.75
		}
	}

	if category == models.CategoryNormal {
		confidence = 0.9
	}

	return c.result(category, confidence, indicators)
}

func (c *Classifier) result(category string, confidence float64, indicators []string) *models.ClassificationResult {
	isThreat := category != models.CategoryNormal
	probabilities := map[string]float64{category: confidence}
	if isThreat {
		probabilities[models.CategoryNormal] = 1 - confidence
	}
	return &models.ClassificationResult{
		ThreatType:     category,
		Classification: category,
		Confidence:     confidence,
		IsThreat:       isThreat,
		RiskScore:      models.RiskScore(category, confidence),
		Severity:       models.SeverityFor(category, confidence),
		Indicators:     indicators,
		ModelPredictions: map[string]string{
			"rule_based": category,
		},
		Probabilities: probabilities,
	}
}
