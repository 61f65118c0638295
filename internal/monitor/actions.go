package monitor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-correlator/internal/models"
)

// ActionRules attaches a suggested action to anomaly insights built by a cycle.
type ActionRules struct {
	rules  []ActionRule
	logger *slog.Logger
}

// ActionRule represents a single suggested-action rule.
type ActionRule struct {
	ID     string      `yaml:"id"`
	Match  ActionMatch `yaml:"match"`
	Action string      `yaml:"action"`
}

// ActionMatch defines optional attributes for rule matching; empty fields match anything.
type ActionMatch struct {
	MetricType        string   `yaml:"metric_type"`
	Severity          string   `yaml:"severity"`
	ContainerContains []string `yaml:"container_contains"`
}

// ActionRuleFile is the YAML root structure.
type ActionRuleFile struct {
	Rules []ActionRule `yaml:"rules"`
}

// LoadActionRules reads rules from path. An empty path or missing file yields nil rules,
// which fall back to the built-in suggestion.
func LoadActionRules(path string, logger *slog.Logger) (*ActionRules, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return ParseActionRules(data, logger)
}

// ParseActionRules decodes a YAML rule document.
func ParseActionRules(data []byte, logger *slog.Logger) (*ActionRules, error) {
	var file ActionRuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse action rules: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, rule := range file.Rules {
		if rule.Action == "" {
			return nil, fmt.Errorf("action rule %q has no action", rule.ID)
		}
	}
	return &ActionRules{rules: file.Rules, logger: logger}, nil
}

// Suggest returns the action of the first matching rule, or a generic suggestion.
func (r *ActionRules) Suggest(insight models.Insight) string {
	if r != nil {
		for _, rule := range r.rules {
			if !rule.Match.matches(insight) {
				continue
			}
			r.logger.Debug("action rule matched", slog.String("rule", rule.ID), slog.String("insight_id", insight.ID))
			return rule.Action
		}
	}
	return defaultAction(insight)
}

func (m ActionMatch) matches(insight models.Insight) bool {
	if m.MetricType != "" && !strings.EqualFold(m.MetricType, insight.MetricType) {
		return false
	}
	if m.Severity != "" && !strings.EqualFold(m.Severity, string(insight.Severity)) {
		return false
	}
	if len(m.ContainerContains) > 0 && !containsAny(insight.ContainerName, m.ContainerContains) {
		return false
	}
	return true
}

func containsAny(value string, keywords []string) bool {
	value = strings.ToLower(value)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(value, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func defaultAction(insight models.Insight) string {
	container := insight.ContainerName
	if container == "" {
		container = "the container"
	}
	return fmt.Sprintf("Review recent %s usage of %s against its resource limits and latest deployment.", insight.MetricType, container)
}
