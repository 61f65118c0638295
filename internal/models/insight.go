package models

import (
	"fmt"
	"strings"
	"time"
)

// InsightCategory is the closed set of signal categories emitted by a monitoring cycle.
type InsightCategory string

const (
	CategoryAnomaly      InsightCategory = "anomaly"
	CategoryCapacity     InsightCategory = "capacity"
	CategoryAvailability InsightCategory = "availability"
	CategorySecurity     InsightCategory = "security"
	CategoryBestPractice InsightCategory = "best_practice"
)

// ParseInsightCategory maps a wire value onto a known category.
func ParseInsightCategory(value string) (InsightCategory, error) {
	switch c := InsightCategory(strings.ToLower(strings.TrimSpace(value))); c {
	case CategoryAnomaly, CategoryCapacity, CategoryAvailability, CategorySecurity, CategoryBestPractice:
		return c, nil
	default:
		return "", fmt.Errorf("unknown insight category %q", value)
	}
}

// IsCorrelatable reports whether insights of this category take part in incident grouping.
func (c InsightCategory) IsCorrelatable() bool {
	switch c {
	case CategoryAnomaly:
		return true
	case CategoryCapacity, CategoryAvailability, CategorySecurity, CategoryBestPractice:
		return false
	default:
		return false
	}
}

// Severity captures impact levels of insights and incidents.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity maps a wire value onto a known severity.
func ParseSeverity(value string) (Severity, error) {
	switch s := Severity(strings.ToLower(strings.TrimSpace(value))); s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return s, nil
	default:
		return "", fmt.Errorf("unknown severity %q", value)
	}
}

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Insight is one detected condition produced by a monitoring cycle.
type Insight struct {
	ID              string
	EndpointID      *int
	EndpointName    string
	ContainerID     string
	ContainerName   string
	MetricType      string
	Severity        Severity
	Category        InsightCategory
	Title           string
	Description     string
	SuggestedAction string
	CreatedAt       time.Time
	Acknowledged    bool
}

// EndpointKey identifies the endpoint an insight belongs to; zero for unknown endpoints.
func (i Insight) EndpointKey() (int, bool) {
	if i.EndpointID == nil {
		return 0, false
	}
	return *i.EndpointID, true
}
