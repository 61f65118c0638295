package correlation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/miradorstack/mirador-correlator/internal/models"
)

// maxNamedContainers is the largest group whose container names are spelled out in a title.
const maxNamedContainers = 3

var metricTypePattern = regexp.MustCompile(`(?i)anomalous (\w+) usage`)

// MetricType returns the metric an insight is about. Insights without an explicit metric type
// fall back to the "anomalous <metric> usage" title wording, then to the raw title.
func MetricType(insight models.Insight) string {
	if insight.MetricType != "" {
		return strings.ToLower(insight.MetricType)
	}
	if m := metricTypePattern.FindStringSubmatch(insight.Title); m != nil {
		return strings.ToLower(m[1])
	}
	return insight.Title
}

func distinctMetricTypes(insights []models.Insight) int {
	seen := make(map[string]struct{}, len(insights))
	for _, insight := range insights {
		seen[MetricType(insight)] = struct{}{}
	}
	return len(seen)
}

func containerLabel(insight models.Insight) string {
	if insight.ContainerName != "" {
		return insight.ContainerName
	}
	return insight.ContainerID
}

// containerNames lists the distinct container names of a group in first-seen order.
func containerNames(insights []models.Insight) []string {
	seen := make(map[string]struct{}, len(insights))
	names := make([]string, 0, len(insights))
	for _, insight := range insights {
		name := containerLabel(insight)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

func title(g group) string {
	names := containerNames(g.insights)
	switch g.kind {
	case models.CorrelationDedup:
		return fmt.Sprintf("Multiple anomalies on \"%s\"", containerLabel(g.root))
	case models.CorrelationCascade:
		if len(names) <= maxNamedContainers {
			return "Cascade anomaly affecting " + strings.Join(names, ", ")
		}
		if g.root.EndpointName == "" {
			return fmt.Sprintf("Cascade anomaly affecting %d containers", len(names))
		}
		return fmt.Sprintf("Cascade anomaly affecting %d containers on %s", len(names), g.root.EndpointName)
	case models.CorrelationSemantic:
		if len(names) <= maxNamedContainers {
			return "Similar anomalies on " + strings.Join(names, ", ")
		}
		return fmt.Sprintf("Similar anomalies across %d containers", len(names))
	default:
		endpoint := g.root.EndpointName
		if endpoint == "" {
			endpoint = "unknown endpoint"
		}
		return fmt.Sprintf("Correlated anomalies on %s (%d alerts)", endpoint, len(g.insights))
	}
}

// confidence never yields low; only dedup and three-way cascades are high.
func confidence(g group) models.Confidence {
	switch {
	case g.kind == models.CorrelationDedup:
		return models.ConfidenceHigh
	case g.kind == models.CorrelationCascade && len(g.insights) >= 3:
		return models.ConfidenceHigh
	default:
		return models.ConfidenceMedium
	}
}

func ruleSummary(g group) string {
	n := len(g.insights)
	var lead string
	switch g.kind {
	case models.CorrelationCascade:
		lead = fmt.Sprintf("%d anomalies detected simultaneously across related containers. Likely root cause: %s.", n, g.root.Title)
	case models.CorrelationDedup:
		lead = fmt.Sprintf("%d duplicate anomalies detected on %s.", n, containerLabel(g.root))
	case models.CorrelationSemantic:
		lead = fmt.Sprintf("%d similar anomalies grouped by text similarity. Primary alert: %s.", n, g.root.Title)
	default:
		lead = fmt.Sprintf("%d related anomalies detected within the correlation window.", n)
	}

	critical, warning := 0, 0
	for _, insight := range g.insights {
		switch insight.Severity {
		case models.SeverityCritical:
			critical++
		case models.SeverityWarning:
			warning++
		}
	}

	var parts []string
	if critical > 0 {
		parts = append(parts, fmt.Sprintf("%d critical", critical))
	}
	if warning > 0 {
		parts = append(parts, fmt.Sprintf("%d warning", warning))
	}
	if len(parts) == 0 {
		return lead
	}
	return lead + " Severity: " + strings.Join(parts, ", ") + "."
}
