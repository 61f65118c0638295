package correlation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/miradorstack/mirador-correlator/internal/models"
)

func spread(n int, metric string) []models.Insight {
	out := make([]models.Insight, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, anomaly(fmt.Sprintf("i-%d", i), fmt.Sprintf("c-%d", i), fmt.Sprintf("svc-%d", i), metric, models.SeverityWarning, time.Duration(i)*time.Minute))
	}
	return out
}

func TestTitles(t *testing.T) {
	four := spread(4, "cpu")
	noEndpoint := spread(4, "cpu")
	for i := range noEndpoint {
		noEndpoint[i].EndpointName = ""
	}

	cases := []struct {
		name string
		g    group
		want string
	}{
		{"cascade many", group{kind: models.CorrelationCascade, insights: four, root: four[0]}, "Cascade anomaly affecting 4 containers on prod-1"},
		{"cascade many unknown endpoint", group{kind: models.CorrelationCascade, insights: noEndpoint, root: noEndpoint[0]}, "Cascade anomaly affecting 4 containers"},
		{"semantic many", group{kind: models.CorrelationSemantic, insights: four, root: four[0]}, "Similar anomalies across 4 containers"},
		{"semantic few", group{kind: models.CorrelationSemantic, insights: four[:3], root: four[0]}, "Similar anomalies on svc-0, svc-1, svc-2"},
		{"temporal", group{kind: models.CorrelationTemporal, insights: four[:2], root: four[0]}, "Correlated anomalies on prod-1 (2 alerts)"},
		{"temporal unknown endpoint", group{kind: models.CorrelationTemporal, insights: noEndpoint[:3], root: noEndpoint[0]}, "Correlated anomalies on unknown endpoint (3 alerts)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, title(tc.g))
		})
	}
}

func TestDedupTitleKeepsContainerNameVerbatim(t *testing.T) {
	quoted := anomaly("i-1", "c-1", `web "a"`, "cpu", models.SeverityWarning, 0)
	assert.Equal(t, `Multiple anomalies on "web "a""`, title(group{kind: models.CorrelationDedup, insights: []models.Insight{quoted}, root: quoted}))

	accented := anomaly("i-2", "c-2", "café\u200b", "cpu", models.SeverityWarning, 0)
	assert.Equal(t, "Multiple anomalies on \"café\u200b\"", title(group{kind: models.CorrelationDedup, insights: []models.Insight{accented}, root: accented}))
}

func TestContainerNamesAreDistinct(t *testing.T) {
	insights := []models.Insight{
		{ContainerName: "api"},
		{ContainerID: "c-2"},
		{ContainerName: "api"},
		{},
	}
	assert.Equal(t, []string{"api", "c-2"}, containerNames(insights))
}

func TestConfidenceNeverLow(t *testing.T) {
	three := spread(3, "cpu")
	assert.Equal(t, models.ConfidenceHigh, confidence(group{kind: models.CorrelationDedup, insights: three[:2]}))
	assert.Equal(t, models.ConfidenceHigh, confidence(group{kind: models.CorrelationCascade, insights: three}))
	assert.Equal(t, models.ConfidenceMedium, confidence(group{kind: models.CorrelationCascade, insights: three[:2]}))
	assert.Equal(t, models.ConfidenceMedium, confidence(group{kind: models.CorrelationSemantic, insights: three}))
	assert.Equal(t, models.ConfidenceMedium, confidence(group{kind: models.CorrelationTemporal, insights: three}))
}

func TestRuleSummaryOmitsEmptySeverityBreakdown(t *testing.T) {
	infos := spread(2, "cpu")
	for i := range infos {
		infos[i].Severity = models.SeverityInfo
	}
	g := group{kind: models.CorrelationTemporal, insights: infos, root: infos[0]}
	assert.Equal(t, "2 related anomalies detected within the correlation window.", ruleSummary(g))

	infos[1].Severity = models.SeverityCritical
	assert.Equal(t, "2 related anomalies detected within the correlation window. Severity: 1 critical.", ruleSummary(g))
}

func TestMetricType(t *testing.T) {
	assert.Equal(t, "memory", MetricType(models.Insight{MetricType: "Memory", Title: "Anomalous cpu usage on x"}))
	assert.Equal(t, "cpu", MetricType(models.Insight{Title: `Anomalous CPU usage on "api"`}))
	assert.Equal(t, "Restart loop detected", MetricType(models.Insight{Title: "Restart loop detected"}))
}

func TestPickRoot(t *testing.T) {
	a := models.Insight{ID: "a", Severity: models.SeverityWarning, CreatedAt: base}
	b := models.Insight{ID: "b", Severity: models.SeverityCritical, CreatedAt: base.Add(2 * time.Minute)}
	c := models.Insight{ID: "c", Severity: models.SeverityCritical, CreatedAt: base.Add(time.Minute)}
	assert.Equal(t, "c", pickRoot([]models.Insight{a, b, c}).ID)
	assert.Equal(t, "a", pickRoot([]models.Insight{a}).ID)
}
