package correlation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-correlator/internal/metrics"
	"github.com/miradorstack/mirador-correlator/internal/models"
	"github.com/miradorstack/mirador-correlator/internal/similarity"
	"github.com/miradorstack/mirador-correlator/internal/store"
)

const defaultWindowMinutes = 5

// IncidentStore is the persistence the engine reads active incidents from and writes groups to.
type IncidentStore interface {
	GetActiveIncidentForContainer(ctx context.Context, containerID string, windowMinutes int) (*models.Incident, error)
	AddInsightToIncident(ctx context.Context, incidentID, insightID, containerID, containerName string) error
	InsertIncident(ctx context.Context, insert models.IncidentInsert) (models.Incident, error)
}

// SimilarityFinder clusters insights by text similarity.
type SimilarityFinder interface {
	FindSimilarInsights(ctx context.Context, insights []models.Insight, threshold float64) ([]similarity.Cluster, error)
}

// Narrator writes free-text summaries for correlated groups.
type Narrator interface {
	Available(ctx context.Context) bool
	GenerateNarrativeSummary(ctx context.Context, insights []models.Insight, correlationType models.CorrelationType) (string, error)
}

// Settings are the correlation knobs read at the start of every invocation.
type Settings struct {
	WindowMinutes        int
	SmartGroupingEnabled bool
	SimilarityThreshold  float64
	NarrativeEnabled     bool
}

// SettingsSource supplies the current correlation settings.
type SettingsSource interface {
	CorrelationSettings() Settings
}

// SettingsFunc adapts a function to SettingsSource.
type SettingsFunc func() Settings

// CorrelationSettings implements SettingsSource.
func (f SettingsFunc) CorrelationSettings() Settings { return f() }

// StaticSettings is a fixed SettingsSource.
type StaticSettings Settings

// CorrelationSettings implements SettingsSource.
func (s StaticSettings) CorrelationSettings() Settings { return Settings(s) }

// Engine groups a monitoring cycle's anomaly insights into incidents.
type Engine struct {
	store    IncidentStore
	finder   SimilarityFinder
	narrator Narrator
	settings SettingsSource
	logger   *slog.Logger
}

// NewEngine wires the engine. finder, narrator and settings may be nil.
func NewEngine(store IncidentStore, finder SimilarityFinder, narrator Narrator, settings SettingsSource, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if settings == nil {
		settings = StaticSettings{WindowMinutes: defaultWindowMinutes}
	}
	return &Engine{
		store:    store,
		finder:   finder,
		narrator: narrator,
		settings: settings,
		logger:   logger,
	}
}

type group struct {
	kind     models.CorrelationType
	insights []models.Insight
	root     models.Insight
	summary  string
}

// Correlate groups insights, which must be ordered earliest-created first. windowMinutes <= 0
// uses the configured window; a nil finder uses the engine's own. Collaborator failures never
// abort the batch: they degrade to rule-based output or leave insights ungrouped.
func (e *Engine) Correlate(ctx context.Context, insights []models.Insight, windowMinutes int, finder SimilarityFinder) (models.CorrelationOutcome, error) {
	var outcome models.CorrelationOutcome
	if e.store == nil {
		return outcome, fmt.Errorf("incident store not configured")
	}

	settings := e.settings.CorrelationSettings()
	if windowMinutes <= 0 {
		windowMinutes = settings.WindowMinutes
	}
	if windowMinutes <= 0 {
		windowMinutes = defaultWindowMinutes
	}
	if finder == nil {
		finder = e.finder
	}

	anomalies := make([]models.Insight, 0, len(insights))
	for _, insight := range insights {
		if insight.Category.IsCorrelatable() {
			anomalies = append(anomalies, insight)
			continue
		}
		outcome.InsightsUngrouped++
	}

	switch len(anomalies) {
	case 0:
		e.logOutcome(outcome, len(insights))
		return outcome, nil
	case 1:
		e.attachSingle(ctx, anomalies[0], windowMinutes, &outcome)
		e.logOutcome(outcome, len(insights))
		return outcome, nil
	}

	groups, singles := e.groupByEndpoint(anomalies)

	if settings.SmartGroupingEnabled && settings.SimilarityThreshold > 0 && finder != nil && len(singles) >= 2 {
		var semantic []group
		semantic, singles = e.semanticPass(ctx, finder, singles, settings.SimilarityThreshold)
		groups = append(groups, semantic...)
	}

	for i := range groups {
		groups[i].summary = ruleSummary(groups[i])
	}
	if settings.NarrativeEnabled && e.narrator != nil && len(groups) > 0 && e.narrator.Available(ctx) {
		e.narrativePass(ctx, groups)
	}

	for _, g := range groups {
		e.materialize(ctx, g, windowMinutes, &outcome)
	}
	for _, single := range singles {
		e.attachSingle(ctx, single, windowMinutes, &outcome)
	}

	e.logOutcome(outcome, len(insights))
	return outcome, nil
}

// groupByEndpoint runs the dedup and cascade passes endpoint by endpoint and returns the
// groups formed plus the insights left on their own, both in input order.
func (e *Engine) groupByEndpoint(anomalies []models.Insight) ([]group, []models.Insight) {
	type endpointKey struct {
		id    int
		known bool
	}
	order := make([]endpointKey, 0)
	byEndpoint := make(map[endpointKey][]models.Insight)
	for _, insight := range anomalies {
		id, known := insight.EndpointKey()
		key := endpointKey{id: id, known: known}
		if _, ok := byEndpoint[key]; !ok {
			order = append(order, key)
		}
		byEndpoint[key] = append(byEndpoint[key], insight)
	}

	var groups []group
	var singles []models.Insight
	for _, key := range order {
		members := byEndpoint[key]
		if len(members) < 2 {
			// a lone insight on an endpoint is a temporal group of one
			singles = append(singles, members...)
			continue
		}

		dedup, endpointSingles := dedupByContainer(members)
		for _, g := range dedup {
			e.logger.Debug("dedup group formed",
				slog.String("container_id", g.root.ContainerID),
				slog.Int("size", len(g.insights)),
			)
		}
		groups = append(groups, dedup...)

		if len(endpointSingles) >= 2 && distinctMetricTypes(endpointSingles) >= 2 {
			cascade := group{kind: models.CorrelationCascade, insights: endpointSingles, root: pickRoot(endpointSingles)}
			e.logger.Debug("cascade group formed",
				slog.String("root_insight_id", cascade.root.ID),
				slog.Int("size", len(endpointSingles)),
			)
			groups = append(groups, cascade)
			continue
		}
		singles = append(singles, endpointSingles...)
	}
	return groups, singles
}

// dedupByContainer splits one endpoint's insights by container. Insights without a
// container id never dedup with each other.
func dedupByContainer(members []models.Insight) ([]group, []models.Insight) {
	order := make([]string, 0)
	byContainer := make(map[string][]models.Insight)
	var singles []models.Insight
	for _, insight := range members {
		if insight.ContainerID == "" {
			continue
		}
		if _, ok := byContainer[insight.ContainerID]; !ok {
			order = append(order, insight.ContainerID)
		}
		byContainer[insight.ContainerID] = append(byContainer[insight.ContainerID], insight)
	}

	var groups []group
	for _, insight := range members {
		if insight.ContainerID == "" {
			singles = append(singles, insight)
			continue
		}
		if len(byContainer[insight.ContainerID]) < 2 {
			singles = append(singles, insight)
		}
	}
	for _, containerID := range order {
		same := byContainer[containerID]
		if len(same) < 2 {
			continue
		}
		// input is earliest first, so the first member is the earliest
		groups = append(groups, group{kind: models.CorrelationDedup, insights: same, root: same[0]})
	}
	return groups, singles
}

func (e *Engine) semanticPass(ctx context.Context, finder SimilarityFinder, singles []models.Insight, threshold float64) ([]group, []models.Insight) {
	clusters, err := finder.FindSimilarInsights(ctx, singles, threshold)
	if err != nil {
		metrics.EnrichmentFailed(metrics.EnrichmentSimilarity)
		e.logger.Warn("similarity clustering failed, skipping semantic grouping", slog.Any("error", err))
		return nil, singles
	}

	remaining := make(map[string]bool, len(singles))
	for _, insight := range singles {
		remaining[insight.ID] = true
	}

	var groups []group
	for _, cluster := range clusters {
		if len(cluster.Insights) < 2 || !allRemaining(cluster.Insights, remaining) {
			continue
		}
		for _, insight := range cluster.Insights {
			remaining[insight.ID] = false
		}
		g := group{kind: models.CorrelationSemantic, insights: cluster.Insights, root: pickRoot(cluster.Insights)}
		e.logger.Debug("semantic group formed",
			slog.String("root_insight_id", g.root.ID),
			slog.Int("size", len(g.insights)),
		)
		groups = append(groups, g)
	}

	left := make([]models.Insight, 0, len(singles))
	for _, insight := range singles {
		if remaining[insight.ID] {
			left = append(left, insight)
		}
	}
	return groups, left
}

func allRemaining(insights []models.Insight, remaining map[string]bool) bool {
	seen := make(map[string]struct{}, len(insights))
	for _, insight := range insights {
		if !remaining[insight.ID] {
			return false
		}
		if _, dup := seen[insight.ID]; dup {
			return false
		}
		seen[insight.ID] = struct{}{}
	}
	return true
}

func (e *Engine) narrativePass(ctx context.Context, groups []group) {
	for i := range groups {
		if len(groups[i].insights) < 2 {
			continue
		}
		text, err := e.narrator.GenerateNarrativeSummary(ctx, groups[i].insights, groups[i].kind)
		if err != nil {
			metrics.EnrichmentFailed(metrics.EnrichmentNarrative)
			e.logger.Warn("narrative summary failed, keeping rule-based summary",
				slog.String("correlation_type", string(groups[i].kind)),
				slog.Any("error", err),
			)
			continue
		}
		if text != "" {
			groups[i].summary = text
		}
	}
}

// materialize persists a group as a new incident. A group whose insights were already recorded
// by an earlier cycle is re-attached member by member instead.
func (e *Engine) materialize(ctx context.Context, g group, windowMinutes int, outcome *models.CorrelationOutcome) {
	insert := buildIncident(g)
	inc, err := e.store.InsertIncident(ctx, insert)
	if errors.Is(err, store.ErrInsightLinked) {
		e.logger.Debug("group already recorded, attaching members to active incidents",
			slog.String("correlation_type", string(g.kind)),
			slog.String("root_insight_id", g.root.ID),
			slog.Int("size", len(g.insights)),
		)
		for _, insight := range g.insights {
			e.attachSingle(ctx, insight, windowMinutes, outcome)
		}
		return
	}
	if err != nil {
		metrics.PersistenceFailed()
		e.logger.Error("incident insert failed, leaving group ungrouped",
			slog.String("correlation_type", string(g.kind)),
			slog.String("root_insight_id", g.root.ID),
			slog.Int("size", len(g.insights)),
			slog.Any("error", err),
		)
		outcome.InsightsUngrouped += len(g.insights)
		return
	}

	metrics.IncidentCreated(string(g.kind))
	e.logger.Debug("incident created",
		slog.String("incident_id", inc.ID),
		slog.String("correlation_type", string(g.kind)),
		slog.String("title", inc.Title),
	)
	outcome.IncidentsCreated++
	outcome.InsightsGrouped += len(g.insights)
}

// attachSingle appends a lone insight to its container's active incident, if there is one.
func (e *Engine) attachSingle(ctx context.Context, insight models.Insight, windowMinutes int, outcome *models.CorrelationOutcome) {
	if insight.ContainerID == "" {
		outcome.InsightsUngrouped++
		return
	}

	inc, err := e.store.GetActiveIncidentForContainer(ctx, insight.ContainerID, windowMinutes)
	if err != nil {
		e.logger.Warn("active incident lookup failed",
			slog.String("container_id", insight.ContainerID),
			slog.Any("error", err),
		)
		outcome.InsightsUngrouped++
		return
	}
	if inc == nil {
		outcome.InsightsUngrouped++
		return
	}

	err = e.store.AddInsightToIncident(ctx, inc.ID, insight.ID, insight.ContainerID, insight.ContainerName)
	if errors.Is(err, store.ErrInsightLinked) {
		e.logger.Warn("insight belongs to another incident",
			slog.String("incident_id", inc.ID),
			slog.String("insight_id", insight.ID),
			slog.Any("error", err),
		)
		outcome.InsightsUngrouped++
		return
	}
	if err != nil {
		metrics.PersistenceFailed()
		e.logger.Error("attach insight to incident failed",
			slog.String("incident_id", inc.ID),
			slog.String("insight_id", insight.ID),
			slog.Any("error", err),
		)
		outcome.InsightsUngrouped++
		return
	}

	e.logger.Debug("insight attached to active incident",
		slog.String("incident_id", inc.ID),
		slog.String("insight_id", insight.ID),
	)
	outcome.InsightsGrouped++
}

func (e *Engine) logOutcome(outcome models.CorrelationOutcome, total int) {
	metrics.ObserveInsights(outcome.InsightsGrouped, outcome.InsightsUngrouped)
	e.logger.Info("correlation complete",
		slog.Int("insights", total),
		slog.Int("incidents_created", outcome.IncidentsCreated),
		slog.Int("grouped", outcome.InsightsGrouped),
		slog.Int("ungrouped", outcome.InsightsUngrouped),
	)
}

// pickRoot returns the most severe insight, breaking ties by earliest creation and then input order.
func pickRoot(insights []models.Insight) models.Insight {
	root := insights[0]
	for _, insight := range insights[1:] {
		switch {
		case insight.Severity.Rank() > root.Severity.Rank():
			root = insight
		case insight.Severity.Rank() == root.Severity.Rank() && insight.CreatedAt.Before(root.CreatedAt):
			root = insight
		}
	}
	return root
}

func maxSeverity(insights []models.Insight) models.Severity {
	best := models.SeverityInfo
	for _, insight := range insights {
		if insight.Severity.Rank() > best.Rank() {
			best = insight.Severity
		}
	}
	return best
}

func buildIncident(g group) models.IncidentInsert {
	related := make([]string, 0, len(g.insights)-1)
	links := make([]models.InsightLink, 0, len(g.insights))
	for _, insight := range g.insights {
		if insight.ID != g.root.ID {
			related = append(related, insight.ID)
		}
		links = append(links, models.InsightLink{
			InsightID:     insight.ID,
			ContainerID:   insight.ContainerID,
			ContainerName: insight.ContainerName,
		})
	}

	return models.IncidentInsert{
		Incident: models.Incident{
			Title:                 title(g),
			Severity:              maxSeverity(g.insights),
			Status:                models.IncidentActive,
			RootCauseInsightID:    g.root.ID,
			RelatedInsightIDs:     related,
			AffectedContainers:    containerNames(g.insights),
			EndpointID:            g.root.EndpointID,
			EndpointName:          g.root.EndpointName,
			CorrelationType:       g.kind,
			CorrelationConfidence: confidence(g),
			InsightCount:          len(g.insights),
			Summary:               g.summary,
		},
		Links: links,
	}
}
