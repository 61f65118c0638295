package similarity

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/miradorstack/mirador-correlator/internal/models"
)

// Cluster is a set of insights whose text is similar enough to be grouped.
type Cluster struct {
	Insights []models.Insight
}

// Clusterer groups insights by token overlap of their title and description.
type Clusterer struct {
	stopWords map[string]struct{}
}

// NewClusterer constructs a Clusterer with a small English stop-word list.
func NewClusterer() *Clusterer {
	stop := make(map[string]struct{}, len(defaultStopWords))
	for _, w := range defaultStopWords {
		stop[w] = struct{}{}
	}
	return &Clusterer{stopWords: stop}
}

var defaultStopWords = []string{
	"a", "an", "and", "are", "at", "by", "for", "from", "in", "is", "of", "on", "or", "the", "to", "was", "with",
}

// FindSimilarInsights links insights whose Jaccard similarity meets threshold and returns
// every connected group of two or more, in input order.
func (c *Clusterer) FindSimilarInsights(ctx context.Context, insights []models.Insight, threshold float64) ([]Cluster, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("similarity threshold %.2f outside (0,1]", threshold)
	}
	if len(insights) < 2 {
		return nil, nil
	}

	tokens := make([]map[string]struct{}, len(insights))
	for i, insight := range insights {
		tokens[i] = c.tokenize(insight.Title + " " + insight.Description)
	}

	parent := make([]int, len(insights))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	for i := 0; i < len(insights); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(insights); j++ {
			if Jaccard(tokens[i], tokens[j]) < threshold {
				continue
			}
			ri, rj := find(i), find(j)
			if ri == rj {
				continue
			}
			// keep the earliest index as representative so output follows input order
			if rj < ri {
				ri, rj = rj, ri
			}
			parent[rj] = ri
		}
	}

	members := make(map[int][]models.Insight)
	order := make([]int, 0)
	for i, insight := range insights {
		root := find(i)
		if _, ok := members[root]; !ok {
			order = append(order, root)
		}
		members[root] = append(members[root], insight)
	}

	clusters := make([]Cluster, 0)
	for _, root := range order {
		if len(members[root]) < 2 {
			continue
		}
		clusters = append(clusters, Cluster{Insights: members[root]})
	}
	return clusters, nil
}

func (c *Clusterer) tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, stop := c.stopWords[f]; stop {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|; two empty sets score 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	shared := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}
