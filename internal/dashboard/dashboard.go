// Package dashboard turns a stored pipeline bundle into the view shown on the
// Summary and NER Analysis tabs.
package dashboard

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/adverant/nexus/docintel/internal/processor"
)

// CategoryCount is one row of the entity category table
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// View is everything the dashboard page renders
type View struct {
	RunID    string
	Document string

	Language string
	Summary  string
	// Topics is the topic model payload, indented for display.
	Topics string

	Entities []processor.Entity
	// Categories holds every category, most frequent first.
	Categories []CategoryCount
	// ChartRows are the rows plotted on the NER tab.
	ChartRows []CategoryCount
	Chart     Chart
}

// Options controls how the view is built
type Options struct {
	// DropTopCategory removes the most frequent category from the chart.
	DropTopCategory bool
}

// Build returns the view for a bundle. ok is false unless the language,
// summary, topics and entities slots are all filled; nothing is rendered
// from a partial bundle.
func Build(result *processor.Result, opts Options) (*View, bool) {
	if !result.Complete() {
		return nil, false
	}

	categories := CountCategories(result.Entities)
	rows := categories
	if opts.DropTopCategory && len(rows) > 0 {
		rows = rows[1:]
	}

	return &View{
		RunID:      result.RunID,
		Document:   result.Document,
		Language:   *result.Language,
		Summary:    *result.Summary,
		Topics:     formatTopics(result.Topics),
		Entities:   result.Entities,
		Categories: categories,
		ChartRows:  rows,
		Chart:      NewChart(rows),
	}, true
}

// CountCategories counts entities per category, most frequent first; ties keep
// the order in which categories first appear.
func CountCategories(entities []processor.Entity) []CategoryCount {
	index := make(map[string]int)
	var counts []CategoryCount
	for _, e := range entities {
		i, ok := index[e.Category]
		if !ok {
			i = len(counts)
			index[e.Category] = i
			counts = append(counts, CategoryCount{Category: e.Category})
		}
		counts[i].Count++
	}

	sort.SliceStable(counts, func(a, b int) bool {
		return counts[a].Count > counts[b].Count
	})
	return counts
}

func formatTopics(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
