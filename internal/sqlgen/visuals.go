package sqlgen

import (
	"context"
	"encoding/json"
	"fmt"
)

// Visualization is a Chart.js-compatible chart suggestion.
type Visualization struct {
	Type     string    `json:"type"`
	Title    string    `json:"title"`
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Dataset carries one series. BackgroundColor may be a single color or
// a list, so it stays untyped.
type Dataset struct {
	Label           string    `json:"label"`
	Data            []float64 `json:"data"`
	BackgroundColor any       `json:"backgroundColor,omitempty"`
	BorderColor     string    `json:"borderColor,omitempty"`
}

var validVisualizationTypes = map[string]struct{}{
	"bar_chart":    {},
	"line_chart":   {},
	"pie_chart":    {},
	"scatter_plot": {},
}

// GenerateVisuals suggests charts for a result set. Failures degrade
// to no suggestions rather than failing the query.
func (g *Generator) GenerateVisuals(ctx context.Context, results []map[string]any, originalPrompt string) []Visualization {
	if len(results) == 0 {
		return []Visualization{}
	}

	sample := results
	if len(sample) > g.cfg.SampleRows {
		sample = sample[:g.cfg.SampleRows]
	}
	sampleJSON, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		g.logger.Warn("visual sample serialization failed", "error", err)
		return []Visualization{}
	}

	prompt := fmt.Sprintf(`Analyze this data sample:
%s

Original request: %s

Suggest up to %d relevant visualizations from these options:
- bar_chart (for comparisons, using Chart.js)
- line_chart (for trends over time, using Chart.js)
- pie_chart (for proportions, using Chart.js)
- scatter_plot (for relationships, using Chart.js)

For each visualization, include:
- type: chart type
- title: descriptive title
- labels: array of labels for data points
- datasets: array of dataset objects with:
  - label: dataset name
  - data: array of values
  - backgroundColor: color(s) for the visualization
  - borderColor: border color (for line charts)

Return JSON format:
{
  "visualizations": [
    {
      "type": "chart_type",
      "title": "Chart Title",
      "labels": ["label1", "label2"],
      "datasets": [
        {
          "label": "Dataset Name",
          "data": [1, 2],
          "backgroundColor": ["#color1", "#color2"],
          "borderColor": "#color"
        }
      ]
    }
  ]
}
The response must be valid JSON compatible with Chart.js library.`, sampleJSON, originalPrompt, g.cfg.MaxVisuals)

	response, err := g.model.Generate(ctx, prompt)
	if err != nil {
		g.logger.Warn("visual generation failed", "error", err)
		return []Visualization{}
	}
	return g.parseVisuals(response)
}

func (g *Generator) parseVisuals(response string) []Visualization {
	var parsed struct {
		Visualizations []Visualization `json:"visualizations"`
	}
	if err := json.Unmarshal([]byte(extractJSON(response)), &parsed); err != nil {
		return []Visualization{}
	}

	visuals := make([]Visualization, 0, g.cfg.MaxVisuals)
	for _, visual := range parsed.Visualizations {
		if _, ok := validVisualizationTypes[visual.Type]; !ok {
			continue
		}
		visuals = append(visuals, visual)
		if len(visuals) >= g.cfg.MaxVisuals {
			break
		}
	}
	return visuals
}
