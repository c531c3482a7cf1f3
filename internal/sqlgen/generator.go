package sqlgen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/datapilot/datapilot/internal/config"
	"github.com/datapilot/datapilot/internal/observability"
)

// Generation is one validated model output.
type Generation struct {
	Query   string `json:"query"`
	Summary string `json:"summary"`
}

// QueryAnalysis classifies a prompt as a single statement or a chain
// of dependent steps.
type QueryAnalysis struct {
	QueryType string   `json:"query_type"`
	Steps     []string `json:"steps"`
}

const (
	QueryTypeSingle = "single"
	QueryTypeMulti  = "multi"
)

type Generator struct {
	model  Model
	cfg    config.QueryConfig
	logger *slog.Logger
}

func NewGenerator(model Model, cfg config.QueryConfig, logger *slog.Logger) *Generator {
	return &Generator{model: model, cfg: cfg, logger: logger}
}

// Generate asks the model for a single SQL statement. Malformed model
// output is retried with the failure appended to the error history so
// the model can correct itself. Execution failures are the caller's
// retry loop, not this one.
func (g *Generator) Generate(ctx context.Context, prompt, schema string, errorHistory []string, attempt int) (Generation, []string, error) {
	if strings.TrimSpace(schema) == "" {
		schema = "The database is empty"
	}

	var lastErr error
	for attempt <= g.cfg.MaxGenerationAttempts {
		observability.ObserveGenerationAttempt()
		fullPrompt := buildGenerationPrompt(prompt, schema, errorHistory, attempt)
		response, err := g.model.Generate(ctx, fullPrompt)
		if err != nil {
			return Generation{}, errorHistory, fmt.Errorf("invoke model: %w", err)
		}

		generation, err := parseGeneration(response)
		if err == nil {
			return generation, errorHistory, nil
		}
		lastErr = err
		message := fmt.Sprintf("Invalid response in attempt %d: %s", attempt, err)
		g.logger.Warn("discarded malformed generation", "attempt", attempt, "error", err)
		errorHistory = append(errorHistory, message)
		attempt++
	}
	return Generation{}, errorHistory, fmt.Errorf("no valid SQL after %d attempts: %w", g.cfg.MaxGenerationAttempts, lastErr)
}

// GenerateChained asks for the next statement of a multi-step request,
// feeding a sample of the previous step's rows back in.
func (g *Generator) GenerateChained(ctx context.Context, stepPrompt, schema string, previousResults []map[string]any) (Generation, error) {
	sample := previousResults
	if len(sample) > g.cfg.SampleRows {
		sample = sample[:g.cfg.SampleRows]
	}
	sampleJSON, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		sampleJSON = []byte("[]")
	}

	fullPrompt := fmt.Sprintf(`Database schema:
%s

Previous step results (sample):
%s

Current task: %s

Generate SQL that builds on previous results. Return JSON with 'query' and 'summary'.`, schema, sampleJSON, stepPrompt)

	response, err := g.model.Generate(ctx, fullPrompt)
	if err != nil {
		return Generation{}, fmt.Errorf("invoke model: %w", err)
	}
	return parseGeneration(response)
}

// AnalyzeQueryType decides whether a prompt needs one statement or a
// chain. Unparseable answers fall back to single.
func (g *Generator) AnalyzeQueryType(ctx context.Context, prompt string) QueryAnalysis {
	analysisPrompt := fmt.Sprintf(`Analyze this database query request:
%s

Determine if this requires a single SQL query or multiple chained queries. Consider:
- Multiple distinct operations needed
- Step-by-step data transformations
- Temporary results needed for final output

Respond with JSON format:
{
    "query_type": "single" | "multi",
    "steps": ["step 1 description", "step 2 description"]
}`, prompt)

	response, err := g.model.Generate(ctx, analysisPrompt)
	if err != nil {
		g.logger.Warn("query analysis failed", "error", err)
		return QueryAnalysis{QueryType: QueryTypeSingle}
	}

	var analysis QueryAnalysis
	if err := json.Unmarshal([]byte(extractJSON(response)), &analysis); err != nil {
		return QueryAnalysis{QueryType: QueryTypeSingle}
	}
	if analysis.QueryType != QueryTypeMulti {
		analysis.QueryType = QueryTypeSingle
		analysis.Steps = nil
	}
	return analysis
}

func buildGenerationPrompt(prompt, schema string, errorHistory []string, attempt int) string {
	attemptContext := fmt.Sprintf("\n\nThis is attempt %d to generate the correct query.", attempt)

	errorContext := ""
	if len(errorHistory) > 0 {
		errorContext = "\n\nPrevious errors encountered:\n- " + strings.Join(errorHistory, "\n- ")
		errorContext += "\n\nPlease ensure your response:"
		errorContext += "\n1. Contains only a SINGLE SQL statement (no semicolons except in string literals)"
		errorContext += "\n2. Is a valid JSON object with 'query' and 'summary' fields"
		errorContext += "\n3. Has proper spacing in the SQL query (no extra spaces or line breaks)"
		errorContext += "\n4. Uses simple single quotes for SQL strings (not escaped)"
		errorContext += "\n5. Contains no additional text or formatting outside the JSON object"
		errorContext += "\n6. For DELETE operations with constraints, use proper JOIN and WHERE clauses instead of multiple statements"
	}

	return fmt.Sprintf(`Given the following database schema:
%s

Generate a SINGLE SQL query for the following request:
%s%s%s

IMPORTANT:
- Return ONLY ONE SQL statement (no semicolons except in string literals)
- For operations requiring multiple steps (like cascading deletes), use proper JOIN and WHERE clauses
- Return a properly formatted JSON object with consistent spacing and no line breaks in the SQL query

Here are two examples of expected outputs:

Example 1 - For the request "Delete all orders and their related items":
{
    "query": "DELETE FROM orders WHERE order_id IN (SELECT o.order_id FROM orders o JOIN order_items oi ON o.order_id = oi.order_id)",
    "summary": "Deletes orders and their related items using a subquery"
}

Example 2 - For the request "Update product prices and related order items":
{
    "query": "UPDATE products p SET price = p.price * 1.1 WHERE product_id IN (SELECT DISTINCT product_id FROM order_items WHERE order_date >= CURRENT_DATE - INTERVAL '30 days')",
    "summary": "Updates product prices with a 10%% increase for products ordered in the last 30 days"
}

Return only a JSON object with two fields:
1. 'query': the SQL query (single statement, proper spacing, no line breaks)
2. 'summary': a brief explanation of what the query does`, schema, prompt, attemptContext, errorContext)
}

func parseGeneration(response string) (Generation, error) {
	var generation Generation
	if err := json.Unmarshal([]byte(extractJSON(response)), &generation); err != nil {
		return Generation{}, fmt.Errorf("response is not a JSON object with 'query' and 'summary': %w", err)
	}
	if strings.TrimSpace(generation.Query) == "" || strings.TrimSpace(generation.Summary) == "" {
		return Generation{}, fmt.Errorf("response missing required 'query' or 'summary' field")
	}
	if hasMultipleStatements(generation.Query) {
		return Generation{}, fmt.Errorf("multiple SQL statements detected, only one statement is allowed")
	}
	return generation, nil
}

// hasMultipleStatements flags semicolons outside single-quoted string
// literals.
func hasMultipleStatements(query string) bool {
	inString := false
	for _, ch := range query {
		switch ch {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				return true
			}
		}
	}
	return false
}

// extractJSON trims markdown fences and any prose around the outermost
// JSON value. Models wrap output despite instructions not to.
func extractJSON(response string) string {
	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.IndexAny(trimmed, "{[")
	if start < 0 {
		return trimmed
	}
	var end int
	if trimmed[start] == '{' {
		end = strings.LastIndex(trimmed, "}")
	} else {
		end = strings.LastIndex(trimmed, "]")
	}
	if end <= start {
		return trimmed
	}
	return trimmed[start : end+1]
}
