package attic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/spoolhq/spool/internal/telemetry"
	"github.com/spoolhq/spool/internal/types"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second

	// defaultModel is used unless SPOOL_AI_MODEL overrides it.
	defaultModel = "claude-3-5-haiku-20241022"
)

// ErrNoAPIKey is returned when explanation is requested without credentials.
var ErrNoAPIKey = errors.New("API key required")

// Explainer summarizes the divergence between a canonical issue and a
// preserved attic version using the Anthropic API.
type Explainer struct {
	client         anthropic.Client
	model          anthropic.Model
	tmpl           *template.Template
	maxRetries     int
	initialBackoff time.Duration
}

// NewExplainer creates an Explainer. ANTHROPIC_API_KEY takes precedence over
// the explicit key; with neither set it returns ErrNoAPIKey so callers can
// degrade gracefully.
func NewExplainer(apiKey string) (*Explainer, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY to use attic explain", ErrNoAPIKey)
	}

	tmpl, err := template.New("explain").Parse(explainPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse explain template: %w", err)
	}

	model := defaultModel
	if m := os.Getenv("SPOOL_AI_MODEL"); m != "" {
		model = m
	}

	aiMetricsOnce.Do(initAIMetrics)

	return &Explainer{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          anthropic.Model(model),
		tmpl:           tmpl,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

// Explain renders a short reviewer-facing summary of how the attic version
// differs from the current canonical issue and what was lost.
func (e *Explainer) Explain(ctx context.Context, entry *Entry, current *types.Issue) (string, error) {
	prompt, err := renderExplainPrompt(e.tmpl, entry, current)
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return e.callWithRetry(ctx, prompt)
}

// aiMetrics holds lazily-initialized OTel instruments for Anthropic API calls.
var aiMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var aiMetricsOnce sync.Once

func initAIMetrics() {
	m := telemetry.Meter("github.com/spoolhq/spool/ai")
	aiMetrics.inputTokens, _ = m.Int64Counter("sp.ai.input_tokens",
		metric.WithDescription("Anthropic API input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.outputTokens, _ = m.Int64Counter("sp.ai.output_tokens",
		metric.WithDescription("Anthropic API output tokens generated"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.duration, _ = m.Float64Histogram("sp.ai.request.duration",
		metric.WithDescription("Anthropic API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

func (e *Explainer) callWithRetry(ctx context.Context, prompt string) (string, error) {
	tracer := telemetry.Tracer("github.com/spoolhq/spool/ai")
	ctx, span := tracer.Start(ctx, "anthropic.messages.new")
	defer span.End()
	span.SetAttributes(
		attribute.String("sp.ai.model", string(e.model)),
		attribute.String("sp.ai.operation", "attic_explain"),
	)

	var lastErr error
	params := anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := e.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		t0 := time.Now()
		message, err := e.client.Messages.New(ctx, params)
		ms := float64(time.Since(t0).Milliseconds())

		if err == nil {
			modelAttr := attribute.String("sp.ai.model", string(e.model))
			if aiMetrics.inputTokens != nil {
				aiMetrics.inputTokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(modelAttr))
				aiMetrics.outputTokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(modelAttr))
				aiMetrics.duration.Record(ctx, ms, metric.WithAttributes(modelAttr))
			}
			span.SetAttributes(
				attribute.Int64("sp.ai.input_tokens", message.Usage.InputTokens),
				attribute.Int64("sp.ai.output_tokens", message.Usage.OutputTokens),
				attribute.Int("sp.ai.attempts", attempt+1),
			)

			if len(message.Content) > 0 {
				content := message.Content[0]
				if content.Type == "text" {
					return content.Text, nil
				}
				return "", fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type)
			}
			return "", fmt.Errorf("unexpected response format: no content blocks")
		}

		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("non-retryable error: %w", err)
		}
	}

	if lastErr != nil {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, lastErr.Error())
	}
	return "", fmt.Errorf("failed after %d retries: %w", e.maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	return false
}

type explainData struct {
	DisplayID string
	IssueID   string
	Reason    string
	SavedAt   string
	Conflicts string
	Canonical string
	Attic     string
}

func renderExplainPrompt(tmpl *template.Template, entry *Entry, current *types.Issue) (string, error) {
	data := explainData{
		DisplayID: entry.DisplayID,
		IssueID:   entry.IssueID,
		Reason:    entry.Reason,
		SavedAt:   entry.SavedAt.Format(time.RFC3339),
	}

	var lines []string
	for _, c := range entry.Conflicts {
		lines = append(lines, fmt.Sprintf("- %s: ours=%q theirs=%q winner=%s", c.Field, c.Ours, c.Theirs, c.Winner))
	}
	data.Conflicts = strings.Join(lines, "\n")

	if current != nil {
		canonical, err := json.MarshalIndent(current, "", "  ")
		if err != nil {
			return "", err
		}
		data.Canonical = string(canonical)
	}

	switch {
	case entry.Issue != nil:
		attic, err := json.MarshalIndent(entry.Issue, "", "  ")
		if err != nil {
			return "", err
		}
		data.Attic = string(attic)
	case entry.Raw != "":
		data.Attic = entry.Raw
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

const explainPromptTemplate = `Two versions of an issue-tracker document diverged during a sync merge. One version won and is now canonical; the losing version was preserved for review. Explain to the reviewer, in plain language, what the losing version contained that the canonical one does not, and whether anything meaningful would be lost by discarding it.

**Issue:** {{if .DisplayID}}{{.DisplayID}} ({{.IssueID}}){{else}}{{.IssueID}}{{end}}
**Merge decision:** {{.Reason}}
**Preserved at:** {{.SavedAt}}

{{if .Conflicts}}**Field decisions:**
{{.Conflicts}}
{{end}}
{{if .Canonical}}**Canonical version (current):**
` + "```json\n{{.Canonical}}\n```" + `
{{end}}
**Preserved losing version:**
{{if .Attic}}` + "```\n{{.Attic}}\n```" + `{{else}}(empty){{end}}

Answer in this exact format:

**What differs:** [1-3 bullet points naming the concrete field values that differ]

**What would be lost:** [One or two sentences on the substance of the losing edits]

**Suggested action:** [One sentence: keep canonical, restore the attic version, or merge a specific field by hand]`
