package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Finding is one observation about a task set or policy.
type Finding struct {
	TaskSet     string `json:"taskset"`
	Policy      string `json:"policy,omitempty"`
	Observation string `json:"observation"`
}

// SweepAssessment holds the full response from Claude.
type SweepAssessment struct {
	Summary  string    `json:"summary"`
	Findings []Finding `json:"findings"`
}

// Client wraps the Anthropic SDK for Claude API calls.
type Client struct {
	inner anthropic.Client
	model anthropic.Model
}

// NewClient creates a Claude client. apiKey defaults to ANTHROPIC_API_KEY env.
// model defaults to Claude Sonnet.
func NewClient(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	inner := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	m := anthropic.ModelClaudeSonnet4_6
	if model != "" {
		m = anthropic.Model(model)
	}

	return &Client{inner: inner, model: m}, nil
}

const summariseSweepPrompt = `You are a real-time systems engineer reviewing a schedulability sweep.

Each job ran one task set of periodic DAG tasks on a fixed mix of heterogeneous
processors (CPU cores, GPUs, copy engines, FPGAs) under one policy:
- edf: non-preemptive earliest-deadline-first over per-segment internal deadlines.
- rm: preemptive rate-monotonic (shorter period = higher priority); only CPU-family
  processors can be preempted.
Deadline strategies: "fair" splits the period by node counts along the DAG,
"proportional" splits it by critical-path and future-work lengths.

You will receive the sweep summary table and, per task set, its deadline analysis.

Return your answer as JSON with this exact structure:
{
  "summary": "<one paragraph overall assessment comparing policies and strategies>",
  "findings": [
    {"taskset": "<file or name>", "policy": "<edf|rm, optional>", "observation": "<one or two sentences>"}
  ]
}

Point out which task sets are unschedulable under one policy but not the other and
suggest a structural cause (long critical path, contended processor type,
non-preemptive blocking). Do not repeat the table.

Return ONLY the JSON object. No markdown fences, no commentary outside the JSON.
`

// buildPrompt constructs the user content: the summary followed by each task
// set's analysis, in a stable order.
func buildPrompt(sweepSummary string, analyses map[string]string, order []string) string {
	var b strings.Builder
	b.WriteString("## Sweep Summary\n\n")
	b.WriteString(sweepSummary)
	b.WriteString("\n\n## Deadline Analysis\n\n")
	for _, name := range order {
		a, ok := analyses[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "### %s\n```\n%s\n```\n\n", name, a)
	}
	return b.String()
}

// SummariseSweep sends a sweep summary and per-task-set analyses to Claude and
// returns its assessment.
func (c *Client) SummariseSweep(ctx context.Context, sweepSummary string, analyses map[string]string, order []string) (*SweepAssessment, error) {
	resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(4096),
		System: []anthropic.TextBlockParam{
			{Text: summariseSweepPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(sweepSummary, analyses, order))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude API call: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return parseAssessment(text)
}

func parseAssessment(text string) (*SweepAssessment, error) {
	text = stripJSONFences(text)

	var result SweepAssessment
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("parse claude response: %w\nraw: %s", err, text)
	}
	return &result, nil
}

// stripJSONFences removes markdown code fences that Claude sometimes adds.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}
