package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MaxEstimate caps the number of pomodoros a single estimate may return.
const MaxEstimate = 16

// Estimate is the model's pomodoro estimate for a task.
type Estimate struct {
	Pomodoros int    `json:"pomodoros"`
	Reasoning string `json:"reasoning"`
}

// Client wraps the Anthropic API for task estimation.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildEstimatePrompt constructs the system and user prompts for a pomodoro estimate.
func buildEstimatePrompt(title, description string, durationMinutes int) (system string, user string) {
	system = fmt.Sprintf(`You estimate how many pomodoro sessions a task needs. One pomodoro is %d minutes of focused work. Return a JSON object with exactly two fields:

- "pomodoros": integer number of sessions, between 1 and %d
- "reasoning": one sentence explaining the estimate

Rules:
- Round up when unsure; a partial session still counts as one
- Split-worthy tasks larger than %d sessions should still return %d
- Return valid JSON only, no markdown fencing or explanation`, durationMinutes, MaxEstimate, MaxEstimate, MaxEstimate)

	var sb strings.Builder
	sb.WriteString("Task title: ")
	sb.WriteString(title)
	sb.WriteString("\n")
	if description != "" {
		sb.WriteString("\nDescription:\n")
		sb.WriteString(description)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// stripFencing removes a surrounding markdown code fence if present.
func stripFencing(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// parseEstimate decodes the model response and clamps the count to [1, MaxEstimate].
func parseEstimate(text string) (*Estimate, error) {
	text = stripFencing(text)
	var est Estimate
	if err := json.Unmarshal([]byte(text), &est); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	est.Pomodoros = min(max(est.Pomodoros, 1), MaxEstimate)
	return &est, nil
}

// EstimatePomodoros asks the model how many sessions of durationMinutes the task needs.
func (c *Client) EstimatePomodoros(ctx context.Context, title, description string, durationMinutes int) (*Estimate, error) {
	systemPrompt, userPrompt := buildEstimatePrompt(title, description, durationMinutes)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 512,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	return parseEstimate(text)
}
