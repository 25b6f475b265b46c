package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Client wraps the Anthropic API for summarizing agent run output.
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

// buildSummaryPrompt constructs the system and user prompts for run summarization.
func buildSummaryPrompt(prompt, resultText string) (system string, user string) {
	system = `You summarize the output of an autonomous coding agent for a run-history log. Given the task prompt and the agent's final answer, return a single plain-text sentence (max 30 words) stating what the agent did and whether it succeeded.

Rules:
- One sentence, plain text only, no markdown, no quotes
- Lead with the action taken, not with "The agent"
- Mention concrete artifacts (files, functions, counts) when the answer names them`

	var sb strings.Builder
	sb.WriteString("Task prompt:\n")
	sb.WriteString(prompt)
	sb.WriteString("\n\nAgent answer:\n")
	sb.WriteString(resultText)
	user = sb.String()
	return
}

// stripFences removes markdown code fencing from an LLM response if present.
func stripFences(text string) string {
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

// SummarizeRun sends a completed run to the LLM and returns a one-line summary.
func (c *Client) SummarizeRun(ctx context.Context, prompt, resultText string) (string, error) {
	systemPrompt, userPrompt := buildSummaryPrompt(prompt, resultText)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 256,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}

	return stripFences(text), nil
}
