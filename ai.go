package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAIModel = "claude-sonnet-4-5-20250929"

const evaluationSystemPrompt = `You evaluate weekly status updates written by engineering leads for their epics.
Score the update on five criteria, each an integer from 1 (poor) to 5 (excellent):
- epic_status_clarity: how clearly the update conveys where the epic stands
- deliverables_defined: whether concrete deliverables and their state are named
- risk_identification_and_mitigation: whether risks are surfaced with mitigations
- status_enum_justification: whether the On Track/At Risk/Off Track label is justified by the text
- delivery_confidence: how much confidence the update gives in the delivery date

Respond with JSON only (no markdown):
{"epic_status_clarity": {"score": 4, "explanation": "..."}, "deliverables_defined": {"score": 3, "explanation": "..."}, "risk_identification_and_mitigation": {"score": 2, "explanation": "..."}, "status_enum_justification": {"score": 4, "explanation": "..."}, "delivery_confidence": {"score": 3, "explanation": "..."}}`

type AIClient struct {
	client anthropic.Client
	model  string
}

func NewAIClient(cfg Config) (*AIClient, error) {
	if cfg.AnthropicAPIKey == "" {
		return nil, errors.New("anthropic_api_key is not configured")
	}
	model := cfg.AIModel
	if model == "" {
		model = defaultAIModel
	}
	return &AIClient{
		client: anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey)),
		model:  model,
	}, nil
}

// EvaluateUpdate scores an epic's latest update against the five-criteria
// rubric. The epic must have an update; callers handle absent updates before
// scoring.
func (c *AIClient) EvaluateUpdate(ctx context.Context, epic Epic) (Evaluation, error) {
	if epic.LastUpdate == nil {
		return Evaluation{}, fmt.Errorf("epic %s has no update to evaluate", epic.Key)
	}

	userPrompt := fmt.Sprintf(
		"Epic: %s - %s\nReported status: %s\nUpdate written on %s:\n\n%s",
		epic.Key, epic.Summary, epic.LastUpdate.Status,
		epic.LastUpdate.Updated.Format("2006-01-02"), epic.LastUpdate.Content,
	)

	log.Printf("ai evaluate epic=%s model=%s update_chars=%d", epic.Key, c.model, len(epic.LastUpdate.Content))
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: evaluationSystemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return Evaluation{}, fmt.Errorf("%w: %v", ErrAIService, err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			return parseEvaluation(block.Text)
		}
	}
	return Evaluation{}, fmt.Errorf("%w: no text content in response", ErrAIService)
}

// parseEvaluation decodes the model's JSON, tolerating markdown fences, and
// rejects anything outside the five-criteria 1..5 schema.
func parseEvaluation(responseText string) (Evaluation, error) {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	var eval Evaluation
	if err := json.Unmarshal([]byte(responseText), &eval); err != nil {
		return Evaluation{}, fmt.Errorf("%w: parsing evaluation: %v", ErrAIService, err)
	}
	if err := validateEvaluation(eval); err != nil {
		return Evaluation{}, err
	}
	return eval, nil
}

func validateEvaluation(eval Evaluation) error {
	names := []string{
		"epic_status_clarity",
		"deliverables_defined",
		"risk_identification_and_mitigation",
		"status_enum_justification",
		"delivery_confidence",
	}
	for i, c := range eval.criteria() {
		if c.Score < 1 || c.Score > 5 {
			return fmt.Errorf("%w: %s score %d out of range 1..5", ErrAIService, names[i], c.Score)
		}
	}
	return nil
}
