package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"salesflow/models"
)

// Personalizer rewrites a template-rendered message body for one lead. It is
// an independent failure domain: callers fall back to the rendered body on
// any error.
type Personalizer interface {
	Personalize(ctx context.Context, channel, body string, lead *models.Lead, orgID uint) (string, error)
}

// OpenAIPersonalizer rewrites message bodies through the OpenAI chat
// completion API.
type OpenAIPersonalizer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *logrus.Logger
}

func NewOpenAIPersonalizer(apiKey, model string, logger *logrus.Logger) *OpenAIPersonalizer {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIPersonalizer{
		client:  openai.NewClient(apiKey),
		model:   model,
		timeout: 20 * time.Second,
		logger:  logger,
	}
}

func (p *OpenAIPersonalizer) Personalize(ctx context.Context, channel, body string, lead *models.Lead, orgID uint) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	systemPrompt := fmt.Sprintf(
		"You rewrite sales outreach messages for the %s channel. Keep the meaning, the language and any links intact. "+
			"Adjust tone and wording so the message reads as if written personally for the recipient. "+
			"Return only the rewritten message body.", channel)

	userPrompt := fmt.Sprintf("Recipient: %s (%s, %s/%s, size: %s)\n\nMessage:\n%s",
		lead.Name, lead.LegalName, lead.City, lead.State, lead.SizeTier, body)

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("openai personalization failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai personalization returned no choices")
	}

	rewritten := strings.TrimSpace(resp.Choices[0].Message.Content)
	if rewritten == "" {
		return "", fmt.Errorf("openai personalization returned empty body")
	}

	p.logger.WithFields(logrus.Fields{
		"org_id":   orgID,
		"lead_id":  lead.ID,
		"tokens":   resp.Usage.TotalTokens,
		"duration": time.Since(start),
	}).Debug("personalized message body")

	return rewritten, nil
}
