package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

const systemPrompt = `You are FloatChat AI, an assistant for questions about the ocean, marine life, ecology and the biosphere.
Answer clearly and accurately in a friendly tone. Prefer short paragraphs.
When a question is outside ocean and environmental science, answer briefly and steer back to those topics.
If you are unsure, say so instead of inventing facts.`

// Service answers chat messages with an eino chain over a chat model.
type Service struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger *zap.Logger
}

// NewService compiles the prompt + model chain.
func NewService(ctx context.Context, chatModel model.ChatModel, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{chain: runnable, logger: logger.With(zap.String("component", "ai"))}, nil
}

// Reply generates an answer for one user message.
func (s *Service) Reply(ctx context.Context, message string) (string, error) {
	response, err := s.chain.Invoke(ctx, map[string]any{
		"system": systemPrompt,
		"query":  message,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	reply := strings.TrimSpace(response.Content)
	s.logger.Debug("generated reply", zap.Int("length", len(reply)))
	return reply, nil
}
