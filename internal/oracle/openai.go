package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// #region config

// OpenAIConfig configures an OpenAI-compatible chat completions backend.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // empty uses the library default
	Model       string
	Temperature float32
	MaxTokens   int
}

// #endregion config

// #region client

// OpenAIOracle sends prompts as single-turn chat completions.
type OpenAIOracle struct {
	client *openai.Client
	config OpenAIConfig
}

// NewOpenAIOracle builds an oracle from config.
func NewOpenAIOracle(config OpenAIConfig) (*OpenAIOracle, error) {
	if config.Model == "" {
		return nil, errors.New("openai oracle: model is required")
	}
	cc := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cc.BaseURL = config.BaseURL
	}
	return &OpenAIOracle{client: openai.NewClientWithConfig(cc), config: config}, nil
}

// Invoke sends prompt as the user message and returns the first choice.
func (o *OpenAIOracle) Invoke(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.config.Model,
		Temperature: o.config.Temperature,
		MaxTokens:   o.config.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", classifyOpenAI(fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", NewTransientError(errors.New("chat completion: no choices returned"))
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyOpenAI marks rate limits and server errors as transient.
func classifyOpenAI(err error) error {
	code := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	}
	switch {
	case code == http.StatusTooManyRequests || code >= 500:
		return NewTransientError(err)
	case code >= 400:
		return NewFatalError(err)
	}
	return err
}

// #endregion client
