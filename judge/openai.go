package judge

import (
	"context"
	"errors"
	"fmt"

	"github.com/bt-bridge/worldsend-live/shared"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

type completionCreator interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAI judges through chat completions with a strict JSON schema.
type OpenAI struct {
	completions completionCreator
	model       string
}

var _ Backend = (*OpenAI)(nil)

func NewOpenAI(apiKey, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAI{completions: &client.Chat.Completions, model: model}, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Complete(ctx context.Context, instruction, utterance string) (string, error) {
	resp, err := o.completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(instruction),
			openai.UserMessage(utterance),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "judgment",
					Schema: jsonSchema(),
					Strict: openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("creating chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.New("no response from model")
	}
	return resp.Choices[0].Message.Content, nil
}

func jsonSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reply":             map[string]any{"type": "string"},
			"mistakeFound":      map[string]any{"type": "boolean"},
			"explanation":       map[string]any{"type": "string"},
			"languageViolation": map[string]any{"type": "boolean"},
			"tensionIncrease":   map[string]any{"type": "number", "minimum": 0, "maximum": MaxTensionIncrease},
		},
		"required":             requiredFields,
		"additionalProperties": false,
	}
}
