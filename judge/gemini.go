package judge

import (
	"context"
	"errors"
	"fmt"

	"github.com/bt-bridge/worldsend-live/shared"
	"google.golang.org/genai"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini judges through the Gemini generateContent API with a JSON response
// schema.
type Gemini struct {
	models contentGenerator
	model  string
}

var _ Backend = (*Gemini)(nil)

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Gemini{models: client.Models, model: model}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Complete(ctx context.Context, instruction, utterance string) (string, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(utterance), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    responseSchema(),
	})
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("no response from model")
	}
	return text, nil
}

func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"reply":             {Type: genai.TypeString, Description: "The AI's response in the target language."},
			"mistakeFound":      {Type: genai.TypeBoolean, Description: "True if any linguistic error was found."},
			"explanation":       {Type: genai.TypeString, Description: "Mocking explanation of the error if found, otherwise empty."},
			"languageViolation": {Type: genai.TypeBoolean, Description: "True if the user spoke the wrong language."},
			"tensionIncrease":   {Type: genai.TypeNumber, Description: "Amount of tension to increase based on user performance (0-20)."},
		},
		Required: requiredFields,
	}
}

var requiredFields = []string{"reply", "mistakeFound", "explanation", "languageViolation", "tensionIncrease"}
