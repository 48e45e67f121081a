package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/zombor/mobile-capture/internal/imaging"
)

// Gemini implements Engine using Google Gemini
type Gemini struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
}

// GeminiFactory returns a Factory building Gemini engines.
// When apiKey is empty the license contents are used as the API key.
func GeminiFactory(apiKey string, modelName string) Factory {
	return func(license *License) (Engine, error) {
		key := apiKey
		if key == "" {
			key = license.Key()
		}
		return NewGemini(key, modelName)
	}
}

// NewGemini creates a new Gemini engine
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:    client,
		model:     client.GenerativeModel(modelName),
		modelName: modelName,
	}, nil
}

// RecognizeText transcribes the text on a page image
func (g *Gemini) RecognizeText(ctx context.Context, data []byte, contentType string) (string, error) {
	text, err := g.generate(ctx, data, contentType, textCapturePrompt)
	if err != nil {
		return "", err
	}
	return stripCodeFences(text), nil
}

// AssessQuality asks the model to rate the page's layout blocks
func (g *Gemini) AssessQuality(ctx context.Context, data []byte, contentType string) ([]Block, error) {
	text, err := g.generate(ctx, data, contentType, qualityPrompt)
	if err != nil {
		return nil, err
	}
	blocks, err := parseQualityJSON(text)
	if err != nil {
		return nil, fmt.Errorf("parsing quality blocks: %w", err)
	}
	return blocks, nil
}

func (g *Gemini) generate(ctx context.Context, data []byte, contentType string, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pngData, _, err := imaging.ToPNG(data, contentType)
	if err != nil {
		return "", err
	}

	// genai.ImageData expects just the format suffix (e.g., "png"), not the full MIME type
	parts := []genai.Part{
		genai.ImageData("png", pngData),
		genai.Text(prompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	return responseText.String(), nil
}

// Version returns the model name
func (g *Gemini) Version() string {
	return "gemini " + g.modelName
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
