package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/mobile-capture/internal/imaging"
)

// Ollama implements Engine using a vision model served by Ollama
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// OllamaFactory returns a Factory building Ollama engines
func OllamaFactory(baseURL string, modelName string) Factory {
	return func(_ *License) (Engine, error) {
		return NewOllama(baseURL, modelName)
	}
}

// NewOllama creates a new Ollama engine.
// Vision models with decent OCR work best (llava:1.6, qwen2-vl:7b).
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		client: &http.Client{
			Timeout: 120 * time.Second, // vision models can be slow
		},
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// RecognizeText transcribes the text on a page image
func (o *Ollama) RecognizeText(ctx context.Context, data []byte, contentType string) (string, error) {
	text, err := o.chat(ctx, data, contentType, textCapturePrompt)
	if err != nil {
		return "", err
	}
	return stripCodeFences(text), nil
}

// AssessQuality asks the model to rate the page's layout blocks
func (o *Ollama) AssessQuality(ctx context.Context, data []byte, contentType string) ([]Block, error) {
	text, err := o.chat(ctx, data, contentType, qualityPrompt)
	if err != nil {
		return nil, err
	}
	blocks, err := parseQualityJSON(text)
	if err != nil {
		return nil, fmt.Errorf("parsing quality blocks: %w", err)
	}
	return blocks, nil
}

func (o *Ollama) chat(ctx context.Context, data []byte, contentType string, prompt string) (string, error) {
	pngData, _, err := imaging.ToPNG(data, contentType)
	if err != nil {
		return "", err
	}

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an expert at reading documents. You must carefully read all text in images and report it accurately.",
			},
			{
				Role:    "user",
				Content: prompt,
				Images:  []string{base64.StdEncoding.EncodeToString(pngData)},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return chatResp.Message.Content, nil
}

// Version returns the model name
func (o *Ollama) Version() string {
	return "ollama " + o.model
}

// Close is a no-op for the HTTP client
func (o *Ollama) Close() error {
	return nil
}
