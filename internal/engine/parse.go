package engine

import (
	"encoding/json"
	"fmt"
	"image"
	"strings"
)

// textCapturePrompt is shared by the LLM backends for plain text recognition
const textCapturePrompt = `You are reading a photographed document page. Transcribe all of the text on the page exactly as it appears, preserving line breaks and reading order.

Important:
- Output only the transcribed text
- Do not describe the image
- Do not use markdown code blocks
- If the page has no readable text, output nothing`

// qualityPrompt is shared by the LLM backends for quality assessment
const qualityPrompt = `You are checking whether a photographed document page is good enough for OCR. Split the page into its layout blocks (paragraphs, tables, pictures) and rate each one.

Return ONLY valid JSON in this exact format:
{
  "blocks": [
    {"type": "text", "x": 0, "y": 0, "width": 0, "height": 0, "quality": 0}
  ]
}

Important:
- Coordinates are in pixels of the image, with the origin at the top left
- "type" is "text" for blocks containing text and "unknown" for anything else
- "quality" is an integer from 0 (unreadable) to 100 (perfectly readable)
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

type qualityResponse struct {
	Blocks []struct {
		Type    string  `json:"type"`
		X       int     `json:"x"`
		Y       int     `json:"y"`
		Width   int     `json:"width"`
		Height  int     `json:"height"`
		Quality float64 `json:"quality"`
	} `json:"blocks"`
}

// stripCodeFences removes markdown code blocks models sometimes add
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// parseQualityJSON parses the quality assessment JSON returned by a model
func parseQualityJSON(text string) ([]Block, error) {
	text = stripCodeFences(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var resp qualityResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	blocks := make([]Block, 0, len(resp.Blocks))
	for _, b := range resp.Blocks {
		if b.Width <= 0 || b.Height <= 0 {
			continue
		}
		blockType := UnknownBlock
		if strings.EqualFold(strings.TrimSpace(b.Type), string(TextBlock)) {
			blockType = TextBlock
		}
		blocks = append(blocks, Block{
			Type:    blockType,
			Rect:    image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height),
			Quality: clampQuality(b.Quality),
		})
	}
	return blocks, nil
}
