package recommend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reelay/models"
)

// ErrGeneration covers every failure of the text-generation backend:
// transport errors, non-2xx responses and unparseable output.
var ErrGeneration = errors.New("suggestion generation failed")

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Generator produces suggestion candidates from a prompt. The Gemini client
// is the production implementation; tests substitute a canned one.
type Generator interface {
	Generate(ctx context.Context, prompt string) ([]models.Suggestion, error)
}

type geminiClient struct {
	apiKey  string
	model   string
	baseURL string
	httpc   *http.Client
}

// NewGeminiGenerator builds the production generator. An empty baseURL
// selects the public Gemini endpoint.
func NewGeminiGenerator(apiKey, model, baseURL string) Generator {
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &geminiClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 60 * time.Second},
	}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (c *geminiClient) Generate(ctx context.Context, prompt string) ([]models.Suggestion, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: api key not configured", ErrGeneration)
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrGeneration, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var payload geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	if len(payload.Candidates) == 0 || len(payload.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrGeneration)
	}

	return parseSuggestions(payload.Candidates[0].Content.Parts[0].Text)
}

// parseSuggestions extracts a JSON array of suggestions from model output.
// Models often wrap JSON in markdown code fences or surrounding prose, so it
// locates the outermost array instead of decoding the text directly.
func parseSuggestions(text string) ([]models.Suggestion, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("%w: no JSON array in response", ErrGeneration)
	}

	var suggestions []models.Suggestion
	if err := json.Unmarshal([]byte(text[start:end+1]), &suggestions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	out := suggestions[:0]
	for _, s := range suggestions {
		s.Title = strings.TrimSpace(s.Title)
		if s.Title == "" {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
