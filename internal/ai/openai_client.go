package ai

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

	"github.com/kdimtricp/vproctor/internal/platform"
)

const (
	openAIAPIURL = "https://api.openai.com/v1/chat/completions"
	openAIModel  = "gpt-4o"
)

// OpenAIClient implements IdentityMatcher with a vision chat completion that
// compares the verified photo against a live frame.
type OpenAIClient struct {
	apiKey     string
	endpoint   string
	threshold  float64
	httpClient *http.Client
}

func NewOpenAIClient(apiKey string, threshold float64) *OpenAIClient {
	return &OpenAIClient{
		apiKey:    apiKey,
		endpoint:  openAIAPIURL,
		threshold: threshold,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIMessage struct {
	Role    string              `json:"role"`
	Content []openAIContentPart `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type matchVerdict struct {
	Similarity float64 `json:"similarity"`
}

const matchPrompt = "You are verifying an exam candidate. The first image is the candidate's " +
	"verified photo, the second is a live webcam frame. Reply with JSON only: " +
	`{"similarity": <number between 0 and 1>} where 1 means certainly the same person ` +
	"and 0 means certainly a different person or no face."

func (c *OpenAIClient) Match(ctx context.Context, reference, candidate platform.Frame) (*MatchResult, error) {
	reqBody := openAIRequest{
		Model: openAIModel,
		Messages: []openAIMessage{
			{
				Role: "user",
				Content: []openAIContentPart{
					{Type: "text", Text: matchPrompt},
					{Type: "image_url", ImageURL: &openAIImageURL{URL: dataURL(reference.Data)}},
					{Type: "image_url", ImageURL: &openAIImageURL{URL: dataURL(candidate.Data)}},
				},
			},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(body, &openAIResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if openAIResp.Error != nil {
		return nil, fmt.Errorf("OpenAI API error: %s", openAIResp.Error.Message)
	}

	if len(openAIResp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	content := strings.TrimSpace(openAIResp.Choices[0].Message.Content)
	var verdict matchVerdict
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return nil, fmt.Errorf("unexpected match verdict %q: %w", content, err)
	}

	return &MatchResult{
		Similarity: verdict.Similarity,
		Matched:    verdict.Similarity >= c.threshold,
		CheckedAt:  time.Now(),
	}, nil
}

func dataURL(jpeg []byte) string {
	return fmt.Sprintf("data:image/jpeg;base64,%s", base64.StdEncoding.EncodeToString(jpeg))
}
