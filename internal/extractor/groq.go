package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"
)

const groqAPI = "https://api.groq.com/openai/v1/chat/completions"

// maxSceneChars bounds the text sent per request to keep prompts inside
// the provider's payload limits.
const maxSceneChars = 6000

// Client extracts narrative facts via Groq's chat completions API.
type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates an extraction client. model may be empty to use the
// default.
func NewClient(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GROQ_API_KEY environment variable not set")
	}
	if model == "" {
		model = "llama-3.1-8b-instant"
	}
	return &Client{
		apiKey:     apiKey,
		model:      model,
		httpClient: http.DefaultClient,
	}, nil
}

// Extract analyzes scene text and returns the candidate fact set.
func (c *Client) Extract(ctx context.Context, text string, activeCharacters []string) (*Extraction, error) {
	text = truncate(text, maxSceneChars)

	raw, err := c.callAPI(ctx, buildPrompt(text, activeCharacters))
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}

	return parseExtraction(raw)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func buildPrompt(text string, activeCharacters []string) string {
	var sb strings.Builder

	sb.WriteString("Analyze the scene text and extract the narrative graph. Return JSON only.\n\n")

	if len(activeCharacters) > 0 {
		sb.WriteString("Active characters from recent scenes (reuse these exact names when they reappear):\n")
		for _, name := range activeCharacters {
			sb.WriteString("- ")
			sb.WriteString(name)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString(`Return a JSON object with this structure:
{
  "characters": [
    {"name": "Name", "status": "alive", "archetype": "Role", "goal": "Goal"}
  ],
  "locations": [
    {"name": "Place Name", "atmosphere": "Mood"}
  ],
  "relationships": [
    {"source": "Name", "target": "Name", "type": "VERB", "context": "Reason"}
  ],
  "fact_refs": [
    {"character": "Name", "fact": "Fact label the character discusses"}
  ]
}

Rules:
- Extract PROPER NAMES only; never pronouns or generic terms like "the man".
- "source" and "target" must match "characters" names exactly.
- status is "alive" when the character is physically present and acting,
  "dead" when the text describes their dead body present,
  "mentioned" when they are only discussed, remembered or seen in a photo.
- fact_refs lists secrets or world knowledge a character talks about.
- Return empty lists when nothing qualifies. JSON only, no markdown.

Scene text:
`)
	sb.WriteString(text)

	return sb.String()
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) callAPI(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model:          c.model,
		Messages:       []chatMessage{{Role: "user", Content: prompt}},
		Temperature:    0.1,
		MaxTokens:      4000,
		ResponseFormat: &respFormat{Type: "json_object"},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", groqAPI, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp chatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("api error: %s", apiResp.Error.Message)
	}

	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("empty response")
	}

	return apiResp.Choices[0].Message.Content, nil
}

func parseExtraction(raw string) (*Extraction, error) {
	payload := FirstJSONObject(raw)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var ext Extraction
	if err := json.Unmarshal([]byte(payload), &ext); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return &ext, nil
}
