package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const anthropicAPI = "https://api.anthropic.com/v1/messages"

// Client adjudicates contradictions via the Anthropic messages API.
type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates an adjudicator client. model may be empty to use the
// default. timeout bounds each call; the caller's context can shorten it
// further.
func NewClient(apiKey, model string, timeout time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
	}
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Adjudicate classifies the contradiction. Any transport or parse
// failure is returned as an error so the caller applies the fallback.
func (c *Client) Adjudicate(ctx context.Context, contradiction Contradiction) (*Verdict, error) {
	raw, err := c.callAPI(ctx, buildPrompt(contradiction))
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	return ParseVerdict(raw)
}

// maxSceneBytes bounds the scene excerpt quoted in the prompt.
const maxSceneBytes = 1500

func buildPrompt(c Contradiction) string {
	sceneText := truncate(c.SceneText, maxSceneBytes)

	var sb strings.Builder

	sb.WriteString("You are a strict continuity logic engine. A conflict has been detected.\n\n")
	sb.WriteString("Conflict: ")
	sb.WriteString(c.Description)
	sb.WriteString("\nStored context: ")
	sb.WriteString(c.PriorContext)
	sb.WriteString("\n\nScene text:\n")
	sb.WriteString(sceneText)
	sb.WriteString("\n\n")

	sb.WriteString(`Rules:
1. Look for narrative devices that explain the conflict:
   - explicit framing ("he remembered", "it was a dream")
   - temporal markers ("it was 1990", "ten years ago", "back in the war")
   - reality breaks ("the hologram flickered", "he looked like a ghost")
2. If such a cue places the passage outside present story time, the
   verdict is INTENTIONAL.
3. If no such cue exists, the verdict is ERROR.

Return a JSON object with this structure:
{
  "verdict": "ERROR" or "INTENTIONAL",
  "confidence": 0.0 to 1.0,
  "detailed_analysis": "Explanation referencing specific words in the scene",
  "fix_suggestion": "Actionable advice for the writer"
}

Return ONLY the JSON, no other text.`)

	return sb.String()
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

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) callAPI(ctx context.Context, prompt string) (string, error) {
	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: 1024,
		Messages: []apiMessage{
			{Role: "user", Content: prompt},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", anthropicAPI, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

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

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("api error: %s", apiResp.Error.Message)
	}

	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("empty response")
	}

	return apiResp.Content[0].Text, nil
}
