package signals

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const macroPrompt = "Summarise the last 12 hours of crypto news. " +
	"Return JSON: { 'bias': long|short|neutral, 'confidence': 0-1, 'headline': '...' } max 25 words."

// ChatAdvisor asks an OpenAI compatible chat completions endpoint for the
// market mood.
type ChatAdvisor struct {
	url    string
	model  string
	apiKey string
	client *http.Client
}

func NewChatAdvisor(url, model, apiKey string, timeout time.Duration) *ChatAdvisor {
	if model == "" {
		model = "gpt-4o"
	}
	return &ChatAdvisor{
		url:    strings.TrimRight(url, "/"),
		model:  model,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type macroAnswer struct {
	Bias       string  `json:"bias"`
	Confidence float64 `json:"confidence"`
	Headline   string  `json:"headline"`
}

func (a *ChatAdvisor) MacroBias(ctx context.Context) (float64, string, error) {
	if a.apiKey == "" {
		return 0, "", fmt.Errorf("macro advisor: no api key")
	}
	body, err := json.Marshal(chatRequest{
		Model:       a.model,
		Messages:    []chatMessage{{Role: "user", Content: macroPrompt}},
		Temperature: 0.3,
		MaxTokens:   60,
	})
	if err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("macro advisor: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("macro advisor: status %d: %s", resp.StatusCode, raw)
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return 0, "", fmt.Errorf("macro advisor: decode: %w", err)
	}
	if len(cr.Choices) == 0 {
		return 0, "", fmt.Errorf("macro advisor: empty response")
	}
	return parseMacroAnswer(cr.Choices[0].Message.Content)
}

func parseMacroAnswer(text string) (float64, string, error) {
	var ans macroAnswer
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &ans); err != nil {
		return 0, "", fmt.Errorf("macro advisor: answer: %w", err)
	}
	conf := clamp(ans.Confidence, 0, 1)
	switch strings.ToLower(ans.Bias) {
	case "long":
		return conf, ans.Headline, nil
	case "short":
		return -conf, ans.Headline, nil
	}
	return 0, ans.Headline, nil
}
