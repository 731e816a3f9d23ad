package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/banshee-data/presence.report/internal/httputil"
)

// TextGenerator turns a summary into report HTML.
type TextGenerator interface {
	Generate(ctx context.Context, s DailySummary) (string, error)
}

// systemPrompt describes the report layout the generator is asked for.
const systemPrompt = `You are an expert data assistant. Prepare a professional "Daily Office Usage" report based on the provided data. The report must be HTML and include:
<h1>Daily Office Usage Report</h1>
<h2>Summary</h2> a brief overview of today's office usage: entries and exits, peak hours, notable changes.
<h2>RFID Data</h2> number of entries, peak activity time, low activity time.
<h2>Image Processing Data</h2> persons detected, peak activity time, low activity time.
<h2>Key Highlights</h2> attendance peaks, unusual usage patterns, key personnel movements.
<h2>Data Analysis &amp; Trends</h2> extended stays, irregular entry/exit patterns, clustering.
<h2>Conclusion &amp; Recommendations</h2> usage hours, security improvements, policy changes.
Reply with the HTML only.`

// BuildPrompt lists the day's statistics and every detailed record.
func BuildPrompt(s DailySummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Please analyze the following facility usage data for %s (%s):\n\n", s.Date, s.Timezone)

	fmt.Fprintf(&b, "Image Processing Data: %d detections, %d persons, %.2f average persons per detection.\n",
		s.Image.TotalDetections, s.Image.TotalPersons, s.Image.AveragePersons)
	for _, r := range s.Records {
		fmt.Fprintf(&b, "- Timestamp: %s, Persons detected: %d\n", r.At.Format(time.RFC3339), r.PersonCount)
	}

	fmt.Fprintf(&b, "\nRFID Access Data: %d events, %d unique cards, %d entries, %d exits.\n",
		s.Badge.TotalEvents, s.Badge.UniqueCards, s.Badge.TotalEntries, s.Badge.TotalExits)
	for _, e := range s.Events {
		fmt.Fprintf(&b, "- Card ID: %s, %s at %s\n", e.CardID, e.Kind(), e.At.Format(time.RFC3339))
	}

	b.WriteString("\nHourly activity:\n")
	for h := 0; h < 24; h++ {
		img, bh := s.Image.Hourly[h], s.Badge.Hourly[h]
		if img.Detections == 0 && bh.Total == 0 {
			continue
		}
		fmt.Fprintf(&b, "Hour %02d:00 - Persons: %d (max %d), Entries: %d, Exits: %d\n",
			h, img.TotalPersons, img.MaxPersons, bh.Entries, bh.Exits)
	}

	b.WriteString("\nPlease provide a detailed analysis of usage patterns, trends, and any notable observations.")
	return b.String()
}

// ChatClient calls an OpenAI-compatible chat completions endpoint.
type ChatClient struct {
	URL         string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Client      httputil.HTTPClient
}

// NewChatClient returns a client with the request shape the report expects.
func NewChatClient(url, model, apiKey string, timeout time.Duration) *ChatClient {
	return &ChatClient{
		URL:         url,
		Model:       model,
		APIKey:      apiKey,
		Temperature: 0.3,
		MaxTokens:   1500,
		Client:      &http.Client{Timeout: timeout},
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
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends the prompt and returns the first choice's content.
func (c *ChatClient) Generate(ctx context.Context, s DailySummary) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(s)},
		},
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	data, err := httputil.ReadBody(resp)
	if err != nil {
		return "", fmt.Errorf("chat response: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("generator error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("generator returned no choices")
	}
	return stripFence(out.Choices[0].Message.Content), nil
}

// stripFence removes a surrounding ```html ... ``` block if present.
func stripFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	} else {
		t = ""
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}
