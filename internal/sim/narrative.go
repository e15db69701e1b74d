package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// SummaryStats is the telemetry handed to the narrative generator.
type SummaryStats struct {
	Logins      int64
	Denied      int64
	Throttled   int64
	Flagged     int64
	Payments    int
	TotalAmount float64
	Currency    string
	Duration    time.Duration
}

// SummaryRequest configures the OpenAI call.
type SummaryRequest struct {
	Model  string
	APIKey string
}

// Summarize asks the chat completions API for a short executive narrative of
// one simulation run.
func Summarize(ctx context.Context, stats SummaryStats, req SummaryRequest) (string, error) {
	if req.APIKey == "" {
		return "", errors.New("missing API key")
	}
	if req.Model == "" {
		req.Model = "gpt-4o-mini"
	}
	payload := map[string]any{
		"model": req.Model,
		"messages": []map[string]string{
			{"role": "system", "content": "You are a bank security operations analyst summarizing abuse-detection telemetry."},
			{"role": "user", "content": fmt.Sprintf("Successful logins: %d, denied: %d, throttled: %d, flagged probes: %d. Payments accepted: %d, volume %.2f %s, window %s. Provide a concise executive summary (max 3 sentences).", stats.Logins, stats.Denied, stats.Throttled, stats.Flagged, stats.Payments, stats.TotalAmount, stats.Currency, stats.Duration)},
		},
		"temperature": 0.2,
	}
	buf, _ := json.Marshal(payload)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("openai error: %s", resp.Status)
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return out.Choices[0].Message.Content, nil
}
