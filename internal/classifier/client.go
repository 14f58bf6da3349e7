// Package classifier calls the external evidence analysis service.
package classifier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/civicpulse/backend/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxResponseBytes bounds how much of a classifier reply is read.
const maxResponseBytes = 1 << 20

// Verdict is the classifier's judgement on one evidence item.
type Verdict struct {
	IsValid         bool     `json:"isValid"`
	Confidence      float64  `json:"confidence"`
	Concerns        []string `json:"concerns"`
	Recommendations []string `json:"recommendations"`
}

// StatusError is returned when the classifier answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("classifier returned %d: %s", e.Code, e.Body)
}

// Client posts evidence records to the classifier endpoint.
type Client struct {
	url    string
	apiKey string
	http   *http.Client
}

// NewClient creates a classifier client. timeout bounds each call end to end.
func NewClient(url, apiKey string, timeout time.Duration) *Client {
	return &Client{url: url, apiKey: apiKey, http: &http.Client{Timeout: timeout}}
}

// Validate sends the full evidence record and returns the classifier verdict.
func (c *Client) Validate(ctx context.Context, ev *models.Evidence) (Verdict, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return Verdict{}, fmt.Errorf("encode evidence: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("classifier request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Verdict{}, fmt.Errorf("read classifier response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Verdict{}, &StatusError{Code: resp.StatusCode, Body: truncate(string(raw), 256)}
	}

	var v Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return Verdict{}, fmt.Errorf("decode classifier response: %w", err)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return Verdict{}, fmt.Errorf("classifier confidence %v outside [0,1]", v.Confidence)
	}
	return v, nil
}

// NotesJSON renders the verdict details stored as verification notes.
func (v Verdict) NotesJSON() string {
	concerns, recs := v.Concerns, v.Recommendations
	if concerns == nil {
		concerns = []string{}
	}
	if recs == nil {
		recs = []string{}
	}
	s, err := json.MarshalToString(struct {
		Confidence      float64  `json:"confidence"`
		Concerns        []string `json:"concerns"`
		Recommendations []string `json:"recommendations"`
	}{v.Confidence, concerns, recs})
	if err != nil {
		return "{}"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
