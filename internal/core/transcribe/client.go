// Package transcribe talks to the external transcription provider. The
// provider may push results to our webhook or be polled; either way the
// payload reaching the pipeline is the same.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/classmate-app/classmate/internal/core"
	"github.com/classmate-app/classmate/internal/models"
)

// Client is a minimal submit+poll job client:
//
//	POST {base}/jobs           -> {"id": "..."}
//	GET  {base}/jobs/{id}      -> {"id", "status", "error", "output": {"language", "segments": [...]}}
//
// Parsing is kept tolerant so minor provider schema drift doesn't break ingestion.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type submitRequest struct {
	AudioURL string `json:"audio_url"`
	Language string `json:"language,omitempty"`
}

type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
	Output struct {
		Language string                 `json:"language"`
		Segments []models.TranscriptCue `json:"segments"`
	} `json:"output"`
}

func (c *Client) Submit(ctx context.Context, audioURL string, language string) (string, error) {
	body, err := json.Marshal(submitRequest{AudioURL: audioURL, Language: language})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit transcription job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("submit transcription job: provider returned %s", resp.Status)
	}

	var jr jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&jr); err != nil {
		return "", fmt.Errorf("decode job response: %w", err)
	}
	if jr.ID == "" {
		return "", fmt.Errorf("provider response missing job id")
	}
	return jr.ID, nil
}

func (c *Client) Poll(ctx context.Context, jobID string) (*core.TranscriptionResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll transcription job %s: %w", jobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("poll transcription job %s: provider returned %s", jobID, resp.Status)
	}

	var jr jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&jr); err != nil {
		return nil, fmt.Errorf("decode job status: %w", err)
	}

	res := &core.TranscriptionResult{
		JobID:    jobID,
		Language: jr.Output.Language,
		Cues:     jr.Output.Segments,
		Error:    jr.Error,
	}
	switch strings.ToLower(jr.Status) {
	case "completed", "complete", "succeeded", "success":
		res.Done = true
	case "failed", "error", "cancelled", "canceled":
		res.Failed = true
		if res.Error == "" {
			res.Error = "transcription job " + jr.Status
		}
	}
	return res, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
}

var _ core.Transcriber = (*Client)(nil)
