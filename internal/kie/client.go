// Package kie talks to the kie.ai job API: a task is created and then
// polled until it reports success or failure.
package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	ModelNanoBananaPro = "nano-banana-pro"
	ModelFlux2Pro      = "flux-2/pro"
)

var ErrTaskFailed = errors.New("kie task failed")

type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxAttempts  int
}

type Client struct {
	apiKey       string
	baseURL      string
	model        string
	pollInterval time.Duration
	maxAttempts  int
	httpClient   *http.Client
	log          *slog.Logger
}

type Request struct {
	Prompt       string
	AspectRatio  string
	Resolution   string
	InputURLs    []string
	OutputFormat string
}

type Image struct {
	URL    string
	TaskID string
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 60
	}
	if cfg.Model == "" {
		cfg.Model = ModelNanoBananaPro
	}
	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		model:        cfg.Model,
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxAttempts,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		log:          log,
	}
}

// Generate runs one generation with the configured model and waits for the
// resulting image.
func (c *Client) Generate(ctx context.Context, req Request) (*Image, error) {
	taskID, err := c.createTask(ctx, c.payload(req))
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	imageURL, err := c.pollTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &Image{URL: imageURL, TaskID: taskID}, nil
}

func (c *Client) payload(req Request) map[string]any {
	input := map[string]any{"prompt": req.Prompt}
	if req.AspectRatio != "" {
		input["aspect_ratio"] = req.AspectRatio
	}
	if req.Resolution != "" {
		input["resolution"] = req.Resolution
	}

	model := c.model
	if strings.HasPrefix(model, "flux-2") {
		// flux-2 is split into text-to-image and image-to-image models.
		if len(req.InputURLs) > 0 {
			model = ModelFlux2Pro + "-image-to-image"
			input["input_urls"] = req.InputURLs
		} else {
			model = ModelFlux2Pro + "-text-to-image"
		}
	} else {
		format := strings.ToLower(req.OutputFormat)
		if format == "" {
			format = "png"
		}
		input["output_format"] = format
		if len(req.InputURLs) > 0 {
			input["image_input"] = req.InputURLs
		}
	}
	return map[string]any{"model": model, "input": input}
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref := &url.URL{Path: path}
	if query != nil {
		ref.RawQuery = query.Encode()
	}
	return base.ResolveReference(ref).String(), nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error("kie request failed", "status", resp.StatusCode, "url", req.URL.String(), "body", truncateBody(raw))
		return nil, fmt.Errorf("kie error: status=%d body=%s", resp.StatusCode, truncateBody(raw))
	}
	return raw, nil
}

func (c *Client) createTask(ctx context.Context, payload map[string]any) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/createTask", nil)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Info("creating kie task", "model", payload["model"])
	raw, err := c.do(req)
	if err != nil {
		return "", err
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &createResp); err != nil {
		return "", fmt.Errorf("decode create task response: %w (body=%s)", err, truncateBody(raw))
	}
	if createResp.Code != http.StatusOK {
		return "", fmt.Errorf("create task failed: code=%d msg=%s", createResp.Code, createResp.Msg)
	}
	if createResp.Data.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}
	return createResp.Data.TaskID, nil
}

func (c *Client) pollTask(ctx context.Context, taskID string) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/recordInfo", url.Values{"taskId": {taskID}})
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return "", fmt.Errorf("new request: %w", err)
		}
		raw, err := c.do(req)
		if err != nil {
			return "", fmt.Errorf("get task status: %w", err)
		}

		var statusResp struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
			Data struct {
				State      string `json:"state"`
				ResultJSON string `json:"resultJson"`
				FailCode   string `json:"failCode"`
				FailMsg    string `json:"failMsg"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &statusResp); err != nil {
			return "", fmt.Errorf("decode status response: %w (body=%s)", err, truncateBody(raw))
		}
		if statusResp.Code != http.StatusOK {
			return "", fmt.Errorf("get task status failed: code=%d msg=%s", statusResp.Code, statusResp.Msg)
		}

		switch statusResp.Data.State {
		case "success":
			var result struct {
				ResultURLs []string `json:"resultUrls"`
			}
			if err := json.Unmarshal([]byte(statusResp.Data.ResultJSON), &result); err != nil {
				return "", fmt.Errorf("parse resultJson: %w", err)
			}
			if len(result.ResultURLs) == 0 {
				return "", fmt.Errorf("no resultUrls in result")
			}
			c.log.Info("kie task completed", "task_id", taskID, "attempt", attempt+1)
			return result.ResultURLs[0], nil

		case "fail":
			msg := statusResp.Data.FailMsg
			if msg == "" {
				msg = "unknown error"
			}
			c.log.Error("kie task failed", "task_id", taskID, "fail_code", statusResp.Data.FailCode, "fail_msg", msg)
			return "", fmt.Errorf("%w: %s (code: %s)", ErrTaskFailed, msg, statusResp.Data.FailCode)

		case "waiting", "generating", "processing", "queued", "queueing":
			if attempt%10 == 0 {
				c.log.Info("kie task waiting", "task_id", taskID, "attempt", attempt+1)
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.pollInterval):
			}

		default:
			return "", fmt.Errorf("unknown task state: %s", statusResp.Data.State)
		}
	}
	return "", fmt.Errorf("task %s timeout after %d attempts", taskID, c.maxAttempts)
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
