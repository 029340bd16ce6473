// Package engine adapts a streaming Responses-style HTTP API to the
// narration engine interface. The response id doubles as the resumable
// handle via previous_response_id.
package engine

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

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/tablehub/tablehub/internal/application/narration"
)

const DefaultURL = "https://api.openai.com/v1/responses"

var ErrNotConfigured = errors.New("engine is not configured")

// Config configures the Responses endpoint.
type Config struct {
	URL        string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client implements narration.Engine.
type Client struct {
	cfg    Config
	logger zerolog.Logger
}

var _ narration.Engine = (*Client)(nil)

func New(cfg Config, logger zerolog.Logger) *Client {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With().Str("service", "engine").Logger(),
	}
}

type functionTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type inputItem struct {
	Type    string `json:"type"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	CallID  string `json:"call_id,omitempty"`
	Output  string `json:"output,omitempty"`
}

type requestBody struct {
	Model              string         `json:"model"`
	Instructions       string         `json:"instructions,omitempty"`
	Input              []inputItem    `json:"input"`
	PreviousResponseID string         `json:"previous_response_id,omitempty"`
	Tools              []functionTool `json:"tools,omitempty"`
	Stream             bool           `json:"stream"`
}

// Stream posts one request and returns the event stream of its response.
// A non-2xx status is returned as an error before any event is produced.
func (c *Client) Stream(ctx context.Context, req narration.EngineRequest) (narration.EngineStream, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" || strings.TrimSpace(c.cfg.Model) == "" {
		return nil, ErrNotConfigured
	}
	body, err := json.Marshal(c.buildBody(req))
	if err != nil {
		return nil, fmt.Errorf("marshal engine request: %w", err)
	}

	var cancel context.CancelFunc = func() {}
	if c.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build engine request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	res, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("engine request failed: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer cancel()
		defer res.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		msg := gjson.GetBytes(raw, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, fmt.Errorf("engine status %d: %s", res.StatusCode, msg)
	}
	c.logger.Debug().Bool("resume", req.Handle != "").Int("tool_results", len(req.ToolResults)).Msg("engine stream opened")
	return newStream(res.Body, cancel), nil
}

func (c *Client) buildBody(req narration.EngineRequest) requestBody {
	body := requestBody{
		Model:              c.cfg.Model,
		Instructions:       req.Instructions,
		PreviousResponseID: req.Handle,
		Stream:             true,
	}
	for _, r := range req.ToolResults {
		body.Input = append(body.Input, inputItem{Type: "function_call_output", CallID: r.CallID, Output: r.Output})
	}
	if req.Input != "" {
		body.Input = append(body.Input, inputItem{Type: "message", Role: "user", Content: req.Input})
	}
	for _, def := range req.Tools {
		body.Tools = append(body.Tools, functionTool{
			Type:        "function",
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Schema,
		})
	}
	return body
}
