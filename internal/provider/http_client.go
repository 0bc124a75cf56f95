package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// resultSchema is the contract for the model's structured output. A response
// that fails it is treated as transient: models occasionally emit malformed
// JSON and a retry usually fixes it.
const resultSchema = `{
  "type": "object",
  "required": ["chapters", "elements"],
  "properties": {
    "chapters": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "order"],
        "properties": {
          "title": {"type": "string"},
          "order": {"type": "integer"},
          "anchor": {"type": "string"}
        }
      }
    },
    "elements": {
      "type": "object",
      "additionalProperties": {"type": "integer", "minimum": 0}
    }
  }
}`

const analysisPrompt = `Analyze the referenced document and return ONLY a JSON object with
"chapters" (array of {title, order, anchor}) describing the reading order and
"elements" (object of counter name to count, e.g. images, tables, footnotes).`

// HTTPClientConfig configures one chat-completions compatible provider endpoint.
type HTTPClientConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// HTTPClient talks to an OpenRouter-compatible chat completions API and asks
// the model for a structured document analysis.
type HTTPClient struct {
	cfg        HTTPClientConfig
	httpClient *http.Client
	schema     *jsonschema.Schema
	log        zerolog.Logger
}

func NewHTTPClient(cfg HTTPClientConfig, log zerolog.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider %s: base url is required", cfg.Name)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("result.json", strings.NewReader(resultSchema)); err != nil {
		return nil, fmt.Errorf("add result schema: %w", err)
	}
	schema, err := compiler.Compile("result.json")
	if err != nil {
		return nil, fmt.Errorf("compile result schema: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		schema:     schema,
		log:        log.With().Str("provider", cfg.Name).Logger(),
	}, nil
}

func (c *HTTPClient) Name() string { return c.cfg.Name }

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Analyze sends one analysis request and parses the model's structured output.
// It performs no retries itself; classification happens here, retry/fallback
// decisions belong to the analysis router.
func (c *HTTPClient) Analyze(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, Permanent(c.cfg.Name, "analyze", fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(c.cfg.Name, "analyze", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// network failures and client-side timeouts are retryable
		return nil, Transient(c.cfg.Name, "analyze", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// drain so the connection can be reused; the body itself is never
		// propagated into errors
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, FromStatus(c.cfg.Name, "analyze", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, Transient(c.cfg.Name, "analyze", fmt.Errorf("decode response: %w", err))
	}
	if len(chat.Choices) == 0 {
		return nil, Transient(c.cfg.Name, "analyze", fmt.Errorf("empty choices"))
	}

	result, err := c.parseContent(chat.Choices[0].Message.Content)
	if err != nil {
		return nil, Transient(c.cfg.Name, "analyze", err)
	}
	result.Usage = Usage{
		PromptTokens:     chat.Usage.PromptTokens,
		CompletionTokens: chat.Usage.CompletionTokens,
	}

	c.log.Debug().
		Int("chapters", len(result.Chapters)).
		Int64("prompt_tokens", result.Usage.PromptTokens).
		Msg("analysis served")

	return result, nil
}

func (c *HTTPClient) buildRequest(req Request) chatRequest {
	return chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: analysisPrompt},
					{Type: "image_url", ImageURL: &imageURL{URL: req.ContentRef}},
				},
			},
		},
	}
}

// parseContent validates the model output against the result schema before
// trusting its shape.
func (c *HTTPClient) parseContent(content string) (*Result, error) {
	content = stripFences(content)

	var v any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, fmt.Errorf("model output is not JSON: %w", err)
	}
	if err := c.schema.Validate(v); err != nil {
		return nil, fmt.Errorf("model output does not match result schema: %w", err)
	}

	var result Result
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	if result.Elements == nil {
		result.Elements = map[string]int64{}
	}
	return &result, nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON in one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
