// Package convert holds the thin HTTP clients for the deterministic external
// collaborators: the PDF-to-HTML conversion service and the EPUB builder.
// Both pre-classify their failures with the provider error taxonomy.
package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"epub-converter-service/internal/provider"
)

// ExtractResult is what the conversion service hands back for a source PDF.
type ExtractResult struct {
	HTMLRef   string   `json:"html_ref"`
	PageCount int      `json:"page_count"`
	ImageRefs []string `json:"image_refs,omitempty"`
}

type ExtractorClient struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewExtractorClient(baseURL string, timeout time.Duration, log zerolog.Logger) *ExtractorClient {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &ExtractorClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "extractor_client").Logger(),
	}
}

// Convert asks the external service to render the source PDF to HTML.
func (c *ExtractorClient) Convert(ctx context.Context, sourceURL, contentType string) (*ExtractResult, error) {
	payload := map[string]string{
		"source_url":   sourceURL,
		"content_type": contentType,
	}
	var result ExtractResult
	if err := postJSON(ctx, c.httpClient, "extractor", "convert", c.baseURL+"/v1/convert", payload, &result); err != nil {
		return nil, err
	}
	if result.HTMLRef == "" {
		return nil, provider.Transient("extractor", "convert", fmt.Errorf("response missing html_ref"))
	}
	c.log.Debug().Str("html_ref", result.HTMLRef).Int("pages", result.PageCount).Msg("pdf converted")
	return &result, nil
}

// postJSON posts a JSON payload and decodes the JSON response, mapping HTTP
// failures onto classified provider errors.
func postJSON(ctx context.Context, client *http.Client, service, op, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return provider.Permanent(service, op, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return provider.Permanent(service, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return provider.Transient(service, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return provider.FromStatus(service, op, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return provider.Transient(service, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
