package convert

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"epub-converter-service/internal/provider"
)

// BuildResult is the EPUB builder's output: a reference to the packaged file.
type BuildResult struct {
	EPUBRef   string `json:"epub_ref"`
	SizeBytes int64  `json:"size_bytes"`
}

type PackagerClient struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewPackagerClient(baseURL string, timeout time.Duration, log zerolog.Logger) *PackagerClient {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &PackagerClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "packager_client").Logger(),
	}
}

// Build packages the converted HTML plus the detected structure into an EPUB.
func (c *PackagerClient) Build(ctx context.Context, htmlRef string, chapters []provider.Chapter) (*BuildResult, error) {
	payload := map[string]any{
		"html_ref": htmlRef,
		"chapters": chapters,
	}
	var result BuildResult
	if err := postJSON(ctx, c.httpClient, "packager", "build", c.baseURL+"/v1/build", payload, &result); err != nil {
		return nil, err
	}
	if result.EPUBRef == "" {
		return nil, provider.Transient("packager", "build", fmt.Errorf("response missing epub_ref"))
	}
	c.log.Debug().Str("epub_ref", result.EPUBRef).Int64("size_bytes", result.SizeBytes).Msg("epub built")
	return &result, nil
}
