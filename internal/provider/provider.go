// Package provider holds the uniform contract for external document-analysis
// providers and the error taxonomy the retry layer is built on.
package provider

import "context"

// Request is a provider-independent analysis request: where the content
// lives and what it claims to be.
type Request struct {
	ContentRef  string `json:"content_ref"`
	ContentType string `json:"content_type"`
}

// Usage is the provider-reported resource consumption for one request,
// kept so callers can attribute cost to whichever provider actually served it.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Chapter is one entry of the detected document structure.
type Chapter struct {
	Title  string `json:"title"`
	Order  int    `json:"order"`
	Anchor string `json:"anchor,omitempty"`
}

// Result has the same schema regardless of which provider produced it.
type Result struct {
	Chapters []Chapter        `json:"chapters"`
	Elements map[string]int64 `json:"elements"`
	Usage    Usage            `json:"usage"`
}

// Client is a single analysis provider. Implementations classify their own
// failures into provider.Error values before returning them.
type Client interface {
	Name() string
	Analyze(ctx context.Context, req Request) (*Result, error)
}
