package pipeline

import (
	"context"
	"encoding/json"

	"epub-converter-service/internal/analysis"
	"epub-converter-service/internal/convert"
	"epub-converter-service/internal/entity"
	"epub-converter-service/internal/provider"
)

// Production stage order: extract -> analyze -> package. Each stage declares
// its own typed input/output; the orchestrator only moves opaque payloads.

const (
	StageExtract = "extract"
	StageAnalyze = "analyze"
	StagePackage = "package"
)

// ExtractOutput is the extract stage's output and the analyze stage's input.
type ExtractOutput struct {
	HTMLRef   string   `json:"html_ref"`
	PageCount int      `json:"page_count"`
	ImageRefs []string `json:"image_refs,omitempty"`
}

// AnalyzeOutput is the analyze stage's output and the package stage's input.
type AnalyzeOutput struct {
	Chapters []provider.Chapter `json:"chapters"`
	HTMLRef  string             `json:"html_ref"`
	Elements map[string]int64   `json:"elements,omitempty"`
	Provider string             `json:"provider"`
	Usage    provider.Usage     `json:"usage"`
}

// PackageOutput is the final stage's output, exposed as the job result.
type PackageOutput struct {
	EPUBRef   string `json:"epub_ref"`
	SizeBytes int64  `json:"size_bytes"`
}

type extractStage struct {
	client *convert.ExtractorClient
}

func NewExtractStage(client *convert.ExtractorClient) Stage {
	return &extractStage{client: client}
}

func (s *extractStage) Name() string        { return StageExtract }
func (s *extractStage) Description() string { return "converting PDF to HTML" }

func (s *extractStage) Run(ctx context.Context, in json.RawMessage) (json.RawMessage, map[string]int64, error) {
	req, err := decodeInput[entity.ConversionRequest](StageExtract, in)
	if err != nil {
		return nil, nil, err
	}
	if req.SourceURL == "" {
		return nil, nil, &ContractError{Stage: StageExtract, Err: errMissingField("source_url")}
	}

	res, err := s.client.Convert(ctx, req.SourceURL, req.ContentType)
	if err != nil {
		return nil, nil, err
	}

	out, err := encodeOutput(StageExtract, ExtractOutput{
		HTMLRef:   res.HTMLRef,
		PageCount: res.PageCount,
		ImageRefs: res.ImageRefs,
	})
	if err != nil {
		return nil, nil, err
	}
	counters := map[string]int64{
		"pages":  int64(res.PageCount),
		"images": int64(len(res.ImageRefs)),
	}
	return out, counters, nil
}

type analyzeStage struct {
	router *analysis.Router
}

func NewAnalyzeStage(router *analysis.Router) Stage {
	return &analyzeStage{router: router}
}

func (s *analyzeStage) Name() string        { return StageAnalyze }
func (s *analyzeStage) Description() string { return "analyzing document structure" }

func (s *analyzeStage) Run(ctx context.Context, in json.RawMessage) (json.RawMessage, map[string]int64, error) {
	prev, err := decodeInput[ExtractOutput](StageAnalyze, in)
	if err != nil {
		return nil, nil, err
	}
	if prev.HTMLRef == "" {
		return nil, nil, &ContractError{Stage: StageAnalyze, Err: errMissingField("html_ref")}
	}

	result, served, err := s.router.Analyze(ctx, provider.Request{
		ContentRef:  prev.HTMLRef,
		ContentType: "text/html",
	})
	if err != nil {
		return nil, nil, err
	}

	counters := map[string]int64{"chapters": int64(len(result.Chapters))}
	for name, count := range result.Elements {
		counters[name] = count
	}

	out, err := encodeOutput(StageAnalyze, AnalyzeOutput{
		Chapters: result.Chapters,
		HTMLRef:  prev.HTMLRef,
		Elements: result.Elements,
		Provider: served,
		Usage:    result.Usage,
	})
	if err != nil {
		return nil, nil, err
	}
	return out, counters, nil
}

type packageStage struct {
	client *convert.PackagerClient
}

func NewPackageStage(client *convert.PackagerClient) Stage {
	return &packageStage{client: client}
}

func (s *packageStage) Name() string        { return StagePackage }
func (s *packageStage) Description() string { return "packaging EPUB" }

func (s *packageStage) Run(ctx context.Context, in json.RawMessage) (json.RawMessage, map[string]int64, error) {
	prev, err := decodeInput[AnalyzeOutput](StagePackage, in)
	if err != nil {
		return nil, nil, err
	}
	if prev.HTMLRef == "" {
		return nil, nil, &ContractError{Stage: StagePackage, Err: errMissingField("html_ref")}
	}

	res, err := s.client.Build(ctx, prev.HTMLRef, prev.Chapters)
	if err != nil {
		return nil, nil, err
	}

	out, err := encodeOutput(StagePackage, PackageOutput{
		EPUBRef:   res.EPUBRef,
		SizeBytes: res.SizeBytes,
	})
	if err != nil {
		return nil, nil, err
	}
	return out, nil, nil
}

// ProductionStages wires the declared conversion pipeline.
func ProductionStages(extractor *convert.ExtractorClient, router *analysis.Router, packager *convert.PackagerClient) []Stage {
	return []Stage{
		NewExtractStage(extractor),
		NewAnalyzeStage(router),
		NewPackageStage(packager),
	}
}

type missingFieldError string

func errMissingField(field string) error { return missingFieldError(field) }

func (e missingFieldError) Error() string { return "missing required field " + string(e) }
