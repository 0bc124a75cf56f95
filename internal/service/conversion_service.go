package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"epub-converter-service/internal/entity"
)

var (
	ErrSourceRequired  = errors.New("source_url is required")
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrQuotaExceeded   = errors.New("monthly conversion quota exceeded")
)

// JobRepository is the persistence port (implementation: postgresql.JobRepository).
type JobRepository interface {
	Create(ctx context.Context, ownerID string, input json.RawMessage) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// ConversionQueue is the small enqueue-only port of the claim queue.
type ConversionQueue interface {
	Enqueue(ctx context.Context, jobID string, priority int) error
}

// UsageCounter is the accounting port. Increment consumes quota only for
// accepted jobs (allowed=false consumes nothing) and is best-effort relative
// to job acceptance: its failure is logged, never blocking.
type UsageCounter interface {
	Increment(ctx context.Context, ownerID string) (count int64, allowed bool, err error)
}

// PriorityResolver maps an owner to a queue lane.
type PriorityResolver interface {
	Priority(ownerID string) int
}

type ConversionService struct {
	repo     JobRepository
	queue    ConversionQueue
	usage    UsageCounter
	priority PriorityResolver
	log      zerolog.Logger
}

func NewConversionService(repo JobRepository, queue ConversionQueue, usage UsageCounter, priority PriorityResolver, log zerolog.Logger) *ConversionService {
	return &ConversionService{
		repo:     repo,
		queue:    queue,
		usage:    usage,
		priority: priority,
		log:      log.With().Str("component", "conversion_service").Logger(),
	}
}

type CreateConversionRequest struct {
	OwnerID     string
	SourceURL   string
	ContentType string
}

// CreateConversion accepts a job: validates the request, counts it against
// the owner's monthly usage, persists it and enqueues it for a worker.
func (s *ConversionService) CreateConversion(ctx context.Context, req CreateConversionRequest) (uuid.UUID, error) {
	if req.SourceURL == "" {
		return uuid.Nil, ErrSourceRequired
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	if !strings.HasSuffix(contentType, "/pdf") {
		return uuid.Nil, ErrUnsupportedType
	}

	// accounting happens exactly once per accepted job, outside the stage
	// chain; a rejected request consumes nothing, and a counting outage must
	// not block conversions
	_, allowed, err := s.usage.Increment(ctx, req.OwnerID)
	if err != nil {
		s.log.Warn().Err(err).Str("owner_id", req.OwnerID).Msg("usage increment failed, accepting job anyway")
	} else if !allowed {
		return uuid.Nil, ErrQuotaExceeded
	}

	input, err := json.Marshal(entity.ConversionRequest{
		SourceURL:   req.SourceURL,
		ContentType: contentType,
	})
	if err != nil {
		return uuid.Nil, err
	}

	id, err := s.repo.Create(ctx, req.OwnerID, input)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.queue.Enqueue(ctx, id.String(), s.priority.Priority(req.OwnerID)); err != nil {
		return uuid.Nil, err
	}

	s.log.Info().Stringer("job_id", id).Str("owner_id", req.OwnerID).Msg("conversion accepted")
	return id, nil
}

func (s *ConversionService) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return s.repo.GetByID(ctx, id)
}

// CancelConversion requests cooperative cancellation, honored at the next
// stage boundary.
func (s *ConversionService) CancelConversion(ctx context.Context, id uuid.UUID) error {
	return s.repo.Cancel(ctx, id)
}
