// Package intake turns user-supplied sources into queued jobs.
//
// A source is either a source reference ("570", "4000:123456") or a workshop
// page URL. URLs are resolved to a reference and a title before enqueueing;
// a URL whose metadata cannot be extracted enqueues nothing.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/wsfetch/pkg/events"
	"github.com/3leaps/wsfetch/pkg/metadata"
	"github.com/3leaps/wsfetch/pkg/queue"
)

// ErrNotRetryable is returned when retrying a job that has not failed.
var ErrNotRetryable = errors.New("only failed jobs can be retried")

// Jobs is the subset of *queue.Store intake uses.
type Jobs interface {
	Enqueue(ref queue.SourceRef, name string) (string, error)
	Get(id string) (queue.Job, bool)
}

// MetadataResolver resolves workshop URLs. *metadata.Resolver implements it.
type MetadataResolver interface {
	Resolve(ctx context.Context, pageURL string) (metadata.Metadata, error)
}

// Intake enqueues jobs.
type Intake struct {
	jobs     Jobs
	resolver MetadataResolver
	pub      events.Publisher
	logger   *zap.Logger
}

// New wires an intake. resolver may be nil, in which case URL sources are
// rejected with metadata.ErrInvalidURL.
func New(jobs Jobs, resolver MetadataResolver, pub events.Publisher, logger *zap.Logger) *Intake {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Intake{jobs: jobs, resolver: resolver, pub: events.OrDiscard(pub), logger: logger}
}

// Request is one submission.
type Request struct {
	Source string `json:"source"`
	Name   string `json:"name,omitempty"`
}

// Submit resolves and enqueues one source and returns the new job id.
//
// For URL sources an explicit name wins over the page title. For references
// without a name the reference string is used.
func (in *Intake) Submit(ctx context.Context, req Request) (string, error) {
	source := strings.TrimSpace(req.Source)
	name := strings.TrimSpace(req.Name)

	var ref queue.SourceRef
	switch {
	case metadata.IsWorkshopURL(source):
		if in.resolver == nil {
			return "", fmt.Errorf("%w: url sources need a metadata resolver", metadata.ErrInvalidURL)
		}
		meta, err := in.resolver.Resolve(ctx, source)
		if err != nil {
			return "", err
		}
		ref, err = queue.ParseSourceRef(meta.SourceRef())
		if err != nil {
			return "", err
		}
		if name == "" {
			name = meta.Title
		}
	case strings.Contains(source, "://"):
		return "", fmt.Errorf("%w: only %s urls are supported", metadata.ErrInvalidURL, metadata.WorkshopHost)
	default:
		var err error
		ref, err = queue.ParseSourceRef(source)
		if err != nil {
			return "", err
		}
		if name == "" {
			name = ref.String()
		}
	}

	return in.enqueue(ref, name)
}

// Retry enqueues a fresh job with the source and name of a failed job.
func (in *Intake) Retry(id string) (string, error) {
	job, ok := in.jobs.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", queue.ErrJobNotFound, id)
	}
	if job.Status.State != queue.StateFailed {
		return "", fmt.Errorf("%w: job %s is %s", ErrNotRetryable, id, job.Status.State)
	}
	return in.enqueue(job.SourceRef, job.Name)
}

func (in *Intake) enqueue(ref queue.SourceRef, name string) (string, error) {
	id, err := in.jobs.Enqueue(ref, name)
	if err != nil {
		return "", err
	}
	in.logger.Info("job enqueued",
		zap.String("job_id", id),
		zap.String("source_ref", ref.String()),
		zap.String("name", name),
	)
	in.pub.Publish(events.QueueChanged())
	return id, nil
}
