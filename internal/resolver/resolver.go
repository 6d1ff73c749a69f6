// Package resolver turns a user-supplied reference into a concrete entity.
//
// A reference is tried in a fixed order:
//
//  1. a canonical UUID is looked up by primary key and nothing else;
//  2. "12" or "#12" is a job number (jobs only);
//  3. anything else, or a number with no such job, is matched against names
//     case-insensitively.
//
// When nothing matches and the caller allows it, a draft job is created.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

// Backend is the read surface the resolver needs, plus job creation.
type Backend interface {
	GetJob(ctx context.Context, ownerID, id string) (*types.Job, error)
	GetJobByNumber(ctx context.Context, ownerID string, jobNo int64) (*types.Job, error)
	FindJobsByName(ctx context.Context, ownerID, name string) ([]*types.Job, error)
	CreateJob(ctx context.Context, job *types.Job) error
	GetQuote(ctx context.Context, ownerID, id string) (*types.Quote, error)
	FindQuotesByTitle(ctx context.Context, ownerID, title string) ([]*types.Quote, error)
	GetAgreement(ctx context.Context, ownerID, id string) (*types.Agreement, error)
	FindAgreementsByTitle(ctx context.Context, ownerID, title string) ([]*types.Agreement, error)
}

// Options tunes a single Resolve call.
type Options struct {
	// AllowCreate creates a draft job when nothing matches. Ignored for
	// quotes and agreements.
	AllowCreate bool
	// DefaultName names the created job when ref is empty.
	DefaultName string
}

var (
	uuidPattern   = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	numberPattern = regexp.MustCompile(`^#?(\d{1,9})$`)
)

// IsUUID reports whether ref has the canonical 8-4-4-4-12 shape.
func IsUUID(ref string) bool {
	return uuidPattern.MatchString(ref)
}

// Resolver resolves references within one tenant.
type Resolver struct {
	backend Backend
	log     *zap.Logger
}

// New creates a Resolver.
func New(backend Backend, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{backend: backend, log: log}
}

// Resolve finds the entity of kind named by ref for owner. It returns
// storage.ErrNotFound when nothing matches and creation is not allowed.
func (r *Resolver) Resolve(ctx context.Context, owner string, kind types.EntityKind, ref string, opts Options) (*types.Entity, error) {
	ref = normalizeRef(kind, ref)
	if ref == "" {
		if kind == types.EntityJob && opts.AllowCreate && opts.DefaultName != "" {
			return r.createJob(ctx, owner, opts.DefaultName)
		}
		return nil, fmt.Errorf("empty %s reference: %w", kind, storage.ErrNotFound)
	}

	switch kind {
	case types.EntityJob:
		return r.resolveJob(ctx, owner, ref, opts)
	case types.EntityQuote:
		return r.resolveQuote(ctx, owner, ref)
	case types.EntityAgreement:
		return r.resolveAgreement(ctx, owner, ref)
	default:
		return nil, fmt.Errorf("unsupported entity kind %q", kind)
	}
}

func normalizeRef(kind types.EntityKind, ref string) string {
	ref = strings.TrimSpace(ref)
	if kind == types.EntityJob {
		// "job 12" and "Job Roof repair" both name a job.
		if len(ref) > 4 && strings.EqualFold(ref[:4], "job ") {
			ref = strings.TrimSpace(ref[4:])
		}
	}
	return ref
}

func (r *Resolver) resolveJob(ctx context.Context, owner, ref string, opts Options) (*types.Entity, error) {
	if IsUUID(ref) {
		job, err := r.backend.GetJob(ctx, owner, strings.ToLower(ref))
		if err != nil {
			return nil, fmt.Errorf("resolve job %q: %w", ref, err)
		}
		return job.Entity(), nil
	}

	if m := numberPattern.FindStringSubmatch(ref); m != nil {
		n, _ := strconv.ParseInt(m[1], 10, 64)
		job, err := r.backend.GetJobByNumber(ctx, owner, n)
		switch {
		case err == nil:
			return job.Entity(), nil
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("resolve job %q: %w", ref, err)
		}
		// No job with that number: a job may literally be named "12".
	}

	jobs, err := r.backend.FindJobsByName(ctx, owner, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve job %q: %w", ref, err)
	}
	if len(jobs) > 0 {
		if len(jobs) > 1 {
			r.log.Debug("ambiguous job name, using lowest number",
				zap.String("tenant", owner), zap.String("ref", ref), zap.Int("matches", len(jobs)))
		}
		return jobs[0].Entity(), nil
	}

	if opts.AllowCreate && !numberPattern.MatchString(ref) {
		return r.createJob(ctx, owner, ref)
	}
	return nil, fmt.Errorf("no job matching %q: %w", ref, storage.ErrNotFound)
}

func (r *Resolver) createJob(ctx context.Context, owner, name string) (*types.Entity, error) {
	job := &types.Job{OwnerID: owner, Name: name, Status: types.JobDraft}
	if err := r.backend.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create draft job %q: %w", name, err)
	}
	r.log.Info("created draft job", zap.String("tenant", owner), zap.Int64("job_no", job.JobNo), zap.String("name", name))
	e := job.Entity()
	e.Created = true
	return e, nil
}

func (r *Resolver) resolveQuote(ctx context.Context, owner, ref string) (*types.Entity, error) {
	if IsUUID(ref) {
		q, err := r.backend.GetQuote(ctx, owner, strings.ToLower(ref))
		if err != nil {
			return nil, fmt.Errorf("resolve quote %q: %w", ref, err)
		}
		return q.Entity(), nil
	}
	quotes, err := r.backend.FindQuotesByTitle(ctx, owner, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve quote %q: %w", ref, err)
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("no quote matching %q: %w", ref, storage.ErrNotFound)
	}
	return quotes[0].Entity(), nil
}

func (r *Resolver) resolveAgreement(ctx context.Context, owner, ref string) (*types.Entity, error) {
	if IsUUID(ref) {
		a, err := r.backend.GetAgreement(ctx, owner, strings.ToLower(ref))
		if err != nil {
			return nil, fmt.Errorf("resolve agreement %q: %w", ref, err)
		}
		return a.Entity(), nil
	}
	agreements, err := r.backend.FindAgreementsByTitle(ctx, owner, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve agreement %q: %w", ref, err)
	}
	if len(agreements) == 0 {
		return nil, fmt.Errorf("no agreement matching %q: %w", ref, storage.ErrNotFound)
	}
	return agreements[0].Entity(), nil
}
