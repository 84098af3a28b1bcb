package store

import (
	"context"
	"errors"
	"strings"

	"github.com/dunamismax/pixelnorm/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}

// Store is a job store that also records usage.
type Store interface {
	JobStore
	UsageStore
	Close() error
}

// Open returns the in-memory store for dsn "memory" and a postgres store otherwise.
func Open(ctx context.Context, dsn string) (Store, error) {
	if strings.EqualFold(strings.TrimSpace(dsn), "memory") {
		return NewMemoryJobStore(), nil
	}
	return NewPostgresJobStore(ctx, dsn)
}
