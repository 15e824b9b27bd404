// Package store persists jobs, sessions and extracted products.
package store

import (
	"context"

	"github.com/sells-group/pricewatch-cli/internal/model"
)

// DefaultListLimit is applied when a filter leaves Limit unset.
const DefaultListLimit = 100

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// ProductFilter specifies criteria for listing products.
type ProductFilter struct {
	JobID  string `json:"job_id,omitempty"`
	Site   string `json:"site,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the scraping engine. Writes
// are idempotent so the engine may deliver the same state more than once.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	UpdateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// Sessions
	CreateSession(ctx context.Context, sess *model.Session) error
	UpdateSession(ctx context.Context, sess *model.Session) error
	ListSessions(ctx context.Context, jobID string) ([]model.Session, error)

	// Products
	InsertProducts(ctx context.Context, products []model.Product) (int, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]model.Product, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return n
}
