package storage

import (
	"errors"

	"github.com/cuemby/reconnect/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Store defines the interface for durable queue state
type Store interface {
	// Jobs
	PutJob(job *types.JobRecord) error
	GetJob(id string) (*types.JobRecord, error)
	ListJobs() ([]*types.JobRecord, error)
	DeleteJob(id string) error

	// Meta holds small named values such as the pause flag and the
	// scanner's last seen block
	GetMeta(key string) ([]byte, error)
	PutMeta(key string, value []byte) error

	// Utility
	Close() error
}
