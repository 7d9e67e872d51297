package storage

import (
	"errors"

	"github.com/cuemby/cadence/pkg/lifecycle"
	"github.com/cuemby/cadence/pkg/replay"
)

// ErrNotFound is returned when a key has never been written.
var ErrNotFound = errors.New("not found")

// ModelRecord is the persisted role assignment of one model kind. The
// Candidate role is transient and never stored.
type ModelRecord struct {
	Kind     string                  `json:"kind"`
	Active   *lifecycle.ModelVersion `json:"active"`
	Previous *lifecycle.ModelVersion `json:"previous,omitempty"`
	// Generation is the lifecycle generation of the stored assignment.
	Generation uint64 `json:"generation"`
}

// Store persists model versions and experience buffers so a node can
// warm-start.
type Store interface {
	// Models
	SaveModel(rec ModelRecord) error
	GetModel(kind string) (ModelRecord, error)
	ListModels() ([]ModelRecord, error)

	// Version history
	AppendVersion(v *lifecycle.ModelVersion) error
	ListVersions(kind string) ([]*lifecycle.ModelVersion, error)
	PruneVersions(kind string, keep int) (int, error)

	// Experiences
	SaveExperiences(name string, exps []replay.Experience) error
	LoadExperiences(name string) ([]replay.Experience, error)

	// Utility
	Close() error
}
