package lifecycle

import (
	"time"

	"github.com/google/uuid"
)

// Model kinds managed by the control plane.
const (
	KindAssignment = "assignment"
	KindOrdering   = "ordering"
)

// ModelVersion is one immutable generation of a model.
type ModelVersion struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Weights   Weights   `json:"weights"`
	Accuracy  float64   `json:"accuracy"`
	CreatedAt time.Time `json:"created_at"`
}

func newVersion(kind string, w Weights, accuracy float64, now time.Time) *ModelVersion {
	return &ModelVersion{
		ID:        uuid.New().String(),
		Kind:      kind,
		Weights:   w,
		Accuracy:  accuracy,
		CreatedAt: now,
	}
}

// State holds the three roles of a model. A State is never modified after
// it is published; transitions publish a new State.
type State struct {
	Active    *ModelVersion
	Candidate *ModelVersion
	Previous  *ModelVersion

	// Generation counts the transitions applied to the model. It orders
	// observer deliveries and replicated records.
	Generation uint64
}
