// Package model defines the policy boundary the server drives. Model
// internals (architecture, training) live outside this repository; the
// linear reference policy exists so the serving path, checkpoint merge,
// and end-to-end tests have a real inference implementation.
package model

import (
	"context"

	"github.com/okaneko/policylink/internal/canonical"
)

// Policy is one loaded model instance. Implementations must be safe for
// concurrent Infer calls: weights are immutable after load.
type Policy interface {
	// ModelID identifies the checkpoint/variant for the handshake.
	ModelID() string

	// Infer maps one canonical observation to one action chunk of the
	// interface's horizon and action dimensionality.
	Infer(ctx context.Context, obs canonical.Observation) (canonical.ActionChunk, error)
}
