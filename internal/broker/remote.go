package broker

import (
	"context"

	"github.com/okaneko/policylink/internal/canonical"
	"github.com/okaneko/policylink/internal/client"
	"github.com/okaneko/policylink/internal/pipeline"
)

// RemoteSource fetches chunks from a policy server: raw observation
// through the forward pipeline, one wire exchange, then the embodiment
// trim on the returned chunk.
type RemoteSource struct {
	Client *client.Client
	Pipe   *pipeline.Pipeline
}

var _ ChunkSource = (*RemoteSource)(nil)

func (s *RemoteSource) Fetch(ctx context.Context, raw pipeline.Raw) (canonical.ActionChunk, error) {
	sample, err := s.Pipe.Forward(raw)
	if err != nil {
		return nil, err
	}
	chunk, _, err := s.Client.Infer(ctx, sample.Observation())
	if err != nil {
		return nil, err
	}
	return s.Pipe.Embody(chunk)
}
