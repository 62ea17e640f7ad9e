package rtvi

import (
	"context"

	"github.com/rtvi-ai/rtvi-client-go/pkg/protocol"
)

// SetPipeline declares the ordered processing stages the remote service
// should instantiate, plus per-stage configuration. The initial pipeline may
// instead be declared with WithPipeline, riding the client-ready handshake;
// SetPipeline covers dynamic reconfiguration on a ready session.
//
// Stage names are not validated locally beyond being non-empty: the set of
// legal stages is entirely server-defined, and the remote side may accept,
// coerce, or reject the request. Client-specified order is preserved on the
// wire.
func (c *Client) SetPipeline(ctx context.Context, stages []string, perStageConfig map[string][]protocol.Option) error {
	req := protocol.PipelineRequest{Stages: stages, Config: perStageConfig}
	if err := req.Validate(); err != nil {
		return err
	}
	if err := c.requireReady("change the pipeline"); err != nil {
		return err
	}
	_, err := c.sendUpdate(ctx, protocol.TypePipelineRequest, req, true)
	return err
}
