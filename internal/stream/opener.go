package stream

import (
	"context"
	"io"

	"github.com/user/deepchat/internal/types"
)

// Stream is a decoded event stream plus the underlying connection.
// Closing it releases the connection; a Decoder mid-record is abandoned.
type Stream struct {
	*Decoder
	body io.ReadCloser
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}

// Opener opens event streams against the backend, retrying transport
// failures with exponential backoff before giving up.
type Opener struct {
	backend types.Backend
	policy  *RetryPolicy
}

// NewOpener creates an Opener. A nil policy uses DefaultRetryPolicy.
func NewOpener(backend types.Backend, policy *RetryPolicy) *Opener {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	return &Opener{backend: backend, policy: policy}
}

// Policy returns the opener's retry policy, shared with callers that
// replay the request after a mid-stream failure.
func (o *Opener) Policy() *RetryPolicy {
	return o.policy
}

// Open initiates a streaming turn. On transport failure the whole
// request is retried per the policy; after the attempt budget is spent
// the last error is returned.
func (o *Opener) Open(ctx context.Context, req *types.StreamRequest) (*Stream, error) {
	var body io.ReadCloser
	err := o.policy.Execute(ctx, func() error {
		b, err := o.backend.OpenStream(ctx, req)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Stream{Decoder: NewDecoder(body), body: body}, nil
}
