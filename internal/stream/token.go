package stream

import (
	"context"
)

// TokenSink receives incremental answer fragments in generation order.
type TokenSink func(chunk string)

type tokenSinkKey struct{}

// WithTokenSink returns a context carrying sink for the answer-generation
// stage to stream through.
func WithTokenSink(ctx context.Context, sink TokenSink) context.Context {
	return context.WithValue(ctx, tokenSinkKey{}, sink)
}

// TokenSinkFromContext extracts the token sink, or nil when the turn is not
// being streamed incrementally.
func TokenSinkFromContext(ctx context.Context) TokenSink {
	if sink, ok := ctx.Value(tokenSinkKey{}).(TokenSink); ok {
		return sink
	}
	return nil
}
