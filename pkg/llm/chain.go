package llm

import (
	"context"
)

// Middleware wraps a Client with additional behavior.
type Middleware func(next Client) Client

// clientFunc adapts a plain function to Client.
type clientFunc struct {
	stream func(context.Context, Request) (<-chan Event, error)
	model  func() string
}

func (f clientFunc) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	return f.stream(ctx, req)
}

func (f clientFunc) ModelName() string {
	return f.model()
}

// WrapClient builds a Client that streams with fn and reports next's model name.
func WrapClient(next Client, fn func(context.Context, Request) (<-chan Event, error)) Client {
	return clientFunc{stream: fn, model: next.ModelName}
}

// Chain composes middlewares around base. The first middleware is outermost:
//
//	Chain(client, mw1, mw2) runs mw1 -> mw2 -> client
func Chain(base Client, middlewares ...Middleware) Client {
	client := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		client = middlewares[i](client)
	}
	return client
}
