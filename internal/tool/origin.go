package tool

import "context"

// Origin identifies the conversation a turn is being processed for.
// Tools that route replies or spawn work need it; it travels on the
// context so concurrent turns never share mutable tool state.
type Origin struct {
	Channel string
	ChatID  string
	Depth   int // sub-agent nesting depth, 0 for the root agent
}

type originKey struct{}

// WithOrigin attaches the turn's origin to the context.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFrom extracts the turn's origin, if any.
func OriginFrom(ctx context.Context) (Origin, bool) {
	o, ok := ctx.Value(originKey{}).(Origin)
	return o, ok
}
