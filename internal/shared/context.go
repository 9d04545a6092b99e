package shared

import "context"

type actorContextKey struct{}

// Actor identifies the user performing an operation. Identity resolution is
// an external concern; the core only needs a stable id for ledger entries
// and created_by columns.
type Actor struct {
	ID int64
}

// ContextWithActor stores the acting user in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting user from context.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}
