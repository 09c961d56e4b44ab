package shared

import (
	"context"
	"strconv"
)

// SystemActor is recorded as performer for engine-driven transitions.
const SystemActor = "system"

// Actor identifies the caller of a procurement operation.
type Actor struct {
	ID    int64
	OrgID int64
	Role  string
}

// Ref returns the actor id as an approver reference.
func (a Actor) Ref() string {
	return strconv.FormatInt(a.ID, 10)
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
