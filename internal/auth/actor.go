// Package auth models who is performing an operation. There are two kinds of
// actor: an interactive user resolved from request credentials, and the
// system actor the auto-approve sweep runs as. The system actor is scoped to
// a single user's resources; it is a restricted capability, not a bypass.
package auth

import (
	"github.com/eventflow/eventflow/internal/core"
)

// Actor identifies the principal behind an operation.
type Actor struct {
	UserID core.UserID
	System bool
}

// UserActor returns the actor for an authenticated user.
func UserActor(userID core.UserID) Actor {
	return Actor{UserID: userID}
}

// SystemActor returns the background actor acting on behalf of one user.
// It can only touch resources owned by that user.
func SystemActor(userID core.UserID) Actor {
	return Actor{UserID: userID, System: true}
}

// Name returns the audit actor label.
func (a Actor) Name() string {
	if a.System {
		return "system"
	}
	return "user"
}

// Owned is the ownership capability each resource store implements.
// The closed set of stores replaces looking resources up by model name.
type Owned interface {
	OwnerOf(id string) (core.UserID, error)
}

// RequireOwner checks that the actor owns the resource. A missing resource
// surfaces as its store's not-found error; a resource owned by someone else
// surfaces as that same not-found error so absence and foreign ownership are
// indistinguishable to the caller.
func RequireOwner(actor Actor, store Owned, id string, notFound error) error {
	owner, err := store.OwnerOf(id)
	if err != nil {
		return err
	}
	if owner != actor.UserID {
		return notFound
	}
	return nil
}
