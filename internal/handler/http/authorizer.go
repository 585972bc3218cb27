package http

import (
	"context"

	"escrowledger/internal/port"
)

type adminAuthorizer struct {
	admins map[string]struct{}
}

// NewAdminAuthorizer grants dispute resolution and payout processing to a
// fixed set of actor ids.
func NewAdminAuthorizer(ids []string) port.Authorizer {
	admins := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			admins[id] = struct{}{}
		}
	}
	return &adminAuthorizer{admins: admins}
}

func (a *adminAuthorizer) CanResolveDisputes(_ context.Context, actorID string) bool {
	_, ok := a.admins[actorID]
	return ok
}

func (a *adminAuthorizer) CanProcessPayouts(_ context.Context, actorID string) bool {
	_, ok := a.admins[actorID]
	return ok
}
