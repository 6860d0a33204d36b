// ABOUTME: Authorization decision procedure for user/service access
// ABOUTME: Resolves whether a user may call a service and with what credential

package registry

import (
	"context"
	"errors"

	"github.com/2389/coven-registry/internal/store"
)

// AccessState classifies the outcome of an access resolution.
type AccessState string

const (
	// AccessAuthorized means the user holds a credential for the service.
	AccessAuthorized AccessState = "authorized"
	// AccessNotRequired means the service accepts calls without credentials.
	AccessNotRequired AccessState = "not_required"
	// AccessUnauthorized means the service requires a credential the user
	// has not supplied.
	AccessUnauthorized AccessState = "unauthorized"
	// AccessServiceNotFound means no service with that name is registered.
	AccessServiceNotFound AccessState = "service_not_found"
)

// AccessDecision is the result of ResolveAccess. Token and Method are
// populated only when State is AccessAuthorized.
type AccessDecision struct {
	State  AccessState
	Token  string
	Method string
}

// ResolveAccess decides whether userID may call serviceName. The checks
// short-circuit in order: unknown service, service without an auth
// requirement, user without a stored credential, then authorized with the
// stored token and the service's auth method. The service is looked up
// again before returning the token so a removal racing this call yields
// service-not-found instead of a credential for a dead service.
func (e *Engine) ResolveAccess(ctx context.Context, serviceName, userID string) (*AccessDecision, error) {
	auth, err := e.store.GetServiceAuth(ctx, serviceName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &AccessDecision{State: AccessServiceNotFound}, nil
		}
		return nil, err
	}

	if !auth.RequiresAuthorization {
		return &AccessDecision{State: AccessNotRequired}, nil
	}

	token, err := e.store.GetUserServiceToken(ctx, userID, serviceName)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return &AccessDecision{State: AccessUnauthorized}, nil
	}

	auth, err = e.store.GetServiceAuth(ctx, serviceName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &AccessDecision{State: AccessServiceNotFound}, nil
		}
		return nil, err
	}

	return &AccessDecision{
		State:  AccessAuthorized,
		Token:  *token,
		Method: auth.AuthMethod,
	}, nil
}
