package fsal

import "context"

// AuthContext carries the caller identity of one request.
//
// It is built by the protocol core for each request and threaded through
// every backend call. It is never cached across requests.
type AuthContext struct {
	Context context.Context

	// UID is the effective user ID (after any squashing done by the caller)
	UID uint32

	// GID is the effective primary group ID
	GID uint32

	// GIDs lists supplementary group IDs
	GIDs []uint32

	// ClientAddr is the network address of the client, for logging only
	ClientAddr string
}

// RootAuth returns an AuthContext for the superuser. Used by the CLI and
// by startup code that acts on behalf of the server itself.
func RootAuth(ctx context.Context) *AuthContext {
	return &AuthContext{Context: ctx}
}

// Ctx returns the request context, defaulting to context.Background.
func (a *AuthContext) Ctx() context.Context {
	if a == nil || a.Context == nil {
		return context.Background()
	}
	return a.Context
}

// IsRoot reports whether the caller is the superuser.
func (a *AuthContext) IsRoot() bool {
	return a != nil && a.UID == 0
}

// InGroup reports whether gid is the caller's primary or a supplementary group.
func (a *AuthContext) InGroup(gid uint32) bool {
	if a.GID == gid {
		return true
	}
	for _, g := range a.GIDs {
		if g == gid {
			return true
		}
	}
	return false
}
