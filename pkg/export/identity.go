package export

import "github.com/marmos91/fsal/pkg/fsal"

// Default anonymous credentials ("nobody"/"nogroup").
const (
	DefaultAnonUID uint32 = 65534
	DefaultAnonGID uint32 = 65534
)

// IdentityMapping squashes caller credentials before they reach a
// backend.
type IdentityMapping struct {
	// AllSquash maps every caller to the anonymous identity
	AllSquash bool

	// RootSquash maps the superuser to the anonymous identity
	RootSquash bool

	// AnonUID and AnonGID are the anonymous identity (default 65534)
	AnonUID *uint32
	AnonGID *uint32
}

// Apply returns the effective credentials for actx.
//
// The caller's context is never modified: a squashed caller gets a copy.
// A nil actx is treated as an anonymous caller.
func (m *IdentityMapping) Apply(actx *fsal.AuthContext) *fsal.AuthContext {
	anon := func(from *fsal.AuthContext) *fsal.AuthContext {
		out := &fsal.AuthContext{UID: DefaultAnonUID, GID: DefaultAnonGID}
		if m.AnonUID != nil {
			out.UID = *m.AnonUID
		}
		if m.AnonGID != nil {
			out.GID = *m.AnonGID
		}
		if from != nil {
			out.Context = from.Context
			out.ClientAddr = from.ClientAddr
		}
		return out
	}

	switch {
	case actx == nil:
		return anon(nil)
	case m.AllSquash:
		return anon(actx)
	case m.RootSquash && actx.UID == 0:
		out := anon(actx)
		// A non-root primary group survives root squashing.
		if actx.GID != 0 {
			out.GID = actx.GID
			out.GIDs = actx.GIDs
		}
		return out
	default:
		return actx
	}
}

// caller applies the export's identity mapping.
func (e *Export) caller(actx *fsal.AuthContext) *fsal.AuthContext {
	return e.opts.Identity.Apply(actx)
}
