package export

import (
	"time"

	"github.com/marmos91/fsal/pkg/extattr"
	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/marmos91/fsal/pkg/fsal/handle"
)

// ============================================================================
// Extended attributes
// ============================================================================

// target describes h to the overlay. The pseudo directory has no backend
// and only carries the built-in attributes.
func (e *Export) target(actx *fsal.AuthContext, h handle.Handle) (*extattr.Target, error) {
	h, err := e.canonical(actx, h)
	if err != nil {
		return nil, err
	}

	t := &extattr.Target{Object: h.BackendObject()}
	if digest, err := e.codec.Encode(h, handle.DigestNFSv4); err == nil {
		t.Digest = digest
	}

	if h.Kind == handle.KindPseudoDir {
		attrs, err := e.pseudoAttrs(actx)
		if err != nil {
			return nil, err
		}
		t.Attrs = attrs
		t.Label = e.opts.PseudoDirName
		return t, nil
	}

	m, err := e.mountOf(h)
	if err != nil {
		return nil, err
	}
	st, err := m.Backend.Getattr(actx, t.Object)
	if err != nil {
		return nil, err
	}
	t.Backend = m.Backend
	t.Attrs = e.attrsOf(m, &st)
	t.Label = m.Label
	return t, nil
}

// ListExtAttrs enumerates the extended attributes of h from cookie, at
// most capacity entries. See extattr.Overlay.List for the cookie and eol
// semantics.
func (e *Export) ListExtAttrs(actx *fsal.AuthContext, h handle.Handle, cookie uint32, capacity int) (entries []extattr.Entry, next uint32, eol bool, err error) {
	defer e.observe("listxattr", time.Now(), &err)

	actx = e.caller(actx)
	t, err := e.target(actx, h)
	if err != nil {
		return nil, cookie, false, err
	}
	return e.overlay.List(actx, t, cookie, capacity)
}

// GetExtAttrByID returns the value of the attribute with the given id.
func (e *Export) GetExtAttrByID(actx *fsal.AuthContext, h handle.Handle, id uint32) (value []byte, err error) {
	defer e.observe("getxattr", time.Now(), &err)

	actx = e.caller(actx)
	t, err := e.target(actx, h)
	if err != nil {
		return nil, err
	}
	return e.overlay.GetByID(actx, t, id)
}

// GetExtAttrByName returns the value of the attribute called name.
func (e *Export) GetExtAttrByName(actx *fsal.AuthContext, h handle.Handle, name string) (value []byte, err error) {
	defer e.observe("getxattr", time.Now(), &err)

	actx = e.caller(actx)
	t, err := e.target(actx, h)
	if err != nil {
		return nil, err
	}
	return e.overlay.GetByName(actx, t, name)
}

// GetExtAttrIDByName returns the id of the attribute called name.
func (e *Export) GetExtAttrIDByName(actx *fsal.AuthContext, h handle.Handle, name string) (id uint32, err error) {
	defer e.observe("getxattr", time.Now(), &err)

	actx = e.caller(actx)
	t, err := e.target(actx, h)
	if err != nil {
		return 0, err
	}
	return e.overlay.IDByName(actx, t, name)
}

// SetExtAttrByID replaces the value of an existing real attribute.
func (e *Export) SetExtAttrByID(actx *fsal.AuthContext, h handle.Handle, id uint32, value []byte) (err error) {
	defer e.observe("setxattr", time.Now(), &err)

	if err := checkMutable(h); err != nil {
		return err
	}
	actx = e.caller(actx)
	t, err := e.target(actx, h)
	if err != nil {
		return err
	}
	return e.overlay.SetByID(actx, t, id, value)
}

// SetExtAttrByName stores the attribute called name. With create set the
// call fails with AlreadyExists if it is present.
func (e *Export) SetExtAttrByName(actx *fsal.AuthContext, h handle.Handle, name string, value []byte, create bool) (err error) {
	defer e.observe("setxattr", time.Now(), &err)

	if err := checkMutable(h); err != nil {
		return err
	}
	actx = e.caller(actx)
	t, err := e.target(actx, h)
	if err != nil {
		return err
	}
	return e.overlay.SetByName(actx, t, name, value, create)
}

// RemoveExtAttrByID deletes the real attribute with the given id.
func (e *Export) RemoveExtAttrByID(actx *fsal.AuthContext, h handle.Handle, id uint32) (err error) {
	defer e.observe("removexattr", time.Now(), &err)

	if err := checkMutable(h); err != nil {
		return err
	}
	actx = e.caller(actx)
	t, err := e.target(actx, h)
	if err != nil {
		return err
	}
	return e.overlay.RemoveByID(actx, t, id)
}

// RemoveExtAttrByName deletes the attribute called name.
func (e *Export) RemoveExtAttrByName(actx *fsal.AuthContext, h handle.Handle, name string) (err error) {
	defer e.observe("removexattr", time.Now(), &err)

	if err := checkMutable(h); err != nil {
		return err
	}
	actx = e.caller(actx)
	t, err := e.target(actx, h)
	if err != nil {
		return err
	}
	return e.overlay.RemoveByName(actx, t, name)
}

// ExtAttrAttributes returns the synthesized attributes of the extended
// attribute entry with the given id.
func (e *Export) ExtAttrAttributes(actx *fsal.AuthContext, h handle.Handle, id uint32) (attrs fsal.Attributes, err error) {
	defer e.observe("xattr_attrs", time.Now(), &err)

	actx = e.caller(actx)
	t, err := e.target(actx, h)
	if err != nil {
		return fsal.Attributes{}, err
	}
	return e.overlay.Attributes(t, id)
}
