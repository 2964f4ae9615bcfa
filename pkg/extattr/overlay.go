// Package extattr merges a fixed table of synthetic, read-only extended
// attributes with the real extended attributes stored by a backend.
//
// Every attribute of an object has a numeric id. Ids below StaticCount
// address the built-in table; real attributes are numbered from
// StaticCount upwards in the order the backend lists them. The id is also
// the enumeration cookie: List resumes after the entry whose cookie it is
// given.
//
// Real attribute ids are positions in the backend listing and are only
// stable while the set of attributes on the object does not change.
package extattr

import (
	"github.com/marmos91/fsal/internal/logger"
	"github.com/marmos91/fsal/pkg/fsal"
)

// CookieRealOnly is a List cookie that skips the built-in attributes and
// starts with the first real one.
const CookieRealOnly = ^uint32(0)

// defaultBlockSize is reported when the backend does not provide one.
const defaultBlockSize = 512

// Target is the object an overlay call operates on.
//
// The caller fills it from the object's handle and current attributes;
// the overlay never looks the object up by itself.
type Target struct {
	// Backend holds the real extended attributes (nil for synthetic
	// objects, which only carry the built-in ones)
	Backend fsal.Backend

	// Object is the backend object
	Object fsal.Object

	// Attrs are the object's own generic attributes (Type must be set)
	Attrs fsal.Attributes

	// Digest is the object's full handle digest, reported by fsal.handle
	Digest []byte

	// Label names the mount holding the object, reported by fsal.snapshot
	Label string
}

// realNames lists the backend attributes of the target. Targets without a
// backend (synthetic objects) have none.
func (t *Target) realNames(actx *fsal.AuthContext) ([]string, error) {
	if t.Backend == nil {
		return nil, nil
	}
	names, err := t.Backend.ListXattrs(actx, t.Object)
	if fsal.IsCode(err, fsal.ErrUnsupported) {
		// A filesystem without extended attributes has none to list.
		return nil, nil
	}
	return names, err
}

func (t *Target) blockSize() uint64 {
	if t.Backend != nil {
		if bs := t.Backend.BlockSize(); bs > 0 {
			return uint64(bs)
		}
	}
	return defaultBlockSize
}

// Entry is one attribute returned by List.
type Entry struct {
	ID     uint32
	Name   string
	Cookie uint32
	Attrs  fsal.Attributes
}

// Options configure an Overlay.
type Options struct {
	// FormatValues renders real attribute values with FormatValue on read
	// and strips one trailing newline on write.
	FormatValues bool
}

// Overlay implements the extended-attribute operations of an export.
//
// Thread Safety:
// An Overlay holds no mutable state. The listing is recomputed on every
// call, so concurrent calls are safe.
type Overlay struct {
	opts Options
}

// New creates an overlay.
func New(opts Options) *Overlay {
	return &Overlay{opts: opts}
}

// List enumerates attributes of t starting at cookie.
//
// Built-in attributes that apply to the object's type come first, then
// the backend's real attributes. At most capacity entries are returned.
//
// Returns:
//   - entries: the attributes, each with the cookie to resume after it
//   - next: the cookie of the last returned entry, or cookie if none
//   - eol: true only when the real attribute list was reached and fully
//     consumed in this call
func (o *Overlay) List(actx *fsal.AuthContext, t *Target, cookie uint32, capacity int) (entries []Entry, next uint32, eol bool, err error) {
	next = cookie
	if cookie == CookieRealOnly {
		cookie = StaticCount
	}

	ft := t.Attrs.Type
	for id := cookie; id < StaticCount && len(entries) < capacity; id++ {
		if !statics[id].flags.Matches(ft) {
			continue
		}
		entries = append(entries, o.entry(t, id, statics[id].name))
	}

	if len(entries) >= capacity {
		if len(entries) > 0 {
			next = entries[len(entries)-1].Cookie
		}
		return entries, next, false, nil
	}

	names, err := t.realNames(actx)
	if err != nil {
		return nil, next, false, err
	}

	consumed := 0
	for i, name := range names {
		if len(entries) >= capacity {
			break
		}
		consumed = i + 1
		id := StaticCount + uint32(i)
		if id < cookie {
			continue
		}
		entries = append(entries, o.entry(t, id, name))
	}

	if len(entries) > 0 {
		next = entries[len(entries)-1].Cookie
	}
	return entries, next, consumed == len(names), nil
}

func (o *Overlay) entry(t *Target, id uint32, name string) Entry {
	return Entry{
		ID:     id,
		Name:   name,
		Cookie: id + 1,
		Attrs:  project(&t.Attrs, id, t.blockSize()),
	}
}

// IDByName returns the id of the attribute called name.
func (o *Overlay) IDByName(actx *fsal.AuthContext, t *Target, name string) (uint32, error) {
	for i := range statics {
		if statics[i].name == name {
			return uint32(i), nil
		}
	}

	names, err := t.realNames(actx)
	if err != nil {
		return 0, err
	}
	for i, n := range names {
		if n == name {
			return StaticCount + uint32(i), nil
		}
	}
	return 0, fsal.NewError(fsal.ErrNotFound, name, "no such extended attribute")
}

// nameByID maps a real attribute id back to its name.
func (o *Overlay) nameByID(actx *fsal.AuthContext, t *Target, id uint32) (string, error) {
	if id < StaticCount {
		return "", fsal.NewError(fsal.ErrInvalid, "", "id %d is a built-in attribute", id)
	}

	names, err := t.realNames(actx)
	if err != nil {
		return "", err
	}
	pos := id - StaticCount
	if uint64(pos) >= uint64(len(names)) {
		return "", fsal.NewError(fsal.ErrNotFound, "", "no extended attribute with id %d", id)
	}
	return names[pos], nil
}

// GetByID returns the value of the attribute with the given id.
//
// A built-in id that does not apply to the object's type fails with
// ErrInvalid.
func (o *Overlay) GetByID(actx *fsal.AuthContext, t *Target, id uint32) ([]byte, error) {
	if id < StaticCount {
		if !statics[id].flags.Matches(t.Attrs.Type) {
			return nil, fsal.NewError(fsal.ErrInvalid, statics[id].name, "attribute does not apply to %s objects", t.Attrs.Type)
		}
		return statics[id].get(t)
	}

	name, err := o.nameByID(actx, t, id)
	if err != nil {
		return nil, err
	}
	return o.getReal(actx, t, name)
}

// GetByName returns the value of the attribute called name. Built-in
// attributes that do not apply to the object are looked up in the backend.
func (o *Overlay) GetByName(actx *fsal.AuthContext, t *Target, name string) ([]byte, error) {
	if id, ok := staticByName(name, t.Attrs.Type); ok {
		return statics[id].get(t)
	}
	return o.getReal(actx, t, name)
}

func (o *Overlay) getReal(actx *fsal.AuthContext, t *Target, name string) ([]byte, error) {
	if t.Backend == nil {
		return nil, fsal.NewError(fsal.ErrNotFound, name, "no such extended attribute")
	}
	value, err := t.Backend.GetXattr(actx, t.Object, name)
	if err != nil {
		return nil, err
	}
	if o.opts.FormatValues {
		value = FormatValue(value)
	}
	return value, nil
}

// SetByID replaces the value of an existing real attribute. Built-in
// attributes fail with ErrPermissionDenied.
func (o *Overlay) SetByID(actx *fsal.AuthContext, t *Target, id uint32, value []byte) error {
	if id < StaticCount {
		return fsal.NewError(fsal.ErrPermissionDenied, statics[id].name, "built-in attribute is read-only")
	}

	name, err := o.nameByID(actx, t, id)
	if err != nil {
		return err
	}
	return o.setReal(actx, t, name, value, 0)
}

// SetByName stores the attribute called name. With create set the call
// fails if the attribute already exists.
func (o *Overlay) SetByName(actx *fsal.AuthContext, t *Target, name string, value []byte, create bool) error {
	if id, ok := staticByName(name, t.Attrs.Type); ok && IsReadOnly(id) {
		return fsal.NewError(fsal.ErrPermissionDenied, name, "built-in attribute is read-only")
	}

	flags := 0
	if create {
		flags = fsal.XattrCreate
	}
	return o.setReal(actx, t, name, value, flags)
}

func (o *Overlay) setReal(actx *fsal.AuthContext, t *Target, name string, value []byte, flags int) error {
	if o.opts.FormatValues {
		value = ChompValue(value)
	}
	if t.Backend == nil {
		return fsal.NewError(fsal.ErrReadOnlyFileSystem, name, "object has no attribute store")
	}
	logger.Debug("extattr: set %q on %s (%d bytes)", name, t.Object, len(value))
	return t.Backend.SetXattr(actx, t.Object, name, value, flags)
}

// RemoveByID deletes a real attribute. Built-in attributes fail with
// ErrPermissionDenied.
func (o *Overlay) RemoveByID(actx *fsal.AuthContext, t *Target, id uint32) error {
	if id < StaticCount {
		return fsal.NewError(fsal.ErrPermissionDenied, statics[id].name, "built-in attribute is read-only")
	}

	name, err := o.nameByID(actx, t, id)
	if err != nil {
		return err
	}
	return o.removeReal(actx, t, name)
}

// RemoveByName deletes the attribute called name.
func (o *Overlay) RemoveByName(actx *fsal.AuthContext, t *Target, name string) error {
	if id, ok := staticByName(name, t.Attrs.Type); ok && IsReadOnly(id) {
		return fsal.NewError(fsal.ErrPermissionDenied, name, "built-in attribute is read-only")
	}
	return o.removeReal(actx, t, name)
}

func (o *Overlay) removeReal(actx *fsal.AuthContext, t *Target, name string) error {
	if t.Backend == nil {
		return fsal.NewError(fsal.ErrReadOnlyFileSystem, name, "object has no attribute store")
	}
	return t.Backend.RemoveXattr(actx, t.Object, name)
}

// Attributes returns the synthesized attributes of the entry with the
// given id. A built-in id that does not apply to the object's type fails
// with ErrInvalid.
func (o *Overlay) Attributes(t *Target, id uint32) (fsal.Attributes, error) {
	if id < StaticCount && !statics[id].flags.Matches(t.Attrs.Type) {
		return fsal.Attributes{}, fsal.NewError(fsal.ErrInvalid, statics[id].name, "attribute does not apply to %s objects", t.Attrs.Type)
	}
	return project(&t.Attrs, id, t.blockSize()), nil
}
