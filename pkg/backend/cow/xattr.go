package cow

import (
	"errors"

	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/marmos91/fsal/pkg/kv"
)

func validateXattrName(name string) error {
	if name == "" {
		return fsal.NewError(fsal.ErrInvalid, name, "empty attribute name")
	}
	if len(name) > maxNameLen {
		return fsal.NewError(fsal.ErrNameTooLong, name, "attribute name too long")
	}
	return nil
}

// ListXattrs returns attribute names in key order, which is stable for an
// unchanged set of attributes.
func (d *Dataset) ListXattrs(actx *fsal.AuthContext, obj fsal.Object) ([]string, error) {
	var names []string
	err := d.read(actx, "listxattr", "", func(txn kv.Txn) error {
		ino, _, err := d.resolve(txn, obj)
		if err != nil {
			return err
		}
		prefix := xattrPrefix(d.id, ino)
		return txn.Scan(prefix, func(key, _ []byte) bool {
			names = append(names, string(key[len(prefix):]))
			return true
		})
	})
	return names, err
}

func (d *Dataset) GetXattr(actx *fsal.AuthContext, obj fsal.Object, name string) ([]byte, error) {
	var value []byte
	err := d.read(actx, "getxattr", name, func(txn kv.Txn) error {
		ino, rec, err := d.resolve(txn, obj)
		if err != nil {
			return err
		}
		if err := checkPermission(actx, rec, permRead, name); err != nil {
			return err
		}
		value, err = txn.Get(xattrKey(d.id, ino, name))
		if errors.Is(err, kv.ErrNotFound) {
			return fsal.NewError(fsal.ErrNotFound, name, "no such attribute")
		}
		return err
	})
	return value, err
}

func (d *Dataset) SetXattr(actx *fsal.AuthContext, obj fsal.Object, name string, value []byte, flags int) error {
	if err := validateXattrName(name); err != nil {
		return err
	}
	if len(value) > maxXattrValue {
		return fsal.NewError(fsal.ErrNoSpace, name, "attribute value exceeds %d bytes", maxXattrValue)
	}

	return d.write(actx, "setxattr", name, func(t *tx) error {
		ino, rec, err := d.resolve(t.Txn, obj)
		if err != nil {
			return err
		}
		if err := checkPermission(actx, rec, permWrite, name); err != nil {
			return err
		}

		key := xattrKey(d.id, ino, name)
		_, err = t.Get(key)
		exists := err == nil
		if err != nil && !errors.Is(err, kv.ErrNotFound) {
			return err
		}
		if flags&fsal.XattrCreate != 0 && exists {
			return fsal.NewError(fsal.ErrAlreadyExists, name, "attribute exists")
		}
		if flags&fsal.XattrReplace != 0 && !exists {
			return fsal.NewError(fsal.ErrNotFound, name, "no such attribute")
		}

		if err := t.Set(key, value); err != nil {
			return err
		}
		rec.touch(t.now, false)
		return t.putInode(ino, rec)
	})
}

func (d *Dataset) RemoveXattr(actx *fsal.AuthContext, obj fsal.Object, name string) error {
	return d.write(actx, "removexattr", name, func(t *tx) error {
		ino, rec, err := d.resolve(t.Txn, obj)
		if err != nil {
			return err
		}
		if err := checkPermission(actx, rec, permWrite, name); err != nil {
			return err
		}

		key := xattrKey(d.id, ino, name)
		if _, err := t.Get(key); errors.Is(err, kv.ErrNotFound) {
			return fsal.NewError(fsal.ErrNotFound, name, "no such attribute")
		} else if err != nil {
			return err
		}
		if err := t.Delete(key); err != nil {
			return err
		}
		rec.touch(t.now, false)
		return t.putInode(ino, rec)
	})
}
