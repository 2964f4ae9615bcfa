package cow

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/marmos91/fsal/pkg/kv"
)

// Dataset is one mounted dataset of a volume: the live dataset or a
// snapshot. It implements fsal.Backend.
type Dataset struct {
	vol       *Volume
	id        uint32
	name      string
	readOnly  bool
	unmounted atomic.Bool
}

var _ fsal.Backend = (*Dataset)(nil)

// Volume returns the volume the dataset belongs to.
func (d *Dataset) Volume() *Volume { return d.vol }

// ID returns the dataset id (0 for the live dataset).
func (d *Dataset) ID() uint32 { return d.id }

func (d *Dataset) Name() string { return d.name }

func (d *Dataset) FSID() fsal.FSID { return d.vol.fsid }

func (d *Dataset) ObjectSize() int { return objectIDSize }

func (d *Dataset) BlockSize() uint32 { return d.vol.recordSize }

func (d *Dataset) ReadOnly() bool { return d.readOnly }

// Unmount detaches the dataset. The volume stays open.
func (d *Dataset) Unmount() error {
	d.unmounted.Store(true)
	return nil
}

func (d *Dataset) checkMounted() error {
	if d.unmounted.Load() {
		return fsal.NewError(fsal.ErrStale, d.name, "dataset is unmounted")
	}
	return nil
}

// checkWritable rejects mutations on snapshot datasets.
func (d *Dataset) checkWritable() error {
	if err := d.checkMounted(); err != nil {
		return err
	}
	if d.readOnly {
		return fsal.NewError(fsal.ErrReadOnlyFileSystem, d.name, "snapshot is read-only")
	}
	return nil
}

func (d *Dataset) object(ino uint64, rec *inodeRecord) (fsal.Object, fsal.NativeStat) {
	obj := fsal.Object{ID: objectID(ino), Generation: rec.Generation, Type: rec.fileType()}
	return obj, rec.stat(ino, d.vol.recordSize, d.vol.fsid.Major)
}

// resolve loads obj's record and checks its generation.
func (d *Dataset) resolve(txn kv.Txn, obj fsal.Object) (uint64, *inodeRecord, error) {
	ino, err := inodeOf(obj)
	if err != nil {
		return 0, nil, err
	}
	rec, err := loadInode(txn, d.id, ino)
	if err != nil {
		return 0, nil, err
	}
	if rec.Generation != obj.Generation {
		return 0, nil, fsal.NewError(fsal.ErrStale, "", "inode %d generation %d, handle has %d", ino, rec.Generation, obj.Generation)
	}
	return ino, rec, nil
}

func (d *Dataset) read(actx *fsal.AuthContext, op, path string, fn func(txn kv.Txn) error) error {
	if err := d.checkMounted(); err != nil {
		return err
	}
	return fsal.FromErrno(d.vol.view(actx.Ctx(), fn), op, path)
}

func (d *Dataset) write(actx *fsal.AuthContext, op, path string, fn func(t *tx) error) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	return fsal.FromErrno(d.vol.update(actx.Ctx(), fn), op, path)
}

// ============================================================================
// Namespace reads
// ============================================================================

func (d *Dataset) Root(actx *fsal.AuthContext) (fsal.Object, fsal.NativeStat, error) {
	var obj fsal.Object
	var st fsal.NativeStat
	err := d.read(actx, "root", "/", func(txn kv.Txn) error {
		rec, err := loadInode(txn, d.id, RootInode)
		if err != nil {
			return err
		}
		obj, st = d.object(RootInode, rec)
		return nil
	})
	return obj, st, err
}

func (d *Dataset) Lookup(actx *fsal.AuthContext, dir fsal.Object, name string) (fsal.Object, fsal.NativeStat, error) {
	var obj fsal.Object
	var st fsal.NativeStat
	err := d.read(actx, "lookup", name, func(txn kv.Txn) error {
		dirIno, dirRec, err := d.resolve(txn, dir)
		if err != nil {
			return err
		}
		if !dirRec.isDir() {
			return fsal.NewError(fsal.ErrNotADirectory, name, "lookup in non-directory")
		}
		if err := checkPermission(actx, dirRec, permExec, name); err != nil {
			return err
		}

		var ino uint64
		switch name {
		case ".":
			ino = dirIno
		case "..":
			ino = dirRec.Parent
		default:
			de, err := loadDirent(txn, d.id, dirIno, name)
			if err != nil {
				return err
			}
			ino = de.Ino
		}

		rec, err := loadInode(txn, d.id, ino)
		if err != nil {
			return err
		}
		obj, st = d.object(ino, rec)
		return nil
	})
	return obj, st, err
}

func (d *Dataset) Getattr(actx *fsal.AuthContext, obj fsal.Object) (fsal.NativeStat, error) {
	var st fsal.NativeStat
	err := d.read(actx, "getattr", "", func(txn kv.Txn) error {
		ino, rec, err := d.resolve(txn, obj)
		if err != nil {
			return err
		}
		// Unlinked while open: the record lives on for the open files only.
		if rec.Nlink == 0 {
			return fsal.NewError(fsal.ErrNotFound, "", "inode %d has been removed", ino)
		}
		_, st = d.object(ino, rec)
		return nil
	})
	return st, err
}

func (d *Dataset) Readlink(actx *fsal.AuthContext, obj fsal.Object) (string, error) {
	var target string
	err := d.read(actx, "readlink", "", func(txn kv.Txn) error {
		_, rec, err := d.resolve(txn, obj)
		if err != nil {
			return err
		}
		if rec.fileType() != fsal.FileTypeSymlink {
			return fsal.NewError(fsal.ErrInvalid, "", "not a symbolic link")
		}
		target = rec.Target
		return nil
	})
	return target, err
}

// Readdir lists dir in cookie order. Cookies are assigned when an entry is
// created and never reused within a directory, so a listing resumes
// correctly after concurrent changes.
func (d *Dataset) Readdir(actx *fsal.AuthContext, dir fsal.Object, cookie uint64, fn func(fsal.DirEntry) bool) error {
	var entries []fsal.DirEntry

	err := d.read(actx, "readdir", "", func(txn kv.Txn) error {
		dirIno, dirRec, err := d.resolve(txn, dir)
		if err != nil {
			return err
		}
		if !dirRec.isDir() {
			return fsal.NewError(fsal.ErrNotADirectory, "", "readdir of non-directory")
		}
		if err := checkPermission(actx, dirRec, permRead, ""); err != nil {
			return err
		}

		type named struct {
			name string
			de   direntRecord
		}
		var found []named
		prefix := direntPrefix(d.id, dirIno)
		var decodeErr error
		err = txn.Scan(prefix, func(key, value []byte) bool {
			var de direntRecord
			if decodeErr = unmarshalXDR(value, &de); decodeErr != nil {
				return false
			}
			if de.Cookie > cookie {
				found = append(found, named{name: string(key[len(prefix):]), de: de})
			}
			return true
		})
		if err != nil {
			return err
		}
		if decodeErr != nil {
			return decodeErr
		}

		sort.Slice(found, func(i, j int) bool { return found[i].de.Cookie < found[j].de.Cookie })

		entries = make([]fsal.DirEntry, 0, len(found))
		for _, f := range found {
			rec, err := loadInode(txn, d.id, f.de.Ino)
			if err != nil {
				return err
			}
			obj, st := d.object(f.de.Ino, rec)
			entries = append(entries, fsal.DirEntry{Name: f.name, Cookie: f.de.Cookie, Object: obj, Stat: st})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range entries {
		if !fn(e) {
			break
		}
	}
	return nil
}

// ============================================================================
// Attribute updates
// ============================================================================

func (d *Dataset) Setattr(actx *fsal.AuthContext, obj fsal.Object, patch fsal.NativePatch) (fsal.NativeStat, error) {
	var st fsal.NativeStat
	err := d.write(actx, "setattr", "", func(t *tx) error {
		ino, rec, err := d.resolve(t.Txn, obj)
		if err != nil {
			return err
		}
		if err := checkSetattr(actx, rec, &patch); err != nil {
			return err
		}

		if patch.Has(fsal.PatchSize) {
			switch rec.fileType() {
			case fsal.FileTypeRegular:
			case fsal.FileTypeDirectory:
				return fsal.NewError(fsal.ErrIsADirectory, "", "cannot truncate a directory")
			default:
				return fsal.NewError(fsal.ErrInvalid, "", "cannot truncate a %s", rec.fileType())
			}
			if err := d.truncate(t, ino, rec, patch.Size); err != nil {
				return err
			}
			rec.Mtime = t.now.UnixNano()
		}

		cur := rec.stat(ino, d.vol.recordSize, d.vol.fsid.Major)
		patch.Apply(&cur, t.now)
		rec.applyStat(&cur)

		if err := t.putInode(ino, rec); err != nil {
			return err
		}
		st = rec.stat(ino, d.vol.recordSize, d.vol.fsid.Major)
		return nil
	})
	return st, err
}

// ============================================================================
// Namespace mutations
// ============================================================================

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return fsal.NewError(fsal.ErrInvalid, name, "invalid name")
	}
	if len(name) > maxNameLen {
		return fsal.NewError(fsal.ErrNameTooLong, name, "name too long")
	}
	return nil
}

// parentForCreate loads dir and checks the caller may add name to it.
func (d *Dataset) parentForCreate(t *tx, actx *fsal.AuthContext, dir fsal.Object, name string) (uint64, *inodeRecord, error) {
	if err := validateName(name); err != nil {
		return 0, nil, err
	}
	dirIno, dirRec, err := d.resolve(t.Txn, dir)
	if err != nil {
		return 0, nil, err
	}
	if !dirRec.isDir() {
		return 0, nil, fsal.NewError(fsal.ErrNotADirectory, name, "parent is not a directory")
	}
	if err := checkPermission(actx, dirRec, permWrite|permExec, name); err != nil {
		return 0, nil, err
	}
	if _, err := loadDirent(t.Txn, d.id, dirIno, name); err == nil {
		return 0, nil, fsal.NewError(fsal.ErrAlreadyExists, name, "entry exists")
	} else if !fsal.IsCode(err, fsal.ErrNotFound) {
		return 0, nil, err
	}
	return dirIno, dirRec, nil
}

// link adds name -> ino to dir and updates the directory record.
func (d *Dataset) link(t *tx, dirIno uint64, dirRec *inodeRecord, name string, ino uint64) error {
	cookie := dirRec.NextCookie
	dirRec.NextCookie++
	dirRec.touch(t.now, true)
	if err := t.putDirent(dirIno, name, direntRecord{Ino: ino, Cookie: cookie}); err != nil {
		return err
	}
	return t.putInode(dirIno, dirRec)
}

func (d *Dataset) create(actx *fsal.AuthContext, op string, dir fsal.Object, name string, mode uint32, target string) (fsal.Object, fsal.NativeStat, error) {
	var obj fsal.Object
	var st fsal.NativeStat
	err := d.write(actx, op, name, func(t *tx) error {
		dirIno, dirRec, err := d.parentForCreate(t, actx, dir, name)
		if err != nil {
			return err
		}

		ino := t.allocInode()
		rec := newInode(mode, actx, uint32(t.sb.TXG), dirIno, t.now)
		if rec.fileType() == fsal.FileTypeSymlink {
			rec.Target = target
			rec.Size = uint64(len(target))
		}
		if dirRec.Mode&0o2000 != 0 {
			rec.GID = dirRec.GID
		}
		if rec.isDir() {
			dirRec.Nlink++
		}

		if err := t.putInode(ino, rec); err != nil {
			return err
		}
		if err := d.link(t, dirIno, dirRec, name, ino); err != nil {
			return err
		}
		obj, st = d.object(ino, rec)
		return nil
	})
	return obj, st, err
}

func (d *Dataset) Create(actx *fsal.AuthContext, dir fsal.Object, name string, mode uint32) (fsal.Object, fsal.NativeStat, error) {
	return d.create(actx, "create", dir, name, fsal.ModeRegular|mode&fsal.ModePermission, "")
}

func (d *Dataset) Mkdir(actx *fsal.AuthContext, dir fsal.Object, name string, mode uint32) (fsal.Object, fsal.NativeStat, error) {
	return d.create(actx, "mkdir", dir, name, fsal.ModeDirectory|mode&fsal.ModePermission, "")
}

func (d *Dataset) Symlink(actx *fsal.AuthContext, dir fsal.Object, name, target string) (fsal.Object, fsal.NativeStat, error) {
	if target == "" {
		return fsal.Object{}, fsal.NativeStat{}, fsal.NewError(fsal.ErrInvalid, name, "empty symlink target")
	}
	return d.create(actx, "symlink", dir, name, fsal.ModeSymlink|defaultLinkMode, target)
}

func (d *Dataset) Link(actx *fsal.AuthContext, obj fsal.Object, dir fsal.Object, name string) error {
	return d.write(actx, "link", name, func(t *tx) error {
		dirIno, dirRec, err := d.parentForCreate(t, actx, dir, name)
		if err != nil {
			return err
		}
		ino, rec, err := d.resolve(t.Txn, obj)
		if err != nil {
			return err
		}
		if rec.isDir() {
			return fsal.NewError(fsal.ErrPermissionDenied, name, "hard links to directories are not allowed")
		}
		if rec.Nlink == 0 {
			return fsal.NewError(fsal.ErrNotFound, name, "source has been removed")
		}

		rec.Nlink++
		rec.touch(t.now, false)
		if err := t.putInode(ino, rec); err != nil {
			return err
		}
		return d.link(t, dirIno, dirRec, name, ino)
	})
}

func (d *Dataset) Unlink(actx *fsal.AuthContext, dir fsal.Object, name string) error {
	return d.write(actx, "unlink", name, func(t *tx) error {
		if err := validateName(name); err != nil {
			return err
		}
		dirIno, dirRec, err := d.resolve(t.Txn, dir)
		if err != nil {
			return err
		}
		if !dirRec.isDir() {
			return fsal.NewError(fsal.ErrNotADirectory, name, "parent is not a directory")
		}
		if err := checkPermission(actx, dirRec, permWrite|permExec, name); err != nil {
			return err
		}
		de, err := loadDirent(t.Txn, d.id, dirIno, name)
		if err != nil {
			return err
		}
		if err := d.dropEntry(t, dirIno, dirRec, name, de.Ino); err != nil {
			return err
		}
		return t.putInode(dirIno, dirRec)
	})
}

// dropEntry removes name from dir and releases the target's link.
// The caller persists dirRec.
func (d *Dataset) dropEntry(t *tx, dirIno uint64, dirRec *inodeRecord, name string, ino uint64) error {
	rec, err := t.getInode(ino)
	if err != nil {
		return err
	}

	if rec.isDir() {
		empty, err := dirIsEmpty(t.Txn, d.id, ino)
		if err != nil {
			return err
		}
		if !empty {
			return fsal.NewError(fsal.ErrNotEmpty, name, "directory not empty")
		}
		dirRec.Nlink--
		rec.Nlink = 0
	} else {
		rec.Nlink--
	}

	if err := t.Delete(direntKey(d.id, dirIno, name)); err != nil {
		return err
	}
	dirRec.touch(t.now, true)

	if rec.Nlink > 0 {
		rec.touch(t.now, false)
		return t.putInode(ino, rec)
	}
	return d.release(t, ino, rec)
}

// release frees an inode with no links left, unless files still hold it
// open; the last Close frees it then.
func (d *Dataset) release(t *tx, ino uint64, rec *inodeRecord) error {
	if d.vol.open[inodeRef{ds: d.id, ino: ino}] > 0 {
		rec.touch(t.now, false)
		return t.putInode(ino, rec)
	}
	if _, err := kv.DeletePrefix(t.Txn, xattrPrefix(d.id, ino)); err != nil {
		return err
	}
	if _, err := kv.DeletePrefix(t.Txn, blockPrefix(d.id, ino)); err != nil {
		return err
	}
	return t.Delete(inodeKey(d.id, ino))
}

func (d *Dataset) Rename(actx *fsal.AuthContext, srcDir fsal.Object, srcName string, dstDir fsal.Object, dstName string) error {
	return d.write(actx, "rename", srcName, func(t *tx) error {
		if err := validateName(srcName); err != nil {
			return err
		}
		if err := validateName(dstName); err != nil {
			return err
		}

		srcIno, srcRec, err := d.resolve(t.Txn, srcDir)
		if err != nil {
			return err
		}
		dstIno, dstRec, err := d.resolve(t.Txn, dstDir)
		if err != nil {
			return err
		}
		if !srcRec.isDir() || !dstRec.isDir() {
			return fsal.NewError(fsal.ErrNotADirectory, srcName, "rename parent is not a directory")
		}
		if err := checkPermission(actx, srcRec, permWrite|permExec, srcName); err != nil {
			return err
		}
		if err := checkPermission(actx, dstRec, permWrite|permExec, dstName); err != nil {
			return err
		}
		sameDir := srcIno == dstIno
		if sameDir {
			dstRec = srcRec
		}

		de, err := loadDirent(t.Txn, d.id, srcIno, srcName)
		if err != nil {
			return err
		}
		moving, err := t.getInode(de.Ino)
		if err != nil {
			return err
		}

		if moving.isDir() && !sameDir {
			if err := d.checkNotAncestor(t, de.Ino, dstIno); err != nil {
				return err
			}
		}

		existing, err := loadDirent(t.Txn, d.id, dstIno, dstName)
		switch {
		case err == nil:
			if existing.Ino == de.Ino {
				return nil
			}
			victim, err := t.getInode(existing.Ino)
			if err != nil {
				return err
			}
			if moving.isDir() && !victim.isDir() {
				return fsal.NewError(fsal.ErrNotADirectory, dstName, "cannot replace a non-directory with a directory")
			}
			if !moving.isDir() && victim.isDir() {
				return fsal.NewError(fsal.ErrIsADirectory, dstName, "cannot replace a directory with a non-directory")
			}
			if err := d.dropEntry(t, dstIno, dstRec, dstName, existing.Ino); err != nil {
				return err
			}
		case fsal.IsCode(err, fsal.ErrNotFound):
		default:
			return err
		}

		if err := t.Delete(direntKey(d.id, srcIno, srcName)); err != nil {
			return err
		}
		srcRec.touch(t.now, true)

		if moving.isDir() && !sameDir {
			srcRec.Nlink--
			dstRec.Nlink++
			moving.Parent = dstIno
		}
		moving.touch(t.now, false)
		if err := t.putInode(de.Ino, moving); err != nil {
			return err
		}

		if !sameDir {
			if err := t.putInode(srcIno, srcRec); err != nil {
				return err
			}
		}
		return d.link(t, dstIno, dstRec, dstName, de.Ino)
	})
}

// checkNotAncestor fails when dir is ino or lies below it.
func (d *Dataset) checkNotAncestor(t *tx, ino, dir uint64) error {
	for cur := dir; ; {
		if cur == ino {
			return fsal.NewError(fsal.ErrInvalid, "", "cannot move a directory into itself")
		}
		if cur == RootInode {
			return nil
		}
		rec, err := t.getInode(cur)
		if err != nil {
			return err
		}
		cur = rec.Parent
	}
}
