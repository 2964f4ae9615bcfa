package cow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/marmos91/fsal/pkg/blockstore"
	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/marmos91/fsal/pkg/kv"
)

// Open opens a regular file. OpenTruncate discards the current contents.
func (d *Dataset) Open(actx *fsal.AuthContext, obj fsal.Object, flags int) (fsal.File, error) {
	writing := flags&(fsal.OpenWrite|fsal.OpenTruncate|fsal.OpenAppend) != 0
	if writing {
		if err := d.checkWritable(); err != nil {
			return nil, err
		}
	} else if err := d.checkMounted(); err != nil {
		return nil, err
	}

	f := &file{ds: d, flags: flags}

	d.vol.mu.Lock()
	defer d.vol.mu.Unlock()

	open := func(t *tx, txn kv.Txn) error {
		ino, rec, err := d.resolve(txn, obj)
		if err != nil {
			return err
		}
		switch rec.fileType() {
		case fsal.FileTypeRegular:
		case fsal.FileTypeDirectory:
			return fsal.NewError(fsal.ErrIsADirectory, "", "cannot open a directory")
		default:
			return fsal.NewError(fsal.ErrInvalid, "", "cannot open a %s", rec.fileType())
		}

		want := uint32(0)
		if flags&fsal.OpenRead != 0 {
			want |= permRead
		}
		if writing {
			want |= permWrite
		}
		if err := checkPermission(actx, rec, want, ""); err != nil {
			return err
		}

		if flags&fsal.OpenTruncate != 0 && rec.Size > 0 {
			if err := d.truncate(t, ino, rec, 0); err != nil {
				return err
			}
			rec.touch(t.now, true)
			if err := t.putInode(ino, rec); err != nil {
				return err
			}
		}
		f.ino = ino
		f.gen = rec.Generation
		return nil
	}

	var err error
	if writing {
		err = d.vol.updateLocked(actx.Ctx(), func(t *tx) error { return open(t, t.Txn) })
	} else {
		if d.vol.closed {
			return nil, fsal.NewError(fsal.ErrStale, "", "volume is closed")
		}
		err = d.vol.store.View(actx.Ctx(), func(txn kv.Txn) error { return open(nil, txn) })
	}
	if err != nil {
		return nil, fsal.FromErrno(err, "open", "")
	}

	d.vol.open[inodeRef{ds: d.id, ino: f.ino}]++
	return f, nil
}

// file is an open regular file of a dataset.
type file struct {
	ds     *Dataset
	ino    uint64
	gen    uint32
	flags  int
	mu     sync.Mutex
	closed bool
}

func (f *file) checkOpen() error {
	if f.closed {
		return fsal.NewError(fsal.ErrInvalid, "", "file is closed")
	}
	return nil
}

// ReadAt reads from the file's records. Missing records are holes and
// read as zeros.
func (f *file) ReadAt(actx *fsal.AuthContext, p []byte, off int64) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkOpen(); err != nil {
		return 0, false, err
	}
	if off < 0 {
		return 0, false, fsal.NewError(fsal.ErrInvalid, "", "negative offset")
	}

	d := f.ds
	ctx := actx.Ctx()
	recordSize := uint64(d.vol.recordSize)

	var size uint64
	var ids map[uint64]blockstore.ID
	err := d.read(actx, "read", "", func(txn kv.Txn) error {
		rec, err := loadInode(txn, d.id, f.ino)
		if err != nil {
			return err
		}
		if rec.Generation != f.gen {
			return fsal.NewError(fsal.ErrStale, "", "inode %d was replaced", f.ino)
		}
		size = rec.Size
		if uint64(off) >= size || len(p) == 0 {
			return nil
		}
		end := min(uint64(off)+uint64(len(p)), size)
		ids, err = recordIDs(txn, d.id, f.ino, uint64(off)/recordSize, (end-1)/recordSize)
		return err
	})
	if err != nil {
		return 0, false, err
	}

	start := uint64(off)
	if start >= size {
		return 0, true, nil
	}
	n := min(uint64(len(p)), size-start)

	for done := uint64(0); done < n; {
		pos := start + done
		idx := pos / recordSize
		within := pos % recordSize
		chunk := min(recordSize-within, n-done)
		dst := p[done : done+chunk]

		clear(dst)
		if id, ok := ids[idx]; ok {
			data, err := d.vol.blocks.Get(ctx, id)
			if err != nil {
				return int(done), false, fsal.FromErrno(fmt.Errorf("record %d: %w", idx, err), "read", "")
			}
			if within < uint64(len(data)) {
				copy(dst, data[within:])
			}
		}
		done += chunk
	}

	return int(n), start+n >= size, nil
}

// WriteAt stores new blocks for every record the write touches.
func (f *file) WriteAt(actx *fsal.AuthContext, p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	if f.flags&(fsal.OpenWrite|fsal.OpenAppend) == 0 {
		return 0, fsal.NewError(fsal.ErrInvalid, "", "file not open for writing")
	}
	if off < 0 {
		return 0, fsal.NewError(fsal.ErrInvalid, "", "negative offset")
	}

	d := f.ds
	ctx := actx.Ctx()
	recordSize := uint64(d.vol.recordSize)

	err := d.write(actx, "write", "", func(t *tx) error {
		rec, err := t.getInode(f.ino)
		if err != nil {
			return err
		}
		if rec.Generation != f.gen {
			return fsal.NewError(fsal.ErrStale, "", "inode %d was replaced", f.ino)
		}

		start := uint64(off)
		if f.flags&fsal.OpenAppend != 0 {
			start = rec.Size
		}
		if len(p) == 0 {
			return nil
		}
		end := start + uint64(len(p))
		newSize := max(rec.Size, end)

		ids, err := recordIDs(t.Txn, d.id, f.ino, start/recordSize, (end-1)/recordSize)
		if err != nil {
			return err
		}

		for pos := start; pos < end; {
			idx := pos / recordSize
			recStart := idx * recordSize
			within := pos - recStart
			chunk := min(recordSize-within, end-pos)

			// The stored block covers the record up to the file size.
			length := min(recordSize, newSize-recStart)
			buf := make([]byte, length)
			if id, ok := ids[idx]; ok {
				old, err := d.vol.blocks.Get(ctx, id)
				if err != nil {
					return fmt.Errorf("record %d: %w", idx, err)
				}
				copy(buf, old)
			}
			copy(buf[within:], p[pos-start:pos-start+chunk])

			id, err := blockstore.PutData(ctx, d.vol.blocks, buf)
			if err != nil {
				return fmt.Errorf("store record %d: %w", idx, err)
			}
			if err := t.Set(blockKey(d.id, f.ino, idx), id[:]); err != nil {
				return err
			}
			pos += chunk
		}

		rec.Size = newSize
		rec.touch(t.now, true)
		return t.putInode(f.ino, rec)
	})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Sync is a no-op: every write is committed with its transaction.
func (f *file) Sync(*fsal.AuthContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkOpen()
}

// Close releases the file. The last close of an unlinked inode frees it.
func (f *file) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	d := f.ds
	v := d.vol
	ref := inodeRef{ds: d.id, ino: f.ino}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.open[ref]--
	if v.open[ref] > 0 {
		return nil
	}
	delete(v.open, ref)

	if d.readOnly || v.closed {
		return nil
	}

	err := v.updateLocked(context.Background(), func(t *tx) error {
		rec, err := t.getInode(f.ino)
		if fsal.IsCode(err, fsal.ErrStale) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Nlink > 0 || rec.Generation != f.gen {
			return errSkipCommit
		}
		return d.release(t, f.ino, rec)
	})
	if errors.Is(err, errSkipCommit) {
		return nil
	}
	return fsal.FromErrno(err, "close", "")
}

// errSkipCommit aborts an update that has nothing to write.
var errSkipCommit = errors.New("nothing to commit")

// truncate drops records past size and trims the last partial record.
func (d *Dataset) truncate(t *tx, ino uint64, rec *inodeRecord, size uint64) error {
	if size >= rec.Size {
		rec.Size = size
		return nil
	}

	recordSize := uint64(d.vol.recordSize)
	keep := (size + recordSize - 1) / recordSize

	var drop [][]byte
	prefix := blockPrefix(d.id, ino)
	err := t.Scan(prefix, func(key, _ []byte) bool {
		idx, err := strconv.ParseUint(string(key[len(prefix):]), 16, 64)
		if err == nil && idx >= keep {
			drop = append(drop, key)
		}
		return true
	})
	if err != nil {
		return err
	}
	for _, k := range drop {
		if err := t.Delete(k); err != nil {
			return err
		}
	}

	if tail := size % recordSize; tail != 0 {
		last := size / recordSize
		ids, err := recordIDs(t.Txn, d.id, ino, last, last)
		if err != nil {
			return err
		}
		if id, ok := ids[last]; ok {
			data, err := d.vol.blocks.Get(t.ctx, id)
			if err != nil {
				return err
			}
			if uint64(len(data)) > tail {
				nid, err := blockstore.PutData(t.ctx, d.vol.blocks, data[:tail])
				if err != nil {
					return err
				}
				if err := t.Set(blockKey(d.id, ino, last), nid[:]); err != nil {
					return err
				}
			}
		}
	}

	rec.Size = size
	return nil
}

// recordIDs returns the block ids of records first..last that are not holes.
func recordIDs(txn kv.Txn, ds uint32, ino uint64, first, last uint64) (map[uint64]blockstore.ID, error) {
	ids := make(map[uint64]blockstore.ID)
	for idx := first; idx <= last; idx++ {
		raw, err := txn.Get(blockKey(ds, ino, idx))
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(raw) != blockstore.IDSize {
			return nil, fmt.Errorf("record %d of inode %d: corrupt block id", idx, ino)
		}
		ids[idx] = blockstore.ID(raw)
	}
	return ids, nil
}
