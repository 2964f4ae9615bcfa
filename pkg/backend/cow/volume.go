// Package cow implements a snapshot-capable copy-on-write volume.
//
// A Volume keeps its namespace in an ordered key/value store (kv.Store)
// and its file data in an immutable, content-addressed block store. File
// contents are split into fixed-size records; every write stores new
// blocks and repoints the record keys, so a block is never modified once
// written.
//
// A snapshot copies the live dataset's metadata key space under a new
// dataset id. Blocks are shared, which makes snapshots cheap and
// immutable by construction. Each dataset (live or snapshot) is exposed
// as an fsal.Backend through Mount.
package cow

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/fsal/internal/logger"
	"github.com/marmos91/fsal/pkg/blockstore"
	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/marmos91/fsal/pkg/kv"
	"github.com/zeebo/blake3"
)

// Options configures a volume when it is formatted.
type Options struct {
	// Name is the label of the live dataset (default: "live")
	Name string

	// RecordSize is the file record size in bytes (default: DefaultRecordSize)
	RecordSize uint32
}

type inodeRef struct {
	ds  uint32
	ino uint64
}

// Volume is one copy-on-write volume.
//
// Thread Safety:
// A single RWMutex serializes mutations against each other and against
// the in-memory copy of the superblock. Reads take the read lock only to
// check the volume is open; consistency of the namespace comes from kv
// transactions.
type Volume struct {
	mu     sync.RWMutex
	store  kv.Store
	blocks blockstore.Store
	sb     superblock
	fsid   fsal.FSID
	closed bool

	// recordSize is fixed when the volume is formatted
	recordSize uint32

	// open counts File handles per inode so unlinked-but-open files
	// keep their data until the last Close
	open map[inodeRef]int
}

// Open loads the volume stored in store, formatting a new one when the
// store is empty.
//
// Parameters:
//   - ctx: Context for cancellation
//   - store: Metadata store. The volume takes ownership and closes it.
//   - blocks: Block store. The volume takes ownership and closes it.
//   - opts: Used only when a new volume is formatted
//
// Returns:
//   - *Volume: The opened volume
//   - error: If the superblock is unreadable or formatting fails
func Open(ctx context.Context, store kv.Store, blocks blockstore.Store, opts Options) (*Volume, error) {
	if store == nil || blocks == nil {
		return nil, fmt.Errorf("cow: metadata and block stores are required")
	}

	v := &Volume{
		store:  store,
		blocks: blocks,
		open:   make(map[inodeRef]int),
	}

	var raw []byte
	err := store.View(ctx, func(txn kv.Txn) error {
		var err error
		raw, err = txn.Get([]byte(keySuperblock))
		return err
	})

	switch {
	case errors.Is(err, kv.ErrNotFound):
		if err := v.format(ctx, opts); err != nil {
			return nil, err
		}
		logger.Info("cow: formatted volume %q (guid %s, record size %d)", v.sb.Name, v.sb.GUID, v.sb.RecordSize)
	case err != nil:
		return nil, fmt.Errorf("cow: read superblock: %w", err)
	default:
		if err := unmarshalCBOR(raw, &v.sb); err != nil {
			return nil, fmt.Errorf("cow: decode superblock: %w", err)
		}
		if v.sb.Version != superblockVersion {
			return nil, fmt.Errorf("cow: unsupported superblock version %d", v.sb.Version)
		}
		logger.Info("cow: opened volume %q at txg %d", v.sb.Name, v.sb.TXG)
	}

	v.fsid = fsidFromGUID(v.sb.GUID)
	v.recordSize = v.sb.RecordSize
	return v, nil
}

func (v *Volume) format(ctx context.Context, opts Options) error {
	name := opts.Name
	if name == "" {
		name = "live"
	}
	recordSize := opts.RecordSize
	if recordSize == 0 {
		recordSize = DefaultRecordSize
	}

	now := time.Now()
	v.sb = superblock{
		Version:    superblockVersion,
		GUID:       uuid.New(),
		Name:       name,
		TXG:        1,
		NextInode:  firstFreeInode,
		NextSnapID: 1,
		RecordSize: recordSize,
		Created:    now.UnixNano(),
	}

	root := newInode(fsal.ModeDirectory|defaultDirMode, nil, uint32(v.sb.TXG), RootInode, now)

	return v.store.Update(ctx, func(txn kv.Txn) error {
		if err := putSuperblock(txn, &v.sb); err != nil {
			return err
		}
		t := &tx{Txn: txn, ctx: ctx, ds: liveDataset}
		return t.putInode(RootInode, root)
	})
}

// fsidFromGUID derives the 64-bit filesystem id from the volume GUID.
func fsidFromGUID(guid uuid.UUID) fsal.FSID {
	sum := blake3.Sum256(guid[:])
	return fsal.FSID{
		Type:  fsal.FSIDOneUint64,
		Major: binary.BigEndian.Uint64(sum[:8]),
	}
}

func putSuperblock(txn kv.Txn, sb *superblock) error {
	raw, err := marshalCBOR(sb)
	if err != nil {
		return fmt.Errorf("encode superblock: %w", err)
	}
	return txn.Set([]byte(keySuperblock), raw)
}

// GUID returns the volume's unique id.
func (v *Volume) GUID() uuid.UUID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.sb.GUID
}

// Name returns the label of the live dataset.
func (v *Volume) Name() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.sb.Name
}

// TXG returns the last committed transaction group.
func (v *Volume) TXG() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.sb.TXG
}

// RecordSize returns the file record size.
func (v *Volume) RecordSize() uint32 {
	return v.recordSize
}

// FSID returns the filesystem id shared by every dataset of the volume.
func (v *Volume) FSID() fsal.FSID {
	return v.fsid
}

// Snapshot takes a snapshot of the live dataset.
//
// The live metadata key space is copied under a fresh dataset id inside a
// single transaction, so the snapshot is a consistent point-in-time view.
//
// Returns:
//   - SnapshotInfo: The catalog entry of the new snapshot
//   - error: ErrInvalid for a bad name, ErrAlreadyExists for a duplicate
func (v *Volume) Snapshot(ctx context.Context, name string) (SnapshotInfo, error) {
	if err := validateSnapshotName(name); err != nil {
		return SnapshotInfo{}, err
	}

	var info SnapshotInfo
	err := v.update(ctx, func(t *tx) error {
		if _, err := t.Get(snapKey(name)); err == nil {
			return fsal.NewError(fsal.ErrAlreadyExists, name, "snapshot exists")
		} else if !errors.Is(err, kv.ErrNotFound) {
			return err
		}

		info = SnapshotInfo{
			ID:      t.sb.NextSnapID,
			Name:    name,
			TXG:     t.sb.TXG,
			Created: t.now.UnixNano(),
		}
		t.sb.NextSnapID++

		copied := 0
		for _, space := range objectSpaces {
			n, err := kv.CopyPrefix(t.Txn, datasetPrefix(space, liveDataset), datasetPrefix(space, info.ID))
			if err != nil {
				return fmt.Errorf("clone %c space: %w", space, err)
			}
			copied += n
		}

		raw, err := marshalCBOR(&info)
		if err != nil {
			return err
		}
		logger.Debug("cow: snapshot %q cloned %d keys into dataset %d", name, copied, info.ID)
		return t.Set(snapKey(name), raw)
	})
	if err != nil {
		return SnapshotInfo{}, fsal.FromErrno(err, "snapshot", name)
	}

	logger.Info("cow: created snapshot %q (dataset %d, txg %d)", name, info.ID, info.TXG)
	return info, nil
}

// DestroySnapshot removes a snapshot and its metadata. Handles into a
// destroyed snapshot become stale.
func (v *Volume) DestroySnapshot(ctx context.Context, name string) error {
	err := v.update(ctx, func(t *tx) error {
		info, err := getSnapshot(t.Txn, name)
		if err != nil {
			return err
		}
		for _, space := range objectSpaces {
			if _, err := kv.DeletePrefix(t.Txn, datasetPrefix(space, info.ID)); err != nil {
				return err
			}
		}
		return t.Delete(snapKey(name))
	})
	if err != nil {
		return fsal.FromErrno(err, "destroy snapshot", name)
	}
	logger.Info("cow: destroyed snapshot %q", name)
	return nil
}

// Snapshots lists the snapshot catalog ordered by creation.
func (v *Volume) Snapshots(ctx context.Context) ([]SnapshotInfo, error) {
	var out []SnapshotInfo
	err := v.view(ctx, func(txn kv.Txn) error {
		var decodeErr error
		err := txn.Scan([]byte(prefixSnap), func(_, value []byte) bool {
			var info SnapshotInfo
			if decodeErr = unmarshalCBOR(value, &info); decodeErr != nil {
				return false
			}
			out = append(out, info)
			return true
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	if err != nil {
		return nil, fsal.FromErrno(err, "list snapshots", "")
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Mount returns the dataset with the given snapshot name, or the live
// dataset when name is empty. Snapshot datasets are read-only.
func (v *Volume) Mount(ctx context.Context, name string) (*Dataset, error) {
	v.mu.RLock()
	closed := v.closed
	liveName := v.sb.Name
	v.mu.RUnlock()
	if closed {
		return nil, fsal.NewError(fsal.ErrStale, name, "volume is closed")
	}

	if name == "" {
		return &Dataset{vol: v, id: liveDataset, name: liveName}, nil
	}

	var info SnapshotInfo
	err := v.view(ctx, func(txn kv.Txn) error {
		var err error
		info, err = getSnapshot(txn, name)
		return err
	})
	if err != nil {
		return nil, fsal.FromErrno(err, "mount", name)
	}
	return &Dataset{vol: v, id: info.ID, name: info.Name, readOnly: true}, nil
}

// Blocks returns the block store holding file data.
func (v *Volume) Blocks() blockstore.Store {
	return v.blocks
}

// WithReferencedBlocks collects the blocks referenced by the live dataset
// and every snapshot, then calls fn with that set. Writers are held off
// until fn returns, so no block can become referenced in between.
func (v *Volume) WithReferencedBlocks(ctx context.Context, fn func(referenced map[blockstore.ID]struct{}) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fsal.NewError(fsal.ErrStale, "", "volume is closed")
	}

	referenced := make(map[blockstore.ID]struct{})
	err := v.store.View(ctx, func(txn kv.Txn) error {
		var bad []byte
		err := txn.Scan([]byte("b/"), func(key, value []byte) bool {
			if len(value) != blockstore.IDSize {
				bad = key
				return false
			}
			referenced[blockstore.ID(value)] = struct{}{}
			return true
		})
		if err != nil {
			return err
		}
		if bad != nil {
			return fmt.Errorf("corrupt block reference %q", bad)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return fn(referenced)
}

// Close closes the metadata and block stores. Datasets must not be used
// afterwards.
func (v *Volume) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true

	return errors.Join(v.store.Close(), v.blocks.Close())
}

func getSnapshot(txn kv.Txn, name string) (SnapshotInfo, error) {
	var info SnapshotInfo
	raw, err := txn.Get(snapKey(name))
	if errors.Is(err, kv.ErrNotFound) {
		return info, fsal.NewError(fsal.ErrNotFound, name, "no such snapshot")
	}
	if err != nil {
		return info, err
	}
	if err := unmarshalCBOR(raw, &info); err != nil {
		return info, fmt.Errorf("decode snapshot %q: %w", name, err)
	}
	return info, nil
}

func validateSnapshotName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return fsal.NewError(fsal.ErrInvalid, name, "invalid snapshot name")
	}
	if len(name) > maxNameLen {
		return fsal.NewError(fsal.ErrNameTooLong, name, "snapshot name too long")
	}
	return nil
}

// ============================================================================
// Transactions
// ============================================================================

// tx is one metadata transaction bound to a dataset.
type tx struct {
	kv.Txn
	ctx context.Context
	ds  uint32
	sb  *superblock
	now time.Time
}

// update runs fn in a read-write transaction on the live dataset.
//
// The transaction group is advanced for every update. The in-memory
// superblock is replaced only after the transaction commits.
func (v *Volume) update(ctx context.Context, fn func(t *tx) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.updateLocked(ctx, fn)
}

func (v *Volume) updateLocked(ctx context.Context, fn func(t *tx) error) error {
	if v.closed {
		return fsal.NewError(fsal.ErrStale, "", "volume is closed")
	}

	sb := v.sb
	sb.TXG++

	err := v.store.Update(ctx, func(txn kv.Txn) error {
		t := &tx{Txn: txn, ctx: ctx, ds: liveDataset, sb: &sb, now: time.Now()}
		if err := fn(t); err != nil {
			return err
		}
		return putSuperblock(txn, &sb)
	})
	if err != nil {
		return err
	}

	v.sb = sb
	return nil
}

// view runs fn in a read-only transaction.
func (v *Volume) view(ctx context.Context, fn func(txn kv.Txn) error) error {
	v.mu.RLock()
	closed := v.closed
	v.mu.RUnlock()
	if closed {
		return fsal.NewError(fsal.ErrStale, "", "volume is closed")
	}
	return v.store.View(ctx, fn)
}

func (t *tx) getInode(ino uint64) (*inodeRecord, error) {
	return loadInode(t.Txn, t.ds, ino)
}

func (t *tx) putInode(ino uint64, rec *inodeRecord) error {
	raw, err := marshalXDR(rec)
	if err != nil {
		return err
	}
	return t.Set(inodeKey(t.ds, ino), raw)
}

func (t *tx) allocInode() uint64 {
	ino := t.sb.NextInode
	t.sb.NextInode++
	return ino
}

func loadInode(txn kv.Txn, ds uint32, ino uint64) (*inodeRecord, error) {
	raw, err := txn.Get(inodeKey(ds, ino))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fsal.NewError(fsal.ErrStale, "", "inode %d does not exist", ino)
	}
	if err != nil {
		return nil, err
	}
	var rec inodeRecord
	if err := unmarshalXDR(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func loadDirent(txn kv.Txn, ds uint32, dir uint64, name string) (direntRecord, error) {
	var de direntRecord
	raw, err := txn.Get(direntKey(ds, dir, name))
	if errors.Is(err, kv.ErrNotFound) {
		return de, fsal.NewError(fsal.ErrNotFound, name, "no such entry")
	}
	if err != nil {
		return de, err
	}
	err = unmarshalXDR(raw, &de)
	return de, err
}

func (t *tx) putDirent(dir uint64, name string, de direntRecord) error {
	raw, err := marshalXDR(&de)
	if err != nil {
		return err
	}
	return t.Set(direntKey(t.ds, dir, name), raw)
}

// dirIsEmpty reports whether directory ino has no entries.
func dirIsEmpty(txn kv.Txn, ds uint32, ino uint64) (bool, error) {
	empty := true
	err := txn.Scan(direntPrefix(ds, ino), func(_, _ []byte) bool {
		empty = false
		return false
	})
	return empty, err
}
