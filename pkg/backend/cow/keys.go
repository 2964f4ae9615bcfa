package cow

import "fmt"

// Key schema. Every per-object key is namespaced by dataset id so that a
// snapshot is a prefix copy of the live dataset:
//
//	sb                          superblock (CBOR)
//	snap/<name>                 snapshot catalog entry (CBOR)
//	i/<ds>/<ino>                inode record (XDR)
//	d/<ds>/<dir ino>/<name>     directory entry (XDR)
//	x/<ds>/<ino>/<name>         extended attribute value (raw)
//	b/<ds>/<ino>/<record>       block id of one file record (32 bytes)
//
// Dataset ids are 8 hex digits, inode numbers and record indexes 16, so
// lexical key order matches numeric order.
const (
	keySuperblock = "sb"
	prefixSnap    = "snap/"
)

// objectSpaces are the key spaces cloned by a snapshot.
var objectSpaces = []byte{'i', 'd', 'x', 'b'}

func datasetPrefix(space byte, ds uint32) []byte {
	return fmt.Appendf(nil, "%c/%08x/", space, ds)
}

func inodeKey(ds uint32, ino uint64) []byte {
	return fmt.Appendf(nil, "i/%08x/%016x", ds, ino)
}

func direntPrefix(ds uint32, dir uint64) []byte {
	return fmt.Appendf(nil, "d/%08x/%016x/", ds, dir)
}

func direntKey(ds uint32, dir uint64, name string) []byte {
	return append(direntPrefix(ds, dir), name...)
}

func xattrPrefix(ds uint32, ino uint64) []byte {
	return fmt.Appendf(nil, "x/%08x/%016x/", ds, ino)
}

func xattrKey(ds uint32, ino uint64, name string) []byte {
	return append(xattrPrefix(ds, ino), name...)
}

func blockPrefix(ds uint32, ino uint64) []byte {
	return fmt.Appendf(nil, "b/%08x/%016x/", ds, ino)
}

func blockKey(ds uint32, ino uint64, record uint64) []byte {
	return fmt.Appendf(blockPrefix(ds, ino), "%016x", record)
}

func snapKey(name string) []byte {
	return []byte(prefixSnap + name)
}
