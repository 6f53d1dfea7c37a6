// Environment management: the open/mmap/master-page lifecycle for one page
// store file. Adapted from the teacher's KV type and its Open/Close/
// masterLoad/masterStore/mmapInit/extendFile/extendMmap.
package storage

import (
	"bytes"
	"container/heap"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"mongolite/dberr"
	"mongolite/internal/logging"
	"mongolite/internal/metrics"

	"github.com/rs/zerolog"
)

// dbSignature tags the master page so Open refuses to mount a file that
// isn't one of ours.
const dbSignature = "MNGOLite"

const (
	protRead  = 0x1
	protWrite = 0x2
	mapShared = 0x1
)

// masterPageSize is the byte size of the durable fields packed into page 0:
// sig | catalog_root | pages_used | free_list_head | version.
const masterPageSize = 8 + 8 + 8 + 8 + 8

// Environment owns one memory-mapped page store file: the master page, the
// growable mmap, and the state a new read/write transaction snapshots.
type Environment struct {
	Path string

	fp *os.File

	catalogRoot uint64
	free        freeListState

	mmap struct {
		file   int
		total  int
		chunks [][]byte
	}
	page struct {
		flushed uint64
	}

	mu     sync.Mutex
	writer sync.Mutex

	version uint64
	readers readerHeap

	log      zerolog.Logger
	metrics  *metrics.Collectors
	sync     bool
	maxBytes int64
}

// Options configures Environment.Open.
type Options struct {
	// Metrics, when non-nil, are updated as transactions begin/commit/abort.
	Metrics *metrics.Collectors
	// Sync controls whether a top-level commit fsyncs the data pages and
	// master page before returning. Defaults to false (Options{} zero
	// value); callers durability-sensitive enough to need it set this
	// explicitly — mirrors mongolite.Config's io_flags: IOSync maps to
	// true, IOAsync/IOMappedWrite map to false.
	Sync bool
	// MaxBytes caps the page store's total size (mongolite.Config's
	// max_bytes). Zero means unbounded. A commit that would grow the store
	// past this cap fails with ErrMapFull instead of extending the file,
	// per spec.md §4.1's "open/commit fails with MapFull if the map must
	// grow" contract; Resize raises or lowers the cap afterward.
	MaxBytes int64
}

// Open mounts path, creating it if absent, and loads or initializes the
// master page.
func Open(path string, opts Options) (*Environment, error) {
	env := &Environment{
		Path:     path,
		log:      logging.Component("storage"),
		metrics:  opts.Metrics,
		sync:     opts.Sync,
		maxBytes: opts.MaxBytes,
	}

	fp, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeIo, "storage", err, "open %s", path)
	}
	env.fp = fp

	sz, chunk, err := mmapInitFile(fp)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.mmap.file = sz
	env.mmap.total = len(chunk)
	env.mmap.chunks = [][]byte{chunk}

	if err := env.masterLoad(); err != nil {
		env.Close()
		return nil, err
	}
	env.log.Info().Str("path", path).Msg("environment opened")
	return env, nil
}

// Close unmaps and closes the underlying file. Safe to call once.
func (env *Environment) Close() error {
	for _, chunk := range env.mmap.chunks {
		if chunk == nil {
			continue
		}
		if err := unmapFile(chunk); err != nil {
			env.log.Warn().Err(err).Msg("unmap failed")
		}
	}
	if env.fp != nil {
		if err := env.fp.Close(); err != nil {
			return dberr.Wrap(dberr.CodeIo, "storage", err, "close %s", env.Path)
		}
	}
	return nil
}

// Sync forces the current master page and data pages to stable storage.
func (env *Environment) Sync() error {
	if err := env.fp.Sync(); err != nil {
		return dberr.Wrap(dberr.CodeIo, "storage", err, "fsync")
	}
	return nil
}

// Resize changes the page store's size budget (spec.md §4.1's
// "resize(new_map)"). It requires no write transaction be in flight — the
// caller is expected to have just aborted the commit that failed with
// ErrMapFull, per the recoverable-error contract — and refuses to shrink
// below the bytes already committed to disk.
func (env *Environment) Resize(maxBytes int64) error {
	if !env.writer.TryLock() {
		return dberr.New(dberr.CodeInvalidState, "storage", "cannot resize %s with a write transaction in flight", env.Path)
	}
	defer env.writer.Unlock()

	env.mu.Lock()
	defer env.mu.Unlock()
	used := int64(env.page.flushed) * pageSize
	if maxBytes > 0 && maxBytes < used {
		return dberr.New(dberr.CodeInvalidArgument, "storage", "max_bytes %d is smaller than %d bytes already committed", maxBytes, used)
	}
	env.maxBytes = maxBytes
	return nil
}

// capacityFor reports ErrMapFull if growing the store to hold npages total
// pages would exceed env.maxBytes. Checked before any file/mmap growth so a
// rejected commit leaves the store exactly as it was (spec.md §8 scenario
// 6: "no partial rows from the failed attempt are visible").
func (env *Environment) capacityFor(npages int) error {
	if env.maxBytes <= 0 {
		return nil
	}
	if need := int64(npages) * pageSize; need > env.maxBytes {
		return dberr.New(dberr.CodeMapFull, "storage", "commit needs %d bytes, exceeding max_bytes %d", need, env.maxBytes)
	}
	return nil
}

// Stats reports a point-in-time view of environment sizing, used by the
// CLI "stats" subcommand.
type Stats struct {
	FileBytes     int
	PagesFlushed  uint64
	Version       uint64
	ActiveReaders int
	MaxBytes      int64
}

func (env *Environment) Stats() Stats {
	env.mu.Lock()
	defer env.mu.Unlock()
	return Stats{
		FileBytes:     env.mmap.file,
		PagesFlushed:  env.page.flushed,
		Version:       env.version,
		ActiveReaders: len(env.readers),
		MaxBytes:      env.maxBytes,
	}
}

func (env *Environment) masterLoad() error {
	if env.mmap.file == 0 {
		env.page.flushed = 1 // page 0 is reserved for the master page
		return nil
	}

	data := env.mmap.chunks[0]
	if !bytes.Equal([]byte(dbSignature), data[:8]) {
		return dberr.New(dberr.CodeInvalidState, "storage", "bad master page signature in %s", env.Path)
	}
	catalogRoot := binary.LittleEndian.Uint64(data[8:16])
	pagesUsed := binary.LittleEndian.Uint64(data[16:24])
	freeListHead := binary.LittleEndian.Uint64(data[24:32])
	version := binary.LittleEndian.Uint64(data[32:40])

	bad := pagesUsed < 1 || pagesUsed > uint64(env.mmap.file/pageSize)
	bad = bad || (catalogRoot != 0 && catalogRoot >= pagesUsed)
	if bad {
		return dberr.New(dberr.CodeInvalidState, "storage", "corrupt master page in %s", env.Path)
	}

	env.catalogRoot = catalogRoot
	env.page.flushed = pagesUsed
	env.free.head = freeListHead
	env.version = version
	return nil
}

func (env *Environment) masterStore() error {
	var data [masterPageSize]byte
	copy(data[:8], []byte(dbSignature))
	binary.LittleEndian.PutUint64(data[8:16], env.catalogRoot)
	binary.LittleEndian.PutUint64(data[16:24], env.page.flushed)
	binary.LittleEndian.PutUint64(data[24:32], env.free.head)
	binary.LittleEndian.PutUint64(data[32:40], env.version)
	if _, err := pwriteFile(env.fp.Fd(), data[:], 0); err != nil {
		return dberr.Wrap(dberr.CodeIo, "storage", err, "write master page")
	}
	return nil
}

func mmapInitFile(fp *os.File) (int, []byte, error) {
	fi, err := fp.Stat()
	if err != nil {
		return 0, nil, dberr.Wrap(dberr.CodeIo, "storage", err, "stat")
	}
	if fi.Size()%pageSize != 0 {
		return 0, nil, dberr.New(dberr.CodeInvalidState, "storage", "file size is not a multiple of page size")
	}

	mmapSize := 64 << 20
	for mmapSize < int(fi.Size()) {
		mmapSize *= 2
	}

	chunk, err := mmapFile(fp.Fd(), 0, mmapSize, protRead|protWrite, mapShared)
	if err != nil {
		return 0, nil, dberr.Wrap(dberr.CodeIo, "storage", err, "mmap")
	}
	return int(fi.Size()), chunk, nil
}

func extendMmap(env *Environment, npages int) error {
	if env.mmap.total >= npages*pageSize {
		return nil
	}
	chunk, err := mmapFile(env.fp.Fd(), int64(env.mmap.total), env.mmap.total, protRead|protWrite, mapShared)
	if err != nil {
		return dberr.Wrap(dberr.CodeIo, "storage", err, "mmap extend")
	}
	env.mmap.total += env.mmap.total
	env.mmap.chunks = append(env.mmap.chunks, chunk)
	return nil
}

func extendFile(env *Environment, npages int) error {
	filePages := env.mmap.file / pageSize
	if filePages > npages {
		return nil
	}
	for filePages < npages {
		inc := filePages / 8
		if inc < 1 {
			inc = 1
		}
		filePages += inc
	}

	fileSize := filePages * pageSize
	if err := fallocateFile(env.fp.Fd(), 0, int64(fileSize)); err != nil {
		if err := env.fp.Truncate(int64(fileSize)); err != nil {
			return dberr.Wrap(dberr.CodeIo, "storage", err, "grow file")
		}
	}
	env.mmap.file = fileSize
	return nil
}

// pageGetMapped dereferences ptr against the durable, read-only mmap
// chunks. Used directly by readers, and as the fallback for writers that
// miss their in-flight updates map.
func pageGetMapped(chunks [][]byte, ptr uint64) node {
	start := uint64(0)
	for _, chunk := range chunks {
		end := start + uint64(len(chunk))/pageSize
		if ptr < end {
			offset := pageSize * (ptr - start)
			return node{chunk[offset : offset+pageSize]}
		}
		start = end
	}
	panic(fmt.Sprintf("storage: page pointer %d out of range", ptr))
}

// readerHeap is a min-heap over active ReadTxn by version, used to compute
// the oldest version a write transaction's free-list must still protect.
type readerHeap []*ReadTxn

func (h readerHeap) Len() int { return len(h) }
func (h readerHeap) Less(i, j int) bool {
	if h[i] == nil || h[j] == nil {
		return false
	}
	return h[i].version < h[j].version
}
func (h readerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *readerHeap) Push(x any) {
	tx := x.(*ReadTxn)
	tx.index = len(*h)
	*h = append(*h, tx)
}
func (h *readerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

var _ = heap.Interface(&readerHeap{})
