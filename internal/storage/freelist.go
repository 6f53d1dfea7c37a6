// Free-page list: a linked list of pages, each holding an array of
// (page pointer, version-freed) pairs, recycled for new allocations once
// no active reader could still observe them.
//
//	| type | size | total | next | (pointer, version) * size |
//	| 2B   | 2B   | 8B    | 8B   |          size*16B          |
package storage

import "encoding/binary"

const (
	freeListHeader = 4 + 8 + 8
	freeListCap    = (pageSize - freeListHeader) / 16
)

// freeListState is the durable part of the free list: just the head
// pointer. It is what the master page persists.
type freeListState struct {
	head uint64
}

// freeList is the per-write-transaction working view of the free list: it
// knows which pages a reader older than minReader might still need, so it
// never hands those back out.
type freeList struct {
	freeListState
	version   uint64
	minReader uint64
	cached    []uint64 // head-to-tail page pointers, loaded lazily
	cachedPos int

	get func(uint64) node
	new func(node) uint64
	use func(uint64, node)
}

func (fl *freeList) loadCache() {
	if len(fl.cached) > 0 || fl.head == 0 {
		return
	}
	var chain []uint64
	for cur := fl.head; cur != 0; {
		chain = append(chain, cur)
		cur = flNext(fl.get(cur))
	}
	fl.cached = chain
	fl.cachedPos = 0
}

// Pop returns a recyclable page pointer, or 0 if none is safely reusable.
func (fl *freeList) Pop() uint64 {
	fl.loadCache()
	if len(fl.cached) == 0 {
		return 0
	}
	node := fl.get(fl.cached[0])
	ptr, freedAtVersion := flItem(node, fl.cachedPos)
	if !versionBefore(freedAtVersion, fl.minReader) {
		// a live reader predating this free might still see it.
		return 0
	}
	fl.cachedPos++
	if fl.cachedPos >= flSize(node) {
		fl.cached = fl.cached[1:]
		fl.cachedPos = 0
	}
	return ptr
}

// Add pushes newly freed page pointers onto the list, stamped with the
// transaction's version so Pop can respect the minimum-reader barrier.
func (fl *freeList) Add(freed []uint64) {
	if len(freed) == 0 {
		return
	}
	pushFreed(fl, freed)
}

func versionBefore(minReader, freedAt uint64) bool {
	return int64(minReader-freedAt) < 0
}

func flItem(n node, idx int) (ptr uint64, version uint64) {
	pos := freeListHeader + idx*16
	return binary.LittleEndian.Uint64(n.data[pos : pos+8]),
		binary.LittleEndian.Uint64(n.data[pos+8 : pos+16])
}

func flSetItem(n node, idx int, ptr, version uint64) {
	pos := freeListHeader + idx*16
	binary.LittleEndian.PutUint64(n.data[pos:pos+8], ptr)
	binary.LittleEndian.PutUint64(n.data[pos+8:pos+16], version)
}

func flSize(n node) int      { return int(n.numKeys()) }
func flNext(n node) uint64   { return binary.LittleEndian.Uint64(n.data[4+8:]) }

func flSetHeader(n node, size uint16, next uint64) {
	binary.LittleEndian.PutUint16(n.data[2:], size)
	binary.LittleEndian.PutUint64(n.data[4+8:], next)
}

func pushFreed(fl *freeList, freed []uint64) {
	for len(freed) > 0 {
		size := len(freed)
		if size > freeListCap {
			size = freeListCap
		}
		n := newNode(pageSize)
		flSetHeader(n, uint16(size), fl.head)
		for i, ptr := range freed[:size] {
			flSetItem(n, i, ptr, fl.version)
		}
		freed = freed[size:]
		fl.head = fl.new(n)
	}
}
