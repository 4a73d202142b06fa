package vm

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Heap layout.
const (
	// HeapBase is the first address handed out by Alloc.
	HeapBase uint64 = 0x10000

	// HeapAlignment is the alignment of every block start.
	HeapAlignment uint64 = 16

	// DefaultMaxHeap is the default limit on live heap bytes.
	DefaultMaxHeap uint64 = 64 << 20

	// MaxBlockSize caps a single allocation, even when the heap has no
	// limit.
	MaxBlockSize uint64 = 4 << 30
)

// Heap is the VM's programmer-managed memory. Addresses are synthetic:
// blocks are laid out upward from HeapBase, aligned, with at least one
// alignment unit of unmapped gap between neighbours so running off the
// end of a block is caught instead of landing in the next one. An address
// inside a block (pointer arithmetic) resolves to that block.
//
// Freeing an address that is not a live block start is ignored; double
// free is not detected.
type Heap struct {
	blocks map[uint64][]byte
	bases  []uint64 // sorted live block starts
	next   uint64
	used   uint64
	limit  uint64 // 0 = unlimited
}

// NewHeap creates a heap holding at most limit live bytes (0 = unlimited).
func NewHeap(limit uint64) *Heap {
	return &Heap{
		blocks: make(map[uint64][]byte),
		next:   HeapBase,
		limit:  limit,
	}
}

func alignUp(n uint64) uint64 {
	return (n + HeapAlignment - 1) &^ (HeapAlignment - 1)
}

// fits reports whether n more live bytes stay within the limit.
func (h *Heap) fits(n uint64) bool {
	return h.limit == 0 || (n <= h.limit && h.used <= h.limit-n)
}

// Alloc reserves n zeroed bytes and returns the block address.
func (h *Heap) Alloc(n uint64) (uint64, error) {
	if n > MaxBlockSize || n > uint64(maxInt) {
		return 0, fmt.Errorf("%w: %d bytes requested, block limit is %d", ErrAllocFailed, n, MaxBlockSize)
	}
	if !h.fits(n) {
		return 0, fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrAllocFailed, n, h.used, h.limit)
	}

	addr := h.next
	h.next = alignUp(addr+n) + HeapAlignment
	h.blocks[addr] = make([]byte, n)
	h.bases = append(h.bases, addr)
	h.used += n
	return addr, nil
}

// AllocBytes allocates a copy of data.
func (h *Heap) AllocBytes(data []byte) (uint64, error) {
	addr, err := h.Alloc(uint64(len(data)))
	if err != nil {
		return 0, err
	}
	copy(h.blocks[addr], data)
	return addr, nil
}

// Free releases the block starting at addr.
func (h *Heap) Free(addr uint64) {
	block, ok := h.blocks[addr]
	if !ok {
		return
	}
	h.used -= uint64(len(block))
	delete(h.blocks, addr)
	i := sort.Search(len(h.bases), func(i int) bool { return h.bases[i] >= addr })
	h.bases = append(h.bases[:i], h.bases[i+1:]...)
}

// Realloc frees the block at addr and allocates n fresh bytes. The old
// contents are not carried over. The limit is checked before anything is
// freed so a failed Realloc leaves the heap unchanged.
func (h *Heap) Realloc(addr, n uint64) (uint64, error) {
	var old uint64
	if block, ok := h.blocks[addr]; ok {
		old = uint64(len(block))
	}
	if h.limit != 0 && (n > h.limit || h.used-old > h.limit-n) {
		return 0, fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrAllocFailed, n, h.used-old, h.limit)
	}
	h.Free(addr)
	return h.Alloc(n)
}

// locate finds the block containing addr and the offset of addr in it.
// The one-past-the-end address of a block still belongs to it.
func (h *Heap) locate(addr uint64) ([]byte, uint64, error) {
	i := sort.Search(len(h.bases), func(i int) bool { return h.bases[i] > addr })
	if i == 0 {
		return nil, 0, fmt.Errorf("%w: 0x%x is not in any block", ErrInvalidHeapAccess, addr)
	}
	base := h.bases[i-1]
	block := h.blocks[base]
	off := addr - base
	if off > uint64(len(block)) {
		return nil, 0, fmt.Errorf("%w: 0x%x is past block 0x%x (%d bytes)", ErrInvalidHeapAccess, addr, base, len(block))
	}
	return block, off, nil
}

// slice returns n bytes at addr, which may point anywhere inside a block.
func (h *Heap) slice(addr, n uint64) ([]byte, error) {
	block, off, err := h.locate(addr)
	if err != nil {
		return nil, err
	}
	if n > uint64(len(block))-off {
		return nil, fmt.Errorf("%w: %d bytes at 0x%x overrun a %d-byte block", ErrInvalidHeapAccess, n, addr, len(block))
	}
	return block[off : off+n], nil
}

// Load8 reads one byte.
func (h *Heap) Load8(addr uint64) (byte, error) {
	b, err := h.slice(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Load64 reads a little-endian 64-bit word.
func (h *Heap) Load64(addr uint64) (uint64, error) {
	b, err := h.slice(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Store8 writes one byte.
func (h *Heap) Store8(addr uint64, v byte) error {
	b, err := h.slice(addr, 1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

// Store64 writes a little-endian 64-bit word.
func (h *Heap) Store64(addr uint64, v uint64) error {
	b, err := h.slice(addr, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}

// CString returns the bytes from addr up to the first NUL or the end of the
// block.
func (h *Heap) CString(addr uint64) (string, error) {
	block, off, err := h.locate(addr)
	if err != nil {
		return "", err
	}
	rest := block[off:]
	for i, c := range rest {
		if c == 0 {
			return string(rest[:i]), nil
		}
	}
	return string(rest), nil
}

// Live returns the number of live blocks.
func (h *Heap) Live() int {
	return len(h.bases)
}

// Used returns the number of live bytes.
func (h *Heap) Used() uint64 {
	return h.used
}

const maxInt = int(^uint(0) >> 1)
