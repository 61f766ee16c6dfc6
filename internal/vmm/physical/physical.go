// Package physical models the flat physical backing store: a single
// contiguous byte buffer addressed by physical page number, plus the
// bitmap tracking which frames are occupied by the directory, page
// tables, or data pages.
package physical

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/vmemu/internal/vmm/bitmap"
	"golang.org/x/sys/unix"
)

// None is the sentinel value stored in a page-table entry slot that
// holds no mapping.
const None int64 = -1

// Store is the physical memory backing a VM: PAGE_COUNT frames of
// PageSize bytes each, plus the physical bitmap tracking frame
// occupancy.
type Store struct {
	data       []byte
	bitmap     *bitmap.Bitmap
	pageSize   int
	entrySize  int
	mmapBacked bool
}

// New allocates a physical store of memSize bytes split into pages of
// pageSize bytes. When mmapBacked is true, the backing buffer is an
// anonymous mmap rather than a GC-managed slice; Close must then be
// called to release it.
func New(memSize, pageSize, entrySize int, mmapBacked bool) (*Store, error) {
	if memSize <= 0 || pageSize <= 0 || memSize%pageSize != 0 {
		return nil, fmt.Errorf("physical: mem size %d is not a positive multiple of page size %d", memSize, pageSize)
	}
	switch entrySize {
	case 1, 2, 4, 8:
	default:
		return nil, fmt.Errorf("physical: unsupported entry size %d (want 1, 2, 4, or 8)", entrySize)
	}

	var data []byte
	if mmapBacked {
		b, err := unix.Mmap(-1, 0, memSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
		if err != nil {
			return nil, fmt.Errorf("physical: mmap %d bytes: %w", memSize, err)
		}
		data = b
	} else {
		data = make([]byte, memSize)
	}

	pageCount := memSize / pageSize
	return &Store{
		data:       data,
		bitmap:     bitmap.New(pageCount),
		pageSize:   pageSize,
		entrySize:  entrySize,
		mmapBacked: mmapBacked,
	}, nil
}

// Close releases the mmap backing, if any. It is a no-op for
// slice-backed stores.
func (s *Store) Close() error {
	if !s.mmapBacked {
		return nil
	}
	return unix.Munmap(s.data)
}

// PageCount returns the number of physical page frames.
func (s *Store) PageCount() int {
	return s.bitmap.Len()
}

// Bitmap returns the physical frame-occupancy bitmap.
func (s *Store) Bitmap() *bitmap.Bitmap {
	return s.bitmap
}

// PageBytes returns the raw byte slice backing physical page ppn,
// exactly PageSize bytes long.
func (s *Store) PageBytes(ppn int64) []byte {
	start := ppn * int64(s.pageSize)
	return s.data[start : start+int64(s.pageSize)]
}

// ReadEntry reads the signed page-table entry at index within the
// table rooted at physical page ppn.
func (s *Store) ReadEntry(ppn int64, index int) int64 {
	page := s.PageBytes(ppn)
	off := index * s.entrySize
	buf := page[off : off+s.entrySize]
	switch s.entrySize {
	case 1:
		return int64(int8(buf[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(buf)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(buf)))
	default:
		return int64(binary.LittleEndian.Uint64(buf))
	}
}

// WriteEntry writes a signed page-table entry at index within the
// table rooted at physical page ppn.
func (s *Store) WriteEntry(ppn int64, index int, value int64) {
	page := s.PageBytes(ppn)
	off := index * s.entrySize
	buf := page[off : off+s.entrySize]
	switch s.entrySize {
	case 1:
		buf[0] = byte(int8(value))
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(int16(value)))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(int32(value)))
	default:
		binary.LittleEndian.PutUint64(buf, uint64(value))
	}
}

// FillEntries sets count consecutive entries, starting at index 0, to
// value within the table rooted at physical page ppn. Used to
// initialize a freshly allocated directory or table to "not present".
func (s *Store) FillEntries(ppn int64, count int, value int64) {
	for i := 0; i < count; i++ {
		s.WriteEntry(ppn, i, value)
	}
}
