// Package geometry derives multi-level paging geometry from the
// configured page size, address-space width, and page-table entry
// size. It is a pure computation with no state of its own.
package geometry

import (
	"fmt"
	"math"
	"math/bits"
)

// Geometry is the result of deriving paging parameters for a given
// (PageSize, AddressSpace, EntrySize) configuration.
type Geometry struct {
	OffsetBits          int
	VPNBits             int
	Levels              int
	TableBits           int
	DirectoryBits       int
	EntriesPerTable     int
	EntriesPerDirectory int
	PagesPerTable       int
	PagesPerDirectory   int
}

// Compute derives a Geometry from pageSize (bytes, power of two),
// addressSpace (bits), and entrySize (bytes per page-table entry).
func Compute(pageSize, addressSpace, entrySize int) (Geometry, error) {
	if pageSize <= 0 || pageSize&(pageSize-1) != 0 {
		return Geometry{}, fmt.Errorf("geometry: page size %d is not a positive power of two", pageSize)
	}
	if entrySize <= 0 {
		return Geometry{}, fmt.Errorf("geometry: entry size %d must be positive", entrySize)
	}
	if pageSize <= entrySize {
		return Geometry{}, fmt.Errorf("geometry: page size %d must exceed entry size %d", pageSize, entrySize)
	}

	offsetBits := bits.Len(uint(pageSize)) - 1
	if addressSpace <= offsetBits {
		return Geometry{}, fmt.Errorf("geometry: address space %d bits too narrow for offset width %d", addressSpace, offsetBits)
	}
	vpnBits := addressSpace - offsetBits

	entriesPerPageLog2 := math.Log2(float64(pageSize) / float64(entrySize))
	levels := int(math.Ceil(float64(vpnBits) / entriesPerPageLog2))
	if levels < 1 {
		levels = 1
	}

	tableBits := int(math.Ceil(float64(vpnBits) / float64(levels)))
	directoryBits := vpnBits - (levels-1)*tableBits
	if directoryBits <= 0 {
		// A single level absorbs the whole VPN space.
		levels = 1
		tableBits = vpnBits
		directoryBits = vpnBits
	}

	entriesPerTable := 1 << uint(tableBits)
	entriesPerDirectory := 1 << uint(directoryBits)

	tableSize := entriesPerTable * entrySize
	directorySize := entriesPerDirectory * entrySize

	pagesPerTable := tableSize / pageSize
	if pagesPerTable < 1 {
		pagesPerTable = 1
	}
	pagesPerDirectory := directorySize / pageSize
	if pagesPerDirectory < 1 {
		pagesPerDirectory = 1
	}

	g := Geometry{
		OffsetBits:          offsetBits,
		VPNBits:             vpnBits,
		Levels:              levels,
		TableBits:           tableBits,
		DirectoryBits:       directoryBits,
		EntriesPerTable:     entriesPerTable,
		EntriesPerDirectory: entriesPerDirectory,
		PagesPerTable:       pagesPerTable,
		PagesPerDirectory:   pagesPerDirectory,
	}
	if err := g.validate(); err != nil {
		return Geometry{}, err
	}
	return g, nil
}

func (g Geometry) validate() error {
	if got, want := g.DirectoryBits+(g.Levels-1)*g.TableBits, g.VPNBits; got != want {
		return fmt.Errorf("geometry: directory_bits + (L-1)*table_bits = %d, want %d", got, want)
	}
	if g.DirectoryBits < 0 || g.TableBits < 0 {
		return fmt.Errorf("geometry: negative level width (directory=%d table=%d)", g.DirectoryBits, g.TableBits)
	}
	return nil
}

// LevelWidth returns the index width, in bits, of the given walk
// level. Level Levels-1 is the directory; levels below that use
// TableBits.
func (g Geometry) LevelWidth(level int) int {
	if level == g.Levels-1 {
		return g.DirectoryBits
	}
	return g.TableBits
}

// LevelShift returns the bit offset within the VPN at which the given
// level's index begins.
func (g Geometry) LevelShift(level int) int {
	return level * g.TableBits
}

// EntriesAt returns the number of entries held by a table at the
// given walk level (EntriesPerDirectory for the top level,
// EntriesPerTable otherwise).
func (g Geometry) EntriesAt(level int) int {
	if level == g.Levels-1 {
		return g.EntriesPerDirectory
	}
	return g.EntriesPerTable
}
