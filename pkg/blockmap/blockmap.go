// Package blockmap models the on-disk block-map tree page (spec §6): the
// leaf/interior page holding the logical-to-physical mappings that the
// recovery pipeline rebuilds or replays entries into.
package blockmap

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/vdo-go/depot/pkg/slab"
	"github.com/vdo-go/depot/pkg/vdoerr"
)

// EntriesPerPage is the number of 5-byte entries a block-map page holds
// after its header, sized for a 4 KiB block.
const EntriesPerPage = (4096 - headerSize) / entrySize

const (
	headerSize = 21 // version 2+2, nonce 8, pbn 8, initialized 1
	entrySize  = 5
	pbnOffset  = 12
)

// MappingState is the 4-bit state tag packed into each block-map entry.
type MappingState uint8

const (
	MappingStateUnmapped MappingState = iota
	MappingStateUncompressed
	MappingStateCompressed
)

// Entry is one logical slot's mapping: a physical block number plus the
// 4-bit mapping state packed alongside it (spec §6: "entries: 5 bytes
// each {mapping_state:4, pbn_high:4, pbn_low:32 LE}").
type Entry struct {
	State MappingState
	PBN   slab.PBN
}

// IsMapped reports whether this entry refers to a live physical block.
func (e Entry) IsMapped() bool {
	return e.State != MappingStateUnmapped && e.PBN != slab.UnmappedPBN
}

// Encode packs e into its 5-byte on-disk form.
func (e Entry) Encode() [entrySize]byte {
	var out [entrySize]byte
	pbnLow := uint32(e.PBN)
	pbnHigh := uint8((e.PBN >> 32) & 0xF)
	out[0] = (uint8(e.State) << 4) | pbnHigh
	binary.LittleEndian.PutUint32(out[1:], pbnLow)
	return out
}

// DecodeEntry unpacks a 5-byte on-disk entry.
func DecodeEntry(b [entrySize]byte) Entry {
	state := MappingState(b[0] >> 4)
	pbnHigh := slab.PBN(b[0] & 0xF)
	pbnLow := slab.PBN(binary.LittleEndian.Uint32(b[1:]))
	return Entry{State: state, PBN: (pbnHigh << 32) | pbnLow}
}

// Header is the fixed preamble of a block-map page (spec §6:
// "{version(4.1), nonce, pbn, initialized, ...}").
type Header struct {
	VersionMajor uint16
	VersionMinor uint16
	Nonce        uint64
	PBN          slab.PBN
	Initialized  bool
}

// Page is one block-map tree page: the fixed header plus EntriesPerPage
// mapping slots, whether interior or leaf. The recovery and block-map
// packages treat interior and leaf pages identically at this level; the
// caller's traversal logic distinguishes them by depth.
type Page struct {
	Header  Header
	Entries [EntriesPerPage]Entry
}

// NewPage returns a zeroed, uninitialized page stamped with pbn and nonce.
func NewPage(pbn slab.PBN, nonce uint64) *Page {
	return &Page{Header: Header{VersionMajor: 4, VersionMinor: 1, Nonce: nonce, PBN: pbn}}
}

// Get returns the mapping at slot, or the zero Entry if slot is out of
// range.
func (p *Page) Get(slot int) Entry {
	if slot < 0 || slot >= EntriesPerPage {
		return Entry{}
	}
	return p.Entries[slot]
}

// Set installs e at slot.
func (p *Page) Set(slot int, e Entry) error {
	if slot < 0 || slot >= EntriesPerPage {
		return errors.Wrapf(vdoerr.ErrOutOfRange, "block-map slot %d out of range [0,%d)", slot, EntriesPerPage)
	}
	p.Entries[slot] = e
	return nil
}

// Encode packs the page into a 4 KiB block.
func (p *Page) Encode() []byte {
	buf := make([]byte, 4096)
	binary.LittleEndian.PutUint16(buf[0:], p.Header.VersionMajor)
	binary.LittleEndian.PutUint16(buf[2:], p.Header.VersionMinor)
	binary.LittleEndian.PutUint64(buf[4:], p.Header.Nonce)
	// PBN and the initialized flag follow the version and nonce; the
	// entries start after them.
	off := pbnOffset
	binary.LittleEndian.PutUint64(buf[off:], uint64(p.Header.PBN))
	if p.Header.Initialized {
		buf[off+8] = 1
	}
	pos := 4096 - EntriesPerPage*entrySize
	for _, e := range p.Entries {
		enc := e.Encode()
		copy(buf[pos:], enc[:])
		pos += entrySize
	}
	return buf
}

// Decode unpacks a 4 KiB block into a Page.
func Decode(buf []byte) (*Page, error) {
	if len(buf) != 4096 {
		return nil, errors.Wrapf(vdoerr.ErrBadConfiguration, "block-map page must be 4096 bytes, got %d", len(buf))
	}
	p := &Page{}
	p.Header.VersionMajor = binary.LittleEndian.Uint16(buf[0:])
	p.Header.VersionMinor = binary.LittleEndian.Uint16(buf[2:])
	p.Header.Nonce = binary.LittleEndian.Uint64(buf[4:])
	off := pbnOffset
	p.Header.PBN = slab.PBN(binary.LittleEndian.Uint64(buf[off:]))
	p.Header.Initialized = buf[off+8] != 0

	pos := 4096 - EntriesPerPage*entrySize
	for i := range p.Entries {
		var enc [entrySize]byte
		copy(enc[:], buf[pos:pos+entrySize])
		p.Entries[i] = DecodeEntry(enc)
		pos += entrySize
	}
	return p, nil
}
