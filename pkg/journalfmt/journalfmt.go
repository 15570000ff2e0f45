// Package journalfmt decodes and encodes the on-disk recovery-journal
// block format (spec §6, "Recovery-journal partition"). The recovery
// journal's record-format *policy* — what the logical layer chooses to
// journal and when — is explicitly out of scope (spec §1); this package
// only turns 4 KiB on-disk blocks into Records and back, the way the
// teacher's pkg/ext4 decodes and encodes its own fixed on-disk structures
// with encoding/binary.
package journalfmt

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/vdo-go/depot/pkg/slab"
	"github.com/vdo-go/depot/pkg/vdoerr"
)

// BlockSize is the fixed size of one recovery-journal block.
const BlockSize = 4096

// SectorSize is the fixed size of one sector within a recovery-journal
// block (spec §6: "4 KiB block / 512-byte sector").
const SectorSize = 512

// SectorsPerBlock is the number of sectors in a recovery-journal block.
const SectorsPerBlock = BlockSize / SectorSize

// EntrySize is the fixed size of one on-disk journal entry (spec §6:
// "journal entries of 11 bytes each").
const EntrySize = 11

// MetadataType tags a block's contents; only RECOVERY_JOURNAL blocks are
// valid members of the recovery-journal partition (spec §6).
type MetadataType uint8

const (
	MetadataTypeRecoveryJournal MetadataType = 1
)

// EntryOperation mirrors refcounts.Operation for the on-disk encoding
// without importing that package, keeping journalfmt a leaf collaborator.
type EntryOperation uint8

const (
	OperationDataIncrement EntryOperation = iota
	OperationDataDecrement
	OperationBlockMapIncrement
)

// Entry is one on-disk recovery-journal entry: a logical block number,
// the physical block it mapped to (or unmaps from), and the operation.
type Entry struct {
	LogicalBlockNumber uint64
	PBN                slab.PBN
	Operation          EntryOperation
}

// packedEntry is Entry's fixed 11-byte on-disk layout: 5 bytes of
// logical block number, 5 bytes of physical block number, 1 byte of
// operation tag.
type packedEntry struct {
	LBNHigh   uint8
	LBNLow    uint32
	PBNHigh   uint8
	PBNLow    uint32
	Operation uint8
}

func (e Entry) pack() packedEntry {
	return packedEntry{
		LBNHigh:   uint8(e.LogicalBlockNumber >> 32),
		LBNLow:    uint32(e.LogicalBlockNumber),
		PBNHigh:   uint8(e.PBN >> 32),
		PBNLow:    uint32(e.PBN),
		Operation: uint8(e.Operation),
	}
}

func (p packedEntry) unpack() Entry {
	lbn := uint64(p.LBNHigh)<<32 | uint64(p.LBNLow)
	pbn := slab.PBN(uint64(p.PBNHigh)<<32 | uint64(p.PBNLow))
	return Entry{LogicalBlockNumber: lbn, PBN: pbn, Operation: EntryOperation(p.Operation)}
}

// Header is the packed preamble of one recovery-journal block (spec §6:
// "each 4 KiB block begins with a packed header").
type Header struct {
	MetadataType   MetadataType
	Nonce          uint64
	RecoveryCount  uint8
	Sequence       uint64
	BlockMapHead   uint64
	SlabJournalHead uint64
	EntryCount     uint16
}

// header is Header's fixed on-disk layout.
type header struct {
	MetadataType    uint8
	_               [7]uint8 // padding to keep the u64 fields 8-byte aligned
	Nonce           uint64
	Sequence        uint64
	BlockMapHead    uint64
	SlabJournalHead uint64
	EntryCount      uint16
	RecoveryCount   uint8
}

// Record is one decoded recovery-journal block: its header plus however
// many entries EntryCount says it holds.
type Record struct {
	Header  Header
	Entries []Entry
}

// IsValid checks a decoded block against spec §6's validity predicate:
// "metadata_type == RECOVERY_JOURNAL ∧ nonce == V ∧ recovery_count == R
// ∧ sequence within contiguous range".
func (r Record) IsValid(nonce uint64, recoveryCount uint8, lowSequence, highSequence uint64) bool {
	return r.Header.MetadataType == MetadataTypeRecoveryJournal &&
		r.Header.Nonce == nonce &&
		r.Header.RecoveryCount == recoveryCount &&
		r.Header.Sequence >= lowSequence && r.Header.Sequence <= highSequence
}

// Encode packs r into one BlockSize-byte on-disk block. The header
// occupies the first sector; entries are packed starting at the second
// sector, SectorSize/EntrySize of them per sector, matching spec §6's
// "subsequent sectors hold journal entries".
func Encode(r Record) ([]byte, error) {
	entriesPerSector := SectorSize / EntrySize
	maxEntries := (SectorsPerBlock - 1) * entriesPerSector
	if len(r.Entries) > maxEntries {
		return nil, errors.Wrapf(vdoerr.ErrOutOfRange, "%d entries exceeds block capacity %d", len(r.Entries), maxEntries)
	}

	buf := make([]byte, BlockSize)
	hdrBuf := new(bytes.Buffer)
	hdr := header{
		MetadataType:    uint8(r.Header.MetadataType),
		Nonce:           r.Header.Nonce,
		Sequence:        r.Header.Sequence,
		BlockMapHead:    r.Header.BlockMapHead,
		SlabJournalHead: r.Header.SlabJournalHead,
		EntryCount:      uint16(len(r.Entries)),
		RecoveryCount:   r.Header.RecoveryCount,
	}
	if err := binary.Write(hdrBuf, binary.LittleEndian, hdr); err != nil {
		return nil, errors.Wrap(err, "encoding recovery-journal block header")
	}
	copy(buf[:hdrBuf.Len()], hdrBuf.Bytes())

	for i, e := range r.Entries {
		sector := 1 + i/entriesPerSector
		within := i % entriesPerSector
		off := sector*SectorSize + within*EntrySize

		entryBuf := new(bytes.Buffer)
		if err := binary.Write(entryBuf, binary.LittleEndian, e.pack()); err != nil {
			return nil, errors.Wrapf(err, "encoding entry %d", i)
		}
		copy(buf[off:off+EntrySize], entryBuf.Bytes())
	}
	return buf, nil
}

// Decode unpacks one BlockSize-byte on-disk block into a Record.
func Decode(buf []byte) (Record, error) {
	if len(buf) != BlockSize {
		return Record{}, errors.Wrapf(vdoerr.ErrBadConfiguration, "recovery-journal block must be %d bytes, got %d", BlockSize, len(buf))
	}

	var hdr header
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &hdr); err != nil {
		return Record{}, errors.Wrap(err, "decoding recovery-journal block header")
	}

	r := Record{Header: Header{
		MetadataType:    MetadataType(hdr.MetadataType),
		Nonce:           hdr.Nonce,
		RecoveryCount:   hdr.RecoveryCount,
		Sequence:        hdr.Sequence,
		BlockMapHead:    hdr.BlockMapHead,
		SlabJournalHead: hdr.SlabJournalHead,
		EntryCount:      hdr.EntryCount,
	}}

	entriesPerSector := SectorSize / EntrySize
	for i := 0; i < int(hdr.EntryCount); i++ {
		sector := 1 + i/entriesPerSector
		within := i % entriesPerSector
		off := sector*SectorSize + within*EntrySize
		if sector >= SectorsPerBlock {
			return Record{}, errors.Wrapf(vdoerr.ErrCorruptJournal, "entry count %d overruns block sectors", hdr.EntryCount)
		}

		var p packedEntry
		if err := binary.Read(bytes.NewReader(buf[off:off+EntrySize]), binary.LittleEndian, &p); err != nil {
			return Record{}, errors.Wrapf(err, "decoding entry %d", i)
		}
		r.Entries = append(r.Entries, p.unpack())
	}
	return r, nil
}

// Reader sequentially decodes recovery-journal blocks from an underlying
// block source, the shape the recovery pipeline's journal scan (spec
// §4.8 step 1) consumes.
type Reader struct {
	read func(blockIndex uint64) ([]byte, error)
	next uint64
}

// NewReader wraps a block-read function — typically
// backingstore.BlockDevice.ReadBlockAt translated to the journal
// partition's block numbering — as a sequential Record source.
func NewReader(read func(blockIndex uint64) ([]byte, error)) *Reader {
	return &Reader{read: read}
}

// ReadNext decodes the next block in sequence, or io.EOF's underlying
// read error is propagated unchanged so callers can distinguish
// end-of-partition from corruption.
func (r *Reader) ReadNext() (Record, error) {
	buf, err := r.read(r.next)
	if err != nil {
		return Record{}, err
	}
	rec, err := Decode(buf)
	if err != nil {
		return Record{}, err
	}
	r.next++
	return rec, nil
}

// ReadAt decodes the block at blockIndex without advancing ReadNext's
// cursor.
func (r *Reader) ReadAt(blockIndex uint64) (Record, error) {
	buf, err := r.read(blockIndex)
	if err != nil {
		return Record{}, err
	}
	return Decode(buf)
}
